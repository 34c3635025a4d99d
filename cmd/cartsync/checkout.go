package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/cartsync/internal/models"
)

var couponCmd = &cobra.Command{
	Use:   "coupon",
	Short: "Work with coupon codes",
}

var couponCheckCmd = &cobra.Command{
	Use:     "check <code>",
	Short:   "Check a coupon code against the current cart",
	Example: `  cartsync coupon check summer-10`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCoupon,
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Preview or place an order from the cart",
}

var checkoutPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the price breakdown for the cart",
	RunE:  runCheckoutPreview,
}

var checkoutPlaceCmd = &cobra.Command{
	Use:   "place",
	Short: "Place the order",
	Long: `Place creates an order from the synced cart. A login is required. When
the storefront rejects the coupon the coupon is dropped and nothing is ordered.`,
	Example: `  cartsync checkout place --coupon SUMMER-10 --notes "gift wrap"`,
	RunE:    runCheckoutPlace,
}

var (
	checkoutCoupon   string
	checkoutNotes    string
	checkoutShipping string
)

func init() {
	rootCmd.AddCommand(couponCmd)
	couponCmd.AddCommand(couponCheckCmd)
	rootCmd.AddCommand(checkoutCmd)
	checkoutCmd.AddCommand(checkoutPreviewCmd, checkoutPlaceCmd)

	for _, c := range []*cobra.Command{checkoutPreviewCmd, checkoutPlaceCmd} {
		c.Flags().StringVar(&checkoutCoupon, "coupon", "", "Coupon code to apply")
		c.Flags().StringVar(&checkoutNotes, "notes", "", "Notes for the order")
		c.Flags().StringVar(&checkoutShipping, "shipping", "",
			"Shipping cost (default: checkout.default_shipping)")
	}
}

func runCoupon(cmd *cobra.Command, args []string) error {
	coupon, err := apiClient.Checkout.ValidateCoupon(cmd.Context(), args[0])
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"valid":   false,
				"message": models.UserMessage(err),
			})
			return nil
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"valid":  true,
			"coupon": coupon,
		})
		return nil
	}

	switch coupon.DiscountType {
	case "percentage":
		printSuccess("%s: %s%% off", coupon.Code, coupon.DiscountValue.String())
	case "fixed":
		printSuccess("%s: %s off", coupon.Code, formatMoney(coupon.DiscountValue))
	default:
		printSuccess("%s is valid", coupon.Code)
	}
	if coupon.MinimumOrderValue != nil {
		printInfo("Minimum order %s", formatMoney(*coupon.MinimumOrderValue))
	}
	return nil
}

// applyCheckoutFlags validates --coupon and returns the request draft.
func applyCheckoutFlags(ctx context.Context) (models.PreviewOrderRequest, error) {
	if checkoutCoupon != "" {
		if _, err := apiClient.Checkout.ValidateCoupon(ctx, checkoutCoupon); err != nil {
			return models.PreviewOrderRequest{}, err
		}
	}

	req := apiClient.Checkout.Draft(checkoutNotes)
	if checkoutShipping != "" {
		shipping, err := decimal.NewFromString(checkoutShipping)
		if err != nil {
			return req, fmt.Errorf("invalid --shipping %q: %w", checkoutShipping, err)
		}
		req.ShippingCost = shipping
	}
	return req, nil
}

func runCheckoutPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	req, err := applyCheckoutFlags(ctx)
	if err != nil {
		return err
	}

	b, err := apiClient.Checkout.PreviewOrder(ctx, req)
	if err != nil {
		return err
	}

	if !jsonOutput && req.CouponCode != "" {
		printInfo("Coupon %s applied", req.CouponCode)
	}
	printBreakdown(b)
	return nil
}

func runCheckoutPlace(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := apiClient.Auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("log in before placing an order: %w", err)
	}

	req, err := applyCheckoutFlags(ctx)
	if err != nil {
		return err
	}

	order, err := apiClient.Checkout.CreateOrder(ctx, models.CreateOrderRequest{
		CartID:        req.CartID,
		CouponCode:    req.CouponCode,
		ShippingCost:  req.ShippingCost,
		CustomerNotes: req.CustomerNotes,
	})
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   models.UserMessage(err),
			})
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"order":   order,
		})
		return nil
	}

	printSuccess("Order %s placed (%s)", order.OrderNumber, order.Status)
	printInfo("Total charged %s", formatMoney(order.Total))
	return nil
}
