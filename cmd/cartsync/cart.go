package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/cartsync/internal/models"
)

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Show and change the cart",
	RunE:  runCartShow,
}

var cartShowCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"show", "ls"},
	Short:   "Show the cart",
	RunE:    runCartShow,
}

var cartAddCmd = &cobra.Command{
	Use:   "add <product-id>",
	Short: "Add a product to the cart",
	Example: `  cartsync cart add ring-1 --price 49.90
  cartsync cart add ring-1 --price 49.90 --size 7 --color gold --qty 2`,
	Args: cobra.ExactArgs(1),
	RunE: runCartAdd,
}

var cartQtyCmd = &cobra.Command{
	Use:     "qty <unique-id> <quantity>",
	Short:   "Set the quantity of a line (0 removes it)",
	Example: `  cartsync cart qty ring-1_64f0c2 3`,
	Args:    cobra.ExactArgs(2),
	RunE:    runCartQty,
}

var cartRemoveCmd = &cobra.Command{
	Use:   "remove <unique-id>",
	Short: "Remove a line after confirmation",
	Args:  cobra.ExactArgs(1),
	RunE:  runCartRemove,
}

var cartClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the cart",
	RunE:  runCartClear,
}

var cartRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload the cart from the storefront",
	RunE:  runCartRefresh,
}

var (
	addQuantity int
	addPrice    string
	addName     string
	addImage    string
	addSize     string
	addColor    string
	addDistinct bool

	removeYes bool
)

func init() {
	rootCmd.AddCommand(cartCmd)
	cartCmd.AddCommand(cartShowCmd, cartAddCmd, cartQtyCmd, cartRemoveCmd, cartClearCmd, cartRefreshCmd)

	cartAddCmd.Flags().IntVarP(&addQuantity, "qty", "q", 1, "Quantity")
	cartAddCmd.Flags().StringVar(&addPrice, "price", "0", "Unit price shown until the storefront confirms it")
	cartAddCmd.Flags().StringVar(&addName, "name", "", "Display name")
	cartAddCmd.Flags().StringVar(&addImage, "image", "", "Image URL")
	cartAddCmd.Flags().StringVar(&addSize, "size", "", "Selected size")
	cartAddCmd.Flags().StringVar(&addColor, "color", "", "Selected color")
	cartAddCmd.Flags().BoolVar(&addDistinct, "distinct", false,
		"Keep as a separate line instead of merging")

	cartRemoveCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runCartShow(cmd *cobra.Command, args []string) error {
	printCart(apiClient.Cart.State())
	return nil
}

func runCartAdd(cmd *cobra.Command, args []string) error {
	price, err := decimal.NewFromString(addPrice)
	if err != nil {
		return fmt.Errorf("invalid --price %q: %w", addPrice, err)
	}

	line := models.CartLine{
		ProductID:     args[0],
		Name:          addName,
		ImageURL:      addImage,
		Quantity:      addQuantity,
		UnitPrice:     price,
		ForceDistinct: addDistinct,
	}
	if addSize != "" || addColor != "" {
		line.Variant = &models.Variant{SelectedSize: addSize, SelectedColor: addColor}
	}

	if err := apiClient.Cart.AddItem(cmd.Context(), line); err != nil {
		return err
	}

	if !jsonOutput {
		printSuccess("Added %s", line.DisplayName())
	}
	printCart(apiClient.Cart.State())
	return nil
}

func runCartQty(cmd *cobra.Command, args []string) error {
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid quantity %q", args[1])
	}

	if err := apiClient.Cart.SetQuantity(cmd.Context(), args[0], qty); err != nil {
		return err
	}
	printCart(apiClient.Cart.State())
	return nil
}

func runCartRemove(cmd *cobra.Command, args []string) error {
	if err := apiClient.Cart.RemoveItem(args[0]); err != nil {
		return err
	}

	pending := apiClient.Cart.State().PendingRemoval
	if !removeYes {
		ok, err := confirm(fmt.Sprintf("Remove %s from your cart?", pending.DisplayName))
		if err != nil {
			apiClient.Cart.CancelRemoval()
			return err
		}
		if !ok {
			apiClient.Cart.CancelRemoval()
			if !jsonOutput {
				printInfo("Kept %s", pending.DisplayName)
			}
			return nil
		}
	}

	if err := apiClient.Cart.ConfirmRemoval(cmd.Context()); err != nil {
		return err
	}
	printCart(apiClient.Cart.State())
	apiClient.Cart.DismissNotice()
	return nil
}

func runCartClear(cmd *cobra.Command, args []string) error {
	apiClient.Cart.ClearCart(cmd.Context())
	printCart(apiClient.Cart.State())
	apiClient.Cart.DismissNotice()
	return nil
}

func runCartRefresh(cmd *cobra.Command, args []string) error {
	if err := apiClient.Cart.Refresh(cmd.Context()); err != nil {
		return err
	}
	printCart(apiClient.Cart.State())
	return nil
}

func confirm(prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)

	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && answer == "" {
		return false, fmt.Errorf("read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
