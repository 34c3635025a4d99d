package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/cartsync/internal/services/cart"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow server-side cart changes",
	Long: `Watch subscribes to the storefront's cart events and reloads the cart
whenever it changes elsewhere. Press Ctrl+C to stop.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	unsubscribe := apiClient.Cart.Subscribe(func(e cart.Event) {
		switch e.Type {
		case cart.EventReconciled:
			if jsonOutput {
				printJSON(newCartView(apiClient.Cart.State()))
				return
			}
			printInfo("[%s] cart updated", e.Timestamp.Local().Format(time.TimeOnly))
			printCart(apiClient.Cart.State())
		case cart.EventSyncFailed:
			if !jsonOutput {
				printWarning("[%s] refresh failed: %v", e.Timestamp.Local().Format(time.TimeOnly), e.Error)
			}
		}
	})
	defer unsubscribe()

	if !jsonOutput {
		printCart(apiClient.Cart.State())
		printInfo("Watching for cart changes...")
	}

	err := apiClient.Watch(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("watch cart: %w", err)
	}
	return nil
}
