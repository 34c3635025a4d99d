package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/TheMichaelB/cartsync/internal/cartstate"
	"github.com/TheMichaelB/cartsync/internal/models"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
)

func printSuccess(format string, args ...interface{}) {
	successColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warnColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		printError("encode output: %v", err)
	}
}

// formatMoney renders d in the configured currency.
func formatMoney(d decimal.Decimal) string {
	code := "USD"
	if cfg != nil && cfg.Cart.Currency != "" {
		code = cfg.Cart.Currency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return code + " " + d.StringFixed(2)
	}
	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(unit.Amount(d.InexactFloat64())))
}

type cartLineView struct {
	UniqueID  string `json:"uniqueId"`
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Total     string `json:"total"`
	Synced    bool   `json:"synced"`
}

type cartView struct {
	CartID    string         `json:"cartId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Lines     []cartLineView `json:"lines"`
	ItemCount int            `json:"itemCount"`
	Subtotal  string         `json:"subtotal"`
	Error     string         `json:"error,omitempty"`
}

func newCartView(st cartstate.State) cartView {
	v := cartView{
		CartID:    st.CartID,
		SessionID: st.SessionID,
		Lines:     make([]cartLineView, 0, len(st.Lines)),
		ItemCount: st.ItemCount(),
		Subtotal:  st.Subtotal().StringFixed(2),
	}
	for _, l := range st.Lines {
		v.Lines = append(v.Lines, cartLineView{
			UniqueID:  l.UniqueID,
			ProductID: l.ProductID,
			Name:      l.DisplayName(),
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Total:     l.Total().StringFixed(2),
			Synced:    l.ServerLineID != "",
		})
	}
	if st.LastError != nil {
		v.Error = models.UserMessage(st.LastError)
	}
	return v
}

func printCart(st cartstate.State) {
	if jsonOutput {
		printJSON(newCartView(st))
		return
	}

	if st.Notice != nil {
		printSuccess("%s", st.Notice.Message)
	}
	if st.LastError != nil {
		printWarning("Cart not synced: %s", models.UserMessage(st.LastError))
	}

	if st.IsEmpty() {
		printInfo("Your cart is empty")
		return
	}

	for _, l := range st.Lines {
		marker := " "
		if l.ServerLineID == "" {
			marker = "*"
		}
		fmt.Printf("%s %-40s %3d x %10s = %10s\n",
			marker, truncate(l.DisplayName(), 40), l.Quantity, formatMoney(l.UnitPrice), formatMoney(l.Total()))
		dimColor.Printf("  %s\n", l.UniqueID)
	}
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("%d item(s), subtotal %s\n", st.ItemCount(), formatMoney(st.Subtotal()))
}

func printBreakdown(b *models.PriceBreakdown) {
	if jsonOutput {
		printJSON(map[string]interface{}{
			"subtotal": b.Subtotal.StringFixed(2),
			"shipping": b.Shipping.StringFixed(2),
			"tax":      b.Tax.StringFixed(2),
			"discount": b.Discount.StringFixed(2),
			"total":    b.Total.StringFixed(2),
			"estimate": b.Fallback,
		})
		return
	}

	fmt.Printf("Subtotal  %12s\n", formatMoney(b.Subtotal))
	fmt.Printf("Shipping  %12s\n", formatMoney(b.Shipping))
	fmt.Printf("Tax       %12s\n", formatMoney(b.Tax))
	if !b.Discount.IsZero() {
		fmt.Printf("Discount  %12s\n", "-"+formatMoney(b.Discount))
	}
	fmt.Printf("Total     %12s\n", formatMoney(b.Total))
	if b.Fallback {
		printWarning("Estimated locally; final price is confirmed at checkout")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
