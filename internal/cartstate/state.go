// Package cartstate holds the cart state shape and its pure reducer.
package cartstate

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/TheMichaelB/cartsync/internal/models"
)

// PendingRemoval is a removal awaiting user confirmation.
type PendingRemoval struct {
	UniqueID    string
	DisplayName string
}

// NoticeKind classifies a point-in-time acknowledgment.
type NoticeKind string

const (
	NoticeRemoved     NoticeKind = "removed"
	NoticeCleared     NoticeKind = "cleared"
	NoticeOrderPlaced NoticeKind = "order_placed"
)

// Notice is a dismissible success acknowledgment.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// State is the local view of the cart.
type State struct {
	Lines          []models.CartLine
	Loading        bool
	LastError      error
	PendingRemoval *PendingRemoval
	SessionID      string
	CartID         string
	Notice         *Notice

	// LocalSeq distinguishes synthesized uniqueIds of unsynced lines.
	LocalSeq uint64
}

// Clone returns a copy whose slices and pointers are not shared.
func (s State) Clone() State {
	out := s
	out.Lines = cloneLines(s.Lines)
	if s.PendingRemoval != nil {
		p := *s.PendingRemoval
		out.PendingRemoval = &p
	}
	if s.Notice != nil {
		n := *s.Notice
		out.Notice = &n
	}
	return out
}

// Line finds a line by uniqueId.
func (s State) Line(uniqueID string) (models.CartLine, bool) {
	i := s.indexOf(uniqueID)
	if i < 0 {
		return models.CartLine{}, false
	}
	return s.Lines[i], true
}

// Subtotal sums quantity * unit price over all lines.
func (s State) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Total())
	}
	return total
}

// ItemCount sums quantities over all lines.
func (s State) ItemCount() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

// IsEmpty reports whether the cart has no lines.
func (s State) IsEmpty() bool {
	return len(s.Lines) == 0
}

func (s State) indexOf(uniqueID string) int {
	return slices.IndexFunc(s.Lines, func(l models.CartLine) bool {
		return l.UniqueID == uniqueID
	})
}

func cloneLines(lines []models.CartLine) []models.CartLine {
	if lines == nil {
		return nil
	}
	out := make([]models.CartLine, len(lines))
	for i, l := range lines {
		if l.Variant != nil {
			v := *l.Variant
			l.Variant = &v
		}
		out[i] = l
	}
	return out
}
