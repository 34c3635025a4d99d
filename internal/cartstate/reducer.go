package cartstate

import (
	"fmt"
	"slices"

	"github.com/TheMichaelB/cartsync/internal/models"
)

// Action is a state transition request.
type Action interface {
	actionName() string
}

// AddLine merges into a matching line or appends a new one.
type AddLine struct{ Line models.CartLine }

// RemoveLine deletes a line; absent ids are ignored.
type RemoveLine struct{ UniqueID string }

// SetQuantity replaces a line's quantity; <= 0 removes the line.
type SetQuantity struct {
	UniqueID string
	Quantity int
}

// ClearCart empties the line list.
type ClearCart struct{}

// ReplaceFromServer installs the authoritative server lines.
type ReplaceFromServer struct {
	CartID string
	Items  []models.ServerCartItem
}

// LoadLocal installs lines read from the local snapshot.
type LoadLocal struct{ Lines []models.CartLine }

// SetLoading toggles the in-flight flag.
type SetLoading struct{ Loading bool }

// SetError records (or, with nil, dismisses) a synchronization failure.
type SetError struct{ Err error }

// RequestRemovalConfirmation marks a line as awaiting removal confirmation.
type RequestRemovalConfirmation struct {
	UniqueID    string
	DisplayName string
}

// CancelRemovalConfirmation drops the pending removal.
type CancelRemovalConfirmation struct{}

// SetSession stores (or, with "", discards) the guest session id.
type SetSession struct{ SessionID string }

// ShowNotice records a success acknowledgment.
type ShowNotice struct{ Notice Notice }

// DismissNotice clears the acknowledgment.
type DismissNotice struct{}

// DiscardCartID forgets the server cart id.
type DiscardCartID struct{}

// Reset returns to the zero state.
type Reset struct{}

func (AddLine) actionName() string                    { return "add_line" }
func (RemoveLine) actionName() string                 { return "remove_line" }
func (SetQuantity) actionName() string                { return "set_quantity" }
func (ClearCart) actionName() string                  { return "clear_cart" }
func (ReplaceFromServer) actionName() string          { return "replace_from_server" }
func (LoadLocal) actionName() string                  { return "load_local" }
func (SetLoading) actionName() string                 { return "set_loading" }
func (SetError) actionName() string                   { return "set_error" }
func (RequestRemovalConfirmation) actionName() string { return "request_removal_confirmation" }
func (CancelRemovalConfirmation) actionName() string  { return "cancel_removal_confirmation" }
func (SetSession) actionName() string                 { return "set_session" }
func (ShowNotice) actionName() string                 { return "show_notice" }
func (DismissNotice) actionName() string              { return "dismiss_notice" }
func (DiscardCartID) actionName() string              { return "discard_cart_id" }
func (Reset) actionName() string                      { return "reset" }

// Name returns a stable label for logging.
func Name(a Action) string {
	return a.actionName()
}

// Reduce computes the next state. It never mutates s.
func Reduce(s State, a Action) State {
	next := s.Clone()

	switch a := a.(type) {
	case AddLine:
		next.addLine(a.Line)

	case RemoveLine:
		next.removeLine(a.UniqueID)

	case SetQuantity:
		if a.Quantity <= 0 {
			next.removeLine(a.UniqueID)
			break
		}
		if i := next.indexOf(a.UniqueID); i >= 0 {
			next.Lines[i].Quantity = a.Quantity
		}

	case ClearCart:
		next.Lines = nil
		next.PendingRemoval = nil

	case ReplaceFromServer:
		next.Lines = LinesFromServer(a.Items)
		if a.CartID != "" {
			next.CartID = a.CartID
		}
		next.dropStalePending()

	case LoadLocal:
		next.Lines = nil
		for _, l := range a.Lines {
			if l.Quantity <= 0 || l.ProductID == "" {
				continue
			}
			if l.UniqueID == "" || next.indexOf(l.UniqueID) >= 0 {
				l.UniqueID = next.synthesizeID(l.ProductID)
			}
			next.Lines = append(next.Lines, l)
		}
		next.Lines = cloneLines(next.Lines)
		next.dropStalePending()

	case SetLoading:
		next.Loading = a.Loading

	case SetError:
		next.LastError = a.Err

	case RequestRemovalConfirmation:
		if next.indexOf(a.UniqueID) >= 0 {
			next.PendingRemoval = &PendingRemoval{UniqueID: a.UniqueID, DisplayName: a.DisplayName}
		}

	case CancelRemovalConfirmation:
		next.PendingRemoval = nil

	case SetSession:
		next.SessionID = a.SessionID

	case ShowNotice:
		n := a.Notice
		next.Notice = &n

	case DismissNotice:
		next.Notice = nil

	case DiscardCartID:
		next.CartID = ""

	case Reset:
		return State{}

	default:
		return s
	}

	return next
}

// AddedLineID returns the uniqueId an AddLine taking prev to next landed on:
// the appended line, or the merged line whose quantity grew.
func AddedLineID(prev, next State) string {
	if len(next.Lines) > len(prev.Lines) {
		return next.Lines[len(next.Lines)-1].UniqueID
	}
	for i, l := range next.Lines {
		if i < len(prev.Lines) && l.UniqueID == prev.Lines[i].UniqueID && l.Quantity != prev.Lines[i].Quantity {
			return l.UniqueID
		}
	}
	return ""
}

// addLine applies the merge rule: same product, same variant, and for
// variant-less lines no forced-distinct request.
func (s *State) addLine(candidate models.CartLine) {
	qty := candidate.Quantity
	if qty <= 0 {
		qty = 1
	}

	i := slices.IndexFunc(s.Lines, func(l models.CartLine) bool {
		if l.ProductID != candidate.ProductID || !models.SameVariant(l.Variant, candidate.Variant) {
			return false
		}
		if l.Variant.IsZero() && candidate.Variant.IsZero() && candidate.ForceDistinct {
			return false
		}
		return true
	})
	if i >= 0 {
		s.Lines[i].Quantity += qty
		return
	}

	line := candidate
	line.Quantity = qty
	line.ForceDistinct = false
	if line.Variant.IsZero() {
		line.Variant = nil
	} else {
		v := *line.Variant
		line.Variant = &v
	}
	if line.UniqueID == "" || s.indexOf(line.UniqueID) >= 0 {
		line.UniqueID = s.synthesizeID(line.ProductID)
	}
	s.Lines = append(s.Lines, line)
}

func (s *State) removeLine(uniqueID string) {
	i := s.indexOf(uniqueID)
	if i < 0 {
		return
	}
	s.Lines = slices.Delete(s.Lines, i, i+1)
	if s.PendingRemoval != nil && s.PendingRemoval.UniqueID == uniqueID {
		s.PendingRemoval = nil
	}
}

func (s *State) dropStalePending() {
	if s.PendingRemoval != nil && s.indexOf(s.PendingRemoval.UniqueID) < 0 {
		s.PendingRemoval = nil
	}
}

func (s *State) synthesizeID(productID string) string {
	for {
		s.LocalSeq++
		id := fmt.Sprintf("%s#%d", productID, s.LocalSeq)
		if s.indexOf(id) < 0 {
			return id
		}
	}
}
