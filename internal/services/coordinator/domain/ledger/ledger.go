// Package ledger tracks one organisation's round budget.
//
// Amounts are decimal throughout; available + allocated always equals the
// round allowance.
package ledger

import (
	"fmt"
	"slices"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/shopspring/decimal"
)

// Item is the part of a catalogue entry the ledger needs.
type Item struct {
	ID   string
	Cost decimal.Decimal
}

// Ledger is not safe for concurrent use.
type Ledger struct {
	allowance decimal.Decimal
	available decimal.Decimal
	allocated decimal.Decimal
	staged    []Item
}

// New returns an empty ledger for a round allowance.
func New(allowance decimal.Decimal) *Ledger {
	l := &Ledger{allowance: allowance}
	l.Reset()
	return l
}

// Allowance returns the round allowance.
func (l *Ledger) Allowance() decimal.Decimal { return l.allowance }

// Available returns the unallocated budget.
func (l *Ledger) Available() decimal.Decimal { return l.available }

// Allocated returns the budget committed to staged items.
func (l *Ledger) Allocated() decimal.Decimal { return l.allocated }

// Staged returns the staged item IDs in staging order.
func (l *Ledger) Staged() []string {
	out := make([]string, len(l.staged))
	for i, item := range l.staged {
		out[i] = item.ID
	}
	return out
}

// IsStaged reports whether itemID is staged.
func (l *Ledger) IsStaged(itemID string) bool {
	return l.index(itemID) >= 0
}

// CheckStage reports the error Stage would return without changing anything.
func (l *Ledger) CheckStage(item Item) error {
	if item.Cost.IsNegative() {
		return apperrors.WithMetadata(apperrors.CodeInvalidAction,
			fmt.Sprintf("item %s has negative cost %s", item.ID, item.Cost),
			map[string]string{"Reason": "negative cost"})
	}
	if l.IsStaged(item.ID) {
		return apperrors.WithMetadata(apperrors.CodeAlreadyStaged,
			fmt.Sprintf("item %s already staged", item.ID),
			map[string]string{"Item": item.ID})
	}
	if item.Cost.GreaterThan(l.available) {
		return apperrors.WithMetadata(apperrors.CodeInsufficientFunds,
			fmt.Sprintf("item %s costs %s, available %s", item.ID, item.Cost, l.available),
			map[string]string{"Item": item.ID, "Cost": item.Cost.String(), "Available": l.available.String()})
	}
	return nil
}

// Stage moves item.Cost from available to allocated.
func (l *Ledger) Stage(item Item) error {
	if err := l.CheckStage(item); err != nil {
		return err
	}
	l.available = l.available.Sub(item.Cost)
	l.allocated = l.allocated.Add(item.Cost)
	l.staged = append(l.staged, item)
	return nil
}

// CheckUnstage reports the error Unstage would return.
func (l *Ledger) CheckUnstage(itemID string) error {
	if !l.IsStaged(itemID) {
		return apperrors.WithMetadata(apperrors.CodeNotStaged,
			fmt.Sprintf("item %s is not staged", itemID),
			map[string]string{"Item": itemID})
	}
	return nil
}

// Unstage reverses a Stage.
func (l *Ledger) Unstage(itemID string) error {
	if err := l.CheckUnstage(itemID); err != nil {
		return err
	}
	i := l.index(itemID)
	item := l.staged[i]
	l.available = l.available.Add(item.Cost)
	l.allocated = l.allocated.Sub(item.Cost)
	l.staged = slices.Delete(l.staged, i, i+1)
	return nil
}

// Reset restores the full allowance and clears the staged set.
func (l *Ledger) Reset() {
	l.available = l.allowance
	l.allocated = decimal.Zero
	l.staged = nil
}

// Rebuild replaces the ledger with allowance and items staged in order.
// Items that do not fit are skipped and returned.
func (l *Ledger) Rebuild(allowance decimal.Decimal, items []Item) []Item {
	l.allowance = allowance
	l.Reset()
	var skipped []Item
	for _, item := range items {
		if err := l.Stage(item); err != nil {
			skipped = append(skipped, item)
		}
	}
	return skipped
}

func (l *Ledger) index(itemID string) int {
	return slices.IndexFunc(l.staged, func(item Item) bool { return item.ID == itemID })
}
