package app

import (
	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	"github.com/shopspring/decimal"
)

// Notifier receives state changes for the presentation layer. Calls are
// made outside the coordinator lock, in the order the changes happened.
type Notifier interface {
	PhaseChanged(phase session.Phase)
	TallyChanged(actionID string, count, threshold int)
	LedgerChanged(available, allocated decimal.Decimal)
	ActionError(code apperrors.Code, message string)
}

// NotifierFuncs adapts optional functions to Notifier. Nil fields are skipped.
type NotifierFuncs struct {
	OnPhaseChanged  func(session.Phase)
	OnTallyChanged  func(actionID string, count, threshold int)
	OnLedgerChanged func(available, allocated decimal.Decimal)
	OnActionError   func(code apperrors.Code, message string)
}

func (f NotifierFuncs) PhaseChanged(phase session.Phase) {
	if f.OnPhaseChanged != nil {
		f.OnPhaseChanged(phase)
	}
}

func (f NotifierFuncs) TallyChanged(actionID string, count, threshold int) {
	if f.OnTallyChanged != nil {
		f.OnTallyChanged(actionID, count, threshold)
	}
}

func (f NotifierFuncs) LedgerChanged(available, allocated decimal.Decimal) {
	if f.OnLedgerChanged != nil {
		f.OnLedgerChanged(available, allocated)
	}
}

func (f NotifierFuncs) ActionError(code apperrors.Code, message string) {
	if f.OnActionError != nil {
		f.OnActionError(code, message)
	}
}

// event is a queued notification.
type event func(Notifier)
