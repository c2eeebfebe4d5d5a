// Package effect interprets the closed vocabulary of mitigation effects.
//
// Catalogue entries describe what implementing a mitigation does as data;
// Apply is the only place that turns that data into state changes.
package effect

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mughalz/investordefend/internal/services/shared/session"
	"github.com/shopspring/decimal"
)

// Kind names an effect.
type Kind string

const (
	// KindBalanceDelta adds Amount (possibly negative) to the balance.
	KindBalanceDelta Kind = "balance_delta"
	// KindSuppressThreatActor stops ThreatActor from producing incidents.
	KindSuppressThreatActor Kind = "suppress_threat_actor"
	// KindReduceLoss lowers every future incident loss by Percent.
	KindReduceLoss Kind = "reduce_loss"
)

var hundred = decimal.NewFromInt(100)

// Effect is one declarative side effect of implementing a mitigation.
type Effect struct {
	Kind        Kind            `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	ThreatActor string          `json:"threat_actor,omitempty"`
	Percent     decimal.Decimal `json:"percent"`
}

// BalanceDelta builds a balance effect.
func BalanceDelta(amount decimal.Decimal) Effect {
	return Effect{Kind: KindBalanceDelta, Amount: amount}
}

// SuppressThreatActor builds a suppression effect.
func SuppressThreatActor(id string) Effect {
	return Effect{Kind: KindSuppressThreatActor, ThreatActor: id}
}

// ReduceLoss builds a loss reduction effect.
func ReduceLoss(percent decimal.Decimal) Effect {
	return Effect{Kind: KindReduceLoss, Percent: percent}
}

// Validate rejects unknown kinds and out-of-range parameters.
func (e Effect) Validate() error {
	switch e.Kind {
	case KindBalanceDelta:
		return nil
	case KindSuppressThreatActor:
		if strings.TrimSpace(e.ThreatActor) == "" {
			return fmt.Errorf("%s: threat actor is required", e.Kind)
		}
		return nil
	case KindReduceLoss:
		if e.Percent.IsNegative() || e.Percent.GreaterThan(hundred) {
			return fmt.Errorf("%s: percent %s outside 0..100", e.Kind, e.Percent)
		}
		return nil
	default:
		return fmt.Errorf("unknown effect kind %q", e.Kind)
	}
}

// Apply mutates org for each effect in order. Nothing is applied when any
// effect is invalid.
func Apply(org *session.Organisation, effects ...Effect) error {
	if org == nil {
		return fmt.Errorf("organisation is required")
	}
	for _, e := range effects {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	for _, e := range effects {
		switch e.Kind {
		case KindBalanceDelta:
			org.Balance = org.Balance.Add(e.Amount)
		case KindSuppressThreatActor:
			if !slices.Contains(org.Suppressed, e.ThreatActor) {
				org.Suppressed = append(org.Suppressed, e.ThreatActor)
			}
		case KindReduceLoss:
			org.LossReduction = decimal.Min(org.LossReduction.Add(e.Percent), hundred)
		}
	}
	return nil
}

// ReducedLoss applies an organisation's accumulated loss reduction to loss.
func ReducedLoss(org session.Organisation, loss decimal.Decimal) decimal.Decimal {
	if org.LossReduction.IsZero() {
		return loss
	}
	keep := hundred.Sub(decimal.Min(org.LossReduction, hundred))
	return loss.Mul(keep).Div(hundred).Round(2)
}
