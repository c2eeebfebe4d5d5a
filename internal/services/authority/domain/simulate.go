package domain

import (
	"fmt"
	"slices"

	"github.com/mughalz/investordefend/internal/platform/random"
	"github.com/mughalz/investordefend/internal/services/shared/catalog"
	"github.com/mughalz/investordefend/internal/services/shared/effect"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	"github.com/shopspring/decimal"
)

// RoundOutcome is the simulated result of one completed round.
type RoundOutcome struct {
	SessionID     string                `json:"session_id"`
	Round         int                   `json:"round"`
	Organisations []OrganisationOutcome `json:"organisations"`
}

// OrganisationOutcome is one organisation's share of a round outcome.
type OrganisationOutcome struct {
	OrganisationID string             `json:"organisation_id"`
	Incidents      []session.Incident `json:"incidents"`
	Loss           decimal.Decimal    `json:"loss"`
}

// Simulate rolls every threat actor against every organisation of s for
// round, records the incidents and deducts losses. The roll sequence only
// depends on the session seed and the round.
func Simulate(s *session.Session, cat *catalog.Catalog, round int) RoundOutcome {
	rng := random.RoundSource(s.Seed, round)
	outcome := RoundOutcome{SessionID: s.ID, Round: round}
	actors := cat.ThreatActors()

	for i := range s.Organisations {
		org := &s.Organisations[i]
		result := OrganisationOutcome{OrganisationID: org.ID, Loss: decimal.Zero}
		for _, actor := range actors {
			// Both draws happen for every actor so one organisation's
			// mitigations never shift another's rolls.
			attempt := rng.Float64()
			severity := rng.Float64()
			if attempt >= actor.Likelihood.InexactFloat64() {
				continue
			}
			incident := session.Incident{Round: round, ThreatActor: actor.ID, Loss: decimal.Zero}
			if blocker, blocked := blockedBy(*org, actor); blocked {
				incident.Blocked = true
				incident.Description = fmt.Sprintf("%s was stopped by %s", actor.Name, blocker)
			} else {
				span := actor.MaxLoss.Sub(actor.MinLoss)
				loss := actor.MinLoss.Add(span.Mul(decimal.NewFromFloat(severity))).Round(2)
				incident.Loss = effect.ReducedLoss(*org, loss)
				incident.Description = fmt.Sprintf("%s caused a loss of %s", actor.Name, incident.Loss.StringFixed(2))
				result.Loss = result.Loss.Add(incident.Loss)
			}
			result.Incidents = append(result.Incidents, incident)
		}
		org.Incidents = append(org.Incidents, result.Incidents...)
		org.Balance = org.Balance.Sub(result.Loss)
		outcome.Organisations = append(outcome.Organisations, result)
	}
	return outcome
}

func blockedBy(org session.Organisation, actor catalog.ThreatActor) (string, bool) {
	if slices.Contains(org.Suppressed, actor.ID) {
		return "suppression", true
	}
	for _, mitigation := range actor.BlockedBy {
		if slices.Contains(org.Mitigations, mitigation) {
			return mitigation, true
		}
	}
	return "", false
}
