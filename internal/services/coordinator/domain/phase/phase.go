// Package phase is the pure round state machine.
//
// The machine accepts completions (facts that close the current phase) and
// picks the next phase from a fixed transition table. Re-delivering a
// completion that was already applied is a no-op, so replayed snapshots are
// safe.
package phase

import (
	"fmt"
	"strconv"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/services/shared/session"
)

// CompletionKind names the fact that closes a phase.
type CompletionKind string

const (
	// PurchasingClosed closes Purchasing. Pending carries how many staged
	// items still need a placement binding.
	PurchasingClosed CompletionKind = "purchasing_closed"
	// PlacementResolved closes Placing once Pending is zero.
	PlacementResolved CompletionKind = "placement_resolved"
	// OutcomeReceived closes Simulating once CompletedRound reaches the round.
	OutcomeReceived CompletionKind = "outcome_received"
	// ResultsClosed closes Results.
	ResultsClosed CompletionKind = "results_closed"
)

// Completion is the context handed to Advance.
type Completion struct {
	Kind  CompletionKind
	Round int
	// Pending is the number of placement-required items not yet bound.
	Pending int
	// CompletedRound is the last round the authority reports as simulated.
	CompletedRound int
}

func (c Completion) key() string {
	return string(c.Kind) + "@" + strconv.Itoa(c.Round)
}

// transitions lists the legal edges; guards are evaluated separately.
var transitions = map[session.Phase][]session.Phase{
	session.PhasePurchasing: {session.PhasePlacing, session.PhaseSimulating},
	session.PhasePlacing:    {session.PhaseSimulating},
	session.PhaseSimulating: {session.PhaseResults},
	session.PhaseResults:    {session.PhasePurchasing, session.PhaseEnded},
	session.PhaseEnded:      {},
}

// intended is the phase a completion normally leads to, used in errors.
var intended = map[CompletionKind]session.Phase{
	PurchasingClosed:  session.PhaseSimulating,
	PlacementResolved: session.PhaseSimulating,
	OutcomeReceived:   session.PhaseResults,
	ResultsClosed:     session.PhasePurchasing,
}

var closes = map[CompletionKind]session.Phase{
	PurchasingClosed:  session.PhasePurchasing,
	PlacementResolved: session.PhasePlacing,
	OutcomeReceived:   session.PhaseSimulating,
	ResultsClosed:     session.PhaseResults,
}

// Machine tracks the phase and round of one session. It is not safe for
// concurrent use; the coordinator serializes access.
type Machine struct {
	phase     session.Phase
	round     int
	maxRounds int

	pending        int
	completedRound int

	applied map[string]struct{}
}

// New returns a machine positioned at phase in round.
func New(current session.Phase, round, maxRounds int) (*Machine, error) {
	if !current.Valid() {
		return nil, fmt.Errorf("unknown phase %q", current)
	}
	if maxRounds <= 0 {
		return nil, fmt.Errorf("max rounds must be positive")
	}
	if round <= 0 || round > maxRounds {
		return nil, fmt.Errorf("round %d outside 1..%d", round, maxRounds)
	}
	return &Machine{
		phase:     current,
		round:     round,
		maxRounds: maxRounds,
		applied:   map[string]struct{}{},
	}, nil
}

// Current returns the current phase.
func (m *Machine) Current() session.Phase { return m.phase }

// Round returns the current round.
func (m *Machine) Round() int { return m.round }

// MaxRounds returns the configured round limit.
func (m *Machine) MaxRounds() int { return m.maxRounds }

// SetPending records how many placement-required items remain unbound.
func (m *Machine) SetPending(n int) { m.pending = max(n, 0) }

// ObserveCompletedRound records the latest simulated round reported by the
// authority. Older reports are ignored.
func (m *Machine) ObserveCompletedRound(round int) {
	m.completedRound = max(m.completedRound, round)
}

// CanAdvanceTo reports whether target is a legal edge whose guard holds
// against the facts observed so far.
func (m *Machine) CanAdvanceTo(target session.Phase) bool {
	if !m.isEdge(target) {
		return false
	}
	return m.guard(target, m.pending, m.completedRound)
}

// Advance applies c and returns the resulting phase. A completion that was
// already applied returns the current phase without error.
func (m *Machine) Advance(c Completion) (session.Phase, error) {
	if _, done := m.applied[c.key()]; done {
		return m.phase, nil
	}
	from, ok := closes[c.Kind]
	if !ok {
		return m.phase, m.invalid("", fmt.Sprintf("unknown completion %q", c.Kind))
	}
	if from != m.phase || c.Round != m.round {
		return m.phase, m.invalid(intended[c.Kind], fmt.Sprintf("%s for round %d does not close %s of round %d", c.Kind, c.Round, m.phase, m.round))
	}

	pending := c.Pending
	completed := max(m.completedRound, c.CompletedRound)
	var target session.Phase
	for _, candidate := range transitions[m.phase] {
		if m.guard(candidate, pending, completed) {
			target = candidate
			break
		}
	}
	if target == "" {
		return m.phase, m.invalid(intended[c.Kind], fmt.Sprintf("guard failed for %s in round %d", c.Kind, c.Round))
	}

	m.applied[c.key()] = struct{}{}
	m.pending = pending
	m.completedRound = completed
	m.phase = target
	if c.Kind == ResultsClosed && target == session.PhasePurchasing {
		m.round++
		m.pending = 0
	}
	return m.phase, nil
}

func (m *Machine) isEdge(target session.Phase) bool {
	for _, next := range transitions[m.phase] {
		if next == target {
			return true
		}
	}
	return false
}

func (m *Machine) guard(target session.Phase, pending, completed int) bool {
	switch {
	case m.phase == session.PhasePurchasing && target == session.PhasePlacing:
		return pending > 0
	case m.phase == session.PhasePurchasing && target == session.PhaseSimulating:
		return pending == 0
	case m.phase == session.PhasePlacing && target == session.PhaseSimulating:
		return pending == 0
	case m.phase == session.PhaseSimulating && target == session.PhaseResults:
		return completed >= m.round
	case m.phase == session.PhaseResults && target == session.PhasePurchasing:
		return m.round < m.maxRounds
	case m.phase == session.PhaseResults && target == session.PhaseEnded:
		return m.round == m.maxRounds
	}
	return false
}

func (m *Machine) invalid(to session.Phase, reason string) error {
	if to == "" {
		to = "an unknown phase"
	}
	return apperrors.WithMetadata(apperrors.CodeInvalidTransition,
		"invalid transition: "+reason,
		map[string]string{"From": string(m.phase), "To": string(to)})
}

// WrongPhase builds the error returned when an action is attempted outside
// the phases that allow it.
func WrongPhase(current session.Phase, action string) error {
	return apperrors.WithMetadata(apperrors.CodeWrongPhase,
		fmt.Sprintf("%s is not allowed during %s", action, current),
		map[string]string{"Phase": string(current), "Action": action})
}
