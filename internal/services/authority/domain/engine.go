package domain

import (
	"fmt"
	"slices"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/services/shared/catalog"
	"github.com/mughalz/investordefend/internal/services/shared/effect"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	"github.com/shopspring/decimal"
)

// Engine applies actions against a catalogue.
type Engine struct {
	catalog *catalog.Catalog
}

// NewEngine builds an engine over cat.
func NewEngine(cat *catalog.Catalog) (*Engine, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	return &Engine{catalog: cat}, nil
}

// Result is what applying one action produced.
type Result struct {
	Session session.Session
	// Outcome is set when the action completed a round.
	Outcome *RoundOutcome
}

// Apply validates action for participantID and returns the updated
// session. The input is never mutated. The version is bumped on success.
func (e *Engine) Apply(current session.Session, participantID string, action session.Action) (Result, error) {
	if err := action.Validate(); err != nil {
		return Result{}, err
	}
	idx := -1
	for i, org := range current.Organisations {
		if org.HasMember(participantID) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Result{}, apperrors.WithMetadata(apperrors.CodeUnauthorized,
			fmt.Sprintf("participant %s is not a member of session %s", participantID, current.ID),
			map[string]string{"SessionID": current.ID})
	}
	if current.Phase != session.PhasePurchasing {
		return Result{}, apperrors.WithMetadata(apperrors.CodeWrongPhase,
			fmt.Sprintf("%s is not allowed during %s", action.Kind, current.Phase),
			map[string]string{"Phase": string(current.Phase), "Action": string(action.Kind)})
	}

	next := current.Clone()
	org := &next.Organisations[idx]
	var outcome *RoundOutcome
	var err error
	switch action.Kind {
	case session.ActionStageItem:
		err = e.stage(&next, org, action.ItemID)
	case session.ActionUnstageItem:
		err = unstage(&next, org, action.ItemID)
	case session.ActionBindPlacement:
		err = e.bind(org, action.ItemID, action.TargetID)
	case session.ActionToggleVote:
		toggleVote(&next, participantID, action.VoteID, action.Cast)
	case session.ActionSetReady:
		setReady(&next, participantID, action.Ready)
	case session.ActionAdvanceRound:
		outcome, err = e.advance(&next, *org, action.Round)
	}
	if err != nil {
		return Result{}, err
	}
	next.Version = current.Version + 1
	return Result{Session: next, Outcome: outcome}, nil
}

func (e *Engine) stage(s *session.Session, org *session.Organisation, itemID string) error {
	item, ok := e.catalog.Item(itemID)
	if !ok {
		return notFound("Item", itemID)
	}
	if org.IsStaged(itemID) || slices.Contains(org.Mitigations, itemID) {
		return apperrors.WithMetadata(apperrors.CodeAlreadyStaged,
			fmt.Sprintf("%s is already staged or implemented", itemID),
			map[string]string{"Item": item.Name})
	}
	available := s.RoundAllowance.Sub(e.stagedCost(*org))
	if item.Cost.GreaterThan(available) {
		return apperrors.WithMetadata(apperrors.CodeInsufficientFunds,
			fmt.Sprintf("%s costs %s but only %s is available", itemID, item.Cost, available),
			map[string]string{"Item": item.Name, "Cost": item.Cost.String(), "Available": available.String()})
	}
	org.Staged = append(org.Staged, itemID)
	delete(s.Votes, session.StageVoteID(itemID))
	return nil
}

func unstage(s *session.Session, org *session.Organisation, itemID string) error {
	if !org.IsStaged(itemID) {
		return apperrors.WithMetadata(apperrors.CodeNotStaged,
			fmt.Sprintf("%s is not staged", itemID),
			map[string]string{"Item": itemID})
	}
	org.Staged = slices.DeleteFunc(org.Staged, func(id string) bool { return id == itemID })
	delete(org.Placements, itemID)
	delete(s.Votes, session.UnstageVoteID(itemID))
	return nil
}

func (e *Engine) bind(org *session.Organisation, itemID, targetID string) error {
	item, ok := e.catalog.Item(itemID)
	if !ok || !item.RequiresPlacement || !org.IsStaged(itemID) {
		return notFound("Item", itemID)
	}
	if !e.catalog.HasTarget(targetID) {
		return notFound("Target", targetID)
	}
	if item.Target != targetID {
		return apperrors.WithMetadata(apperrors.CodePlacementMismatch,
			fmt.Sprintf("%s must be placed on %s, not %s", itemID, item.Target, targetID),
			map[string]string{"Item": item.Name, "Target": targetID, "Required": item.Target})
	}
	if org.Placements == nil {
		org.Placements = map[string]string{}
	}
	org.Placements[itemID] = targetID
	return nil
}

func toggleVote(s *session.Session, participantID, voteID string, cast bool) {
	voters := slices.DeleteFunc(slices.Clone(s.Votes[voteID]), func(id string) bool { return id == participantID })
	if cast {
		voters = append(voters, participantID)
	}
	if len(voters) == 0 {
		delete(s.Votes, voteID)
		return
	}
	if s.Votes == nil {
		s.Votes = map[string][]string{}
	}
	s.Votes[voteID] = voters
}

func setReady(s *session.Session, participantID string, ready bool) {
	s.Ready = slices.DeleteFunc(s.Ready, func(id string) bool { return id == participantID })
	if ready {
		s.Ready = append(s.Ready, participantID)
	}
}

// advance closes the round: checks agreement, implements staged
// mitigations, simulates incidents and opens the next round.
func (e *Engine) advance(s *session.Session, requester session.Organisation, round int) (*RoundOutcome, error) {
	if round != s.Round {
		return nil, apperrors.WithMetadata(apperrors.CodeConflict,
			fmt.Sprintf("round %d is not the current round %d", round, s.Round),
			map[string]string{"Round": fmt.Sprint(s.Round)})
	}
	if !agreed(*s, requester) {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidTransition,
			"round advance has not been agreed",
			map[string]string{"From": string(session.PhasePurchasing), "To": string(session.PhaseSimulating)})
	}
	for _, org := range s.Organisations {
		for _, item := range e.catalog.PlacementRequired(org.Staged) {
			if org.Placements[item.ID] == "" {
				return nil, apperrors.WithMetadata(apperrors.CodeInvalidTransition,
					fmt.Sprintf("%s of %s is not placed", item.ID, org.ID),
					map[string]string{"From": string(session.PhasePlacing), "To": string(session.PhaseSimulating)})
			}
		}
	}

	for i := range s.Organisations {
		if err := e.implement(&s.Organisations[i]); err != nil {
			return nil, err
		}
	}
	outcome := Simulate(s, e.catalog, round)

	for i := range s.Organisations {
		s.Organisations[i].Staged = nil
		s.Organisations[i].Placements = nil
	}
	s.Votes = nil
	s.Ready = nil
	s.CompletedRound = round
	if round >= s.MaxRounds {
		s.Phase = session.PhaseEnded
	} else {
		s.Round = round + 1
	}
	return &outcome, nil
}

// agreed reports whether the requester's advance has the agreement its
// mode needs: a majority of its members in cooperative play, every
// organisation ready in competitive play.
func agreed(s session.Session, requester session.Organisation) bool {
	switch s.Mode {
	case session.ModeCooperative:
		votes := 0
		for _, voter := range s.Votes[session.VoteAdvanceRound] {
			if requester.HasMember(voter) {
				votes++
			}
		}
		return votes >= max((len(requester.Members)+1)/2, 1)
	case session.ModeCompetitive:
		return len(s.ReadyOrganisations()) == len(s.Organisations)
	}
	return true
}

func (e *Engine) implement(org *session.Organisation) error {
	for _, itemID := range org.Staged {
		item, ok := e.catalog.Item(itemID)
		if !ok {
			return notFound("Item", itemID)
		}
		org.Balance = org.Balance.Sub(item.Cost)
		if err := effect.Apply(org, item.Effects...); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidAction, fmt.Sprintf("apply effects of %s", itemID), err)
		}
		org.Mitigations = append(org.Mitigations, itemID)
	}
	return nil
}

func (e *Engine) stagedCost(org session.Organisation) decimal.Decimal {
	total := decimal.Zero
	for _, itemID := range org.Staged {
		if item, ok := e.catalog.Item(itemID); ok {
			total = total.Add(item.Cost)
		}
	}
	return total
}

func notFound(field, value string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("unknown %s %q", field, value),
		map[string]string{field: value})
}
