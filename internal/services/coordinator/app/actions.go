package app

import (
	"context"
	"fmt"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/services/coordinator/domain/consensus"
	"github.com/mughalz/investordefend/internal/services/coordinator/domain/ledger"
	"github.com/mughalz/investordefend/internal/services/coordinator/domain/phase"
	"github.com/mughalz/investordefend/internal/services/shared/session"
)

var (
	errAlreadyExecuted = apperrors.New(apperrors.CodeConflict, "round advance already submitted")
	errNeedsPlacement  = apperrors.New(apperrors.CodeInvalidTransition, "placement-required items are still unbound")
)

// forward is a vote submitted to the authority on the participant's behalf.
type forward struct {
	action session.Action
	phase  session.Phase
	round  int
}

// StageItem requests that itemID be added to this round's purchases.
func (c *Coordinator) StageItem(ctx context.Context, itemID string) error {
	return c.request(ctx, session.StageItem(itemID))
}

// UnstageItem requests that itemID be removed from this round's purchases.
func (c *Coordinator) UnstageItem(ctx context.Context, itemID string) error {
	return c.request(ctx, session.UnstageItem(itemID))
}

// AdvanceRound requests the end of the current round. With unbound
// placement items it moves to Placing locally instead.
func (c *Coordinator) AdvanceRound(ctx context.Context) error {
	return c.request(ctx, session.Action{Kind: session.ActionAdvanceRound})
}

// request validates action, then either executes it directly (ungated),
// records the participant's vote with the authority (gated), or handles it
// locally.
func (c *Coordinator) request(ctx context.Context, action session.Action) error {
	c.mu.Lock()
	vote, direct, err := c.planLocked(action)
	if err != nil {
		c.reportLocked(err)
	}
	c.diffLocked()
	c.unlockAndDispatch()

	switch {
	case err != nil:
		return err
	case direct != nil:
		return c.execute(ctx, direct)
	case vote != nil:
		return c.submitVote(ctx, *vote)
	}
	return nil
}

func (c *Coordinator) planLocked(action session.Action) (*forward, *passedAction, error) {
	if err := c.requireLoadedLocked(); err != nil {
		return nil, nil, err
	}
	current := c.machine.Current()
	round := c.machine.Round()

	switch action.Kind {
	case session.ActionStageItem, session.ActionUnstageItem:
		if err := action.Validate(); err != nil {
			return nil, nil, err
		}
		if current != session.PhasePurchasing {
			return nil, nil, phase.WrongPhase(current, string(action.Kind))
		}
		item, err := c.itemLocked(action.ItemID)
		if err != nil {
			return nil, nil, err
		}
		if action.Kind == session.ActionStageItem {
			err = c.ledger.CheckStage(item)
		} else {
			err = c.ledger.CheckUnstage(item.ID)
		}
		if err != nil {
			return nil, nil, err
		}
	case session.ActionAdvanceRound:
		if current != session.PhasePurchasing && current != session.PhasePlacing {
			return nil, nil, phase.WrongPhase(current, string(action.Kind))
		}
		pending := len(c.unbound)
		if pending > 0 {
			kind := phase.PurchasingClosed
			if current == session.PhasePlacing {
				kind = phase.PlacementResolved
			}
			_, err := c.machine.Advance(phase.Completion{Kind: kind, Round: round, Pending: pending})
			return nil, nil, err
		}
		if _, done := c.executed[round]; done {
			return nil, nil, nil
		}
		action.Round = round
	default:
		return nil, nil, apperrors.WithMetadata(apperrors.CodeInvalidAction,
			fmt.Sprintf("%s cannot be requested directly", action.Kind),
			map[string]string{"Reason": "unsupported kind"})
	}

	voteID := action.GateID()
	policy := c.policyLocked(voteID)
	voter := c.voterLocked(policy)
	if _, busy := c.passed[voteID]; busy {
		if consensus.Gated(policy) && c.tally.Has(voteID, voter) {
			// Revoking a passed vote is refused.
			_, err := c.tally.Toggle(voteID, voter)
			return nil, nil, err
		}
		return nil, nil, nil
	}

	if !consensus.Gated(policy) {
		pa := c.markPassedLocked(voteID, action, policy)
		pa.inflight = true
		return nil, pa, nil
	}

	cast := !c.tally.Has(voteID, voter)
	vote := session.ToggleVote(voteID, cast)
	if _, ok := policy.(consensus.Unanimous); ok {
		vote = session.SetReady(cast)
	}
	return &forward{action: vote, phase: current, round: round}, nil, nil
}

// submitVote forwards a vote, reconciles the authority's answer and then
// executes anything that passed as a result.
func (c *Coordinator) submitVote(ctx context.Context, f forward) error {
	result, err := c.authority.SubmitAction(ctx, c.sessionID, f.action)
	c.metrics.Forwarded(string(f.action.Kind), err)

	c.mu.Lock()
	outErr := c.applyForwardedLocked(ctx, f, result, err)
	c.unlockAndDispatch()
	if outErr != nil {
		return outErr
	}
	return c.ExecutePassed(ctx)
}

func (c *Coordinator) applyForwardedLocked(ctx context.Context, f forward, result session.Session, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case c.staleLocked(f.phase, f.round):
		if err == nil {
			c.reconcileLocked(result)
		}
		stale := staleError(c.machine.Current(), c.machine.Round())
		c.reportLocked(stale)
		return stale
	case err != nil:
		err = syncError(err, "submit "+string(f.action.Kind))
		c.reportLocked(err)
		return err
	}
	c.reconcileLocked(result)
	return nil
}

// BindPlacement binds a placement-required item to its target. Once the
// last item is bound the round advance is requested.
func (c *Coordinator) BindPlacement(ctx context.Context, itemID, targetID string) error {
	c.mu.Lock()
	f, err := c.planBindLocked(itemID, targetID)
	if err != nil {
		c.reportLocked(err)
	}
	c.unlockAndDispatch()
	if err != nil {
		return err
	}

	result, err := c.authority.SubmitAction(ctx, c.sessionID, f.action)
	c.metrics.Forwarded(string(f.action.Kind), err)

	c.mu.Lock()
	err = c.applyForwardedLocked(ctx, f, result, err)
	remaining := len(c.unbound)
	placing := c.machine.Current() == session.PhasePlacing
	c.unlockAndDispatch()
	if err != nil {
		return err
	}
	if remaining == 0 && placing {
		return c.AdvanceRound(ctx)
	}
	return nil
}

func (c *Coordinator) planBindLocked(itemID, targetID string) (forward, error) {
	if err := c.requireLoadedLocked(); err != nil {
		return forward{}, err
	}
	action := session.BindPlacement(itemID, targetID)
	if err := action.Validate(); err != nil {
		return forward{}, err
	}
	current := c.machine.Current()
	if current != session.PhasePlacing {
		return forward{}, phase.WrongPhase(current, string(action.Kind))
	}
	if _, err := c.itemLocked(itemID); err != nil {
		return forward{}, err
	}
	item, _ := c.catalog.Item(itemID)
	if !c.catalog.HasTarget(targetID) {
		return forward{}, apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("unknown target %q", targetID),
			map[string]string{"Target": targetID})
	}
	required, ok := c.unbound[item.ID]
	if !ok {
		return forward{}, apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("item %q is not awaiting placement", item.ID),
			map[string]string{"Item": item.ID})
	}
	if required != targetID {
		return forward{}, apperrors.WithMetadata(apperrors.CodePlacementMismatch,
			fmt.Sprintf("%s must be placed on %s, not %s", item.Name, required, targetID),
			map[string]string{"Item": item.Name, "Target": targetID, "Required": required})
	}
	return forward{action: action, phase: current, round: c.machine.Round()}, nil
}

// CloseResults leaves the results review, starting the next round or
// ending the session.
func (c *Coordinator) CloseResults(ctx context.Context) error {
	c.mu.Lock()
	err := c.requireLoadedLocked()
	if err == nil && c.machine.Current() != session.PhaseResults {
		err = phase.WrongPhase(c.machine.Current(), "close_results")
	}
	if err == nil {
		_, err = c.machine.Advance(phase.Completion{Kind: phase.ResultsClosed, Round: c.machine.Round()})
	}
	if err != nil {
		c.reportLocked(err)
		c.unlockAndDispatch()
		return err
	}

	c.tally.ClearAll()
	clear(c.passed)
	clear(c.unbound)
	c.ledger.Reset()
	if c.machine.Current() == session.PhasePurchasing {
		if c.snapshot.Round == c.machine.Round() {
			c.loadRoundLocked()
		} else {
			c.ledger.Rebuild(c.snapshot.RoundAllowance, nil)
		}
		c.catchUpLocked()
		c.evaluateLocked()
	}
	c.diffLocked()
	c.unlockAndDispatch()
	return c.ExecutePassed(ctx)
}

func (c *Coordinator) itemLocked(itemID string) (ledger.Item, error) {
	item, ok := c.catalog.Item(itemID)
	if !ok {
		return ledger.Item{}, apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("unknown item %q", itemID),
			map[string]string{"Item": itemID})
	}
	return ledger.Item{ID: item.ID, Cost: item.Cost}, nil
}
