package app

import (
	"context"
	"maps"
	"slices"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/services/coordinator/domain/consensus"
	"github.com/mughalz/investordefend/internal/services/coordinator/domain/ledger"
	"github.com/mughalz/investordefend/internal/services/coordinator/domain/phase"
	"github.com/mughalz/investordefend/internal/services/shared/session"
)

// ApplySnapshot reconciles an authoritative snapshot fetched by the sync
// loop. Snapshots older than the one already held are ignored.
func (c *Coordinator) ApplySnapshot(snap session.Session) {
	c.mu.Lock()
	if c.loaded {
		c.reconcileLocked(snap)
	}
	c.unlockAndDispatch()
}

// ExecutePassed submits every passed action not already in flight. It
// returns the first failure; the remaining actions are still attempted.
func (c *Coordinator) ExecutePassed(ctx context.Context) error {
	c.mu.Lock()
	var batch []*passedAction
	for _, voteID := range slices.Sorted(maps.Keys(c.passed)) {
		pa := c.passed[voteID]
		if pa.inflight {
			continue
		}
		pa.inflight = true
		batch = append(batch, pa)
	}
	c.mu.Unlock()

	var firstErr error
	for _, pa := range batch {
		if err := c.execute(ctx, pa); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// execute submits one passed action and applies its result. The lock is
// released for the network call; the outcome is dropped if the session
// moved on meanwhile.
func (c *Coordinator) execute(ctx context.Context, pa *passedAction) error {
	result, err := c.authority.SubmitAction(ctx, c.sessionID, pa.action)
	c.metrics.Forwarded(string(pa.action.Kind), err)
	if err != nil && ctx.Err() == nil {
		if snap, ok := c.settled(ctx, pa.action, err); ok {
			c.logf("session %s: %s already applied by another participant", c.sessionID, pa.voteID)
			result, err = snap, nil
		}
	}

	c.mu.Lock()
	delete(c.passed, pa.voteID)
	var outErr error
	advance := pa.action.Kind == session.ActionAdvanceRound
	switch {
	case ctx.Err() != nil:
		c.tally.Release(pa.voteID)
		outErr = ctx.Err()
	case err == nil && advance:
		c.executed[pa.round] = struct{}{}
		if !c.staleLocked(pa.phase, pa.round) {
			c.enterSimulatingLocked()
		}
	case c.staleLocked(pa.phase, pa.round):
		c.tally.Release(pa.voteID)
		if err == nil {
			c.reconcileLocked(result)
		}
		outErr = staleError(c.machine.Current(), c.machine.Round())
		c.reportLocked(outErr)
	case err != nil:
		c.tally.Release(pa.voteID)
		outErr = syncError(err, "submit "+string(pa.action.Kind))
		c.reportLocked(outErr)
		c.logf("session %s: %s failed: %v", c.sessionID, pa.action.Kind, err)
	default:
		c.tally.Clear(pa.voteID)
		c.reconcileLocked(result)
	}
	c.diffLocked()
	c.unlockAndDispatch()
	return outErr
}

// settled reports whether an action the authority rejected as a duplicate
// is already reflected in the authoritative record. Every member of a
// cooperative organisation executes the same passed vote; only the first
// submission lands.
func (c *Coordinator) settled(ctx context.Context, action session.Action, err error) (session.Session, bool) {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeAlreadyStaged, apperrors.CodeNotStaged, apperrors.CodeConflict:
	default:
		return session.Session{}, false
	}
	snap, fetchErr := c.authority.FetchSession(ctx, c.sessionID)
	if fetchErr != nil {
		return session.Session{}, false
	}
	org, ok := snap.OrganisationOf(c.participantID)
	if !ok {
		return session.Session{}, false
	}
	switch action.Kind {
	case session.ActionStageItem:
		return snap, org.IsStaged(action.ItemID)
	case session.ActionUnstageItem:
		return snap, !org.IsStaged(action.ItemID)
	case session.ActionAdvanceRound:
		return snap, snap.CompletedRound >= action.Round
	}
	return session.Session{}, false
}

func (c *Coordinator) staleLocked(expected session.Phase, round int) bool {
	return c.machine.Current() != expected || c.machine.Round() != round
}

// reconcileLocked replaces the local view with snap and re-derives the
// ledger, tally and pending placements for the open round.
func (c *Coordinator) reconcileLocked(snap session.Session) {
	if snap.Version < c.snapshot.Version {
		return
	}
	c.snapshot = snap.Clone()
	if org, ok := snap.OrganisationOf(c.participantID); ok {
		c.orgID = org.ID
	}
	c.catchUpLocked()
	if c.roundOpenLocked() && c.snapshot.Round == c.machine.Round() {
		c.loadRoundLocked()
	}
	c.evaluateLocked()
	c.diffLocked()
}

// catchUpLocked moves the machine forward when the authority reports the
// local round as already simulated.
func (c *Coordinator) catchUpLocked() {
	c.machine.ObserveCompletedRound(c.snapshot.CompletedRound)
	round := c.machine.Round()
	if c.snapshot.CompletedRound < round {
		return
	}
	if c.roundOpenLocked() {
		c.enterSimulatingLocked()
	}
	if c.machine.Current() == session.PhaseSimulating {
		c.advanceLocked(phase.Completion{
			Kind:           phase.OutcomeReceived,
			Round:          round,
			CompletedRound: c.snapshot.CompletedRound,
		})
	}
}

// enterSimulatingLocked closes the open round and drops its votes and
// budget.
func (c *Coordinator) enterSimulatingLocked() {
	round := c.machine.Round()
	switch c.machine.Current() {
	case session.PhasePurchasing:
		c.advanceLocked(phase.Completion{Kind: phase.PurchasingClosed, Round: round})
	case session.PhasePlacing:
		c.advanceLocked(phase.Completion{Kind: phase.PlacementResolved, Round: round})
	default:
		return
	}
	c.tally.ClearAll()
	clear(c.passed)
	clear(c.unbound)
	c.machine.SetPending(0)
	c.ledger.Reset()
}

func (c *Coordinator) advanceLocked(completion phase.Completion) session.Phase {
	next, err := c.machine.Advance(completion)
	if err != nil {
		c.logf("session %s: %v", c.sessionID, err)
	}
	return next
}

func (c *Coordinator) roundOpenLocked() bool {
	current := c.machine.Current()
	return current == session.PhasePurchasing || current == session.PhasePlacing
}

// loadRoundLocked derives votes, budget and pending placements from the
// held snapshot.
func (c *Coordinator) loadRoundLocked() {
	c.tally.Replace(c.votesLocked())

	org, _ := c.snapshot.OrganisationOf(c.participantID)
	items := make([]ledger.Item, 0, len(org.Staged))
	for _, id := range org.Staged {
		item, ok := c.catalog.Item(id)
		if !ok {
			c.logf("session %s: staged item %q is not in the catalog", c.sessionID, id)
			continue
		}
		items = append(items, ledger.Item{ID: item.ID, Cost: item.Cost})
	}
	for _, skipped := range c.ledger.Rebuild(c.snapshot.RoundAllowance, items) {
		c.logf("session %s: staged item %q exceeds the round allowance", c.sessionID, skipped.ID)
	}

	c.unbound = c.unboundLocked(org)
	c.machine.SetPending(len(c.unbound))
}

func (c *Coordinator) unboundLocked(org session.Organisation) map[string]string {
	out := map[string]string{}
	for _, item := range c.catalog.PlacementRequired(org.Staged) {
		if org.Placements[item.ID] == "" {
			out[item.ID] = item.Target
		}
	}
	return out
}

// votesLocked maps each vote to the voters that count for this
// participant: own-organisation members for cooperative votes, ready
// organisations for competitive readiness.
func (c *Coordinator) votesLocked() map[string][]string {
	out := map[string][]string{}
	switch c.snapshot.Mode {
	case session.ModeCooperative:
		org, _ := c.snapshot.OrganisationOf(c.participantID)
		for voteID, voters := range c.snapshot.Votes {
			for _, voter := range voters {
				if org.HasMember(voter) {
					out[voteID] = append(out[voteID], voter)
				}
			}
		}
	case session.ModeCompetitive:
		if ready := c.snapshot.ReadyOrganisations(); len(ready) > 0 {
			out[session.VoteAdvanceRound] = ready
		}
	}
	return out
}

// evaluateLocked marks gated actions whose threshold is met as passed and
// locks their tallies.
func (c *Coordinator) evaluateLocked() {
	if !c.roundOpenLocked() {
		return
	}
	for _, voteID := range c.tally.Actions() {
		if _, busy := c.passed[voteID]; busy {
			continue
		}
		policy := c.policyLocked(voteID)
		if !consensus.Gated(policy) || !c.satisfiedLocked(voteID, policy) {
			continue
		}
		action, ok := session.ActionForVote(voteID, c.machine.Round())
		if !ok {
			continue
		}
		if err := c.executableLocked(action); err != nil {
			c.logf("session %s: %s reached its threshold but cannot run: %v", c.sessionID, voteID, err)
			continue
		}
		c.markPassedLocked(voteID, action, policy)
	}
}

// executableLocked re-checks local preconditions for a passed action.
func (c *Coordinator) executableLocked(action session.Action) error {
	current := c.machine.Current()
	switch action.Kind {
	case session.ActionAdvanceRound:
		if _, done := c.executed[c.machine.Round()]; done {
			return errAlreadyExecuted
		}
		if len(c.unbound) > 0 {
			return errNeedsPlacement
		}
		return nil
	case session.ActionStageItem:
		if current != session.PhasePurchasing {
			return phase.WrongPhase(current, string(action.Kind))
		}
		item, err := c.itemLocked(action.ItemID)
		if err != nil {
			return err
		}
		return c.ledger.CheckStage(item)
	case session.ActionUnstageItem:
		if current != session.PhasePurchasing {
			return phase.WrongPhase(current, string(action.Kind))
		}
		return c.ledger.CheckUnstage(action.ItemID)
	}
	return nil
}

func (c *Coordinator) markPassedLocked(voteID string, action session.Action, policy consensus.Policy) *passedAction {
	c.tally.Lock(voteID)
	pa := &passedAction{
		voteID: voteID,
		action: action,
		phase:  c.machine.Current(),
		round:  c.machine.Round(),
	}
	c.passed[voteID] = pa
	c.metrics.ConsensusPassed(policy.Name())
	return pa
}

// diffLocked queues notifications for everything that changed since the
// last call.
func (c *Coordinator) diffLocked() {
	if current := c.machine.Current(); current != c.lastPhase {
		c.lastPhase = current
		c.events = append(c.events, func(n Notifier) { n.PhaseChanged(current) })
	}

	available, allocated := c.ledger.Available(), c.ledger.Allocated()
	if !available.Equal(c.lastAvailable) || !allocated.Equal(c.lastAllocated) {
		c.lastAvailable, c.lastAllocated = available, allocated
		c.events = append(c.events, func(n Notifier) { n.LedgerChanged(available, allocated) })
	}

	current := map[string]tallyView{}
	for _, voteID := range c.tally.Actions() {
		policy := c.policyLocked(voteID)
		if consensus.Gated(policy) {
			current[voteID] = tallyView{count: c.countLocked(voteID, policy), threshold: c.thresholdLocked(policy)}
		}
	}
	ids := slices.Sorted(maps.Keys(current))
	for voteID := range c.lastTally {
		if _, ok := current[voteID]; !ok {
			ids = append(ids, voteID)
		}
	}
	slices.Sort(ids)
	for _, voteID := range ids {
		view, ok := current[voteID]
		if !ok {
			view = tallyView{threshold: c.lastTally[voteID].threshold}
		}
		if last, seen := c.lastTally[voteID]; seen && last == view {
			continue
		}
		c.events = append(c.events, func(n Notifier) { n.TallyChanged(voteID, view.count, view.threshold) })
	}
	c.lastTally = current
}
