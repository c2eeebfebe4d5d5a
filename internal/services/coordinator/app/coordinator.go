// Package app hosts the session coordinator: the per-session orchestrator
// that validates participant actions, gates them on consensus, forwards
// them to the authority and reconciles authoritative snapshots.
//
// The coordinator binary hosts sessions passively: it keeps each one in
// sync and executes votes that passed, but it exposes no ingress of its
// own for participant actions. StageItem, UnstageItem, AdvanceRound,
// BindPlacement and CloseResults are an in-process API for the
// presentation layer that embeds a Coordinator.
package app

import (
	"context"
	"fmt"
	"log"
	"maps"
	"strings"
	"sync"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/services/coordinator/domain/consensus"
	"github.com/mughalz/investordefend/internal/services/coordinator/domain/ledger"
	"github.com/mughalz/investordefend/internal/services/coordinator/domain/phase"
	"github.com/mughalz/investordefend/internal/services/coordinator/metrics"
	"github.com/mughalz/investordefend/internal/services/shared/catalog"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	"github.com/shopspring/decimal"
)

// Authority is the authoritative session service.
type Authority interface {
	FetchSession(ctx context.Context, sessionID string) (session.Session, error)
	SubmitAction(ctx context.Context, sessionID string, action session.Action) (session.Session, error)
}

// Config wires a Coordinator.
type Config struct {
	SessionID     string
	ParticipantID string
	Authority     Authority
	Catalog       *catalog.Catalog
	Notifier      Notifier
	Metrics       *metrics.Metrics
	// Locale selects the language of ActionError messages.
	Locale string
	Logf   func(string, ...any)
}

// Coordinator owns the local view of one session for one participant.
// All state is guarded by mu; network calls never run with mu held.
type Coordinator struct {
	sessionID     string
	participantID string
	authority     Authority
	catalog       *catalog.Catalog
	notifier      Notifier
	metrics       *metrics.Metrics
	locale        string
	logf          func(string, ...any)

	mu       sync.Mutex
	loaded   bool
	snapshot session.Session
	orgID    string
	machine  *phase.Machine
	ledger   *ledger.Ledger
	tally    *consensus.Tally
	// unbound maps each placement-required staged item without a binding
	// to the target it needs.
	unbound map[string]string
	// passed holds gated actions whose threshold was met and that have not
	// been executed yet, keyed by vote ID.
	passed map[string]*passedAction
	// executed records round advances already submitted, keyed by round.
	executed map[int]struct{}

	events        []event
	lastPhase     session.Phase
	lastAvailable decimal.Decimal
	lastAllocated decimal.Decimal
	lastTally     map[string]tallyView
}

type passedAction struct {
	voteID   string
	action   session.Action
	phase    session.Phase
	round    int
	inflight bool
}

type tallyView struct {
	count     int
	threshold int
}

// LedgerView is a copy of the participant's round budget.
type LedgerView struct {
	Allowance decimal.Decimal
	Available decimal.Decimal
	Allocated decimal.Decimal
	Staged    []string
}

// New validates cfg. Call Load before any action.
func New(cfg Config) (*Coordinator, error) {
	sessionID := strings.TrimSpace(cfg.SessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	participantID := strings.TrimSpace(cfg.ParticipantID)
	if participantID == "" {
		return nil, fmt.Errorf("participant id is required")
	}
	if cfg.Authority == nil {
		return nil, fmt.Errorf("authority is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NotifierFuncs{}
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Coordinator{
		sessionID:     sessionID,
		participantID: participantID,
		authority:     cfg.Authority,
		catalog:       cfg.Catalog,
		notifier:      notifier,
		metrics:       cfg.Metrics,
		locale:        cfg.Locale,
		logf:          logf,
		tally:         consensus.NewTally(),
		unbound:       map[string]string{},
		passed:        map[string]*passedAction{},
		executed:      map[int]struct{}{},
		lastTally:     map[string]tallyView{},
	}, nil
}

// Load fetches the session and rebuilds all local state from it. It may be
// called again at any time to discard the local view.
func (c *Coordinator) Load(ctx context.Context) error {
	snap, err := c.authority.FetchSession(ctx, c.sessionID)
	if err != nil {
		err = syncError(err, "fetch session")
		c.mu.Lock()
		c.reportLocked(err)
		c.unlockAndDispatch()
		return err
	}

	c.mu.Lock()
	err = c.initLocked(snap)
	if err != nil {
		c.reportLocked(err)
	}
	c.unlockAndDispatch()
	return err
}

func (c *Coordinator) initLocked(snap session.Session) error {
	org, ok := snap.OrganisationOf(c.participantID)
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeUnauthorized,
			fmt.Sprintf("participant %s is not a member of session %s", c.participantID, snap.ID),
			map[string]string{"SessionID": snap.ID})
	}
	start := session.PhasePurchasing
	if snap.Phase == session.PhaseEnded {
		start = session.PhaseEnded
	}
	round := min(max(snap.Round, 1), max(snap.MaxRounds, 1))
	machine, err := phase.New(start, round, snap.MaxRounds)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSyncFailed, "session snapshot is malformed", err)
	}

	c.loaded = true
	c.snapshot = session.Session{}
	c.orgID = org.ID
	c.machine = machine
	c.ledger = ledger.New(snap.RoundAllowance)
	c.tally = consensus.NewTally()
	c.unbound = map[string]string{}
	c.passed = map[string]*passedAction{}
	c.executed = map[int]struct{}{}
	c.reconcileLocked(snap)
	return nil
}

// SessionID returns the coordinated session.
func (c *Coordinator) SessionID() string { return c.sessionID }

// ParticipantID returns the participant this coordinator acts for.
func (c *Coordinator) ParticipantID() string { return c.participantID }

// Phase returns the local phase, or "" before Load.
func (c *Coordinator) Phase() session.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return ""
	}
	return c.machine.Current()
}

// Round returns the local round, or 0 before Load.
func (c *Coordinator) Round() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return 0
	}
	return c.machine.Round()
}

// Ledger returns a copy of the round budget.
func (c *Coordinator) Ledger() LedgerView {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return LedgerView{}
	}
	return LedgerView{
		Allowance: c.ledger.Allowance(),
		Available: c.ledger.Available(),
		Allocated: c.ledger.Allocated(),
		Staged:    c.ledger.Staged(),
	}
}

// Tally returns the vote count and threshold for a gated action.
func (c *Coordinator) Tally(actionID string) (count, threshold int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return 0, 0
	}
	policy := c.policyLocked(actionID)
	return c.countLocked(actionID, policy), c.thresholdLocked(policy)
}

// PendingPlacements returns item → required target for unbound items.
func (c *Coordinator) PendingPlacements() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.unbound)
}

// Snapshot returns a copy of the last reconciled authoritative snapshot.
func (c *Coordinator) Snapshot() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

// RoundIncidents returns the incidents recorded against the participant's
// organisation in the round being reviewed.
func (c *Coordinator) RoundIncidents() []session.Incident {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return nil
	}
	org, ok := c.snapshot.OrganisationOf(c.participantID)
	if !ok {
		return nil
	}
	return org.IncidentsForRound(c.machine.Round())
}

// Finished reports whether the authority has ended the session and the
// final outcome has been reconciled. Nothing changes upstream after that,
// so the sync loop stops polling; CloseResults still works locally.
func (c *Coordinator) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded || c.snapshot.Phase != session.PhaseEnded {
		return false
	}
	current := c.machine.Current()
	return current == session.PhaseResults || current == session.PhaseEnded
}

func (c *Coordinator) requireLoadedLocked() error {
	if !c.loaded {
		return apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("session %s is not loaded", c.sessionID),
			map[string]string{"SessionID": c.sessionID})
	}
	return nil
}

func (c *Coordinator) policyLocked(voteID string) consensus.Policy {
	return consensus.For(c.snapshot.Mode, voteID)
}

// voterLocked is the identity recorded in the tally: the organisation for
// readiness, the participant otherwise.
func (c *Coordinator) voterLocked(policy consensus.Policy) string {
	if _, ok := policy.(consensus.Unanimous); ok {
		return c.orgID
	}
	return c.participantID
}

func (c *Coordinator) thresholdLocked(policy consensus.Policy) int {
	switch policy.(type) {
	case consensus.Majority:
		org, _ := c.snapshot.OrganisationOf(c.participantID)
		return policy.Threshold(len(org.Members))
	case consensus.Unanimous:
		return policy.Threshold(len(c.snapshot.Organisations) - 1)
	default:
		return policy.Threshold(1)
	}
}

func (c *Coordinator) countLocked(voteID string, policy consensus.Policy) int {
	if _, ok := policy.(consensus.Unanimous); ok {
		return c.tally.CountExcept(voteID, c.orgID)
	}
	return c.tally.Count(voteID)
}

func (c *Coordinator) satisfiedLocked(voteID string, policy consensus.Policy) bool {
	if _, ok := policy.(consensus.Unanimous); ok && !c.tally.Has(voteID, c.orgID) {
		return false
	}
	return policy.IsSatisfied(c.countLocked(voteID, policy), c.thresholdLocked(policy))
}

// reportLocked queues an ActionError notification for err.
func (c *Coordinator) reportLocked(err error) {
	code := apperrors.CodeOf(err)
	c.metrics.ActionError(string(code))
	message := apperrors.UserMessage(err, c.locale)
	c.events = append(c.events, func(n Notifier) { n.ActionError(code, message) })
}

// unlockAndDispatch releases mu and delivers the queued notifications.
func (c *Coordinator) unlockAndDispatch() {
	events := c.events
	c.events = nil
	c.mu.Unlock()
	for _, e := range events {
		e(c.notifier)
	}
}

func syncError(err error, op string) error {
	if apperrors.CodeOf(err) != apperrors.CodeUnknown {
		return err
	}
	return apperrors.Wrap(apperrors.CodeSyncFailed, op+": "+err.Error(), err)
}

func staleError(current session.Phase, round int) error {
	return apperrors.WithMetadata(apperrors.CodeStaleState,
		fmt.Sprintf("session moved to %s of round %d while the action was in flight", current, round),
		map[string]string{"Phase": string(current), "Round": fmt.Sprint(round)})
}
