package app

import (
	"context"
	"slices"
	"sync"
	"testing"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/services/shared/catalog"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	"github.com/shopspring/decimal"
)

const testCatalogYAML = `
targets:
  - id: network
    name: Network
  - id: endpoint
    name: Endpoint
items:
  - id: siem
    name: SIEM
    cost: "400"
  - id: soc
    name: Managed SOC
    cost: "700"
  - id: training
    name: Training
    cost: "150"
  - id: firewall
    name: Firewall
    cost: "300"
    requires_placement: true
    target: network
threat_actors:
  - id: phisher
    name: Phisher
    likelihood: "0.5"
    min_loss: "100"
    max_loss: "200"
`

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return cat
}

// backend is an in-memory authority shared by every participant view.
type backend struct {
	mu        sync.Mutex
	snap      session.Session
	submitted []session.Action
	fetchErr  error
	submitErr error
	// onSubmit runs before an action is applied, outside the backend lock.
	onSubmit func(participantID string, action session.Action)
}

func newBackend(snap session.Session) *backend {
	return &backend{snap: snap}
}

// as returns the authority view of participantID.
func (b *backend) as(participantID string) Authority {
	return participantAuthority{backend: b, participantID: participantID}
}

func (b *backend) current() session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap.Clone()
}

func (b *backend) count(kind session.ActionKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, action := range b.submitted {
		if action.Kind == kind {
			n++
		}
	}
	return n
}

func (b *backend) setReady(participantID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.snap.Ready, participantID) {
		b.snap.Ready = append(b.snap.Ready, participantID)
	}
	b.snap.Version++
}

func (b *backend) apply(participantID string, action session.Action) error {
	s := &b.snap
	idx := -1
	for i, org := range s.Organisations {
		if org.HasMember(participantID) {
			idx = i
		}
	}
	if idx < 0 {
		return apperrors.New(apperrors.CodeUnauthorized, "not a member")
	}
	org := &s.Organisations[idx]

	switch action.Kind {
	case session.ActionStageItem:
		if org.IsStaged(action.ItemID) {
			return apperrors.New(apperrors.CodeAlreadyStaged, "already staged")
		}
		org.Staged = append(org.Staged, action.ItemID)
		delete(s.Votes, session.StageVoteID(action.ItemID))
	case session.ActionUnstageItem:
		if !org.IsStaged(action.ItemID) {
			return apperrors.New(apperrors.CodeNotStaged, "not staged")
		}
		org.Staged = slices.DeleteFunc(org.Staged, func(id string) bool { return id == action.ItemID })
		delete(s.Votes, session.UnstageVoteID(action.ItemID))
	case session.ActionBindPlacement:
		if org.Placements == nil {
			org.Placements = map[string]string{}
		}
		org.Placements[action.ItemID] = action.TargetID
	case session.ActionToggleVote:
		if s.Votes == nil {
			s.Votes = map[string][]string{}
		}
		voters := slices.DeleteFunc(s.Votes[action.VoteID], func(id string) bool { return id == participantID })
		if action.Cast {
			voters = append(voters, participantID)
		}
		s.Votes[action.VoteID] = voters
	case session.ActionSetReady:
		s.Ready = slices.DeleteFunc(s.Ready, func(id string) bool { return id == participantID })
		if action.Ready {
			s.Ready = append(s.Ready, participantID)
		}
	case session.ActionAdvanceRound:
		if action.Round != s.Round || s.Phase != session.PhasePurchasing {
			return apperrors.New(apperrors.CodeConflict, "round already advanced")
		}
		for i := range s.Organisations {
			o := &s.Organisations[i]
			o.Mitigations = append(o.Mitigations, o.Staged...)
			o.Staged = nil
			o.Placements = nil
			o.Incidents = append(o.Incidents, session.Incident{Round: s.Round, ThreatActor: "phisher", Loss: dec("100")})
		}
		s.Votes = nil
		s.Ready = nil
		s.CompletedRound = s.Round
		if s.Round < s.MaxRounds {
			s.Round++
		} else {
			s.Phase = session.PhaseEnded
		}
	}
	s.Version++
	return nil
}

type participantAuthority struct {
	backend       *backend
	participantID string
}

func (a participantAuthority) FetchSession(ctx context.Context, _ string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	a.backend.mu.Lock()
	defer a.backend.mu.Unlock()
	if a.backend.fetchErr != nil {
		return session.Session{}, a.backend.fetchErr
	}
	return a.backend.snap.Clone(), nil
}

func (a participantAuthority) SubmitAction(_ context.Context, _ string, action session.Action) (session.Session, error) {
	a.backend.mu.Lock()
	hook := a.backend.onSubmit
	a.backend.mu.Unlock()
	if hook != nil {
		hook(a.participantID, action)
	}

	a.backend.mu.Lock()
	defer a.backend.mu.Unlock()
	if a.backend.submitErr != nil {
		return session.Session{}, a.backend.submitErr
	}
	a.backend.submitted = append(a.backend.submitted, action)
	if err := a.backend.apply(a.participantID, action); err != nil {
		return session.Session{}, err
	}
	return a.backend.snap.Clone(), nil
}

type recorder struct {
	mu     sync.Mutex
	phases []session.Phase
	ledger [][2]string
	tally  map[string][2]int
	errors []apperrors.Code
	msgs   []string
}

func newRecorder() *recorder {
	return &recorder{tally: map[string][2]int{}}
}

func (r *recorder) PhaseChanged(p session.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, p)
}

func (r *recorder) TallyChanged(actionID string, count, threshold int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tally[actionID] = [2]int{count, threshold}
}

func (r *recorder) LedgerChanged(available, allocated decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger = append(r.ledger, [2]string{available.String(), allocated.String()})
}

func (r *recorder) ActionError(code apperrors.Code, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, code)
	r.msgs = append(r.msgs, message)
}

func (r *recorder) lastError() (apperrors.Code, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) == 0 {
		return "", ""
	}
	return r.errors[len(r.errors)-1], r.msgs[len(r.msgs)-1]
}

func organisation(id string, members ...string) session.Organisation {
	return session.Organisation{ID: id, Name: id, Balance: dec("5000"), Members: members}
}

func newSession(mode session.Mode, orgs ...session.Organisation) session.Session {
	return session.Session{
		ID:             "s1",
		Mode:           mode,
		Phase:          session.PhasePurchasing,
		Round:          1,
		MaxRounds:      2,
		RoundAllowance: dec("1000"),
		Organisations:  orgs,
		Version:        1,
	}
}

func loaded(t *testing.T, b *backend, participantID string, n Notifier) *Coordinator {
	t.Helper()
	c, err := New(Config{
		SessionID:     "s1",
		ParticipantID: participantID,
		Authority:     b.as(participantID),
		Catalog:       testCatalog(t),
		Notifier:      n,
		Logf:          t.Logf,
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return c
}

func pollOnce(t *testing.T, c *Coordinator, b *backend) {
	t.Helper()
	c.ApplySnapshot(b.current())
	if err := c.ExecutePassed(context.Background()); err != nil {
		t.Fatalf("execute passed: %v", err)
	}
}
