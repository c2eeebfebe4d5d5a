package domain

import (
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
  - id: mail-filter
    name: Mail filter
    cost: "200"
  - id: firewall
    name: Firewall
    cost: "300"
    requires_placement: true
    target: network
  - id: insurance
    name: Cyber insurance
    cost: "100"
    effects:
      - kind: reduce_loss
        percent: "50"
  - id: soc
    name: Managed SOC
    cost: "900"
threat_actors:
  - id: phisher
    name: Phisher
    likelihood: "1"
    min_loss: "100"
    max_loss: "100"
    blocked_by: [mail-filter]
  - id: ghost
    name: Ghost
    likelihood: "0"
    min_loss: "1000"
    max_loss: "1000"
`

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newEngine(t *testing.T) *Engine {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	engine, err := NewEngine(cat)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func newSession(mode session.Mode, orgs ...session.Organisation) session.Session {
	for i := range orgs {
		orgs[i].Balance = dec("1000")
	}
	return session.Session{
		ID:             "s1",
		Mode:           mode,
		Phase:          session.PhasePurchasing,
		Round:          1,
		MaxRounds:      2,
		RoundAllowance: dec("1000"),
		Seed:           7,
		Organisations:  orgs,
		Version:        1,
	}
}

func single() session.Session {
	return newSession(session.ModeSingle, session.Organisation{ID: "org-1", Members: []string{"p1"}})
}

func apply(t *testing.T, e *Engine, s session.Session, participant string, actions ...session.Action) session.Session {
	t.Helper()
	for _, action := range actions {
		result, err := e.Apply(s, participant, action)
		if err != nil {
			t.Fatalf("apply %s: %v", action.Kind, err)
		}
		s = result.Session
	}
	return s
}

func wantCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	if got := apperrors.CodeOf(err); got != code {
		t.Fatalf("code = %q, want %q (err %v)", got, code, err)
	}
}

func TestApplyStageChecksAllowance(t *testing.T) {
	engine := newEngine(t)
	s := apply(t, engine, single(), "p1", session.StageItem("soc"))

	if got := s.Organisations[0].Staged; len(got) != 1 || got[0] != "soc" {
		t.Fatalf("staged = %v, want [soc]", got)
	}
	if s.Version != 2 {
		t.Fatalf("version = %d, want 2", s.Version)
	}

	_, err := engine.Apply(s, "p1", session.StageItem("mail-filter"))
	wantCode(t, err, apperrors.CodeInsufficientFunds)
	_, err = engine.Apply(s, "p1", session.StageItem("soc"))
	wantCode(t, err, apperrors.CodeAlreadyStaged)
	_, err = engine.Apply(s, "p1", session.StageItem("unknown"))
	wantCode(t, err, apperrors.CodeNotFound)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	engine := newEngine(t)
	s := single()
	if _, err := engine.Apply(s, "p1", session.StageItem("mail-filter")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(s.Organisations[0].Staged) != 0 || s.Version != 1 {
		t.Fatalf("input mutated: staged %v version %d", s.Organisations[0].Staged, s.Version)
	}
}

func TestApplyRejectsOutsiders(t *testing.T) {
	engine := newEngine(t)
	_, err := engine.Apply(single(), "intruder", session.StageItem("soc"))
	wantCode(t, err, apperrors.CodeUnauthorized)

	ended := single()
	ended.Phase = session.PhaseEnded
	_, err = engine.Apply(ended, "p1", session.StageItem("soc"))
	wantCode(t, err, apperrors.CodeWrongPhase)

	_, err = engine.Apply(single(), "p1", session.Action{Kind: "launch"})
	wantCode(t, err, apperrors.CodeInvalidAction)
}

func TestUnstageRemovesPlacement(t *testing.T) {
	engine := newEngine(t)
	s := apply(t, engine, single(), "p1",
		session.StageItem("firewall"),
		session.BindPlacement("firewall", "network"),
		session.UnstageItem("firewall"),
	)
	org := s.Organisations[0]
	if len(org.Staged) != 0 || len(org.Placements) != 0 {
		t.Fatalf("org = staged %v placements %v, want empty", org.Staged, org.Placements)
	}
	_, err := engine.Apply(s, "p1", session.UnstageItem("firewall"))
	wantCode(t, err, apperrors.CodeNotStaged)
}

func TestBindPlacement(t *testing.T) {
	engine := newEngine(t)
	s := apply(t, engine, single(), "p1", session.StageItem("firewall"), session.StageItem("mail-filter"))

	_, err := engine.Apply(s, "p1", session.BindPlacement("firewall", "endpoint"))
	wantCode(t, err, apperrors.CodePlacementMismatch)
	_, err = engine.Apply(s, "p1", session.BindPlacement("firewall", "cloud"))
	wantCode(t, err, apperrors.CodeNotFound)
	_, err = engine.Apply(s, "p1", session.BindPlacement("mail-filter", "network"))
	wantCode(t, err, apperrors.CodeNotFound)

	_, err = engine.Apply(s, "p1", session.AdvanceRound(1))
	wantCode(t, err, apperrors.CodeInvalidTransition)

	s = apply(t, engine, s, "p1", session.BindPlacement("firewall", "network"), session.AdvanceRound(1))
	if got := s.Organisations[0].Mitigations; len(got) != 2 {
		t.Fatalf("mitigations = %v, want firewall and mail-filter", got)
	}
}

func TestAdvanceImplementsAndSimulates(t *testing.T) {
	engine := newEngine(t)
	s := apply(t, engine, single(), "p1", session.StageItem("mail-filter"))

	result, err := engine.Apply(s, "p1", session.AdvanceRound(1))
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	next := result.Session
	org := next.Organisations[0]
	if !org.Balance.Equal(dec("800")) {
		t.Fatalf("balance = %s, want 800", org.Balance)
	}
	if next.Round != 2 || next.CompletedRound != 1 || next.Phase != session.PhasePurchasing {
		t.Fatalf("round %d completed %d phase %s, want 2 1 purchasing", next.Round, next.CompletedRound, next.Phase)
	}
	if len(org.Staged) != 0 {
		t.Fatalf("staged = %v, want cleared", org.Staged)
	}
	incidents := org.IncidentsForRound(1)
	if len(incidents) != 1 || !incidents[0].Blocked || !incidents[0].Loss.IsZero() {
		t.Fatalf("incidents = %+v, want one blocked phisher", incidents)
	}
	if result.Outcome == nil || result.Outcome.Round != 1 {
		t.Fatalf("outcome = %+v, want round 1", result.Outcome)
	}

	// Round two has no mail filter bought this round but the mitigation
	// persists, so the phisher stays blocked until the session ends.
	final := apply(t, engine, next, "p1", session.AdvanceRound(2))
	if final.Phase != session.PhaseEnded || final.Round != 2 || final.CompletedRound != 2 {
		t.Fatalf("final = phase %s round %d completed %d, want ended 2 2", final.Phase, final.Round, final.CompletedRound)
	}
	_, err = engine.Apply(final, "p1", session.AdvanceRound(2))
	wantCode(t, err, apperrors.CodeWrongPhase)
}

func TestAdvanceChargesLosses(t *testing.T) {
	engine := newEngine(t)
	s := apply(t, engine, single(), "p1", session.AdvanceRound(1))
	if got := s.Organisations[0].Balance; !got.Equal(dec("900")) {
		t.Fatalf("balance = %s, want 900", got)
	}

	insured := apply(t, engine, single(), "p1", session.StageItem("insurance"), session.AdvanceRound(1))
	// 1000 - 100 insurance - 50 halved loss
	if got := insured.Organisations[0].Balance; !got.Equal(dec("850")) {
		t.Fatalf("insured balance = %s, want 850", got)
	}
}

func TestAdvanceRejectsOtherRound(t *testing.T) {
	engine := newEngine(t)
	_, err := engine.Apply(single(), "p1", session.AdvanceRound(2))
	wantCode(t, err, apperrors.CodeConflict)
}

func TestCooperativeAdvanceNeedsMajority(t *testing.T) {
	engine := newEngine(t)
	s := newSession(session.ModeCooperative, session.Organisation{ID: "org-1", Members: []string{"a", "b", "c"}})

	_, err := engine.Apply(s, "a", session.AdvanceRound(1))
	wantCode(t, err, apperrors.CodeInvalidTransition)

	s = apply(t, engine, s, "a", session.ToggleVote(session.VoteAdvanceRound, true))
	s = apply(t, engine, s, "b", session.ToggleVote(session.VoteAdvanceRound, true))
	s = apply(t, engine, s, "b", session.ToggleVote(session.VoteAdvanceRound, false))
	if got := s.Votes[session.VoteAdvanceRound]; len(got) != 1 {
		t.Fatalf("votes = %v, want [a]", got)
	}
	_, err = engine.Apply(s, "a", session.AdvanceRound(1))
	wantCode(t, err, apperrors.CodeInvalidTransition)

	s = apply(t, engine, s, "c", session.ToggleVote(session.VoteAdvanceRound, true))
	s = apply(t, engine, s, "c", session.AdvanceRound(1))
	if s.Round != 2 || len(s.Votes) != 0 {
		t.Fatalf("round %d votes %v, want 2 and cleared", s.Round, s.Votes)
	}
}

func TestStageClearsItemVote(t *testing.T) {
	engine := newEngine(t)
	s := newSession(session.ModeCooperative, session.Organisation{ID: "org-1", Members: []string{"a", "b"}})
	s = apply(t, engine, s, "a",
		session.ToggleVote(session.StageVoteID("soc"), true),
		session.StageItem("soc"),
	)
	if _, ok := s.Votes[session.StageVoteID("soc")]; ok {
		t.Fatalf("votes = %v, want stage vote cleared", s.Votes)
	}
}

func TestCompetitiveAdvanceNeedsEveryOrganisation(t *testing.T) {
	engine := newEngine(t)
	s := newSession(session.ModeCompetitive,
		session.Organisation{ID: "org-1", Members: []string{"a"}},
		session.Organisation{ID: "org-2", Members: []string{"b"}},
	)
	s = apply(t, engine, s, "a", session.SetReady(true))
	_, err := engine.Apply(s, "a", session.AdvanceRound(1))
	wantCode(t, err, apperrors.CodeInvalidTransition)

	s = apply(t, engine, s, "b", session.SetReady(true))
	s = apply(t, engine, s, "b", session.AdvanceRound(1))
	if s.Round != 2 || len(s.Ready) != 0 {
		t.Fatalf("round %d ready %v, want 2 and cleared", s.Round, s.Ready)
	}
	for _, org := range s.Organisations {
		if !org.Balance.Equal(dec("900")) {
			t.Fatalf("%s balance = %s, want 900", org.ID, org.Balance)
		}
	}
}
