package authorityv1

import (
	"testing"

	"github.com/mughalz/investordefend/internal/services/shared/session"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestSessionSurvivesTheWire(t *testing.T) {
	in := session.Session{
		ID:             "s1",
		Mode:           session.ModeCooperative,
		Phase:          session.PhasePurchasing,
		Round:          3,
		MaxRounds:      5,
		RoundAllowance: decimal.RequireFromString("1000.50"),
		Seed:           9007199254740993,
		Organisations: []session.Organisation{{
			ID:         "org-a",
			Balance:    decimal.RequireFromString("4200"),
			Members:    []string{"p1", "p2"},
			Staged:     []string{"firewall"},
			Placements: map[string]string{"firewall": "network"},
		}},
		Votes:          map[string][]string{session.VoteAdvanceRound: {"p1"}},
		CompletedRound: 2,
		Version:        17,
	}
	encoded, err := EncodeSession(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeSession(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := encoded.GetFields()["seed"]; ok {
		t.Fatalf("encoded snapshot carries the simulation seed: %v", encoded.GetFields()["seed"])
	}
	if out.Seed != 0 {
		t.Fatalf("seed = %d, want 0 on the wire", out.Seed)
	}
	if !out.RoundAllowance.Equal(in.RoundAllowance) {
		t.Fatalf("allowance = %s, want %s", out.RoundAllowance, in.RoundAllowance)
	}
	if out.Round != 3 || out.Version != 17 || out.CompletedRound != 2 {
		t.Fatalf("round/version/completed = %d/%d/%d, want 3/17/2", out.Round, out.Version, out.CompletedRound)
	}
	if out.Organisations[0].Placements["firewall"] != "network" {
		t.Fatalf("placements = %v", out.Organisations[0].Placements)
	}
	if voters := out.Votes[session.VoteAdvanceRound]; len(voters) != 1 || voters[0] != "p1" {
		t.Fatalf("votes = %v", out.Votes)
	}
}

func TestSubmitActionRequest(t *testing.T) {
	req, err := NewSubmitActionRequest("s1", session.ToggleVote(session.StageVoteID("edr"), true))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	id, action, err := ParseSubmitActionRequest(req)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	if id != "s1" {
		t.Fatalf("session id = %q, want s1", id)
	}
	if action.Kind != session.ActionToggleVote || action.VoteID != "stage:edr" || !action.Cast {
		t.Fatalf("action = %+v", action)
	}
}

func TestRequestsRequireFields(t *testing.T) {
	if _, err := ParseFetchSessionRequest(&structpb.Struct{}); err == nil {
		t.Fatal("expected missing session id error")
	}
	if _, _, err := ParseSubmitActionRequest(NewFetchSessionRequest("s1")); err == nil {
		t.Fatal("expected missing action error")
	}
	id, err := ParseFetchSessionRequest(NewFetchSessionRequest(" s1 "))
	if err != nil || id != "s1" {
		t.Fatalf("session id = %q, %v; want s1", id, err)
	}
}
