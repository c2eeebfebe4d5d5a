// Package consensus decides when a gated action may proceed.
//
// Policies are stateless: they turn a participant count into a threshold
// and compare a vote count against it. Tally stores the votes. Neither
// knows about the other; the coordinator checks the policy after every
// tally change.
package consensus

import "github.com/mughalz/investordefend/internal/services/shared/session"

// Policy is a consensus rule.
type Policy interface {
	Name() string
	// Threshold returns the votes needed given the relevant participant
	// count: organisation members for Majority, other organisations for
	// Unanimous. None ignores it.
	Threshold(participantCount int) int
	IsSatisfied(voteCount, threshold int) bool
}

// None lets any single request through.
type None struct{}

func (None) Name() string { return "none" }

func (None) Threshold(int) int { return 1 }

func (None) IsSatisfied(voteCount, threshold int) bool { return voteCount >= threshold }

// Majority requires half of an organisation's members, rounded up.
type Majority struct{}

func (Majority) Name() string { return "majority" }

func (Majority) Threshold(memberCount int) int {
	return max((memberCount+1)/2, 1)
}

func (Majority) IsSatisfied(voteCount, threshold int) bool {
	return voteCount >= max(threshold, 1)
}

// Unanimous requires every other organisation to be ready. With no other
// organisations the threshold is zero and the caller's own readiness is
// enough.
type Unanimous struct{}

func (Unanimous) Name() string { return "unanimous" }

func (Unanimous) Threshold(otherOrganisations int) int {
	return max(otherOrganisations, 0)
}

func (Unanimous) IsSatisfied(readyOthers, threshold int) bool {
	return readyOthers >= threshold
}

// For returns the policy gating voteID in a session of the given mode. An
// empty voteID (an ungated action) always gets None.
func For(mode session.Mode, voteID string) Policy {
	if voteID == "" {
		return None{}
	}
	switch mode {
	case session.ModeCooperative:
		if session.IsVoteID(voteID) {
			return Majority{}
		}
	case session.ModeCompetitive:
		if voteID == session.VoteAdvanceRound {
			return Unanimous{}
		}
	}
	return None{}
}

// Gated reports whether p needs agreement beyond the caller.
func Gated(p Policy) bool {
	_, none := p.(None)
	return !none
}
