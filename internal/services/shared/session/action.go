package session

import (
	"fmt"
	"strings"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
)

// ActionKind tags an Action payload.
type ActionKind string

const (
	ActionStageItem     ActionKind = "stage_item"
	ActionUnstageItem   ActionKind = "unstage_item"
	ActionAdvanceRound  ActionKind = "advance_round"
	ActionBindPlacement ActionKind = "bind_placement"
	ActionToggleVote    ActionKind = "toggle_vote"
	ActionSetReady      ActionKind = "set_ready"
)

// Vote action identifiers. Stage and unstage votes are scoped per item.
const (
	VoteAdvanceRound  = "advance-round"
	voteStagePrefix   = "stage:"
	voteUnstagePrefix = "unstage:"
)

// StageVoteID returns the vote identifier for staging itemID.
func StageVoteID(itemID string) string { return voteStagePrefix + itemID }

// UnstageVoteID returns the vote identifier for unstaging itemID.
func UnstageVoteID(itemID string) string { return voteUnstagePrefix + itemID }

// Action is the tagged union submitted to the authority. Only the fields
// relevant to Kind are set.
type Action struct {
	Kind     ActionKind `json:"kind"`
	ItemID   string     `json:"item_id,omitempty"`
	TargetID string     `json:"target_id,omitempty"`
	// Round is the round an AdvanceRound completes.
	Round int `json:"round,omitempty"`
	// VoteID and Cast describe a ToggleVote.
	VoteID string `json:"vote_id,omitempty"`
	Cast   bool   `json:"cast,omitempty"`
	// Ready describes a SetReady.
	Ready bool `json:"ready,omitempty"`
}

// StageItem builds a stage action.
func StageItem(itemID string) Action { return Action{Kind: ActionStageItem, ItemID: itemID} }

// UnstageItem builds an unstage action.
func UnstageItem(itemID string) Action { return Action{Kind: ActionUnstageItem, ItemID: itemID} }

// AdvanceRound builds an advance action for round.
func AdvanceRound(round int) Action { return Action{Kind: ActionAdvanceRound, Round: round} }

// BindPlacement builds a placement binding.
func BindPlacement(itemID, targetID string) Action {
	return Action{Kind: ActionBindPlacement, ItemID: itemID, TargetID: targetID}
}

// ToggleVote records (cast) or withdraws a vote for voteID.
func ToggleVote(voteID string, cast bool) Action {
	return Action{Kind: ActionToggleVote, VoteID: voteID, Cast: cast}
}

// SetReady marks the caller ready or not ready for the round advance.
func SetReady(ready bool) Action { return Action{Kind: ActionSetReady, Ready: ready} }

// GateID returns the vote identifier gating this action, or "" when the
// kind is never gated.
func (a Action) GateID() string {
	switch a.Kind {
	case ActionStageItem:
		return StageVoteID(a.ItemID)
	case ActionUnstageItem:
		return UnstageVoteID(a.ItemID)
	case ActionAdvanceRound:
		return VoteAdvanceRound
	}
	return ""
}

// Validate checks the payload shape for Kind.
func (a Action) Validate() error {
	invalid := func(reason string) error {
		return apperrors.WithMetadata(apperrors.CodeInvalidAction,
			fmt.Sprintf("invalid %s action: %s", a.Kind, reason),
			map[string]string{"Reason": reason})
	}
	switch a.Kind {
	case ActionStageItem, ActionUnstageItem:
		if strings.TrimSpace(a.ItemID) == "" {
			return invalid("item id is required")
		}
	case ActionBindPlacement:
		if strings.TrimSpace(a.ItemID) == "" {
			return invalid("item id is required")
		}
		if strings.TrimSpace(a.TargetID) == "" {
			return invalid("target id is required")
		}
	case ActionAdvanceRound:
		if a.Round <= 0 {
			return invalid("round must be positive")
		}
	case ActionToggleVote:
		if !IsVoteID(a.VoteID) {
			return invalid(fmt.Sprintf("unknown vote %q", a.VoteID))
		}
	case ActionSetReady:
	default:
		return invalid(fmt.Sprintf("unknown kind %q", a.Kind))
	}
	return nil
}

// IsVoteID reports whether id names a gated action.
func IsVoteID(id string) bool {
	switch {
	case id == VoteAdvanceRound:
		return true
	case strings.HasPrefix(id, voteStagePrefix):
		return len(id) > len(voteStagePrefix)
	case strings.HasPrefix(id, voteUnstagePrefix):
		return len(id) > len(voteUnstagePrefix)
	}
	return false
}

// ActionForVote returns the action a passed vote executes.
func ActionForVote(voteID string, round int) (Action, bool) {
	switch {
	case voteID == VoteAdvanceRound:
		return AdvanceRound(round), true
	case strings.HasPrefix(voteID, voteStagePrefix) && len(voteID) > len(voteStagePrefix):
		return StageItem(strings.TrimPrefix(voteID, voteStagePrefix)), true
	case strings.HasPrefix(voteID, voteUnstagePrefix) && len(voteID) > len(voteUnstagePrefix):
		return UnstageItem(strings.TrimPrefix(voteID, voteUnstagePrefix)), true
	}
	return Action{}, false
}
