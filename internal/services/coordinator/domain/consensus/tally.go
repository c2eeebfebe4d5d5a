package consensus

import (
	"slices"
	"sort"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
)

// Outcome is the effect of a Toggle.
type Outcome int

const (
	Cast Outcome = iota + 1
	Revoked
)

func (o Outcome) String() string {
	switch o {
	case Cast:
		return "cast"
	case Revoked:
		return "revoked"
	}
	return "unknown"
}

// Tally holds per-action voter sets. An action with no voters has no record.
// Locked actions have passed and their votes can no longer be revoked.
// Tally is not safe for concurrent use.
type Tally struct {
	votes  map[string][]string
	locked map[string]struct{}
}

// NewTally returns an empty tally.
func NewTally() *Tally {
	return &Tally{
		votes:  map[string][]string{},
		locked: map[string]struct{}{},
	}
}

// Toggle casts voterID's vote for actionID, or revokes it if already cast.
// Revoking a locked action fails with VOTE_LOCKED.
func (t *Tally) Toggle(actionID, voterID string) (Outcome, error) {
	if t.Has(actionID, voterID) {
		if t.Locked(actionID) {
			return 0, apperrors.WithMetadata(apperrors.CodeVoteLocked,
				"vote for "+actionID+" already passed",
				map[string]string{"Action": actionID})
		}
		t.remove(actionID, voterID)
		return Revoked, nil
	}
	t.votes[actionID] = append(t.votes[actionID], voterID)
	return Cast, nil
}

// Set casts or withdraws voterID's vote idempotently.
func (t *Tally) Set(actionID, voterID string, cast bool) error {
	if t.Has(actionID, voterID) == cast {
		return nil
	}
	_, err := t.Toggle(actionID, voterID)
	return err
}

// Count returns the number of voters for actionID.
func (t *Tally) Count(actionID string) int {
	return len(t.votes[actionID])
}

// CountExcept returns the number of voters for actionID other than voterID.
func (t *Tally) CountExcept(actionID, voterID string) int {
	n := t.Count(actionID)
	if t.Has(actionID, voterID) {
		n--
	}
	return n
}

// Has reports whether voterID has voted for actionID.
func (t *Tally) Has(actionID, voterID string) bool {
	return slices.Contains(t.votes[actionID], voterID)
}

// Voters returns the voters for actionID in casting order.
func (t *Tally) Voters(actionID string) []string {
	return slices.Clone(t.votes[actionID])
}

// Actions returns the actions that have at least one vote, sorted.
func (t *Tally) Actions() []string {
	out := make([]string, 0, len(t.votes))
	for action := range t.votes {
		out = append(out, action)
	}
	sort.Strings(out)
	return out
}

// Lock marks actionID as passed.
func (t *Tally) Lock(actionID string) { t.locked[actionID] = struct{}{} }

// Release undoes Lock, used when executing a passed action fails.
func (t *Tally) Release(actionID string) { delete(t.locked, actionID) }

// Locked reports whether actionID has passed.
func (t *Tally) Locked(actionID string) bool {
	_, ok := t.locked[actionID]
	return ok
}

// Clear empties one action's record and lock.
func (t *Tally) Clear(actionID string) {
	delete(t.votes, actionID)
	delete(t.locked, actionID)
}

// ClearAll empties every record and lock.
func (t *Tally) ClearAll() {
	clear(t.votes)
	clear(t.locked)
}

// Replace swaps the records for an authoritative copy. Locks survive so an
// action in flight stays irrevocable.
func (t *Tally) Replace(votes map[string][]string) {
	clear(t.votes)
	for action, voters := range votes {
		seen := make([]string, 0, len(voters))
		for _, voter := range voters {
			if !slices.Contains(seen, voter) {
				seen = append(seen, voter)
			}
		}
		if len(seen) > 0 {
			t.votes[action] = seen
		}
	}
}

func (t *Tally) remove(actionID, voterID string) {
	voters := slices.DeleteFunc(t.votes[actionID], func(v string) bool { return v == voterID })
	if len(voters) == 0 {
		delete(t.votes, actionID)
		return
	}
	t.votes[actionID] = voters
}
