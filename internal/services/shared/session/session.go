package session

import (
	"slices"
	"sort"

	"github.com/shopspring/decimal"
)

// Phase is one step of a session round.
type Phase string

const (
	PhasePurchasing Phase = "purchasing"
	PhasePlacing    Phase = "placing"
	PhaseSimulating Phase = "simulating"
	PhaseResults    Phase = "results"
	PhaseEnded      Phase = "ended"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePurchasing, PhasePlacing, PhaseSimulating, PhaseResults, PhaseEnded:
		return true
	}
	return false
}

// Mode selects how participants share decisions.
type Mode string

const (
	// ModeSingle has one participant acting for one organisation.
	ModeSingle Mode = "single"
	// ModeCooperative has several participants sharing one organisation.
	ModeCooperative Mode = "cooperative"
	// ModeCompetitive has one organisation per participant.
	ModeCompetitive Mode = "competitive"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSingle, ModeCooperative, ModeCompetitive:
		return true
	}
	return false
}

// Incident is one simulated attack outcome recorded against an organisation.
type Incident struct {
	Round       int             `json:"round"`
	ThreatActor string          `json:"threat_actor"`
	Description string          `json:"description"`
	Loss        decimal.Decimal `json:"loss"`
	Blocked     bool            `json:"blocked,omitempty"`
}

// Organisation is an allocation unit.
type Organisation struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Balance     decimal.Decimal `json:"balance"`
	Incidents   []Incident      `json:"incidents,omitempty"`
	Mitigations []string        `json:"mitigations,omitempty"`
	Members     []string        `json:"members"`
	// Staged holds catalogue item IDs awaiting implementation this round.
	Staged []string `json:"staged,omitempty"`
	// Placements maps a staged item to the target it was bound to.
	Placements map[string]string `json:"placements,omitempty"`
	// Suppressed lists threat actors that can no longer reach this organisation.
	Suppressed []string `json:"suppressed,omitempty"`
	// LossReduction is the percentage shaved off every future incident loss.
	LossReduction decimal.Decimal `json:"loss_reduction"`
}

// HasMember reports whether participantID belongs to the organisation.
func (o Organisation) HasMember(participantID string) bool {
	return slices.Contains(o.Members, participantID)
}

// IsStaged reports whether itemID is staged this round.
func (o Organisation) IsStaged(itemID string) bool {
	return slices.Contains(o.Staged, itemID)
}

// IncidentsForRound returns the incidents recorded in round.
func (o Organisation) IncidentsForRound(round int) []Incident {
	var out []Incident
	for _, incident := range o.Incidents {
		if incident.Round == round {
			out = append(out, incident)
		}
	}
	return out
}

// Session is the authoritative record of one game. Seed drives the outcome
// simulator; the authority stores it and never sends it to participants.
type Session struct {
	ID             string          `json:"id"`
	Mode           Mode            `json:"mode"`
	Phase          Phase           `json:"phase"`
	Round          int             `json:"round"`
	MaxRounds      int             `json:"max_rounds"`
	RoundAllowance decimal.Decimal `json:"round_allowance"`
	Seed           int64           `json:"seed,string,omitempty"`
	Organisations  []Organisation  `json:"organisations"`
	// Votes maps a gated action ID to the participants voting for it.
	Votes map[string][]string `json:"votes,omitempty"`
	// Ready lists participants that finished the current round.
	Ready []string `json:"ready,omitempty"`
	// CompletedRound is the last round whose outcome has been simulated.
	CompletedRound int   `json:"completed_round"`
	Version        int64 `json:"version"`
}

// Membership returns participant ID → organisation ID.
func (s Session) Membership() map[string]string {
	out := make(map[string]string)
	for _, org := range s.Organisations {
		for _, member := range org.Members {
			out[member] = org.ID
		}
	}
	return out
}

// OrganisationOf returns the organisation participantID belongs to.
func (s Session) OrganisationOf(participantID string) (Organisation, bool) {
	for _, org := range s.Organisations {
		if org.HasMember(participantID) {
			return org, true
		}
	}
	return Organisation{}, false
}

// OrganisationIndex returns the slice index of orgID, or -1.
func (s Session) OrganisationIndex(orgID string) int {
	for i, org := range s.Organisations {
		if org.ID == orgID {
			return i
		}
	}
	return -1
}

// ReadyOrganisations returns the sorted IDs of organisations with at least
// one ready member.
func (s Session) ReadyOrganisations() []string {
	membership := s.Membership()
	seen := map[string]struct{}{}
	for _, participant := range s.Ready {
		if orgID, ok := membership[participant]; ok {
			seen[orgID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for orgID := range seen {
		out = append(out, orgID)
	}
	sort.Strings(out)
	return out
}

// IsReady reports whether participantID is in the ready set.
func (s Session) IsReady(participantID string) bool {
	return slices.Contains(s.Ready, participantID)
}

// Clone returns a deep copy so cached snapshots never alias the source.
func (s Session) Clone() Session {
	out := s
	out.Organisations = make([]Organisation, len(s.Organisations))
	for i, org := range s.Organisations {
		out.Organisations[i] = org.clone()
	}
	if s.Votes != nil {
		out.Votes = make(map[string][]string, len(s.Votes))
		for action, voters := range s.Votes {
			out.Votes[action] = slices.Clone(voters)
		}
	}
	out.Ready = slices.Clone(s.Ready)
	return out
}

func (o Organisation) clone() Organisation {
	out := o
	out.Incidents = slices.Clone(o.Incidents)
	out.Mitigations = slices.Clone(o.Mitigations)
	out.Members = slices.Clone(o.Members)
	out.Staged = slices.Clone(o.Staged)
	out.Suppressed = slices.Clone(o.Suppressed)
	if o.Placements != nil {
		out.Placements = make(map[string]string, len(o.Placements))
		for item, target := range o.Placements {
			out.Placements[item] = target
		}
	}
	return out
}
