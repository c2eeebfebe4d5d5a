package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mughalz/investordefend/internal/platform/random"
	"github.com/mughalz/investordefend/internal/services/authority/storage"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type fixtureFile struct {
	Sessions []fixtureSession `yaml:"sessions"`
}

type fixtureSession struct {
	ID              string                `yaml:"id"`
	Mode            string                `yaml:"mode"`
	MaxRounds       int                   `yaml:"max_rounds"`
	RoundAllowance  string                `yaml:"round_allowance"`
	StartingBalance string                `yaml:"starting_balance"`
	Seed            int64                 `yaml:"seed"`
	Organisations   []fixtureOrganisation `yaml:"organisations"`
}

type fixtureOrganisation struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

// LoadFixtures reads session fixtures from a YAML file.
func LoadFixtures(path string) ([]session.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures validates YAML fixtures and builds the opening snapshot of
// each session. Sessions without a seed get a random one.
func ParseFixtures(data []byte) ([]session.Session, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	seen := map[string]struct{}{}
	out := make([]session.Session, 0, len(file.Sessions))
	for _, fs := range file.Sessions {
		s, err := fs.build()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("fixture %s: duplicate session id", s.ID)
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

func (fs fixtureSession) build() (session.Session, error) {
	id := strings.TrimSpace(fs.ID)
	if id == "" {
		return session.Session{}, errors.New("fixture session id is required")
	}
	fail := func(format string, args ...any) (session.Session, error) {
		return session.Session{}, fmt.Errorf("fixture %s: "+format, append([]any{id}, args...)...)
	}

	mode := session.Mode(strings.TrimSpace(fs.Mode))
	if !mode.Valid() {
		return fail("unknown mode %q", fs.Mode)
	}
	if fs.MaxRounds <= 0 {
		return fail("max_rounds must be positive")
	}
	allowance, err := decimal.NewFromString(fs.RoundAllowance)
	if err != nil || allowance.IsNegative() {
		return fail("round_allowance %q is not a non-negative amount", fs.RoundAllowance)
	}
	balance := allowance
	if fs.StartingBalance != "" {
		if balance, err = decimal.NewFromString(fs.StartingBalance); err != nil {
			return fail("starting_balance: %v", err)
		}
	}

	seed := fs.Seed
	if seed == 0 {
		if seed, err = random.NewSeed(); err != nil {
			return fail("%v", err)
		}
	}

	s := session.Session{
		ID:             id,
		Mode:           mode,
		Phase:          session.PhasePurchasing,
		Round:          1,
		MaxRounds:      fs.MaxRounds,
		RoundAllowance: allowance,
		Seed:           seed,
		Version:        1,
	}
	members := map[string]struct{}{}
	orgIDs := map[string]struct{}{}
	for _, fo := range fs.Organisations {
		orgID := strings.TrimSpace(fo.ID)
		if orgID == "" {
			return fail("organisation id is required")
		}
		if _, dup := orgIDs[orgID]; dup {
			return fail("duplicate organisation %s", orgID)
		}
		orgIDs[orgID] = struct{}{}
		if len(fo.Members) == 0 {
			return fail("organisation %s has no members", orgID)
		}
		org := session.Organisation{ID: orgID, Name: fo.Name, Balance: balance}
		for _, member := range fo.Members {
			member = strings.TrimSpace(member)
			if member == "" {
				return fail("organisation %s has an empty member", orgID)
			}
			if _, dup := members[member]; dup {
				return fail("participant %s belongs to more than one organisation", member)
			}
			members[member] = struct{}{}
			org.Members = append(org.Members, member)
		}
		s.Organisations = append(s.Organisations, org)
	}

	switch mode {
	case session.ModeSingle:
		if len(s.Organisations) != 1 || len(members) != 1 {
			return fail("single mode needs one organisation with one member")
		}
	case session.ModeCooperative:
		if len(s.Organisations) != 1 {
			return fail("cooperative mode needs exactly one organisation")
		}
	case session.ModeCompetitive:
		if len(s.Organisations) < 2 || len(members) != len(s.Organisations) {
			return fail("competitive mode needs two or more organisations of one member each")
		}
	}
	return s, nil
}

// SeedSessions stores every fixture that is not stored yet. Existing
// sessions keep their progress.
func SeedSessions(ctx context.Context, store storage.SessionStore, sessions []session.Session, logf func(string, ...any)) error {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	for _, s := range sessions {
		err := store.CreateSession(ctx, s)
		switch {
		case err == nil:
			logf("seeded session %s (%s, %d organisations)", s.ID, s.Mode, len(s.Organisations))
		case errors.Is(err, storage.ErrAlreadyExists):
			logf("session %s already stored; keeping it", s.ID)
		default:
			return fmt.Errorf("seed session %s: %w", s.ID, err)
		}
	}
	return nil
}
