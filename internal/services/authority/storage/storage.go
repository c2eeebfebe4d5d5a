// Package storage defines persistence contracts for authority session state.
package storage

import (
	"context"
	"errors"

	"github.com/mughalz/investordefend/internal/services/authority/domain"
	"github.com/mughalz/investordefend/internal/services/shared/session"
)

var (
	// ErrNotFound indicates a requested session record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a session with the same ID is stored.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrVersionConflict indicates the stored session moved past the
	// version an update was computed from.
	ErrVersionConflict = errors.New("record version conflict")
)

// SessionStore persists authoritative session snapshots.
type SessionStore interface {
	CreateSession(ctx context.Context, s session.Session) error
	GetSession(ctx context.Context, sessionID string) (session.Session, error)
	// CommitSession replaces the stored session when its version still
	// equals expectedVersion. A non-nil outcome is recorded in the same
	// transaction.
	CommitSession(ctx context.Context, next session.Session, expectedVersion int64, outcome *domain.RoundOutcome) error
	ListSessionIDs(ctx context.Context) ([]string, error)
}

// OutcomeStore exposes recorded round outcomes.
type OutcomeStore interface {
	ListRoundOutcomes(ctx context.Context, sessionID string) ([]domain.RoundOutcome, error)
}
