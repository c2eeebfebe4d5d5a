// Package authority serves the authority gRPC API: participants fetch the
// session snapshot and submit actions against it.
package authority

import (
	"context"
	"errors"
	"fmt"
	"log"

	authorityv1 "github.com/mughalz/investordefend/api/authority/v1"
	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/services/authority/domain"
	"github.com/mughalz/investordefend/internal/services/authority/storage"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultCommitAttempts = 5

// Service exposes authority.v1 operations.
type Service struct {
	store    storage.SessionStore
	engine   *domain.Engine
	locale   string
	attempts int
	logf     func(string, ...any)
}

// Option configures a Service.
type Option func(*Service)

// WithLocale sets the locale of user-facing error messages.
func WithLocale(locale string) Option {
	return func(s *Service) { s.locale = locale }
}

// WithCommitAttempts bounds how often a submission is retried after
// losing a version race.
func WithCommitAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithLogger overrides the log sink.
func WithLogger(logf func(string, ...any)) Option {
	return func(s *Service) {
		if logf != nil {
			s.logf = logf
		}
	}
}

// NewService creates an authority service over store and engine.
func NewService(store storage.SessionStore, engine *domain.Engine, opts ...Option) *Service {
	s := &Service{
		store:    store,
		engine:   engine,
		locale:   apperrors.DefaultLocale,
		attempts: defaultCommitAttempts,
		logf:     log.Printf,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchSession returns the session snapshot to one of its members.
func (s *Service) FetchSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.configured(); err != nil {
		return nil, s.fail(err)
	}
	sessionID, err := authorityv1.ParseFetchSessionRequest(in)
	if err != nil {
		return nil, s.fail(invalidRequest(err))
	}
	current, err := s.load(ctx, sessionID, ParticipantFromContext(ctx))
	if err != nil {
		return nil, s.fail(err)
	}
	return s.encode(current)
}

// SubmitAction applies one action and returns the resulting snapshot.
// The engine works on an optimistic copy; a lost version race reloads and
// tries again.
func (s *Service) SubmitAction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.configured(); err != nil {
		return nil, s.fail(err)
	}
	sessionID, action, err := authorityv1.ParseSubmitActionRequest(in)
	if err != nil {
		return nil, s.fail(invalidRequest(err))
	}
	participantID := ParticipantFromContext(ctx)

	for attempt := 1; attempt <= s.attempts; attempt++ {
		current, err := s.load(ctx, sessionID, participantID)
		if err != nil {
			return nil, s.fail(err)
		}
		result, err := s.engine.Apply(current, participantID, action)
		if err != nil {
			return nil, s.fail(err)
		}
		err = s.store.CommitSession(ctx, result.Session, current.Version, result.Outcome)
		switch {
		case err == nil:
			if result.Outcome != nil {
				s.logf("session %s: round %d completed by %s", sessionID, result.Outcome.Round, participantID)
			}
			return s.encode(result.Session)
		case errors.Is(err, storage.ErrVersionConflict):
			continue
		case errors.Is(err, storage.ErrNotFound):
			return nil, s.fail(notFound(sessionID))
		default:
			s.logf("session %s: commit %s: %v", sessionID, action.Kind, err)
			return nil, s.fail(err)
		}
	}
	return nil, s.fail(apperrors.WithMetadata(apperrors.CodeConflict,
		fmt.Sprintf("session %s kept changing; gave up after %d attempts", sessionID, s.attempts),
		map[string]string{"SessionID": sessionID}))
}

func (s *Service) load(ctx context.Context, sessionID, participantID string) (session.Session, error) {
	current, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return session.Session{}, notFound(sessionID)
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if _, ok := current.OrganisationOf(participantID); !ok {
		return session.Session{}, apperrors.WithMetadata(apperrors.CodeUnauthorized,
			fmt.Sprintf("participant %q is not a member of session %s", participantID, sessionID),
			map[string]string{"SessionID": sessionID})
	}
	return current, nil
}

func (s *Service) encode(current session.Session) (*structpb.Struct, error) {
	out, err := authorityv1.EncodeSession(current)
	if err != nil {
		return nil, s.fail(fmt.Errorf("encode session: %w", err))
	}
	return out, nil
}

func (s *Service) configured() error {
	if s == nil || s.store == nil || s.engine == nil {
		return errors.New("authority service is not configured")
	}
	return nil
}

func (s *Service) fail(err error) error {
	locale := apperrors.DefaultLocale
	if s != nil {
		locale = s.locale
	}
	return apperrors.HandleError(err, locale)
}

func invalidRequest(err error) error {
	return apperrors.Wrap(apperrors.CodeInvalidAction, err.Error(), err)
}

func notFound(sessionID string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("session %s not found", sessionID),
		map[string]string{"SessionID": sessionID})
}

var _ authorityv1.AuthorityServiceServer = (*Service)(nil)
