package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/services/coordinator/metrics"
	"github.com/mughalz/investordefend/internal/services/coordinator/syncloop"
	"github.com/mughalz/investordefend/internal/services/shared/catalog"
	"golang.org/x/sync/errgroup"
)

// RegistryConfig holds what every hosted session shares.
type RegistryConfig struct {
	Catalog      *catalog.Catalog
	Metrics      *metrics.Metrics
	PollInterval time.Duration
	Locale       string
	Logf         func(string, ...any)
}

// Participant identifies who a hosted session acts for.
type Participant struct {
	SessionID     string
	ParticipantID string
	Authority     Authority
	Notifier      Notifier
}

type hosted struct {
	coordinator *Coordinator
	loop        *syncloop.Loop
}

// Registry hosts one coordinator and sync loop per session.
type Registry struct {
	cfg RegistryConfig

	mu       sync.Mutex
	sessions map[string]*hosted
}

// NewRegistry validates cfg.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	return &Registry{cfg: cfg, sessions: map[string]*hosted{}}, nil
}

// Open loads the session and starts polling it. The loop outlives ctx's
// cancellation; use Close or Run to stop it.
func (r *Registry) Open(ctx context.Context, p Participant) (*Coordinator, error) {
	r.mu.Lock()
	_, exists := r.sessions[p.SessionID]
	r.mu.Unlock()
	if exists {
		return nil, apperrors.WithMetadata(apperrors.CodeConflict,
			fmt.Sprintf("session %s is already open", p.SessionID),
			map[string]string{"SessionID": p.SessionID})
	}

	coordinator, err := New(Config{
		SessionID:     p.SessionID,
		ParticipantID: p.ParticipantID,
		Authority:     p.Authority,
		Catalog:       r.cfg.Catalog,
		Notifier:      p.Notifier,
		Metrics:       r.cfg.Metrics,
		Locale:        r.cfg.Locale,
		Logf:          r.cfg.Logf,
	})
	if err != nil {
		return nil, err
	}
	if err := coordinator.Load(ctx); err != nil {
		return nil, fmt.Errorf("load session %s: %w", p.SessionID, err)
	}
	loop, err := syncloop.New(syncloop.Config{
		SessionID: p.SessionID,
		Fetcher:   p.Authority,
		Target:    coordinator,
		Metrics:   r.cfg.Metrics,
		Logf:      r.cfg.Logf,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[p.SessionID]; exists {
		return nil, apperrors.New(apperrors.CodeConflict, fmt.Sprintf("session %s is already open", p.SessionID))
	}
	if err := loop.Start(context.WithoutCancel(ctx), r.cfg.PollInterval); err != nil {
		return nil, err
	}
	r.sessions[p.SessionID] = &hosted{coordinator: coordinator, loop: loop}
	r.cfg.Metrics.SessionOpened()
	return coordinator, nil
}

// Get returns the coordinator hosting sessionID.
func (r *Registry) Get(sessionID string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return h.coordinator, true
}

// Loop returns the sync loop polling sessionID.
func (r *Registry) Loop(sessionID string) (*syncloop.Loop, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return h.loop, true
}

// Sessions returns the hosted session IDs, sorted.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close stops polling sessionID and forgets it. Unknown sessions are
// ignored.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	h, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if !ok {
		return
	}
	h.loop.Stop()
	h.loop.Wait()
	r.cfg.Metrics.SessionClosed()
}

// Run blocks until ctx ends or every hosted loop has stopped, closing
// sessions as they finish. A loop stops on its own when the session ends
// or the participant is revoked; that session is closed and the others
// keep running.
func (r *Registry) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	r.mu.Lock()
	for id, h := range r.sessions {
		g.Go(func() error {
			select {
			case <-h.loop.Done():
				if err := h.loop.Err(); err != nil {
					r.cfg.Logf("session %s: sync loop ended: %v", id, err)
				}
				r.Close(id)
			case <-gctx.Done():
				r.Close(id)
			}
			return nil
		})
	}
	r.mu.Unlock()
	return g.Wait()
}
