// Package syncloop periodically pulls the authoritative session snapshot
// and hands it to the coordinator.
package syncloop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/platform/timeouts"
	"github.com/mughalz/investordefend/internal/services/coordinator/metrics"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mughalz/investordefend/internal/services/coordinator/syncloop"

// Fetcher reads the authoritative snapshot.
type Fetcher interface {
	FetchSession(ctx context.Context, sessionID string) (session.Session, error)
}

// Target receives fetched snapshots.
type Target interface {
	ApplySnapshot(snap session.Session)
	ExecutePassed(ctx context.Context) error
}

// Finisher is implemented by targets that can tell when the session needs
// no further polling.
type Finisher interface {
	Finished() bool
}

// Callback observes every applied snapshot. It runs on the loop goroutine
// and receives its own copy.
type Callback func(snap session.Session)

// ErrRunning is returned by Start when the loop is already running.
var ErrRunning = errors.New("sync loop already running")

// Config wires a Loop.
type Config struct {
	SessionID string
	Fetcher   Fetcher
	Target    Target
	Metrics   *metrics.Metrics
	// Tracer defaults to the global provider.
	Tracer trace.Tracer
	Logf   func(string, ...any)
}

// Loop polls one session. Start and Stop may be called repeatedly; a cycle
// started before Stop never applies its snapshot after Stop returns.
type Loop struct {
	sessionID string
	fetcher   Fetcher
	target    Target
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logf      func(string, ...any)

	// applyMu serializes snapshot application with Stop.
	applyMu sync.Mutex

	mu         sync.Mutex
	generation uint64
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
	callbacks  map[string]Callback
}

// New validates cfg.
func New(cfg Config) (*Loop, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Target == nil {
		return nil, fmt.Errorf("target is required")
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	done := make(chan struct{})
	close(done)
	return &Loop{
		sessionID: cfg.SessionID,
		fetcher:   cfg.Fetcher,
		target:    cfg.Target,
		metrics:   cfg.Metrics,
		tracer:    tracer,
		logf:      logf,
		done:      done,
		callbacks: map[string]Callback{},
	}, nil
}

// Start runs a cycle immediately and then every interval until ctx ends,
// Stop is called, the authority rejects the participant, or a Finisher
// target reports the session finished. A non-positive interval uses the
// default poll interval.
func (l *Loop) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = timeouts.PollInterval
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.generation++
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})
	l.err = nil
	go l.run(runCtx, l.generation, interval, l.done)
	return nil
}

// Stop halts the loop without waiting for an in-flight fetch; its
// snapshot is discarded. Stop must not be called from a Callback.
func (l *Loop) Stop() {
	l.applyMu.Lock()
	defer l.applyMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.generation++
	l.running = false
	l.cancel()
}

// Wait blocks until the current run exits.
func (l *Loop) Wait() {
	<-l.Done()
}

// Done is closed when the current run exits.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Err returns the error that ended the last run, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Register adds or replaces the named callback.
func (l *Loop) Register(name string, fn Callback) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks[name] = fn
}

// Remove drops the named callback; unknown names are ignored.
func (l *Loop) Remove(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.callbacks, name)
}

// RunOnce performs a single cycle outside the periodic schedule.
func (l *Loop) RunOnce(ctx context.Context) error {
	l.mu.Lock()
	gen := l.generation
	l.mu.Unlock()
	return l.cycle(ctx, gen)
}

func (l *Loop) run(ctx context.Context, gen uint64, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := l.cycle(ctx, gen); apperrors.HasCode(err, apperrors.CodeUnauthorized) {
			l.logf("session %s: sync stopped: %v", l.sessionID, err)
			l.finish(gen, err)
			return
		}
		if f, ok := l.target.(Finisher); ok && f.Finished() {
			l.logf("session %s: session ended, sync stopped", l.sessionID)
			l.finish(gen, nil)
			return
		}
		select {
		case <-ctx.Done():
			l.finish(gen, nil)
			return
		case <-ticker.C:
		}
	}
}

// finish clears the running state if gen is still current.
func (l *Loop) finish(gen uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.generation != gen {
		return
	}
	l.running = false
	l.err = err
	l.cancel()
}

func (l *Loop) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation == gen
}

func (l *Loop) registered() []Callback {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.callbacks))
	for name := range l.callbacks {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]Callback, 0, len(names))
	for _, name := range names {
		out = append(out, l.callbacks[name])
	}
	return out
}

func (l *Loop) cycle(ctx context.Context, gen uint64) error {
	ctx, span := l.tracer.Start(ctx, "syncloop.cycle",
		trace.WithAttributes(attribute.String("session.id", l.sessionID)))
	defer span.End()
	started := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, timeouts.GRPCRequest)
	snap, err := l.fetcher.FetchSession(fetchCtx, l.sessionID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			l.metrics.ObserveCycle(metrics.ResultDiscarded, time.Since(started))
			return ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		l.metrics.ObserveCycle(metrics.ResultFailed, time.Since(started))
		l.logf("session %s: fetch failed: %v", l.sessionID, err)
		return err
	}

	l.applyMu.Lock()
	if !l.current(gen) || ctx.Err() != nil {
		l.applyMu.Unlock()
		span.SetAttributes(attribute.Bool("sync.discarded", true))
		l.metrics.ObserveCycle(metrics.ResultDiscarded, time.Since(started))
		return nil
	}
	l.target.ApplySnapshot(snap)
	for _, fn := range l.registered() {
		fn(snap.Clone())
	}
	l.applyMu.Unlock()
	span.SetAttributes(
		attribute.Int("session.round", snap.Round),
		attribute.Int64("session.version", snap.Version),
	)

	// Stop may have landed while the snapshot was being applied.
	if !l.current(gen) || ctx.Err() != nil {
		span.SetAttributes(attribute.Bool("sync.discarded", true))
		l.metrics.ObserveCycle(metrics.ResultDiscarded, time.Since(started))
		return nil
	}
	if err := l.target.ExecutePassed(ctx); err != nil {
		span.RecordError(err)
		l.logf("session %s: execute passed actions: %v", l.sessionID, err)
	}
	l.metrics.ObserveCycle(metrics.ResultOK, time.Since(started))
	return nil
}
