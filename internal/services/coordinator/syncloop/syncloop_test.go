package syncloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fetch func(ctx context.Context, call int) (session.Session, error)
}

func (f *fakeFetcher) FetchSession(ctx context.Context, _ string) (session.Session, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fetch(ctx, call)
}

type fakeTarget struct {
	mu       sync.Mutex
	applied  []session.Session
	executed int
	notify   chan struct{}
	// onApply runs after each snapshot is recorded.
	onApply func()
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{notify: make(chan struct{}, 16)}
}

func (t *fakeTarget) ApplySnapshot(snap session.Session) {
	t.mu.Lock()
	t.applied = append(t.applied, snap)
	hook := t.onApply
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *fakeTarget) ExecutePassed(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executed++
	return nil
}

func (t *fakeTarget) executedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executed
}

// endingTarget reports the session finished once an Ended snapshot lands.
type endingTarget struct {
	*fakeTarget
}

func (t endingTarget) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.applied)
	return n > 0 && t.applied[n-1].Phase == session.PhaseEnded
}

func (t *fakeTarget) appliedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.applied)
}

func newLoop(t *testing.T, fetcher Fetcher, target Target) *Loop {
	t.Helper()
	loop, err := New(Config{SessionID: "s1", Fetcher: fetcher, Target: target, Logf: t.Logf})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	return loop
}

func waitApplied(t *testing.T, target *fakeTarget) {
	t.Helper()
	select {
	case <-target.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Fetcher: &fakeFetcher{}, Target: newFakeTarget()}); err == nil {
		t.Fatal("expected missing session id error")
	}
	if _, err := New(Config{SessionID: "s1", Target: newFakeTarget()}); err == nil {
		t.Fatal("expected missing fetcher error")
	}
	if _, err := New(Config{SessionID: "s1", Fetcher: &fakeFetcher{}}); err == nil {
		t.Fatal("expected missing target error")
	}
}

func TestRunOnceAppliesAndNotifiesCallbacks(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(context.Context, int) (session.Session, error) {
		return session.Session{ID: "s1", Round: 2, Version: 7}, nil
	}}
	target := newFakeTarget()
	loop := newLoop(t, fetcher, target)

	var seen []int
	loop.Register("rounds", func(snap session.Session) { seen = append(seen, snap.Round) })
	loop.Register("rounds", func(snap session.Session) { seen = append(seen, snap.Round*10) })
	loop.Remove("missing")

	if err := loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := target.appliedCount(); got != 1 {
		t.Fatalf("applied = %d, want 1", got)
	}
	if target.executed != 1 {
		t.Fatalf("executed = %d, want 1", target.executed)
	}
	if len(seen) != 1 || seen[0] != 20 {
		t.Fatalf("callbacks saw %v, want [20] from the replacement", seen)
	}

	loop.Remove("rounds")
	if err := loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("removed callback still ran: %v", seen)
	}
}

func TestRunOnceReturnsFetchError(t *testing.T) {
	boom := errors.New("boom")
	fetcher := &fakeFetcher{fetch: func(context.Context, int) (session.Session, error) {
		return session.Session{}, boom
	}}
	target := newFakeTarget()
	loop := newLoop(t, fetcher, target)
	if err := loop.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if target.appliedCount() != 0 || target.executed != 0 {
		t.Fatal("failed fetch must not touch the target")
	}
}

func TestStartPollsUntilStopped(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(_ context.Context, call int) (session.Session, error) {
		if call == 1 {
			return session.Session{}, errors.New("transient")
		}
		return session.Session{ID: "s1", Version: int64(call)}, nil
	}}
	target := newFakeTarget()
	loop := newLoop(t, fetcher, target)

	if err := loop.Start(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := loop.Start(context.Background(), 5*time.Millisecond); !errors.Is(err, ErrRunning) {
		t.Fatalf("second start = %v, want %v", err, ErrRunning)
	}
	waitApplied(t, target)
	waitApplied(t, target)

	loop.Stop()
	loop.Wait()
	if loop.Running() {
		t.Fatal("loop still running after stop")
	}
	if err := loop.Err(); err != nil {
		t.Fatalf("err = %v, want nil after stop", err)
	}
	loop.Stop()
}

func TestStopDiscardsInFlightSnapshot(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fetcher := &fakeFetcher{fetch: func(_ context.Context, call int) (session.Session, error) {
		if call == 1 {
			close(entered)
			<-release
		}
		return session.Session{ID: "s1", Version: 1}, nil
	}}
	target := newFakeTarget()
	loop := newLoop(t, fetcher, target)

	if err := loop.Start(context.Background(), time.Hour); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered
	loop.Stop()
	close(release)
	loop.Wait()

	if got := target.appliedCount(); got != 0 {
		t.Fatalf("applied = %d, want 0 after stop", got)
	}
}

func TestRestartAfterStop(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(context.Context, int) (session.Session, error) {
		return session.Session{ID: "s1"}, nil
	}}
	target := newFakeTarget()
	loop := newLoop(t, fetcher, target)

	for range 2 {
		if err := loop.Start(context.Background(), time.Hour); err != nil {
			t.Fatalf("start: %v", err)
		}
		waitApplied(t, target)
		loop.Stop()
		loop.Wait()
	}
	if got := target.appliedCount(); got != 2 {
		t.Fatalf("applied = %d, want 2", got)
	}
}

func TestUnauthorizedStopsLoop(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(context.Context, int) (session.Session, error) {
		return session.Session{}, apperrors.New(apperrors.CodeUnauthorized, "not a member")
	}}
	loop := newLoop(t, fetcher, newFakeTarget())

	if err := loop.Start(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on unauthorized")
	}
	if !apperrors.HasCode(loop.Err(), apperrors.CodeUnauthorized) {
		t.Fatalf("err = %v, want UNAUTHORIZED", loop.Err())
	}
	if loop.Running() {
		t.Fatal("loop still running")
	}
}

func TestParentContextCancelEndsRun(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(context.Context, int) (session.Session, error) {
		return session.Session{ID: "s1"}, nil
	}}
	target := newFakeTarget()
	loop := newLoop(t, fetcher, target)

	ctx, cancel := context.WithCancel(context.Background())
	if err := loop.Start(ctx, time.Hour); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitApplied(t, target)
	cancel()
	loop.Wait()
	if loop.Running() {
		t.Fatal("loop still running after parent cancel")
	}
}

func TestLoopStopsOnceSessionEnds(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(_ context.Context, call int) (session.Session, error) {
		if call < 3 {
			return session.Session{ID: "s1", Phase: session.PhasePurchasing, Version: int64(call)}, nil
		}
		return session.Session{ID: "s1", Phase: session.PhaseEnded, Version: int64(call)}, nil
	}}
	target := endingTarget{newFakeTarget()}
	loop := newLoop(t, fetcher, target)

	if err := loop.Start(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop kept polling an ended session")
	}
	if loop.Running() || loop.Err() != nil {
		t.Fatalf("running = %v err = %v, want a clean stop", loop.Running(), loop.Err())
	}
	if got := target.appliedCount(); got != 3 {
		t.Fatalf("applied = %d, want 3", got)
	}
}

func TestCanceledAfterApplySkipsExecution(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(context.Context, int) (session.Session, error) {
		return session.Session{ID: "s1", Version: 1}, nil
	}}

	t.Run("run once", func(t *testing.T) {
		target := newFakeTarget()
		loop := newLoop(t, fetcher, target)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		target.onApply = cancel

		if err := loop.RunOnce(ctx); err != nil {
			t.Fatalf("run once: %v", err)
		}
		if target.appliedCount() != 1 || target.executedCount() != 0 {
			t.Fatalf("applied/executed = %d/%d, want 1/0", target.appliedCount(), target.executedCount())
		}
	})

	t.Run("running loop", func(t *testing.T) {
		target := newFakeTarget()
		loop := newLoop(t, fetcher, target)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		target.onApply = cancel

		if err := loop.Start(ctx, time.Hour); err != nil {
			t.Fatalf("start: %v", err)
		}
		loop.Wait()
		if target.appliedCount() != 1 || target.executedCount() != 0 {
			t.Fatalf("applied/executed = %d/%d, want 1/0", target.appliedCount(), target.executedCount())
		}
	})
}
