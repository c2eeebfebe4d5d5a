package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/services/coordinator/metrics"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRunValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  RuntimeConfig
		want string
	}{
		{"no authority", RuntimeConfig{Sessions: []SessionBinding{{SessionID: "s1", ParticipantID: "p1"}}}, "authority address"},
		{"no sessions", RuntimeConfig{AuthorityAddr: "127.0.0.1:1"}, "session binding"},
		{"bad catalog", RuntimeConfig{
			AuthorityAddr: "127.0.0.1:1",
			Sessions:      []SessionBinding{{SessionID: "s1", ParticipantID: "p1"}},
			CatalogPath:   "/does/not/exist.yaml",
		}, "load catalog"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Run(context.Background(), tc.cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("run = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestLogNotifierWritesOneLinePerChange(t *testing.T) {
	var lines []string
	logf := func(format string, args ...any) { lines = append(lines, fmt.Sprintf(format, args...)) }
	n := LogNotifier("s1", logf)

	n.PhaseChanged(session.PhasePlacing)
	n.TallyChanged(session.VoteAdvanceRound, 1, 2)
	n.LedgerChanged(dec("600"), dec("400"))
	n.ActionError(apperrors.CodeWrongPhase, "not now")

	want := []string{
		"session s1: phase placing",
		"session s1: advance-round has 1/2",
		"session s1: available 600.00, allocated 400.00",
		"session s1: WRONG_PHASE: not now",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestServeMetricsExposesCollectors(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := lis.Addr().String()
	_ = lis.Close()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	m.SessionOpened()
	stop := serveMetrics(addr, reg)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if !strings.Contains(string(body), "active_sessions 1") {
				t.Fatalf("metrics body missing active sessions:\n%s", body)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics endpoint never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
