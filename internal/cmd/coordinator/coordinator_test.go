package coordinator

import (
	"context"
	"flag"
	"strings"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("coordinator", flag.ContinueOnError)
	t.Setenv("INVESTORDEFEND_COORDINATOR_SESSIONS", "s1:alice")
	t.Setenv("INVESTORDEFEND_COORDINATOR_POLL_INTERVAL", "750ms")

	cfg, err := ParseConfig(fs, []string{"-authority-addr", "localhost:9000", "-metrics"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.AuthorityAddr != "localhost:9000" {
		t.Fatalf("authority addr = %q, want %q", cfg.AuthorityAddr, "localhost:9000")
	}
	if cfg.PollInterval != 750*time.Millisecond {
		t.Fatalf("poll interval = %v, want 750ms", cfg.PollInterval)
	}
	if cfg.Sessions != "s1:alice" {
		t.Fatalf("sessions = %q, want %q", cfg.Sessions, "s1:alice")
	}
	if cfg.MetricsAddr != ":9093" {
		t.Fatalf("metrics addr = %q, want %q", cfg.MetricsAddr, ":9093")
	}
}

func TestParseConfig_DefaultDiscovery(t *testing.T) {
	cfg, err := ParseConfig(flag.NewFlagSet("coordinator", flag.ContinueOnError), nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.AuthorityAddr != "authority:8092" {
		t.Fatalf("authority addr = %q, want %q", cfg.AuthorityAddr, "authority:8092")
	}
	if cfg.Port != 8093 {
		t.Fatalf("port = %d, want 8093", cfg.Port)
	}
	if cfg.MetricsAddr != "" {
		t.Fatalf("metrics addr = %q, want disabled", cfg.MetricsAddr)
	}
}

func TestParseBindings(t *testing.T) {
	bindings, err := ParseBindings(" s1:alice , s2:bob:tok-bob,", "tok-default")
	if err != nil {
		t.Fatalf("parse bindings: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("bindings = %+v, want 2", bindings)
	}
	if bindings[0].SessionID != "s1" || bindings[0].ParticipantID != "alice" || bindings[0].Grant != "tok-default" {
		t.Fatalf("first binding = %+v", bindings[0])
	}
	if bindings[1].Grant != "tok-bob" {
		t.Fatalf("second grant = %q, want tok-bob", bindings[1].Grant)
	}
}

func TestParseBindingsRejects(t *testing.T) {
	cases := map[string]string{
		"":                  "no session bindings",
		"s1":                "session:participant",
		"s1:alice":          "no grant",
		"s1:a:t,s1:b:t":     "bound twice",
		":alice:t":          "required",
		"s1:alice:tok:more": "session:participant",
	}
	for value, want := range cases {
		_, err := ParseBindings(value, "")
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("ParseBindings(%q) = %v, want error containing %q", value, err, want)
		}
	}
}

func TestRunRejectsMissingBindings(t *testing.T) {
	if err := Run(context.Background(), Config{}); err == nil {
		t.Fatal("expected binding error")
	}
}
