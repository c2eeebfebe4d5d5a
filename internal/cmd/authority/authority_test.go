package authority

import (
	"context"
	"flag"
	"testing"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("authority", flag.ContinueOnError)
	t.Setenv("INVESTORDEFEND_AUTHORITY_DB_PATH", "/tmp/a.db")
	t.Setenv("INVESTORDEFEND_AUTHORITY_FIXTURES", "sessions.yaml")

	cfg, err := ParseConfig(fs, []string{"-port", "9100", "-locale", "pt-BR", "-commit-attempts", "12"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9100 {
		t.Fatalf("port = %d, want 9100", cfg.Port)
	}
	if cfg.DBPath != "/tmp/a.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "/tmp/a.db")
	}
	if cfg.FixturesPath != "sessions.yaml" {
		t.Fatalf("fixtures = %q, want %q", cfg.FixturesPath, "sessions.yaml")
	}
	if cfg.Locale != "pt-BR" {
		t.Fatalf("locale = %q, want %q", cfg.Locale, "pt-BR")
	}
	if cfg.CommitAttempts != 12 {
		t.Fatalf("commit attempts = %d, want 12", cfg.CommitAttempts)
	}
}

func TestParseConfig_DefaultPort(t *testing.T) {
	cfg, err := ParseConfig(flag.NewFlagSet("authority", flag.ContinueOnError), nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8092 {
		t.Fatalf("port = %d, want 8092", cfg.Port)
	}
	if cfg.DBPath != "data/authority.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "data/authority.db")
	}
	if cfg.CommitAttempts != 5 {
		t.Fatalf("commit attempts = %d, want 5", cfg.CommitAttempts)
	}
}

func TestRunRequiresGrantKeys(t *testing.T) {
	t.Setenv("INVESTORDEFEND_GRANT_ISSUER", "")
	if err := Run(context.Background(), Config{}); err == nil {
		t.Fatal("expected grant configuration error")
	}
}
