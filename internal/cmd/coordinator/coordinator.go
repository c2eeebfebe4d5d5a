// Package coordinator parses coordinator command flags and launches the
// session coordinators.
package coordinator

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/mughalz/investordefend/internal/platform/cmd"
	"github.com/mughalz/investordefend/internal/platform/discovery"
	coordinatorserver "github.com/mughalz/investordefend/internal/services/coordinator/app"
)

// Config holds coordinator command configuration.
type Config struct {
	Port          int           `env:"COORDINATOR_PORT"`
	AuthorityAddr string        `env:"COORDINATOR_AUTHORITY_ADDR"`
	Sessions      string        `env:"COORDINATOR_SESSIONS"`
	Grant         string        `env:"COORDINATOR_GRANT"`
	PollInterval  time.Duration `env:"COORDINATOR_POLL_INTERVAL"  envDefault:"5s"`
	DialTimeout   time.Duration `env:"COORDINATOR_DIAL_TIMEOUT"   envDefault:"5s"`
	Metrics       bool          `env:"COORDINATOR_METRICS"`
	MetricsAddr   string        `env:"COORDINATOR_METRICS_ADDR"`
	CatalogPath   string        `env:"CATALOG_PATH"`
	Locale        string        `env:"LOCALE"                     envDefault:"en-US"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Port <= 0 {
		cfg.Port = discovery.GRPCPort(discovery.ServiceCoordinator)
	}
	cfg.AuthorityAddr = discovery.OrDefaultGRPCAddr(cfg.AuthorityAddr, discovery.ServiceAuthority)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The coordinator health gRPC server port")
	fs.StringVar(&cfg.AuthorityAddr, "authority-addr", cfg.AuthorityAddr, "The authority gRPC server address")
	fs.StringVar(&cfg.Sessions, "sessions", cfg.Sessions, "Comma-separated session:participant[:grant] bindings")
	fs.StringVar(&cfg.Grant, "grant", cfg.Grant, "Participant grant used by bindings without their own")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Authority poll interval")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Authority dial timeout")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "Serve Prometheus metrics")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus listen address; implies -metrics")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Mitigation catalogue YAML overriding the embedded one")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Locale of action error messages")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.Metrics && strings.TrimSpace(cfg.MetricsAddr) == "" {
		cfg.MetricsAddr = discovery.DefaultMetricsAddr(discovery.ServiceCoordinator)
	}
	return cfg, nil
}

// ParseBindings splits a session:participant[:grant] list. Bindings
// without a grant use defaultGrant.
func ParseBindings(value, defaultGrant string) ([]coordinatorserver.SessionBinding, error) {
	var out []coordinatorserver.SessionBinding
	seen := map[string]struct{}{}
	for _, raw := range strings.Split(value, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("session binding %q: want session:participant[:grant]", raw)
		}
		binding := coordinatorserver.SessionBinding{
			SessionID:     strings.TrimSpace(parts[0]),
			ParticipantID: strings.TrimSpace(parts[1]),
			Grant:         strings.TrimSpace(defaultGrant),
		}
		if len(parts) == 3 {
			binding.Grant = strings.TrimSpace(parts[2])
		}
		if binding.SessionID == "" || binding.ParticipantID == "" {
			return nil, fmt.Errorf("session binding %q: session and participant are required", raw)
		}
		if binding.Grant == "" {
			return nil, fmt.Errorf("session binding %q: no grant", raw)
		}
		if _, dup := seen[binding.SessionID]; dup {
			return nil, fmt.Errorf("session %s is bound twice", binding.SessionID)
		}
		seen[binding.SessionID] = struct{}{}
		out = append(out, binding)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no session bindings configured")
	}
	return out, nil
}

// Run starts the coordinator runtime.
func Run(ctx context.Context, cfg Config) error {
	bindings, err := ParseBindings(cfg.Sessions, cfg.Grant)
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCoordinator, func(ctx context.Context) error {
		return coordinatorserver.Run(ctx, coordinatorserver.RuntimeConfig{
			Port:          cfg.Port,
			AuthorityAddr: cfg.AuthorityAddr,
			Sessions:      bindings,
			PollInterval:  cfg.PollInterval,
			DialTimeout:   cfg.DialTimeout,
			MetricsAddr:   cfg.MetricsAddr,
			CatalogPath:   cfg.CatalogPath,
			Locale:        cfg.Locale,
		})
	})
}
