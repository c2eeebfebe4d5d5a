// Package authority parses authority command flags and launches the
// reference session authority.
package authority

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/mughalz/investordefend/internal/platform/cmd"
	"github.com/mughalz/investordefend/internal/platform/discovery"
	authorityserver "github.com/mughalz/investordefend/internal/services/authority/app"
	"github.com/mughalz/investordefend/internal/services/authority/grant"
)

// Config holds authority command configuration.
type Config struct {
	Port           int    `env:"AUTHORITY_PORT"`
	DBPath         string `env:"AUTHORITY_DB_PATH"         envDefault:"data/authority.db"`
	FixturesPath   string `env:"AUTHORITY_FIXTURES"`
	CatalogPath    string `env:"CATALOG_PATH"`
	Locale         string `env:"LOCALE"                    envDefault:"en-US"`
	CommitAttempts int    `env:"AUTHORITY_COMMIT_ATTEMPTS" envDefault:"5"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Port <= 0 {
		cfg.Port = discovery.GRPCPort(discovery.ServiceAuthority)
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The authority gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The authority SQLite database path")
	fs.StringVar(&cfg.FixturesPath, "fixtures", cfg.FixturesPath, "YAML file of sessions to seed at startup")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Mitigation catalogue YAML overriding the embedded one")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Locale of error messages returned to participants")
	fs.IntVar(&cfg.CommitAttempts, "commit-attempts", cfg.CommitAttempts, "Attempts per submission when concurrent writers race")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the authority server.
func Run(ctx context.Context, cfg Config) error {
	verifier, err := grant.LoadVerifierConfigFromEnv(time.Now)
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAuthority, func(ctx context.Context) error {
		return authorityserver.Run(ctx, cfg.Port, authorityserver.RuntimeConfig{
			DBPath:         cfg.DBPath,
			FixturesPath:   cfg.FixturesPath,
			CatalogPath:    cfg.CatalogPath,
			Locale:         cfg.Locale,
			CommitAttempts: cfg.CommitAttempts,
			Verifier:       verifier,
		})
	})
}
