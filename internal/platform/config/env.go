// Package config loads command configuration from the process environment.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every variable read by investordefend commands.
// Struct tags name variables without it, e.g. `env:"AUTHORITY_PORT"`.
const EnvPrefix = "INVESTORDEFEND_"

// ParseEnv loads prefixed environment variables into target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// VarName returns the fully-qualified variable name for a tag suffix.
func VarName(suffix string) string {
	return EnvPrefix + strings.TrimPrefix(strings.TrimSpace(suffix), EnvPrefix)
}
