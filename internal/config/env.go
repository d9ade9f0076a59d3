package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ServerConf holds process-level settings read from the environment.
type ServerConf struct {
	Addr       string `env:"SUBWATCH_ADDR" envDefault:":8080"`
	ConfigPath string `env:"SUBWATCH_CONFIG" envDefault:"configs/dispatch.yaml"`
	SQLiteDSN  string `env:"SUBWATCH_SQLITE_DSN" envDefault:"subwatch.db?_journal_mode=WAL&_busy_timeout=5000"`
}

// ParseEnv loads ServerConf from environment variables.
func ParseEnv() (ServerConf, error) {
	var c ServerConf
	if err := env.Parse(&c); err != nil {
		return ServerConf{}, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}
