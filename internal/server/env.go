package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvConfig holds server settings that come only from the environment.
type EnvConfig struct {
	Addr                    string        `env:"GOALLINE_ADDR" envDefault:"127.0.0.1:8080"`
	BasePath                string        `env:"GOALLINE_BASE_PATH" envDefault:"/v0"`
	JWTSecret               string        `env:"GOALLINE_JWT_SECRET"`
	AllowLegacyWorkerHeader bool          `env:"GOALLINE_ALLOW_WORKER_HEADER" envDefault:"false"`
	ShutdownTimeout         time.Duration `env:"GOALLINE_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// ParseEnv loads EnvConfig from environment variables.
func ParseEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Auth returns the authentication part of the configuration.
func (c EnvConfig) Auth() AuthConfig {
	return AuthConfig{JWTSecret: c.JWTSecret, AllowLegacyWorkerHeader: c.AllowLegacyWorkerHeader}
}
