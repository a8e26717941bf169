// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package annotation

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the annotation service configuration, loaded from an optional
// YAML file with environment variable overrides on top.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`

	// DataDir holds the badger database.
	DataDir string `yaml:"data_dir"`

	// MirrorDir holds the GFF3 flat-file mirrors. Empty disables the
	// mirror entirely.
	MirrorDir string `yaml:"mirror_dir"`

	// MirrorReconcileInterval is how often the mirror directory is
	// re-exported wholesale as a backstop for missed file events.
	MirrorReconcileInterval time.Duration `yaml:"mirror_reconcile_interval"`

	// Auth selects the identity provider.
	Auth AuthConfig `yaml:"auth"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// LogDir enables JSON file logging when set.
	LogDir string `yaml:"log_dir"`

	// ShutdownGrace bounds graceful HTTP shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// AuthConfig selects and configures the identity provider.
type AuthConfig struct {
	// Mode is "jwt" or "static".
	Mode string `yaml:"mode"`

	// JWTSecret signs and verifies HMAC tokens in jwt mode.
	JWTSecret string `yaml:"jwt_secret"`

	// JWTIssuer is the expected iss claim.
	JWTIssuer string `yaml:"jwt_issuer"`

	// StaticTokens maps bearer tokens to "userId:name:role" in static
	// mode.
	StaticTokens map[string]string `yaml:"static_tokens"`
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:              ":8650",
		DataDir:                 "./data/annohub",
		MirrorDir:               "",
		MirrorReconcileInterval: 10 * time.Minute,
		Auth: AuthConfig{
			Mode:      "jwt",
			JWTIssuer: "annohub",
		},
		LogLevel:      "info",
		ShutdownGrace: 15 * time.Second,
	}
}

// LoadConfig reads the YAML file at path (skipped when path is empty) and
// applies environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ANNOHUB_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("ANNOHUB_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("ANNOHUB_MIRROR_DIR"); v != "" {
		c.MirrorDir = v
	}
	if v := os.Getenv("ANNOHUB_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ANNOHUB_LOG_DIR"); v != "" {
		c.LogDir = v
	}
	if v := os.Getenv("ANNOHUB_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("ANNOHUB_JWT_ISSUER"); v != "" {
		c.Auth.JWTIssuer = v
	}
	if v := os.Getenv("ANNOHUB_AUTH_MODE"); v != "" {
		c.Auth.Mode = v
	}
	if v := os.Getenv("ANNOHUB_SHUTDOWN_GRACE"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.ShutdownGrace = time.Duration(secs) * time.Second
		}
	}
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth mode jwt requires jwt_secret (or ANNOHUB_JWT_SECRET)")
		}
	case "static":
		if len(c.Auth.StaticTokens) == 0 {
			return fmt.Errorf("auth mode static requires at least one token")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}
	return nil
}
