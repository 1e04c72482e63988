// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"waylog.yaml",
	"waylog.yml",
	"/etc/waylog/config.yaml",
	"/etc/waylog/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "WAYLOG_CONFIG"

// envPrefix is stripped from environment variables before mapping them to
// config paths: WAYLOG_QUEUE_CAPACITY -> queue.capacity.
const envPrefix = "WAYLOG_"

// Default returns a Config with all default values applied.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "/data/waylog.db",
			BusyTimeout: 5 * time.Second,
		},
		// The upload gate mirrors the server's admission rule so what the
		// client queues matches what the server would accept.
		UploadGate: FilterConfig{
			MinInterval:           5 * time.Minute,
			MinDistanceMeters:     10,
			AccuracyCeilingMeters: 100,
		},
		// The timeline gate is looser: the visible history may keep more
		// detail than the server stores.
		TimelineGate: FilterConfig{
			MinInterval:           time.Minute,
			MinDistanceMeters:     10,
			AccuracyCeilingMeters: 100,
		},
		Queue: QueueConfig{
			Capacity:         10000,
			Retention:        30 * 24 * time.Hour,
			EvictionInterval: 15 * time.Minute,
		},
		Worker: WorkerConfig{
			PollInterval:  10 * time.Second,
			RatePerSecond: 5,
			Burst:         10,
			MergeInterval: 10 * time.Minute,
			MergeLookback: 48 * time.Hour,
		},
		Transport: TransportConfig{
			BaseURL: "",
			Token:   "",
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    7420,
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. struct defaults
//  2. optional YAML config file
//  3. environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to config paths.
// Section names are single words, so the first underscore-separated token
// selects the section and the rest becomes the key:
//
//	WAYLOG_QUEUE_CAPACITY          -> queue.capacity
//	WAYLOG_UPLOAD_GATE_MIN_INTERVAL -> upload_gate.min_interval
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	// Two-word sections need explicit handling.
	for _, section := range []string{"upload_gate", "timeline_gate"} {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}

	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return key
	}
	return parts[0] + "." + parts[1]
}
