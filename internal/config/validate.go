// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for values the engine cannot run with.
// It collects all problems rather than stopping at the first.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.Path == "" {
		problems = append(problems, "database.path must not be empty")
	}
	if c.Database.BusyTimeout < 0 {
		problems = append(problems, "database.busy_timeout must not be negative")
	}

	for name, f := range map[string]FilterConfig{
		"upload_gate":   c.UploadGate,
		"timeline_gate": c.TimelineGate,
	} {
		if f.MinInterval < 0 {
			problems = append(problems, name+".min_interval must not be negative")
		}
		if f.MinDistanceMeters < 0 {
			problems = append(problems, name+".min_distance_meters must not be negative")
		}
		if f.AccuracyCeilingMeters < 0 {
			problems = append(problems, name+".accuracy_ceiling_meters must not be negative")
		}
	}

	if c.Queue.Capacity <= 0 {
		problems = append(problems, "queue.capacity must be positive")
	}
	if c.Queue.Retention <= 0 {
		problems = append(problems, "queue.retention must be positive")
	}
	if c.Queue.EvictionInterval <= 0 {
		problems = append(problems, "queue.eviction_interval must be positive")
	}

	if c.Worker.PollInterval <= 0 {
		problems = append(problems, "worker.poll_interval must be positive")
	}
	if c.Worker.RatePerSecond < 0 {
		problems = append(problems, "worker.rate_per_second must not be negative")
	}
	if c.Worker.RatePerSecond > 0 && c.Worker.Burst <= 0 {
		problems = append(problems, "worker.burst must be positive when rate limiting is enabled")
	}
	if c.Worker.MergeInterval <= 0 {
		problems = append(problems, "worker.merge_interval must be positive")
	}
	if c.Worker.MergeLookback <= 0 {
		problems = append(problems, "worker.merge_lookback must be positive")
	}

	if c.Transport.Timeout <= 0 {
		problems = append(problems, "transport.timeout must be positive")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
		}
		if c.Server.Host == "" {
			problems = append(problems, "server.host must not be empty")
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be json or console", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
