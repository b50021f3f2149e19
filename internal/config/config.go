// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the engine's own tunables (poll/heartbeat
// intervals, pool size, registry refresh interval), grounded on the
// teacher's internal/config conventions of a plain struct with a
// Default constructor plus env overrides, without pulling in the
// teacher's broader profile/workspace configuration surface (out of
// scope per spec.md §1).
package config

import (
	"os"
	"strconv"
	"time"
)

// WorkerConfig configures a single worker process's scheduler.
type WorkerConfig struct {
	// PoolSize bounds concurrent in-flight task claims per worker.
	PoolSize int

	// PollInterval is how often the worker attempts claim_task while
	// it has spare pool capacity. Default 2s (spec.md §4.8).
	PollInterval time.Duration

	// HeartbeatInterval is how often the worker refreshes its server
	// record's last_ping. Default 10s (spec.md §4.8).
	HeartbeatInterval time.Duration

	// RegistryRefreshInterval is how often a registry-backed worker
	// refreshes its handleable-name list from handler registrations.
	// Default 30s (spec.md §4.8).
	RegistryRefreshInterval time.Duration

	// ShutdownDrainTimeout bounds how long Stop waits for in-flight
	// slots to finish. Default 30s (spec.md §4.8).
	ShutdownDrainTimeout time.Duration

	// TaskList selects which task list this worker claims from.
	TaskList string

	// TopicGlobs filters the registry-refreshed handleable name list,
	// when non-empty.
	TopicGlobs []string

	// MaxRetries bounds the evaluator's VersionMismatch retry loop.
	// Default 5 (spec.md §7).
	MaxRetries int
}

// DefaultWorkerConfig returns the spec's documented defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PoolSize:                5,
		PollInterval:            2 * time.Second,
		HeartbeatInterval:       10 * time.Second,
		RegistryRefreshInterval: 30 * time.Second,
		ShutdownDrainTimeout:    30 * time.Second,
		TaskList:                "default",
		MaxRetries:              5,
	}
}

// FromEnv overlays environment variable overrides onto DefaultWorkerConfig.
func FromEnv() WorkerConfig {
	cfg := DefaultWorkerConfig()
	if v := envInt("FLOWCORE_POOL_SIZE"); v > 0 {
		cfg.PoolSize = v
	}
	if v := envDuration("FLOWCORE_POLL_INTERVAL"); v > 0 {
		cfg.PollInterval = v
	}
	if v := envDuration("FLOWCORE_HEARTBEAT_INTERVAL"); v > 0 {
		cfg.HeartbeatInterval = v
	}
	if v := envDuration("FLOWCORE_REGISTRY_REFRESH_INTERVAL"); v > 0 {
		cfg.RegistryRefreshInterval = v
	}
	if v := os.Getenv("FLOWCORE_TASK_LIST"); v != "" {
		cfg.TaskList = v
	}
	return cfg
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
