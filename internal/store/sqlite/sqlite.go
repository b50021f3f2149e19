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

// Package sqlite provides a single-node SQLite implementation of the
// persistence contract (spec.md §4.6), grounded on the teacher's
// internal/controller/backend/sqlite backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowcore/runtime/internal/store"
)

// Store is a SQLite-backed persistence contract implementation.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path. Use ":memory:" for an ephemeral
	// store (handy in tests, but note modernc.org/sqlite keeps a
	// process-private memory database alive only for the lifetime of
	// the single held connection).
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent readers
	// alongside the single writer connection.
	WAL bool
}

// New opens (creating if necessary) a SQLite-backed store at cfg.Path
// and runs its migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("flowcore: open sqlite database: %w", err)
	}

	// SQLite serializes writes; a single connection turns every
	// multi-statement Commit into an implicit critical section without
	// needing a separate in-process lock.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("flowcore: connect to sqlite database: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("flowcore: apply pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			flow_id TEXT NOT NULL,
			state TEXT NOT NULL,
			inputs TEXT,
			outputs TEXT,
			start_time TEXT NOT NULL,
			end_time TEXT,
			iterations INTEGER NOT NULL DEFAULT 0,
			root_step_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS flows (
			flow_id TEXT PRIMARY KEY,
			source BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			root_id TEXT,
			container_id TEXT,
			object_type TEXT NOT NULL,
			statement_id TEXT NOT NULL,
			block_id TEXT NOT NULL,
			state TEXT NOT NULL,
			facet_name TEXT,
			params TEXT,
			returns TEXT,
			iteration_index INTEGER NOT NULL DEFAULT 0,
			iteration_present INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_workflow ON steps(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_block ON steps(block_id)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_statement_block ON steps(statement_id, block_id)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			step_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			runner_id TEXT,
			task_list TEXT NOT NULL,
			data TEXT,
			state TEXT NOT NULL,
			error TEXT,
			created TEXT NOT NULL,
			updated TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(state, task_list, name, seq)`,
		`CREATE TABLE IF NOT EXISTS servers (
			uuid TEXT PRIMARY KEY,
			group_name TEXT,
			service_name TEXT,
			hostname TEXT,
			ips TEXT,
			start_time TEXT NOT NULL,
			last_ping TEXT NOT NULL,
			topics TEXT,
			handlers TEXT,
			state TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS handler_registrations (
			facet_name TEXT PRIMARY KEY,
			module_uri TEXT NOT NULL,
			entrypoint TEXT NOT NULL,
			version TEXT,
			checksum TEXT,
			timeout_ms INTEGER NOT NULL DEFAULT 0,
			requirements TEXT,
			metadata TEXT,
			created TEXT NOT NULL,
			updated TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("flowcore: migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullString returns nil if s is empty, otherwise s.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
