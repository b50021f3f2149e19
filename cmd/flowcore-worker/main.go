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

// Command flowcore-worker runs a worker process: it claims pending
// event-facet tasks, dispatches them to handlers, and drives paused
// workflows back through the evaluator on completion or failure
// (spec.md §4.8).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowcore/runtime/internal/config"
	"github.com/flowcore/runtime/internal/corelog"
	"github.com/flowcore/runtime/internal/dispatcher"
	"github.com/flowcore/runtime/internal/evaluator"
	"github.com/flowcore/runtime/internal/scheduler"
	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/internal/store/memstore"
	"github.com/flowcore/runtime/internal/store/sqlite"
	"github.com/flowcore/runtime/internal/telemetry"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		backend           string
		sqlitePath        string
		sqliteWAL         bool
		taskList          string
		poolSize          int
		pollInterval      time.Duration
		heartbeatInterval time.Duration
		handlerManifest   string
		watchManifest     bool
		traceToStdout     bool
		showVersion       bool
	)

	cmd := &cobra.Command{
		Use:   "flowcore-worker",
		Short: "Runs a flowcore task-queue worker",
		Long: `flowcore-worker polls the configured persistence backend for pending
event-facet tasks, dispatches each to a registered handler, and drives
the owning workflow back through the evaluator on completion or
failure.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("flowcore-worker %s (commit: %s)\n", version, commit)
				return nil
			}
			return runWorker(cmd.Context(), workerOptions{
				backend:           backend,
				sqlitePath:        sqlitePath,
				sqliteWAL:         sqliteWAL,
				taskList:          taskList,
				poolSize:          poolSize,
				pollInterval:      pollInterval,
				heartbeatInterval: heartbeatInterval,
				handlerManifest:   handlerManifest,
				watchManifest:     watchManifest,
				traceToStdout:     traceToStdout,
			})
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "memory", "Storage backend (memory, sqlite)")
	cmd.Flags().StringVar(&sqlitePath, "sqlite-path", "flowcore.db", "SQLite database file path")
	cmd.Flags().BoolVar(&sqliteWAL, "sqlite-wal", true, "Enable SQLite WAL journal mode")
	cmd.Flags().StringVar(&taskList, "task-list", "", "Task list this worker claims from (overrides FLOWCORE_TASK_LIST)")
	cmd.Flags().IntVar(&poolSize, "pool-size", 0, "Bounded concurrent task slots (overrides FLOWCORE_POOL_SIZE)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "Claim-task poll interval (overrides FLOWCORE_POLL_INTERVAL)")
	cmd.Flags().DurationVar(&heartbeatInterval, "heartbeat-interval", 0, "Server heartbeat interval (overrides FLOWCORE_HEARTBEAT_INTERVAL)")
	cmd.Flags().StringVar(&handlerManifest, "handler-manifest", "", "Path to a handlers.yaml file to seed handler registrations from at startup")
	cmd.Flags().BoolVar(&watchManifest, "watch-handler-manifest", false, "Reload --handler-manifest and re-register its handlers whenever the file changes")
	cmd.Flags().BoolVar(&traceToStdout, "trace", false, "Emit one OpenTelemetry span per evaluator iteration and step transition as JSON to stdout")
	cmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")

	return cmd
}

type workerOptions struct {
	backend           string
	sqlitePath        string
	sqliteWAL         bool
	taskList          string
	poolSize          int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	handlerManifest   string
	watchManifest     bool
	traceToStdout     bool
}

func runWorker(ctx context.Context, opts workerOptions) error {
	logger := corelog.New(corelog.FromEnv())
	slog.SetDefault(logger)

	st, closeStore, err := openStore(opts)
	if err != nil {
		return fmt.Errorf("flowcore-worker: open store: %w", err)
	}
	defer closeStore()

	cfg := config.FromEnv()
	if opts.taskList != "" {
		cfg.TaskList = opts.taskList
	}
	if opts.poolSize > 0 {
		cfg.PoolSize = opts.poolSize
	}
	if opts.pollInterval > 0 {
		cfg.PollInterval = opts.pollInterval
	}
	if opts.heartbeatInterval > 0 {
		cfg.HeartbeatInterval = opts.heartbeatInterval
	}

	if opts.handlerManifest != "" {
		manifest, err := config.LoadHandlerManifest(opts.handlerManifest)
		if err != nil {
			return fmt.Errorf("flowcore-worker: %w", err)
		}
		if err := manifest.Apply(ctx, st); err != nil {
			return fmt.Errorf("flowcore-worker: %w", err)
		}
		logger.Info("seeded handler registrations from manifest", slog.String("path", opts.handlerManifest), slog.Int("count", len(manifest.Handlers)))
	}

	disp := dispatcher.NewComposite(
		dispatcher.NewInMemory(),
		dispatcher.NewSubprocess(st, "flowcore://local"),
	)

	evalOpts := []evaluator.Option{evaluator.WithLogger(logger), evaluator.WithMaxRetries(cfg.MaxRetries)}
	workerOpts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithHandleableNames(scheduler.RegistryHandleableNames(st, cfg.RegistryRefreshInterval, cfg.TopicGlobs)),
	}

	if opts.traceToStdout {
		tp, err := telemetry.NewStdoutTracerProvider("flowcore-worker")
		if err != nil {
			return fmt.Errorf("flowcore-worker: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tp.Shutdown(shutdownCtx)
		}()
		sink := telemetry.NewOTelSink(tp.Tracer("flowcore/worker"))
		evalOpts = append(evalOpts, evaluator.WithTelemetry(sink))
		workerOpts = append(workerOpts, scheduler.WithTelemetry(sink))
	}

	eval := evaluator.New(st, disp, evalOpts...)
	worker := scheduler.New(cfg, st, disp, eval, workerOpts...)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.handlerManifest != "" && opts.watchManifest {
		watchStop, err := config.WatchHandlerManifest(runCtx, opts.handlerManifest, st, logger)
		if err != nil {
			return fmt.Errorf("flowcore-worker: %w", err)
		}
		defer watchStop()
	}

	logger.Info("flowcore-worker starting", slog.String("server_id", string(worker.ID())), slog.String("backend", opts.backend), slog.String("task_list", cfg.TaskList))
	return worker.Start(runCtx)
}

func openStore(opts workerOptions) (store.Store, func(), error) {
	switch opts.backend {
	case "", "memory":
		return memstore.New(), func() {}, nil
	case "sqlite":
		s, err := sqlite.New(sqlite.Config{Path: opts.sqlitePath, WAL: opts.sqliteWAL})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend: %s", opts.backend)
	}
}
