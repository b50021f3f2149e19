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

// Package scheduler implements the task-queue scheduler and worker
// pool (spec.md §4.8): a multi-worker poller that atomically claims
// pending event tasks, invokes handlers through a dispatcher, and
// drives workflow resumption on handler completion or failure.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/flowcore/runtime/internal/config"
	"github.com/flowcore/runtime/internal/dispatcher"
	"github.com/flowcore/runtime/internal/evaluator"
	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/internal/telemetry"
	"github.com/flowcore/runtime/pkg/ids"
	"github.com/flowcore/runtime/pkg/ir"
)

// ProgramLoader decodes a compiled program's persisted source bytes
// (store.RunStore.GetFlow) into an *ir.Program. The compiled-IR
// serialization format is an external-collaborator concern (spec.md
// §1: the IR emitter is out of scope); the scheduler only needs a way
// to hydrate its AST cache, so it accepts this as a caller-supplied
// function rather than assuming a concrete codec.
type ProgramLoader func(source []byte) (*ir.Program, error)

// HandleableNames reports the set of facet names this worker process
// can currently serve, either a fixed in-memory list or, for a
// registry-backed worker, the latest registration list refreshed on
// RegistryRefreshInterval and filtered by topic globs (spec.md §4.8).
type HandleableNames func(ctx context.Context) ([]string, error)

// Worker is a worker process: a server identity, a dispatcher, an
// evaluator, a bounded pool of concurrent work slots, and a
// cancellation signal (spec.md §4.8).
type Worker struct {
	id       ids.ServerID
	store    store.Store
	disp     dispatcher.Dispatcher
	eval     *evaluator.Evaluator
	cfg      config.WorkerConfig
	logger   *slog.Logger
	sink     telemetry.Sink
	handlers HandleableNames
	loadIR   ProgramLoader

	limiter *rate.Limiter

	cache *astCache
	locks *resumeLocks

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Worker at construction.
type Option func(*Worker)

// WithLogger attaches a structured logger; the default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithTelemetry attaches a telemetry sink; the default discards events.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(w *Worker) { w.sink = sink }
}

// WithHandleableNames overrides the default static-empty handler name
// source, e.g. to refresh from handler registrations on an interval.
func WithHandleableNames(fn HandleableNames) Option {
	return func(w *Worker) { w.handlers = fn }
}

// WithProgramLoader overrides how the worker decodes a compiled
// program's persisted source into IR when hydrating its AST cache.
func WithProgramLoader(fn ProgramLoader) Option {
	return func(w *Worker) { w.loadIR = fn }
}

// New constructs a Worker with the given config, store, dispatcher,
// and evaluator. A fresh server identity (uuid) is assigned.
func New(cfg config.WorkerConfig, st store.Store, disp dispatcher.Dispatcher, eval *evaluator.Evaluator, opts ...Option) *Worker {
	w := &Worker{
		id:     ids.NewServerID(),
		store:  st,
		disp:   disp,
		eval:   eval,
		cfg:    cfg,
		logger: slog.Default(),
		sink:   telemetry.NopSink{},
		cache:  newASTCache(),
		locks:  newResumeLocks(),
	}
	w.handlers = func(context.Context) ([]string, error) { return nil, nil }
	for _, opt := range opts {
		opt(w)
	}
	// The poll loop paces claim attempts at PollInterval; rate.Every
	// turns that interval into the token-bucket refill rate the
	// teacher's stack (golang.org/x/time/rate) expects.
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	w.limiter = rate.NewLimiter(rate.Every(interval), 1)
	return w
}

// ID returns the worker's server identity.
func (w *Worker) ID() ids.ServerID { return w.id }

// Start registers the worker's server record, launches the heartbeat
// daemon and poll loop, and blocks until Stop is called or ctx is
// cancelled (spec.md §4.8 item 1-3). Start is not safe to call
// concurrently on the same Worker.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("scheduler: worker %s already running", w.id)
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()
	defer close(w.doneCh)

	if err := w.register(ctx); err != nil {
		return fmt.Errorf("scheduler: register server: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(runCtx)
	}()
	go func() {
		defer wg.Done()
		w.pollLoop(runCtx)
	}()

	select {
	case <-w.stopCh:
	case <-ctx.Done():
	}
	cancel()
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	drain := w.cfg.ShutdownDrainTimeout
	if drain <= 0 {
		drain = 30 * time.Second
	}
	select {
	case <-drained:
	case <-time.After(drain):
		w.logger.Warn("scheduler: shutdown drain timed out", slog.String("server_id", string(w.id)))
	}

	return w.shutdown(context.Background())
}

// Stop cooperatively stops the poll loop (no new claims), drains
// in-flight slots up to cfg.ShutdownDrainTimeout, and marks the
// server record Shutdown (spec.md §4.8 item 5). Stop blocks until
// Start returns.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()
	<-done
}

func (w *Worker) register(ctx context.Context) error {
	hostname, _ := os.Hostname()
	names, err := w.handlers(ctx)
	if err != nil {
		w.logger.Warn("scheduler: could not resolve initial handleable names", slog.Any("error", err))
	}
	rec := &store.Server{
		UUID:        w.id,
		ServiceName: "flowcore-worker",
		Hostname:    hostname,
		IPs:         localIPs(),
		StartTime:   time.Now(),
		LastPing:    time.Now(),
		Topics:      w.cfg.TopicGlobs,
		Handlers:    names,
		State:       store.ServerRunning,
	}
	w.logger.Info("scheduler: worker registering", slog.String("server_id", string(w.id)), slog.String("hostname", hostname))
	return w.store.SaveServer(ctx, rec)
}

func (w *Worker) shutdown(ctx context.Context) error {
	srv, err := w.store.GetServer(ctx, w.id)
	if err != nil {
		return err
	}
	srv.State = store.ServerShutdown
	srv.LastPing = time.Now()
	w.logger.Info("scheduler: worker shutting down", slog.String("server_id", string(w.id)))
	return w.store.SaveServer(ctx, srv)
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	interval := w.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.UpdateServerPing(ctx, w.id, time.Now()); err != nil {
				w.logger.Warn("scheduler: heartbeat failed", slog.String("server_id", string(w.id)), slog.Any("error", err))
			}
		}
	}
}

func localIPs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			out = append(out, ipNet.IP.String())
		}
	}
	return out
}

// newSlotGroup builds the bounded errgroup.Group that runs the
// poll-claimed task slots (golang.org/x/sync/errgroup with SetLimit), the
// teacher's pool-via-semaphore pattern generalized to the ecosystem's
// idiomatic bounded-errgroup form (spec.md §9 NEW concurrency
// primitives).
func (w *Worker) newSlotGroup(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	poolSize := w.cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 5
	}
	g.SetLimit(poolSize)
	return g, gctx
}
