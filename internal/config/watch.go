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

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/flowcore/runtime/internal/store"
)

// WatchHandlerManifest watches path for writes and re-applies the
// manifest to regs on every change, so an operator can add or edit
// handler bindings without restarting the worker. Grounded on the
// teacher's internal/controller/filewatcher.Watcher (an fsnotify.Watcher
// wrapped with path normalization and a stop channel), trimmed to the
// single-file case this manifest needs instead of that package's
// broader directory-tree watching.
//
// The returned stop function closes the watcher and waits for its
// goroutine to exit; it is safe to call once.
func WatchHandlerManifest(ctx context.Context, path string, regs store.HandlerRegistrationStore, logger *slog.Logger) (stop func(), err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("flowcore: resolve handler manifest path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("flowcore: create handler manifest watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("flowcore: watch handler manifest directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "config.watch"), slog.String("path", absPath))

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				m, err := LoadHandlerManifest(absPath)
				if err != nil {
					logger.Error("reload handler manifest failed", slog.Any("error", err))
					continue
				}
				if err := m.Apply(ctx, regs); err != nil {
					logger.Error("apply reloaded handler manifest failed", slog.Any("error", err))
					continue
				}
				logger.Info("reloaded handler manifest", slog.Int("count", len(m.Handlers)))
			case werr, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Error("handler manifest watcher error", slog.Any("error", werr))
			}
		}
	}()

	return func() {
		fsw.Close()
		<-doneCh
	}, nil
}
