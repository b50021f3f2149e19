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
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flowcore/runtime/internal/store"
)

// HandlerManifest is the on-disk shape of a handlers.yaml file: a list
// of subprocess handler bindings a worker should have registered
// before it starts polling, so an operator can describe a worker's
// handler set declaratively instead of issuing one registration call
// per facet.
type HandlerManifest struct {
	Handlers []ManifestEntry `yaml:"handlers"`
}

// ManifestEntry mirrors the subset of store.HandlerRegistration an
// operator provides by hand; Created/Updated are stamped by the store
// on save.
type ManifestEntry struct {
	FacetName    string            `yaml:"facet_name"`
	ModuleURI    string            `yaml:"module_uri"`
	Entrypoint   string            `yaml:"entrypoint"`
	Version      string            `yaml:"version"`
	Checksum     string            `yaml:"checksum"`
	TimeoutMS    int64             `yaml:"timeout_ms"`
	Requirements []string          `yaml:"requirements,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty"`
}

// LoadHandlerManifest parses a handlers.yaml file at path.
func LoadHandlerManifest(path string) (*HandlerManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read handler manifest: %w", err)
	}
	var m HandlerManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse handler manifest %s: %w", path, err)
	}
	for i, h := range m.Handlers {
		if h.FacetName == "" {
			return nil, fmt.Errorf("handler manifest %s: entry %d missing facet_name", path, i)
		}
	}
	return &m, nil
}

// Apply saves every entry in the manifest as a handler registration,
// so a worker started against a fresh store ends up with the same
// registry state regardless of whether it was seeded by hand via the
// CLI or declaratively via this file.
func (m *HandlerManifest) Apply(ctx context.Context, regs store.HandlerRegistrationStore) error {
	for _, h := range m.Handlers {
		reg := &store.HandlerRegistration{
			FacetName:    h.FacetName,
			ModuleURI:    h.ModuleURI,
			Entrypoint:   h.Entrypoint,
			Version:      h.Version,
			Checksum:     h.Checksum,
			TimeoutMS:    h.TimeoutMS,
			Requirements: h.Requirements,
			Metadata:     h.Metadata,
		}
		if err := regs.SaveHandlerRegistration(ctx, reg); err != nil {
			return fmt.Errorf("register handler %s: %w", h.FacetName, err)
		}
	}
	return nil
}
