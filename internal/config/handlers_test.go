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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/runtime/internal/store/memstore"
)

const sampleManifest = `
handlers:
  - facet_name: samples.QC
    module_uri: flowcore://local/qc
    entrypoint: run
    version: "1.0.0"
    timeout_ms: 5000
  - facet_name: samples.Align
    module_uri: flowcore://local/align
    entrypoint: run
    requirements: ["bwa>=0.7"]
`

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handlers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadHandlerManifest_ParsesEntries(t *testing.T) {
	path := writeManifest(t, sampleManifest)

	m, err := LoadHandlerManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Handlers, 2)
	assert.Equal(t, "samples.QC", m.Handlers[0].FacetName)
	assert.Equal(t, int64(5000), m.Handlers[0].TimeoutMS)
	assert.Equal(t, []string{"bwa>=0.7"}, m.Handlers[1].Requirements)
}

func TestLoadHandlerManifest_RejectsMissingFacetName(t *testing.T) {
	path := writeManifest(t, "handlers:\n  - module_uri: flowcore://local/qc\n")
	_, err := LoadHandlerManifest(path)
	require.Error(t, err)
}

func TestLoadHandlerManifest_MissingFileFails(t *testing.T) {
	_, err := LoadHandlerManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestHandlerManifest_ApplySavesEachEntryToTheRegistry(t *testing.T) {
	path := writeManifest(t, sampleManifest)
	m, err := LoadHandlerManifest(path)
	require.NoError(t, err)

	st := memstore.New()
	require.NoError(t, m.Apply(context.Background(), st))

	reg, err := st.GetHandlerRegistration(context.Background(), "samples.QC")
	require.NoError(t, err)
	assert.Equal(t, "flowcore://local/qc", reg.ModuleURI)

	all, err := st.ListHandlerRegistrations(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
