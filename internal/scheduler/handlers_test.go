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

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/internal/store/memstore"
)

func TestStaticHandleableNames_ReturnsFixedSet(t *testing.T) {
	fn := StaticHandleableNames("QC", "Align")
	names, err := fn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"QC", "Align"}, names)
}

func TestRegistryHandleableNames_FiltersByTopicGlob(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.SaveHandlerRegistration(ctx, &store.HandlerRegistration{FacetName: "samples.QC"}))
	require.NoError(t, st.SaveHandlerRegistration(ctx, &store.HandlerRegistration{FacetName: "reports.Summarize"}))

	fn := RegistryHandleableNames(st, time.Minute, []string{"samples.*"})
	names, err := fn(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"samples.QC"}, names)
}

func TestRegistryHandleableNames_EmptyGlobListMatchesEverything(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.SaveHandlerRegistration(ctx, &store.HandlerRegistration{FacetName: "samples.QC"}))
	require.NoError(t, st.SaveHandlerRegistration(ctx, &store.HandlerRegistration{FacetName: "reports.Summarize"}))

	fn := RegistryHandleableNames(st, time.Minute, nil)
	names, err := fn(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"samples.QC", "reports.Summarize"}, names)
}

func TestRegistryHandleableNames_CachesWithinRefreshInterval(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.SaveHandlerRegistration(ctx, &store.HandlerRegistration{FacetName: "samples.QC"}))

	fn := RegistryHandleableNames(st, time.Hour, nil)
	first, err := fn(ctx)
	require.NoError(t, err)

	require.NoError(t, st.SaveHandlerRegistration(ctx, &store.HandlerRegistration{FacetName: "reports.Summarize"}))
	second, err := fn(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second, "a fresh registration must not appear before the refresh interval elapses")
}
