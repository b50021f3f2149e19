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

package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func legacyProgram() *Program {
	return &Program{
		Legacy: &LegacyDecls{
			Workflows: []*WorkflowDecl{{Name: "TestOne"}},
			Facets:    []*FacetDecl{{Name: "Value"}},
			EventFacets: []*EventFacetDecl{{Name: "Greet"}},
			Schemas:   []*SchemaDecl{{Name: "Sample"}},
			Namespaces: []*Namespace{{Name: "ns", Declarations: []Declaration{&FacetDecl{Name: "Inner"}}}},
		},
	}
}

func TestNormalize_FoldsLegacyKeys(t *testing.T) {
	p := legacyProgram()
	got := Normalize(p)

	require.Len(t, got.Declarations, 5)
	assert.Nil(t, got.Legacy)

	names := make(map[string]bool, len(got.Declarations))
	for _, d := range got.Declarations {
		names[d.DeclName()] = true
	}
	assert.True(t, names["TestOne"])
	assert.True(t, names["Value"])
	assert.True(t, names["Greet"])
	assert.True(t, names["Sample"])
	assert.True(t, names["ns"])
}

func TestNormalize_IsIdempotent(t *testing.T) {
	p := legacyProgram()
	once := Normalize(p)
	twice := Normalize(once)
	assert.Equal(t, once.Declarations, twice.Declarations)
	assert.Nil(t, twice.Legacy)
}

func TestNormalize_NilProgram(t *testing.T) {
	assert.Nil(t, Normalize(nil))
}

func TestNormalize_AlreadyFlatPassesThrough(t *testing.T) {
	p := &Program{Declarations: []Declaration{&WorkflowDecl{Name: "Flat"}}}
	got := Normalize(p)
	require.Len(t, got.Declarations, 1)
	assert.Equal(t, "Flat", got.Declarations[0].DeclName())
}

func TestFindWorkflow_SameResultBeforeAndAfterNormalize(t *testing.T) {
	p := legacyProgram()
	before := FindWorkflow(p, "TestOne")
	require.NotNil(t, before)

	normalized := Normalize(p)
	after := FindWorkflow(normalized, "TestOne")
	require.NotNil(t, after)
	assert.Equal(t, before.Name, after.Name)
}

func TestFindWorkflow_QualifiedThroughNamespace(t *testing.T) {
	p := &Program{
		Declarations: []Declaration{
			&Namespace{Name: "pkg", Declarations: []Declaration{
				&WorkflowDecl{Name: "Inner"},
			}},
		},
	}
	got := FindWorkflow(p, "pkg.Inner")
	require.NotNil(t, got)
	assert.Equal(t, "Inner", got.Name)
	assert.Nil(t, FindWorkflow(p, "Inner"))
}

func TestFindFacet_DistinguishesEventFacets(t *testing.T) {
	p := legacyProgram()
	decl, isEvent := FindFacet(p, "Greet")
	require.NotNil(t, decl)
	assert.True(t, isEvent)

	decl, isEvent = FindFacet(p, "Value")
	require.NotNil(t, decl)
	assert.False(t, isEvent)

	decl, _ = FindFacet(p, "NoSuchFacet")
	assert.Nil(t, decl)
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "Greet", ShortName("acme.samples.Greet"))
	assert.Equal(t, "Greet", ShortName("Greet"))
	assert.Equal(t, "", ShortName(""))
}
