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

import "strings"

// Normalize folds a program's legacy categorized declaration keys
// (Workflows, Facets, EventFacets, Schemas, Namespaces) into a single
// Declarations list. Normalize is idempotent: normalizing an already
// normalized program returns an equivalent program unchanged.
func Normalize(p *Program) *Program {
	if p == nil {
		return nil
	}
	if p.Legacy == nil {
		// Already normalized (or constructed directly with
		// Declarations); nothing to fold.
		return &Program{Declarations: p.Declarations}
	}

	decls := make([]Declaration, 0,
		len(p.Declarations)+
			len(p.Legacy.Workflows)+len(p.Legacy.Facets)+
			len(p.Legacy.EventFacets)+len(p.Legacy.Schemas)+
			len(p.Legacy.Namespaces))
	decls = append(decls, p.Declarations...)
	for _, w := range p.Legacy.Workflows {
		decls = append(decls, w)
	}
	for _, f := range p.Legacy.Facets {
		decls = append(decls, f)
	}
	for _, e := range p.Legacy.EventFacets {
		decls = append(decls, e)
	}
	for _, s := range p.Legacy.Schemas {
		decls = append(decls, s)
	}
	for _, n := range p.Legacy.Namespaces {
		decls = append(decls, n)
	}

	return &Program{Declarations: decls}
}

// FindWorkflow locates a WorkflowDecl by qualified name ("." separated
// across namespaces), searching namespaces recursively. It behaves
// identically whether p has been normalized or not.
func FindWorkflow(p *Program, qualifiedName string) *WorkflowDecl {
	decls := p.Declarations
	if p.Legacy != nil {
		decls = Normalize(p).Declarations
	}
	return findWorkflowIn(decls, "", qualifiedName)
}

func findWorkflowIn(decls []Declaration, prefix, qualifiedName string) *WorkflowDecl {
	for _, d := range decls {
		full := qualify(prefix, d.DeclName())
		switch n := d.(type) {
		case *WorkflowDecl:
			if full == qualifiedName {
				return n
			}
		case *Namespace:
			if w := findWorkflowIn(n.Declarations, full, qualifiedName); w != nil {
				return w
			}
		}
	}
	return nil
}

// FindFacet locates a FacetDecl or EventFacetDecl by qualified name,
// returning the declaration and whether it is an event facet.
func FindFacet(p *Program, qualifiedName string) (Declaration, bool) {
	decls := p.Declarations
	if p.Legacy != nil {
		decls = Normalize(p).Declarations
	}
	return findFacetIn(decls, "", qualifiedName)
}

func findFacetIn(decls []Declaration, prefix, qualifiedName string) (Declaration, bool) {
	for _, d := range decls {
		full := qualify(prefix, d.DeclName())
		switch n := d.(type) {
		case *FacetDecl:
			if full == qualifiedName {
				return n, false
			}
		case *EventFacetDecl:
			if full == qualifiedName {
				return n, true
			}
		case *Namespace:
			if decl, isEvent := findFacetIn(n.Declarations, full, qualifiedName); decl != nil {
				return decl, isEvent
			}
		}
	}
	return nil, false
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// ShortName returns the trailing component of a qualified name (the
// segment after the last "."), used by the dispatcher's short-name
// fallback (spec.md §4.7, §9).
func ShortName(qualifiedName string) string {
	idx := strings.LastIndex(qualifiedName, ".")
	if idx < 0 {
		return qualifiedName
	}
	return qualifiedName[idx+1:]
}
