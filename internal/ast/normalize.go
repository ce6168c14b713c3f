// Copyright 2026 AgentFlow Authors
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

package ast

import (
	"encoding/json"
	"fmt"
)

// legacyContainer is the pre-canonical declaration tree shape some compiler
// versions still emit: declarations grouped under a fixed set of named
// keys instead of a single tagged "declarations" array. Normalize accepts
// either shape and always produces the canonical Program.
type legacyContainer struct {
	Namespaces  []legacyNamespace `json:"namespaces"`
	Facets      []FacetDecl       `json:"facets"`
	EventFacets []FacetDecl       `json:"eventFacets"`
	Workflows   []WorkflowDecl    `json:"workflows"`
	Implicits   []ImplicitDecl    `json:"implicits"`
	Schemas     []SchemaDecl      `json:"schemas"`
}

type legacyNamespace struct {
	Name string          `json:"name"`
	legacyContainer
}

// Normalize parses a compiled declaration tree in either its canonical
// {"type":"Program","declarations":[...]} shape or the legacy
// categorized-keys shape, and returns the canonical Program. Normalize is
// idempotent: re-normalizing an already-canonical Program (by marshaling
// its output and normalizing again) yields an identical tree, since the
// legacy-detection path only triggers when the canonical "declarations"
// key is absent.
func Normalize(raw []byte) (*Program, error) {
	var probe struct {
		Declarations json.RawMessage `json:"declarations"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("ast: invalid declaration tree: %w", err)
	}
	if probe.Declarations != nil {
		var p Program
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("ast: invalid canonical program: %w", err)
		}
		p.Type = "Program"
		return &p, nil
	}

	var legacy legacyContainer
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("ast: invalid legacy declaration tree: %w", err)
	}
	return &Program{
		Type:         "Program",
		Declarations: legacy.declarations(),
	}, nil
}

// declarations flattens a legacyContainer into canonical, tagged
// Declarations in a fixed, stable order: namespaces, schemas, implicits,
// facets, event facets, workflows. Stable ordering is what makes repeated
// normalization of equivalent input produce byte-identical output.
func (c legacyContainer) declarations() []Declaration {
	var out []Declaration
	for _, ns := range c.Namespaces {
		n := ns.Name
		nested := ns.legacyContainer.declarations()
		out = append(out, Declaration{
			Kind: DeclNamespace,
			Namespace: &Namespace{
				Name:         n,
				Declarations: nested,
			},
		})
	}
	for i := range c.Schemas {
		out = append(out, Declaration{Kind: DeclSchema, Schema: &c.Schemas[i]})
	}
	for i := range c.Implicits {
		out = append(out, Declaration{Kind: DeclImplicit, Implicit: &c.Implicits[i]})
	}
	for i := range c.Facets {
		out = append(out, Declaration{Kind: DeclFacet, Facet: &c.Facets[i]})
	}
	for i := range c.EventFacets {
		out = append(out, Declaration{Kind: DeclEventFacet, EventFacet: &c.EventFacets[i]})
	}
	for i := range c.Workflows {
		out = append(out, Declaration{Kind: DeclWorkflow, Workflow: &c.Workflows[i]})
	}
	return out
}
