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

// Index is a flattened, name-addressable view over a Program, built once
// per flow load so the interpreter never walks the namespace tree per
// statement.
type Index struct {
	Facets    map[string]*FacetDecl
	Workflows map[string]*WorkflowDecl
	Implicits map[string]*ImplicitDecl
	Schemas   map[string]*SchemaDecl
}

// BuildIndex flattens every declaration reachable from p, including those
// nested in namespaces, into name-keyed maps. Namespaced declarations are
// keyed only by their dotted path ("ns.child"); their bare names are not
// indexed. Implicits are keyed by their Path. A later declaration with the
// same key replaces an earlier one.
func BuildIndex(p *Program) *Index {
	idx := &Index{
		Facets:    map[string]*FacetDecl{},
		Workflows: map[string]*WorkflowDecl{},
		Implicits: map[string]*ImplicitDecl{},
		Schemas:   map[string]*SchemaDecl{},
	}
	indexDecls(idx, p.Declarations, "")
	return idx
}

func indexDecls(idx *Index, decls []Declaration, prefix string) {
	for _, d := range decls {
		switch d.Kind {
		case DeclNamespace:
			if d.Namespace == nil {
				continue
			}
			childPrefix := d.Namespace.Name
			if prefix != "" {
				childPrefix = prefix + "." + d.Namespace.Name
			}
			indexDecls(idx, d.Namespace.Declarations, childPrefix)
		case DeclFacet:
			if d.Facet != nil {
				idx.Facets[qualify(prefix, d.Facet.Name)] = d.Facet
			}
		case DeclEventFacet:
			if d.EventFacet != nil {
				idx.Facets[qualify(prefix, d.EventFacet.Name)] = d.EventFacet
			}
		case DeclWorkflow:
			if d.Workflow != nil {
				idx.Workflows[qualify(prefix, d.Workflow.Name)] = d.Workflow
			}
		case DeclImplicit:
			if d.Implicit != nil {
				idx.Implicits[d.Implicit.Path] = d.Implicit
			}
		case DeclSchema:
			if d.Schema != nil {
				idx.Schemas[qualify(prefix, d.Schema.Name)] = d.Schema
			}
		}
	}
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
