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

// Package ast defines the compiled declaration tree the engine consumes:
// a flow's namespaces and top-level declarations (facets, event facets,
// workflows, implicits, schemas) and the statement tree inside a facet
// body. The engine never parses AFL source — it only walks this tree,
// produced by the (out-of-scope) AFL compiler.
package ast

import (
	"encoding/json"
	"fmt"
)

// DeclKind tags the concrete type of a Declaration.
type DeclKind string

const (
	DeclFacet      DeclKind = "FacetDecl"
	DeclEventFacet DeclKind = "EventFacetDecl"
	DeclWorkflow   DeclKind = "WorkflowDecl"
	DeclImplicit   DeclKind = "ImplicitDecl"
	DeclSchema     DeclKind = "SchemaDecl"
	DeclNamespace  DeclKind = "Namespace"
)

// Program is the root of a compiled flow: {type:"Program", declarations:[...]}.
type Program struct {
	Type         string        `json:"type"`
	Declarations []Declaration `json:"declarations"`
}

// Declaration is one entry in a Program's or Namespace's declarations list.
// Exactly one of the typed fields is populated, selected by Kind.
type Declaration struct {
	Kind DeclKind `json:"type"`

	Namespace  *Namespace  `json:"-"`
	Facet      *FacetDecl  `json:"-"`
	EventFacet *FacetDecl  `json:"-"`
	Workflow   *WorkflowDecl `json:"-"`
	Implicit   *ImplicitDecl `json:"-"`
	Schema     *SchemaDecl `json:"-"`
}

// Namespace recursively contains its own declarations.
type Namespace struct {
	Name         string        `json:"name"`
	Declarations []Declaration `json:"declarations"`
}

// Param is one entry of a facet's parameter or return list.
type Param struct {
	Name string `json:"name"`
	Type string `json:"paramType"`
}

// FacetDecl declares a typed parameter/return structure. When used as the
// body of an event facet (Declaration.Kind == DeclEventFacet), Topic names
// the external handler queue and the body is not executed in-process.
type FacetDecl struct {
	Name    string      `json:"name"`
	Params  []Param     `json:"params"`
	Returns []Param     `json:"returns"`
	Body    *Statement  `json:"body,omitempty"`
	Topic   string      `json:"topic,omitempty"`
}

// WorkflowDecl marks a facet as a named entry point with a starting step.
type WorkflowDecl struct {
	Name        string `json:"name"`
	FacetName   string `json:"facetName"`
	Version     int    `json:"version"`
	StartingRef string `json:"startingRef"`
}

// ImplicitDecl supplies a default value resolved when an expression path
// is otherwise unbound.
type ImplicitDecl struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// SchemaDecl declares a named structured type usable in Param.Type.
type SchemaDecl struct {
	Name   string  `json:"name"`
	Fields []Param `json:"fields"`
}

// StatementKind tags the concrete type of a Statement.
type StatementKind string

const (
	StmtVariableAssignment StatementKind = "VariableAssignment"
	StmtFacet              StatementKind = "Facet"
	StmtAndThen            StatementKind = "AndThen"
	StmtAndMap             StatementKind = "AndMap"
	StmtAndMatch           StatementKind = "AndMatch"
)

// Statement is one node of a facet body's statement tree. Exactly one of
// the typed fields is populated, selected by Kind. A unique, stable ID
// identifies this statement's position for step addressing (container +
// statement id), e.g. "andThen.0.andMap.2".
type Statement struct {
	ID   string        `json:"id"`
	Kind StatementKind `json:"type"`

	VariableAssignment *VariableAssignment `json:"-"`
	FacetCall          *FacetCall          `json:"-"`
	AndThen            *AndThen            `json:"-"`
	AndMap             *AndMap             `json:"-"`
	AndMatch           *AndMatch           `json:"-"`
}

// VariableAssignment binds Name to the value of Expr in the step's scope.
type VariableAssignment struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// Arg binds one facet parameter to an expression.
type Arg struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// FacetCall invokes a facet (in-process, synchronous) or an event facet
// (asynchronous, dispatcher hands off). Binding, if non-empty, names the
// step-local variable that receives the facet's returns map.
type FacetCall struct {
	FacetName string `json:"facetName"`
	IsEvent   bool   `json:"isEvent"`
	Args      []Arg  `json:"args"`
	Binding   string `json:"binding,omitempty"`
}

// AndThen is an ordered sequence of children; it advances one child at a
// time and completes when the last child completes.
type AndThen struct {
	Children []Statement `json:"children"`
}

// AndMap fans out Body once per element of the collection produced by
// CollectionExpr; children run concurrently (subject to runner capacity)
// and it completes when all children complete. BindingName is the loop
// variable name each child body sees.
type AndMap struct {
	CollectionExpr string    `json:"collectionExpr"`
	BindingName    string    `json:"bindingName"`
	Body           Statement `json:"body"`
}

// AndMatch evaluates DiscriminatorExpr and selects exactly one of Cases by
// equality, falling back to Default if no case matches.
type AndMatch struct {
	DiscriminatorExpr string            `json:"discriminatorExpr"`
	Cases             map[string]Statement `json:"cases"`
	Default           *Statement        `json:"default,omitempty"`
}

// UnmarshalJSON dispatches on the "type" discriminator to populate exactly
// one of Declaration's typed fields.
func (d *Declaration) UnmarshalJSON(data []byte) error {
	var head struct {
		Type DeclKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	d.Kind = head.Type
	switch head.Type {
	case DeclNamespace:
		d.Namespace = &Namespace{}
		return json.Unmarshal(data, d.Namespace)
	case DeclFacet:
		d.Facet = &FacetDecl{}
		return json.Unmarshal(data, d.Facet)
	case DeclEventFacet:
		d.EventFacet = &FacetDecl{}
		return json.Unmarshal(data, d.EventFacet)
	case DeclWorkflow:
		d.Workflow = &WorkflowDecl{}
		return json.Unmarshal(data, d.Workflow)
	case DeclImplicit:
		d.Implicit = &ImplicitDecl{}
		return json.Unmarshal(data, d.Implicit)
	case DeclSchema:
		d.Schema = &SchemaDecl{}
		return json.Unmarshal(data, d.Schema)
	default:
		return fmt.Errorf("ast: unknown declaration type %q", head.Type)
	}
}

// MarshalJSON re-assembles the populated typed field with its "type" tag.
func (d Declaration) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case DeclNamespace:
		return marshalTagged(d.Kind, d.Namespace)
	case DeclFacet:
		return marshalTagged(d.Kind, d.Facet)
	case DeclEventFacet:
		return marshalTagged(d.Kind, d.EventFacet)
	case DeclWorkflow:
		return marshalTagged(d.Kind, d.Workflow)
	case DeclImplicit:
		return marshalTagged(d.Kind, d.Implicit)
	case DeclSchema:
		return marshalTagged(d.Kind, d.Schema)
	default:
		return nil, fmt.Errorf("ast: declaration has no populated variant (kind %q)", d.Kind)
	}
}

// UnmarshalJSON dispatches on the "type" discriminator to populate exactly
// one of Statement's typed fields.
func (s *Statement) UnmarshalJSON(data []byte) error {
	var head struct {
		ID   string        `json:"id"`
		Type StatementKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	s.ID = head.ID
	s.Kind = head.Type
	switch head.Type {
	case StmtVariableAssignment:
		s.VariableAssignment = &VariableAssignment{}
		return json.Unmarshal(data, s.VariableAssignment)
	case StmtFacet:
		s.FacetCall = &FacetCall{}
		return json.Unmarshal(data, s.FacetCall)
	case StmtAndThen:
		s.AndThen = &AndThen{}
		return json.Unmarshal(data, s.AndThen)
	case StmtAndMap:
		s.AndMap = &AndMap{}
		return json.Unmarshal(data, s.AndMap)
	case StmtAndMatch:
		s.AndMatch = &AndMatch{}
		return json.Unmarshal(data, s.AndMatch)
	default:
		return fmt.Errorf("ast: unknown statement type %q", head.Type)
	}
}

// MarshalJSON re-assembles the populated typed field with its "id"/"type" tags.
func (s Statement) MarshalJSON() ([]byte, error) {
	var payload any
	switch s.Kind {
	case StmtVariableAssignment:
		payload = s.VariableAssignment
	case StmtFacet:
		payload = s.FacetCall
	case StmtAndThen:
		payload = s.AndThen
	case StmtAndMap:
		payload = s.AndMap
	case StmtAndMatch:
		payload = s.AndMatch
	default:
		return nil, fmt.Errorf("ast: statement has no populated variant (kind %q)", s.Kind)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	idJSON, err := json.Marshal(s.ID)
	if err != nil {
		return nil, err
	}
	typeJSON, err := json.Marshal(s.Kind)
	if err != nil {
		return nil, err
	}
	merged["id"] = idJSON
	merged["type"] = typeJSON
	return json.Marshal(merged)
}

func marshalTagged(kind DeclKind, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	typeJSON, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}
	merged["type"] = typeJSON
	return json.Marshal(merged)
}
