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

package interpreter

import (
	"fmt"

	"github.com/agentflow/agentflow/internal/ast"
)

// ChildAddr is the (facet, statement path) a child step must be stored
// under to be recognized as the Nth child of a statement the next time
// its parent's Snapshot is rebuilt from store rows.
type ChildAddr struct {
	Index         int
	FacetName     string
	StatementPath string
}

// ChildAddrs returns the ordered child addresses the statement at cursor
// expects, given scope — empty for statements with no child steps
// (VariableAssignment, and an event FacetCall, which tracks an Event row
// instead of a child step). The caller (internal/statemachine) uses this
// to match existing Step rows against expected positions when rebuilding
// a Snapshot's Children map.
func (in *Interpreter) ChildAddrs(cursor Cursor, snap *Snapshot) ([]ChildAddr, error) {
	facet, ok := snap.Program.Facets[cursor.FacetName]
	if !ok {
		return nil, fmt.Errorf("interpreter: unknown facet %q", cursor.FacetName)
	}
	if facet.Body == nil {
		return nil, fmt.Errorf("interpreter: facet %q has no body", cursor.FacetName)
	}
	stmt := findStatement(facet.Body, cursor.StatementPath)
	if stmt == nil {
		return nil, fmt.Errorf("interpreter: unknown statement %q in facet %q", cursor.StatementPath, cursor.FacetName)
	}

	switch stmt.Kind {
	case ast.StmtVariableAssignment:
		return nil, nil
	case ast.StmtFacet:
		call := stmt.FacetCall
		if call.IsEvent {
			return nil, nil
		}
		callee, ok := snap.Program.Facets[call.FacetName]
		if !ok || callee.Body == nil {
			return nil, nil
		}
		return []ChildAddr{{Index: 0, FacetName: call.FacetName, StatementPath: callee.Body.ID}}, nil
	case ast.StmtAndThen:
		addrs := make([]ChildAddr, len(stmt.AndThen.Children))
		for i, child := range stmt.AndThen.Children {
			addrs[i] = ChildAddr{Index: i, FacetName: cursor.FacetName, StatementPath: child.ID}
		}
		return addrs, nil
	case ast.StmtAndMap:
		am := stmt.AndMap
		collection, err := in.eval.Evaluate(am.CollectionExpr, snap.Scope)
		if err != nil {
			return nil, asEngineErr(err, am.CollectionExpr)
		}
		items, ok := collection.([]any)
		if !ok {
			return nil, fmt.Errorf("interpreter: andMap collection expression %q did not evaluate to a list", am.CollectionExpr)
		}
		addrs := make([]ChildAddr, len(items))
		for i := range items {
			addrs[i] = ChildAddr{Index: i, FacetName: cursor.FacetName, StatementPath: fmt.Sprintf("%s.andMap.%d", stmt.ID, i)}
		}
		return addrs, nil
	case ast.StmtAndMatch:
		am := stmt.AndMatch
		discriminant, err := in.eval.Evaluate(am.DiscriminatorExpr, snap.Scope)
		if err != nil {
			return nil, asEngineErr(err, am.DiscriminatorExpr)
		}
		key := fmt.Sprintf("%v", discriminant)
		selected, ok := am.Cases[key]
		if !ok {
			if am.Default == nil {
				return nil, nil
			}
			selected = *am.Default
		}
		return []ChildAddr{{Index: 0, FacetName: cursor.FacetName, StatementPath: selected.ID}}, nil
	default:
		return nil, fmt.Errorf("interpreter: unhandled statement kind %q", stmt.Kind)
	}
}

// IsEventStatement reports whether the statement at cursor is an event
// FacetCall, which tracks its child progress via an Event row rather than
// a child Step.
func (in *Interpreter) IsEventStatement(cursor Cursor, snap *Snapshot) (bool, error) {
	facet, ok := snap.Program.Facets[cursor.FacetName]
	if !ok || facet.Body == nil {
		return false, fmt.Errorf("interpreter: unknown facet %q", cursor.FacetName)
	}
	stmt := findStatement(facet.Body, cursor.StatementPath)
	if stmt == nil {
		return false, fmt.Errorf("interpreter: unknown statement %q in facet %q", cursor.StatementPath, cursor.FacetName)
	}
	return stmt.Kind == ast.StmtFacet && stmt.FacetCall.IsEvent, nil
}
