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

// Package interpreter is a pure function over (cursor, store snapshot)
// producing the next Action for a step, for every statement type in the
// declaration tree: VariableAssignment, Facet, AndThen, AndMap, AndMatch.
// It never touches the store itself — internal/statemachine applies the
// actions it returns.
package interpreter

import (
	"fmt"

	"github.com/agentflow/agentflow/internal/ast"
	"github.com/agentflow/agentflow/internal/engineerr"
)

// Interpreter resolves statements against a flow's declaration index and
// evaluates expressions against a step's scope.
type Interpreter struct {
	eval *Evaluator
}

// New returns an Interpreter. Each Interpreter owns its own expression
// cache; callers typically keep one per loaded flow.
func New() *Interpreter {
	return &Interpreter{eval: NewEvaluator()}
}

// Advance computes the next Action for the step addressed by cursor,
// given snapshot. Advance is deterministic: the same (cursor, snapshot)
// always yields the same Action, and it performs no side effects of its
// own — every Action it returns must still be applied by the caller.
func (in *Interpreter) Advance(cursor Cursor, snap *Snapshot) (Action, error) {
	facet, ok := snap.Program.Facets[cursor.FacetName]
	if !ok {
		return Fail{Err: engineerr.New(engineerr.KindReference, fmt.Sprintf("unknown facet %q", cursor.FacetName))}, nil
	}
	if facet.Body == nil {
		return Fail{Err: engineerr.New(engineerr.KindValidation, fmt.Sprintf("facet %q has no body", cursor.FacetName))}, nil
	}
	stmt := findStatement(facet.Body, cursor.StatementPath)
	if stmt == nil {
		return Fail{Err: engineerr.New(engineerr.KindReference, fmt.Sprintf("unknown statement %q in facet %q", cursor.StatementPath, cursor.FacetName))}, nil
	}

	switch stmt.Kind {
	case ast.StmtVariableAssignment:
		return in.advanceVariableAssignment(stmt.VariableAssignment, snap)
	case ast.StmtFacet:
		return in.advanceFacetCall(stmt.FacetCall, snap)
	case ast.StmtAndThen:
		return in.advanceAndThen(stmt, snap)
	case ast.StmtAndMap:
		return in.advanceAndMap(stmt, snap)
	case ast.StmtAndMatch:
		return in.advanceAndMatch(stmt, snap)
	default:
		return Fail{Err: engineerr.New(engineerr.KindInternal, fmt.Sprintf("unhandled statement kind %q", stmt.Kind))}, nil
	}
}

func (in *Interpreter) advanceVariableAssignment(va *ast.VariableAssignment, snap *Snapshot) (Action, error) {
	v, err := in.eval.Evaluate(va.Expr, snap.Scope)
	if err != nil {
		if e, ok := err.(*engineerr.Error); ok {
			return Fail{Err: e}, nil
		}
		return Fail{Err: engineerr.Wrap(engineerr.KindReference, va.Name, err)}, nil
	}
	return MarkComplete{Outputs: map[string]any{va.Name: v}}, nil
}

func (in *Interpreter) advanceFacetCall(call *ast.FacetCall, snap *Snapshot) (Action, error) {
	args := map[string]any{}
	for _, a := range call.Args {
		v, err := in.eval.Evaluate(a.Expr, snap.Scope)
		if err != nil {
			return Fail{Err: asEngineErr(err, a.Name)}, nil
		}
		args[a.Name] = v
	}

	if call.IsEvent {
		if snap.RunningEvent != nil {
			if snap.RunningEvent.Failed {
				return Fail{Err: asEngineErr(snap.RunningEvent.Err, call.FacetName)}, nil
			}
			if snap.RunningEvent.Completed {
				return MarkComplete{Outputs: bindOutputs(call.Binding, snap.RunningEvent.Outputs)}, nil
			}
			return Wait{}, nil
		}
		callee, ok := snap.Program.Facets[call.FacetName]
		if !ok {
			return Fail{Err: engineerr.New(engineerr.KindReference, fmt.Sprintf("unknown facet %q", call.FacetName))}, nil
		}
		return EmitEvent{FacetName: call.FacetName, Topic: callee.Topic, Args: args}, nil
	}

	child, hasChild := snap.Children[0]
	if !hasChild {
		callee, ok := snap.Program.Facets[call.FacetName]
		if !ok {
			return Fail{Err: engineerr.New(engineerr.KindReference, fmt.Sprintf("unknown facet %q", call.FacetName))}, nil
		}
		if callee.Body == nil {
			return Fail{Err: engineerr.New(engineerr.KindValidation, fmt.Sprintf("facet %q has no body", call.FacetName))}, nil
		}
		return CreateChildStep{FacetName: call.FacetName, StatementPath: callee.Body.ID, Scope: args}, nil
	}
	if child.Failed {
		return Fail{Err: asEngineErr(child.Err, call.FacetName)}, nil
	}
	if child.Completed {
		return MarkComplete{Outputs: bindOutputs(call.Binding, child.Outputs)}, nil
	}
	return Wait{}, nil
}

func (in *Interpreter) advanceAndThen(stmt *ast.Statement, snap *Snapshot) (Action, error) {
	seq := stmt.AndThen
	for i, child := range seq.Children {
		state, ok := snap.Children[i]
		if !ok {
			return CreateChildStep{StatementPath: child.ID, Scope: snap.Scope}, nil
		}
		if state.Failed {
			return Fail{Err: asEngineErr(state.Err, child.ID)}, nil
		}
		if !state.Completed {
			return Wait{}, nil
		}
		// Completed children fold their outputs into scope for later siblings.
		snap.Scope = childScopeOf(snap.Scope, state.Outputs)
	}
	if len(seq.Children) == 0 {
		return MarkComplete{Outputs: map[string]any{}}, nil
	}
	last := snap.Children[len(seq.Children)-1]
	return MarkComplete{Outputs: last.Outputs}, nil
}

func (in *Interpreter) advanceAndMap(stmt *ast.Statement, snap *Snapshot) (Action, error) {
	am := stmt.AndMap
	collection, err := in.eval.Evaluate(am.CollectionExpr, snap.Scope)
	if err != nil {
		return Fail{Err: asEngineErr(err, am.CollectionExpr)}, nil
	}
	items, ok := collection.([]any)
	if !ok {
		return Fail{Err: engineerr.New(engineerr.KindValidation, fmt.Sprintf("andMap collection expression %q did not evaluate to a list", am.CollectionExpr))}, nil
	}

	var missing []ChildSpec
	pending := false
	for i := range items {
		state, exists := snap.Children[i]
		if !exists {
			childScope := childScopeOf(snap.Scope, map[string]any{am.BindingName: items[i]})
			missing = append(missing, ChildSpec{StatementPath: fmt.Sprintf("%s.andMap.%d", stmt.ID, i), Scope: childScope})
			pending = true
			continue
		}
		if state.Failed {
			// Fail-fast: the first failing element fails the whole AndMap rather
			// than waiting for the remaining elements to finish.
			return Fail{Err: asEngineErr(state.Err, fmt.Sprintf("%s[%d]", stmt.ID, i))}, nil
		}
		if !state.Completed {
			pending = true
		}
	}
	if len(missing) > 0 {
		// Every still-missing sibling is created in one pass so all of them
		// run concurrently rather than one being created only after its
		// predecessor completes.
		return CreateChildSteps{Children: missing}, nil
	}
	if pending {
		return Wait{}, nil
	}

	results := make([]any, len(items))
	for i := range items {
		results[i] = snap.Children[i].Outputs
	}
	return MarkComplete{Outputs: map[string]any{"results": results}}, nil
}

func (in *Interpreter) advanceAndMatch(stmt *ast.Statement, snap *Snapshot) (Action, error) {
	am := stmt.AndMatch
	discriminant, err := in.eval.Evaluate(am.DiscriminatorExpr, snap.Scope)
	if err != nil {
		return Fail{Err: asEngineErr(err, am.DiscriminatorExpr)}, nil
	}
	key := fmt.Sprintf("%v", discriminant)

	selected, ok := am.Cases[key]
	if !ok {
		if am.Default == nil {
			return Fail{Err: engineerr.New(engineerr.KindValidation, fmt.Sprintf("andMatch discriminant %q matched no case and has no default", key))}, nil
		}
		selected = *am.Default
	}

	state, hasChild := snap.Children[0]
	if !hasChild {
		return CreateChildStep{StatementPath: selected.ID, Scope: snap.Scope}, nil
	}
	if state.Failed {
		return Fail{Err: asEngineErr(state.Err, selected.ID)}, nil
	}
	if !state.Completed {
		return Wait{}, nil
	}
	return MarkComplete{Outputs: state.Outputs}, nil
}

func bindOutputs(binding string, outputs map[string]any) map[string]any {
	if binding == "" {
		return outputs
	}
	return map[string]any{binding: outputs}
}

func asEngineErr(err error, origin string) *engineerr.Error {
	if e, ok := err.(*engineerr.Error); ok {
		return e
	}
	return engineerr.Wrap(engineerr.KindInternal, origin, err)
}

// findStatement recursively searches stmt and its descendants for the one
// whose ID equals path.
func findStatement(stmt *ast.Statement, path string) *ast.Statement {
	if stmt == nil {
		return nil
	}
	if stmt.ID == path {
		return stmt
	}
	switch stmt.Kind {
	case ast.StmtAndThen:
		for i := range stmt.AndThen.Children {
			if found := findStatement(&stmt.AndThen.Children[i], path); found != nil {
				return found
			}
		}
	case ast.StmtAndMap:
		if found := findStatement(&stmt.AndMap.Body, path); found != nil {
			return found
		}
		// AndMap iterations address a synthetic per-index path
		// ("<id>.andMap.<n>") that resolves back to the shared body template.
		if prefix := stmt.ID + ".andMap."; len(path) > len(prefix) && path[:len(prefix)] == prefix {
			return &stmt.AndMap.Body
		}
	case ast.StmtAndMatch:
		for k := range stmt.AndMatch.Cases {
			c := stmt.AndMatch.Cases[k]
			if found := findStatement(&c, path); found != nil {
				return found
			}
		}
		if stmt.AndMatch.Default != nil {
			if found := findStatement(stmt.AndMatch.Default, path); found != nil {
				return found
			}
		}
	}
	return nil
}
