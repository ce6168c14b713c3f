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
	"testing"

	"github.com/agentflow/agentflow/internal/ast"
)

func TestAdvanceVariableAssignment(t *testing.T) {
	facet := &ast.FacetDecl{
		Name: "AddOne",
		Body: &ast.Statement{
			ID:   "root",
			Kind: ast.StmtVariableAssignment,
			VariableAssignment: &ast.VariableAssignment{
				Name: "result",
				Expr: "inputs.n + 1",
			},
		},
	}
	idx := &ast.Index{Facets: map[string]*ast.FacetDecl{"AddOne": facet}}

	in := New()
	action, err := in.Advance(Cursor{FacetName: "AddOne", StatementPath: "root"}, &Snapshot{
		Program: idx,
		Scope:   map[string]any{"inputs": map[string]any{"n": 1}},
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	mc, ok := action.(MarkComplete)
	if !ok {
		t.Fatalf("expected MarkComplete, got %T", action)
	}
	if mc.Outputs["result"] != 2 {
		t.Errorf("expected result=2, got %v", mc.Outputs["result"])
	}
}

func TestAdvanceFacetCallEmitsEventWithTopic(t *testing.T) {
	caller := &ast.FacetDecl{
		Name: "NotifyCaller",
		Body: &ast.Statement{
			ID:   "root",
			Kind: ast.StmtFacet,
			FacetCall: &ast.FacetCall{
				FacetName: "Notify",
				IsEvent:   true,
				Binding:   "result",
			},
		},
	}
	callee := &ast.FacetDecl{Name: "Notify", Topic: "notify.send"}
	idx := &ast.Index{Facets: map[string]*ast.FacetDecl{
		"NotifyCaller": caller,
		"Notify":       callee,
	}}

	in := New()
	action, err := in.Advance(Cursor{FacetName: "NotifyCaller", StatementPath: "root"}, &Snapshot{
		Program: idx,
		Scope:   map[string]any{},
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	emit, ok := action.(EmitEvent)
	if !ok {
		t.Fatalf("expected EmitEvent, got %T", action)
	}
	if emit.FacetName != "Notify" {
		t.Errorf("expected FacetName Notify, got %s", emit.FacetName)
	}
	if emit.Topic != "notify.send" {
		t.Errorf("expected Topic notify.send, got %q", emit.Topic)
	}
}

func TestAdvanceFacetCallEventUnknownFacetFails(t *testing.T) {
	caller := &ast.FacetDecl{
		Name: "NotifyCaller",
		Body: &ast.Statement{
			ID:   "root",
			Kind: ast.StmtFacet,
			FacetCall: &ast.FacetCall{
				FacetName: "Missing",
				IsEvent:   true,
			},
		},
	}
	idx := &ast.Index{Facets: map[string]*ast.FacetDecl{"NotifyCaller": caller}}

	in := New()
	action, err := in.Advance(Cursor{FacetName: "NotifyCaller", StatementPath: "root"}, &Snapshot{
		Program: idx,
		Scope:   map[string]any{},
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	fail, ok := action.(Fail)
	if !ok {
		t.Fatalf("expected Fail, got %T", action)
	}
	if fail.Err == nil {
		t.Error("expected a non-nil error")
	}
}

func andThenFacet() *ast.FacetDecl {
	return &ast.FacetDecl{
		Name: "AddTwice",
		Body: &ast.Statement{
			ID:   "root",
			Kind: ast.StmtAndThen,
			AndThen: &ast.AndThen{
				Children: []ast.Statement{
					{ID: "root.0", Kind: ast.StmtVariableAssignment, VariableAssignment: &ast.VariableAssignment{Name: "a", Expr: "inputs.n + 1"}},
					{ID: "root.1", Kind: ast.StmtVariableAssignment, VariableAssignment: &ast.VariableAssignment{Name: "b", Expr: "a + 1"}},
				},
			},
		},
	}
}

func TestAdvanceAndThenCreatesChildrenInOrder(t *testing.T) {
	facet := andThenFacet()
	idx := &ast.Index{Facets: map[string]*ast.FacetDecl{"AddTwice": facet}}
	in := New()

	action, err := in.Advance(Cursor{FacetName: "AddTwice", StatementPath: "root"}, &Snapshot{
		Program:  idx,
		Scope:    map[string]any{"inputs": map[string]any{"n": 1}},
		Children: map[int]ChildState{},
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	create, ok := action.(CreateChildStep)
	if !ok {
		t.Fatalf("expected CreateChildStep, got %T", action)
	}
	if create.StatementPath != "root.0" {
		t.Errorf("expected first child root.0, got %s", create.StatementPath)
	}

	action, err = in.Advance(Cursor{FacetName: "AddTwice", StatementPath: "root"}, &Snapshot{
		Program: idx,
		Scope:   map[string]any{"inputs": map[string]any{"n": 1}},
		Children: map[int]ChildState{
			0: {Exists: true, Completed: true, Outputs: map[string]any{"a": 2}},
		},
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	create, ok = action.(CreateChildStep)
	if !ok {
		t.Fatalf("expected CreateChildStep for second child, got %T", action)
	}
	if create.StatementPath != "root.1" {
		t.Errorf("expected second child root.1, got %s", create.StatementPath)
	}
	if create.Scope["a"] != 2 {
		t.Errorf("expected sibling scope to carry forward first child's output, got %v", create.Scope)
	}
}

func TestAdvanceAndThenCompletesAfterAllChildren(t *testing.T) {
	facet := andThenFacet()
	idx := &ast.Index{Facets: map[string]*ast.FacetDecl{"AddTwice": facet}}
	in := New()

	action, err := in.Advance(Cursor{FacetName: "AddTwice", StatementPath: "root"}, &Snapshot{
		Program: idx,
		Scope:   map[string]any{},
		Children: map[int]ChildState{
			0: {Exists: true, Completed: true, Outputs: map[string]any{"a": 2}},
			1: {Exists: true, Completed: true, Outputs: map[string]any{"b": 3}},
		},
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	mc, ok := action.(MarkComplete)
	if !ok {
		t.Fatalf("expected MarkComplete, got %T", action)
	}
	if mc.Outputs["b"] != 3 {
		t.Errorf("expected final output b=3, got %v", mc.Outputs)
	}
}

func TestAdvanceAndMapCreatesAllChildrenInOnePass(t *testing.T) {
	facet := &ast.FacetDecl{
		Name: "DoubleAll",
		Body: &ast.Statement{
			ID:   "root",
			Kind: ast.StmtAndMap,
			AndMap: &ast.AndMap{
				CollectionExpr: "inputs.items",
				BindingName:    "item",
				Body: ast.Statement{
					ID:   "root.body",
					Kind: ast.StmtVariableAssignment,
					VariableAssignment: &ast.VariableAssignment{
						Name: "doubled",
						Expr: "item * 2",
					},
				},
			},
		},
	}
	idx := &ast.Index{Facets: map[string]*ast.FacetDecl{"DoubleAll": facet}}
	in := New()

	action, err := in.Advance(Cursor{FacetName: "DoubleAll", StatementPath: "root"}, &Snapshot{
		Program:  idx,
		Scope:    map[string]any{"inputs": map[string]any{"items": []any{1, 2, 3}}},
		Children: map[int]ChildState{},
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	create, ok := action.(CreateChildSteps)
	if !ok {
		t.Fatalf("expected CreateChildSteps for every missing element at once, got %T", action)
	}
	if len(create.Children) != 3 {
		t.Fatalf("expected all 3 elements created in one pass, got %d", len(create.Children))
	}
	for i, child := range create.Children {
		wantPath := fmt.Sprintf("root.andMap.%d", i)
		if child.StatementPath != wantPath {
			t.Errorf("child %d: expected path %s, got %s", i, wantPath, child.StatementPath)
		}
		if child.Scope["item"] != i+1 {
			t.Errorf("child %d: expected item binding %d, got %v", i, i+1, child.Scope["item"])
		}
	}

	action, err = in.Advance(Cursor{FacetName: "DoubleAll", StatementPath: "root"}, &Snapshot{
		Program: idx,
		Scope:   map[string]any{"inputs": map[string]any{"items": []any{1, 2, 3}}},
		Children: map[int]ChildState{
			0: {Exists: true, Completed: true, Outputs: map[string]any{"doubled": 2}},
			1: {Exists: true, Completed: true, Outputs: map[string]any{"doubled": 4}},
			2: {Exists: true, Completed: true, Outputs: map[string]any{"doubled": 6}},
		},
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	mc, ok := action.(MarkComplete)
	if !ok {
		t.Fatalf("expected MarkComplete once all elements finish, got %T", action)
	}
	results, ok := mc.Outputs["results"].([]any)
	if !ok || len(results) != 3 {
		t.Fatalf("expected 3 results, got %v", mc.Outputs["results"])
	}
}

func TestAdvanceAndMapFailFast(t *testing.T) {
	facet := &ast.FacetDecl{
		Name: "DoubleAll",
		Body: &ast.Statement{
			ID:   "root",
			Kind: ast.StmtAndMap,
			AndMap: &ast.AndMap{
				CollectionExpr: "inputs.items",
				BindingName:    "item",
				Body:           ast.Statement{ID: "root.body", Kind: ast.StmtVariableAssignment, VariableAssignment: &ast.VariableAssignment{Name: "x", Expr: "item"}},
			},
		},
	}
	idx := &ast.Index{Facets: map[string]*ast.FacetDecl{"DoubleAll": facet}}
	in := New()

	action, err := in.Advance(Cursor{FacetName: "DoubleAll", StatementPath: "root"}, &Snapshot{
		Program: idx,
		Scope:   map[string]any{"inputs": map[string]any{"items": []any{1, 2}}},
		Children: map[int]ChildState{
			0: {Exists: true, Failed: true, Err: assertErr{"boom"}},
		},
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if _, ok := action.(Fail); !ok {
		t.Fatalf("expected Fail on first failing element, got %T", action)
	}
}

func TestAdvanceAndMatchSelectsCase(t *testing.T) {
	facet := &ast.FacetDecl{
		Name: "Route",
		Body: &ast.Statement{
			ID:   "root",
			Kind: ast.StmtAndMatch,
			AndMatch: &ast.AndMatch{
				DiscriminatorExpr: "inputs.kind",
				Cases: map[string]ast.Statement{
					"refund": {ID: "root.refund", Kind: ast.StmtVariableAssignment, VariableAssignment: &ast.VariableAssignment{Name: "route", Expr: `"refund"`}},
				},
				Default: &ast.Statement{ID: "root.default", Kind: ast.StmtVariableAssignment, VariableAssignment: &ast.VariableAssignment{Name: "route", Expr: `"default"`}},
			},
		},
	}
	idx := &ast.Index{Facets: map[string]*ast.FacetDecl{"Route": facet}}
	in := New()

	action, err := in.Advance(Cursor{FacetName: "Route", StatementPath: "root"}, &Snapshot{
		Program:  idx,
		Scope:    map[string]any{"inputs": map[string]any{"kind": "refund"}},
		Children: map[int]ChildState{},
	})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	create, ok := action.(CreateChildStep)
	if !ok {
		t.Fatalf("expected CreateChildStep, got %T", action)
	}
	if create.StatementPath != "root.refund" {
		t.Errorf("expected matched case root.refund, got %s", create.StatementPath)
	}
}

type assertErr struct{ msg string }

func (a assertErr) Error() string { return a.msg }
