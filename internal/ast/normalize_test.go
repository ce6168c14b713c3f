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
	"testing"
)

const legacyFlow = `{
	"facets": [
		{"name": "AddOne", "params": [{"name": "n", "paramType": "number"}], "returns": [{"name": "result", "paramType": "number"}]}
	],
	"workflows": [
		{"name": "AddOneFlow", "facetName": "AddOne", "version": 1, "startingRef": "andThen.0"}
	],
	"implicits": [
		{"path": "retries", "value": 3}
	]
}`

const canonicalFlow = `{
	"type": "Program",
	"declarations": [
		{"type": "FacetDecl", "name": "AddOne", "params": [], "returns": []},
		{"type": "WorkflowDecl", "name": "AddOneFlow", "facetName": "AddOne", "version": 1, "startingRef": "andThen.0"}
	]
}`

func TestNormalizeLegacyShape(t *testing.T) {
	p, err := Normalize([]byte(legacyFlow))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(p.Declarations) != 3 {
		t.Fatalf("expected 3 declarations, got %d", len(p.Declarations))
	}
	idx := BuildIndex(p)
	if _, ok := idx.Facets["AddOne"]; !ok {
		t.Errorf("expected facet AddOne indexed")
	}
	if _, ok := idx.Workflows["AddOneFlow"]; !ok {
		t.Errorf("expected workflow AddOneFlow indexed")
	}
	if _, ok := idx.Implicits["retries"]; !ok {
		t.Errorf("expected implicit retries indexed")
	}
}

func TestNormalizeCanonicalShape(t *testing.T) {
	p, err := Normalize([]byte(canonicalFlow))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(p.Declarations) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(p.Declarations))
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	first, err := Normalize([]byte(legacyFlow))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	encoded, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	second, err := Normalize(encoded)
	if err != nil {
		t.Fatalf("Normalize(re-encoded): %v", err)
	}
	reEncoded, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	if string(encoded) != string(reEncoded) {
		t.Errorf("normalize is not idempotent:\n  first:  %s\n  second: %s", encoded, reEncoded)
	}
}

func TestNormalizeNestedNamespace(t *testing.T) {
	raw := `{
		"namespaces": [
			{"name": "billing", "facets": [{"name": "Charge", "params": [], "returns": []}]}
		]
	}`
	p, err := Normalize([]byte(raw))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	idx := BuildIndex(p)
	if _, ok := idx.Facets["billing.Charge"]; !ok {
		t.Errorf("expected facet indexed under dotted namespace path, got %v", idx.Facets)
	}
}

func TestNormalizeInvalidJSON(t *testing.T) {
	if _, err := Normalize([]byte("not json")); err == nil {
		t.Errorf("expected error for invalid JSON")
	}
}

func TestDeclarationRoundTrip(t *testing.T) {
	d := Declaration{Kind: DeclWorkflow, Workflow: &WorkflowDecl{Name: "W", FacetName: "F", Version: 1, StartingRef: "andThen.0"}}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var round Declaration
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if round.Workflow == nil || round.Workflow.Name != "W" {
		t.Errorf("round trip lost workflow payload: %+v", round)
	}
}

func TestStatementRoundTrip(t *testing.T) {
	s := Statement{ID: "andThen.0", Kind: StmtAndMap, AndMap: &AndMap{
		CollectionExpr: "inputs.items",
		BindingName:    "item",
		Body:           Statement{ID: "andThen.0.andMap.0", Kind: StmtVariableAssignment, VariableAssignment: &VariableAssignment{Name: "x", Expr: "item.value"}},
	}}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var round Statement
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if round.AndMap == nil || round.AndMap.BindingName != "item" {
		t.Errorf("round trip lost andMap payload: %+v", round)
	}
	if round.AndMap.Body.VariableAssignment == nil || round.AndMap.Body.VariableAssignment.Name != "x" {
		t.Errorf("round trip lost nested body: %+v", round.AndMap.Body)
	}
}
