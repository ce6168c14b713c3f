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

package postgres

import (
	"os"
	"testing"

	"github.com/agentflow/agentflow/internal/store"
)

func TestPQStringArray(t *testing.T) {
	got := pqStringArray([]string{"billing", "review"})
	want := `{"billing","review"}`
	if got != want {
		t.Errorf("pqStringArray = %q, want %q", got, want)
	}
}

func TestPQStringArrayEscapesQuotes(t *testing.T) {
	got := pqStringArray([]string{`weird"topic`})
	want := `{"weird\"topic"}`
	if got != want {
		t.Errorf("pqStringArray = %q, want %q", got, want)
	}
}

// TestOpenAndCRUD exercises the real backend against AGENTFLOW_TEST_POSTGRES_DSN
// when set, and is skipped otherwise — there is no embedded PostgreSQL in
// this module's test environment, unlike sqlite which runs in-process.
func TestOpenAndCRUD(t *testing.T) {
	dsn := os.Getenv("AGENTFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AGENTFLOW_TEST_POSTGRES_DSN not set")
	}

	s, err := Open(Config{ConnectionString: dsn})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := t.Context()
	f := &store.Flow{ID: "f1", Name: "AddOneFlow", Version: 1, Declaration: []byte(`{}`)}
	if err := s.CreateFlow(ctx, f); err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}
	got, err := s.GetFlow(ctx, "f1")
	if err != nil {
		t.Fatalf("GetFlow: %v", err)
	}
	if got.Name != "AddOneFlow" {
		t.Errorf("unexpected flow: %+v", got)
	}
}
