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

package engineerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewAndError(t *testing.T) {
	err := New(KindValidation, "arity mismatch")
	if err.Error() != "validation: arity mismatch" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap(KindAgent, "step-1", nil) != nil {
		t.Errorf("expected Wrap(nil) to return nil")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(KindAgent, "review-step", cause)
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find wrapped cause")
	}
}

func TestIs(t *testing.T) {
	err := New(KindTimeout, "stale claim")
	if !Is(err, KindTimeout) {
		t.Errorf("expected Is(err, KindTimeout) to be true")
	}
	if Is(err, KindAgent) {
		t.Errorf("expected Is(err, KindAgent) to be false")
	}
	if Is(fmt.Errorf("plain"), KindTimeout) {
		t.Errorf("expected plain error to never match a Kind")
	}
}

func TestRetryable(t *testing.T) {
	cases := map[Kind]bool{
		KindTimeout:    true,
		KindContention: true,
		KindAgent:      false,
		KindCancelled:  false,
		KindInternal:   false,
	}
	for kind, want := range cases {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
}
