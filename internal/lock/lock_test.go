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

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/agentflow/agentflow/internal/store/memory"
)

func TestAcquireExtendRelease(t *testing.T) {
	m := New(memory.New(), 50*time.Millisecond)
	ctx := context.Background()

	lease, ok, err := m.Acquire(ctx, "flow:1", "runner-a", 0)
	if err != nil || !ok {
		t.Fatalf("expected acquire to succeed: ok=%v err=%v", ok, err)
	}
	if lease.HolderID != "runner-a" {
		t.Errorf("unexpected lease holder: %+v", lease)
	}

	if _, ok, err := m.Acquire(ctx, "flow:1", "runner-b", 0); err != nil || ok {
		t.Fatalf("expected second holder to fail acquiring live lease: ok=%v err=%v", ok, err)
	}

	if _, ok, err := m.Extend(ctx, "flow:1", "runner-a", time.Second); err != nil || !ok {
		t.Fatalf("expected holder to extend its own lease: ok=%v err=%v", ok, err)
	}

	if err := m.Release(ctx, "flow:1", "runner-a"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	checked, err := m.Check(ctx, "flow:1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if checked != nil {
		t.Errorf("expected no lease after release, got %+v", checked)
	}
}

func TestAcquireAfterExpiry(t *testing.T) {
	m := New(memory.New(), time.Millisecond)
	ctx := context.Background()

	if _, ok, err := m.Acquire(ctx, "flow:2", "runner-a", time.Millisecond); err != nil || !ok {
		t.Fatalf("expected first acquire to succeed: ok=%v err=%v", ok, err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, ok, err := m.Acquire(ctx, "flow:2", "runner-b", time.Second); err != nil || !ok {
		t.Fatalf("expected second holder to win after expiry: ok=%v err=%v", ok, err)
	}
}

func TestKeepAliveStopsOnCancel(t *testing.T) {
	m := New(memory.New(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	if _, ok, err := m.Acquire(ctx, "flow:3", "runner-a", time.Second); err != nil || !ok {
		t.Fatalf("expected acquire to succeed: ok=%v err=%v", ok, err)
	}

	errs := m.KeepAlive(ctx, "flow:3", "runner-a", 2*time.Millisecond, time.Second)
	cancel()

	select {
	case err, open := <-errs:
		if open && err != nil {
			t.Errorf("expected clean shutdown, got error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("KeepAlive did not stop after context cancellation")
	}
}
