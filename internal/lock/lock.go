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

// Package lock provides a keyed lease primitive backed by store.LockStore:
// acquire, release, extend, and check on a namespaced key, with expiry
// substituting for liveness detection instead of a session or connection
// being held open.
package lock

import (
	"context"
	"time"

	"github.com/agentflow/agentflow/internal/store"
)

// Lease represents ownership of a key for a bounded duration.
type Lease struct {
	Key       string
	HolderID  string
	ExpiresAt time.Time
}

// Manager acquires, extends, and releases leases against a backing store.
type Manager struct {
	backend store.LockStore
	// DefaultDuration is used by Acquire when the caller passes zero.
	DefaultDuration time.Duration
}

// New returns a Manager over backend.
func New(backend store.LockStore, defaultDuration time.Duration) *Manager {
	return &Manager{backend: backend, DefaultDuration: defaultDuration}
}

// Acquire attempts to take key for holderID for duration (or
// DefaultDuration if zero). It succeeds if the key is unheld, already
// expired, or already held by holderID (idempotent re-acquire). It does
// not block or retry; the caller decides whether to poll.
func (m *Manager) Acquire(ctx context.Context, key, holderID string, duration time.Duration) (*Lease, bool, error) {
	if duration <= 0 {
		duration = m.DefaultDuration
	}
	expiresAt := time.Now().UTC().Add(duration)
	ok, err := m.backend.AcquireLock(ctx, key, holderID, expiresAt)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{Key: key, HolderID: holderID, ExpiresAt: expiresAt}, true, nil
}

// Extend pushes a held lease's expiry out by duration from now. It fails
// (returns false) if holderID does not currently hold key.
func (m *Manager) Extend(ctx context.Context, key, holderID string, duration time.Duration) (*Lease, bool, error) {
	if duration <= 0 {
		duration = m.DefaultDuration
	}
	expiresAt := time.Now().UTC().Add(duration)
	ok, err := m.backend.ExtendLock(ctx, key, holderID, expiresAt)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{Key: key, HolderID: holderID, ExpiresAt: expiresAt}, true, nil
}

// Release gives up a held lease. Releasing a key held by a different
// holder is a no-op from the caller's perspective if the key is already
// gone, and an error (store.ErrConflict) if someone else genuinely holds it.
func (m *Manager) Release(ctx context.Context, key, holderID string) error {
	return m.backend.ReleaseLock(ctx, key, holderID)
}

// Check reports the current lease for key, if any, without acquiring it.
// A nil lease with no error means the key is unheld.
func (m *Manager) Check(ctx context.Context, key string) (*Lease, error) {
	l, err := m.backend.GetLock(ctx, key)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if l.ExpiresAt.Before(time.Now().UTC()) {
		return nil, nil
	}
	return &Lease{Key: l.Key, HolderID: l.HolderID, ExpiresAt: l.ExpiresAt}, nil
}

// KeepAlive extends key for holderID every interval until ctx is
// canceled or a single extend attempt fails to confirm ownership, in
// which case it returns the failure on the returned channel and stops.
// This is the long-running pattern a runner uses to hold a lock for the
// duration of a workflow it owns, generalized from the teacher's leader
// elector re-acquiring its advisory lock on a ticker.
func (m *Manager) KeepAlive(ctx context.Context, key, holderID string, interval, duration time.Duration) <-chan error {
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, ok, err := m.Extend(ctx, key, holderID, duration)
				if err != nil {
					errs <- err
					return
				}
				if !ok {
					errs <- store.ErrConflict
					return
				}
			}
		}
	}()
	return errs
}
