// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package frontier implements the Frontier Tracker of spec.md §4.5: three
// monotonic counters — the local replica's latest applied version, and the
// shard-wide stable and persistent frontiers reported by the broadcast
// substrate — plus blocking waits for a stable-read caller that needs a
// given version to have crossed the persistent frontier. Grounded on the
// teacher's service/tracker/execution.go, which tracks an analogous
// "execution has reached height N" frontier and lets callers block on it.
package frontier

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cascade-kv/cascade/keyvalue"
)

// Tracker holds the three frontiers a replica needs to serve queries at the
// right consistency level and to know when it may safely truncate its log
// or acknowledge a durable write back to a client.
type Tracker struct {
	mu   sync.Mutex
	cond *sync.Cond

	localLatest      atomic.Int64
	globalStable     atomic.Int64
	globalPersistent atomic.Int64

	globalStableTimestampNS atomic.Int64

	closed bool
}

// New builds a Tracker with every frontier at the invalid-version sentinel.
func New() *Tracker {
	t := &Tracker{}
	t.cond = sync.NewCond(&t.mu)
	t.localLatest.Store(keyvalue.InvalidVersion)
	t.globalStable.Store(keyvalue.InvalidVersion)
	t.globalPersistent.Store(keyvalue.InvalidVersion)
	return t
}

// LocalLatest returns the highest version this replica has applied locally.
func (t *Tracker) LocalLatest() int64 { return t.localLatest.Load() }

// GlobalStable returns the highest version every replica in the shard has
// applied (but not necessarily persisted).
func (t *Tracker) GlobalStable() int64 { return t.globalStable.Load() }

// GlobalPersistent returns the highest version every replica in the shard
// has durably persisted.
func (t *Tracker) GlobalPersistent() int64 { return t.globalPersistent.Load() }

// GlobalStableTimestampNS returns the broadcast substrate's stability
// frontier, the watermark below which no further deliveries with an
// earlier timestamp can arrive (used to resolve "as of now" time queries
// without waiting).
func (t *Tracker) GlobalStableTimestampNS() int64 { return t.globalStableTimestampNS.Load() }

// AdvanceLocalLatest raises the local frontier to v if v is newer, and
// wakes any waiters so they can re-check their condition.
func (t *Tracker) AdvanceLocalLatest(v int64) {
	t.advance(&t.localLatest, v)
}

// AdvanceGlobalStable raises the global-stable frontier to v if v is newer.
func (t *Tracker) AdvanceGlobalStable(v int64) {
	t.advance(&t.globalStable, v)
}

// AdvanceGlobalPersistent raises the global-persistent frontier to v if v
// is newer.
func (t *Tracker) AdvanceGlobalPersistent(v int64) {
	t.advance(&t.globalPersistent, v)
}

// AdvanceGlobalStableTimestampNS raises the substrate's stability watermark.
func (t *Tracker) AdvanceGlobalStableTimestampNS(ns int64) {
	t.advance(&t.globalStableTimestampNS, ns)
}

func (t *Tracker) advance(counter *atomic.Int64, v int64) {
	t.mu.Lock()
	if v > counter.Load() {
		counter.Store(v)
	}
	t.cond.Broadcast()
	t.mu.Unlock()
}

// WaitForGlobalPersistent blocks until GlobalPersistent() >= v, ctx is
// cancelled, or the tracker is closed. It returns false in the latter two
// cases. A v of keyvalue.InvalidVersion or keyvalue.CurrentVersion is
// satisfied immediately: spec.md §4.3's "stable read" mode only waits on a
// version a caller actually observed.
func (t *Tracker) WaitForGlobalPersistent(ctx context.Context, v int64) bool {
	if v == keyvalue.InvalidVersion || v == keyvalue.CurrentVersion {
		return true
	}

	// sync.Cond has no context awareness, so a watcher goroutine turns ctx
	// cancellation into a broadcast the waiting loop below can observe; it
	// exits via stop as soon as this call returns by any path.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		case <-stop:
		}
	}()

	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.closed && t.globalPersistent.Load() < v {
		if ctx.Err() != nil {
			return false
		}
		t.cond.Wait()
	}
	return !t.closed && t.globalPersistent.Load() >= v
}

// WaitForGlobalStableTimestampNS blocks until GlobalStableTimestampNS() >=
// ns, ctx is cancelled, or the tracker is closed, the primitive a
// stable-mode time-travel query waits on before resolving a version at a
// given wall-clock time: it ensures no delivery with an earlier timestamp
// can still arrive (spec.md §4.4/§4.5).
func (t *Tracker) WaitForGlobalStableTimestampNS(ctx context.Context, ns int64) bool {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		case <-stop:
		}
	}()

	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.closed && t.globalStableTimestampNS.Load() < ns {
		if ctx.Err() != nil {
			return false
		}
		t.cond.Wait()
	}
	return !t.closed && t.globalStableTimestampNS.Load() >= ns
}

// Close unblocks every waiter permanently, used during replica shutdown.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.cond.Broadcast()
	t.mu.Unlock()
}
