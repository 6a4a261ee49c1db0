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

package delta

import (
	"sync"
	"sync/atomic"

	"github.com/cascade-kv/cascade/keyvalue"
)

// snapshot is the immutable live-map value published through atomic.Value.
// A fresh map is built on every mutation and swapped in; readers that
// already hold a reference keep observing a consistent point-in-time view,
// the same lockless-read discipline as the teacher's state.Core index.
type snapshot[K keyvalue.Key, V keyvalue.Value[K]] map[K]V

func (s snapshot[K, V]) clone() snapshot[K, V] {
	next := make(snapshot[K, V], len(s)+1)
	for k, v := range s {
		next[k] = v
	}
	return next
}

// buffered is one not-yet-flushed delta together with the live-map snapshot
// that preceded it, so Discard can roll the live map back exactly to its
// pre-mutation state (spec.md §4.1, BUFFERED → crash → rollback).
type buffered[K keyvalue.Key, V keyvalue.Value[K]] struct {
	delta Delta
	pre   snapshot[K, V]
}

// Core is the Delta Core: the authoritative in-memory K→V map plus the
// buffer of deltas accumulated since the last flush. Exactly one goroutine
// — the ordered path driven by the Store Engine's substrate delivery loop —
// may call the Ordered* and buffer-lifecycle methods; any number of
// goroutines may call the Lockless* accessors concurrently, grounded on the
// teacher's state.Core single-writer/many-reader split (state/core.go).
type Core[K keyvalue.Key, V keyvalue.Value[K]] struct {
	mu      sync.Mutex
	live    atomic.Value // snapshot[K, V]
	pending []buffered[K, V]
}

// New builds an empty Delta Core.
func New[K keyvalue.Key, V keyvalue.Value[K]]() *Core[K, V] {
	c := &Core[K, V]{}
	c.live.Store(snapshot[K, V]{})
	return c
}

// Load replaces the live map wholesale, used by store/versionlog's
// Reconstruct to seed a Core with the map replayed from the log without
// going through the delta-buffering path.
func (c *Core[K, V]) Load(values map[K]V) {
	snap := make(snapshot[K, V], len(values))
	for k, v := range values {
		snap[k] = v
	}
	c.live.Store(snap)
}

func (c *Core[K, V]) snapshot() snapshot[K, V] {
	return c.live.Load().(snapshot[K, V])
}

// OrderedPut applies a put to the live map if the value's optimistic
// precondition holds against latestVersion (the global last-committed
// version, supplied by the caller) and the per-key last-committed version
// on record. It returns false, with no side effect, if the precondition is
// violated, matching persistent_store_impl.hpp's ordered_put rejection
// path.
func (c *Core[K, V]) OrderedPut(value V, latestVersion int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snapshot()
	header := value.GetHeader()

	lastByKey := keyvalue.InvalidVersion
	if existing, ok := snap[header.Key]; ok {
		lastByKey = existing.GetHeader().Version
	}
	if !header.VerifyPrevious(latestVersion, lastByKey) {
		return false
	}

	next := snap.clone()
	next[header.Key] = value
	c.live.Store(next)

	payload, err := keyvalue.Marshal(value)
	if err != nil {
		// The value was already accepted into the live map for lockless
		// reads; an encode failure here can only mean a non-serializable
		// payload slipped past the engine's own validation, which is a
		// programmer error rather than a runtime condition to recover
		// from.
		panic(err)
	}
	c.pending = append(c.pending, buffered[K, V]{
		delta: Delta{
			Kind:        KindPut,
			Version:     header.Version,
			TimestampUS: header.TimestampUS,
			Key:         header.Key.String(),
			Payload:     payload,
		},
		pre: snap,
	})
	return true
}

// OrderedRemove replaces the live entry for tombstone's key with the
// tombstone itself. It returns false if the key is not currently present,
// matching persistent_store_impl.hpp's ordered_remove no-op-on-absent
// behaviour; removing an absent key produces no delta.
func (c *Core[K, V]) OrderedRemove(tombstone V, latestVersion int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snapshot()
	header := tombstone.GetHeader()

	existing, ok := snap[header.Key]
	if !ok || existing.IsNull() {
		return false
	}

	next := snap.clone()
	next[header.Key] = tombstone
	c.live.Store(next)

	payload, err := keyvalue.Marshal(tombstone)
	if err != nil {
		panic(err)
	}
	c.pending = append(c.pending, buffered[K, V]{
		delta: Delta{
			Kind:        KindRemove,
			Version:     header.Version,
			TimestampUS: header.TimestampUS,
			Key:         header.Key.String(),
			Payload:     payload,
		},
		pre: snap,
	})
	return true
}

// Flush drains and returns the pending deltas in commit order, leaving the
// live map untouched: the caller (Store Engine) is expected to have already
// durably appended them to the Version Log by the time Flush is called.
func (c *Core[K, V]) Flush() []Delta {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Delta, len(c.pending))
	for i, b := range c.pending {
		out[i] = b.delta
	}
	c.pending = nil
	return out
}

// Discard rolls the live map back to the snapshot that preceded the first
// still-buffered delta and drops the buffer, used when the Version Log
// append that should have made a buffered batch durable fails (spec.md §7,
// LogCorruption on the local write path).
func (c *Core[K, V]) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) > 0 {
		c.live.Store(c.pending[0].pre)
	}
	c.pending = nil
}

// LocklessGet returns the current value for key without taking the writer
// latch. ok is false only if the key has never been written; a tombstone is
// reported with ok true and value.IsNull() true.
func (c *Core[K, V]) LocklessGet(key K) (value V, ok bool) {
	snap := c.snapshot()
	value, ok = snap[key]
	return value, ok
}

// LocklessGetSize returns SerializedSize() for key, or 0 if the key is
// absent or a tombstone.
func (c *Core[K, V]) LocklessGetSize(key K) int {
	value, ok := c.LocklessGet(key)
	if !ok || value.IsNull() {
		return 0
	}
	return value.SerializedSize()
}

// LocklessListKeys returns every live (non-tombstone) key whose string form
// has the given prefix, in unspecified order; the Query Planner returns
// them in that order, unsorted.
func (c *Core[K, V]) LocklessListKeys(prefix string) []K {
	snap := c.snapshot()
	keys := make([]K, 0, len(snap))
	for k, v := range snap {
		if v.IsNull() {
			continue
		}
		if keyvalue.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// OrderedGet, OrderedGetSize and OrderedListKeys serve the "see my own
// writes" query path (spec.md §4.4): since every mutation is applied to the
// live map synchronously before OrderedPut/OrderedRemove returns, the
// ordered path observes identical state to the lockless path and can reuse
// it directly.
func (c *Core[K, V]) OrderedGet(key K) (value V, ok bool)   { return c.LocklessGet(key) }
func (c *Core[K, V]) OrderedGetSize(key K) int               { return c.LocklessGetSize(key) }
func (c *Core[K, V]) OrderedListKeys(prefix string) []K       { return c.LocklessListKeys(prefix) }

// Len reports the number of keys currently tracked, tombstones included.
func (c *Core[K, V]) Len() int {
	return len(c.snapshot())
}
