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

// Package query implements the Query Planner of spec.md §4.4: it resolves
// get / get_size / list_keys / get_by_time requests to either the Delta
// Core's lockless fast path (when the caller wants the current version) or
// a Version Log replay (when the caller wants a specific past version or a
// point in time), optionally waiting on the Frontier Tracker first for
// stable reads. Grounded on persistent_store_impl.hpp's get/get_by_time
// dispatch and the teacher's api/dps/server.go, which performs the same
// "serve from the live index, or fall back to a historical lookup"
// dispatch for its own Register/RegisterAtHeight handlers.
package query

import (
	"context"
	"errors"

	"github.com/cascade-kv/cascade/keyvalue"
	"github.com/cascade-kv/cascade/store/delta"
	"github.com/cascade-kv/cascade/store/frontier"
	"github.com/cascade-kv/cascade/store/versionlog"
)

// ErrKeyAbsent is returned when a requested key has never been written (or
// was written and then removed, which is reported as tombstone-present-but-
// null instead, never as ErrKeyAbsent) as of the resolved version.
var ErrKeyAbsent = errors.New("query: key not present at resolved version")

// ErrStableWaitTimeout is returned when a stable-mode read's wait on the
// Frontier Tracker is cut short by ctx.
var ErrStableWaitTimeout = errors.New("query: timed out waiting for stable frontier")

// Planner serves reads against a shard's Delta Core and Version Log.
type Planner[K keyvalue.Key, V keyvalue.Value[K]] struct {
	core     *delta.Core[K, V]
	log      *versionlog.Log[K, V]
	frontier *frontier.Tracker
}

// New builds a Planner over the given shard components.
func New[K keyvalue.Key, V keyvalue.Value[K]](core *delta.Core[K, V], log *versionlog.Log[K, V], tracker *frontier.Tracker) *Planner[K, V] {
	return &Planner[K, V]{core: core, log: log, frontier: tracker}
}

// resolveStableVersion turns a caller-supplied version (possibly
// keyvalue.CurrentVersion) into a concrete version number per spec.md
// §4.4 step 1: CURRENT resolves to global_persistent for a stable read
// and to local_latest otherwise, since a stable read only ever needs to
// observe what has already reached the persistence frontier. If stable
// reads block past the requested version, wait on the persistent
// frontier; if that wait times out but the version is already locally
// applied, serve it anyway rather than error (spec.md §4.7).
func (p *Planner[K, V]) resolveStableVersion(ctx context.Context, version int64, stable bool) (int64, error) {
	if version == keyvalue.CurrentVersion {
		if stable {
			return p.frontier.GlobalPersistent(), nil
		}
		return p.frontier.LocalLatest(), nil
	}
	if stable {
		if !p.frontier.WaitForGlobalPersistent(ctx, version) && version > p.frontier.LocalLatest() {
			return 0, ErrStableWaitTimeout
		}
	}
	return version, nil
}

// Get resolves a get(key, version, stable, exact) request. If exact is
// set, only the delta committed at exactly version is consulted (spec.md
// §4.4 step 3): it is returned if it belongs to key, otherwise the read
// reports ErrKeyAbsent without falling back to reconstruction.
func (p *Planner[K, V]) Get(ctx context.Context, key K, version int64, stable bool, exact bool) (V, error) {
	resolved, err := p.resolveStableVersion(ctx, version, stable)
	if err != nil {
		var zero V
		return zero, err
	}
	if exact {
		return p.serveExact(resolved, key)
	}
	return p.serve(resolved, func(core *delta.Core[K, V]) (V, error) {
		value, ok := core.LocklessGet(key)
		if !ok {
			var zero V
			return zero, ErrKeyAbsent
		}
		return value, nil
	})
}

// GetSize resolves a get_size(key, version, stable, exact) request. Without
// exact, an absent key or a tombstone both report size 0, matching Delta
// Core's own LocklessGetSize semantics. With exact, a tombstone reports 0,
// while a version whose delta belongs to another key (or has no frame)
// reports ErrKeyAbsent, as Get does.
func (p *Planner[K, V]) GetSize(ctx context.Context, key K, version int64, stable bool, exact bool) (int, error) {
	resolved, err := p.resolveStableVersion(ctx, version, stable)
	if err != nil {
		return 0, err
	}
	if exact {
		value, err := p.serveExact(resolved, key)
		if err != nil {
			return 0, err
		}
		if value.IsNull() {
			return 0, nil
		}
		return value.SerializedSize(), nil
	}
	size := 0
	_, err = p.serveVoid(resolved, func(core *delta.Core[K, V]) error {
		size = core.LocklessGetSize(key)
		return nil
	})
	return size, err
}

// serveExact visits the single delta committed at exactly version and
// returns it only if it belongs to key, the §4.4 step 3 exact-read path.
func (p *Planner[K, V]) serveExact(version int64, key K) (V, error) {
	var result V
	var found bool
	err := p.log.ReadDelta(version, true, func(value V) error {
		if value.GetHeader().Key == key {
			result = value
			found = true
		}
		return nil
	})
	if err != nil {
		var zero V
		if errors.Is(err, versionlog.ErrNotFound) {
			return zero, ErrKeyAbsent
		}
		return zero, err
	}
	if !found {
		var zero V
		return zero, ErrKeyAbsent
	}
	return result, nil
}

// ListKeys resolves a list_keys(prefix, version) request.
func (p *Planner[K, V]) ListKeys(ctx context.Context, prefix string, version int64, stable bool) ([]K, error) {
	resolved, err := p.resolveStableVersion(ctx, version, stable)
	if err != nil {
		return nil, err
	}
	var keys []K
	_, err = p.serveVoid(resolved, func(core *delta.Core[K, V]) error {
		keys = core.LocklessListKeys(prefix)
		return nil
	})
	return keys, err
}

// GetByTime resolves a get_by_time(key, ts_us) request: it first locates
// the version committed at or before ts_us, waiting for the substrate's
// stability watermark to pass ts_us if stable reads were requested, then
// serves that version exactly as Get would.
func (p *Planner[K, V]) GetByTime(ctx context.Context, key K, timestampUS int64, stable bool) (V, error) {
	version, err := p.versionAtTime(ctx, timestampUS, stable)
	if err != nil {
		var zero V
		return zero, err
	}
	return p.Get(ctx, key, version, false, false)
}

// ListKeysByTime resolves a list_keys_by_time(prefix, ts_us) request.
func (p *Planner[K, V]) ListKeysByTime(ctx context.Context, prefix string, timestampUS int64, stable bool) ([]K, error) {
	version, err := p.versionAtTime(ctx, timestampUS, stable)
	if err != nil {
		return nil, err
	}
	return p.ListKeys(ctx, prefix, version, false)
}

func (p *Planner[K, V]) versionAtTime(ctx context.Context, timestampUS int64, stable bool) (int64, error) {
	if stable {
		if !p.frontier.WaitForGlobalStableTimestampNS(ctx, timestampUS*1_000) {
			return 0, ErrStableWaitTimeout
		}
	}
	version, err := p.log.VersionAtTime(timestampUS)
	if err != nil {
		if errors.Is(err, versionlog.ErrNotFound) {
			return 0, ErrKeyAbsent
		}
		return 0, err
	}
	return version, nil
}

// serve picks the lockless fast path when version is the replica's current
// local-latest version, or replays the Version Log up to version
// otherwise, then runs fn against the resulting Delta Core.
func (p *Planner[K, V]) serve(version int64, fn func(*delta.Core[K, V]) (V, error)) (V, error) {
	if version == p.frontier.LocalLatest() {
		return fn(p.core)
	}
	core, err := p.log.Reconstruct(version)
	if err != nil {
		var zero V
		return zero, err
	}
	return fn(core)
}

func (p *Planner[K, V]) serveVoid(version int64, fn func(*delta.Core[K, V]) error) (struct{}, error) {
	if version == p.frontier.LocalLatest() {
		return struct{}{}, fn(p.core)
	}
	core, err := p.log.Reconstruct(version)
	if err != nil {
		return struct{}{}, err
	}
	return struct{}{}, fn(core)
}
