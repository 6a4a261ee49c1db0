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

package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascade-kv/cascade/keyvalue"
	"github.com/cascade-kv/cascade/rawlog"
	"github.com/cascade-kv/cascade/store/delta"
	"github.com/cascade-kv/cascade/store/frontier"
	"github.com/cascade-kv/cascade/store/query"
	"github.com/cascade-kv/cascade/store/versionlog"
)

type blob = keyvalue.BlobValue[keyvalue.Uint64Key]

func newBlob() *blob { return &blob{} }

func setup(t *testing.T) (*delta.Core[keyvalue.Uint64Key, *blob], *versionlog.Log[keyvalue.Uint64Key, *blob], *frontier.Tracker) {
	t.Helper()
	core := delta.New[keyvalue.Uint64Key, *blob]()
	log, err := versionlog.Open[keyvalue.Uint64Key, *blob](rawlog.NewMemLog(), "", newBlob)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	tracker := frontier.New()
	return core, log, tracker
}

func commit(t *testing.T, core *delta.Core[keyvalue.Uint64Key, *blob], log *versionlog.Log[keyvalue.Uint64Key, *blob], tracker *frontier.Tracker, key keyvalue.Uint64Key, payload []byte, version, ts int64) {
	t.Helper()
	v := &blob{Header: keyvalue.NewHeader(key, keyvalue.InvalidVersion, keyvalue.InvalidVersion), Bytes: payload}
	v.Stamp(version, ts)
	ok := core.OrderedPut(v, version-1)
	require.True(t, ok)
	require.NoError(t, log.Append(core.Flush()))
	tracker.AdvanceLocalLatest(version)
	tracker.AdvanceGlobalStable(version)
	tracker.AdvanceGlobalPersistent(version)
	tracker.AdvanceGlobalStableTimestampNS(ts * 1_000)
}

// commitRemove commits a tombstone for key, mirroring commit but through
// OrderedRemove instead of OrderedPut.
func commitRemove(t *testing.T, core *delta.Core[keyvalue.Uint64Key, *blob], log *versionlog.Log[keyvalue.Uint64Key, *blob], tracker *frontier.Tracker, key keyvalue.Uint64Key, version, ts int64) {
	t.Helper()
	tombstone := &blob{Header: keyvalue.NewHeader(key, keyvalue.InvalidVersion, keyvalue.InvalidVersion)}
	tombstone.Stamp(version, ts)
	ok := core.OrderedRemove(tombstone, version-1)
	require.True(t, ok)
	require.NoError(t, log.Append(core.Flush()))
	tracker.AdvanceLocalLatest(version)
	tracker.AdvanceGlobalStable(version)
	tracker.AdvanceGlobalPersistent(version)
	tracker.AdvanceGlobalStableTimestampNS(ts * 1_000)
}

func TestPlannerGetCurrentVersionUsesLocklessPath(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("a"), 0, 1_000)
	commit(t, core, log, tracker, 1, []byte("a2"), 1, 2_000)

	planner := query.New(core, log, tracker)
	v, err := planner.Get(context.Background(), 1, keyvalue.CurrentVersion, false, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("a2"), v.Payload())
}

func TestPlannerGetHistoricalVersionReplaysLog(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("a"), 0, 1_000)
	commit(t, core, log, tracker, 1, []byte("a2"), 1, 2_000)

	planner := query.New(core, log, tracker)
	v, err := planner.Get(context.Background(), 1, 0, false, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v.Payload())
}

func TestPlannerGetAbsentKey(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("a"), 0, 1_000)

	planner := query.New(core, log, tracker)
	_, err := planner.Get(context.Background(), 99, keyvalue.CurrentVersion, false, false)
	assert.ErrorIs(t, err, query.ErrKeyAbsent)
}

func TestPlannerGetSizeAbsentKeyIsZeroNotError(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("a"), 0, 1_000)

	planner := query.New(core, log, tracker)
	size, err := planner.GetSize(context.Background(), 99, keyvalue.CurrentVersion, false, false)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestPlannerGetExactMatchesCommittedVersion(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("v1"), 0, 1_000)

	planner := query.New(core, log, tracker)
	v, err := planner.Get(context.Background(), 1, 0, false, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v.Payload())
}

func TestPlannerGetExactRejectsVersionBelongingToOtherKey(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("a"), 0, 1_000)
	commit(t, core, log, tracker, 2, []byte("b"), 1, 2_000)

	planner := query.New(core, log, tracker)
	_, err := planner.Get(context.Background(), 1, 1, false, true)
	assert.ErrorIs(t, err, query.ErrKeyAbsent)
}

func TestPlannerGetExactUnknownVersionIsKeyAbsent(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("a"), 0, 1_000)

	planner := query.New(core, log, tracker)
	_, err := planner.Get(context.Background(), 1, 9, false, true)
	assert.ErrorIs(t, err, query.ErrKeyAbsent)
}

func TestPlannerGetExactHistoricalTombstoneIsNullNotError(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("a"), 0, 1_000)
	commitRemove(t, core, log, tracker, 1, 1, 2_000)

	planner := query.New(core, log, tracker)
	v, err := planner.Get(context.Background(), 1, 1, false, true)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestPlannerGetSizeExactTombstoneIsZero(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("a"), 0, 1_000)
	commitRemove(t, core, log, tracker, 1, 1, 2_000)

	planner := query.New(core, log, tracker)
	size, err := planner.GetSize(context.Background(), 1, 1, false, true)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestPlannerGetStableCurrentResolvesToGlobalPersistentNotLocalLatest(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("v1"), 0, 1_000)

	// Apply a second version locally without advancing the persistent
	// frontier, simulating a lagging peer the shard hasn't heard back
	// from yet.
	v2 := &blob{Header: keyvalue.NewHeader(keyvalue.Uint64Key(1), keyvalue.InvalidVersion, keyvalue.InvalidVersion), Bytes: []byte("v2")}
	v2.Stamp(1, 2_000)
	require.True(t, core.OrderedPut(v2, 0))
	require.NoError(t, log.Append(core.Flush()))
	tracker.AdvanceLocalLatest(1)

	planner := query.New(core, log, tracker)
	v, err := planner.Get(context.Background(), 1, keyvalue.CurrentVersion, true, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v.Payload())
}

func TestPlannerGetStableBlocksThenResolvesOnceFrontierAdvances(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("v1"), 0, 1_000)

	v2 := &blob{Header: keyvalue.NewHeader(keyvalue.Uint64Key(1), keyvalue.InvalidVersion, keyvalue.InvalidVersion), Bytes: []byte("v2")}
	v2.Stamp(1, 2_000)
	require.True(t, core.OrderedPut(v2, 0))
	require.NoError(t, log.Append(core.Flush()))
	tracker.AdvanceLocalLatest(1)

	planner := query.New(core, log, tracker)

	done := make(chan struct{})
	var v *blob
	var err error
	go func() {
		v, err = planner.Get(context.Background(), 1, 1, true, false)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("stable read returned before the persistent frontier advanced")
	case <-time.After(20 * time.Millisecond):
	}

	tracker.AdvanceGlobalPersistent(1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stable read did not unblock after the persistent frontier advanced")
	}
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v.Payload())
}

func TestPlannerGetStableTimeoutServesAlreadyAppliedVersion(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("v1"), 0, 1_000)

	// Apply a second version locally without ever advancing the
	// persistent frontier past it, so a stable wait on it can never
	// succeed on its own.
	v2 := &blob{Header: keyvalue.NewHeader(keyvalue.Uint64Key(1), keyvalue.InvalidVersion, keyvalue.InvalidVersion), Bytes: []byte("v2")}
	v2.Stamp(1, 2_000)
	require.True(t, core.OrderedPut(v2, 0))
	require.NoError(t, log.Append(core.Flush()))
	tracker.AdvanceLocalLatest(1)

	planner := query.New(core, log, tracker)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	v, err := planner.Get(ctx, 1, 1, true, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v.Payload())
}

func TestPlannerGetByTimeResolvesVersionAtOrBeforeTimestamp(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("a"), 0, 1_000)
	commit(t, core, log, tracker, 1, []byte("a2"), 1, 5_000)

	planner := query.New(core, log, tracker)
	v, err := planner.GetByTime(context.Background(), 1, 3_000, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v.Payload())
}

func TestPlannerListKeys(t *testing.T) {
	core, log, tracker := setup(t)
	commit(t, core, log, tracker, 1, []byte("a"), 0, 1_000)
	commit(t, core, log, tracker, 2, []byte("b"), 1, 2_000)

	planner := query.New(core, log, tracker)
	keys, err := planner.ListKeys(context.Background(), "", keyvalue.CurrentVersion, false)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
