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

package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascade-kv/cascade/keyvalue"
	"github.com/cascade-kv/cascade/rawlog"
	"github.com/cascade-kv/cascade/store/delta"
	"github.com/cascade-kv/cascade/store/dispatch"
	"github.com/cascade-kv/cascade/store/engine"
	"github.com/cascade-kv/cascade/store/frontier"
	"github.com/cascade-kv/cascade/store/versionlog"
	"github.com/cascade-kv/cascade/substrate"
)

type blob = keyvalue.BlobValue[keyvalue.Uint64Key]

func newBlob() *blob { return &blob{} }

// syncSubstrate is a single-replica, in-process stand-in for a real atomic
// broadcast substrate: it assigns the next version to each Send, queues
// the delivery for Engine.Run to consume, and gives that goroutine a brief
// moment to apply it before returning. Engine.submit's own waitResult is
// the real synchronization point a caller relies on; this sleep only keeps
// the fake from racing arbitrarily far ahead of Engine.Run in a tight loop.
type syncSubstrate struct {
	mu      sync.Mutex
	next    int64
	deliver chan substrate.Delivery
}

func newSyncSubstrate() *syncSubstrate {
	return &syncSubstrate{deliver: make(chan substrate.Delivery, 16)}
}

func (s *syncSubstrate) Deliver(context.Context) (<-chan substrate.Delivery, error) {
	return s.deliver, nil
}

func (s *syncSubstrate) CurrentVersion() (int64, int64) { return s.next, 0 }

func (s *syncSubstrate) WaitForGlobalPersistenceFrontier(context.Context, int64) bool {
	return true
}

func (s *syncSubstrate) GlobalStabilityFrontierNS() int64 { return 0 }

func (s *syncSubstrate) Send(ctx context.Context, message []byte) (int64, int64, error) {
	s.mu.Lock()
	version := s.next
	s.next++
	s.mu.Unlock()

	timestampUS := version * 1000
	s.deliver <- substrate.Delivery{Version: version, TimestampUS: timestampUS, Message: message}
	time.Sleep(5 * time.Millisecond)
	return version, timestampUS, nil
}

func newTestEngine(t *testing.T) (*engine.Engine[keyvalue.Uint64Key, *blob], *syncSubstrate) {
	t.Helper()

	core := delta.New[keyvalue.Uint64Key, *blob]()
	vlog, err := versionlog.Open[keyvalue.Uint64Key, *blob](rawlog.NewMemLog(), "", newBlob)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vlog.Close() })

	tracker := frontier.New()
	registry := dispatch.NewRegistry()
	dispatcher := dispatch.New(dispatch.DefaultConfig(), registry, zerolog.Nop())
	t.Cleanup(dispatcher.Stop)

	sub := newSyncSubstrate()
	e := engine.New[keyvalue.Uint64Key, *blob](core, vlog, tracker, dispatcher, sub, newBlob, 0, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = e.Run(ctx) }()

	return e, sub
}

func newValue(key keyvalue.Uint64Key, payload []byte, prevGlobal, prevByKey int64) *blob {
	return &blob{Header: keyvalue.NewHeader(key, prevGlobal, prevByKey), Bytes: payload}
}

func TestEnginePutAndGet(t *testing.T) {
	e, _ := newTestEngine(t)

	version, err := e.Put(context.Background(), newValue(1, []byte("hello"), keyvalue.InvalidVersion, keyvalue.InvalidVersion), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)

	got, err := e.Get(context.Background(), 1, keyvalue.CurrentVersion, false, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Payload())
}

func TestEngineOptimisticRejection(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Put(context.Background(), newValue(1, []byte("a"), keyvalue.InvalidVersion, keyvalue.InvalidVersion), 1)
	require.NoError(t, err)

	_, err = e.Put(context.Background(), newValue(1, []byte("a2"), 0, 0), 1)
	require.NoError(t, err)

	// A third writer whose observed previous version (0) is now stale,
	// since version 1 has since been committed for this key, must be
	// rejected.
	_, err = e.Put(context.Background(), newValue(1, []byte("b"), 0, 0), 1)
	require.Error(t, err)

	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engine.OptimisticRejected, engErr.Kind)
}

func TestEngineRemove(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Put(context.Background(), newValue(1, []byte("a"), keyvalue.InvalidVersion, keyvalue.InvalidVersion), 1)
	require.NoError(t, err)

	tombstone := keyvalue.NullFor[keyvalue.Uint64Key](1)
	tombstone.PreviousVersion = 0
	tombstone.PreviousVersionByKey = 0
	_, err = e.Remove(context.Background(), &tombstone, 1)
	require.NoError(t, err)

	got, err := e.Get(context.Background(), 1, keyvalue.CurrentVersion, false, false)
	require.NoError(t, err)
	assert.True(t, got.IsNull())
}

func TestEngineGetAbsentKey(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Get(context.Background(), 99, keyvalue.CurrentVersion, false, false)
	require.Error(t, err)

	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engine.KeyAbsent, engErr.Kind)
}

func TestEngineGetExactMatchesCommittedVersion(t *testing.T) {
	e, _ := newTestEngine(t)

	version, err := e.Put(context.Background(), newValue(1, []byte("v1"), keyvalue.InvalidVersion, keyvalue.InvalidVersion), 1)
	require.NoError(t, err)

	got, err := e.Get(context.Background(), 1, version, false, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got.Payload())
}

func TestEngineGetExactRejectsVersionBelongingToOtherKey(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Put(context.Background(), newValue(1, []byte("a"), keyvalue.InvalidVersion, keyvalue.InvalidVersion), 1)
	require.NoError(t, err)
	version2, err := e.Put(context.Background(), newValue(2, []byte("b"), keyvalue.InvalidVersion, keyvalue.InvalidVersion), 1)
	require.NoError(t, err)

	_, err = e.Get(context.Background(), 1, version2, false, true)
	require.Error(t, err)

	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engine.KeyAbsent, engErr.Kind)
}

func TestEngineGetSizeExactReportsTombstoneAsZero(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Put(context.Background(), newValue(1, []byte("a"), keyvalue.InvalidVersion, keyvalue.InvalidVersion), 1)
	require.NoError(t, err)

	tombstone := keyvalue.NullFor[keyvalue.Uint64Key](1)
	tombstone.PreviousVersion = 0
	tombstone.PreviousVersionByKey = 0
	removeVersion, err := e.Remove(context.Background(), &tombstone, 1)
	require.NoError(t, err)

	size, err := e.GetSize(context.Background(), 1, removeVersion, false, true)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}
