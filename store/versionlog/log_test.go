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

package versionlog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascade-kv/cascade/keyvalue"
	"github.com/cascade-kv/cascade/rawlog"
	"github.com/cascade-kv/cascade/store/delta"
	"github.com/cascade-kv/cascade/store/versionlog"
)

type blob = keyvalue.BlobValue[keyvalue.Uint64Key]

func newBlob() *blob { return &blob{} }

func putDelta(t *testing.T, key keyvalue.Uint64Key, payload []byte, version, ts int64) delta.Delta {
	t.Helper()
	v := &blob{
		Header: keyvalue.NewHeader(key, keyvalue.InvalidVersion, keyvalue.InvalidVersion),
		Bytes:  payload,
	}
	v.Stamp(version, ts)
	encoded, err := keyvalue.Marshal(v)
	require.NoError(t, err)
	return delta.Delta{Kind: delta.KindPut, Version: version, TimestampUS: ts, Key: key.String(), Payload: encoded}
}

func openLog(t *testing.T) *versionlog.Log[keyvalue.Uint64Key, *blob] {
	t.Helper()
	log, err := versionlog.Open[keyvalue.Uint64Key, *blob](rawlog.NewMemLog(), "", newBlob)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestLogAppendAndReadExact(t *testing.T) {
	log := openLog(t)

	d0 := putDelta(t, 1, []byte("a"), 0, 1_000)
	d1 := putDelta(t, 2, []byte("b"), 1, 2_000)
	require.NoError(t, log.Append([]delta.Delta{d0, d1}))

	assert.Equal(t, int64(1), log.LatestVersion())

	var got *blob
	err := log.ReadDelta(1, true, func(v *blob) error {
		got = v
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("b"), got.Payload())
}

func TestLogReadDeltaNotFound(t *testing.T) {
	log := openLog(t)
	err := log.ReadDelta(5, true, func(*blob) error { return nil })
	assert.ErrorIs(t, err, versionlog.ErrNotFound)
}

func TestLogReconstructReplaysLiveMap(t *testing.T) {
	log := openLog(t)

	d0 := putDelta(t, 1, []byte("a"), 0, 1_000)
	d1 := putDelta(t, 1, []byte("a2"), 1, 2_000)
	d2 := putDelta(t, 2, []byte("b"), 2, 3_000)
	require.NoError(t, log.Append([]delta.Delta{d0, d1, d2}))

	core, err := log.Reconstruct(2)
	require.NoError(t, err)

	v1, ok := core.LocklessGet(1)
	require.True(t, ok)
	assert.Equal(t, []byte("a2"), v1.Payload())

	v2, ok := core.LocklessGet(2)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), v2.Payload())
}

func TestLogVersionAtTime(t *testing.T) {
	log := openLog(t)

	d0 := putDelta(t, 1, []byte("a"), 0, 1_000)
	d1 := putDelta(t, 1, []byte("a2"), 1, 5_000)
	require.NoError(t, log.Append([]delta.Delta{d0, d1}))

	version, err := log.VersionAtTime(3_000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)

	version, err = log.VersionAtTime(9_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	_, err = log.VersionAtTime(500)
	assert.ErrorIs(t, err, versionlog.ErrNotFound)
}

func TestLogTruncatesTornTailFrameOnReopen(t *testing.T) {
	raw := rawlog.NewMemLog()
	log, err := versionlog.Open[keyvalue.Uint64Key, *blob](raw, "", newBlob)
	require.NoError(t, err)

	d0 := putDelta(t, 1, []byte("a"), 0, 1_000)
	require.NoError(t, log.Append([]delta.Delta{d0}))
	require.NoError(t, log.Close())

	sizeBeforeTear, err := raw.Size()
	require.NoError(t, err)

	// Simulate a crash mid-write: append a few garbage bytes that look like
	// the start of a frame length prefix but have no complete frame behind
	// them.
	_, err = raw.Append([]byte{0, 0, 0, 100})
	require.NoError(t, err)

	reopened, err := versionlog.Open[keyvalue.Uint64Key, *blob](raw, "", newBlob)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, int64(0), reopened.LatestVersion())
	size, err := raw.Size()
	require.NoError(t, err)
	// The torn 4-byte tail must have been truncated away, leaving exactly
	// the first well-formed frame.
	assert.Equal(t, sizeBeforeTear, size)
}
