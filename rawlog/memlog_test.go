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

package rawlog_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascade-kv/cascade/rawlog"
)

func TestMemLogAppendRead(t *testing.T) {
	log := rawlog.NewMemLog()

	off1, err := log.Append([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), off1)

	off2, err := log.Append([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), off2)

	data, err := log.ReadAt(off2, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	_, err = log.ReadAt(100, 5)
	assert.ErrorIs(t, err, rawlog.ErrOutOfRange)
}

func TestMemLogTruncate(t *testing.T) {
	log := rawlog.NewMemLog()
	_, err := log.Append([]byte("abcdef"))
	require.NoError(t, err)

	require.NoError(t, log.Truncate(3))
	size, err := log.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	data, err := log.ReadAt(0, 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestFileLogPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.bin")

	log, err := rawlog.OpenFileLog(path)
	require.NoError(t, err)
	_, err = log.Append([]byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, log.Sync())
	require.NoError(t, log.Close())

	reopened, err := rawlog.OpenFileLog(path)
	require.NoError(t, err)
	defer reopened.Close()

	size, err := reopened.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(len("persisted")), size)

	data, err := reopened.ReadAt(0, int(size))
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(data))
}
