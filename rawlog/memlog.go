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

package rawlog

import "sync"

// MemLog is an in-memory RawLog, useful for tests and for replicas that do
// not need to survive a restart (e.g. ephemeral shards in an integration
// test harness).
type MemLog struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemLog creates an empty in-memory log.
func NewMemLog() *MemLog {
	return &MemLog{}
}

// Append writes data at the end of the buffer.
func (m *MemLog) Append(data []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offset := int64(len(m.data))
	m.data = append(m.data, data...)
	return offset, nil
}

// ReadAt returns a copy of length bytes starting at offset.
func (m *MemLog) ReadAt(offset int64, length int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if offset < 0 || offset+int64(length) > int64(len(m.data)) {
		return nil, ErrOutOfRange
	}

	out := make([]byte, length)
	copy(out, m.data[offset:offset+int64(length)])
	return out, nil
}

// Size returns the current length of the buffer.
func (m *MemLog) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data)), nil
}

// Truncate discards everything at or after offset.
func (m *MemLog) Truncate(offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if offset < 0 || offset > int64(len(m.data)) {
		return ErrOutOfRange
	}
	m.data = m.data[:offset]
	return nil
}

// Sync is a no-op for the in-memory log.
func (m *MemLog) Sync() error {
	return nil
}

// Close is a no-op for the in-memory log.
func (m *MemLog) Close() error {
	return nil
}
