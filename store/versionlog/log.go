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

package versionlog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/cascade-kv/cascade/keyvalue"
	"github.com/cascade-kv/cascade/rawlog"
	"github.com/cascade-kv/cascade/store/delta"
)

// ErrNotFound is returned when a requested version has no frame on record.
var ErrNotFound = errors.New("versionlog: version not found")

// ErrCorrupt is returned when a frame's checksum does not match its
// contents, distinct from the torn-write condition recover() already
// resolves by truncation (spec.md §7, LogCorruption).
var ErrCorrupt = errors.New("versionlog: frame checksum mismatch")

// Log is the Version Log: a framed, checksummed, append-only record of
// every committed delta for one shard replica, backed by a rawlog.RawLog
// and accelerated by a Badger secondary index.
type Log[K keyvalue.Key, V keyvalue.Value[K]] struct {
	mu    sync.Mutex
	raw   rawlog.RawLog
	index *badger.DB

	newValue func() V

	tailOffset    int64
	latestVersion int64
}

// Open opens a Version Log over an existing rawlog.RawLog, recovering from
// a partially-written tail frame if one is present, and (re)building the
// secondary index from the frames on disk. indexDir selects where the
// Badger index lives; an empty string opens an in-memory index, fine for a
// replica that rebuilds its index from the raw log on every start. newValue
// must return a fresh zero value of the concrete value type so Reconstruct
// and ReadDelta can decode stored payloads into it.
func Open[K keyvalue.Key, V keyvalue.Value[K]](raw rawlog.RawLog, indexDir string, newValue func() V) (*Log[K, V], error) {
	db, err := openIndex(indexDir)
	if err != nil {
		return nil, err
	}

	l := &Log[K, V]{
		raw:           raw,
		index:         db,
		newValue:      newValue,
		latestVersion: keyvalue.InvalidVersion,
	}

	if err := l.recover(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// recover scans the raw log from the start, indexing every well-formed
// frame, and truncates a torn tail frame left by a crash mid-write. This is
// the truncate-tail-on-restart crash consistency spec.md §6 requires.
func (l *Log[K, V]) recover() error {
	size, err := l.raw.Size()
	if err != nil {
		return fmt.Errorf("could not size raw log: %w", err)
	}

	var offset int64
	for offset < size {
		if offset+lengthPrefixSize > size {
			break
		}
		lengthBuf, err := l.raw.ReadAt(offset, lengthPrefixSize)
		if err != nil {
			return fmt.Errorf("could not read frame length at offset %d: %w", offset, err)
		}
		frameLen := beUint32(lengthBuf)
		total := frameTotalSize(frameLen)
		if offset+total > size {
			break
		}

		buf, err := l.raw.ReadAt(offset, int(total))
		if err != nil {
			return fmt.Errorf("could not read frame at offset %d: %w", offset, err)
		}
		version, timestampUS, _, _, ok := decodeFrame(buf)
		if !ok {
			break
		}
		if err := recordFrame(l.index, version, timestampUS, offset); err != nil {
			return err
		}
		if version > l.latestVersion {
			l.latestVersion = version
		}
		offset += total
	}

	if offset < size {
		if err := l.raw.Truncate(offset); err != nil {
			return fmt.Errorf("could not truncate torn tail frame: %w", err)
		}
	}
	l.tailOffset = offset
	return nil
}

// Append durably writes each delta as its own frame, in order, indexing it
// as it goes. It is the Store Engine's job to have already applied the
// deltas to the Delta Core before calling Append, and to discard the buffer
// if Append returns an error.
func (l *Log[K, V]) Append(deltas []delta.Delta) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, d := range deltas {
		buf := encodeFrame(d)
		offset, err := l.raw.Append(buf)
		if err != nil {
			return fmt.Errorf("could not append frame: %w", err)
		}
		if err := l.raw.Sync(); err != nil {
			return fmt.Errorf("could not sync frame: %w", err)
		}
		if err := recordFrame(l.index, d.Version, d.TimestampUS, offset); err != nil {
			return err
		}
		l.tailOffset = offset + int64(len(buf))
		if d.Version > l.latestVersion {
			l.latestVersion = d.Version
		}
	}
	return nil
}

// LatestVersion returns the highest version durably recorded.
func (l *Log[K, V]) LatestVersion() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latestVersion
}

// readFrameAt reads and decodes the frame for a version already known to
// live at offset.
func (l *Log[K, V]) readFrameAt(offset int64) (version, timestampUS int64, kind delta.Kind, payload []byte, err error) {
	lengthBuf, err := l.raw.ReadAt(offset, lengthPrefixSize)
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("could not read frame length: %w", err)
	}
	total := frameTotalSize(beUint32(lengthBuf))

	buf, err := l.raw.ReadAt(offset, int(total))
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("could not read frame: %w", err)
	}
	version, timestampUS, kind, payload, ok := decodeFrame(buf)
	if !ok {
		return 0, 0, 0, nil, ErrCorrupt
	}
	return version, timestampUS, kind, payload, nil
}

// decodeValue unmarshals a frame payload into a fresh V.
func (l *Log[K, V]) decodeValue(payload []byte) (V, error) {
	value := l.newValue()
	if err := keyvalue.Unmarshal(payload, value); err != nil {
		var zero V
		return zero, fmt.Errorf("could not decode frame payload: %w", err)
	}
	return value, nil
}

// ReadDelta visits the delta for version. If exact is true, only that
// version's own frame is visited; if exact is false, every frame from
// version through the current tail is visited in commit order, the path
// Reconstruct replays the log through.
func (l *Log[K, V]) ReadDelta(version int64, exact bool, visit func(V) error) error {
	if exact {
		offset, found, err := offsetForVersion(l.index, version)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		_, _, _, payload, err := l.readFrameAt(offset)
		if err != nil {
			return err
		}
		value, err := l.decodeValue(payload)
		if err != nil {
			return err
		}
		return visit(value)
	}

	for v := version; v <= l.LatestVersion(); v++ {
		offset, found, err := offsetForVersion(l.index, v)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		_, _, _, payload, err := l.readFrameAt(offset)
		if err != nil {
			return err
		}
		value, err := l.decodeValue(payload)
		if err != nil {
			return err
		}
		if err := visit(value); err != nil {
			return err
		}
	}
	return nil
}

// Reconstruct replays every delta from version 0 through upToVersion
// (inclusive) and returns a freshly built Delta Core holding the resulting
// live map, the mechanism a replica uses to rehydrate after a restart or
// after recovering from LogCorruption off a peer (spec.md §7).
func (l *Log[K, V]) Reconstruct(upToVersion int64) (*delta.Core[K, V], error) {
	values := make(map[K]V)

	err := l.ReadDelta(0, false, func(value V) error {
		header := value.GetHeader()
		if header.Version > upToVersion {
			return nil
		}
		values[header.Key] = value
		return nil
	})
	if err != nil {
		return nil, err
	}

	core := delta.New[K, V]()
	core.Load(values)
	return core, nil
}

// VersionAtTime returns the greatest version committed at or before
// timestampUS, the primitive get_by_time and list_keys_by_time resolve
// their target version through (spec.md §4.4).
func (l *Log[K, V]) VersionAtTime(timestampUS int64) (int64, error) {
	version, found, err := versionAtOrBeforeTime(l.index, timestampUS)
	if err != nil {
		return 0, err
	}
	if !found {
		return keyvalue.InvalidVersion, ErrNotFound
	}
	return version, nil
}

// Close releases the secondary index and the underlying raw log. Both are
// closed even if the first fails, and both failures are reported rather
// than the first one masking the second.
func (l *Log[K, V]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result *multierror.Error
	if err := l.index.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("could not close version index: %w", err))
	}
	if err := l.raw.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("could not close raw log: %w", err))
	}
	return result.ErrorOrNil()
}

func beUint32(buf []byte) uint32 {
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}
