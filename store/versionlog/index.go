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
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v2"
)

// The Version Log keeps a Badger-backed secondary index mapping version and
// commit timestamp to byte offset, so point lookups and VersionAtTime don't
// require a linear scan of the raw log on a long-lived replica. This
// mirrors the teacher's own use of Badger as a secondary index over a
// separately-stored payload (state/core.go indexes into the execution
// state; here it indexes into the raw log).
//
// Keys are prefixed to keep the two indices in one database:
//   'v' + version(u64 BE)            -> offset(u64 BE)
//   't' + ts_us(u64 BE) + version(u64 BE) -> (empty)

const (
	versionPrefix byte = 'v'
	timePrefix    byte = 't'
)

func versionKey(version int64) []byte {
	key := make([]byte, 9)
	key[0] = versionPrefix
	binary.BigEndian.PutUint64(key[1:], uint64(version))
	return key
}

func timeKey(timestampUS, version int64) []byte {
	key := make([]byte, 17)
	key[0] = timePrefix
	binary.BigEndian.PutUint64(key[1:9], uint64(timestampUS))
	binary.BigEndian.PutUint64(key[9:], uint64(version))
	return key
}

func decodeVersionFromTimeKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[9:]))
}

// openIndex opens the Badger database backing the secondary index. An empty
// dir opens an in-memory database, used by tests and ephemeral shards.
func openIndex(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("could not open version index: %w", err)
	}
	return db, nil
}

// recordFrame indexes a frame that was just appended (or replayed) at
// offset, under both the version and the timestamp prefixes.
func recordFrame(db *badger.DB, version, timestampUS, offset int64) error {
	return db.Update(func(txn *badger.Txn) error {
		offsetValue := make([]byte, 8)
		binary.BigEndian.PutUint64(offsetValue, uint64(offset))
		if err := txn.Set(versionKey(version), offsetValue); err != nil {
			return err
		}
		return txn.Set(timeKey(timestampUS, version), nil)
	})
}

// offsetForVersion looks up the byte offset of the frame for version.
func offsetForVersion(db *badger.DB, version int64) (int64, bool, error) {
	var offset int64
	var found bool

	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(versionKey(version))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			offset = int64(binary.BigEndian.Uint64(val))
			found = true
			return nil
		})
	})
	if err != nil {
		return 0, false, fmt.Errorf("could not look up version offset: %w", err)
	}
	return offset, found, nil
}

// versionAtOrBeforeTime returns the greatest version whose commit timestamp
// is less than or equal to timestampUS, scanning the timestamp index in
// reverse. It returns found=false if every committed version postdates
// timestampUS.
func versionAtOrBeforeTime(db *badger.DB, timestampUS int64) (int64, bool, error) {
	var version int64
	var found bool

	seek := make([]byte, 17)
	seek[0] = timePrefix
	binary.BigEndian.PutUint64(seek[1:9], uint64(timestampUS))
	binary.BigEndian.PutUint64(seek[9:], ^uint64(0))

	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix([]byte{timePrefix}); it.Next() {
			key := it.Item().KeyCopy(nil)
			version = decodeVersionFromTimeKey(key)
			found = true
			return nil
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("could not scan timestamp index: %w", err)
	}
	return version, found, nil
}
