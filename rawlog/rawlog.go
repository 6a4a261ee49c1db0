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

// Package rawlog defines the append-only log device collaborator that
// spec.md §1 lists as out of scope: a byte stream with offset-indexed
// reads. store/versionlog builds the framed, versioned Version Log on top
// of this narrow interface.
package rawlog

import "errors"

// ErrOutOfRange is returned when ReadAt addresses bytes beyond the log's
// current size.
var ErrOutOfRange = errors.New("rawlog: offset out of range")

// RawLog is the minimal contract the Version Log requires of the
// underlying byte stream: append bytes and get back the offset they were
// written at, and read an arbitrary range back out.
type RawLog interface {
	// Append writes data at the end of the stream and returns the offset
	// it was written at.
	Append(data []byte) (offset int64, err error)
	// ReadAt returns length bytes starting at offset.
	ReadAt(offset int64, length int) ([]byte, error)
	// Size returns the current length of the stream.
	Size() (int64, error)
	// Truncate discards everything at or after offset, used for
	// crash-consistent recovery (spec.md §6: "truncate-tail on restart
	// until the last fully-framed record").
	Truncate(offset int64) error
	// Sync forces any buffered writes to stable storage.
	Sync() error
	// Close releases any resources held by the log.
	Close() error
}
