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

// Package delta implements the Delta Core component of spec.md §4.1: the
// live K→V mapping plus the pending-delta buffer for the in-flight
// mutation batch. It is grounded on the teacher's state.Core (single
// exclusive-writer, many-lockless-reader Badger index), generalized from a
// Badger-backed index to an in-process atomic map since the live map here
// is purely in-memory; persistence is store/versionlog's job.
package delta

// Kind distinguishes a put delta from a remove (tombstone) delta.
type Kind uint8

const (
	// KindPut records a successful put.
	KindPut Kind = iota
	// KindRemove records a successful remove.
	KindRemove
)

// String renders the delta kind for logging.
func (k Kind) String() string {
	switch k {
	case KindPut:
		return "put"
	case KindRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Delta is a single mutation record, matching spec.md §3's {kind, version,
// timestamp_us, value} record. Payload is the value cbor-encoded via
// keyvalue.Marshal; the Version Log frames and persists it as-is.
type Delta struct {
	Kind        Kind
	Version     int64
	TimestampUS int64
	Key         string // printed key; not written into the log frame, which the Version Log indexes by version and timestamp only
	Payload     []byte
}
