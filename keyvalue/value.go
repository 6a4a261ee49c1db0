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

package keyvalue

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// InvalidVersion is the sentinel used throughout Cascade for "no such
// version / operation rejected / key absent", matching spec.md §6.
const InvalidVersion int64 = -1

// CurrentVersion requests the freshest value available under the chosen
// consistency mode.
const CurrentVersion int64 = -2

// Header carries the per-object metadata that every concrete value type
// embeds, generalizing the original source's ObjectWithUInt64Key /
// ObjectWithStringKey header fields.
type Header[K Key] struct {
	Key                  K
	Version              int64
	TimestampUS          int64
	PreviousVersion      int64
	PreviousVersionByKey int64
}

// NewHeader builds a header for a value about to be submitted as a put or
// remove, carrying the versions the writer last observed.
func NewHeader[K Key](key K, previousVersion, previousVersionByKey int64) Header[K] {
	return Header[K]{
		Key:                  key,
		Version:              InvalidVersion,
		TimestampUS:          0,
		PreviousVersion:      previousVersion,
		PreviousVersionByKey: previousVersionByKey,
	}
}

// Stamp assigns the version and commit timestamp, done once the broadcast
// substrate has delivered the mutation (spec.md §4.3 step 2).
func (h *Header[K]) Stamp(version, timestampUS int64) {
	h.Version = version
	h.TimestampUS = timestampUS
}

// VerifyPrevious implements the optimistic-concurrency check, ported
// verbatim (in semantics) from the original source's
// ObjectWithUInt64Key::verify_previous_version: a sentinel previous version
// always passes, otherwise the writer's observed version must be at least
// as recent as what is currently committed.
func (h Header[K]) VerifyPrevious(lastGlobal, lastByKey int64) bool {
	globalOK := h.PreviousVersion == InvalidVersion || h.PreviousVersion >= lastGlobal
	byKeyOK := h.PreviousVersionByKey == InvalidVersion || h.PreviousVersionByKey >= lastByKey
	return globalOK && byKeyOK
}

// Value is the capability set a value type must satisfy. K is the key
// family it is indexed by.
type Value[K Key] interface {
	GetHeader() Header[K]
	SetHeader(Header[K])
	Payload() []byte
	SerializedSize() int
	// IsNull reports whether this value represents a tombstone: an object
	// whose payload is empty, per spec.md §3.
	IsNull() bool
}

// BlobValue is the one concrete value type Cascade ships: an opaque byte
// payload plus the standard header, (de)serialized with cbor the same way
// the teacher encodes every on-disk and on-wire payload.
type BlobValue[K Key] struct {
	Header[K]
	Bytes []byte
}

// NullFor builds the null (tombstone) object for a key: an empty-payload
// value carrying no version information yet, mirroring V::null_for(k) from
// spec.md §9.
func NullFor[K Key](key K) BlobValue[K] {
	return BlobValue[K]{
		Header: NewHeader(key, InvalidVersion, InvalidVersion),
		Bytes:  nil,
	}
}

// GetHeader returns the value's header.
func (v BlobValue[K]) GetHeader() Header[K] { return v.Header }

// SetHeader replaces the value's header.
func (v *BlobValue[K]) SetHeader(h Header[K]) { v.Header = h }

// Payload returns the raw bytes carried by the value.
func (v BlobValue[K]) Payload() []byte { return v.Bytes }

// IsNull reports whether the payload is empty, the tombstone condition.
func (v BlobValue[K]) IsNull() bool { return len(v.Bytes) == 0 }

// SerializedSize returns the size of the value once cbor-encoded, matching
// the original source's mutils::bytes_size semantics for get_size.
func (v BlobValue[K]) SerializedSize() int {
	data, err := Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}

var codec cbor.EncMode

func init() {
	var err error
	codec, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("could not initialize keyvalue codec: %w", err))
	}
}

// Marshal encodes a value with the shared canonical cbor encoder, the same
// encoding mode the teacher uses for every payload it persists or ships
// over the wire.
func Marshal(v interface{}) ([]byte, error) {
	return codec.Marshal(v)
}

// Unmarshal decodes a value previously produced by Marshal.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}
