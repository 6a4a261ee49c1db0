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

// Package versionlog implements the Version Log component of spec.md §4.2:
// a self-framing, append-only record of every committed delta, layered on
// top of an external rawlog.RawLog. The frame layout matches spec.md §6
// exactly: [u32 frame_len][u64 version][u64 ts_us][u8 kind][payload][u32
// crc32], with frame_len counting everything after itself; payload is the
// delta's cbor-encoded value, zstd-compressed before it is framed. Encode/
// compress/checksum is grounded on the teacher's
// service/storage/encoding.go (marshal → compress → checksum before
// writing); the truncate-tail-on-restart crash consistency is grounded on
// ledger/wal/wal.go's handling of a torn final segment.
package versionlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"

	"github.com/cascade-kv/cascade/store/delta"
)

var (
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
)

func init() {
	var err error
	compressor, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Errorf("could not initialize frame compressor: %w", err))
	}
	decompressor, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Errorf("could not initialize frame decompressor: %w", err))
	}
}

// frameFixedSize is the size, in bytes, of the version, timestamp and kind
// fields that precede the payload in every frame.
const frameFixedSize = 8 + 8 + 1

// crcSize is the size, in bytes, of the trailing crc32 checksum.
const crcSize = 4

// lengthPrefixSize is the size, in bytes, of the leading frame_len field.
const lengthPrefixSize = 4

// encodeFrame serializes a delta into the on-disk frame format, compressing
// the payload with zstd the way the teacher compresses every payload it
// writes to storage.
func encodeFrame(d delta.Delta) []byte {
	compressed := compressor.EncodeAll(d.Payload, nil)

	frameLen := frameFixedSize + len(compressed) + crcSize
	buf := make([]byte, lengthPrefixSize+frameLen)

	binary.BigEndian.PutUint32(buf[0:4], uint32(frameLen))
	binary.BigEndian.PutUint64(buf[4:12], uint64(d.Version))
	binary.BigEndian.PutUint64(buf[12:20], uint64(d.TimestampUS))
	buf[20] = byte(d.Kind)
	copy(buf[21:21+len(compressed)], compressed)

	crcEnd := 21 + len(compressed)
	crc := crc32.ChecksumIEEE(buf[4:crcEnd])
	binary.BigEndian.PutUint32(buf[crcEnd:], crc)

	return buf
}

// decodeFrame parses a complete frame buffer, including its length prefix,
// and verifies its checksum. ok is false if the buffer is too short, the
// checksum does not match, or the payload does not decompress; recover()
// treats any of these as a torn tail and truncates there, while
// readFrameAt reports them as ErrCorrupt.
func decodeFrame(buf []byte) (version int64, timestampUS int64, kind delta.Kind, payload []byte, ok bool) {
	if len(buf) < lengthPrefixSize+frameFixedSize+crcSize {
		return 0, 0, 0, nil, false
	}

	body := buf[lengthPrefixSize:]
	crcEnd := len(body) - crcSize

	storedCRC := binary.BigEndian.Uint32(body[crcEnd:])
	computedCRC := crc32.ChecksumIEEE(body[:crcEnd])
	if storedCRC != computedCRC {
		return 0, 0, 0, nil, false
	}

	version = int64(binary.BigEndian.Uint64(body[0:8]))
	timestampUS = int64(binary.BigEndian.Uint64(body[8:16]))
	kind = delta.Kind(body[16])

	decoded, err := decompressor.DecodeAll(body[17:crcEnd], nil)
	if err != nil {
		return 0, 0, 0, nil, false
	}
	payload = decoded
	return version, timestampUS, kind, payload, true
}

// frameTotalSize returns the total on-disk size of a frame given its
// frame_len field.
func frameTotalSize(frameLen uint32) int64 {
	return int64(lengthPrefixSize) + int64(frameLen)
}
