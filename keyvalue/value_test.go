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

package keyvalue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cascade-kv/cascade/keyvalue"
)

func TestHeaderVerifyPrevious(t *testing.T) {
	t.Run("sentinel previous version always passes", func(t *testing.T) {
		h := keyvalue.NewHeader(keyvalue.PathKey("/a"), keyvalue.InvalidVersion, keyvalue.InvalidVersion)
		assert.True(t, h.VerifyPrevious(10, 10))
	})

	t.Run("stale previous version is rejected", func(t *testing.T) {
		h := keyvalue.NewHeader(keyvalue.PathKey("/a"), 5, 5)
		assert.False(t, h.VerifyPrevious(10, 0))
	})

	t.Run("stale previous version by key is rejected", func(t *testing.T) {
		h := keyvalue.NewHeader(keyvalue.PathKey("/a"), keyvalue.InvalidVersion, 5)
		assert.False(t, h.VerifyPrevious(0, 10))
	})

	t.Run("matching or newer previous versions pass", func(t *testing.T) {
		h := keyvalue.NewHeader(keyvalue.PathKey("/a"), 10, 10)
		assert.True(t, h.VerifyPrevious(10, 10))
		assert.True(t, h.VerifyPrevious(5, 5))
	})
}

func TestBlobValueNull(t *testing.T) {
	null := keyvalue.NullFor(keyvalue.PathKey("/a/b"))
	assert.True(t, null.IsNull())
	assert.Empty(t, null.Payload())

	v := keyvalue.BlobValue[keyvalue.PathKey]{
		Header: keyvalue.NewHeader(keyvalue.PathKey("/a/b"), keyvalue.InvalidVersion, keyvalue.InvalidVersion),
		Bytes:  []byte("v1"),
	}
	assert.False(t, v.IsNull())
	assert.Greater(t, v.SerializedSize(), 0)
}

func TestKeyPrefix(t *testing.T) {
	assert.True(t, keyvalue.HasPrefix(keyvalue.PathKey("/a/x"), "/a"))
	assert.False(t, keyvalue.HasPrefix(keyvalue.PathKey("/b/x"), "/a"))
}

func TestUint64KeyString(t *testing.T) {
	assert.Equal(t, "0", keyvalue.Uint64Key(0).String())
	assert.Equal(t, "42", keyvalue.Uint64Key(42).String())
}
