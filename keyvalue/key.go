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

// Package keyvalue defines the capability sets that the rest of Cascade is
// generic over, generalizing the C++ (KT, VT, IK, IV) template parameters of
// the original persistent store into Go interfaces plus sentinel constants.
package keyvalue

import (
	"math"
	"strings"
)

// Key is the capability set a key type must satisfy: hashable (comparable,
// so usable as a Go map key) and printable (its String form is what prefix
// listing matches against). Ordering is not part of the set: no code here
// compares keys by order, and listings come back in map iteration order.
type Key interface {
	comparable
	String() string
}

// Uint64Key is the 64-bit unsigned integer key family. The sentinel is the
// maximum representable value, matching the original source's convention of
// reserving an otherwise-implausible value as IK.
type Uint64Key uint64

// Uint64KeyInvalid is the sentinel invalid key for Uint64Key.
const Uint64KeyInvalid Uint64Key = math.MaxUint64

// String renders the key in decimal.
func (k Uint64Key) String() string {
	return uint64ToString(uint64(k))
}

func uint64ToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// PathSeparator is the designated separator character for PathKey's prefix
// relation, matching spec.md's choice of '/'.
const PathSeparator = "/"

// PathKey is the hierarchical path-string key family. The sentinel is the
// empty string, which can never be a valid path.
type PathKey string

// PathKeyInvalid is the sentinel invalid key for PathKey.
const PathKeyInvalid PathKey = ""

// String returns the path key unchanged; it is already printable.
func (k PathKey) String() string {
	return string(k)
}

// HasPrefix reports whether the key's printed form starts with prefix, the
// relation used by ordered_list_keys and list_keys.
func HasPrefix[K Key](key K, prefix string) bool {
	return strings.HasPrefix(key.String(), prefix)
}
