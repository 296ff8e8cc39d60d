// Copyright 2016 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pathcodec derives the deterministic backing-store prefix for a
// grove path: prefix(path) = H(len(s1) || s1 || len(s2) || s2 || ...) for
// a fixed cryptographic hash H, with the top-level path mapped to a
// reserved constant rather than H of the empty string.
package pathcodec

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// PrefixSize is the fixed width of a derived prefix.
const PrefixSize = 32

// Prefix is the fixed-width backing-store prefix derived from a Path.
type Prefix [PrefixSize]byte

// RootPrefix is the reserved prefix for the top-level subtree (n=0).
// It is the all-zero prefix, which H never produces for a non-empty
// length-delimited encoding (every real path contributes at least a
// 4-byte length field before any hashing), so collisions with a derived
// path prefix cannot occur in practice.
var RootPrefix = Prefix{}

// Derive computes the deterministic prefix for path. Length-delimiting
// each component is mandatory: without it, paths such as [["ab", "c"]] and
// [["a", "bc"]] would hash identically.
func Derive(path [][]byte) Prefix {
	if len(path) == 0 {
		return RootPrefix
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on a bad key, and we never pass one.
		panic(err)
	}
	var lenBuf [4]byte
	for _, seg := range path {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(seg)))
		h.Write(lenBuf[:])
		h.Write(seg)
	}
	var out Prefix
	copy(out[:], h.Sum(nil))
	return out
}

// Bytes returns p as a byte slice.
func (p Prefix) Bytes() []byte {
	return p[:]
}

// String renders p as hex, for logging.
func (p Prefix) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 2*PrefixSize)
	for i, b := range p {
		out[2*i] = hexDigits[b>>4]
		out[2*i+1] = hexDigits[b&0xf]
	}
	return string(out)
}
