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

// Package merkle implements the authenticated key-value map behind a
// single grove subtree: insert/get/delete/ordered iteration, plus a root
// hash that is a deterministic function of the subtree's contents. The
// root hash is computed as a binary Merkle Tree Hash over the subtree's
// sorted entries, in the style of RFC6962 log hashing (leaf/node
// domain-separated hashing, recursive split-at-largest-power-of-two
// combination).
package merkle

import "golang.org/x/crypto/blake2b"

const (
	leafHashPrefix = 0x00
	nodeHashPrefix = 0x01
)

func sum(parts ...[]byte) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// leafHash computes the domain-separated hash of a single (key, value)
// entry.
func leafHash(key, value []byte) []byte {
	return sum([]byte{leafHashPrefix}, key, value)
}

// nodeHash combines two child hashes into their parent's hash.
func nodeHash(left, right []byte) []byte {
	return sum([]byte{nodeHashPrefix}, left, right)
}

// emptyHash is the Merkle Tree Hash of an empty leaf sequence. Tree.RootHash
// reports a subtree with no entries as a nil root instead.
var emptyHash = sum(nil)

// merkleTreeHash computes the RFC6962-style Merkle Tree Hash over an
// ordered sequence of leaf hashes: MTH({}) = emptyHash, MTH({d0}) = d0,
// and for n > 1, MTH(D[0:n]) = nodeHash(MTH(D[0:k]), MTH(D[k:n])) where k
// is the largest power of two strictly less than n.
func merkleTreeHash(leaves [][]byte) []byte {
	n := len(leaves)
	switch {
	case n == 0:
		return emptyHash
	case n == 1:
		return leaves[0]
	}
	k := 1
	for (k << 1) < n {
		k <<= 1
	}
	left := merkleTreeHash(leaves[:k])
	right := merkleTreeHash(leaves[k:])
	return nodeHash(left, right)
}
