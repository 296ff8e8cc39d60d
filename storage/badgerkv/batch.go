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

package badgerkv

import "github.com/dgraph-io/badger/v4"

// batch accumulates operations to be applied atomically inside a single
// badger transaction on CommitBatch.
type batch struct {
	ops []func(*badger.Txn) error
}

func (b *batch) Put(key, value []byte) {
	k, v := clone(key), clone(value)
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		return txn.Set(physicalKeyTag(tagMain, k), v)
	})
}

func (b *batch) Delete(key []byte) {
	k := clone(key)
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		return txn.Delete(physicalKeyTag(tagMain, k))
	})
}

func (b *batch) PutAux(key, value []byte) {
	k, v := clone(key), clone(value)
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		return txn.Set(physicalKeyTag(tagAux, k), v)
	})
}

func (b *batch) DeleteAux(key []byte) {
	k := clone(key)
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		return txn.Delete(physicalKeyTag(tagAux, k))
	})
}

func (b *batch) PutRoot(key, value []byte) {
	k, v := clone(key), clone(value)
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		return txn.Set(physicalKeyTag(tagRoots, k), v)
	})
}

func (b *batch) DeleteRoot(key []byte) {
	k := clone(key)
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		return txn.Delete(physicalKeyTag(tagRoots, k))
	})
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

func physicalKeyTag(tag spaceTag, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(tag)
	copy(out[1:], key)
	return out
}
