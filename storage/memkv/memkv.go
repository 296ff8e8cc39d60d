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

// Package memkv implements storage.Backend entirely in memory, with a
// map per space (sorted when iterated) and snapshot isolation for
// transactions by copying every space when a transaction opens. It exists for tests and for embedding callers that want
// the coordinator without a disk footprint; storage/badgerkv is the
// durable counterpart.
package memkv

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/thicketdb/thicket/storage"
)

type space map[string][]byte

func (s space) clone() space {
	out := make(space, len(s))
	for k, v := range s {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// Backend is an in-memory storage.Backend.
type Backend struct {
	mu    sync.Mutex
	main  space
	aux   space
	roots space
	meta  space
}

// Open returns a fresh, empty in-memory Backend.
func Open() *Backend {
	return &Backend{main: space{}, aux: space{}, roots: space{}, meta: space{}}
}

func (b *Backend) spaceFor(s storage.Space) space {
	switch s {
	case storage.Main:
		return b.main
	case storage.Aux:
		return b.aux
	case storage.Roots:
		return b.roots
	case storage.Meta:
		return b.meta
	default:
		panic("memkv: unknown space")
	}
}

func (b *Backend) Get(ctx context.Context, sp storage.Space, key []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.spaceFor(sp)[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (b *Backend) Put(ctx context.Context, sp storage.Space, key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spaceFor(sp)[string(key)] = append([]byte(nil), value...)
	return nil
}

func (b *Backend) Delete(ctx context.Context, sp storage.Space, key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.spaceFor(sp), string(key))
	return nil
}

func (b *Backend) NewBatch() storage.Batch {
	return &batch{}
}

func (b *Backend) CommitBatch(ctx context.Context, raw storage.Batch) error {
	bat, ok := raw.(*batch)
	if !ok {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, op := range bat.ops {
		op(b)
	}
	return nil
}

func (b *Backend) RawIter(ctx context.Context, prefix []byte) (storage.RawIterator, error) {
	b.mu.Lock()
	snapshot := b.main.clone()
	b.mu.Unlock()
	return newIterator(snapshot, prefix), nil
}

func (b *Backend) ListPrefixKeys(ctx context.Context, prefix []byte) (storage.PrefixKeys, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return storage.PrefixKeys{
		Main:  matchingKeys(b.main, prefix),
		Aux:   matchingKeys(b.aux, prefix),
		Roots: matchingKeys(b.roots, prefix),
	}, nil
}

func matchingKeys(s space, prefix []byte) [][]byte {
	var out [][]byte
	for k := range s {
		if bytes.HasPrefix([]byte(k), prefix) {
			out = append(out, []byte(k[len(prefix):]))
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

func (b *Backend) NewTransaction() (storage.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &transaction{
		backend: b,
		main:    b.main.clone(),
		aux:     b.aux.clone(),
		roots:   b.roots.clone(),
		meta:    b.meta.clone(),
	}, nil
}

func (b *Backend) Flush() error { return nil }
func (b *Backend) Close() error { return nil }

// batch buffers ops and applies them all while the Backend's mutex is held.
type batch struct {
	ops []func(*Backend)
}

func (bt *batch) Put(key, value []byte) {
	k, v := append([]byte(nil), key...), append([]byte(nil), value...)
	bt.ops = append(bt.ops, func(b *Backend) { b.main[string(k)] = v })
}
func (bt *batch) Delete(key []byte) {
	k := append([]byte(nil), key...)
	bt.ops = append(bt.ops, func(b *Backend) { delete(b.main, string(k)) })
}
func (bt *batch) PutAux(key, value []byte) {
	k, v := append([]byte(nil), key...), append([]byte(nil), value...)
	bt.ops = append(bt.ops, func(b *Backend) { b.aux[string(k)] = v })
}
func (bt *batch) DeleteAux(key []byte) {
	k := append([]byte(nil), key...)
	bt.ops = append(bt.ops, func(b *Backend) { delete(b.aux, string(k)) })
}
func (bt *batch) PutRoot(key, value []byte) {
	k, v := append([]byte(nil), key...), append([]byte(nil), value...)
	bt.ops = append(bt.ops, func(b *Backend) { b.roots[string(k)] = v })
}
func (bt *batch) DeleteRoot(key []byte) {
	k := append([]byte(nil), key...)
	bt.ops = append(bt.ops, func(b *Backend) { delete(b.roots, string(k)) })
}

// transaction holds a private full copy of every space, taken at
// NewTransaction time, and on Commit atomically replaces the backend's
// spaces with that copy -- giving snapshot isolation without a real WAL.
type transaction struct {
	backend *Backend

	main, aux, roots, meta space
}

func (t *transaction) spaceFor(s storage.Space) space {
	switch s {
	case storage.Main:
		return t.main
	case storage.Aux:
		return t.aux
	case storage.Roots:
		return t.roots
	case storage.Meta:
		return t.meta
	default:
		panic("memkv: unknown space")
	}
}

func (t *transaction) Get(ctx context.Context, sp storage.Space, key []byte) ([]byte, error) {
	v, ok := t.spaceFor(sp)[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (t *transaction) Put(ctx context.Context, sp storage.Space, key, value []byte) error {
	t.spaceFor(sp)[string(key)] = append([]byte(nil), value...)
	return nil
}

func (t *transaction) Delete(ctx context.Context, sp storage.Space, key []byte) error {
	delete(t.spaceFor(sp), string(key))
	return nil
}

func (t *transaction) RawIter(ctx context.Context, prefix []byte) (storage.RawIterator, error) {
	return newIterator(t.main.clone(), prefix), nil
}

func (t *transaction) ListPrefixKeys(ctx context.Context, prefix []byte) (storage.PrefixKeys, error) {
	return storage.PrefixKeys{
		Main:  matchingKeys(t.main, prefix),
		Aux:   matchingKeys(t.aux, prefix),
		Roots: matchingKeys(t.roots, prefix),
	}, nil
}

// Commit overwrites the backend's spaces with this transaction's view.
// memkv never detects conflicts (there is no concurrent writer in the
// tests that use it); a real engine's conflict path is exercised against
// storage/badgerkv instead.
func (t *transaction) Commit(ctx context.Context) error {
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	t.backend.main = t.main
	t.backend.aux = t.aux
	t.backend.roots = t.roots
	t.backend.meta = t.meta
	return nil
}

func (t *transaction) Rollback() error { return nil }

// iterator walks a sorted snapshot of the Main space restricted to prefix.
type iterator struct {
	keys []string
	vals map[string][]byte
	pos  int
	pfx  []byte
}

func newIterator(snapshot space, prefix []byte) *iterator {
	vals := make(map[string][]byte, len(snapshot))
	var keys []string
	for k, v := range snapshot {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
			vals[k] = v
		}
	}
	sort.Strings(keys)
	return &iterator{keys: keys, vals: vals, pos: -1, pfx: prefix}
}

func (it *iterator) SeekToFirst() { it.pos = 0 }

func (it *iterator) Seek(key []byte) {
	target := string(append(append([]byte(nil), it.pfx...), key...))
	it.pos = sort.SearchStrings(it.keys, target)
}

func (it *iterator) Next() { it.pos++ }

func (it *iterator) Valid() bool { return it.pos >= 0 && it.pos < len(it.keys) }

func (it *iterator) Key() []byte {
	return []byte(it.keys[it.pos][len(it.pfx):])
}

func (it *iterator) Value() []byte {
	return it.vals[it.keys[it.pos]]
}

func (it *iterator) Close() {}
