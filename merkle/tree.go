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

package merkle

import (
	"bytes"
	"context"

	"github.com/google/btree"

	"github.com/thicketdb/thicket/storage"
)

// RootMarkerKey is the fixed key under the Roots space at which a
// subtree's persisted root hash is stored.
var RootMarkerKey = []byte("root")

// entry is the in-memory btree item backing a Tree's live sorted index:
// the key and the domain-separated hash of its current (key, value) pair.
// Only the hash is kept in memory -- the value itself lives in the
// backend -- so ordered root recomputation never needs to touch the
// backend again once a handle is hydrated.
type entry struct {
	key  []byte
	hash []byte
}

func (e *entry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*entry).key) < 0
}

// btreeDegree is an arbitrary B-tree fanout; google/btree recommends
// something in the dozens for cache-friendliness.
const btreeDegree = 32

// Tree is a handle to one subtree's authenticated key-value map, bound to
// a storage.Context scoped to that subtree's prefix. It is not safe for
// concurrent use.
type Tree struct {
	ctx storage.Context

	index    *btree.BTree
	hydrated bool

	cachedRoot []byte
	dirty      bool

	// preloaded is set by NewFromPersistedRoot: cachedRoot was seeded from
	// the Roots space rather than computed, so RootHash/IsEmpty can answer
	// from it directly as long as the index has not since been hydrated.
	preloaded bool
}

// New returns a Tree handle bound to ctx. It does not touch the backend
// until first needed (Get and Iterate read directly; Insert/Delete/
// RootHash/IsEmpty hydrate the in-memory index on first use).
func New(ctx storage.Context) *Tree {
	return &Tree{ctx: ctx, index: btree.New(btreeDegree)}
}

// NewFromPersistedRoot is like New, but seeds the handle's cached root from
// the persisted root pointer under RootMarkerKey. A handle built this way
// can answer RootHash and IsEmpty without scanning the subtree's entries,
// until a mutation forces the index to hydrate.
func NewFromPersistedRoot(goctx context.Context, ctx storage.Context) (*Tree, error) {
	t := New(ctx)
	root, err := LoadPersistedRoot(goctx, ctx)
	if err != nil {
		return nil, err
	}
	t.cachedRoot = root
	t.preloaded = true
	return t, nil
}

// hydrate rebuilds the in-memory sorted index from the backend's Main
// space by a single ordered scan. Called lazily the first time the index
// is needed.
func (t *Tree) hydrate(goctx context.Context) error {
	if t.hydrated {
		return nil
	}
	it, err := t.ctx.RawIter(goctx)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.SeekToFirst(); it.Valid(); it.Next() {
		key, value := it.Key(), it.Value()
		t.index.ReplaceOrInsert(&entry{key: append([]byte(nil), key...), hash: leafHash(key, value)})
	}
	t.hydrated = true
	t.dirty = true
	return nil
}

// Insert stores value at key, persisting it to the backend and updating
// the live index so the next RootHash reflects it.
func (t *Tree) Insert(goctx context.Context, key, value []byte) error {
	if err := t.hydrate(goctx); err != nil {
		return err
	}
	if err := t.ctx.Put(goctx, key, value); err != nil {
		return err
	}
	t.index.ReplaceOrInsert(&entry{key: append([]byte(nil), key...), hash: leafHash(key, value)})
	t.dirty = true
	return nil
}

// Get returns the raw value stored at key, or nil if absent. It reads the
// backend directly and does not require hydration.
func (t *Tree) Get(goctx context.Context, key []byte) ([]byte, error) {
	return t.ctx.Get(goctx, key)
}

// Delete removes key from the subtree. Deleting an absent key is a no-op.
func (t *Tree) Delete(goctx context.Context, key []byte) error {
	if err := t.hydrate(goctx); err != nil {
		return err
	}
	if err := t.ctx.Delete(goctx, key); err != nil {
		return err
	}
	t.index.Delete(&entry{key: key})
	t.dirty = true
	return nil
}

// IsEmpty reports whether the subtree currently has no entries. On a
// handle built by NewFromPersistedRoot it answers from the preloaded root
// without scanning the backend, as long as nothing has mutated it since.
func (t *Tree) IsEmpty(goctx context.Context) (bool, error) {
	if t.preloaded && !t.hydrated {
		return len(t.cachedRoot) == 0, nil
	}
	if err := t.hydrate(goctx); err != nil {
		return false, err
	}
	return t.index.Len() == 0, nil
}

// RootHash returns the subtree's current root hash, recomputing it from
// the live index (in memory, no backend I/O) if a mutation has happened
// since the last computation, and persisting the result to the Roots
// space. On a handle built by NewFromPersistedRoot it answers from the
// preloaded root directly until a mutation forces a real hydration.
func (t *Tree) RootHash(goctx context.Context) ([]byte, error) {
	if t.preloaded && !t.hydrated {
		return t.cachedRoot, nil
	}
	if err := t.hydrate(goctx); err != nil {
		return nil, err
	}
	if !t.dirty {
		return t.cachedRoot, nil
	}

	leaves := make([][]byte, 0, t.index.Len())
	t.index.Ascend(func(i btree.Item) bool {
		leaves = append(leaves, i.(*entry).hash)
		return true
	})
	root := merkleTreeHash(leaves)
	if len(leaves) == 0 {
		root = nil
	}
	t.cachedRoot = root
	t.dirty = false

	if err := t.ctx.PutRoot(goctx, RootMarkerKey, persistedRoot(root)); err != nil {
		return nil, err
	}
	return root, nil
}

// persistedRoot renders a root hash (possibly nil, for an empty subtree)
// into the bytes stored under RootMarkerKey.
func persistedRoot(root []byte) []byte {
	if len(root) == 0 {
		return []byte{0x00}
	}
	return root
}

// LoadPersistedRoot reads back a root hash previously written by
// RootHash, as stored under RootMarkerKey in the Roots space. It returns
// nil, nil if no root has ever been persisted (a brand-new subtree).
func LoadPersistedRoot(goctx context.Context, ctx storage.Context) ([]byte, error) {
	raw, err := ctx.GetRoot(goctx, RootMarkerKey)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || (len(raw) == 1 && raw[0] == 0x00) {
		return nil, nil
	}
	return raw, nil
}

// Iterate walks the subtree's entries in key order, calling fn for each.
// Iteration stops at the first error fn returns.
func (t *Tree) Iterate(goctx context.Context, fn func(key, value []byte) error) error {
	it, err := t.ctx.RawIter(goctx)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.SeekToFirst(); it.Valid(); it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return nil
}
