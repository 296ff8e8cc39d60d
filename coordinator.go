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

package thicket

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/thicketdb/thicket/cache"
	"github.com/thicketdb/thicket/internal/pathcodec"
	"github.com/thicketdb/thicket/storage"
)

// MaxReferenceHops bounds how many Reference elements Get will follow
// before failing with ReferenceLimit, keeping resolution O(MaxReferenceHops)
// regardless of whether the chain is merely long or actually cyclic.
const MaxReferenceHops = 8

// Coordinator is the grove: the public surface over a single backend,
// presenting the hierarchical, authenticated key-value model described in
// the package doc. A Coordinator is not safe for concurrent use; callers
// serialise access externally.
type Coordinator struct {
	backend   storage.Backend
	readCache *cache.HandleCache
}

// Open returns a Coordinator operating over backend. The caller owns
// backend's lifecycle beyond Close.
func Open(backend storage.Backend) *Coordinator {
	return &Coordinator{backend: backend, readCache: cache.NewDirect(backend)}
}

// Close releases the coordinator's backend.
func (co *Coordinator) Close() error {
	return co.backend.Close()
}

// Insert requires the subtree at path to exist (the top-level path always
// does) and stores element under key within it. If element is a Tree
// element, a fresh empty subtree is initialised at path++[key] instead of
// storing element's own (caller-supplied) payload. Propagation runs before
// Insert returns.
func (co *Coordinator) Insert(ctx context.Context, path Path, key []byte, element Element) error {
	return co.mutate(ctx, func(hc *cache.HandleCache) error {
		return coreInsert(ctx, hc, path, key, element)
	})
}

// Get returns the element stored at (path, key), transparently following
// Reference elements up to MaxReferenceHops.
func (co *Coordinator) Get(ctx context.Context, path Path, key []byte) (Element, error) {
	return coreGet(ctx, co.readCache, path, key)
}

// GetRaw returns the element stored at (path, key) without following a
// Reference.
func (co *Coordinator) GetRaw(ctx context.Context, path Path, key []byte) (Element, error) {
	return getRawAt(ctx, co.readCache, path, key)
}

// Delete removes the entry at (path, key). A bare top-level leaf entry can
// never be removed; only a top-level Tree can (see coreDelete). If the
// removed element was a Tree, every descendant subtree is recursively
// removed first. Propagation runs before Delete returns.
func (co *Coordinator) Delete(ctx context.Context, path Path, key []byte) error {
	return co.mutate(ctx, func(hc *cache.HandleCache) error {
		return coreDelete(ctx, hc, path, key)
	})
}

// RootHash returns the authenticated root hash of the top-level subtree,
// which summarises the entire grove.
func (co *Coordinator) RootHash(ctx context.Context) ([]byte, error) {
	return coreRootHash(ctx, co.readCache)
}

// PutAux stores value under key in the auxiliary space. Aux entries carry
// no authentication and never trigger propagation.
func (co *Coordinator) PutAux(ctx context.Context, key, value []byte) error {
	return co.mutate(ctx, func(hc *cache.HandleCache) error {
		return corePutAux(ctx, hc, key, value)
	})
}

// GetAux returns the value stored under key in the auxiliary space, or nil
// if absent.
func (co *Coordinator) GetAux(ctx context.Context, key []byte) ([]byte, error) {
	return coreGetAux(ctx, co.readCache, key)
}

// DeleteAux removes key from the auxiliary space.
func (co *Coordinator) DeleteAux(ctx context.Context, key []byte) error {
	return co.mutate(ctx, func(hc *cache.HandleCache) error {
		return coreDeleteAux(ctx, hc, key)
	})
}

// mutate runs fn against a fresh, ephemeral batch-backed handle cache
// scoped to a single backend batch, commits that batch, then evicts every
// prefix still held in that ephemeral cache from the coordinator's
// long-lived read cache so the next read rehydrates the committed state.
// Prefixes that recursive deletion already evicted from the ephemeral
// cache are not among them.
func (co *Coordinator) mutate(ctx context.Context, fn func(hc *cache.HandleCache) error) error {
	batch := co.backend.NewBatch()
	hc := cache.NewDirectBatch(co.backend, batch)

	if err := fn(hc); err != nil {
		return err
	}
	if err := co.backend.CommitBatch(ctx, batch); err != nil {
		return wrapErr(BackendIo, "commit batch", err)
	}
	for _, p := range hc.Prefixes() {
		co.readCache.Evict(p)
	}
	return nil
}

// Txn is an open transactional session. Every op it exposes routes through
// one snapshot-isolated backend transaction and its own handle cache: a
// handle cache is never shared across transactions, since handles embed a
// context bound to a specific mode.
type Txn struct {
	tx storage.Transaction
	hc *cache.HandleCache
}

// Begin opens a new transactional session.
func (co *Coordinator) Begin() (*Txn, error) {
	tx, err := co.backend.NewTransaction()
	if err != nil {
		return nil, wrapErr(BackendIo, "begin transaction", err)
	}
	return &Txn{tx: tx, hc: cache.NewTransactional(tx)}, nil
}

// Commit applies every write made through t atomically. It fails with
// TransactionConflict if the backend detects a conflicting write made
// outside the transaction.
func (t *Txn) Commit(ctx context.Context) error {
	err := t.tx.Commit(ctx)
	if err == nil {
		return nil
	}
	var conflict *storage.ConflictError
	if errors.As(err, &conflict) {
		return wrapErr(TransactionConflict, "commit rejected", err)
	}
	return wrapErr(BackendIo, "commit", err)
}

// Rollback discards every write made through t.
func (t *Txn) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		return wrapErr(BackendIo, "rollback", err)
	}
	return nil
}

func (t *Txn) Insert(ctx context.Context, path Path, key []byte, element Element) error {
	return coreInsert(ctx, t.hc, path, key, element)
}

func (t *Txn) Get(ctx context.Context, path Path, key []byte) (Element, error) {
	return coreGet(ctx, t.hc, path, key)
}

func (t *Txn) GetRaw(ctx context.Context, path Path, key []byte) (Element, error) {
	return getRawAt(ctx, t.hc, path, key)
}

func (t *Txn) Delete(ctx context.Context, path Path, key []byte) error {
	return coreDelete(ctx, t.hc, path, key)
}

func (t *Txn) RootHash(ctx context.Context) ([]byte, error) {
	return coreRootHash(ctx, t.hc)
}

func (t *Txn) PutAux(ctx context.Context, key, value []byte) error {
	return corePutAux(ctx, t.hc, key, value)
}

func (t *Txn) GetAux(ctx context.Context, key []byte) ([]byte, error) {
	return coreGetAux(ctx, t.hc, key)
}

func (t *Txn) DeleteAux(ctx context.Context, key []byte) error {
	return coreDeleteAux(ctx, t.hc, key)
}

// The core* functions implement every coordinator operation exactly once,
// against a *cache.HandleCache, so Coordinator (Direct mode) and Txn
// (Transactional mode) share one code path and differ only in which cache
// they pass in.

func coreRootHash(ctx context.Context, hc *cache.HandleCache) ([]byte, error) {
	handle, err := hc.Get(ctx, pathcodec.RootPrefix)
	if err != nil {
		return nil, err
	}
	return handle.RootHash(ctx)
}

// validatePath confirms that every segment of path names an existing
// subtree, walking from the root down. The top-level path (len 0) always
// exists.
func validatePath(ctx context.Context, hc *cache.HandleCache, path Path) error {
	for i := 0; i < len(path); i++ {
		parentPrefix := pathcodec.Derive([][]byte(path[:i]))
		parentHandle, err := hc.Get(ctx, parentPrefix)
		if err != nil {
			return err
		}
		raw, err := parentHandle.Get(ctx, path[i])
		if err != nil {
			return wrapErr(BackendIo, "validate path", err)
		}
		if raw == nil {
			return newErr(InvalidPath, fmt.Sprintf("no subtree at path segment %d", i))
		}
		el, err := DecodeElement(raw)
		if err != nil {
			return err
		}
		if !el.IsTree() {
			return newErr(InvalidPath, fmt.Sprintf("path segment %d does not name a subtree", i))
		}
	}
	return nil
}

// getRawAt returns the element stored at (path, key) without following a
// Reference.
func getRawAt(ctx context.Context, hc *cache.HandleCache, path Path, key []byte) (Element, error) {
	if err := validatePath(ctx, hc, path); err != nil {
		return Element{}, err
	}
	prefix := pathcodec.Derive([][]byte(path))
	handle, err := hc.Get(ctx, prefix)
	if err != nil {
		return Element{}, err
	}
	raw, err := handle.Get(ctx, key)
	if err != nil {
		return Element{}, wrapErr(BackendIo, "get", err)
	}
	if raw == nil {
		return Element{}, newErr(InvalidPath, "no element at key")
	}
	return DecodeElement(raw)
}

// coreGet follows a chain of Reference elements starting at (path, key),
// failing with ReferenceLimit once the chain exceeds MaxReferenceHops --
// the cap also bounds resolution of a cyclic chain.
func coreGet(ctx context.Context, hc *cache.HandleCache, path Path, key []byte) (Element, error) {
	curPath, curKey := path, key
	for hops := 0; ; hops++ {
		if hops > MaxReferenceHops {
			return Element{}, newErr(ReferenceLimit, "reference chain exceeds MaxReferenceHops")
		}
		el, err := getRawAt(ctx, hc, curPath, curKey)
		if err != nil {
			return Element{}, err
		}
		if el.Kind != KindReference {
			return el, nil
		}
		curPath, curKey = el.RefPath, el.RefKey
	}
}

func coreInsert(ctx context.Context, hc *cache.HandleCache, path Path, key []byte, element Element) error {
	switch element.Kind {
	case KindItem, KindReference, KindTree:
	default:
		return newErr(InvalidElement, "unrecognised element kind")
	}
	if err := validatePath(ctx, hc, path); err != nil {
		return err
	}

	prefix := pathcodec.Derive([][]byte(path))
	handle, err := hc.Get(ctx, prefix)
	if err != nil {
		return err
	}

	stored := element
	if element.IsTree() {
		// A freshly declared subtree always starts empty; its own
		// contents (if any were supplied) are not what gets written --
		// only the empty-marker root goes into the parent. Touch the
		// child's handle so the cache holds it for any operation within
		// this same batch that immediately addresses path++[key].
		stored = Tree(nil)
		childPrefix := pathcodec.Derive([][]byte(path.Append(key)))
		if _, err := hc.Get(ctx, childPrefix); err != nil {
			return err
		}
	}
	if err := handle.Insert(ctx, key, stored.Encode()); err != nil {
		return wrapErr(BackendIo, "insert", err)
	}
	return propagate(ctx, hc, path)
}

// coreDelete protects top-level *leaves* from deletion, not top-level
// *Tree* declarations: a bare top-level Item or Reference can never be
// removed once created, but a top-level Tree entry can -- deleting it is
// how a top-level subtree is ever removed at all, and it cascades to every
// descendant exactly like a Tree deleted anywhere else in the hierarchy.
func coreDelete(ctx context.Context, hc *cache.HandleCache, path Path, key []byte) error {
	el, err := getRawAt(ctx, hc, path, key)
	if err != nil {
		return err
	}
	if len(path) == 0 && !el.IsTree() {
		return newErr(InvalidPath, "top-level leaf entries are not deletable")
	}

	prefix := pathcodec.Derive([][]byte(path))
	handle, err := hc.Get(ctx, prefix)
	if err != nil {
		return err
	}
	if err := handle.Delete(ctx, key); err != nil {
		return wrapErr(BackendIo, "delete", err)
	}

	if el.IsTree() {
		if err := recursiveDelete(ctx, hc, path.Append(key)); err != nil {
			return err
		}
	}
	return propagate(ctx, hc, path)
}

// propagate walks the ancestor chain of path from path itself up to the
// top, re-reading each subtree's current root hash and writing it into its
// parent as the Tree element under the corresponding child segment. Each
// parent write mutates that parent's own root hash in turn, which is why
// handles stay cached across the whole walk: the next iteration's RootHash
// call must observe the just-written entry. Finally the top-level subtree's
// root hash is recomputed, which persists it to the Roots space.
func propagate(ctx context.Context, hc *cache.HandleCache, path Path) error {
	for i := len(path); i >= 1; i-- {
		childPrefix := pathcodec.Derive([][]byte(path[:i]))
		childHandle, err := hc.Get(ctx, childPrefix)
		if err != nil {
			return err
		}
		rootHash, err := childHandle.RootHash(ctx)
		if err != nil {
			return err
		}

		parentPrefix := pathcodec.Derive([][]byte(path[:i-1]))
		parentHandle, err := hc.Get(ctx, parentPrefix)
		if err != nil {
			return err
		}
		if err := parentHandle.Insert(ctx, path[i-1], Tree(rootHash).Encode()); err != nil {
			return wrapErr(BackendIo, "propagate", err)
		}
	}
	rootHandle, err := hc.Get(ctx, pathcodec.RootPrefix)
	if err != nil {
		return err
	}
	if _, err := rootHandle.RootHash(ctx); err != nil {
		return err
	}
	return nil
}

// findSubtrees performs a worklist traversal starting from rootPath,
// iterating every visited subtree's entries and enqueueing children that
// are Tree elements, returning the full set of descendant paths including
// rootPath itself.
func findSubtrees(ctx context.Context, hc *cache.HandleCache, rootPath Path) ([]Path, error) {
	found := []Path{rootPath}
	worklist := []Path{rootPath}

	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]

		prefix := pathcodec.Derive([][]byte(cur))
		handle, err := hc.Get(ctx, prefix)
		if err != nil {
			return nil, err
		}

		var children []Path
		err = handle.Iterate(ctx, func(key, value []byte) error {
			el, err := DecodeElement(value)
			if err != nil {
				return err
			}
			if el.IsTree() {
				children = append(children, cur.Append(key))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		found = append(found, children...)
		worklist = append(worklist, children...)
	}
	return found, nil
}

// recursiveDelete clears the Main, Aux, and Roots ranges of rootPath and
// every descendant subtree, evicting each from hc as it goes. The
// read/enumeration phase across descendant prefixes is pure backend I/O
// with no shared mutable state, so it fans out with errgroup; the
// delete-enqueuing phase that follows is strictly sequential, since it
// appends into hc's shared batch context and the handle map is not safe
// for concurrent mutation.
func recursiveDelete(ctx context.Context, hc *cache.HandleCache, rootPath Path) error {
	descendants, err := findSubtrees(ctx, hc, rootPath)
	if err != nil {
		return wrapErr(CorruptedData, "enumerate descendants", err)
	}

	prefixes := make([]pathcodec.Prefix, len(descendants))
	for i, p := range descendants {
		prefixes[i] = pathcodec.Derive([][]byte(p))
	}

	keysPerPrefix := make([]storage.PrefixKeys, len(prefixes))
	g, gctx := errgroup.WithContext(ctx)
	for i, prefix := range prefixes {
		i, prefix := i, prefix
		g.Go(func() error {
			keys, err := hc.ListPrefixKeys(gctx, prefix)
			if err != nil {
				return err
			}
			keysPerPrefix[i] = keys
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return wrapErr(CorruptedData, "enumerate descendant keys", err)
	}

	for i, prefix := range prefixes {
		sctx := hc.Context(prefix)
		keys := keysPerPrefix[i]
		for _, k := range keys.Main {
			if err := sctx.Delete(ctx, k); err != nil {
				return wrapErr(CorruptedData, "clear main range", err)
			}
		}
		for _, k := range keys.Aux {
			if err := sctx.DeleteAux(ctx, k); err != nil {
				return wrapErr(CorruptedData, "clear aux range", err)
			}
		}
		for _, k := range keys.Roots {
			if err := sctx.DeleteRoot(ctx, k); err != nil {
				return wrapErr(CorruptedData, "clear roots range", err)
			}
		}
		hc.Evict(prefix)
	}
	return nil
}
