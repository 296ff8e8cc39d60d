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

// Package cache implements the subtree handle cache: a prefix-keyed map
// from a subtree's derived prefix to its loaded authenticated-tree handle,
// instantiated lazily and evicted on demand.
//
// The caching idiom follows the subtree-keyed caching used by Merkle
// log storage layers, simplified: each grove subtree is independently
// addressed by its own prefix, so there is one whole-handle-per-prefix
// cache entry rather than bit-strata sharding of one large sparse tree.
package cache

import (
	"context"
	"sync"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/golang/glog"

	"github.com/thicketdb/thicket/internal/pathcodec"
	"github.com/thicketdb/thicket/merkle"
	"github.com/thicketdb/thicket/storage"
)

// HandleCache maps a path prefix to its loaded subtree handle. It is not
// shared across transactions: a transactional session builds its own
// HandleCache bound to that transaction's contexts, since handles embed a
// Context bound to a specific mode. It is not safe for concurrent use.
type HandleCache struct {
	mu      sync.Mutex
	handles map[pathcodec.Prefix]*merkle.Tree

	// exactly one of backend/tx is set, selecting Direct vs Transactional
	// mode for every context this cache hands out. batch is additionally
	// set for an ephemeral Direct-mode cache backing a single mutating
	// coordinator operation, so that writes across every prefix it
	// touches land in one atomic backend batch.
	backend storage.Backend
	tx      storage.Transaction
	batch   storage.Batch
}

// NewDirect returns a HandleCache whose handles operate directly against
// backend.
func NewDirect(backend storage.Backend) *HandleCache {
	return &HandleCache{handles: make(map[pathcodec.Prefix]*merkle.Tree), backend: backend}
}

// NewDirectBatch returns a HandleCache whose handles stage writes into the
// shared batch instead of writing to backend immediately, so a mutate plus
// its recursive cleanup and ancestor propagation can commit atomically in
// one batch.
func NewDirectBatch(backend storage.Backend, batch storage.Batch) *HandleCache {
	return &HandleCache{handles: make(map[pathcodec.Prefix]*merkle.Tree), backend: backend, batch: batch}
}

// NewTransactional returns a HandleCache whose handles route every
// operation through tx.
func NewTransactional(tx storage.Transaction) *HandleCache {
	return &HandleCache{handles: make(map[pathcodec.Prefix]*merkle.Tree), tx: tx}
}

// Context builds a storage.Context scoped to prefix, in this cache's
// mode, without going through the handle cache. Used for operations (like
// the auxiliary store) that need a prefixed context but no authenticated-
// tree semantics.
func (c *HandleCache) Context(prefix pathcodec.Prefix) storage.Context {
	switch {
	case c.tx != nil:
		return storage.NewTxContext(c.tx, prefix.Bytes())
	case c.batch != nil:
		return storage.NewDirectBatchContext(c.backend, c.batch, prefix.Bytes())
	default:
		return storage.NewDirectContext(c.backend, prefix.Bytes())
	}
}

// ListPrefixKeys enumerates every Main/Aux/Roots key under prefix, in this
// cache's mode, for recursive-deletion cleanup.
func (c *HandleCache) ListPrefixKeys(ctx context.Context, prefix pathcodec.Prefix) (storage.PrefixKeys, error) {
	if c.tx != nil {
		return c.tx.ListPrefixKeys(ctx, prefix.Bytes())
	}
	return c.backend.ListPrefixKeys(ctx, prefix.Bytes())
}

// Prefixes returns every prefix currently holding a cached handle, so a
// caller can evict a longer-lived read cache after a batch commits.
func (c *HandleCache) Prefixes() []pathcodec.Prefix {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]pathcodec.Prefix, 0, len(c.handles))
	for p := range c.handles {
		out = append(out, p)
	}
	return out
}

// Get returns the cached handle for prefix, instantiating and caching one
// on a miss: allocate a storage context for the prefix and build the
// authenticated-tree handle bound to it, seeded from the subtree's
// persisted root pointer so an immediate RootHash or IsEmpty call doesn't
// force a full scan of the subtree's entries.
func (c *HandleCache) Get(ctx context.Context, prefix pathcodec.Prefix) (*merkle.Tree, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.handles[prefix]; ok {
		recordLookup(ctx, true)
		return h, nil
	}
	recordLookup(ctx, false)

	sctx := c.Context(prefix)
	handle, err := merkle.NewFromPersistedRoot(ctx, sctx)
	if err != nil {
		return nil, err
	}
	c.handles[prefix] = handle
	glog.V(2).Infof("cache: loaded subtree handle for prefix %s", prefix)
	return handle, nil
}

// Evict drops the cached handle for prefix, if any. Called on recursive
// deletion, and by the coordinator on its read cache after a committed
// batch.
func (c *HandleCache) Evict(prefix pathcodec.Prefix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, prefix)
}

// Len reports the number of currently cached handles, for tests and
// diagnostics.
func (c *HandleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

var (
	// MeasureLookup counts one per HandleCache.Get call; the "hit" tag
	// distinguishes cache hits from misses.
	MeasureLookup = stats.Int64("thicket/cache/lookups", "subtree handle cache lookups", stats.UnitDimensionless)

	keyHit, _ = tag.NewKey("hit")
)

func recordLookup(ctx context.Context, hit bool) {
	v := "false"
	if hit {
		v = "true"
	}
	taggedCtx, err := tag.New(ctx, tag.Upsert(keyHit, v))
	if err != nil {
		stats.Record(ctx, MeasureLookup.M(1))
		return
	}
	stats.Record(taggedCtx, MeasureLookup.M(1))
}
