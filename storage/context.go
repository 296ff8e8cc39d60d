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

package storage

import "context"

// Context bundles a backend, a prefix, and a mode. Every key passed
// through a Context is translated to prefix||key before reaching the
// backend for the Main/Aux/Roots spaces; the Meta space is never prefixed,
// since meta keys are coordinator bookkeeping shared globally across
// subtrees. A Context is a cheap value: construction is O(prefix-copy) and
// dropping one commits nothing.
//
// Three variants implement Context: DirectContext issues operations
// straight against the Backend; DirectBatchContext stages writes into a
// Batch shared across prefixes; TxContext routes every operation through
// an open Transaction. Modelling both behind one interface is what lets
// the grove coordinator's code be written once and run in either mode.
type Context interface {
	Put(ctx context.Context, key, value []byte) error
	Get(ctx context.Context, key []byte) ([]byte, error)
	Delete(ctx context.Context, key []byte) error

	PutAux(ctx context.Context, key, value []byte) error
	GetAux(ctx context.Context, key []byte) ([]byte, error)
	DeleteAux(ctx context.Context, key []byte) error

	PutRoot(ctx context.Context, key, value []byte) error
	GetRoot(ctx context.Context, key []byte) ([]byte, error)
	DeleteRoot(ctx context.Context, key []byte) error

	// PutMeta/GetMeta/DeleteMeta address the unprefixed, global Meta
	// space directly; the Context's own prefix does not apply.
	PutMeta(ctx context.Context, key, value []byte) error
	GetMeta(ctx context.Context, key []byte) ([]byte, error)
	DeleteMeta(ctx context.Context, key []byte) error

	// NewBatch returns a batch scoped to this context's prefix. In
	// transactional mode this is a shim that buffers ops and applies them
	// to the transaction on CommitBatch; the transaction itself is the
	// atomic unit.
	NewBatch() Batch
	CommitBatch(ctx context.Context, b Batch) error

	// RawIter iterates the Main space restricted to this context's
	// prefix, yielding user-facing (prefix-stripped) keys.
	RawIter(ctx context.Context) (RawIterator, error)

	// Prefix returns the raw prefix bytes this context is scoped to.
	Prefix() []byte
}

func prefixed(prefix, key []byte) []byte {
	out := make([]byte, len(prefix)+len(key))
	copy(out, prefix)
	copy(out[len(prefix):], key)
	return out
}

// DirectContext issues every operation straight against the Backend.
type DirectContext struct {
	backend Backend
	prefix  []byte
}

// NewDirectContext returns a Context for prefix operating directly
// against backend.
func NewDirectContext(backend Backend, prefix []byte) *DirectContext {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &DirectContext{backend: backend, prefix: p}
}

func (c *DirectContext) Prefix() []byte { return c.prefix }

func (c *DirectContext) Put(ctx context.Context, key, value []byte) error {
	return c.backend.Put(ctx, Main, prefixed(c.prefix, key), value)
}

func (c *DirectContext) Get(ctx context.Context, key []byte) ([]byte, error) {
	return c.backend.Get(ctx, Main, prefixed(c.prefix, key))
}

func (c *DirectContext) Delete(ctx context.Context, key []byte) error {
	return c.backend.Delete(ctx, Main, prefixed(c.prefix, key))
}

func (c *DirectContext) PutAux(ctx context.Context, key, value []byte) error {
	return c.backend.Put(ctx, Aux, prefixed(c.prefix, key), value)
}

func (c *DirectContext) GetAux(ctx context.Context, key []byte) ([]byte, error) {
	return c.backend.Get(ctx, Aux, prefixed(c.prefix, key))
}

func (c *DirectContext) DeleteAux(ctx context.Context, key []byte) error {
	return c.backend.Delete(ctx, Aux, prefixed(c.prefix, key))
}

func (c *DirectContext) PutRoot(ctx context.Context, key, value []byte) error {
	return c.backend.Put(ctx, Roots, prefixed(c.prefix, key), value)
}

func (c *DirectContext) GetRoot(ctx context.Context, key []byte) ([]byte, error) {
	return c.backend.Get(ctx, Roots, prefixed(c.prefix, key))
}

func (c *DirectContext) DeleteRoot(ctx context.Context, key []byte) error {
	return c.backend.Delete(ctx, Roots, prefixed(c.prefix, key))
}

func (c *DirectContext) PutMeta(ctx context.Context, key, value []byte) error {
	return c.backend.Put(ctx, Meta, key, value)
}

func (c *DirectContext) GetMeta(ctx context.Context, key []byte) ([]byte, error) {
	return c.backend.Get(ctx, Meta, key)
}

func (c *DirectContext) DeleteMeta(ctx context.Context, key []byte) error {
	return c.backend.Delete(ctx, Meta, key)
}

func (c *DirectContext) NewBatch() Batch {
	return &prefixedBatch{inner: c.backend.NewBatch(), prefix: c.prefix}
}

func (c *DirectContext) CommitBatch(ctx context.Context, b Batch) error {
	pb, ok := b.(*prefixedBatch)
	if !ok {
		return nil
	}
	return c.backend.CommitBatch(ctx, pb.inner)
}

func (c *DirectContext) RawIter(ctx context.Context) (RawIterator, error) {
	return c.backend.RawIter(ctx, c.prefix)
}

// DirectBatchContext is the atomic variant of DirectContext: writes
// enqueue into a Batch shared across every prefix touched by one
// coordinator operation, reads go straight to the backend, and the whole
// batch is committed once, after the operation's mutation, cleanup, and
// propagation have all been staged.
type DirectBatchContext struct {
	backend Backend
	batch   Batch
	prefix  []byte
}

// NewDirectBatchContext returns a Context for prefix whose writes enqueue
// into the shared batch.
func NewDirectBatchContext(backend Backend, batch Batch, prefix []byte) *DirectBatchContext {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &DirectBatchContext{backend: backend, batch: batch, prefix: p}
}

func (c *DirectBatchContext) Prefix() []byte { return c.prefix }

func (c *DirectBatchContext) Put(ctx context.Context, key, value []byte) error {
	c.batch.Put(prefixed(c.prefix, key), value)
	return nil
}

func (c *DirectBatchContext) Get(ctx context.Context, key []byte) ([]byte, error) {
	return c.backend.Get(ctx, Main, prefixed(c.prefix, key))
}

func (c *DirectBatchContext) Delete(ctx context.Context, key []byte) error {
	c.batch.Delete(prefixed(c.prefix, key))
	return nil
}

func (c *DirectBatchContext) PutAux(ctx context.Context, key, value []byte) error {
	c.batch.PutAux(prefixed(c.prefix, key), value)
	return nil
}

func (c *DirectBatchContext) GetAux(ctx context.Context, key []byte) ([]byte, error) {
	return c.backend.Get(ctx, Aux, prefixed(c.prefix, key))
}

func (c *DirectBatchContext) DeleteAux(ctx context.Context, key []byte) error {
	c.batch.DeleteAux(prefixed(c.prefix, key))
	return nil
}

func (c *DirectBatchContext) PutRoot(ctx context.Context, key, value []byte) error {
	c.batch.PutRoot(prefixed(c.prefix, key), value)
	return nil
}

func (c *DirectBatchContext) GetRoot(ctx context.Context, key []byte) ([]byte, error) {
	return c.backend.Get(ctx, Roots, prefixed(c.prefix, key))
}

func (c *DirectBatchContext) DeleteRoot(ctx context.Context, key []byte) error {
	c.batch.DeleteRoot(prefixed(c.prefix, key))
	return nil
}

// PutMeta/GetMeta/DeleteMeta bypass the batch: Meta is coordinator
// bookkeeping, not part of a user mutation's atomicity requirements.
func (c *DirectBatchContext) PutMeta(ctx context.Context, key, value []byte) error {
	return c.backend.Put(ctx, Meta, key, value)
}

func (c *DirectBatchContext) GetMeta(ctx context.Context, key []byte) ([]byte, error) {
	return c.backend.Get(ctx, Meta, key)
}

func (c *DirectBatchContext) DeleteMeta(ctx context.Context, key []byte) error {
	return c.backend.Delete(ctx, Meta, key)
}

// NewBatch/CommitBatch are vacuous: the shared batch is committed once by
// the coordinator after the whole operation has been staged.
func (c *DirectBatchContext) NewBatch() Batch { return c.batch }
func (c *DirectBatchContext) CommitBatch(ctx context.Context, b Batch) error { return nil }

func (c *DirectBatchContext) RawIter(ctx context.Context) (RawIterator, error) {
	return c.backend.RawIter(ctx, c.prefix)
}

// TxContext routes every operation through an open Transaction, so reads
// observe the transaction's own uncommitted writes and no writes
// committed outside it after it started.
type TxContext struct {
	tx     Transaction
	prefix []byte
}

// NewTxContext returns a Context for prefix operating against an open
// transaction.
func NewTxContext(tx Transaction, prefix []byte) *TxContext {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &TxContext{tx: tx, prefix: p}
}

func (c *TxContext) Prefix() []byte { return c.prefix }

func (c *TxContext) Put(ctx context.Context, key, value []byte) error {
	return c.tx.Put(ctx, Main, prefixed(c.prefix, key), value)
}

func (c *TxContext) Get(ctx context.Context, key []byte) ([]byte, error) {
	return c.tx.Get(ctx, Main, prefixed(c.prefix, key))
}

func (c *TxContext) Delete(ctx context.Context, key []byte) error {
	return c.tx.Delete(ctx, Main, prefixed(c.prefix, key))
}

func (c *TxContext) PutAux(ctx context.Context, key, value []byte) error {
	return c.tx.Put(ctx, Aux, prefixed(c.prefix, key), value)
}

func (c *TxContext) GetAux(ctx context.Context, key []byte) ([]byte, error) {
	return c.tx.Get(ctx, Aux, prefixed(c.prefix, key))
}

func (c *TxContext) DeleteAux(ctx context.Context, key []byte) error {
	return c.tx.Delete(ctx, Aux, prefixed(c.prefix, key))
}

func (c *TxContext) PutRoot(ctx context.Context, key, value []byte) error {
	return c.tx.Put(ctx, Roots, prefixed(c.prefix, key), value)
}

func (c *TxContext) GetRoot(ctx context.Context, key []byte) ([]byte, error) {
	return c.tx.Get(ctx, Roots, prefixed(c.prefix, key))
}

func (c *TxContext) DeleteRoot(ctx context.Context, key []byte) error {
	return c.tx.Delete(ctx, Roots, prefixed(c.prefix, key))
}

func (c *TxContext) PutMeta(ctx context.Context, key, value []byte) error {
	return c.tx.Put(ctx, Meta, key, value)
}

func (c *TxContext) GetMeta(ctx context.Context, key []byte) ([]byte, error) {
	return c.tx.Get(ctx, Meta, key)
}

func (c *TxContext) DeleteMeta(ctx context.Context, key []byte) error {
	return c.tx.Delete(ctx, Meta, key)
}

// NewBatch returns a batch shim that buffers ops: the transaction itself
// is the atomic unit in transactional mode.
func (c *TxContext) NewBatch() Batch {
	return &txBatchShim{ctx: c}
}

// CommitBatch applies the shim's buffered ops to the transaction; ops in
// a batch that is never passed to CommitBatch are not applied.
func (c *TxContext) CommitBatch(ctx context.Context, b Batch) error {
	shim, ok := b.(*txBatchShim)
	if !ok {
		return nil
	}
	return shim.apply(ctx)
}

func (c *TxContext) RawIter(ctx context.Context) (RawIterator, error) {
	return c.tx.RawIter(ctx, c.prefix)
}

// prefixedBatch adapts a Backend's Batch to a single fixed prefix.
type prefixedBatch struct {
	inner  Batch
	prefix []byte
}

func (b *prefixedBatch) Put(key, value []byte) { b.inner.Put(prefixed(b.prefix, key), value) }
func (b *prefixedBatch) Delete(key []byte)     { b.inner.Delete(prefixed(b.prefix, key)) }
func (b *prefixedBatch) PutAux(key, value []byte) {
	b.inner.PutAux(prefixed(b.prefix, key), value)
}
func (b *prefixedBatch) DeleteAux(key []byte) { b.inner.DeleteAux(prefixed(b.prefix, key)) }
func (b *prefixedBatch) PutRoot(key, value []byte) {
	b.inner.PutRoot(prefixed(b.prefix, key), value)
}
func (b *prefixedBatch) DeleteRoot(key []byte) { b.inner.DeleteRoot(prefixed(b.prefix, key)) }

// txBatchShim buffers ops issued through NewBatch in transactional mode and
// applies them directly to the transaction on CommitBatch, since the
// transaction -- not the batch -- is the real atomic unit.
type txBatchShim struct {
	ctx *TxContext
	ops []func(context.Context) error
}

func (b *txBatchShim) Put(key, value []byte) {
	k, v := append([]byte(nil), key...), append([]byte(nil), value...)
	b.ops = append(b.ops, func(ctx context.Context) error { return b.ctx.Put(ctx, k, v) })
}

func (b *txBatchShim) Delete(key []byte) {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, func(ctx context.Context) error { return b.ctx.Delete(ctx, k) })
}

func (b *txBatchShim) PutAux(key, value []byte) {
	k, v := append([]byte(nil), key...), append([]byte(nil), value...)
	b.ops = append(b.ops, func(ctx context.Context) error { return b.ctx.PutAux(ctx, k, v) })
}

func (b *txBatchShim) DeleteAux(key []byte) {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, func(ctx context.Context) error { return b.ctx.DeleteAux(ctx, k) })
}

func (b *txBatchShim) PutRoot(key, value []byte) {
	k, v := append([]byte(nil), key...), append([]byte(nil), value...)
	b.ops = append(b.ops, func(ctx context.Context) error { return b.ctx.PutRoot(ctx, k, v) })
}

func (b *txBatchShim) DeleteRoot(key []byte) {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, func(ctx context.Context) error { return b.ctx.DeleteRoot(ctx, k) })
}

func (b *txBatchShim) apply(ctx context.Context) error {
	for _, op := range b.ops {
		if err := op(ctx); err != nil {
			return err
		}
	}
	return nil
}
