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

// Package storage defines the backend and storage-context contracts the
// grove coordinator is built against. Concrete backends live in sibling
// packages (see storage/badgerkv).
package storage

import "context"

// Space names one of the four disjoint key-value spaces a Backend exposes.
type Space uint8

const (
	// Main holds user-facing elements: p||userKey -> element encoding.
	Main Space = iota
	// Aux holds the side-channel auxiliary key-value space.
	Aux
	// Roots holds each subtree's persisted authenticated-tree root state.
	Roots
	// Meta is intentionally never prefixed: it is addressable globally,
	// reserved for coordinator bookkeeping shared across subtrees.
	Meta
)

func (s Space) String() string {
	switch s {
	case Main:
		return "main"
	case Aux:
		return "aux"
	case Roots:
		return "roots"
	case Meta:
		return "meta"
	default:
		return "unknown"
	}
}

// RawIterator is an ordered cursor over the Main space, restricted to keys
// sharing a single prefix. Valid must return false once the cursor leaves
// the prefix range even if the underlying engine cursor is still valid on
// other data. Keys returned by Key are stripped of the prefix.
type RawIterator interface {
	SeekToFirst()
	Seek(key []byte)
	Next()
	Valid() bool
	Key() []byte
	Value() []byte
	// Close releases resources held by the iterator.
	Close()
}

// Batch groups writes to Main/Aux/Roots so they commit atomically via
// Context.CommitBatch. In transactional mode a Batch is a shim that
// applies its ops to the transaction on CommitBatch: the surrounding
// transaction is already the atomic unit.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	PutAux(key, value []byte)
	DeleteAux(key []byte)
	PutRoot(key, value []byte)
	DeleteRoot(key []byte)
}

// PrefixKeys holds the user-facing (prefix-stripped) keys found under a
// given prefix in each of the Main, Aux, and Roots spaces. Used by the
// coordinator's recursive deletion to enumerate exactly what a descendant
// subtree's cleanup must remove.
type PrefixKeys struct {
	Main  [][]byte
	Aux   [][]byte
	Roots [][]byte
}

// Backend is the contract required of the underlying LSM engine: four key
// spaces, point ops that never error on an absent key, ordered raw
// iteration over Main, atomic batches, snapshot-isolated transactions,
// and explicit flush.
type Backend interface {
	// Get returns the value stored at key in the given space, or nil if
	// absent. It never returns an error for a missing key.
	Get(ctx context.Context, space Space, key []byte) ([]byte, error)
	Put(ctx context.Context, space Space, key, value []byte) error
	Delete(ctx context.Context, space Space, key []byte) error

	// NewBatch returns a fresh atomic batch.
	NewBatch() Batch
	// CommitBatch commits b as a single atomic unit, all-or-nothing.
	CommitBatch(ctx context.Context, b Batch) error

	// RawIter returns an iterator over Main restricted to keys beginning
	// with prefix; the iterator yields keys with prefix stripped.
	RawIter(ctx context.Context, prefix []byte) (RawIterator, error)

	// ListPrefixKeys enumerates every key under prefix in Main, Aux, and
	// Roots, for recursive-deletion cleanup.
	ListPrefixKeys(ctx context.Context, prefix []byte) (PrefixKeys, error)

	// NewTransaction opens a snapshot-isolated transaction.
	NewTransaction() (Transaction, error)

	// Flush forces durability of all writes made so far.
	Flush() error

	// Close releases the backend's resources.
	Close() error
}

// Transaction provides the same per-space operations as Backend, under
// snapshot isolation, plus Commit/Rollback.
type Transaction interface {
	Get(ctx context.Context, space Space, key []byte) ([]byte, error)
	Put(ctx context.Context, space Space, key, value []byte) error
	Delete(ctx context.Context, space Space, key []byte) error

	RawIter(ctx context.Context, prefix []byte) (RawIterator, error)
	ListPrefixKeys(ctx context.Context, prefix []byte) (PrefixKeys, error)

	// Commit applies every write made through the transaction atomically.
	// It fails with a conflict-shaped error if the backend detects a
	// write made outside the transaction to data this transaction read.
	Commit(ctx context.Context) error
	// Rollback discards every write made through the transaction.
	Rollback() error
}
