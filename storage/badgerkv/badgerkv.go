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

// Package badgerkv implements storage.Backend on top of
// github.com/dgraph-io/badger/v4, a pure-Go embedded LSM engine. Badger has
// no native column families, so the four key spaces are realised by
// prepending a one-byte space tag ahead of the
// (already-prefixed) key: the physical badger key is
// spaceTag || contextPrefix || userKey. This keeps the logical separation
// the coordinator depends on -- clearing Main for a prefix must never
// touch Roots or Aux entries sharing that prefix -- on a single badger DB.
package badgerkv

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang/glog"

	"github.com/thicketdb/thicket/storage"
)

type spaceTag byte

const (
	tagMain  spaceTag = 'm'
	tagAux   spaceTag = 'a'
	tagRoots spaceTag = 'r'
	tagMeta  spaceTag = 'x'
)

func tagFor(s storage.Space) spaceTag {
	switch s {
	case storage.Main:
		return tagMain
	case storage.Aux:
		return tagAux
	case storage.Roots:
		return tagRoots
	case storage.Meta:
		return tagMeta
	default:
		panic("badgerkv: unknown space")
	}
}

func physicalKey(s storage.Space, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(tagFor(s))
	copy(out[1:], key)
	return out
}

// Options configures the badger-backed store, mirroring the shape of
// badger's own Options builder and of oasis-core's NodeDB Config.
type Options struct {
	// Dir is the on-disk directory for the database. Ignored if
	// InMemory is true.
	Dir string
	// InMemory runs badger with no on-disk footprint, for tests.
	InMemory bool
	// SyncWrites enables synchronous writes for durability at the cost
	// of throughput.
	SyncWrites bool
	// ValueLogFileSize overrides badger's default value-log segment
	// size; zero keeps badger's default.
	ValueLogFileSize int64
}

// Backend wraps a badger.DB to implement storage.Backend.
type Backend struct {
	db *badger.DB
}

// Open opens (or creates) a badger-backed Backend per opts.
func Open(opts Options) (*Backend, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithLogger(nil)
	if opts.ValueLogFileSize > 0 {
		bopts = bopts.WithValueLogFileSize(opts.ValueLogFileSize)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, wrapIo("open", err)
	}
	return &Backend{db: db}, nil
}

func wrapIo(op string, err error) error {
	return &storage.BackendError{Op: op, Cause: err}
}

func (b *Backend) Get(ctx context.Context, space storage.Space, key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(physicalKey(space, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, wrapIo("get", err)
	}
	return value, nil
}

func (b *Backend) Put(ctx context.Context, space storage.Space, key, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(physicalKey(space, key), value)
	})
	if err != nil {
		return wrapIo("put", err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, space storage.Space, key []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(physicalKey(space, key))
	})
	if err != nil {
		return wrapIo("delete", err)
	}
	return nil
}

func (b *Backend) NewBatch() storage.Batch {
	return &batch{}
}

func (b *Backend) CommitBatch(ctx context.Context, raw storage.Batch) error {
	bat, ok := raw.(*batch)
	if !ok || len(bat.ops) == 0 {
		return nil
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, op := range bat.ops {
			if err := op(txn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapIo("commit_batch", err)
	}
	return nil
}

func (b *Backend) RawIter(ctx context.Context, prefix []byte) (storage.RawIterator, error) {
	txn := b.db.NewTransaction(false)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	return newIterator(it, txn, tagMain, prefix), nil
}

func (b *Backend) ListPrefixKeys(ctx context.Context, prefix []byte) (storage.PrefixKeys, error) {
	var out storage.PrefixKeys
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = listPrefixKeys(txn, prefix)
		return err
	})
	if err != nil {
		return storage.PrefixKeys{}, wrapIo("list_prefix_keys", err)
	}
	return out, nil
}

func (b *Backend) NewTransaction() (storage.Transaction, error) {
	return &transaction{db: b.db, txn: b.db.NewTransaction(true)}, nil
}

func (b *Backend) Flush() error {
	return b.db.Sync()
}

func (b *Backend) Close() error {
	glog.V(1).Infof("badgerkv: closing backend")
	return b.db.Close()
}
