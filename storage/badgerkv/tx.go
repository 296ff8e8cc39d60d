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

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/thicketdb/thicket/storage"
)

// transaction adapts a badger.Txn to storage.Transaction, providing
// snapshot isolation: reads observe the transaction's own writes and no
// writes committed outside it after it started.
type transaction struct {
	db  *badger.DB
	txn *badger.Txn
}

func (t *transaction) Get(ctx context.Context, space storage.Space, key []byte) ([]byte, error) {
	item, err := t.txn.Get(physicalKey(space, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapIo("get", err)
	}
	return item.ValueCopy(nil)
}

func (t *transaction) Put(ctx context.Context, space storage.Space, key, value []byte) error {
	if err := t.txn.Set(physicalKey(space, key), value); err != nil {
		return wrapIo("put", err)
	}
	return nil
}

func (t *transaction) Delete(ctx context.Context, space storage.Space, key []byte) error {
	if err := t.txn.Delete(physicalKey(space, key)); err != nil {
		return wrapIo("delete", err)
	}
	return nil
}

func (t *transaction) RawIter(ctx context.Context, prefix []byte) (storage.RawIterator, error) {
	it := t.txn.NewIterator(badger.DefaultIteratorOptions)
	return &iterator{it: it, txn: t.txn, physicalPfx: withTag(tagMain, prefix), ownsTxn: false}, nil
}

// ListPrefixKeys scans through the transaction's own iterator, so the
// result reflects this transaction's pending writes as well as committed
// state, consistent with its snapshot isolation.
func (t *transaction) ListPrefixKeys(ctx context.Context, prefix []byte) (storage.PrefixKeys, error) {
	out, err := listPrefixKeys(t.txn, prefix)
	if err != nil {
		return storage.PrefixKeys{}, wrapIo("list_prefix_keys", err)
	}
	return out, nil
}

func withTag(tag spaceTag, prefix []byte) []byte {
	pp := make([]byte, 1+len(prefix))
	pp[0] = byte(tag)
	copy(pp[1:], prefix)
	return pp
}

func (t *transaction) Commit(ctx context.Context) error {
	err := t.txn.Commit()
	if errors.Is(err, badger.ErrConflict) {
		return &storage.ConflictError{Cause: err}
	}
	if err != nil {
		return wrapIo("commit", err)
	}
	return nil
}

func (t *transaction) Rollback() error {
	t.txn.Discard()
	return nil
}
