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
	"bytes"

	"github.com/dgraph-io/badger/v4"

	"github.com/thicketdb/thicket/storage"
)

// iterator adapts a badger.Iterator to storage.RawIterator, restricted to
// the Main space under a single prefix. Valid reports false as soon as the
// cursor leaves the prefix range even if the underlying badger iterator
// remains valid on other data.
type iterator struct {
	it          *badger.Iterator
	txn         *badger.Txn
	physicalPfx []byte
	ownsTxn     bool
}

func newIterator(it *badger.Iterator, txn *badger.Txn, tag spaceTag, prefix []byte) *iterator {
	return &iterator{it: it, txn: txn, physicalPfx: withTag(tag, prefix), ownsTxn: true}
}

func (i *iterator) SeekToFirst() {
	i.it.Seek(i.physicalPfx)
}

func (i *iterator) Seek(key []byte) {
	target := make([]byte, len(i.physicalPfx)+len(key))
	copy(target, i.physicalPfx)
	copy(target[len(i.physicalPfx):], key)
	i.it.Seek(target)
}

func (i *iterator) Next() {
	i.it.Next()
}

func (i *iterator) Valid() bool {
	return i.it.ValidForPrefix(i.physicalPfx)
}

func (i *iterator) Key() []byte {
	k := i.it.Item().KeyCopy(nil)
	if !bytes.HasPrefix(k, i.physicalPfx) {
		return nil
	}
	return k[len(i.physicalPfx):]
}

func (i *iterator) Value() []byte {
	v, err := i.it.Item().ValueCopy(nil)
	if err != nil {
		return nil
	}
	return v
}

func (i *iterator) Close() {
	i.it.Close()
	if i.ownsTxn {
		i.txn.Discard()
	}
}

// scanTagPrefix collects every user key (with its one-byte space tag and
// the context prefix stripped) found under tag||prefix within txn, used by
// ListPrefixKeys to enumerate a descendant subtree's Main/Aux/Roots
// entries for recursive-deletion cleanup.
func scanTagPrefix(txn *badger.Txn, tag spaceTag, prefix []byte) ([][]byte, error) {
	pp := withTag(tag, prefix)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(pp); it.ValidForPrefix(pp); it.Next() {
		k := it.Item().KeyCopy(nil)
		keys = append(keys, k[len(pp):])
	}
	return keys, nil
}

func listPrefixKeys(txn *badger.Txn, prefix []byte) (storage.PrefixKeys, error) {
	main, err := scanTagPrefix(txn, tagMain, prefix)
	if err != nil {
		return storage.PrefixKeys{}, err
	}
	aux, err := scanTagPrefix(txn, tagAux, prefix)
	if err != nil {
		return storage.PrefixKeys{}, err
	}
	roots, err := scanTagPrefix(txn, tagRoots, prefix)
	if err != nil {
		return storage.PrefixKeys{}, err
	}
	return storage.PrefixKeys{Main: main, Aux: aux, Roots: roots}, nil
}
