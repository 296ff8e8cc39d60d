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
	"context"
	"testing"

	"github.com/thicketdb/thicket/storage"
	"github.com/thicketdb/thicket/storage/memkv"
)

func newTestContext() storage.Context {
	return storage.NewDirectContext(memkv.Open(), []byte("p"))
}

func TestTreeInsertGetDelete(t *testing.T) {
	ctx := context.Background()
	tr := New(newTestContext())

	if err := tr.Insert(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := tr.Get(ctx, []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get = %q, want %q", got, "v")
	}

	if err := tr.Delete(ctx, []byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = tr.Get(ctx, []byte("k"))
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("Get after delete = %q, want nil", got)
	}
}

func TestTreeRootHashDeterministicRegardlessOfInsertOrder(t *testing.T) {
	ctx := context.Background()

	t1 := New(newTestContext())
	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		if err := t1.Insert(ctx, []byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	h1, err := t1.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}

	t2 := New(newTestContext())
	for _, kv := range [][2]string{{"c", "3"}, {"a", "1"}, {"b", "2"}} {
		if err := t2.Insert(ctx, []byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	h2, err := t2.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}

	if string(h1) != string(h2) {
		t.Fatalf("root hash depends on insertion order: %x != %x", h1, h2)
	}
}

func TestTreeRootHashEmptyIsNil(t *testing.T) {
	ctx := context.Background()
	tr := New(newTestContext())
	h, err := tr.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}
	if h != nil {
		t.Fatalf("RootHash of empty tree = %x, want nil", h)
	}
}

func TestTreeRootHashPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	backend := memkv.Open()
	sctx := storage.NewDirectContext(backend, []byte("p"))

	tr := New(sctx)
	if err := tr.Insert(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	want, err := tr.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}

	got, err := LoadPersistedRoot(ctx, storage.NewDirectContext(backend, []byte("p")))
	if err != nil {
		t.Fatalf("LoadPersistedRoot: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("LoadPersistedRoot = %x, want %x", got, want)
	}
}

func TestTreeIsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := memkv.Open()
	sctx := storage.NewDirectContext(backend, []byte("p"))

	tr := New(sctx)
	empty, err := tr.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Fatalf("IsEmpty on a fresh subtree = false, want true")
	}

	if err := tr.Insert(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := tr.RootHash(ctx); err != nil {
		t.Fatalf("RootHash: %v", err)
	}
	empty, err = tr.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if empty {
		t.Fatalf("IsEmpty after Insert = true, want false")
	}
}

func TestTreeFromPersistedRootAnswersWithoutScanningEntries(t *testing.T) {
	ctx := context.Background()
	backend := memkv.Open()
	sctx := storage.NewDirectContext(backend, []byte("p"))

	seed := New(sctx)
	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}} {
		if err := seed.Insert(ctx, []byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	want, err := seed.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}

	reloaded, err := NewFromPersistedRoot(ctx, storage.NewDirectContext(backend, []byte("p")))
	if err != nil {
		t.Fatalf("NewFromPersistedRoot: %v", err)
	}
	got, err := reloaded.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("RootHash after reload = %x, want %x", got, want)
	}
	empty, err := reloaded.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if empty {
		t.Fatalf("IsEmpty after reload = true, want false")
	}

	// A mutation on the reloaded handle must force a real hydration rather
	// than keep trusting the preloaded root.
	if err := reloaded.Insert(ctx, []byte("c"), []byte("3")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err = reloaded.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}
	if string(got) == string(want) {
		t.Fatalf("RootHash after mutating reloaded handle did not change")
	}
}

func TestTreeIterateOrdered(t *testing.T) {
	ctx := context.Background()
	tr := New(newTestContext())
	for _, kv := range [][2]string{{"b", "2"}, {"a", "1"}, {"c", "3"}} {
		if err := tr.Insert(ctx, []byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	var keys []string
	err := tr.Iterate(ctx, func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("Iterate order = %v, want %v", keys, want)
		}
	}
}
