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
	"testing"

	"github.com/thicketdb/thicket/internal/pathcodec"
	"github.com/thicketdb/thicket/storage/memkv"
)

func newTestCoordinator() *Coordinator {
	return Open(memkv.Open())
}

func TestEmptyGroveRootHashIsStable(t *testing.T) {
	ctx := context.Background()
	co := newTestCoordinator()

	h1, err := co.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}
	h2, err := co.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}
	if string(h1) != string(h2) {
		t.Fatalf("RootHash of empty grove not stable: %x != %x", h1, h2)
	}
}

func TestTopLevelItemLifecycle(t *testing.T) {
	ctx := context.Background()
	co := newTestCoordinator()

	before, err := co.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}

	if err := co.Insert(ctx, nil, []byte("a"), Item([]byte("x"))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := co.Get(ctx, nil, []byte("a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Equal(Item([]byte("x"))) {
		t.Fatalf("Get = %+v, want Item(x)", got)
	}

	after, err := co.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}
	if string(before) == string(after) {
		t.Fatalf("top-level root hash did not change after insert")
	}

	if err := co.Delete(ctx, nil, []byte("a")); !IsKind(err, InvalidPath) {
		t.Fatalf("Delete at empty path = %v, want InvalidPath", err)
	}
}

func TestNestedSubtreeParentTracksChildRootHash(t *testing.T) {
	ctx := context.Background()
	co := newTestCoordinator()

	if err := co.Insert(ctx, nil, []byte("t"), Tree(nil)); err != nil {
		t.Fatalf("Insert tree: %v", err)
	}
	if err := co.Insert(ctx, Path{[]byte("t")}, []byte("k"), Item([]byte("v"))); err != nil {
		t.Fatalf("Insert into child: %v", err)
	}

	parentView, err := co.GetRaw(ctx, nil, []byte("t"))
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if !parentView.IsTree() {
		t.Fatalf("GetRaw([], t) = %+v, want a Tree element", parentView)
	}

	childHash, err := co.doTestRootHashOf(ctx, Path{[]byte("t")})
	if err != nil {
		t.Fatalf("child RootHash: %v", err)
	}
	if string(parentView.RootHash) != string(childHash) {
		t.Fatalf("parent's stored hash %x != child's actual root hash %x", parentView.RootHash, childHash)
	}
}

// doTestRootHashOf is test-only plumbing to read a non-top-level subtree's
// root hash directly, mirroring what RootHash does for the top level.
func (co *Coordinator) doTestRootHashOf(ctx context.Context, path Path) ([]byte, error) {
	handle, err := co.readCache.Get(ctx, pathcodec.Derive([][]byte(path)))
	if err != nil {
		return nil, err
	}
	return handle.RootHash(ctx)
}

func TestReferenceFollowing(t *testing.T) {
	ctx := context.Background()
	co := newTestCoordinator()

	if err := co.Insert(ctx, nil, []byte("t"), Tree(nil)); err != nil {
		t.Fatalf("Insert tree: %v", err)
	}
	if err := co.Insert(ctx, Path{[]byte("t")}, []byte("k"), Item([]byte("v"))); err != nil {
		t.Fatalf("Insert into child: %v", err)
	}
	if err := co.Insert(ctx, nil, []byte("r"), Reference(Path{[]byte("t")}, []byte("k"))); err != nil {
		t.Fatalf("Insert reference: %v", err)
	}

	got, err := co.Get(ctx, nil, []byte("r"))
	if err != nil {
		t.Fatalf("Get following reference: %v", err)
	}
	if !got.Equal(Item([]byte("v"))) {
		t.Fatalf("Get([], r) = %+v, want Item(v)", got)
	}

	raw, err := co.GetRaw(ctx, nil, []byte("r"))
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if raw.Kind != KindReference {
		t.Fatalf("GetRaw([], r) = %+v, want a Reference element", raw)
	}
}

func TestReferenceLimitOnCycle(t *testing.T) {
	ctx := context.Background()
	co := newTestCoordinator()

	if err := co.Insert(ctx, nil, []byte("a"), Reference(nil, []byte("b"))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := co.Insert(ctx, nil, []byte("b"), Reference(nil, []byte("a"))); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := co.Get(ctx, nil, []byte("a")); !IsKind(err, ReferenceLimit) {
		t.Fatalf("Get on a reference cycle = %v, want ReferenceLimit", err)
	}
}

func TestRecursiveDeleteClearsDescendants(t *testing.T) {
	ctx := context.Background()
	co := newTestCoordinator()

	before, err := co.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}

	if err := co.Insert(ctx, nil, []byte("t"), Tree(nil)); err != nil {
		t.Fatalf("Insert t: %v", err)
	}
	if err := co.Insert(ctx, Path{[]byte("t")}, []byte("u"), Tree(nil)); err != nil {
		t.Fatalf("Insert t/u: %v", err)
	}
	if err := co.Insert(ctx, Path{[]byte("t"), []byte("u")}, []byte("w"), Item([]byte("x"))); err != nil {
		t.Fatalf("Insert t/u/w: %v", err)
	}

	if err := co.Delete(ctx, nil, []byte("t")); err != nil {
		t.Fatalf("Delete t: %v", err)
	}

	if _, err := co.GetRaw(ctx, nil, []byte("t")); !IsKind(err, InvalidPath) {
		t.Fatalf("GetRaw([], t) after delete = %v, want InvalidPath", err)
	}
	if _, err := co.Get(ctx, Path{[]byte("t")}, []byte("u")); !IsKind(err, InvalidPath) {
		t.Fatalf("reading inside deleted subtree did not fail InvalidPath: %v", err)
	}

	after, err := co.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("root hash after recursive delete = %x, want pre-insert value %x", after, before)
	}
}

func TestTransactionalRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	co := newTestCoordinator()

	before, err := co.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}

	txn, err := co.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := txn.Insert(ctx, nil, []byte("t"), Tree(nil)); err != nil {
		t.Fatalf("txn Insert t: %v", err)
	}
	if err := txn.Insert(ctx, Path{[]byte("t")}, []byte("k"), Item([]byte("v"))); err != nil {
		t.Fatalf("txn Insert t/k: %v", err)
	}
	got, err := txn.Get(ctx, Path{[]byte("t")}, []byte("k"))
	if err != nil {
		t.Fatalf("txn Get: %v", err)
	}
	if !got.Equal(Item([]byte("v"))) {
		t.Fatalf("txn Get = %+v, want Item(v)", got)
	}

	if err := txn.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if _, err := co.GetRaw(ctx, nil, []byte("t")); !IsKind(err, InvalidPath) {
		t.Fatalf("GetRaw([], t) outside rolled-back txn = %v, want InvalidPath", err)
	}
	after, err := co.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("root hash changed despite rollback: %x != %x", before, after)
	}
}

func TestTransactionalCommitIsVisibleOutside(t *testing.T) {
	ctx := context.Background()
	co := newTestCoordinator()

	txn, err := co.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := txn.Insert(ctx, nil, []byte("a"), Item([]byte("x"))); err != nil {
		t.Fatalf("txn Insert: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := co.Get(ctx, nil, []byte("a"))
	if err != nil {
		t.Fatalf("Get after commit: %v", err)
	}
	if !got.Equal(Item([]byte("x"))) {
		t.Fatalf("Get after commit = %+v, want Item(x)", got)
	}
}

func TestAuxPassThroughDoesNotAffectRootHash(t *testing.T) {
	ctx := context.Background()
	co := newTestCoordinator()

	before, err := co.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}
	if err := co.PutAux(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("PutAux: %v", err)
	}
	got, err := co.GetAux(ctx, []byte("k"))
	if err != nil {
		t.Fatalf("GetAux: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("GetAux = %q, want %q", got, "v")
	}
	after, err := co.RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("PutAux changed the root hash")
	}

	if err := co.DeleteAux(ctx, []byte("k")); err != nil {
		t.Fatalf("DeleteAux: %v", err)
	}
	got, err = co.GetAux(ctx, []byte("k"))
	if err != nil {
		t.Fatalf("GetAux after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("GetAux after delete = %q, want nil", got)
	}
}

func TestInsertIntoNonexistentPathFailsInvalidPath(t *testing.T) {
	ctx := context.Background()
	co := newTestCoordinator()
	err := co.Insert(ctx, Path{[]byte("missing")}, []byte("k"), Item([]byte("v")))
	if !IsKind(err, InvalidPath) {
		t.Fatalf("Insert into missing subtree = %v, want InvalidPath", err)
	}
}

func TestInsertIntoNonTreeFailsInvalidPath(t *testing.T) {
	ctx := context.Background()
	co := newTestCoordinator()
	if err := co.Insert(ctx, nil, []byte("leaf"), Item([]byte("x"))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := co.Insert(ctx, Path{[]byte("leaf")}, []byte("k"), Item([]byte("v")))
	if !IsKind(err, InvalidPath) {
		t.Fatalf("Insert under a non-tree leaf = %v, want InvalidPath", err)
	}
}

func TestDeleteNonexistentKeyFailsInvalidPath(t *testing.T) {
	ctx := context.Background()
	co := newTestCoordinator()
	if err := co.Insert(ctx, nil, []byte("t"), Tree(nil)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := co.Delete(ctx, Path{[]byte("t")}, []byte("missing"))
	if !IsKind(err, InvalidPath) {
		t.Fatalf("Delete missing key = %v, want InvalidPath", err)
	}
}
