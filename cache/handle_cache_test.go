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

package cache

import (
	"context"
	"testing"

	"github.com/thicketdb/thicket/internal/pathcodec"
	"github.com/thicketdb/thicket/storage/memkv"
)

func TestHandleCacheMissThenHit(t *testing.T) {
	ctx := context.Background()
	c := NewDirect(memkv.Open())
	prefix := pathcodec.Derive([][]byte{[]byte("t")})

	if got := c.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}

	h1, err := c.Get(ctx, prefix)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	h2, err := c.Get(ctx, prefix)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("second Get returned a different handle instance, want the cached one")
	}
	if got := c.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestHandleCacheEvict(t *testing.T) {
	ctx := context.Background()
	c := NewDirect(memkv.Open())
	prefix := pathcodec.Derive([][]byte{[]byte("t")})

	if _, err := c.Get(ctx, prefix); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.Evict(prefix)
	if got := c.Len(); got != 0 {
		t.Fatalf("Len() after Evict = %d, want 0", got)
	}
}

func TestHandleCacheDirectBatchContextSharesBatch(t *testing.T) {
	ctx := context.Background()
	backend := memkv.Open()
	batch := backend.NewBatch()
	c := NewDirectBatch(backend, batch)

	prefixA := pathcodec.Derive([][]byte{[]byte("a")})
	prefixB := pathcodec.Derive([][]byte{[]byte("b")})

	if err := c.Context(prefixA).Put(ctx, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Context(prefixB).Put(ctx, []byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Nothing is visible until the shared batch commits.
	v, err := c.Context(prefixA).Get(ctx, []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != nil {
		t.Fatalf("Get before commit = %q, want nil", v)
	}

	if err := backend.CommitBatch(ctx, batch); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	v, err = c.Context(prefixA).Get(ctx, []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "v1" {
		t.Fatalf("Get after commit = %q, want %q", v, "v1")
	}
}

func TestHandleCachePrefixesReflectsTouchedHandles(t *testing.T) {
	ctx := context.Background()
	c := NewDirect(memkv.Open())
	p1 := pathcodec.Derive([][]byte{[]byte("a")})
	p2 := pathcodec.Derive([][]byte{[]byte("b")})

	if _, err := c.Get(ctx, p1); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get(ctx, p2); err != nil {
		t.Fatalf("Get: %v", err)
	}

	got := c.Prefixes()
	if len(got) != 2 {
		t.Fatalf("Prefixes() = %v, want 2 entries", got)
	}
}
