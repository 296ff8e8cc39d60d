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

// Package thicket implements a hierarchical, authenticated key-value store
// layered on top of an LSM backend. See the package-level grove coordinator
// (Coordinator) for the public surface.
package thicket

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Path is an ordered sequence of byte-string segments naming a subtree.
// A nil or empty Path denotes the top-level subtree.
type Path [][]byte

// Append returns a new Path with key appended, without mutating p.
func (p Path) Append(key []byte) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = append([]byte(nil), key...)
	return out
}

// Equal reports whether p and q name the same path, component-wise.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if !bytes.Equal(p[i], q[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of p.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	for i, s := range p {
		out[i] = append([]byte(nil), s...)
	}
	return out
}

// ElementKind tags the variant stored at (path, key).
type ElementKind uint8

const (
	// KindItem is an opaque leaf value.
	KindItem ElementKind = 0x01
	// KindReference is a symbolic pointer to another (path, key).
	KindReference ElementKind = 0x02
	// KindTree declares that a nested subtree exists at path++[key].
	KindTree ElementKind = 0x03
)

// treeEmptyMarker is the distinguished payload byte for a Tree element
// naming a subtree that is still empty (has no root hash yet).
const treeEmptyMarker = 0x00

// RootHashSize is the fixed width of a subtree root hash.
const RootHashSize = 32

// Element is the tagged value stored at a (path, key) pair inside a
// subtree.
//
// Exactly one of the following describes an Element's payload, selected by
// Kind:
//   - KindItem:      Value holds the opaque leaf bytes.
//   - KindReference: RefPath/RefKey name the pointed-to element.
//   - KindTree:      RootHash holds the child subtree's current root hash,
//     or is nil/empty while the child subtree has no entries yet.
type Element struct {
	Kind ElementKind

	// Item payload.
	Value []byte

	// Reference payload.
	RefPath Path
	RefKey  []byte

	// Tree payload; nil means "empty subtree, no root yet".
	RootHash []byte
}

// Item constructs an Item element.
func Item(value []byte) Element {
	return Element{Kind: KindItem, Value: value}
}

// Reference constructs a Reference element pointing at (path, key).
func Reference(path Path, key []byte) Element {
	return Element{Kind: KindReference, RefPath: path, RefKey: key}
}

// Tree constructs a Tree element. rootHash may be nil for a fresh, empty
// child subtree.
func Tree(rootHash []byte) Element {
	return Element{Kind: KindTree, RootHash: rootHash}
}

// IsTree reports whether e names a nested subtree.
func (e Element) IsTree() bool {
	return e.Kind == KindTree
}

// Equal reports whether e and o carry the same tag and payload.
func (e Element) Equal(o Element) bool {
	if e.Kind != o.Kind {
		return false
	}
	switch e.Kind {
	case KindItem:
		return bytes.Equal(e.Value, o.Value)
	case KindReference:
		return e.RefPath.Equal(o.RefPath) && bytes.Equal(e.RefKey, o.RefKey)
	case KindTree:
		return bytes.Equal(e.RootHash, o.RootHash)
	default:
		return false
	}
}

// Encode serialises e into its wire format: one discriminant byte followed
// by a variant-specific payload.
//
//	0x01 Item:      payload = raw bytes
//	0x02 Reference: payload = length-prefixed path components, then
//	                a length-prefixed key
//	0x03 Tree:      payload = 32-byte root hash, or a single 0x00 byte
//	                when the child subtree is still empty
func (e Element) Encode() []byte {
	switch e.Kind {
	case KindItem:
		buf := make([]byte, 1+len(e.Value))
		buf[0] = byte(KindItem)
		copy(buf[1:], e.Value)
		return buf

	case KindReference:
		var buf bytes.Buffer
		buf.WriteByte(byte(KindReference))
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.RefPath)))
		buf.Write(lenBuf[:])
		for _, seg := range e.RefPath {
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(seg)))
			buf.Write(lenBuf[:])
			buf.Write(seg)
		}
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.RefKey)))
		buf.Write(lenBuf[:])
		buf.Write(e.RefKey)
		return buf.Bytes()

	case KindTree:
		if len(e.RootHash) == 0 {
			return []byte{byte(KindTree), treeEmptyMarker}
		}
		out := make([]byte, 1+RootHashSize)
		out[0] = byte(KindTree)
		copy(out[1:], e.RootHash)
		return out

	default:
		// Unreachable for elements constructed via the exported
		// constructors; encode as an empty item rather than panicking.
		return []byte{byte(KindItem)}
	}
}

// DecodeElement parses the wire format produced by Element.Encode.
// Decoding an unrecognised tag fails with CorruptedData.
func DecodeElement(data []byte) (Element, error) {
	if len(data) < 1 {
		return Element{}, newErr(CorruptedData, "empty element encoding")
	}
	kind := ElementKind(data[0])
	payload := data[1:]

	switch kind {
	case KindItem:
		return Element{Kind: KindItem, Value: append([]byte(nil), payload...)}, nil

	case KindReference:
		r := bytes.NewReader(payload)
		var lenBuf [4]byte
		readLen := func() (int, error) {
			if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
				return 0, err
			}
			return int(binary.BigEndian.Uint32(lenBuf[:])), nil
		}
		n, err := readLen()
		if err != nil {
			return Element{}, wrapErr(CorruptedData, "truncated reference path length", err)
		}
		path := make(Path, 0, n)
		for i := 0; i < n; i++ {
			segLen, err := readLen()
			if err != nil {
				return Element{}, wrapErr(CorruptedData, "truncated reference path segment length", err)
			}
			seg := make([]byte, segLen)
			if _, err := io.ReadFull(r, seg); err != nil {
				return Element{}, wrapErr(CorruptedData, "truncated reference path segment", err)
			}
			path = append(path, seg)
		}
		keyLen, err := readLen()
		if err != nil {
			return Element{}, wrapErr(CorruptedData, "truncated reference key length", err)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return Element{}, wrapErr(CorruptedData, "truncated reference key", err)
		}
		return Element{Kind: KindReference, RefPath: path, RefKey: key}, nil

	case KindTree:
		if len(payload) == 1 && payload[0] == treeEmptyMarker {
			return Element{Kind: KindTree, RootHash: nil}, nil
		}
		if len(payload) != RootHashSize {
			return Element{}, newErr(CorruptedData, "tree element payload has wrong length")
		}
		return Element{Kind: KindTree, RootHash: append([]byte(nil), payload...)}, nil

	default:
		return Element{}, newErr(CorruptedData, "unrecognised element tag")
	}
}
