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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestElementRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		el   Element
	}{
		{"item", Item([]byte("hello"))},
		{"empty item", Item(nil)},
		{"reference", Reference(Path{[]byte("t"), []byte("u")}, []byte("k"))},
		{"reference empty path", Reference(nil, []byte("k"))},
		{"tree with hash", Tree(make([]byte, RootHashSize))},
		{"tree empty", Tree(nil)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeElement(tc.el.Encode())
			if err != nil {
				t.Fatalf("DecodeElement: %v", err)
			}
			if !got.Equal(tc.el) {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, tc.el)
			}
		})
	}
}

func TestDecodeElementCorruptedData(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{0xff}},
		{"truncated tree", []byte{byte(KindTree), 0x01, 0x02}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeElement(tc.data)
			if !IsKind(err, CorruptedData) {
				t.Fatalf("DecodeElement(%v) = %v, want CorruptedData", tc.data, err)
			}
		})
	}
}

func TestPathEqualAndClone(t *testing.T) {
	p := Path{[]byte("a"), []byte("b")}
	clone := p.Clone()
	if !p.Equal(clone) {
		t.Fatalf("clone not equal to original")
	}
	clone[0][0] = 'z'
	if p.Equal(clone) {
		t.Fatalf("mutating clone affected original: %v", cmp.Diff(p, clone))
	}
}

func TestPathAppendDoesNotMutateReceiver(t *testing.T) {
	p := Path{[]byte("a")}
	q := p.Append([]byte("b"))
	if len(p) != 1 {
		t.Fatalf("Append mutated receiver: %v", p)
	}
	if !q.Equal(Path{[]byte("a"), []byte("b")}) {
		t.Fatalf("Append result = %v", q)
	}
}
