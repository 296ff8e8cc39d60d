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

import "fmt"

// Kind classifies the failure modes a coordinator operation can surface.
type Kind int

const (
	// InvalidPath: path does not resolve to an existing subtree, or target
	// key absent on delete, or attempt to delete a top-level leaf.
	InvalidPath Kind = iota + 1
	// InvalidElement: semantic misuse, e.g. inserting an element of an
	// unrecognised kind. (Inserting under a non-tree fails InvalidPath.)
	InvalidElement
	// ReferenceLimit: reference chain exceeds MaxReferenceHops.
	ReferenceLimit
	// CorruptedData: decode failure, missing subtree that invariants
	// required, or cleanup failure.
	CorruptedData
	// BackendIo: underlying engine error.
	BackendIo
	// TransactionConflict: transactional commit rejected by the backend.
	TransactionConflict
)

func (k Kind) String() string {
	switch k {
	case InvalidPath:
		return "InvalidPath"
	case InvalidElement:
		return "InvalidElement"
	case ReferenceLimit:
		return "ReferenceLimit"
	case CorruptedData:
		return "CorruptedData"
	case BackendIo:
		return "BackendIo"
	case TransactionConflict:
		return "TransactionConflict"
	default:
		return "Unknown"
	}
}

// Error is the error type public coordinator operations use for the
// failures they classify. It always carries a Kind and, where available,
// the cause it wraps. A backend failure while loading a subtree handle or
// computing a subtree's root hash is returned as the storage layer's own
// error, not wrapped in an Error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// use errors.Is(err, thicket.InvalidPath) style checks via IsKind instead
// (Kind is not itself an error). Here Is supports errors.Is(err, otherErr).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
