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

package storage

import "fmt"

// BackendError wraps a failure from the underlying engine. On most paths
// the coordinator translates it into a *thicket.Error with Kind BackendIo;
// failures while loading a subtree handle or computing a root hash are
// passed through as-is.
type BackendError struct {
	Op    string
	Cause error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Cause)
}

func (e *BackendError) Unwrap() error { return e.Cause }

// ConflictError indicates the backend rejected a transaction commit
// because it detected a write made outside the transaction to data the
// transaction read. The coordinator translates it into a
// *thicket.Error with Kind TransactionConflict.
type ConflictError struct {
	Cause error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("storage: transaction conflict: %v", e.Cause)
}

func (e *ConflictError) Unwrap() error { return e.Cause }
