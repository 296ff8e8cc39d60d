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

	"github.com/thicketdb/thicket/cache"
	"github.com/thicketdb/thicket/internal/pathcodec"
)

// Component F, "Auxiliary store": a thin pass-through to the Aux space on
// the top-level context. Aux entries carry no authentication and never
// trigger propagation.

func corePutAux(ctx context.Context, hc *cache.HandleCache, key, value []byte) error {
	if err := hc.Context(pathcodec.RootPrefix).PutAux(ctx, key, value); err != nil {
		return wrapErr(BackendIo, "put aux", err)
	}
	return nil
}

func coreGetAux(ctx context.Context, hc *cache.HandleCache, key []byte) ([]byte, error) {
	v, err := hc.Context(pathcodec.RootPrefix).GetAux(ctx, key)
	if err != nil {
		return nil, wrapErr(BackendIo, "get aux", err)
	}
	return v, nil
}

func coreDeleteAux(ctx context.Context, hc *cache.HandleCache, key []byte) error {
	if err := hc.Context(pathcodec.RootPrefix).DeleteAux(ctx, key); err != nil {
		return wrapErr(BackendIo, "delete aux", err)
	}
	return nil
}
