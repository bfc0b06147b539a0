// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package persist implements the state-persistence hook: it is a
// thin pass-through onto a collab.StorageAdapter, satisfying
// pkg/runtime's PersistService. The core computes nothing beyond what
// the interpreter already worked out (effective key, TTL, encrypt flag);
// this package exists only so cmd/quantum has a concrete type to wire in
// without the interpreter importing collab directly for this one call.
package persist

import (
	"context"

	"github.com/quantumlang/core/pkg/collab"
)

// Service adapts a collab.StorageAdapter to pkg/runtime's PersistService.
type Service struct {
	Adapter collab.StorageAdapter
}

// New wraps adapter as a PersistService.
func New(adapter collab.StorageAdapter) *Service {
	return &Service{Adapter: adapter}
}

// Save satisfies runtime.PersistService.
func (s *Service) Save(ctx context.Context, scope, key string, v any, ttlSeconds int, encrypt bool) error {
	if s.Adapter == nil {
		return nil
	}
	return s.Adapter.Save(ctx, scope, key, v, ttlSeconds, encrypt)
}

// Restore loads every (scope, key) pair in keys at context-creation time
// ("restore happens at context creation for all registered
// variables"), silently skipping entries that are absent or expired —
// the adapter itself is responsible for TTL expiry semantics on Load.
func (s *Service) Restore(ctx context.Context, scope string, keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	if s.Adapter == nil {
		return out
	}
	for _, k := range keys {
		v, ok, err := s.Adapter.Load(ctx, scope, k)
		if err != nil || !ok {
			continue
		}
		out[k] = v
	}
	return out
}
