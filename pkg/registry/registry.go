// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package registry provides a lazy, concurrency-safe resource registry.
// Shared resources (memory store, embedder, model provider) are registered
// as factories and constructed at most once, on first use.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotRegistered is returned for lookups of unknown keys.
var ErrNotRegistered = errors.New("resource not registered")

// Well-known resource keys.
const (
	KeyStore    = "memory_store"
	KeyEmbedder = "embedder"
	KeyProvider = "llm_provider"
)

// Factory builds a resource on first use.
type Factory func(ctx context.Context) (any, error)

type entry struct {
	once  sync.Once
	build Factory
	value any
	err   error
}

// Registry is a string-keyed set of lazily-built resources.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register installs a factory under key, replacing any existing one that
// has not been built yet. Registering over a built resource is a
// programming error and panics.
func (r *Registry) Register(key string, build Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[key]; ok && existing.value != nil {
		panic(fmt.Sprintf("registry: %q already built", key))
	}
	r.entries[key] = &entry{build: build}
}

// Get returns the resource for key, building it on first call. A factory
// error is cached and returned to all callers.
func (r *Registry) Get(ctx context.Context, key string) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, key)
	}

	e.once.Do(func() {
		e.value, e.err = e.build(ctx)
	})
	return e.value, e.err
}

// Keys returns the registered keys, built or not.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// Close releases every built resource that implements io.Closer-style
// Close() error, returning the first error encountered.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, e := range r.entries {
		if e.value == nil {
			continue
		}
		if closer, ok := e.value.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Get fetches and type-asserts a resource from the registry.
func Get[T any](ctx context.Context, r *Registry, key string) (T, error) {
	var zero T
	val, err := r.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("resource %q is %T, not %T", key, val, zero)
	}
	return typed, nil
}
