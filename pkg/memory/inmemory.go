// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/types"
)

// InMemoryStore is a process-local Store for tests and redis-less runs.
// It mirrors the redis backend's semantics, including fork-group sets and
// stream routing.
type InMemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	groups   map[string]*groupRecord
	kv       map[string][]byte
	streams  map[string][]map[string]any
	embedder Embedder
	decay    *types.DecayConfig
	logger   *zap.Logger
	order    int64
}

type groupRecord struct {
	expected  []string
	done      []string
	doneIndex map[string]struct{}
}

// InMemoryConfig configures an InMemoryStore.
type InMemoryConfig struct {
	Embedder Embedder
	Decay    *types.DecayConfig
	Logger   *zap.Logger
}

// NewInMemoryStore creates an empty in-process store.
func NewInMemoryStore(cfg InMemoryConfig) *InMemoryStore {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &InMemoryStore{
		entries:  make(map[string]*Entry),
		groups:   make(map[string]*groupRecord),
		kv:       make(map[string][]byte),
		streams:  make(map[string][]map[string]any),
		embedder: cfg.Embedder,
		decay:    cfg.Decay,
		logger:   cfg.Logger,
	}
}

// BackendType implements Store.
func (s *InMemoryStore) BackendType() string { return "memory" }

// Close implements Store.
func (s *InMemoryStore) Close() error { return nil }

// LogMemory implements Store.
func (s *InMemoryStore) LogMemory(ctx context.Context, req WriteRequest) (string, error) {
	entry, _, _ := buildEntry(ctx, req, s.decay, s.embedder, s.logger)

	s.mu.Lock()
	s.entries[entry.ID] = entry

	stream := SharedStream
	if entry.Category == CategoryStored && req.Namespace != "" {
		stream = fmt.Sprintf("%s:%s:%s", SharedStream, req.Namespace, req.Session)
	}
	s.streams[stream] = append(s.streams[stream], map[string]any{
		"id":       entry.ID,
		"node_id":  entry.NodeID,
		"trace_id": entry.TraceID,
		"category": string(entry.Category),
		"content":  entry.Content,
	})
	s.mu.Unlock()

	return EntryKeyPrefix + entry.ID, nil
}

// Put inserts a pre-built entry verbatim. Used by tests that need precise
// timestamps or expiries.
func (s *InMemoryStore) Put(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := entry
	s.entries[entry.ID] = &cp
}

// Get returns an entry by id, nil if absent.
func (s *InMemoryStore) Get(id string) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

// StreamLen reports the number of records appended to a stream.
func (s *InMemoryStore) StreamLen(stream string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[stream])
}

// Search implements Store.
func (s *InMemoryStore) Search(ctx context.Context, req SearchRequest) ([]ScoredEntry, error) {
	s.mu.RLock()
	candidates := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		candidates = append(candidates, *e)
	}
	s.mu.RUnlock()

	return searchEntries(ctx, candidates, req, s.embedder, time.Now())
}

// CleanupExpired implements Store.
func (s *InMemoryStore) CleanupExpired(ctx context.Context, dryRun bool) (*CleanupStats, error) {
	now := time.Now()
	stats := &CleanupStats{}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if !e.Expired(now) {
			continue
		}
		stats.ExpiredFound++
		if dryRun {
			continue
		}
		delete(s.entries, id)
		stats.Cleaned++
	}
	return stats, nil
}

// GroupCreate implements Store.
func (s *InMemoryStore) GroupCreate(ctx context.Context, groupID string, expected []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = &groupRecord{
		expected:  append([]string(nil), expected...),
		doneIndex: make(map[string]struct{}),
	}
	return nil
}

// GroupMarkDone implements Store.
func (s *InMemoryStore) GroupMarkDone(ctx context.Context, groupID, branchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		g = &groupRecord{doneIndex: make(map[string]struct{})}
		s.groups[groupID] = g
	}
	if _, dup := g.doneIndex[branchID]; dup {
		return nil
	}
	g.doneIndex[branchID] = struct{}{}
	g.done = append(g.done, branchID)
	return nil
}

// GroupExpected implements Store.
func (s *InMemoryStore) GroupExpected(ctx context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, nil
	}
	// Non-nil even when empty: callers distinguish "missing group" (nil)
	// from "empty expected set".
	out := make([]string, 0, len(g.expected))
	out = append(out, g.expected...)
	sort.Strings(out)
	return out, nil
}

// GroupDone implements Store.
func (s *InMemoryStore) GroupDone(ctx context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), g.done...), nil
}

// GroupDelete implements Store.
func (s *InMemoryStore) GroupDelete(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, groupID)
	return nil
}

// GroupExists reports whether a fork-group record is present.
func (s *InMemoryStore) GroupExists(groupID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[groupID]
	return ok
}

// PutJSON implements Store.
func (s *InMemoryStore) PutJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = data
	return nil
}

// GetJSON implements Store.
func (s *InMemoryStore) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	s.mu.RLock()
	data, ok := s.kv[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// DeleteKey implements Store.
func (s *InMemoryStore) DeleteKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

// Snapshot implements Store.
func (s *InMemoryStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TimestampMS < entries[j].TimestampMS
	})
	snap := &Snapshot{
		TotalEntries: len(entries),
		BackendType:  s.BackendType(),
	}
	last := entries
	if len(last) > 10 {
		last = last[len(last)-10:]
	}
	snap.LastEntries = append(snap.LastEntries, last...)
	for stream := range s.streams {
		snap.Streams = append(snap.Streams, stream)
	}
	sort.Strings(snap.Streams)
	return snap, nil
}
