// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package memory implements the orka memory store: a key-value + vector
// index with per-category TTL, a background decay sweeper, and keyword,
// vector, and hybrid search. The store doubles as the run-log substrate
// (log-category entries) and the shared knowledge substrate (stored-category
// entries). Redis and in-process backends implement the same Store contract.
package memory

import (
	"context"
	"time"

	"github.com/teradata-labs/orka/pkg/types"
)

// Key prefixes and stream names shared by all backends.
const (
	// EntryKeyPrefix prefixes every memory entry hash key.
	EntryKeyPrefix = "orka_memory:"

	// GroupKeyPrefix prefixes fork-group set keys.
	GroupKeyPrefix = "forkgroup:"

	// PastLoopsKeyPrefix prefixes persisted past-loops blobs.
	PastLoopsKeyPrefix = "past_loops:"

	// SharedStream receives orchestration log entries.
	SharedStream = "orka:memory"
)

// Category distinguishes persisted knowledge from orchestration events.
type Category string

const (
	CategoryStored Category = "stored"
	CategoryLog    Category = "log"
)

// MemoryType governs base expiry and retrieval priority.
type MemoryType string

const (
	ShortTerm MemoryType = "short_term"
	LongTerm  MemoryType = "long_term"
)

// Entry is one record in the store.
type Entry struct {
	ID              string         `json:"id"`
	Content         string         `json:"content"`
	NodeID          string         `json:"node_id"`
	TraceID         string         `json:"trace_id"`
	TimestampMS     int64          `json:"timestamp_ms"`
	ImportanceScore float64        `json:"importance_score"`
	MemoryType      MemoryType     `json:"memory_type"`
	Category        Category       `json:"category"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Vector          []float32      `json:"vector,omitempty"`

	// ExpireAtMS is the absolute expiration in unix milliseconds.
	// Zero means the entry never expires.
	ExpireAtMS int64 `json:"expire_at_ms,omitempty"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpireAtMS > 0 && e.ExpireAtMS < now.UnixMilli()
}

// ScoredEntry is an entry annotated with raw and composed similarity.
type ScoredEntry struct {
	Entry

	// Similarity is the final composed score used for ranking.
	Similarity float64 `json:"similarity"`

	// RawSimilarity is the pre-rerank vector or keyword score.
	RawSimilarity float64 `json:"raw_similarity"`

	// Factors records the rerank multipliers applied.
	Factors map[string]float64 `json:"factors,omitempty"`
}

// WriteRequest is the input to LogMemory.
type WriteRequest struct {
	Content  string
	NodeID   string
	TraceID  string
	Metadata map[string]any

	// EventType tags the orchestration event (write, result, error, ...).
	EventType string

	// LogType forces classification: "memory" for stored, "log" for logs.
	LogType string

	// MemoryType, when set, overrides classification.
	MemoryType MemoryType

	// Category, when set, overrides classification.
	Category Category

	// ExpiryHours, when positive, overrides the decay-config base hours.
	ExpiryHours float64

	// Decay is the agent-merged decay config; nil uses the store default.
	Decay *types.DecayConfig

	// Namespace and Session route stored entries to a scoped stream.
	Namespace string
	Session   string

	// Vector requests an embedding for the content.
	Vector bool
}

// SearchRequest is the input to Search.
type SearchRequest struct {
	Query string
	Limit int

	// NodeID restricts results to one node's entries.
	NodeID string

	// LogType filters: "memory" keeps only stored entries, "log" only logs.
	LogType string

	// CategoryFilter keeps only entries of the named category.
	CategoryFilter string

	// TypeFilter keeps only entries of the named memory type.
	TypeFilter string

	// SimilarityThreshold drops results scoring below it.
	SimilarityThreshold float64

	// Context is recent conversation items for context-aware rerank.
	Context []string

	// ContextWeight scales the context factor; defaults to 0.2.
	ContextWeight float64

	// TemporalRanking enables the recency factor.
	TemporalRanking bool

	// TemporalDecayHours is the recency half-life basis; defaults to 24.
	TemporalDecayHours float64
}

// CleanupStats reports one decay sweep.
type CleanupStats struct {
	ExpiredFound int      `json:"expired_found"`
	Cleaned      int      `json:"cleaned"`
	Errors       []string `json:"errors,omitempty"`
}

// Snapshot summarizes store contents for error telemetry.
type Snapshot struct {
	TotalEntries int      `json:"total_entries"`
	LastEntries  []Entry  `json:"last_10_entries"`
	BackendType  string   `json:"backend_type"`
	Streams      []string `json:"streams,omitempty"`
}

// Embedder encodes text into a vector. Concrete providers live outside the
// core; tests inject fakes.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Store is the shared memory contract. It is the only cross-component
// shared resource in the runtime; all components reach it through this
// interface so tests can inject fakes.
type Store interface {
	// LogMemory classifies, scores, and persists one entry, returning its key.
	LogMemory(ctx context.Context, req WriteRequest) (string, error)

	// Search retrieves up to req.Limit entries ranked by composed similarity.
	Search(ctx context.Context, req SearchRequest) ([]ScoredEntry, error)

	// CleanupExpired deletes (or, when dryRun, only counts) expired entries.
	CleanupExpired(ctx context.Context, dryRun bool) (*CleanupStats, error)

	// GroupCreate records the expected branch set for a fork group.
	GroupCreate(ctx context.Context, groupID string, expected []string) error

	// GroupMarkDone adds a completed branch to the group's done set.
	GroupMarkDone(ctx context.Context, groupID, branchID string) error

	// GroupExpected returns the expected branch set, nil if absent.
	GroupExpected(ctx context.Context, groupID string) ([]string, error)

	// GroupDone returns the completed branch set in insertion order.
	GroupDone(ctx context.Context, groupID string) ([]string, error)

	// GroupDelete removes all records for the group.
	GroupDelete(ctx context.Context, groupID string) error

	// PutJSON stores an arbitrary JSON document under key.
	PutJSON(ctx context.Context, key string, value any) error

	// GetJSON loads a JSON document into out; found is false when absent.
	GetJSON(ctx context.Context, key string, out any) (bool, error)

	// DeleteKey removes an arbitrary key.
	DeleteKey(ctx context.Context, key string) error

	// Snapshot summarizes the store for telemetry.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// BackendType names the backend ("redis", "memory").
	BackendType() string

	// Close releases the backend connection.
	Close() error
}
