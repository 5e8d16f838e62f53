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
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/types"
)

// RedisStore persists memory entries as redis hashes with native TTLs,
// fork groups as sets, and stream routing via XADD.
type RedisStore struct {
	client   *redis.Client
	embedder Embedder
	decay    *types.DecayConfig
	logger   *zap.Logger
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Addr is the redis address, e.g. "localhost:6379".
	Addr string

	// Password and DB follow go-redis semantics.
	Password string
	DB       int

	// Embedder enables vector search when set.
	Embedder Embedder

	// Decay is the global decay config applied when writes carry none.
	Decay *types.DecayConfig

	Logger *zap.Logger
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{
		client:   client,
		embedder: cfg.Embedder,
		decay:    cfg.Decay,
		logger:   cfg.Logger,
	}, nil
}

// BackendType implements Store.
func (s *RedisStore) BackendType() string { return "redis" }

// Close implements Store.
func (s *RedisStore) Close() error { return s.client.Close() }

// LogMemory implements Store. See the package doc for the write path.
func (s *RedisStore) LogMemory(ctx context.Context, req WriteRequest) (string, error) {
	entry, ttl, hasTTL := buildEntry(ctx, req, s.decay, s.embedder, s.logger)

	key := EntryKeyPrefix + entry.ID
	fields, err := entryFields(entry)
	if err != nil {
		// Serialization failure: attempt a simplified fallback record so the
		// event is not lost entirely.
		s.logger.Warn("Memory entry serialization failed, writing fallback",
			zap.String("node_id", req.NodeID), zap.Error(err))
		fields = map[string]any{
			"content":   entry.Content,
			"node_id":   entry.NodeID,
			"trace_id":  entry.TraceID,
			"timestamp": entry.TimestampMS,
			"category":  string(entry.Category),
		}
	}

	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return "", fmt.Errorf("memory write failed: %w", err)
	}
	if hasTTL {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			s.logger.Warn("Failed to set entry TTL", zap.String("key", key), zap.Error(err))
		}
	}

	s.routeToStream(ctx, entry, req)
	return key, nil
}

// routeToStream appends stored entries to their namespace-scoped stream and
// log entries to the shared orchestration stream. Stream failures are logged
// and swallowed; telemetry never fails a write.
func (s *RedisStore) routeToStream(ctx context.Context, entry *Entry, req WriteRequest) {
	stream := SharedStream
	if entry.Category == CategoryStored && req.Namespace != "" {
		stream = fmt.Sprintf("%s:%s:%s", SharedStream, req.Namespace, req.Session)
	}
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"id":       entry.ID,
			"node_id":  entry.NodeID,
			"trace_id": entry.TraceID,
			"category": string(entry.Category),
			"content":  entry.Content,
		},
	}).Err()
	if err != nil {
		s.logger.Warn("Stream append failed", zap.String("stream", stream), zap.Error(err))
	}
}

// Search implements Store: scan candidates, then run the shared read path.
func (s *RedisStore) Search(ctx context.Context, req SearchRequest) ([]ScoredEntry, error) {
	candidates, err := s.scanEntries(ctx)
	if err != nil {
		return nil, err
	}
	return searchEntries(ctx, candidates, req, s.embedder, time.Now())
}

// CleanupExpired implements Store.
func (s *RedisStore) CleanupExpired(ctx context.Context, dryRun bool) (*CleanupStats, error) {
	stats := &CleanupStats{}
	now := time.Now()

	iter := s.client.Scan(ctx, 0, EntryKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		expireStr, err := s.client.HGet(ctx, key, "expire_time_ms").Result()
		if err == redis.Nil || expireStr == "" {
			// No explicit expiry field; redis native TTL handles it.
			continue
		}
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		expireMS, err := strconv.ParseInt(expireStr, 10, 64)
		if err != nil || expireMS <= 0 || expireMS >= now.UnixMilli() {
			continue
		}
		stats.ExpiredFound++
		if dryRun {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		stats.Cleaned++
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("cleanup scan failed: %w", err)
	}
	return stats, nil
}

// GroupCreate implements Store.
func (s *RedisStore) GroupCreate(ctx context.Context, groupID string, expected []string) error {
	if len(expected) == 0 {
		// An empty expected set is represented by the key's existence marker
		// so a join on it completes immediately.
		return s.client.Set(ctx, GroupKeyPrefix+groupID+":empty", "1", 0).Err()
	}
	members := make([]any, len(expected))
	for i, id := range expected {
		members[i] = id
	}
	return s.client.SAdd(ctx, GroupKeyPrefix+groupID, members...).Err()
}

// GroupMarkDone implements Store.
func (s *RedisStore) GroupMarkDone(ctx context.Context, groupID, branchID string) error {
	key := GroupKeyPrefix + groupID + ":done"
	if err := s.client.SAdd(ctx, key, branchID).Err(); err != nil {
		return err
	}
	// Keep insertion order alongside the set for ordered reads.
	return s.client.RPush(ctx, key+":order", branchID).Err()
}

// GroupExpected implements Store.
func (s *RedisStore) GroupExpected(ctx context.Context, groupID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, GroupKeyPrefix+groupID).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		exists, err := s.client.Exists(ctx, GroupKeyPrefix+groupID+":empty").Result()
		if err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, nil
		}
		return []string{}, nil
	}
	sort.Strings(members)
	return members, nil
}

// GroupDone implements Store. Order is branch completion order.
func (s *RedisStore) GroupDone(ctx context.Context, groupID string) ([]string, error) {
	ordered, err := s.client.LRange(ctx, GroupKeyPrefix+groupID+":done:order", 0, -1).Result()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(ordered))
	out := make([]string, 0, len(ordered))
	for _, id := range ordered {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// GroupDelete implements Store.
func (s *RedisStore) GroupDelete(ctx context.Context, groupID string) error {
	keys := []string{
		GroupKeyPrefix + groupID,
		GroupKeyPrefix + groupID + ":done",
		GroupKeyPrefix + groupID + ":done:order",
		GroupKeyPrefix + groupID + ":empty",
	}
	return s.client.Del(ctx, keys...).Err()
}

// PutJSON implements Store.
func (s *RedisStore) PutJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

// GetJSON implements Store.
func (s *RedisStore) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// DeleteKey implements Store.
func (s *RedisStore) DeleteKey(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Snapshot implements Store.
func (s *RedisStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	entries, err := s.scanEntries(ctx)
	if err != nil {
		return nil, err
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
	return snap, nil
}

func (s *RedisStore) scanEntries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	iter := s.client.Scan(ctx, 0, EntryKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			s.logger.Warn("Failed to read entry", zap.String("key", key), zap.Error(err))
			continue
		}
		entry, err := entryFromFields(key, fields)
		if err != nil {
			s.logger.Warn("Skipping malformed entry", zap.String("key", key), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("entry scan failed: %w", err)
	}
	return entries, nil
}

// buildEntry runs the classification pipeline shared by both backends.
func buildEntry(ctx context.Context, req WriteRequest, globalDecay *types.DecayConfig, embedder Embedder, logger *zap.Logger) (*Entry, time.Duration, bool) {
	now := time.Now()
	decay := req.Decay.Merged(globalDecay)

	importance := ComputeImportance(req.EventType, req.NodeID, req.Metadata)

	category := req.Category
	if category == "" {
		category = ClassifyCategory(req.LogType, req.NodeID, req.Metadata)
	}

	var longTermEvents []string
	if decay != nil {
		longTermEvents = decay.LongTermEvents
	}
	memType := req.MemoryType
	if memType == "" {
		memType = ClassifyType(category, req.EventType, importance, longTermEvents)
	}

	entry := &Entry{
		ID:              uuid.New().String(),
		Content:         req.Content,
		NodeID:          req.NodeID,
		TraceID:         req.TraceID,
		TimestampMS:     now.UnixMilli(),
		ImportanceScore: importance,
		MemoryType:      memType,
		Category:        category,
		Metadata:        req.Metadata,
	}

	if req.Vector && embedder != nil && req.Content != "" {
		vec, err := embedder.Encode(ctx, req.Content)
		if err != nil {
			if logger != nil {
				logger.Warn("Embedding failed, storing without vector",
					zap.String("node_id", req.NodeID), zap.Error(err))
			}
		} else {
			entry.Vector = vec
		}
	}

	ttl, hasTTL := ComputeExpiry(decay, memType, importance, req.ExpiryHours)
	if hasTTL {
		entry.ExpireAtMS = now.Add(ttl).UnixMilli()
	}
	return entry, ttl, hasTTL
}

func entryFields(e *Entry) (map[string]any, error) {
	metaJSON := "{}"
	if e.Metadata != nil {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = string(data)
	}
	fields := map[string]any{
		"content":          e.Content,
		"node_id":          e.NodeID,
		"trace_id":         e.TraceID,
		"timestamp":        e.TimestampMS,
		"importance_score": strconv.FormatFloat(e.ImportanceScore, 'f', -1, 64),
		"memory_type":      string(e.MemoryType),
		"category":         string(e.Category),
		"metadata":         metaJSON,
	}
	if len(e.Vector) > 0 {
		vecJSON, err := json.Marshal(e.Vector)
		if err != nil {
			return nil, fmt.Errorf("marshal vector: %w", err)
		}
		fields["vector"] = string(vecJSON)
	}
	if e.ExpireAtMS > 0 {
		fields["expire_time_ms"] = e.ExpireAtMS
	}
	return fields, nil
}

func entryFromFields(key string, fields map[string]string) (Entry, error) {
	entry := Entry{
		ID:      strings.TrimPrefix(key, EntryKeyPrefix),
		Content: fields["content"],
		NodeID:  fields["node_id"],
		TraceID: fields["trace_id"],
	}
	if v := fields["timestamp"]; v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return entry, fmt.Errorf("bad timestamp: %w", err)
		}
		entry.TimestampMS = ts
	}
	if v := fields["importance_score"]; v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return entry, fmt.Errorf("bad importance_score: %w", err)
		}
		entry.ImportanceScore = score
	}
	entry.MemoryType = MemoryType(fields["memory_type"])
	entry.Category = Category(fields["category"])
	if v := fields["metadata"]; v != "" && v != "{}" {
		if err := json.Unmarshal([]byte(v), &entry.Metadata); err != nil {
			return entry, fmt.Errorf("bad metadata: %w", err)
		}
	}
	if v := fields["vector"]; v != "" {
		if err := json.Unmarshal([]byte(v), &entry.Vector); err != nil {
			return entry, fmt.Errorf("bad vector: %w", err)
		}
	}
	if v := fields["expire_time_ms"]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return entry, fmt.Errorf("bad expire_time_ms: %w", err)
		}
		entry.ExpireAtMS = ms
	}
	return entry, nil
}
