// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/orka/pkg/types"
)

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisConfig{
		Addr:  mr.Addr(),
		Decay: &types.DecayConfig{Enabled: true, ShortTermHours: 1, LongTermHours: 24},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisLogMemoryWritesHash(t *testing.T) {
	store, mr := newRedisTestStore(t)
	ctx := context.Background()

	key, err := store.LogMemory(ctx, WriteRequest{
		Content:   "important discovery",
		NodeID:    "memory-writer-1",
		TraceID:   "trace-1",
		EventType: "write",
		LogType:   "memory",
		Metadata:  map[string]any{"topic": "discovery"},
		Namespace: "facts",
		Session:   "s1",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, EntryKeyPrefix))

	assert.Equal(t, "important discovery", mr.HGet(key, "content"))
	assert.Equal(t, string(CategoryStored), mr.HGet(key, "category"))
	// write event +0.3 and memory agent +0.2 push importance to 1.0 -> long term.
	assert.Equal(t, string(LongTerm), mr.HGet(key, "memory_type"))
	// Expiry set: decay enabled.
	assert.NotEmpty(t, mr.HGet(key, "expire_time_ms"))
	assert.Greater(t, mr.TTL(key), time.Duration(0))
}

func TestRedisStreamRouting(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	_, err := store.LogMemory(ctx, WriteRequest{
		Content: "stored fact", NodeID: "memory-writer", LogType: "memory",
		Namespace: "kb", Session: "sess",
	})
	require.NoError(t, err)
	_, err = store.LogMemory(ctx, WriteRequest{
		Content: "step log", NodeID: "agent-a", EventType: "result",
	})
	require.NoError(t, err)

	scoped, err := store.client.XLen(ctx, "orka:memory:kb:sess").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), scoped)

	shared, err := store.client.XLen(ctx, SharedStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), shared)
}

func TestRedisSearchRoundTrip(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	_, err := store.LogMemory(ctx, WriteRequest{
		Content: "the capital of france is paris and it is widely known for its museums and cafes",
		NodeID:  "memory-writer", LogType: "memory", TraceID: "t",
	})
	require.NoError(t, err)
	_, err = store.LogMemory(ctx, WriteRequest{
		Content: "go routines communicate through channels",
		NodeID:  "memory-writer", LogType: "memory", TraceID: "t",
	})
	require.NoError(t, err)

	results, err := store.Search(ctx, SearchRequest{Query: "capital of france", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Content, "paris")
}

func TestRedisCleanupExpiredDryRun(t *testing.T) {
	store, mr := newRedisTestStore(t)
	ctx := context.Background()

	// Seed an already-expired entry directly.
	key := EntryKeyPrefix + "expired-1"
	mr.HSet(key, "content", "stale", "node_id", "a", "trace_id", "t",
		"timestamp", "1", "expire_time_ms", "1000")

	stats, err := store.CleanupExpired(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ExpiredFound)
	assert.Equal(t, 0, stats.Cleaned)
	assert.True(t, mr.Exists(key), "dry run must not delete")

	stats, err = store.CleanupExpired(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ExpiredFound)
	assert.Equal(t, 1, stats.Cleaned)
	assert.False(t, mr.Exists(key))
}

func TestRedisForkGroupLifecycle(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.GroupCreate(ctx, "g1", []string{"b1", "b2", "b3"}))

	expected, err := store.GroupExpected(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2", "b3"}, expected)

	require.NoError(t, store.GroupMarkDone(ctx, "g1", "b2"))
	require.NoError(t, store.GroupMarkDone(ctx, "g1", "b1"))

	done, err := store.GroupDone(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b2", "b1"}, done, "completion order preserved")

	require.NoError(t, store.GroupDelete(ctx, "g1"))
	expected, err = store.GroupExpected(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, expected)
}

func TestRedisEmptyForkGroup(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.GroupCreate(ctx, "empty", nil))
	expected, err := store.GroupExpected(ctx, "empty")
	require.NoError(t, err)
	require.NotNil(t, expected)
	assert.Empty(t, expected)
}

func TestRedisJSONHelpers(t *testing.T) {
	store, _ := newRedisTestStore(t)
	ctx := context.Background()

	loops := []types.PastLoop{{LoopNumber: 1, Score: 0.5}}
	require.NoError(t, store.PutJSON(ctx, PastLoopsKeyPrefix+"loop-node", loops))

	var back []types.PastLoop
	found, err := store.GetJSON(ctx, PastLoopsKeyPrefix+"loop-node", &back)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, loops, back)

	found, err = store.GetJSON(ctx, "absent", &back)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInMemoryStoreContract(t *testing.T) {
	store := NewInMemoryStore(InMemoryConfig{
		Decay: &types.DecayConfig{Enabled: true, ShortTermHours: 1},
	})
	ctx := context.Background()

	key, err := store.LogMemory(ctx, WriteRequest{
		Content: "a stored fact about the orchestration runtime internals",
		NodeID:  "memory-writer", LogType: "memory", TraceID: "t",
	})
	require.NoError(t, err)
	entry := store.Get(strings.TrimPrefix(key, EntryKeyPrefix))
	require.NotNil(t, entry)
	assert.Equal(t, CategoryStored, entry.Category)

	results, err := store.Search(ctx, SearchRequest{Query: "orchestration runtime"})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// Dry-run sweep: expired entries are counted, not removed, and remain
	// retrievable by key.
	store.Put(Entry{ID: "old", Content: "stale", TimestampMS: 1, ExpireAtMS: time.Now().Add(-time.Second).UnixMilli()})
	stats, err := store.CleanupExpired(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ExpiredFound)
	assert.Equal(t, 0, stats.Cleaned)
	assert.NotNil(t, store.Get("old"))

	stats, err = store.CleanupExpired(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cleaned)
	assert.Nil(t, store.Get("old"))
}

func TestInMemorySnapshot(t *testing.T) {
	store := NewInMemoryStore(InMemoryConfig{})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		store.Put(Entry{ID: string(rune('a' + i)), Content: "e", TimestampMS: int64(i)})
	}
	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, snap.TotalEntries)
	assert.Len(t, snap.LastEntries, 10)
	assert.Equal(t, "memory", snap.BackendType)
}

func TestDecaySweeperRemovesExpired(t *testing.T) {
	store := NewInMemoryStore(InMemoryConfig{})
	store.Put(Entry{ID: "gone", Content: "x", ExpireAtMS: time.Now().Add(-time.Minute).UnixMilli()})

	sweeper := StartDecaySweeper(store, 10*time.Millisecond, nil)
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		return store.Get("gone") == nil
	}, time.Second, 5*time.Millisecond)
}

func TestBackoffMultiplierCapped(t *testing.T) {
	assert.Equal(t, 1, backoffMultiplier(0))
	assert.Equal(t, 2, backoffMultiplier(1))
	assert.Equal(t, 4, backoffMultiplier(2))
	assert.Equal(t, 8, backoffMultiplier(3))
	assert.Equal(t, 8, backoffMultiplier(10))
	// A long failure streak must not overflow the shift past the cap.
	assert.Equal(t, 8, backoffMultiplier(63))
	assert.Equal(t, 8, backoffMultiplier(1 << 20))
}
