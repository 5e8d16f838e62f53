// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teradata-labs/orka/pkg/types"
)

func TestComputeImportance(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		nodeID    string
		metadata  map[string]any
		want      float64
	}{
		{"base", "", "agent", nil, 0.5},
		{"write boost", "write", "agent", nil, 0.8},
		{"result boost", "result", "agent", nil, 0.7},
		{"memory agent boost", "", "memory-writer-1", nil, 0.7},
		{"error penalty", "", "agent", map[string]any{"error": "boom"}, 0.4},
		{"clamped high", "write", "memory-writer", map[string]any{}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeImportance(tt.eventType, tt.nodeID, tt.metadata), 1e-9)
		})
	}
}

func TestClassifyCategory(t *testing.T) {
	assert.Equal(t, CategoryStored, ClassifyCategory("memory", "agent", nil))
	assert.Equal(t, CategoryStored, ClassifyCategory("", "my-memory-writer", nil))
	assert.Equal(t, CategoryStored, ClassifyCategory("", "agent", map[string]any{"content": "x"}))
	assert.Equal(t, CategoryStored, ClassifyCategory("", "agent", map[string]any{"memory_object": map[string]any{}}))
	assert.Equal(t, CategoryStored, ClassifyCategory("", "agent", map[string]any{"memories": []any{}}))
	assert.Equal(t, CategoryLog, ClassifyCategory("", "agent", map[string]any{"other": 1}))
	assert.Equal(t, CategoryLog, ClassifyCategory("log", "agent", nil))
}

func TestClassifyType(t *testing.T) {
	// Log category is always short term, regardless of importance.
	assert.Equal(t, ShortTerm, ClassifyType(CategoryLog, "write", 0.95, nil))

	// Stored entries go long term on high importance or configured events.
	assert.Equal(t, LongTerm, ClassifyType(CategoryStored, "", 0.7, nil))
	assert.Equal(t, ShortTerm, ClassifyType(CategoryStored, "", 0.69, nil))
	assert.Equal(t, LongTerm, ClassifyType(CategoryStored, "archive", 0.1, []string{"archive"}))
}

func TestComputeExpiry(t *testing.T) {
	decay := &types.DecayConfig{Enabled: true, ShortTermHours: 2, LongTermHours: 24}

	ttl, ok := ComputeExpiry(decay, ShortTerm, 0.5, 0)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(3*float64(time.Hour)), ttl) // 2h * 1.5

	ttl, ok = ComputeExpiry(decay, LongTerm, 0, 0)
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, ttl)

	// Explicit override wins over base hours.
	ttl, ok = ComputeExpiry(decay, ShortTerm, 0, 1)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, ttl)

	// Disabled decay means no expiry at all.
	_, ok = ComputeExpiry(&types.DecayConfig{Enabled: false}, ShortTerm, 0.5, 0)
	assert.False(t, ok)
	_, ok = ComputeExpiry(nil, ShortTerm, 0.5, 0)
	assert.False(t, ok)
}
