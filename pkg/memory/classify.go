// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package memory

import (
	"strings"
	"time"

	"github.com/teradata-labs/orka/pkg/types"
)

// persistenceMarkers in a node id mark it as a memory-persisting agent.
var persistenceMarkers = []string{"memory-writer", "memory_writer", "memorywriter"}

// ComputeImportance scores a write in [0,1]. Base 0.5, boosted by event
// type and memory-related agent names, penalized when the payload carries
// an error.
func ComputeImportance(eventType, nodeID string, metadata map[string]any) float64 {
	score := 0.5

	switch eventType {
	case "write":
		score += 0.3
	case "result":
		score += 0.2
	}

	if strings.Contains(strings.ToLower(nodeID), "memory") {
		score += 0.2
	}

	if metadata != nil {
		if _, ok := metadata["error"]; ok {
			score -= 0.1
		}
	}

	return clamp01(score)
}

// ClassifyCategory decides stored vs log. A write is stored iff the log
// type says so explicitly, the agent name carries a persistence marker, or
// the payload shape is a memory payload (content, memory_object, memories).
func ClassifyCategory(logType, nodeID string, metadata map[string]any) Category {
	if logType == "memory" {
		return CategoryStored
	}
	lower := strings.ToLower(nodeID)
	for _, marker := range persistenceMarkers {
		if strings.Contains(lower, marker) {
			return CategoryStored
		}
	}
	if metadata != nil {
		for _, key := range []string{"content", "memory_object", "memories"} {
			if _, ok := metadata[key]; ok {
				return CategoryStored
			}
		}
	}
	return CategoryLog
}

// ClassifyType decides short vs long term. Log entries are always short
// term. Stored entries go long term on a configured long-term event type
// or an importance score of 0.7 or higher.
func ClassifyType(category Category, eventType string, importance float64, longTermEvents []string) MemoryType {
	if category == CategoryLog {
		return ShortTerm
	}
	for _, ev := range longTermEvents {
		if ev == eventType {
			return LongTerm
		}
	}
	if importance >= 0.7 {
		return LongTerm
	}
	return ShortTerm
}

// ComputeExpiry returns the entry lifetime. The bool is false when the
// entry should never expire. Base hours come from the decay config by
// memory type (or the explicit override), scaled by (1 + importance).
func ComputeExpiry(decay *types.DecayConfig, memType MemoryType, importance, overrideHours float64) (time.Duration, bool) {
	if decay == nil || !decay.Enabled {
		return 0, false
	}

	hours := overrideHours
	if hours <= 0 {
		switch memType {
		case LongTerm:
			hours = decay.LongTermHours
		default:
			hours = decay.ShortTermHours
		}
	}
	if hours <= 0 {
		return 0, false
	}

	scaled := hours * (1 + clamp01(importance))
	return time.Duration(scaled * float64(time.Hour)), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
