// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/orka/pkg/llm"
	"github.com/teradata-labs/orka/pkg/types"
)

func event(step int, agentID string, result any) types.LogEvent {
	out := types.NewSuccessOutput(agentID, types.ComponentAgent, result)
	return types.LogEvent{
		Step:      step,
		AgentID:   agentID,
		EventType: "result",
		Payload:   out,
		Timestamp: time.Now().UTC(),
	}
}

func TestBuildTraceNoDedupForSmallPayloads(t *testing.T) {
	events := []types.LogEvent{
		event(1, "a", "small"),
		event(2, "b", map[string]any{"k": "v"}),
	}
	tr := BuildTrace(events)
	assert.False(t, tr.Metadata.DeduplicationEnabled)
	assert.Empty(t, tr.BlobStore)
	assert.Equal(t, events, tr.Events)
}

func TestBuildTraceDeduplicatesRepeatedBlobs(t *testing.T) {
	big := map[string]any{"body": strings.Repeat("x", 500)}
	events := []types.LogEvent{
		event(1, "a", big),
		event(2, "b", big),
		event(3, "c", "tiny"),
	}

	tr := BuildTrace(events)
	require.True(t, tr.Metadata.DeduplicationEnabled)
	require.Len(t, tr.BlobStore, 1)
	assert.Equal(t, 1, tr.Metadata.Stats.DedupedBlobs)
	assert.Greater(t, tr.Metadata.Stats.BytesSaved, int64(0))

	// Both large payloads became references to the same blob.
	refA := tr.Events[0].Payload.Result.(map[string]any)
	refB := tr.Events[1].Payload.Result.(map[string]any)
	assert.Equal(t, blobRefType, refA["_type"])
	assert.Equal(t, refA["ref"], refB["ref"])
	assert.Equal(t, "tiny", tr.Events[2].Payload.Result)
}

func TestTraceRoundTripWithExpansion(t *testing.T) {
	big := map[string]any{"body": strings.Repeat("y", 400), "kind": "report"}
	events := []types.LogEvent{
		event(1, "a", big),
		event(2, "b", big),
	}

	tr := BuildTrace(events)
	path := filepath.Join(t.TempDir(), "trace.json")
	require.NoError(t, WriteTrace(path, tr))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	parsed, err := ParseTrace(data)
	require.NoError(t, err)
	assert.True(t, parsed.Metadata.DeduplicationEnabled)

	expanded := parsed.ExpandBlobs()
	require.Len(t, expanded, 2)
	for i := range expanded {
		want, err := json.Marshal(events[i].Payload.Result)
		require.NoError(t, err)
		got, err := json.Marshal(expanded[i].Payload.Result)
		require.NoError(t, err)
		assert.JSONEq(t, string(want), string(got))
	}
}

func TestDedupBreaksCycles(t *testing.T) {
	cyclic := map[string]any{"pad": strings.Repeat("z", 300)}
	cyclic["self"] = cyclic

	tr := BuildTrace([]types.LogEvent{
		event(1, "a", cyclic),
		event(2, "b", map[string]any{"pad": strings.Repeat("z", 300), "self": circularRefSentinel}),
	})
	assert.Greater(t, tr.Metadata.Stats.CircularBroken, 0)

	// The trace must serialize despite the original cycle.
	_, err := json.Marshal(tr)
	require.NoError(t, err)
}

func TestRunPersistsTokenAccounting(t *testing.T) {
	c, _ := testConfig(t)
	c.Provider = llm.NewFakeProvider("a reasonably long scripted answer from the model")
	o := mustCompile(t, `
agents:
  - id: ask
    type: llm
`, c)

	result := o.Run(context.Background(), "tell me something interesting")
	require.Equal(t, StatusCompleted, result.Status)
	require.NotEmpty(t, result.TracePath)

	data, err := os.ReadFile(result.TracePath)
	require.NoError(t, err)
	tr, err := ParseTrace(data)
	require.NoError(t, err)

	// Token usage flows from the provider response into the meta report
	// and per-agent cost analysis without any hand-wired metrics.
	tokens, ok := tr.MetaReport["total_tokens"].(float64)
	require.True(t, ok)
	assert.Greater(t, tokens, float64(0))

	require.NotEmpty(t, tr.CostAnalysis)
	assert.Equal(t, tokens, tr.CostAnalysis["ask"])
}

func TestMetaReportAggregates(t *testing.T) {
	ok := event(1, "a", "fine")
	ok.Payload.ExecutionTimeMS = 12
	ok.Payload.Metrics = map[string]float64{"total_tokens": 40}

	bad := types.LogEvent{
		Step: 2, AgentID: "b", EventType: "error",
		Payload:   &types.Output{Status: types.StatusError, Error: "boom", ComponentID: "b"},
		Timestamp: time.Now().UTC(),
	}

	report := buildMetaReport([]types.LogEvent{ok, bad})
	assert.Equal(t, 2, report["total_events"])
	assert.Equal(t, int64(12), report["total_duration_ms"])
	assert.Equal(t, float64(40), report["total_tokens"])
	assert.Equal(t, 1, report["total_errors"])
	assert.Equal(t, []string{"a", "b"}, report["agents_executed"])
}
