// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/orka/pkg/memory"
	"github.com/teradata-labs/orka/pkg/scoring"
	"github.com/teradata-labs/orka/pkg/types"
)

// scriptedRunner fakes the nested workflow: each call returns the next
// scripted result as the terminal event payload.
type scriptedRunner struct {
	results []any
	calls   int
	err     error
}

func (s *scriptedRunner) RunWorkflow(ctx context.Context, cfg *types.WorkflowConfig, rc *types.RunContext) (*types.RunContext, []types.LogEvent, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	out := types.NewSuccessOutput("worker", types.ComponentAgent, s.results[idx])
	rc.PreviousOutputs["worker"] = out
	return rc, []types.LogEvent{{
		Step: 1, AgentID: "worker", EventType: "result", Payload: out, Timestamp: time.Now(),
	}}, nil
}

func internalWorkflow() *types.WorkflowConfig {
	return &types.WorkflowConfig{
		Orchestrator: types.OrchestratorSpec{ID: "inner", Agents: []string{"worker"}},
		Agents:       []types.NodeConfig{{ID: "worker", Type: "echo"}},
	}
}

func loopDeps(runner types.WorkflowRunner) Deps {
	return Deps{
		Store:  memory.NewInMemoryStore(memory.InMemoryConfig{}),
		Runner: runner,
	}
}

func TestLoopTerminatesOnThreshold(t *testing.T) {
	runner := &scriptedRunner{results: []any{
		map[string]any{"score": 0.5},
		map[string]any{"score": 0.6},
		map[string]any{"score": 0.9},
		map[string]any{"score": 0.95},
	}}
	node, err := NewLoopNode(types.NodeConfig{
		ID: "improve", Type: "loop",
		MaxLoops: 5, ScoreThreshold: 0.8,
		InternalWorkflow: internalWorkflow(),
	}, loopDeps(runner))
	require.NoError(t, err)

	out, err := node.Run(context.Background(), types.NewRunContext("draft", "t"))
	require.NoError(t, err)
	require.Equal(t, types.StatusSuccess, out.Status)

	result := out.Result.(map[string]any)
	assert.Equal(t, 3, result["loops_completed"])
	assert.Equal(t, true, result["threshold_met"])
	assert.InDelta(t, 0.9, result["final_score"].(float64), 1e-9)

	past := result["past_loops"].([]types.PastLoop)
	require.Len(t, past, 3)
	for i, pl := range past {
		assert.Equal(t, i+1, pl.LoopNumber, "loop numbers strictly increasing")
	}
}

func TestLoopExhaustsMaxLoops(t *testing.T) {
	runner := &scriptedRunner{results: []any{map[string]any{"score": 0.1}}}
	node, err := NewLoopNode(types.NodeConfig{
		ID: "improve", Type: "loop",
		MaxLoops: 3, ScoreThreshold: 0.8,
		InternalWorkflow: internalWorkflow(),
	}, loopDeps(runner))
	require.NoError(t, err)

	out, err := node.Run(context.Background(), types.NewRunContext("draft", "t"))
	require.NoError(t, err)

	result := out.Result.(map[string]any)
	assert.Equal(t, 3, result["loops_completed"])
	assert.Equal(t, false, result["threshold_met"])
	assert.Equal(t, 3, runner.calls)
}

func TestLoopIterationFailure(t *testing.T) {
	runner := &scriptedRunner{err: fmt.Errorf("inner workflow broke")}
	node, err := NewLoopNode(types.NodeConfig{
		ID: "improve", Type: "loop", MaxLoops: 2,
		InternalWorkflow: internalWorkflow(),
	}, loopDeps(runner))
	require.NoError(t, err)

	out, err := node.Run(context.Background(), types.NewRunContext("draft", "t"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, out.Status)
	assert.Contains(t, out.Error, "inner workflow broke")
}

func TestLoopPersistAcrossRuns(t *testing.T) {
	store := memory.NewInMemoryStore(memory.InMemoryConfig{})
	runner := &scriptedRunner{results: []any{map[string]any{"score": 0.9}}}
	deps := Deps{Store: store, Runner: runner}

	cfg := types.NodeConfig{
		ID: "persist-loop", Type: "loop",
		MaxLoops: 1, ScoreThreshold: 0.5, PersistAcrossRuns: true,
		InternalWorkflow: internalWorkflow(),
	}
	node, err := NewLoopNode(cfg, deps)
	require.NoError(t, err)
	_, err = node.Run(context.Background(), types.NewRunContext("draft", "t"))
	require.NoError(t, err)

	var persisted []types.PastLoop
	found, err := store.GetJSON(context.Background(), memory.PastLoopsKeyPrefix+"persist-loop", &persisted)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, persisted, 1)

	// A second run continues the numbering from the persisted history.
	node2, err := NewLoopNode(cfg, deps)
	require.NoError(t, err)
	out, err := node2.Run(context.Background(), types.NewRunContext("draft", "t"))
	require.NoError(t, err)
	past := out.Result.(map[string]any)["past_loops"].([]types.PastLoop)
	require.Len(t, past, 2)
	assert.Equal(t, 2, past[1].LoopNumber)
}

func TestLoopPersistedHistoryTrimmed(t *testing.T) {
	store := memory.NewInMemoryStore(memory.InMemoryConfig{})
	seed := make([]types.PastLoop, 25)
	for i := range seed {
		seed[i] = types.PastLoop{LoopNumber: i + 1}
	}
	require.NoError(t, store.PutJSON(context.Background(), memory.PastLoopsKeyPrefix+"trim-loop", seed))

	runner := &scriptedRunner{results: []any{map[string]any{"score": 0.9}}}
	node, err := NewLoopNode(types.NodeConfig{
		ID: "trim-loop", Type: "loop",
		MaxLoops: 1, ScoreThreshold: 0.5, PersistAcrossRuns: true,
		InternalWorkflow: internalWorkflow(),
	}, Deps{Store: store, Runner: runner})
	require.NoError(t, err)

	_, err = node.Run(context.Background(), types.NewRunContext("draft", "t"))
	require.NoError(t, err)

	var persisted []types.PastLoop
	_, err = store.GetJSON(context.Background(), memory.PastLoopsKeyPrefix+"trim-loop", &persisted)
	require.NoError(t, err)
	assert.Len(t, persisted, 20)
	assert.Equal(t, 26, persisted[19].LoopNumber, "newest iteration kept, oldest dropped")
}

func TestExtractScoreStrategies(t *testing.T) {
	prev := map[string]*types.Output{
		"judge": types.NewSuccessOutput("judge", types.ComponentAgent,
			map[string]any{"quality": 0.75}),
	}

	score, ok := ExtractScore(map[string]any{"score": 0.4}, nil, nil, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.4, score, 1e-9)

	score, ok = ExtractScore("overall SCORE: 0.62 out of 1", nil, nil, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.62, score, 1e-9)

	cfg := &types.ScoreExtractionConfig{Strategies: []types.ScoreStrategy{
		{Type: "agent_key", Agent: "judge", Key: "quality"},
	}}
	score, ok = ExtractScore(nil, prev, cfg, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.75, score, 1e-9)

	cfg = &types.ScoreExtractionConfig{Strategies: []types.ScoreStrategy{
		{Type: "nested_path", Path: "evaluation.final.score"},
	}}
	score, ok = ExtractScore(map[string]any{
		"evaluation": map[string]any{"final": map[string]any{"score": "0.33"}},
	}, nil, cfg, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.33, score, 1e-9)

	_, ok = ExtractScore(map[string]any{"other": 1}, nil, nil, nil)
	assert.False(t, ok)
}

func TestExtractScoreFromPreset(t *testing.T) {
	table, err := scoring.NewPresetTable([]*scoring.Preset{{
		Context: "review", Severity: "strict",
		Weights:    map[string]map[string]float64{"q": {"a": 0.5, "b": 0.5}},
		Thresholds: scoring.Thresholds{Approved: 0.9, NeedsImprovement: 0.5},
	}})
	require.NoError(t, err)

	cfg := &types.ScoreExtractionConfig{ScoringPreset: "strict@review"}
	score, ok := ExtractScore(map[string]any{
		"evaluations": map[string]any{"q": map[string]any{"a": true, "b": false}},
	}, nil, cfg, table)
	require.True(t, ok)
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestExtractCognitive(t *testing.T) {
	text := "Insights: shorter prompts work better\nMistakes: forgot the context window"
	got := ExtractCognitive(text, nil)
	assert.Equal(t, "shorter prompts work better", got["insights"])
	assert.Equal(t, "forgot the context window", got["mistakes"])
	assert.Empty(t, got["improvements"])
}

func TestExtractCognitiveCustomPatternsAndCap(t *testing.T) {
	cfg := &types.CognitiveExtractionConfig{
		Enabled:              true,
		ExtractPatterns:      map[string][]string{"insights": {`LEARNED=(\w+)`}},
		MaxLengthPerCategory: 5,
	}
	got := ExtractCognitive("LEARNED=patience LEARNED=brevity", cfg)
	assert.Equal(t, "patie", got["insights"])
}

func TestExtractCognitiveDisabled(t *testing.T) {
	cfg := &types.CognitiveExtractionConfig{Enabled: false}
	got := ExtractCognitive("Insights: anything", cfg)
	assert.Empty(t, got["insights"])
}
