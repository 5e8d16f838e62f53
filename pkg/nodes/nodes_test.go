// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/orka/pkg/llm"
	"github.com/teradata-labs/orka/pkg/memory"
	"github.com/teradata-labs/orka/pkg/types"
)

func testDeps() Deps {
	return Deps{
		Store:    memory.NewInMemoryStore(memory.InMemoryConfig{}),
		Provider: llm.NewFakeProvider(),
	}
}

func TestEchoNode(t *testing.T) {
	rc := types.NewRunContext("hello", "t")
	node := NewEchoNode(types.NodeConfig{ID: "a", Type: "echo"})

	out, err := node.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, out.Status)
	assert.Equal(t, "hello", out.Result)
	assert.Equal(t, "a", out.ComponentID)

	rc.FormattedPrompt = "rendered"
	out, err = node.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, "rendered", out.Result)
}

func TestUppercaseNodeUsesLatestOutput(t *testing.T) {
	rc := types.NewRunContext("hello", "t")
	rc.PreviousOutputs["a"] = types.NewSuccessOutput("a", types.ComponentAgent, "hello")

	node := NewUppercaseNode(types.NodeConfig{ID: "b", Type: "uppercase"})
	out, err := node.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out.Result)
}

func TestInitializeIdempotent(t *testing.T) {
	node := NewEchoNode(types.NodeConfig{ID: "a"})
	calls := 0
	fn := func() error { calls++; return nil }

	require.NoError(t, node.Initialize(fn))
	require.NoError(t, node.Initialize(fn))
	assert.Equal(t, 1, calls)
}

func TestLLMNode(t *testing.T) {
	deps := testDeps()
	deps.Provider = llm.NewFakeProvider("the answer")
	node, err := NewLLMNode(types.NodeConfig{ID: "gen", Type: "llm"}, deps)
	require.NoError(t, err)

	rc := types.NewRunContext("question", "t")
	rc.FormattedPrompt = "answer this: question"
	out, err := node.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, out.Status)
	assert.Equal(t, "the answer", out.Result)
	assert.Contains(t, out.Metrics, "output_tokens")
	assert.Greater(t, out.Metrics["total_tokens"], float64(0))
}

func TestLLMNodeParsesJSON(t *testing.T) {
	deps := testDeps()
	deps.Provider = llm.NewFakeProvider("```json\n{'verdict': True}\n```")
	node, err := NewLLMNode(types.NodeConfig{
		ID: "gen", Type: "llm",
		Metadata: map[string]any{"parse_json": true},
	}, deps)
	require.NoError(t, err)

	out, err := node.Run(context.Background(), types.NewRunContext("q", "t"))
	require.NoError(t, err)
	parsed, ok := out.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, parsed["verdict"])
	// Python-literal input needed the repair pipeline.
	assert.Equal(t, "json_repaired", out.Metadata["silent_degradation"])
}

func TestLLMNodeProviderError(t *testing.T) {
	deps := testDeps()
	fake := llm.NewFakeProvider()
	fake.Fail(assert.AnError)
	deps.Provider = fake

	node, err := NewLLMNode(types.NodeConfig{ID: "gen", Type: "llm"}, deps)
	require.NoError(t, err)

	out, err := node.Run(context.Background(), types.NewRunContext("q", "t"))
	require.NoError(t, err, "provider failures become error envelopes, not errors")
	assert.Equal(t, types.StatusError, out.Status)
	assert.NotEmpty(t, out.Error)
}

func TestMemoryWriterAndReader(t *testing.T) {
	deps := testDeps()
	ctx := context.Background()

	writer, err := NewMemoryWriterNode(types.NodeConfig{
		ID: "memory-writer-1", Type: "memory-writer", Namespace: "facts",
	}, deps)
	require.NoError(t, err)

	rc := types.NewRunContext("the sky is blue on clear days", "t")
	out, err := writer.Run(ctx, rc)
	require.NoError(t, err)
	require.Equal(t, types.StatusSuccess, out.Status)
	result := out.Result.(map[string]any)
	assert.NotEmpty(t, result["memory_key"])

	reader, err := NewMemoryReaderNode(types.NodeConfig{
		ID: "recall", Type: "memory-reader",
		Config: &types.MemoryOptions{Limit: 5},
	}, deps)
	require.NoError(t, err)

	rc2 := types.NewRunContext("sky blue", "t")
	out, err = reader.Run(ctx, rc2)
	require.NoError(t, err)
	require.Equal(t, types.StatusSuccess, out.Status)
	memories := out.Result.(map[string]any)["memories"].([]any)
	require.NotEmpty(t, memories)
	first := memories[0].(map[string]any)
	assert.Contains(t, first["content"], "sky is blue")
}

func TestRouterSelectsFirstMatch(t *testing.T) {
	rc := types.NewRunContext("q", "t")
	rc.PreviousOutputs["classify"] = types.NewSuccessOutput("classify", types.ComponentAgent, "science")

	node := NewRouterNode(types.NodeConfig{
		ID: "route", Type: "router",
		Conditions: []types.ConditionConfig{
			{If: "{{ previous_outputs.classify.result }}", Equals: "history", Then: types.StringList{"hist"}},
			{If: "{{ previous_outputs.classify.result }}", Equals: "science", Then: types.StringList{"sci1", "sci2"}},
		},
	}, testDeps())

	out, err := node.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, []string{"sci1", "sci2"}, out.Metadata[RouteTargetsKey])
}

func TestRouterNoMatch(t *testing.T) {
	node := NewRouterNode(types.NodeConfig{
		ID: "route", Type: "router",
		Conditions: []types.ConditionConfig{
			{If: "{{ missing }}", Then: types.StringList{"x"}},
		},
	}, testDeps())

	out, err := node.Run(context.Background(), types.NewRunContext("q", "t"))
	require.NoError(t, err)
	assert.Empty(t, out.Metadata[RouteTargetsKey])
	assert.Equal(t, types.StatusSuccess, out.Status)
}

func TestFailoverFirstValidWins(t *testing.T) {
	deps := testDeps()
	children := []types.Node{
		NewFailingNode(types.NodeConfig{ID: "fail_always"}),
		NewEchoNode(types.NodeConfig{ID: "always_ok"}),
	}
	node, err := NewFailoverNode(types.NodeConfig{ID: "fo", Type: "failover"}, children, deps)
	require.NoError(t, err)

	out, err := node.Run(context.Background(), types.NewRunContext("payload", "t"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, out.Status)
	assert.Equal(t, "payload", out.Result)
	assert.Equal(t, "always_ok", out.Metadata["successful_child"])
}

func TestFailoverAllFail(t *testing.T) {
	deps := testDeps()
	children := []types.Node{
		NewFailingNode(types.NodeConfig{ID: "f1"}),
		NewFailingNode(types.NodeConfig{ID: "f2"}),
	}
	node, err := NewFailoverNode(types.NodeConfig{ID: "fo", Type: "failover"}, children, deps)
	require.NoError(t, err)

	out, err := node.Run(context.Background(), types.NewRunContext("q", "t"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, out.Status)
	assert.Contains(t, out.Error, "f1")
	assert.Contains(t, out.Error, "f2")
}

func TestForkCreatesGroup(t *testing.T) {
	deps := testDeps()
	node, err := NewForkNode(types.NodeConfig{
		ID: "fork1", Type: "fork",
		Targets: []types.StringList{{"b1"}, {"b2a", "b2b"}},
	}, deps)
	require.NoError(t, err)

	out, err := node.Run(context.Background(), types.NewRunContext("q", "t"))
	require.NoError(t, err)
	require.Equal(t, types.StatusSuccess, out.Status)

	gid := out.Metadata[ForkGroupIDKey].(string)
	expected, err := deps.Store.GroupExpected(context.Background(), gid)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b1", "b2b"}, expected, "terminal node of each branch")
	assert.Equal(t, [][]string{{"b1"}, {"b2a", "b2b"}}, out.Metadata[ForkTargetsKey])
}

func TestJoinWaitsThenMerges(t *testing.T) {
	deps := testDeps()
	ctx := context.Background()
	require.NoError(t, deps.Store.GroupCreate(ctx, "g1", []string{"b1", "b2"}))

	node, err := NewJoinNode(types.NodeConfig{ID: "join1", Type: "join", ForkGroup: "g1"}, deps)
	require.NoError(t, err)

	rc := types.NewRunContext("q", "t")
	out, err := node.Run(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, true, out.Metadata[JoinPendingKey], "no branch done yet")

	rc.PreviousOutputs["b1"] = types.NewSuccessOutput("b1", types.ComponentAgent, "r1")
	rc.PreviousOutputs["b2"] = types.NewSuccessOutput("b2", types.ComponentAgent, "r2")
	require.NoError(t, deps.Store.GroupMarkDone(ctx, "g1", "b1"))

	out, err = node.Run(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, true, out.Metadata[JoinPendingKey], "all mode needs every branch")

	require.NoError(t, deps.Store.GroupMarkDone(ctx, "g1", "b2"))
	out, err = node.Run(ctx, rc)
	require.NoError(t, err)
	assert.Nil(t, out.Metadata[JoinPendingKey])
	assert.Equal(t, map[string]any{"b1": "r1", "b2": "r2"}, out.Result)

	// Group record is deleted on completion.
	expected, err := deps.Store.GroupExpected(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, expected)
}

func TestJoinAnyMode(t *testing.T) {
	deps := testDeps()
	ctx := context.Background()
	require.NoError(t, deps.Store.GroupCreate(ctx, "g2", []string{"b1", "b2"}))
	require.NoError(t, deps.Store.GroupMarkDone(ctx, "g2", "b2"))

	node, err := NewJoinNode(types.NodeConfig{
		ID: "join2", Type: "join", ForkGroup: "g2", Mode: "any",
	}, deps)
	require.NoError(t, err)

	rc := types.NewRunContext("q", "t")
	rc.PreviousOutputs["b2"] = types.NewSuccessOutput("b2", types.ComponentAgent, "first")

	out, err := node.Run(ctx, rc)
	require.NoError(t, err)
	assert.Nil(t, out.Metadata[JoinPendingKey])
	assert.Equal(t, map[string]any{"b2": "first"}, out.Result)
}

func TestJoinEmptyGroupCompletesImmediately(t *testing.T) {
	deps := testDeps()
	ctx := context.Background()
	require.NoError(t, deps.Store.GroupCreate(ctx, "empty", nil))

	node, err := NewJoinNode(types.NodeConfig{ID: "join3", Type: "join", ForkGroup: "empty"}, deps)
	require.NoError(t, err)

	out, err := node.Run(ctx, types.NewRunContext("q", "t"))
	require.NoError(t, err)
	assert.Nil(t, out.Metadata[JoinPendingKey])
	assert.Equal(t, map[string]any{}, out.Result)
}

func TestFactory(t *testing.T) {
	deps := testDeps()

	node, err := New(types.NodeConfig{ID: "a", Type: "echo"}, deps)
	require.NoError(t, err)
	assert.Equal(t, "echo", node.Type())

	_, err = New(types.NodeConfig{ID: "x", Type: "teleport"}, deps)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = New(types.NodeConfig{Type: "echo"}, deps)
	assert.ErrorIs(t, err, ErrMissingID)

	fo, err := New(types.NodeConfig{
		ID: "fo", Type: "failover",
		Children: []types.NodeConfig{
			{ID: "c1", Type: "failing"},
			{ID: "c2", Type: "echo"},
		},
	}, deps)
	require.NoError(t, err)
	assert.Len(t, fo.(*FailoverNode).Children(), 2)
}
