// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/memory"
	"github.com/teradata-labs/orka/pkg/types"
)

// MemoryReaderNode searches the memory store and returns matching entries.
type MemoryReaderNode struct {
	Base
	store  memory.Store
	logger *zap.Logger
}

// NewMemoryReaderNode creates a reader bound to the shared store.
func NewMemoryReaderNode(cfg types.NodeConfig, deps Deps) (*MemoryReaderNode, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("memory reader %q: no store configured", cfg.ID)
	}
	return &MemoryReaderNode{
		Base:   NewBase("memory-reader", cfg),
		store:  deps.Store,
		logger: deps.logger().With(zap.String("node_id", cfg.ID)),
	}, nil
}

// Run searches with the rendered prompt (or run input) as the query.
func (n *MemoryReaderNode) Run(ctx context.Context, rc *types.RunContext) (*types.Output, error) {
	start := time.Now()
	query := rc.FormattedPrompt
	if query == "" {
		query = rc.InputString()
	}

	req := memory.SearchRequest{Query: query, LogType: "memory"}
	cfg := n.Config()
	if opts := cfg.Config; opts != nil {
		req.Limit = opts.Limit
		req.SimilarityThreshold = opts.SimilarityThreshold
		req.CategoryFilter = opts.MemoryCategoryFilter
		req.TypeFilter = opts.MemoryTypeFilter
		req.TemporalRanking = opts.EnableTemporalRank
		if opts.TemporalWeight > 0 {
			req.ContextWeight = opts.TemporalWeight
		}
		if opts.EnableContextSearch {
			req.Context = recentResults(rc, 3)
		}
	}

	results, err := n.store.Search(ctx, req)
	if err != nil {
		return types.NewErrorOutput(n.ID(), types.ComponentNode,
			fmt.Errorf("memory search failed: %w", err)), nil
	}

	memories := make([]any, 0, len(results))
	for _, r := range results {
		memories = append(memories, map[string]any{
			"content":    r.Content,
			"similarity": r.Similarity,
			"metadata":   r.Metadata,
		})
	}
	out := types.NewSuccessOutput(n.ID(), types.ComponentNode,
		map[string]any{"memories": memories, "query": query})
	out.ExecutionTimeMS = time.Since(start).Milliseconds()
	out.Metrics = map[string]float64{"num_results": float64(len(results))}
	return out, nil
}

func recentResults(rc *types.RunContext, limit int) []string {
	outputs := make([]*types.Output, 0, len(rc.PreviousOutputs))
	for _, out := range rc.PreviousOutputs {
		outputs = append(outputs, out)
	}
	// Most recent first.
	for i := 0; i < len(outputs); i++ {
		for j := i + 1; j < len(outputs); j++ {
			if outputs[j].Timestamp.After(outputs[i].Timestamp) {
				outputs[i], outputs[j] = outputs[j], outputs[i]
			}
		}
	}
	if len(outputs) > limit {
		outputs = outputs[:limit]
	}
	ctxStrings := make([]string, 0, len(outputs))
	for _, out := range outputs {
		ctxStrings = append(ctxStrings, out.ResultString())
	}
	return ctxStrings
}

// MemoryWriterNode persists the rendered prompt (or the latest upstream
// result) as a stored memory. Store failures degrade to an error envelope;
// they never abort the run.
type MemoryWriterNode struct {
	Base
	store  memory.Store
	logger *zap.Logger
}

// NewMemoryWriterNode creates a writer bound to the shared store.
func NewMemoryWriterNode(cfg types.NodeConfig, deps Deps) (*MemoryWriterNode, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("memory writer %q: no store configured", cfg.ID)
	}
	return &MemoryWriterNode{
		Base:   NewBase("memory-writer", cfg),
		store:  deps.Store,
		logger: deps.logger().With(zap.String("node_id", cfg.ID)),
	}, nil
}

// Run writes one memory entry.
func (n *MemoryWriterNode) Run(ctx context.Context, rc *types.RunContext) (*types.Output, error) {
	start := time.Now()
	content := rc.FormattedPrompt
	if content == "" {
		content = latestResult(rc)
	}

	cfg := n.Config()
	md := make(map[string]any, len(cfg.Metadata))
	for k, v := range cfg.Metadata {
		md[k] = v
	}

	key, err := n.store.LogMemory(ctx, memory.WriteRequest{
		Content:   content,
		NodeID:    n.ID(),
		TraceID:   rc.TraceID,
		Metadata:  md,
		EventType: "write",
		LogType:   "memory",
		Decay:     cfg.Decay,
		Namespace: cfg.Namespace,
		Session:   rc.TraceID,
		Vector:    cfg.Vector,
	})
	if err != nil {
		n.logger.Warn("Memory write failed", zap.Error(err))
		return types.NewErrorOutput(n.ID(), types.ComponentNode,
			fmt.Errorf("memory write failed: %w", err)), nil
	}

	out := types.NewSuccessOutput(n.ID(), types.ComponentNode,
		map[string]any{"memory_key": key, "content": content})
	out.ExecutionTimeMS = time.Since(start).Milliseconds()
	return out, nil
}
