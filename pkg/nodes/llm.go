// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/jsonutil"
	"github.com/teradata-labs/orka/pkg/llm"
	"github.com/teradata-labs/orka/pkg/types"
)

// LLMNode invokes the configured model provider with the rendered prompt.
// When the prompt asks for structured output (config metadata
// "parse_json": true), the response runs through the JSON extraction
// pipeline; a repaired parse is recorded as a silent degradation in the
// envelope metadata.
type LLMNode struct {
	Base
	provider llm.Provider
	logger   *zap.Logger
}

// NewLLMNode creates an LLM-backed agent.
func NewLLMNode(cfg types.NodeConfig, deps Deps) (*LLMNode, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("llm node %q: no provider configured", cfg.ID)
	}
	return &LLMNode{
		Base:     NewBase("llm", cfg),
		provider: deps.Provider,
		logger:   deps.logger().With(zap.String("node_id", cfg.ID)),
	}, nil
}

// Run sends the formatted prompt to the provider.
func (n *LLMNode) Run(ctx context.Context, rc *types.RunContext) (*types.Output, error) {
	start := time.Now()
	prompt := rc.FormattedPrompt
	if prompt == "" {
		prompt = rc.InputString()
	}

	cfg := n.Config()
	resp, err := n.provider.Chat(ctx, llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return types.NewErrorOutput(n.ID(), types.ComponentAgent,
			fmt.Errorf("llm call failed: %w", err)), nil
	}

	out := types.NewSuccessOutput(n.ID(), types.ComponentAgent, resp.Content)
	out.ExecutionTimeMS = time.Since(start).Milliseconds()
	out.Metrics = map[string]float64{
		"input_tokens":  float64(resp.Usage.InputTokens),
		"output_tokens": float64(resp.Usage.OutputTokens),
		"total_tokens":  float64(resp.Usage.TotalTokens),
		"cost_usd":      resp.Usage.CostUSD,
	}

	if wantJSON(cfg) {
		parsed, perr := jsonutil.Parse(resp.Content, jsonutil.Options{Strict: true})
		if perr != nil {
			n.logger.Warn("Structured output parse failed; returning raw text",
				zap.Error(perr))
			out.Metadata = map[string]any{"parse_error": perr.Error()}
			return out, nil
		}
		out.Result = parsed
		if _, reparsed := parsed.(map[string]any); reparsed {
			// Flag repaired output so telemetry can count the degradation.
			if _, strictOK := strictParse(resp.Content); !strictOK {
				out.Metadata = map[string]any{"silent_degradation": "json_repaired"}
			}
		}
	}
	return out, nil
}

func wantJSON(cfg types.NodeConfig) bool {
	if cfg.Metadata == nil {
		return false
	}
	v, ok := cfg.Metadata["parse_json"].(bool)
	return ok && v
}

func strictParse(text string) (any, bool) {
	candidate, ok := jsonutil.Extract(text)
	if !ok {
		return nil, false
	}
	var out any
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return nil, false
	}
	return out, true
}
