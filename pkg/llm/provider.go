// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package llm defines the pluggable model provider contract used by LLM
// nodes and streaming satellites.
package llm

import (
	"context"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage tracks token consumption for cost reporting.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Response is a completed model call.
type Response struct {
	Content    string         `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      Usage          `json:"usage"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Request carries the prompt and per-call overrides to a provider.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Provider is the model backend contract.
type Provider interface {
	// Chat sends a conversation to the model and returns the response.
	Chat(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name.
	Name() string

	// Model returns the model identifier.
	Model() string
}

// TokenCallback receives each streamed chunk. Implementations must be
// lightweight and non-blocking.
type TokenCallback func(token string)

// StreamingProvider extends Provider with token streaming. The full
// Response is returned after the stream finishes.
type StreamingProvider interface {
	Provider

	ChatStream(ctx context.Context, req Request, cb TokenCallback) (*Response, error)
}

// SupportsStreaming reports whether the provider can stream tokens.
func SupportsStreaming(p Provider) bool {
	_, ok := p.(StreamingProvider)
	return ok
}
