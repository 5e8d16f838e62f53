// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"context"
	"strings"
	"sync"
)

// FakeProvider is a scripted provider for tests and dry runs. Responses are
// returned in order; when the script is exhausted the last response repeats.
// An empty script echoes the final user message.
type FakeProvider struct {
	mu        sync.Mutex
	responses []string
	calls     []Request
	err       error
}

// NewFakeProvider scripts the given responses.
func NewFakeProvider(responses ...string) *FakeProvider {
	return &FakeProvider{responses: responses}
}

// Fail makes every subsequent call return err.
func (f *FakeProvider) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns the requests seen so far.
func (f *FakeProvider) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// Name returns the provider name.
func (f *FakeProvider) Name() string { return "fake" }

// Model returns the model identifier.
func (f *FakeProvider) Model() string { return "fake-model" }

// Chat returns the next scripted response.
func (f *FakeProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}

	content := f.next(req)
	f.calls = append(f.calls, req)
	return &Response{
		Content:    content,
		StopReason: "end_turn",
		Usage: Usage{
			InputTokens:  estimateTokens(req),
			OutputTokens: len(content) / 4,
			TotalTokens:  estimateTokens(req) + len(content)/4,
		},
	}, nil
}

// ChatStream streams the scripted response in word-sized chunks.
func (f *FakeProvider) ChatStream(ctx context.Context, req Request, cb TokenCallback) (*Response, error) {
	resp, err := f.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if cb != nil {
		for _, word := range strings.SplitAfter(resp.Content, " ") {
			if word != "" {
				cb(word)
			}
		}
	}
	return resp, nil
}

func (f *FakeProvider) next(req Request) string {
	switch {
	case len(f.responses) == 0:
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == "user" {
				return req.Messages[i].Content
			}
		}
		return ""
	case len(f.calls) < len(f.responses):
		return f.responses[len(f.calls)]
	default:
		return f.responses[len(f.responses)-1]
	}
}

func estimateTokens(req Request) int {
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return total / 4
}
