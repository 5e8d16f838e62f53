// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package streaming

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Default composer budgets, in tokens.
const (
	DefaultGlobalBudget  = 8000
	DefaultSectionBudget = 2000
)

// TokenCounter counts tokens with tiktoken's cl100k_base encoding, falling
// back to a chars/4 estimate when the encoding is unavailable.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalCounter *TokenCounter
	counterOnce   sync.Once
)

// GetTokenCounter returns the process-wide counter.
func GetTokenCounter() *TokenCounter {
	counterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			globalCounter = &TokenCounter{}
			return
		}
		globalCounter = &TokenCounter{encoder: enc}
	})
	return globalCounter
}

// CountTokens returns the token count for text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoder == nil {
		return len(text) / 4
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// Truncate cuts text down to at most maxTokens tokens.
func (tc *TokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if tc.encoder == nil {
		limit := maxTokens * 4
		if len(text) <= limit {
			return text
		}
		return text[:limit]
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tokens := tc.encoder.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return tc.encoder.Decode(tokens[:maxTokens])
}

// Section is one named block of the composed prompt with its own budget.
type Section struct {
	Name      string
	Content   string
	MaxTokens int
}

// Composer assembles a prompt from sections within a global token budget.
// Sections are emitted in declared order; each is truncated to its own
// budget, and composition stops once the global budget is spent.
type Composer struct {
	counter      *TokenCounter
	globalBudget int
}

// NewComposer creates a composer with the given global budget; zero or
// negative uses the default.
func NewComposer(globalBudget int) *Composer {
	if globalBudget <= 0 {
		globalBudget = DefaultGlobalBudget
	}
	return &Composer{
		counter:      GetTokenCounter(),
		globalBudget: globalBudget,
	}
}

// Compose renders the sections into a single prompt. Empty sections are
// skipped. Returns the prompt and the number of tokens it spent.
func (c *Composer) Compose(sections []Section) (string, int) {
	var sb strings.Builder
	remaining := c.globalBudget

	for _, sec := range sections {
		if sec.Content == "" || remaining <= 0 {
			continue
		}
		budget := sec.MaxTokens
		if budget <= 0 {
			budget = DefaultSectionBudget
		}
		if budget > remaining {
			budget = remaining
		}

		header := "## " + sec.Name + "\n"
		headerTokens := c.counter.CountTokens(header)
		if headerTokens >= budget {
			continue
		}
		body := c.counter.Truncate(sec.Content, budget-headerTokens)
		if body == "" {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(header)
		sb.WriteString(body)
		sb.WriteString("\n")
		remaining -= headerTokens + c.counter.CountTokens(body)
	}
	return sb.String(), c.globalBudget - remaining
}
