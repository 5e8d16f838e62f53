// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package streaming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComposeSkipsEmptySections(t *testing.T) {
	c := NewComposer(0)
	prompt, spent := c.Compose([]Section{
		{Name: "Intent", Content: "write a haiku"},
		{Name: "Summary", Content: ""},
		{Name: "History", Content: "earlier message"},
	})

	assert.Contains(t, prompt, "## Intent\nwrite a haiku")
	assert.Contains(t, prompt, "## History\nearlier message")
	assert.NotContains(t, prompt, "## Summary")
	assert.Greater(t, spent, 0)
}

func TestComposePreservesSectionOrder(t *testing.T) {
	c := NewComposer(0)
	prompt, _ := c.Compose([]Section{
		{Name: "First", Content: "a"},
		{Name: "Second", Content: "b"},
	})
	assert.Less(t, strings.Index(prompt, "## First"), strings.Index(prompt, "## Second"))
}

func TestComposeTruncatesToSectionBudget(t *testing.T) {
	c := NewComposer(0)
	long := strings.Repeat("word ", 2000)
	prompt, _ := c.Compose([]Section{
		{Name: "History", Content: long, MaxTokens: 50},
	})
	assert.Less(t, len(prompt), len(long), "section content cut to its budget")
	assert.Contains(t, prompt, "## History")
}

func TestComposeStopsAtGlobalBudget(t *testing.T) {
	c := NewComposer(30)
	long := strings.Repeat("word ", 500)
	prompt, spent := c.Compose([]Section{
		{Name: "A", Content: long},
		{Name: "B", Content: long},
	})
	assert.Contains(t, prompt, "## A")
	assert.NotContains(t, prompt, "## B", "global budget spent before second section")
	assert.LessOrEqual(t, spent, 30)
}

func TestComposeAllEmpty(t *testing.T) {
	c := NewComposer(0)
	prompt, spent := c.Compose([]Section{
		{Name: "Intent", Content: ""},
		{Name: "Summary", Content: ""},
	})
	assert.Empty(t, prompt)
	assert.Zero(t, spent)
}

func TestTokenCounterFallback(t *testing.T) {
	tc := &TokenCounter{}
	assert.Equal(t, 5, tc.CountTokens(strings.Repeat("a", 20)))
	assert.Equal(t, strings.Repeat("a", 20), tc.Truncate(strings.Repeat("a", 20), 5))
	assert.Equal(t, strings.Repeat("a", 8), tc.Truncate(strings.Repeat("a", 20), 2))
	assert.Equal(t, "", tc.Truncate("anything", 0))
}
