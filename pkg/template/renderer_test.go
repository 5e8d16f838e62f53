// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package template

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teradata-labs/orka/pkg/types"
)

func testRunContext() *types.RunContext {
	rc := types.NewRunContext("what is the capital of france", "trace-1")
	rc.PreviousOutputs["classify"] = types.NewSuccessOutput("classify", types.ComponentAgent, "geography")
	rc.PreviousOutputs["fetch"] = types.NewSuccessOutput("fetch", types.ComponentAgent,
		map[string]any{"response": "paris"})
	return rc
}

func TestRenderPlainText(t *testing.T) {
	r := NewRenderer(nil)
	assert.Equal(t, "no actions here", r.Render("no actions here", testRunContext(), nil))
	assert.Equal(t, "", r.Render("", testRunContext(), nil))
}

func TestRenderInputAndFunctions(t *testing.T) {
	r := NewRenderer(nil)
	rc := testRunContext()

	assert.Equal(t, "Q: what is the capital of france",
		r.Render("Q: {{ input }}", rc, nil))
	assert.Equal(t, "Q: what is the capital of france",
		r.Render("Q: {{ get_input() }}", rc, nil))
	assert.Equal(t, "topic=geography",
		r.Render(`topic={{ get_agent_response("classify") }}`, rc, nil))
}

func TestRenderDottedPaths(t *testing.T) {
	r := NewRenderer(nil)
	rc := testRunContext()

	assert.Equal(t, "geography",
		r.Render("{{ previous_outputs.classify.result }}", rc, nil))
	assert.Equal(t, "paris",
		r.Render("{{ previous_outputs.fetch.result.response }}", rc, nil))
}

func TestRenderFilters(t *testing.T) {
	r := NewRenderer(nil)
	rc := testRunContext()

	assert.Equal(t, "GEOGRAPHY",
		r.Render("{{ previous_outputs.classify.result | upper }}", rc, nil))
	assert.Equal(t, "fallback",
		r.Render(`{{ missing_key | default "fallback" }}`, rc, nil))
}

func TestRenderExtraOverrides(t *testing.T) {
	r := NewRenderer(nil)
	rc := testRunContext()

	out := r.Render("score is {{ score }}", rc, map[string]any{"score": 0.85})
	assert.Equal(t, "score is 0.85", out)
}

func TestRenderUndefinedVariableDoesNotFail(t *testing.T) {
	r := NewRenderer(nil)
	rc := testRunContext()

	// Missing keys render empty, the rest of the prompt survives.
	out := r.Render("before {{ nonexistent }} after", rc, nil)
	assert.Equal(t, "before  after", out)
}

func TestRenderMalformedTemplateDegrades(t *testing.T) {
	r := NewRenderer(nil)
	rc := testRunContext()

	// Unclosed action cannot parse; literal substitution still resolves
	// the well-formed placeholder.
	out := r.Render("{{ input }} and {{ broken", rc, nil)
	assert.Equal(t, "what is the capital of france and {{ broken", out)
}

func TestRenderRangeOverPastLoops(t *testing.T) {
	r := NewRenderer(nil)
	rc := testRunContext()
	rc.PastLoops = []types.PastLoop{
		{LoopNumber: 1, Insights: "try harder"},
		{LoopNumber: 2, Insights: "almost there"},
	}

	out := r.Render("{{ range past_loops }}[{{ .Insights }}]{{ end }}", rc, nil)
	assert.Equal(t, "[try harder][almost there]", out)
}
