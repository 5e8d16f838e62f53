// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strictPreset() *Preset {
	return &Preset{
		Context:  "graphscout",
		Severity: "strict",
		Weights: map[string]map[string]float64{
			"relevance": {"on_topic": 0.4, "cites_context": 0.2},
			"safety":    {"no_hallucination": 0.3, "no_toxicity": 0.1},
		},
		Thresholds: Thresholds{Approved: 0.8, NeedsImprovement: 0.5},
	}
}

func TestPresetValidate(t *testing.T) {
	require.NoError(t, strictPreset().Validate())

	bad := strictPreset()
	bad.Weights["safety"]["no_toxicity"] = 0.3
	assert.ErrorIs(t, bad.Validate(), ErrInvalidWeights)

	inverted := strictPreset()
	inverted.Thresholds = Thresholds{Approved: 0.4, NeedsImprovement: 0.5}
	assert.ErrorIs(t, inverted.Validate(), ErrInvalidWeights)
}

func TestScoreAllPass(t *testing.T) {
	res, err := Score(map[string]map[string]bool{
		"relevance": {"on_topic": true, "cites_context": true},
		"safety":    {"no_hallucination": true, "no_toxicity": true},
	}, strictPreset())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Score, 1e-9)
	assert.Equal(t, AssessmentApproved, res.Assessment)
	assert.Empty(t, res.FailingCriteria)
}

func TestScorePartial(t *testing.T) {
	res, err := Score(map[string]map[string]bool{
		"relevance": {"on_topic": true},
		"safety":    {"no_hallucination": true},
	}, strictPreset())
	require.NoError(t, err)
	assert.InDelta(t, 0.7, res.Score, 1e-9)
	assert.Equal(t, AssessmentNeedsImprovement, res.Assessment)
	assert.Equal(t, []string{"relevance.cites_context", "safety.no_toxicity"}, res.FailingCriteria)
}

func TestScoreMissingCriteriaCountAsFailed(t *testing.T) {
	res, err := Score(nil, strictPreset())
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.Score, 1e-9)
	assert.Equal(t, AssessmentRejected, res.Assessment)
	assert.Len(t, res.FailingCriteria, 4)
}

func TestScoreDeterministic(t *testing.T) {
	evals := map[string]map[string]bool{
		"relevance": {"on_topic": true, "cites_context": false},
		"safety":    {"no_hallucination": true, "no_toxicity": true},
	}
	first, err := Score(evals, strictPreset())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Score(evals, strictPreset())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPresetTableResolve(t *testing.T) {
	table, err := NewPresetTable([]*Preset{strictPreset()})
	require.NoError(t, err)

	p, err := table.Resolve("strict@graphscout")
	require.NoError(t, err)
	assert.Equal(t, "graphscout", p.Context)

	_, err = table.Resolve("lenient@graphscout")
	assert.ErrorIs(t, err, ErrUnknownPreset)
	_, err = table.Resolve("not-a-ref")
	assert.ErrorIs(t, err, ErrUnknownPreset)
}

func TestParsePresets(t *testing.T) {
	doc := []byte(`
presets:
  - context: review
    severity: moderate
    weights:
      quality:
        complete: 0.6
        concise: 0.4
    thresholds:
      approved: 0.9
      needs_improvement: 0.5
`)
	table, err := ParsePresets(doc)
	require.NoError(t, err)
	p, err := table.Lookup("moderate", "review")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, p.Weights["quality"]["complete"], 1e-9)

	_, err = ParsePresets([]byte("presets: [{context: x, severity: y, weights: {d: {c: 0.5}}, thresholds: {approved: 0.8, needs_improvement: 0.4}}]"))
	assert.ErrorIs(t, err, ErrInvalidWeights)
}
