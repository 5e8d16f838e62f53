// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package scoring turns boolean criterion evaluations into weighted scores.
// Weight tables are presets keyed by (context, severity); the engine is
// deterministic and always produces a score in [0,1].
package scoring

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Assessment buckets for a computed score.
const (
	AssessmentApproved         = "APPROVED"
	AssessmentNeedsImprovement = "NEEDS_IMPROVEMENT"
	AssessmentRejected         = "REJECTED"
)

var (
	ErrUnknownPreset  = errors.New("unknown scoring preset")
	ErrInvalidWeights = errors.New("invalid preset weights")
)

// weightSumTolerance is the allowed deviation from 1.0 for a preset's
// total weight.
const weightSumTolerance = 0.01

// Thresholds maps a score to an assessment. Approved must be strictly
// greater than NeedsImprovement.
type Thresholds struct {
	Approved         float64 `yaml:"approved" json:"approved"`
	NeedsImprovement float64 `yaml:"needs_improvement" json:"needs_improvement"`
}

// Preset is one (context, severity) weight table: weights organized per
// dimension, plus assessment thresholds.
type Preset struct {
	Context    string                        `yaml:"context" json:"context"`
	Severity   string                        `yaml:"severity" json:"severity"`
	Weights    map[string]map[string]float64 `yaml:"weights" json:"weights"`
	Thresholds Thresholds                    `yaml:"thresholds" json:"thresholds"`
}

// Validate checks that weights sum to 1.0 within tolerance and thresholds
// are ordered.
func (p *Preset) Validate() error {
	var sum float64
	for _, criteria := range p.Weights {
		for _, w := range criteria {
			sum += w
		}
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: %s@%s weights sum to %.4f", ErrInvalidWeights, p.Severity, p.Context, sum)
	}
	if p.Thresholds.Approved <= p.Thresholds.NeedsImprovement {
		return fmt.Errorf("%w: %s@%s approved threshold %.2f must exceed needs_improvement %.2f",
			ErrInvalidWeights, p.Severity, p.Context, p.Thresholds.Approved, p.Thresholds.NeedsImprovement)
	}
	return nil
}

// FlattenWeights returns the dimension.criterion → weight mapping.
func (p *Preset) FlattenWeights() map[string]float64 {
	flat := make(map[string]float64)
	for dim, criteria := range p.Weights {
		for crit, w := range criteria {
			flat[dim+"."+crit] = w
		}
	}
	return flat
}

// Result is a computed score with its assessment and the criteria that
// did not hold.
type Result struct {
	Score           float64  `json:"score"`
	Assessment      string   `json:"assessment"`
	FailingCriteria []string `json:"failing_criteria,omitempty"`
}

// Score evaluates the boolean criterion map against the preset. A weighted
// criterion missing from evals counts as failed.
func Score(evals map[string]map[string]bool, preset *Preset) (*Result, error) {
	if err := preset.Validate(); err != nil {
		return nil, err
	}

	var score float64
	var failing []string
	for key, weight := range preset.FlattenWeights() {
		dim, crit, _ := strings.Cut(key, ".")
		if evals[dim][crit] {
			score += weight
		} else {
			failing = append(failing, key)
		}
	}
	score = math.Min(1, math.Max(0, score))
	sort.Strings(failing)

	assessment := AssessmentRejected
	switch {
	case score >= preset.Thresholds.Approved:
		assessment = AssessmentApproved
	case score >= preset.Thresholds.NeedsImprovement:
		assessment = AssessmentNeedsImprovement
	}

	return &Result{Score: score, Assessment: assessment, FailingCriteria: failing}, nil
}

// PresetTable holds presets loaded from configuration, keyed
// "severity@context" (e.g. "strict@graphscout").
type PresetTable struct {
	presets map[string]*Preset
}

// NewPresetTable validates and indexes the given presets.
func NewPresetTable(presets []*Preset) (*PresetTable, error) {
	table := &PresetTable{presets: make(map[string]*Preset, len(presets))}
	for _, p := range presets {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		table.presets[presetKey(p.Severity, p.Context)] = p
	}
	return table, nil
}

// Lookup resolves a preset by severity and context.
func (t *PresetTable) Lookup(severity, context string) (*Preset, error) {
	p, ok := t.presets[presetKey(severity, context)]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrUnknownPreset, severity, context)
	}
	return p, nil
}

// Resolve parses a "severity@context" reference (e.g. "moderate@graphscout").
func (t *PresetTable) Resolve(ref string) (*Preset, error) {
	severity, context, ok := strings.Cut(ref, "@")
	if !ok {
		return nil, fmt.Errorf("%w: malformed reference %q", ErrUnknownPreset, ref)
	}
	return t.Lookup(severity, context)
}

func presetKey(severity, context string) string {
	return severity + "@" + context
}

type presetFile struct {
	Presets []*Preset `yaml:"presets"`
}

// LoadPresetFile reads a YAML preset table from disk.
func LoadPresetFile(path string) (*PresetTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preset file: %w", err)
	}
	return ParsePresets(data)
}

// ParsePresets decodes a YAML preset document.
func ParsePresets(data []byte) (*PresetTable, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	return NewPresetTable(file.Presets)
}
