// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/teradata-labs/orka/pkg/scoring"
	"github.com/teradata-labs/orka/pkg/types"
)

// defaultScoreStrategies looks for a plain "score" key when no extraction
// config is present.
var defaultScoreStrategies = []types.ScoreStrategy{
	{Type: "direct_key", Key: "score"},
	{Type: "pattern", Pattern: `(?i)score[:\s]+([0-9]*\.?[0-9]+)`},
}

// ExtractScore pulls a loop score out of a nested run's result. Strategies
// are tried in declared order; the first hit wins. When a scoring preset is
// configured and the result carries boolean evaluations, the scoring engine
// computes the score instead.
func ExtractScore(result any, prev map[string]*types.Output,
	cfg *types.ScoreExtractionConfig, presets *scoring.PresetTable) (float64, bool) {

	if cfg != nil && cfg.ScoringPreset != "" && presets != nil {
		if score, ok := presetScore(result, cfg.ScoringPreset, presets); ok {
			return score, true
		}
	}

	strategies := defaultScoreStrategies
	if cfg != nil && len(cfg.Strategies) > 0 {
		strategies = cfg.Strategies
	}

	for _, s := range strategies {
		switch s.Type {
		case "direct_key":
			if m, ok := result.(map[string]any); ok {
				if score, ok := asFloat(m[s.Key]); ok {
					return score, true
				}
			}
		case "agent_key":
			if out, ok := prev[s.Agent]; ok {
				if m, ok := out.Result.(map[string]any); ok {
					if score, ok := asFloat(m[s.Key]); ok {
						return score, true
					}
				}
			}
		case "nested_path":
			if score, ok := asFloat(lookupPath(result, s.Path)); ok {
				return score, true
			}
		case "pattern":
			if score, ok := patternScore(resultText(result), s.Pattern); ok {
				return score, true
			}
		}
	}
	return 0, false
}

func presetScore(result any, ref string, presets *scoring.PresetTable) (float64, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return 0, false
	}
	evalsRaw, ok := m["evaluations"]
	if !ok {
		return 0, false
	}
	evals := toBoolMap(evalsRaw)
	if evals == nil {
		return 0, false
	}
	preset, err := presets.Resolve(ref)
	if err != nil {
		return 0, false
	}
	res, err := scoring.Score(evals, preset)
	if err != nil {
		return 0, false
	}
	return res.Score, true
}

func toBoolMap(v any) map[string]map[string]bool {
	outer, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	evals := make(map[string]map[string]bool, len(outer))
	for dim, innerRaw := range outer {
		inner, ok := innerRaw.(map[string]any)
		if !ok {
			return nil
		}
		criteria := make(map[string]bool, len(inner))
		for crit, b := range inner {
			val, ok := b.(bool)
			if !ok {
				return nil
			}
			criteria[crit] = val
		}
		evals[dim] = criteria
	}
	return evals
}

func lookupPath(result any, path string) any {
	current := result
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

func patternScore(text, pattern string) (float64, bool) {
	if text == "" || pattern == "" {
		return 0, false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, false
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}
	return asFloat(m[1])
}

func resultText(result any) string {
	switch t := result.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["response"].(string); ok {
			return s
		}
		if s, ok := t["result"].(string); ok {
			return s
		}
	}
	return ""
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
