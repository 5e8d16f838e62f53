// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StringList is a YAML field that accepts either a scalar or a sequence.
// `queue: b` and `queue: [b, c]` both parse.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		if single == "" {
			*s = nil
			return nil
		}
		*s = StringList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*s = many
		return nil
	default:
		return fmt.Errorf("expected scalar or sequence, got yaml kind %d", node.Kind)
	}
}

// WorkflowConfig is the top-level workflow document.
type WorkflowConfig struct {
	Orchestrator OrchestratorSpec `yaml:"orchestrator" json:"orchestrator"`
	Agents       []NodeConfig     `yaml:"agents" json:"agents"`
}

// OrchestratorSpec configures a workflow's scheduler.
type OrchestratorSpec struct {
	ID        string        `yaml:"id" json:"id"`
	Strategy  string        `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Agents    []string      `yaml:"agents" json:"agents"`
	StartNode string        `yaml:"start_node,omitempty" json:"start_node,omitempty"`
	Memory    *MemorySpec   `yaml:"memory,omitempty" json:"memory,omitempty"`
	Timeout   float64       `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Decay     *DecayConfig  `yaml:"decay,omitempty" json:"decay,omitempty"`
	Streaming *StreamingRef `yaml:"streaming,omitempty" json:"streaming,omitempty"`
}

// MemorySpec selects and configures the memory backend for a workflow.
type MemorySpec struct {
	// Backend is "redis" or "memory" (in-process). Defaults to "memory".
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`

	// Addr is the redis address when Backend is "redis".
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`

	Config *MemoryOptions `yaml:"config,omitempty" json:"config,omitempty"`
}

// StreamingRef marks a workflow as attached to a streaming session.
type StreamingRef struct {
	SessionID  string `yaml:"session_id" json:"session_id"`
	DebounceMS int64  `yaml:"debounce_ms,omitempty" json:"debounce_ms,omitempty"`
}

// DecayConfig controls memory expiry.
type DecayConfig struct {
	Enabled              bool     `yaml:"enabled" json:"enabled"`
	ShortTermHours       float64  `yaml:"short_term_hours,omitempty" json:"short_term_hours,omitempty"`
	LongTermHours        float64  `yaml:"long_term_hours,omitempty" json:"long_term_hours,omitempty"`
	CheckIntervalMinutes float64  `yaml:"check_interval_minutes,omitempty" json:"check_interval_minutes,omitempty"`
	LongTermEvents       []string `yaml:"long_term_events,omitempty" json:"long_term_events,omitempty"`
}

// Merged overlays a node-level decay config on top of a global one.
// Node-level fields win when set.
func (d *DecayConfig) Merged(global *DecayConfig) *DecayConfig {
	if d == nil {
		return global
	}
	if global == nil {
		return d
	}
	out := *d
	if out.ShortTermHours == 0 {
		out.ShortTermHours = global.ShortTermHours
	}
	if out.LongTermHours == 0 {
		out.LongTermHours = global.LongTermHours
	}
	if out.CheckIntervalMinutes == 0 {
		out.CheckIntervalMinutes = global.CheckIntervalMinutes
	}
	if len(out.LongTermEvents) == 0 {
		out.LongTermEvents = global.LongTermEvents
	}
	return &out
}

// MemoryOptions tunes memory search for reader nodes.
type MemoryOptions struct {
	Limit                int     `yaml:"limit,omitempty" json:"limit,omitempty"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold,omitempty" json:"similarity_threshold,omitempty"`
	EnableContextSearch  bool    `yaml:"enable_context_search,omitempty" json:"enable_context_search,omitempty"`
	EnableTemporalRank   bool    `yaml:"enable_temporal_ranking,omitempty" json:"enable_temporal_ranking,omitempty"`
	TemporalWeight       float64 `yaml:"temporal_weight,omitempty" json:"temporal_weight,omitempty"`
	MemoryCategoryFilter string  `yaml:"memory_category_filter,omitempty" json:"memory_category_filter,omitempty"`
	MemoryTypeFilter     string  `yaml:"memory_type_filter,omitempty" json:"memory_type_filter,omitempty"`
	EFRuntime            int     `yaml:"ef_runtime,omitempty" json:"ef_runtime,omitempty"`
}

// ConditionConfig is one router condition: render If against run state,
// compare with Equals (or truthiness when Equals is empty), and on match
// enqueue Then.
type ConditionConfig struct {
	If     string     `yaml:"if" json:"if"`
	Equals string     `yaml:"equals,omitempty" json:"equals,omitempty"`
	Then   StringList `yaml:"then" json:"then"`
}

// ScoreStrategy is one strategy for extracting a loop score from a nested
// run result. Strategies are tried in declared order.
type ScoreStrategy struct {
	// Type is one of: direct_key, agent_key, nested_path, pattern.
	Type string `yaml:"type" json:"type"`

	// Key is the result key for direct_key and agent_key strategies.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`

	// Agent scopes agent_key extraction to one node's output.
	Agent string `yaml:"agent,omitempty" json:"agent,omitempty"`

	// Path is a dot path for nested_path extraction.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Pattern is a regex with one capture group for pattern extraction.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// ScoreExtractionConfig configures loop score extraction.
type ScoreExtractionConfig struct {
	Strategies []ScoreStrategy `yaml:"strategies" json:"strategies"`

	// ScoringPreset enables boolean-scoring from structured evaluations,
	// e.g. "moderate@graphscout".
	ScoringPreset string `yaml:"scoring_preset,omitempty" json:"scoring_preset,omitempty"`
}

// CognitiveExtractionConfig configures insight extraction from loop results.
type CognitiveExtractionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ExtractPatterns maps category (insights, improvements, mistakes) to
	// regex patterns, each with one capture group.
	ExtractPatterns map[string][]string `yaml:"extract_patterns,omitempty" json:"extract_patterns,omitempty"`

	MaxLengthPerCategory int `yaml:"max_length_per_category,omitempty" json:"max_length_per_category,omitempty"`
}

// NodeConfig is the declarative specification of one node, compiled from
// YAML. Type-specific fields are only read by the matching node type.
type NodeConfig struct {
	ID      string     `yaml:"id" json:"id"`
	Type    string     `yaml:"type" json:"type"`
	Prompt  string     `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Queue   StringList `yaml:"queue,omitempty" json:"queue,omitempty"`
	Timeout float64    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`

	// Router
	Conditions []ConditionConfig `yaml:"conditions,omitempty" json:"conditions,omitempty"`

	// Fork
	Targets []StringList `yaml:"targets,omitempty" json:"targets,omitempty"`
	Mode    string       `yaml:"mode,omitempty" json:"mode,omitempty"`

	// Join
	ForkGroup string `yaml:"fork_group,omitempty" json:"fork_group,omitempty"`

	// Loop
	MaxLoops            int                        `yaml:"max_loops,omitempty" json:"max_loops,omitempty"`
	ScoreThreshold      float64                    `yaml:"score_threshold,omitempty" json:"score_threshold,omitempty"`
	ScoreExtraction     *ScoreExtractionConfig     `yaml:"score_extraction_config,omitempty" json:"score_extraction_config,omitempty"`
	InternalWorkflow    *WorkflowConfig            `yaml:"internal_workflow,omitempty" json:"internal_workflow,omitempty"`
	CognitiveExtraction *CognitiveExtractionConfig `yaml:"cognitive_extraction,omitempty" json:"cognitive_extraction,omitempty"`
	PastLoopsMetadata   map[string]string          `yaml:"past_loops_metadata,omitempty" json:"past_loops_metadata,omitempty"`
	PersistAcrossRuns   bool                       `yaml:"persist_across_runs,omitempty" json:"persist_across_runs,omitempty"`

	// Failover
	Children []NodeConfig `yaml:"children,omitempty" json:"children,omitempty"`

	// Memory reader/writer
	Namespace   string         `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Config      *MemoryOptions `yaml:"config,omitempty" json:"config,omitempty"`
	Decay       *DecayConfig   `yaml:"decay,omitempty" json:"decay,omitempty"`
	Vector      bool           `yaml:"vector,omitempty" json:"vector,omitempty"`
	KeyTemplate string         `yaml:"key_template,omitempty" json:"key_template,omitempty"`

	// Metadata is attached to memory writes and trace events.
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// LLM agents
	Model       string  `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Stream      bool    `yaml:"stream,omitempty" json:"stream,omitempty"`
}
