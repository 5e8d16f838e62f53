// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains shared types used across the orka runtime.
// This package breaks import cycles by providing the node contract and
// run-state types that pkg/nodes, pkg/orchestration, and pkg/memory all
// depend on.
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a node execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPartial Status = "partial"
)

// ComponentType identifies the kind of executable unit that produced an output.
type ComponentType string

const (
	ComponentAgent ComponentType = "agent"
	ComponentNode  ComponentType = "node"
	ComponentTool  ComponentType = "tool"
)

// Output is the uniform envelope returned by every node.
//
// Invariant: Status == StatusSuccess implies Error is empty;
// Status == StatusError implies Error is non-empty.
type Output struct {
	// Result is the domain payload: a string, a structured object, or a list.
	Result any `json:"result"`

	// Status reports success, error, or partial completion.
	Status Status `json:"status"`

	// Error describes the failure when Status is not success.
	Error string `json:"error,omitempty"`

	// ComponentID is the node id that produced this output.
	ComponentID string `json:"component_id"`

	// ComponentType is the kind of component (agent, node, tool).
	ComponentType ComponentType `json:"component_type"`

	// Timestamp is when the output was produced.
	Timestamp time.Time `json:"timestamp"`

	// ExecutionTimeMS is the wall-clock duration of the invocation.
	ExecutionTimeMS int64 `json:"execution_time_ms,omitempty"`

	// Metadata carries extension data that does not belong in Result.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Metrics carries numeric measurements (token counts, scores).
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// NewSuccessOutput builds a success envelope for the given component.
func NewSuccessOutput(componentID string, componentType ComponentType, result any) *Output {
	return &Output{
		Result:        result,
		Status:        StatusSuccess,
		ComponentID:   componentID,
		ComponentType: componentType,
		Timestamp:     time.Now().UTC(),
	}
}

// NewErrorOutput builds an error envelope for the given component.
func NewErrorOutput(componentID string, componentType ComponentType, err error) *Output {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &Output{
		Status:        StatusError,
		Error:         msg,
		ComponentID:   componentID,
		ComponentType: componentType,
		Timestamp:     time.Now().UTC(),
	}
}

// ResultString returns the result rendered as a string. Structured results
// are JSON-encoded; nil results render empty.
func (o *Output) ResultString() string {
	if o == nil || o.Result == nil {
		return ""
	}
	if s, ok := o.Result.(string); ok {
		return s
	}
	data, err := json.Marshal(o.Result)
	if err != nil {
		return ""
	}
	return string(data)
}

// PastLoop summarizes one completed loop iteration.
type PastLoop struct {
	LoopNumber   int       `json:"loop_number"`
	Score        float64   `json:"score"`
	Timestamp    time.Time `json:"timestamp"`
	Insights     string    `json:"insights,omitempty"`
	Improvements string    `json:"improvements,omitempty"`
	Mistakes     string    `json:"mistakes,omitempty"`

	// Result is a safe-serialized snapshot of the iteration result.
	Result any `json:"result,omitempty"`

	// Metadata holds template-rendered extras from past_loops_metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RunContext is the per-execution state handed to each node.
// The orchestrator owns it for the duration of a run; nodes read it and
// the orchestrator merges node outputs back between invocations.
type RunContext struct {
	// Input is the original request, a string or structured value.
	Input any `json:"input"`

	// PreviousOutputs maps node id to that node's most recent output.
	PreviousOutputs map[string]*Output `json:"previous_outputs"`

	// TraceID uniquely identifies the run.
	TraceID string `json:"trace_id"`

	// Timestamp is the run-context creation time.
	Timestamp time.Time `json:"timestamp"`

	// LoopNumber is the 1-based iteration counter inside a Loop, 0 outside.
	LoopNumber int `json:"loop_number,omitempty"`

	// PastLoops holds prior loop iteration summaries, oldest first.
	PastLoops []PastLoop `json:"past_loops,omitempty"`

	// FormattedPrompt is the rendered prompt installed by the scheduler
	// before node invocation.
	FormattedPrompt string `json:"formatted_prompt,omitempty"`
}

// NewRunContext creates a run context for the given input, generating a
// trace id when none is supplied.
func NewRunContext(input any, traceID string) *RunContext {
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return &RunContext{
		Input:           input,
		PreviousOutputs: make(map[string]*Output),
		TraceID:         traceID,
		Timestamp:       time.Now().UTC(),
	}
}

// Merge records a node's output under its id. Later outputs for the same
// node replace earlier ones.
func (rc *RunContext) Merge(nodeID string, out *Output) {
	if rc.PreviousOutputs == nil {
		rc.PreviousOutputs = make(map[string]*Output)
	}
	rc.PreviousOutputs[nodeID] = out
}

// InputString returns the input rendered as a string.
func (rc *RunContext) InputString() string {
	if rc.Input == nil {
		return ""
	}
	if s, ok := rc.Input.(string); ok {
		return s
	}
	data, err := json.Marshal(rc.Input)
	if err != nil {
		return ""
	}
	return string(data)
}

// Clone returns a shallow copy with its own PreviousOutputs and PastLoops
// containers, for handing to concurrent branches.
func (rc *RunContext) Clone() *RunContext {
	cp := *rc
	cp.PreviousOutputs = make(map[string]*Output, len(rc.PreviousOutputs))
	for k, v := range rc.PreviousOutputs {
		cp.PreviousOutputs[k] = v
	}
	cp.PastLoops = append([]PastLoop(nil), rc.PastLoops...)
	return &cp
}

// LogEvent is one entry in the run log.
type LogEvent struct {
	Step      int       `json:"step"`
	AgentID   string    `json:"agent_id"`
	EventType string    `json:"event_type"`
	Payload   *Output   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
