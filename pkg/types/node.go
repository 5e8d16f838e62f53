// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import "context"

// Node is the uniform contract every executable unit implements: LLM
// agents, tools, and control-flow nodes alike.
//
// Run receives the current run context and returns an output envelope.
// Implementations catch their own errors and return error-status envelopes;
// a non-nil error from Run is reserved for failures the scheduler must see
// (context cancellation, configuration corruption).
type Node interface {
	// ID returns the node's unique id within the workflow.
	ID() string

	// Type returns the registered type name (e.g. "router", "fork").
	Type() string

	// Run executes the node against the run context.
	Run(ctx context.Context, rc *RunContext) (*Output, error)
}

// Initializer is implemented by nodes that acquire resources lazily.
// Initialize must be idempotent; nodes self-initialize on first Run.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Cleaner is implemented by nodes that hold releasable resources.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// WorkflowRunner executes a nested workflow. The loop node depends on this
// interface rather than on pkg/orchestration directly, which keeps the
// node package free of a cycle with the scheduler.
type WorkflowRunner interface {
	// RunWorkflow executes the workflow against input and returns the final
	// run context together with the ordered event log.
	RunWorkflow(ctx context.Context, cfg *WorkflowConfig, rc *RunContext) (*RunContext, []LogEvent, error)
}
