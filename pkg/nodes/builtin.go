// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/teradata-labs/orka/pkg/types"
)

// EchoNode returns its rendered prompt, or the run input when no prompt is
// configured.
type EchoNode struct {
	Base
}

// NewEchoNode creates an echo agent.
func NewEchoNode(cfg types.NodeConfig) *EchoNode {
	return &EchoNode{Base: NewBase("echo", cfg)}
}

// Run returns the effective input unchanged.
func (n *EchoNode) Run(ctx context.Context, rc *types.RunContext) (*types.Output, error) {
	start := time.Now()
	result := rc.FormattedPrompt
	if result == "" {
		result = rc.InputString()
	}
	out := types.NewSuccessOutput(n.ID(), types.ComponentAgent, result)
	out.ExecutionTimeMS = time.Since(start).Milliseconds()
	return out, nil
}

// UppercaseNode transforms its effective input to upper case.
type UppercaseNode struct {
	Base
}

// NewUppercaseNode creates an uppercase transform agent.
func NewUppercaseNode(cfg types.NodeConfig) *UppercaseNode {
	return &UppercaseNode{Base: NewBase("uppercase", cfg)}
}

// Run uppercases the previous node's result when one exists, else the run
// input.
func (n *UppercaseNode) Run(ctx context.Context, rc *types.RunContext) (*types.Output, error) {
	start := time.Now()
	input := rc.FormattedPrompt
	if input == "" {
		input = latestResult(rc)
	}
	out := types.NewSuccessOutput(n.ID(), types.ComponentAgent, strings.ToUpper(input))
	out.ExecutionTimeMS = time.Since(start).Milliseconds()
	return out, nil
}

// latestResult returns the most recent previous output's string form, or
// the run input when nothing has executed yet.
func latestResult(rc *types.RunContext) string {
	var latest *types.Output
	for _, out := range rc.PreviousOutputs {
		if latest == nil || out.Timestamp.After(latest.Timestamp) {
			latest = out
		}
	}
	if latest != nil {
		return latest.ResultString()
	}
	return rc.InputString()
}

// ErrAlwaysFails is returned by every FailingNode run.
var ErrAlwaysFails = errors.New("node configured to fail")

// FailingNode always errors. Used to exercise failover paths and in tests.
type FailingNode struct {
	Base
}

// NewFailingNode creates a node that fails every run.
func NewFailingNode(cfg types.NodeConfig) *FailingNode {
	return &FailingNode{Base: NewBase("failing", cfg)}
}

// Run returns an error-status envelope.
func (n *FailingNode) Run(ctx context.Context, rc *types.RunContext) (*types.Output, error) {
	return types.NewErrorOutput(n.ID(), types.ComponentAgent, ErrAlwaysFails), nil
}
