// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/memory"
	"github.com/teradata-labs/orka/pkg/types"
)

// Envelope metadata keys used by the scheduler to drive fork-group
// execution.
const (
	// ForkGroupIDKey carries the group id created by a fork node.
	ForkGroupIDKey = "fork_group_id"
	// ForkTargetsKey carries the branch node-id sequences to schedule.
	ForkTargetsKey = "fork_targets"
	// ForkModeKey is "parallel" (default) or "sequential".
	ForkModeKey = "fork_mode"
)

// ForkNode opens a fork group: it registers the expected branch set in the
// store and hands the branch sequences to the scheduler. Each branch is a
// node-id sequence; the branch's terminal node reports completion.
type ForkNode struct {
	Base
	store  memory.Store
	logger *zap.Logger
}

// NewForkNode creates a fork bound to the shared store.
func NewForkNode(cfg types.NodeConfig, deps Deps) (*ForkNode, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("fork node %q: no store configured", cfg.ID)
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("fork node %q: no targets", cfg.ID)
	}
	return &ForkNode{
		Base:   NewBase("fork", cfg),
		store:  deps.Store,
		logger: deps.logger().With(zap.String("node_id", cfg.ID)),
	}, nil
}

// BranchTerminals returns the last node id of each configured branch.
func BranchTerminals(targets []types.StringList) []string {
	terminals := make([]string, 0, len(targets))
	for _, branch := range targets {
		if len(branch) > 0 {
			terminals = append(terminals, branch[len(branch)-1])
		}
	}
	return terminals
}

// Run creates the group record and returns the branch plan for the
// scheduler.
func (n *ForkNode) Run(ctx context.Context, rc *types.RunContext) (*types.Output, error) {
	start := time.Now()
	cfg := n.Config()
	groupID := fmt.Sprintf("%s_%s", n.ID(), uuid.NewString()[:8])

	expected := BranchTerminals(cfg.Targets)
	if err := n.store.GroupCreate(ctx, groupID, expected); err != nil {
		return types.NewErrorOutput(n.ID(), types.ComponentNode,
			fmt.Errorf("create fork group: %w", err)), nil
	}

	targets := make([][]string, len(cfg.Targets))
	for i, branch := range cfg.Targets {
		targets[i] = []string(branch)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = "parallel"
	}

	n.logger.Info("Fork group created",
		zap.String("group_id", groupID),
		zap.Int("branches", len(targets)),
		zap.String("mode", mode))

	out := types.NewSuccessOutput(n.ID(), types.ComponentNode,
		map[string]any{"fork_group": groupID, "branches": len(targets)})
	out.ExecutionTimeMS = time.Since(start).Milliseconds()
	out.Metadata = map[string]any{
		ForkGroupIDKey: groupID,
		ForkTargetsKey: targets,
		ForkModeKey:    mode,
	}
	return out, nil
}
