// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/memory"
	"github.com/teradata-labs/orka/pkg/types"
)

// JoinPendingKey marks a join envelope as not ready; the scheduler
// re-enqueues the join at the tail of the queue.
const JoinPendingKey = "join_pending"

// JoinNode is the barrier closing a fork group. In "all" mode (default) it
// completes when every expected branch has reported; in "any" mode on the
// first completion. While waiting it returns a pending envelope and is
// re-enqueued by the scheduler.
type JoinNode struct {
	Base
	store  memory.Store
	logger *zap.Logger
}

// NewJoinNode creates a join bound to the shared store.
func NewJoinNode(cfg types.NodeConfig, deps Deps) (*JoinNode, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("join node %q: no store configured", cfg.ID)
	}
	return &JoinNode{
		Base:   NewBase("join", cfg),
		store:  deps.Store,
		logger: deps.logger().With(zap.String("node_id", cfg.ID)),
	}, nil
}

// Run checks the group state and either merges branch outputs or reports
// pending.
func (n *JoinNode) Run(ctx context.Context, rc *types.RunContext) (*types.Output, error) {
	start := time.Now()
	groupID := n.resolveGroup(rc)
	if groupID == "" {
		return types.NewErrorOutput(n.ID(), types.ComponentNode,
			fmt.Errorf("join has no fork group: none configured and no fork output found")), nil
	}

	expected, err := n.store.GroupExpected(ctx, groupID)
	if err != nil {
		return types.NewErrorOutput(n.ID(), types.ComponentNode,
			fmt.Errorf("read fork group %q: %w", groupID, err)), nil
	}
	if expected == nil {
		return types.NewErrorOutput(n.ID(), types.ComponentNode,
			fmt.Errorf("fork group %q does not exist", groupID)), nil
	}

	done, err := n.store.GroupDone(ctx, groupID)
	if err != nil {
		return types.NewErrorOutput(n.ID(), types.ComponentNode,
			fmt.Errorf("read fork group %q completions: %w", groupID, err)), nil
	}

	mode := n.Config().Mode
	if mode == "" {
		mode = "all"
	}
	ready := false
	switch mode {
	case "any":
		ready = len(done) > 0 || len(expected) == 0
	default:
		ready = len(done) >= len(expected)
	}
	if !ready {
		n.logger.Debug("Join pending",
			zap.String("group_id", groupID),
			zap.Int("done", len(done)),
			zap.Int("expected", len(expected)))
		out := types.NewSuccessOutput(n.ID(), types.ComponentNode,
			map[string]any{"pending": true, "done": len(done), "expected": len(expected)})
		out.ExecutionTimeMS = time.Since(start).Milliseconds()
		out.Status = types.StatusPartial
		out.Metadata = map[string]any{JoinPendingKey: true, ForkGroupIDKey: groupID}
		return out, nil
	}

	// Merge branch outputs keyed by branch id, iterated in sorted order so
	// the merged mapping is deterministic.
	merged := make(map[string]any, len(expected))
	keys := append([]string(nil), expected...)
	if mode == "any" {
		keys = done
	}
	sort.Strings(keys)
	for _, branchID := range keys {
		if out, ok := rc.PreviousOutputs[branchID]; ok {
			merged[branchID] = out.Result
		}
	}

	if err := n.store.GroupDelete(ctx, groupID); err != nil {
		n.logger.Warn("Failed to delete fork group record",
			zap.String("group_id", groupID), zap.Error(err))
	}

	n.logger.Info("Join completed",
		zap.String("group_id", groupID),
		zap.String("mode", mode),
		zap.Int("branches", len(merged)))

	out := types.NewSuccessOutput(n.ID(), types.ComponentNode, merged)
	out.ExecutionTimeMS = time.Since(start).Milliseconds()
	out.Metadata = map[string]any{ForkGroupIDKey: groupID, "mode": mode}
	return out, nil
}

// resolveGroup finds the group id: explicit config first, else the most
// recent fork output in run state.
func (n *JoinNode) resolveGroup(rc *types.RunContext) string {
	if gid := n.Config().ForkGroup; gid != "" {
		return gid
	}
	var latest time.Time
	var found string
	for _, out := range rc.PreviousOutputs {
		if out.Metadata == nil {
			continue
		}
		gid, ok := out.Metadata[ForkGroupIDKey].(string)
		if !ok {
			continue
		}
		if _, isJoin := out.Metadata[JoinPendingKey]; isJoin {
			continue
		}
		if found == "" || out.Timestamp.After(latest) {
			found, latest = gid, out.Timestamp
		}
	}
	return found
}
