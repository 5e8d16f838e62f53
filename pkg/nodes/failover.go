// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/types"
)

// FailoverNode tries its children in declared order and returns the first
// usable result. A child fails by returning an error, an error-status
// envelope, or a result that only describes a failure (see IsValidResult).
type FailoverNode struct {
	Base
	children []types.Node
	logger   *zap.Logger
}

// NewFailoverNode creates a failover wrapper around instantiated children.
func NewFailoverNode(cfg types.NodeConfig, children []types.Node, deps Deps) (*FailoverNode, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("failover node %q: no children", cfg.ID)
	}
	return &FailoverNode{
		Base:     NewBase("failover", cfg),
		children: children,
		logger:   deps.logger().With(zap.String("node_id", cfg.ID)),
	}, nil
}

// Children returns the wrapped child nodes.
func (n *FailoverNode) Children() []types.Node { return n.children }

// Run attempts children in order; first valid result wins. All failures
// produce a single aggregated error envelope.
func (n *FailoverNode) Run(ctx context.Context, rc *types.RunContext) (*types.Output, error) {
	start := time.Now()
	var failures []string

	for _, child := range n.children {
		if err := ctx.Err(); err != nil {
			return types.NewErrorOutput(n.ID(), types.ComponentNode,
				fmt.Errorf("failover cancelled: %w", err)), nil
		}

		out, err := child.Run(ctx, rc)
		if err != nil {
			n.logger.Warn("Failover child errored",
				zap.String("child_id", child.ID()), zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", child.ID(), err))
			continue
		}
		if !IsValidResult(out) {
			reason := "invalid result"
			if out != nil && out.Error != "" {
				reason = out.Error
			}
			n.logger.Debug("Failover child result rejected",
				zap.String("child_id", child.ID()), zap.String("reason", reason))
			failures = append(failures, fmt.Sprintf("%s: %s", child.ID(), reason))
			continue
		}

		result := types.NewSuccessOutput(n.ID(), types.ComponentNode, out.Result)
		result.ExecutionTimeMS = time.Since(start).Milliseconds()
		result.Metadata = map[string]any{"successful_child": child.ID()}
		return result, nil
	}

	return types.NewErrorOutput(n.ID(), types.ComponentNode,
		fmt.Errorf("all %d failover children failed: %s",
			len(n.children), strings.Join(failures, "; "))), nil
}
