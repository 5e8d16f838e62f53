// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/template"
	"github.com/teradata-labs/orka/pkg/types"
)

// RouteTargetsKey is the envelope metadata key carrying the router's chosen
// successor ids. The scheduler enqueues them in place of the static queue.
const RouteTargetsKey = "route_targets"

// ConditionEvaluator decides whether one router condition matches the
// current run state. The default evaluator renders the condition's If
// template and compares with Equals (truthiness when Equals is empty).
type ConditionEvaluator func(cond types.ConditionConfig, rc *types.RunContext) bool

// RouterNode evaluates its conditions in order and selects the first
// matching branch's successors.
type RouterNode struct {
	Base
	evaluate ConditionEvaluator
	logger   *zap.Logger
}

// NewRouterNode creates a router with the default template-equals
// evaluator.
func NewRouterNode(cfg types.NodeConfig, deps Deps) *RouterNode {
	renderer := deps.Renderer
	if renderer == nil {
		renderer = template.NewRenderer(deps.logger())
	}
	return &RouterNode{
		Base:     NewBase("router", cfg),
		evaluate: TemplateEquals(renderer),
		logger:   deps.logger().With(zap.String("node_id", cfg.ID)),
	}
}

// SetEvaluator replaces the condition evaluator. Must be called before the
// first Run.
func (n *RouterNode) SetEvaluator(eval ConditionEvaluator) {
	if eval != nil {
		n.evaluate = eval
	}
}

// TemplateEquals builds the default evaluator: render If against run state,
// match when the result equals Equals, or is truthy when Equals is empty.
func TemplateEquals(renderer *template.Renderer) ConditionEvaluator {
	return func(cond types.ConditionConfig, rc *types.RunContext) bool {
		rendered := strings.TrimSpace(renderer.Render(cond.If, rc, nil))
		if cond.Equals != "" {
			return strings.EqualFold(rendered, strings.TrimSpace(cond.Equals))
		}
		lower := strings.ToLower(rendered)
		return rendered != "" && lower != "false" && lower != "0" && lower != "none"
	}
}

// Run selects the first matching condition's targets. No match yields a
// success envelope with no targets; the run simply continues with the
// static queue.
func (n *RouterNode) Run(ctx context.Context, rc *types.RunContext) (*types.Output, error) {
	start := time.Now()
	for _, cond := range n.Config().Conditions {
		if !n.evaluate(cond, rc) {
			continue
		}
		targets := []string(cond.Then)
		n.logger.Debug("Router condition matched",
			zap.String("condition", cond.If),
			zap.Strings("targets", targets))

		out := types.NewSuccessOutput(n.ID(), types.ComponentNode,
			map[string]any{"matched": cond.If, "targets": targets})
		out.ExecutionTimeMS = time.Since(start).Milliseconds()
		out.Metadata = map[string]any{RouteTargetsKey: targets}
		return out, nil
	}

	n.logger.Debug("No router condition matched")
	out := types.NewSuccessOutput(n.ID(), types.ComponentNode,
		map[string]any{"matched": nil, "targets": []string{}})
	out.ExecutionTimeMS = time.Since(start).Milliseconds()
	out.Metadata = map[string]any{RouteTargetsKey: []string{}}
	return out, nil
}
