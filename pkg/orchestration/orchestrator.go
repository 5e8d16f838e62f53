// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package orchestration compiles workflow configs into node graphs and
// drives their execution: the FIFO scheduler, fork-group fan-out, join
// back-off, and the error-wrapping layer around a whole run.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/orka/pkg/concurrency"
	"github.com/teradata-labs/orka/pkg/llm"
	"github.com/teradata-labs/orka/pkg/memory"
	"github.com/teradata-labs/orka/pkg/nodes"
	"github.com/teradata-labs/orka/pkg/scoring"
	"github.com/teradata-labs/orka/pkg/template"
	"github.com/teradata-labs/orka/pkg/types"
)

const (
	// defaultNodeTimeout bounds a node invocation with no explicit timeout.
	defaultNodeTimeout = 30 * time.Second
	// maxJoinRetries caps cooperative re-enqueues of a pending join.
	maxJoinRetries = 30
	// joinBackoff is the wait between join retries.
	joinBackoff = 20 * time.Millisecond
)

// Config carries the shared resources an orchestrator compiles against.
type Config struct {
	Store          memory.Store
	Provider       llm.Provider
	Presets        *scoring.PresetTable
	Logger         *zap.Logger
	MaxConcurrency int

	// ReportDir is where error reports and trace files are written.
	// Defaults to the OS temp directory.
	ReportDir string
}

// Orchestrator executes one compiled workflow. It is also the
// types.WorkflowRunner used by loop nodes for their internal workflows.
type Orchestrator struct {
	cfg       *types.WorkflowConfig
	agents    map[string]types.Node
	configs   map[string]types.NodeConfig
	renderer  *template.Renderer
	manager   *concurrency.Manager
	deps      nodes.Deps
	logger    *zap.Logger
	reportDir string
}

// New compiles the workflow config into an orchestrator. Compilation is
// where configuration errors surface: unsupported types, missing ids,
// unresolvable queue references.
func New(cfg *types.WorkflowConfig, c Config) (*Orchestrator, error) {
	if err := ValidateWorkflow(cfg); err != nil {
		return nil, err
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxConc := c.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 8
	}

	o := &Orchestrator{
		cfg:       cfg,
		agents:    make(map[string]types.Node, len(cfg.Agents)),
		configs:   make(map[string]types.NodeConfig, len(cfg.Agents)),
		renderer:  template.NewRenderer(logger),
		manager:   concurrency.NewManager(maxConc, logger),
		logger:    logger.With(zap.String("orchestrator_id", cfg.Orchestrator.ID)),
		reportDir: c.ReportDir,
	}
	o.deps = nodes.Deps{
		Store:    c.Store,
		Provider: c.Provider,
		Presets:  c.Presets,
		Renderer: o.renderer,
		Runner:   o,
		Logger:   logger,
	}

	for _, agentCfg := range cfg.Agents {
		node, err := nodes.New(agentCfg, o.deps)
		if err != nil {
			return nil, fmt.Errorf("compile agent %q: %w", agentCfg.ID, err)
		}
		o.agents[agentCfg.ID] = node
		o.configs[agentCfg.ID] = agentCfg
	}
	return o, nil
}

// Shutdown cancels in-flight node executions.
func (o *Orchestrator) Shutdown() {
	o.manager.Shutdown()
}

// rootQueue determines where execution starts: explicit start_node, else
// the orchestrator's first listed agent, else the first defined agent.
func (o *Orchestrator) rootQueue() []string {
	spec := o.cfg.Orchestrator
	if spec.StartNode != "" {
		return []string{spec.StartNode}
	}
	if len(spec.Agents) > 0 {
		return []string{spec.Agents[0]}
	}
	return []string{o.cfg.Agents[0].ID}
}

// RunWorkflow implements types.WorkflowRunner: it compiles and executes a
// nested workflow config against the given run context. Loop nodes use
// this for their internal workflows.
func (o *Orchestrator) RunWorkflow(ctx context.Context, cfg *types.WorkflowConfig, rc *types.RunContext) (*types.RunContext, []types.LogEvent, error) {
	nested, err := New(cfg, Config{
		Store:    o.deps.Store,
		Provider: o.deps.Provider,
		Presets:  o.deps.Presets,
		Logger:   o.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	logs, err := nested.Execute(ctx, rc)
	return rc, logs, err
}

// Execute runs the scheduler loop to completion and returns the ordered
// event log. Node failures become error envelopes inside the log; only
// scheduler-level failures return an error.
func (o *Orchestrator) Execute(ctx context.Context, rc *types.RunContext) ([]types.LogEvent, error) {
	var (
		logs        []types.LogEvent
		stepIndex   int
		queue       = append([]string(nil), o.rootQueue()...)
		joinRetries = make(map[string]int)
	)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return logs, fmt.Errorf("run cancelled at step %d: %w", stepIndex, err)
		}

		id := queue[0]
		queue = queue[1:]

		node, ok := o.agents[id]
		if !ok {
			return logs, fmt.Errorf("%w: queued id %q has no compiled agent", ErrInvalidWorkflow, id)
		}
		cfg := o.configs[id]

		out := o.runNode(ctx, node, cfg, rc)
		rc.Merge(id, out)

		stepIndex++
		logs = append(logs, types.LogEvent{
			Step:      stepIndex,
			AgentID:   id,
			EventType: eventType(out),
			Payload:   out,
			Timestamp: time.Now().UTC(),
		})

		// Dynamic successors first: pending joins, router targets, fork
		// branches. Static queue otherwise.
		switch {
		case out.Metadata != nil && out.Metadata[nodes.JoinPendingKey] == true:
			joinRetries[id]++
			if joinRetries[id] > maxJoinRetries {
				failed := types.NewErrorOutput(id, types.ComponentNode,
					fmt.Errorf("join %q gave up waiting for fork group", id))
				rc.Merge(id, failed)
				stepIndex++
				logs = append(logs, types.LogEvent{
					Step: stepIndex, AgentID: id, EventType: "error",
					Payload: failed, Timestamp: time.Now().UTC(),
				})
				continue
			}
			select {
			case <-ctx.Done():
				return logs, ctx.Err()
			case <-time.After(joinBackoff):
			}
			queue = append(queue, id)

		case out.Metadata != nil && out.Metadata[nodes.RouteTargetsKey] != nil:
			if targets, ok := out.Metadata[nodes.RouteTargetsKey].([]string); ok {
				queue = append(queue, targets...)
			}

		case out.Metadata != nil && out.Metadata[nodes.ForkGroupIDKey] != nil && out.Metadata[nodes.ForkTargetsKey] != nil:
			branchLogs, err := o.runForkGroup(ctx, out, rc, &stepIndex)
			if err != nil {
				return logs, err
			}
			logs = append(logs, branchLogs...)
			queue = append(queue, cfg.Queue...)

		default:
			queue = append(queue, cfg.Queue...)
		}
	}
	return logs, nil
}

// runNode renders the prompt, invokes the node under its timeout, and
// converts every failure into an error envelope.
func (o *Orchestrator) runNode(ctx context.Context, node types.Node, cfg types.NodeConfig, rc *types.RunContext) *types.Output {
	if cfg.Prompt != "" {
		rc.FormattedPrompt = o.renderer.Render(cfg.Prompt, rc, nil)
	} else {
		rc.FormattedPrompt = ""
	}

	timeout := defaultNodeTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout * float64(time.Second))
	}

	var out *types.Output
	err := o.manager.RunWithTimeout(ctx, timeout, func(taskCtx context.Context) error {
		var runErr error
		out, runErr = node.Run(taskCtx, rc)
		return runErr
	})
	if err != nil {
		o.logger.Warn("Node execution failed",
			zap.String("agent_id", cfg.ID), zap.Error(err))
		return types.NewErrorOutput(cfg.ID, types.ComponentNode, err)
	}
	if out == nil {
		return types.NewErrorOutput(cfg.ID, types.ComponentNode,
			fmt.Errorf("node returned no output"))
	}
	return out
}

// runForkGroup executes each branch sequence, in parallel unless the fork
// asked for sequential mode. Branches run on clones of the run context;
// their outputs merge back into the parent in declared branch order, and
// each branch's terminal node reports to the group record on completion.
func (o *Orchestrator) runForkGroup(ctx context.Context, forkOut *types.Output, rc *types.RunContext, stepIndex *int) ([]types.LogEvent, error) {
	groupID, _ := forkOut.Metadata[nodes.ForkGroupIDKey].(string)
	targets, _ := forkOut.Metadata[nodes.ForkTargetsKey].([][]string)
	mode, _ := forkOut.Metadata[nodes.ForkModeKey].(string)

	type branchResult struct {
		logs    []types.LogEvent
		outputs map[string]*types.Output
	}

	results := make([]branchResult, len(targets))
	var mu sync.Mutex

	runBranch := func(ctx context.Context, i int) error {
		branch := targets[i]
		branchRC := rc.Clone()

		var branchLogs []types.LogEvent
		outputs := make(map[string]*types.Output, len(branch))
		for _, nodeID := range branch {
			node, ok := o.agents[nodeID]
			if !ok {
				return fmt.Errorf("%w: fork branch references unknown agent %q", ErrInvalidWorkflow, nodeID)
			}
			out := o.runNode(ctx, node, o.configs[nodeID], branchRC)
			branchRC.Merge(nodeID, out)
			outputs[nodeID] = out
			branchLogs = append(branchLogs, types.LogEvent{
				AgentID:   nodeID,
				EventType: eventType(out),
				Payload:   out,
				Timestamp: time.Now().UTC(),
			})
		}

		if len(branch) > 0 {
			terminal := branch[len(branch)-1]
			if err := o.deps.Store.GroupMarkDone(ctx, groupID, terminal); err != nil {
				o.logger.Warn("Failed to mark branch done",
					zap.String("group_id", groupID),
					zap.String("branch_terminal", terminal),
					zap.Error(err))
			}
		}

		mu.Lock()
		results[i] = branchResult{logs: branchLogs, outputs: outputs}
		mu.Unlock()
		return nil
	}

	if mode == "sequential" {
		for i := range targets {
			if err := runBranch(ctx, i); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i := range targets {
			i := i
			g.Go(func() error { return runBranch(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	// Merge in declared branch order so logs and previous_outputs are
	// deterministic.
	var logs []types.LogEvent
	for _, res := range results {
		for _, ev := range res.logs {
			*stepIndex++
			ev.Step = *stepIndex
			logs = append(logs, ev)
			rc.Merge(ev.AgentID, res.outputs[ev.AgentID])
		}
	}
	return logs, nil
}

func eventType(out *types.Output) string {
	switch out.Status {
	case types.StatusError:
		return "error"
	case types.StatusPartial:
		return "partial"
	default:
		return "result"
	}
}

// NewRunID generates a run identifier.
func NewRunID() string {
	return uuid.NewString()
}
