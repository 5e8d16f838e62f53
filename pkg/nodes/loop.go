// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/memory"
	"github.com/teradata-labs/orka/pkg/scoring"
	"github.com/teradata-labs/orka/pkg/template"
	"github.com/teradata-labs/orka/pkg/types"
)

const (
	// defaultMaxLoops bounds a loop with no explicit max_loops.
	defaultMaxLoops = 5
	// maxPersistedPastLoops is the tail kept under past_loops:<node_id>.
	maxPersistedPastLoops = 20
)

// LoopNode executes an embedded workflow repeatedly until the extracted
// score reaches the threshold or max_loops is exhausted. Each iteration is
// summarized into a PastLoop visible to the next iteration's prompts.
type LoopNode struct {
	Base
	runner   types.WorkflowRunner
	store    memory.Store
	renderer *template.Renderer
	presets  *scoring.PresetTable
	logger   *zap.Logger
}

// NewLoopNode creates a loop around its internal workflow.
func NewLoopNode(cfg types.NodeConfig, deps Deps) (*LoopNode, error) {
	if cfg.InternalWorkflow == nil {
		return nil, fmt.Errorf("loop node %q: no internal workflow", cfg.ID)
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("loop node %q: no workflow runner", cfg.ID)
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = template.NewRenderer(deps.logger())
	}
	return &LoopNode{
		Base:     NewBase("loop", cfg),
		runner:   deps.Runner,
		store:    deps.Store,
		renderer: renderer,
		presets:  deps.Presets,
		logger:   deps.logger().With(zap.String("node_id", cfg.ID)),
	}, nil
}

// Run iterates the internal workflow.
func (n *LoopNode) Run(ctx context.Context, rc *types.RunContext) (*types.Output, error) {
	start := time.Now()
	cfg := n.Config()

	maxLoops := cfg.MaxLoops
	if maxLoops <= 0 {
		maxLoops = defaultMaxLoops
	}

	pastLoops := n.loadPastLoops(ctx)
	baseLoop := 0
	for _, pl := range pastLoops {
		if pl.LoopNumber > baseLoop {
			baseLoop = pl.LoopNumber
		}
	}

	var (
		finalScore   float64
		finalResult  any
		thresholdMet bool
		loopsRun     int
	)

	for i := 1; i <= maxLoops; i++ {
		if err := ctx.Err(); err != nil {
			return types.NewErrorOutput(n.ID(), types.ComponentNode,
				fmt.Errorf("loop cancelled at iteration %d: %w", i, err)), nil
		}

		nested := types.NewRunContext(rc.Input, rc.TraceID)
		nested.LoopNumber = baseLoop + i
		nested.PastLoops = append([]types.PastLoop(nil), pastLoops...)

		result, err := n.runIteration(ctx, nested)
		if err != nil {
			return types.NewErrorOutput(n.ID(), types.ComponentNode,
				fmt.Errorf("loop iteration %d failed: %w", i, err)), nil
		}
		loopsRun = i
		finalResult = result

		score, found := ExtractScore(result, nested.PreviousOutputs, cfg.ScoreExtraction, n.presets)
		if !found {
			n.logger.Debug("No score extracted from iteration",
				zap.Int("iteration", i))
		}
		finalScore = score

		pl := n.buildPastLoop(nested, result, score)
		pastLoops = append(pastLoops, pl)

		if n.store != nil {
			key := fmt.Sprintf("loop_result:%s:%d", n.ID(), pl.LoopNumber)
			if err := n.store.PutJSON(ctx, key, pl); err != nil {
				n.logger.Warn("Failed to persist loop result", zap.Error(err))
			}
		}

		if cfg.ScoreThreshold > 0 && score >= cfg.ScoreThreshold {
			thresholdMet = true
			n.logger.Info("Loop threshold met",
				zap.Int("iteration", i),
				zap.Float64("score", score),
				zap.Float64("threshold", cfg.ScoreThreshold))
			break
		}
	}

	n.persistPastLoops(ctx, pastLoops, finalResult)

	// Propagate the accumulated history to the parent run.
	rc.PastLoops = pastLoops

	out := types.NewSuccessOutput(n.ID(), types.ComponentNode, map[string]any{
		"loops_completed": loopsRun,
		"threshold_met":   thresholdMet,
		"final_score":     finalScore,
		"result":          finalResult,
		"past_loops":      pastLoops,
	})
	out.ExecutionTimeMS = time.Since(start).Milliseconds()
	out.Metrics = map[string]float64{
		"loops_completed": float64(loopsRun),
		"final_score":     finalScore,
	}
	return out, nil
}

// runIteration executes the internal workflow once and returns the terminal
// node's result.
func (n *LoopNode) runIteration(ctx context.Context, nested *types.RunContext) (any, error) {
	finalRC, logs, err := n.runner.RunWorkflow(ctx, n.Config().InternalWorkflow, nested)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("internal workflow produced no events")
	}
	last := logs[len(logs)-1]
	if last.Payload == nil {
		return nil, fmt.Errorf("internal workflow terminal event has no payload")
	}
	// Keep the nested previous_outputs reachable for agent_key extraction.
	nested.PreviousOutputs = finalRC.PreviousOutputs
	return last.Payload.Result, nil
}

func (n *LoopNode) buildPastLoop(nested *types.RunContext, result any, score float64) types.PastLoop {
	cfg := n.Config()
	cognitive := ExtractCognitive(safeResultText(result), cfg.CognitiveExtraction)

	pl := types.PastLoop{
		LoopNumber:   nested.LoopNumber,
		Score:        score,
		Timestamp:    time.Now().UTC(),
		Insights:     cognitive["insights"],
		Improvements: cognitive["improvements"],
		Mistakes:     cognitive["mistakes"],
		Result:       safeResultText(result),
	}

	if len(cfg.PastLoopsMetadata) > 0 {
		extra := map[string]any{
			"score":        score,
			"loop_number":  nested.LoopNumber,
			"insights":     pl.Insights,
			"improvements": pl.Improvements,
			"mistakes":     pl.Mistakes,
		}
		pl.Metadata = make(map[string]string, len(cfg.PastLoopsMetadata))
		for key, tmpl := range cfg.PastLoopsMetadata {
			pl.Metadata[key] = n.renderer.Render(tmpl, nested, extra)
		}
	}
	return pl
}

func (n *LoopNode) loadPastLoops(ctx context.Context) []types.PastLoop {
	if !n.Config().PersistAcrossRuns || n.store == nil {
		return nil
	}
	var loops []types.PastLoop
	found, err := n.store.GetJSON(ctx, memory.PastLoopsKeyPrefix+n.ID(), &loops)
	if err != nil {
		n.logger.Warn("Failed to load persisted past loops", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	return loops
}

func (n *LoopNode) persistPastLoops(ctx context.Context, loops []types.PastLoop, finalResult any) {
	if !n.Config().PersistAcrossRuns || n.store == nil {
		return
	}
	if len(loops) > maxPersistedPastLoops {
		loops = loops[len(loops)-maxPersistedPastLoops:]
	}
	if err := n.store.PutJSON(ctx, memory.PastLoopsKeyPrefix+n.ID(), loops); err != nil {
		n.logger.Warn("Failed to persist past loops", zap.Error(err))
	}
	if err := n.store.PutJSON(ctx, "final_result:"+n.ID(), finalResult); err != nil {
		n.logger.Warn("Failed to persist final result", zap.Error(err))
	}
}

// safeResultText renders a result for storage in a PastLoop: strings pass
// through, everything else uses the envelope string form, truncated.
func safeResultText(result any) string {
	s := (&types.Output{Result: result}).ResultString()
	if len(s) > 2000 {
		s = s[:2000]
	}
	return s
}
