// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package nodes implements the workflow node types: simple agents, the
// LLM-backed agent, memory reader/writer, and the router, failover, fork,
// join and loop control nodes.
package nodes

import (
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/llm"
	"github.com/teradata-labs/orka/pkg/memory"
	"github.com/teradata-labs/orka/pkg/scoring"
	"github.com/teradata-labs/orka/pkg/template"
	"github.com/teradata-labs/orka/pkg/types"
)

// Deps carries the shared resources nodes draw on. The scheduler fills it
// once at compile time.
type Deps struct {
	Store    memory.Store
	Provider llm.Provider
	Renderer *template.Renderer
	Runner   types.WorkflowRunner
	Presets  *scoring.PresetTable
	Logger   *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Base provides identity and idempotent initialization for all node types.
type Base struct {
	id       string
	nodeType string
	cfg      types.NodeConfig

	initOnce sync.Once
	initErr  error
}

// NewBase creates the embedded base from a node config.
func NewBase(nodeType string, cfg types.NodeConfig) Base {
	return Base{id: cfg.ID, nodeType: nodeType, cfg: cfg}
}

// ID returns the node identifier.
func (b *Base) ID() string { return b.id }

// Type returns the registered node type name.
func (b *Base) Type() string { return b.nodeType }

// Config returns the declarative configuration the node was built from.
func (b *Base) Config() types.NodeConfig { return b.cfg }

// Initialize runs fn at most once; later calls return the first result.
func (b *Base) Initialize(fn func() error) error {
	b.initOnce.Do(func() {
		if fn != nil {
			b.initErr = fn()
		}
	})
	return b.initErr
}
