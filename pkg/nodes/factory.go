// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package nodes

import (
	"errors"
	"fmt"

	"github.com/teradata-labs/orka/pkg/types"
)

var (
	// ErrUnsupportedType is a fatal configuration error: the node type is
	// not in the registry.
	ErrUnsupportedType = errors.New("unsupported node type")
	// ErrMissingID is a fatal configuration error.
	ErrMissingID = errors.New("node config missing id")
)

// New instantiates a node from its declarative config. Child configs
// (failover children) are instantiated recursively.
func New(cfg types.NodeConfig, deps Deps) (types.Node, error) {
	if cfg.ID == "" {
		return nil, ErrMissingID
	}

	switch cfg.Type {
	case "echo":
		return NewEchoNode(cfg), nil
	case "uppercase":
		return NewUppercaseNode(cfg), nil
	case "failing":
		return NewFailingNode(cfg), nil
	case "llm", "agent":
		return NewLLMNode(cfg, deps)
	case "memory-reader":
		return NewMemoryReaderNode(cfg, deps)
	case "memory-writer":
		return NewMemoryWriterNode(cfg, deps)
	case "router":
		return NewRouterNode(cfg, deps), nil
	case "failover":
		children := make([]types.Node, 0, len(cfg.Children))
		for _, childCfg := range cfg.Children {
			child, err := New(childCfg, deps)
			if err != nil {
				return nil, fmt.Errorf("failover %q child: %w", cfg.ID, err)
			}
			children = append(children, child)
		}
		return NewFailoverNode(cfg, children, deps)
	case "fork":
		return NewForkNode(cfg, deps)
	case "join":
		return NewJoinNode(cfg, deps)
	case "loop":
		return NewLoopNode(cfg, deps)
	default:
		return nil, fmt.Errorf("%w: %q (node %q)", ErrUnsupportedType, cfg.Type, cfg.ID)
	}
}

// SupportedTypes lists the closed node type registry.
func SupportedTypes() []string {
	return []string{
		"echo", "uppercase", "failing", "llm", "agent",
		"memory-reader", "memory-writer",
		"router", "failover", "fork", "join", "loop",
	}
}
