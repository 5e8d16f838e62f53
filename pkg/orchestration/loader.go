// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/orka/pkg/nodes"
	"github.com/teradata-labs/orka/pkg/types"
)

// Custom errors for workflow config loading
var (
	ErrFileNotFound       = fmt.Errorf("workflow file not found")
	ErrInvalidPermissions = fmt.Errorf("insufficient permissions to read workflow file")
	ErrInvalidYAML        = fmt.Errorf("invalid YAML syntax in workflow file")
	ErrInvalidWorkflow    = fmt.Errorf("invalid workflow structure")
)

// LoadWorkflowFromYAML loads and validates a workflow definition from a
// YAML file.
//
// Errors:
//   - ErrFileNotFound: the path does not exist
//   - ErrInvalidPermissions: the file cannot be read
//   - ErrInvalidYAML: the YAML syntax is invalid
//   - ErrInvalidWorkflow: the workflow structure is invalid
//   - nodes.ErrUnsupportedType: an agent declares an unknown type
func LoadWorkflowFromYAML(path string) (*types.WorkflowConfig, error) {
	data, err := readWorkflowFile(path)
	if err != nil {
		return nil, err
	}
	return ParseWorkflow(data)
}

// ParseWorkflow decodes and validates a workflow YAML document.
func ParseWorkflow(data []byte) (*types.WorkflowConfig, error) {
	var cfg types.WorkflowConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidYAML, err.Error())
	}
	if err := ValidateWorkflow(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readWorkflowFile(path string) ([]byte, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPermissions, path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// ValidateWorkflow checks structural invariants: agents present with unique
// ids, known types, and queue references that resolve.
func ValidateWorkflow(cfg *types.WorkflowConfig) error {
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("%w: no agents defined", ErrInvalidWorkflow)
	}

	supported := make(map[string]struct{})
	for _, t := range nodes.SupportedTypes() {
		supported[t] = struct{}{}
	}

	ids := make(map[string]struct{}, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		if agent.ID == "" {
			return fmt.Errorf("%w: agent with empty id", ErrInvalidWorkflow)
		}
		if _, dup := ids[agent.ID]; dup {
			return fmt.Errorf("%w: duplicate agent id %q", ErrInvalidWorkflow, agent.ID)
		}
		ids[agent.ID] = struct{}{}
		if _, ok := supported[agent.Type]; !ok {
			return fmt.Errorf("%w: %q (agent %q)", nodes.ErrUnsupportedType, agent.Type, agent.ID)
		}
	}

	for _, agent := range cfg.Agents {
		for _, successor := range agent.Queue {
			if _, ok := ids[successor]; !ok {
				return fmt.Errorf("%w: agent %q queues unknown id %q",
					ErrInvalidWorkflow, agent.ID, successor)
			}
		}
		for _, branch := range agent.Targets {
			for _, id := range branch {
				if _, ok := ids[id]; !ok {
					return fmt.Errorf("%w: fork %q targets unknown id %q",
						ErrInvalidWorkflow, agent.ID, id)
				}
			}
		}
	}

	if start := cfg.Orchestrator.StartNode; start != "" {
		if _, ok := ids[start]; !ok {
			return fmt.Errorf("%w: start_node %q not defined", ErrInvalidWorkflow, start)
		}
	}
	return nil
}
