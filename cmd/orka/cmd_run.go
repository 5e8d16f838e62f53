// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/orka/pkg/llm"
	"github.com/teradata-labs/orka/pkg/memory"
	"github.com/teradata-labs/orka/pkg/orchestration"
	"github.com/teradata-labs/orka/pkg/registry"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.yml>",
	Short: "Run a workflow file",
	Long: `Run loads a workflow YAML file, executes it against the configured
memory backend and LLM provider, and prints the run result as JSON.
The exit code is non-zero when the run fails or completes partially.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().String("input", "", "initial input passed to the workflow")
	_ = viper.BindPFlag("run.input", runCmd.Flags().Lookup("input"))
	rootCmd.AddCommand(runCmd)
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workflow, err := orchestration.LoadWorkflowFromYAML(args[0])
	if err != nil {
		return fmt.Errorf("loading workflow: %w", err)
	}

	presets, err := loadPresets()
	if err != nil {
		return fmt.Errorf("loading presets: %w", err)
	}

	reg := buildRegistry(logger)
	defer reg.Close()

	store, err := registry.Get[memory.Store](ctx, reg, registry.KeyStore)
	if err != nil {
		return err
	}
	provider, err := registry.Get[llm.Provider](ctx, reg, registry.KeyProvider)
	if err != nil {
		return err
	}

	orch, err := orchestration.New(workflow, orchestration.Config{
		Store:          store,
		Provider:       provider,
		Presets:        presets,
		Logger:         logger,
		MaxConcurrency: viper.GetInt("run.max_concurrency"),
		ReportDir:      viper.GetString("run.report_dir"),
	})
	if err != nil {
		return fmt.Errorf("compiling workflow: %w", err)
	}
	defer orch.Shutdown()

	result := orch.Run(ctx, viper.GetString("run.input"))

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if result.Status != orchestration.StatusCompleted {
		return fmt.Errorf("run %s finished with status %q", result.RunID, result.Status)
	}
	return nil
}
