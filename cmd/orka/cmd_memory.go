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
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/orka/pkg/memory"
	"github.com/teradata-labs/orka/pkg/registry"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain the memory backend",
}

var memoryCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired memory entries",
	RunE:  runMemoryCleanup,
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show a snapshot of the memory backend",
	RunE:  runMemoryStats,
}

var memoryWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the memory backend and print entries as they land",
	RunE:  runMemoryWatch,
}

func init() {
	memoryCleanupCmd.Flags().Bool("dry-run", false, "count expired entries without deleting")
	memoryWatchCmd.Flags().Duration("interval", 2*time.Second, "poll interval")
	memoryCmd.AddCommand(memoryCleanupCmd)
	memoryCmd.AddCommand(memoryStatsCmd)
	memoryCmd.AddCommand(memoryWatchCmd)
	rootCmd.AddCommand(memoryCmd)
}

func runMemoryCleanup(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dryRun, _ := cmd.Flags().GetBool("dry-run")

	reg := buildRegistry(logger)
	defer reg.Close()

	ctx := cmd.Context()
	store, err := registry.Get[memory.Store](ctx, reg, registry.KeyStore)
	if err != nil {
		return err
	}

	stats, err := store.CleanupExpired(ctx, dryRun)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return printJSON(cmd, stats)
}

func runMemoryStats(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := buildRegistry(logger)
	defer reg.Close()

	ctx := cmd.Context()
	store, err := registry.Get[memory.Store](ctx, reg, registry.KeyStore)
	if err != nil {
		return err
	}

	snap, err := store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	return printJSON(cmd, snap)
}

func runMemoryWatch(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	interval, _ := cmd.Flags().GetDuration("interval")

	reg := buildRegistry(logger)
	defer reg.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := registry.Get[memory.Store](ctx, reg, registry.KeyStore)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		snap, err := store.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}
		for _, e := range snap.LastEntries {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			if err := printJSON(cmd, e); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
