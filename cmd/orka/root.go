// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teradata-labs/orka/internal/version"
	"github.com/teradata-labs/orka/pkg/llm"
	"github.com/teradata-labs/orka/pkg/memory"
	"github.com/teradata-labs/orka/pkg/registry"
	"github.com/teradata-labs/orka/pkg/scoring"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "orka",
	Short:   "Orka - YAML-defined agent workflow orchestrator",
	Long:    `Orka runs declarative agent workflows: LLM agents, routers, fork/join groups, scored loops, and failover chains over a shared memory store with decay and hybrid search.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $ORKA_CONFIG or ./orka.yaml)")

	// Memory flags
	rootCmd.PersistentFlags().String("memory-backend", "memory", "memory backend (memory, redis)")
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "redis address")

	// LLM flags
	rootCmd.PersistentFlags().String("llm-provider", "ollama", "LLM provider (ollama, fake)")
	rootCmd.PersistentFlags().String("ollama-endpoint", "http://localhost:11434", "Ollama endpoint URL")
	rootCmd.PersistentFlags().String("model", "", "model identifier override")
	rootCmd.PersistentFlags().Float64("temperature", 0.8, "LLM temperature")
	rootCmd.PersistentFlags().Int("max-tokens", 4096, "LLM max output tokens")
	rootCmd.PersistentFlags().Float64("rate-limit", 0, "max LLM requests per second (0 disables)")

	// Run flags
	rootCmd.PersistentFlags().String("presets", "", "scoring preset file (YAML)")
	rootCmd.PersistentFlags().String("report-dir", "", "directory for error reports and traces")
	rootCmd.PersistentFlags().Int("max-concurrency", 8, "maximum parallel node executions")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("memory.backend", rootCmd.PersistentFlags().Lookup("memory-backend"))
	_ = viper.BindPFlag("memory.redis_addr", rootCmd.PersistentFlags().Lookup("redis-addr"))

	_ = viper.BindPFlag("llm.provider", rootCmd.PersistentFlags().Lookup("llm-provider"))
	_ = viper.BindPFlag("llm.ollama_endpoint", rootCmd.PersistentFlags().Lookup("ollama-endpoint"))
	_ = viper.BindPFlag("llm.model", rootCmd.PersistentFlags().Lookup("model"))
	_ = viper.BindPFlag("llm.temperature", rootCmd.PersistentFlags().Lookup("temperature"))
	_ = viper.BindPFlag("llm.max_tokens", rootCmd.PersistentFlags().Lookup("max-tokens"))
	_ = viper.BindPFlag("llm.rate_limit", rootCmd.PersistentFlags().Lookup("rate-limit"))

	_ = viper.BindPFlag("run.presets", rootCmd.PersistentFlags().Lookup("presets"))
	_ = viper.BindPFlag("run.report_dir", rootCmd.PersistentFlags().Lookup("report-dir"))
	_ = viper.BindPFlag("run.max_concurrency", rootCmd.PersistentFlags().Lookup("max-concurrency"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("orka")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.orka")
	}
	viper.SetEnvPrefix("ORKA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
}

func newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(viper.GetString("logging.level"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", viper.GetString("logging.level"), err)
	}
	cfg := zap.NewProductionConfig()
	if viper.GetString("logging.format") == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// buildRegistry wires the memory store and LLM provider from configuration.
// Resources build lazily and are closed together after the command finishes.
func buildRegistry(logger *zap.Logger) *registry.Registry {
	reg := registry.New()

	reg.Register(registry.KeyStore, func(ctx context.Context) (any, error) {
		switch backend := viper.GetString("memory.backend"); backend {
		case "redis":
			return memory.NewRedisStore(ctx, memory.RedisConfig{
				Addr:   viper.GetString("memory.redis_addr"),
				Logger: logger,
			})
		case "memory", "":
			return memory.NewInMemoryStore(memory.InMemoryConfig{Logger: logger}), nil
		default:
			return nil, fmt.Errorf("unknown memory backend %q", backend)
		}
	})

	reg.Register(registry.KeyProvider, func(ctx context.Context) (any, error) {
		var provider llm.Provider
		switch name := viper.GetString("llm.provider"); name {
		case "ollama", "":
			provider = llm.NewOllamaClient(llm.OllamaConfig{
				Endpoint:    viper.GetString("llm.ollama_endpoint"),
				Model:       viper.GetString("llm.model"),
				Temperature: viper.GetFloat64("llm.temperature"),
				MaxTokens:   viper.GetInt("llm.max_tokens"),
			})
		case "fake":
			provider = llm.NewFakeProvider()
		default:
			return nil, fmt.Errorf("unknown llm provider %q", name)
		}
		if rps := viper.GetFloat64("llm.rate_limit"); rps > 0 {
			provider = llm.NewRateLimitedProvider(provider, llm.RateLimitConfig{
				RequestsPerSecond: rps,
				Logger:            logger,
			})
		}
		return provider, nil
	})

	return reg
}

func loadPresets() (*scoring.PresetTable, error) {
	path := viper.GetString("run.presets")
	if path == "" {
		return nil, nil
	}
	return scoring.LoadPresetFile(path)
}
