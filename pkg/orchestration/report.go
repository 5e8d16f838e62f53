// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/concurrency"
	"github.com/teradata-labs/orka/pkg/memory"
	"github.com/teradata-labs/orka/pkg/nodes"
	"github.com/teradata-labs/orka/pkg/types"
)

// Execution statuses reported by a run.
const (
	StatusCompleted       = "completed"
	StatusPartialRun      = "partial"
	StatusFailed          = "failed"
	StatusCriticalFailure = "critical_failure"
)

// ExceptionInfo carries the underlying failure detail for an error record.
type ExceptionInfo struct {
	Type      string `json:"type"`
	Traceback string `json:"traceback,omitempty"`
}

// ErrorRecord is one captured step failure.
type ErrorRecord struct {
	Type           string         `json:"type"`
	AgentID        string         `json:"agent_id,omitempty"`
	Message        string         `json:"message"`
	Exception      *ExceptionInfo `json:"exception,omitempty"`
	StatusCode     int            `json:"status_code,omitempty"`
	RecoveryAction string         `json:"recovery_action,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ExecutionSummary totals a run for the report footer.
type ExecutionSummary struct {
	TotalAgentsExecuted int    `json:"total_agents_executed"`
	TotalErrors         int    `json:"total_errors"`
	TotalRetries        int    `json:"total_retries"`
	ExecutionStatus     string `json:"execution_status"`
}

// ErrorReport is the full telemetry envelope persisted after a run that saw
// any failure.
type ErrorReport struct {
	RunID              string           `json:"run_id"`
	ExecutionStatus    string           `json:"execution_status"`
	StartedAt          time.Time        `json:"started_at"`
	FinishedAt         time.Time        `json:"finished_at"`
	Errors             []ErrorRecord    `json:"errors"`
	SilentDegradations []map[string]any `json:"silent_degradations"`
	RetryCounters      map[string]int   `json:"retry_counters"`
	CriticalFailures   []ErrorRecord    `json:"critical_failures"`
	MemorySnapshot     *memory.Snapshot `json:"memory_snapshot,omitempty"`
	ExecutionSummary   ExecutionSummary `json:"execution_summary"`
}

// RunResult is what Run hands back to the caller: the event log on success
// or partial success, a critical-failure envelope otherwise.
type RunResult struct {
	Status     string           `json:"status"`
	RunID      string           `json:"run_id"`
	Logs       []types.LogEvent `json:"logs,omitempty"`
	Report     *ErrorReport     `json:"report,omitempty"`
	ReportPath string           `json:"error_report_path,omitempty"`
	TracePath  string           `json:"trace_path,omitempty"`
	Error      string           `json:"error,omitempty"`
}

var httpStatusPattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// transientMarkers flag retry-eligible failures a failover could absorb.
var transientMarkers = []string{"rate limit", "timeout", "timed out", "too many requests", "unavailable"}

// Run executes the workflow under the error-wrapping layer: node failures
// become error records, the store is snapshotted, and a report plus trace
// file is persisted. Only report persistence itself can make Run fail hard.
func (o *Orchestrator) Run(ctx context.Context, input any) *RunResult {
	runID := NewRunID()
	started := time.Now().UTC()
	rc := types.NewRunContext(input, runID)

	logs, execErr := o.Execute(ctx, rc)
	finished := time.Now().UTC()

	report := o.buildReport(ctx, runID, started, finished, logs, execErr)
	tracePath := o.persistTrace(runID, logs)

	result := &RunResult{
		Status:    report.ExecutionStatus,
		RunID:     runID,
		Logs:      logs,
		TracePath: tracePath,
	}

	if execErr != nil {
		// Scheduler-level crash: the caller gets the failure envelope, not
		// the partial log.
		result.Status = StatusCriticalFailure
		result.Error = execErr.Error()
		result.ReportPath = o.persistReport(runID, report)
		result.Report = report
		result.Logs = nil
		return result
	}

	if report.ExecutionStatus != StatusCompleted {
		result.Report = report
		result.ReportPath = o.persistReport(runID, report)
	}
	return result
}

// buildReport derives the telemetry envelope from the event log.
func (o *Orchestrator) buildReport(ctx context.Context, runID string, started, finished time.Time, logs []types.LogEvent, execErr error) *ErrorReport {
	report := &ErrorReport{
		RunID:              runID,
		StartedAt:          started,
		FinishedAt:         finished,
		Errors:             []ErrorRecord{},
		SilentDegradations: []map[string]any{},
		RetryCounters:      make(map[string]int),
		CriticalFailures:   []ErrorRecord{},
	}

	seen := make(map[string]struct{})
	for _, ev := range logs {
		if _, dup := seen[ev.AgentID]; !dup {
			seen[ev.AgentID] = struct{}{}
		}
		if ev.Payload == nil {
			continue
		}
		if ev.Payload.Status == types.StatusError {
			report.Errors = append(report.Errors, classifyError(ev))
		}
		if ev.Payload.Metadata != nil {
			if deg, ok := ev.Payload.Metadata["silent_degradation"]; ok {
				report.SilentDegradations = append(report.SilentDegradations, map[string]any{
					"agent_id":  ev.AgentID,
					"step":      ev.Step,
					"kind":      deg,
					"timestamp": ev.Timestamp,
				})
			}
			if _, pending := ev.Payload.Metadata[nodes.JoinPendingKey]; pending {
				report.RetryCounters[ev.AgentID]++
			}
		}
	}

	switch {
	case execErr != nil:
		report.ExecutionStatus = StatusFailed
		report.CriticalFailures = append(report.CriticalFailures, ErrorRecord{
			Type:      "critical_failure",
			Message:   execErr.Error(),
			Exception: &ExceptionInfo{Type: fmt.Sprintf("%T", execErr), Traceback: fmt.Sprintf("%+v", execErr)},
			Timestamp: finished,
		})
	case len(report.Errors) > 0:
		report.ExecutionStatus = StatusPartialRun
	default:
		report.ExecutionStatus = StatusCompleted
	}

	totalRetries := 0
	for _, n := range report.RetryCounters {
		totalRetries += n
	}
	report.ExecutionSummary = ExecutionSummary{
		TotalAgentsExecuted: len(seen),
		TotalErrors:         len(report.Errors),
		TotalRetries:        totalRetries,
		ExecutionStatus:     report.ExecutionStatus,
	}

	if o.deps.Store != nil {
		snap, err := o.deps.Store.Snapshot(ctx)
		if err != nil {
			o.logger.Warn("Failed to snapshot memory store", zap.Error(err))
		} else {
			report.MemorySnapshot = snap
		}
	}
	return report
}

// classifyError maps an error event to a typed record, pulling out HTTP
// status codes and flagging retry-eligible transients.
func classifyError(ev types.LogEvent) ErrorRecord {
	msg := ev.Payload.Error
	rec := ErrorRecord{
		Type:      "node_execution_error",
		AgentID:   ev.AgentID,
		Message:   msg,
		Timestamp: ev.Timestamp,
	}

	if strings.Contains(msg, concurrency.ErrTimeout.Error()) {
		rec.Type = "timeout"
	}
	if m := httpStatusPattern.FindString(msg); m != "" {
		if code, err := strconv.Atoi(m); err == nil {
			rec.StatusCode = code
		}
	}

	lower := strings.ToLower(msg)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			rec.RecoveryAction = "retry_eligible"
			break
		}
	}
	if rec.RecoveryAction == "" && rec.StatusCode >= 500 {
		rec.RecoveryAction = "retry_eligible"
	}
	return rec
}

// persistReport writes the report JSON; failures are logged, never raised,
// unless the report directory itself cannot be created.
func (o *Orchestrator) persistReport(runID string, report *ErrorReport) string {
	path := filepath.Join(o.outputDir(), fmt.Sprintf("orka_error_report_%s.json", runID))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		o.logger.Error("Failed to serialize error report", zap.Error(err))
		return ""
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		o.logger.Error("Failed to write error report",
			zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

// persistTrace writes the run trace with blob deduplication.
func (o *Orchestrator) persistTrace(runID string, logs []types.LogEvent) string {
	if len(logs) == 0 {
		return ""
	}
	path := filepath.Join(o.outputDir(), fmt.Sprintf("orka_trace_%s.json", runID))
	if err := WriteTrace(path, BuildTrace(logs)); err != nil {
		o.logger.Warn("Failed to persist trace", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

func (o *Orchestrator) outputDir() string {
	if o.reportDir != "" {
		return o.reportDir
	}
	return os.TempDir()
}
