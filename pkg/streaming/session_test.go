// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package streaming

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/orka/pkg/llm"
)

func startSession(t *testing.T, cfg SessionConfig) (*Session, context.CancelFunc, chan error) {
	t.Helper()
	if cfg.TraceDir == "" {
		cfg.TraceDir = t.TempDir()
	}
	s, err := NewSession(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Let the reactor subscribe before the test starts publishing.
	time.Sleep(20 * time.Millisecond)
	return s, cancel, done
}

func publishText(t *testing.T, bus *EventBus, sessionID, text string) {
	t.Helper()
	_, _, err := bus.Publish(context.Background(), IngressChannel(sessionID), &Message{
		SessionID: sessionID,
		Type:      TypeIngress,
		Payload:   map[string]any{"kind": "text", "text": text},
		Source:    "user",
	})
	require.NoError(t, err)
}

func TestSessionDebounceCollapsesBurst(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()
	traceDir := t.TempDir()

	s, cancel, done := startSession(t, SessionConfig{
		SessionID:      "burst",
		Provider:       llm.NewFakeProvider("the answer is ready"),
		Bus:            bus,
		DebounceMS:     80,
		DeltaThreshold: 100, // only the debounce can trigger
		TraceDir:       traceDir,
	})

	for i := 0; i < 10; i++ {
		publishText(t, bus, "burst", fmt.Sprintf("message %d", i))
	}

	require.Eventually(t, func() bool { return s.Refreshes() == 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(1), s.Refreshes(), "burst collapses into one refresh")

	egress := bus.History(EgressChannel("burst"))
	require.NotEmpty(t, egress)
	kinds := make(map[string]int)
	instance := s.ExecutorInstanceID()
	for _, msg := range egress {
		kinds[msg.Payload["kind"].(string)]++
		assert.Equal(t, instance, msg.Payload["executor_instance_id"],
			"every egress message belongs to the current refresh")
	}
	assert.Equal(t, 1, kinds["start"])
	assert.Equal(t, 1, kinds["final"])
	assert.GreaterOrEqual(t, kinds["chunk"], 1)

	cancel()
	<-done
	assert.Equal(t, PhaseShutdown, s.Phase())

	// The session trace is persisted on shutdown.
	data, err := os.ReadFile(filepath.Join(traceDir, "session_trace_burst.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"refreshes\": 1")
}

func TestSessionDeltaThresholdTriggersRefresh(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	s, cancel, done := startSession(t, SessionConfig{
		SessionID:      "delta",
		Provider:       llm.NewFakeProvider("done"),
		Bus:            bus,
		DebounceMS:     10_000, // debounce never fires within the test
		DeltaThreshold: 3,
	})
	defer func() { cancel(); <-done }()

	publishText(t, bus, "delta", "one")
	publishText(t, bus, "delta", "two")
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, s.Refreshes(), "below threshold, no refresh yet")

	publishText(t, bus, "delta", "three")
	require.Eventually(t, func() bool { return s.Refreshes() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestSessionStatePatchAndAlerts(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	s, cancel, done := startSession(t, SessionConfig{
		SessionID:      "patched",
		Provider:       llm.NewFakeProvider("ok"),
		Bus:            bus,
		DebounceMS:     10_000,
		DeltaThreshold: 100,
	})
	defer func() { cancel(); <-done }()

	ctx := context.Background()
	publish := func(ts int64, source string, patch map[string]any) {
		_, _, err := bus.Publish(ctx, IngressChannel("patched"), &Message{
			SessionID:   "patched",
			Type:        TypeIngress,
			Payload:     map[string]any{"kind": "state_patch", "patch": patch},
			TimestampMS: ts,
			Source:      source,
		})
		require.NoError(t, err)
	}

	publish(200, "a", map[string]any{"topic": "go"})
	require.Eventually(t, func() bool { return s.State().Version() == 1 },
		2*time.Second, 10*time.Millisecond)

	// A stale patch is ignored and raises an alert.
	publish(100, "b", map[string]any{"topic": "rust"})
	require.Eventually(t, func() bool { return len(bus.History(AlertChannel("patched"))) == 1 },
		2*time.Second, 10*time.Millisecond)
	got, _ := s.State().Get("topic")
	assert.Equal(t, "go", got)

	// A patch to an invariant field is rejected.
	publish(300, "a", map[string]any{"session_id": "hijack"})
	require.Eventually(t, func() bool { return len(bus.History(AlertChannel("patched"))) == 2 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), s.State().Version())
}

func TestSessionSatelliteMergesIntoState(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	// First call answers the satellite, second the executor.
	provider := llm.NewFakeProvider("a concise summary", "main answer")
	s, cancel, done := startSession(t, SessionConfig{
		SessionID:      "sat",
		Provider:       provider,
		Bus:            bus,
		DebounceMS:     40,
		DeltaThreshold: 100,
		Satellites:     []SatelliteConfig{{Role: "summarizer"}},
	})
	defer func() { cancel(); <-done }()

	publishText(t, bus, "sat", "tell me about go")
	require.Eventually(t, func() bool { return s.Refreshes() == 1 },
		2*time.Second, 10*time.Millisecond)

	summary, ok := s.State().Get("summarizer")
	require.True(t, ok, "satellite output merged into mutable state")
	assert.Equal(t, "a concise summary", summary)

	final := bus.History(EgressChannel("sat"))
	require.NotEmpty(t, final)
	last := final[len(final)-1]
	assert.Equal(t, "final", last.Payload["kind"])
	assert.Equal(t, "main answer", last.Payload["content"])
}

func TestSessionSatelliteFailureAlerts(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	provider := llm.NewFakeProvider()
	provider.Fail(assert.AnError)
	s, cancel, done := startSession(t, SessionConfig{
		SessionID:      "satfail",
		Provider:       provider,
		Bus:            bus,
		DebounceMS:     40,
		DeltaThreshold: 100,
		Satellites:     []SatelliteConfig{{Role: "summarizer"}},
	})
	defer func() { cancel(); <-done }()

	publishText(t, bus, "satfail", "hello")
	require.Eventually(t, func() bool { return s.Refreshes() == 1 },
		2*time.Second, 10*time.Millisecond)

	// Satellite failure and executor failure both alert; the session stays up.
	require.Eventually(t, func() bool { return len(bus.History(AlertChannel("satfail"))) >= 2 },
		2*time.Second, 10*time.Millisecond)
	assert.NotEqual(t, PhaseShutdown, s.Phase())
}
