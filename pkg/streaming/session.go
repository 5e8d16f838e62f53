// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/orka/pkg/llm"
)

// Phase is the session lifecycle state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseActive
	PhaseRefreshing
	PhaseShutdown
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseActive:
		return "active"
	case PhaseRefreshing:
		return "refreshing"
	case PhaseShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Session defaults.
const (
	defaultDebounceMS     = 500
	defaultDeltaThreshold = 5
	maxHistoryItems       = 50
)

// Channel names for a session.
func IngressChannel(sessionID string) string { return sessionID + ".ingress" }
func EgressChannel(sessionID string) string  { return sessionID + ".egress" }
func AlertChannel(sessionID string) string   { return sessionID + ".alerts" }

// SatelliteConfig declares a background worker run during each refresh.
// Its output is merged back into mutable state under its role name.
type SatelliteConfig struct {
	Role   string
	Prompt string
}

// SessionConfig configures a session reactor.
type SessionConfig struct {
	SessionID string
	Provider  llm.Provider
	Bus       *EventBus
	Logger    *zap.Logger

	// DebounceMS collapses bursts of ingress into at most one refresh per
	// window. Defaults to 500.
	DebounceMS int64

	// DeltaThreshold triggers an immediate refresh once this many ingress
	// changes accumulate. Defaults to 5.
	DeltaThreshold int

	// GlobalTokenBudget bounds the composed prompt.
	GlobalTokenBudget int

	Satellites []SatelliteConfig

	// Invariants seed the fixed section of session state.
	Invariants map[string]any

	// TraceDir is where the session trace is persisted on shutdown.
	// Defaults to the OS temp directory.
	TraceDir string
}

// Session is the reactor driving one streaming conversation: it consumes
// ingress, maintains state, and refreshes the model output when enough has
// changed or the debounce window closes.
type Session struct {
	cfg      SessionConfig
	bus      *EventBus
	state    *State
	composer *Composer
	logger   *zap.Logger

	phase      atomic.Int32
	instanceID atomic.Value // string; current executor instance
	refreshes  atomic.Int64

	intent  string
	history []string
}

// NewSession creates a session in the idle phase.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("session %q: no provider", cfg.SessionID)
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("session %q: no event bus", cfg.SessionID)
	}
	if cfg.DebounceMS <= 0 {
		cfg.DebounceMS = defaultDebounceMS
	}
	if cfg.DeltaThreshold <= 0 {
		cfg.DeltaThreshold = defaultDeltaThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		cfg:      cfg,
		bus:      cfg.Bus,
		state:    NewState(cfg.SessionID, cfg.Invariants),
		composer: NewComposer(cfg.GlobalTokenBudget),
		logger:   logger.With(zap.String("session_id", cfg.SessionID)),
	}
	s.instanceID.Store("")
	return s, nil
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// State exposes the session state.
func (s *Session) State() *State { return s.state }

// Refreshes returns how many refresh cycles have run.
func (s *Session) Refreshes() int64 { return s.refreshes.Load() }

// ExecutorInstanceID returns the id of the current refresh, empty before the
// first one.
func (s *Session) ExecutorInstanceID() string {
	id, _ := s.instanceID.Load().(string)
	return id
}

// Run is the main loop. It returns when ctx is cancelled, after persisting
// the session trace.
func (s *Session) Run(ctx context.Context) error {
	sub, err := s.bus.Subscribe(IngressChannel(s.cfg.SessionID), DefaultBufferSize)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := s.bus.Unsubscribe(sub.ID); uerr != nil {
			s.logger.Debug("Unsubscribe on shutdown", zap.Error(uerr))
		}
	}()

	debounce := time.NewTimer(time.Duration(s.cfg.DebounceMS) * time.Millisecond)
	defer debounce.Stop()
	if !debounce.Stop() {
		select {
		case <-debounce.C:
		default:
		}
	}

	delta := 0
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()

		case msg, ok := <-sub.Channel:
			if !ok {
				s.shutdown()
				return nil
			}
			if s.Phase() == PhaseIdle {
				s.phase.Store(int32(PhaseActive))
			}
			if s.handleIngress(ctx, msg) {
				delta++
			}
			if delta >= s.cfg.DeltaThreshold {
				s.refresh(ctx)
				delta = 0
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(time.Duration(s.cfg.DebounceMS) * time.Millisecond)
			}

		case <-debounce.C:
			if delta > 0 {
				s.refresh(ctx)
				delta = 0
			}
		}
	}
}

// handleIngress applies one inbound message. Returns true when it changed
// session state.
func (s *Session) handleIngress(ctx context.Context, msg *Message) bool {
	kind, _ := msg.Payload["kind"].(string)
	switch kind {
	case "text":
		text, _ := msg.Payload["text"].(string)
		if text == "" {
			return false
		}
		s.intent = text
		s.history = append(s.history, text)
		if len(s.history) > maxHistoryItems {
			s.history = s.history[len(s.history)-maxHistoryItems:]
		}
		return true

	case "state_patch":
		patch, _ := msg.Payload["patch"].(map[string]any)
		if patch == nil {
			s.alert(ctx, "state_patch without patch body", msg.Source)
			return false
		}
		_, err := s.state.ApplyPatch(patch, Provenance{
			TimestampMS: msg.TimestampMS,
			Source:      msg.Source,
		})
		if err != nil {
			s.alert(ctx, fmt.Sprintf("patch rejected: %v", err), msg.Source)
			return false
		}
		return true

	default:
		s.alert(ctx, fmt.Sprintf("unknown ingress kind %q", kind), msg.Source)
		return false
	}
}

// refresh runs one executor cycle: rotate the instance id, run satellites,
// compose the prompt, and stream the completion to egress.
func (s *Session) refresh(ctx context.Context) {
	s.phase.Store(int32(PhaseRefreshing))
	defer s.phase.Store(int32(PhaseActive))

	instanceID := uuid.NewString()
	s.instanceID.Store(instanceID)
	s.refreshes.Add(1)

	s.runSatellites(ctx)

	summary, _ := s.state.Get("summarizer")
	summaryText, _ := summary.(string)
	prompt, spent := s.composer.Compose([]Section{
		{Name: "Intent", Content: s.intent, MaxTokens: 1000},
		{Name: "Summary", Content: summaryText, MaxTokens: 1500},
		{Name: "History", Content: strings.Join(s.history, "\n")},
		{Name: "State", Content: s.stateSummary()},
	})
	if prompt == "" {
		s.logger.Debug("Refresh skipped: nothing to compose")
		return
	}
	s.logger.Debug("Refresh starting",
		zap.String("executor_instance_id", instanceID),
		zap.Int("prompt_tokens", spent))

	s.publishEgress(ctx, instanceID, map[string]any{"kind": "start"})

	req := llm.Request{Messages: []llm.Message{{Role: "user", Content: prompt}}}
	var resp *llm.Response
	var err error
	if sp, ok := s.cfg.Provider.(llm.StreamingProvider); ok {
		resp, err = sp.ChatStream(ctx, req, func(token string) {
			// A newer refresh invalidates this stream; its chunks are
			// dropped rather than published.
			if s.ExecutorInstanceID() != instanceID {
				return
			}
			s.publishEgress(ctx, instanceID, map[string]any{"kind": "chunk", "text": token})
		})
	} else {
		resp, err = s.cfg.Provider.Chat(ctx, req)
		if err == nil && s.ExecutorInstanceID() == instanceID {
			s.publishEgress(ctx, instanceID, map[string]any{"kind": "chunk", "text": resp.Content})
		}
	}
	if err != nil {
		s.alert(ctx, fmt.Sprintf("refresh failed: %v", err), "executor")
		return
	}

	s.publishEgress(ctx, instanceID, map[string]any{
		"kind":    "final",
		"content": resp.Content,
		"usage":   resp.Usage,
	})
}

// runSatellites executes each declared satellite and merges its output into
// state. A satellite failure raises an alert but never stops the refresh.
func (s *Session) runSatellites(ctx context.Context) {
	for _, sat := range s.cfg.Satellites {
		prompt := sat.Prompt
		if prompt == "" {
			prompt = fmt.Sprintf("Summarize the session for role %q.", sat.Role)
		}
		resp, err := s.cfg.Provider.Chat(ctx, llm.Request{Messages: []llm.Message{
			{Role: "user", Content: prompt + "\n\n" + s.stateSummary()},
		}})
		if err != nil {
			s.alert(ctx, fmt.Sprintf("satellite %q failed: %v", sat.Role, err), "satellite:"+sat.Role)
			continue
		}
		_, err = s.state.ApplyPatch(map[string]any{sat.Role: resp.Content}, Provenance{
			TimestampMS: time.Now().UnixMilli(),
			Source:      "satellite:" + sat.Role,
		})
		if err != nil {
			s.alert(ctx, fmt.Sprintf("satellite %q merge rejected: %v", sat.Role, err), "satellite:"+sat.Role)
		}
	}
}

func (s *Session) stateSummary() string {
	mutable := s.state.Mutable()
	if len(mutable) == 0 {
		return ""
	}
	data, err := json.Marshal(mutable)
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *Session) publishEgress(ctx context.Context, instanceID string, payload map[string]any) {
	payload["executor_instance_id"] = instanceID
	_, _, err := s.bus.Publish(ctx, EgressChannel(s.cfg.SessionID), &Message{
		SessionID:    s.cfg.SessionID,
		Type:         TypeEgress,
		Payload:      payload,
		Source:       "executor",
		StateVersion: s.state.Version(),
	})
	if err != nil {
		s.logger.Warn("Egress publish failed", zap.Error(err))
	}
}

func (s *Session) alert(ctx context.Context, message, source string) {
	_, _, err := s.bus.Publish(ctx, AlertChannel(s.cfg.SessionID), &Message{
		SessionID:    s.cfg.SessionID,
		Type:         TypeAlert,
		Payload:      map[string]any{"message": message},
		Source:       source,
		StateVersion: s.state.Version(),
	})
	if err != nil {
		s.logger.Warn("Alert publish failed", zap.Error(err))
	}
}

// shutdown persists the session trace and marks the session terminal.
func (s *Session) shutdown() {
	s.phase.Store(int32(PhaseShutdown))

	dir := s.cfg.TraceDir
	if dir == "" {
		dir = os.TempDir()
	}
	trace := map[string]any{
		"session_id": s.cfg.SessionID,
		"refreshes":  s.refreshes.Load(),
		"channels": map[string][]*Message{
			"ingress": s.bus.History(IngressChannel(s.cfg.SessionID)),
			"egress":  s.bus.History(EgressChannel(s.cfg.SessionID)),
			"alerts":  s.bus.History(AlertChannel(s.cfg.SessionID)),
		},
		"final_state": s.state.Mutable(),
	}
	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		s.logger.Error("Failed to serialize session trace", zap.Error(err))
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("session_trace_%s.json", s.cfg.SessionID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Error("Failed to write session trace",
			zap.String("path", path), zap.Error(err))
		return
	}
	s.logger.Info("Session trace persisted", zap.String("path", path))
}
