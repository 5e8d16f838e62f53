// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package streaming is the long-running session runtime: an event bus with
// replay, versioned session state with last-write-wins patching, a
// token-budgeted prompt composer, and the session reactor that turns ingress
// into LLM refreshes.
package streaming

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Message types on the bus.
const (
	TypeIngress = "ingress"
	TypeEgress  = "egress"
	TypeAlert   = "alert"
)

// DefaultBufferSize is the per-subscription channel buffer.
const DefaultBufferSize = 100

// Message is the wire record published on session channels.
type Message struct {
	SessionID    string         `json:"session_id"`
	Channel      string         `json:"channel"`
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload"`
	TimestampMS  int64          `json:"timestamp_ms"`
	Source       string         `json:"source"`
	StateVersion int64          `json:"state_version"`

	// Cursor is the bus-assigned position within the channel, usable for
	// replay. Zero until published.
	Cursor int64 `json:"cursor,omitempty"`
}

// Subscription receives messages for one channel pattern.
type Subscription struct {
	ID      string
	Pattern string
	Channel <-chan *Message

	channel chan *Message
}

// EventBus is channel-based pub/sub with per-channel history for replay.
// Publishing never blocks: messages to full subscriber buffers are dropped
// and counted.
type EventBus struct {
	mu            sync.RWMutex
	history       map[string][]*Message
	subscriptions map[string]*Subscription
	logger        *zap.Logger

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	closed    atomic.Bool
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		history:       make(map[string][]*Message),
		subscriptions: make(map[string]*Subscription),
		logger:        logger,
	}
}

// Publish appends the message to the channel history and fans it out to
// matching subscribers. Returns delivered and dropped counts.
func (b *EventBus) Publish(ctx context.Context, channel string, msg *Message) (int, int, error) {
	if b.closed.Load() {
		return 0, 0, fmt.Errorf("event bus is closed")
	}
	if channel == "" {
		return 0, 0, fmt.Errorf("channel cannot be empty")
	}
	if msg == nil {
		return 0, 0, fmt.Errorf("message cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	msg.Channel = channel
	if msg.TimestampMS == 0 {
		msg.TimestampMS = time.Now().UnixMilli()
	}

	delivered, dropped := 0, 0
	b.mu.Lock()
	msg.Cursor = int64(len(b.history[channel]) + 1)
	b.history[channel] = append(b.history[channel], msg)
	for _, sub := range b.subscriptions {
		if !matchesChannel(sub.Pattern, channel) {
			continue
		}
		select {
		case sub.channel <- msg:
			delivered++
		default:
			dropped++
		}
	}
	b.mu.Unlock()

	b.published.Add(1)
	b.delivered.Add(int64(delivered))
	b.dropped.Add(int64(dropped))

	b.logger.Debug("bus publish",
		zap.String("channel", channel),
		zap.String("type", msg.Type),
		zap.Int("delivered", delivered),
		zap.Int("dropped", dropped))
	return delivered, dropped, nil
}

// Subscribe registers for messages on channels matching pattern. Patterns
// support path.Match wildcards ("sess-1.*").
func (b *EventBus) Subscribe(pattern string, bufferSize int) (*Subscription, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("event bus is closed")
	}
	if pattern == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	ch := make(chan *Message, bufferSize)
	sub := &Subscription{
		ID:      fmt.Sprintf("%s-%d", pattern, time.Now().UnixNano()),
		Pattern: pattern,
		Channel: ch,
		channel: ch,
	}

	b.mu.Lock()
	b.subscriptions[sub.ID] = sub
	b.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes the subscription and closes its channel.
func (b *EventBus) Unsubscribe(subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, found := b.subscriptions[subscriptionID]
	if !found {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}
	delete(b.subscriptions, subscriptionID)
	close(sub.channel)
	return nil
}

// Replay returns the channel's messages with cursor > after, oldest first.
func (b *EventBus) Replay(channel string, after int64) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hist := b.history[channel]
	for i, msg := range hist {
		if msg.Cursor > after {
			out := make([]*Message, len(hist)-i)
			copy(out, hist[i:])
			return out
		}
	}
	return nil
}

// History returns the full message history for a channel.
func (b *EventBus) History(channel string) []*Message {
	return b.Replay(channel, 0)
}

// Stats returns lifetime published, delivered, and dropped counts.
func (b *EventBus) Stats() (published, delivered, dropped int64) {
	return b.published.Load(), b.delivered.Load(), b.dropped.Load()
}

// Close shuts the bus down and closes all subscriber channels.
func (b *EventBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscriptions {
		close(sub.channel)
		delete(b.subscriptions, id)
	}
	b.logger.Info("event bus closed",
		zap.Int64("published", b.published.Load()),
		zap.Int64("delivered", b.delivered.Load()),
		zap.Int64("dropped", b.dropped.Load()))
	return nil
}

func matchesChannel(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	matched, err := path.Match(pattern, channel)
	if err != nil {
		return false
	}
	return matched
}
