// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package concurrency provides a bounded-parallelism task runner with
// per-call timeouts and cooperative cancellation.
package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrTimeout reports that a task exceeded its per-call timeout and was
// cancelled.
var ErrTimeout = fmt.Errorf("task timed out")

// ErrShutdown reports that the manager is shut down and admits no new tasks.
var ErrShutdown = fmt.Errorf("concurrency manager is shut down")

// Manager admits at most N concurrent tasks; additional callers wait for a
// permit. Each task runs under its own cancellable context so Shutdown can
// cancel everything outstanding.
type Manager struct {
	sem    *semaphore.Weighted
	logger *zap.Logger

	mu     sync.Mutex
	active map[int64]context.CancelFunc
	nextID int64
	closed bool
}

// NewManager creates a manager admitting up to maxConcurrency tasks.
// A non-positive maxConcurrency defaults to 1.
func NewManager(maxConcurrency int, logger *zap.Logger) *Manager {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sem:    semaphore.NewWeighted(int64(maxConcurrency)),
		logger: logger,
		active: make(map[int64]context.CancelFunc),
	}
}

// RunWithTimeout acquires a permit, runs fn, and enforces timeout. A zero
// timeout disables the deadline. On timeout the task's context is cancelled
// and ErrTimeout is returned. The permit is released on every exit path.
func (m *Manager) RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	m.mu.Unlock()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire permit: %w", err)
	}
	defer m.sem.Release(1)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := m.track(cancel)
	defer m.untrack(id)

	var timer *time.Timer
	timedOut := make(chan struct{})
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			close(timedOut)
			cancel()
		})
		defer timer.Stop()
	}

	err := fn(taskCtx)

	select {
	case <-timedOut:
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	default:
	}
	if err != nil {
		return err
	}
	return nil
}

// Shutdown cancels all outstanding tasks and rejects new ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, cancel := range m.active {
		cancel()
		delete(m.active, id)
	}
	m.logger.Debug("Concurrency manager shut down")
}

// ActiveCount reports the number of in-flight tasks.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) track(cancel context.CancelFunc) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.active[id] = cancel
	return id
}

func (m *Manager) untrack(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
}
