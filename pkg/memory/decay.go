// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package memory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// maxBackoffMultiplier caps the sweep interval growth on repeated failures.
const maxBackoffMultiplier = 8

// DecaySweeper is the background worker that removes expired entries. It
// waits the configured interval between sweeps and backs off on
// consecutive failures. Call Stop to cancel the goroutine and wait for it
// to exit.
type DecaySweeper struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the sweep goroutine and blocks until it has exited.
func (d *DecaySweeper) Stop() {
	d.cancel()
	<-d.done
}

// StartDecaySweeper starts the background sweeper against the given store.
// interval is the base wait between sweeps; non-positive defaults to
// 30 minutes. The returned sweeper must be stopped during shutdown.
func StartDecaySweeper(store Store, interval time.Duration, logger *zap.Logger) *DecaySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	const defaultInterval = 30 * time.Minute
	if interval <= 0 {
		logger.Warn("Decay sweep interval is non-positive; using default",
			zap.Duration("default", defaultInterval))
		interval = defaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	logger.Info("Starting memory decay sweeper", zap.Duration("interval", interval))

	go func() {
		defer close(done)

		failures := 0
		timer := time.NewTimer(interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("Memory decay sweeper stopped")
				return
			case <-timer.C:
			}

			stats, err := store.CleanupExpired(ctx, false)
			if err != nil {
				failures++
				logger.Error("Decay sweep failed",
					zap.Int("consecutive_failures", failures),
					zap.Error(err))
			} else {
				failures = 0
				if stats.ExpiredFound > 0 {
					logger.Info("Decay sweep completed",
						zap.Int("expired_found", stats.ExpiredFound),
						zap.Int("cleaned", stats.Cleaned),
						zap.Int("errors", len(stats.Errors)))
				}
			}

			// Back off on consecutive failures: interval doubles per failure
			// up to maxBackoffMultiplier.
			timer.Reset(interval * time.Duration(backoffMultiplier(failures)))
		}
	}()

	return &DecaySweeper{cancel: cancel, done: done}
}

// backoffMultiplier doubles per consecutive failure, capped at
// maxBackoffMultiplier. The shift operand is clamped so a long failure
// streak cannot overflow the multiplier.
func backoffMultiplier(failures int) int {
	if failures <= 0 {
		return 1
	}
	if failures > 3 {
		failures = 3
	}
	m := 1 << failures
	if m > maxBackoffMultiplier {
		m = maxBackoffMultiplier
	}
	return m
}
