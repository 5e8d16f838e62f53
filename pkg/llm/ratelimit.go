// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimitConfig tunes the request throttle placed in front of a provider.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained call rate. Default: 2.
	RequestsPerSecond float64
	// Burst is the token bucket capacity. Default: 4.
	Burst int
	// MaxRetries bounds automatic retries on throttling errors. Default: 3.
	MaxRetries int
	// RetryBackoff is the initial backoff, doubled per attempt. Default: 500ms.
	RetryBackoff time.Duration

	Logger *zap.Logger
}

// RateLimitedProvider wraps a Provider with a token bucket and retry on
// throttling responses. Fork groups can fan many concurrent calls at one
// backend; the bucket keeps the aggregate rate below the provider's limit.
type RateLimitedProvider struct {
	inner   Provider
	logger  *zap.Logger
	retries int
	backoff time.Duration

	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

// NewRateLimitedProvider wraps inner with the given limits.
func NewRateLimitedProvider(inner Provider, cfg RateLimitConfig) *RateLimitedProvider {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &RateLimitedProvider{
		inner:      inner,
		logger:     cfg.Logger,
		retries:    cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		tokens:     float64(cfg.Burst),
		maxTokens:  float64(cfg.Burst),
		refillRate: cfg.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

// Name implements Provider.
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

// Model implements Provider.
func (p *RateLimitedProvider) Model() string { return p.inner.Model() }

// Chat implements Provider.
func (p *RateLimitedProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	return p.do(ctx, func(ctx context.Context) (*Response, error) {
		return p.inner.Chat(ctx, req)
	})
}

// ChatStream implements StreamingProvider when the wrapped provider streams;
// otherwise it falls back to Chat and delivers the response as one chunk.
func (p *RateLimitedProvider) ChatStream(ctx context.Context, req Request, cb TokenCallback) (*Response, error) {
	return p.do(ctx, func(ctx context.Context) (*Response, error) {
		if sp, ok := p.inner.(StreamingProvider); ok {
			return sp.ChatStream(ctx, req, cb)
		}
		resp, err := p.inner.Chat(ctx, req)
		if err == nil && cb != nil {
			cb(resp.Content)
		}
		return resp, err
	})
}

func (p *RateLimitedProvider) do(ctx context.Context, call func(context.Context) (*Response, error)) (*Response, error) {
	backoff := p.backoff
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if err := p.acquire(ctx); err != nil {
			return nil, err
		}
		resp, err := call(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isThrottled(err) {
			return nil, err
		}
		p.logger.Warn("provider throttled, backing off",
			zap.String("provider", p.inner.Name()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

// acquire blocks until a bucket token is available or ctx is done.
func (p *RateLimitedProvider) acquire(ctx context.Context) error {
	for {
		wait := p.take()
		if wait <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// take consumes a token if available, otherwise returns how long to wait
// before the next token exists.
func (p *RateLimitedProvider) take() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.tokens += now.Sub(p.lastRefill).Seconds() * p.refillRate
	if p.tokens > p.maxTokens {
		p.tokens = p.maxTokens
	}
	p.lastRefill = now

	if p.tokens >= 1 {
		p.tokens--
		return 0
	}
	return time.Duration((1 - p.tokens) / p.refillRate * float64(time.Second))
}

// isThrottled reports whether err looks like a provider rate limit.
func isThrottled(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "throttl")
}
