// Package ratelimit blocks API callers until the remote quota allows more work.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/codesearch-harvester/internal/clock/system"
	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
	"github.com/JakeFAU/codesearch-harvester/internal/metrics"
)

// Config holds gate configuration.
type Config struct {
	// Cooldown is how long to wait after a poll reports an exhausted class.
	Cooldown time.Duration
	// RetryDelay is the pause between failed quota polls.
	RetryDelay time.Duration
	// RequestsPerMinute paces requests locally; zero disables pacing.
	RequestsPerMinute float64
	Clock             clock.Clock
	Logger            *zap.Logger
}

// Gate implements harvest.Gate by polling the quota endpoint.
type Gate struct {
	mu         sync.Mutex
	quota      harvest.QuotaSource
	limiter    *rate.Limiter
	cooldown   time.Duration
	retryDelay time.Duration
	clock      clock.Clock
	logger     *zap.Logger
}

// New creates a new Gate.
func New(quota harvest.QuotaSource, cfg Config) *Gate {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		quota:      quota,
		limiter:    rate.NewLimiter(limit, 1),
		cooldown:   cfg.Cooldown,
		retryDelay: cfg.RetryDelay,
		clock:      system.Or(cfg.Clock),
		logger:     logger,
	}
}

// AwaitCapacity blocks until both the core and search quota classes report
// remaining requests. Poll failures are retried until ctx is done; callers
// are serialized so concurrent fetches never race the same poll.
func (g *Gate) AwaitCapacity(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		q, err := g.quota.Quota(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("await capacity: %w", ctx.Err())
			}
			g.logger.Warn("quota poll failed, retrying", zap.Error(err), zap.Duration("delay", g.retryDelay))
			if err := system.Sleep(ctx, g.clock, g.retryDelay); err != nil {
				return fmt.Errorf("await capacity: %w", err)
			}
			continue
		}

		metrics.ObserveQuota(q.CoreRemaining, q.SearchRemaining)
		g.logger.Info("remaining limits",
			zap.Int("core_remaining", q.CoreRemaining),
			zap.Int("search_remaining", q.SearchRemaining),
		)
		if !q.Exhausted() {
			break
		}

		metrics.ObserveCooldown()
		g.logger.Warn("API limit reached, cooling down", zap.Duration("cooldown", g.cooldown))
		if err := system.Sleep(ctx, g.clock, g.cooldown); err != nil {
			return fmt.Errorf("await capacity: %w", err)
		}
		g.logger.Info("cooldown finished, polling quota again")
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
