// Package fetch wraps single API attempts with quota gating and retries.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/JakeFAU/codesearch-harvester/internal/clock/system"
	"github.com/JakeFAU/codesearch-harvester/internal/github"
	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
	"github.com/JakeFAU/codesearch-harvester/internal/metrics"
)

// Attempter performs one classified request.
type Attempter interface {
	Attempt(ctx context.Context, rawURL string, params url.Values) github.Result
}

// Config controls retry behavior.
type Config struct {
	// RetryDelay is the fixed pause after a rejected attempt.
	RetryDelay time.Duration
	// MaxAttempts caps attempts per call; zero retries until success.
	MaxAttempts int
	// EscalateAfter logs at error level every N consecutive failures.
	EscalateAfter int
	Clock         clock.Clock
	Logger        *zap.Logger
}

// Retrying fetches JSON payloads, waiting on the gate before every attempt
// and retrying rejected attempts after a fixed delay.
type Retrying struct {
	gate      harvest.Gate
	attempter Attempter
	cfg       Config
	clock     clock.Clock
	logger    *zap.Logger
}

// New builds a Retrying fetcher.
func New(gate harvest.Gate, attempter Attempter, cfg Config) *Retrying {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{
		gate:      gate,
		attempter: attempter,
		cfg:       cfg,
		clock:     system.Or(cfg.Clock),
		logger:    logger,
	}
}

// Fetch returns the first accepted payload for rawURL. With MaxAttempts unset
// it only returns an error when ctx is done.
func (r *Retrying) Fetch(ctx context.Context, rawURL string, params url.Values) (json.RawMessage, error) {
	for attempt := 1; ; attempt++ {
		if err := r.gate.AwaitCapacity(ctx); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}

		res := r.attempter.Attempt(ctx, rawURL, params)
		metrics.ObserveFetchAttempt(res.Outcome.String())
		if res.Outcome == github.OutcomeOK {
			return res.Payload, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}

		fields := []zap.Field{
			zap.String("url", rawURL),
			zap.Stringer("outcome", res.Outcome),
			zap.Int("attempt", attempt),
			zap.Int("status", res.StatusCode),
		}
		if res.Message != "" {
			fields = append(fields, zap.String("message", res.Message))
		}
		if res.Err != nil {
			fields = append(fields, zap.Error(res.Err))
		}
		if r.cfg.EscalateAfter > 0 && attempt%r.cfg.EscalateAfter == 0 {
			r.logger.Error("fetch keeps failing", fields...)
		} else {
			r.logger.Warn("retry...", fields...)
		}

		if r.cfg.MaxAttempts > 0 && attempt >= r.cfg.MaxAttempts {
			return nil, fmt.Errorf("fetch %s after %d attempts (%s): %w",
				rawURL, attempt, res.Outcome, harvest.ErrRetriesExhausted)
		}
		if err := system.Sleep(ctx, r.clock, r.cfg.RetryDelay); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}
}
