package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Config holds backoff parameters.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultConfig returns three retries after the first attempt, starting at one
// second and capped at ten.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
		Jitter:      true,
	}
}

// Policy executes operations with bounded exponential-backoff retry.
type Policy struct {
	cfg      Config
	classify Classifier
	sleep    func(ctx context.Context, d time.Duration) error
	random   func() float64
	logger   *slog.Logger
}

// Option customizes a Policy.
type Option func(*Policy)

// WithClassifier overrides the error classifier.
func WithClassifier(c Classifier) Option {
	return func(p *Policy) { p.classify = c }
}

// WithSleep overrides how the policy waits between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) { p.sleep = sleep }
}

// WithRandom overrides the jitter source. It must return values in [0, 1).
func WithRandom(random func() float64) Option {
	return func(p *Policy) { p.random = random }
}

// New creates a retry policy. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger, opts ...Option) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Policy{
		cfg:      cfg,
		classify: ClassifyHTTP,
		sleep:    sleepContext,
		random:   rand.Float64,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the policy's parameters.
func (p *Policy) Config() Config {
	return p.cfg
}

// Delay returns the wait before retry number attempt (0-based).
func (p *Policy) Delay(attempt int) time.Duration {
	d := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Multiplier, float64(attempt))
	if p.cfg.Jitter {
		d *= 0.5 + p.random()
	}
	if p.cfg.MaxDelay > 0 && d > float64(p.cfg.MaxDelay) {
		d = float64(p.cfg.MaxDelay)
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, fails fatally, or attempts run out.
// The last error is returned unchanged.
func Do[T any](ctx context.Context, p *Policy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				p.logger.Info("Operation succeeded after retry", "operation", name, "retries", attempt)
			}
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if p.classify(err) != ClassRetryable {
			return zero, lastErr
		}
		if attempt == p.cfg.MaxAttempts-1 {
			p.logger.Error("Operation failed after retries",
				"operation", name,
				"attempts", p.cfg.MaxAttempts,
				"error", err)
			break
		}

		delay := p.Delay(attempt)
		p.logger.Warn("Operation failed, retrying",
			"operation", name,
			"attempt", attempt+1,
			"max_attempts", p.cfg.MaxAttempts,
			"delay", delay,
			"error", err)
		if err := p.sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p *Policy, name string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
