package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMinPushInterval = 10 * time.Second

	pushMaxRetries    = 3
	pushInitialDelay  = 5 * time.Second
	pushBackoffFactor = 2.0
)

// Pusher pushes committed changes to the remote in the background.
// Notifications that arrive while a push is pending coalesce into one push.
type Pusher struct {
	pusher       remotePusher
	logger       *slog.Logger
	delay        time.Duration
	limiter      *rate.Limiter
	initialDelay time.Duration
	notify       chan struct{}
}

// remotePusher is the part of LocalStore the pusher needs.
type remotePusher interface {
	Push(ctx context.Context) error
}

// PusherOption configures the Pusher.
type PusherOption func(*Pusher)

// WithPushDelay sets the debounce delay before pushing.
// This allows several rapid edits to coalesce into a single push.
func WithPushDelay(d time.Duration) PusherOption {
	return func(p *Pusher) {
		p.delay = d
	}
}

// WithMinPushInterval sets the minimum time between two pushes.
func WithMinPushInterval(d time.Duration) PusherOption {
	return func(p *Pusher) {
		if d <= 0 {
			p.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		p.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithPusherLogger sets a custom logger for the pusher.
func WithPusherLogger(l *slog.Logger) PusherOption {
	return func(p *Pusher) {
		p.logger = l
	}
}

// NewPusher creates a new background pusher for st.
func NewPusher(st remotePusher, opts ...PusherOption) *Pusher {
	p := &Pusher{
		pusher:       st,
		logger:       slog.Default(),
		limiter:      rate.NewLimiter(rate.Every(defaultMinPushInterval), 1),
		initialDelay: pushInitialDelay,
		notify:       make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Notify signals that there are new commits to push.
// This is non-blocking - if a notification is already pending, it's a no-op.
func (p *Pusher) Notify() {
	select {
	case p.notify <- struct{}{}:
		p.logger.Debug("pusher notified")
	default:
		p.logger.Debug("pusher notification skipped (already pending)")
	}
}

// Start runs the pusher until the context is canceled.
// This method blocks and should be called in a goroutine.
func (p *Pusher) Start(ctx context.Context) {
	p.logger.InfoContext(ctx, "pusher started", "delay", p.delay)

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "pusher stopping")
			return
		case <-p.notify:
			if err := p.pushWithDelay(ctx); err != nil && ctx.Err() == nil {
				p.logger.ErrorContext(ctx, "push to remote failed", "error", err)
			}
		}
	}
}

// pushWithDelay waits for the debounce delay and the rate limiter, then pushes.
func (p *Pusher) pushWithDelay(ctx context.Context) error {
	if p.delay > 0 {
		p.logger.DebugContext(ctx, "waiting for push delay", "delay", p.delay)

		timer := time.NewTimer(p.delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for push slot: %w", err)
	}

	return p.pushWithRetry(ctx)
}

// pushWithRetry attempts to push to remote with exponential backoff retry logic.
func (p *Pusher) pushWithRetry(ctx context.Context) error {
	var lastErr error
	delay := p.initialDelay

	for attempt := 0; attempt <= pushMaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.InfoContext(ctx, "retrying push after delay",
				"attempt", attempt,
				"max_attempts", pushMaxRetries,
				"delay", delay,
				"previous_error", lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := p.pusher.Push(ctx); err != nil {
			lastErr = err
			p.logger.WarnContext(ctx, "push failed",
				"attempt", attempt+1,
				"max_attempts", pushMaxRetries+1,
				"error", err)

			if attempt < pushMaxRetries {
				delay = time.Duration(float64(delay) * pushBackoffFactor)
			}
			continue
		}

		if attempt > 0 {
			p.logger.InfoContext(ctx, "push succeeded after retry", "attempt", attempt+1)
		}
		return nil
	}

	return fmt.Errorf("push failed after %d attempts: %w", pushMaxRetries+1, lastErr)
}
