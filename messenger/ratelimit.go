package messenger

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/mykhaliev/agent-sim/logger"
	"github.com/mykhaliev/agent-sim/model"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	significantWait       = 10 * time.Millisecond
)

// RateLimitStats counts throttling and retry activity.
type RateLimitStats struct {
	ThrottleCount     int           `json:"throttleCount"`
	ThrottleWaitTime  time.Duration `json:"throttleWaitTime"`
	BusyHits          int           `json:"busyHits"`
	RetryCount        int           `json:"retryCount"`
	RetryWaitTime     time.Duration `json:"retryWaitTime"`
	RetrySuccessCount int           `json:"retrySuccessCount"`
}

// RateLimitedMessenger throttles sends to an RPM budget and retries sends
// rejected with ErrBusy. Throttling is proactive; retries are reactive.
type RateLimitedMessenger struct {
	wrapped     Messenger
	rpmLimiter  *rate.Limiter
	retryOnBusy bool
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu    sync.Mutex
	stats RateLimitStats
}

func NewRateLimitedMessenger(wrapped Messenger, limits model.RateLimitConfig, retry model.RetryConfig) *RateLimitedMessenger {
	maxRetries := retry.MaxRetries
	if retry.RetryOnBusy && maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	rl := &RateLimitedMessenger{
		wrapped:     wrapped,
		retryOnBusy: retry.RetryOnBusy,
		maxRetries:  maxRetries,
		baseBackoff: defaultInitialBackoff,
		maxBackoff:  defaultMaxBackoff,
	}

	// burst is one request so the first minute is spread evenly
	if limits.RPM > 0 {
		perSecond := float64(limits.RPM) / 60.0
		rl.rpmLimiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		logger.Logger.Info("Rate limiter configured", "type", "RPM", "limit", limits.RPM, "requests_per_second", perSecond)
	}
	if retry.RetryOnBusy {
		logger.Logger.Info("Busy retry handling enabled", "max_retries", maxRetries)
	}
	return rl
}

// WithBackoff overrides the retry backoff bounds.
func (rl *RateLimitedMessenger) WithBackoff(initial, ceiling time.Duration) *RateLimitedMessenger {
	rl.baseBackoff = initial
	rl.maxBackoff = ceiling
	return rl
}

func (rl *RateLimitedMessenger) Name() string { return rl.wrapped.Name() }

func (rl *RateLimitedMessenger) Send(ctx context.Context, msg *model.Message) (string, error) {
	for attempt := 0; ; attempt++ {
		if err := rl.throttle(ctx); err != nil {
			return "", err
		}

		id, err := rl.wrapped.Send(ctx, msg)
		if err == nil {
			if attempt > 0 {
				rl.record(func(s *RateLimitStats) { s.RetrySuccessCount++ })
				logger.Logger.Info("Send succeeded after retry", "to", msg.To, "attempts", attempt+1)
			}
			return id, nil
		}

		if !errors.Is(err, ErrBusy) {
			return "", err
		}
		rl.record(func(s *RateLimitStats) { s.BusyHits++ })

		if !rl.retryOnBusy || attempt >= rl.maxRetries {
			return "", err
		}

		wait := rl.backoff(attempt, err)
		logger.Logger.Warn("Messaging system busy, retrying",
			"to", msg.To,
			"attempt", attempt+1,
			"max_retries", rl.maxRetries,
			"wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		rl.record(func(s *RateLimitStats) {
			s.RetryCount++
			s.RetryWaitTime += wait
		})
	}
}

func (rl *RateLimitedMessenger) throttle(ctx context.Context) error {
	if rl.rpmLimiter == nil {
		return nil
	}
	start := time.Now()
	if err := rl.rpmLimiter.Wait(ctx); err != nil {
		return err
	}
	if waited := time.Since(start); waited > significantWait {
		rl.record(func(s *RateLimitStats) {
			s.ThrottleCount++
			s.ThrottleWaitTime += waited
		})
	}
	return nil
}

// backoff prefers the server's Retry-After hint, else doubles from the base.
func (rl *RateLimitedMessenger) backoff(attempt int, err error) time.Duration {
	var busy *BusyError
	if errors.As(err, &busy) && busy.RetryAfter > 0 {
		return min(busy.RetryAfter, rl.maxBackoff)
	}
	d := time.Duration(float64(rl.baseBackoff) * math.Pow(2, float64(attempt)))
	return min(d, rl.maxBackoff)
}

func (rl *RateLimitedMessenger) record(update func(*RateLimitStats)) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	update(&rl.stats)
}

func (rl *RateLimitedMessenger) Stats() RateLimitStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.stats
}

func (rl *RateLimitedMessenger) Close() error {
	return rl.wrapped.Close()
}

func NeedsWrapper(limits model.RateLimitConfig, retry model.RetryConfig) bool {
	return limits.RPM > 0 || retry.RetryOnBusy
}
