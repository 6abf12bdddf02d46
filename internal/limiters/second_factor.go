package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultSecondFactorAttempts = 10
	defaultSecondFactorWindow   = 15 * time.Minute
)

var (
	// ErrSecondFactorRateLimited is returned once an account has used its
	// failure budget for the current window.
	ErrSecondFactorRateLimited = errors.New("second factor rate limited")
	// ErrSecondFactorUnavailable indicates the counter backend is unreachable.
	ErrSecondFactorUnavailable = errors.New("second factor limiter unavailable")
)

// SecondFactorConfig bounds failed code submissions per account.
type SecondFactorConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}

// SecondFactorLimiter counts failed TOTP and backup code submissions per
// account. It complements the per-handle attempt cap on pending sessions,
// which an attacker holding the password could sidestep by opening new ones.
//
// A nil *SecondFactorLimiter allows everything.
type SecondFactorLimiter struct {
	redis       redis.UniversalClient
	maxAttempts int64
	window      time.Duration
}

// NewSecondFactorLimiter returns a limiter on redisClient. Zero fields fall
// back to 10 attempts per 15 minutes.
func NewSecondFactorLimiter(redisClient redis.UniversalClient, cfg SecondFactorConfig) *SecondFactorLimiter {
	limit := cfg.MaxAttempts
	if limit <= 0 {
		limit = defaultSecondFactorAttempts
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultSecondFactorWindow
	}
	return &SecondFactorLimiter{redis: redisClient, maxAttempts: int64(limit), window: window}
}

func (l *SecondFactorLimiter) key(accountID string) string {
	return "ac2f:" + accountID
}

// Check fails with ErrSecondFactorRateLimited when the budget is spent.
func (l *SecondFactorLimiter) Check(ctx context.Context, accountID string) error {
	if l == nil || l.redis == nil {
		return nil
	}

	count, err := l.redis.Get(ctx, l.key(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrSecondFactorRateLimited
	}
	return nil
}

// RecordFailure counts one failed submission. The window starts at the
// first failure.
func (l *SecondFactorLimiter) RecordFailure(ctx context.Context, accountID string) error {
	if l == nil || l.redis == nil {
		return nil
	}

	count, err := l.redis.Incr(ctx, l.key(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(accountID), l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrSecondFactorRateLimited
	}
	return nil
}

// Reset clears the counter after a successful submission.
func (l *SecondFactorLimiter) Reset(ctx context.Context, accountID string) error {
	if l == nil || l.redis == nil {
		return nil
	}

	if err := l.redis.Del(ctx, l.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSecondFactorUnavailable, err)
	}
	return nil
}
