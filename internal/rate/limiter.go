package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the per-client budgets. A zero budget disables that throttle.
type Config struct {
	MaxLoginFailures   int           `yaml:"max_login_failures"`
	LoginWindow        time.Duration `yaml:"login_window"`
	MaxRegistrations   int           `yaml:"max_registrations"`
	RegistrationWindow time.Duration `yaml:"registration_window"`
}

// Limiter counts events per client address in Redis. Lockout is keyed by
// account; this layer slows a single origin spraying many accounts.
//
// A nil *Limiter allows everything.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, config: cfg}
}

// CheckLogin fails with ErrRateLimited when ip has used its login failure budget.
func (l *Limiter) CheckLogin(ctx context.Context, ip string) error {
	if l == nil || l.config.MaxLoginFailures <= 0 || ip == "" {
		return nil
	}
	return l.checkCounter(ctx, loginKey(ip), l.config.MaxLoginFailures)
}

// RecordLoginFailure counts one failed login from ip.
func (l *Limiter) RecordLoginFailure(ctx context.Context, ip string) error {
	if l == nil || l.config.MaxLoginFailures <= 0 || ip == "" {
		return nil
	}
	_, err := l.incrementWithTTL(ctx, loginKey(ip), l.config.LoginWindow)
	return err
}

// AllowRegistration counts a registration from ip and fails with
// ErrRateLimited once the window budget is exceeded.
func (l *Limiter) AllowRegistration(ctx context.Context, ip string) error {
	if l == nil || l.config.MaxRegistrations <= 0 || ip == "" {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, registrationKey(ip), l.config.RegistrationWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRegistrations) {
		return ErrRateLimited
	}
	return nil
}

// LoginFailures returns the current failure count for ip.
func (l *Limiter) LoginFailures(ctx context.Context, ip string) (int, error) {
	if l == nil || ip == "" {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, loginKey(ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, limit int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(limit) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: the TTL is set only on the first hit.
	if count == 1 && ttl > 0 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func loginKey(ip string) string {
	return "alc:" + ip
}

func registrationKey(ip string) string {
	return "alr:" + ip
}
