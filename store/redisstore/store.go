package redisstore

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix     = "ac:"
	defaultMaxRetries = 8
	minKeyTTL         = time.Second
)

var (
	// ErrRedisUnavailable wraps every transport or server failure.
	ErrRedisUnavailable = errors.New("redisstore: redis unavailable")
	// ErrContention is returned when an optimistic update keeps losing.
	ErrContention = errors.New("redisstore: too much contention")
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every key. The default is "ac:".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithMaxRetries bounds optimistic transaction retries.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// Store implements credential.Store, refresh.Store and refresh.PendingStore.
// It is safe for concurrent use.
type Store struct {
	redis      *redis.Client
	prefix     string
	maxRetries int
}

// New returns a Store on client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{redis: client, prefix: defaultPrefix, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accountKey(id string) string { return s.prefix + "acct:" + id }

func (s *Store) identKey(ident string) string { return s.prefix + "ident:" + ident }

func (s *Store) tokenPrefix() string { return s.prefix + "rt:" }

func (s *Store) tokenKey(id string) string { return s.tokenPrefix() + id }

func (s *Store) familyKey(family string) string { return s.prefix + "fam:" + family }

func (s *Store) accountTokensKey(id string) string { return s.prefix + "acctrt:" + id }

func (s *Store) expiryKey() string { return s.prefix + "rtexp" }

func (s *Store) pendingKey(id string) string { return s.prefix + "pend:" + id }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

func keyTTL(until, now time.Time) time.Duration {
	ttl := until.Sub(now)
	if ttl < minKeyTTL {
		return minKeyTTL
	}
	return ttl
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func fromMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
