package redisstore

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/refresh"
)

// pendingFailureLua returns -1 for missing records, otherwise the new
// attempt count. The record is deleted once it reaches ARGV[1].
var pendingFailureLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local n = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if n >= tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
end
return n
`)

// SavePending implements refresh.PendingStore.
func (s *Store) SavePending(ctx context.Context, p *refresh.PendingSession) error {
	device, err := json.Marshal(p.Device)
	if err != nil {
		return err
	}
	remember := "0"
	if p.RememberMe {
		remember = "1"
	}

	key := s.pendingKey(p.ID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"account", p.AccountID,
			"device", string(device),
			"remember", remember,
			"attempts", strconv.Itoa(p.Attempts),
			"created", millis(p.CreatedAt),
			"expires", millis(p.ExpiresAt),
		)
		pipe.PExpire(ctx, key, keyTTL(p.ExpiresAt, p.CreatedAt))
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// PendingByID implements refresh.PendingStore.
func (s *Store) PendingByID(ctx context.Context, id string) (*refresh.PendingSession, error) {
	h, err := s.redis.HGetAll(ctx, s.pendingKey(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(h) == 0 {
		return nil, refresh.ErrNotFound
	}

	p := &refresh.PendingSession{
		ID:         id,
		AccountID:  h["account"],
		RememberMe: h["remember"] == "1",
		CreatedAt:  fromMillis(h["created"]),
		ExpiresAt:  fromMillis(h["expires"]),
	}
	p.Attempts, _ = strconv.Atoi(h["attempts"])
	if err := json.Unmarshal([]byte(h["device"]), &p.Device); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordPendingFailure implements refresh.PendingStore.
func (s *Store) RecordPendingFailure(ctx context.Context, id string, maxAttempts int) (int, error) {
	n, err := pendingFailureLua.Run(ctx, s.redis, []string{s.pendingKey(id)}, maxAttempts).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	if n < 0 {
		return 0, refresh.ErrNotFound
	}
	return n, nil
}

// ConsumePending implements refresh.PendingStore.
func (s *Store) ConsumePending(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Del(ctx, s.pendingKey(id)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}
