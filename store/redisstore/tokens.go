package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/refresh"
)

const (
	rotateNotFound  = 0
	rotateNotActive = 1
	rotateDuplicate = 2
	rotateDone      = 3
)

// insertTokenLua writes a new token hash and indexes it.
// KEYS: token, family set, account set, expiry zset.
// ARGV: id, ttl ms, expires ms, field/value pairs...
var insertTokenLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('PEXPIRE', KEYS[1], ARGV[2])
for i = 2, 3 do
  redis.call('SADD', KEYS[i], ARGV[1])
  local ttl = redis.call('PTTL', KEYS[i])
  if ttl < tonumber(ARGV[2]) then
    redis.call('PEXPIRE', KEYS[i], ARGV[2])
  end
end
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
return 1
`)

// rotateTokenLua revokes KEYS[1] and inserts KEYS[2] if KEYS[1] is active
// and unexpired at ARGV[1].
// KEYS: old token, new token, family set, account set, expiry zset.
// ARGV: now ms, new id, ttl ms, expires ms, field/value pairs...
var rotateTokenLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if redis.call('HGET', KEYS[1], 'active') ~= '1' then
  return 1
end
if tonumber(redis.call('HGET', KEYS[1], 'expires')) <= tonumber(ARGV[1]) then
  return 1
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 2
end
redis.call('HSET', KEYS[1], 'active', '0', 'revoked_at', ARGV[1], 'revoked_reason', 'rotation', 'revoked_by', redis.call('HGET', KEYS[1], 'account'), 'last_used', ARGV[1])
redis.call('HINCRBY', KEYS[1], 'use_count', 1)
redis.call('HSET', KEYS[2], unpack(ARGV, 5))
redis.call('PEXPIRE', KEYS[2], ARGV[3])
for i = 3, 4 do
  redis.call('SADD', KEYS[i], ARGV[2])
  local ttl = redis.call('PTTL', KEYS[i])
  if ttl < tonumber(ARGV[3]) then
    redis.call('PEXPIRE', KEYS[i], ARGV[3])
  end
end
redis.call('ZADD', KEYS[5], ARGV[4], ARGV[2])
return 3
`)

// revokeTokenLua returns -1 for unknown tokens, 1 when it revoked one and
// 0 when it was already revoked.
var revokeTokenLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'active') ~= '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'active', '0', 'revoked_at', ARGV[1], 'revoked_reason', ARGV[2], 'revoked_by', ARGV[3])
return 1
`)

// revokeSetLua revokes every active member of the id set KEYS[1].
// ARGV: now ms, reason, actor, token key prefix, device id filter.
var revokeSetLua = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  local key = ARGV[4] .. id
  if redis.call('HGET', key, 'active') == '1' then
    if ARGV[5] == '' or redis.call('HGET', key, 'device_id') == ARGV[5] then
      redis.call('HSET', key, 'active', '0', 'revoked_at', ARGV[1], 'revoked_reason', ARGV[2], 'revoked_by', ARGV[3])
      n = n + 1
    end
  end
end
return n
`)

// deleteExpiredLua removes up to ARGV[2] tokens with expiry <= ARGV[1].
// ARGV[3] is the key prefix.
var deleteExpiredLua = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  local key = ARGV[3] .. 'rt:' .. id
  local account = redis.call('HGET', key, 'account')
  local family = redis.call('HGET', key, 'family')
  if account then
    redis.call('SREM', ARGV[3] .. 'acctrt:' .. account, id)
  end
  if family then
    redis.call('SREM', ARGV[3] .. 'fam:' .. family, id)
  end
  redis.call('DEL', key)
  redis.call('ZREM', KEYS[1], id)
end
return #ids
`)

func tokenFields(t *refresh.Token) ([]interface{}, error) {
	device, err := json.Marshal(t.Device)
	if err != nil {
		return nil, err
	}

	remember := "0"
	if t.RememberMe {
		remember = "1"
	}
	active := "0"
	if t.Active {
		active = "1"
	}

	fields := []interface{}{
		"id", t.ID,
		"account", t.AccountID,
		"device", string(device),
		"device_id", t.Device.ID,
		"family", t.Family,
		"parent", t.Parent,
		"active", active,
		"remember", remember,
		"created", millis(t.CreatedAt),
		"expires", millis(t.ExpiresAt),
		"last_used", millis(t.LastUsedAt),
		"use_count", strconv.Itoa(t.UseCount),
	}
	if t.RevokedAt != nil {
		fields = append(fields,
			"revoked_at", millis(*t.RevokedAt),
			"revoked_reason", t.RevokedReason,
			"revoked_by", t.RevokedBy,
		)
	}
	return fields, nil
}

func parseToken(h map[string]string) (*refresh.Token, error) {
	t := &refresh.Token{
		ID:            h["id"],
		AccountID:     h["account"],
		Family:        h["family"],
		Parent:        h["parent"],
		Active:        h["active"] == "1",
		RememberMe:    h["remember"] == "1",
		CreatedAt:     fromMillis(h["created"]),
		ExpiresAt:     fromMillis(h["expires"]),
		LastUsedAt:    fromMillis(h["last_used"]),
		RevokedReason: h["revoked_reason"],
		RevokedBy:     h["revoked_by"],
	}
	t.UseCount, _ = strconv.Atoi(h["use_count"])
	if raw := h["revoked_at"]; raw != "" {
		at := fromMillis(raw)
		t.RevokedAt = &at
	}
	if err := json.Unmarshal([]byte(h["device"]), &t.Device); err != nil {
		return nil, err
	}
	return t, nil
}

// InsertToken implements refresh.Store.
func (s *Store) InsertToken(ctx context.Context, t *refresh.Token) error {
	fields, err := tokenFields(t)
	if err != nil {
		return err
	}

	ttl := keyTTL(t.ExpiresAt, t.CreatedAt)
	keys := []string{s.tokenKey(t.ID), s.familyKey(t.Family), s.accountTokensKey(t.AccountID), s.expiryKey()}
	args := append([]interface{}{t.ID, ttl.Milliseconds(), t.ExpiresAt.UnixMilli()}, fields...)

	ok, err := insertTokenLua.Run(ctx, s.redis, keys, args...).Int()
	if err != nil {
		return unavailable(err)
	}
	if ok == 0 {
		return refresh.ErrDuplicate
	}
	return nil
}

// TokenByID implements refresh.Store.
func (s *Store) TokenByID(ctx context.Context, id string) (*refresh.Token, error) {
	h, err := s.redis.HGetAll(ctx, s.tokenKey(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(h) == 0 {
		return nil, refresh.ErrNotFound
	}
	return parseToken(h)
}

// RotateToken implements refresh.Store.
func (s *Store) RotateToken(ctx context.Context, oldID string, next *refresh.Token, now time.Time) error {
	fields, err := tokenFields(next)
	if err != nil {
		return err
	}

	ttl := keyTTL(next.ExpiresAt, now)
	keys := []string{
		s.tokenKey(oldID),
		s.tokenKey(next.ID),
		s.familyKey(next.Family),
		s.accountTokensKey(next.AccountID),
		s.expiryKey(),
	}
	args := append([]interface{}{now.UnixMilli(), next.ID, ttl.Milliseconds(), next.ExpiresAt.UnixMilli()}, fields...)

	status, err := rotateTokenLua.Run(ctx, s.redis, keys, args...).Int()
	if err != nil {
		return unavailable(err)
	}
	switch status {
	case rotateDone:
		return nil
	case rotateNotFound:
		return refresh.ErrNotFound
	case rotateDuplicate:
		return refresh.ErrDuplicate
	default:
		return refresh.ErrNotActive
	}
}

// RevokeToken implements refresh.Store.
func (s *Store) RevokeToken(ctx context.Context, id string, rev refresh.Revocation) (bool, error) {
	n, err := revokeTokenLua.Run(ctx, s.redis, []string{s.tokenKey(id)}, rev.At.UnixMilli(), rev.Reason, rev.Actor).Int()
	if err != nil {
		return false, unavailable(err)
	}
	if n < 0 {
		return false, refresh.ErrNotFound
	}
	return n == 1, nil
}

// RevokeFamily implements refresh.Store.
func (s *Store) RevokeFamily(ctx context.Context, family string, rev refresh.Revocation) (int, error) {
	return s.revokeSet(ctx, s.familyKey(family), "", rev)
}

// RevokeAccount implements refresh.Store.
func (s *Store) RevokeAccount(ctx context.Context, accountID string, rev refresh.Revocation) (int, error) {
	return s.revokeSet(ctx, s.accountTokensKey(accountID), "", rev)
}

// RevokeDevice implements refresh.Store.
func (s *Store) RevokeDevice(ctx context.Context, accountID, deviceID string, rev refresh.Revocation) (int, error) {
	if deviceID == "" {
		return 0, nil
	}
	return s.revokeSet(ctx, s.accountTokensKey(accountID), deviceID, rev)
}

func (s *Store) revokeSet(ctx context.Context, setKey, deviceID string, rev refresh.Revocation) (int, error) {
	n, err := revokeSetLua.Run(ctx, s.redis, []string{setKey}, rev.At.UnixMilli(), rev.Reason, rev.Actor, s.tokenPrefix(), deviceID).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// TokensByAccount implements refresh.Store. Members whose hash has
// expired out of Redis are skipped.
func (s *Store) TokensByAccount(ctx context.Context, accountID string) ([]refresh.Token, error) {
	ids, err := s.redis.SMembers(ctx, s.accountTokensKey(accountID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.tokenKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	out := make([]refresh.Token, 0, len(ids))
	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		t, err := parseToken(h)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

// DeleteExpired implements refresh.Store.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	n, err := deleteExpiredLua.Run(ctx, s.redis, []string{s.expiryKey()}, before.UnixMilli(), limit, s.prefix).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}
