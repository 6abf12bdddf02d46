package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/credential"
)

// createAccountLua inserts the document and both index keys unless any of
// them exists. KEYS[3] equals KEYS[2] when the account has no email.
var createAccountLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
if KEYS[3] ~= KEYS[2] and redis.call('EXISTS', KEYS[3]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('SET', KEYS[3], ARGV[2])
return 1
`)

type accountRecord struct {
	ID                string                  `json:"id"`
	Handle            string                  `json:"handle"`
	Email             string                  `json:"email,omitempty"`
	PasswordHash      string                  `json:"password_hash"`
	PasswordHistory   []string                `json:"password_history,omitempty"`
	PasswordChangedAt time.Time               `json:"password_changed_at"`
	Roles             []string                `json:"roles,omitempty"`
	Status            credential.Status       `json:"status"`
	FailedAttempts    int                     `json:"failed_attempts,omitempty"`
	LockUntil         *time.Time              `json:"lock_until,omitempty"`
	MFAEnabled        bool                    `json:"mfa_enabled,omitempty"`
	MFASecret         []byte                  `json:"mfa_secret,omitempty"`
	TOTPLastStep      int64                   `json:"totp_last_step,omitempty"`
	BackupCodes       []credential.BackupCode `json:"backup_codes,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

func toRecord(a *credential.Account) accountRecord {
	return accountRecord{
		ID:                a.ID,
		Handle:            a.Handle,
		Email:             a.Email,
		PasswordHash:      a.PasswordHash,
		PasswordHistory:   a.PasswordHistory,
		PasswordChangedAt: a.PasswordChangedAt,
		Roles:             a.Roles,
		Status:            a.Status,
		FailedAttempts:    a.FailedAttempts,
		LockUntil:         a.LockUntil,
		MFAEnabled:        a.MFAEnabled,
		MFASecret:         a.MFASecret,
		TOTPLastStep:      a.TOTPLastStep,
		BackupCodes:       a.BackupCodes,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func (r *accountRecord) account() *credential.Account {
	return &credential.Account{
		ID:                r.ID,
		Handle:            r.Handle,
		Email:             r.Email,
		PasswordHash:      r.PasswordHash,
		PasswordHistory:   r.PasswordHistory,
		PasswordChangedAt: r.PasswordChangedAt,
		Roles:             r.Roles,
		Status:            r.Status,
		FailedAttempts:    r.FailedAttempts,
		LockUntil:         r.LockUntil,
		MFAEnabled:        r.MFAEnabled,
		MFASecret:         r.MFASecret,
		TOTPLastStep:      r.TOTPLastStep,
		BackupCodes:       r.BackupCodes,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// CreateAccount implements credential.Store.
func (s *Store) CreateAccount(ctx context.Context, a *credential.Account) error {
	blob, err := json.Marshal(toRecord(a))
	if err != nil {
		return err
	}

	handleKey := s.identKey(a.Handle)
	emailKey := handleKey
	if a.Email != "" {
		emailKey = s.identKey(a.Email)
	}

	created, err := createAccountLua.Run(ctx, s.redis, []string{s.accountKey(a.ID), handleKey, emailKey}, blob, a.ID).Int()
	if err != nil {
		return unavailable(err)
	}
	if created == 0 {
		return credential.ErrDuplicate
	}
	return nil
}

// AccountByID implements credential.Store.
func (s *Store) AccountByID(ctx context.Context, id string) (*credential.Account, error) {
	rec, err := s.loadAccount(ctx, s.redis, id)
	if err != nil {
		return nil, err
	}
	return rec.account(), nil
}

// AccountByIdentifier implements credential.Store.
func (s *Store) AccountByIdentifier(ctx context.Context, identifier string) (*credential.Account, error) {
	id, err := s.redis.Get(ctx, s.identKey(identifier)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return s.AccountByID(ctx, id)
}

// SaveLockout implements credential.Store.
func (s *Store) SaveLockout(ctx context.Context, id string, failedAttempts int, lockUntil *time.Time) error {
	return s.updateAccount(ctx, id, func(r *accountRecord) (bool, error) {
		r.FailedAttempts = failedAttempts
		r.LockUntil = lockUntil
		return true, nil
	})
}

// UpdatePassword implements credential.Store.
func (s *Store) UpdatePassword(ctx context.Context, id string, u credential.PasswordUpdate) error {
	return s.updateAccount(ctx, id, func(r *accountRecord) (bool, error) {
		r.PasswordHash = u.Hash
		r.PasswordHistory = u.History
		r.PasswordChangedAt = u.ChangedAt
		r.UpdatedAt = u.ChangedAt
		return true, nil
	})
}

// RehashPassword implements credential.Store.
func (s *Store) RehashPassword(ctx context.Context, id, oldHash, newHash string, at time.Time) error {
	return s.updateAccount(ctx, id, func(r *accountRecord) (bool, error) {
		if r.PasswordHash != oldHash {
			return false, nil
		}
		r.PasswordHash = newHash
		r.UpdatedAt = at
		return true, nil
	})
}

// UpdateStatus implements credential.Store.
func (s *Store) UpdateStatus(ctx context.Context, id string, status credential.Status, at time.Time) error {
	return s.updateAccount(ctx, id, func(r *accountRecord) (bool, error) {
		r.Status = status
		r.UpdatedAt = at
		return true, nil
	})
}

// SetMFASecret implements credential.Store.
func (s *Store) SetMFASecret(ctx context.Context, id string, secret []byte, at time.Time) error {
	return s.updateAccount(ctx, id, func(r *accountRecord) (bool, error) {
		r.MFAEnabled = false
		r.MFASecret = secret
		r.TOTPLastStep = 0
		r.BackupCodes = nil
		r.UpdatedAt = at
		return true, nil
	})
}

// EnableMFA implements credential.Store.
func (s *Store) EnableMFA(ctx context.Context, id string, codes []credential.BackupCode, step int64, at time.Time) error {
	return s.updateAccount(ctx, id, func(r *accountRecord) (bool, error) {
		if len(r.MFASecret) == 0 {
			return false, fmt.Errorf("%w: no secret enrolled", credential.ErrInvalidInput)
		}
		r.MFAEnabled = true
		r.BackupCodes = codes
		r.TOTPLastStep = step
		r.UpdatedAt = at
		return true, nil
	})
}

// DisableMFA implements credential.Store.
func (s *Store) DisableMFA(ctx context.Context, id string, at time.Time) error {
	return s.updateAccount(ctx, id, func(r *accountRecord) (bool, error) {
		r.MFAEnabled = false
		r.MFASecret = nil
		r.TOTPLastStep = 0
		r.BackupCodes = nil
		r.UpdatedAt = at
		return true, nil
	})
}

// ReplaceBackupCodes implements credential.Store.
func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, codes []credential.BackupCode, at time.Time) error {
	return s.updateAccount(ctx, id, func(r *accountRecord) (bool, error) {
		r.BackupCodes = codes
		r.UpdatedAt = at
		return true, nil
	})
}

// ConsumeBackupCode implements credential.Store.
func (s *Store) ConsumeBackupCode(ctx context.Context, id, hash string, at time.Time) (bool, int, error) {
	var (
		consumed  bool
		remaining int
	)
	err := s.updateAccount(ctx, id, func(r *accountRecord) (bool, error) {
		consumed, remaining = false, 0
		for i := range r.BackupCodes {
			c := &r.BackupCodes[i]
			if c.Used {
				continue
			}
			if !consumed && c.Hash == hash {
				used := at
				c.Used, c.UsedAt = true, &used
				consumed = true
				continue
			}
			remaining++
		}
		return consumed, nil
	})
	if err != nil {
		return false, 0, err
	}
	return consumed, remaining, nil
}

// AdvanceTOTPStep implements credential.Store.
func (s *Store) AdvanceTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	var advanced bool
	err := s.updateAccount(ctx, id, func(r *accountRecord) (bool, error) {
		advanced = step > r.TOTPLastStep
		if advanced {
			r.TOTPLastStep = step
		}
		return advanced, nil
	})
	return advanced, err
}

func (s *Store) loadAccount(ctx context.Context, c redis.Cmdable, id string) (*accountRecord, error) {
	data, err := c.Get(ctx, s.accountKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}

	var rec accountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("redisstore: decode account %s: %w", id, err)
	}
	return &rec, nil
}

// updateAccount applies fn to the stored document under WATCH. fn reports
// whether anything changed; unchanged documents are not written back.
func (s *Store) updateAccount(ctx context.Context, id string, fn func(*accountRecord) (bool, error)) error {
	key := s.accountKey(id)

	for i := 0; i < s.maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			rec, err := s.loadAccount(ctx, tx, id)
			if err != nil {
				return err
			}

			changed, err := fn(rec)
			if err != nil || !changed {
				return err
			}

			blob, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, blob, 0)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, credential.ErrNotFound), errors.Is(err, credential.ErrInvalidInput), errors.Is(err, ErrRedisUnavailable):
				return err
			default:
				return unavailable(err)
			}
		}
		return nil
	}
	return ErrContention
}
