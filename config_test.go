package authcore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore/jwt"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Lockout.Threshold)
	assert.Equal(t, 30*time.Minute, cfg.Lockout.Duration)
	assert.Equal(t, 5, cfg.Password.HistorySize)
	assert.Equal(t, 10, cfg.BackupCodes.Count)
	assert.Equal(t, 5*time.Minute, cfg.PendingMFA.TTL)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"lockout threshold": func(c *Config) { c.Lockout.Threshold = 0 },
		"access ttl":        func(c *Config) { c.JWT.AccessTTL = c.Refresh.TTL },
		"signing method":    func(c *Config) { c.JWT.SigningMethod = "rs512" },
		"initial status":    func(c *Config) { c.Account.InitialStatus = "suspended" },
		"pending ttl":       func(c *Config) { c.PendingMFA.TTL = time.Hour },
		"history size":      func(c *Config) { c.Password.HistorySize = 0 },
		"backup length":     func(c *Config) { c.BackupCodes.Length = 6; c.TOTP.Digits = 6 },
		"audit buffer":      func(c *Config) { c.Audit.BufferSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "hs256.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("0123456789abcdef0123456789abcdef"), 0o600))

	path := filepath.Join(dir, "authcore.yaml")
	yaml := `
lockout:
  threshold: 7
jwt:
  signing_method: hs256
  issuer: example
  private_key_file: ` + keyPath + `
refresh:
  ttl: 48h
  remember_me_ttl: 240h
account:
  default_roles: [user]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("AUTHCORE_LOCKOUT_DURATION", "10m")
	t.Setenv("AUTHCORE_JWT_ISSUER", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Lockout.Threshold)
	assert.Equal(t, 10*time.Minute, cfg.Lockout.Duration)
	assert.Equal(t, jwt.MethodHS256, cfg.JWT.SigningMethod)
	assert.Equal(t, "from-env", cfg.JWT.Issuer)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), cfg.JWT.PrivateKey)
	assert.Equal(t, 48*time.Hour, cfg.Refresh.TTL)
	assert.Equal(t, []string{"user"}, cfg.Account.DefaultRoles)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5*time.Minute, cfg.PendingMFA.TTL)
}

func TestLoadConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("AUTHCORE_LOCKOUT_THRESHOLD", "many")
	_, err := LoadConfig("")
	require.Error(t, err)
}

func TestBuildRequiresBackend(t *testing.T) {
	_, err := New().WithConfig(testConfig()).Build()
	require.Error(t, err)
}

func TestBuilderIsSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig())
	_, _ = b.Build()
	_, err := b.Build()
	require.EqualError(t, err, "builder already used")
}
