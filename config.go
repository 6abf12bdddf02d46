package authcore

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/refresh"
)

const envPrefix = "AUTHCORE_"

// Config is the engine configuration. Start from DefaultConfig or
// LoadConfig and adjust fields before handing it to the Builder.
type Config struct {
	Password    PasswordConfig        `yaml:"password"`
	Lockout     LockoutConfig         `yaml:"lockout"`
	TOTP        mfa.TOTPConfig        `yaml:"totp"`
	BackupCodes mfa.BackupConfig      `yaml:"backup_codes"`
	JWT         JWTConfig             `yaml:"jwt"`
	Refresh     refresh.Config        `yaml:"refresh"`
	PendingMFA  refresh.PendingConfig `yaml:"pending_mfa"`
	Account     AccountConfig         `yaml:"account"`
	RateLimit   RateLimitConfig       `yaml:"rate_limit"`
	Audit       AuditConfig           `yaml:"audit"`
	Metrics     MetricsConfig         `yaml:"metrics"`
}

// PasswordConfig holds the hash work factor, the strength policy and the
// number of previous passwords that cannot be reused.
type PasswordConfig struct {
	Hash        password.Config `yaml:"hash"`
	Policy      password.Policy `yaml:"policy"`
	HistorySize int             `yaml:"history_size"`
}

// LockoutConfig is the per-account brute-force policy.
type LockoutConfig struct {
	Threshold int           `yaml:"threshold"`
	Duration  time.Duration `yaml:"duration"`
}

// JWTConfig extends the token issuer settings with key files.
type JWTConfig struct {
	jwt.Config `yaml:",inline"`

	PrivateKeyFile string `yaml:"private_key_file"`
	PublicKeyFile  string `yaml:"public_key_file"`
}

// AccountConfig controls registration.
type AccountConfig struct {
	// InitialStatus is "active" or "pending".
	InitialStatus string   `yaml:"initial_status"`
	DefaultRoles  []string `yaml:"default_roles"`
}

// RateLimitConfig holds the per-origin and per-account throttles. A zero
// budget disables the corresponding throttle.
type RateLimitConfig struct {
	MaxLoginFailures        int           `yaml:"max_login_failures"`
	LoginWindow             time.Duration `yaml:"login_window"`
	MaxRegistrations        int           `yaml:"max_registrations"`
	RegistrationWindow      time.Duration `yaml:"registration_window"`
	SecondFactorMaxAttempts int           `yaml:"second_factor_max_attempts"`
	SecondFactorWindow      time.Duration `yaml:"second_factor_window"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// DefaultConfig returns the production defaults: Argon2id at 64 MiB, lock
// after 5 failures for 30 minutes, 15 minute access tokens, 7 day refresh
// tokens (30 with remember-me), and 5 minute pending MFA sessions.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Hash:        password.DefaultConfig(),
			Policy:      password.DefaultPolicy(),
			HistorySize: 5,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		TOTP:        mfa.DefaultTOTPConfig(),
		BackupCodes: mfa.DefaultBackupConfig(),
		JWT: JWTConfig{
			Config: jwt.Config{
				AccessTTL:     15 * time.Minute,
				SigningMethod: jwt.MethodEd25519,
				Issuer:        "authcore",
			},
		},
		Refresh:    refresh.DefaultConfig(),
		PendingMFA: refresh.DefaultPendingConfig(),
		Account: AccountConfig{
			InitialStatus: "active",
			DefaultRoles:  []string{"member"},
		},
		RateLimit: RateLimitConfig{
			MaxLoginFailures:        20,
			LoginWindow:             15 * time.Minute,
			MaxRegistrations:        10,
			RegistrationWindow:      time.Hour,
			SecondFactorMaxAttempts: 10,
			SecondFactorWindow:      15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if err := c.Password.Hash.Validate(); err != nil {
		return err
	}
	if c.Password.Policy.MinLength < 8 {
		return errors.New("password policy min_length must be >= 8")
	}
	if c.Password.Policy.MaxLength != 0 && c.Password.Policy.MaxLength < c.Password.Policy.MinLength {
		return errors.New("password policy max_length must be >= min_length")
	}
	if c.Password.HistorySize < 1 || c.Password.HistorySize > 24 {
		return errors.New("password history_size must be between 1 and 24")
	}
	if c.Lockout.Threshold <= 0 {
		return errors.New("lockout threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("lockout duration must be > 0")
	}
	if err := c.TOTP.Validate(); err != nil {
		return err
	}
	if err := c.BackupCodes.Validate(); err != nil {
		return err
	}
	if c.BackupCodes.Length == c.TOTP.Digits {
		return errors.New("backup code length must differ from totp digits")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("jwt access_ttl must be > 0")
	}
	if c.JWT.SigningMethod != jwt.MethodEd25519 && c.JWT.SigningMethod != jwt.MethodHS256 {
		return fmt.Errorf("jwt signing_method %q is not supported", c.JWT.SigningMethod)
	}
	if c.JWT.AccessTTL >= c.Refresh.TTL {
		return errors.New("jwt access_ttl must be shorter than refresh ttl")
	}
	if err := c.Refresh.Validate(); err != nil {
		return err
	}
	if c.PendingMFA.TTL <= 0 || c.PendingMFA.TTL > 30*time.Minute {
		return errors.New("pending_mfa ttl must be within (0, 30m]")
	}
	if c.PendingMFA.MaxAttempts <= 0 {
		return errors.New("pending_mfa max_attempts must be > 0")
	}
	if _, err := c.initialStatus(); err != nil {
		return err
	}
	if c.RateLimit.MaxLoginFailures > 0 && c.RateLimit.LoginWindow <= 0 {
		return errors.New("rate_limit login_window must be > 0")
	}
	if c.RateLimit.MaxRegistrations > 0 && c.RateLimit.RegistrationWindow <= 0 {
		return errors.New("rate_limit registration_window must be > 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer_size must be > 0")
	}
	return nil
}

func (c *Config) initialStatus() (credential.Status, error) {
	if c.Account.InitialStatus == "" {
		return credential.StatusActive, nil
	}
	s, err := credential.ParseStatus(c.Account.InitialStatus)
	if err != nil {
		return 0, err
	}
	if s != credential.StatusActive && s != credential.StatusPending {
		return 0, errors.New("account initial_status must be active or pending")
	}
	return s, nil
}

// LoadConfig reads a YAML file over DefaultConfig, applies AUTHCORE_*
// environment overrides, loads key files and validates the result. An
// empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.loadKeys(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides follows the AUTHCORE_SECTION_KEY pattern.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(envPrefix + "JWT_SIGNING_METHOD"); v != "" {
		cfg.JWT.SigningMethod = jwt.SigningMethod(strings.ToLower(v))
	}
	if v := os.Getenv(envPrefix + "JWT_ISSUER"); v != "" {
		cfg.JWT.Issuer = v
	}
	if v := os.Getenv(envPrefix + "JWT_SECRET"); v != "" {
		cfg.JWT.PrivateKey = []byte(v)
	}
	if v := os.Getenv(envPrefix + "JWT_PRIVATE_KEY_FILE"); v != "" {
		cfg.JWT.PrivateKeyFile = v
	}
	if v := os.Getenv(envPrefix + "JWT_PUBLIC_KEY_FILE"); v != "" {
		cfg.JWT.PublicKeyFile = v
	}
	if v := os.Getenv(envPrefix + "TOTP_ISSUER"); v != "" {
		cfg.TOTP.Issuer = v
	}
	if v := os.Getenv(envPrefix + "ACCOUNT_INITIAL_STATUS"); v != "" {
		cfg.Account.InitialStatus = v
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"JWT_ACCESS_TTL", &cfg.JWT.AccessTTL},
		{"REFRESH_TTL", &cfg.Refresh.TTL},
		{"REFRESH_REMEMBER_ME_TTL", &cfg.Refresh.RememberMeTTL},
		{"LOCKOUT_DURATION", &cfg.Lockout.Duration},
		{"PENDING_MFA_TTL", &cfg.PendingMFA.TTL},
	}
	for _, d := range durations {
		v := os.Getenv(envPrefix + d.name)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("%s%s: invalid duration %q", envPrefix, d.name, v)
		}
		*d.dst = parsed
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"LOCKOUT_THRESHOLD", &cfg.Lockout.Threshold},
		{"PASSWORD_HISTORY_SIZE", &cfg.Password.HistorySize},
		{"RATE_LIMIT_MAX_LOGIN_FAILURES", &cfg.RateLimit.MaxLoginFailures},
		{"RATE_LIMIT_MAX_REGISTRATIONS", &cfg.RateLimit.MaxRegistrations},
	}
	for _, n := range ints {
		v := os.Getenv(envPrefix + n.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return fmt.Errorf("%s%s: invalid integer %q", envPrefix, n.name, v)
		}
		*n.dst = parsed
	}

	if v := os.Getenv(envPrefix + "AUDIT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sAUDIT_ENABLED: invalid boolean %q", envPrefix, v)
		}
		cfg.Audit.Enabled = b
	}
	return nil
}

func (c *Config) loadKeys() error {
	if c.JWT.PrivateKeyFile != "" {
		data, err := os.ReadFile(c.JWT.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("reading jwt private key: %w", err)
		}
		c.JWT.PrivateKey = data
	}
	if c.JWT.PublicKeyFile != "" {
		data, err := os.ReadFile(c.JWT.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("reading jwt public key: %w", err)
		}
		c.JWT.PublicKey = data
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Account.DefaultRoles = append([]string(nil), cfg.Account.DefaultRoles...)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
