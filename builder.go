package authcore

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store/redisstore"
)

// Builder assembles an Engine. Configure it once during startup and call
// Build; a Builder cannot be reused.
type Builder struct {
	config Config
	redis  *redis.Client

	accounts credential.Store
	tokens   refresh.Store
	pending  refresh.PendingStore

	permissions []string
	roles       map[string][]string

	notifier      Notifier
	fingerprinter session.Fingerprinter
	auditSink     AuditSink
	logger        *slog.Logger
	clock         func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client. It backs any store not given through
// WithStores, the per-client login throttle and the second-factor throttle.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithStores sets the persistence backends explicitly, for example a
// Postgres store. Nil arguments fall back to the Redis store.
func (b *Builder) WithStores(accounts credential.Store, tokens refresh.Store, pending refresh.PendingStore) *Builder {
	b.accounts = accounts
	b.tokens = tokens
	b.pending = pending
	return b
}

// WithPermissions declares the permission names roles may grant.
func (b *Builder) WithPermissions(perms []string) *Builder {
	b.permissions = append([]string(nil), perms...)
	return b
}

// WithRoles maps role names to permission names. Without it every default
// account role is registered with no permissions.
func (b *Builder) WithRoles(roles map[string][]string) *Builder {
	b.roles = roles
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithFingerprinter replaces session.DefaultFingerprinter.
func (b *Builder) WithFingerprinter(f session.Fingerprinter) *Builder {
	b.fingerprinter = f
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now, mainly for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	accounts, tokens, pending := b.accounts, b.tokens, b.pending
	if accounts == nil || tokens == nil || pending == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or explicit stores required")
		}
		rs := redisstore.New(b.redis)
		if accounts == nil {
			accounts = rs
		}
		if tokens == nil {
			tokens = rs
		}
		if pending == nil {
			pending = rs
		}
	}

	roles, err := b.buildRoles(cfg)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password.Hash)
	if err != nil {
		return nil, err
	}

	jwtCfg := cfg.JWT.Config
	if jwtCfg.SigningMethod == jwt.MethodEd25519 && len(jwtCfg.PrivateKey) == 0 && len(jwtCfg.PublicKey) == 0 {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		jwtCfg.PrivateKey = priv
		logger.Warn("authcore: no jwt signing key configured, using an ephemeral ed25519 key")
	}
	issuer, err := jwt.NewManager(jwtCfg)
	if err != nil {
		return nil, err
	}

	initial, err := cfg.initialStatus()
	if err != nil {
		return nil, err
	}

	rotation := refresh.NewManager(tokens, cfg.Refresh)
	creds, err := credential.NewService(accounts, hasher, rotation, credential.Options{
		Policy:           cfg.Password.Policy,
		LockoutThreshold: cfg.Lockout.Threshold,
		LockoutDuration:  cfg.Lockout.Duration,
		HistorySize:      cfg.Password.HistorySize,
		InitialStatus:    initial,
		DefaultRoles:     cfg.Account.DefaultRoles,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	fp := b.fingerprinter
	if fp == nil {
		fp = session.DefaultFingerprinter{}
	}

	e := &Engine{
		config:        cfg,
		logger:        logger,
		clock:         clock,
		credentials:   creds,
		accounts:      accounts,
		refresh:       rotation,
		pending:       refresh.NewPending(pending, cfg.PendingMFA),
		sessions:      session.NewRegistry(tokens),
		fingerprinter: fp,
		jwt:           issuer,
		totp:          mfa.NewTOTP(cfg.TOTP),
		roles:         roles,
		notifier:      b.notifier,
		metrics:       NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Logger:     logger,
		}, b.auditSink),
	}

	if b.redis != nil {
		e.rate = rate.New(b.redis, rate.Config{
			MaxLoginFailures:   cfg.RateLimit.MaxLoginFailures,
			LoginWindow:        cfg.RateLimit.LoginWindow,
			MaxRegistrations:   cfg.RateLimit.MaxRegistrations,
			RegistrationWindow: cfg.RateLimit.RegistrationWindow,
		})
		if cfg.RateLimit.SecondFactorMaxAttempts > 0 {
			e.secondFactor = limiters.NewSecondFactorLimiter(b.redis, limiters.SecondFactorConfig{
				MaxAttempts: cfg.RateLimit.SecondFactorMaxAttempts,
				Window:      cfg.RateLimit.SecondFactorWindow,
			})
		}
	} else {
		logger.Warn("authcore: no redis client, per-client and per-account throttles are disabled")
	}

	return e, nil
}

func (b *Builder) buildRoles(cfg Config) (*permission.RoleManager, error) {
	registry := permission.NewRegistry()
	for _, p := range b.permissions {
		if err := registry.Register(p); err != nil {
			return nil, fmt.Errorf("permission %q: %w", p, err)
		}
	}
	registry.Freeze()

	manager := permission.NewRoleManager(registry)
	roles := b.roles
	if len(roles) == 0 {
		roles = make(map[string][]string, len(cfg.Account.DefaultRoles))
		for _, r := range cfg.Account.DefaultRoles {
			roles[r] = nil
		}
	}

	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := manager.RegisterRole(name, roles[name]...); err != nil {
			return nil, fmt.Errorf("role %q: %w", name, err)
		}
	}

	if err := manager.Validate(cfg.Account.DefaultRoles); err != nil {
		return nil, fmt.Errorf("account default roles: %w", err)
	}
	manager.Freeze()
	return manager, nil
}
