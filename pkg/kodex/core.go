package kodex

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/internal/audit"
	"github.com/kodex-auth/go-core/internal/authflow"
	"github.com/kodex-auth/go-core/internal/command"
	"github.com/kodex-auth/go-core/internal/db"
	"github.com/kodex-auth/go-core/internal/eventbus"
	"github.com/kodex-auth/go-core/internal/hashing"
	"github.com/kodex-auth/go-core/internal/hooks"
	"github.com/kodex-auth/go-core/internal/lockout"
	"github.com/kodex-auth/go-core/internal/metrics"
	"github.com/kodex-auth/go-core/internal/ratelimit"
	"github.com/kodex-auth/go-core/internal/reset"
	"github.com/kodex-auth/go-core/internal/token"
	"github.com/kodex-auth/go-core/internal/user"
	"github.com/kodex-auth/go-core/internal/validation"
)

// coreProvider is the registry provider name for built-in subscribers.
const coreProvider = "kodex.core"

// failedAttemptRetention bounds how long failed-login rows are kept.
const failedAttemptRetention = 30 * 24 * time.Hour

// SubscriberRegistration attaches an extension subscriber under its
// provider name.
type SubscriberRegistration struct {
	Provider   string
	Subscriber eventbus.Subscriber
}

// Options carries the host-supplied collaborators.
type Options struct {
	// DB selects Postgres persistence. Nil runs on in-memory stores.
	DB *sql.DB

	// Redis backs the rate limiter. Nil uses the in-memory limiter.
	Redis redis.UniversalClient

	// Sender dispatches password reset messages. Nil logs instead.
	Sender reset.Sender

	// Signer overrides the config-derived JWT signer.
	Signer token.Signer

	Logger  *zap.Logger
	Metrics metrics.Metrics

	// Hooks are the host's lifecycle interceptors.
	Hooks []hooks.Hook

	// Subscribers are extension event subscribers to register and attach.
	Subscribers []SubscriberRegistration
}

// Core is the assembled authentication core. One Core serves all realms
// of the embedding host.
type Core struct {
	cfg    Config
	logger *zap.Logger

	bus      *eventbus.Bus
	registry *eventbus.Registry

	users    user.Store
	profiles user.ProfileStore
	attrs    user.AttributeStore
	roles    user.RoleStore

	hasher hashing.Hasher

	tokens     *token.Manager
	auth       *authflow.Authenticator
	resets     *reset.Service
	lockouts   *lockout.Service
	commands   *command.Processor
	retention  *audit.Retention
	auditStore audit.Store
	auditFile  *audit.FileWriter

	sqlDB *sql.DB

	stopSweeps chan struct{}
	sweepsDone sync.WaitGroup
	closeOnce  sync.Once
}

// New assembles a Core from configuration and options.
func New(cfg Config, opts Options) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Noop{}
	}

	c := &Core{
		cfg:        cfg,
		logger:     logger,
		sqlDB:      opts.DB,
		stopSweeps: make(chan struct{}),
	}

	signer, err := buildSigner(cfg.Signing, opts.Signer)
	if err != nil {
		return nil, err
	}

	params, err := hashing.PresetByName(cfg.Hashing.Preset)
	if err != nil {
		return nil, err
	}
	hasher, err := hashing.NewPasswordHasher(params)
	if err != nil {
		return nil, err
	}
	c.hasher = hasher

	// Storage.
	var (
		tokenStore   token.Store
		resetStore   reset.Store
		auditStore   audit.Store
		attemptStore lockout.AttemptStore
		lockStore    lockout.LockStore
	)
	if opts.DB != nil {
		userPG := user.NewPostgresStore(opts.DB)
		c.users, c.profiles, c.attrs, c.roles = userPG, userPG, userPG, userPG
		tokenStore = token.NewPostgresStore(opts.DB)
		resetStore = reset.NewPostgresStore(opts.DB)
		auditStore = audit.NewPostgresStore(opts.DB)
		lockPG := lockout.NewPostgresStore(opts.DB)
		attemptStore, lockStore = lockPG, lockPG
	} else {
		userMem := user.NewMemoryStore()
		c.users, c.profiles, c.attrs, c.roles = userMem, userMem, userMem, userMem
		tokenStore = token.NewMemoryStore()
		resetStore = reset.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
		lockMem := lockout.NewMemoryStore()
		attemptStore, lockStore = lockMem, lockMem
	}

	var limiter ratelimit.Limiter
	if opts.Redis != nil {
		limiter = ratelimit.NewRedisLimiter(opts.Redis, "")
	} else {
		limiter = ratelimit.NewMemoryLimiter()
	}

	// Event fabric.
	c.registry = eventbus.NewRegistry()
	c.bus, err = eventbus.New(c.registry, eventbus.Config{
		QueueCapacity: cfg.EventBus.QueueCapacity,
		DrainTimeout:  cfg.EventBus.DrainTimeout.Std(),
		Logger:        logger.Named("eventbus"),
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Audit.File.Path != "" {
		c.auditFile, err = audit.NewFileWriter(audit.FileConfig{
			Path:       cfg.Audit.File.Path,
			MaxSizeMB:  cfg.Audit.File.MaxSizeMB,
			MaxAgeDays: cfg.Audit.File.MaxAgeDays,
			MaxBackups: cfg.Audit.File.MaxBackups,
		})
		if err != nil {
			return nil, err
		}
	}
	c.auditStore = auditStore
	auditSub := audit.NewSubscriber(auditStore, c.auditFile, logger.Named("audit"), m)
	c.registry.Register(coreProvider, auditSub)
	if err := c.bus.Subscribe(auditSub); err != nil {
		return nil, err
	}
	for _, reg := range opts.Subscribers {
		c.registry.Register(reg.Provider, reg.Subscriber)
		if err := c.bus.Subscribe(reg.Subscriber); err != nil {
			return nil, err
		}
	}

	c.retention, err = audit.NewRetention(auditStore, audit.RetentionConfig{
		Period: cfg.Audit.RetentionPeriod.Std(),
		Logger: logger.Named("audit"),
	})
	if err != nil {
		return nil, err
	}

	// Hooks.
	hookRegistry := hooks.NewRegistry()
	for _, h := range opts.Hooks {
		hookRegistry.Add(h)
	}
	executor, err := hooks.NewExecutor(hookRegistry,
		hooks.FailureStrategy(cfg.Hooks.FailureStrategy), logger.Named("hooks"))
	if err != nil {
		return nil, err
	}

	// Services.
	c.tokens, err = token.NewManager(signer, tokenStore, c.bus, token.Config{
		AccessValidity:    cfg.Token.AccessValidity.Std(),
		RefreshValidity:   cfg.Token.RefreshValidity.Std(),
		PersistAccess:     cfg.Token.PersistAccess,
		RotationPolicy:    token.RotationPolicy(cfg.Token.RotationPolicy),
		ReplayGracePeriod: cfg.Token.ReplayGracePeriod.Std(),
		Logger:            logger.Named("token"),
		Metrics:           m,
	})
	if err != nil {
		return nil, err
	}

	policy, err := lockoutPolicy(cfg.Lockout)
	if err != nil {
		return nil, err
	}
	c.lockouts, err = lockout.NewService(attemptStore, lockStore, c.bus, lockout.Config{
		Policy:  policy,
		Logger:  logger.Named("lockout"),
		Metrics: m,
	})
	if err != nil {
		return nil, err
	}

	sender := opts.Sender
	if sender == nil {
		sender = reset.NewLogSender(logger.Named("reset"))
	}
	c.resets, err = reset.NewService(resetStore, c.users, limiter, sender, c.bus, reset.Config{
		TokenValidity:            cfg.Reset.TokenValidity.Std(),
		MaxAttemptsPerUser:       cfg.Reset.MaxAttemptsPerUser,
		MaxAttemptsPerIdentifier: cfg.Reset.MaxAttemptsPerIdentifier,
		MaxAttemptsPerIP:         cfg.Reset.MaxAttemptsPerIP,
		RateLimitWindow:          cfg.Reset.RateLimitWindow.Std(),
		CooldownPeriod:           cfg.Reset.CooldownPeriod.Std(),
		Logger:                   logger.Named("reset"),
		Metrics:                  m,
	})
	if err != nil {
		return nil, err
	}

	c.commands, err = command.NewProcessor(c.users, c.profiles, c.attrs, executor, c.bus, command.Config{
		Email:           emailOptions(cfg.Email),
		Phone:           phoneOptions(cfg.Phone),
		AttributeLimits: attributeLimits(cfg.Attrs),
		Logger:          logger.Named("command"),
	})
	if err != nil {
		return nil, err
	}

	c.auth, err = authflow.NewAuthenticator(c.users, c.roles, hasher, c.tokens,
		c.lockouts, c.resets, executor, c.bus, authflow.Config{
			PasswordPolicy: passwordPolicy(cfg.Password),
			Logger:         logger.Named("authflow"),
			Metrics:        m,
		})
	if err != nil {
		return nil, err
	}

	c.sweepsDone.Add(1)
	go c.runSweeps()

	return c, nil
}

// Migrate applies the embedded schema migrations. It requires a
// Postgres-backed Core.
func (c *Core) Migrate() error {
	if c.sqlDB == nil {
		return errors.New("migrations require a database-backed core")
	}
	runner, err := db.NewMigrationRunner(c.sqlDB, c.logger.Named("db"))
	if err != nil {
		return err
	}
	return runner.Up()
}

// Accessors for the host.

func (c *Core) Authenticator() *authflow.Authenticator { return c.auth }
func (c *Core) Tokens() *token.Manager                 { return c.tokens }
func (c *Core) Resets() *reset.Service                 { return c.resets }
func (c *Core) Lockouts() *lockout.Service             { return c.lockouts }
func (c *Core) Commands() *command.Processor           { return c.commands }
func (c *Core) Users() user.Store                      { return c.users }
func (c *Core) Roles() user.RoleStore                  { return c.roles }
func (c *Core) Bus() *eventbus.Bus                     { return c.bus }
func (c *Core) AuditRetention() *audit.Retention       { return c.retention }
func (c *Core) AuditLogs() audit.Store                 { return c.auditStore }
func (c *Core) Hasher() hashing.Hasher                 { return c.hasher }

// runSweeps runs the periodic maintenance pass until Close.
func (c *Core) runSweeps() {
	defer c.sweepsDone.Done()

	ticker := time.NewTicker(c.cfg.MaintenanceInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSweeps:
			return
		case <-ticker.C:
			c.sweep(context.Background())
		}
	}
}

// sweep performs one maintenance pass. Each step logs its own failure
// and the pass continues.
func (c *Core) sweep(ctx context.Context) {
	if n, err := c.tokens.CleanupExpired(ctx); err != nil {
		c.logger.Warn("token cleanup failed", zap.Error(err))
	} else if n > 0 {
		c.logger.Debug("expired tokens removed", zap.Int64("count", n))
	}

	if n, err := c.resets.Cleanup(ctx); err != nil {
		c.logger.Warn("reset token cleanup failed", zap.Error(err))
	} else if n > 0 {
		c.logger.Debug("expired reset tokens removed", zap.Int64("count", n))
	}

	if _, err := c.lockouts.PruneAttempts(ctx, failedAttemptRetention); err != nil {
		c.logger.Warn("failed-attempt prune failed", zap.Error(err))
	}

	if _, err := c.retention.Cleanup(ctx); err != nil {
		c.logger.Warn("audit retention cleanup failed", zap.Error(err))
	}
}

// Close stops the background sweeps, drains the event bus and closes
// the audit file sink. Safe to call more than once.
func (c *Core) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopSweeps)
		c.sweepsDone.Wait()

		if busErr := c.bus.Shutdown(ctx); busErr != nil {
			err = busErr
		}
		if c.auditFile != nil {
			if fileErr := c.auditFile.Close(); fileErr != nil && err == nil {
				err = fileErr
			}
		}
	})
	return err
}

// buildSigner resolves the JWT signer from options or config.
func buildSigner(cfg SigningConfig, override token.Signer) (token.Signer, error) {
	if override != nil {
		return override, nil
	}
	if cfg.HMACSecret != "" {
		return token.NewHMACSigner([]byte(cfg.HMACSecret))
	}
	if cfg.RSAPrivateKeyFile != "" {
		key, err := loadRSAKey(cfg.RSAPrivateKeyFile)
		if err != nil {
			return nil, err
		}
		return token.NewRSASigner(key)
	}
	return nil, errors.New("signing requires an hmac secret, an rsa key file, or an explicit signer")
}

// loadRSAKey reads a PEM-encoded PKCS#1 or PKCS#8 RSA private key.
func loadRSAKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rsa key file: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("rsa key file contains no pem block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse rsa private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("key file does not contain an rsa private key")
	}
	return key, nil
}

// lockoutPolicy resolves a preset name or explicit values. Explicit
// threshold wins over the preset.
func lockoutPolicy(cfg LockoutConfig) (lockout.Policy, error) {
	if cfg.Threshold > 0 {
		return lockout.Policy{
			Threshold:    cfg.Threshold,
			Window:       cfg.Window.Std(),
			LockDuration: cfg.LockDuration.Std(),
		}, nil
	}
	return lockout.PolicyByName(cfg.Policy)
}

func passwordPolicy(cfg PasswordConfig) validation.PasswordPolicy {
	policy := validation.DefaultPasswordPolicy()
	if cfg.MinLength > 0 {
		policy.MinLength = cfg.MinLength
	}
	if cfg.MinScore > 0 {
		policy.MinScore = cfg.MinScore
	}
	if len(cfg.CommonPasswords) > 0 {
		policy.CommonPasswords = make(map[string]struct{}, len(cfg.CommonPasswords))
		for _, p := range cfg.CommonPasswords {
			policy.CommonPasswords[p] = struct{}{}
		}
	}
	return policy
}

func emailOptions(cfg EmailConfig) validation.EmailOptions {
	return validation.EmailOptions{AllowDisposable: cfg.AllowDisposable}
}

func phoneOptions(cfg PhoneConfig) validation.PhoneOptions {
	return validation.PhoneOptions{
		DefaultRegion: cfg.DefaultRegion,
		RequireE164:   cfg.RequireE164,
	}
}

func attributeLimits(cfg AttrsConfig) validation.AttributeLimits {
	limits := validation.AttributeLimits{
		MaxKeyLength:   cfg.MaxKeyLength,
		MaxValueLength: cfg.MaxValueLength,
		MaxAttributes:  cfg.MaxAttributes,
	}
	if len(cfg.AllowedKeys) > 0 {
		limits.AllowedKeys = make(map[string]struct{}, len(cfg.AllowedKeys))
		for _, key := range cfg.AllowedKeys {
			limits.AllowedKeys[key] = struct{}{}
		}
	}
	return limits
}
