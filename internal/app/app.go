package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/yourorg/comps-api/internal/env"
	"github.com/yourorg/comps-api/internal/metrics"
	"github.com/yourorg/comps-api/internal/redisx"
	"github.com/yourorg/comps-api/internal/resolver"
	"github.com/yourorg/comps-api/internal/store"
	"github.com/yourorg/comps-api/internal/usage"
	"github.com/yourorg/comps-api/internal/writebehind"
	"github.com/yourorg/comps-api/provider"
)

// Usage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

type ProviderConfig struct {
	APIKey    string
	BaseURL   string
	KeyHeader string
}

type Config struct {
	Port int

	Primary   ProviderConfig
	Secondary ProviderConfig
	Timeout   time.Duration
	RetryMax  int
	RPS       float64

	RadiusMiles float64
	CompsLimit  int
	Limits      usage.Limits
	Budget      time.Duration

	UsageBackend string
	PostgresDSN  string
	SQLitePath   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	RequestsPerMinute int
	LogLevel          string
	LogFormat         string
}

// LoadConfig reads the environment, after an optional .env file.
func LoadConfig() Config {
	env.Load()
	return Config{
		Port: env.GetInt("PORT", 4002),
		Primary: ProviderConfig{
			APIKey:    env.Get("PRIMARY_API_KEY", ""),
			BaseURL:   env.Get("PRIMARY_BASE_URL", ""),
			KeyHeader: env.Get("PRIMARY_KEY_HEADER", "X-RapidAPI-Key"),
		},
		Secondary: ProviderConfig{
			APIKey:    env.Get("SECONDARY_API_KEY", ""),
			BaseURL:   env.Get("SECONDARY_BASE_URL", ""),
			KeyHeader: env.Get("SECONDARY_KEY_HEADER", "X-Api-Key"),
		},
		Timeout:     env.GetDuration("PROVIDER_TIMEOUT", 8*time.Second),
		RetryMax:    env.GetInt("PROVIDER_RETRY_MAX", 0),
		RPS:         env.GetFloat("PROVIDER_RPS", 5),
		RadiusMiles: env.GetFloat("COMPS_RADIUS_MILES", 1),
		CompsLimit:  env.GetInt("COMPS_LIMIT", 20),
		Limits: usage.Limits{
			A: env.GetInt("LIMIT_A", usage.DefaultLimits.A),
			B: env.GetInt("LIMIT_B", usage.DefaultLimits.B),
		},
		Budget:            env.GetDuration("RESOLVE_BUDGET", resolver.DefaultBudget),
		UsageBackend:      strings.ToLower(env.Get("USAGE_BACKEND", BackendMemory)),
		PostgresDSN:       env.Get("PG_DSN", ""),
		SQLitePath:        env.Get("SQLITE_PATH", "comps.db"),
		RedisAddr:         env.Get("REDIS_ADDR", ""),
		RedisPassword:     env.Get("REDIS_PASSWORD", ""),
		RedisDB:           env.GetInt("REDIS_DB", 0),
		CacheTTL:          env.GetDuration("CACHE_TTL", 6*time.Hour),
		RequestsPerMinute: env.GetInt("RATE_LIMIT_PER_MINUTE", 100),
		LogLevel:          env.Get("LOG_LEVEL", "info"),
		LogFormat:         env.Get("LOG_FORMAT", "json"),
	}
}

// App holds the wired dependencies of one process.
type App struct {
	Config   Config
	Resolver *resolver.Resolver
	Usage    usage.Tracker
	Store    *store.Store
	Redis    *redisx.Client
	Writes   *writebehind.Queue
	Registry *prometheus.Registry
	Log      *zap.Logger
}

// New opens the configured backends and builds the resolver. Close releases
// what New opened.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}

	if cfg.RedisAddr != "" {
		a.Redis = redisx.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.Redis.Ping(pctx)
		cancel()
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	if err := a.openUsage(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	primaryT := provider.NewTransport(provider.TransportConfig{
		BaseURL: cfg.Primary.BaseURL, APIKey: cfg.Primary.APIKey, KeyHeader: cfg.Primary.KeyHeader,
		Timeout: cfg.Timeout, RetryMax: cfg.RetryMax, RPS: cfg.RPS, Logger: log,
	})
	// valuation, listings and records share one account and one limiter
	secondaryT := provider.NewTransport(provider.TransportConfig{
		BaseURL: cfg.Secondary.BaseURL, APIKey: cfg.Secondary.APIKey, KeyHeader: cfg.Secondary.KeyHeader,
		Timeout: cfg.Timeout, RetryMax: cfg.RetryMax, RPS: cfg.RPS, Logger: log,
	})
	warnPartial(log, "primary", cfg.Primary)
	warnPartial(log, "secondary", cfg.Secondary)

	rcfg := resolver.Config{
		Strategies: []resolver.Strategy{
			provider.NewPrimaryClient(primaryT, cfg.RadiusMiles, cfg.CompsLimit),
			provider.NewValuationClient(secondaryT, cfg.RadiusMiles, cfg.CompsLimit),
			provider.NewListingsClient(secondaryT, cfg.CompsLimit),
			provider.NewRecordsClient(secondaryT, cfg.CompsLimit),
		},
		Usage:    a.Usage,
		Limits:   cfg.Limits,
		Budget:   cfg.Budget,
		CacheTTL: cfg.CacheTTL,
		Metrics:  metrics.New(a.Registry),
		Logger:   log,
	}
	if a.Redis != nil {
		rcfg.Cache = a.Redis
	}
	if a.Store != nil {
		a.Writes = writebehind.New(a.Store, 256, 2, log)
		rcfg.Snapshots = a.Writes
	}
	a.Resolver = resolver.New(rcfg)
	return a, nil
}

func (a *App) openUsage(ctx context.Context) error {
	cfg := a.Config
	switch cfg.UsageBackend {
	case "", BackendMemory:
		a.Usage = usage.NewMemoryTracker()
		return nil
	case BackendRedis:
		if a.Redis == nil {
			return errors.New("USAGE_BACKEND=redis requires REDIS_ADDR")
		}
		a.Usage = usage.NewRedisTracker(a.Redis.Rdb, 0)
		return nil
	case BackendPostgres, BackendSQLite:
		driver, dsn := store.DriverPostgres, cfg.PostgresDSN
		if cfg.UsageBackend == BackendSQLite {
			driver, dsn = store.DriverSQLite, cfg.SQLitePath
		}
		if dsn == "" {
			return fmt.Errorf("USAGE_BACKEND=%s requires a DSN", cfg.UsageBackend)
		}
		st, err := store.Open(driver, dsn)
		if err != nil {
			return fmt.Errorf("store open: %w", err)
		}
		a.Store = st
		mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := st.Ping(mctx); err != nil {
			return fmt.Errorf("store ping: %w", err)
		}
		if err := st.Migrate(mctx); err != nil {
			return fmt.Errorf("store migrate: %w", err)
		}
		a.Usage = st.Usage()
		return nil
	}
	return fmt.Errorf("unknown USAGE_BACKEND %q", cfg.UsageBackend)
}

// Ping checks the external backends in use.
func (a *App) Ping(ctx context.Context) error {
	if a.Store != nil {
		if err := a.Store.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close drains pending snapshot writes, then closes the backends.
func (a *App) Close() error {
	var errs []error
	if a.Writes != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, a.Writes.Close(ctx))
		cancel()
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}

func warnPartial(log *zap.Logger, name string, p ProviderConfig) {
	if (p.APIKey == "") != (p.BaseURL == "") {
		log.Warn("provider needs both an API key and a base URL; it stays disabled", zap.String("provider", name))
	}
}
