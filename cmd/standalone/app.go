package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"connectd/core"
	"connectd/core/providers"
	"connectd/logger"
	"connectd/session"
	"connectd/storage"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Core      core.Config                  `yaml:",inline"`
	Providers map[string]*providers.Config `yaml:"providers"`

	DB       DBConfig      `yaml:"db"`
	Sessions SessionConfig `yaml:"sessions"`
	Log      logger.Config `yaml:"log"`
	Port     string        `yaml:"port"`
	Metrics  bool          `yaml:"metrics"`
}

type DBConfig struct {
	Type        string `yaml:"type"` // sqlite, postgres or memory
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type SessionConfig struct {
	Type      string `yaml:"type"` // memory or redis
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// loadConfig reads the YAML file at path. ${VAR} references are expanded
// from the environment before parsing.
func loadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config AppConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.Core = config.Core.WithDefaults()
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.DB.Type == "" {
		config.DB.Type = "sqlite"
	}
	if config.DB.Type == "sqlite" && config.DB.SQLitePath == "" {
		config.DB.SQLitePath = "connectd.db"
	}
	if config.Sessions.Type == "" {
		config.Sessions.Type = "memory"
	}

	if config.Core.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt.secret is required")
	}
	if config.Core.Crypto.EncryptionKey == "" {
		return nil, fmt.Errorf("crypto.encryption_key is required")
	}

	return &config, nil
}

type app struct {
	config       *AppConfig
	logger       *zap.Logger
	connector    *core.Connector
	orchestrator *core.SyncOrchestrator
	trigger      *core.SyncTrigger
	reconciler   *core.Reconciler
	server       *core.Server

	closers []func() error
}

func newApp(ctx context.Context, config *AppConfig, log *zap.Logger) (*app, error) {
	a := &app{config: config, logger: log}

	crypto, err := core.NewCryptoServiceFromSecret(config.Core.Crypto.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize crypto service: %w", err)
	}

	repo, err := a.initRepository(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	sessions, err := a.initSessions(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	providerMap, err := providers.Build(config.Providers)
	if err != nil {
		a.Close()
		return nil, err
	}

	var metrics *core.Metrics
	reg := prometheus.NewRegistry()
	if config.Metrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if metrics, err = core.NewMetrics(reg); err != nil {
			a.Close()
			return nil, err
		}
	}

	feed := core.NewNotificationFeed(0)
	clock := clockwork.NewRealClock()
	deps := core.Deps{
		Store:     core.NewSealedStore(repo, crypto, clock, log),
		Sessions:  sessions,
		Providers: providerMap,
		Notifier:  core.LogNotifier{Logger: log.Named("notify"), Next: feed},
		Clock:     clock,
		Logger:    log,
		Metrics:   metrics,
	}

	a.connector = core.NewConnector(deps, config.Core.Session.TTL)
	a.orchestrator = core.NewSyncOrchestrator(deps, config.Core.Sync.Concurrency)
	a.trigger = core.NewSyncTrigger(a.orchestrator, deps.Store)
	a.reconciler = core.NewReconciler(a.orchestrator, config.Core.Sync.Interval)
	a.server = core.NewServer(a.connector, a.trigger, feed, &config.Core, log)
	if config.Metrics {
		a.server.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return a, nil
}

func (a *app) initRepository(ctx context.Context) (core.ConnectionStore, error) {
	db := a.config.DB
	switch strings.ToLower(db.Type) {
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(db.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		a.logger.Info("using SQLite database", zap.String("path", db.SQLitePath))
		return repo, nil

	case "postgres":
		repo, err := storage.NewPostgresRepository(ctx, db.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		a.logger.Info("using Postgres database")
		return repo, nil

	case "memory":
		a.logger.Info("using in-memory repository")
		return storage.NewMemoryRepository(), nil

	default:
		return nil, fmt.Errorf("unsupported DB type: %s (supported: sqlite, postgres, memory)", db.Type)
	}
}

func (a *app) initSessions(ctx context.Context) (core.SessionStore, error) {
	cfg := a.config.Sessions
	switch strings.ToLower(cfg.Type) {
	case "memory":
		return session.NewMemoryStore(a.config.Core.Session.TTL), nil

	case "redis":
		store := session.NewRedisStore(cfg.RedisAddr, cfg.RedisDB, cfg.KeyPrefix)
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, store.Close)
		a.logger.Info("using Redis session store", zap.String("addr", cfg.RedisAddr))
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported session store: %s (supported: memory, redis)", cfg.Type)
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
