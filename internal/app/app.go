// Package app is the composition root. It builds the store, rotation
// engine, governance registry and notification manager from a loaded
// configuration and hands them to callers as one owned object.
package app

import (
	"context"
	"fmt"

	"github.com/juju/clock"

	"github.com/systmms/secretgov/internal/config"
	dserrors "github.com/systmms/secretgov/internal/errors"
	"github.com/systmms/secretgov/internal/logging"
	"github.com/systmms/secretgov/internal/metrics"
	"github.com/systmms/secretgov/internal/notifications"
	"github.com/systmms/secretgov/internal/persistence"
	"github.com/systmms/secretgov/pkg/governance"
	"github.com/systmms/secretgov/pkg/rotation"
	"github.com/systmms/secretgov/pkg/secret"
	"github.com/systmms/secretgov/pkg/service"
	"github.com/systmms/secretgov/pkg/store"
)

// App owns every long-lived component.
type App struct {
	Definition    *config.Definition
	Logger        *logging.Logger
	Clock         clock.Clock
	Metrics       *metrics.Recorder
	Notifications *notifications.Manager
	Store         *store.Store
	Engine        *rotation.Engine
	Registry      *governance.Registry
	Detector      *governance.Detector
	Service       *service.Service
}

// Option overrides a component built by New.
type Option func(*options)

type options struct {
	clock   clock.Clock
	storage persistence.Storage
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithStorage replaces the storage selected by the configuration.
func WithStorage(st persistence.Storage) Option {
	return func(o *options) { o.storage = st }
}

// New wires the components described by cfg. cfg must already be loaded.
// A failure to load persisted metadata is logged and the store starts empty.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{clock: clock.WallClock}
	for _, opt := range opts {
		opt(&o)
	}

	def := cfg.Definition
	if def == nil {
		def = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	recorder := metrics.NewRecorder()
	if def.Metrics.Enabled {
		metrics.InitMetrics()
	}

	storage := o.storage
	if storage == nil {
		var err error
		if storage, err = openStorage(ctx, def.Persistence, logger); err != nil {
			return nil, err
		}
	}

	hasher, err := newHasher(def.Hashing)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	registry := governance.NewRegistry(o.clock)
	policies := governance.DefaultPolicies()
	if def.PoliciesFile != "" {
		if policies, err = governance.LoadPolicyFile(def.PoliciesFile); err != nil {
			_ = storage.Close()
			return nil, err
		}
	}
	if err := registry.RegisterAll(policies); err != nil {
		_ = storage.Close()
		return nil, err
	}

	manager := notifications.NewManager(def.Notifications.QueueSize, logger, recorder)
	if def.Notifications.Log {
		manager.RegisterProvider(notifications.NewLogProvider(logger))
	}
	for _, p := range def.Notifications.Providers() {
		manager.RegisterProvider(p)
	}
	manager.Start(ctx)

	st := store.New(
		store.WithClock(o.clock),
		store.WithStorage(storage),
		store.WithHasher(hasher),
		store.WithLogger(logger),
		store.WithMetrics(recorder),
		store.WithConfig(store.Config{
			FlushEvery:     def.Store.FlushEvery,
			MaxAccessLogs:  def.Store.MaxAccessLogs,
			ExportLogLimit: def.Store.ExportLogLimit,
		}),
	)
	if err := st.Load(ctx); err != nil {
		logger.Warn("Starting with empty secret store, changes will not be persisted: %v", err)
	}

	engine := rotation.NewEngine(st,
		rotation.WithClock(o.clock),
		rotation.WithLogger(logger),
		rotation.WithMetrics(recorder),
		rotation.WithNotifier(manager),
		rotation.WithMaxHistory(def.Rotation.MaxHistory),
	)
	detector := governance.NewDetector(registry, st,
		governance.WithClock(o.clock),
		governance.WithLogger(logger),
		governance.WithMetrics(recorder),
		governance.WithNotifier(manager),
	)

	a := &App{
		Definition:    def,
		Logger:        logger,
		Clock:         o.clock,
		Metrics:       recorder,
		Notifications: manager,
		Store:         st,
		Engine:        engine,
		Registry:      registry,
		Detector:      detector,
	}
	a.Service = service.New(st, engine, registry, detector,
		service.WithClock(o.clock),
		service.WithLogger(logger),
	)
	return a, nil
}

// Close flushes the store and stops notification delivery.
func (a *App) Close(ctx context.Context) error {
	err := a.Store.Close(ctx)
	a.Notifications.Stop()
	return err
}

// NewScheduler builds the periodic auto-rotation scheduler.
func (a *App) NewScheduler() (*rotation.Scheduler, error) {
	interval, err := a.Definition.RotationInterval()
	if err != nil {
		return nil, err
	}
	return rotation.NewScheduler(a.Engine, a.Clock, interval, a.Definition.Rotation.Actor, a.Logger)
}

// MetricsServer builds the Prometheus endpoint; /health reflects
// Service.Healthy.
func (a *App) MetricsServer() *metrics.Server {
	cfg := metrics.DefaultServerConfig()
	cfg.Enabled = a.Definition.Metrics.Enabled
	cfg.Port = a.Definition.Metrics.Port
	cfg.Path = a.Definition.Metrics.Path
	return metrics.NewServer(cfg, a.Logger, a.Service.Healthy)
}

func openStorage(ctx context.Context, cfg config.PersistenceConfig, logger *logging.Logger) (persistence.Storage, error) {
	switch cfg.Type {
	case config.PersistenceNone:
		return persistence.NopStorage{}, nil
	case config.PersistenceSQL:
		st, err := persistence.OpenSQLStorage(ctx, cfg.Driver, cfg.ExpandedDSN())
		if err != nil {
			return nil, dserrors.UserError{
				Message:    "Failed to open metadata database",
				Details:    err.Error(),
				Suggestion: "Check persistence.driver and persistence.dsn in secretgov.yaml",
				Err:        err,
			}
		}
		logger.Debug("Using %s metadata storage", cfg.Driver)
		return st, nil
	case config.PersistenceFile, "":
		dir := cfg.Dir
		if dir == "" {
			dir = persistence.DefaultStorageDir()
		}
		fs := persistence.NewFileStorage(dir)
		logger.Debug("Using metadata file %s", fs.Path())
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
	}
}

func newHasher(cfg config.HashingConfig) (*secret.Hasher, error) {
	if cfg.Pepper != config.PepperKeyring {
		return secret.NewHasher(nil), nil
	}
	pepper, err := secret.KeyringPepper(cfg.KeyringService, cfg.KeyringAccount)
	if err != nil {
		return nil, dserrors.UserError{
			Message:    "Failed to read hash pepper from the OS keyring",
			Details:    err.Error(),
			Suggestion: "Unlock the keyring or set hashing.pepper to none",
			Err:        err,
		}
	}
	return secret.NewHasher(pepper), nil
}
