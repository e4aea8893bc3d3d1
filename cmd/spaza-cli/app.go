package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"spazaescrow/config"
	"spazaescrow/core/events"
	"spazaescrow/native/escrow"
	"spazaescrow/observability"
	"spazaescrow/observability/logging"
	telemetry "spazaescrow/observability/otel"
	"spazaescrow/services/notifier"
	"spazaescrow/state"
	"spazaescrow/storage"
	"spazaescrow/storage/sqlstore"
)

type repository interface {
	escrow.Repository
	Close() error
}

// stateLister is implemented by backends with an index on escrow state.
type stateLister interface {
	ListByState(ctx context.Context, state escrow.State) ([]*escrow.Escrow, error)
}

type app struct {
	cfg      *config.Config
	engine   *escrow.Engine
	notifier *notifier.Notifier
	logger   *slog.Logger
	byState  stateLister

	closers  []io.Closer
	shutdown telemetry.ShutdownFunc
}

func openApp(ctx context.Context, path string, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	logger, logCloser, err := logging.SetupWithOptions(logging.Options{
		Service:     cfg.Logging.Service,
		Environment: cfg.Logging.Environment,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Output:      stderr,
	})
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.closers = append(a.closers, logCloser)

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Logging.Service,
		Environment: cfg.Logging.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.shutdown = shutdown

	repo, err := openRepository(cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, repo)
	if lister, ok := repo.(stateLister); ok {
		a.byState = lister
	}

	engine, err := newEngine(cfg, repo, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.engine = engine

	emitters := events.MultiEmitter{observability.EventCounter{}}
	if cfg.Notifications.Enabled {
		n, closer, err := newNotifier(cfg, logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.notifier = n
		a.closers = append(a.closers, closer)
		emitters = append(emitters, n)
	}
	engine.SetEmitter(emitters)
	return a, nil
}

func newEngine(cfg *config.Config, repo escrow.Repository, logger *slog.Logger) (*escrow.Engine, error) {
	engine := escrow.NewEngine(repo)
	engine.SetPolicy(cfg.EnginePolicy())
	trust, err := cfg.TrustPolicy()
	if err != nil {
		return nil, err
	}
	engine.SetTrustPolicy(trust)
	panel, err := cfg.ArbitratorPanel()
	if err != nil {
		return nil, err
	}
	if len(panel) > 0 {
		engine.SetArbitrators(escrow.FixedPanel{Members: panel})
	}
	engine.SetLogger(logger)
	return engine, nil
}

func openRepository(cfg *config.Config) (repository, error) {
	backend := cfg.Storage.Backend
	switch backend {
	case "memory":
		return state.NewManager(storage.NewMemDB()), nil
	case "leveldb", "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
		var (
			db  storage.Database
			err error
		)
		if backend == "leveldb" {
			db, err = storage.NewLevelDB(cfg.Storage.Path)
		} else {
			db, err = storage.NewBoltDB(cfg.Storage.Path, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("storage: open %s: %w", backend, err)
		}
		return state.NewManager(db), nil
	case "sqlite", "postgres":
		if backend == "sqlite" {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("storage: create data dir: %w", err)
			}
		}
		store, err := sqlstore.Open(backend, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}

func newNotifier(cfg *config.Config, logger *slog.Logger) (*notifier.Notifier, io.Closer, error) {
	carrier, err := notifier.ParseCarrier(cfg.Notifications.Carrier)
	if err != nil {
		return nil, nil, err
	}
	contacts, err := cfg.Contacts()
	if err != nil {
		return nil, nil, err
	}
	auditPath := cfg.Notifications.AuditLog
	if auditPath == "" {
		auditPath = filepath.Join(cfg.DataDir, "sms-audit.log")
	}
	audit := &lumberjack.Logger{
		Filename:   auditPath,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
	}
	sender := notifier.NewSimulatedSender(carrier, cfg.Notifications.SenderID, audit, cfg.Notifications.RatePerMinute, cfg.Notifications.Burst)
	return notifier.New(sender, contacts, logger), audit, nil
}

// listByState returns the escrows in state, through the backend index when
// there is one.
func (a *app) listByState(ctx context.Context, state escrow.State) ([]*escrow.Escrow, error) {
	if a.byState != nil {
		return a.byState.ListByState(ctx, state)
	}
	all, err := a.engine.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*escrow.Escrow, 0, len(all))
	for _, esc := range all {
		if esc.State == state {
			out = append(out, esc)
		}
	}
	return out, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.shutdown = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
