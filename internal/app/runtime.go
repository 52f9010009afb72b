package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/btrover/internal/bluetoothutil"
	"github.com/skobkin/btrover/internal/bus"
	"github.com/skobkin/btrover/internal/config"
	"github.com/skobkin/btrover/internal/connectors"
	"github.com/skobkin/btrover/internal/control"
	"github.com/skobkin/btrover/internal/domain"
	"github.com/skobkin/btrover/internal/link"
	"github.com/skobkin/btrover/internal/logging"
	"github.com/skobkin/btrover/internal/notifications"
	"github.com/skobkin/btrover/internal/persistence"
)

const shutdownTimeout = 5 * time.Second

// Options adjust runtime construction. The zero value loads the user config.
type Options struct {
	// ConfigFile overrides the config location; history and logs live beside it.
	ConfigFile string
	// Overrides is applied to the loaded config before validation.
	Overrides func(*config.AppConfig)
	// LogLevel replaces the configured level when set.
	LogLevel string
	// Observer receives dispatcher events in addition to the bus.
	Observer control.Observer
	// Sender replaces the desktop notification backend.
	Sender notifications.Sender
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	// The dispatcher stops first so every event it emitted reaches the bus
	// before projections and the writer queue wind down.
	stopDispatcher context.CancelFunc
	historyDone    <-chan struct{}

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	DB         *sql.DB

	TelemetryRepo *persistence.TelemetryRepo
	WriterQueue   *persistence.WriterQueue

	Registry      bluetoothutil.DeviceRegistry
	Session       *link.Session
	Dispatcher    *control.Dispatcher
	Notifications *NotificationService

	statusMu sync.RWMutex
	status   connectors.SessionStatus

	closeOnce sync.Once
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths, err := ResolvePathsForConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Overrides != nil {
		opts.Overrides(&cfg)
		cfg.FillMissingDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
		status: InitialSessionStatus(cfg.Connection),
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	if opts.LogLevel != "" {
		if err := logMgr.SetLevel(opts.LogLevel); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}
	slog.Info("starting btrover runtime",
		"version", CurrentBuildInfo().String(),
		"connector", TransportNameFromConnector(cfg.Connection.Connector),
	)

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.DB = db
	rt.TelemetryRepo = persistence.NewTelemetryRepo(db)

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	statusSub := b.Subscribe(connectors.TopicSessionStatus)
	go rt.captureSessionStatus(ctx, statusSub)

	writerQueue := persistence.NewWriterQueue(logMgr.Logger("persistence"), WriterQueueCapacity)
	writerQueue.Start(ctx)
	rt.WriterQueue = writerQueue
	if cfg.History.Enabled {
		rt.historyDone = StartHistoryProjection(ctx, b, writerQueue, rt.TelemetryRepo, cfg.History.Keep, logMgr.Logger("app.history"))
	}

	sender := opts.Sender
	if sender == nil {
		sender = notifications.NewDesktopSender(Name, logMgr.Logger("notifications"))
	}
	rt.Notifications = NewNotificationService(b, rt.CurrentConfig, sender, logMgr.Logger("app.notifications"))
	rt.Notifications.Start(ctx)

	rt.Registry = NewDeviceRegistry(cfg.Connection)
	rt.Session = link.NewSession(
		NewRadioProbe(cfg.Connection),
		NewChannelFactory(cfg.Connection),
		link.Options{
			ConnectTimeout: cfg.Session.ConnectTimeout(),
			ReadTimeout:    cfg.Session.ReadTimeout(),
			MaxFrameBytes:  cfg.Session.MaxFrameBytes,
			Logger:         logMgr.Logger("link.session"),
		},
	)

	observers := control.Observers{control.NewBusObserver(b, rt.Session.State)}
	if opts.Observer != nil {
		observers = append(observers, opts.Observer)
	}
	rt.Dispatcher = control.NewDispatcher(rt.Session, observers, logMgr.Logger("control.dispatcher"))
	dispatchCtx, stopDispatcher := context.WithCancel(ctx)
	rt.stopDispatcher = stopDispatcher
	if err := rt.Dispatcher.Start(dispatchCtx); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("start dispatcher: %w", err)
	}

	return rt, nil
}

func (r *Runtime) captureSessionStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(connectors.SessionStatus)
			if !ok {
				continue
			}
			r.statusMu.Lock()
			r.status = status
			r.statusMu.Unlock()
		}
	}
}

// CurrentSessionStatus is the last status published on the bus.
func (r *Runtime) CurrentSessionStatus() connectors.SessionStatus {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()

	return r.status
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

// SaveConfig persists cfg and applies its logging section. Connection and
// session changes take effect on the next start.
func (r *Runtime) SaveConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()
		return err
	}
	r.Config = cfg
	r.mu.Unlock()

	if r.LogManager != nil {
		return r.LogManager.Configure(cfg.Logging, r.Paths.LogFile)
	}

	return nil
}

// DefaultDevice is the configured device, if one is set.
func (r *Runtime) DefaultDevice() (domain.DeviceRef, bool) {
	return ConfiguredDevice(r.CurrentConfig().Connection)
}

func (r *Runtime) PairedDevices(ctx context.Context) ([]domain.DeviceRef, error) {
	if r.Registry == nil {
		return nil, errors.New("device registry is not initialized")
	}

	return r.Registry.PairedDevices(ctx)
}

func (r *Runtime) History(ctx context.Context, limit int) ([]domain.TelemetryRecord, error) {
	if r.TelemetryRepo == nil {
		return nil, errors.New("database is not initialized")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	return r.TelemetryRepo.ListRecent(ctx, limit)
}

func (r *Runtime) ClearHistory(ctx context.Context) error {
	if r.TelemetryRepo == nil {
		return errors.New("telemetry history is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	removed, err := r.TelemetryRepo.Clear(ctx)
	if err != nil {
		return err
	}
	slog.Info("telemetry history cleared", "records", removed)

	return nil
}

// Close stops the dispatcher (which closes any open link), lets pending
// telemetry reach the history, flushes queued writes and releases the
// database and log file.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		if r.stopDispatcher != nil {
			r.stopDispatcher()
		}
		if r.Dispatcher != nil {
			waitDone(r.Dispatcher.Done(), "dispatcher")
		}
		if r.Bus != nil {
			r.Bus.Close()
		}
		if r.historyDone != nil {
			waitDone(r.historyDone, "history projection")
		}
		if r.cancel != nil {
			r.cancel()
		}
		if r.WriterQueue != nil {
			waitDone(r.WriterQueue.Done(), "writer queue")
		}
		if r.DB != nil {
			_ = r.DB.Close()
		}
		if r.LogManager != nil {
			_ = r.LogManager.Close()
		}
	})

	return nil
}

func waitDone(done <-chan struct{}, name string) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timed out", "component", name)
	}
}
