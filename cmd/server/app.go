package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/smartdorm/tenancy-engine/config"
	"github.com/smartdorm/tenancy-engine/logging"
	"github.com/smartdorm/tenancy-engine/notify"
	"github.com/smartdorm/tenancy-engine/slips"
	"github.com/smartdorm/tenancy-engine/store/sqlite"
	"github.com/smartdorm/tenancy-engine/tenancy"
)

// streamMaxLen caps the redis event stream.
const streamMaxLen = 10000

// app holds the wired components of one process.
type app struct {
	cfg       *config.Config
	engineCfg tenancy.Config
	logger    *zap.Logger

	store    *sqlite.Store
	slips    *slips.FileStore
	services *tenancy.Services

	dispatcher *notify.Dispatcher
	redis      *redis.Client
	consumer   *notify.StreamConsumer
}

type appOptions struct {
	// notifications wires the dispatcher (and the redis stream when
	// configured) as the engines' event sink.
	notifications bool
}

// newApp builds every component in dependency order. Close releases them.
func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "tenancy-engine")
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	// 1. Engine configuration
	if err := cfg.Rates.Validate(); err != nil {
		return nil, err
	}
	a.engineCfg, err = cfg.Engine()
	if err != nil {
		return nil, err
	}

	// 2. Storage
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	a.store, err = sqlite.New(cfg.Database.Path, sqlite.WithLocation(a.engineCfg.Location))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.slips, err = slips.NewFileStore(cfg.Slips.Dir, cfg.Slips.MaxDimension)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 3. Notifications
	var events tenancy.EventSink
	if opts.notifications {
		if events, err = a.wireNotifications(); err != nil {
			a.Close()
			return nil, err
		}
	}

	// 4. Engines
	a.services = tenancy.NewServices(tenancy.Deps{
		Store:  a.store,
		Events: events,
		Slips:  a.slips,
		Logger: logger,
	}, a.engineCfg)
	return a, nil
}

func (a *app) wireNotifications() (tenancy.EventSink, error) {
	var notifier notify.Notifier = notify.LogNotifier{Logger: a.logger}
	if a.cfg.Line.ChannelToken != "" {
		notifier = notify.NewLineNotifier(a.cfg.Line.BaseURL, a.cfg.Line.ChannelToken, a.logger)
	} else {
		a.logger.Warn("LINE_CHANNEL_TOKEN not set, notifications are logged only")
	}
	a.dispatcher = notify.NewDispatcher(notifier, notify.DispatcherConfig{
		StaffID: a.cfg.Line.AdminID,
		Workers: a.cfg.Notify.Workers,
		Buffer:  a.cfg.Notify.Buffer,
	}, a.logger)

	if a.cfg.Redis.Addr == "" {
		return a.dispatcher, nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := a.redis.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.cfg.Redis.Addr, err)
	}
	host, _ := os.Hostname()
	a.consumer = notify.NewStreamConsumer(a.redis, a.cfg.Redis.Stream, a.cfg.Redis.Group,
		fmt.Sprintf("%s-%d", host, os.Getpid()), a.dispatcher, a.logger)
	return notify.NewStreamSink(a.redis, a.cfg.Redis.Stream, streamMaxLen), nil
}

// startNotifications starts delivery. The returned function stops it.
func (a *app) startNotifications(ctx context.Context) func() {
	if a.dispatcher == nil {
		return func() {}
	}
	a.dispatcher.Start()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if a.consumer == nil {
			return
		}
		if err := a.consumer.Run(ctx); err != nil {
			a.logger.Error("event stream consumer stopped", zap.Error(err))
		}
	}()

	return func() {
		cancel()
		<-done
		a.dispatcher.Stop()
	}
}

// Close releases storage and connections.
func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
