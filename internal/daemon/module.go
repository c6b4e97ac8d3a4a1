// Package daemon assembles the development chat server with fx.
package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/lock"
	"github.com/matheus3301/dmsync/internal/logging"
	"github.com/matheus3301/dmsync/internal/metrics"
	"github.com/matheus3301/dmsync/internal/profile"
	"github.com/matheus3301/dmsync/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved server configuration passed to the fx module.
type Params struct {
	Profile  string
	Listen   string
	DataDir  string // optional override; empty = profile data dir
	Users    []config.User
	LogLevel string
	Quiet    bool
	// Reset wipes the database before the users are seeded.
	Reset bool
}

func (p Params) dataDir() string {
	if p.DataDir != "" {
		return p.DataDir
	}
	return profile.DataDir(p.Profile)
}

// Module returns the fx module for the server, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			metrics.New,
			provideLock,
			provideStore,
			provideHub,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile, "dmsyncd"), logging.Options{
		Level:  p.LogLevel,
		Quiet:  p.Quiet,
		Fields: []zap.Field{zap.String("profile", p.Profile)},
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	dir := p.dataDir()
	logger.Info("acquiring data dir lock", zap.String("dir", dir))
	l, err := lock.Acquire(dir, p.Listen)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two
// servers at once.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.dataDir())
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	migrateFn := db.Migrate
	if p.Reset {
		logger.Warn("resetting database", zap.String("path", dbPath))
		migrateFn = db.Reset
	}
	result, err := migrateFn()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}

	users := make([]store.User, 0, len(p.Users))
	for _, u := range p.Users {
		users = append(users, store.User{ID: u.ID, Name: u.Name})
	}
	if err := db.BulkUpsertUsers(users); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed users: %w", err)
	}
	logger.Info("store initialized", zap.String("path", dbPath), zap.Int("seeded_users", len(users)))
	return db, nil
}

func provideHub(b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *api.Hub {
	return api.NewHub(b, m, logger)
}

func provideHandler(db *store.DB, b *bus.Bus, hub *api.Hub, m *metrics.Metrics, logger *zap.Logger) *api.Handler {
	return api.NewHandler(db, b, hub, m, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, hub *api.Hub, logger *zap.Logger) {
	hubCtx, stopHub := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Relay server events to push sockets.
			go hub.Run(hubCtx)

			// Start HTTP server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			stopHub()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("server stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
