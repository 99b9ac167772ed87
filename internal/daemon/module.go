// Package daemon composes the pigeon background process: store,
// transport, sync and call engines, wired through fx with one lifecycle.
package daemon

import (
	"context"
	"os"
	"strings"

	"github.com/pcarvalho-dev/pigeon/internal/bus"
	"github.com/pcarvalho-dev/pigeon/internal/call"
	"github.com/pcarvalho-dev/pigeon/internal/config"
	"github.com/pcarvalho-dev/pigeon/internal/lock"
	"github.com/pcarvalho-dev/pigeon/internal/logging"
	"github.com/pcarvalho-dev/pigeon/internal/media"
	"github.com/pcarvalho-dev/pigeon/internal/rest"
	"github.com/pcarvalho-dev/pigeon/internal/session"
	"github.com/pcarvalho-dev/pigeon/internal/store"
	intsync "github.com/pcarvalho-dev/pigeon/internal/sync"
	"github.com/pcarvalho-dev/pigeon/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string

	// Media and Devices are the platform media bindings. Nil means calls
	// are unavailable in this build.
	Media   media.Factory
	Devices media.Devices
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideConfig,
			provideLock,
			provideStore,
			provideToken,
			provideTransport,
			provideRESTClient,
			provideSyncEngine,
			provideCallEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("no config file, using defaults", zap.String("path", session.ConfigPath()))
			return &config.Config{}, nil
		}
		return nil, err
	}
	return cfg, nil
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

// token is the session auth token read at startup. Empty means the user
// has not authenticated yet; the transport refuses to connect without it.
type token string

func provideToken(p Params, logger *zap.Logger) token {
	data, err := os.ReadFile(session.TokenPath(p.SessionName))
	if err != nil {
		logger.Info("no auth token found, authentication required")
		return ""
	}
	return token(strings.TrimSpace(string(data)))
}

func provideTransport(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *transport.Session {
	return transport.NewSession(websocketURL(cfg), b, logger)
}

func provideRESTClient(cfg *config.Config, tok token) *rest.Client {
	return rest.NewClient(cfg.ServerURL, string(tok))
}

func provideSyncEngine(db *store.DB, b *bus.Bus, ts *transport.Session, api *rest.Client, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, ts, api, intsync.Config{
		Username:         cfg.Username,
		SendReadReceipts: cfg.SendReadReceipts,
	}, logger)
}

func provideCallEngine(p Params, b *bus.Bus, ts *transport.Session, api *rest.Client, logger *zap.Logger) *call.Engine {
	factory, devices := p.Media, p.Devices
	if factory == nil || devices == nil {
		factory, devices = media.Unavailable()
	}
	return call.NewEngine(b, ts, factory, devices, api, logger)
}

// websocketURL derives the realtime endpoint from the server URL when no
// explicit one is configured.
func websocketURL(cfg *config.Config) string {
	if cfg.WebsocketURL != "" {
		return cfg.WebsocketURL
	}
	u := cfg.ServerURL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimSuffix(u, "/") + "/ws"
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, ts *transport.Session, engine *intsync.Engine, calls *call.Engine, tok token, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := engine.Start(context.Background()); err != nil {
				return err
			}
			if err := calls.Start(context.Background()); err != nil {
				return err
			}

			if tok == "" {
				logger.Info("waiting for authentication before connecting")
				return nil
			}
			ts.SetToken(string(tok))
			go func() {
				if err := ts.Connect(); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			calls.Stop()
			engine.Stop()
			ts.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
