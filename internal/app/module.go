package app

import (
	"context"

	"github.com/nuvashop/supportchat/internal/bus"
	"github.com/nuvashop/supportchat/internal/cache"
	"github.com/nuvashop/supportchat/internal/config"
	"github.com/nuvashop/supportchat/internal/conn"
	"github.com/nuvashop/supportchat/internal/engine"
	"github.com/nuvashop/supportchat/internal/logging"
	"github.com/nuvashop/supportchat/internal/profile"
	"github.com/nuvashop/supportchat/internal/rest"
	"github.com/nuvashop/supportchat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile and identity passed to the fx module.
type Params struct {
	Profile  string
	Config   *config.Config
	Token    string
	Identity engine.Identity
	// Console tees logs to stderr; off for interactive runs.
	Console bool
}

// Module returns the fx module for the chat client core, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("supchat",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideCache,
			provideStore,
			provideRESTClient,
			provideConnManager,
			provideEngine,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.Console)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*profile.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := profile.AcquireLock(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := profile.CacheDBPath(p.Profile)
	db, err := cache.Open(dbPath)
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
	logger.Info("snapshot cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideStore(p Params, b *bus.Bus, logger *zap.Logger) *store.Store {
	return store.New(b, logger, p.Config.Connection.DedupTolerance.Duration)
}

func provideRESTClient(p Params, logger *zap.Logger) *rest.Client {
	return rest.NewClient(rest.Options{
		BaseURL: p.Config.Server.BaseURL,
		Token:   p.Token,
	}, logger)
}

func provideConnManager(p Params, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(&conn.WebsocketDialer{}, b, logger, conn.Options{
		URL:         p.Config.Server.ChannelURL,
		BaseDelay:   p.Config.Connection.BaseDelay.Duration,
		MaxAttempts: p.Config.Connection.MaxAttempts,
	})
}

func provideEngine(st *store.Store, db *cache.DB, rc *rest.Client, b *bus.Bus, logger *zap.Logger) *engine.Engine {
	return engine.NewEngine(st, db, rc, b, logger)
}

func provideClient(cm *conn.Manager, rc *rest.Client, st *store.Store, db *cache.DB, p Params, logger *zap.Logger) *engine.Client {
	return engine.NewClient(cm, rc, st, db, p.Identity, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, client *engine.Client, eng *engine.Engine, cm *conn.Manager, db *cache.DB, lk *profile.Lock, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			eng.Start(context.Background())

			// Cached snapshots render immediately; the network fills in
			// behind them.
			client.WarmFromCache()
			client.Connect(context.Background(), p.Token)

			go func() {
				if err := client.Hydrate(context.Background()); err != nil {
					logger.Warn("initial hydration failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			client.Logout()
			eng.Stop()
			b.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
