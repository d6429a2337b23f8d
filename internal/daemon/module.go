// Package daemon composes the engine into a running process: store, bus,
// provider factory, orchestrator, fanout hub and the HTTP server, wired
// through fx lifecycle hooks.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/zapdeskhq/zapdesk/internal/api"
	"github.com/zapdeskhq/zapdesk/internal/bus"
	"github.com/zapdeskhq/zapdesk/internal/config"
	"github.com/zapdeskhq/zapdesk/internal/fanout"
	"github.com/zapdeskhq/zapdesk/internal/lock"
	"github.com/zapdeskhq/zapdesk/internal/logging"
	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/orchestrator"
	"github.com/zapdeskhq/zapdesk/internal/provider"
	"github.com/zapdeskhq/zapdesk/internal/provider/wa"
	"github.com/zapdeskhq/zapdesk/internal/push"
	"github.com/zapdeskhq/zapdesk/internal/reconcile"
	"github.com/zapdeskhq/zapdesk/internal/registry"
	"github.com/zapdeskhq/zapdesk/internal/store"
	"github.com/zapdeskhq/zapdesk/internal/syncer"
)

// Module returns the fx module composing the daemon.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideEmitter,
			provideLock,
			provideStore,
			provideMediaStore,
			provideFactory,
			provideRegistry,
			provideReconciler,
			provideSyncer,
			provideOrchestrator,
			provideHub,
			provideAPIServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideEmitter(b *bus.Bus) *push.Emitter {
	return push.NewEmitter(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.Data.Dir))
	l, err := lock.Acquire(cfg.Data.Dir)
	if err != nil {
		return nil, err
	}
	logger.Info("lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
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
	logger.Info("store initialized", zap.String("path", cfg.DBPath()))
	return db, nil
}

func provideMediaStore(cfg *config.Config) (*media.Store, error) {
	return media.NewStore(cfg.MediaDir())
}

func provideFactory(cfg *config.Config, logger *zap.Logger) provider.Factory {
	return wa.NewFactory(cfg, logger)
}

func provideRegistry() *registry.Registry {
	return registry.New()
}

func provideReconciler(db *store.DB, ms *media.Store, emitter *push.Emitter, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(db, ms, emitter, logger)
}

func provideSyncer(cfg *config.Config, db *store.DB, ms *media.Store, emitter *push.Emitter, logger *zap.Logger) *syncer.Engine {
	return syncer.New(db, ms, emitter, logger, cfg.Sync.PageLimit)
}

func provideOrchestrator(cfg *config.Config, db *store.DB, ms *media.Store, factory provider.Factory,
	reg *registry.Registry, rec *reconcile.Reconciler, sync *syncer.Engine,
	emitter *push.Emitter, logger *zap.Logger) *orchestrator.Orchestrator {
	return orchestrator.New(cfg, db, ms, factory, reg, rec, sync, emitter, logger)
}

func provideHub(logger *zap.Logger) *fanout.Hub {
	return fanout.NewHub(logger)
}

func provideAPIServer(cfg *config.Config, db *store.DB, orch *orchestrator.Orchestrator, hub *fanout.Hub, logger *zap.Logger) *api.Server {
	return api.NewServer(db, orch, hub, cfg.MediaDir(), logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *Server, lk *lock.Lock,
	orch *orchestrator.Orchestrator, hub *fanout.Hub, b *bus.Bus, db *store.DB, logger *zap.Logger) {

	bridgeCtx, stopBridge := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go hub.Run(bridgeCtx, b)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			// Let the process settle before reattaching persisted
			// sessions.
			go func() {
				select {
				case <-bridgeCtx.Done():
					return
				case <-time.After(cfg.BootDelay()):
				}
				orch.BootReconnectAll(bridgeCtx)
			}()

			logger.Info("daemon started", zap.String("addr", cfg.HTTP.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopBridge()
			srv.Stop(ctx)
			orch.Shutdown()
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
