package daemon

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/api"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/config"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/feed"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/identity"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/instance"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/jobs"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/lock"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/logging"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/profiles"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/store"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/store/postgres"
	intsync "github.com/NarayanBavisetti/roomvia-sub000/internal/sync"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	Instance string
	Config   *config.Config
	// SocketPath overrides the instance socket; used by tests.
	SocketPath string
	// Console mirrors the log file to stderr.
	Console bool
}

// Backend is the durable store the daemon serves, SQLite or Postgres.
type Backend interface {
	messenger.Store
	messenger.Profiles
	identity.Users
	api.Searcher
	SetBus(b *bus.Bus)
	Close() error
}

var (
	_ Backend = (*store.DB)(nil)
	_ Backend = (*postgres.Store)(nil)
)

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideBackend,
			provideRedis,
			provideStore,
			provideProfiles,
			provideFeed,
			provideAuthenticator,
			provideRelay,
			provideRowsService,
			NewServer,
			NewHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:     instance.LogPath(p.Instance, "roomviad"),
		Instance: p.Instance,
		Binary:   "roomviad",
		Level:    p.Config.Log.Level,
		Console:  p.Console,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := instance.EnsureDir(p.Instance); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock", zap.String("instance", p.Instance))
	l, err := lock.Acquire(instance.Dir(p.Instance), "roomviad")
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

// provideBackend opens the store selected by store.driver. It depends on the
// lock so two daemons never migrate the same database.
func provideBackend(p Params, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (Backend, error) {
	var (
		backend Backend
		result  *store.MigrateResult
	)
	switch p.Config.Store.Driver {
	case config.DriverPostgres:
		var err error
		if result, err = postgres.Migrate(p.Config.Store.DSN); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.Config.Timeouts.Request.Duration)
		defer cancel()
		pg, err := postgres.Open(ctx, p.Config.Store.DSN)
		if err != nil {
			return nil, err
		}
		backend = pg
	default:
		path := p.Config.Store.DSN
		if path == "" {
			path = instance.DBPath(p.Instance)
		}
		db, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		if result, err = db.Migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
		backend = db
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	backend.SetBus(b)
	logger.Info("store initialized", zap.String("driver", p.Config.Store.Driver))
	return backend, nil
}

// redisConn is the optional shared Redis connection.
type redisConn struct {
	client redis.UniversalClient
}

func provideRedis(p Params, logger *zap.Logger) (redisConn, error) {
	if p.Config.Redis.URL == "" {
		return redisConn{}, nil
	}
	opt, err := redis.ParseURL(p.Config.Redis.URL)
	if err != nil {
		return redisConn{}, fmt.Errorf("parse redis url: %w", err)
	}
	logger.Info("redis configured", zap.String("addr", opt.Addr))
	return redisConn{client: redis.NewClient(opt)}, nil
}

// receipts holds the optional deferred read-receipt queue.
type receipts struct {
	client *asynq.Client
	worker *jobs.Worker
}

type storeOut struct {
	fx.Out

	Store    messenger.Store
	Receipts receipts
}

// provideStore returns the store the services write through. With jobs
// enabled, read receipts go through the asynq queue.
func provideStore(p Params, backend Backend, logger *zap.Logger) (storeOut, error) {
	if !p.Config.Jobs.Enabled {
		return storeOut{Store: backend}, nil
	}
	client, err := jobs.NewClient(p.Config.Redis.URL)
	if err != nil {
		return storeOut{}, err
	}
	worker, err := jobs.NewWorker(p.Config.Redis.URL, backend, p.Config.Jobs.Concurrency, logger)
	if err != nil {
		_ = client.Close()
		return storeOut{}, err
	}
	return storeOut{
		Store:    jobs.NewReceipts(backend, client, logger),
		Receipts: receipts{client: client, worker: worker},
	}, nil
}

func provideProfiles(p Params, backend Backend, rc redisConn, logger *zap.Logger) messenger.Profiles {
	var cache profiles.Cache = profiles.NewMemory()
	if rc.client != nil {
		cache = profiles.NewRedis(rc.client)
	}
	return profiles.NewCached(backend, cache, p.Config.Profiles.CacheTTL.Duration, logger)
}

func provideFeed(b *bus.Bus, logger *zap.Logger) *feed.Bus {
	return feed.New(b, logger)
}

func provideAuthenticator(backend Backend) *identity.TokenAuthenticator {
	return identity.NewTokenAuthenticator(backend)
}

// relay is the optional cross-instance relay.
type relay struct {
	r *intsync.Relay
}

func provideRelay(p Params, rc redisConn, b *bus.Bus, logger *zap.Logger) relay {
	if rc.client == nil {
		return relay{}
	}
	return relay{r: intsync.NewRelay(rc.client, b, p.Config.Redis.Channel, logger)}
}

func provideRowsService(st messenger.Store, backend Backend, prof messenger.Profiles, auth *identity.TokenAuthenticator, f *feed.Bus, logger *zap.Logger) *api.RowsService {
	return api.NewRowsService(api.Deps{
		Store:    st,
		Profiles: prof,
		Search:   backend,
		Auth:     auth,
		Feed:     f,
		Logger:   logger,
	})
}

type lifecycleParams struct {
	fx.In

	Server   *Server
	HTTP     *HTTPServer
	Lock     *lock.Lock
	Backend  Backend
	Feed     *feed.Bus
	Relay    relay
	Receipts receipts
	Redis    redisConn
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	logger := lp.Logger
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if lp.Relay.r != nil {
				if err := lp.Relay.r.Start(context.Background()); err != nil {
					return err
				}
			}
			if lp.Receipts.worker != nil {
				if err := lp.Receipts.worker.Start(); err != nil {
					return err
				}
			}

			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			return lp.HTTP.Start()
		},
		OnStop: func(ctx context.Context) error {
			lp.HTTP.Stop(ctx)
			lp.Server.Stop(ctx)
			lp.Feed.Close()
			if lp.Relay.r != nil {
				lp.Relay.r.Stop()
			}
			if lp.Receipts.worker != nil {
				lp.Receipts.worker.Stop()
			}
			if lp.Receipts.client != nil {
				_ = lp.Receipts.client.Close()
			}
			if lp.Redis.client != nil {
				_ = lp.Redis.client.Close()
			}
			if err := lp.Backend.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
