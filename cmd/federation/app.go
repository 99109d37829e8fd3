package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	federation "github.com/goliatone/go-auth-federation"
	"github.com/goliatone/go-auth-federation/activitymap"
	"github.com/goliatone/go-auth-federation/config"
	"github.com/goliatone/go-auth-federation/llavemx"
	"github.com/goliatone/go-auth-federation/repository"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func serverModule(cfg *config.Config, migrateFirst bool) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			newZap,
			newLogger,
			newDatabase,
			newRepositoryManager,
			newSessionStore,
			newRegistry,
			newObserver,
			newActivitySink,
			newClient,
			newResolver,
			newProvisioner,
			newFlow,
			newController,
			newServer,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Invoke(func(lc fx.Lifecycle, db *bun.DB) {
			if !migrateFirst {
				return
			}
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					_, err := repository.Migrate(ctx, db)
					return err
				},
			})
		}),
		fx.Invoke(registerServer),
	)
}

func newZap(cfg *config.Config) (*zap.Logger, error) {
	return federation.NewZapFromOptions(federation.ZapOptions{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
}

func newLogger(log *zap.Logger) federation.Logger {
	return federation.NewZapLogger(log)
}

func newDatabase(lc fx.Lifecycle, cfg *config.Config) (*bun.DB, error) {
	db, err := repository.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

func newRepositoryManager(db *bun.DB) federation.RepositoryManager {
	m := repository.NewRepositoryManager(db)
	m.MustValidate()
	return m
}

func newSessionStore(lc fx.Lifecycle, cfg *config.Config) federation.SessionStore {
	if cfg.Session.Store != "redis" {
		return federation.NewMemorySessionStore(cfg.Session.TTL)
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Session.RedisAddr,
		DB:   cfg.Session.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return federation.NewRedisSessionStore(client, cfg.Session.RedisPrefix, cfg.Session.TTL)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newObserver(reg *prometheus.Registry) (federation.Observer, error) {
	return federation.NewPrometheusObserver(reg, "federation")
}

func newClient(cfg *config.Config, logger federation.Logger, observer federation.Observer) (federation.OAuth2Client, error) {
	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		return nil, err
	}
	return llavemx.New(clientCfg,
		llavemx.WithLogger(logger),
		llavemx.WithObserver(observer),
	), nil
}

func newResolver(cfg *config.Config, repos federation.RepositoryManager, logger federation.Logger) *federation.IdentityResolver {
	return federation.NewIdentityResolver(repos, cfg.ResolverConfig(),
		federation.WithResolverLogger(logger),
	)
}

func newActivitySink(logger federation.Logger) federation.ActivitySink {
	return activitymap.NewSink(func(_ context.Context, record activitymap.Normalized) error {
		logger.Info("federation activity",
			"verb", record.Verb,
			"actor_id", record.ActorID,
			"object_id", record.ObjectID,
			"metadata", record.Metadata,
			"occurred_at", record.OccurredAt,
		)
		return nil
	})
}

func newProvisioner(
	cfg *config.Config,
	repos federation.RepositoryManager,
	sink federation.ActivitySink,
	logger federation.Logger,
) *federation.Provisioner {
	return federation.NewProvisioner(repos, cfg.ResolverConfig(), logger, sink)
}

func newFlow(
	cfg *config.Config,
	client federation.OAuth2Client,
	resolver *federation.IdentityResolver,
	sessions federation.SessionStore,
	observer federation.Observer,
	sink federation.ActivitySink,
	logger federation.Logger,
) *federation.Flow {
	opts := []federation.FlowOption{
		federation.WithLogger(logger),
		federation.WithObserver(observer),
		federation.WithRoles(cfg.Provider.FetchRoles),
		federation.WithActivitySink(sink),
	}
	if cfg.Tickets.SigningKey != "" {
		opts = append(opts, federation.WithSignupTickets(
			federation.NewSignupTicketIssuer([]byte(cfg.Tickets.SigningKey), cfg.Tickets.Issuer, cfg.Tickets.TTL, logger),
		))
	}

	mapper := llavemx.NewMapper(cfg.MapperConfig())
	return federation.NewFlow(client, mapper, resolver, sessions, opts...)
}

func newController(cfg *config.Config, flow *federation.Flow, provisioner *federation.Provisioner, logger federation.Logger) *federation.HTTPController {
	httpCfg := federation.HTTPConfig{
		PathPrefix:         cfg.Server.PathPrefix,
		StoreProviderToken: cfg.Server.StoreProviderToken,
		CookieSecure:       cfg.Server.CookieSecure,
		CookieHTTPOnly:     true,
		CookieSameSite:     cfg.Server.CookieSameSite,
		ErrorRedirect:      cfg.Server.ErrorRedirect,
	}
	if cfg.Tickets.SigningKey != "" {
		httpCfg.Provisioner = provisioner
	}
	return federation.NewHTTPController(flow, httpCfg, logger)
}

func newServer(cfg *config.Config, reg *prometheus.Registry) router.Server[*fiber.App] {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:          true,
			StrictRouting:         false,
			DisableStartupMessage: true,
			ReadTimeout:           15 * time.Second,
		}))
	})

	srv.WrappedRouter().Get(cfg.Server.MetricsPath, adaptor.HTTPHandler(
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	))
	return srv
}

func registerServer(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	srv router.Server[*fiber.App],
	controller *federation.HTTPController,
	logger federation.Logger,
) {
	controller.RegisterRoutes(srv.Router())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("http server listening", "addr", cfg.Server.Addr)
				if err := srv.Serve(cfg.Server.Addr); err != nil {
					logger.Error("http server stopped", "error", err)
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
