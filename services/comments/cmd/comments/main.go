package main

import (
	"context"
	"net"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/event-engagement/internal/platform/auth"
	platformcfg "github.com/example/event-engagement/internal/platform/config"
	"github.com/example/event-engagement/internal/platform/db"
	"github.com/example/event-engagement/internal/platform/eventbus"
	"github.com/example/event-engagement/internal/platform/httpserver"
	"github.com/example/event-engagement/internal/platform/logging"
	"github.com/example/event-engagement/internal/platform/natsconn"
	"github.com/example/event-engagement/internal/platform/run"
	"github.com/example/event-engagement/services/comments/internal/config"
	"github.com/example/event-engagement/services/comments/internal/domain"
	"github.com/example/event-engagement/services/comments/internal/events"
	"github.com/example/event-engagement/services/comments/internal/grpcapi"
	"github.com/example/event-engagement/services/comments/internal/handlers"
	"github.com/example/event-engagement/services/comments/internal/store"
	"github.com/example/event-engagement/services/comments/internal/thread"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	app, err := platformcfg.Load()
	if err != nil {
		panic(err)
	}
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(app.LogLevel, app.ServiceName)
	if err != nil {
		panic(err)
	}

	pool := openPool(log, app, cfg)

	var st store.Store
	if pool != nil {
		st = store.NewPostgresStore(pool)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory comment store (development only)")
		st = store.NewInMemoryStore()
	}

	lookup := initEvents(log, cfg, pool)

	pub, closeNATS := initPublisher(log, cfg)

	svc := thread.NewService(st, lookup, pub, log)
	verifier := auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Logger: log,
		ReadyFunc: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return st.Ping(ctx)
		},
	})
	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		handlers.Register(r, svc, log)
	})

	srv := httpserver.New(httpserver.Options{Addr: app.HTTP.Addr, ServiceName: app.ServiceName, Router: r})

	health := grpcapi.NewHealth(st, cfg.HealthInterval, log)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen", zap.Error(err))
		run.Exit(1)
	}
	grpcSrv := grpcapi.NewServer(health)
	go func() {
		log.Info("grpc server starting", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("grpc serve", zap.Error(err))
		}
	}()

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		go health.Run(ctx)
		go func() {
			<-ctx.Done()
			stopped := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(runner.ShutdownTimeout):
				grpcSrv.Stop()
			}
			runner.Graceful(srv.Shutdown)
		}()
		return srv.Start(log)
	})

	// run.Exit skips deferred calls.
	if closeNATS != nil {
		closeNATS()
	}
	if pool != nil {
		pool.Close()
	}
	log.Info("exit", zap.Int("code", code))
	_ = log.Sync()
	run.Exit(code)
}

// openPool connects to Postgres and applies the schema. In production
// (APP_ENV=production) a working database is required and the process
// terminates otherwise; in development it returns nil to select memory stores.
func openPool(log *zap.Logger, app platformcfg.AppConfig, cfg config.Config) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		if app.IsProduction() {
			log.Error("DATABASE_URL is required in production")
			_ = log.Sync()
			run.Exit(1)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, db.Options{DSN: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err == nil {
		err = store.EnsureSchema(ctx, pool)
		if err != nil {
			pool.Close()
		}
	}
	if err != nil {
		if app.IsProduction() {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory store", zap.Error(err))
		return nil
	}
	log.Info("connected to postgres")
	return pool
}

// initEvents selects the event lookup and wraps it in the Redis cache when
// REDIS_URL is set.
func initEvents(log *zap.Logger, cfg config.Config, pool *pgxpool.Pool) events.Lookup {
	var lookup events.Lookup
	switch cfg.EventsSource {
	case config.EventsPostgres:
		if pool == nil {
			log.Warn("postgres events unavailable, using static event list")
			lookup = staticEvents(log, cfg)
			break
		}
		lookup = events.NewPostgresLookup(pool)
	case config.EventsBackend:
		cb := events.NewCircuitBreaker("backend-events",
			cfg.CBMaxRequests, cfg.CBInterval, cfg.CBTimeout, cfg.CBFailureThreshold)
		lookup = events.NewBackendClient(cfg.BackendAPIURL,
			events.BackendConfig{
				MaxRetries:     cfg.MaxRetries,
				RetryBaseDelay: cfg.RetryBaseDelay,
				Timeout:        cfg.BackendTimeout,
			},
			events.WithCircuitBreaker(cb),
			events.WithLogger(log),
			events.WithTokenSource(events.StaticToken(cfg.BackendAPIToken)),
		)
	default:
		lookup = staticEvents(log, cfg)
	}

	if cfg.RedisURL == "" || cfg.EventsSource == config.EventsStatic {
		return lookup
	}
	rdb, err := events.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Warn("invalid REDIS_URL, event cache disabled", zap.Error(err))
		return lookup
	}
	log.Info("event cache enabled", zap.Duration("ttl", cfg.EventCacheTTL))
	return events.NewCachedLookup(lookup, rdb, cfg.EventCacheTTL, log)
}

func staticEvents(log *zap.Logger, cfg config.Config) *events.StaticLookup {
	evs := make([]domain.Event, 0, len(cfg.StaticEventIDs))
	for _, id := range cfg.StaticEventIDs {
		evs = append(evs, domain.Event{ID: id})
	}
	log.Info("using static events", zap.Int("count", len(evs)))
	return events.NewStaticLookup(evs...)
}

// initPublisher connects to NATS JetStream. Without NATS_URL, or when the
// connection fails, activity publishing is disabled.
func initPublisher(log *zap.Logger, cfg config.Config) (*eventbus.Publisher, func()) {
	if cfg.NATSURL == "" {
		log.Info("NATS_URL not set, comment activity publishing disabled")
		return eventbus.New(nil, log), nil
	}
	nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: "comments", Logger: log})
	if err != nil {
		log.Error("nats connect", zap.Error(err))
		return eventbus.New(nil, log), nil
	}
	js, err := nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		log.Error("jetstream", zap.Error(err))
		nc.Close()
		return eventbus.New(nil, log), nil
	}
	pub := eventbus.New(js, log)
	err = pub.EnsureStream(context.Background(), eventbus.StreamConfig{
		Name:     "COMMENTS",
		Subjects: []string{"comments.>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		log.Warn("ensure COMMENTS stream", zap.Error(err))
	}
	return pub, func() {
		select {
		case <-js.PublishAsyncComplete():
		case <-time.After(5 * time.Second):
		}
		if err := natsconn.Drain(nc, 5*time.Second); err != nil {
			log.Warn("nats drain", zap.Error(err))
		}
	}
}
