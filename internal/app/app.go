package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/cache"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/events"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/repository"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const serviceName = "storefront-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	srv, err := build(ctx, lg, cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer srv.close()

	srv.health.Start(ctx, 10*time.Second)
	srv.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		srv.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// services is the wired application. close releases its connections in
// reverse order of creation.
type services struct {
	handler http.Handler
	health  *health.Health
	closers []func()
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// build connects to the backing stores, applies migrations and assembles the
// HTTP handler. Redis and Kafka are optional.
func build(ctx context.Context, lg *zap.Logger, cfg *Config, tp trace.TracerProvider, mp metric.MeterProvider) (_ *services, rerr error) {
	s := &services{health: health.New()}
	defer func() {
		if rerr != nil {
			s.close()
		}
	}()

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	s.closers = append(s.closers, pool.Close)

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	s.health.Register(health.Readiness, "postgres", health.PingCheck(pool))
	s.health.Register(health.Liveness, "goroutines", health.GoroutineCountCheck(10000), health.WithTimeout(time.Second))
	s.health.Register(health.Liveness, "gc_pause", health.GCMaxPauseCheck(time.Second), health.WithTimeout(time.Second))

	var products product.Repository = repository.NewProductRepository(pool)
	var limitStore httpmiddleware.LimitStore

	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		s.closers = append(s.closers, func() { _ = rdb.Close() })

		s.health.Register(health.Readiness, "redis", redisCheck(rdb))
		products = cache.NewProducts(products, rdb, cfg.Redis.KeyPrefix, cfg.Redis.CacheTTL)
		limitStore = httpmiddleware.NewRedisStore(rdb, cfg.Redis.KeyPrefix+"ratelimit:", cfg.RateLimit.Max, cfg.RateLimit.Window)
		lg.Info("Redis enabled", zap.String("addr", cfg.Redis.Addr))
	}

	serviceOpts := []order.Option{order.WithTelemetry(tp, mp)}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := events.NewPublisher(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		s.closers = append(s.closers, func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		})
		serviceOpts = append(serviceOpts, order.WithPublisher(pub))
		lg.Info("Order events enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	orderService, err := order.NewService(repository.NewStore(pool), serviceOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	h := handler.NewHandler(handler.Config{
		Checkout: orderService,
		Products: products,
		Vouchers: repository.NewVoucherRepository(pool),
		Orders:   repository.NewOrderRepository(pool),
		Auth:     auth.NewAuthenticator(repository.NewAPIKeyRepository(pool), []byte(cfg.APIKeyPepper)),
	})
	s.handler = newServerHandler(ctx, cfg, h, s.health, limitStore, tp, mp)
	return s, nil
}

// newServerHandler mounts the probes and the API on one chi router and wraps
// it in the middleware chain. A nil limitStore selects the in-process
// limiter.
func newServerHandler(
	ctx context.Context,
	cfg *Config,
	h *handler.Handler,
	healthSvc *health.Health,
	limitStore httpmiddleware.LimitStore,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) http.Handler {
	r := chi.NewRouter()
	r.Get("/livez", healthSvc.Handler(health.Liveness))
	r.Get("/readyz", healthSvc.Handler(health.Readiness))
	h.Mount(r)

	rl := httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
		Store:  limitStore,
	}
	var rateLimit httpmiddleware.Middleware
	if limitStore != nil {
		rateLimit = httpmiddleware.RateLimit(rl)
	} else {
		rateLimit = httpmiddleware.RateLimitWithCleanup(ctx, rl)
	}

	return httpmiddleware.Wrap(r,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
		httpmiddleware.RouteContext(),
		httpmiddleware.LogRequests(),
		httpmiddleware.Instrument(serviceName, tp, mp),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		rateLimit,
	)
}

func redisCheck(rdb redis.UniversalClient) health.CheckFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
