package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kkjha00007/resigate/pkg/audit"
	"github.com/kkjha00007/resigate/pkg/auth"
	"github.com/kkjha00007/resigate/pkg/config"
	"github.com/kkjha00007/resigate/pkg/httputil"
	"github.com/kkjha00007/resigate/pkg/middleware"
	"github.com/kkjha00007/resigate/pkg/observability"
	"github.com/kkjha00007/resigate/pkg/rbac"
	"github.com/kkjha00007/resigate/pkg/users"
)

// app holds every long-lived component of the server
type app struct {
	cfg    *config.Config
	logger *observability.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	tracer   *sdktrace.TracerProvider
	audit    *audit.MultiLogger
	health   *observability.HealthChecker

	redis    *redis.Client
	store    users.Store
	service  *users.Service
	promoter *users.Promoter
	rbac     *rbac.Manager
	limiter  middleware.Limiter

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		health:   observability.NewHealthChecker(version),
	}

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	obs := a.cfg.Observability

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        obs.OTelEnabled,
		Endpoint:       obs.OTelEndpoint,
		ServiceName:    obs.OTelServiceName,
		ServiceVersion: obs.OTelServiceVersion,
		Insecure:       obs.OTelInsecure,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tp

	if err := a.initAudit(); err != nil {
		return err
	}
	if err := a.initStore(ctx); err != nil {
		return err
	}

	catalog := rbac.DefaultCatalog()
	if a.cfg.RBAC.CatalogPath != "" {
		catalog, err = rbac.LoadCatalogFile(a.cfg.RBAC.CatalogPath)
		if err != nil {
			return err
		}
	}

	a.service = users.NewService(a.store, catalog, users.ServiceConfig{
		StrictOverrides: a.cfg.RBAC.StrictOverrides,
		WriteRetries:    a.cfg.RBAC.WriteRetries,
	}, users.WithAuditLogger(a.audit))
	a.promoter = users.NewPromoter(a.service, a.logger.WithComponent("promotion"), a.metrics, a.cfg.Promotion.BatchSize)

	a.rbac, err = rbac.NewManager(rbac.Config{Catalog: catalog, Clock: time.Now}, a.service, a.service, a.metrics, a.audit)
	if err != nil {
		return fmt.Errorf("failed to initialize rbac: %w", err)
	}

	if a.cfg.RateLimit.Enabled {
		a.initLimiter()
	}

	a.logger.WithFields(map[string]interface{}{
		"store":            a.cfg.Store.Type,
		"catalog_features": len(catalog.Features()),
		"strict_overrides": a.cfg.RBAC.StrictOverrides,
	}).Info("ResiGate initialized")
	return nil
}

func (a *app) initAudit() error {
	sinks := []audit.Logger{audit.NewLogrusLogger(os.Stdout)}
	if path := a.cfg.Observability.AuditLogPath; path != "" {
		fileLogger, err := audit.NewFileLogrusLogger(path)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		sinks = append(sinks, fileLogger)
	}

	a.audit = audit.NewMultiLogger(sinks...)
	a.audit.SetAsync(true)
	a.closers = append(a.closers, a.audit.Close)
	return nil
}

func (a *app) initStore(ctx context.Context) error {
	sc := a.cfg.Store
	var store users.Store

	switch sc.Type {
	case config.StorePostgres:
		db, err := users.OpenPostgres(ctx, users.PostgresConfig{URL: sc.PostgresURL, MaxOpenConns: sc.PostgresMaxConns})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)

		pg := users.NewPostgresStore(db)
		if sc.PostgresAutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
		}
		store = pg

	case config.StoreRedis:
		client, err := a.redisClient(ctx)
		if err != nil {
			return err
		}
		store = users.NewRedisStore(client, sc.RedisKeyPrefix)

	default:
		a.logger.Warn("Using in-memory user store; records are lost on restart")
		store = users.NewMemoryStore()
	}

	a.store = users.NewInstrumentedStore(store, sc.Type, a.metrics)
	a.health.AddDependency("user_store", observability.PingFunc(a.store.Ping), true)
	return nil
}

// redisClient connects once and shares the client between store and limiter
func (a *app) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	sc := a.cfg.Store
	client, err := users.NewRedisClient(ctx, users.RedisConfig{URL: sc.RedisURL, DB: sc.RedisDB, PoolSize: sc.RedisPoolSize})
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

func (a *app) initLimiter() {
	rl := a.cfg.RateLimit
	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: rl.RequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         rl.Burst,
	}

	if rl.Backend == config.StoreRedis {
		client, err := a.redisClient(context.Background())
		if err == nil {
			a.limiter = middleware.NewRedisLimiter(client, limits, a.cfg.Store.RedisKeyPrefix+":ratelimit")
			a.health.AddDependency("rate_limiter", observability.PingFunc(func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			}), false)
			return
		}
		a.logger.WithError(err).Warn("Redis rate limiter unavailable, falling back to in-memory limits")
	}
	a.limiter = middleware.NewMemoryLimiter(limits)
}

// apiRouter builds the public API with its middleware chain
func (a *app) apiRouter() http.Handler {
	router := mux.NewRouter()
	a.rbac.RegisterRoutes(router)

	verifier, err := staticVerifier(a.cfg.Auth.StaticTokens)
	if err != nil {
		// Unreachable after config validation; the empty verifier rejects everyone
		a.logger.WithError(err).Error("Ignoring invalid API tokens")
	}
	if verifier.Len() == 0 {
		a.logger.Warn("No API tokens configured; every authenticated route will answer 401")
	}

	router.Use(observability.RecoveryMiddleware(a.logger))
	router.Use(observability.HTTPMetricsMiddleware(a.metrics))
	router.Use(httputil.MaxBytesMiddleware(a.cfg.Server.MaxBodyBytes))
	router.Use(middleware.NewAuthMiddleware(verifier, false).Handler)
	if a.limiter != nil {
		limits := middleware.NewRateLimitMiddleware(a.limiter, a.cfg.RateLimit.FailOpen)
		if err := limits.TrustProxies(a.cfg.RateLimit.TrustedProxies); err != nil {
			a.logger.WithError(err).Error("Ignoring invalid trusted proxies")
		}
		router.Use(limits.Handler)
	}

	return observability.RequestLoggingMiddleware(a.logger)(router)
}

// opsRouter serves probes and metrics on the health port
func (a *app) opsRouter() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", a.health.Liveness).Methods("GET")
	router.HandleFunc("/readyz", a.health.Readiness).Methods("GET")
	if a.cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(a.registry)).Methods("GET")
	}
	return router
}

func staticVerifier(raw string) (*auth.StaticTokenVerifier, error) {
	tokens, err := auth.ParseStaticTokens(raw)
	if err != nil {
		return auth.NewStaticTokenVerifier(nil), err
	}
	return auth.NewStaticTokenVerifier(tokens), nil
}

// scheduler registers background jobs
func (a *app) scheduler() (*cron.Cron, error) {
	c := cron.New()

	if a.cfg.Promotion.Enabled {
		if _, err := a.promoter.Schedule(c, a.cfg.Promotion.Schedule); err != nil {
			return nil, err
		}
		a.logger.WithField("schedule", a.cfg.Promotion.Schedule).Info("Legacy promotion scheduled")
	}

	if limiter, ok := a.limiter.(*middleware.MemoryLimiter); ok {
		if _, err := c.AddFunc("@every 5m", limiter.Cleanup); err != nil {
			return nil, fmt.Errorf("failed to schedule rate limiter cleanup: %w", err)
		}
	}

	return c, nil
}

// Run serves the API and ops endpoints until ctx is cancelled
func (a *app) Run(ctx context.Context) error {
	sc := a.cfg.Server
	api := &http.Server{
		Addr:         net.JoinHostPort(sc.Host, sc.Port),
		Handler:      a.apiRouter(),
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}
	ops := &http.Server{
		Addr:        net.JoinHostPort(sc.Host, sc.HealthPort),
		Handler:     a.opsRouter(),
		ReadTimeout: 5 * time.Second,
	}

	c, err := a.scheduler()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Infof("API listening on %s", api.Addr)
		return serve(api)
	})
	g.Go(func() error {
		a.logger.Infof("Health and metrics listening on %s", ops.Addr)
		return serve(ops)
	})
	g.Go(func() error {
		c.Start()
		<-gctx.Done()
		a.logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := api.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		if err := ops.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("ops shutdown: %w", err))
		}
		select {
		case <-c.Stop().Done():
		case <-shutdownCtx.Done():
			errs = append(errs, errors.New("background jobs did not stop in time"))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
	}
	return nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := observability.ShutdownTracing(ctx, a.tracer, a.logger); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
