package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"paycore/internal/domain/auth"
	"paycore/internal/domain/contributions"
	"paycore/internal/domain/payroll"
	"paycore/internal/platform/alert"
	"paycore/internal/platform/config"
	cryptoutil "paycore/internal/platform/crypto"
	"paycore/internal/platform/db"
	"paycore/internal/platform/events"
	"paycore/internal/platform/jobs"
	"paycore/internal/platform/lock"
	"paycore/internal/platform/metrics"
	payrollhandler "paycore/internal/transport/http/handlers/payroll"
	"paycore/internal/transport/http/middleware"
)

type App struct {
	Config  config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Router  http.Handler
	Payroll *payroll.Service
	Jobs    *jobs.Service
	Metrics *metrics.Collector

	closers []func() error
}

// Run loads configuration, builds the app and serves HTTP until SIGINT or
// SIGTERM.
func Run() error {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	app.Jobs.Start(gCtx)
	g.Go(func() error {
		slog.Info("payroll server listening", "addr", cfg.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	app.Jobs.Wait()
	return err
}

// New wires stores, platform services and routes. Backends are picked from
// configuration: postgres or memory store, redis or in-process lock, kafka
// or log events.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{Config: cfg}
	if cfg.MetricsEnabled {
		app.Metrics = metrics.New()
	}

	tables := contributions.Default()
	if cfg.ContributionTablesPath != "" {
		loaded, err := contributions.LoadFile(cfg.ContributionTablesPath)
		if err != nil {
			return nil, fmt.Errorf("load contribution tables: %w", err)
		}
		tables = loaded
	}
	slog.Info("contribution tables loaded", "versions", tables.Versions())

	crypto, err := cryptoutil.New(cfg.DataEncryptionKey)
	if err != nil {
		return nil, err
	}

	var (
		store     payroll.Store
		directory payroll.Directory
		recorder  jobs.Recorder
		auditLog  *events.AuditLog
		emitters  = events.Multi{events.LogEmitter{}}
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		app.DB = pool
		app.closers = append(app.closers, func() error { pool.Close(); return nil })
		if cfg.RunMigrations {
			if err := db.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
				app.Close()
				return nil, fmt.Errorf("migrations: %w", err)
			}
		}
		store = payroll.NewPGStore(pool)
		directory = &payroll.PGDirectory{DB: pool}
		recorder = jobs.PGRecorder{DB: pool}
		auditLog = events.NewAuditLog(pool)
		emitters = append(emitters, auditLog)
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory payroll store")
		store = payroll.NewMemoryStore()
		directory = payroll.NewStaticDirectory()
	}

	var locker payroll.Locker = lock.NewMemory()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			app.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		app.Redis = client
		app.closers = append(app.closers, client.Close)
		locker = lock.NewRedis(client, "paycore:")
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaEmitter(cfg.KafkaBrokers, cfg.KafkaTopic)
		app.closers = append(app.closers, kafka.Close)
		emitters = append(emitters, kafka)
	}

	app.Jobs = jobs.New(cfg.JobQueueSize, cfg.JobWorkers, recorder)

	deps := payroll.Deps{
		Store:     store,
		Directory: directory,
		Tables:    tables,
		Locker:    locker,
		Jobs:      app.Jobs,
		Events:    emitters,
		Alerts:    alert.New(cfg),
		Crypto:    crypto,
	}
	if app.Metrics != nil {
		deps.Observer = app.Metrics
	}
	app.Payroll = payroll.New(deps, payroll.Options{
		Workers:           cfg.CalcWorkers,
		HeartbeatTimeout:  cfg.CalcHeartbeatTimeout,
		PayDateGraceDays:  cfg.PayDateGraceDays,
		ApprovalRoles:     cfg.ApprovalSteps,
		Policy:            payroll.ReviewPolicy{BlockingSeverity: payroll.Severity(cfg.BlockingSeverity)},
		VarianceThreshold: cfg.VarianceThreshold,
		PayslipDir:        cfg.PayslipDir,
	})
	app.Jobs.Every(payroll.JobWatchdog, cfg.WatchdogInterval, func(ctx context.Context) (any, error) {
		failed, err := app.Payroll.Periods.SweepStalled(ctx)
		return map[string]any{"timedOut": failed}, err
	})

	var lister payrollhandler.EventLister
	if auditLog != nil {
		lister = auditLog
	}
	app.Router = app.routes(lister)
	return app, nil
}

func (a *App) routes(lister payrollhandler.EventLister) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	var recorder middleware.Recorder
	if a.Metrics != nil {
		recorder = a.Metrics
	}
	router.Use(middleware.Logger(recorder))
	router.Use(middleware.SecureHeaders(a.Config.Environment == "production"))
	router.Use(middleware.BodyLimit(a.Config.MaxBodyBytes))
	router.Use(middleware.Auth(a.Config.JWTSecret))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", a.handleReady)
	if a.Metrics != nil {
		router.Handle("/metrics", a.Metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(middleware.RateLimitOptions{
			Limit:      a.Config.RateLimitPerMinute,
			Window:     time.Minute,
			TrustProxy: a.Config.TrustProxy,
		}))
		payrollHandler := payrollhandler.NewHandler(a.Payroll, auth.StaticPermissions{}, lister)
		payrollHandler.RegisterRoutes(r)
	})
	return router
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if a.DB != nil {
		if err := a.DB.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Close releases backends in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
