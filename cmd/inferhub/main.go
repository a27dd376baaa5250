// Command inferhub serves the inference gateway over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ineyio/inferhub"
	"github.com/ineyio/inferhub/backfill"
	"github.com/ineyio/inferhub/events"
	"github.com/ineyio/inferhub/httpapi"
	"github.com/ineyio/inferhub/meter"
	"github.com/ineyio/inferhub/quota"
	quotapg "github.com/ineyio/inferhub/quota/postgres"
	"github.com/ineyio/inferhub/sqlstore"
	"github.com/ineyio/inferhub/usage"
)

func main() {
	configPath := flag.String("config", "configs/config.yml", "path to the YAML config")
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash of a password and exit")
	flag.Parse()

	if *hashPassword != "" {
		h, err := httpapi.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}

	cfg, err := inferhub.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("inferhub stopped", zap.Error(err))
	}
}

func newLogger(cfg inferhub.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(ctx context.Context, cfg inferhub.Config, logger *zap.Logger) error {
	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := sqlstore.Migrate(db, cfg.Database.Driver, logger); err != nil {
		return err
	}
	store := sqlstore.New(db, logger)

	providers, err := buildProviders(cfg.Providers)
	if err != nil {
		return err
	}
	routerOpts := []inferhub.Option{
		inferhub.WithLogger(logger),
		inferhub.WithMeter(meter.NewLogMeter(logger)),
	}
	if cfg.Dispatch.StrictConflicts {
		routerOpts = append(routerOpts, inferhub.WithStrictConflicts())
	}
	router, err := inferhub.NewRouter(providers, routerOpts...)
	if err != nil {
		return err
	}
	if _, err := router.Refresh(ctx); err != nil {
		return err
	}
	logger.Info("providers ready", zap.Strings("providers", router.Providers()), zap.Int("models", len(router.Models())))

	loc, err := cfg.Quota.Location()
	if err != nil {
		return err
	}
	gate, closeGate, err := buildQuotaGate(ctx, cfg.Quota, cfg.Database.DSN, loc, logger)
	if err != nil {
		return err
	}
	defer closeGate()

	recorderOpts := []inferhub.RecorderOption{inferhub.WithRecorderLogger(logger)}
	if cfg.Events.NATSURL != "" {
		bus, err := events.Connect(cfg.Events.NATSURL, events.Config{
			Stream:        cfg.Events.Stream,
			SubjectPrefix: cfg.Events.SubjectPrefix,
			Durable:       cfg.Events.Durable,
		}, logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		recorderOpts = append(recorderOpts, inferhub.WithEventPublisher(bus))
		go func() {
			if err := bus.Consume(ctx, store); err != nil {
				logger.Error("embedding completion consumer stopped", zap.Error(err))
			}
		}()
	}
	recorder := inferhub.NewLogRecorder(store, store, recorderOpts...)

	usageSvc := usage.New(store, usage.WithLocation(loc), usage.WithLogger(logger))
	orch := inferhub.NewOrchestrator(router, gate, store, recorder, usageSvc,
		inferhub.WithDispatchTimeout(cfg.Dispatch.Timeout),
		inferhub.WithOrchestratorLogger(logger),
	)

	reconciler := backfill.NewReconciler(store, store, store, recorder,
		backfill.WithPageSize(cfg.Backfill.PageSize),
		backfill.WithWorkers(cfg.Backfill.Workers),
		backfill.WithContextProject(cfg.Backfill.ContextProject),
		backfill.WithLogger(logger),
	)
	scheduler := backfill.NewScheduler(reconciler, cfg.Backfill.LogInterval, cfg.Backfill.ContextInterval, logger)
	if cfg.Backfill.BackfillEnabled() {
		go scheduler.Run(ctx)
	}

	var auth *httpapi.Auth
	if cfg.Admin.JWTSecret != "" {
		auth = httpapi.NewAuth(cfg.Admin.Username, cfg.Admin.PasswordHash, cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
	} else {
		logger.Warn("admin routes disabled: admin.jwt_secret is empty")
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	var quotaReporter inferhub.QuotaReporter
	if r, ok := gate.(inferhub.QuotaReporter); ok {
		quotaReporter = r
	}
	engine := httpapi.New(httpapi.Deps{
		Orchestrator: orch,
		Router:       router,
		Contexts:     store,
		Templates:    store,
		Logs:         store,
		Stubs:        store,
		Usage:        usageSvc,
		Quota:        quotaReporter,
		Backfill:     scheduler,
		Auth:         auth,
		DB:           db,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildQuotaGate(ctx context.Context, cfg inferhub.QuotaConfig, dsn string, loc *time.Location, logger *zap.Logger) (inferhub.QuotaGate, func(), error) {
	limits := cfg.QuotaLimits()
	switch cfg.Backend {
	case "redis":
		return buildRedisGate(ctx, cfg.Redis, limits, loc)
	case "postgres":
		return buildPostgresGate(ctx, dsn, limits, loc, logger)
	default:
		return quota.NewDailyGate(limits, quota.WithLocation(loc)), func() {}, nil
	}
}

func buildRedisGate(ctx context.Context, cfg inferhub.RedisConfig, limits inferhub.QuotaLimits, loc *time.Location) (inferhub.QuotaGate, func(), error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	gate := quota.NewRedisGate(client, limits,
		quota.WithKeyPrefix(cfg.KeyPrefix),
		quota.WithRedisLocation(loc),
	)
	return gate, func() { client.Close() }, nil
}

const quotaRetentionDays = 30

func buildPostgresGate(ctx context.Context, dsn string, limits inferhub.QuotaLimits, loc *time.Location, logger *zap.Logger) (inferhub.QuotaGate, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("quota pool: %w", err)
	}
	gate := quotapg.New(pool, limits, quotapg.WithLocation(loc))
	if err := gate.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if n, err := gate.Prune(ctx, quotaRetentionDays); err != nil {
		logger.Warn("prune quota counters failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("pruned quota counters", zap.Int64("rows", n))
	}
	return gate, pool.Close, nil
}
