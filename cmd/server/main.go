package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ratepulse/ratepulse/internal/cache"
	"github.com/ratepulse/ratepulse/internal/config"
	httpserver "github.com/ratepulse/ratepulse/internal/http"
	"github.com/ratepulse/ratepulse/internal/rating"
	"github.com/ratepulse/ratepulse/internal/reconcile"
	"github.com/ratepulse/ratepulse/internal/repository"
	"github.com/ratepulse/ratepulse/internal/service"
	"github.com/ratepulse/ratepulse/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic("config error: " + err.Error())
	}

	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := runMigrations(cfg); err != nil {
		logger.Fatal("apply migrations", zap.Error(err))
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := store.New(dbCtx, cfg.DBURL, store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	})
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer st.Close()

	cacheStore := cache.NewRedis(cfg.RedisAddr, cache.RedisOptions{
		ListingTTL:    time.Duration(cfg.ListCacheTTLSecs) * time.Second,
		UserRatingTTL: time.Duration(cfg.UserRatingCacheTTLSecs) * time.Second,
	}, logger)
	defer func() { _ = cacheStore.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cacheStore.Ping(pingCtx); err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}
	logger.Info("cache connection established", zap.String("addr", cfg.RedisAddr))

	policy, err := rating.New(cfg.AggregationPolicy, rating.Params{
		CountThreshold:   int64(cfg.NumRatingThreshold),
		DecaySeconds:     float64(cfg.EMADecaySecs),
		MinTimeWindow:    time.Duration(cfg.MinTimeWindowSecs) * time.Second,
		OutlierThreshold: cfg.OutlierThreshold,
	})
	if err != nil {
		logger.Fatal("build aggregation policy", zap.Error(err))
	}

	repo := repository.New(st)
	opTimeout := time.Duration(cfg.CacheOpTimeoutSecs) * time.Second

	ingest := service.NewIngest(repo, cacheStore, policy,
		service.ScoreBounds{Min: cfg.RatingMin, Max: cfg.RatingMax}, opTimeout, logger)
	listing := service.NewListing(repo, cacheStore, opTimeout, logger)

	reconciler := reconcile.New(cacheStore, repo.Items,
		time.Duration(cfg.ReconcileIntervalSecs)*time.Second, opTimeout, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()

	server := httpserver.New(cfg, st, cacheStore, repo, ingest, listing, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			logger.Error("server error", zap.Error(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("graceful shutdown error", zap.Error(err))
	}

	stop()
	wg.Wait()
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		panic("build logger: " + err.Error())
	}
	return logger
}

func runMigrations(cfg config.Config) error {
	m, err := migrate.New("file://"+cfg.MigrationsDir, cfg.DBURL)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
