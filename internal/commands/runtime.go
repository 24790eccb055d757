package commands

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/latency-dashboard/internal/apperror"
	"github.com/example/latency-dashboard/internal/config"
	"github.com/example/latency-dashboard/internal/logging"
	"github.com/example/latency-dashboard/internal/repository"
	"github.com/example/latency-dashboard/internal/timingsource"
	"github.com/example/latency-dashboard/internal/usecase"
)

// runtime holds the wired collaborators shared by the commands.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *gorm.DB
	repo     *repository.MetricRepository
	redis    *redis.Client
	registry *prometheus.Registry
	metrics  *usecase.PipelineMetrics
	guard    *usecase.PartitionGuard
	cache    usecase.SummaryCache
	ingestor *usecase.Ingestor
	query    *usecase.QueryService
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindConfig, err, "build logger")
	}
	return logger, nil
}

// buildRuntime connects the store and, when configured, Redis, and wires the pipeline.
// A missing upstream credential does not fail here; fetches report it as a ConfigError.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := initDatabase(connectCtx, cfg)
	if err != nil {
		return nil, err
	}
	repo := repository.NewMetricRepository(db, logger)
	if err := repo.AutoMigrate(connectCtx); err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		repo:     repo,
		registry: prometheus.NewRegistry(),
		cache:    usecase.NopSummaryCache{},
	}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.metrics = usecase.NewPipelineMetrics(rt.registry)

	var locker usecase.Locker
	if cfg.RedisAddr != "" {
		client, err := initRedis(connectCtx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, running without cache and cross-process guard", zap.Error(err))
		} else {
			rt.redis = client
			locker = usecase.NewRedisLocker(client)
			summaryCache, err := usecase.NewRedisSummaryCache(usecase.NewRedisCache(client), cfg.CacheTTL, logger)
			if err != nil {
				return nil, apperror.Wrap(apperror.KindInternal, err, "build summary cache")
			}
			rt.cache = summaryCache
		}
	}

	rt.guard = usecase.NewPartitionGuard(locker, cfg.CycleTimeout, logger)
	aggregator := usecase.NewAggregator(repo, rt.cache, logger)

	var source timingsource.Source
	sourceErr := cfg.RequireUpstream()
	if sourceErr == nil {
		client, err := timingsource.NewHTTPClient(timingsource.Options{
			BaseURL:       cfg.UpstreamBaseURL,
			AuthToken:     cfg.AuthToken,
			MonitorToken:  cfg.MonitorToken,
			Timeout:       cfg.UpstreamTimeout,
			RetryAttempts: cfg.UpstreamRetryAttempts,
		}, logger)
		if err != nil {
			sourceErr = err
		} else {
			source = client
		}
	}
	if sourceErr != nil {
		logger.Warn("timing source disabled", zap.Error(sourceErr))
	}

	rt.ingestor = usecase.NewIngestor(repo, source, sourceErr, aggregator, rt.guard, rt.metrics, usecase.IngestorOptions{
		DefaultType:  cfg.MetricType,
		Concurrency:  cfg.FetchConcurrency,
		MaxRangeDays: cfg.MaxRangeDays,
		CycleTimeout: cfg.CycleTimeout,
	}, logger)
	rt.query = usecase.NewQueryService(repo, aggregator, rt.guard, rt.cache, cfg.MetricType, logger)
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if sqlDB, err := rt.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			rt.logger.Warn("failed to close database", zap.Error(err))
		}
	}
}

func initDatabase(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, apperror.Wrap(apperror.KindStore, err, "connect to database %s:%d", cfg.DBHost, cfg.DBPort)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperror.Wrap(apperror.KindStore, err, "access db handle")
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(cfg.FetchConcurrency + 5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, apperror.Wrap(apperror.KindStore, err, "database ping failed")
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(errors.New("redis connection failed"), err)
	}
	return client, nil
}
