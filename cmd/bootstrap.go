package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/ai"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/archive"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/config"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/database"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/events"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/extract"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/handlers"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/metrics"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/serp"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/sitemap"
)

const userAgent = "rank-tracker/1.0 (+https://github.com/jonesrussell/north-cloud)"

// app holds the wired engine shared by all commands.
type app struct {
	cfg        *config.Config
	log        logger.Logger
	db         *sqlx.DB
	store      *database.Store
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	redis      *redis.Client
	events     *events.Publisher
	service    *jobs.Service
	dispatcher *jobs.Dispatcher
	planner    *jobs.Planner
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: debug || cfg.IsDevelopment(),
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	log = log.With(
		logger.String("service", cfg.App.Name),
		logger.String("version", Version),
	)

	a := &app{cfg: cfg, log: log}

	a.db, err = database.NewPostgresConnection(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            strconv.Itoa(cfg.Database.Port),
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.store = database.NewStore(a.db)
	log.Info("Connected to database",
		logger.String("host", cfg.Database.Host),
		logger.String("dbname", cfg.Database.DBName),
	)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.connectEvents(ctx)

	blobs, err := a.newBlobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service = jobs.NewService(a.store, jobs.SystemClock{}, log,
		jobs.WithServiceMetrics(a.metrics),
		jobs.WithServiceEvents(a.events),
		jobs.WithMaxAttempts(cfg.Dispatcher.MaxAttempts),
	)

	serpClient := serp.NewClient(serp.Config{
		BaseURL:           cfg.Serp.BaseURL,
		APIKey:            cfg.Serp.APIKey,
		Timeout:           cfg.Serp.Timeout,
		RequestsPerSecond: cfg.Serp.RequestsPerSecond,
		Burst:             cfg.Serp.Burst,
	}, nil)

	executor := jobs.NewExecutor(a.store, log)
	handlers.Register(executor, handlers.Deps{
		Store:     a.store,
		Serp:      serpClient,
		Blobs:     blobs,
		Sitemaps:  sitemap.NewHTTPFetcher(&http.Client{Timeout: cfg.Serp.Timeout}, userAgent),
		Pages:     extract.NewExtractor(nil, userAgent),
		Generator: a.newGenerator(),
		Enqueuer:  a.service,
		Logger:    log,
		SerpCfg: handlers.SerpConfig{
			Country:              cfg.Serp.Country,
			Language:             cfg.Serp.Language,
			Device:               cfg.Serp.Device,
			NumResults:           cfg.Serp.NumResults,
			CompetitorCandidates: cfg.Serp.CompetitorCandidates,
			AutoCreate:           cfg.Serp.AutoCreateCompetitors,
		},
	})

	a.dispatcher = jobs.NewDispatcher(a.store, executor, jobs.SystemClock{},
		jobs.DispatcherConfig{
			BatchSize:  cfg.Dispatcher.BatchSize,
			Workers:    cfg.Dispatcher.Workers,
			JobTimeout: cfg.Dispatcher.JobTimeout,
		},
		log,
		jobs.WithDispatcherMetrics(a.metrics),
		jobs.WithDispatcherEvents(a.events),
	)

	a.planner = jobs.NewPlanner(a.store, a.service, jobs.SystemClock{},
		jobs.PlannerConfig{
			SerpPriority:   cfg.Planner.SerpPriority,
			ReportPriority: cfg.Planner.ReportPriority,
		},
		log,
	)

	return a, nil
}

// connectEvents enables Redis job events when configured. A failed ping disables them.
func (a *app) connectEvents(ctx context.Context) {
	if !a.cfg.Redis.Enabled {
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Address,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		a.log.Warn("Redis unavailable, job events disabled",
			logger.String("address", a.cfg.Redis.Address),
			logger.Error(err),
		)
		_ = client.Close()
		return
	}

	a.redis = client
	a.events = events.NewPublisher(client, a.cfg.Redis.Stream, a.log)
	a.log.Info("Job events enabled", logger.String("stream", a.cfg.Redis.Stream))
}

func (a *app) newBlobStore(ctx context.Context) (archive.Store, error) {
	store, err := archive.New(archive.Config{
		Enabled:   a.cfg.MinIO.Enabled,
		Endpoint:  a.cfg.MinIO.Endpoint,
		AccessKey: a.cfg.MinIO.AccessKey,
		SecretKey: a.cfg.MinIO.SecretKey,
		UseSSL:    a.cfg.MinIO.UseSSL,
		Bucket:    a.cfg.MinIO.Bucket,
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("create blob store: %w", err)
	}

	if minioStore, ok := store.(*archive.MinIOStore); ok {
		if err = minioStore.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure archive bucket: %w", err)
		}
	}

	return store, nil
}

func (a *app) newGenerator() handlers.ReportGenerator {
	if a.cfg.OpenAI.APIKey == "" {
		a.log.Info("OpenAI API key not set, using template reports")
		return ai.TemplateGenerator{}
	}

	gen, err := ai.NewOpenAIGenerator(a.cfg.OpenAI.APIKey, a.cfg.OpenAI.Model)
	if err != nil {
		a.log.Warn("OpenAI generator unavailable, using template reports", logger.Error(err))
		return ai.TemplateGenerator{}
	}
	return gen
}

// Close releases connections. Safe to call on a partially built app.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close redis", logger.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", logger.Error(err))
		}
	}
	_ = a.log.Sync()
}
