package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/uwia/internal/config"
	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/core/cache"
	db "github.com/markdave123-py/uwia/internal/core/database"
	"github.com/markdave123-py/uwia/internal/core/ingestion_engine"
	"github.com/markdave123-py/uwia/internal/core/llm"
	objectclient "github.com/markdave123-py/uwia/internal/core/object-client"
	"github.com/markdave123-py/uwia/internal/services"
)

// App owns every long-lived component and shuts them down in reverse order.
type App struct {
	Store    core.SessionStore
	Queue    ingestion_engine.Queue
	Sessions *services.SessionService
	Sweeper  *services.Sweeper
	Server   *Server

	llm      *llm.GeminiLLM
	embedder *llm.GeminiEmbedder
	redis    *redis.Client
	logger   *slog.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{logger: log.With("component", "app")}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	if cfg.DatabaseURL != "" {
		dbClient, err := db.NewDatabaseClient(appCtx, cfg, log)
		if err != nil {
			return nil, err
		}
		a.Store = dbClient
		log.Info("database initialized and ready")
	} else {
		a.Store = db.NewMemoryStore()
	}

	var objects core.ObjectClient
	if cfg.HasObjectStorage() {
		s3, err := objectclient.NewS3Client(appCtx, cfg, log)
		if err != nil {
			return nil, err
		}
		objects = s3
		log.Info("object client initialized and ready", "bucket", cfg.BucketName)
	} else {
		log.Warn("AWS credentials not set, uploads are not archived")
	}

	gen, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel, cfg.VisionModel, cfg.AIRateRPM, log)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the llm: %w", err)
	}
	a.llm = gen

	var embedder core.EmbeddingProvider
	if cfg.EmbedEnabled {
		a.embedder, err = llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel, cfg.AIRateRPM, log)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
		}
		embedder = a.embedder
	}

	catalog, err := services.LoadPromptCatalog(cfg.PromptCatalogPath)
	if err != nil {
		return nil, err
	}

	thresholds := ingestion_engine.ThresholdsFromConfig(cfg.Processing)
	processor := ingestion_engine.NewSessionProcessor(ingestion_engine.ProcessorDeps{
		Store:        a.Store,
		Objects:      objects,
		Bucket:       cfg.BucketName,
		Pages:        ingestion_engine.NewPDFPageExtractor(log),
		Text:         ingestion_engine.NewCascade(cfg.Processing.MinTextChars, cfg.Processing.ExtractTimeout, false, log),
		Embedder:     embedder,
		Guard:        ingestion_engine.NewMemoryGuard(cfg.Memory, log),
		Thresholds:   thresholds,
		BaseTimeout:  cfg.Processing.ExtractTimeout,
		LargeTimeout: cfg.Processing.LargeExtractTimeout,
	}, log)

	var classifications core.ClassificationCache
	if cfg.RedisURL != "" {
		a.redis, err = cache.NewRedisClient(appCtx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		classifications = cache.NewRedisCache(a.redis, "uwia:classification", cfg.Processing.ClassificationCache, log)
		log.Info("redis cache ready")
	} else {
		classifications = cache.NewMemoryCache(cfg.Processing.ClassificationCache)
	}

	if a.Queue, err = newQueue(cfg, objects != nil, processor, log); err != nil {
		return nil, err
	}

	a.Sessions = services.NewSessionService(services.SessionServiceDeps{
		Store:      a.Store,
		Objects:    objects,
		Bucket:     cfg.BucketName,
		Queue:      a.Queue,
		Processor:  processor,
		Thresholds: thresholds,
		Sessions:   cfg.Sessions,
	}, log)

	evaluator := llm.NewEvaluator(gen, gen, cfg.ValidationPass, log)
	query := services.NewQueryService(a.Sessions, a.Store, evaluator, embedder, log)
	consolidated := services.NewConsolidatedService(services.ConsolidatedServiceDeps{
		Sessions:       a.Sessions,
		Store:          a.Store,
		Objects:        objects,
		Bucket:         cfg.BucketName,
		Evaluator:      evaluator,
		Rasterizer:     ingestion_engine.NewPDFRasterizer(cfg.Processing.PdftoppmPath, cfg.Processing.RasterizeTimeout, log),
		Catalog:        catalog,
		Cache:          classifications,
		VisionMaxPages: cfg.Processing.VisionMaxPages,
	}, log)

	a.Sweeper, err = services.NewSweeper(a.Sessions, cfg.Sessions.SweepInterval, log)
	if err != nil {
		return nil, err
	}

	a.Server = NewServer(cfg, a.Sessions, query, consolidated, log)
	ok = true
	return a, nil
}

// Resume re-queues sessions interrupted by a previous run and starts the TTL sweep.
func (a *App) Resume(ctx context.Context) {
	if n, err := a.Sessions.ReprocessPending(ctx); err != nil {
		a.logger.Error("re-queue of interrupted sessions failed", "requeued", n, "error", err)
	}
	a.Sweeper.Start()
}

// Close stops background work, then releases clients.
func (a *App) Close(ctx context.Context) {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.Queue != nil {
		a.Queue.Shutdown(ctx)
	}
	var errs []error
	if a.llm != nil {
		errs = append(errs, a.llm.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close reported errors", "error", err)
	}
}

// newQueue picks the redis queue when both redis and object storage are configured;
// redis workers reload uploads from storage. Otherwise jobs run on an in-process pool.
func newQueue(cfg *config.Config, archived bool, h ingestion_engine.Handler, log *slog.Logger) (ingestion_engine.Queue, error) {
	if cfg.RedisURL != "" && archived {
		q, err := ingestion_engine.NewAsynqQueue(cfg.RedisURL, cfg.Queue.Workers, cfg.Queue.JobTimeout, h, log)
		if err != nil {
			return nil, err
		}
		log.Info("redis queue ready")
		return q, nil
	}
	if cfg.RedisURL != "" {
		log.Warn("object storage not configured, using in-process queue")
	}
	pool := ingestion_engine.NewWorkerPool(h, log,
		ingestion_engine.WithWorkers(cfg.Queue.Workers),
		ingestion_engine.WithQueueSize(cfg.Queue.Size),
		ingestion_engine.WithJobTimeout(cfg.Queue.JobTimeout))
	pool.Start()
	return pool, nil
}
