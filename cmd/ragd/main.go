// Command ragd runs the retrieval-augmented QA service: the httpapi server
// wired against either the in-memory stores (default, for a zero-dependency
// local run) or the Postgres/Qdrant-backed stores when RAGD_DATABASE_URL /
// RAGD_QDRANT_DSN are set. Bootstrap follows the teacher's cmd/orchestrator
// main.go shape: config.Load, observability.InitLogger/InitOTel, a
// signal.NotifyContext shutdown, then block on ListenAndServe.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/rafaeldicarlantonio/ragd/internal/config"
	"github.com/rafaeldicarlantonio/ragd/internal/embedding"
	"github.com/rafaeldicarlantonio/ragd/internal/httpapi"
	"github.com/rafaeldicarlantonio/ragd/internal/ingest"
	"github.com/rafaeldicarlantonio/ragd/internal/jobs"
	"github.com/rafaeldicarlantonio/ragd/internal/obs"
	"github.com/rafaeldicarlantonio/ragd/internal/observability"
	"github.com/rafaeldicarlantonio/ragd/internal/resilience"
	"github.com/rafaeldicarlantonio/ragd/internal/retrieval"
	"github.com/rafaeldicarlantonio/ragd/internal/review"
	"github.com/rafaeldicarlantonio/ragd/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("ragd")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	baseCtx := context.Background()

	if cfg.Obs.OTLP != "" {
		shutdown, err := observability.InitOTel(baseCtx, cfg.Obs)
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	metrics := obs.NewRegistry()
	breakers := resilience.NewRegistry(metrics, resilience.Options{})
	health := resilience.NewHealthCache(resilience.DefaultHealthTTL)

	backends, closeBackends, err := buildBackends(baseCtx, cfg)
	if err != nil {
		return fmt.Errorf("init backends: %w", err)
	}
	defer closeBackends()

	fallback := retrieval.NewFallbackAdapter(backends.explicate, backends.pgvectorExplicate, health, "qdrant_explicate", cfg.FallbacksEnabled, cfg.PgvectorEnabled)
	selector := retrieval.NewSelector(backends.explicate, backends.implicate, fallback, breakers, cfg.RetrievalParallel, cfg.RetrievalTimeoutMS)

	var reviewer *review.Reviewer
	if cfg.ReviewerEnabled && cfg.ReviewerAPIKey != "" {
		var backend review.Backend
		switch cfg.ReviewerProvider {
		case "openai":
			backend = review.NewOpenAIReviewer(cfg.ReviewerAPIKey, cfg.ReviewerModel)
		case "google":
			backend = review.NewGoogleReviewer(cfg.ReviewerAPIKey, cfg.ReviewerModel)
		default:
			backend = review.NewAnthropicReviewer(cfg.ReviewerAPIKey, cfg.ReviewerModel)
		}
		reviewer = review.NewReviewer(backend, breakers, cfg.ReviewerEnabled, cfg.ReviewerBudgetMS)
	} else {
		reviewer = review.NewReviewer(nil, breakers, false, cfg.ReviewerBudgetMS)
	}

	srv := httpapi.NewServer(&httpapi.Server{
		Config:   cfg,
		Metrics:  metrics,
		Breakers: breakers,
		Health:   health,
		Selector: selector,
		Stores:   ingest.Stores{Graph: backends.graph, Memory: backends.memory, Jobs: backends.jobs},
		Reviewer: reviewer,
		Embed: func(ctx context.Context, text string) ([]float32, error) {
			out, err := embedding.EmbedText(ctx, cfg.Embedding, []string{text})
			if err != nil {
				return nil, err
			}
			return out[0], nil
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.IngestImplicateRefreshEnabled {
		worker := jobs.NewWorker(backends.jobs, refreshImplicateEntity(backends.graph, backends.implicate, cfg.Embedding))
		go worker.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("ragd listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
	}

	log.Info().Msg("ragd stopped")
	return nil
}

// backendSet bundles every store construction decision driven by config.
type backendSet struct {
	explicate         store.VectorStore
	implicate         store.VectorStore
	pgvectorExplicate store.VectorStore
	graph             store.GraphStore
	memory            store.MemoryStore
	jobs              store.JobStore
}

// buildBackends wires in-memory stores by default, swapping in the
// Postgres/Qdrant-backed equivalents when their DSNs are configured.
// Grounded on the teacher's databases.NewManager construction order
// (internal/persistence/databases/factory.go): connect pool once, then
// build each backend against it, closing the pool on shutdown.
func buildBackends(ctx context.Context, cfg config.Config) (backendSet, func(), error) {
	noop := func() {}

	if cfg.DatabaseURL == "" {
		return backendSet{
			explicate:         store.NewMemoryVector(),
			implicate:         store.NewMemoryVector(),
			pgvectorExplicate: store.NewMemoryVector(),
			graph:             store.NewMemoryGraph(),
			memory:            store.NewInMemoryMemoryStore(),
			jobs:              store.NewInMemoryJobStore(),
		}, noop, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return backendSet{}, noop, fmt.Errorf("connect postgres: %w", err)
	}
	closeFn := func() { pool.Close() }

	graph, err := store.NewPostgresGraph(ctx, pool)
	if err != nil {
		closeFn()
		return backendSet{}, noop, fmt.Errorf("init graph store: %w", err)
	}
	memory, err := store.NewPostgresMemoryStore(ctx, pool)
	if err != nil {
		closeFn()
		return backendSet{}, noop, fmt.Errorf("init memory store: %w", err)
	}
	jobs, err := store.NewPostgresJobStore(ctx, pool)
	if err != nil {
		closeFn()
		return backendSet{}, noop, fmt.Errorf("init job store: %w", err)
	}

	pgExplicate, err := store.NewPgVector(ctx, pool, "vectors_explicate", cfg.VectorDimensions, cfg.VectorMetric)
	if err != nil {
		closeFn()
		return backendSet{}, noop, fmt.Errorf("init pgvector fallback: %w", err)
	}

	var explicate, implicate store.VectorStore
	if cfg.QdrantDSN != "" {
		qExplicate, err := store.NewQdrantVector(cfg.QdrantDSN, "explicate", cfg.VectorDimensions, cfg.VectorMetric)
		if err != nil {
			closeFn()
			return backendSet{}, noop, fmt.Errorf("init qdrant explicate: %w", err)
		}
		qImplicate, err := store.NewQdrantVector(cfg.QdrantDSN, "implicate", cfg.VectorDimensions, cfg.VectorMetric)
		if err != nil {
			closeFn()
			return backendSet{}, noop, fmt.Errorf("init qdrant implicate: %w", err)
		}
		explicate, implicate = qExplicate, qImplicate
	} else {
		pgImplicate, err := store.NewPgVector(ctx, pool, "vectors_implicate", cfg.VectorDimensions, cfg.VectorMetric)
		if err != nil {
			closeFn()
			return backendSet{}, noop, fmt.Errorf("init pgvector implicate: %w", err)
		}
		explicate, implicate = pgExplicate, pgImplicate
	}

	return backendSet{
		explicate:         explicate,
		implicate:         implicate,
		pgvectorExplicate: pgExplicate,
		graph:             graph,
		memory:            memory,
		jobs:              jobs,
	}, closeFn, nil
}

// refreshImplicateEntity is the implicate_refresh hook spec.md §4.O leaves
// opaque ("the hook into implicate-layer reindexing"): it re-embeds the
// touched entity's name and re-upserts that vector into the implicate
// layer, so an entity's implicate-layer representation stays current with
// whatever edges/frames the commit engine attached since its last index.
// Upserting by entity id keeps it idempotent for the worker's
// at-least-once delivery.
func refreshImplicateEntity(graph store.GraphStore, implicate store.VectorStore, embedCfg config.EmbeddingConfig) jobs.RefreshFunc {
	return func(ctx context.Context, job store.Job) error {
		entityID, _ := job.Payload["entity_id"].(string)
		if entityID == "" {
			return fmt.Errorf("implicate_refresh job %s missing entity_id payload", job.ID)
		}
		entity, ok, err := graph.GetEntity(ctx, entityID)
		if err != nil {
			return fmt.Errorf("load entity %s: %w", entityID, err)
		}
		if !ok {
			// Entity was deleted after the job was enqueued; nothing to
			// reindex, and re-running this job must not error.
			return nil
		}
		vectors, err := embedding.EmbedText(ctx, embedCfg, []string{entity.Name})
		if err != nil {
			return fmt.Errorf("embed entity %s: %w", entityID, err)
		}
		return implicate.Upsert(ctx, entityID, vectors[0], map[string]string{
			"entity_type": string(entity.Type),
			"name":        entity.Name,
		})
	}
}
