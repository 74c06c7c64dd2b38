// Package app wires configuration, providers and stores into a running
// application.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docquery/docquery/internal/answer"
	"github.com/docquery/docquery/internal/chunker"
	"github.com/docquery/docquery/internal/config"
	"github.com/docquery/docquery/internal/corpus"
	"github.com/docquery/docquery/internal/ingest"
	"github.com/docquery/docquery/internal/llm"
	"github.com/docquery/docquery/internal/log"
	"github.com/docquery/docquery/internal/session"
	"github.com/docquery/docquery/internal/vecindex"
)

// sessionSweepInterval is how often expired sessions are purged in the
// background. Expiry is also enforced on access, so precision here is not
// load-bearing.
const sessionSweepInterval = time.Hour

// generationModels maps API selectors to Genkit model names. The "gemini"
// alias is the default selector.
var generationModels = map[string]string{
	"gemini":           "googleai/gemini-2.5-flash",
	"gemini-2.5-flash": "googleai/gemini-2.5-flash",
	"gemini-2.5-pro":   "googleai/gemini-2.5-pro",
}

// App is the application container. Create with Setup, release with Close.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Index    vecindex.Index
	Sessions *session.Store
	Registry *llm.Registry
	Pipeline *ingest.Pipeline
	Answerer *answer.Answerer

	dbPool    *pgxpool.Pool
	sessionDB *sql.DB
	cancel    context.CancelFunc
}

// Setup initializes every component: Genkit with the Google AI plugin, the
// pgvector index (running migrations), the SQLite session store, the model
// registry and the ingestion/answer pipelines.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// Clean up anything already initialized if a later step fails.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	appCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.Genkit = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))

	embedder := googlegenai.GoogleAIEmbedder(a.Genkit, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not available", cfg.EmbedderModel)
	}
	a.Embedder = llm.NewRetryingEmbedder(embedder, logger)

	index, pool, err := provideVectorIndex(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Index = index
	a.dbPool = pool

	sessions, sessionDB, err := provideSessionStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Sessions = sessions
	a.sessionDB = sessionDB
	a.Sessions.StartSweeper(appCtx, sessionSweepInterval)

	a.Registry = provideRegistry(a.Genkit, cfg.GenerationModel, logger)
	if _, err := a.Registry.Resolve(cfg.GenerationModel); err != nil {
		return nil, fmt.Errorf("configured generation model: %w", err)
	}

	a.Pipeline = ingest.New(
		corpus.NewLoader(cfg.DocsRoot, logger),
		chunker.New(chunker.Config{MaxChunkLen: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}),
		a.Embedder,
		a.Index,
		logger,
	)

	a.Answerer = answer.New(a.Embedder, a.Index, a.Sessions, a.Registry,
		answer.Config{
			TopK:               cfg.TopK,
			RelevanceFloor:     cfg.RelevanceFloor,
			MaxHistoryMessages: cfg.MaxHistoryMessages,
		},
		logger,
	)

	return a, nil
}

// Close releases all resources. Safe to call on a partially built App.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	if a.sessionDB != nil {
		if err := a.sessionDB.Close(); err != nil {
			return fmt.Errorf("closing session database: %w", err)
		}
	}
	return nil
}

// provideVectorIndex migrates the schema and connects the pgvector index.
func provideVectorIndex(ctx context.Context, cfg *config.Config, logger log.Logger) (vecindex.Index, *pgxpool.Pool, error) {
	url := cfg.PostgresURL()

	if err := vecindex.Migrate(url); err != nil {
		return nil, nil, fmt.Errorf("migrating vector index: %w", err)
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}

	return vecindex.NewPostgres(pool, cfg.EmbedderDimension, logger), pool, nil
}

// provideSessionStore opens, migrates and wraps the SQLite session database.
func provideSessionStore(cfg *config.Config, logger log.Logger) (*session.Store, *sql.DB, error) {
	db, err := session.Open(cfg.SessionDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session database: %w", err)
	}
	if err := session.Migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrating session database: %w", err)
	}
	return session.NewStore(db, cfg.SessionTTL, logger), db, nil
}

// provideRegistry binds the supported model selectors. Requests naming no
// model resolve to the configured selector, not a hardwired alias.
func provideRegistry(g *genkit.Genkit, defaultSelector string, logger log.Logger) *llm.Registry {
	registry := llm.NewRegistry(defaultSelector)
	for selector, modelName := range generationModels {
		registry.Register(selector, llm.NewGenkitGenerator(g, modelName, logger))
	}
	return registry
}
