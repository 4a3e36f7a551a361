// Package lifecycle owns the one place Lumina's components are wired
// together. It builds a Services struct once, in dependency order, and
// hands every component an explicit reference instead of reaching for
// package-level state: there is no service container or bus singleton
// anywhere else in the module.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"lumina/internal/cache"
	"lumina/internal/chatpipeline"
	"lumina/internal/config"
	"lumina/internal/consolidation"
	"lumina/internal/embedding"
	"lumina/internal/eventbus"
	"lumina/internal/gateway"
	"lumina/internal/llmmanager"
	"lumina/internal/memory"
	"lumina/internal/memory/postgres"
	"lumina/internal/memory/qdrant"
	"lumina/internal/observability"
	"lumina/internal/plugin"
	"lumina/internal/session"
	"lumina/internal/soul"
	"lumina/internal/telemetry"
	"lumina/internal/ticker"
)

// Services is every long-lived component Lifecycle constructs, held by
// the async runtime (main) and shared with subsystems as immutable
// references. Nothing in this module reaches for a global instead of a
// field on this struct.
type Services struct {
	Config config.FrozenConfig
	Log    zerolog.Logger

	Bus     *eventbus.Bus
	Ticker  *ticker.Ticker
	Sessions *session.Store

	DBPool   *pgxpool.Pool
	Store    *postgres.Backend
	Vector   memory.VectorIndex
	Memory   *memory.MemoryStore

	LLM           *llmmanager.Manager
	Soul          *soul.Service
	Consolidation *consolidation.Engine
	Pipeline      *chatpipeline.Pipeline
	Plugins       *plugin.Runtime

	Hub    *gateway.Hub
	Router *echo.Echo

	Cache     *cache.Client
	KafkaTap  *eventbus.KafkaRelay
	Telemetry *telemetry.ConsolidationSink

	otelShutdown func(context.Context) error
}

// noopVectorIndex is used in place of qdrant.Index when no Qdrant DSN
// is configured, so the rest of hybrid search still runs (full-text
// only) rather than failing bootstrap outright.
type noopVectorIndex struct{}

func (noopVectorIndex) SimilaritySearch(context.Context, string, memory.TargetTable, []float32, float64, int) ([]memory.VectorCandidate, error) {
	return nil, nil
}

// openPool dials Postgres with pool limits from cfg, making up to
// cfg.ReconnectTries attempts with a fixed one-second pause after each
// failed one (no exponential backoff), grounded on
// internal/persistence/databases/factory.go's newPgPool.
func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 5 * time.Minute

	tries := cfg.ReconnectTries
	if tries <= 0 {
		tries = 1
	}
	var lastErr error
	for attempt := 0; attempt < tries; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			lastErr = err
			time.Sleep(time.Second)
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err != nil {
			pool.Close()
			lastErr = err
			time.Sleep(time.Second)
			continue
		}
		return pool, nil
	}
	return nil, fmt.Errorf("after %d attempts: %w", tries, lastErr)
}

// Bootstrap constructs every Service in dependency order: config is
// already loaded by the caller and is frozen here. Nothing here is started
// yet; call Run to begin processing.
func Bootstrap(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Services, error) {
	s := &Services{
		Config: cfg.Freeze(),
		Log:    log,
	}

	s.Bus = eventbus.New(log)
	s.Ticker = ticker.New(s.Bus, log)
	s.Sessions = session.NewStore(cfg.Session.HistoryTurns)

	cacheClient, err := cache.New(ctx, cfg.Redis, log)
	if err != nil {
		log.Warn().Err(err).Msg("lifecycle: redis unreachable, idle-trigger lock and gateway dedup fall back to in-process state")
	} else {
		s.Cache = cacheClient
	}

	s.KafkaTap = eventbus.NewKafkaRelay(cfg.Kafka, log)
	s.KafkaTap.Attach(s.Bus)

	if cfg.OTel.Enabled {
		shutdown, err := observability.InitOTel(ctx, cfg.OTel)
		if err != nil {
			log.Warn().Err(err).Msg("lifecycle: otel init failed, continuing without tracing")
		} else {
			s.otelShutdown = shutdown
		}
	}

	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: connect database: %w", err)
	}
	s.DBPool = pool

	store, err := postgres.New(ctx, pool, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("lifecycle: init storage backend: %w", err)
	}
	s.Store = store

	if cfg.Qdrant.DSN != "" {
		idx, err := qdrant.New(ctx, cfg.Qdrant.DSN, cfg.Qdrant.Collection, cfg.Qdrant.Dimensions)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("lifecycle: init vector index: %w", err)
		}
		s.Vector = idx
	} else {
		log.Warn().Msg("lifecycle: no qdrant dsn configured, vector search disabled")
		s.Vector = noopVectorIndex{}
	}

	var embedder memory.Embedder
	if cfg.Embedding.BaseURL != "" {
		embedder = embedding.NewClient(cfg.Embedding)
	}
	s.Memory = memory.New(s.Store, s.Vector, s.Store, embedder, cfg.Memory, log)

	llm, err := llmmanager.New(ctx, cfg.Providers, cfg.Routes, observability.NewHTTPClient(nil))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("lifecycle: init llm manager: %w", err)
	}
	s.LLM = llm

	soulSvc, err := soul.New(s.Bus, cfg.Soul.DataDir, cfg.Soul.TemplatePath, s.Store, s.LLM, cfg.Soul.EvolutionCron, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("lifecycle: init soul service: %w", err)
	}
	s.Soul = soulSvc

	sink, err := telemetry.NewConsolidationSink(ctx, cfg.ClickHouse, log)
	if err != nil {
		log.Warn().Err(err).Msg("lifecycle: clickhouse unreachable, consolidation cycle metrics disabled")
	} else {
		s.Telemetry = sink
	}

	s.Consolidation = consolidation.New(s.Bus, s.Store, s.Vector, consolidationEmbedder(embedder), s.LLM, s.Cache, s.Telemetry, cfg.Consolidation, log)

	s.Pipeline = chatpipeline.New(s.Bus, s.Sessions, s.LLM, s.Soul, s.Memory, log)
	if embedder != nil {
		s.Pipeline.RegisterContextProvider(chatpipeline.NewRAGProvider(s.Memory, embedder, 5))
	}

	s.Router = echo.New()
	s.Router.HideBanner = true
	s.Router.Use(middleware.Recover())
	s.Router.Use(middleware.RequestID())

	s.Plugins = plugin.New(s.Bus, s.Soul, s.Memory, s.LLM, nil, cfg.Plugins.Dir, s.Router, log)

	s.Hub = gateway.New(s.Bus, s.Cache, log)
	s.Router.GET("/ws", echo.WrapHandler(http.HandlerFunc(s.Hub.ServeHTTP)))

	return s, nil
}

// consolidationEmbedder adapts memory.Embedder to consolidation.Embedder
// (identical method set, distinct interface types per package).
func consolidationEmbedder(e memory.Embedder) consolidation.Embedder {
	if e == nil {
		return nil
	}
	return e
}

// Run starts every Service that has background work, blocking until
// ctx is cancelled, then tears everything down in reverse dependency
// order.
func (s *Services) Run(ctx context.Context) error {
	s.Ticker.Start(ctx)

	if err := s.Soul.Start(ctx, s.Config.Get().Soul.DefaultCharacterID); err != nil {
		return fmt.Errorf("lifecycle: start soul service: %w", err)
	}

	s.Consolidation.Start(ctx)
	s.Pipeline.Start(ctx)

	if err := s.Plugins.LoadAll(ctx, s.Config.Get().Plugins.Dir); err != nil {
		s.Log.Warn().Err(err).Msg("lifecycle: plugin discovery failed")
	}

	hubCtx, hubCancel := context.WithCancel(ctx)
	go s.Hub.Run(hubCtx)

	srv := &http.Server{
		Addr:         s.Config.Get().Gateway.Addr,
		Handler:      s.Router,
		WriteTimeout: s.Config.Get().Gateway.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	hubCancel()

	s.Plugins.ShutdownAll(shutdownCtx)
	s.Pipeline.Stop()
	s.Consolidation.Stop()
	s.Soul.Stop()
	s.Ticker.Stop()
	s.KafkaTap.Detach(s.Bus)
	_ = s.Telemetry.Close()
	_ = s.Cache.Close()
	s.DBPool.Close()
	if s.otelShutdown != nil {
		_ = s.otelShutdown(shutdownCtx)
	}

	return runErr
}
