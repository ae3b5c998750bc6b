package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zirpo/pm-backend/internal/config"
	"github.com/zirpo/pm-backend/internal/handler"
	"github.com/zirpo/pm-backend/internal/httpserver"
	"github.com/zirpo/pm-backend/internal/llm"
	"github.com/zirpo/pm-backend/internal/repository"
	"github.com/zirpo/pm-backend/internal/service/analysis"
	"github.com/zirpo/pm-backend/internal/service/merge"
	"github.com/zirpo/pm-backend/pkg/circuitbreaker"
	"github.com/zirpo/pm-backend/pkg/db"
	"github.com/zirpo/pm-backend/pkg/logger"
	"github.com/zirpo/pm-backend/pkg/mq"
	"github.com/zirpo/pm-backend/pkg/otel"
	"github.com/zirpo/pm-backend/pkg/outbox"
	"github.com/zirpo/pm-backend/pkg/redis"
	"github.com/zirpo/pm-backend/pkg/util"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply the database schema before serving (postgres driver only)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting pm-backend...",
		zap.String("env", configEnv),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("outbox_enabled", cfg.Outbox.Enabled),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
	)

	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName:    cfg.Otel.ServiceName,
		ServiceVersion: rootCmd.Version,
		Endpoint:       cfg.Otel.Endpoint,
		SampleRatio:    cfg.Otel.SampleRatio,
		Insecure:       cfg.Otel.Insecure,
		Enabled:        cfg.Otel.Enabled,
	}, log)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer shutdownOtel()

	// Store
	var (
		plans repository.PlanStore
		docs  repository.DocumentStore
		pool  *pgxpool.Pool
	)
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		log.Warn("Using in-memory store, data is lost on restart")
		mem := repository.NewMemoryStore()
		plans, docs = mem, mem
	default:
		pool, err = db.NewConnection(ctx, cfg.DB, log)
		if err != nil {
			return err
		}
		defer pool.Close()

		if migrateOnStart {
			if err := repository.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("Database schema applied")
		}
		plans = repository.NewProjectRepository(pool, cfg.Outbox.Enabled)
		docs = repository.NewDocumentRepository(pool)
	}

	// Redis（可选）：Idempotency-Key 去重
	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, Idempotency-Key is ignored", zap.Error(err))
		} else {
			defer rdb.Close()
		}
	}

	// Generators
	patcher, analyst := buildGenerators(cfg, log)

	engine := merge.NewEngine(plans, patcher, merge.Options{
		GeneratorTimeout: cfg.LLM.GeneratorTimeout,
		CommitTimeout:    cfg.Store.CommitTimeout,
	}, log)
	recommender := analysis.NewRecommender(plans, analyst, cfg.LLM.GeneratorTimeout, log)
	rag := analysis.NewRAGService(recommender, docs, cfg.RAG.MaxContextLength, log)

	var dedup handler.Deduper
	if rdb != nil {
		dedup = util.NewDeduper(rdb, cfg.Redis.IdempotencyTTL, log)
	}

	deps := httpserver.Deps{
		Projects:  handler.NewProjectHandler(plans, engine, recommender, dedup, log),
		Documents: handler.NewDocumentHandler(plans, docs, rag, cfg.RAG.MaxDocumentBytes, log),
		Logger:    log,
	}
	if pool != nil {
		deps.Readiness.DB = pool
	}
	if rdb != nil {
		deps.Readiness.Redis = rdb
	}

	// Outbox dispatcher
	if cfg.Outbox.Enabled && pool != nil {
		if cfg.MQ.URL == "" {
			log.Warn("Outbox enabled but mq.url is empty, events stay pending until a dispatcher runs")
		} else {
			publisher, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange)
			if err != nil {
				return fmt.Errorf("init publisher: %w", err)
			}
			defer publisher.Close()
			deps.Readiness.MQ = publisher

			events := outbox.NewRepository(pool)
			dispatcher := outbox.NewDispatcher(events, publisher, log).
				WithInterval(cfg.Outbox.Interval).
				WithBatchSize(cfg.Outbox.BatchSize).
				WithMaxRetries(cfg.Outbox.MaxRetries)
			go dispatcher.Start(ctx)

			replay := outbox.NewReplayService(events, publisher, log, cfg.Outbox.MaxRetries)
			deps.Admin = handler.NewAdminHandler(replay, log)
		}
	}

	// Auth
	authCfg, err := buildAuth(cfg)
	if err != nil {
		return err
	}
	if authCfg.Enabled && authCfg.APIKeyHash == "" && authCfg.JWTSecret == "" {
		log.Error("auth.enabled is set but no API key or JWT secret is configured, protected endpoints will return 500")
	}
	deps.Auth = authCfg

	srv := httpserver.NewServer(cfg.Server.Port, httpserver.NewRouter(deps), cfg.Server.ShutdownTimeout, log)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	log.Info("pm-backend shutdown complete")
	return nil
}

func buildAuth(cfg *config.Config) (httpserver.AuthConfig, error) {
	out := httpserver.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		APIKeyHash: cfg.Auth.APIKeyHash,
		JWTSecret:  cfg.JWT.Secret,
	}
	if out.APIKeyHash == "" && cfg.Auth.APIKey != "" {
		hash, err := util.HashAPIKey(cfg.Auth.APIKey)
		if err != nil {
			return out, fmt.Errorf("hash api key: %w", err)
		}
		out.APIKeyHash = hash
	}
	return out, nil
}

func buildGenerators(cfg *config.Config, log *zap.Logger) (merge.PatchGenerator, analysis.AnalysisGenerator) {
	if cfg.LLM.Provider == config.ProviderMock {
		log.Info("Using mock generators")
		return llm.MockPatcher{}, llm.MockAnalyst{}
	}

	client := llm.NewClient(llm.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		Temperature:    *cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		MaxRetries:     cfg.LLM.MaxRetries,
		RetryBaseDelay: cfg.LLM.RetryBaseDelay,
		RequestTimeout: cfg.LLM.RequestTimeout,
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.LLM.Breaker.FailureThreshold,
			SuccessThreshold: cfg.LLM.Breaker.SuccessThreshold,
			Timeout:          cfg.LLM.Breaker.Timeout,
		},
	}, log)
	return llm.NewStatePatcher(client), llm.NewAnalyst(client)
}
