package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/api/handlers"
	redisc "github.com/portfolio-assistant/backend/internal/cache/redis"
	"github.com/portfolio-assistant/backend/internal/chat"
	"github.com/portfolio-assistant/backend/internal/corpus"
	"github.com/portfolio-assistant/backend/internal/evaluation"
	"github.com/portfolio-assistant/backend/internal/gate"
	"github.com/portfolio-assistant/backend/internal/generation"
	"github.com/portfolio-assistant/backend/internal/insight"
	"github.com/portfolio-assistant/backend/internal/instruction"
	"github.com/portfolio-assistant/backend/internal/llm"
	"github.com/portfolio-assistant/backend/internal/metrics"
	"github.com/portfolio-assistant/backend/internal/middleware/ratelimit"
	"github.com/portfolio-assistant/backend/internal/middleware/security"
	"github.com/portfolio-assistant/backend/internal/middleware/validation"
	"github.com/portfolio-assistant/backend/internal/retrieval"
	"github.com/portfolio-assistant/backend/internal/storage/sqlite"
	"github.com/portfolio-assistant/backend/internal/vector/milvus"
	"github.com/portfolio-assistant/backend/pkg/config"
	appLogger "github.com/portfolio-assistant/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Portfolio Assistant API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var redisClient *redisc.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisc.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, running without caches", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var milvusClient *milvus.Client
	if cfg.Milvus.Enabled {
		milvusClient, err = milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
		if err != nil {
			appLogger.Warn("Milvus unavailable, retrieval falls back to the full corpus", zap.Error(err))
			milvusClient = nil
		} else {
			defer milvusClient.Close()
			if err := milvusClient.CreateCollection(context.Background()); err != nil {
				appLogger.Fatal("Failed to create collection", zap.Error(err))
			}
		}
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	// A nil-pointer client must stay out of the interface values, so the
	// optional dependencies are assigned conditionally.
	var retrieverIndex retrieval.Index
	var corpusIndex corpus.Index
	if milvusClient != nil {
		retrieverIndex = milvusClient
		corpusIndex = milvusClient
	}

	var instructionCache instruction.Cache
	var answerCache chat.AnswerCache
	if redisClient != nil {
		instructionCache = redisClient
		answerCache = redisClient
	}

	processor := corpus.NewProcessor(sqliteClient, llmClient, corpusIndex, cfg.Assistant.ContextPrefixLen)
	retriever := retrieval.NewRetriever(
		sqliteClient,
		llmClient,
		retrieverIndex,
		cfg.Assistant.ContextPrefixLen,
		cfg.Assistant.CorpusFallbackDir,
	)

	topicGate := gate.New(llmClient)
	generator := generation.New(llmClient)
	synthesizer := instruction.NewSynthesizer(sqliteClient, llmClient, instructionCache, cfg.Assistant.FormattingRules)

	evaluator := evaluation.NewEvaluator(llmClient, sqliteClient)
	scheduler := evaluation.NewScheduler(
		evaluator,
		cfg.Assistant.EvalMaxAttempts,
		time.Duration(cfg.Assistant.EvalBackoffBaseSec)*time.Second,
	)

	extractor := insight.NewExtractor(sqliteClient, llmClient, cfg.Assistant.PoorScoreThreshold, cfg.Assistant.MaxInsightsPerEval)
	deduplicator := insight.NewDeduplicator(sqliteClient, llmClient)

	engine := chat.NewEngine(
		sqliteClient,
		retriever,
		topicGate,
		generator,
		synthesizer,
		scheduler,
		extractor,
		deduplicator,
		evaluator,
		answerCache,
		chat.Options{
			HistoryTurns: cfg.Assistant.HistoryTurns,
			RetrieveTopK: cfg.Assistant.RetrieveTopK,
			StatsWindow:  cfg.Assistant.StatsWindow,
			AnswerTTL:    time.Duration(cfg.Assistant.AnswerCacheTTLSec) * time.Second,
		},
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	rateLimiter := ratelimit.New(ratelimit.Config{Logger: appLogger.GetLogger()})
	defer rateLimiter.Stop()
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	chatHandler := handlers.NewChatHandler(engine)
	feedbackHandler := handlers.NewFeedbackHandler(engine)
	corpusHandler := handlers.NewCorpusHandler(processor, sqliteClient)
	adminHandler := handlers.NewAdminHandler(engine)
	wsHandler := handlers.NewWebSocketHandler(engine)

	api := app.Group("/api/v1")

	api.Post("/chat", chatHandler.HandleChat)
	api.Get("/chat/history", chatHandler.GetChatHistory)

	api.Post("/feedback", feedbackHandler.SubmitFeedback)

	api.Post("/documents", corpusHandler.UploadDocument)
	api.Get("/documents", corpusHandler.ListDocuments)
	api.Delete("/documents/:id", corpusHandler.DeleteDocument)
	api.Post("/training-pairs", corpusHandler.UploadTrainingPair)
	api.Get("/training-pairs", corpusHandler.ListTrainingPairs)

	admin := api.Group("/admin")
	admin.Post("/insights/extract", adminHandler.ExtractInsights)
	admin.Post("/insights/dedup", adminHandler.DeduplicateInsights)
	admin.Get("/insights", adminHandler.ListInsights)
	admin.Patch("/insights/:id", adminHandler.UpdateInsight)
	admin.Delete("/insights/:id", adminHandler.DeleteInsight)
	admin.Get("/instruction", adminHandler.GetInstruction)
	admin.Post("/instruction/suggest", adminHandler.SuggestInstruction)
	admin.Post("/instruction/approve", adminHandler.ApproveInstruction)
	admin.Post("/instruction/reject", adminHandler.RejectInstruction)
	admin.Put("/instruction/override", adminHandler.SetInstructionOverride)
	admin.Delete("/instruction/override", adminHandler.ClearInstructionOverride)
	admin.Get("/evaluations", adminHandler.ListEvaluations)
	admin.Get("/evaluations/stats", adminHandler.EvaluationStats)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	scheduler.Wait()
	appLogger.Info("Server stopped")
}
