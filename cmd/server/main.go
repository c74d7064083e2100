package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mycobot-backend/internal/config"
	"mycobot-backend/internal/database"
	"mycobot-backend/internal/handlers"
	"mycobot-backend/internal/middleware"
	"mycobot-backend/internal/repository"
	"mycobot-backend/internal/router"
	"mycobot-backend/internal/services"
	"mycobot-backend/internal/websocket"
	"mycobot-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg, err := config.Load()
	if err != nil {
		// Logging is not configured yet.
		fmt.Fprintf(os.Stderr, "✗ Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	log.Infow("🍄 Starting Mushroom Expert backend", "env", cfg.Env, "model", cfg.GeminiModel, "transport", cfg.GeminiTransport)

	// ──── Step 2: Metrics ────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(reg)

	// ──── Step 3: Session Store ────
	analyses, closeStore := newAnalysisStore(cfg, log)
	defer closeStore()

	// ──── Step 4: Initialize Gemini Client ────
	generator, closeGenerator, err := newGenerator(cfg, log, metrics)
	if err != nil {
		log.Fatalw("✗ Gemini client initialization failed", "error", err)
	}
	defer closeGenerator()
	log.Infow("✓ Gemini client initialized", "model", cfg.GeminiModel)

	// ──── Initialize Services ────
	chatService := services.NewChatService(
		generator,
		services.NewImageEncoder(log, metrics),
		analyses,
		log,
		services.WithHistoryWindow(cfg.HistoryWindow),
		services.WithMetrics(metrics),
	)
	uploads := services.NewUploads(cfg.UploadDir, cfg.MaxUploadBytes)

	// ──── Start Upload Sweeper ────
	sweeper := worker.NewSweeper(cfg.UploadDir, cfg.UploadMaxAge, cfg.UploadMaxAge/4, log)
	sweeper.Start()
	defer sweeper.Stop()

	// ──── Initialize Handlers ────
	chatHandler := handlers.NewChatHandler(chatService, uploads, cfg.MaxUploadBytes, log)
	wsHub := websocket.NewHub(chatService, uploads, cfg.HistoryWindow, cfg.MaxUploadBytes, log)
	chatLimiter := middleware.NewRateLimiter(cfg.ChatRateLimit, time.Minute)
	defer chatLimiter.Stop()

	// ──── Step 5: Start HTTP Server ────
	r := router.New(
		chatHandler,
		wsHub,
		chatLimiter,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cfg.FrontendURL,
	)

	// WriteTimeout has to outlast a full Gemini call.
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.GeminiTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down...")
		wsHub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warnw("Graceful shutdown failed", "error", err)
		}
	}()

	log.Infow("✓ Mushroom Expert ready", "addr", cfg.Addr(), "api", "/api/v1", "ws", "/api/v1/ws")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalw("Server error", "error", err)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err == nil {
		zcfg.Level = level
	}
	return zcfg.Build()
}

// newAnalysisStore uses Redis when REDIS_URL is set and process memory otherwise.
func newAnalysisStore(cfg *config.Config, log *zap.SugaredLogger) (services.AnalysisStore, func()) {
	if cfg.RedisURL == "" {
		log.Info("✓ Session store: memory")
		return repository.NewMemoryAnalysisRepo(cfg.SessionTTL), func() {}
	}

	client, err := database.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalw("✗ Redis connection failed", "error", err)
	}
	log.Info("✓ Session store: Redis")
	return repository.NewRedisAnalysisRepo(client, cfg.SessionTTL), func() { client.Close() }
}

func newGenerator(cfg *config.Config, log *zap.SugaredLogger, metrics *services.Metrics) (services.Generator, func(), error) {
	opts := services.GeminiOptions{
		APIKey:          cfg.GeminiAPIKey,
		BaseURL:         cfg.GeminiBaseURL,
		Model:           cfg.GeminiModel,
		Timeout:         cfg.GeminiTimeout,
		Temperature:     cfg.GeminiTemperature,
		MaxOutputTokens: cfg.GeminiMaxOutputTokens,
	}

	if cfg.GeminiTransport == "sdk" {
		gen, err := services.NewSDKGenerator(context.Background(), opts, log, metrics)
		if err != nil {
			return nil, nil, err
		}
		return gen, func() { gen.Close() }, nil
	}
	return services.NewGeminiClient(opts, log, metrics), func() {}, nil
}
