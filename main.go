package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/veriguard/veriguard/abuse"
	"github.com/veriguard/veriguard/behavioral"
	"github.com/veriguard/veriguard/cache"
	"github.com/veriguard/veriguard/challenge"
	"github.com/veriguard/veriguard/config"
	"github.com/veriguard/veriguard/database"
	"github.com/veriguard/veriguard/events"
	"github.com/veriguard/veriguard/handlers"
	"github.com/veriguard/veriguard/middleware"
	"github.com/veriguard/veriguard/ratelimiter"
	"github.com/veriguard/veriguard/reputation"
	"github.com/veriguard/veriguard/repository"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := database.New(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		logger.Fatal("schema initialization failed", zap.Error(err))
	}

	challengeRepo := repository.NewChallengeRepository(db.Conn())
	blacklistRepo := repository.NewBlacklistRepository(db.Conn())
	abuseRepo := repository.NewAbuseEventRepository(db.Conn())
	siteKeyRepo := repository.NewSiteKeyRepository(db.Conn())

	// Redis backs both the cache and the sliding windows. The cache is an
	// optimization layer only, so a dead Redis degrades to in-process memory
	// instead of taking the service down.
	c, err := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory cache", zap.Error(err))
		c = cache.NewMemory(cfg.SweepPeriod)
	}
	defer c.Close()

	limiter := ratelimiter.NewFromAddr(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer limiter.Close()

	producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	consumer := events.NewConsumer(
		cfg.KafkaBrokers,
		cfg.KafkaTopic,
		"veriguard-abuse",
		events.NewPersistingHandler(abuseRepo, logger),
		logger,
	)
	consumer.Start(rootCtx)
	defer consumer.Close()

	var providers []reputation.Provider
	if cfg.ProviderURL != "" {
		providers = append(providers,
			reputation.NewHTTPProvider("primary", cfg.ProviderURL, cfg.ProviderAPIKey, cfg.ProviderTimeout))
	}
	aggregator := reputation.NewAggregator(c, providers, cfg.IPAnalysisTTL, cfg.ProviderTimeout, logger)

	detector := abuse.NewDetector(limiter, c, blacklistRepo, abuseRepo, producer, cfg, logger)

	manager := challenge.NewManager(
		challengeRepo,
		siteKeyRepo,
		detector,
		behavioral.NewAnalyzer(logger),
		aggregator,
		cfg.ChallengeTTL,
		logger,
	)

	sweeper := challenge.NewSweeper(cfg.SweepPeriod, logger, challengeRepo, blacklistRepo)
	go sweeper.Run(rootCtx)

	challengeHandler := handlers.NewChallengeHandler(manager, logger)
	adminHandler := handlers.NewAdminHandler(blacklistRepo, abuseRepo, aggregator, c, logger)
	healthHandler := handlers.NewHealthHandler(db, c, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/challenge", challengeHandler.Create)
	mux.HandleFunc("/api/v1/verify", challengeHandler.Verify)
	mux.HandleFunc("/api/v1/status/", challengeHandler.Status)
	mux.HandleFunc("/health", healthHandler.Health)
	mux.HandleFunc("/admin/blacklist", adminHandler.Blacklist)
	mux.HandleFunc("/admin/blacklist/remove", adminHandler.RemoveBlacklist)
	mux.HandleFunc("/admin/abuse-events", adminHandler.AbuseEvents)
	mux.HandleFunc("/admin/ip-analysis", adminHandler.IPAnalysis)

	var handler http.Handler = mux
	handler = middleware.CORS(handler)
	handler = middleware.NewLoggingMiddleware(logger).Log(handler)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
