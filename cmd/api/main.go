package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/buswatch/buswatch_core/internal/alerts"
	"github.com/buswatch/buswatch_core/internal/analytics"
	"github.com/buswatch/buswatch_core/internal/api"
	"github.com/buswatch/buswatch_core/internal/cache"
	"github.com/buswatch/buswatch_core/internal/collector"
	"github.com/buswatch/buswatch_core/internal/db"
	"github.com/buswatch/buswatch_core/internal/lta"
	"github.com/buswatch/buswatch_core/internal/metrics"
	"github.com/buswatch/buswatch_core/internal/middleware"
	"github.com/buswatch/buswatch_core/internal/notify"
	"github.com/buswatch/buswatch_core/internal/prediction"
	"github.com/buswatch/buswatch_core/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Info().Msg("Starting BusWatch API server...")

	// Initialize database connection
	pool, err := db.GetDB()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize Redis connection
	if _, err := cache.GetClient(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cache.Close()
	log.Info().Msg("Redis connection established")

	st := store.New(pool)
	schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := st.EnsureSchema(schemaCtx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to ensure schema")
	}
	cancel()
	log.Info().Msg("Schema ready")

	// Wire the core
	analyzer := analytics.New(st, analytics.DefaultConfig())
	predictor := prediction.NewEngine(st, st)
	mailer := notify.NewMailer(notify.LoadConfigFromEnv())

	var notifier alerts.Notifier
	if mailer != nil {
		notifier = mailer
	}
	alertEngine := alerts.NewEngine(st, analyzer, notifier, alerts.DefaultConfig())

	provider := lta.NewClient(lta.LoadConfigFromEnv())
	coll := collector.New(provider, st, collector.IntervalFromEnv())

	cacheCfg := cache.LoadConfigFromEnv()
	handlers := &api.Handlers{
		Store:     st,
		Analyzer:  analyzer,
		Predictor: predictor,
		Alerts:    alertEngine,
		Collector: coll,
		CacheTTL:  cacheCfg.TTL,
	}

	// Prometheus registry
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		log.Fatal().Err(err).Msg("Failed to register metrics")
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "BusWatch API",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	rdb, _ := cache.GetClient()
	app.Use(middleware.RateLimitMiddleware(rdb, middleware.LoadRateLimitsFromEnv()))

	// Routes
	app.Get("/health", handlers.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	app.Get("/v2/trends", handlers.Trends)
	app.Post("/v2/predictions", handlers.Predictions)
	app.Get("/v2/alerts", handlers.ListAlerts)
	app.Post("/v2/alerts/check", handlers.CheckAlerts)
	app.Post("/v2/alerts/:id/resolve", handlers.ResolveAlert)
	app.Post("/v2/model/train", handlers.TrainModel)
	app.Post("/v2/collect", handlers.Collect)
	app.Post("/v2/admin/purge", handlers.Purge)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	})

	port := getEnv("API_PORT", "8080")
	addr := fmt.Sprintf(":%s", port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	log.Info().Str("addr", addr).Msg("Server listening")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}

// customErrorHandler handles errors returned from handlers
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	log.Error().Err(err).Int("status", code).Msg("Request failed")

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
