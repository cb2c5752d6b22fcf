package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benchmark-ops/order-workflow-api/config"
	"github.com/benchmark-ops/order-workflow-api/controllers"
	"github.com/benchmark-ops/order-workflow-api/middleware"
	"github.com/benchmark-ops/order-workflow-api/services"
	"github.com/benchmark-ops/order-workflow-api/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := utils.NewLogger(cfg.LogLevel, cfg.IsDevelopment())
	log.Logger = logger
	logger.Info().Str("env", cfg.GoEnv).Msg("Starting Benchmark order workflow API...")

	// Connect to database
	if err := config.ConnectDatabase(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	db := config.GetDB()
	if err := config.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate database")
	}
	logger.Info().Msg("Database migration completed successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := services.Options{
		Rules: services.Rules{
			MinRejectReasonLength: cfg.MinRejectReasonLength,
			MinHoldReasonLength:   cfg.MinHoldReasonLength,
		},
		MaxRetries: cfg.StartNextMaxRetries,
		Logger:     logger,
	}

	if cfg.SnapshotsEnabled() {
		s3Service, err := services.NewS3Service(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize S3 snapshot storage")
		}
		opts.Snapshots = s3Service
		logger.Info().Str("bucket", cfg.AWSS3Bucket).Msg("Invoice snapshots enabled")
	} else {
		logger.Warn().Msg("AWS_S3_BUCKET not set, invoice snapshots disabled")
	}

	if cfg.RabbitMQURL != "" {
		publisher, err := services.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		defer publisher.Close()
		opts.Publisher = publisher
		logger.Info().Str("exchange", cfg.RabbitMQExchange).Msg("Order events enabled")
	}

	if _, err := services.InitWorkflowService(db, opts); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize workflow service")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(cfg, logger, middleware.EnsureValidToken(cfg))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Server is running")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
}

// setupRouter builds the HTTP router; auth guards every route except health and status
func setupRouter(cfg *config.Config, logger zerolog.Logger, auth gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		gin.Recovery(),
		cors.New(corsConfig(cfg)),
	)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Health check endpoint
		v1.GET("/health", healthCheck)

		// Database status endpoint
		v1.GET("/database/status", databaseStatus)
	}
	controllers.RegisterRoutes(v1, auth)

	return router
}

func corsConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = cfg.CORSAllowedOrigins
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", middleware.RequestIDHeader)
	corsCfg.ExposeHeaders = []string{middleware.RequestIDHeader}
	return corsCfg
}

// healthCheck handles the health check endpoint
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Order workflow API is running",
	})
}

// databaseStatus checks database connectivity and returns table information
func databaseStatus(c *gin.Context) {
	db := config.GetDB()
	if db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Database is not configured",
			},
		})
		return
	}

	// Get the underlying SQL database to check connection
	sqlDB, err := db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to get database instance",
			},
		})
		return
	}

	// Ping the database to verify connection
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_CONNECTION_ERROR",
				"message": "Database connection failed",
			},
		})
		return
	}

	// Works for both PostgreSQL and SQLite
	tables, err := db.Migrator().GetTables()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_QUERY_ERROR",
				"message": "Failed to query tables",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Database connected",
		"tables":  tables,
		"dialect": db.Dialector.Name(),
	})
}
