package main

import (
	"context"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/everimpact/coverage-service/internal/handler"
	"github.com/everimpact/coverage-service/internal/middleware"
	"github.com/everimpact/coverage-service/internal/seeder"
	"github.com/everimpact/coverage-service/pkg/config"
	"github.com/everimpact/coverage-service/pkg/database"
	"github.com/everimpact/coverage-service/pkg/jwtutil"
	"github.com/everimpact/coverage-service/pkg/logger"
	"github.com/everimpact/coverage-service/prometheus"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	logger.InitLogger(cfg)
	log := logger.GetLogger()
	log.Info("Starting coverage service...", zap.String("environment", cfg.Server.Env))

	// Initialize database
	if err := database.Initialize(&cfg.DB); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Initialize JWT utility
	jwtutil.Initialize(&cfg.JWT)
	log.Info("JWT utility initialized")

	// Wire handlers to the shared connection
	handler.Initialize(&cfg.Query)

	// Seed the bootstrap admin and default coverages
	if cfg.Seed.Enabled {
		log.Info("Running startup seeder")
		seeder.New(database.GetDB(), &cfg.Seed).Run(context.Background())
	}

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)
	e.POST("/users", handler.CreateUser)
	e.GET("/users/login", handler.Login)

	// Coverage management and tenant data - all require authentication
	coverage := e.Group("/coverage")
	coverage.Use(middleware.AuthMiddleware)
	coverage.POST("", handler.CreateCoverage)
	coverage.GET("", handler.ListCoverages)
	coverage.DELETE("/:name", handler.DeleteCoverage)
	coverage.GET("/:name/sensor", handler.GetSensorData)
	coverage.GET("/:name/sensor/filter", handler.FilterSensorData)
	coverage.GET("/:name/sinks", handler.GetSinkData)
	coverage.GET("/:name/sinks/filter", handler.FilterSinkData)

	// User management
	users := e.Group("/users")
	users.Use(middleware.AuthMiddleware)
	users.GET("/me", handler.Me)
	users.GET("/all", handler.ListUsers)
	users.PUT("/:id", handler.UpdateUserPermission)
	users.DELETE("/:id", handler.DeleteUser)

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
