package app

import (
	"context"
	"log"
	"log/slog"

	"github.com/evekillfeed/killfeed/pkg/config"
	"github.com/evekillfeed/killfeed/pkg/database"
	"github.com/evekillfeed/killfeed/pkg/logging"

	"github.com/joho/godotenv"
)

// AppContext holds the shared application context and dependencies.
// killfeed has no durable store, so unlike the gateway this carries
// only an optional Redis handle (used as the cache's L2 backing) and
// telemetry, never a database connection that owns source-of-truth data.
type AppContext struct {
	Redis            *database.Redis
	TelemetryManager *logging.TelemetryManager
	ServiceName      string
	shutdownFuncs    []func(context.Context) error
}

// InitializeApp initializes common application dependencies
func InitializeApp(serviceName string) (*AppContext, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it: %v", err)
	}

	ctx := context.Background()

	telemetryManager := logging.NewTelemetryManager()
	if err := telemetryManager.Initialize(ctx); err != nil {
		log.Printf("Warning: Failed to initialize telemetry: %v", err)
	}

	var redis *database.Redis
	if config.GetBoolEnv("ENABLE_REDIS_CACHE", false) {
		var err error
		redis, err = database.NewRedis(ctx)
		if err != nil {
			slog.Warn("Redis unavailable, falling back to in-memory cache only", "error", err)
			redis = nil
		} else {
			slog.Info("connected to Redis")
		}
	}

	appCtx := &AppContext{
		Redis:            redis,
		TelemetryManager: telemetryManager,
		ServiceName:      serviceName,
	}

	if redis != nil {
		appCtx.shutdownFuncs = append(appCtx.shutdownFuncs, func(ctx context.Context) error {
			return redis.Close()
		})
	}
	if telemetryManager != nil {
		appCtx.shutdownFuncs = append(appCtx.shutdownFuncs, telemetryManager.Shutdown)
	}

	return appCtx, nil
}

// Shutdown gracefully shuts down all application dependencies
func (a *AppContext) Shutdown(ctx context.Context) error {
	slog.Info("shutting down application", "service", a.ServiceName)

	for _, shutdown := range a.shutdownFuncs {
		if err := shutdown(ctx); err != nil {
			slog.Error("error during shutdown", "error", err)
		}
	}

	slog.Info("application shutdown complete", "service", a.ServiceName)
	return nil
}

// GetPort returns the port from environment or default
func GetPort(defaultPort string) string {
	return config.GetEnv("PORT", defaultPort)
}

// IsProduction returns true if running in production environment
func IsProduction() bool {
	return config.GetEnv("NODE_ENV", "development") == "production"
}

// IsDevelopment returns true if running in development environment
func IsDevelopment() bool {
	return !IsProduction()
}
