package http

import (
	"context"

	"chathub_backend/internal/events"
	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the fully initialized application dependencies. It is populated
// by main.go (the composition root) and passed to the router.
type App struct {
	Config   config.HTTPConfig
	Logger   *logger.Logger
	Health   HealthChecker
	EventBus events.Bus
	Modules  []Module
}
