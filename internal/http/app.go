// Package http holds the pieces the router and the domain modules share.
package http

import (
	"context"

	"chatfunnel_backend/platform/config"
	"chatfunnel_backend/platform/logger"
)

// HealthChecker backs /api/ready.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is what cmd/api hands to the router.
type App struct {
	Config  config.HTTPConfig
	Logger  *logger.Logger
	Health  HealthChecker
	Modules []Module
}
