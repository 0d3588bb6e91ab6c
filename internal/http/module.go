package http

import "github.com/gin-gonic/gin"

// Module is a bounded context that mounts its own routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the route groups a module may mount on. Both groups
// already have their middleware installed.
type RouterContext struct {
	// Webhooks is /api/v1/webhooks, rate limited per client IP.
	Webhooks *gin.RouterGroup
	// Admin is /api/v1/admin, guarded by the admin key header.
	Admin *gin.RouterGroup
}
