// Package http assembles the HTTP surface: middleware stack, health
// endpoints and module route registration.
package http

import (
	"github.com/gin-gonic/gin"
)

// Module is a bounded context that can register its HTTP routes. The router
// stays decoupled from specific endpoints.
type Module interface {
	// Name returns the module's identifier for logging purposes.
	Name() string
	// RegisterRoutes mounts the module's routes on the /api/v1 group.
	RegisterRoutes(v1 *gin.RouterGroup)
}

// moduleFunc adapts a handler with a RegisterRoutes method to Module.
type moduleFunc struct {
	name     string
	register func(v1 *gin.RouterGroup)
}

func (m moduleFunc) Name() string                       { return m.name }
func (m moduleFunc) RegisterRoutes(v1 *gin.RouterGroup) { m.register(v1) }

// NewModule wraps a route registration function as a Module.
func NewModule(name string, register func(v1 *gin.RouterGroup)) Module {
	return moduleFunc{name: name, register: register}
}
