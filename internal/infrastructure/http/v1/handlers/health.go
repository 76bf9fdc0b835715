// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger checks a storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}


// HealthHandler provides health check endpoints.
type HealthHandler struct {
	checks  map[string]Pinger
	stats   map[string]func() any
	backend string
	version string
}

// NewHealthHandler creates a new health handler. Ready runs checks.
func NewHealthHandler(backend, version string, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		stats:   map[string]func() any{},
		backend: backend,
		version: version,
	}
}

// WithStats adds a named statistics source to Info.
func (h *HealthHandler) WithStats(name string, fn func() any) *HealthHandler {
	h.stats[name] = fn
	return h
}

// Live reports whether the process is alive.
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready reports whether the service can accept traffic.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "healthy"
	}

	body := gin.H{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "error"
	}
	c.JSON(status, body)
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	body := gin.H{
		"app":     "codealloc",
		"version": h.version,
		"backend": h.backend,
	}
	for name, fn := range h.stats {
		body[name] = fn()
	}
	c.JSON(http.StatusOK, body)
}
