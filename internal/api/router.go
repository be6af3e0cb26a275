// Package api exposes the small operational HTTP surface (spec.md §2.3):
// health, Prometheus metrics, and a JSON client-list management API that
// replaces the out-of-scope desktop dashboard window.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vrhostd/internal/eventbus"
	"vrhostd/internal/logging"
	"vrhostd/internal/platform"
	"vrhostd/internal/session"
)

// HealthChecker reports the liveness of the event bus, session store,
// active streaming connection, and host resources, grounded on the
// teacher's HealthCheck handler (internal/handlers/handlers.go).
type HealthChecker struct {
	Bus          *eventbus.Bus
	SessionStore *session.Store
	IsStreaming  func() bool
}

// Check runs each liveness probe and returns an ok flag plus per-component
// detail.
func (h *HealthChecker) Check() (ok bool, detail gin.H) {
	detail = gin.H{}

	// The bus itself has no liveness signal beyond "does Read not panic";
	// a nil bus is the only unhealthy state we can detect here.
	busOK := h.Bus != nil
	detail["event_bus"] = busOK

	storeOK := h.SessionStore != nil
	detail["session_store"] = storeOK

	streaming := false
	if h.IsStreaming != nil {
		streaming = h.IsStreaming()
	}
	detail["streaming"] = streaming

	// CPUCores is always >=1 (runtime.NumCPU()'s floor); this is a
	// reporting-only probe, not a gate, since a resource-constrained host
	// is still a usable one for this single-client daemon.
	hw := platform.DetectHardware()
	detail["resources"] = gin.H{
		"cpu_cores": hw.CPUCores,
		"memory_gb": hw.MemoryGB,
	}

	return busOK && storeOK, detail
}

// ClientManager is the subset of *session.Store the client-management API
// needs, broken out for testability.
type ClientManager interface {
	Snapshot() session.Document
	ApplyClientAction(action session.ClientAction, hostname, displayName string, ips []string) error
}

// NewRouter builds the gin engine, grounded on cmd/helmsman/main.go's router
// construction (gin.New() + a small middleware chain, rather than
// gin.Default()'s bundled middleware, to keep logging uniform with the rest
// of the runtime).
func NewRouter(health *HealthChecker, clients ClientManager, logger logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		ok, detail := health.Check()
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, detail)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/clients", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"clients": clients.Snapshot().Clients})
		})
		apiGroup.POST("/clients/:hostname/trust", func(c *gin.Context) {
			hostname := c.Param("hostname")
			if err := clients.ApplyClientAction(session.Trust, hostname, "", nil); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Status(http.StatusNoContent)
		})
		apiGroup.DELETE("/clients/:hostname", func(c *gin.Context) {
			hostname := c.Param("hostname")
			if err := clients.ApplyClientAction(session.Remove, hostname, "", nil); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Status(http.StatusNoContent)
		})
	}

	return r
}

// requestLogger mirrors pkg/middleware's structured request logging:
// one log line per request with method, path, status, and latency.
func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if logger == nil {
			return
		}
		logger.WithField("method", c.Request.Method).
			WithField("path", c.Request.URL.Path).
			WithField("status", c.Writer.Status()).
			WithField("latency_ms", time.Since(start).Milliseconds()).
			Info("http request")
	}
}
