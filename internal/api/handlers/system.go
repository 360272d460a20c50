package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is a dependency that can report its connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type SystemHandler struct {
	db    Pinger
	minio Pinger
	nats  Pinger
	// visionAvailable is informational: an unconfigured vision service is a valid state.
	visionAvailable func() bool
}

func NewSystemHandler(db, minio, nats Pinger, visionAvailable func() bool) *SystemHandler {
	return &SystemHandler{db: db, minio: minio, nats: nats, visionAvailable: visionAvailable}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for name, dep := range map[string]Pinger{"postgres": h.db, "minio": h.minio, "nats": h.nats} {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	if h.visionAvailable != nil {
		if h.visionAvailable() {
			checks["vision"] = "configured"
		} else {
			checks["vision"] = "not configured"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}
