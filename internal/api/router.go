package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/fauna/internal/api/handlers"
	"github.com/your-org/fauna/internal/api/ws"
	"github.com/your-org/fauna/internal/auth"
)

type RouterConfig struct {
	Auth    auth.Settings
	Batch   handlers.BatchRunner
	Similar handlers.SimilarFinder
	// Jobs may be nil, which disables async processing.
	Jobs handlers.JobPublisher
	Hub  *ws.Hub

	DB              handlers.Pinger
	MinIO           handlers.Pinger
	NATS            handlers.Pinger
	VisionAvailable func() bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.NATS, cfg.VisionAvailable)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with owner identity)
	v1 := r.Group("/v1")
	v1.Use(auth.OwnerMiddleware(cfg.Auth))

	// WebSocket
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Photos
	photoH := handlers.NewPhotoHandler(cfg.Batch, cfg.Similar, cfg.Jobs)
	v1.POST("/photos/process", photoH.Process)
	v1.GET("/photos/:id/similar", photoH.Similar)

	return r
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AllowHeaders = append(c.AllowHeaders, "Authorization", "X-API-Key", "X-Owner-ID")
	return c
}
