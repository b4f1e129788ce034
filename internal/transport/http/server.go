package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/teamline-app/realtime/internal/auth"
	"github.com/teamline-app/realtime/internal/config"
	"github.com/teamline-app/realtime/internal/hub"
	"github.com/teamline-app/realtime/internal/store"
)

// NewServer builds the HTTP server with all realtime routes.
func NewServer(h *hub.Hub, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	handlers := NewHandlers(st, h, authService, cfg.ICEServers, cfg.PublishRateLimit, logger)
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(handlers, authService, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter wires the gin engine. Exposed separately so tests can mount the
// routes on an httptest server.
func NewRouter(handlers *Handlers, authService *auth.Service, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	router.POST("/api/register", handlers.Register)
	router.POST("/api/login", handlers.Login)

	authed := router.Group("/api", AuthMiddleware(authService, logger))
	{
		authed.GET("/events/stream", handlers.Stream)
		authed.POST("/events", handlers.Publish)
		authed.POST("/messages", handlers.CreateMessage)
		authed.GET("/messages/:peer", handlers.History)
		authed.POST("/messages/:peer/read", handlers.MarkRead)
		authed.GET("/contacts", handlers.Contacts)
		authed.GET("/rtc-config", handlers.RTCConfig)
	}

	return router
}
