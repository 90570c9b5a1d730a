package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/middleware"
)

// SubscriberCounter reports how many viewers are connected.
type SubscriberCounter interface {
	Count() int
}

type RouterDeps struct {
	Board    Board
	Streamer Streamer
	Counter  SubscriberCounter
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger

	// StoreHealth pings a networked backend. Nil for local stores.
	StoreHealth func(ctx context.Context) error
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(deps.Logger))

	messages := NewMessageHandler(deps.Board, deps.Logger)
	streams := NewStreamHandler(deps.Streamer, deps.Logger)

	r.GET("/api/health", func(c *gin.Context) {
		subscribers := 0
		if deps.Counter != nil {
			subscribers = deps.Counter.Count()
		}
		if deps.StoreHealth != nil {
			if err := deps.StoreHealth(c.Request.Context()); err != nil {
				deps.Logger.Warn("store health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":      "degraded",
					"subscribers": subscribers,
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"subscribers": subscribers,
		})
	})

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Streams set their own cache headers.
	r.GET("/api/message/stream", streams.SSE)
	r.GET("/api/message/ws", streams.WebSocket)

	v := r.Group("/api", middleware.NoStore())
	v.GET("/message", messages.Get)
	v.PUT("/message", messages.Save)
	v.POST("/message", messages.Schedule)
	v.DELETE("/message", messages.Delete)
	v.GET("/backgrounds", messages.Backgrounds)

	return r
}
