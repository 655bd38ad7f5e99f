package handler

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// SetupRoutes wires middleware and the HTTP surface onto router.
func SetupRoutes(router *gin.Engine, h *Handler) {
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{h.Cfg.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	limiter := NewIPRateLimiter(rate.Limit(rateLimitRPS), rateLimitBurst)
	go func() {
		for {
			time.Sleep(10 * time.Minute)
			limiter.Reset()
		}
	}()

	router.GET("/healthz", h.Health)
	router.GET("/anonid", RateLimitMiddleware(limiter), h.GetAnonID)
	router.GET("/ws", h.ServeWebSocket)
	// sendBeacon target for tabs closing while queued.
	router.DELETE("/queue/:id", RateLimitMiddleware(limiter), h.BeaconDeleteQueueEntry)
	router.POST("/sessions/:id/feedback", RateLimitMiddleware(limiter), h.SubmitFeedback)
}
