package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/intervue/internal/api/handlers"
	"github.com/yoockh/intervue/internal/api/middleware"
)

type Deps struct {
	Session *handlers.SessionHandler
	WS      *handlers.WSHandler
	Metrics http.Handler
	JWT     middleware.JWTConfig
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	// Auth is optional: without a secret every route is open.
	api := r.Group("/")
	if d.JWT.Enabled() {
		api.Use(middleware.JWTAuth(d.JWT))
	}

	api.GET("/ws/interview", d.WS.Interview)

	v1 := api.Group("/api/v1")
	v1.POST("/sessions", d.Session.Create)
	v1.GET("/sessions/:session_id", d.Session.Get)
	v1.GET("/sessions/:session_id/evaluations", d.Session.ListEvaluations)
	v1.GET("/sessions/:session_id/transcripts", d.Session.ListTranscripts)
}
