package api

import (
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/timeline-fanout/internal/api/handler"
	"github.com/d60-Lab/timeline-fanout/internal/api/middleware"
)

// SetupRouter 注册路由与中间件
func SetupRouter(h *handler.Handler, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	r.Use(otelgin.Middleware(serviceName))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		timeline := v1.Group("/timeline")
		{
			timeline.GET("/stats", h.TimelineStats)
			timeline.GET("/:user_id", h.GetTimeline)
		}

		v1.POST("/events/post-created", h.PostCreated)
		v1.POST("/posts", h.CreatePost)

		relations := v1.Group("/relations")
		{
			relations.POST("/follow", h.Follow)
			relations.POST("/unfollow", h.Unfollow)
			relations.GET("/:user_id/following", h.ListFollowing)
			relations.GET("/:user_id/fans", h.ListFans)
		}

		users := v1.Group("/users")
		{
			users.PUT("/:user_id/profile", h.UpsertProfile)
			users.POST("/:user_id/active", h.MarkActive)
		}
	}
	return r
}
