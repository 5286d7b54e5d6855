package controller

import (
	"net/http"

	"B2P/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CORS allows any origin, method and header and answers preflight requests
// itself.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		if req := c.GetHeader("Access-Control-Request-Headers"); req != "" {
			h.Set("Access-Control-Allow-Headers", req)
		} else {
			h.Set("Access-Control-Allow-Headers", "*")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SetupRouter registers every route. events serves GET /events and may be
// nil.
func SetupRouter(h *Handler, events gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(logger.GinLogger(), logger.GinRecovery(true), CORS())

	r.GET("/", h.Home)
	r.POST("/api-endpoint", h.SubmitTask)
	r.GET("/tasks", h.ListTasks)
	r.GET("/tasks/:task", h.TaskStatus)
	r.GET("/tasks/:task/history", h.TaskHistory)
	r.GET("/submissions/:id", h.SubmissionDetail)
	if events != nil {
		r.GET("/events", events)
	}
	// the NoRoute chain carries the global middleware, so OPTIONS preflights
	// are answered by CORS before reaching it
	r.NoRoute(func(c *gin.Context) {
		ResponseDetail(c, http.StatusNotFound, "Not Found")
	})
	return r
}
