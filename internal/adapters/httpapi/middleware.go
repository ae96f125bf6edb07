package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"offsetcore/internal/core"
)

// RequestObserver records one finished request. metrics.Recorder
// satisfies it.
type RequestObserver interface {
	ObserveHTTP(method, route string, status int, duration time.Duration)
}

// Metrics reports every request to obs, labelled by route template so
// run IDs do not explode label cardinality.
func Metrics(obs RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		obs.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// AccessLog logs each request at debug, or at warn for 4xx/5xx replies.
func AccessLog(log core.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		args := []any{"method", c.Request.Method, "path", c.Request.URL.Path, "status", status, "duration", time.Since(start)}
		if status >= 400 {
			log.Warn("http request", args...)
			return
		}
		log.Debug("http request", args...)
	}
}
