package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	statusWarnThreshold  = 400
	statusErrorThreshold = 500
)

// quietPaths are scraped or probed constantly and only logged at debug level.
var quietPaths = map[string]struct{}{
	"/healthz": {},
	"/metrics": {},
}

// ZerologLogger is a Gin middleware that logs requests using zerolog.
func ZerologLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		var evt *zerolog.Event
		switch {
		case status >= statusErrorThreshold:
			evt = log.Error()
		case status >= statusWarnThreshold:
			evt = log.Warn()
		default:
			if _, quiet := quietPaths[path]; quiet {
				evt = log.Debug()
			} else {
				evt = log.Info()
			}
		}

		if id := c.Param("job_id"); id != "" {
			evt = evt.Str("job_id", id)
		}
		evt.
			Int("status", status).
			Str("method", method).
			Str("route", c.FullPath()).
			Str("path", path).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http request completed")
	}
}
