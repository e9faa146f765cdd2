package bridge

import (
	"crypto/subtle"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradebridge/internal/errs"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

const apiKeyHeader = "X-API-Key"

// APIKeyAuth guards the EA-facing ports. Every request must carry a key from
// the configured set; comparison is constant-time.
func APIKeyAuth(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(apiKeyHeader)
		if presented != "" {
			for _, key := range keys {
				if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
					c.Next()
					return
				}
			}
		}

		metrics.RecordAuthFailure()
		log.Warn().
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Msg("Rejected request with missing or invalid API key")
		c.AbortWithStatusJSON(errs.HTTPStatus(errs.KindAuth), gin.H{
			"status": "error",
			"error":  "invalid API key",
		})
	}
}

// respondError maps a kinded error onto the wire shape the EA expects
func respondError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := errs.HTTPStatus(kind)
	if status >= 500 {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.JSON(status, gin.H{
		"status": "error",
		"error":  errs.Message(err),
	})
}

// requestLogger logs each request with latency; gin's default logger is too
// chatty for the tick port so the tick server skips it.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("Request")
	}
}
