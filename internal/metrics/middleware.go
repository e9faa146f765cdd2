package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware returns gin middleware that instruments HTTP requests.
// The route template (c.FullPath) is used as the path label so parameterized
// routes like /api/commands/:id stay at bounded cardinality.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		duration := float64(time.Since(start).Milliseconds())
		statusCode := strconv.Itoa(c.Writer.Status())

		RecordAPIRequest(c.Request.Method, path, statusCode, duration)
	}
}
