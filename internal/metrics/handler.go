package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Register mounts the Prometheus scrape endpoint on a gin router
func Register(r gin.IRoutes) {
	r.GET("/metrics", gin.WrapH(Handler()))
}
