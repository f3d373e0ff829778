package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func newEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(log), RequestID(), AccessLog(log), CORS())
	return r
}

// ServiceARoutes wires the database-backed routes.
func ServiceARoutes(h *Handlers, log *zap.Logger) http.Handler {
	r := newEngine(log)
	r.GET("/", h.HealthCheck)
	r.GET("/data", h.RecordAndList)
	return r
}

// ServiceBRoutes wires the stateless routes. random must return values in [0, 1).
func ServiceBRoutes(random func() float64, log *zap.Logger) http.Handler {
	s := stateless{random: random}
	r := newEngine(log)
	r.GET("/", s.hello)
	r.GET("/data", s.data)
	return r
}
