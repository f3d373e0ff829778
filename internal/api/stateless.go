package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Sample is service B's /data payload.
type Sample struct {
	Source string  `json:"source"`
	Value  float64 `json:"value"`
}

type stateless struct {
	random func() float64
}

func (s stateless) hello(c *gin.Context) {
	c.String(http.StatusOK, "Hello from Service B!")
}

func (s stateless) data(c *gin.Context) {
	c.JSON(http.StatusOK, Sample{Source: "Service B", Value: s.random() * 100})
}
