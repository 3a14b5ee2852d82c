package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatsSource reports live counts for the status endpoint.
type StatsSource interface {
	Stats() (connections, calls int)
}

type HealthResponse struct {
	Status        string `json:"status"`
	Connections   int    `json:"connections"`
	Calls         int    `json:"calls"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func HealthHandler(src StatsSource, started time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		conns, calls := src.Stats()
		c.JSON(http.StatusOK, HealthResponse{
			Status:        "ok",
			Connections:   conns,
			Calls:         calls,
			UptimeSeconds: int64(time.Since(started).Seconds()),
		})
	}
}
