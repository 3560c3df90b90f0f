package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/handoff/internal/health"
)

// Readiness serves GET /readyz from the dependency checker: 200 when every
// dependency is healthy, 503 otherwise.
func Readiness(checker *health.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses, ready := checker.Snapshot()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "dependencies": statuses})
	}
}
