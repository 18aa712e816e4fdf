// Package health serves the readiness probe.
package health

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler for health API
func Handler(signalCtx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		select {
		// fail the readiness probe after sigterm/sigint so the pod leaves the load balancer
		case <-signalCtx.Done():
			c.Data(http.StatusServiceUnavailable, gin.MIMEPlain, []byte(http.StatusText(http.StatusServiceUnavailable)))
		default:
			c.Data(http.StatusOK, gin.MIMEPlain, []byte(http.StatusText(http.StatusOK)))
		}
	}
}
