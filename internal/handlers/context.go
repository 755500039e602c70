package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
)

// requestContext returns the request context, which carries the audit actor set by the auth middleware.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}
