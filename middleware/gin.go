package middleware

import (
	"github.com/gin-gonic/gin"
)

// Gin returns a gin middleware that enforces the payment gate described by
// cfg before any later handler in the chain runs.
func Gin(cfg *Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authed, ok := authorize(cfg, c.Writer, c.Request)
		if !ok {
			c.Abort()
			return
		}

		c.Request = authed
		c.Next()
	}
}
