package middleware

import (
	"github.com/labstack/echo/v4"
)

// Echo returns an echo middleware that enforces the payment gate described by
// cfg before the wrapped handler runs.
func Echo(cfg *Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authed, ok := authorize(cfg, c.Response(), c.Request())
			if !ok {
				return nil
			}

			c.SetRequest(authed)
			return next(c)
		}
	}
}
