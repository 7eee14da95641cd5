package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const tenantContextKey = "tenantContext"

func (s *Server) bearerAuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" || token == authHeader {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}

		ctx, err := s.tenants.ValidateToken(token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		c.Set(tenantContextKey, ctx)
		return next(c)
	}
}

// controlPlaneAuthMiddleware enforces constant-time comparison of
// X-Control-Plane-Token against the configured secret. An empty configured
// secret denies every request.
func (s *Server) controlPlaneAuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.controlPlaneToken == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "control plane token not configured")
		}

		presented := c.Request().Header.Get("X-Control-Plane-Token")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.controlPlaneToken)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid control plane token")
		}

		return next(c)
	}
}
