package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/telemind/core/internal/application/services"
)

// authMiddleware validates bearer tokens issued by AuthService
func (s *Server) authMiddleware(authService *services.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization header")
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := authService.ValidateToken(tokenString)
			if err != nil {
				s.logger.LogSecurityEvent("invalid_token", "", c.RealIP(), map[string]interface{}{
					"error":    err.Error(),
					"endpoint": c.Request().URL.Path,
				})
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
			}

			c.Set("subject", claims.Subject)
			c.Set("scope", claims.Scope)

			return next(c)
		}
	}
}
