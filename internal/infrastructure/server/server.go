package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"
	"golang.org/x/time/rate"

	_ "github.com/telemind/core/docs"
	httpHandlers "github.com/telemind/core/internal/adapters/http"
	"github.com/telemind/core/internal/application/services"
	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/config"
	"github.com/telemind/core/internal/infrastructure/logger"
	"github.com/telemind/core/internal/infrastructure/metrics"
)

// Server represents the HTTP server
type Server struct {
	echo    *echo.Echo
	config  *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	checks  map[string]HealthCheck
}

// HealthCheck checks one backing service
type HealthCheck func(ctx context.Context) error

// Handlers groups the HTTP handlers mounted by the server
type Handlers struct {
	Webhook *httpHandlers.WebhookHandler
	Auth    *httpHandlers.AuthHandler
	Scan    *httpHandlers.ScanHandler
	Tasks   *httpHandlers.TaskHandler
}

// CustomValidator wraps the validator
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates structs
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// New creates a new server instance. m may be nil when metrics are disabled.
func New(cfg *config.Config, handlers Handlers, authService *services.AuthService, m *metrics.Metrics, checks map[string]HealthCheck, appLogger *logger.Logger) *Server {
	e := echo.New()

	// Set custom validator
	e.Validator = &CustomValidator{validator: validator.New()}

	// Configure Echo
	e.HideBanner = true
	e.HidePort = true

	// Custom error handler
	e.HTTPErrorHandler = customErrorHandler(appLogger)

	server := &Server{
		echo:    e,
		config:  cfg,
		logger:  appLogger,
		metrics: m,
		checks:  checks,
	}

	server.setupMiddleware()
	server.setupRoutes(handlers, authService)

	return server
}

// Echo exposes the router, mainly for tests
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.echo.Use(middleware.Recover())

	// Request ID middleware
	s.echo.Use(middleware.RequestID())

	if s.metrics != nil {
		s.echo.Use(s.metrics.Middleware())
	}

	// Logger middleware
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogError:     true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, values middleware.RequestLoggerValues) error {
			l := s.logger.WithRequestID(values.RequestID)
			if values.Error != nil {
				l = l.WithError(values.Error)
			}
			l.LogHTTPRequest(
				values.Method,
				values.URI,
				values.UserAgent,
				values.RemoteIP,
				values.Status,
				float64(values.Latency.Nanoseconds())/1000000,
			)
			return nil
		},
	}))

	// CORS middleware
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: strings.Split(s.config.Security.CORSAllowedOrigins, ","),
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowMethods: []string{echo.GET, echo.HEAD, echo.POST},
	}))

	// Security headers
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'self'",
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Path(), "/swagger")
		},
	}))

	// Timeout middleware
	timeout := s.config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s.echo.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: timeout,
	}))
}

// rateLimiter throttles the operator API per client IP
func (s *Server) rateLimiter() echo.MiddlewareFunc {
	window := s.config.Security.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	requests := s.config.Security.RateLimitRequests
	if requests <= 0 {
		requests = 100
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(requests) / window.Seconds()),
			Burst:     requests,
			ExpiresIn: window,
		}),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(context echo.Context, err error) error {
			return context.JSON(http.StatusForbidden, map[string]string{"message": "rate limit exceeded"})
		},
		DenyHandler: func(context echo.Context, identifier string, err error) error {
			return context.JSON(http.StatusTooManyRequests, map[string]string{"message": "rate limit exceeded"})
		},
	})
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(h Handlers, authService *services.AuthService) {
	// Health check routes
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/health/detailed", s.detailedHealthCheck)
	s.echo.GET("/ready", s.readinessCheck)

	// Swagger documentation
	s.echo.GET("/swagger/*", echoSwagger.WrapHandler)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	// Messaging transport; Telegram controls its own delivery rate
	s.echo.POST("/webhook/telegram", h.Webhook.Telegram)

	// API v1 routes
	v1 := s.echo.Group("/api/v1", s.rateLimiter())

	v1.POST("/auth/token", h.Auth.Token)

	protected := v1.Group("", s.authMiddleware(authService))
	protected.POST("/scan", h.Scan.Scan)
	protected.GET("/owners/:owner/tasks", h.Tasks.ListOwnerTasks)
}

// Health check handlers
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) detailedHealthCheck(c echo.Context) error {
	status, checks := s.runChecks(c.Request().Context())

	response := map[string]interface{}{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
		"checks": checks,
		"version": map[string]string{
			"app": s.config.App.Version,
			"go":  runtime.Version(),
		},
	}

	if status == "ok" {
		return c.JSON(http.StatusOK, response)
	}
	return c.JSON(http.StatusServiceUnavailable, response)
}

func (s *Server) readinessCheck(c echo.Context) error {
	status, checks := s.runChecks(c.Request().Context())
	if status != "ok" {
		var failing []string
		for name, check := range checks {
			if check["status"] != "ok" {
				failing = append(failing, name)
			}
		}
		sort.Strings(failing)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": strings.Join(failing, ",") + "_not_ready",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) runChecks(ctx context.Context) (string, map[string]map[string]string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := "ok"
	results := make(map[string]map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = "error"
			results[name] = map[string]string{"status": "error", "error": err.Error()}
			continue
		}
		results[name] = map[string]string{"status": "ok"}
	}
	return status, results
}

// Start starts the HTTP server
func (s *Server) Start(address string) error {
	s.logger.Infow("Starting server", "address", address)

	srv := &http.Server{
		Addr:         address,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}
	return s.echo.StartServer(srv)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	return s.echo.Shutdown(ctx)
}

// customErrorHandler handles HTTP errors
func customErrorHandler(logger *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var (
			code = http.StatusInternalServerError
			msg  interface{}

			he      *echo.HTTPError
			invalid validator.ValidationErrors
		)

		switch {
		case errors.As(err, &he):
			code = he.Code
			msg = httpHandlers.ErrorResponse{Error: fmt.Sprint(he.Message)}
			if he.Internal != nil {
				err = fmt.Errorf("%v, %v", err, he.Internal)
			}
		case errors.As(err, &invalid):
			code = http.StatusBadRequest
			msg = httpHandlers.ErrorResponse{Error: "validation failed", Details: invalid.Error()}
		case errors.Is(err, entities.ErrStoreUnavailable):
			code = http.StatusServiceUnavailable
			msg = httpHandlers.ErrorResponse{Error: "store unavailable"}
		case errors.Is(err, context.DeadlineExceeded):
			code = http.StatusServiceUnavailable
			msg = httpHandlers.ErrorResponse{Error: "request timed out"}
		default:
			msg = httpHandlers.ErrorResponse{Error: http.StatusText(code)}
		}

		if code >= http.StatusInternalServerError {
			logger.Errorw("Request failed", "error", err, "path", c.Request().URL.Path, "status", code)
		}

		// Send response
		if !c.Response().Committed {
			if c.Request().Method == echo.HEAD {
				err = c.NoContent(code)
			} else {
				err = c.JSON(code, msg)
			}
			if err != nil {
				logger.Errorw("Error sending response", "error", err)
			}
		}
	}
}
