package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/telemind/core/internal/application/services"
	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/logger"
	"github.com/telemind/core/internal/ports"
)

// AuthHandler issues tokens for the trigger API
type AuthHandler struct {
	authService *services.AuthService
	logger      *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *services.AuthService, logger *logger.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// Token godoc
// @Summary Issue an access token
// @Description Exchange the admin password for a bearer token scoped to the trigger API
// @Tags auth
// @Accept json
// @Produce json
// @Param request body ports.TokenRequest true "Admin password"
// @Success 200 {object} ports.TokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/token [post]
func (h *AuthHandler) Token(c echo.Context) error {
	var req ports.TokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if err := c.Validate(&req); err != nil {
		return err
	}

	response, err := h.authService.Login(c.Request().Context(), req)
	switch {
	case errors.Is(err, services.ErrAuthDisabled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Token issuance is disabled")
	case err != nil:
		h.logger.LogSecurityEvent("token_denied", "admin", c.RealIP(), map[string]interface{}{
			"error": err.Error(),
		})
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}

	return c.JSON(http.StatusOK, response)
}

// ScanHandler exposes the due-task scanner to external schedulers
type ScanHandler struct {
	scanner *services.Scanner
	logger  *logger.Logger
}

// NewScanHandler creates a new scan handler
func NewScanHandler(scanner *services.Scanner, logger *logger.Logger) *ScanHandler {
	return &ScanHandler{
		scanner: scanner,
		logger:  logger,
	}
}

// Scan godoc
// @Summary Run the due-task scanner
// @Description Scan all owners, or only owner_id when given, and deliver due reminders
// @Tags scanner
// @Accept json
// @Produce json
// @Param request body ports.ScanRequest false "Optional owner scope"
// @Success 200 {object} services.ScanReport
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/scan [post]
func (h *ScanHandler) Scan(c echo.Context) error {
	var req ports.ScanRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
		}
	}

	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	var (
		report *services.ScanReport
		err    error
	)
	if req.OwnerID != "" {
		report, err = h.scanner.ScanOwner(ctx, req.OwnerID)
	} else {
		report, err = h.scanner.ScanAll(ctx)
	}
	if err != nil {
		h.logger.Errorw("Scan failed", "error", err, "owner_id", req.OwnerID)
		return err
	}

	return c.JSON(http.StatusOK, report)
}

// TaskHandler gives operators a read-only view of an owner's tasks
type TaskHandler struct {
	taskService *services.TaskService
	logger      *logger.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(taskService *services.TaskService, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		logger:      logger,
	}
}

// ListOwnerTasks godoc
// @Summary List an owner's active tasks
// @Description Active tasks or notes of one owner in creation order
// @Tags tasks
// @Produce json
// @Param owner path string true "Owner ID"
// @Param kind query string false "task or note" Enums(task, note)
// @Success 200 {object} ports.ListTasksResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/owners/{owner}/tasks [get]
func (h *TaskHandler) ListOwnerTasks(c echo.Context) error {
	ownerID := c.Param("owner")
	if ownerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Owner ID is required")
	}

	kind := entities.TaskKind(c.QueryParam("kind"))
	switch kind {
	case "":
		kind = entities.TaskKindTask
	case entities.TaskKindTask, entities.TaskKindNote:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be task or note")
	}

	tasks, err := h.taskService.ListTasks(c.Request().Context(), ownerID, kind)
	if err != nil {
		h.logger.Errorw("List tasks failed", "error", err, "owner_id", ownerID)
		return err
	}
	if tasks == nil {
		tasks = []*entities.Task{}
	}

	return c.JSON(http.StatusOK, ports.ListTasksResponse{
		OwnerID: ownerID,
		Tasks:   tasks,
		Total:   len(tasks),
	})
}

// Request/Response types

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
