package http

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/telemind/core/internal/adapters/telegram"
	"github.com/telemind/core/internal/application/services"
	"github.com/telemind/core/internal/infrastructure/logger"
)

// secretTokenHeader carries the secret registered with setWebhook
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookHandler receives Telegram updates
type WebhookHandler struct {
	assistant *services.AssistantService
	secret    string
	logger    *logger.Logger
	now       func() time.Time
}

// NewWebhookHandler creates a new webhook handler. An empty secret disables the header check.
func NewWebhookHandler(assistant *services.AssistantService, secret string, logger *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		assistant: assistant,
		secret:    secret,
		logger:    logger.WithComponent("webhook"),
		now:       time.Now,
	}
}

// Telegram godoc
// @Summary Telegram webhook
// @Description Handle one Bot API update. A non-2xx response makes Telegram redeliver it.
// @Tags webhook
// @Accept json
// @Produce json
// @Param update body telegram.Update true "Bot API update"
// @Success 200 {object} services.Reply
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /webhook/telegram [post]
func (h *WebhookHandler) Telegram(c echo.Context) error {
	if h.secret != "" {
		got := c.Request().Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.logger.LogSecurityEvent("webhook_secret_mismatch", "telegram", c.RealIP(), nil)
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid secret token")
		}
	}

	var update telegram.Update
	if err := c.Bind(&update); err != nil {
		// Malformed updates would be redelivered forever; acknowledge and drop them
		h.logger.Warnw("Dropping malformed update", "error", err)
		return c.JSON(http.StatusOK, MessageResponse{Message: "ignored"})
	}

	ev, ok := update.ToEvent(h.now())
	if !ok {
		return c.JSON(http.StatusOK, MessageResponse{Message: "ignored"})
	}

	reply, err := h.assistant.HandleMessage(c.Request().Context(), ev)
	if err != nil {
		h.logger.WithOwner(ev.OwnerID).Errorw("Update handling failed",
			"error", err,
			"event_id", ev.EventID,
		)
		return err
	}

	return c.JSON(http.StatusOK, reply)
}
