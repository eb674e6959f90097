package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/time/rate"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/config"
	"github.com/telemind/core/internal/infrastructure/logger"
)

// maxMessageLength is Telegram's limit for a single sendMessage text,
// counted in UTF-16 code units.
const maxMessageLength = 4096

// Client talks to the Telegram Bot API. It implements ports.Notifier for
// reminders and ports.Messenger for conversational replies; owner ids are chat ids.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *logger.Logger
}

// NewClient creates a Bot API client from cfg
func NewClient(cfg config.TelegramConfig, logger *logger.Logger) *Client {
	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL: fmt.Sprintf("%s/bot%s", strings.TrimRight(cfg.APIURL, "/"), cfg.BotToken),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.WithComponent("telegram"),
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Deliver sends a reminder. Failures are *entities.DeliveryError.
func (c *Client) Deliver(ctx context.Context, ownerID, message string) error {
	return c.send(ctx, ownerID, message)
}

// SendText sends a conversational reply
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	return c.send(ctx, chatID, text)
}

func (c *Client) send(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return entities.NewPermanentError("empty chat id", nil)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return entities.NewTransientError("throttled", err)
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: truncate(text)})
	if err != nil {
		return entities.NewPermanentError("encode message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return entities.NewPermanentError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return entities.NewTransientError("network", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var api apiResponse
	_ = json.Unmarshal(raw, &api)

	deliveryErr := classify(resp.StatusCode, api)
	c.logger.Warnw("Telegram sendMessage failed",
		"status", resp.StatusCode,
		"description", api.Description,
		"kind", deliveryErr.Kind,
	)
	return deliveryErr
}

// classify maps a Bot API failure to a delivery error kind.
// Rate limiting and server errors are retryable; a missing or blocked chat is not.
func classify(status int, api apiResponse) *entities.DeliveryError {
	cause := fmt.Errorf("telegram %d: %s", status, api.Description)
	description := strings.ToLower(api.Description)

	switch {
	case status == http.StatusTooManyRequests:
		if api.Parameters.RetryAfter > 0 {
			cause = fmt.Errorf("%w (retry after %ds)", cause, api.Parameters.RetryAfter)
		}
		return entities.NewTransientError("rate limited", cause)
	case status >= 500:
		return entities.NewTransientError("telegram unavailable", cause)
	case status == http.StatusForbidden:
		return entities.NewPermanentError("bot blocked by user", cause)
	case status == http.StatusBadRequest && strings.Contains(description, "chat not found"):
		return entities.NewPermanentError("chat not found", cause)
	case status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusNotFound:
		return entities.NewPermanentError("rejected", cause)
	}
	return entities.NewTransientError("unexpected status", cause)
}

func truncate(text string) string {
	if utf16Len(text) <= maxMessageLength {
		return text
	}
	// Leave one unit for the ellipsis.
	budget := maxMessageLength - 1
	for i, r := range text {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if budget < n {
			return text[:i] + "…"
		}
		budget -= n
	}
	return text
}

func utf16Len(text string) int {
	n := 0
	for _, r := range text {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}
