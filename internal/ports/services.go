package ports

import (
	"context"

	"github.com/telemind/core/internal/domain/entities"
)

// Notifier delivers a rendered reminder to a task owner.
// Failures are reported as *entities.DeliveryError.
type Notifier interface {
	Deliver(ctx context.Context, ownerID, message string) error
}

// Messenger sends conversational replies through the messaging transport
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
}

// LanguageModel is the hosted model used for slot filling, summaries and chat
type LanguageModel interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Summarizer folds conversation turns into a single summary text
type Summarizer interface {
	Summarize(ctx context.Context, previous string, turns []*entities.Turn) (string, error)
}

// AttachmentSink records files the owner sent so they can be listed later
type AttachmentSink interface {
	Store(ctx context.Context, attachment entities.Attachment) error
	List(ctx context.Context, ownerID string) ([]entities.Attachment, error)
}

// CompletionRequest is a bounded prompt for the language model
type CompletionRequest struct {
	System    string
	History   []*entities.Turn
	Prompt    string
	JSON      bool
	MaxTokens int
}

// Request/Response Types

type ScanRequest struct {
	OwnerID string `json:"owner_id" validate:"omitempty,max=64"`
}

type TokenRequest struct {
	Password string `json:"password" validate:"required,min=8"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type ListTasksResponse struct {
	OwnerID string           `json:"owner_id"`
	Tasks   []*entities.Task `json:"tasks"`
	Total   int              `json:"total"`
}
