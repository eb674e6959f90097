package telegram

import (
	"strconv"
	"strings"
	"time"

	"github.com/telemind/core/internal/domain/entities"
)

// Update is the subset of a Bot API update the engine reads
type Update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *Message `json:"message"`
	EditedMessage *Message `json:"edited_message"`
}

type Message struct {
	MessageID int64       `json:"message_id"`
	Date      int64       `json:"date"`
	Chat      Chat        `json:"chat"`
	From      *User       `json:"from"`
	Text      string      `json:"text"`
	Caption   string      `json:"caption,omitempty"`
	Document  *Document   `json:"document,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size"`
}

// ToEvent converts an update to an inbound event. It reports false for
// updates that carry nothing to handle (callbacks, service messages).
func (u Update) ToEvent(receivedAt time.Time) (entities.InboundEvent, bool) {
	msg := u.Message
	if msg == nil {
		msg = u.EditedMessage
	}
	if msg == nil {
		return entities.InboundEvent{}, false
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}

	if msg.Date > 0 {
		receivedAt = time.Unix(msg.Date, 0)
	}
	receivedAt = receivedAt.UTC()

	ev := entities.InboundEvent{
		EventID:    strconv.FormatInt(u.UpdateID, 10),
		OwnerID:    chatID,
		ChatID:     chatID,
		Text:       stripBotMention(text),
		ReceivedAt: receivedAt,
	}

	if d := msg.Document; d != nil {
		ev.Attachments = append(ev.Attachments, entities.Attachment{
			OwnerID:    chatID,
			FileID:     d.FileID,
			FileName:   d.FileName,
			MimeType:   d.MimeType,
			Size:       d.FileSize,
			ReceivedAt: receivedAt,
		})
	}

	// Telegram sends every resolution of a photo; keep the largest
	if n := len(msg.Photo); n > 0 {
		p := msg.Photo[n-1]
		ev.Attachments = append(ev.Attachments, entities.Attachment{
			OwnerID:    chatID,
			FileID:     p.FileID,
			FileName:   "photo_" + strconv.FormatInt(msg.MessageID, 10) + ".jpg",
			MimeType:   "image/jpeg",
			Size:       p.FileSize,
			ReceivedAt: receivedAt,
		})
	}

	if ev.Text == "" && len(ev.Attachments) == 0 {
		return entities.InboundEvent{}, false
	}
	return ev, true
}

// stripBotMention turns "/tasks@my_bot" into "/tasks" as group chats deliver it
func stripBotMention(text string) string {
	if !strings.HasPrefix(text, "/") {
		return text
	}
	cmd, rest, _ := strings.Cut(text, " ")
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	if rest == "" {
		return cmd
	}
	return cmd + " " + rest
}
