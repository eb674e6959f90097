package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/config"
	"github.com/telemind/core/internal/infrastructure/logger"
	"github.com/telemind/core/internal/ports"
)

const greeting = "👋 Hello! I'm your personal assistant. I can help you with tasks, notes, and files. How can I assist you today?"

const helpText = `I can help you with:

*Tasks and reminders*
- "Remind me to pay rent on Friday"
- "Add task: buy groceries tomorrow"
- "Remind me to call John tomorrow at 3pm"
- "Add urgent task: renew passport on friday"
- "Move task 2 to next monday at 10am"
- "Make task 3 high priority"
- "Done 1", "Cancel task 3", "Got it"
- "Show my tasks" or /tasks

*Notes*
- "Remember my wifi password is 12345678"
- "Save this note: parking spot B12"
- /notes

*Files*
- Send me any document or image, then /files to list them
- /files pdf, /files documents or /files images shows one kind

*Settings*
- /timezone Europe/Berlin

Just chat naturally with me!`

const (
	chatFallback    = "I'm here to help with tasks, reminders and notes. Try \"remind me to call John tomorrow at 3pm\" or send /help."
	chatUnavailable = "Sorry, I can't chat right now, but I can still manage your tasks. Send /help to see how."
)

// Reply is the outcome of handling one inbound event
type Reply struct {
	ChatID    string              `json:"chat_id"`
	Text      string              `json:"text"`
	Intent    entities.IntentType `json:"intent,omitempty"`
	Duplicate bool                `json:"duplicate"`
}

// AssistantDeps groups the collaborators of AssistantService.
// Model may be nil, in which case general conversation gets a fixed reply.
type AssistantDeps struct {
	Tasks       *TaskService
	Extractor   *IntentExtractor
	Scanner     *Scanner
	Memory      *MemoryWindow
	Profiles    ports.ProfileRepository
	Dedup       ports.EventDeduplicator
	Messenger   ports.Messenger
	Model       ports.LanguageModel
	Attachments ports.AttachmentSink
}

// AssistantService handles inbound chat messages end to end
type AssistantService struct {
	deps        AssistantDeps
	cfg         config.AssistantConfig
	dedupWindow time.Duration
	logger      *logger.Logger
	now         func() time.Time
}

// NewAssistantService creates a new assistant service
func NewAssistantService(deps AssistantDeps, cfg config.AssistantConfig, dedupWindow time.Duration, logger *logger.Logger) *AssistantService {
	return &AssistantService{
		deps:        deps,
		cfg:         cfg,
		dedupWindow: dedupWindow,
		logger:      logger.WithComponent("assistant"),
		now:         time.Now,
	}
}

// WithClock replaces the service clock
func (a *AssistantService) WithClock(now func() time.Time) *AssistantService {
	a.now = now
	return a
}

// HandleMessage processes one inbound event. Redelivered events are ignored.
// A returned error means nothing was changed and the transport should retry.
func (a *AssistantService) HandleMessage(ctx context.Context, ev entities.InboundEvent) (*Reply, error) {
	if ev.OwnerID == "" {
		return nil, fmt.Errorf("inbound event without owner")
	}

	if ev.EventID != "" {
		claimed, err := a.deps.Dedup.Claim(ctx, ev.EventID, a.dedupWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to claim event: %w", err)
		}
		if !claimed {
			a.logger.Debugw("Duplicate event ignored", "event_id", ev.EventID, "owner_id", ev.OwnerID)
			return &Reply{ChatID: ev.ChatID, Duplicate: true}, nil
		}
	}

	reply, err := a.handle(ctx, ev)
	if err != nil {
		if ev.EventID != "" {
			if rerr := a.deps.Dedup.Release(context.WithoutCancel(ctx), ev.EventID); rerr != nil {
				a.logger.Warnw("Failed to release event claim", "event_id", ev.EventID, "error", rerr)
			}
		}
		return nil, err
	}
	return reply, nil
}

func (a *AssistantService) handle(ctx context.Context, ev entities.InboundEvent) (*Reply, error) {
	log := a.logger.WithOwner(ev.OwnerID)

	if _, err := a.deps.Scanner.ScanOwner(ctx, ev.OwnerID); err != nil {
		return nil, fmt.Errorf("owner scan failed: %w", err)
	}

	var parts []string
	failed, err := a.deps.Tasks.UnreportedFailures(ctx, ev.OwnerID)
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		parts = append(parts, RenderMissed(failed))
	}

	text, intent, err := a.respond(ctx, ev)
	if err != nil {
		return nil, err
	}
	if text != "" {
		parts = append(parts, text)
	}

	reply := &Reply{ChatID: ev.ChatID, Text: strings.Join(parts, "\n\n"), Intent: intent}

	// Past this point the store may have changed, so failures are logged
	// instead of returned to keep redeliveries from repeating the mutation.
	if msg := strings.TrimSpace(ev.Text); msg != "" {
		if err := a.deps.Memory.Append(ctx, ev.OwnerID, entities.RoleUser, msg); err != nil {
			log.Warnw("Failed to remember user turn", "error", err)
		}
	}
	if reply.Text != "" {
		if err := a.deps.Memory.Append(ctx, ev.OwnerID, entities.RoleAssistant, reply.Text); err != nil {
			log.Warnw("Failed to remember assistant turn", "error", err)
		}
	}

	if !a.send(ctx, ev.ChatID, reply.Text, log) {
		return reply, nil
	}
	// missed reminders stay unreported until a reply carrying them went out
	if err := a.deps.Tasks.MarkFailuresReported(ctx, failed); err != nil {
		log.Warnw("Failed to mark missed reminders reported", "error", err)
	}
	return reply, nil
}

// send delivers the reply and reports whether the owner can have seen it.
// Without a messenger the reply only travels back to the caller, which counts as sent.
func (a *AssistantService) send(ctx context.Context, chatID, text string, log *logger.Logger) bool {
	if text == "" {
		return false
	}
	if a.deps.Messenger == nil || chatID == "" {
		return true
	}
	if err := a.deps.Messenger.SendText(ctx, chatID, text); err != nil {
		log.Errorw("Failed to send reply", "chat_id", chatID, "error", err)
		return false
	}
	return true
}

func (a *AssistantService) respond(ctx context.Context, ev entities.InboundEvent) (string, entities.IntentType, error) {
	var parts []string
	for _, att := range ev.Attachments {
		msg, err := a.storeAttachment(ctx, ev, att)
		if err != nil {
			return "", "", err
		}
		parts = append(parts, msg)
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return strings.Join(parts, "\n"), "", nil
	}

	if reply, handled, err := a.command(ctx, ev.OwnerID, text); handled || err != nil {
		return joinReply(parts, reply), "", err
	}

	reply, intent, err := a.converse(ctx, ev, text)
	if err != nil {
		return "", "", err
	}
	return joinReply(parts, reply), intent, nil
}

// command handles the slash commands that never reach the extractor
func (a *AssistantService) command(ctx context.Context, ownerID, text string) (string, bool, error) {
	if !strings.HasPrefix(text, "/") {
		return "", false, nil
	}

	fields := strings.Fields(text)
	switch strings.ToLower(strings.SplitN(fields[0], "@", 2)[0]) {
	case "/start":
		return greeting, true, nil
	case "/help":
		return helpText, true, nil
	case "/timezone":
		if len(fields) < 2 {
			tz, err := a.timezone(ctx, ownerID)
			if err != nil {
				return "", true, err
			}
			return fmt.Sprintf("Your timezone is %s. Change it with /timezone Area/City.", tz), true, nil
		}
		tz := fields[1]
		if _, err := loadZone(tz); err != nil {
			return fmt.Sprintf("I don't know the timezone %q. Use a name like Europe/Berlin or America/New_York.", tz), true, nil
		}
		if err := a.deps.Profiles.SetTimezone(ctx, ownerID, tz); err != nil {
			return "", true, fmt.Errorf("failed to store timezone: %w", err)
		}
		return fmt.Sprintf("🌍 Timezone set to %s.", tz), true, nil
	case "/files":
		files, err := a.deps.Attachments.List(ctx, ownerID)
		if err != nil {
			return "", true, fmt.Errorf("failed to list files: %w", err)
		}
		var only entities.FileCategory
		if len(fields) > 1 {
			only, _ = entities.ParseFileCategory(fields[1])
		}
		return RenderFiles(files, only), true, nil
	}
	return "", false, nil
}

func (a *AssistantService) converse(ctx context.Context, ev entities.InboundEvent, text string) (string, entities.IntentType, error) {
	tz, err := a.timezone(ctx, ev.OwnerID)
	if err != nil {
		return "", "", err
	}
	window, err := a.deps.Memory.WindowFor(ctx, ev.OwnerID)
	if err != nil {
		return "", "", err
	}

	rc := ResolverContext{Reference: a.reference(ev), Timezone: tz}
	intent, err := a.deps.Extractor.Extract(ctx, text, window, rc)
	if err != nil {
		var unresolved *entities.UnresolvedError
		switch {
		case errors.As(err, &unresolved):
			return fmt.Sprintf("I couldn't work out when %q is (%s). Try something like \"tomorrow at 3pm\" or \"on friday\".", unresolved.Phrase, unresolved.Reason), "", nil
		case errors.Is(err, entities.ErrEmptyDescription):
			return "What should I remind you about?", "", nil
		}
		return "", "", err
	}

	reply, err := a.apply(ctx, ev.OwnerID, intent, tz, window)
	if err != nil {
		if IsUserFacing(err) {
			return userMessage(intent, err), intent.Type, nil
		}
		return "", "", err
	}
	return reply, intent.Type, nil
}

func (a *AssistantService) apply(ctx context.Context, ownerID string, intent *entities.Intent, tz string, window []*entities.Turn) (string, error) {
	switch intent.Type {
	case entities.IntentCreateTask:
		task, err := a.deps.Tasks.CreateTask(ctx, ownerID, entities.TaskKindTask, intent.Description, intent.Priority, intent.Due, tz)
		if err != nil {
			return "", err
		}
		if local, ok := task.LocalDue(); ok {
			return fmt.Sprintf("✅ Task added: %s for %s", task.Description, local.Format(dueLayout)), nil
		}
		return "✅ Task added: " + task.Description, nil

	case entities.IntentCreateNote:
		if _, err := a.deps.Tasks.CreateTask(ctx, ownerID, entities.TaskKindNote, intent.Description, intent.Priority, nil, tz); err != nil {
			return "", err
		}
		return "📝 Note saved!", nil

	case entities.IntentListTasks, entities.IntentListNotes:
		kind, title, empty := entities.TaskKindTask, "📋 Your tasks", "📭 You don't have any tasks yet."
		if intent.Type == entities.IntentListNotes {
			kind, title, empty = entities.TaskKindNote, "📝 Your notes", "📭 You don't have any notes yet."
		}
		tasks, err := a.deps.Tasks.ListTasks(ctx, ownerID, kind)
		if err != nil {
			return "", err
		}
		if len(tasks) == 0 {
			return empty, nil
		}
		return RenderTaskList(title, tasks), nil

	case entities.IntentCancelTask:
		task, err := a.deps.Tasks.CancelTask(ctx, ownerID, intent.TaskRef, kindOrTask(intent.Kind))
		if err != nil {
			return "", wrapTask(task, err)
		}
		return "🗑 Cancelled: " + task.Description, nil

	case entities.IntentCompleteTask:
		task, err := a.deps.Tasks.CompleteTask(ctx, ownerID, intent.TaskRef, kindOrTask(intent.Kind))
		if err != nil {
			return "", wrapTask(task, err)
		}
		return "✅ Done: " + task.Description, nil

	case entities.IntentAcknowledgeTask:
		task, err := a.deps.Tasks.AcknowledgeTask(ctx, ownerID, intent.TaskRef)
		if err != nil {
			return "", wrapTask(task, err)
		}
		return "👍 Got it: " + task.Description, nil

	case entities.IntentEditTask:
		task, err := a.deps.Tasks.EditTask(ctx, ownerID, intent.TaskRef, kindOrTask(intent.Kind), intent.Changes)
		if err != nil {
			return "", wrapTask(task, err)
		}
		if local, ok := task.LocalDue(); ok {
			return fmt.Sprintf("✏️ Updated: %s (due %s)", task.Description, local.Format(dueLayout)), nil
		}
		return "✏️ Updated: " + task.Description, nil
	}

	return a.chat(ctx, intent.Source, tz, window), nil
}

// chat answers general conversation through the language model
func (a *AssistantService) chat(ctx context.Context, text, tz string, window []*entities.Turn) string {
	if a.deps.Model == nil {
		return chatFallback
	}

	system := fmt.Sprintf("%s\nCurrent time: %s (%s).", a.cfg.Persona, a.now().UTC().Format(time.RFC3339), tz)
	answer, err := a.deps.Model.Complete(ctx, ports.CompletionRequest{
		System:  system,
		History: window,
		Prompt:  text,
	})
	if err != nil {
		a.logger.Warnw("Chat completion failed", "error", err)
		return chatUnavailable
	}
	if answer = strings.TrimSpace(answer); answer == "" {
		return chatFallback
	}
	return answer
}

func (a *AssistantService) storeAttachment(ctx context.Context, ev entities.InboundEvent, att entities.Attachment) (string, error) {
	att.OwnerID = ev.OwnerID
	if att.ReceivedAt.IsZero() {
		att.ReceivedAt = a.reference(ev)
	}
	if att.FileName == "" {
		att.FileName = att.FileID
	}
	if err := a.deps.Attachments.Store(ctx, att); err != nil {
		return "", fmt.Errorf("failed to store attachment: %w", err)
	}
	return fmt.Sprintf("%s Saved file: %s. Send /files to list your files.", categoryEmoji(att.Category()), att.FileName), nil
}

func (a *AssistantService) timezone(ctx context.Context, ownerID string) (string, error) {
	tz, err := a.deps.Profiles.GetTimezone(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("failed to load timezone: %w", err)
	}
	if tz == "" {
		tz = a.cfg.DefaultTimezone
	}
	if tz == "" {
		tz = "UTC"
	}
	return tz, nil
}

// reference is the instant relative phrases are resolved against
func (a *AssistantService) reference(ev entities.InboundEvent) time.Time {
	now := a.now().UTC()
	if ev.ReceivedAt.IsZero() || ev.ReceivedAt.After(now) {
		return now
	}
	return ev.ReceivedAt.UTC()
}

// taskError keeps the task an error refers to so the reply can name it
type taskError struct {
	task *entities.Task
	err  error
}

func (e *taskError) Error() string { return e.err.Error() }
func (e *taskError) Unwrap() error { return e.err }

func wrapTask(task *entities.Task, err error) error {
	if task == nil {
		return err
	}
	return &taskError{task: task, err: err}
}

func userMessage(intent *entities.Intent, err error) string {
	var te *taskError
	errors.As(err, &te)

	switch {
	case errors.Is(err, entities.ErrStaleReference):
		if te != nil {
			return fmt.Sprintf("%q is already %s, so there's nothing to change.", te.task.Description, te.task.State)
		}
		return "That task is already closed, so there's nothing to change."
	case errors.Is(err, entities.ErrStateConflict):
		return "That task changed while I was updating it. Please check /tasks and try again."
	case errors.Is(err, entities.ErrTaskNotFound):
		if intent.Type == entities.IntentAcknowledgeTask && intent.TaskRef == "" {
			return "There's no reminder waiting for you to acknowledge."
		}
		if intent.Kind == entities.TaskKindNote {
			return "I couldn't find that note. Send /notes to see the list."
		}
		return "I couldn't find that task. Send /tasks to see the list."
	case errors.Is(err, entities.ErrInvalidTransition):
		if intent.Type == entities.IntentAcknowledgeTask {
			return "That task hasn't been reminded yet, so there's nothing to acknowledge."
		}
		return "I can't make that change."
	case errors.Is(err, entities.ErrEmptyDescription):
		return "The description can't be empty."
	case errors.Is(err, entities.ErrDescriptionLength):
		return fmt.Sprintf("That's too long: descriptions are limited to %d characters.", entities.MaxDescriptionLength)
	case errors.Is(err, entities.ErrUnresolvedTime), errors.Is(err, entities.ErrInvalidTimezone):
		return "I couldn't work out that time. Try something like \"tomorrow at 3pm\"."
	}
	return "Sorry, I couldn't do that. Send /help to see what I understand."
}

func kindOrTask(k entities.TaskKind) entities.TaskKind {
	if k == "" {
		return entities.TaskKindTask
	}
	return k
}

func joinReply(parts []string, reply string) string {
	if reply != "" {
		parts = append(parts, reply)
	}
	return strings.Join(parts, "\n")
}
