package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/logger"
	"github.com/telemind/core/internal/ports"
)

// ResolverContext carries what the time resolver needs besides the phrase
type ResolverContext struct {
	Reference time.Time
	Timezone  string
}

const refPattern = `#?(\d+|[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`

var (
	reListTasks   = regexp.MustCompile(`(?i)^(?:/tasks|(?:show|list|what are|what're|see)(?: me)?(?: all)? my (?:tasks|reminders|todos?)|my (?:tasks|reminders))\??$`)
	reListNotes   = regexp.MustCompile(`(?i)^(?:/notes|(?:show|list|see)(?: me)?(?: all)? my notes|my notes)\??$`)
	reAck         = regexp.MustCompile(`(?i)^(?:/ack(?:\s+` + refPattern + `)?|got it|ok,? got it|acknowledged|seen it|noted|thanks,? got it)[.!]?$`)
	reCancel      = regexp.MustCompile(`(?i)^/?(?:cancel|delete|remove|drop)\s+(?:the\s+)?(task|reminder|note)?\s*` + refPattern + `[.!]?$`)
	reDone        = regexp.MustCompile(`(?i)^/?(?:done|complete|completed|finish|finished|mark)\s+(?:the\s+)?(task|reminder|note)?\s*` + refPattern + `(?:\s+(?:as\s+)?done)?[.!]?$`)
	reDoneSuffix  = regexp.MustCompile(`(?i)^(task|reminder|note)?\s*` + refPattern + `\s+(?:is\s+)?(?:done|completed|finished)[.!]?$`)
	reEdit        = regexp.MustCompile(`(?i)^(move|reschedule|postpone|push|change|update|edit|rename)\s+(?:the\s+)?(task|reminder|note)?\s*` + refPattern + `\s+(?:to|until|for|as)\s+(.+)$`)
	reRemindAbout = regexp.MustCompile(`(?i)^remind me (?:about|of)\s+(?:the\s+)?(task|reminder|note)\s*` + refPattern + `\s+(.+)$`)
	reReminder    = regexp.MustCompile(`(?i)^(?:please\s+)?(?:remind me|set a reminder|reminder|remember)\s*(?:to|about|that|of)?\s*[:,-]?\s+(.+)$`)
	reAddTask     = regexp.MustCompile(`(?i)^(?:please\s+)?(?:add|new|create)\s+(?:a\s+|an\s+)?(?:(high|low|medium|normal|urgent|important)(?:[- ]priority)?\s+)?(?:task|todo|to-do|reminder)\s*[:,-]?\s*(.+)$|^(?:todo|task)\s*:\s*(.+)$`)
	reSetPriority = regexp.MustCompile(`(?i)^(?:make|set|mark|change|update)\s+(?:the\s+)?(task|reminder|note)?\s*` + refPattern + `\s+(?:as\s+|to\s+)?(?:a\s+)?((?:high|low|medium|normal)[- ]priority|urgent|important)[.!]?$`)
	rePriority    = regexp.MustCompile(`(?i)[,;]?\s*(?:(?:with|as|at)\s+)?(?:a\s+)?\b(high|low|medium|normal)[- ]priority\b`)
	reUrgent      = regexp.MustCompile(`(?i)^(urgent|important|asap)\s*[:!,-]\s*`)
	reNote        = regexp.MustCompile(`(?i)^(?:save (?:this |a )?note|add (?:a )?note|new note|note)\s*[:,-]\s*(.+)$|^(?:save this note|note)\s+(.+)$`)
	reRemember    = regexp.MustCompile(`(?i)^remember (?:that\s+)?(.+)$`)
)

const intentSystemPrompt = `You turn chat messages into commands for a personal task assistant.
Answer with a single JSON object and nothing else:
{"intent": one of "create_task", "create_note", "edit_task", "cancel_task", "complete_task", "acknowledge_task", "list_tasks", "list_notes", "not_a_task",
 "description": the task or note text without any time words,
 "time_phrase": the time expression exactly as the user wrote it, or "",
 "task_ref": the task number or id the user refers to, or "",
 "kind": "task" or "note",
 "priority": "low", "medium" or "high" only when the user states one, otherwise "",
 "confidence": a number between 0 and 1}
Never convert times yourself. Use "not_a_task" for questions, greetings and general conversation.`

// modelIntent is the JSON shape the language model answers with
type modelIntent struct {
	Intent      string  `json:"intent"`
	Description string  `json:"description"`
	TimePhrase  string  `json:"time_phrase"`
	TaskRef     string  `json:"task_ref"`
	Kind        string  `json:"kind"`
	Priority    string  `json:"priority"`
	Confidence  float64 `json:"confidence"`
}

// IntentExtractor turns an utterance into a structured intent.
// Deterministic rules run first; the language model only fills slots for what they miss,
// and every time phrase goes through the TimeResolver.
type IntentExtractor struct {
	resolver      *TimeResolver
	model         ports.LanguageModel
	minConfidence float64
	logger        *logger.Logger
}

// NewIntentExtractor creates an extractor. model may be nil.
func NewIntentExtractor(resolver *TimeResolver, model ports.LanguageModel, minConfidence float64, logger *logger.Logger) *IntentExtractor {
	return &IntentExtractor{
		resolver:      resolver,
		model:         model,
		minConfidence: minConfidence,
		logger:        logger.WithComponent("intent"),
	}
}

// Extract classifies utterance. An unresolvable time phrase is returned as an error
// wrapping entities.ErrUnresolvedTime; the caller reports it and creates nothing.
func (e *IntentExtractor) Extract(ctx context.Context, utterance string, window []*entities.Turn, rc ResolverContext) (*entities.Intent, error) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return entities.NotATask(utterance), nil
	}

	intent, matched, err := e.applyRules(text, rc)
	if err != nil || matched {
		return intent, err
	}

	if e.model == nil {
		return entities.NotATask(text), nil
	}
	return e.askModel(ctx, text, window, rc)
}

func (e *IntentExtractor) applyRules(text string, rc ResolverContext) (*entities.Intent, bool, error) {
	base := entities.Intent{Source: text, Kind: entities.TaskKindTask}

	switch {
	case reListTasks.MatchString(text):
		base.Type = entities.IntentListTasks
		return &base, true, nil

	case reListNotes.MatchString(text):
		base.Type = entities.IntentListNotes
		base.Kind = entities.TaskKindNote
		return &base, true, nil
	}

	if m := reAck.FindStringSubmatch(text); m != nil {
		base.Type = entities.IntentAcknowledgeTask
		base.TaskRef = m[1]
		return &base, true, nil
	}

	if m := reCancel.FindStringSubmatch(text); m != nil {
		base.Type = entities.IntentCancelTask
		base.Kind = kindOf(m[1])
		base.TaskRef = m[2]
		return &base, true, nil
	}

	if m := reDone.FindStringSubmatch(text); m != nil {
		base.Type = entities.IntentCompleteTask
		base.Kind = kindOf(m[1])
		base.TaskRef = m[2]
		return &base, true, nil
	}

	if m := reDoneSuffix.FindStringSubmatch(text); m != nil {
		base.Type = entities.IntentCompleteTask
		base.Kind = kindOf(m[1])
		base.TaskRef = m[2]
		return &base, true, nil
	}

	if m := reRemindAbout.FindStringSubmatch(text); m != nil {
		due, err := e.resolver.Resolve(m[3], rc.Reference, rc.Timezone)
		if err != nil {
			return nil, true, err
		}
		base.Type = entities.IntentEditTask
		base.Kind = kindOf(m[1])
		base.TaskRef = m[2]
		base.Changes = entities.TaskChanges{Due: due}
		return &base, true, nil
	}

	if m := reSetPriority.FindStringSubmatch(text); m != nil {
		if p, ok := priorityOf(m[3]); ok {
			base.Type = entities.IntentEditTask
			base.Kind = kindOf(m[1])
			base.TaskRef = m[2]
			base.Changes = entities.TaskChanges{Priority: &p}
			return &base, true, nil
		}
	}

	if m := reEdit.FindStringSubmatch(text); m != nil {
		return e.editIntent(base, m, rc)
	}

	// "remember that ..." is a note, "remember to ..." a reminder
	if m := reRemember.FindStringSubmatch(text); m != nil && !strings.HasPrefix(strings.ToLower(m[1]), "to ") {
		base.Type = entities.IntentCreateNote
		base.Kind = entities.TaskKindNote
		base.Description = strings.TrimSpace(m[1])
		return &base, true, nil
	}

	if m := reReminder.FindStringSubmatch(text); m != nil {
		return e.createIntent(base, m[1], rc)
	}

	if m := reAddTask.FindStringSubmatch(text); m != nil {
		base.Priority, _ = priorityOf(m[1])
		return e.createIntent(base, m[2]+m[3], rc)
	}

	if m := reNote.FindStringSubmatch(text); m != nil {
		base.Type = entities.IntentCreateNote
		base.Kind = entities.TaskKindNote
		base.Description = strings.TrimSpace(m[1] + m[2])
		return &base, true, nil
	}

	return nil, false, nil
}

func (e *IntentExtractor) createIntent(base entities.Intent, body string, rc ResolverContext) (*entities.Intent, bool, error) {
	if p, rest := splitPriority(body); p != "" {
		base.Priority, body = p, rest
	}

	description, _, due, err := e.resolver.Split(body, rc.Reference, rc.Timezone)
	if err != nil {
		return nil, true, err
	}
	// "remind me tomorrow at 9 to call mom"
	if len(description) > 3 && strings.EqualFold(description[:3], "to ") {
		description = strings.TrimSpace(description[3:])
	}
	if description == "" {
		return nil, true, entities.ErrEmptyDescription
	}

	base.Type = entities.IntentCreateTask
	base.Description = description
	base.Due = due
	return &base, true, nil
}

func (e *IntentExtractor) editIntent(base entities.Intent, m []string, rc ResolverContext) (*entities.Intent, bool, error) {
	verb := strings.ToLower(m[1])
	base.Type = entities.IntentEditTask
	base.Kind = kindOf(m[2])
	base.TaskRef = m[3]
	value := strings.Trim(strings.TrimSpace(m[4]), `"'`)

	if verb == "rename" {
		base.Changes.Description = &value
		return &base, true, nil
	}

	due, err := e.resolver.Resolve(value, rc.Reference, rc.Timezone)
	if err == nil {
		base.Changes.Due = due
		return &base, true, nil
	}

	switch verb {
	case "move", "reschedule", "postpone", "push":
		return nil, true, err
	}
	base.Changes.Description = &value
	return &base, true, nil
}

func (e *IntentExtractor) askModel(ctx context.Context, text string, window []*entities.Turn, rc ResolverContext) (*entities.Intent, error) {
	raw, err := e.model.Complete(ctx, ports.CompletionRequest{
		System:    intentSystemPrompt,
		History:   window,
		Prompt:    fmt.Sprintf("Current time: %s (%s)\nMessage: %s", rc.Reference.Format(time.RFC3339), rc.Timezone, text),
		JSON:      true,
		MaxTokens: 256,
	})
	if err != nil {
		e.logger.Debugw("Intent model unavailable, treating as conversation", "error", err)
		return entities.NotATask(text), nil
	}

	parsed, err := parseModelIntent(raw)
	if err != nil {
		e.logger.Warnw("Malformed intent from model", "error", err)
		return entities.NotATask(text), nil
	}
	if parsed.Confidence < e.minConfidence {
		return entities.NotATask(text), nil
	}

	intent := &entities.Intent{Source: text, Kind: kindOf(parsed.Kind), TaskRef: strings.TrimPrefix(parsed.TaskRef, "#")}
	switch entities.IntentType(normalizeIntentName(parsed.Intent)) {
	case entities.IntentCreateTask:
		description, due, err := e.resolveSlots(parsed.Description, parsed.TimePhrase, rc)
		if err != nil {
			return nil, err
		}
		if description == "" {
			return entities.NotATask(text), nil
		}
		intent.Type = entities.IntentCreateTask
		intent.Kind = entities.TaskKindTask
		intent.Description = description
		intent.Due = due
		intent.Priority, _ = entities.ParsePriority(parsed.Priority)

	case entities.IntentCreateNote:
		if strings.TrimSpace(parsed.Description) == "" {
			return entities.NotATask(text), nil
		}
		intent.Type = entities.IntentCreateNote
		intent.Kind = entities.TaskKindNote
		intent.Description = strings.TrimSpace(parsed.Description)
		intent.Priority, _ = entities.ParsePriority(parsed.Priority)

	case entities.IntentEditTask:
		if intent.TaskRef == "" {
			return entities.NotATask(text), nil
		}
		intent.Type = entities.IntentEditTask
		if parsed.TimePhrase != "" {
			due, err := e.resolver.Resolve(parsed.TimePhrase, rc.Reference, rc.Timezone)
			if err != nil {
				return nil, err
			}
			intent.Changes.Due = due
		}
		if d := strings.TrimSpace(parsed.Description); d != "" {
			intent.Changes.Description = &d
		}
		if p, ok := entities.ParsePriority(parsed.Priority); ok {
			intent.Changes.Priority = &p
		}
		if intent.Changes.IsEmpty() {
			return entities.NotATask(text), nil
		}

	case entities.IntentCancelTask, entities.IntentCompleteTask:
		if intent.TaskRef == "" {
			return entities.NotATask(text), nil
		}
		intent.Type = entities.IntentType(normalizeIntentName(parsed.Intent))

	case entities.IntentAcknowledgeTask, entities.IntentListTasks:
		intent.Type = entities.IntentType(normalizeIntentName(parsed.Intent))

	case entities.IntentListNotes:
		intent.Type = entities.IntentListNotes
		intent.Kind = entities.TaskKindNote

	default:
		return entities.NotATask(text), nil
	}

	return intent, nil
}

// resolveSlots hands the model's phrase to the resolver. Without a phrase the
// description is searched for an embedded time expression instead.
func (e *IntentExtractor) resolveSlots(description, phrase string, rc ResolverContext) (string, *entities.DueSpec, error) {
	description = strings.TrimSpace(description)
	if phrase != "" {
		due, err := e.resolver.Resolve(phrase, rc.Reference, rc.Timezone)
		if err != nil {
			return "", nil, err
		}
		return description, due, nil
	}

	rest, _, due, err := e.resolver.Split(description, rc.Reference, rc.Timezone)
	if err != nil {
		return "", nil, err
	}
	return rest, due, nil
}

func parseModelIntent(raw string) (*modelIntent, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, errors.New("no JSON object in model output")
	}

	var out modelIntent
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("failed to decode model intent: %w", err)
	}
	return &out, nil
}

// normalizeIntentName also accepts the legacy names of the first bot version
func normalizeIntentName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "task_create":
		return string(entities.IntentCreateTask)
	case "note_create":
		return string(entities.IntentCreateNote)
	case "general_chat", "":
		return string(entities.IntentNotATask)
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// splitPriority removes a stated priority ("urgent: ...", "..., high priority") from a task body
func splitPriority(body string) (entities.TaskPriority, string) {
	if loc := reUrgent.FindStringIndex(body); loc != nil {
		return entities.PriorityHigh, strings.TrimSpace(body[loc[1]:])
	}
	if loc := rePriority.FindStringSubmatchIndex(body); loc != nil {
		if p, ok := entities.ParsePriority(body[loc[2]:loc[3]]); ok {
			rest := strings.TrimSpace(body[:loc[0]] + " " + body[loc[1]:])
			return p, strings.Join(strings.Fields(rest), " ")
		}
	}
	return "", body
}

// priorityOf reads "high", "high priority" or "urgent"
func priorityOf(phrase string) (entities.TaskPriority, bool) {
	words := strings.FieldsFunc(phrase, func(r rune) bool { return r == ' ' || r == '-' })
	if len(words) == 0 {
		return "", false
	}
	return entities.ParsePriority(words[0])
}

func kindOf(word string) entities.TaskKind {
	if strings.EqualFold(word, "note") {
		return entities.TaskKindNote
	}
	return entities.TaskKindTask
}
