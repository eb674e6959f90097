package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/telemind/core/internal/domain/entities"
)

const dueLayout = "Mon 2 Jan 15:04 MST"

// RenderReminder builds the text delivered when a task comes due.
// Tasks observed more than grace after their due instant are worded as overdue.
func RenderReminder(task *entities.Task, now time.Time, grace time.Duration) string {
	local, ok := task.LocalDue()
	if !ok {
		return "Reminder: " + task.Description
	}

	if task.IsOverdue(now, grace) {
		return fmt.Sprintf("Overdue reminder: %s (was due %s)", task.Description, local.Format(dueLayout))
	}
	return fmt.Sprintf("Reminder: %s (due %s)", task.Description, local.Format("15:04"))
}

// RenderMissed lists failed reminders the owner never received
func RenderMissed(tasks []*entities.Task) string {
	var b strings.Builder
	b.WriteString("I couldn't remind you about these, here's what you missed:")
	for _, t := range tasks {
		b.WriteString("\n- ")
		b.WriteString(t.Description)
		if local, ok := t.LocalDue(); ok {
			b.WriteString(" (due ")
			b.WriteString(local.Format(dueLayout))
			b.WriteString(")")
		}
	}
	return b.String()
}

// RenderTaskList numbers tasks the same way task references are resolved
func RenderTaskList(title string, tasks []*entities.Task) string {
	if len(tasks) == 0 {
		return title + ": nothing here yet."
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString(":")
	for i, t := range tasks {
		fmt.Fprintf(&b, "\n%d. %s", i+1, t.Description)
		if t.Priority != "" && t.Priority != entities.PriorityMedium {
			fmt.Fprintf(&b, " (%s priority)", t.Priority)
		}
		if local, ok := t.LocalDue(); ok {
			b.WriteString(" (")
			b.WriteString(local.Format(dueLayout))
			b.WriteString(")")
		}
		if t.State != entities.TaskStatePending {
			fmt.Fprintf(&b, " [%s]", t.State)
		}
	}
	return b.String()
}

// RenderFiles lists stored files grouped by category. A non-empty only keeps a single category.
func RenderFiles(files []entities.Attachment, only entities.FileCategory) string {
	groups := make(map[entities.FileCategory][]entities.Attachment)
	for _, f := range files {
		c := f.Category()
		if only != "" && c != only {
			continue
		}
		groups[c] = append(groups[c], f)
	}
	if len(groups) == 0 {
		if only != "" {
			return fmt.Sprintf("📭 You don't have any %s yet.", categoryTitle(only, false))
		}
		return "📭 You don't have any files yet."
	}

	var b strings.Builder
	b.WriteString("🗂 Your files:")
	for _, c := range entities.FileCategories {
		group := groups[c]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n\n%s %s", categoryEmoji(c), categoryTitle(c, true))
		for i, f := range group {
			fmt.Fprintf(&b, "\n%d. %s (%s)", i+1, f.FileName, f.ReceivedAt.UTC().Format("2 Jan 2006"))
		}
	}
	return b.String()
}

func categoryTitle(c entities.FileCategory, heading bool) string {
	var title string
	switch c {
	case entities.FilePDF:
		return "PDFs"
	case entities.FileImage:
		title = "Images"
	case entities.FileDocument:
		title = "Documents"
	default:
		title = "Other files"
	}
	if !heading {
		title = strings.ToLower(title)
	}
	return title
}

func categoryEmoji(c entities.FileCategory) string {
	switch c {
	case entities.FileImage:
		return "🖼"
	case entities.FilePDF, entities.FileDocument:
		return "📄"
	}
	return "📁"
}
