package services

import (
	"errors"
	"testing"
	"time"

	"github.com/telemind/core/internal/domain/entities"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts
}

func TestResolve_TomorrowAt3pm(t *testing.T) {
	r := NewTimeResolver()
	ref := mustTime(t, "2024-01-01T10:00:00Z")

	got, err := r.Resolve("tomorrow at 3pm", ref, "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := mustTime(t, "2024-01-02T15:00:00Z")
	if !got.DueAt.Equal(want) {
		t.Errorf("expected %v, got %v", want, got.DueAt)
	}
	if !got.Relative {
		t.Errorf("expected relative phrase")
	}
}

func TestResolve_PassedTimeOfDayRollsToNextDay(t *testing.T) {
	r := NewTimeResolver()
	ref := mustTime(t, "2024-01-01T16:00:00Z")

	got, err := r.Resolve("at 3pm", ref, "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := mustTime(t, "2024-01-02T15:00:00Z")
	if !got.DueAt.Equal(want) {
		t.Errorf("expected %v, got %v", want, got.DueAt)
	}
}

func TestResolve_Table(t *testing.T) {
	r := NewTimeResolver()
	// Wednesday
	ref := mustTime(t, "2024-06-05T10:30:00Z")

	tests := []struct {
		phrase string
		tz     string
		want   string
	}{
		{"in 2 hours", "UTC", "2024-06-05T12:30:00Z"},
		{"in 45 minutes", "UTC", "2024-06-05T11:15:00Z"},
		{"in an hour", "UTC", "2024-06-05T11:30:00Z"},
		{"in half an hour", "UTC", "2024-06-05T11:00:00Z"},
		{"in 3 days", "UTC", "2024-06-08T10:30:00Z"},
		{"in two weeks", "UTC", "2024-06-19T10:30:00Z"},
		{"tomorrow", "UTC", "2024-06-06T09:00:00Z"},
		{"tomorrow morning", "UTC", "2024-06-06T09:00:00Z"},
		{"tomorrow evening", "UTC", "2024-06-06T19:00:00Z"},
		{"tonight", "UTC", "2024-06-05T20:00:00Z"},
		{"tonight at 9", "UTC", "2024-06-05T21:00:00Z"},
		{"today at 17:45", "UTC", "2024-06-05T17:45:00Z"},
		{"at noon", "UTC", "2024-06-05T12:00:00Z"},
		{"midnight", "UTC", "2024-06-06T00:00:00Z"},
		{"3:30 pm", "UTC", "2024-06-05T15:30:00Z"},
		{"9am", "UTC", "2024-06-06T09:00:00Z"},
		{"at 3pm tomorrow", "UTC", "2024-06-06T15:00:00Z"},
		{"friday", "UTC", "2024-06-07T09:00:00Z"},
		{"on friday at 2pm", "UTC", "2024-06-07T14:00:00Z"},
		{"next friday", "UTC", "2024-06-07T09:00:00Z"},
		{"next wednesday", "UTC", "2024-06-12T09:00:00Z"},
		{"wednesday at 8am", "UTC", "2024-06-12T08:00:00Z"},
		{"day after tomorrow", "UTC", "2024-06-07T09:00:00Z"},
		{"2024-06-10", "UTC", "2024-06-10T09:00:00Z"},
		{"2024-06-10 14:15", "UTC", "2024-06-10T14:15:00Z"},
		{"2024-06-10 at 4pm", "UTC", "2024-06-10T16:00:00Z"},
		{"june 20", "UTC", "2024-06-20T09:00:00Z"},
		{"20th of june at 6pm", "UTC", "2024-06-20T18:00:00Z"},
		{"march 3", "UTC", "2025-03-03T09:00:00Z"},
		{"tomorrow at 3pm", "Europe/Berlin", "2024-06-06T13:00:00Z"},
		{"at 8am", "America/New_York", "2024-06-05T12:00:00Z"},
		{"at 6am", "America/New_York", "2024-06-06T10:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.phrase+"_"+tt.tz, func(t *testing.T) {
			got, err := r.Resolve(tt.phrase, ref, tt.tz)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := mustTime(t, tt.want)
			if !got.DueAt.Equal(want) {
				t.Errorf("expected %v, got %v", want, got.DueAt)
			}
			if got.DueAt.Location() != time.UTC {
				t.Errorf("expected UTC instant, got %v", got.DueAt.Location())
			}
			if !got.DueAt.After(ref) {
				t.Errorf("resolved instant %v is not after reference", got.DueAt)
			}
		})
	}
}

func TestResolve_Unresolved(t *testing.T) {
	r := NewTimeResolver()
	ref := mustTime(t, "2024-06-05T10:30:00Z")

	tests := []struct {
		name   string
		phrase string
		tz     string
	}{
		{"empty", "  ", "UTC"},
		{"gibberish", "whenever you feel like it", "UTC"},
		{"past absolute date", "2024-01-01", "UTC"},
		{"past explicit year", "may 1 2024", "UTC"},
		{"today already passed", "today at 9am", "UTC"},
		{"tonight already passed", "this morning", "UTC"},
		{"zero offset", "in 0 minutes", "UTC"},
		{"offset beyond a century", "in 200000000 minutes", "UTC"},
		{"offset overflows int", "in 99999999999999999999 hours", "UTC"},
		{"impossible clock", "at 25:00", "UTC"},
		{"impossible date", "february 30", "UTC"},
		{"unknown timezone", "tomorrow", "Mars/Olympus_Mons"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.phrase, ref, tt.tz)
			if err == nil {
				t.Fatalf("expected unresolved error for %q", tt.phrase)
			}
			if !errors.Is(err, entities.ErrUnresolvedTime) {
				t.Errorf("expected ErrUnresolvedTime, got %v", err)
			}
			var ue *entities.UnresolvedError
			if !errors.As(err, &ue) || ue.Reason == "" {
				t.Errorf("expected UnresolvedError with a reason, got %v", err)
			}
		})
	}
}

func TestResolve_DaylightSavingKeepsWallClock(t *testing.T) {
	r := NewTimeResolver()
	// Saturday before the 2024 US spring-forward
	ref := mustTime(t, "2024-03-09T15:00:00Z")

	got, err := r.Resolve("tomorrow at 9am", ref, "America/New_York")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := mustTime(t, "2024-03-10T13:00:00Z")
	if !got.DueAt.Equal(want) {
		t.Errorf("expected %v, got %v", want, got.DueAt)
	}
}

func TestResolve_NeverInPast(t *testing.T) {
	r := NewTimeResolver()
	phrases := []string{"at 3pm", "9am", "midnight", "noon", "friday", "tomorrow", "june 1", "in 1 minute", "at 10:30"}

	ref := mustTime(t, "2024-06-01T00:00:00Z")
	for i := 0; i < 14*24; i++ {
		at := ref.Add(time.Duration(i) * 37 * time.Minute)
		for _, p := range phrases {
			got, err := r.Resolve(p, at, "Asia/Tokyo")
			if err != nil {
				t.Fatalf("resolve %q at %v: %v", p, at, err)
			}
			if !got.DueAt.After(at) {
				t.Fatalf("resolve %q at %v returned %v", p, at, got.DueAt)
			}
		}
	}

	// large offsets either resolve forward or are refused, never wrap around
	offsets := []string{"in 52560000 minutes", "in 876000 hours", "in 36500 days", "in 5214 weeks",
		"in 200000000 minutes", "in 3000000 hours", "in 9223372036854775807 minutes"}
	for _, p := range offsets {
		got, err := r.Resolve(p, ref, "UTC")
		if err != nil {
			if !errors.Is(err, entities.ErrUnresolvedTime) {
				t.Fatalf("resolve %q: unexpected error %v", p, err)
			}
			continue
		}
		if !got.DueAt.After(ref) {
			t.Fatalf("resolve %q returned %v, not after %v", p, got.DueAt, ref)
		}
	}
	if _, err := r.Resolve("in 3000000 hours", ref, "UTC"); err == nil {
		t.Error("expected a multi-century offset to be refused")
	}
}

func TestSplit(t *testing.T) {
	r := NewTimeResolver()
	ref := mustTime(t, "2024-06-01T09:00:00Z")

	tests := []struct {
		text        string
		description string
		phrase      string
		want        string
	}{
		{"call John tomorrow at 3pm", "call John", "tomorrow at 3pm", "2024-06-02T15:00:00Z"},
		{"pay rent on friday", "pay rent", "on friday", "2024-06-07T09:00:00Z"},
		{"buy 2 eggs in 20 minutes", "buy 2 eggs", "in 20 minutes", "2024-06-01T09:20:00Z"},
		{"at 6pm feed the cat.", "feed the cat", "at 6pm", "2024-06-01T18:00:00Z"},
		{"water the plants", "water the plants", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			desc, phrase, spec, err := r.Split(tt.text, ref, "UTC")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if desc != tt.description {
				t.Errorf("description: expected %q, got %q", tt.description, desc)
			}
			if phrase != tt.phrase {
				t.Errorf("phrase: expected %q, got %q", tt.phrase, phrase)
			}
			if tt.want == "" {
				if spec != nil {
					t.Errorf("expected no due spec, got %v", spec.DueAt)
				}
				return
			}
			if spec == nil || !spec.DueAt.Equal(mustTime(t, tt.want)) {
				t.Errorf("expected due %s, got %+v", tt.want, spec)
			}
		})
	}
}

func TestSplit_ReportsPastExpression(t *testing.T) {
	r := NewTimeResolver()
	ref := mustTime(t, "2024-06-01T10:00:00Z")

	desc, phrase, spec, err := r.Split("call mom today at 9am", ref, "UTC")
	if !errors.Is(err, entities.ErrUnresolvedTime) {
		t.Fatalf("expected ErrUnresolvedTime, got %v", err)
	}
	if spec != nil {
		t.Errorf("expected no spec, got %+v", spec)
	}
	if phrase != "today at 9am" || desc != "call mom" {
		t.Errorf("unexpected split %q / %q", desc, phrase)
	}
}
