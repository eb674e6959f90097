package services

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/telemind/core/internal/domain/entities"
)

// Resolution failures. They become the Reason of an entities.UnresolvedError.
var (
	errEmptyPhrase  = errors.New("empty time expression")
	errNotATime     = errors.New("unrecognized time expression")
	errPastInstant  = errors.New("resolves to a time that is not in the future")
	errZeroOffset   = errors.New("offset must be positive")
	errLongOffset   = errors.New("offset is too far in the future")
	errInvalidDate  = errors.New("invalid calendar date")
	errInvalidClock = errors.New("invalid time of day")
)

const maxPhraseWords = 7

// offsets beyond roughly a century are rejected before the duration math can overflow
const maxOffsetDays = 100 * 365

var (
	reISODateTime = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})(?:t|\s+)(\d{1,2}):(\d{2})(?::\d{2})?$`)
	reISODate     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	reOffset      = regexp.MustCompile(`^in\s+(\d+|an?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fifteen|twenty|thirty|forty five|ninety)\s+(minutes?|mins?|hours?|hrs?|days?|weeks?)$`)
	reHalfHour    = regexp.MustCompile(`^in\s+(?:half\s+an|a\s+half)\s+hour$`)
	reClock12     = regexp.MustCompile(`(?:^|\s)(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)(?:\s|$)`)
	reClock24     = regexp.MustCompile(`(?:^|\s)(?:at\s+)?(\d{1,2}):(\d{2})(?:\s|$)`)
	reClockNamed  = regexp.MustCompile(`(?:^|\s)(?:at\s+)?(noon|midday|midnight)(?:\s|$)`)
	reClockHour   = regexp.MustCompile(`(?:^|\s)at\s+(\d{1,2})(?:\s|$)`)
	reWeekday     = regexp.MustCompile(`^(?:(this|next|coming)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tues|tue|wed|thurs|thu|fri|sat|sun)(?:\s+(morning|afternoon|evening|night))?$`)
	reTomorrow    = regexp.MustCompile(`^(?:the\s+)?(tomorrow|day after tomorrow)(?:\s+(morning|afternoon|evening|night))?$`)
	reToday       = regexp.MustCompile(`^(?:today|this)(?:\s+(morning|afternoon|evening))?$|^(morning|afternoon|evening)$`)
	reMonthDay    = regexp.MustCompile(`^(?:the\s+)?(` + monthPattern + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?$`)
	reDayMonth    = regexp.MustCompile(`^(?:the\s+)?(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthPattern + `)\.?(?:,?\s+(\d{4}))?$`)
)

const monthPattern = `january|february|march|april|may|june|july|august|september|october|november|december|sept|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec`

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"fifteen": 15, "twenty": 20, "thirty": 30, "forty five": 45, "ninety": 90,
}

// default hour for day periods; tonight shares "night" semantics but starts earlier
var periodHours = map[string]int{
	"morning":   9,
	"afternoon": 15,
	"evening":   19,
	"tonight":   20,
	"night":     21,
}

// rollKind says how a candidate instant that is not after the reference moves forward
type rollKind int

const (
	rollNone rollKind = iota
	rollDay
	rollWeek
	rollYear
)

type dayRef struct {
	date        time.Time
	roll        rollKind
	defaultHour int
	afternoon   bool
	absolute    bool
	implicit    bool
}

type clock struct {
	hour     int
	minute   int
	hourOnly bool
}

// TimeResolver converts natural-language time phrases into absolute due instants.
// It has no state beyond its defaults and never reads the wall clock.
type TimeResolver struct {
	defaultHour int
}

// NewTimeResolver creates a resolver whose date-only phrases land at 09:00 local time
func NewTimeResolver() *TimeResolver {
	return &TimeResolver{defaultHour: 9}
}

// Resolve converts phrase into a due instant strictly after ref, interpreted in tz.
// Failures are returned as *entities.UnresolvedError.
func (r *TimeResolver) Resolve(phrase string, ref time.Time, tz string) (*entities.DueSpec, error) {
	loc, err := loadZone(tz)
	if err != nil {
		return nil, &entities.UnresolvedError{Phrase: phrase, Reason: "unknown timezone"}
	}

	at, relative, err := r.parse(normalizePhrase(phrase), ref.In(loc))
	if err != nil {
		return nil, &entities.UnresolvedError{Phrase: phrase, Reason: err.Error()}
	}

	return &entities.DueSpec{
		DueAt:    at.UTC(),
		Timezone: loc.String(),
		Phrase:   strings.TrimSpace(phrase),
		Relative: relative,
	}, nil
}

// Split looks for the longest time expression inside free text.
// It returns the text without that expression and the resolved spec. When the
// text carries no time expression, phrase is empty and spec is nil. A
// recognizable expression that cannot be resolved (a past date, an impossible
// clock) is reported as an error rather than ignored.
func (r *TimeResolver) Split(text string, ref time.Time, tz string) (description, phrase string, spec *entities.DueSpec, err error) {
	loc, lerr := loadZone(tz)
	if lerr != nil {
		return strings.TrimSpace(text), "", nil, &entities.UnresolvedError{Phrase: tz, Reason: "unknown timezone"}
	}
	local := ref.In(loc)

	words := strings.Fields(text)
	for size := min(maxPhraseWords, len(words)); size > 0; size-- {
		for start := len(words) - size; start >= 0; start-- {
			candidate := strings.Join(words[start:start+size], " ")
			at, relative, perr := r.parse(normalizePhrase(candidate), local)
			if errors.Is(perr, errNotATime) || errors.Is(perr, errEmptyPhrase) {
				continue
			}

			rest := append(append([]string{}, words[:start]...), words[start+size:]...)
			description = cleanDescription(rest)
			phrase = strings.Trim(candidate, ",.!?;")
			if perr != nil {
				return description, phrase, nil, &entities.UnresolvedError{Phrase: phrase, Reason: perr.Error()}
			}
			return description, phrase, &entities.DueSpec{
				DueAt:    at.UTC(),
				Timezone: loc.String(),
				Phrase:   phrase,
				Relative: relative,
			}, nil
		}
	}

	return cleanDescription(words), "", nil, nil
}

func (r *TimeResolver) parse(s string, now time.Time) (time.Time, bool, error) {
	if s == "" {
		return time.Time{}, false, errEmptyPhrase
	}
	loc := now.Location()

	if m := reISODateTime.FindStringSubmatch(s); m != nil {
		t, err := buildDate(m[1], m[2], m[3], loc)
		if err != nil {
			return time.Time{}, false, err
		}
		h, _ := strconv.Atoi(m[4])
		mm, _ := strconv.Atoi(m[5])
		if h > 23 || mm > 59 {
			return time.Time{}, false, errInvalidClock
		}
		t = time.Date(t.Year(), t.Month(), t.Day(), h, mm, 0, 0, loc)
		if !t.After(now) {
			return time.Time{}, false, errPastInstant
		}
		return t, false, nil
	}

	if t, ok, err := parseOffset(s, now); ok {
		return t, true, err
	}

	tod, rest, hasClock, err := extractClock(s)
	if err != nil {
		return time.Time{}, false, err
	}

	day, err := r.parseDay(rest, now)
	if err != nil {
		return time.Time{}, false, err
	}

	if !hasClock {
		if day.implicit {
			return time.Time{}, false, errNotATime
		}
		tod = clock{hour: day.defaultHour}
	} else if tod.hourOnly && tod.hour >= 1 && tod.hour < 12 && (day.afternoon || tod.hour <= 7) {
		// "at 5" means 17:00; nobody schedules 5am without saying so
		tod.hour += 12
	}

	t := time.Date(day.date.Year(), day.date.Month(), day.date.Day(), tod.hour, tod.minute, 0, 0, loc)
	if !t.After(now) {
		switch day.roll {
		case rollDay:
			t = t.AddDate(0, 0, 1)
		case rollWeek:
			t = t.AddDate(0, 0, 7)
		case rollYear:
			t = t.AddDate(1, 0, 0)
		}
	}
	if !t.After(now) {
		return time.Time{}, false, errPastInstant
	}

	return t, !day.absolute, nil
}

// parseOffset handles "in N units" and "in half an hour"
func parseOffset(s string, now time.Time) (time.Time, bool, error) {
	if reHalfHour.MatchString(s) {
		return now.Add(30 * time.Minute), true, nil
	}

	m := reOffset.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false, nil
	}

	n, err := strconv.Atoi(m[1])
	switch {
	case errors.Is(err, strconv.ErrRange):
		return time.Time{}, true, errLongOffset
	case err != nil:
		n = numberWords[m[1]]
	}
	if n <= 0 {
		return time.Time{}, true, errZeroOffset
	}

	var at time.Time
	unit := m[2]
	switch {
	case strings.HasPrefix(unit, "min"):
		if n > maxOffsetDays*24*60 {
			return time.Time{}, true, errLongOffset
		}
		at = now.Add(time.Duration(n) * time.Minute)
	case strings.HasPrefix(unit, "h"):
		if n > maxOffsetDays*24 {
			return time.Time{}, true, errLongOffset
		}
		at = now.Add(time.Duration(n) * time.Hour)
	case strings.HasPrefix(unit, "day"):
		if n > maxOffsetDays {
			return time.Time{}, true, errLongOffset
		}
		at = now.AddDate(0, 0, n)
	default:
		if n > maxOffsetDays/7 {
			return time.Time{}, true, errLongOffset
		}
		at = now.AddDate(0, 0, 7*n)
	}
	if !at.After(now) {
		return time.Time{}, true, errPastInstant
	}
	return at, true, nil
}

// extractClock removes a single time-of-day token from s and returns the remainder
func extractClock(s string) (clock, string, bool, error) {
	if loc := reClock12.FindStringSubmatchIndex(s); loc != nil {
		h, _ := strconv.Atoi(s[loc[2]:loc[3]])
		mm := 0
		if loc[4] >= 0 {
			mm, _ = strconv.Atoi(s[loc[4]:loc[5]])
		}
		if h < 1 || h > 12 || mm > 59 {
			return clock{}, "", false, errInvalidClock
		}
		pm := s[loc[6]:loc[7]] == "pm"
		switch {
		case pm && h != 12:
			h += 12
		case !pm && h == 12:
			h = 0
		}
		return clock{hour: h, minute: mm}, cutMatch(s, loc), true, nil
	}

	if loc := reClock24.FindStringSubmatchIndex(s); loc != nil {
		h, _ := strconv.Atoi(s[loc[2]:loc[3]])
		mm, _ := strconv.Atoi(s[loc[4]:loc[5]])
		if h > 23 || mm > 59 {
			return clock{}, "", false, errInvalidClock
		}
		return clock{hour: h, minute: mm}, cutMatch(s, loc), true, nil
	}

	if loc := reClockNamed.FindStringSubmatchIndex(s); loc != nil {
		c := clock{hour: 12}
		if s[loc[2]:loc[3]] == "midnight" {
			c.hour = 0
		}
		return c, cutMatch(s, loc), true, nil
	}

	if loc := reClockHour.FindStringSubmatchIndex(s); loc != nil {
		h, _ := strconv.Atoi(s[loc[2]:loc[3]])
		if h > 23 {
			return clock{}, "", false, errInvalidClock
		}
		return clock{hour: h, hourOnly: true}, cutMatch(s, loc), true, nil
	}

	return clock{}, s, false, nil
}

func (r *TimeResolver) parseDay(s string, now time.Time) (dayRef, error) {
	s = trimConnectors(s)
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	if s == "" {
		return dayRef{date: today, roll: rollDay, defaultHour: r.defaultHour, implicit: true}, nil
	}

	if s == "tonight" {
		return dayRef{date: today, defaultHour: periodHours["tonight"], afternoon: true}, nil
	}

	if m := reToday.FindStringSubmatch(s); m != nil {
		period := m[1] + m[2]
		if s == "this" {
			return dayRef{}, errNotATime
		}
		return r.periodDay(today, period), nil
	}

	if m := reTomorrow.FindStringSubmatch(s); m != nil {
		offset := 1
		if m[1] == "day after tomorrow" {
			offset = 2
		}
		return r.periodDay(today.AddDate(0, 0, offset), m[2]), nil
	}

	if s == "next week" {
		return dayRef{date: today.AddDate(0, 0, 7), defaultHour: r.defaultHour}, nil
	}

	if m := reWeekday.FindStringSubmatch(s); m != nil {
		target := weekdays[m[2][:3]]
		ahead := (int(target) - int(now.Weekday()) + 7) % 7
		day := r.periodDay(today.AddDate(0, 0, ahead), m[3])
		if m[1] == "next" {
			if ahead == 0 {
				day.date = today.AddDate(0, 0, 7)
			}
		} else {
			day.roll = rollWeek
		}
		return day, nil
	}

	if m := reISODate.FindStringSubmatch(s); m != nil {
		t, err := buildDate(m[1], m[2], m[3], loc)
		if err != nil {
			return dayRef{}, err
		}
		return dayRef{date: t, defaultHour: r.defaultHour, absolute: true}, nil
	}

	if m := reMonthDay.FindStringSubmatch(s); m != nil {
		return r.calendarDay(m[1], m[2], m[3], now)
	}

	if m := reDayMonth.FindStringSubmatch(s); m != nil {
		return r.calendarDay(m[2], m[1], m[3], now)
	}

	return dayRef{}, errNotATime
}

func (r *TimeResolver) periodDay(date time.Time, period string) dayRef {
	day := dayRef{date: date, defaultHour: r.defaultHour}
	if h, ok := periodHours[period]; ok {
		day.defaultHour = h
		day.afternoon = h >= 12
	}
	return day
}

func (r *TimeResolver) calendarDay(monthName, dayText, yearText string, now time.Time) (dayRef, error) {
	month := months[monthName[:3]]
	d, _ := strconv.Atoi(dayText)

	year := now.Year()
	roll := rollYear
	if yearText != "" {
		year, _ = strconv.Atoi(yearText)
		roll = rollNone
	}

	t := time.Date(year, month, d, 0, 0, 0, 0, now.Location())
	if d < 1 || t.Month() != month {
		return dayRef{}, errInvalidDate
	}
	return dayRef{date: t, roll: roll, defaultHour: r.defaultHour, absolute: true}, nil
}

func buildDate(y, m, d string, loc *time.Location) (time.Time, error) {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, errInvalidDate
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Day() != day {
		return time.Time{}, errInvalidDate
	}
	return t, nil
}

func loadZone(tz string) (*time.Location, error) {
	if strings.TrimSpace(tz) == "" {
		return time.UTC, nil
	}
	if strings.EqualFold(tz, "local") {
		return nil, entities.ErrInvalidTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, entities.ErrInvalidTimezone
	}
	return loc, nil
}

func normalizePhrase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("a.m.", "am", "p.m.", "pm", ",", " ").Replace(s)
	s = strings.Trim(s, ".!?;:")
	return strings.Join(strings.Fields(s), " ")
}

func cutMatch(s string, loc []int) string {
	return strings.TrimSpace(s[:loc[0]] + " " + s[loc[1]:])
}

func trimConnectors(s string) string {
	s = strings.TrimSpace(s)
	for {
		trimmed := s
		for _, p := range []string{"on ", "by ", "at ", "for "} {
			trimmed = strings.TrimPrefix(trimmed, p)
		}
		for _, p := range []string{" at", " on"} {
			trimmed = strings.TrimSuffix(trimmed, p)
		}
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// cleanDescription joins the remaining words and drops connectors left dangling by the cut
func cleanDescription(words []string) string {
	for len(words) > 0 {
		last := strings.ToLower(strings.Trim(words[len(words)-1], ",.!?;:"))
		if last != "at" && last != "on" && last != "by" && last != "in" && last != "" {
			break
		}
		words = words[:len(words)-1]
	}
	return strings.Trim(strings.Join(words, " "), " ,.;:")
}
