package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for entry keys and payloads.
const DateLayout = "2006-01-02"

// HabitKind distinguishes habits the user wants to build from habits the
// user wants to break.
type HabitKind string

const (
	KindPositive HabitKind = "positive"
	KindNegative HabitKind = "negative"
)

// ParseHabitKind normalizes a client supplied kind.  An empty value
// defaults to positive.
func ParseHabitKind(s string) (HabitKind, bool) {
	switch HabitKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindPositive:
		return KindPositive, true
	case KindNegative:
		return KindNegative, true
	}
	return "", false
}

// EntryStatus is the recorded outcome of a single day.
type EntryStatus string

const (
	StatusDone   EntryStatus = "done"
	StatusFailed EntryStatus = "failed"
)

// ParseEntryStatus accepts done or failed (case-insensitive).
func ParseEntryStatus(s string) (EntryStatus, bool) {
	switch EntryStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusDone:
		return StatusDone, true
	case StatusFailed:
		return StatusFailed, true
	}
	return "", false
}

// Habit is a tracked behaviour owned by one account.  Entries is populated
// by the repository when habits are listed or fetched; it is never stored
// inside the habit record itself.
type Habit struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"userId"`
	Name      string    `json:"name"`
	Kind      HabitKind `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	Entries   []Entry   `json:"entries"`
}

// Validate checks a decoded habit record.  Records written before the kind
// field existed carry an empty kind and are upgraded to positive.
func (h *Habit) Validate() error {
	switch {
	case h.ID == "":
		return errField("habit", "id")
	case h.OwnerID == "":
		return errField("habit", "userId")
	case strings.TrimSpace(h.Name) == "":
		return errField("habit", "name")
	}
	kind, ok := ParseHabitKind(string(h.Kind))
	if !ok {
		return fmt.Errorf("habit record: unknown type %q", h.Kind)
	}
	h.Kind = kind
	return nil
}

// Entry is one day's outcome for a habit.  Date uses DateLayout and acts as
// the natural key together with HabitID.
type Entry struct {
	HabitID string      `json:"habitId"`
	Date    string      `json:"date"`
	Status  EntryStatus `json:"status"`
}

// Validate checks a decoded entry record.
func (e Entry) Validate() error {
	if e.HabitID == "" {
		return errField("entry", "habitId")
	}
	if _, err := time.Parse(DateLayout, e.Date); err != nil {
		return fmt.Errorf("entry record: invalid date %q", e.Date)
	}
	if _, ok := ParseEntryStatus(string(e.Status)); !ok {
		return fmt.Errorf("entry record: invalid status %q", e.Status)
	}
	return nil
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

func errField(record, field string) error {
	return fmt.Errorf("%s record: missing %s", record, field)
}
