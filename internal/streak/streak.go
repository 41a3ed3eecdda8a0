// Package streak derives progress figures from a habit's entry history.
// Everything here is a pure function over an already loaded habit; "today"
// is always passed in, so results do not depend on the wall clock.
package streak

import (
	"time"

	"github.com/iliyamo/habit-tracker/internal/model"
)

// MaxLookback bounds how many days CurrentStreak walks backward.
const MaxLookback = 365

// ConsistencyWindow is the window used by Summarize.
const ConsistencyWindow = 30

// Stats is the summary served by the stats endpoint.
type Stats struct {
	DoneToday      bool    `json:"doneToday"`
	CurrentStreak  int     `json:"currentStreak"`
	LongestStreak  int     `json:"longestStreak"`
	Consistency30d float64 `json:"consistency30d"`
}

// IsDoneOn reports whether the habit has a done entry on day's calendar date.
func IsDoneOn(h model.Habit, day time.Time) bool {
	return statusByDate(h)[dateKey(day)] == model.StatusDone
}

// CurrentStreak counts consecutive done days ending today.  A failed entry
// today resets the streak; no entry today does not, and counting then starts
// from yesterday.
func CurrentStreak(h model.Habit, today time.Time) int {
	byDate := statusByDate(h)
	day := civil(today)
	switch byDate[dateKey(day)] {
	case model.StatusFailed:
		return 0
	case "":
		day = day.AddDate(0, 0, -1)
	}
	n := 0
	for n < MaxLookback && byDate[dateKey(day)] == model.StatusDone {
		n++
		day = day.AddDate(0, 0, -1)
	}
	return n
}

// LongestStreak returns the longest run of consecutive done days anywhere
// in the history.
func LongestStreak(h model.Habit) int {
	byDate := statusByDate(h)
	best := 0
	for d, st := range byDate {
		if st != model.StatusDone {
			continue
		}
		day, err := model.ParseDate(d)
		if err != nil {
			continue
		}
		// only start counting at the first day of a run
		if byDate[dateKey(day.AddDate(0, 0, -1))] == model.StatusDone {
			continue
		}
		run := 0
		for byDate[dateKey(day)] == model.StatusDone {
			run++
			day = day.AddDate(0, 0, 1)
		}
		best = max(best, run)
	}
	return best
}

// Consistency returns the share of the last window days, today included,
// that have a done entry.  A non-positive window yields 0.
func Consistency(h model.Habit, today time.Time, window int) float64 {
	if window <= 0 {
		return 0
	}
	byDate := statusByDate(h)
	day := civil(today)
	done := 0
	for range window {
		if byDate[dateKey(day)] == model.StatusDone {
			done++
		}
		day = day.AddDate(0, 0, -1)
	}
	return float64(done) / float64(window)
}

// Summarize computes every figure of Stats in one call.
func Summarize(h model.Habit, today time.Time) Stats {
	return Stats{
		DoneToday:      IsDoneOn(h, today),
		CurrentStreak:  CurrentStreak(h, today),
		LongestStreak:  LongestStreak(h),
		Consistency30d: Consistency(h, today, ConsistencyWindow),
	}
}

func statusByDate(h model.Habit) map[string]model.EntryStatus {
	m := make(map[string]model.EntryStatus, len(h.Entries))
	for _, e := range h.Entries {
		m[e.Date] = e.Status
	}
	return m
}

// civil drops the clock and zone of t, keeping the calendar date as seen in
// t's own location.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dateKey(t time.Time) string { return civil(t).Format(model.DateLayout) }
