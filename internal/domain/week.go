package domain

import (
	"fmt"
	"time"
)

// WeekWindow is one ISO week in the reference timezone: [Start, End).
type WeekWindow struct {
	Key   string    `json:"key"` // "2026-W41"
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w WeekWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Previous returns the week before w.
func (w WeekWindow) Previous() WeekWindow {
	return WeekOf(w.Start.AddDate(0, 0, -1), w.Start.Location())
}

// WeekOf returns the ISO week containing t, with boundaries at
// Monday 00:00 in loc regardless of t's own location.
func WeekOf(t time.Time, loc *time.Location) WeekWindow {
	local := t.In(loc)
	sinceMonday := (int(local.Weekday()) + 6) % 7
	start := time.Date(local.Year(), local.Month(), local.Day()-sinceMonday, 0, 0, 0, 0, loc)
	return WeekWindow{
		Key:   weekKey(start),
		Start: start,
		End:   start.AddDate(0, 0, 7),
	}
}

// ParseWeek parses "YYYY-Www" into a window in loc.
func ParseWeek(key string, loc *time.Location) (WeekWindow, error) {
	var year, week int
	if _, err := fmt.Sscanf(key, "%d-W%d", &year, &week); err != nil {
		return WeekWindow{}, fmt.Errorf("%w: week %q: %v", ErrValidation, key, err)
	}
	if week < 1 || week > 53 {
		return WeekWindow{}, fmt.Errorf("%w: week %q out of range", ErrValidation, key)
	}

	// January 4th is always in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	week1 := jan4.AddDate(0, 0, -((int(jan4.Weekday()) + 6) % 7))
	w := WeekOf(week1.AddDate(0, 0, (week-1)*7), loc)
	if w.Key != key {
		return WeekWindow{}, fmt.Errorf("%w: week %q does not exist", ErrValidation, key)
	}
	return w, nil
}

func weekKey(monday time.Time) string {
	year, week := monday.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
