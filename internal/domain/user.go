package domain

import "time"

// DefaultTimezone is stored when onboarding does not supply a timezone.
const DefaultTimezone = "UTC"

// User represents a tracked sobriety timeline stored in the ledger.
type User struct {
	// ID is the ledger record key.
	ID int64
	// ExternalID is the Telegram user identifier; unique per record.
	ExternalID int64
	// StartDate is day 1, snapshotted at write time and never recomputed.
	StartDate time.Time
	DayCount  int
	// Timezone is informational only.
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a milestone text authored for a given day.
type Message struct {
	ID   int64
	Day  int
	Body string
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartDateFor returns the day-1 date of a timeline that is on day dayCount at today.
func StartDateFor(today time.Time, dayCount int) time.Time {
	return DateOnly(today).AddDate(0, 0, -(dayCount - 1))
}
