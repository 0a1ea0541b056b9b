package calendar

import (
	"time"

	calendar "google.golang.org/api/calendar/v3"
)

// CalendarRef identifies one calendar in the user's list.
type CalendarRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Primary bool   `json:"primary"`
}

// EventRecord is a simplified calendar event. Start and End carry either a
// date-time with explicit offset or a bare date for all-day events, exactly
// as the provider returns them.
type EventRecord struct {
	ID         string `json:"event_id"`
	Title      string `json:"title"`
	Start      string `json:"start"`
	End        string `json:"end"`
	CalendarID string `json:"calendar_id"`
	Link       string `json:"link,omitempty"`
}

// SearchQuery describes one event search.
type SearchQuery struct {
	// Query is a free-text filter; empty means no text filter.
	Query string

	// CalendarName selects a calendar by display name (case-insensitive
	// exact match). Empty or "primary" targets the primary calendar.
	CalendarName string

	// DateFilter restricts the search to one local day (YYYY-MM-DD).
	// Empty means a forward-looking window of WindowDays.
	DateFilter string

	// WindowDays sizes the default window; zero falls back to the client's
	// configured default.
	WindowDays int
}

// SearchResult is a non-error search outcome. Found is false when the
// query matched nothing, which is a normal result, not a failure.
type SearchResult struct {
	Found  bool
	Events []EventRecord
}

// CreateInput describes a conflict-checked event creation.
type CreateInput struct {
	CalendarID     string
	Title          string
	Description    string
	Start          time.Time
	Duration       time.Duration
	CheckConflicts bool
}

// EventChanges carries the optional fields of an event update. Zero values
// mean "leave unchanged"; the tool layer normalizes absent arguments before
// building this struct.
type EventChanges struct {
	Title         string
	Date          string  // YYYY-MM-DD
	StartTime     string  // HH:MM
	DurationHours float64 // 0 means keep/default
}

// eventDateString picks the dateTime or bare date of an event boundary.
func eventDateString(edt *calendar.EventDateTime) string {
	if edt == nil {
		return ""
	}
	if edt.DateTime != "" {
		return edt.DateTime
	}
	return edt.Date
}

// toEventRecord converts a provider event to an EventRecord.
func toEventRecord(event *calendar.Event, calendarID string) EventRecord {
	if event == nil {
		return EventRecord{CalendarID: calendarID}
	}
	title := event.Summary
	if title == "" {
		title = "Sem título"
	}
	return EventRecord{
		ID:         event.Id,
		Title:      title,
		Start:      eventDateString(event.Start),
		End:        eventDateString(event.End),
		CalendarID: calendarID,
		Link:       event.HtmlLink,
	}
}

// toCalendarRef converts a provider calendar list entry to a CalendarRef.
func toCalendarRef(entry *calendar.CalendarListEntry) CalendarRef {
	if entry == nil {
		return CalendarRef{}
	}
	return CalendarRef{
		ID:      entry.Id,
		Name:    entry.Summary,
		Primary: entry.Primary,
	}
}
