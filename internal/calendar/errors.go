package calendar

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/googleapi"
)

// UpstreamError wraps a calendar provider failure. Provider errors are
// never silently swallowed; retry policy, if any, belongs to the boundary.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("calendar provider error (status %d): %s", e.Status, e.Message)
}

// NotFoundError reports a missing event after a valid request. It is a
// distinct, non-fatal outcome, not an upstream failure.
type NotFoundError struct {
	EventID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("event %s not found", e.EventID)
}

// CalendarNotFoundError reports that no calendar matched a requested name.
type CalendarNotFoundError struct {
	Name string
}

func (e *CalendarNotFoundError) Error() string {
	return fmt.Sprintf("calendar %q not found", e.Name)
}

// ConflictError reports that a requested event window overlaps an existing
// busy interval. It is an expected outcome of conflict-checked creation;
// no write is performed.
type ConflictError struct {
	Start time.Time
	End   time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("requested window [%s, %s) conflicts with a busy interval",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// wrapUpstream converts a provider error into an UpstreamError, keeping
// the HTTP status when the provider supplied one.
func wrapUpstream(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &UpstreamError{Status: gerr.Code, Message: fmt.Sprintf("%s: %s", op, gerr.Message)}
	}
	return &UpstreamError{Message: fmt.Sprintf("%s: %v", op, err)}
}

// isNotFoundStatus reports whether the provider said the resource is gone.
func isNotFoundStatus(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 404 || gerr.Code == 410
	}
	return false
}
