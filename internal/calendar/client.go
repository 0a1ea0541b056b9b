package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/calendai/calendai/internal/availability"
	"github.com/calendai/calendai/internal/config"
	"github.com/calendai/calendai/internal/google"
	"github.com/calendai/calendai/internal/handshake"
	"github.com/calendai/calendai/internal/instrumentation"
	"github.com/calendai/calendai/internal/logging"
)

// Client is a typed gateway over the Google Calendar API, acting as the
// user whose credential bundle it was built from. It holds no mutable
// state; every operation is a single provider round trip plus conversion.
type Client struct {
	svc        *calendar.Service
	loc        *time.Location
	windowDays int
	metrics    *instrumentation.Metrics
	logger     *slog.Logger

	// now is swappable for window-math tests.
	now func() time.Time
}

// NewClient builds a gateway from a resolved credential bundle.
func NewClient(ctx context.Context, bundle *handshake.CredentialBundle, cfg *config.Config, metrics *instrumentation.Metrics, logger *slog.Logger, extra ...option.ClientOption) (*Client, error) {
	svc, err := google.ServiceForBundle(ctx, bundle, extra...)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid configured timezone: %w", err)
	}

	return NewClientWithService(svc, loc, cfg.WindowDays, metrics, logger), nil
}

// NewClientWithService wraps an existing Calendar service. Tests use this
// with a service pointed at a fake endpoint.
func NewClientWithService(svc *calendar.Service, loc *time.Location, windowDays int, metrics *instrumentation.Metrics, logger *slog.Logger) *Client {
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if windowDays <= 0 {
		windowDays = config.DefaultWindowDays
	}
	return &Client{
		svc:        svc,
		loc:        loc,
		windowDays: windowDays,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// observe records one provider round trip. Deferred with a pointer to the
// named error return so the status reflects the final outcome.
func (c *Client) observe(ctx context.Context, op string, start time.Time, err *error) {
	status := instrumentation.StatusSuccess
	if *err != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordCalendarOperation(ctx, op, status, time.Since(start))
}

// ListCalendars lists all calendars accessible to the user.
func (c *Client) ListCalendars(ctx context.Context) (refs []CalendarRef, err error) {
	defer c.observe(ctx, "calendarList.list", time.Now(), &err)

	list, err := c.svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, wrapUpstream("list calendars", err)
	}

	for _, entry := range list.Items {
		refs = append(refs, toCalendarRef(entry))
	}
	return refs, nil
}

// ResolveCalendar resolves a display name to a calendar. Matching is a
// case-insensitive exact comparison against the listed calendar names.
// An empty name or "primary" selects the primary calendar without a
// provider round trip.
func (c *Client) ResolveCalendar(ctx context.Context, name string) (CalendarRef, error) {
	if name == "" || strings.EqualFold(name, "primary") {
		return CalendarRef{ID: "primary", Primary: true}, nil
	}

	refs, err := c.ListCalendars(ctx)
	if err != nil {
		return CalendarRef{}, err
	}
	for _, ref := range refs {
		if strings.EqualFold(ref.Name, name) {
			return ref, nil
		}
	}
	return CalendarRef{}, &CalendarNotFoundError{Name: name}
}

// searchWindow resolves the query's time window in the configured
// timezone: a date filter means that full local day, otherwise the window
// runs from now for the configured number of days.
func (c *Client) searchWindow(q SearchQuery) (time.Time, time.Time, error) {
	if q.DateFilter != "" {
		day, err := time.ParseInLocation("2006-01-02", q.DateFilter, c.loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date filter %q: %w", q.DateFilter, err)
		}
		return day, day.AddDate(0, 0, 1), nil
	}

	days := q.WindowDays
	if days <= 0 {
		days = c.windowDays
	}
	now := c.now().In(c.loc)
	return now, now.AddDate(0, 0, days), nil
}

// SearchEvents searches one calendar within the query's window, expanding
// recurring events and ordering by start time. An empty result is returned
// as Found=false, not as an error.
func (c *Client) SearchEvents(ctx context.Context, q SearchQuery) (result *SearchResult, err error) {
	ref, err := c.ResolveCalendar(ctx, q.CalendarName)
	if err != nil {
		return nil, err
	}

	timeMin, timeMax, err := c.searchWindow(q)
	if err != nil {
		return nil, err
	}

	call := c.svc.Events.List(ref.ID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	if q.Query != "" {
		call = call.Q(q.Query)
	}

	start := time.Now()
	events, err := call.Do()
	c.observe(ctx, "events.list", start, &err)
	if err != nil {
		return nil, wrapUpstream("search events", err)
	}

	result = &SearchResult{}
	for _, event := range events.Items {
		result.Events = append(result.Events, toEventRecord(event, ref.ID))
	}
	result.Found = len(result.Events) > 0

	c.logger.Debug("searched events",
		logging.Calendar(ref.ID),
		"count", len(result.Events))
	return result, nil
}

// BusyIntervals queries the provider's free-busy data for one calendar and
// returns UTC-normalized half-open intervals.
func (c *Client) BusyIntervals(ctx context.Context, calendarID string, from, to time.Time) (intervals []availability.Interval, err error) {
	defer c.observe(ctx, "freebusy.query", time.Now(), &err)

	query := &calendar.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}

	result, err := c.svc.Freebusy.Query(query).Context(ctx).Do()
	if err != nil {
		return nil, wrapUpstream("freebusy query", err)
	}

	if cal, ok := result.Calendars[calendarID]; ok {
		for _, busy := range cal.Busy {
			// A busy range that cannot be parsed must fail the query:
			// dropping it would let a conflicting create through.
			start, err := time.Parse(time.RFC3339, busy.Start)
			if err != nil {
				c.logger.Error("unparsable busy interval from provider",
					logging.Calendar(calendarID),
					slog.String("value", busy.Start),
					logging.Err(err))
				return nil, &UpstreamError{Message: fmt.Sprintf("freebusy query: invalid busy start %q", busy.Start)}
			}
			end, err := time.Parse(time.RFC3339, busy.End)
			if err != nil {
				c.logger.Error("unparsable busy interval from provider",
					logging.Calendar(calendarID),
					slog.String("value", busy.End),
					logging.Err(err))
				return nil, &UpstreamError{Message: fmt.Sprintf("freebusy query: invalid busy end %q", busy.End)}
			}
			intervals = append(intervals, availability.Interval{
				Start: start.UTC(),
				End:   end.UTC(),
			})
		}
	}
	return intervals, nil
}

// CreateEvent inserts a new event. With CheckConflicts set it first
// queries busy intervals for exactly the requested window and refuses to
// write when any of them overlaps it.
func (c *Client) CreateEvent(ctx context.Context, input CreateInput) (*EventRecord, error) {
	start := input.Start
	end := start.Add(input.Duration)

	if input.CheckConflicts {
		busy, err := c.BusyIntervals(ctx, input.CalendarID, start, end)
		if err != nil {
			return nil, err
		}
		window := availability.Interval{Start: start.UTC(), End: end.UTC()}
		for _, b := range busy {
			if availability.Overlaps(window, b) {
				return nil, &ConflictError{Start: start, End: end}
			}
		}
	}

	event := &calendar.Event{
		Summary:     input.Title,
		Description: input.Description,
		Start: &calendar.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: c.loc.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: c.loc.String(),
		},
	}

	opStart := time.Now()
	created, err := c.svc.Events.Insert(input.CalendarID, event).Context(ctx).Do()
	c.observe(ctx, "events.insert", opStart, &err)
	if err != nil {
		return nil, wrapUpstream("create event", err)
	}

	record := toEventRecord(created, input.CalendarID)
	c.logger.Info("event created",
		logging.Calendar(input.CalendarID),
		"event_id", record.ID)
	return &record, nil
}

// InsertRawEvent inserts a provider event as given, without conflict
// checking. The create_event tool uses this for explicit start/end input
// with optional attendees and location.
func (c *Client) InsertRawEvent(ctx context.Context, calendarID string, event *calendar.Event) (*EventRecord, error) {
	start := time.Now()
	created, err := c.svc.Events.Insert(calendarID, event).Context(ctx).Do()
	c.observe(ctx, "events.insert", start, &err)
	if err != nil {
		return nil, wrapUpstream("create event", err)
	}
	record := toEventRecord(created, calendarID)
	return &record, nil
}

// UpdateEvent applies the given changes to an existing event, using the
// provider's read-modify-write cycle. A missing event is a NotFoundError.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, changes EventChanges) (*EventRecord, error) {
	start := time.Now()
	existing, err := c.svc.Events.Get(calendarID, eventID).Context(ctx).Do()
	c.observe(ctx, "events.get", start, &err)
	if err != nil {
		if isNotFoundStatus(err) {
			return nil, &NotFoundError{EventID: eventID}
		}
		return nil, wrapUpstream("get event", err)
	}

	if changes.Title != "" {
		existing.Summary = changes.Title
	}
	if changes.Date != "" && changes.StartTime != "" {
		start, err := time.ParseInLocation("2006-01-02 15:04",
			changes.Date+" "+changes.StartTime, c.loc)
		if err != nil {
			return nil, fmt.Errorf("invalid date/time %q %q: %w", changes.Date, changes.StartTime, err)
		}
		duration := time.Hour
		if changes.DurationHours > 0 {
			duration = time.Duration(changes.DurationHours * float64(time.Hour))
		}
		existing.Start = &calendar.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: c.loc.String(),
		}
		existing.End = &calendar.EventDateTime{
			DateTime: start.Add(duration).Format(time.RFC3339),
			TimeZone: c.loc.String(),
		}
	}

	start = time.Now()
	updated, err := c.svc.Events.Update(calendarID, eventID, existing).Context(ctx).Do()
	c.observe(ctx, "events.update", start, &err)
	if err != nil {
		return nil, wrapUpstream("update event", err)
	}

	record := toEventRecord(updated, calendarID)
	c.logger.Info("event updated",
		logging.Calendar(calendarID),
		"event_id", eventID)
	return &record, nil
}

// DeleteEvent deletes an event. A missing event reports NotFoundError,
// treated by callers as already absent rather than fatal, so re-delivered
// deletes stay harmless.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	start := time.Now()
	err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	c.observe(ctx, "events.delete", start, &err)
	if err != nil {
		if isNotFoundStatus(err) {
			return &NotFoundError{EventID: eventID}
		}
		return wrapUpstream("delete event", err)
	}

	c.logger.Info("event deleted",
		logging.Calendar(calendarID),
		"event_id", eventID)
	return nil
}

// calendarLocation resolves the calendar's own declared timezone, falling
// back to the configured one when the provider does not say.
func (c *Client) calendarLocation(ctx context.Context, calendarID string) *time.Location {
	start := time.Now()
	entry, err := c.svc.CalendarList.Get(calendarID).Context(ctx).Do()
	c.observe(ctx, "calendarList.get", start, &err)
	if err != nil || entry.TimeZone == "" {
		return c.loc
	}
	loc, err := time.LoadLocation(entry.TimeZone)
	if err != nil {
		return c.loc
	}
	return loc
}

// dayBusy fetches the busy intervals covering one full day in the
// calendar's own timezone, and returns the day's midnight there.
func (c *Client) dayBusy(ctx context.Context, calendarID, date string) (time.Time, []availability.Interval, error) {
	loc := c.calendarLocation(ctx, calendarID)
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	busy, err := c.BusyIntervals(ctx, calendarID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return time.Time{}, nil, err
	}
	return day, busy, nil
}

// NextFreeSlot returns the start of the first free slot on the given day
// (YYYY-MM-DD), or ok=false when the day has none.
func (c *Client) NextFreeSlot(ctx context.Context, calendarID, date string, opts availability.Options) (time.Time, bool, error) {
	day, busy, err := c.dayBusy(ctx, calendarID, date)
	if err != nil {
		return time.Time{}, false, err
	}
	if opts.Now.IsZero() {
		opts.Now = c.now().In(day.Location())
	}
	start, ok := availability.NextFree(day, busy, opts)
	return start, ok, nil
}

// DayAvailability returns a step-labeled breakdown of the given day.
func (c *Client) DayAvailability(ctx context.Context, calendarID, date string, opts availability.Options) ([]availability.Slot, error) {
	day, busy, err := c.dayBusy(ctx, calendarID, date)
	if err != nil {
		return nil, err
	}
	return availability.DayGrid(day, busy, opts), nil
}

// DayPartition returns the non-overlapping slot-sized partition of the
// given day.
func (c *Client) DayPartition(ctx context.Context, calendarID, date string, opts availability.Options) ([]availability.Slot, error) {
	day, busy, err := c.dayBusy(ctx, calendarID, date)
	if err != nil {
		return nil, err
	}
	return availability.Partition(day, busy, opts), nil
}

// Location returns the client's configured timezone context.
func (c *Client) Location() *time.Location {
	return c.loc
}
