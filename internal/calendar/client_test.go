package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/calendai/calendai/internal/availability"
	"github.com/calendai/calendai/internal/instrumentation"
)

// fakeProvider is an httptest-backed Google Calendar API double. It counts
// event writes so tests can assert that conflict-checked creation performs
// no provider mutation.
type fakeProvider struct {
	busyStart   string
	busyEnd     string
	calendars   []map[string]any
	events      []map[string]any
	missing     map[string]bool
	writeCount  int
	deleteCount int
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"items": f.calendars})
	})

	mux.HandleFunc("GET /users/me/calendarList/{id}", func(w http.ResponseWriter, r *http.Request) {
		for _, cal := range f.calendars {
			if cal["id"] == r.PathValue("id") {
				writeJSON(w, cal)
				return
			}
		}
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	})

	mux.HandleFunc("POST /freeBusy", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		busy := []map[string]string{}
		if f.busyStart != "" {
			busy = append(busy, map[string]string{"start": f.busyStart, "end": f.busyEnd})
		}
		calendars := map[string]any{}
		for _, item := range req.Items {
			calendars[item.ID] = map[string]any{"busy": busy}
		}
		writeJSON(w, map[string]any{"calendars": calendars})
	})

	mux.HandleFunc("GET /calendars/{cal}/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"items": f.events})
	})

	mux.HandleFunc("POST /calendars/{cal}/events", func(w http.ResponseWriter, r *http.Request) {
		f.writeCount++
		var event map[string]any
		_ = json.NewDecoder(r.Body).Decode(&event)
		event["id"] = "created-1"
		event["htmlLink"] = "https://calendar.example/created-1"
		writeJSON(w, event)
	})

	mux.HandleFunc("GET /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if f.missing[id] {
			http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"id":      id,
			"summary": "Old title",
			"start":   map[string]any{"dateTime": "2025-03-10T10:00:00-03:00"},
			"end":     map[string]any{"dateTime": "2025-03-10T11:00:00-03:00"},
		})
	})

	mux.HandleFunc("PUT /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.writeCount++
		var event map[string]any
		_ = json.NewDecoder(r.Body).Decode(&event)
		event["id"] = r.PathValue("id")
		writeJSON(w, event)
	})

	mux.HandleFunc("DELETE /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		if f.missing[r.PathValue("id")] {
			http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
			return
		}
		f.deleteCount++
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, fake *fakeProvider) *Client {
	t.Helper()

	if fake.calendars == nil {
		fake.calendars = []map[string]any{
			{"id": "primary-id", "summary": "Pessoal", "primary": true, "timeZone": "UTC"},
			{"id": "work-id", "summary": "Trabalho", "timeZone": "UTC"},
		}
	}
	if fake.missing == nil {
		fake.missing = map[string]bool{}
	}

	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	svc, err := gcal.NewService(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("building calendar service: %v", err)
	}

	return NewClientWithService(svc, time.UTC, 7, nil, nil)
}

func TestListCalendars(t *testing.T) {
	client := newTestClient(t, &fakeProvider{})

	refs, err := client.ListCalendars(context.Background())
	if err != nil {
		t.Fatalf("ListCalendars() error = %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d calendars, want 2", len(refs))
	}
	if refs[0].Name != "Pessoal" || !refs[0].Primary {
		t.Errorf("first calendar = %+v, want primary Pessoal", refs[0])
	}
}

func TestResolveCalendar(t *testing.T) {
	client := newTestClient(t, &fakeProvider{})
	ctx := context.Background()

	tests := []struct {
		name    string
		input   string
		wantID  string
		missing bool
	}{
		{name: "empty selects primary", input: "", wantID: "primary"},
		{name: "primary keyword", input: "Primary", wantID: "primary"},
		{name: "exact match", input: "Trabalho", wantID: "work-id"},
		{name: "case-insensitive match", input: "trabalho", wantID: "work-id"},
		{name: "unknown name", input: "Academia", missing: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := client.ResolveCalendar(ctx, tt.input)
			if tt.missing {
				var cnf *CalendarNotFoundError
				if !errors.As(err, &cnf) {
					t.Fatalf("ResolveCalendar(%q) = %v, want CalendarNotFoundError", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveCalendar(%q) error = %v", tt.input, err)
			}
			if ref.ID != tt.wantID {
				t.Errorf("ResolveCalendar(%q).ID = %q, want %q", tt.input, ref.ID, tt.wantID)
			}
		})
	}
}

func TestSearchEventsFound(t *testing.T) {
	fake := &fakeProvider{
		events: []map[string]any{
			{
				"id":      "ev-1",
				"summary": "Reunião de marketing",
				"start":   map[string]any{"dateTime": "2025-03-10T10:00:00Z"},
				"end":     map[string]any{"dateTime": "2025-03-10T11:00:00Z"},
			},
			{
				"id":    "ev-2",
				"start": map[string]any{"date": "2025-03-11"},
				"end":   map[string]any{"date": "2025-03-12"},
			},
		},
	}
	client := newTestClient(t, fake)

	result, err := client.SearchEvents(context.Background(), SearchQuery{Query: "reunião"})
	if err != nil {
		t.Fatalf("SearchEvents() error = %v", err)
	}
	if !result.Found {
		t.Fatal("Found = false, want true")
	}
	if len(result.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(result.Events))
	}
	if result.Events[0].Title != "Reunião de marketing" {
		t.Errorf("title = %q", result.Events[0].Title)
	}
	// Untitled events get the placeholder; all-day events carry bare dates.
	if result.Events[1].Title != "Sem título" {
		t.Errorf("untitled event title = %q, want placeholder", result.Events[1].Title)
	}
	if result.Events[1].Start != "2025-03-11" {
		t.Errorf("all-day start = %q, want bare date", result.Events[1].Start)
	}
}

func TestSearchEventsEmptyIsNotAnError(t *testing.T) {
	client := newTestClient(t, &fakeProvider{})

	result, err := client.SearchEvents(context.Background(), SearchQuery{Query: "nada"})
	if err != nil {
		t.Fatalf("SearchEvents() error = %v", err)
	}
	if result.Found {
		t.Error("Found = true for empty result")
	}
}

func TestSearchEventsUnknownCalendar(t *testing.T) {
	client := newTestClient(t, &fakeProvider{})

	_, err := client.SearchEvents(context.Background(), SearchQuery{CalendarName: "Ghost"})
	var cnf *CalendarNotFoundError
	if !errors.As(err, &cnf) {
		t.Fatalf("SearchEvents() = %v, want CalendarNotFoundError", err)
	}
}

func TestSearchWindowDateFilter(t *testing.T) {
	client := newTestClient(t, &fakeProvider{})

	min, max, err := client.searchWindow(SearchQuery{DateFilter: "2025-03-10"})
	if err != nil {
		t.Fatalf("searchWindow() error = %v", err)
	}
	if !min.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("window start = %v", min)
	}
	if !max.Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("window end = %v", max)
	}
}

func TestSearchWindowDefault(t *testing.T) {
	client := newTestClient(t, &fakeProvider{})
	fixed := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return fixed }

	min, max, err := client.searchWindow(SearchQuery{})
	if err != nil {
		t.Fatalf("searchWindow() error = %v", err)
	}
	if !min.Equal(fixed) {
		t.Errorf("window start = %v, want now", min)
	}
	if !max.Equal(fixed.AddDate(0, 0, 7)) {
		t.Errorf("window end = %v, want now+7d", max)
	}
}

func TestCreateEventConflictPerformsNoWrite(t *testing.T) {
	fake := &fakeProvider{
		// Busy interval exactly equal to the requested window.
		busyStart: "2025-03-10T10:00:00Z",
		busyEnd:   "2025-03-10T11:00:00Z",
	}
	client := newTestClient(t, fake)

	_, err := client.CreateEvent(context.Background(), CreateInput{
		CalendarID:     "primary-id",
		Title:          "Planejamento",
		Start:          time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		Duration:       time.Hour,
		CheckConflicts: true,
	})

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("CreateEvent() = %v, want ConflictError", err)
	}
	if fake.writeCount != 0 {
		t.Errorf("provider write count = %d, want 0 on conflict", fake.writeCount)
	}
}

func TestCreateEventNoConflict(t *testing.T) {
	fake := &fakeProvider{
		busyStart: "2025-03-10T14:00:00Z",
		busyEnd:   "2025-03-10T15:00:00Z",
	}
	client := newTestClient(t, fake)

	record, err := client.CreateEvent(context.Background(), CreateInput{
		CalendarID:     "primary-id",
		Title:          "Planejamento",
		Start:          time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		Duration:       time.Hour,
		CheckConflicts: true,
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	if record.ID != "created-1" {
		t.Errorf("event id = %q", record.ID)
	}
	if fake.writeCount != 1 {
		t.Errorf("provider write count = %d, want 1", fake.writeCount)
	}
}

func TestCreateEventSkipsCheckWhenDisabled(t *testing.T) {
	fake := &fakeProvider{
		busyStart: "2025-03-10T10:00:00Z",
		busyEnd:   "2025-03-10T11:00:00Z",
	}
	client := newTestClient(t, fake)

	_, err := client.CreateEvent(context.Background(), CreateInput{
		CalendarID: "primary-id",
		Title:      "Forçado",
		Start:      time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		Duration:   time.Hour,
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	if fake.writeCount != 1 {
		t.Errorf("provider write count = %d, want 1", fake.writeCount)
	}
}

func TestUpdateEventRecomputesWindow(t *testing.T) {
	fake := &fakeProvider{}
	client := newTestClient(t, fake)

	record, err := client.UpdateEvent(context.Background(), "primary-id", "ev-1", EventChanges{
		Title:         "Novo título",
		Date:          "2025-03-12",
		StartTime:     "15:30",
		DurationHours: 1.5,
	})
	if err != nil {
		t.Fatalf("UpdateEvent() error = %v", err)
	}
	if record.Title != "Novo título" {
		t.Errorf("title = %q", record.Title)
	}
	if !strings.HasPrefix(record.Start, "2025-03-12T15:30:00") {
		t.Errorf("start = %q, want 2025-03-12T15:30:00", record.Start)
	}
	if !strings.HasPrefix(record.End, "2025-03-12T17:00:00") {
		t.Errorf("end = %q, want 2025-03-12T17:00:00 (1.5h)", record.End)
	}
}

func TestUpdateEventMissing(t *testing.T) {
	fake := &fakeProvider{missing: map[string]bool{"gone": true}}
	client := newTestClient(t, fake)

	_, err := client.UpdateEvent(context.Background(), "primary-id", "gone", EventChanges{Title: "x"})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("UpdateEvent(missing) = %v, want NotFoundError", err)
	}
}

func TestDeleteEvent(t *testing.T) {
	fake := &fakeProvider{}
	client := newTestClient(t, fake)

	if err := client.DeleteEvent(context.Background(), "primary-id", "ev-1"); err != nil {
		t.Fatalf("DeleteEvent() error = %v", err)
	}
	if fake.deleteCount != 1 {
		t.Errorf("delete count = %d, want 1", fake.deleteCount)
	}
}

func TestDeleteEventMissingIsNotFound(t *testing.T) {
	fake := &fakeProvider{missing: map[string]bool{"gone": true}}
	client := newTestClient(t, fake)

	err := client.DeleteEvent(context.Background(), "primary-id", "gone")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("DeleteEvent(missing) = %v, want NotFoundError", err)
	}
}

func TestBusyIntervalsNormalizedUTC(t *testing.T) {
	fake := &fakeProvider{
		busyStart: "2025-03-10T10:00:00-03:00",
		busyEnd:   "2025-03-10T11:00:00-03:00",
	}
	client := newTestClient(t, fake)

	intervals, err := client.BusyIntervals(context.Background(), "primary-id",
		time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BusyIntervals() error = %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("got %d intervals, want 1", len(intervals))
	}
	want := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	if !intervals[0].Start.Equal(want) {
		t.Errorf("start = %v, want %v (UTC-normalized)", intervals[0].Start, want)
	}
}

func TestBusyIntervalsMalformedTimestampFailsQuery(t *testing.T) {
	fake := &fakeProvider{
		busyStart: "not-a-timestamp",
		busyEnd:   "2025-03-10T11:00:00Z",
	}
	client := newTestClient(t, fake)

	_, err := client.BusyIntervals(context.Background(), "primary-id",
		time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC))
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("BusyIntervals() = %v, want UpstreamError for malformed busy range", err)
	}

	// A dropped busy range must not let a conflicting create through.
	_, err = client.CreateEvent(context.Background(), CreateInput{
		CalendarID:     "primary-id",
		Title:          "Planejamento",
		Start:          time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		Duration:       time.Hour,
		CheckConflicts: true,
	})
	if !errors.As(err, &upstream) {
		t.Fatalf("CreateEvent() = %v, want UpstreamError", err)
	}
	if fake.writeCount != 0 {
		t.Errorf("provider write count = %d, want 0", fake.writeCount)
	}
}

func TestNextFreeSlotUsesCalendarTimezone(t *testing.T) {
	fake := &fakeProvider{
		busyStart: "2025-03-10T09:00:00Z",
		busyEnd:   "2025-03-10T10:00:00Z",
	}
	client := newTestClient(t, fake)
	client.now = func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) }

	opts := availability.DefaultOptions()
	start, ok, err := client.NextFreeSlot(context.Background(), "primary-id", "2025-03-10", opts)
	if err != nil {
		t.Fatalf("NextFreeSlot() error = %v", err)
	}
	if !ok {
		t.Fatal("no free slot found")
	}
	want := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("first free slot = %v, want %v", start, want)
	}
}

func TestDayAvailabilityGridShape(t *testing.T) {
	client := newTestClient(t, &fakeProvider{})
	client.now = func() time.Time { return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC) }

	slots, err := client.DayAvailability(context.Background(), "primary-id", "2025-03-10",
		availability.DefaultOptions())
	if err != nil {
		t.Fatalf("DayAvailability() error = %v", err)
	}
	if len(slots) != 33 {
		t.Errorf("got %d slots, want 33", len(slots))
	}
}

func TestDayPartitionShape(t *testing.T) {
	client := newTestClient(t, &fakeProvider{})

	slots, err := client.DayPartition(context.Background(), "primary-id", "2025-03-10",
		availability.DefaultOptions())
	if err != nil {
		t.Fatalf("DayPartition() error = %v", err)
	}
	if len(slots) != 9 {
		t.Errorf("got %d slots, want 9", len(slots))
	}
}

// counterTotal sums every data point of a counter collected so far.
func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collecting metrics: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestClientRecordsCalendarOperations(t *testing.T) {
	fake := &fakeProvider{
		calendars: []map[string]any{
			{"id": "primary-id", "summary": "Pessoal", "primary": true, "timeZone": "UTC"},
		},
		missing: map[string]bool{},
	}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	svc, err := gcal.NewService(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("building calendar service: %v", err)
	}

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	metrics, err := instrumentation.NewMetrics(provider.Meter("calendar-test"))
	if err != nil {
		t.Fatalf("building metrics: %v", err)
	}

	client := NewClientWithService(svc, time.UTC, 7, metrics, nil)

	if _, err := client.ListCalendars(context.Background()); err != nil {
		t.Fatalf("ListCalendars() error = %v", err)
	}
	if err := client.DeleteEvent(context.Background(), "primary-id", "ev-1"); err != nil {
		t.Fatalf("DeleteEvent() error = %v", err)
	}

	if got := counterTotal(t, reader, "calendar_operations_total"); got != 2 {
		t.Errorf("calendar_operations_total = %d, want 2", got)
	}
}

func TestUpstreamErrorCarriesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":503,"message":"backend unavailable"}}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	svc, err := gcal.NewService(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("building calendar service: %v", err)
	}
	client := NewClientWithService(svc, time.UTC, 7, nil, nil)

	_, err = client.ListCalendars(context.Background())
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("ListCalendars() = %v, want UpstreamError", err)
	}
	if upstream.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", upstream.Status)
	}
}
