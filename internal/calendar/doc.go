// Package calendar provides a client for interacting with the Google Calendar API.
//
// This package offers functionality for managing calendars and calendar events,
// including searching, creating, updating, and deleting events, as well as
// checking availability and finding free time slots for scheduling.
//
// The client resolves calendars by their human-readable names, checks new
// events against the free/busy feed before writing them, and evaluates
// availability in each calendar's own declared timezone.
//
// Example usage:
//
//	ctx := context.Background()
//	client, err := calendar.NewClient(ctx, bundle, cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Search upcoming events
//	result, err := client.SearchEvents(ctx, calendar.SearchQuery{Query: "standup"})
//	if err != nil {
//	    log.Fatal(err)
//	}
package calendar
