package availability

import (
	"time"
)

// Interval is a half-open time range [Start, End). All comparisons assume
// both endpoints carry a location; callers normalize to a single timezone
// context before handing intervals to this package.
type Interval struct {
	Start time.Time
	End   time.Time
}

// SlotStatus labels a slot as free or busy.
type SlotStatus string

const (
	StatusFree SlotStatus = "free"
	StatusBusy SlotStatus = "busy"
)

// Slot is one labeled entry of an availability breakdown.
type Slot struct {
	Start  time.Time
	Status SlotStatus
}

// Options control the scan over a working day.
type Options struct {
	// WorkStart and WorkEnd bound the working day, as offsets from midnight.
	WorkStart time.Duration
	WorkEnd   time.Duration

	// SlotSize is the length of the window that must be clear for a slot
	// to count as free.
	SlotSize time.Duration

	// Step is the scan increment.
	Step time.Duration

	// Now truncates the scan start: slots before Now are never offered.
	// Zero means no truncation.
	Now time.Time
}

// DefaultOptions returns the standard working-day scan: 09:00-18:00,
// one-hour slots, 15-minute steps.
func DefaultOptions() Options {
	return Options{
		WorkStart: 9 * time.Hour,
		WorkEnd:   18 * time.Hour,
		SlotSize:  time.Hour,
		Step:      15 * time.Minute,
	}
}

// Overlaps reports whether two half-open intervals intersect:
// max(a0,b0) < min(a1,b1).
func Overlaps(a, b Interval) bool {
	lo := a.Start
	if b.Start.After(lo) {
		lo = b.Start
	}
	hi := a.End
	if b.End.Before(hi) {
		hi = b.End
	}
	return lo.Before(hi)
}

// overlapsAny reports whether the window intersects any busy interval.
func overlapsAny(window Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(window, b) {
			return true
		}
	}
	return false
}

// dayBounds resolves the working-day window for the given day. The day's
// midnight is taken in day's own location.
func dayBounds(day time.Time, opts Options) (time.Time, time.Time) {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return midnight.Add(opts.WorkStart), midnight.Add(opts.WorkEnd)
}

// NextFree scans the working day in step increments starting at
// max(workStart, now) and returns the start of the first slot
// [t, t+slotSize) that is clear of every busy interval. The second return
// is false when no free slot fits before workEnd.
func NextFree(day time.Time, busy []Interval, opts Options) (time.Time, bool) {
	start, end := dayBounds(day, opts)
	if !opts.Now.IsZero() && opts.Now.After(start) {
		start = opts.Now
	}

	for t := start; !t.Add(opts.SlotSize).After(end); t = t.Add(opts.Step) {
		if !overlapsAny(Interval{Start: t, End: t.Add(opts.SlotSize)}, busy) {
			return t, true
		}
	}
	return time.Time{}, false
}

// DayGrid produces one labeled slot per step across the working day. A slot
// starting at t is busy when [t, t+slotSize) intersects any busy interval.
func DayGrid(day time.Time, busy []Interval, opts Options) []Slot {
	start, end := dayBounds(day, opts)
	if !opts.Now.IsZero() && opts.Now.After(start) {
		start = opts.Now
	}

	var slots []Slot
	for t := start; !t.Add(opts.SlotSize).After(end); t = t.Add(opts.Step) {
		status := StatusFree
		if overlapsAny(Interval{Start: t, End: t.Add(opts.SlotSize)}, busy) {
			status = StatusBusy
		}
		slots = append(slots, Slot{Start: t, Status: status})
	}
	return slots
}

// Partition produces a non-overlapping slotSize-sized breakdown of the
// working day: consecutive slots advance by slotSize, not by step.
func Partition(day time.Time, busy []Interval, opts Options) []Slot {
	start, end := dayBounds(day, opts)
	if !opts.Now.IsZero() && opts.Now.After(start) {
		start = opts.Now
	}

	var slots []Slot
	for t := start; !t.Add(opts.SlotSize).After(end); t = t.Add(opts.SlotSize) {
		status := StatusFree
		if overlapsAny(Interval{Start: t, End: t.Add(opts.SlotSize)}, busy) {
			status = StatusBusy
		}
		slots = append(slots, Slot{Start: t, Status: status})
	}
	return slots
}
