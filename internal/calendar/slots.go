package calendar

import (
	"time"

	"github.com/driveline-ai/driveline/internal/config"
)

// slotStep is the granularity of offered appointment start times.
const slotStep = 30 * time.Minute

// ClosedMessage is spoken when a caller asks for a Sunday appointment.
const ClosedMessage = "The service department is closed on Sundays."

// DayWindows returns the bookable windows of one local calendar day, lunch
// excluded. An empty result means the shop is closed that day.
func DayWindows(day time.Time, bh config.BusinessHoursConfig, loc *time.Location) []Interval {
	day = day.In(loc)
	var openH, closeH int
	switch day.Weekday() {
	case time.Sunday:
		return nil
	case time.Saturday:
		openH, closeH = bh.SaturdayOpen, bh.SaturdayClose
	default:
		openH, closeH = bh.WeekdayOpen, bh.WeekdayClose
	}

	at := func(hour int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc)
	}

	lunchStart, lunchEnd := bh.LunchStart, bh.LunchEnd
	if lunchStart <= openH || lunchEnd >= closeH || lunchStart >= lunchEnd {
		// No lunch gap inside the business day.
		return []Interval{{Start: at(openH), End: at(closeH)}}
	}
	return []Interval{
		{Start: at(openH), End: at(lunchStart)},
		{Start: at(lunchEnd), End: at(closeH)},
	}
}

// AvailableSlots computes the offerable start times of one local day: every
// half-hour step inside the business windows where the full duration fits and
// nothing on the calendar overlaps. Results are in loc, ascending.
func AvailableSlots(day time.Time, duration time.Duration, busy []Interval, bh config.BusinessHoursConfig, loc *time.Location) []time.Time {
	var slots []time.Time
	for _, win := range DayWindows(day, bh, loc) {
		for start := win.Start; !start.Add(duration).After(win.End); start = start.Add(slotStep) {
			if overlapsAny(start, start.Add(duration), busy) {
				continue
			}
			slots = append(slots, start)
		}
	}
	return slots
}

// overlapsAny reports whether [start, end) intersects any busy interval.
func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
