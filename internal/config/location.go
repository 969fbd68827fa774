package config

import "time"

// loadLocation wraps time.LoadLocation so validation and the calendar
// boundary resolve timezones identically.
func loadLocation(name string) (*time.Location, error) {
	return time.LoadLocation(name)
}

// Location returns the dealership's local timezone. Call only after a
// successful [Validate]; falls back to UTC if the zone cannot be resolved.
func (c CalendarConfig) Location() *time.Location {
	loc, err := loadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
