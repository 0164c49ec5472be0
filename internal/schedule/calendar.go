package schedule

import (
	"strconv"
	"strings"
)

// CalendarSpec selects calendar fields; nil fields match every value.
//
// Weekday follows cron numbering (0 = Sunday). Hour is 0-23, Day is 1-31,
// Month is 1-12.
type CalendarSpec struct {
	Minute  *int `json:"minute,omitempty"`
	Hour    *int `json:"hour,omitempty"`
	Day     *int `json:"day,omitempty"`
	Month   *int `json:"month,omitempty"`
	Weekday *int `json:"weekday,omitempty"`
}

// Expression renders the spec as a 5-field cron expression and validates it.
func (c CalendarSpec) Expression() (string, error) {
	fields := []struct {
		name     string
		v        *int
		min, max int
	}{
		{"minute", c.Minute, 0, 59},
		{"hour", c.Hour, 0, 23},
		{"day", c.Day, 1, 31},
		{"month", c.Month, 1, 12},
		{"weekday", c.Weekday, 0, 6},
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.v == nil {
			parts = append(parts, "*")
			continue
		}
		if *f.v < f.min || *f.v > f.max {
			return "", invalidf("%s %d out of range [%d,%d]", f.name, *f.v, f.min, f.max)
		}
		parts = append(parts, strconv.Itoa(*f.v))
	}
	// A spec with only a weekday (or only larger units) still needs a
	// concrete minute, otherwise it would fire every minute of the match.
	if c.Minute == nil && (c.Hour != nil || c.Day != nil || c.Month != nil || c.Weekday != nil) {
		parts[0] = "0"
		if c.Hour == nil && (c.Day != nil || c.Month != nil || c.Weekday != nil) {
			parts[1] = "0"
		}
	}
	expr := strings.Join(parts, " ")
	if _, err := ParseCron(expr); err != nil {
		return "", err
	}
	return expr, nil
}
