package schedule

import (
	"strings"

	"github.com/robfig/cron/v3"
)

// Standard 5-field parser: minute hour day-of-month month day-of-week.
// Descriptors (@daily, @weekly, ...) are accepted as shorthands.
//
// Day-of-month and day-of-week are OR'd when both are restricted, AND'd when
// either is "*" (robfig/cron follows the classic cron convention).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a 5-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, invalidf("cron expression required")
	}
	if strings.HasPrefix(expr, "@every") {
		return nil, invalidf("%q: use an interval schedule instead of @every", expr)
	}
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, invalidf("cron %q: %v", expr, err)
	}
	return s, nil
}
