package schedule

import (
	"errors"
	"fmt"
)

// ErrInvalidSchedule is returned for models that can never be scheduled:
// malformed cron expressions, non-positive intervals, unknown kinds.
var ErrInvalidSchedule = errors.New("invalid schedule")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSchedule, fmt.Sprintf(format, args...))
}
