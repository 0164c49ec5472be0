package schedule

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestCalendarSpecExpression(t *testing.T) {
	tests := []struct {
		name string
		spec CalendarSpec
		want string
	}{
		{name: "empty", spec: CalendarSpec{}, want: "* * * * *"},
		{name: "hour only", spec: CalendarSpec{Hour: intp(9)}, want: "0 9 * * *"},
		{name: "hour minute", spec: CalendarSpec{Hour: intp(9), Minute: intp(30)}, want: "30 9 * * *"},
		{name: "weekday", spec: CalendarSpec{Weekday: intp(1)}, want: "0 0 * * 1"},
		{name: "yearly", spec: CalendarSpec{Month: intp(12), Day: intp(25), Hour: intp(8)}, want: "0 8 25 12 *"},
		{name: "minute only", spec: CalendarSpec{Minute: intp(5)}, want: "5 * * * *"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.spec.Expression()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalendarSpecOutOfRange(t *testing.T) {
	_, err := CalendarSpec{Hour: intp(24)}.Expression()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))

	_, err = CalendarSpec{Weekday: intp(7)}.Expression()
	require.Error(t, err)
}
