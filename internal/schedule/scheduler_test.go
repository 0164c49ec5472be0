package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(t time.Time) int64 { return t.UnixMilli() }

func TestPrepareIntervalDefaultsFirstFire(t *testing.T) {
	now := time.UnixMilli(0)
	s, err := Prepare(Model{ID: "a", Kind: KindInterval, IntervalMillis: 1000}, now)
	require.NoError(t, err)
	m := s.Model()
	assert.Equal(t, int64(1000), m.NextFireAt)
	assert.Equal(t, int64(0), m.CreatedAt)
}

func TestPrepareRejectsInvalidModels(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		model Model
	}{
		{name: "zero interval", model: Model{Kind: KindInterval}},
		{name: "negative interval", model: Model{Kind: KindInterval, IntervalMillis: -5}},
		{name: "missing kind", model: Model{IntervalMillis: 5}},
		{name: "unknown kind", model: Model{Kind: "weekly"}},
		{name: "bad cron", model: Model{Kind: KindCalendar, CronExpression: "61 * * * *"}},
		{name: "too few fields", model: Model{Kind: KindCalendar, CronExpression: "0 9 * *"}},
		{name: "every descriptor", model: Model{Kind: KindCalendar, CronExpression: "@every 1m"}},
		{name: "never fires", model: Model{Kind: KindCalendar, CronExpression: "0 0 30 2 *"}},
		{name: "first fire in the past", model: Model{Kind: KindInterval, IntervalMillis: 10, NextFireAt: ms(now) - 1}},
		{name: "repeat without interval", model: Model{Kind: KindInterval, Repeat: true, NextFireAt: ms(now) + 1000}},
		{name: "one-shot in the past", model: Model{Kind: KindInterval, NextFireAt: ms(now) - 1}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Prepare(tt.model, now)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSchedule), "err = %v", err)
		})
	}
}

func TestOneShotAtAbsoluteTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	fireAt := now.Add(90 * time.Minute)
	s, err := Prepare(Model{ID: "once", Kind: KindInterval, NextFireAt: ms(fireAt)}, now)
	require.NoError(t, err)
	assert.Equal(t, ms(fireAt), s.NextFireAt())
	assert.False(t, s.Due(fireAt.Add(-time.Millisecond)))
	assert.True(t, s.Due(fireAt))

	_, ok := s.Advance(fireAt)
	assert.False(t, ok)
}

func TestCalendarDailyAtNine(t *testing.T) {
	day := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	s, err := Prepare(Model{ID: "c", Kind: KindCalendar, CronExpression: "0 9 * * *", Repeat: true}, day)
	require.NoError(t, err)
	first := s.Model().NextFireTime().UTC()
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), first)

	next, ok := s.Advance(first)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), next.Model().NextFireTime().UTC())
}

func TestCalendarSkipsMissedOccurrences(t *testing.T) {
	created := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	s, err := Prepare(Model{ID: "c", Kind: KindCalendar, CronExpression: "0 9 * * *", Repeat: true}, created)
	require.NoError(t, err)

	// Process was down for three days.
	late := time.Date(2026, 3, 13, 12, 0, 0, 0, time.UTC)
	next, ok := s.Advance(late)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), next.Model().NextFireTime().UTC())
}

func TestCalendarDomDowAreOred(t *testing.T) {
	// 1st of the month OR any Monday.
	s, err := New(Model{Kind: KindCalendar, CronExpression: "0 12 1 * 1"})
	require.NoError(t, err)
	// Tuesday 2026-03-03.
	from := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	next, ok := s.NextFireTime(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC), next, "next Monday comes before the 1st")
}

func TestCronNextIsStrictlyAfterNow(t *testing.T) {
	exprs := []string{"* * * * *", "0 9 * * *", "*/15 * * * *", "0 0 1 1 *", "30 6 * * 1-5", "0,30 8-10 * * *", "@daily"}
	starts := []time.Time{
		time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 10, 9, 0, 0, 500, time.UTC),
		time.Date(2026, 12, 31, 23, 59, 59, 999, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, expr := range exprs {
		s, err := New(Model{Kind: KindCalendar, CronExpression: expr})
		require.NoError(t, err, expr)
		for _, now := range starts {
			next, ok := s.NextFireTime(now)
			require.True(t, ok, expr)
			assert.True(t, next.After(now), "%s: next %s not after %s", expr, next, now)
		}
	}
}

func TestIntervalAdvanceKeepsFixedPeriod(t *testing.T) {
	s, err := Prepare(Model{ID: "i", Kind: KindInterval, IntervalMillis: 1000, Repeat: true}, time.UnixMilli(0))
	require.NoError(t, err)

	var fires []int64
	cur := s
	for i := 0; i < 5; i++ {
		at := cur.Model().NextFireAt
		fires = append(fires, at)
		// Wake slightly late; the period must not drift.
		next, ok := cur.Advance(time.UnixMilli(at + 40))
		require.True(t, ok)
		cur = next
	}
	assert.Equal(t, []int64{1000, 2000, 3000, 4000, 5000}, fires)
}

func TestIntervalAdvanceSkipsMissedPeriods(t *testing.T) {
	s, err := Prepare(Model{ID: "i", Kind: KindInterval, IntervalMillis: 1000, Repeat: true}, time.UnixMilli(0))
	require.NoError(t, err)

	next, ok := s.Advance(time.UnixMilli(10_500))
	require.True(t, ok)
	assert.Equal(t, int64(11_000), next.Model().NextFireAt)

	// Exactly on a period boundary: strictly after now.
	next, ok = s.Advance(time.UnixMilli(7_000))
	require.True(t, ok)
	assert.Equal(t, int64(8_000), next.Model().NextFireAt)
}

func TestAdvanceNonRepeatingRemoves(t *testing.T) {
	s, err := Prepare(Model{ID: "i", Kind: KindInterval, IntervalMillis: 1000}, time.UnixMilli(0))
	require.NoError(t, err)
	_, ok := s.Advance(time.UnixMilli(1000))
	assert.False(t, ok)
}

func TestModelCloneCopiesPayload(t *testing.T) {
	m := Model{Payload: []byte(`{"a":1}`)}
	cp := m.Clone()
	cp.Payload[2] = 'b'
	assert.Equal(t, `{"a":1}`, string(m.Payload))
}

func TestLessOrdersByTimeThenID(t *testing.T) {
	assert.True(t, Less(Model{ID: "b", NextFireAt: 1}, Model{ID: "a", NextFireAt: 2}))
	assert.True(t, Less(Model{ID: "a", NextFireAt: 2}, Model{ID: "b", NextFireAt: 2}))
	assert.False(t, Less(Model{ID: "b", NextFireAt: 2}, Model{ID: "a", NextFireAt: 2}))
}
