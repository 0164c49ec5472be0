package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a validated Model.
//
// It is immutable: Advance returns a new Model instead of mutating in place,
// so the manager can hand copies to presenters without locking.
type Scheduler struct {
	model Model
	cron  cron.Schedule
}

// New validates m and parses its rule. Parsing failures are ErrInvalidSchedule.
func New(m Model) (*Scheduler, error) {
	m.ID = strings.TrimSpace(m.ID)
	s := &Scheduler{model: m.Clone()}
	switch m.Kind {
	case KindInterval:
		// A one-shot at an absolute time needs no interval.
		oneShotAt := !m.Repeat && m.NextFireAt > 0 && m.IntervalMillis == 0
		if m.IntervalMillis <= 0 && !oneShotAt {
			return nil, invalidf("interval must be > 0 (got %dms)", m.IntervalMillis)
		}
	case KindCalendar:
		c, err := ParseCron(m.CronExpression)
		if err != nil {
			return nil, err
		}
		s.cron = c
	case "":
		return nil, invalidf("kind required")
	default:
		return nil, invalidf("unknown kind %q", m.Kind)
	}
	return s, nil
}

// Prepare validates m and fills the derived fields of a fresh request:
// created_at and the first next_fire_at.
//
// Interval: next fire defaults to now+interval and may not be earlier than now.
// Calendar: next fire is the first cron match strictly after now.
func Prepare(m Model, now time.Time) (*Scheduler, error) {
	s, err := New(m)
	if err != nil {
		return nil, err
	}
	nowMs := now.UnixMilli()
	if s.model.CreatedAt == 0 {
		s.model.CreatedAt = nowMs
	}
	switch s.model.Kind {
	case KindInterval:
		if s.model.NextFireAt == 0 {
			s.model.NextFireAt = nowMs + s.model.IntervalMillis
		} else if s.model.NextFireAt < nowMs {
			return nil, invalidf("next fire time %s is before creation time", time.UnixMilli(s.model.NextFireAt).Format(time.RFC3339))
		}
	case KindCalendar:
		next, ok := s.NextFireTime(now)
		if !ok {
			return nil, invalidf("cron %q never fires", s.model.CronExpression)
		}
		s.model.NextFireAt = next.UnixMilli()
	}
	return s, nil
}

func (s *Scheduler) ID() string { return s.model.ID }
func (s *Scheduler) Kind() Kind { return s.model.Kind }
func (s *Scheduler) Owner() string { return s.model.Owner }
func (s *Scheduler) NotificationID() int32 { return s.model.NotificationID }
func (s *Scheduler) NextFireAt() int64 { return s.model.NextFireAt }
func (s *Scheduler) Model() Model { return s.model.Clone() }

// NextFireTime returns the next time this entry should fire.
// ok is false when the rule can never fire again.
//
// Interval entries answer with the stored time (never recomputed lazily).
// Calendar entries evaluate the cron expression strictly after now, in now's location.
func (s *Scheduler) NextFireTime(now time.Time) (time.Time, bool) {
	switch s.model.Kind {
	case KindInterval:
		return time.UnixMilli(s.model.NextFireAt), true
	case KindCalendar:
		if s.cron == nil {
			return time.Time{}, false
		}
		next := s.cron.Next(now)
		if next.IsZero() {
			return time.Time{}, false
		}
		return next, true
	default:
		return time.Time{}, false
	}
}

// Due reports whether the stored next fire time is at or before now.
func (s *Scheduler) Due(now time.Time) bool {
	return s.model.NextFireAt <= now.UnixMilli()
}

// Advance computes the record after a fire at now.
//
// It returns ok=false when the entry must be removed: non-repeating entries,
// or calendar rules without a further occurrence.
//
// Repeating intervals keep their phase: next = previous + interval, and whole
// missed periods are skipped so the result is strictly after now.
func (s *Scheduler) Advance(now time.Time) (*Scheduler, bool) {
	if !s.model.Repeat {
		return nil, false
	}
	nowMs := now.UnixMilli()
	next := s.model.Clone()
	switch s.model.Kind {
	case KindInterval:
		iv := s.model.IntervalMillis
		at := s.model.NextFireAt + iv
		if at <= nowMs {
			missed := (nowMs-at)/iv + 1
			at += missed * iv
		}
		next.NextFireAt = at
	case KindCalendar:
		t, ok := s.NextFireTime(now)
		if !ok {
			return nil, false
		}
		next.NextFireAt = t.UnixMilli()
	default:
		return nil, false
	}
	return &Scheduler{model: next, cron: s.cron}, true
}

// Rebase recomputes a calendar entry's next fire time relative to now, used
// when the evaluation timezone changes. Interval entries are returned as is.
func (s *Scheduler) Rebase(now time.Time) (*Scheduler, bool) {
	if s.model.Kind != KindCalendar {
		return s, true
	}
	t, ok := s.NextFireTime(now)
	if !ok {
		return nil, false
	}
	next := s.model.Clone()
	next.NextFireAt = t.UnixMilli()
	return &Scheduler{model: next, cron: s.cron}, true
}
