package scheduler

import (
	"time"

	"pushbridge/internal/eventbus"
	"pushbridge/internal/schedule"
)

const (
	EventAdded          = "schedule.added"
	EventFired          = "schedule.fired"
	EventRemoved        = "schedule.removed"
	EventPresenterError = "schedule.presenter_error"
)

// ScheduleEvent is the Data of every schedule.* bus event.
type ScheduleEvent struct {
	ID         string        `json:"id"`
	Owner      string        `json:"owner"`
	Kind       schedule.Kind `json:"kind"`
	NextFireAt time.Time     `json:"next_fire_at,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func (m *Manager) publish(typ string, md schedule.Model, at time.Time, reason string, err error) {
	if m.bus == nil {
		return
	}
	ev := ScheduleEvent{ID: md.ID, Owner: md.Owner, Kind: md.Kind, Reason: reason}
	if md.NextFireAt != 0 {
		ev.NextFireAt = md.NextFireTime()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	m.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}
