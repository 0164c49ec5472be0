package schedule

import (
	"encoding/json"
	"time"
)

// Kind discriminates the timing rule of a Model.
type Kind string

const (
	KindInterval Kind = "interval"
	KindCalendar Kind = "calendar"
)

// Model is one scheduled notification.
//
// Timestamps are epoch milliseconds so records are independent of the
// process timezone. Payload is handed to the presenter untouched.
type Model struct {
	ID             string          `json:"id" msgpack:"id"`
	Kind           Kind            `json:"kind" msgpack:"kind"`
	Owner          string          `json:"owner" msgpack:"owner"`
	NotificationID int32           `json:"notification_id,omitempty" msgpack:"notification_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Repeat         bool            `json:"repeat" msgpack:"repeat"`

	// Interval only.
	IntervalMillis int64 `json:"interval_ms,omitempty" msgpack:"interval_ms,omitempty"`
	// Calendar only.
	CronExpression string `json:"cron,omitempty" msgpack:"cron,omitempty"`

	NextFireAt int64 `json:"next_fire_at" msgpack:"next_fire_at"`
	CreatedAt  int64 `json:"created_at" msgpack:"created_at"`
}

// NextFireTime returns the stored next fire time.
func (m Model) NextFireTime() time.Time { return time.UnixMilli(m.NextFireAt) }

// Interval returns the interval as a duration (0 for calendar models).
func (m Model) Interval() time.Duration { return time.Duration(m.IntervalMillis) * time.Millisecond }

// Clone returns a deep copy (payload bytes included).
func (m Model) Clone() Model {
	cp := m
	if m.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	return cp
}

// Less orders models by next fire time, ties broken by id.
func Less(a, b Model) bool {
	if a.NextFireAt != b.NextFireAt {
		return a.NextFireAt < b.NextFireAt
	}
	return a.ID < b.ID
}
