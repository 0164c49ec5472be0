// Package presenter delivers fired notifications to their destination.
package presenter

import (
	"context"
	"encoding/json"
	"time"
)

// Notification is one fired occurrence of a schedule.
type Notification struct {
	ScheduleID     string          `json:"schedule_id"`
	NotificationID int32           `json:"notification_id"`
	Owner          string          `json:"owner"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ScheduledFor   time.Time       `json:"scheduled_for"`
	FiredAt        time.Time       `json:"fired_at"`
}

// Presenter shows or dispatches a notification. Implementations should
// return promptly; callers bound each call with a context deadline.
type Presenter interface {
	Present(ctx context.Context, n Notification) error
}

// Func adapts a function to Presenter.
type Func func(ctx context.Context, n Notification) error

func (f Func) Present(ctx context.Context, n Notification) error { return f(ctx, n) }

// Content is the human-facing part of a payload.
type Content struct {
	Title string
	Body  string
}

// ContentOf extracts title and body from a payload. Payloads are either the
// bridge envelope {"data": {...}, "owner": "..."} or a bare object. Recognized
// keys are title and body (or message); anything else falls back to the raw JSON.
func ContentOf(payload json.RawMessage) Content {
	if len(payload) == 0 {
		return Content{}
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	obj := payload
	if err := json.Unmarshal(payload, &env); err == nil && len(env.Data) > 0 {
		obj = env.Data
	}
	var fields struct {
		Title   string `json:"title"`
		Body    string `json:"body"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(obj, &fields); err != nil {
		return Content{Body: string(obj)}
	}
	c := Content{Title: fields.Title, Body: fields.Body}
	if c.Body == "" {
		c.Body = fields.Message
	}
	if c.Title == "" && c.Body == "" {
		c.Body = string(obj)
	}
	return c
}
