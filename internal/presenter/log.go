package presenter

import (
	"context"
	"time"

	"pushbridge/internal/eventbus"
	logx "pushbridge/pkg/logx"
)

// EventPresented is published on the bus for every notification shown by Log.
const EventPresented = "notification.presented"

// Log writes notifications to the log and, when a bus is set, republishes
// them so in-process subscribers can act as the notification surface.
type Log struct {
	log logx.Logger
	bus eventbus.Bus
}

func NewLog(log logx.Logger, bus eventbus.Bus) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log, bus: bus}
}

func (p *Log) Present(ctx context.Context, n Notification) error {
	c := ContentOf(n.Payload)
	p.log.Info("notification",
		logx.String("schedule_id", n.ScheduleID),
		logx.Int("notification_id", int(n.NotificationID)),
		logx.String("owner", n.Owner),
		logx.String("title", c.Title),
		logx.String("body", c.Body),
		logx.Duration("late", n.FiredAt.Sub(n.ScheduledFor).Round(time.Millisecond)),
	)
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: EventPresented, Time: n.FiredAt, Data: n})
	}
	return nil
}
