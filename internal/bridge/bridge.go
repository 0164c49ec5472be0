// Package bridge is the inbound surface callers use to schedule, cancel and
// inspect notifications. It turns caller options into schedule models and
// hands them to the schedule manager.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"pushbridge/internal/schedule"
	logx "pushbridge/pkg/logx"
)

var (
	// ErrOwnerRequired is returned when a request names no owner.
	ErrOwnerRequired = fmt.Errorf("%w: owner is required", schedule.ErrInvalidSchedule)
	// ErrNotFound is returned by Get for unknown ids.
	ErrNotFound = errors.New("bridge: schedule not found")
)

// Scheduler is the part of the schedule manager the bridge drives.
type Scheduler interface {
	Add(ctx context.Context, md schedule.Model) (string, error)
	Remove(ctx context.Context, id string) (bool, error)
	RemoveAll(ctx context.Context, owner string) (int, error)
	RemoveByNotificationID(ctx context.Context, nid int32) ([]string, error)
	Get(id string) (schedule.Model, bool)
	List() []schedule.Model
	ListByOwner(owner string) []schedule.Model
}

// TimerOptions schedules a notification IntervalMillis from now, and every
// IntervalMillis after that when Repeat is set.
type TimerOptions struct {
	IntervalMillis int64 `json:"interval_ms"`
	Repeat         bool  `json:"repeat"`
}

// CalendarOptions schedules on a cron expression or on calendar fields.
// Exactly one of Cron and Spec must be set.
type CalendarOptions struct {
	Cron   string                 `json:"cron,omitempty"`
	Spec   *schedule.CalendarSpec `json:"spec,omitempty"`
	Repeat bool                   `json:"repeat"`
}

// Envelope is the payload stored with every schedule and handed to the
// presenter on fire.
type Envelope struct {
	Data  json.RawMessage `json:"data"`
	Owner string          `json:"owner"`
}

type Bridge struct {
	sched Scheduler
	log   logx.Logger
	// notificationID is swapped in tests.
	notificationID func() int32
}

func New(sched Scheduler, log logx.Logger) *Bridge {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bridge{
		sched:          sched,
		log:            log.With(logx.Comp("bridge")),
		notificationID: randomNotificationID,
	}
}

// randomNotificationID returns a value in [1, MaxInt32].
func randomNotificationID() int32 {
	return rand.Int32N(math.MaxInt32) + 1
}

// ScheduleWithTimer adds an interval schedule and returns its id.
func (b *Bridge) ScheduleWithTimer(ctx context.Context, owner string, data json.RawMessage, opts TimerOptions) (string, error) {
	payload, owner, err := envelope(owner, data)
	if err != nil {
		return "", err
	}
	md := schedule.Model{
		Kind:           schedule.KindInterval,
		Owner:          owner,
		NotificationID: b.notificationID(),
		Payload:        payload,
		Repeat:         opts.Repeat,
		IntervalMillis: opts.IntervalMillis,
	}
	return b.add(ctx, md)
}

// ScheduleAt adds an interval schedule whose first fire is at rather than
// IntervalMillis from now. Without Repeat the interval may be zero.
func (b *Bridge) ScheduleAt(ctx context.Context, owner string, data json.RawMessage, at time.Time, opts TimerOptions) (string, error) {
	if at.IsZero() {
		return "", fmt.Errorf("%w: fire time is required", schedule.ErrInvalidSchedule)
	}
	payload, owner, err := envelope(owner, data)
	if err != nil {
		return "", err
	}
	md := schedule.Model{
		Kind:           schedule.KindInterval,
		Owner:          owner,
		NotificationID: b.notificationID(),
		Payload:        payload,
		Repeat:         opts.Repeat,
		IntervalMillis: opts.IntervalMillis,
		NextFireAt:     at.UnixMilli(),
	}
	return b.add(ctx, md)
}

// ScheduleWithCalendar adds a calendar schedule and returns its id.
func (b *Bridge) ScheduleWithCalendar(ctx context.Context, owner string, data json.RawMessage, opts CalendarOptions) (string, error) {
	payload, owner, err := envelope(owner, data)
	if err != nil {
		return "", err
	}
	expr := strings.TrimSpace(opts.Cron)
	switch {
	case expr != "" && opts.Spec != nil:
		return "", fmt.Errorf("%w: set either cron or spec, not both", schedule.ErrInvalidSchedule)
	case opts.Spec != nil:
		if expr, err = opts.Spec.Expression(); err != nil {
			return "", err
		}
	case expr == "":
		return "", fmt.Errorf("%w: cron or spec is required", schedule.ErrInvalidSchedule)
	}
	md := schedule.Model{
		Kind:           schedule.KindCalendar,
		Owner:          owner,
		NotificationID: b.notificationID(),
		Payload:        payload,
		Repeat:         opts.Repeat,
		CronExpression: expr,
	}
	return b.add(ctx, md)
}

func (b *Bridge) add(ctx context.Context, md schedule.Model) (string, error) {
	id, err := b.sched.Add(ctx, md)
	if err != nil {
		b.log.Debug("schedule rejected", logx.String("owner", md.Owner), logx.String("kind", string(md.Kind)), logx.Err(err))
		return "", err
	}
	b.log.Info("scheduled",
		logx.String("id", id),
		logx.String("owner", md.Owner),
		logx.String("kind", string(md.Kind)),
		logx.Bool("repeat", md.Repeat),
	)
	return id, nil
}

// Cancel removes one schedule. Unknown ids are not an error.
func (b *Bridge) Cancel(ctx context.Context, id string) (bool, error) {
	removed, err := b.sched.Remove(ctx, strings.TrimSpace(id))
	if err != nil {
		return false, err
	}
	if removed {
		b.log.Info("schedule cancelled", logx.String("id", id))
	}
	return removed, nil
}

// CancelAll removes every schedule of owner and reports how many were removed.
func (b *Bridge) CancelAll(ctx context.Context, owner string) (int, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return 0, ErrOwnerRequired
	}
	n, err := b.sched.RemoveAll(ctx, owner)
	if err != nil {
		return 0, err
	}
	b.log.Info("owner schedules cancelled", logx.String("owner", owner), logx.Int("count", n))
	return n, nil
}

// CancelByNotificationID removes every schedule presented under nid and
// returns the removed schedule ids.
func (b *Bridge) CancelByNotificationID(ctx context.Context, nid int32) ([]string, error) {
	if nid <= 0 {
		return nil, fmt.Errorf("%w: notification id must be > 0 (got %d)", schedule.ErrInvalidSchedule, nid)
	}
	ids, err := b.sched.RemoveByNotificationID(ctx, nid)
	if err != nil {
		return nil, err
	}
	b.log.Info("notification schedules cancelled", logx.Int("notification_id", int(nid)), logx.Strings("ids", ids))
	return ids, nil
}

func (b *Bridge) Get(_ context.Context, id string) (schedule.Model, error) {
	md, ok := b.sched.Get(strings.TrimSpace(id))
	if !ok {
		return schedule.Model{}, ErrNotFound
	}
	return md, nil
}

// List returns the schedules of owner, or every schedule when owner is empty.
func (b *Bridge) List(_ context.Context, owner string) []schedule.Model {
	if owner = strings.TrimSpace(owner); owner == "" {
		return b.sched.List()
	}
	return b.sched.ListByOwner(owner)
}

// envelope wraps caller data as {"data": ..., "owner": ...}. Missing data
// becomes an empty object; malformed JSON is rejected.
func envelope(owner string, data json.RawMessage) (json.RawMessage, string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, "", ErrOwnerRequired
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		data = json.RawMessage(`{}`)
	}
	if !json.Valid(data) {
		return nil, "", fmt.Errorf("%w: data is not valid JSON", schedule.ErrInvalidSchedule)
	}
	b, err := json.Marshal(Envelope{Data: data, Owner: owner})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", schedule.ErrInvalidSchedule, err)
	}
	return b, owner, nil
}
