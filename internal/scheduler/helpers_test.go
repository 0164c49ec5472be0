package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pushbridge/internal/eventbus"
	"pushbridge/internal/presenter"
	"pushbridge/internal/schedule"
	"pushbridge/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// manualAlarm records the armed time; tests fire it explicitly.
type manualAlarm struct {
	mu    sync.Mutex
	fire  func()
	at    time.Time
	armed bool
}

func (a *manualAlarm) Arm(at time.Time) {
	a.mu.Lock()
	a.at, a.armed = at, true
	a.mu.Unlock()
}

func (a *manualAlarm) Disarm() {
	a.mu.Lock()
	a.armed = false
	a.mu.Unlock()
}

func (a *manualAlarm) Close() { a.Disarm() }

func (a *manualAlarm) Armed() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.at, a.armed
}

// Fire consumes the arm and runs the callback synchronously.
func (a *manualAlarm) Fire() {
	a.mu.Lock()
	a.armed = false
	fire := a.fire
	a.mu.Unlock()
	fire()
}

type recorder struct {
	mu    sync.Mutex
	got   []presenter.Notification
	err   error
	block chan struct{}
	start chan struct{}
	// untilCancel makes Present return only once its context ends.
	untilCancel bool
}

func (r *recorder) Present(ctx context.Context, n presenter.Notification) error {
	if r.start != nil {
		r.start <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	if r.untilCancel {
		<-ctx.Done()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recorder) fired() []presenter.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]presenter.Notification(nil), r.got...)
}

func (r *recorder) ids() []string {
	var out []string
	for _, n := range r.fired() {
		out = append(out, n.ScheduleID)
	}
	return out
}

// flakyStore fails writes on demand.
type flakyStore struct {
	storage.Store
	failPut    atomic.Bool
	failRemove atomic.Bool
}

var errDisk = errors.New("disk full")

func (s *flakyStore) Put(ctx context.Context, m schedule.Model) error {
	if s.failPut.Load() {
		return errDisk
	}
	return s.Store.Put(ctx, m)
}

func (s *flakyStore) Remove(ctx context.Context, id string) (bool, error) {
	if s.failRemove.Load() {
		return false, errDisk
	}
	return s.Store.Remove(ctx, id)
}

type harness struct {
	t     *testing.T
	clock *fakeClock
	alarm *manualAlarm
	store *flakyStore
	pres  *recorder
	bus   eventbus.Bus
	m     *Manager
}

var t0 = time.UnixMilli(0).UTC()

func newHarness(t *testing.T, start time.Time, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		clock: newFakeClock(start),
		alarm: &manualAlarm{},
		store: &flakyStore{Store: storage.NewMemory()},
		pres:  &recorder{},
		bus:   eventbus.New(),
	}
	base := []Option{
		WithClock(h.clock),
		WithAlarm(func(fire func()) Alarm {
			h.alarm.mu.Lock()
			h.alarm.fire = fire
			h.alarm.mu.Unlock()
			return h.alarm
		}),
		WithBus(h.bus),
		WithLocation(time.UTC),
	}
	h.m = New(h.store, h.pres, append(base, opts...)...)
	return h
}

func (h *harness) start() *harness {
	h.t.Helper()
	require.NoError(h.t, h.m.Start(context.Background()))
	h.t.Cleanup(func() { _ = h.m.Shutdown(context.Background()) })
	return h
}

// advance moves the clock to at and fires the alarm for as long as it is due.
func (h *harness) advance(at time.Time) {
	h.t.Helper()
	h.clock.Set(at)
	for i := 0; i < 100; i++ {
		armed, ok := h.alarm.Armed()
		if !ok || armed.After(at) {
			return
		}
		h.alarm.Fire()
	}
	h.t.Fatalf("alarm still due after 100 wakes")
}

func (h *harness) armedAt() (time.Time, bool) { return h.alarm.Armed() }

func interval(id string, every time.Duration, repeat bool) schedule.Model {
	return schedule.Model{ID: id, Kind: schedule.KindInterval, Owner: "exp", IntervalMillis: every.Milliseconds(), Repeat: repeat}
}

func at(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
