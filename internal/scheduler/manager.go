package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"pushbridge/internal/eventbus"
	"pushbridge/internal/presenter"
	"pushbridge/internal/schedule"
	"pushbridge/internal/storage"
	logx "pushbridge/pkg/logx"
)

const (
	defaultPresenterTimeout = 10 * time.Second
	// retryDelay bounds how long a failed post-fire store write waits for the next attempt.
	retryDelay = 5 * time.Second
)

type Option func(*Manager)

func WithLogger(log logx.Logger) Option { return func(m *Manager) { m.log = log } }
func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }
func WithAlarm(f AlarmFactory) Option { return func(m *Manager) { m.alarmFactory = f } }
func WithBus(b eventbus.Bus) Option { return func(m *Manager) { m.bus = b } }
func WithRegisterer(r prometheus.Registerer) Option { return func(m *Manager) { m.registerer = r } }

// WithLocation sets the timezone calendar expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// WithPresenterTimeout bounds each presenter call.
func WithPresenterTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.presentTimeout = d
		}
	}
}

// WithMaxBatch caps how many due entries one wake fires; the rest fire on an
// immediate follow-up wake. 0 means no cap.
func WithMaxBatch(n int) Option { return func(m *Manager) { m.maxBatch = n } }

// Manager coordinates the store, the in-memory index and the alarm.
type Manager struct {
	mu sync.Mutex

	log          logx.Logger
	store        storage.Store
	presenter    presenter.Presenter
	clock        Clock
	alarmFactory AlarmFactory
	alarm        Alarm
	bus          eventbus.Bus
	registerer   prometheus.Registerer
	metrics      *metrics

	loc            *time.Location
	presentTimeout time.Duration
	maxBatch       int

	running   bool
	runCtx    context.Context
	runCancel context.CancelFunc

	index    map[string]*schedule.Scheduler
	inflight map[string]struct{}
	// Post-fire writes the store rejected, retried on the next wake.
	unsaved   map[string]*schedule.Scheduler
	unremoved map[string]struct{}
	armedAt   time.Time

	wakeMu sync.Mutex
	wakes  sync.WaitGroup
}

// Snapshot is a point-in-time view of the manager.
type Snapshot struct {
	Running       bool      `json:"running"`
	Location      string    `json:"location"`
	ArmedAt       time.Time `json:"armed_at,omitempty"`
	Pending       int       `json:"pending"`
	InFlight      int       `json:"in_flight"`
	UnsavedWrites int       `json:"unsaved_writes"`
}

type firing struct {
	s     *schedule.Scheduler
	model schedule.Model
}

func New(store storage.Store, p presenter.Presenter, opts ...Option) *Manager {
	m := &Manager{
		log:            logx.Nop(),
		store:          store,
		presenter:      p,
		clock:          systemClock{},
		loc:            time.Local,
		presentTimeout: defaultPresenterTimeout,
		index:          map[string]*schedule.Scheduler{},
		inflight:       map[string]struct{}{},
		unsaved:        map[string]*schedule.Scheduler{},
		unremoved:      map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	if m.alarmFactory == nil {
		clock := m.clock
		m.alarmFactory = func(fire func()) Alarm { return newTimerAlarm(clock, fire) }
	}
	m.metrics = newMetrics(m.registerer)
	return m
}

// Start reloads every stored schedule and arms the alarm for the soonest one.
// Entries that came due while the process was down fire once on the first wake.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	models, err := m.store.List(ctx)
	if err != nil {
		m.metrics.storeErrs.WithLabelValues("list").Inc()
		return fmt.Errorf("load schedules: %w", err)
	}

	m.index = make(map[string]*schedule.Scheduler, len(models))
	now := m.nowLocked()
	overdue := 0
	for _, md := range models {
		s, err := schedule.New(md)
		if err != nil {
			m.log.Warn("dropping invalid stored schedule", logx.String("id", md.ID), logx.Err(err))
			if _, rerr := m.store.Remove(ctx, md.ID); rerr != nil {
				m.metrics.storeErrs.WithLabelValues("remove").Inc()
			}
			m.metrics.removed.WithLabelValues(reasonInvalid).Inc()
			continue
		}
		if s.Due(now) {
			overdue++
		}
		m.index[s.ID()] = s
	}

	m.runCtx, m.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	m.alarm = m.alarmFactory(m.wake)
	m.running = true
	m.rearmLocked(now)

	m.log.Info("scheduler started",
		logx.Int("schedules", len(m.index)),
		logx.Int("overdue", overdue),
		logx.String("tz", m.loc.String()),
	)
	return nil
}

// PresenterTimeout is the bound on one presenter call.
func (m *Manager) PresenterTimeout() time.Duration { return m.presentTimeout }

// Shutdown stops arming, waits for an in-progress wake to finish its
// bookkeeping and makes a last attempt at queued store writes.
//
// When ctx expires first, in-flight presenter calls are cancelled and the
// wake still gets up to one presenter timeout to record its results. If it
// has not finished by then, ErrBookkeepingPending is returned and the store
// must stay open.
func (m *Manager) Shutdown(ctx context.Context) error {
	start := time.Now()
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.alarm.Close()
	m.armedAt = time.Time{}
	m.metrics.armedTimestamp.Set(0)
	cancel := m.runCancel
	grace := m.presentTimeout
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wakes.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
	case <-ctx.Done():
		cancel()
		m.log.Warn("scheduler shutdown deadline exceeded; aborting presenter calls", logx.Duration("took", time.Since(start)))
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			m.log.Error("scheduler bookkeeping still running", logx.Duration("took", time.Since(start)))
			return fmt.Errorf("%w: %w", ErrBookkeepingPending, ctx.Err())
		}
		fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), retryDelay)
		defer fcancel()
		ctx = fctx
	}

	m.mu.Lock()
	m.flushLocked(ctx)
	left := len(m.unsaved) + len(m.unremoved)
	m.mu.Unlock()
	if left > 0 {
		m.log.Warn("scheduler stopped with unsaved writes", logx.Int("count", left))
	}
	m.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return nil
}

// Add validates md, persists it and re-arms if it is now the soonest entry.
// An empty id is replaced by a generated one; an existing id is overwritten.
//
// Errors: schedule.ErrInvalidSchedule (nothing persisted), ErrSchedulingFailed,
// ErrNotRunning.
func (m *Manager) Add(ctx context.Context, md schedule.Model) (string, error) {
	md.ID = strings.TrimSpace(md.ID)
	if md.ID == "" {
		md.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return "", ErrNotRunning
	}
	now := m.nowLocked()
	s, err := schedule.Prepare(md, now)
	if err != nil {
		return "", err
	}
	stored := s.Model()
	if err := m.store.Put(ctx, stored); err != nil {
		m.metrics.storeErrs.WithLabelValues("put").Inc()
		return "", schedulingFailed("put", stored.ID, err)
	}
	m.index[stored.ID] = s
	delete(m.unsaved, stored.ID)
	delete(m.unremoved, stored.ID)

	m.metrics.added.WithLabelValues(string(stored.Kind)).Inc()
	m.log.Debug("schedule added",
		logx.String("id", stored.ID),
		logx.String("kind", string(stored.Kind)),
		logx.String("owner", stored.Owner),
		logx.Time("next", stored.NextFireTime()),
	)
	m.publish(EventAdded, stored, now, "", nil)
	m.rearmLocked(now)
	return stored.ID, nil
}

// Remove cancels one schedule. Removing an unknown id reports false, not an error.
func (m *Manager) Remove(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false, ErrNotRunning
	}
	return m.removeLocked(ctx, id)
}

// RemoveByNotificationID cancels every pending schedule carrying the
// presenter-facing notification id nid and returns their ids.
func (m *Manager) RemoveByNotificationID(ctx context.Context, nid int32) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil, ErrNotRunning
	}
	var ids []string
	for id, s := range m.index {
		if s.NotificationID() == nid {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	removed := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := m.removeLocked(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, id)
		}
	}
	return removed, nil
}

func (m *Manager) removeLocked(ctx context.Context, id string) (bool, error) {
	s, ok := m.index[id]
	if _, err := m.store.Remove(ctx, id); err != nil {
		m.metrics.storeErrs.WithLabelValues("remove").Inc()
		return false, schedulingFailed("remove", id, err)
	}
	delete(m.unsaved, id)
	delete(m.unremoved, id)
	if !ok {
		return false, nil
	}
	delete(m.index, id)

	now := m.nowLocked()
	m.metrics.removed.WithLabelValues(reasonCancelled).Inc()
	m.log.Debug("schedule removed", logx.String("id", id))
	m.publish(EventRemoved, s.Model(), now, reasonCancelled, nil)
	m.rearmLocked(now)
	return true, nil
}

// RemoveAll cancels every schedule owned by owner and returns how many were pending.
func (m *Manager) RemoveAll(ctx context.Context, owner string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return 0, ErrNotRunning
	}
	if _, err := m.store.RemoveByOwner(ctx, owner); err != nil {
		m.metrics.storeErrs.WithLabelValues("remove_owner").Inc()
		return 0, schedulingFailed("remove_owner", owner, err)
	}
	now := m.nowLocked()
	n := 0
	for id, s := range m.index {
		if s.Owner() != owner {
			continue
		}
		delete(m.index, id)
		delete(m.unsaved, id)
		n++
		m.publish(EventRemoved, s.Model(), now, reasonOwner, nil)
	}
	m.metrics.removed.WithLabelValues(reasonOwner).Add(float64(n))
	m.log.Debug("owner schedules removed", logx.String("owner", owner), logx.Int("count", n))
	m.rearmLocked(now)
	return n, nil
}

func (m *Manager) Get(id string) (schedule.Model, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.index[id]
	if !ok {
		return schedule.Model{}, false
	}
	return s.Model(), true
}

// List returns every pending schedule ordered by next fire time, then id.
func (m *Manager) List() []schedule.Model {
	return m.list(func(*schedule.Scheduler) bool { return true })
}

func (m *Manager) ListByOwner(owner string) []schedule.Model {
	return m.list(func(s *schedule.Scheduler) bool { return s.Owner() == owner })
}

func (m *Manager) list(keep func(*schedule.Scheduler) bool) []schedule.Model {
	m.mu.Lock()
	out := make([]schedule.Model, 0, len(m.index))
	for _, s := range m.index {
		if keep(s) {
			out = append(out, s.Model())
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return schedule.Less(out[i], out[j]) })
	return out
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Running:       m.running,
		Location:      m.loc.String(),
		ArmedAt:       m.armedAt,
		Pending:       len(m.index),
		InFlight:      len(m.inflight),
		UnsavedWrites: len(m.unsaved) + len(m.unremoved),
	}
}

// SetLocation switches the calendar timezone. Pending calendar entries that
// are not yet due get their next fire time recomputed in the new zone.
func (m *Manager) SetLocation(ctx context.Context, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loc.String() == loc.String() {
		return
	}
	old := m.loc
	m.loc = loc
	if !m.running {
		return
	}
	now := m.nowLocked()
	rebased := 0
	for id, s := range m.index {
		if s.Kind() != schedule.KindCalendar || s.Due(now) {
			continue
		}
		if _, busy := m.inflight[id]; busy {
			continue
		}
		next, ok := s.Rebase(now)
		if !ok {
			delete(m.index, id)
			m.removeStoredLocked(ctx, id)
			m.metrics.removed.WithLabelValues(reasonExhausted).Inc()
			continue
		}
		m.index[id] = next
		m.saveLocked(ctx, next)
		rebased++
	}
	m.log.Info("scheduler timezone changed", logx.String("from", old.String()), logx.String("to", loc.String()), logx.Int("rebased", rebased))
	m.rearmLocked(now)
}

// wake fires every due entry. It is the alarm callback and may run late,
// early or concurrently with other operations.
func (m *Manager) wake() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.wakes.Add(1)
	m.mu.Unlock()
	defer m.wakes.Done()

	// One wake at a time keeps same-wake firing order deterministic.
	m.wakeMu.Lock()
	defer m.wakeMu.Unlock()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	ctx := m.runCtx
	now := m.nowLocked()
	m.flushLocked(ctx)
	due := m.collectDueLocked(now)
	timeout := m.presentTimeout
	if len(due) == 0 {
		m.rearmLocked(now)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	results := make([]error, len(due))
	for i, f := range due {
		results[i] = m.present(ctx, f.model, timeout)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now = m.nowLocked()
	for i, f := range due {
		m.finishLocked(ctx, f, results[i], now)
	}
	if m.running {
		m.rearmLocked(now)
	}
}

// collectDueLocked copies out due entries in firing order and marks them in flight.
func (m *Manager) collectDueLocked(now time.Time) []firing {
	var due []*schedule.Scheduler
	for id, s := range m.index {
		if _, busy := m.inflight[id]; busy {
			continue
		}
		if s.Due(now) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.NextFireAt() != b.NextFireAt() {
			return a.NextFireAt() < b.NextFireAt()
		}
		return a.ID() < b.ID()
	})
	if m.maxBatch > 0 && len(due) > m.maxBatch {
		due = due[:m.maxBatch]
	}
	out := make([]firing, 0, len(due))
	for _, s := range due {
		m.inflight[s.ID()] = struct{}{}
		out = append(out, firing{s: s, model: s.Model()})
	}
	return out
}

func (m *Manager) present(ctx context.Context, md schedule.Model, timeout time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in presenter", logx.String("id", md.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = &PresenterError{ID: md.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	n := presenter.Notification{
		ScheduleID:     md.ID,
		NotificationID: md.NotificationID,
		Owner:          md.Owner,
		Payload:        md.Payload,
		ScheduledFor:   md.NextFireTime(),
		FiredAt:        m.clock.Now(),
	}
	if err := m.presenter.Present(pctx, n); err != nil {
		return &PresenterError{ID: md.ID, Err: err}
	}
	return nil
}

// finishLocked applies the repeat rule to one fired entry. Presenter failures
// do not change the outcome: the occurrence is spent either way.
func (m *Manager) finishLocked(ctx context.Context, f firing, perr error, now time.Time) {
	id := f.model.ID
	delete(m.inflight, id)

	kind := string(f.model.Kind)
	m.metrics.fired.WithLabelValues(kind).Inc()
	if perr != nil {
		m.metrics.presenterErrs.Inc()
		m.log.Warn("presenter failed", logx.String("id", id), logx.String("owner", f.model.Owner), logx.Err(perr))
		m.publish(EventPresenterError, f.model, now, "", perr)
	}
	m.publish(EventFired, f.model, now, "", nil)

	// Removed or replaced while the presenter ran.
	if cur, ok := m.index[id]; !ok || cur != f.s {
		return
	}

	next, ok := f.s.Advance(now)
	if !ok {
		reason := reasonCompleted
		if f.model.Repeat {
			reason = reasonExhausted
		}
		delete(m.index, id)
		m.removeStoredLocked(ctx, id)
		m.metrics.removed.WithLabelValues(reason).Inc()
		m.publish(EventRemoved, f.model, now, reason, nil)
		m.log.Debug("schedule finished", logx.String("id", id), logx.String("reason", reason))
		return
	}
	m.index[id] = next
	m.saveLocked(ctx, next)
	m.log.Debug("schedule rearmed", logx.String("id", id), logx.Time("next", time.UnixMilli(next.NextFireAt())))
}

func (m *Manager) saveLocked(ctx context.Context, s *schedule.Scheduler) {
	if err := m.store.Put(ctx, s.Model()); err != nil {
		m.metrics.storeErrs.WithLabelValues("put").Inc()
		m.log.Error("store write failed; will retry", logx.String("id", s.ID()), logx.Err(err))
		m.unsaved[s.ID()] = s
		return
	}
	delete(m.unsaved, s.ID())
}

func (m *Manager) removeStoredLocked(ctx context.Context, id string) {
	delete(m.unsaved, id)
	if _, err := m.store.Remove(ctx, id); err != nil {
		m.metrics.storeErrs.WithLabelValues("remove").Inc()
		m.log.Error("store delete failed; will retry", logx.String("id", id), logx.Err(err))
		m.unremoved[id] = struct{}{}
		return
	}
	delete(m.unremoved, id)
}

// flushLocked retries queued store writes.
func (m *Manager) flushLocked(ctx context.Context) {
	for id, s := range m.unsaved {
		if cur, ok := m.index[id]; !ok || cur != s {
			delete(m.unsaved, id)
			continue
		}
		m.saveLocked(ctx, s)
	}
	for id := range m.unremoved {
		m.removeStoredLocked(ctx, id)
	}
}

// rearmLocked arms the alarm for the soonest entry not already in flight, or
// for the retry deadline when store writes are queued.
func (m *Manager) rearmLocked(now time.Time) {
	var soonest int64
	found := false
	for id, s := range m.index {
		if _, busy := m.inflight[id]; busy {
			continue
		}
		if at := s.NextFireAt(); !found || at < soonest {
			soonest, found = at, true
		}
	}
	if len(m.unsaved)+len(m.unremoved) > 0 {
		if retry := now.Add(retryDelay).UnixMilli(); !found || retry < soonest {
			soonest, found = retry, true
		}
	}
	m.metrics.pending.Set(float64(len(m.index)))
	if !found {
		m.alarm.Disarm()
		m.armedAt = time.Time{}
		m.metrics.armedTimestamp.Set(0)
		return
	}
	at := time.UnixMilli(soonest).In(m.loc)
	m.alarm.Arm(at)
	m.armedAt = at
	m.metrics.armedTimestamp.Set(float64(soonest) / 1000)
}

func (m *Manager) nowLocked() time.Time {
	return m.clock.Now().In(m.loc)
}

// LoadLocation resolves an IANA zone name, falling back to Local.
func LoadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
