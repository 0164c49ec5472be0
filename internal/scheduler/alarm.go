package scheduler

import (
	"sync"
	"time"
)

// Alarm is a single re-armable wake-up. Arming replaces any previous arm.
type Alarm interface {
	Arm(at time.Time)
	Disarm()
	Close()
}

// AlarmFactory builds an alarm that calls fire when it goes off.
type AlarmFactory func(fire func()) Alarm

// timerAlarm arms a time.AfterFunc. A version counter makes callbacks of
// replaced timers no-ops even if they already started running.
type timerAlarm struct {
	mu     sync.Mutex
	clock  Clock
	fire   func()
	timer  *time.Timer
	ver    uint64
	closed bool
}

func newTimerAlarm(clock Clock, fire func()) *timerAlarm {
	return &timerAlarm{clock: clock, fire: fire}
}

func (a *timerAlarm) Arm(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.ver++
	ver := a.ver
	d := at.Sub(a.clock.Now())
	if d < 0 {
		d = 0
	}
	a.timer = time.AfterFunc(d, func() {
		a.mu.Lock()
		stale := a.closed || a.ver != ver
		a.mu.Unlock()
		if stale {
			return
		}
		a.fire()
	})
}

func (a *timerAlarm) Disarm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ver++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *timerAlarm) Close() {
	a.Disarm()
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}
