package sleepctl

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/wvh-ops/watchdogd/internal/lifecycle"
)

// Schedule constants. Nights end at 23:59; mornings start at 08:00.
// Maintenance shutdowns happen Monday and Wednesday night, so Tuesday and
// Thursday are maintenance days with no morning wake.
const (
	sleepHour, sleepMinute = 23, 59
	warnHour, warnMinute   = 23, 29
	wakeHour, wakeMinute   = 8, 0
)

// scheduleAction is what a clock tick decided to do.
type scheduleAction int

const (
	actionNone scheduleAction = iota
	actionMaintenanceWarn
	actionMaintenanceSleep
	actionNightlySleep
	actionMorningWake
)

// Scheduler drives the nightly sleep and maintenance calendar. It checks the
// wall clock on a short tick and fires each schedule point at most once per
// day.
type Scheduler struct {
	manager   *Manager
	lc        Lifecycle
	broadcast Broadcaster

	now func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
	mu        sync.Mutex
	running   bool
	lastFired map[scheduleAction]string // action -> date it last fired
}

// NewScheduler creates a Scheduler over the sleep manager.
func NewScheduler(manager *Manager, lc Lifecycle, broadcast Broadcaster) *Scheduler {
	return &Scheduler{
		manager:   manager,
		lc:        lc,
		broadcast: broadcast,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		lastFired: make(map[scheduleAction]string),
	}
}

// Start begins the schedule loop in a background goroutine.
// It is safe to call Start multiple times; subsequent calls are no-ops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedCh = make(chan struct{})
	s.mu.Unlock()

	go s.run()
}

// Stop stops the schedule loop. It blocks until the goroutine has exited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	stoppedCh := s.stoppedCh
	s.mu.Unlock()

	<-stoppedCh
}

func (s *Scheduler) run() {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-s.stopCh:
			return
		}
	}
}

// Tick evaluates the schedule once. Exposed for tests.
func (s *Scheduler) Tick() {
	now := s.now()
	action := evaluate(now)
	if action == actionNone || !s.claim(action, now) {
		return
	}

	switch action {
	case actionMaintenanceWarn:
		s.broadcast.Broadcast("⚠️ Server entering maintenance mode in 30 minutes!")

	case actionMaintenanceSleep:
		if _, err := s.manager.Sleep(context.Background(), "maintenance"); err != nil {
			log.Printf("[Scheduler] Maintenance sleep failed: %v", err)
		}

	case actionNightlySleep:
		if _, err := s.manager.Sleep(context.Background(), "nightly"); err != nil {
			log.Printf("[Scheduler] Nightly sleep failed: %v", err)
		}

	case actionMorningWake:
		s.broadcast.Broadcast("☀️ Good morning! Starting the server.")
		reply := s.lc.Handle(context.Background(), lifecycle.CommandStart)
		if reply.Err != nil {
			log.Printf("[Scheduler] Morning start failed: %v", reply.Err)
		}
	}
}

// claim marks an action as fired for today; returns false if already fired.
func (s *Scheduler) claim(action scheduleAction, now time.Time) bool {
	date := now.Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFired[action] == date {
		return false
	}
	s.lastFired[action] = date
	return true
}

// evaluate maps a wall-clock instant to the schedule action due at it.
func evaluate(now time.Time) scheduleAction {
	weekday := now.Weekday()
	maintenanceNight := weekday == time.Monday || weekday == time.Wednesday
	maintenanceDay := weekday == time.Tuesday || weekday == time.Thursday

	switch {
	case maintenanceNight && at(now, warnHour, warnMinute):
		return actionMaintenanceWarn
	case maintenanceNight && at(now, sleepHour, sleepMinute):
		return actionMaintenanceSleep
	case at(now, sleepHour, sleepMinute):
		return actionNightlySleep
	case !maintenanceDay && at(now, wakeHour, wakeMinute):
		return actionMorningWake
	default:
		return actionNone
	}
}

// at reports whether now falls in the given minute.
func at(now time.Time, hour, minute int) bool {
	return now.Hour() == hour && now.Minute() == minute
}
