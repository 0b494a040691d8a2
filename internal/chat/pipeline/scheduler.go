package pipeline

import (
	"sync"
	"time"
)

// AllowedAutoReplyDelays is the fixed set of auto-reply delays, in minutes.
var AllowedAutoReplyDelays = []int{1, 3, 5, 10, 30, 60}

// NormalizeDelay clamps a configured delay to the nearest allowed value.
// Non-positive input returns the smallest allowed delay.
func NormalizeDelay(minutes int) int {
	if minutes <= 0 {
		return AllowedAutoReplyDelays[0]
	}
	best := AllowedAutoReplyDelays[0]
	for _, d := range AllowedAutoReplyDelays {
		if abs(minutes-d) < abs(minutes-best) {
			best = d
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Scheduler holds at most one pending auto-reply timer per thread. Arming a
// thread always cancels its previous timer first, so re-arming on any state
// change is safe and cheap.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]*time.Timer)}
}

// Arm schedules fn to run after delay for the given thread, replacing any
// previously armed timer for that thread.
func (s *Scheduler) Arm(threadID string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[threadID]; ok {
		t.Stop()
	}
	// The callback may already be blocked on s.mu when Stop returns false
	// (the timer fired before the re-arm). It must not touch the map entry
	// of the timer that replaced it, and must not run its fn either, so it
	// checks that it still owns the entry before doing anything.
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[threadID] != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, threadID)
		s.mu.Unlock()
		fn()
	})
	s.timers[threadID] = t
}

// Cancel stops and removes the thread's pending timer, if any.
func (s *Scheduler) Cancel(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[threadID]; ok {
		t.Stop()
		delete(s.timers, threadID)
	}
}

// CancelAll stops every pending timer. Called on shutdown so no timer fires
// against a closed store.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Armed reports whether the thread currently has a pending timer.
func (s *Scheduler) Armed(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[threadID]
	return ok
}
