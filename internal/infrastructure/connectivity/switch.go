package connectivity

import (
	"sync"

	"chatsync/internal/domain/repository"
)

// Switch relays an underlying monitor but lets an operator force the
// reading, e.g. to simulate airplane mode. Releasing the override replays
// the source's latest reading.
type Switch struct {
	mu       sync.Mutex
	forced   *bool
	observed *bool
	hub      *hub
	stop     func()
}

// NewSwitch wraps source, which may be nil for a purely manual monitor.
func NewSwitch(source repository.ConnectivityMonitor) *Switch {
	s := &Switch{hub: newHub()}
	if source != nil {
		s.stop = source.Subscribe(s.observe)
	}
	return s
}

func (s *Switch) Subscribe(fn func(online bool)) func() {
	return s.hub.subscribe(fn)
}

// Force pins the reading to online until Release.
func (s *Switch) Force(online bool) {
	s.mu.Lock()
	s.forced = &online
	s.mu.Unlock()
	s.hub.publish(online, false)
}

// Release drops the override and falls back to the source.
func (s *Switch) Release() {
	s.mu.Lock()
	s.forced = nil
	observed := s.observed
	s.mu.Unlock()
	if observed != nil {
		s.hub.publish(*observed, false)
	}
}

// Forced reports the active override, if any.
func (s *Switch) Forced() (online bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forced == nil {
		return false, false
	}
	return *s.forced, true
}

// Close detaches from the source monitor.
func (s *Switch) Close() {
	if s.stop != nil {
		s.stop()
	}
}

func (s *Switch) observe(online bool) {
	s.mu.Lock()
	s.observed = &online
	forced := s.forced != nil
	s.mu.Unlock()
	if !forced {
		s.hub.publish(online, false)
	}
}
