package service

import (
	"sync"
	"time"
)

// VotingSession is the polling window during which verification steps are accepted
type VotingSession struct {
	startTime time.Time
	endTime   time.Time
	isActive  bool
	mu        sync.RWMutex
	now       func() time.Time
}

func NewVotingSession(duration time.Duration) *VotingSession {
	return newVotingSession(time.Now, duration)
}

func newVotingSession(now func() time.Time, duration time.Duration) *VotingSession {
	start := now()
	return &VotingSession{
		startTime: start,
		endTime:   start.Add(duration),
		isActive:  true,
		now:       now,
	}
}

func (vs *VotingSession) IsActive() bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.isActive && vs.now().Before(vs.endTime)
}

func (vs *VotingSession) End() {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.isActive = false
}

// Window returns the session's opening and closing time
func (vs *VotingSession) Window() (time.Time, time.Time) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.startTime, vs.endTime
}

// Remaining returns the time left before the session closes, zero once closed
func (vs *VotingSession) Remaining() time.Duration {
	if !vs.IsActive() {
		return 0
	}
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.endTime.Sub(vs.now())
}
