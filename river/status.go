package river

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Status is the externally observable state of a river
type Status int32

const (
	StatusInit Status = iota
	StatusRunning
	StatusStopped
	StatusStale
	StatusFatal
)

var statusNames = [...]string{
	StatusInit:    "INIT",
	StatusRunning: "RUNNING",
	StatusStopped: "STOPPED",
	StatusStale:   "STALE",
	StatusFatal:   "FATAL",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// ParseStatus parses the String form
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(name, s) {
			return Status(i), nil
		}
	}
	return StatusInit, fmt.Errorf("unknown river status %q", s)
}

// Terminal reports whether no further transition is allowed
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusStale || s == StatusFatal
}

// StatusCell is the shared status flag. Transitions are INIT -> RUNNING ->
// {STOPPED, STALE, FATAL}; INIT may also go straight to a terminal state.
type StatusCell struct {
	v atomic.Int32
}

// Get returns the current status
func (c *StatusCell) Get() Status {
	return Status(c.v.Load())
}

// Transition moves to next when allowed from the current state
func (c *StatusCell) Transition(next Status) bool {
	for {
		cur := c.Get()
		if !allowed(cur, next) {
			return false
		}
		if c.v.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

// RequestStop asks the loop to stop at its next checkpoint
func (c *StatusCell) RequestStop() bool {
	return c.Transition(StatusStopped)
}

func allowed(from, to Status) bool {
	switch from {
	case StatusInit:
		return to != StatusInit
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}
