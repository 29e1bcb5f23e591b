package runner

import (
	"fmt"
	"sync"
	"time"
)

// UnitStatus is where a unit is in its run.
type UnitStatus string

const (
	UnitStatusPending   UnitStatus = "pending"
	UnitStatusRunning   UnitStatus = "running"
	UnitStatusSucceeded UnitStatus = "succeeded"
	UnitStatusFallback  UnitStatus = "fallback"
	UnitStatusFailed    UnitStatus = "failed"
)

// IsFinal reports whether the status ends the unit's run.
func (s UnitStatus) IsFinal() bool {
	return s == UnitStatusSucceeded || s == UnitStatusFallback || s == UnitStatusFailed
}

var transitions = map[UnitStatus][]UnitStatus{
	UnitStatusPending: {UnitStatusRunning},
	UnitStatusRunning: {UnitStatusSucceeded, UnitStatusFallback, UnitStatusFailed},
}

// UnitState tracks one unit through a run.
type UnitState struct {
	Name      string        `json:"name"`
	Status    UnitStatus    `json:"status"`
	StartTime time.Time     `json:"start_time,omitempty"`
	EndTime   time.Time     `json:"end_time,omitempty"`
	Rows      int           `json:"rows"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// runState holds the states of every unit selected for a run.
type runState struct {
	mu     sync.RWMutex
	states map[string]*UnitState
	order  []string
}

func newRunState(names []string) *runState {
	s := &runState{states: make(map[string]*UnitState, len(names))}
	for _, name := range names {
		s.states[name] = &UnitState{Name: name, Status: UnitStatusPending}
		s.order = append(s.order, name)
	}
	return s
}

// transition moves a unit to status, rejecting moves the state machine
// does not allow.
func (s *runState) transition(name string, status UnitStatus, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok {
		return fmt.Errorf("unit %s is not part of this run", name)
	}
	if !contains(statusNames(transitions[st.Status]), string(status)) {
		return fmt.Errorf("unit %s cannot move from %s to %s", name, st.Status, status)
	}
	now := time.Now()
	st.Status = status
	switch {
	case status == UnitStatusRunning:
		st.StartTime = now
	case status.IsFinal():
		st.EndTime = now
		st.Duration = now.Sub(st.StartTime)
	}
	if err != nil {
		st.Error = err.Error()
	}
	return nil
}

func (s *runState) setRows(name string, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[name]; ok {
		st.Rows = rows
	}
}

func (s *runState) status(name string) UnitStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[name]; ok {
		return st.Status
	}
	return ""
}

// snapshot copies the states in run order.
func (s *runState) snapshot() []UnitState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UnitState, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.states[name])
	}
	return out
}

func statusNames(list []UnitStatus) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}
