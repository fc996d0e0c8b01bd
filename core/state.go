package core

import "sync"

// State is the execution state of a single node: idle -> executing ->
// completed | error. Result and error are never both set.
//
// The engine is the only writer; observers on other goroutines may read.
type State struct {
	mu     sync.RWMutex
	status Status
	result any
	err    string
}

// Status returns the current status. The zero State reports StatusIdle.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return StatusIdle
	}
	return s.status
}

// Result returns the last successful output, or nil.
func (s *State) Result() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Error returns the last failure message, or "".
func (s *State) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Reset returns the node to idle and clears result and error.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusIdle
	s.result = nil
	s.err = ""
}

// MarkExecuting moves the node into the executing state.
func (s *State) MarkExecuting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusExecuting
	s.result = nil
	s.err = ""
}

// MarkCompleted stores a successful result.
func (s *State) MarkCompleted(result any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusCompleted
	s.result = result
	s.err = ""
}

// MarkFailed stores a failure message.
func (s *State) MarkFailed(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.result = nil
	s.err = message
}
