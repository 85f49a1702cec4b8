package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/antibyte/raamcode/pkg/brainfuck"
)

// Session is one interpreter workspace: the loaded source, its compiled program and
// the machine stepping through it. All fields behind mu are only touched by Manager.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	variant      brainfuck.Variant
	source       string
	program      *brainfuck.Program
	machine      *brainfuck.Machine
	next         int          // index the next step resumes from
	lastActivity atomic.Int64 // UnixNano, readable while a run holds mu

	// Rate-Limiting pro Minute
	messageCount int
	windowStart  time.Time
}

// Report is the machine state after an operation
type Report struct {
	SessionID string
	Variant   brainfuck.Variant
	Status    string
	State     brainfuck.State
	Err       error // halting error of the machine, nil on success
}

// Variant returns the glyph set the session compiles with
func (s *Session) Variant() brainfuck.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variant
}

// Source returns the loaded source text
func (s *Session) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// LastActivity returns the time of the last operation. It does not wait for a
// running operation.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// report builds a Report, the caller holds s.mu
func (s *Session) report() Report {
	return Report{
		SessionID: s.ID,
		Variant:   s.variant,
		Status:    brainfuck.StatusLine(s.machine),
		State:     s.machine.Snapshot(),
		Err:       s.machine.Err(),
	}
}

func (s *Session) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}
