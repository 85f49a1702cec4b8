package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/antibyte/raamcode/pkg/brainfuck"
	"github.com/antibyte/raamcode/pkg/configuration"
	"github.com/antibyte/raamcode/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionLimit     = errors.New("maximum number of sessions reached")
	ErrRateLimitReached = errors.New("message rate limit exceeded")
)

// Config holds the limits of a Manager
type Config struct {
	MaxSessions          int
	MaxMessagesPerMinute int // 0 = unbegrenzt
	TapeSize             int
	StepLimit            int
	RunTimeout           time.Duration
	CondenseWords        bool
	DefaultVariant       brainfuck.Variant
	CleanupInterval      time.Duration
	MaxInactiveTime      time.Duration
}

// ConfigFromSettings liest die Limits aus den Sektionen [Session] und [Interpreter]
func ConfigFromSettings() Config {
	variant, err := brainfuck.ParseVariant(configuration.GetString("Interpreter", "default_variant", "latin"))
	if err != nil {
		logger.ConfigWarn("Invalid default_variant, using latin: %v", err)
	}
	return Config{
		MaxSessions:          configuration.GetInt("Session", "max_sessions", 100),
		MaxMessagesPerMinute: configuration.GetInt("Session", "max_messages_per_minute", 120),
		TapeSize:             configuration.GetInt("Interpreter", "tape_size", brainfuck.DefaultTapeSize),
		StepLimit:            configuration.GetInt("Interpreter", "step_limit", 1000000),
		RunTimeout:           configuration.GetDuration("Interpreter", "run_timeout", 5*time.Second),
		CondenseWords:        configuration.GetBool("Interpreter", "condense_words", true),
		DefaultVariant:       variant,
		CleanupInterval:      configuration.GetDuration("Session", "cleanup_interval", 5*time.Minute),
		MaxInactiveTime:      configuration.GetDuration("Session", "max_inactive_time", 30*time.Minute),
	}
}

// MachineOptions returns the machine options for c
func (c Config) MachineOptions() []brainfuck.Option {
	return []brainfuck.Option{
		brainfuck.WithTapeSize(c.TapeSize),
		brainfuck.WithStepLimit(c.StepLimit),
	}
}

// CompileSource compiles source for v. With condense, Devanagari source is replaced
// by its mool (word initials, command glyphs only) first.
func CompileSource(source string, v brainfuck.Variant, condense bool) *brainfuck.Program {
	table := brainfuck.NewInstructionTable(v)
	if condense && v == brainfuck.VariantDevanagari {
		source = table.Condense(source)
	}
	return brainfuck.Compile(source, table)
}

// Manager verwaltet alle Interpreter-Sitzungen
type Manager struct {
	config        Config
	sessions      map[string]*Session
	sessionsMutex sync.RWMutex
	now           func() time.Time
}

// NewManager erstellt einen neuen Sitzungsmanager
func NewManager(config Config) *Manager {
	return &Manager{
		config:   config,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Config returns the limits the manager was created with
func (m *Manager) Config() Config {
	return m.config
}

// Create registers a new empty session
func (m *Manager) Create(variant brainfuck.Variant) (*Session, error) {
	m.sessionsMutex.Lock()
	defer m.sessionsMutex.Unlock()

	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		logger.SessionWarn("Session limit reached: %d", len(m.sessions))
		return nil, ErrSessionLimit
	}

	now := m.now()
	s := &Session{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		variant:      variant,
		program:      CompileSource("", variant, false),
		machine:      brainfuck.NewMachine(m.config.MachineOptions()...),
		windowStart:  now,
	}
	s.touch(now)
	m.sessions[s.ID] = s

	logger.SessionInfo("Session registered: %s (variant %s)", s.ID, variant)
	return s, nil
}

// CreateSession creates a session with the default variant and returns its id
func (m *Manager) CreateSession() (string, error) {
	s, err := m.Create(m.config.DefaultVariant)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// Get returns the session with the given id
func (m *Manager) Get(id string) (*Session, error) {
	m.sessionsMutex.RLock()
	defer m.sessionsMutex.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove entfernt eine Sitzung
func (m *Manager) Remove(id string) error {
	m.sessionsMutex.Lock()
	defer m.sessionsMutex.Unlock()

	s, exists := m.sessions[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)

	logger.SessionInfo("Session unregistered: %s (Duration: %v)", id, m.now().Sub(s.CreatedAt))
	return nil
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.sessionsMutex.RLock()
	defer m.sessionsMutex.RUnlock()
	return len(m.sessions)
}

// with runs fn on the locked session
func (m *Manager) with(id string, fn func(s *Session) error) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(m.now())
	return fn(s)
}

// Load compiles source into the session and resets its machine
func (m *Manager) Load(id, source string) (Report, error) {
	var rep Report
	err := m.with(id, func(s *Session) error {
		s.source = source
		s.program = CompileSource(source, s.variant, m.config.CondenseWords)
		s.machine.Reset()
		s.next = 0
		rep = s.report()
		logger.SessionDebug("Session %s loaded %d opcodes", id, s.program.Len())
		return nil
	})
	return rep, err
}

// Inspect reports the session state without changing it
func (m *Manager) Inspect(id string) (Report, error) {
	var rep Report
	err := m.with(id, func(s *Session) error {
		rep = s.report()
		return nil
	})
	return rep, err
}

// Reset clears the machine and rewinds stepping to the first opcode
func (m *Manager) Reset(id string) (Report, error) {
	var rep Report
	err := m.with(id, func(s *Session) error {
		s.machine.Reset()
		s.next = 0
		rep = s.report()
		return nil
	})
	return rep, err
}

// SetVariant switches the glyph set and recompiles the loaded source
func (m *Manager) SetVariant(id string, v brainfuck.Variant) (Report, error) {
	var rep Report
	err := m.with(id, func(s *Session) error {
		s.variant = v
		s.program = CompileSource(s.source, v, m.config.CondenseWords)
		s.machine.Reset()
		s.next = 0
		rep = s.report()
		return nil
	})
	return rep, err
}

// Step executes one opcode. A halted machine starts over from the first opcode.
// Machine errors are reported in Report.Err, the returned error is for session
// failures and ErrEmptyProgram.
func (m *Manager) Step(id string) (Report, error) {
	var rep Report
	err := m.with(id, func(s *Session) error {
		if s.machine.Halted() {
			s.machine.Reset()
			s.next = 0
		}
		next, err := s.machine.Step(s.program, s.next)
		if errors.Is(err, brainfuck.ErrEmptyProgram) {
			return err
		}
		s.next = next
		rep = s.report()
		return nil
	})
	return rep, err
}

// Run executes the whole program from a reset machine, bounded by RunTimeout
func (m *Manager) Run(ctx context.Context, id string) (Report, error) {
	if m.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.RunTimeout)
		defer cancel()
	}

	var rep Report
	err := m.with(id, func(s *Session) error {
		_, runErr := s.machine.RunContext(ctx, s.program)
		s.next = s.machine.InstructionPointer()
		rep = s.report()
		if runErr != nil {
			logger.Debug(logger.AreaInterpreter, "Session %s run halted: %v", id, runErr)
		}
		return nil
	})
	return rep, err
}

// CheckRate counts one message against the per-minute limit of the session
func (m *Manager) CheckRate(id string) error {
	if m.config.MaxMessagesPerMinute <= 0 {
		return nil
	}
	return m.with(id, func(s *Session) error {
		now := m.now()
		if now.Sub(s.windowStart) >= time.Minute {
			s.windowStart = now
			s.messageCount = 0
		}
		s.messageCount++
		if s.messageCount > m.config.MaxMessagesPerMinute {
			return fmt.Errorf("%w for session %s: %d > %d per minute",
				ErrRateLimitReached, id, s.messageCount, m.config.MaxMessagesPerMinute)
		}
		return nil
	})
}

// CleanupInactive entfernt Sitzungen, die länger als maxIdle inaktiv waren.
// Session locks are never taken, a long run does not hold up the manager.
func (m *Manager) CleanupInactive(maxIdle time.Duration) int {
	now := m.now()
	idle := func(s *Session) bool { return now.Sub(s.LastActivity()) > maxIdle }

	m.sessionsMutex.RLock()
	var candidates []string
	for id, s := range m.sessions {
		if idle(s) {
			candidates = append(candidates, id)
		}
	}
	m.sessionsMutex.RUnlock()
	if len(candidates) == 0 {
		return 0
	}

	m.sessionsMutex.Lock()
	defer m.sessionsMutex.Unlock()

	removed := 0
	for _, id := range candidates {
		// touched between the two locks
		if s, ok := m.sessions[id]; ok && idle(s) {
			delete(m.sessions, id)
			removed++
			logger.SessionDebug("Cleaning up inactive session: %s", id)
		}
	}

	if removed > 0 {
		logger.SessionInfo("Cleaned up %d inactive sessions", removed)
	}
	return removed
}

// StartCleanup startet die periodische Bereinigung bis ctx endet
func (m *Manager) StartCleanup(ctx context.Context) {
	interval := m.config.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupInactive(m.config.MaxInactiveTime)
			}
		}
	}()
}
