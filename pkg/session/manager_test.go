package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/antibyte/raamcode/pkg/brainfuck"
)

func testConfig() Config {
	return Config{
		MaxSessions:          3,
		MaxMessagesPerMinute: 5,
		TapeSize:             brainfuck.DefaultTapeSize,
		StepLimit:            10000,
		RunTimeout:           time.Second,
		CondenseWords:        true,
		DefaultVariant:       brainfuck.VariantLatin,
	}
}

func TestCreateGetRemove(t *testing.T) {
	m := NewManager(testConfig())

	id, err := m.CreateSession()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	s, err := m.Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if s.Variant() != brainfuck.VariantLatin {
		t.Errorf("expected default variant, got %s", s.Variant())
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 session, got %d", m.Count())
	}

	if err := m.Remove(id); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := m.Get(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := m.Remove(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on second remove, got %v", err)
	}
}

func TestSessionLimit(t *testing.T) {
	m := NewManager(testConfig())
	for i := 0; i < 3; i++ {
		if _, err := m.Create(brainfuck.VariantLatin); err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
	}
	if _, err := m.Create(brainfuck.VariantLatin); !errors.Is(err, ErrSessionLimit) {
		t.Errorf("expected ErrSessionLimit, got %v", err)
	}
}

func TestLoadAndRun(t *testing.T) {
	m := NewManager(testConfig())
	s, _ := m.Create(brainfuck.VariantLatin)

	if _, err := m.Load(s.ID, "++[>+<-]>."); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	rep, err := m.Run(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rep.Err != nil {
		t.Fatalf("unexpected machine error: %v", rep.Err)
	}
	if rep.State.Output != "\x02" || !rep.State.Halted {
		t.Errorf("unexpected state %+v", rep.State)
	}
	if rep.Status != "Current Index: 1" {
		t.Errorf("unexpected status %q", rep.Status)
	}
}

func TestRunReportsMachineError(t *testing.T) {
	m := NewManager(testConfig())
	s, _ := m.Create(brainfuck.VariantLatin)
	m.Load(s.ID, "+.<")

	rep, err := m.Run(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("session error: %v", err)
	}
	if !errors.Is(rep.Err, brainfuck.ErrOutOfRangeCell) {
		t.Errorf("expected ErrOutOfRangeCell, got %v", rep.Err)
	}
	if rep.State.Output != "\x01" {
		t.Errorf("partial output lost: %q", rep.State.Output)
	}
}

// TestStepAcrossCalls keeps the loop stack between step messages
func TestStepAcrossCalls(t *testing.T) {
	m := NewManager(testConfig())
	s, _ := m.Create(brainfuck.VariantLatin)
	m.Load(s.ID, "++[>+<-]>.")

	var rep Report
	var err error
	for i := 0; i < 100; i++ {
		rep, err = m.Step(s.ID)
		if err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		if rep.State.Halted {
			break
		}
	}
	if !rep.State.Halted || rep.State.Output != "\x02" || rep.Err != nil {
		t.Fatalf("unexpected final report %+v", rep)
	}

	// a halted session starts over
	rep, _ = m.Step(s.ID)
	if rep.State.InstructionPointer != 1 || rep.State.Tape[0] != 1 {
		t.Errorf("expected restart from the first opcode, got %+v", rep.State)
	}
}

func TestStepEmptyProgram(t *testing.T) {
	m := NewManager(testConfig())
	s, _ := m.Create(brainfuck.VariantLatin)
	if _, err := m.Step(s.ID); !errors.Is(err, brainfuck.ErrEmptyProgram) {
		t.Errorf("expected ErrEmptyProgram, got %v", err)
	}
}

func TestSetVariantRecompiles(t *testing.T) {
	m := NewManager(testConfig())
	s, _ := m.Create(brainfuck.VariantLatin)
	m.Load(s.ID, "शशि शशि नमन")

	rep, _ := m.Run(context.Background(), s.ID)
	if rep.State.Output != "" {
		t.Errorf("latin run of devanagari text should print nothing, got %q", rep.State.Output)
	}

	if _, err := m.SetVariant(s.ID, brainfuck.VariantDevanagari); err != nil {
		t.Fatalf("set variant failed: %v", err)
	}
	rep, _ = m.Run(context.Background(), s.ID)
	if rep.State.Output != "\x02\x02" || rep.Variant != brainfuck.VariantDevanagari {
		t.Errorf("unexpected report %+v", rep)
	}
}

// TestCompileSourceCondensesDevanagari checks that words run as their initials
func TestCompileSourceCondensesDevanagari(t *testing.T) {
	tests := []struct {
		source   string
		variant  brainfuck.Variant
		condense bool
		expected string
	}{
		{"शशि शशि नमन", brainfuck.VariantDevanagari, true, "\x02\x02"},
		{"शशि शशि नमन", brainfuck.VariantDevanagari, false, "\x04\x04"},
		{"श श श न", brainfuck.VariantDevanagari, true, "\x03"},
		{"+++ +.", brainfuck.VariantLatin, true, "\x04"},
	}

	for _, tt := range tests {
		out, err := brainfuck.NewMachine().Run(CompileSource(tt.source, tt.variant, tt.condense))
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tt.source, err)
		}
		if out != tt.expected {
			t.Errorf("%q (condense=%v): expected %q, got %q", tt.source, tt.condense, tt.expected, out)
		}
	}
}

func TestRunTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.StepLimit = 0
	cfg.RunTimeout = 20 * time.Millisecond
	m := NewManager(cfg)
	s, _ := m.Create(brainfuck.VariantLatin)
	m.Load(s.ID, "+[]")

	rep, err := m.Run(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("session error: %v", err)
	}
	if !errors.Is(rep.Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", rep.Err)
	}
}

func TestCheckRate(t *testing.T) {
	m := NewManager(testConfig())
	now := time.Now()
	m.now = func() time.Time { return now }
	s, _ := m.Create(brainfuck.VariantLatin)

	for i := 0; i < 5; i++ {
		if err := m.CheckRate(s.ID); err != nil {
			t.Fatalf("message %d rejected: %v", i, err)
		}
	}
	if err := m.CheckRate(s.ID); !errors.Is(err, ErrRateLimitReached) {
		t.Errorf("expected ErrRateLimitReached, got %v", err)
	}

	now = now.Add(time.Minute)
	if err := m.CheckRate(s.ID); err != nil {
		t.Errorf("new window should accept messages: %v", err)
	}
}

func TestCleanupInactive(t *testing.T) {
	m := NewManager(testConfig())
	now := time.Now()
	m.now = func() time.Time { return now }

	old, _ := m.Create(brainfuck.VariantLatin)
	now = now.Add(20 * time.Minute)
	fresh, _ := m.Create(brainfuck.VariantLatin)
	now = now.Add(15 * time.Minute)

	if n := m.CleanupInactive(30 * time.Minute); n != 1 {
		t.Fatalf("expected 1 removed session, got %d", n)
	}
	if _, err := m.Get(old.ID); err == nil {
		t.Error("inactive session still present")
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Errorf("active session removed: %v", err)
	}
}

// TestCleanupDuringLongRun checks that a running session does not block cleanup
// or the other sessions
func TestCleanupDuringLongRun(t *testing.T) {
	cfg := testConfig()
	cfg.StepLimit = 0
	cfg.RunTimeout = 2 * time.Second
	m := NewManager(cfg)

	busy, _ := m.Create(brainfuck.VariantLatin)
	other, _ := m.Create(brainfuck.VariantLatin)
	m.Load(busy.ID, "+[]")

	done := make(chan Report)
	go func() {
		rep, _ := m.Run(context.Background(), busy.ID)
		done <- rep
	}()

	// warten, bis der Lauf die Sitzung hält
	deadline := time.Now().Add(time.Second)
	for busy.mu.TryLock() {
		busy.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("run did not start")
		}
		time.Sleep(time.Millisecond)
	}

	start := time.Now()
	if n := m.CleanupInactive(time.Hour); n != 0 {
		t.Errorf("expected no removed sessions, got %d", n)
	}
	if _, err := m.Get(other.ID); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("cleanup and get waited %v for the running session", elapsed)
	}

	rep := <-done
	if !errors.Is(rep.Err, context.DeadlineExceeded) {
		t.Errorf("expected the run to time out, got %v", rep.Err)
	}
}

// TestConcurrentSessions runs independent sessions in parallel
func TestConcurrentSessions(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 0
	m := NewManager(cfg)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Create(brainfuck.VariantLatin)
			if err != nil {
				errs <- err
				return
			}
			m.Load(s.ID, "+++.")
			rep, err := m.Run(context.Background(), s.ID)
			if err != nil || rep.State.Output != "\x03" {
				errs <- errors.New("unexpected run result")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestStartCleanupStops(t *testing.T) {
	cfg := testConfig()
	cfg.CleanupInterval = 5 * time.Millisecond
	cfg.MaxInactiveTime = time.Nanosecond
	m := NewManager(cfg)
	m.Create(brainfuck.VariantLatin)

	ctx, cancel := context.WithCancel(context.Background())
	m.StartCleanup(ctx)
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for m.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Count() != 0 {
		t.Error("periodic cleanup did not remove the idle session")
	}
}
