package brainfuck

import (
	"context"
	"fmt"
	"strings"

	"github.com/antibyte/raamcode/pkg/logger"
)

const (
	// DefaultTapeSize matches the tape of the original web interpreter.
	DefaultTapeSize = 20
	// MaxTapeSize bounds tapes restored from snapshots.
	MaxTapeSize = 1 << 16
	// MaxProgramSize bounds instruction indexes restored from snapshots.
	MaxProgramSize = 1 << 24

	// how many steps RunContext executes between context checks
	contextCheckInterval = 1024
)

func interpreterDebugLog(format string, args ...interface{}) {
	logger.Debug(logger.AreaInterpreter, format, args...)
}

// Machine is the tape machine. It owns its tape, pointers, loop-return stack and output
// buffer exclusively and is not safe for concurrent use.
type Machine struct {
	tape      []uint8
	dp        int   // data pointer
	ip        int   // instruction pointer
	loops     []int // loop-return stack of LoopOpen positions
	output    strings.Builder
	steps     int
	stepLimit int // 0 = unlimited
	halted    bool
	err       error
}

// Option configures a Machine
type Option func(*Machine)

// WithTapeSize sets the number of cells. Values below 1 keep the default.
func WithTapeSize(n int) Option {
	return func(m *Machine) {
		if n > 0 && n <= MaxTapeSize {
			m.tape = make([]uint8, n)
		}
	}
}

// WithStepLimit stops execution with ErrStepLimitExceeded after n opcodes.
// Zero disables the limit.
func WithStepLimit(n int) Option {
	return func(m *Machine) {
		if n >= 0 {
			m.stepLimit = n
		}
	}
}

// NewMachine creates a machine with a zeroed tape.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		tape:  make([]uint8, DefaultTapeSize),
		loops: make([]int, 0, 16),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reset clears tape, pointers, loop stack and output. Options are kept.
func (m *Machine) Reset() {
	for i := range m.tape {
		m.tape[i] = 0
	}
	m.dp = 0
	m.ip = 0
	m.loops = m.loops[:0]
	m.output.Reset()
	m.steps = 0
	m.halted = false
	m.err = nil
}

// Run executes p from the first opcode until the instruction pointer leaves the
// program. The output produced so far is returned even when err is non-nil.
func (m *Machine) Run(p *Program) (string, error) {
	return m.RunContext(context.Background(), p)
}

// RunContext is Run with cancellation, checked every contextCheckInterval steps.
func (m *Machine) RunContext(ctx context.Context, p *Program) (string, error) {
	m.Reset()
	interpreterDebugLog("run: %d opcodes, tape=%d, limit=%d", p.Len(), len(m.tape), m.stepLimit)

	for m.ip < p.Len() {
		if m.steps%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				m.halted = true
				m.err = ctx.Err()
				interpreterDebugLog("run cancelled at ip=%d", m.ip)
				return m.output.String(), m.err
			default:
			}
		}
		if err := m.execute(p); err != nil {
			interpreterDebugLog("run failed: %v", err)
			return m.output.String(), err
		}
	}

	err := m.halt()
	interpreterDebugLog("run finished after %d steps, output=%d chars", m.steps, len(m.output.String()))
	return m.output.String(), err
}

// Step executes the single opcode at index at against the current state and returns
// the index to resume from. An index at or past the end halts the machine.
func (m *Machine) Step(p *Program, at int) (int, error) {
	if p.Len() == 0 {
		return at, ErrEmptyProgram
	}
	if m.err != nil {
		return m.ip, m.err
	}
	if at < 0 {
		return at, fmt.Errorf("%w: negative instruction pointer %d", ErrInvalidState, at)
	}

	m.ip = at
	if m.ip >= p.Len() {
		return m.ip, m.halt()
	}
	m.halted = false
	if err := m.execute(p); err != nil {
		return m.ip, err
	}
	if m.ip >= p.Len() {
		return m.ip, m.halt()
	}
	return m.ip, nil
}

// execute runs the opcode at m.ip and moves m.ip to the next instruction.
func (m *Machine) execute(p *Program) error {
	op := p.ops[m.ip]
	if m.stepLimit > 0 && m.steps >= m.stepLimit {
		return m.fail(ErrStepLimitExceeded, op)
	}
	m.steps++
	next := m.ip + 1

	switch op {
	case MoveLeft:
		if m.dp == 0 {
			return m.fail(ErrOutOfRangeCell, op)
		}
		m.dp--
	case MoveRight:
		if m.dp+1 >= len(m.tape) {
			return m.fail(ErrOutOfRangeCell, op)
		}
		m.dp++
	case Increment:
		m.tape[m.dp]++
	case Decrement:
		m.tape[m.dp]--
	case LoopOpen:
		if m.tape[m.dp] == 0 {
			closing := p.matchForward(m.ip)
			if closing < 0 {
				return m.fail(ErrUnmatchedLoop, op)
			}
			next = closing + 1
		} else {
			m.loops = append(m.loops, m.ip)
		}
	case LoopClose:
		if len(m.loops) == 0 {
			return m.fail(ErrUnmatchedLoop, op)
		}
		top := len(m.loops) - 1
		if m.tape[m.dp] != 0 {
			// back into the body, the entry stays until the test fails
			next = m.loops[top] + 1
		} else {
			m.loops = m.loops[:top]
		}
	case Output:
		m.output.WriteRune(rune(m.tape[m.dp]))
	}

	m.ip = next
	return nil
}

// halt marks the machine halted. Loops still open at this point never closed.
func (m *Machine) halt() error {
	m.halted = true
	if len(m.loops) > 0 {
		open := m.loops[len(m.loops)-1]
		m.err = &MachineError{
			Kind:               ErrUnmatchedLoop,
			Opcode:             LoopOpen,
			InstructionPointer: open,
			DataPointer:        m.dp,
		}
		return m.err
	}
	return nil
}

func (m *Machine) fail(kind error, op Opcode) error {
	m.halted = true
	m.err = &MachineError{
		Kind:               kind,
		Opcode:             op,
		InstructionPointer: m.ip,
		DataPointer:        m.dp,
	}
	return m.err
}

// DataPointer returns the index of the current cell
func (m *Machine) DataPointer() int { return m.dp }

// InstructionPointer returns the index of the next opcode
func (m *Machine) InstructionPointer() int { return m.ip }

// Output returns the output buffer
func (m *Machine) Output() string { return m.output.String() }

// LoopDepth returns the number of entries on the loop-return stack
func (m *Machine) LoopDepth() int { return len(m.loops) }

// Steps returns the number of opcodes executed since the last reset
func (m *Machine) Steps() int { return m.steps }

// Halted reports whether the instruction pointer left the program or an error stopped it
func (m *Machine) Halted() bool { return m.halted }

// Err returns the error that halted the machine, if any
func (m *Machine) Err() error { return m.err }

// TapeSize returns the number of cells
func (m *Machine) TapeSize() int { return len(m.tape) }

// Tape returns a copy of the cells.
func (m *Machine) Tape() []uint8 {
	out := make([]uint8, len(m.tape))
	copy(out, m.tape)
	return out
}

// Cell returns the value of the current cell
func (m *Machine) Cell() uint8 { return m.tape[m.dp] }

// StatusLine renders the status text the host shows after a step.
func StatusLine(m *Machine) string {
	return fmt.Sprintf("Current Index: %d", m.dp)
}
