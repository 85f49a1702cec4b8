package brainfuck

import "fmt"

// State is a serializable snapshot of a machine between steps. Hosts that keep no
// server-side session hand it back and forth instead of the machine itself.
type State struct {
	Tape               []int  `json:"tape"`
	DataPointer        int    `json:"dp"`
	InstructionPointer int    `json:"ip"`
	LoopStack          []int  `json:"loops,omitempty"`
	Output             string `json:"output"`
	Steps              int    `json:"steps"`
	Halted             bool   `json:"halted"`
}

// Snapshot captures the current machine state. The halting error is not part of it.
func (m *Machine) Snapshot() State {
	tape := make([]int, len(m.tape))
	for i, v := range m.tape {
		tape[i] = int(v)
	}
	var loops []int
	if len(m.loops) > 0 {
		loops = make([]int, len(m.loops))
		copy(loops, m.loops)
	}
	return State{
		Tape:               tape,
		DataPointer:        m.dp,
		InstructionPointer: m.ip,
		LoopStack:          loops,
		Output:             m.output.String(),
		Steps:              m.steps,
		Halted:             m.halted,
	}
}

// Restore replaces the machine state with s. The tape takes the length of s.Tape.
// Nothing is changed when s is inconsistent.
func (m *Machine) Restore(s State) error {
	if len(s.Tape) == 0 || len(s.Tape) > MaxTapeSize {
		return fmt.Errorf("%w: tape size %d", ErrInvalidState, len(s.Tape))
	}
	if s.DataPointer < 0 || s.DataPointer >= len(s.Tape) {
		return fmt.Errorf("%w: data pointer %d outside tape of %d cells", ErrInvalidState, s.DataPointer, len(s.Tape))
	}
	if s.InstructionPointer < 0 || s.Steps < 0 {
		return fmt.Errorf("%w: negative instruction pointer or step count", ErrInvalidState)
	}
	if s.InstructionPointer > MaxProgramSize {
		return fmt.Errorf("%w: instruction pointer %d beyond %d", ErrInvalidState, s.InstructionPointer, MaxProgramSize)
	}
	if len(s.LoopStack) > MaxProgramSize {
		return fmt.Errorf("%w: %d open loops", ErrInvalidState, len(s.LoopStack))
	}
	tape := make([]uint8, len(s.Tape))
	for i, v := range s.Tape {
		if v < 0 || v > 255 {
			return fmt.Errorf("%w: cell %d holds %d", ErrInvalidState, i, v)
		}
		tape[i] = uint8(v)
	}
	for _, pos := range s.LoopStack {
		if pos < 0 || pos >= MaxProgramSize {
			return fmt.Errorf("%w: loop entry %d outside 0..%d", ErrInvalidState, pos, MaxProgramSize-1)
		}
	}

	m.tape = tape
	m.dp = s.DataPointer
	m.ip = s.InstructionPointer
	m.loops = append(m.loops[:0], s.LoopStack...)
	m.output.Reset()
	m.output.WriteString(s.Output)
	m.steps = s.Steps
	m.halted = s.Halted
	m.err = nil
	return nil
}
