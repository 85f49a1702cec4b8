package brainfuck

import (
	"errors"
	"fmt"
)

// Error kinds reported by the machine. Runtime failures are wrapped in *MachineError.
var (
	ErrOutOfRangeCell    = errors.New("data pointer out of tape range")
	ErrUnmatchedLoop     = errors.New("unmatched loop")
	ErrEmptyProgram      = errors.New("no commands to step through")
	ErrStepLimitExceeded = errors.New("step limit exceeded")
	ErrInvalidVariant    = errors.New("invalid variant")
	ErrInvalidState      = errors.New("invalid machine state")
)

// MachineError records where a run halted with an error.
type MachineError struct {
	Kind               error  // one of the Err* sentinels
	Opcode             Opcode // opcode being executed, Noop when none
	InstructionPointer int
	DataPointer        int
}

// Error implements the error interface
func (e *MachineError) Error() string {
	return fmt.Sprintf("%v at instruction %d (%s, data pointer %d)",
		e.Kind, e.InstructionPointer, e.Opcode, e.DataPointer)
}

// Unwrap exposes the kind to errors.Is
func (e *MachineError) Unwrap() error {
	return e.Kind
}

var friendlyErrorTexts = map[error]string{
	ErrOutOfRangeCell:    "DATA POINTER LEFT THE TAPE",
	ErrUnmatchedLoop:     "UNMATCHED LOOP BRACKET",
	ErrEmptyProgram:      "NO COMMANDS TO STEP THROUGH",
	ErrStepLimitExceeded: "STEP LIMIT EXCEEDED (ENDLESS LOOP?)",
	ErrInvalidVariant:    "UNKNOWN GLYPH VARIANT",
	ErrInvalidState:      "INVALID MACHINE STATE",
}

// FriendlyErrorText returns the status line text shown to users for err.
func FriendlyErrorText(err error) string {
	if err == nil {
		return ""
	}
	for kind, text := range friendlyErrorTexts {
		if errors.Is(err, kind) {
			var me *MachineError
			if errors.As(err, &me) {
				return fmt.Sprintf("%s AT INDEX %d", text, me.InstructionPointer)
			}
			return text
		}
	}
	return "EXECUTION ERROR: " + err.Error()
}
