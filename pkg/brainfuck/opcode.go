// Package brainfuck implements the tape machine behind RaamCode: a tokenizer, an
// instruction table per glyph variant, immutable programs and the machine that runs them.
package brainfuck

// Opcode is one of the eight primitive operations of the tape machine.
type Opcode byte

const (
	Noop Opcode = iota
	MoveLeft
	MoveRight
	Increment
	Decrement
	LoopOpen
	LoopClose
	Output
)

var opcodeNames = [...]string{
	Noop:      "Noop",
	MoveLeft:  "MoveLeft",
	MoveRight: "MoveRight",
	Increment: "Increment",
	Decrement: "Decrement",
	LoopOpen:  "LoopOpen",
	LoopClose: "LoopClose",
	Output:    "Output",
}

// String returns the opcode name
func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return "Unknown"
}
