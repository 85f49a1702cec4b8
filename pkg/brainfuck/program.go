package brainfuck

// Program is the immutable opcode sequence of one source text.
type Program struct {
	ops     []Opcode
	variant Variant
}

// NewProgram maps every token through table, one opcode per token.
func NewProgram(tokens []Token, table *InstructionTable) *Program {
	ops := make([]Opcode, len(tokens))
	for i, tok := range tokens {
		ops[i] = table.Lookup(tok)
	}
	return &Program{ops: ops, variant: table.Variant()}
}

// Compile tokenizes source and builds its program.
func Compile(source string, table *InstructionTable) *Program {
	return NewProgram(Tokenize(source), table)
}

// Len returns the number of opcodes
func (p *Program) Len() int {
	if p == nil {
		return 0
	}
	return len(p.ops)
}

// At returns the opcode at index i. Callers must keep i inside [0, Len()).
func (p *Program) At(i int) Opcode {
	return p.ops[i]
}

// Opcodes returns a copy of the opcode sequence.
func (p *Program) Opcodes() []Opcode {
	out := make([]Opcode, len(p.ops))
	copy(out, p.ops)
	return out
}

// Variant returns the variant of the table the program was built with
func (p *Program) Variant() Variant {
	return p.variant
}

// matchForward returns the index of the LoopClose matching the LoopOpen at open,
// or -1 when the program ends first.
func (p *Program) matchForward(open int) int {
	depth := 1
	for i := open + 1; i < len(p.ops); i++ {
		switch p.ops[i] {
		case LoopOpen:
			depth++
		case LoopClose:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
