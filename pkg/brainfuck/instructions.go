package brainfuck

import (
	"fmt"
	"regexp"
	"strings"
)

// Variant selects the glyph set an InstructionTable recognizes.
type Variant int

const (
	// VariantLatin is the classic <>+-[]. notation.
	VariantLatin Variant = iota
	// VariantDevanagari maps the same opcodes onto Devanagari glyphs.
	VariantDevanagari
)

// String returns the canonical variant name used in configuration and JSON
func (v Variant) String() string {
	switch v {
	case VariantLatin:
		return "latin"
	case VariantDevanagari:
		return "devanagari"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant accepts the canonical names and the short aliases used by clients.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "latin", "a", "bf", "brainfuck":
		return VariantLatin, nil
	case "devanagari", "b", "raam", "raamcode":
		return VariantDevanagari, nil
	}
	return VariantLatin, fmt.Errorf("%w: %q", ErrInvalidVariant, name)
}

var glyphSets = map[Variant][7]rune{
	//                 <    >    +    -    [    ]    .
	VariantLatin:      {'<', '>', '+', '-', '[', ']', '.'},
	VariantDevanagari: {'ॐ', 'ज', 'श', 'र', 'ह', 'क', 'न'},
}

// glyph order inside glyphSets
var glyphOpcodes = [7]Opcode{MoveLeft, MoveRight, Increment, Decrement, LoopOpen, LoopClose, Output}

// InstructionTable maps tokens of one variant to opcodes. It is immutable after
// construction and safe to share between machines.
type InstructionTable struct {
	variant Variant
	opcodes map[rune]Opcode
	glyphs  map[Opcode]rune
}

// NewInstructionTable builds the table for v. Unknown variants fall back to Latin.
func NewInstructionTable(v Variant) *InstructionTable {
	set, ok := glyphSets[v]
	if !ok {
		v = VariantLatin
		set = glyphSets[VariantLatin]
	}

	t := &InstructionTable{
		variant: v,
		opcodes: make(map[rune]Opcode, len(set)),
		glyphs:  make(map[Opcode]rune, len(set)),
	}
	for i, ch := range set {
		t.opcodes[ch] = glyphOpcodes[i]
		t.glyphs[glyphOpcodes[i]] = ch
	}
	return t
}

// Variant returns the glyph set of the table
func (t *InstructionTable) Variant() Variant {
	return t.variant
}

// Lookup returns the opcode for tok, Noop when the glyph is not recognized.
func (t *InstructionTable) Lookup(tok Token) Opcode {
	if op, ok := t.opcodes[tok.Char]; ok {
		return op
	}
	return Noop
}

// Recognizes reports whether ch is one of the seven command glyphs.
func (t *InstructionTable) Recognizes(ch rune) bool {
	_, ok := t.opcodes[ch]
	return ok
}

// Glyph returns the source glyph of op. Noop has no glyph and yields a space.
func (t *InstructionTable) Glyph(op Opcode) rune {
	if ch, ok := t.glyphs[op]; ok {
		return ch
	}
	return ' '
}

// wordInitial matches a word terminated by a space
var wordInitial = regexp.MustCompile(`(\S)\S* `)

// InitialsOfWords reduces every space-terminated word to its first code point and
// drops that space. The last word, and words ended by other whitespace, stay whole.
func InitialsOfWords(source string) string {
	return wordInitial.ReplaceAllString(source, "$1")
}

// Condense is the mool of a source: InitialsOfWords, then every code point the
// table does not recognize is dropped. "शशि शशि नमन" becomes "शशनन".
func (t *InstructionTable) Condense(source string) string {
	var b strings.Builder
	for _, ch := range InitialsOfWords(source) {
		if t.Recognizes(ch) {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
