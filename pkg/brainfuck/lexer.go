package brainfuck

// Token is a single code point of the source text.
type Token struct {
	Char rune
	Pos  int // code point index, not byte offset
}

// Tokenize splits source into one token per code point. Nothing is skipped, so the
// result always has utf8.RuneCountInString(source) elements.
func Tokenize(source string) []Token {
	tokens := make([]Token, 0, len(source))
	pos := 0
	for _, ch := range source {
		tokens = append(tokens, Token{Char: ch, Pos: pos})
		pos++
	}
	return tokens
}
