package brainfuck

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// WordCount is one row of a word frequency table
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// CountWords counts whitespace separated words, most frequent first. Ties are
// ordered by word so the table is stable.
func CountWords(source string) []WordCount {
	counts := make(map[string]int)
	for _, word := range strings.FieldsFunc(source, unicode.IsSpace) {
		counts[word]++
	}

	table := make([]WordCount, 0, len(counts))
	for word, n := range counts {
		table = append(table, WordCount{Word: word, Count: n})
	}
	sort.Slice(table, func(i, j int) bool {
		if table[i].Count != table[j].Count {
			return table[i].Count > table[j].Count
		}
		return table[i].Word < table[j].Word
	})
	return table
}

// FormatWordCounts renders the table as "word: count" lines
func FormatWordCounts(table []WordCount) string {
	lines := make([]string, len(table))
	for i, wc := range table {
		lines[i] = fmt.Sprintf("%s: %d", wc.Word, wc.Count)
	}
	return strings.Join(lines, "\n")
}
