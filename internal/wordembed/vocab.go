package wordembed

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// UnknownToken must be present in every vocabulary.
const UnknownToken = "[UNK]"

// Vocab maps tokens to indexes. The index of a token is its line number in the
// vocab file.
type Vocab struct {
	tokens []string
	index  map[string]int
}

// NewVocab builds a vocabulary from an ordered token list. Later duplicates
// keep the index of the first occurrence.
func NewVocab(tokens []string) *Vocab {
	v := &Vocab{tokens: append([]string(nil), tokens...), index: make(map[string]int, len(tokens))}
	for i, tok := range v.tokens {
		if _, ok := v.index[tok]; !ok {
			v.index[tok] = i
		}
	}
	return v
}

// LoadVocab reads a vocab file, one token per line.
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab: %w", err)
	}
	defer f.Close()
	return ReadVocab(f)
}

// ReadVocab reads one token per line.
func ReadVocab(r io.Reader) (*Vocab, error) {
	var tokens []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	return NewVocab(tokens), nil
}

// Len returns the number of entries.
func (v *Vocab) Len() int {
	return len(v.tokens)
}

// Index returns the index of tok.
func (v *Vocab) Index(tok string) (int, bool) {
	i, ok := v.index[tok]
	return i, ok
}

// Token returns the token at index i.
func (v *Vocab) Token(i int) string {
	return v.tokens[i]
}

// Tokens returns a copy of the ordered token list.
func (v *Vocab) Tokens() []string {
	return append([]string(nil), v.tokens...)
}

// Append adds tokens at the end and returns the new size.
func (v *Vocab) Append(tokens ...string) int {
	for _, tok := range tokens {
		if _, ok := v.index[tok]; !ok {
			v.index[tok] = len(v.tokens)
		}
		v.tokens = append(v.tokens, tok)
	}
	return len(v.tokens)
}

// Save writes one token per line.
func (v *Vocab) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create vocab file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, tok := range v.tokens {
		w.WriteString(tok)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write vocab file: %w", err)
	}
	return f.Close()
}
