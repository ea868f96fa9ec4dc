package wordembed

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// LoadStats describes what the vector reader kept and dropped.
type LoadStats struct {
	Lines         int      `json:"lines"`
	HeaderSkipped bool     `json:"header_skipped"`
	Dimensions    int      `json:"dimensions"`
	Parsed        int      `json:"parsed"`
	Mismatched    int      `json:"mismatched"`
	Unparsable    int      `json:"unparsable"`
	Repetitions   int      `json:"repetitions"`
	Missing       []string `json:"missing,omitempty"`
}

// LoadVectors reads a word vectors file and aligns it to vocab.
func LoadVectors(path string, vocab *Vocab, logger *zap.Logger) (*Table, *LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open embeddings: %w", err)
	}
	defer f.Close()
	return ReadVectors(f, vocab, logger)
}

// ReadVectors parses "word v1 .. vN" lines, skipping a leading "count dim"
// header. The first vector line fixes the dimension and lines of another size
// are dropped. A repeated word keeps its first vector. Vocab entries without a
// vector get a zero vector and a warning.
func ReadVectors(r io.Reader, vocab *Vocab, logger *zap.Logger) (*Table, *LoadStats, error) {
	stats := &LoadStats{}
	vectors := make(map[string][]float32)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		stats.Lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		word, rest, ok := strings.Cut(line, " ")
		if !ok {
			stats.Unparsable++
			logger.Debug("Embeddings reader: could not convert line", zap.String("line", line))
			continue
		}
		if _, seen := vectors[word]; seen {
			stats.Repetitions++
			continue
		}
		vec, err := parseVector(rest)
		if err != nil {
			stats.Unparsable++
			logger.Debug("Embeddings reader: could not convert line", zap.String("line", line), zap.Error(err))
			continue
		}
		if stats.Dimensions == 0 {
			if isHeader(word, vec) {
				logger.Info("Skipping header", zap.String("line", line))
				stats.HeaderSkipped = true
				continue
			}
			stats.Dimensions = len(vec)
		}
		if len(vec) != stats.Dimensions {
			stats.Mismatched++
			continue
		}
		vectors[word] = vec
		stats.Parsed++
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read embeddings: %w", err)
	}
	if stats.Dimensions == 0 {
		return nil, nil, ErrNoVectors
	}

	table := NewTable(vocab.Len(), stats.Dimensions)
	for i := 0; i < vocab.Len(); i++ {
		w := vocab.Token(i)
		vec, ok := vectors[w]
		if !ok {
			logger.Warn("Could not load pretrained embedding for word", zap.String("word", w))
			stats.Missing = append(stats.Missing, w)
			continue
		}
		copy(table.Row(i), vec)
	}

	logger.Info("Loaded word vectors",
		zap.Int("vocab_size", vocab.Len()),
		zap.Int("dimensions", stats.Dimensions),
		zap.Int("parsed", stats.Parsed),
		zap.Int("missing", len(stats.Missing)),
		zap.Int("repetitions", stats.Repetitions))
	return table, stats, nil
}

// isHeader reports whether a line is a word2vec "count dim" header.
func isHeader(word string, vec []float32) bool {
	if len(vec) != 1 {
		return false
	}
	_, err := strconv.Atoi(word)
	return err == nil && vec[0] == float32(int(vec[0]))
}

func parseVector(s string) ([]float32, error) {
	fields := strings.Fields(s)
	vec := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, err
		}
		vec[i] = float32(v)
	}
	return vec, nil
}

// WriteVectors writes one "word v1 .. vN" line per vocab entry with six
// decimals.
func WriteVectors(w io.Writer, vocab *Vocab, table *Table) error {
	bw := bufio.NewWriter(w)
	n := min(vocab.Len(), table.Rows())
	for i := 0; i < n; i++ {
		bw.WriteString(vocab.Token(i))
		for _, v := range table.Row(i) {
			bw.WriteByte(' ')
			bw.WriteString(strconv.FormatFloat(float64(v), 'f', 6, 32))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
