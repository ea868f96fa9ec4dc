package wordembed

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Model is a static word vector table with a vocabulary.
type Model struct {
	Vocab    *Vocab
	Table    *Table
	UnkIndex int
	Stats    *LoadStats
	Epsilon  float64
}

// Load reads the vocab and vectors files. The vocabulary must contain [UNK].
func Load(vectorsPath, vocabPath string, logger *zap.Logger) (*Model, error) {
	vocab, err := LoadVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	table, stats, err := LoadVectors(vectorsPath, vocab, logger)
	if err != nil {
		return nil, err
	}
	return New(vocab, table, stats)
}

// New assembles a model from parts.
func New(vocab *Vocab, table *Table, stats *LoadStats) (*Model, error) {
	unk, ok := vocab.Index(UnknownToken)
	if !ok {
		return nil, fmt.Errorf("%w: aborting", ErrMissingUnknownToken)
	}
	if table.Rows() < vocab.Len() {
		return nil, fmt.Errorf("%w: table has %d rows for %d vocab entries", ErrInvalidInput, table.Rows(), vocab.Len())
	}
	return &Model{Vocab: vocab, Table: table, UnkIndex: unk, Stats: stats, Epsilon: DefaultEpsilon}, nil
}

// Dim returns the vector size.
func (m *Model) Dim() int {
	return m.Table.Dim()
}

// Size returns the number of rows.
func (m *Model) Size() int {
	return m.Table.Rows()
}

// Resize grows the table to n rows. New vocabulary entries are named
// [unusedN] so the saved files stay aligned.
func (m *Model) Resize(n int) error {
	old := m.Table.Rows()
	if err := m.Table.Resize(n); err != nil {
		return err
	}
	for i := old; i < n; i++ {
		m.Vocab.Append(fmt.Sprintf("[unused%d]", i-old))
	}
	return nil
}

// Lookup maps ids to vectors. Ids outside the table read the [UNK] vector.
func (m *Model) Lookup(ids [][]int32) [][][]float32 {
	out := make([][][]float32, len(ids))
	for b, seq := range ids {
		out[b] = make([][]float32, len(seq))
		for s, id := range seq {
			idx := int(id)
			if idx < 0 || idx >= m.Table.Rows() {
				idx = m.UnkIndex
			}
			out[b][s] = append([]float32(nil), m.Table.Row(idx)...)
		}
	}
	return out
}

// Forward looks up every token, averages the tokens of each sequence where
// mask is 1 and batch normalizes the averages. A nil mask averages all tokens.
func (m *Model) Forward(ids, mask [][]int32) ([][][]float32, [][]float32, error) {
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}
	if mask != nil && len(mask) != len(ids) {
		return nil, nil, fmt.Errorf("%w: mask has %d rows for %d sequences", ErrInvalidInput, len(mask), len(ids))
	}
	sequence := m.Lookup(ids)
	dim := m.Dim()
	means := make([][]float32, len(sequence))
	for b, tokens := range sequence {
		sum := make([]float64, dim)
		n := 0
		for s, vec := range tokens {
			if mask != nil && mask[b][s] == 0 {
				continue
			}
			for j, v := range vec {
				sum[j] += float64(v)
			}
			n++
		}
		mean := make([]float32, dim)
		if n > 0 {
			for j := range mean {
				mean[j] = float32(sum[j] / float64(n))
			}
		}
		means[b] = mean
	}
	return sequence, BatchNormalize(means, m.Epsilon), nil
}

// Save writes the vectors and the vocab file.
func (m *Model) Save(vectorsPath, vocabPath string) error {
	f, err := os.Create(vectorsPath)
	if err != nil {
		return fmt.Errorf("failed to create embeddings file: %w", err)
	}
	if err := WriteVectors(f, m.Vocab, m.Table); err != nil {
		f.Close()
		return fmt.Errorf("failed to write embeddings: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return m.Vocab.Save(vocabPath)
}
