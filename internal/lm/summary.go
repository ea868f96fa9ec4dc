package lm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"

	"gonum.org/v1/gonum/mat"
)

// SummaryToken selects the token a SequenceSummary reads.
type SummaryToken int32

const (
	SummaryFirst SummaryToken = iota
	SummaryLast
)

func (t SummaryToken) String() string {
	if t == SummaryLast {
		return "last"
	}
	return "first"
}

const summaryMagic = "LMSUM1"

// SequenceSummary turns per-token vectors into one vector per sequence for
// families without a native pooler: pick one token, project it with a dense
// layer and optionally apply tanh.
type SequenceSummary struct {
	token  SummaryToken
	tanh   bool
	weight *mat.Dense    // [hidden][hidden], out x in
	bias   *mat.VecDense // [hidden]
}

// NewSequenceSummary creates a summary layer with weights drawn from
// normal(0, initRange) and a zero bias.
func NewSequenceSummary(hidden int, token SummaryToken, tanh bool, initRange float64, rng *rand.Rand) *SequenceSummary {
	data := make([]float64, hidden*hidden)
	for i := range data {
		data[i] = rng.NormFloat64() * initRange
	}
	return &SequenceSummary{
		token:  token,
		tanh:   tanh,
		weight: mat.NewDense(hidden, hidden, data),
		bias:   mat.NewVecDense(hidden, nil),
	}
}

// Hidden returns the input and output size.
func (s *SequenceSummary) Hidden() int {
	r, _ := s.weight.Dims()
	return r
}

// Apply summarizes each sequence of [batch][seq][hidden]. With a padding mask
// the last token is the last unmasked one; a nil mask treats every position
// as real.
func (s *SequenceSummary) Apply(sequence [][][]float32, mask [][]int32) ([][]float32, error) {
	hidden := s.Hidden()
	out := make([][]float32, len(sequence))
	x := mat.NewVecDense(hidden, nil)
	y := mat.NewVecDense(hidden, nil)
	for b, tokens := range sequence {
		if len(tokens) == 0 {
			return nil, fmt.Errorf("%w: empty sequence at index %d", ErrInvalidInput, b)
		}
		pick := tokens[0]
		if s.token == SummaryLast {
			pick = tokens[lastReal(tokens, mask, b)]
		}
		if len(pick) != hidden {
			return nil, fmt.Errorf("%w: token vector has %d dims, summary expects %d", ErrInferenceFailed, len(pick), hidden)
		}
		for i, v := range pick {
			x.SetVec(i, float64(v))
		}
		y.MulVec(s.weight, x)
		y.AddVec(y, s.bias)
		vec := make([]float32, hidden)
		for i := range vec {
			v := y.AtVec(i)
			if s.tanh {
				v = math.Tanh(v)
			}
			vec[i] = float32(v)
		}
		out[b] = vec
	}
	return out, nil
}

// lastReal returns the index of the last position whose mask is 1, or the
// final position when the sequence has no mask.
func lastReal(tokens [][]float32, mask [][]int32, b int) int {
	last := len(tokens) - 1
	if b >= len(mask) || len(mask[b]) != len(tokens) {
		return last
	}
	for i := last; i >= 0; i-- {
		if mask[b][i] == 1 {
			return i
		}
	}
	return last
}

// MarshalBinary encodes the layer as a header followed by the gonum encodings
// of the weight and bias.
func (s *SequenceSummary) MarshalBinary() ([]byte, error) {
	w, err := s.weight.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b, err := s.bias.MarshalBinary()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(summaryMagic)
	var tanh int32
	if s.tanh {
		tanh = 1
	}
	for _, v := range []int32{int32(s.token), tanh, int32(len(w)), int32(len(b))} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	buf.Write(w)
	buf.Write(b)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a layer written by MarshalBinary.
func (s *SequenceSummary) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	magic := make([]byte, len(summaryMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != summaryMagic {
		return fmt.Errorf("%w: not a summary layer file", ErrConfigError)
	}
	var header [4]int32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("%w: truncated summary header: %v", ErrConfigError, err)
	}
	w := make([]byte, header[2])
	if _, err := io.ReadFull(r, w); err != nil {
		return fmt.Errorf("%w: truncated summary weight: %v", ErrConfigError, err)
	}
	b := make([]byte, header[3])
	if _, err := io.ReadFull(r, b); err != nil {
		return fmt.Errorf("%w: truncated summary bias: %v", ErrConfigError, err)
	}
	var weight mat.Dense
	if err := weight.UnmarshalBinary(w); err != nil {
		return fmt.Errorf("%w: summary weight: %v", ErrConfigError, err)
	}
	var bias mat.VecDense
	if err := bias.UnmarshalBinary(b); err != nil {
		return fmt.Errorf("%w: summary bias: %v", ErrConfigError, err)
	}
	rows, cols := weight.Dims()
	if rows != cols || bias.Len() != rows {
		return fmt.Errorf("%w: summary shapes %dx%d and %d do not match", ErrConfigError, rows, cols, bias.Len())
	}
	s.token = SummaryToken(header[0])
	s.tanh = header[1] == 1
	s.weight = &weight
	s.bias = &bias
	return nil
}

// Save writes the layer to path.
func (s *SequenceSummary) Save(path string) error {
	data, err := s.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode summary layer: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary layer: %w", err)
	}
	return nil
}

// LoadSequenceSummary reads a layer written by Save.
func LoadSequenceSummary(path string) (*SequenceSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary layer: %w", err)
	}
	s := &SequenceSummary{}
	if err := s.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return s, nil
}
