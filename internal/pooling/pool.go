package pooling

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Pool reduces [batch][seq][hidden] vectors to [batch][hidden] with the mean
// or max over the tokens whose mask is 1. ignoreFirst also drops token 0.
// Rows without any valid token yield a zero vector.
func Pool(vectors [][][]float32, mask [][]int32, strategy Strategy, ignoreFirst bool) ([][]float32, error) {
	if strategy != ReduceMean && strategy != ReduceMax {
		return nil, fmt.Errorf("%w: Pool supports reduce_mean and reduce_max, got %q", ErrInvalidStrategy, strategy)
	}
	if len(mask) != len(vectors) {
		return nil, fmt.Errorf("%w: %d sequences, %d mask rows", ErrShapeMismatch, len(vectors), len(mask))
	}

	out := make([][]float32, len(vectors))
	for b, tokens := range vectors {
		if len(mask[b]) != len(tokens) {
			return nil, fmt.Errorf("%w: sequence %d has %d tokens, mask has %d", ErrShapeMismatch, b, len(tokens), len(mask[b]))
		}
		dim := 0
		if len(tokens) > 0 {
			dim = len(tokens[0])
		}
		acc := make([]float64, dim)
		row := make([]float64, dim)
		n := 0
		for s, vec := range tokens {
			if mask[b][s] == 0 || (ignoreFirst && s == 0) {
				continue
			}
			if len(vec) != dim {
				return nil, fmt.Errorf("%w: token %d of sequence %d has %d dims, want %d", ErrShapeMismatch, s, b, len(vec), dim)
			}
			for i, v := range vec {
				row[i] = float64(v)
			}
			if strategy == ReduceMean {
				floats.Add(acc, row)
			} else if n == 0 {
				copy(acc, row)
			} else {
				for i, v := range row {
					acc[i] = math.Max(acc[i], v)
				}
			}
			n++
		}
		if strategy == ReduceMean && n > 0 {
			floats.Scale(1/float64(n), acc)
		}
		res := make([]float32, dim)
		for i, v := range acc {
			res[i] = float32(v)
		}
		out[b] = res
	}
	return out, nil
}

// CLS returns token 0 of every sequence regardless of the mask.
func CLS(vectors [][][]float32) [][]float32 {
	out := make([][]float32, len(vectors))
	for b, tokens := range vectors {
		if len(tokens) == 0 {
			continue
		}
		out[b] = append([]float32(nil), tokens[0]...)
	}
	return out
}
