package lm

import (
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/mat"
)

func identitySummary(hidden int, token SummaryToken, tanh bool) *SequenceSummary {
	s := NewSequenceSummary(hidden, token, tanh, 0.02, rand.New(rand.NewPCG(1, 2)))
	s.weight = mat.NewDense(hidden, hidden, nil)
	for i := 0; i < hidden; i++ {
		s.weight.Set(i, i, 1)
	}
	return s
}

func TestSequenceSummary(t *testing.T) {
	seq := [][][]float32{{{0.5, -1}, {2, 3}}}

	t.Run("FirstTokenTanh", func(t *testing.T) {
		out, err := identitySummary(2, SummaryFirst, true).Apply(seq, nil)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		want := []float32{float32(math.Tanh(0.5)), float32(math.Tanh(-1))}
		if diff := cmp.Diff(want, out[0], cmpopts.EquateApprox(0, 1e-6)); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("LastTokenLinear", func(t *testing.T) {
		out, err := identitySummary(2, SummaryLast, false).Apply(seq, nil)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if diff := cmp.Diff([]float32{2, 3}, out[0]); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("LastTokenSkipsPadding", func(t *testing.T) {
		padded := [][][]float32{{{0.5, -1}, {2, 3}, {9, 9}}}
		out, err := identitySummary(2, SummaryLast, false).Apply(padded, [][]int32{{1, 1, 0}})
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if diff := cmp.Diff([]float32{2, 3}, out[0]); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("InitDistribution", func(t *testing.T) {
		s := NewSequenceSummary(64, SummaryFirst, true, 0.02, rand.New(rand.NewPCG(7, 7)))
		var sum, sq float64
		r, c := s.weight.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				v := s.weight.At(i, j)
				sum += v
				sq += v * v
			}
		}
		n := float64(r * c)
		std := math.Sqrt(sq/n - (sum/n)*(sum/n))
		if math.Abs(std-0.02) > 0.002 {
			t.Errorf("weight std = %f, want ~0.02", std)
		}
		if mat.Norm(s.bias, 2) != 0 {
			t.Error("bias should start at zero")
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		s := NewSequenceSummary(4, SummaryLast, false, 0.02, rand.New(rand.NewPCG(3, 4)))
		path := filepath.Join(t.TempDir(), PoolerFileName)
		if err := s.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		loaded, err := LoadSequenceSummary(path)
		if err != nil {
			t.Fatalf("LoadSequenceSummary failed: %v", err)
		}
		if loaded.token != SummaryLast || loaded.tanh {
			t.Errorf("mode not restored: %v %v", loaded.token, loaded.tanh)
		}
		if !mat.Equal(s.weight, loaded.weight) {
			t.Error("weights differ after round trip")
		}
	})
}
