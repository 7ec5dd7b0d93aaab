package hmm

import (
	"slices"
	"testing"
)

func TestViterbiEmptySequence(t *testing.T) {
	m := DefaultModel()
	states, err := m.Viterbi("")
	if err != nil {
		t.Fatalf("Viterbi(\"\") error = %v", err)
	}
	if len(states) != 0 {
		t.Errorf("Viterbi(\"\") = %v, want empty", states)
	}
}

func TestViterbiBaseline(t *testing.T) {
	m := DefaultModel()
	states, err := m.Viterbi(baselineSeq)
	if err != nil {
		t.Fatalf("Viterbi() error = %v", err)
	}
	// For this sequence the joint-best path coincides with the
	// position-wise posterior decode.
	if !slices.Equal(states, baselineStates) {
		t.Errorf("Viterbi(%q) = %v, want %v", baselineSeq, states, baselineStates)
	}
}

func TestViterbiSingleSymbol(t *testing.T) {
	m := DefaultModel()

	// One A: L emits it with 0.3 > H's 0.2, uniform start, so L wins.
	// One G: H emits it with 0.3 > L's 0.2, so H wins.
	tests := []struct {
		seq  string
		want []int
	}{
		{"A", []int{0}},
		{"T", []int{0}},
		{"G", []int{1}},
		{"C", []int{1}},
	}
	for _, tt := range tests {
		states, err := m.Viterbi(tt.seq)
		if err != nil {
			t.Fatalf("Viterbi(%q) error = %v", tt.seq, err)
		}
		if !slices.Equal(states, tt.want) {
			t.Errorf("Viterbi(%q) = %v, want %v", tt.seq, states, tt.want)
		}
	}
}

func TestViterbiIsIdempotent(t *testing.T) {
	m := DefaultModel()
	seq := randomSequence(300, 13)

	first, err := m.Viterbi(seq)
	if err != nil {
		t.Fatalf("Viterbi() error = %v", err)
	}
	second, err := m.Viterbi(seq)
	if err != nil {
		t.Fatalf("Viterbi() error = %v", err)
	}
	if !slices.Equal(first, second) {
		t.Errorf("Viterbi() not identical across calls")
	}
}
