package hmm

import (
	"slices"
	"testing"
)

func TestClassifyBaseline(t *testing.T) {
	m := DefaultModel()
	labels, err := m.Classify(baselineSeq)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if want := "LLHHHLLHHHH"; labels != want {
		t.Errorf("Classify(%q) = %q, want %q", baselineSeq, labels, want)
	}
}

func TestClassifyEmptySequence(t *testing.T) {
	m := DefaultModel()
	labels, err := m.Classify("")
	if err != nil {
		t.Fatalf("Classify(\"\") error = %v", err)
	}
	if labels != "" {
		t.Errorf("Classify(\"\") = %q, want empty string", labels)
	}
}

func TestLabelString(t *testing.T) {
	if got := LabelString([]int{0, 1, 1, 0}); got != "LHHL" {
		t.Errorf("LabelString() = %q, want %q", got, "LHHL")
	}
	if got := LabelString(nil); got != "" {
		t.Errorf("LabelString(nil) = %q, want empty", got)
	}
}

func TestSegments(t *testing.T) {
	tests := []struct {
		name   string
		states []int
		want   []Segment
	}{
		{"empty", nil, nil},
		{"all low", []int{0, 0, 0}, nil},
		{"all high", []int{1, 1, 1}, []Segment{{0, 2}}},
		{"interior run", []int{0, 1, 1, 0}, []Segment{{1, 2}}},
		{"runs at both ends", []int{1, 0, 0, 1, 1}, []Segment{{0, 0}, {3, 4}}},
		{"baseline", baselineStates, []Segment{{2, 4}, {7, 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Segments(tt.states); !slices.Equal(got, tt.want) {
				t.Errorf("Segments(%v) = %v, want %v", tt.states, got, tt.want)
			}
		})
	}
}
