package hmm

import "strings"

const (
	// DefaultThreshold is the posterior probability cutoff Classify uses
	// to assign the high-GC state.
	DefaultThreshold = 0.5
	// LabelHigh and LabelLow are the characters Classify emits for the
	// high-GC and low-GC states.
	LabelHigh = 'H'
	LabelLow  = 'L'
)

// Classify posterior-decodes seq at DefaultThreshold and renders the
// state path as a label string, one 'H' or 'L' per position.
func (m Model) Classify(seq string) (string, error) {
	states, err := m.PosteriorDecode(seq, DefaultThreshold)
	if err != nil {
		return "", err
	}
	return LabelString(states), nil
}

// LabelString renders a 0/1 state path as its 'L'/'H' label string.
func LabelString(states []int) string {
	var b strings.Builder
	b.Grow(len(states))
	for _, s := range states {
		if s == 1 {
			b.WriteByte(LabelHigh)
		} else {
			b.WriteByte(LabelLow)
		}
	}
	return b.String()
}

// Segment is an inclusive [Start, End] run of consecutive high-GC
// positions in a decoded state path.
type Segment struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Segments collapses a 0/1 state path into the list of maximal runs of
// state 1, in order of appearance.
func Segments(states []int) []Segment {
	var segs []Segment
	for i := 0; i < len(states); i++ {
		if states[i] != 1 {
			continue
		}
		start := i
		for i+1 < len(states) && states[i+1] == 1 {
			i++
		}
		segs = append(segs, Segment{Start: start, End: i})
	}
	return segs
}
