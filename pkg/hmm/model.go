package hmm

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

const (
	// NumStates is the number of hidden states. State 0 is the low-GC (L)
	// state, state 1 the high-GC (H) state.
	NumStates = 2
	// NumSymbols is the size of the observation alphabet {A, C, G, T}.
	NumSymbols = 4
)

// rowSumTolerance is the maximum deviation from 1.0 allowed for a
// probability row during validation.
const rowSumTolerance = 1e-9

var (
	// ErrInvalidModel is wrapped by errors returned from NewModel when the
	// supplied parameters are not valid probability distributions.
	ErrInvalidModel = errors.New("invalid model parameters")
	// ErrInvalidSymbol is wrapped by errors returned when a sequence
	// contains a character outside the {A, C, G, T} alphabet.
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// Model holds the parameters of a two-state, four-symbol hidden Markov
// model. A[i][j] is the probability of moving to state j given state i,
// Pi[i] the probability of starting in state i, and B[i][k] the
// probability of state i emitting symbol k (A=0, C=1, G=2, T=3).
//
// A Model is immutable by convention: construct it once via NewModel or
// DefaultModel and treat the arrays as read-only afterwards.
type Model struct {
	A  [NumStates][NumStates]float64
	Pi [NumStates]float64
	B  [NumStates][NumSymbols]float64
}

// DefaultModel returns the built-in parameter preset: a slightly sticky
// L state emitting A/T-rich output and an H state emitting G/C-rich
// output, with a uniform initial distribution.
func DefaultModel() Model {
	return Model{
		A:  [NumStates][NumStates]float64{{0.6, 0.4}, {0.5, 0.5}},
		Pi: [NumStates]float64{0.5, 0.5},
		B: [NumStates][NumSymbols]float64{
			{0.3, 0.2, 0.2, 0.3}, // L
			{0.2, 0.3, 0.3, 0.2}, // H
		},
	}
}

// NewModel constructs a Model from explicit parameters. Every entry must
// lie in [0, 1] and every row of the transition matrix, the initial
// distribution, and every row of the emission matrix must sum to 1
// (within a small tolerance). Violations return an error wrapping
// ErrInvalidModel.
func NewModel(a [NumStates][NumStates]float64, pi [NumStates]float64, b [NumStates][NumSymbols]float64) (Model, error) {
	m := Model{A: a, Pi: pi, B: b}
	if err := m.validate(); err != nil {
		return Model{}, err
	}
	return m, nil
}

func (m Model) validate() error {
	for i := range m.A {
		if err := validateRow(fmt.Sprintf("transition row %d", i), m.A[i][:]); err != nil {
			return err
		}
	}
	if err := validateRow("initial distribution", m.Pi[:]); err != nil {
		return err
	}
	for i := range m.B {
		if err := validateRow(fmt.Sprintf("emission row %d", i), m.B[i][:]); err != nil {
			return err
		}
	}
	return nil
}

func validateRow(name string, row []float64) error {
	for _, p := range row {
		if p < 0 || p > 1 {
			return fmt.Errorf("%w: %s contains probability %v outside [0,1]", ErrInvalidModel, name, p)
		}
	}
	if sum := floats.Sum(row); !scalar.EqualWithinAbs(sum, 1.0, rowSumTolerance) {
		return fmt.Errorf("%w: %s sums to %v, want 1", ErrInvalidModel, name, sum)
	}
	return nil
}

// SymbolIndex maps a nucleotide character to its emission-matrix column:
// A=0, C=1, G=2, T=3. Any other byte returns an error wrapping
// ErrInvalidSymbol; there is no silent fallback.
func SymbolIndex(c byte) (int, error) {
	switch c {
	case 'A':
		return 0, nil
	case 'C':
		return 1, nil
	case 'G':
		return 2, nil
	case 'T':
		return 3, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSymbol, c)
	}
}

// symbolIndexes maps an entire sequence up front so the recursions below
// never have to deal with a mapping failure mid-sweep.
func symbolIndexes(seq string) ([]int, error) {
	obs := make([]int, len(seq))
	for t := 0; t < len(seq); t++ {
		idx, err := SymbolIndex(seq[t])
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", t, err)
		}
		obs[t] = idx
	}
	return obs, nil
}
