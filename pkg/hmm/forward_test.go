package hmm

import (
	"math"
	"testing"
)

const (
	// Log-likelihood of the regression sequence under the default model,
	// fixed as a reproducibility baseline.
	baselineSeq  = "ATCGGATCGCG"
	baselineLogL = -15.327346271765114
)

// zeroEmissionModel returns a valid model in which neither state can
// emit 'C', so any sequence containing a C has zero probability.
func zeroEmissionModel(t *testing.T) Model {
	t.Helper()
	m, err := NewModel(
		DefaultModel().A,
		DefaultModel().Pi,
		[NumStates][NumSymbols]float64{
			{0.5, 0, 0.25, 0.25},
			{0.4, 0, 0.3, 0.3},
		},
	)
	if err != nil {
		t.Fatalf("NewModel() for zero-emission model failed: %v", err)
	}
	return m
}

func TestEvaluateEmptySequence(t *testing.T) {
	m := DefaultModel()
	logL, err := m.Evaluate("")
	if err != nil {
		t.Fatalf("Evaluate(\"\") error = %v", err)
	}
	if !math.IsInf(logL, -1) {
		t.Errorf("Evaluate(\"\") = %v, want -Inf", logL)
	}
}

func TestEvaluateKnownValues(t *testing.T) {
	m := DefaultModel()

	tests := []struct {
		seq  string
		want float64
	}{
		// ln(pi0*B[0][A] + pi1*B[1][A]) = ln(0.5*0.3 + 0.5*0.2)
		{"A", math.Log(0.25)},
		// second scale factor works out to 0.256 for "AT"
		{"AT", math.Log(0.25) + math.Log(0.256)},
		{baselineSeq, baselineLogL},
	}

	for _, tt := range tests {
		got, err := m.Evaluate(tt.seq)
		if err != nil {
			t.Fatalf("Evaluate(%q) error = %v", tt.seq, err)
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.seq, got, tt.want)
		}
	}
}

func TestEvaluateIsFiniteAndNonPositive(t *testing.T) {
	m := DefaultModel()

	// All emission and transition probabilities of the default model are
	// strictly positive, so the likelihood must be finite and <= 1.
	for _, n := range []int{1, 2, 17, 500, 5000} {
		seq := randomSequence(n, uint64(n))
		logL, err := m.Evaluate(seq)
		if err != nil {
			t.Fatalf("Evaluate() error = %v for length %d", err, n)
		}
		if math.IsInf(logL, 0) || math.IsNaN(logL) {
			t.Errorf("Evaluate() = %v for length %d, want finite", logL, n)
		}
		if logL > 0 {
			t.Errorf("Evaluate() = %v for length %d, want <= 0", logL, n)
		}
	}
}

func TestEvaluateZeroProbabilitySequence(t *testing.T) {
	m := zeroEmissionModel(t)

	for _, seq := range []string{"C", "AC", "ATGCGT"} {
		logL, err := m.Evaluate(seq)
		if err != nil {
			t.Fatalf("Evaluate(%q) error = %v", seq, err)
		}
		if !math.IsInf(logL, -1) {
			t.Errorf("Evaluate(%q) = %v, want -Inf", seq, logL)
		}
	}

	// Sequences avoiding the zero emission stay finite.
	logL, err := m.Evaluate("ATGGTA")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if math.IsInf(logL, 0) {
		t.Errorf("Evaluate() = %v, want finite", logL)
	}
}

func TestEvaluateLog2(t *testing.T) {
	m := DefaultModel()

	// ln(0.25)/ln(2) = log2(0.25) = -2 exactly.
	got, err := m.EvaluateLog2("A")
	if err != nil {
		t.Fatalf("EvaluateLog2() error = %v", err)
	}
	if math.Abs(got-(-2)) > 1e-15 {
		t.Errorf("EvaluateLog2(\"A\") = %v, want -2", got)
	}

	got, err = m.EvaluateLog2(baselineSeq)
	if err != nil {
		t.Fatalf("EvaluateLog2() error = %v", err)
	}
	if want := baselineLogL / math.Ln2; math.Abs(got-want) > 1e-12 {
		t.Errorf("EvaluateLog2(%q) = %v, want %v", baselineSeq, got, want)
	}
}

func TestProbability(t *testing.T) {
	m := DefaultModel()

	p, err := m.Probability("A")
	if err != nil {
		t.Fatalf("Probability() error = %v", err)
	}
	if math.Abs(p-0.25) > 1e-15 {
		t.Errorf("Probability(\"A\") = %v, want 0.25", p)
	}

	// Empty and impossible sequences both collapse to probability 0.
	p, err = m.Probability("")
	if err != nil {
		t.Fatalf("Probability(\"\") error = %v", err)
	}
	if p != 0 {
		t.Errorf("Probability(\"\") = %v, want 0", p)
	}

	p, err = zeroEmissionModel(t).Probability("AC")
	if err != nil {
		t.Fatalf("Probability() error = %v", err)
	}
	if p != 0 {
		t.Errorf("Probability(\"AC\") = %v under zero-emission model, want 0", p)
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	m := DefaultModel()
	seq := randomSequence(257, 42)

	first, err := m.Evaluate(seq)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	second, err := m.Evaluate(seq)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if first != second {
		t.Errorf("Evaluate() not bit-identical across calls: %v vs %v", first, second)
	}
}

func TestEvaluateMatchesDecodeScales(t *testing.T) {
	m := DefaultModel()

	// The evaluator's result must equal the log-likelihood recoverable
	// from the full forward table the decoder builds.
	for _, seq := range []string{"A", baselineSeq, randomSequence(997, 7)} {
		logL, err := m.Evaluate(seq)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}

		obs, err := symbolIndexes(seq)
		if err != nil {
			t.Fatalf("symbolIndexes() error = %v", err)
		}
		_, scales, ok := m.forwardTables(obs)
		if !ok {
			t.Fatalf("forwardTables() reported zero probability for %q", seq)
		}
		var fromScales float64
		for _, s := range scales {
			fromScales += math.Log(s)
		}

		if logL != fromScales {
			t.Errorf("Evaluate() = %v, sum of decode scale logs = %v", logL, fromScales)
		}
	}
}

func BenchmarkEvaluate(b *testing.B) {
	m := DefaultModel()
	seq := randomSequence(10_000, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Evaluate(seq); err != nil {
			b.Fatal(err)
		}
	}
}
