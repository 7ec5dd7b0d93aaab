package hmm

import "math"

// Evaluate computes the natural-log likelihood of the model having
// generated seq, using the scaled forward algorithm: each step's state
// vector is renormalized by its sum, keeping the values in [0,1] for
// arbitrarily long sequences, and the log of the product of the scale
// factors recovers the true log-likelihood.
//
// An empty sequence and a sequence with zero probability under the model
// both evaluate to negative infinity; neither is an error. An error is
// returned only when seq contains a character outside {A, C, G, T}.
func (m Model) Evaluate(seq string) (float64, error) {
	obs, err := symbolIndexes(seq)
	if err != nil {
		return 0, err
	}
	if len(obs) == 0 {
		return math.Inf(-1), nil
	}

	var prev [NumStates]float64
	for i := 0; i < NumStates; i++ {
		prev[i] = m.Pi[i] * m.B[i][obs[0]]
	}
	s := prev[0] + prev[1]
	if s == 0 {
		return math.Inf(-1), nil
	}
	prev[0] /= s
	prev[1] /= s
	logp := math.Log(s)

	for t := 1; t < len(obs); t++ {
		var cur [NumStates]float64
		for j := 0; j < NumStates; j++ {
			var sum float64
			for i := 0; i < NumStates; i++ {
				sum += prev[i] * m.A[i][j]
			}
			cur[j] = sum * m.B[j][obs[t]]
		}
		s = cur[0] + cur[1]
		if s == 0 {
			return math.Inf(-1), nil
		}
		cur[0] /= s
		cur[1] /= s
		prev = cur
		logp += math.Log(s)
	}

	return logp, nil
}

// EvaluateLog2 is Evaluate rebased to log2.
func (m Model) EvaluateLog2(seq string) (float64, error) {
	logp, err := m.Evaluate(seq)
	if err != nil {
		return 0, err
	}
	return logp / math.Ln2, nil
}

// Probability returns the plain likelihood exp(Evaluate(seq)). It
// underflows to 0 for long sequences; Evaluate is the stable surface.
// An impossible or empty sequence yields 0.
func (m Model) Probability(seq string) (float64, error) {
	logp, err := m.Evaluate(seq)
	if err != nil {
		return 0, err
	}
	return math.Exp(logp), nil
}
