package hmm

// forwardTables runs the scaled forward pass over obs and returns the
// full alpha table together with the per-step scale factors. It returns
// ok=false as soon as a step's normalizing sum is zero, i.e. the
// sequence has zero probability under the model. The zero-sum guard
// matches the one in Evaluate, so scales never holds a zero.
func (m Model) forwardTables(obs []int) (alpha [][NumStates]float64, scales []float64, ok bool) {
	n := len(obs)
	alpha = make([][NumStates]float64, n)
	scales = make([]float64, n)

	for i := 0; i < NumStates; i++ {
		alpha[0][i] = m.Pi[i] * m.B[i][obs[0]]
	}
	s := alpha[0][0] + alpha[0][1]
	if s == 0 {
		return nil, nil, false
	}
	alpha[0][0] /= s
	alpha[0][1] /= s
	scales[0] = s

	for t := 1; t < n; t++ {
		for j := 0; j < NumStates; j++ {
			var sum float64
			for i := 0; i < NumStates; i++ {
				sum += alpha[t-1][i] * m.A[i][j]
			}
			alpha[t][j] = sum * m.B[j][obs[t]]
		}
		s = alpha[t][0] + alpha[t][1]
		if s == 0 {
			return nil, nil, false
		}
		alpha[t][0] /= s
		alpha[t][1] /= s
		scales[t] = s
	}

	return alpha, scales, true
}

// backwardTables runs the scaled backward pass right to left, dividing
// each step by the scale factor the forward pass recorded for the
// following position. Reusing the forward scales keeps beta numerically
// comparable to alpha at every time step, which is what lets the two be
// multiplied directly into posteriors.
func (m Model) backwardTables(obs []int, scales []float64) [][NumStates]float64 {
	n := len(obs)
	beta := make([][NumStates]float64, n)
	beta[n-1] = [NumStates]float64{1, 1}

	for t := n - 2; t >= 0; t-- {
		o := obs[t+1]
		for i := 0; i < NumStates; i++ {
			var sum float64
			for j := 0; j < NumStates; j++ {
				sum += m.A[i][j] * m.B[j][o] * beta[t+1][j]
			}
			beta[t][i] = sum / scales[t+1]
		}
	}

	return beta
}

// posteriors combines the forward and backward tables into the
// per-position probability of being in state 1 (H). A position whose
// combined mass is zero defaults to probability 0. ok is false when the
// whole sequence has zero probability under the model.
func (m Model) posteriors(obs []int) (p1 []float64, ok bool) {
	alpha, scales, ok := m.forwardTables(obs)
	if !ok {
		return nil, false
	}
	beta := m.backwardTables(obs, scales)

	p1 = make([]float64, len(obs))
	for t := range obs {
		g0 := alpha[t][0] * beta[t][0]
		g1 := alpha[t][1] * beta[t][1]
		if s := g0 + g1; s != 0 {
			p1[t] = g1 / s
		}
	}
	return p1, true
}

// StateProbabilities returns, for each position of seq, the posterior
// probability that the model was in the high-GC state when emitting it.
// A sequence with zero probability under the model yields all zeros. An
// empty sequence yields an empty slice.
func (m Model) StateProbabilities(seq string) ([]float64, error) {
	obs, err := symbolIndexes(seq)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return []float64{}, nil
	}
	p1, ok := m.posteriors(obs)
	if !ok {
		return make([]float64, len(obs)), nil
	}
	return p1, nil
}

// PosteriorDecode labels each position of seq with 0 (L) or 1 (H) by
// thresholding its posterior state-1 probability: positions with
// probability >= threshold are labeled 1, so a posterior exactly at the
// threshold resolves to the high state. Decoding with threshold 0 labels
// every position 1; a threshold above 1 labels every position 0.
//
// An empty sequence decodes to an empty slice, and a sequence with zero
// probability under the model decodes to all zeros.
func (m Model) PosteriorDecode(seq string, threshold float64) ([]int, error) {
	p1, err := m.StateProbabilities(seq)
	if err != nil {
		return nil, err
	}
	states := make([]int, len(p1))
	for t, p := range p1 {
		if p >= threshold {
			states[t] = 1
		}
	}
	return states, nil
}
