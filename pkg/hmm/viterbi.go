package hmm

import "math"

// Viterbi returns the single most likely state path for seq under the
// model, computed in log space with backtracking. Unlike posterior
// decoding, which labels each position independently by its marginal
// probability, Viterbi optimizes the joint probability of the whole
// path. Zero-probability transitions or emissions become -Inf scores
// and are simply never chosen unless no finite path exists.
//
// An empty sequence yields an empty slice.
func (m Model) Viterbi(seq string) ([]int, error) {
	obs, err := symbolIndexes(seq)
	if err != nil {
		return nil, err
	}
	n := len(obs)
	if n == 0 {
		return []int{}, nil
	}

	score := make([][NumStates]float64, n)
	back := make([][NumStates]int, n)

	for i := 0; i < NumStates; i++ {
		score[0][i] = math.Log(m.Pi[i]) + math.Log(m.B[i][obs[0]])
	}

	for t := 1; t < n; t++ {
		for j := 0; j < NumStates; j++ {
			best := math.Inf(-1)
			bestState := 0
			for i := 0; i < NumStates; i++ {
				if s := score[t-1][i] + math.Log(m.A[i][j]); s > best {
					best = s
					bestState = i
				}
			}
			score[t][j] = best + math.Log(m.B[j][obs[t]])
			back[t][j] = bestState
		}
	}

	states := make([]int, n)
	if score[n-1][1] >= score[n-1][0] {
		states[n-1] = 1
	}
	for t := n - 2; t >= 0; t-- {
		states[t] = back[t+1][states[t+1]]
	}

	return states, nil
}
