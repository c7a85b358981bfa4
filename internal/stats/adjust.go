package stats

import "sort"

// BenjaminiHochberg adjusts a set of p-values for multiple testing,
// controlling the false discovery rate. The returned slice is positionally
// aligned with the input. Adjusted values are never smaller than the raw
// values and never exceed 1.
//
// The family is whatever set of p-values the caller passes in one call;
// grouping policy (per run, per domain pair) is decided by the caller.
func BenjaminiHochberg(pValues []float64) []float64 {
	m := len(pValues)
	if m == 0 {
		return nil
	}

	// Sort indices by p-value ascending.
	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return pValues[order[a]] < pValues[order[b]]
	})

	adjusted := make([]float64, m)

	// Walk ranks from largest to smallest, enforcing monotonicity:
	// adjusted(i) = min over j >= i of p(j) * m / rank(j).
	running := 1.0
	for rank := m; rank >= 1; rank-- {
		idx := order[rank-1]
		candidate := pValues[idx] * float64(m) / float64(rank)
		if candidate < running {
			running = candidate
		}
		adjusted[idx] = running
	}

	return adjusted
}
