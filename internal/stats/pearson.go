// Package stats implements the statistical primitives the correlation
// engine is built on: Pearson correlation with two-tailed p-values and
// Benjamini-Hochberg false discovery rate adjustment. Everything here is a
// pure function.
package stats

import (
	"fmt"
	"math"
)

// Pearson computes the Pearson correlation coefficient between two equal
// length series. Returns an error for mismatched lengths, fewer than three
// samples, or a zero-variance series (r is undefined there).
func Pearson(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("stats: series length mismatch (%d vs %d)", len(x), len(y))
	}
	n := len(x)
	if n < 3 {
		return 0, fmt.Errorf("stats: need at least 3 samples, got %d", n)
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	if varX == 0 || varY == 0 {
		return 0, fmt.Errorf("stats: zero variance series, correlation undefined")
	}

	r := cov / math.Sqrt(varX*varY)
	// Guard against floating point drift past the legal range.
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r, nil
}

// PearsonPValue computes the two-tailed p-value for a Pearson coefficient r
// over n samples, using the exact t-distribution with n-2 degrees of
// freedom: p = I_{df/(df+t^2)}(df/2, 1/2).
func PearsonPValue(r float64, n int) (float64, error) {
	if n < 3 {
		return 0, fmt.Errorf("stats: need at least 3 samples for a p-value, got %d", n)
	}
	if math.Abs(r) >= 1 {
		return 0, nil
	}

	df := float64(n - 2)
	t2 := r * r * df / (1 - r*r)
	p := regularizedIncompleteBeta(df/2, 0.5, df/(df+t2))
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	return p, nil
}

// regularizedIncompleteBeta computes I_x(a, b) via the continued fraction
// expansion (Lentz's method), accurate enough for the p-value ranges the
// engine cares about.
func regularizedIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lnBeta := lgamma(a+b) - lgamma(a) - lgamma(b)
	front := math.Exp(lnBeta + a*math.Log(x) + b*math.Log(1-x))

	// Use the symmetry relation when x is past the distribution bulk so the
	// continued fraction converges quickly.
	if x < (a+1)/(a+b+2) {
		return front * betaContinuedFraction(a, b, x) / a
	}
	return 1 - front*betaContinuedFraction(b, a, 1-x)/b
}

func betaContinuedFraction(a, b, x float64) float64 {
	const (
		maxIterations = 200
		epsilon       = 3e-14
		tiny          = 1e-30
	)

	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIterations; m++ {
		fm := float64(m)
		m2 := 2 * fm

		// Even step.
		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		// Odd step.
		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del

		if math.Abs(del-1) < epsilon {
			break
		}
	}
	return h
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
