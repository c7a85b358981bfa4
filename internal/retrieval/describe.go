// Package retrieval embeds entities and correlation findings, persists the
// vectors, and answers natural-language queries grounded in the retrieved
// correlations.
package retrieval

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mkendrick/crosswind/internal/domain"
)

// DescribeRecord serializes a record to the canonical text its embedding is
// computed from. Deterministic: the same record always yields the same text.
func DescribeRecord(r domain.NormalizedRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s record %s observed at %s.", r.Domain, r.SourceID, r.Timestamp.UTC().Format(time.RFC3339))

	if r.Geo != nil {
		fmt.Fprintf(&b, " Located at %.4f, %.4f.", r.Geo.Lat, r.Geo.Lon)
	}
	if len(r.Attributes) > 0 {
		keys := make([]string, 0, len(r.Attributes))
		for k := range r.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%g", k, r.Attributes[k])
		}
		fmt.Fprintf(&b, " Metrics: %s.", strings.Join(parts, ", "))
	}
	if len(r.Labels) > 0 {
		keys := make([]string, 0, len(r.Labels))
		for k := range r.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%s", k, r.Labels[k])
		}
		fmt.Fprintf(&b, " Properties: %s.", strings.Join(parts, ", "))
	}
	return b.String()
}

// DescribeResult serializes a correlation result to its canonical text.
// The text carries everything a grounded answer must cite: coefficient,
// sample size, significance and the causation caveat.
func DescribeResult(r domain.CorrelationResult) string {
	direction := "positive"
	if r.Coefficient < 0 {
		direction = "negative"
	}
	strength := describeStrength(r.Coefficient)

	sig := "not statistically significant after correction"
	if r.Significant {
		sig = fmt.Sprintf("statistically significant (adjusted p=%.4g, alpha-corrected)", r.AdjustedPValue)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s correlation between %s %s and %s %s: r=%.3f over %d samples, %s.",
		strength, direction,
		r.Pair.DomainA, r.Pair.AttributeA,
		r.Pair.DomainB, r.Pair.AttributeB,
		r.Coefficient, r.SampleSize, sig)
	fmt.Fprintf(&b, " Causation likelihood: %s.", r.Causation.Likelihood)
	if len(r.Causation.ConfoundingFactors) > 0 {
		fmt.Fprintf(&b, " Possible confounds: %s.", strings.Join(r.Causation.ConfoundingFactors, "; "))
	}
	return b.String()
}

func describeStrength(r float64) string {
	abs := r
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 0.7:
		return "Strong"
	case abs >= 0.4:
		return "Moderate"
	case abs >= 0.2:
		return "Weak"
	default:
		return "Negligible"
	}
}

// resultEntityID keys a correlation result's embedding: pair id plus the
// analysis timestamp, so every run's findings index separately and the
// (type, id, model) resumability check stays meaningful.
func resultEntityID(r domain.CorrelationResult) string {
	return r.VariablePairID + "@" + r.AnalysisTimestamp.UTC().Format(time.RFC3339)
}

// parseResultEntityID splits an entity id back into pair id and analysis
// timestamp.
func parseResultEntityID(entityID string) (pairID string, ts time.Time, ok bool) {
	at := strings.LastIndex(entityID, "@")
	if at < 0 {
		return "", time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, entityID[at+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return entityID[:at], ts, true
}
