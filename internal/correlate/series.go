package correlate

import (
	"math"
	"sort"
	"time"

	"github.com/mkendrick/crosswind/internal/domain"
)

// Variable names one numeric attribute within one domain.
type Variable struct {
	Domain    domain.Domain
	Attribute string
}

// ID returns the variable's canonical identifier.
func (v Variable) ID() string {
	return string(v.Domain) + "." + v.Attribute
}

// bucketSeries is a variable's observations reduced to one value per time
// bucket. Buckets are identified by their start time truncated to the
// bucket width; multiple observations in a bucket are averaged.
type bucketSeries struct {
	variable Variable
	values   map[int64]float64 // bucket start (unix seconds) -> value
}

// alignedPair is two variables resampled onto a shared bucket grid. An
// intermediate artifact only; never persisted.
type alignedPair struct {
	pair domain.VariablePair
	x, y []float64
}

// extractSeries groups records into per-variable bucket series. A record
// whose declared-numeric attribute carries a non-numeric or non-finite
// value yields an InvalidSeriesError for that variable; the rest of the
// extraction continues.
func extractSeries(records []domain.NormalizedRecord, bucketWidth time.Duration) (map[string]*bucketSeries, map[string]error) {
	type accumulator struct {
		sum   float64
		count int
	}

	acc := make(map[string]map[int64]*accumulator)
	vars := make(map[string]Variable)
	invalid := make(map[string]error)

	width := int64(bucketWidth / time.Second)

	for _, rec := range records {
		bucket := rec.Timestamp.Unix() / width * width

		for attr, val := range rec.Attributes {
			v := Variable{Domain: rec.Domain, Attribute: attr}
			id := v.ID()
			if _, bad := invalid[id]; bad {
				continue
			}
			if math.IsNaN(val) || math.IsInf(val, 0) {
				invalid[id] = &domain.InvalidSeriesError{
					RecordID:  rec.RecordID(),
					Attribute: attr,
					Value:     "non-finite",
				}
				continue
			}
			if acc[id] == nil {
				acc[id] = make(map[int64]*accumulator)
				vars[id] = v
			}
			a := acc[id][bucket]
			if a == nil {
				a = &accumulator{}
				acc[id][bucket] = a
			}
			a.sum += val
			a.count++
		}
	}

	// Second pass: an attribute that showed up as a label on any record
	// carries a non-numeric value in a field the variable declares numeric.
	// No silent coercion, regardless of record order.
	for _, rec := range records {
		for attr, raw := range rec.Labels {
			id := Variable{Domain: rec.Domain, Attribute: attr}.ID()
			if _, numeric := acc[id]; numeric {
				if _, bad := invalid[id]; !bad {
					invalid[id] = &domain.InvalidSeriesError{
						RecordID:  rec.RecordID(),
						Attribute: attr,
						Value:     raw,
					}
				}
			}
		}
	}

	series := make(map[string]*bucketSeries, len(acc))
	for id, buckets := range acc {
		if _, bad := invalid[id]; bad {
			continue
		}
		s := &bucketSeries{variable: vars[id], values: make(map[int64]float64, len(buckets))}
		for b, a := range buckets {
			s.values[b] = a.sum / float64(a.count)
		}
		series[id] = s
	}
	return series, invalid
}

// align resamples two bucket series onto their shared grid: every bucket
// from the first observation either series has through the last, stepped by
// the bucket width, with forward-fill covering gaps. Buckets before a
// series' first observation have nothing to fill from, so the grid starts
// where both series have data.
func align(a, b *bucketSeries, bucketWidth time.Duration) alignedPair {
	width := int64(bucketWidth / time.Second)

	startA, endA, okA := span(a)
	startB, endB, okB := span(b)
	if !okA || !okB {
		return alignedPair{pair: makePair(a.variable, b.variable)}
	}

	start := maxInt64(startA, startB)
	end := minInt64(endA, endB)
	if start > end {
		return alignedPair{pair: makePair(a.variable, b.variable)}
	}

	var xs, ys []float64
	lastA, lastB := a.values[startA], b.values[startB]
	// Walk from each series' own start so forward-fill state is correct
	// when the shared grid begins.
	for bucket := minInt64(startA, startB); bucket <= end; bucket += width {
		if v, ok := a.values[bucket]; ok {
			lastA = v
		}
		if v, ok := b.values[bucket]; ok {
			lastB = v
		}
		if bucket >= start {
			xs = append(xs, lastA)
			ys = append(ys, lastB)
		}
	}

	pair := makePair(a.variable, b.variable)
	// Keep value order consistent with the canonical pair ordering.
	if pair.DomainA == a.variable.Domain && pair.AttributeA == a.variable.Attribute {
		return alignedPair{pair: pair, x: xs, y: ys}
	}
	return alignedPair{pair: pair, x: ys, y: xs}
}

// makePair builds the canonical (sorted) variable pair so the same two
// variables always produce the same pair ID.
func makePair(a, b Variable) domain.VariablePair {
	if a.ID() > b.ID() {
		a, b = b, a
	}
	return domain.VariablePair{
		DomainA:    a.Domain,
		AttributeA: a.Attribute,
		DomainB:    b.Domain,
		AttributeB: b.Attribute,
	}
}

func span(s *bucketSeries) (start, end int64, ok bool) {
	if len(s.values) == 0 {
		return 0, 0, false
	}
	first := true
	for b := range s.values {
		if first {
			start, end = b, b
			first = false
			continue
		}
		if b < start {
			start = b
		}
		if b > end {
			end = b
		}
	}
	return start, end, true
}

// sortedVariableIDs returns series keys in stable order so run output is
// deterministic.
func sortedVariableIDs(series map[string]*bucketSeries) []string {
	ids := make([]string, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
