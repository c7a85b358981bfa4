// Package correlate is the statistical core of the engine: it aligns
// cross-domain variables onto a shared time grid, computes pairwise Pearson
// correlations with Benjamini-Hochberg correction, classifies significance,
// and attaches a causation assessment to every result.
package correlate

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkendrick/crosswind/internal/config"
	"github.com/mkendrick/crosswind/internal/domain"
	"github.com/mkendrick/crosswind/internal/logging"
	"github.com/mkendrick/crosswind/internal/stats"
)

// RunStore is the persistence surface the engine needs. Keeping it an
// interface lets tests run without a database.
type RunStore interface {
	// SaveRun persists a completed run atomically: either every result and
	// exclusion lands or none do.
	SaveRun(run *domain.AnalysisRun) error
	// LatestResult returns the most recent persisted result for a pair, or
	// nil if none exists.
	LatestResult(variablePairID string) (*domain.CorrelationResult, error)
}

// Engine runs batch correlation analyses.
type Engine struct {
	cfg     *config.Config
	store   RunStore
	workers int
}

// NewEngine validates the configuration and returns an engine. An invalid
// configuration is a programmer error and fails here, before any analysis.
func NewEngine(cfg *config.Config, store RunStore) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, store: store, workers: runtime.NumCPU()}, nil
}

// measurement is one pairwise test before adjustment.
type measurement struct {
	pair        domain.VariablePair
	coefficient float64
	pValue      float64
	sampleSize  int
}

// Analyze runs one batch analysis over the record set. The run is
// all-or-nothing: adjusted p-values require the full p-value family, so a
// cancelled run persists nothing and returns the context error.
func (e *Engine) Analyze(ctx context.Context, records []domain.NormalizedRecord) (*domain.AnalysisRun, error) {
	startedAt := time.Now().UTC()
	runID := uuid.New().String()

	series, invalid := extractSeries(records, e.cfg.BucketWidth)

	run := &domain.AnalysisRun{
		RunID:     runID,
		StartedAt: startedAt,
		Alpha:     e.cfg.Alpha,
	}

	pairs, exclusions := e.enumeratePairs(series, invalid)
	run.Exclusions = exclusions

	measurements, moreExclusions, err := e.measurePairs(ctx, pairs)
	if err != nil {
		return nil, err
	}
	run.Exclusions = append(run.Exclusions, moreExclusions...)

	// Barrier: Benjamini-Hochberg needs every p-value from the run before
	// any adjustment happens. This is the only synchronization point.
	run.Results = e.adjustAndClassify(measurements, runID, startedAt)
	run.CompletedAt = time.Now().UTC()

	sort.Slice(run.Exclusions, func(i, j int) bool {
		return run.Exclusions[i].VariablePairID < run.Exclusions[j].VariablePairID
	})

	if e.store != nil {
		if err := e.store.SaveRun(run); err != nil {
			return nil, fmt.Errorf("correlate: persist run %s: %w", runID, err)
		}
	}

	logging.Info("Analysis run complete",
		"run", runID,
		"pairs_tested", len(run.Results),
		"excluded", len(run.Exclusions),
		"significant", countSignificant(run.Results))

	return run, nil
}

// enumeratePairs walks every cross-domain variable pair and splits them
// into testable aligned pairs and reported exclusions. Nothing is dropped
// silently: an invalid series or an undersized one always leaves a
// machine-readable exclusion behind.
func (e *Engine) enumeratePairs(series map[string]*bucketSeries, invalid map[string]error) ([]alignedPair, []domain.PairExclusion) {
	ids := sortedVariableIDs(series)
	invalidIDs := make([]string, 0, len(invalid))
	for id := range invalid {
		invalidIDs = append(invalidIDs, id)
	}
	sort.Strings(invalidIDs)

	var pairs []alignedPair
	var exclusions []domain.PairExclusion

	// Invalid variables pair with every other variable; each such pairing
	// is reported once under its canonical pair id.
	all := append(append([]string{}, ids...), invalidIDs...)
	sort.Strings(all)
	seen := make(map[string]bool)
	for _, badID := range invalidIDs {
		for _, otherID := range all {
			if otherID == badID || !crossDomainIDs(badID, otherID) {
				continue
			}
			lo, hi := badID, otherID
			if lo > hi {
				lo, hi = hi, lo
			}
			pairID := lo + "|" + hi
			if seen[pairID] {
				continue
			}
			seen[pairID] = true
			exclusions = append(exclusions, domain.PairExclusion{
				VariablePairID: pairID,
				Reason:         domain.ExcludedInvalidSeries,
				Detail:         invalid[badID].Error(),
			})
		}
	}

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := series[ids[i]], series[ids[j]]
			if a.variable.Domain == b.variable.Domain {
				continue // cross-domain analysis only
			}

			// Hard floor before alignment: a variable below the minimum on
			// its own can never produce an eligible pair.
			if len(a.values) < e.cfg.MinimumSampleSize || len(b.values) < e.cfg.MinimumSampleSize {
				n := len(a.values)
				if len(b.values) < n {
					n = len(b.values)
				}
				exclusions = append(exclusions, domain.PairExclusion{
					VariablePairID: makePair(a.variable, b.variable).ID(),
					Reason:         domain.ExcludedInsufficientSamples,
					Detail:         fmt.Sprintf("series has %d buckets, minimum is %d", n, e.cfg.MinimumSampleSize),
					SampleSize:     n,
				})
				continue
			}

			aligned := align(a, b, e.cfg.BucketWidth)
			if len(aligned.x) < e.cfg.MinimumSampleSize {
				exclusions = append(exclusions, domain.PairExclusion{
					VariablePairID: aligned.pair.ID(),
					Reason:         domain.ExcludedInsufficientSamples,
					Detail:         fmt.Sprintf("aligned overlap has %d buckets, minimum is %d", len(aligned.x), e.cfg.MinimumSampleSize),
					SampleSize:     len(aligned.x),
				})
				continue
			}
			pairs = append(pairs, aligned)
		}
	}

	return pairs, exclusions
}

// measurePairs computes Pearson r and raw p-values for every aligned pair.
// Pairs are independent, so the work fans out across a bounded worker set;
// cancellation between units of work abandons the whole run.
func (e *Engine) measurePairs(ctx context.Context, pairs []alignedPair) ([]measurement, []domain.PairExclusion, error) {
	if len(pairs) == 0 {
		return nil, nil, nil
	}

	type outcome struct {
		m   *measurement
		exc *domain.PairExclusion
	}

	work := make(chan alignedPair)
	results := make(chan outcome)

	workers := e.workers
	if workers > len(pairs) {
		workers = len(pairs)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range work {
				m, exc := measureOne(p)
				results <- outcome{m: m, exc: exc}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, p := range pairs {
			select {
			case work <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var measurements []measurement
	var exclusions []domain.PairExclusion
	collected := 0
	for out := range results {
		collected++
		if out.m != nil {
			measurements = append(measurements, *out.m)
		}
		if out.exc != nil {
			exclusions = append(exclusions, *out.exc)
		}
	}

	if err := ctx.Err(); err != nil && collected < len(pairs) {
		logging.Warn("Analysis run cancelled", "measured", collected, "total", len(pairs))
		return nil, nil, err
	}

	return measurements, exclusions, nil
}

func measureOne(p alignedPair) (*measurement, *domain.PairExclusion) {
	r, err := stats.Pearson(p.x, p.y)
	if err != nil {
		// Constant series and the like: reported, not raised.
		return nil, &domain.PairExclusion{
			VariablePairID: p.pair.ID(),
			Reason:         domain.ExcludedInvalidSeries,
			Detail:         err.Error(),
			SampleSize:     len(p.x),
		}
	}
	pValue, err := stats.PearsonPValue(r, len(p.x))
	if err != nil {
		return nil, &domain.PairExclusion{
			VariablePairID: p.pair.ID(),
			Reason:         domain.ExcludedInvalidSeries,
			Detail:         err.Error(),
			SampleSize:     len(p.x),
		}
	}
	return &measurement{
		pair:        p.pair,
		coefficient: r,
		pValue:      pValue,
		sampleSize:  len(p.x),
	}, nil
}

// adjustAndClassify applies Benjamini-Hochberg over the configured family
// grouping, then derives significance and the causation assessment. Raw
// p-values ride along in the result but never drive the significant flag.
func (e *Engine) adjustAndClassify(measurements []measurement, runID string, at time.Time) []domain.CorrelationResult {
	if len(measurements) == 0 {
		return nil
	}

	sort.Slice(measurements, func(i, j int) bool {
		return measurements[i].pair.ID() < measurements[j].pair.ID()
	})

	adjusted := make([]float64, len(measurements))
	switch e.cfg.BHGrouping {
	case config.BHPerDomainPair:
		groups := make(map[string][]int)
		for i, m := range measurements {
			key := string(m.pair.DomainA) + "|" + string(m.pair.DomainB)
			groups[key] = append(groups[key], i)
		}
		for _, idxs := range groups {
			ps := make([]float64, len(idxs))
			for k, i := range idxs {
				ps[k] = measurements[i].pValue
			}
			adj := stats.BenjaminiHochberg(ps)
			for k, i := range idxs {
				adjusted[i] = adj[k]
			}
		}
	default: // per run
		ps := make([]float64, len(measurements))
		for i, m := range measurements {
			ps[i] = m.pValue
		}
		adjusted = stats.BenjaminiHochberg(ps)
	}

	method := "pearson+BH"
	results := make([]domain.CorrelationResult, 0, len(measurements))
	for i, m := range measurements {
		// Both statistical and practical significance are required; one
		// without the other reports false with the numbers still attached.
		significant := adjusted[i] <= e.cfg.Alpha && abs(m.coefficient) >= e.cfg.MinimumStrength

		results = append(results, domain.CorrelationResult{
			VariablePairID:    m.pair.ID(),
			Pair:              m.pair,
			RunID:             runID,
			AnalysisTimestamp: at,
			Coefficient:       m.coefficient,
			PValue:            m.pValue,
			AdjustedPValue:    adjusted[i],
			SampleSize:        m.sampleSize,
			Method:            method,
			Significant:       significant,
			Causation:         assessCausation(m.pair, m.coefficient, significant, e.cfg),
		})
	}
	return results
}

// crossDomainIDs reports whether two variable ids belong to different
// domains. Variable ids are "<domain>.<attribute>".
func crossDomainIDs(a, b string) bool {
	return domainOf(a) != domainOf(b)
}

func domainOf(variableID string) string {
	for i := 0; i < len(variableID); i++ {
		if variableID[i] == '.' {
			return variableID[:i]
		}
	}
	return variableID
}

func countSignificant(results []domain.CorrelationResult) int {
	n := 0
	for _, r := range results {
		if r.Significant {
			n++
		}
	}
	return n
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
