package correlate

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/mkendrick/crosswind/internal/config"
	"github.com/mkendrick/crosswind/internal/domain"
)

// memStore records persisted runs without a database.
type memStore struct {
	runs   []*domain.AnalysisRun
	latest map[string]*domain.CorrelationResult
}

func (m *memStore) SaveRun(run *domain.AnalysisRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memStore) LatestResult(pairID string) (*domain.CorrelationResult, error) {
	if m.latest == nil {
		return nil, nil
	}
	return m.latest[pairID], nil
}

var day0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// dailyRecords produces one record per day carrying a single attribute.
func dailyRecords(d domain.Domain, attr string, values []float64) []domain.NormalizedRecord {
	records := make([]domain.NormalizedRecord, len(values))
	for i, v := range values {
		records[i] = domain.NormalizedRecord{
			Domain:     d,
			SourceID:   attr + "-" + day0.AddDate(0, 0, i).Format("2006-01-02"),
			Timestamp:  day0.AddDate(0, 0, i),
			Attributes: map[string]float64{attr: v},
		}
	}
	return records
}

// correlatedSeries builds two 40-point series with a known Pearson
// coefficient near 0.8: y adds an alternating perturbation to x sized so
// r = |u| / sqrt(|u|^2 + |v|^2) lands at 0.75/0.8 geometry.
func correlatedSeries() (x, y []float64) {
	const n = 40
	uNorm := 0.0
	for i := 0; i < n; i++ {
		u := float64(i) - 19.5
		uNorm += u * u
	}
	c := 0.75 * math.Sqrt(uNorm/float64(n))

	x = make([]float64, n)
	y = make([]float64, n)
	for i := 0; i < n; i++ {
		u := float64(i) - 19.5
		v := c
		if i%2 == 1 {
			v = -c
		}
		x[i] = 50 + u
		y[i] = 100 + u + v
	}
	return x, y
}

func TestAnalyzeDetectsInjectedCorrelation(t *testing.T) {
	xs, ys := correlatedSeries()
	records := append(
		dailyRecords(domain.DomainWeather, "temperature", xs),
		dailyRecords(domain.DomainGaming, "players", ys)...,
	)

	store := &memStore{}
	engine, err := NewEngine(config.Default(), store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	run, err := engine.Analyze(context.Background(), records)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(run.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(run.Results))
	}
	res := run.Results[0]
	if res.VariablePairID != "gaming.players|weather.temperature" {
		t.Errorf("pair id = %q", res.VariablePairID)
	}
	if math.Abs(res.Coefficient-0.8) > 0.05 {
		t.Errorf("coefficient = %v, want within 0.05 of 0.8", res.Coefficient)
	}
	if !res.Significant {
		t.Errorf("injected correlation not significant (adjusted p = %v)", res.AdjustedPValue)
	}
	if res.AdjustedPValue > 0.01 {
		t.Errorf("adjusted p = %v, want < 0.01", res.AdjustedPValue)
	}
	if res.AdjustedPValue < res.PValue {
		t.Errorf("adjusted p %v below raw p %v", res.AdjustedPValue, res.PValue)
	}
	if res.SampleSize != 40 {
		t.Errorf("sample size = %d, want 40", res.SampleSize)
	}
	if res.Method != "pearson+BH" {
		t.Errorf("method = %q", res.Method)
	}

	// The run persisted exactly once, atomically.
	if len(store.runs) != 1 || store.runs[0].RunID != run.RunID {
		t.Errorf("persisted runs = %d", len(store.runs))
	}
}

func TestAnalyzeCausationStaysConservative(t *testing.T) {
	xs, ys := correlatedSeries()
	records := append(
		dailyRecords(domain.DomainWeather, "temperature", xs),
		dailyRecords(domain.DomainGaming, "players", ys)...,
	)

	engine, err := NewEngine(config.Default(), &memStore{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	run, err := engine.Analyze(context.Background(), records)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	c := run.Results[0].Causation
	if c.Likelihood != domain.LikelihoodLow {
		t.Errorf("likelihood = %s, want low", c.Likelihood)
	}
	// gaming|weather has documented confound candidates.
	if len(c.ConfoundingFactors) == 0 {
		t.Error("confounding factors missing")
	}
	if c.MethodologyNote == "" {
		t.Error("methodology note missing")
	}
}

func TestAnalyzeAllowListRaisesToMedium(t *testing.T) {
	xs, ys := correlatedSeries()
	records := append(
		dailyRecords(domain.DomainWeather, "temperature", xs),
		dailyRecords(domain.DomainGaming, "players", ys)...,
	)

	cfg := config.Default()
	cfg.MechanismAllowList["gaming.players|weather.temperature"] = true

	engine, err := NewEngine(cfg, &memStore{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	run, err := engine.Analyze(context.Background(), records)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if got := run.Results[0].Causation.Likelihood; got != domain.LikelihoodMedium {
		t.Errorf("likelihood = %s, want medium", got)
	}
}

func TestAnalyzeVeryStrongCorrelationFlaggedUnsupported(t *testing.T) {
	// A perfectly linear relationship is the case readers most want to call
	// causal; the assessment must say the claim is unsupported by design.
	xs := make([]float64, 40)
	ys := make([]float64, 40)
	for i := range xs {
		xs[i] = float64(i)
		ys[i] = 3*float64(i) + 7
	}
	records := append(
		dailyRecords(domain.DomainDevelopment, "commits", xs),
		dailyRecords(domain.DomainProductivity, "tasks_done", ys)...,
	)

	engine, err := NewEngine(config.Default(), &memStore{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	run, err := engine.Analyze(context.Background(), records)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	res := run.Results[0]
	if !res.Significant {
		t.Fatal("perfect correlation not significant")
	}
	if res.Causation.Likelihood != domain.LikelihoodUnsupported {
		t.Errorf("likelihood = %s, want unsupported-by-design", res.Causation.Likelihood)
	}
}

func TestAnalyzeUndersizedPairExcludedNotFailed(t *testing.T) {
	// Ten points is below the minimum sample size of thirty: the pair must
	// surface as a reported exclusion, never as an error or a result.
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	ys := []float64{2, 4, 6, 8, 10, 12, 14, 16, 18, 20}
	records := append(
		dailyRecords(domain.DomainMusic, "streams", xs),
		dailyRecords(domain.DomainWeather, "rainfall", ys)...,
	)

	store := &memStore{}
	engine, err := NewEngine(config.Default(), store)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	run, err := engine.Analyze(context.Background(), records)
	if err != nil {
		t.Fatalf("Analyze returned error for undersized pair: %v", err)
	}

	if len(run.Results) != 0 {
		t.Errorf("got %d results, want 0", len(run.Results))
	}
	if len(run.Exclusions) != 1 {
		t.Fatalf("got %d exclusions, want 1", len(run.Exclusions))
	}
	exc := run.Exclusions[0]
	if exc.Reason != domain.ExcludedInsufficientSamples {
		t.Errorf("reason = %s", exc.Reason)
	}
	if exc.VariablePairID != "music.streams|weather.rainfall" {
		t.Errorf("pair id = %q", exc.VariablePairID)
	}
	if exc.SampleSize != 10 {
		t.Errorf("sample size = %d, want 10", exc.SampleSize)
	}
	// The exclusion report persists with the run.
	if len(store.runs) != 1 {
		t.Fatalf("run not persisted")
	}
}

func TestAnalyzeWeakCorrelationReportedNotSignificant(t *testing.T) {
	// An alternating series is nearly orthogonal to a trend: |r| stays below
	// the practical strength floor, so the result carries the numbers with
	// significant=false rather than disappearing.
	xs := make([]float64, 40)
	ys := make([]float64, 40)
	for i := range xs {
		xs[i] = float64(i)
		ys[i] = 10
		if i%2 == 1 {
			ys[i] = -10
		}
	}
	records := append(
		dailyRecords(domain.DomainMusic, "streams", xs),
		dailyRecords(domain.DomainEntertainment, "viewers", ys)...,
	)

	engine, err := NewEngine(config.Default(), &memStore{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	run, err := engine.Analyze(context.Background(), records)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(run.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(run.Results))
	}
	res := run.Results[0]
	if res.Significant {
		t.Errorf("weak correlation marked significant (r = %v)", res.Coefficient)
	}
	if math.Abs(res.Coefficient) >= 0.3 {
		t.Errorf("coefficient = %v, expected below the strength floor", res.Coefficient)
	}
}

func TestAnalyzeInvalidSeriesExcluded(t *testing.T) {
	xs, ys := correlatedSeries()
	records := append(
		dailyRecords(domain.DomainWeather, "temperature", xs),
		dailyRecords(domain.DomainGaming, "players", ys)...,
	)

	// One gaming record claims "players" as a label: the whole variable is
	// invalid and every pairing with it is excluded, not raised.
	records = append(records, domain.NormalizedRecord{
		Domain:    domain.DomainGaming,
		SourceID:  "corrupt",
		Timestamp: day0.AddDate(0, 0, 5),
		Labels:    map[string]string{"players": "many"},
	})

	engine, err := NewEngine(config.Default(), &memStore{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	run, err := engine.Analyze(context.Background(), records)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(run.Results) != 0 {
		t.Errorf("got %d results from an invalid variable, want 0", len(run.Results))
	}
	if len(run.Exclusions) != 1 {
		t.Fatalf("got %d exclusions, want 1", len(run.Exclusions))
	}
	exc := run.Exclusions[0]
	if exc.Reason != domain.ExcludedInvalidSeries {
		t.Errorf("reason = %s", exc.Reason)
	}
	if exc.VariablePairID != "gaming.players|weather.temperature" {
		t.Errorf("pair id = %q", exc.VariablePairID)
	}
	if exc.Detail == "" {
		t.Error("exclusion detail missing")
	}
}

func TestAnalyzeSameDomainPairsSkipped(t *testing.T) {
	xs, ys := correlatedSeries()
	records := append(
		dailyRecords(domain.DomainWeather, "temperature", xs),
		dailyRecords(domain.DomainWeather, "humidity", ys)...,
	)

	engine, err := NewEngine(config.Default(), &memStore{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	run, err := engine.Analyze(context.Background(), records)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(run.Results) != 0 || len(run.Exclusions) != 0 {
		t.Errorf("same-domain pair analyzed: %d results, %d exclusions",
			len(run.Results), len(run.Exclusions))
	}
}

func TestAnalyzeBHAdjustsAcrossFamily(t *testing.T) {
	// Three variables, three cross-domain pairs. Each adjusted p must be at
	// least its raw p, and the family correction applies per run.
	xs, ys := correlatedSeries()
	zs := make([]float64, 40)
	for i := range zs {
		zs[i] = math.Sin(float64(i) * 1.7)
	}
	records := append(
		dailyRecords(domain.DomainWeather, "temperature", xs),
		dailyRecords(domain.DomainGaming, "players", ys)...,
	)
	records = append(records, dailyRecords(domain.DomainMusic, "streams", zs)...)

	engine, err := NewEngine(config.Default(), &memStore{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	run, err := engine.Analyze(context.Background(), records)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(run.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(run.Results))
	}
	for _, res := range run.Results {
		if res.AdjustedPValue < res.PValue {
			t.Errorf("%s: adjusted p %v below raw %v", res.VariablePairID, res.AdjustedPValue, res.PValue)
		}
		if res.AdjustedPValue > 1 {
			t.Errorf("%s: adjusted p %v exceeds 1", res.VariablePairID, res.AdjustedPValue)
		}
	}
}

func TestAlignForwardFillsGaps(t *testing.T) {
	// Weather reports daily, gaming misses every fifth day: alignment
	// forward-fills the gaming series over the shared grid instead of
	// shrinking it.
	xs, ys := correlatedSeries()
	weather := dailyRecords(domain.DomainWeather, "temperature", xs)

	var gaming []domain.NormalizedRecord
	for i, v := range ys {
		if i%5 != 0 {
			gaming = append(gaming, domain.NormalizedRecord{
				Domain:     domain.DomainGaming,
				SourceID:   "g-" + day0.AddDate(0, 0, i).Format("2006-01-02"),
				Timestamp:  day0.AddDate(0, 0, i),
				Attributes: map[string]float64{"players": v},
			})
		}
	}

	engine, err := NewEngine(config.Default(), &memStore{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	run, err := engine.Analyze(context.Background(), append(weather, gaming...))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(run.Results) != 1 {
		t.Fatalf("got %d results, want 1 (exclusions: %v)", len(run.Results), run.Exclusions)
	}
	// Grid spans gaming's first observation (day 1) through day 39: 39 buckets.
	if got := run.Results[0].SampleSize; got != 39 {
		t.Errorf("aligned sample size = %d, want 39", got)
	}
}
