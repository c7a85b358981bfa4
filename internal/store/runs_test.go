package store

import (
	"testing"
	"time"

	"github.com/mkendrick/crosswind/internal/domain"
)

func testResult(pairID string, ts time.Time, runID string, coefficient float64, significant bool) domain.CorrelationResult {
	return domain.CorrelationResult{
		VariablePairID:    pairID,
		Pair:              domain.VariablePair{DomainA: domain.DomainGaming, AttributeA: "players", DomainB: domain.DomainWeather, AttributeB: "temperature"},
		RunID:             runID,
		AnalysisTimestamp: ts,
		Coefficient:       coefficient,
		PValue:            0.001,
		AdjustedPValue:    0.003,
		SampleSize:        40,
		Method:            "pearson+BH",
		Significant:       significant,
		Causation: domain.CausationAssessment{
			Likelihood:         domain.LikelihoodLow,
			ConfoundingFactors: []string{"school holidays"},
			MethodologyNote:    "observational association only",
		},
	}
}

func testRun(runID string, ts time.Time, results []domain.CorrelationResult, exclusions []domain.PairExclusion) *domain.AnalysisRun {
	return &domain.AnalysisRun{
		RunID:       runID,
		StartedAt:   ts,
		CompletedAt: ts.Add(time.Second),
		Alpha:       0.05,
		Results:     results,
		Exclusions:  exclusions,
	}
}

func TestSaveRunRoundTrip(t *testing.T) {
	s := newTestStore(t)

	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pairID := "gaming.players|weather.temperature"
	run := testRun("run-1", ts,
		[]domain.CorrelationResult{testResult(pairID, ts, "run-1", 0.79, true)},
		[]domain.PairExclusion{{
			VariablePairID: "music.streams|weather.temperature",
			Reason:         domain.ExcludedInsufficientSamples,
			Detail:         "series has 10 buckets, minimum is 30",
			SampleSize:     10,
		}},
	)
	if err := s.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.LatestResult(pairID)
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if got == nil {
		t.Fatal("LatestResult returned nil")
	}
	if got.Coefficient != 0.79 || !got.Significant || got.SampleSize != 40 {
		t.Errorf("result = %+v", got)
	}
	if got.Causation.Likelihood != domain.LikelihoodLow {
		t.Errorf("likelihood = %s", got.Causation.Likelihood)
	}
	if len(got.Causation.ConfoundingFactors) != 1 || got.Causation.ConfoundingFactors[0] != "school holidays" {
		t.Errorf("confounds = %v", got.Causation.ConfoundingFactors)
	}
	if got.Causation.MethodologyNote == "" {
		t.Error("methodology note lost")
	}

	exclusions, err := s.GetExclusions("run-1")
	if err != nil {
		t.Fatalf("GetExclusions: %v", err)
	}
	if len(exclusions) != 1 {
		t.Fatalf("got %d exclusions, want 1", len(exclusions))
	}
	if exclusions[0].Reason != domain.ExcludedInsufficientSamples || exclusions[0].SampleSize != 10 {
		t.Errorf("exclusion = %+v", exclusions[0])
	}
}

func TestResultsAreAppendOnly(t *testing.T) {
	s := newTestStore(t)

	pairID := "gaming.players|weather.temperature"
	t1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.AddDate(0, 0, 7)

	if err := s.SaveRun(testRun("run-1", t1,
		[]domain.CorrelationResult{testResult(pairID, t1, "run-1", 0.5, true)}, nil)); err != nil {
		t.Fatalf("SaveRun run-1: %v", err)
	}
	if err := s.SaveRun(testRun("run-2", t2,
		[]domain.CorrelationResult{testResult(pairID, t2, "run-2", 0.8, true)}, nil)); err != nil {
		t.Fatalf("SaveRun run-2: %v", err)
	}

	// Both analyses survive; history comes back in analysis order for trend
	// queries.
	history, err := s.GetResultHistory(pairID)
	if err != nil {
		t.Fatalf("GetResultHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d results, want 2", len(history))
	}
	if history[0].Coefficient != 0.5 || history[1].Coefficient != 0.8 {
		t.Errorf("history out of order: %v, %v", history[0].Coefficient, history[1].Coefficient)
	}

	latest, err := s.LatestResult(pairID)
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if latest.Coefficient != 0.8 {
		t.Errorf("latest coefficient = %v, want 0.8", latest.Coefficient)
	}

	at, err := s.GetResultAt(pairID, t1)
	if err != nil {
		t.Fatalf("GetResultAt: %v", err)
	}
	if at == nil || at.Coefficient != 0.5 {
		t.Errorf("result at %v = %+v", t1, at)
	}
}

func TestGetResultsFilters(t *testing.T) {
	s := newTestStore(t)

	t1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	significant := testResult("gaming.players|weather.temperature", t1, "run-1", 0.79, true)
	weak := domain.CorrelationResult{
		VariablePairID:    "music.streams|productivity.tasks_done",
		Pair:              domain.VariablePair{DomainA: domain.DomainMusic, AttributeA: "streams", DomainB: domain.DomainProductivity, AttributeB: "tasks_done"},
		RunID:             "run-1",
		AnalysisTimestamp: t1,
		Coefficient:       0.1,
		PValue:            0.6,
		AdjustedPValue:    0.6,
		SampleSize:        35,
		Method:            "pearson+BH",
		Causation:         domain.CausationAssessment{Likelihood: domain.LikelihoodLow},
	}
	if err := s.SaveRun(testRun("run-1", t1, []domain.CorrelationResult{significant, weak}, nil)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	onlySig, err := s.GetResults(ResultFilter{SignificantOnly: true})
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(onlySig) != 1 || !onlySig[0].Significant {
		t.Errorf("significant filter returned %d results", len(onlySig))
	}

	// Domain filter accepts either argument order.
	for _, f := range []ResultFilter{
		{DomainA: domain.DomainGaming, DomainB: domain.DomainWeather},
		{DomainA: domain.DomainWeather, DomainB: domain.DomainGaming},
	} {
		got, err := s.GetResults(f)
		if err != nil {
			t.Fatalf("GetResults(%+v): %v", f, err)
		}
		if len(got) != 1 || got[0].VariablePairID != "gaming.players|weather.temperature" {
			t.Errorf("domain filter %+v returned %d results", f, len(got))
		}
	}

	// Time window filter.
	windowed, err := s.GetResults(ResultFilter{Since: t1.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("GetResults (since): %v", err)
	}
	if len(windowed) != 0 {
		t.Errorf("future window returned %d results", len(windowed))
	}
}

func TestLatestResultUnknownPair(t *testing.T) {
	s := newTestStore(t)

	got, err := s.LatestResult("nobody.ever|ran.this")
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v for unknown pair, want nil", got)
	}
}

func TestSaveRunIsAtomic(t *testing.T) {
	s := newTestStore(t)

	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	run := testRun("run-dup", ts,
		[]domain.CorrelationResult{testResult("gaming.players|weather.temperature", ts, "run-dup", 0.5, true)}, nil)
	if err := s.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	// Replaying the same run id violates the runs primary key; the whole
	// transaction rolls back and no duplicate results leak in.
	if err := s.SaveRun(run); err == nil {
		t.Fatal("duplicate run id accepted")
	}
	st, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if st.Runs != 1 || st.Results != 1 {
		t.Errorf("stats after failed replay = %+v", st)
	}
}
