package correlate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mkendrick/crosswind/internal/config"
	"github.com/mkendrick/crosswind/internal/domain"
	"github.com/mkendrick/crosswind/internal/logging"
	"github.com/mkendrick/crosswind/internal/stats"
)

// AlertSink receives CorrelationAlerts. The engine pushes and forgets;
// retention is the consumer's concern.
type AlertSink interface {
	Publish(alert domain.CorrelationAlert)
}

// AlertFunc adapts a plain function to the AlertSink interface.
type AlertFunc func(alert domain.CorrelationAlert)

// Publish calls f.
func (f AlertFunc) Publish(alert domain.CorrelationAlert) { f(alert) }

// Monitor consumes an append-only stream of record batches and recomputes
// affected pair correlations incrementally over a sliding bucket window.
// When a coefficient moves further than the configured threshold from the
// pair's baseline, an alert goes to the sink.
//
// Batches are deduplicated by id so reprocessing is idempotent, and all
// updates to the same pair are serialized through a per-pair lock; pairs
// never coordinate with each other.
type Monitor struct {
	cfg   *config.Config
	store RunStore
	sink  AlertSink

	mu          sync.Mutex
	seenBatches map[string]bool
	variables   map[string]*windowSeries
	pairs       map[string]*pairState
}

// windowSeries is one variable's sliding bucket window.
type windowSeries struct {
	variable Variable
	sums     map[int64]float64
	counts   map[int64]int
}

// pairState serializes updates to a single variable pair.
type pairState struct {
	mu       sync.Mutex
	baseline *float64 // coefficient alerts are measured against
	loaded   bool     // baseline fetched from the store
}

// NewMonitor creates a monitor. The store provides the persisted-result
// snapshot each pair's first comparison runs against; sink may not be nil.
func NewMonitor(cfg *config.Config, store RunStore, sink AlertSink) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:         cfg,
		store:       store,
		sink:        sink,
		seenBatches: make(map[string]bool),
		variables:   make(map[string]*windowSeries),
		pairs:       make(map[string]*pairState),
	}, nil
}

// Ingest processes one batch of new records. A batch id already seen is a
// no-op: samples are never double-counted.
func (m *Monitor) Ingest(ctx context.Context, batchID string, records []domain.NormalizedRecord) error {
	m.mu.Lock()
	if m.seenBatches[batchID] {
		m.mu.Unlock()
		logging.Debug("Monitor: duplicate batch ignored", "batch", batchID)
		return nil
	}
	m.seenBatches[batchID] = true

	affected := m.mergeLocked(records)
	m.mu.Unlock()

	// Recompute each affected cross-domain pair. Different pairs need no
	// coordination; the same pair is serialized by its own lock.
	for _, pairKey := range affected {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.recompute(pairKey)
	}
	return nil
}

// mergeLocked folds records into the per-variable windows and returns the
// affected pair keys in stable order. Caller holds m.mu.
func (m *Monitor) mergeLocked(records []domain.NormalizedRecord) []string {
	width := int64(m.cfg.BucketWidth / time.Second)
	touched := make(map[string]bool)

	for _, rec := range records {
		bucket := rec.Timestamp.Unix() / width * width
		for attr, val := range rec.Attributes {
			v := Variable{Domain: rec.Domain, Attribute: attr}
			id := v.ID()
			ws := m.variables[id]
			if ws == nil {
				ws = &windowSeries{
					variable: v,
					sums:     make(map[int64]float64),
					counts:   make(map[int64]int),
				}
				m.variables[id] = ws
			}
			ws.sums[bucket] += val
			ws.counts[bucket]++
			touched[id] = true
		}
	}

	for id, ws := range m.variables {
		if touched[id] {
			ws.trim(m.cfg.WindowBuckets)
		}
	}

	// Affected pairs: touched variable x every other known variable in a
	// different domain.
	pairSet := make(map[string]bool)
	for id := range touched {
		for otherID := range m.variables {
			if otherID == id || !crossDomainIDs(id, otherID) {
				continue
			}
			lo, hi := id, otherID
			if lo > hi {
				lo, hi = hi, lo
			}
			pairSet[lo+"\x00"+hi] = true
		}
	}

	keys := make([]string, 0, len(pairSet))
	for k := range pairSet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// trim drops buckets older than the most recent n.
func (w *windowSeries) trim(n int) {
	if len(w.sums) <= n {
		return
	}
	buckets := make([]int64, 0, len(w.sums))
	for b := range w.sums {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] > buckets[j] })
	for _, b := range buckets[n:] {
		delete(w.sums, b)
		delete(w.counts, b)
	}
}

// recompute recalculates one pair's coefficient over the current windows
// and compares it against the pair's baseline.
func (m *Monitor) recompute(pairKey string) {
	m.mu.Lock()
	sep := 0
	for i := 0; i < len(pairKey); i++ {
		if pairKey[i] == '\x00' {
			sep = i
			break
		}
	}
	wsA := m.variables[pairKey[:sep]]
	wsB := m.variables[pairKey[sep+1:]]
	if wsA == nil || wsB == nil {
		m.mu.Unlock()
		return
	}
	sa := wsA.snapshot()
	sb := wsB.snapshot()

	state := m.pairs[pairKey]
	if state == nil {
		state = &pairState{}
		m.pairs[pairKey] = state
	}
	m.mu.Unlock()

	aligned := align(sa, sb, m.cfg.BucketWidth)
	if len(aligned.x) < m.cfg.MinimumSampleSize {
		return // below the floor; nothing to compare yet
	}
	r, err := stats.Pearson(aligned.x, aligned.y)
	if err != nil {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.loaded {
		state.loaded = true
		if m.store != nil {
			last, err := m.store.LatestResult(aligned.pair.ID())
			switch {
			case err != nil:
				// Fall back to treating the next observation as the baseline.
				logging.Warn("Monitor: baseline lookup failed", "pair", aligned.pair.ID(), "error", err)
			case last != nil:
				c := last.Coefficient
				state.baseline = &c
			}
		}
	}

	if state.baseline == nil {
		// First observation for this pair becomes the baseline.
		state.baseline = &r
		return
	}

	delta := r - *state.baseline
	if delta < 0 {
		delta = -delta
	}
	if delta <= m.cfg.AlertThreshold {
		return
	}

	alert := domain.CorrelationAlert{
		VariablePairID: aligned.pair.ID(),
		Previous:       *state.baseline,
		Current:        r,
		Delta:          delta,
		SampleSize:     len(aligned.x),
		ObservedAt:     time.Now().UTC(),
	}
	// The alerted coefficient becomes the new baseline so a sustained shift
	// produces one alert, not one per batch.
	state.baseline = &r

	logging.Info("Correlation shift detected",
		"pair", alert.VariablePairID,
		"previous", alert.Previous,
		"current", alert.Current,
		"delta", alert.Delta)

	if m.sink != nil {
		m.sink.Publish(alert)
	}
}

// snapshot converts the window into an immutable bucketSeries for
// alignment. Caller holds m.mu.
func (w *windowSeries) snapshot() *bucketSeries {
	s := &bucketSeries{variable: w.variable, values: make(map[int64]float64, len(w.sums))}
	for b, sum := range w.sums {
		s.values[b] = sum / float64(w.counts[b])
	}
	return s
}
