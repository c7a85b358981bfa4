// Package domain defines the shared types flowing between the pipeline
// stages: normalized records, entity links, correlation results, embeddings
// and alerts.
package domain

import "time"

// Domain identifies which upstream data source a record came from.
type Domain string

const (
	DomainMusic         Domain = "music"
	DomainEntertainment Domain = "entertainment"
	DomainWeather       Domain = "weather"
	DomainGaming        Domain = "gaming"
	DomainDevelopment   Domain = "development"
	DomainProductivity  Domain = "productivity"
)

// Domains lists every recognized domain in stable order.
var Domains = []Domain{
	DomainMusic,
	DomainEntertainment,
	DomainWeather,
	DomainGaming,
	DomainDevelopment,
	DomainProductivity,
}

// Valid reports whether d is one of the recognized domains.
func (d Domain) Valid() bool {
	for _, known := range Domains {
		if d == known {
			return true
		}
	}
	return false
}

// GeoPoint is a latitude/longitude pair in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NormalizedRecord is the common shape every raw payload is reduced to.
// Immutable once created: the Normalizer builds it, nothing mutates it after.
type NormalizedRecord struct {
	Domain       Domain             `json:"domain"`
	SourceID     string             `json:"source_id"` // unique within Domain
	Timestamp    time.Time          `json:"timestamp"`
	TimestampEnd *time.Time         `json:"timestamp_end,omitempty"` // set when the source reports a range
	Geo          *GeoPoint          `json:"geo,omitempty"`
	Attributes   map[string]float64 `json:"attributes,omitempty"` // numeric, domain-specific
	Labels       map[string]string  `json:"labels,omitempty"`     // non-numeric attributes
	LinkKeys     map[string]string  `json:"link_keys,omitempty"`  // key type -> value, e.g. "isrc" -> "GBAHS1700024"
}

// RecordID returns the globally unique identity of a record.
func (r NormalizedRecord) RecordID() string {
	return string(r.Domain) + ":" + r.SourceID
}

// LinkType identifies which strategy produced an EntityLink.
type LinkType string

const (
	LinkExactKey   LinkType = "exact_key"
	LinkGeographic LinkType = "geographic"
	LinkTemporal   LinkType = "temporal"
)

// EntityLink is a confidence-scored relationship between two records.
// Links are never updated in place: each linker run produces a fresh set
// under a new BatchID so older analyses stay reproducible.
type EntityLink struct {
	BatchID          string    `json:"batch_id"`
	SourceRecordID   string    `json:"source_record_id"`
	TargetRecordID   string    `json:"target_record_id"`
	LinkType         LinkType  `json:"link_type"`
	Confidence       float64   `json:"confidence"` // 0..1, per-strategy formula
	KeyType          string    `json:"key_type,omitempty"`           // exact_key links
	DistanceMeters   *float64  `json:"distance_meters,omitempty"`    // geographic links
	TimeDeltaSeconds *float64  `json:"time_delta_seconds,omitempty"` // temporal links
	CreatedAt        time.Time `json:"created_at"`
}

// CausationLikelihood is deliberately conservative: without external causal
// validation data the engine never asserts more than "medium".
type CausationLikelihood string

const (
	LikelihoodLow         CausationLikelihood = "low"
	LikelihoodMedium      CausationLikelihood = "medium"
	LikelihoodUnsupported CausationLikelihood = "unsupported-by-design"
)

// CausationAssessment accompanies every CorrelationResult. It documents why
// the observed correlation should not be read as causation.
type CausationAssessment struct {
	Likelihood         CausationLikelihood `json:"likelihood"`
	ConfoundingFactors []string            `json:"confounding_factors"`
	MethodologyNote    string              `json:"methodology_note"`
}

// VariablePair names the two series a correlation was computed over.
// Ordering is canonical: A sorts before B so the same pair always gets the
// same ID regardless of argument order.
type VariablePair struct {
	DomainA    Domain `json:"domain_a"`
	AttributeA string `json:"attribute_a"`
	DomainB    Domain `json:"domain_b"`
	AttributeB string `json:"attribute_b"`
}

// ID returns the canonical pair identifier.
func (p VariablePair) ID() string {
	return string(p.DomainA) + "." + p.AttributeA + "|" + string(p.DomainB) + "." + p.AttributeB
}

// CorrelationResult is one pairwise statistical finding. Results are
// append-only, keyed by (VariablePairID, AnalysisTimestamp).
type CorrelationResult struct {
	VariablePairID    string              `json:"variable_pair_id"`
	Pair              VariablePair        `json:"pair"`
	RunID             string              `json:"run_id"`
	AnalysisTimestamp time.Time           `json:"analysis_timestamp"`
	Coefficient       float64             `json:"coefficient"` // Pearson r, -1..1
	PValue            float64             `json:"p_value"`
	AdjustedPValue    float64             `json:"adjusted_p_value"` // after Benjamini-Hochberg
	SampleSize        int                 `json:"sample_size"`
	Method            string              `json:"method"` // e.g. "pearson+BH"
	Significant       bool                `json:"significant"`
	Causation         CausationAssessment `json:"causation"`
}

// ExclusionReason explains why a variable pair was left out of a run.
type ExclusionReason string

const (
	ExcludedInsufficientSamples ExclusionReason = "insufficient_sample_size"
	ExcludedInvalidSeries       ExclusionReason = "invalid_series"
)

// PairExclusion is the machine-readable record of a pair that was dropped
// from an analysis run. Exclusions are normal reported outcomes, not errors.
type PairExclusion struct {
	VariablePairID string          `json:"variable_pair_id"`
	Reason         ExclusionReason `json:"reason"`
	Detail         string          `json:"detail"`
	SampleSize     int             `json:"sample_size,omitempty"`
}

// AnalysisRun is the complete outcome of one batch correlation pass.
// A run is all-or-nothing with respect to Benjamini-Hochberg adjustment:
// a cancelled run persists nothing.
type AnalysisRun struct {
	RunID       string              `json:"run_id"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
	Alpha       float64             `json:"alpha"`
	Results     []CorrelationResult `json:"results"`
	Exclusions  []PairExclusion     `json:"exclusions"`
}

// EntityType categorizes what an embedding vector represents.
type EntityType string

const (
	EntityRecord      EntityType = "record"
	EntityCorrelation EntityType = "correlation"
)

// Embedding is a persisted vector, keyed by (EntityType, EntityID, Model) so
// vectors from different models coexist without collision.
type Embedding struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Model      string     `json:"model"`
	Vector     []float32  `json:"vector"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Key returns the composite storage key for the embedding.
func (e Embedding) Key() string {
	return string(e.EntityType) + "/" + e.EntityID + "/" + e.Model
}

// CorrelationAlert is emitted when a freshly computed coefficient moves more
// than the configured threshold away from the last persisted result for the
// same pair. Alerts are delivered to a consumer sink and not retained here.
type CorrelationAlert struct {
	VariablePairID string    `json:"variable_pair_id"`
	Previous       float64   `json:"previous_coefficient"`
	Current        float64   `json:"current_coefficient"`
	Delta          float64   `json:"delta"` // absolute change
	SampleSize     int       `json:"sample_size"`
	ObservedAt     time.Time `json:"observed_at"`
}

// CitedCorrelation is one correlation referenced by a retrieval answer.
// All four fields below are mandatory in every answer: coefficient, sample
// size, significance and the causation caveat.
type CitedCorrelation struct {
	VariablePairID string              `json:"variable_pair_id"`
	Coefficient    float64             `json:"coefficient"`
	SampleSize     int                 `json:"sample_size"`
	Significant    bool                `json:"significant"`
	Causation      CausationAssessment `json:"causation"`
	Similarity     float32             `json:"similarity"` // cosine similarity to the query
	Summary        string              `json:"summary"`
}

// RetrievalAnswer is the response to a natural-language query.
type RetrievalAnswer struct {
	Query     string             `json:"query"`
	Answer    string             `json:"answer"`
	Citations []CitedCorrelation `json:"citations"`
}
