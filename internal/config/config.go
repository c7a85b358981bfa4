// Package config holds the engine configuration. Every tunable is an
// explicit field handed to components at construction; nothing reads
// ambient defaults at runtime.
package config

import (
	"fmt"
	"os"
	"time"
)

// BHGrouping selects the family boundary for Benjamini-Hochberg
// adjustment. The planning material is inconsistent on this point, so it is
// a knob rather than a constant; per-run is the default.
type BHGrouping string

const (
	BHPerRun        BHGrouping = "per_run"
	BHPerDomainPair BHGrouping = "per_domain_pair"
)

// Config carries every recognized engine option.
type Config struct {
	// Significance
	Alpha           float64 // adjusted p-value threshold
	MinimumStrength float64 // |r| floor for practical significance

	// Alignment
	MinimumSampleSize int
	BucketWidth       time.Duration
	BHGrouping        BHGrouping

	// Linking
	GeoRadiusMeters       float64
	TemporalWindowSeconds float64

	// Monitoring
	AlertThreshold float64 // absolute coefficient change that triggers an alert
	WindowBuckets  int     // sliding window size for incremental recomputation

	// Causation assessment
	MechanismAllowList map[string]bool     // pair ID -> plausible direct mechanism
	ConfoundRules      map[string][]string // "domainA|domainB" -> candidate confounds

	// Embedding
	EmbeddingModel string
	EmbedAPIKey    string
	EmbedEndpoint  string
	MaxRetries     int
}

// Default returns the documented defaults. Callers override fields before
// calling Validate.
func Default() *Config {
	return &Config{
		Alpha:                 0.05,
		MinimumStrength:       0.3,
		MinimumSampleSize:     30,
		BucketWidth:           24 * time.Hour,
		BHGrouping:            BHPerRun,
		GeoRadiusMeters:       50_000,
		TemporalWindowSeconds: 86_400,
		AlertThreshold:        0.15,
		WindowBuckets:         90,
		MechanismAllowList:    map[string]bool{},
		ConfoundRules:         DefaultConfoundRules(),
		EmbeddingModel:        "jina-embeddings-v3",
		MaxRetries:            3,
	}
}

// DefaultConfoundRules is the built-in confound documentation table, keyed
// by unordered domain pair. It is a documentation aid, not a statistical
// test; deployments extend it via Config.ConfoundRules.
func DefaultConfoundRules() map[string][]string {
	return map[string][]string{
		"music|weather":             {"seasonal release scheduling", "holiday listening patterns"},
		"entertainment|weather":     {"seasonal programming schedules", "indoor activity shift in bad weather"},
		"gaming|weather":            {"school holidays", "indoor activity shift in bad weather"},
		"development|productivity":  {"shared work calendar", "weekday/weekend cycle"},
		"entertainment|music":       {"coordinated franchise marketing", "awards season"},
		"development|gaming":        {"major platform release events"},
		"music|productivity":        {"weekday/weekend cycle"},
		"entertainment|gaming":      {"franchise cross-promotion", "school holidays"},
		"productivity|weather":      {"commute disruption", "seasonal daylight hours"},
		"development|entertainment": {"tech conference seasons"},
	}
}

// ConfoundKey builds the unordered lookup key for a domain pair.
func ConfoundKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Validate rejects configurations the engine cannot run with. A validation
// failure is a programmer error and fatal at startup.
func (c *Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("config: alpha must be in (0,1), got %v", c.Alpha)
	}
	if c.MinimumStrength < 0 || c.MinimumStrength > 1 {
		return fmt.Errorf("config: minimumStrength must be in [0,1], got %v", c.MinimumStrength)
	}
	if c.MinimumSampleSize < 3 {
		return fmt.Errorf("config: minimumSampleSize must be >= 3, got %d", c.MinimumSampleSize)
	}
	if c.BucketWidth <= 0 {
		return fmt.Errorf("config: bucketWidth must be positive, got %v", c.BucketWidth)
	}
	if c.BHGrouping != BHPerRun && c.BHGrouping != BHPerDomainPair {
		return fmt.Errorf("config: unknown BH grouping %q", c.BHGrouping)
	}
	if c.GeoRadiusMeters <= 0 {
		return fmt.Errorf("config: geoRadiusMeters must be positive, got %v", c.GeoRadiusMeters)
	}
	if c.TemporalWindowSeconds <= 0 {
		return fmt.Errorf("config: temporalWindowSeconds must be positive, got %v", c.TemporalWindowSeconds)
	}
	if c.AlertThreshold <= 0 || c.AlertThreshold > 2 {
		return fmt.Errorf("config: alertThreshold must be in (0,2], got %v", c.AlertThreshold)
	}
	if c.WindowBuckets < c.MinimumSampleSize {
		return fmt.Errorf("config: windowBuckets (%d) must be >= minimumSampleSize (%d)", c.WindowBuckets, c.MinimumSampleSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: maxRetries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// PopulateFromEnv fills provider credentials from the environment. Called
// once at the cmd edge after godotenv loading; library code never reads env.
func (c *Config) PopulateFromEnv() {
	if key := os.Getenv("JINA_API_KEY"); key != "" {
		c.EmbedAPIKey = key
	}
	if model := os.Getenv("JINA_EMBED_MODEL"); model != "" {
		c.EmbeddingModel = model
	}
	if endpoint := os.Getenv("EMBED_ENDPOINT"); endpoint != "" {
		c.EmbedEndpoint = endpoint
	}
}
