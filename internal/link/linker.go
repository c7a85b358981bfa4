// Package link discovers cross-domain relationships between normalized
// records. Three independent strategies (exact key, geographic, temporal)
// each produce their own confidence-scored links; a pair of records may
// legitimately carry links of several types at once, each being evidence of
// a different kind of relationship.
package link

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkendrick/crosswind/internal/config"
	"github.com/mkendrick/crosswind/internal/domain"
	"github.com/mkendrick/crosswind/internal/logging"
)

// Result holds the links produced by one linker run plus any identity
// errors encountered. Identity errors never abort the batch; the affected
// records are skipped and everything else still links.
type Result struct {
	BatchID string
	Links   []domain.EntityLink
	Errors  []error
}

// Run executes all three strategies over the record set. Each strategy is a
// pure function over the records; they run concurrently since they share no
// state. Every run gets a fresh batch id so older link sets stay intact.
func Run(records []domain.NormalizedRecord, cfg *config.Config) Result {
	batchID := uuid.New().String()
	now := time.Now().UTC()

	clean, identityErrs := checkIdentities(records)

	var mu sync.Mutex
	var links []domain.EntityLink

	var wg sync.WaitGroup
	strategies := []func([]domain.NormalizedRecord) []domain.EntityLink{
		func(rs []domain.NormalizedRecord) []domain.EntityLink {
			return ExactKey(rs, batchID, now)
		},
		func(rs []domain.NormalizedRecord) []domain.EntityLink {
			return Geographic(rs, cfg.GeoRadiusMeters, batchID, now)
		},
		func(rs []domain.NormalizedRecord) []domain.EntityLink {
			return Temporal(rs, cfg.TemporalWindowSeconds, batchID, now)
		},
	}
	for _, strat := range strategies {
		wg.Add(1)
		go func(f func([]domain.NormalizedRecord) []domain.EntityLink) {
			defer wg.Done()
			found := f(clean)
			mu.Lock()
			links = append(links, found...)
			mu.Unlock()
		}(strat)
	}
	wg.Wait()

	logging.Debug("Linker run complete", "batch", batchID, "records", len(clean), "links", len(links), "identity_errors", len(identityErrs))

	return Result{BatchID: batchID, Links: links, Errors: identityErrs}
}

// checkIdentities filters out records with contradictory identity claims:
// the same source id appearing under two different domains. Both records
// are excluded and an AmbiguousIdentityError is reported for the pair.
func checkIdentities(records []domain.NormalizedRecord) ([]domain.NormalizedRecord, []error) {
	byID := make(map[string]domain.Domain, len(records))
	conflicted := make(map[string]bool)
	var errs []error

	for _, r := range records {
		if prev, ok := byID[r.SourceID]; ok && prev != r.Domain {
			if !conflicted[r.SourceID] {
				errs = append(errs, &domain.AmbiguousIdentityError{
					SourceID: r.SourceID,
					DomainA:  prev,
					DomainB:  r.Domain,
				})
				conflicted[r.SourceID] = true
			}
			continue
		}
		byID[r.SourceID] = r.Domain
	}

	if len(conflicted) == 0 {
		return records, nil
	}

	clean := make([]domain.NormalizedRecord, 0, len(records))
	for _, r := range records {
		if !conflicted[r.SourceID] {
			clean = append(clean, r)
		}
	}
	return clean, errs
}

// ExactKey links records from different domains sharing a normalized value
// under the same link-key type. Confidence starts at 0.95 for byte-identical
// values and drops 0.01 for every character the normalization touched.
func ExactKey(records []domain.NormalizedRecord, batchID string, at time.Time) []domain.EntityLink {
	type candidate struct {
		record domain.NormalizedRecord
		cost   int
	}

	// Bucket records by (key type, normalized value).
	buckets := make(map[string][]candidate)
	for _, r := range records {
		for keyType, value := range r.LinkKeys {
			norm, cost := NormalizeKey(value)
			if norm == "" {
				continue
			}
			k := keyType + "\x00" + norm
			buckets[k] = append(buckets[k], candidate{record: r, cost: cost})
		}
	}

	var links []domain.EntityLink
	for key, cands := range buckets {
		if len(cands) < 2 {
			continue
		}
		keyType := key[:strings.IndexByte(key, '\x00')]
		for i := 0; i < len(cands); i++ {
			for j := i + 1; j < len(cands); j++ {
				a, b := cands[i], cands[j]
				if a.record.Domain == b.record.Domain {
					continue // cross-domain linking only
				}
				links = append(links, domain.EntityLink{
					BatchID:        batchID,
					SourceRecordID: a.record.RecordID(),
					TargetRecordID: b.record.RecordID(),
					LinkType:       domain.LinkExactKey,
					Confidence:     ExactKeyConfidence(a.cost + b.cost),
					KeyType:        keyType,
					CreatedAt:      at,
				})
			}
		}
	}
	return links
}

// Geographic links cross-domain records within radiusMeters of each other
// using the haversine great-circle distance. Records without geo data are
// skipped; that is a normal no-link outcome, not an error.
func Geographic(records []domain.NormalizedRecord, radiusMeters float64, batchID string, at time.Time) []domain.EntityLink {
	var eligible []domain.NormalizedRecord
	for _, r := range records {
		if r.Geo != nil {
			eligible = append(eligible, r)
		}
	}

	var links []domain.EntityLink
	for i := 0; i < len(eligible); i++ {
		for j := i + 1; j < len(eligible); j++ {
			a, b := eligible[i], eligible[j]
			if a.Domain == b.Domain {
				continue
			}
			dist := Haversine(a.Geo.Lat, a.Geo.Lon, b.Geo.Lat, b.Geo.Lon)
			if dist > radiusMeters {
				continue
			}
			d := dist
			links = append(links, domain.EntityLink{
				BatchID:        batchID,
				SourceRecordID: a.RecordID(),
				TargetRecordID: b.RecordID(),
				LinkType:       domain.LinkGeographic,
				Confidence:     GeoConfidence(dist, radiusMeters),
				DistanceMeters: &d,
				CreatedAt:      at,
			})
		}
	}
	return links
}

// Temporal links cross-domain records whose timestamps fall within
// windowSeconds of each other. Every candidate inside the window is
// returned; downstream consumers decide how many to use.
func Temporal(records []domain.NormalizedRecord, windowSeconds float64, batchID string, at time.Time) []domain.EntityLink {
	var links []domain.EntityLink
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			a, b := records[i], records[j]
			if a.Domain == b.Domain {
				continue
			}
			delta := b.Timestamp.Sub(a.Timestamp).Seconds()
			if delta < 0 {
				delta = -delta
			}
			if delta > windowSeconds {
				continue
			}
			d := delta
			links = append(links, domain.EntityLink{
				BatchID:          batchID,
				SourceRecordID:   a.RecordID(),
				TargetRecordID:   b.RecordID(),
				LinkType:         domain.LinkTemporal,
				Confidence:       TemporalConfidence(delta, windowSeconds),
				TimeDeltaSeconds: &d,
				CreatedAt:        at,
			})
		}
	}
	return links
}
