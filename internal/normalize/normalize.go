// Package normalize reduces raw per-domain API payloads to the common
// NormalizedRecord shape. Pure: no I/O, no persistence, no mutation of
// inputs, so any ingestion collector can reuse it directly.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mkendrick/crosswind/internal/domain"
)

// RawPayload is one domain-tagged API response awaiting normalization.
// The payload schema is opaque beyond the fields the extractor pulls out.
type RawPayload struct {
	Domain  domain.Domain
	Payload json.RawMessage
}

// Result pairs the records extracted from a batch with the per-payload
// failures. A malformed payload never aborts the batch.
type Result struct {
	Records []domain.NormalizedRecord
	Errors  []error
}

// rawRecord is the loosely-typed shape normalization reads from every
// domain. Collectors map their upstream schema onto these field names
// before handing payloads over; anything extra rides along in attributes.
type rawRecord struct {
	SourceID     string             `json:"source_id"`
	ID           string             `json:"id"` // accepted alias for source_id
	Timestamp    string             `json:"timestamp"`
	TimestampEnd string             `json:"timestamp_end"`
	Lat          *float64           `json:"lat"`
	Lon          *float64           `json:"lon"`
	Attributes   map[string]any     `json:"attributes"`
	LinkKeys     map[string]string  `json:"link_keys"`
}

// Batch normalizes a set of payloads. Records and errors are returned
// together; callers log the errors and keep the records.
func Batch(payloads []RawPayload) Result {
	var res Result
	for _, p := range payloads {
		records, errs := Normalize(p.Domain, p.Payload)
		res.Records = append(res.Records, records...)
		res.Errors = append(res.Errors, errs...)
	}
	return res
}

// Normalize converts one raw API response into zero or more records.
// A payload may be a single object or an array of objects. Missing optional
// fields are represented as absent, never by dropping the record; only a
// missing source id or timestamp rejects a record, with a
// MalformedRecordError naming the field. A malformed element rejects only
// itself: valid siblings in the same array payload are still returned,
// alongside one error per rejected element.
func Normalize(d domain.Domain, payload json.RawMessage) ([]domain.NormalizedRecord, []error) {
	if !d.Valid() {
		return nil, []error{fmt.Errorf("normalize: unknown domain %q", d)}
	}

	trimmed := strings.TrimLeft(string(payload), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		var raws []rawRecord
		if err := json.Unmarshal(payload, &raws); err != nil {
			return nil, []error{fmt.Errorf("normalize: decode %s payload: %w", d, err)}
		}
		var records []domain.NormalizedRecord
		var errs []error
		for _, raw := range raws {
			rec, err := buildRecord(d, raw)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			records = append(records, rec)
		}
		return records, errs
	}

	var raw rawRecord
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, []error{fmt.Errorf("normalize: decode %s payload: %w", d, err)}
	}
	rec, err := buildRecord(d, raw)
	if err != nil {
		return nil, []error{err}
	}
	return []domain.NormalizedRecord{rec}, nil
}

func buildRecord(d domain.Domain, raw rawRecord) (domain.NormalizedRecord, error) {
	sourceID := raw.SourceID
	if sourceID == "" {
		sourceID = raw.ID
	}
	if sourceID == "" {
		return domain.NormalizedRecord{}, &domain.MalformedRecordError{Domain: d, MissingField: "sourceId"}
	}
	if raw.Timestamp == "" {
		return domain.NormalizedRecord{}, &domain.MalformedRecordError{Domain: d, MissingField: "timestamp"}
	}

	ts, err := parseTime(raw.Timestamp)
	if err != nil {
		return domain.NormalizedRecord{}, &domain.MalformedRecordError{Domain: d, MissingField: "timestamp"}
	}

	rec := domain.NormalizedRecord{
		Domain:    d,
		SourceID:  sourceID,
		Timestamp: ts,
	}

	if raw.TimestampEnd != "" {
		if end, err := parseTime(raw.TimestampEnd); err == nil && end.After(ts) {
			rec.TimestampEnd = &end
		}
	}

	// Geo is optional; both coordinates must be present and plausible.
	if raw.Lat != nil && raw.Lon != nil &&
		*raw.Lat >= -90 && *raw.Lat <= 90 && *raw.Lon >= -180 && *raw.Lon <= 180 {
		rec.Geo = &domain.GeoPoint{Lat: *raw.Lat, Lon: *raw.Lon}
	}

	// Split attributes into numeric values and labels. Non-numeric values
	// are kept as labels rather than discarded; the correlation engine only
	// ever reads the numeric side.
	for key, val := range raw.Attributes {
		switch v := val.(type) {
		case float64:
			if rec.Attributes == nil {
				rec.Attributes = make(map[string]float64)
			}
			rec.Attributes[key] = v
		case bool:
			if rec.Labels == nil {
				rec.Labels = make(map[string]string)
			}
			rec.Labels[key] = fmt.Sprintf("%t", v)
		case string:
			if rec.Labels == nil {
				rec.Labels = make(map[string]string)
			}
			rec.Labels[key] = v
		}
	}

	if len(raw.LinkKeys) > 0 {
		rec.LinkKeys = make(map[string]string, len(raw.LinkKeys))
		for k, v := range raw.LinkKeys {
			rec.LinkKeys[k] = v
		}
	}

	return rec, nil
}

// timeFormats are attempted in order. RFC3339 first since most upstream
// APIs emit it.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
