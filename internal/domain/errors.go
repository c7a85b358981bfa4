package domain

import "fmt"

// MalformedRecordError reports a raw payload missing one of the two
// mandatory record fields (source id, timestamp). Recoverable: callers skip
// the record and continue the batch.
type MalformedRecordError struct {
	Domain       Domain
	MissingField string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record: missing mandatory field %q", e.Domain, e.MissingField)
}

// AmbiguousIdentityError reports contradictory identity claims seen by the
// entity linker, e.g. the same source id appearing under two domains in a
// single record set that declares ids globally unique. The batch continues
// for unaffected records.
type AmbiguousIdentityError struct {
	SourceID string
	DomainA  Domain
	DomainB  Domain
}

func (e *AmbiguousIdentityError) Error() string {
	return fmt.Sprintf("ambiguous identity: source id %q claimed by both %s and %s", e.SourceID, e.DomainA, e.DomainB)
}

// InvalidSeriesError reports a non-numeric value in a field declared
// numeric. The offending variable pair is excluded from the run; the run
// continues for other pairs.
type InvalidSeriesError struct {
	RecordID  string
	Attribute string
	Value     string
}

func (e *InvalidSeriesError) Error() string {
	return fmt.Sprintf("invalid series: record %s attribute %q has non-numeric value %q", e.RecordID, e.Attribute, e.Value)
}

// EmbeddingProviderError reports a provider failure that survived the retry
// budget. Attempts records how many calls were made before giving up.
type EmbeddingProviderError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *EmbeddingProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s failed after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *EmbeddingProviderError) Unwrap() error { return e.Err }
