package store

import (
	"testing"
	"time"

	"github.com/mkendrick/crosswind/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord() domain.NormalizedRecord {
	end := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return domain.NormalizedRecord{
		Domain:       domain.DomainMusic,
		SourceID:     "track-1",
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TimestampEnd: &end,
		Geo:          &domain.GeoPoint{Lat: 40.71, Lon: -74.00},
		Attributes:   map[string]float64{"play_count": 42},
		Labels:       map[string]string{"genre": "ambient"},
		LinkKeys:     map[string]string{"isrc": "GBAHS1700024"},
	}
}

func TestSaveRecordsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := sampleRecord()
	n, err := s.SaveRecords([]domain.NormalizedRecord{want})
	if err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}
	if n != 1 {
		t.Fatalf("saved %d records, want 1", n)
	}

	records, err := s.GetRecords(domain.DomainMusic, 10)
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	got := records[0]
	if got.RecordID() != want.RecordID() {
		t.Errorf("record id = %q, want %q", got.RecordID(), want.RecordID())
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	if got.TimestampEnd == nil || !got.TimestampEnd.Equal(*want.TimestampEnd) {
		t.Errorf("timestamp end = %v", got.TimestampEnd)
	}
	if got.Geo == nil || got.Geo.Lat != 40.71 || got.Geo.Lon != -74.00 {
		t.Errorf("geo = %+v", got.Geo)
	}
	if got.Attributes["play_count"] != 42 {
		t.Errorf("attributes = %v", got.Attributes)
	}
	if got.Labels["genre"] != "ambient" {
		t.Errorf("labels = %v", got.Labels)
	}
	if got.LinkKeys["isrc"] != "GBAHS1700024" {
		t.Errorf("link keys = %v", got.LinkKeys)
	}
}

func TestRecordsAreImmutable(t *testing.T) {
	s := newTestStore(t)

	rec := sampleRecord()
	if _, err := s.SaveRecords([]domain.NormalizedRecord{rec}); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	// A second save under the same record id must not overwrite the row.
	changed := rec
	changed.Attributes = map[string]float64{"play_count": 9999}
	n, err := s.SaveRecords([]domain.NormalizedRecord{changed})
	if err != nil {
		t.Fatalf("SaveRecords (replay): %v", err)
	}
	if n != 0 {
		t.Errorf("replay reported %d new rows, want 0", n)
	}

	records, err := s.GetRecords(domain.DomainMusic, 10)
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(records) != 1 || records[0].Attributes["play_count"] != 42 {
		t.Errorf("record mutated: %v", records[0].Attributes)
	}
}

func TestGetRecordsDomainFilter(t *testing.T) {
	s := newTestStore(t)

	recs := []domain.NormalizedRecord{
		{Domain: domain.DomainMusic, SourceID: "m-1", Timestamp: time.Now().UTC()},
		{Domain: domain.DomainWeather, SourceID: "w-1", Timestamp: time.Now().UTC()},
		{Domain: domain.DomainWeather, SourceID: "w-2", Timestamp: time.Now().UTC()},
	}
	if _, err := s.SaveRecords(recs); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	weather, err := s.GetRecords(domain.DomainWeather, 10)
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(weather) != 2 {
		t.Errorf("got %d weather records, want 2", len(weather))
	}

	all, err := s.GetRecords("", 10)
	if err != nil {
		t.Fatalf("GetRecords (all): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d records, want 3", len(all))
	}
}

func TestSaveLinksRoundTrip(t *testing.T) {
	s := newTestStore(t)

	dist := 1400.0
	links := []domain.EntityLink{
		{
			BatchID:        "batch-1",
			SourceRecordID: "music:m-1",
			TargetRecordID: "weather:w-1",
			LinkType:       domain.LinkGeographic,
			Confidence:     0.97,
			DistanceMeters: &dist,
			CreatedAt:      time.Now().UTC(),
		},
		{
			BatchID:        "batch-1",
			SourceRecordID: "music:m-1",
			TargetRecordID: "gaming:g-1",
			LinkType:       domain.LinkExactKey,
			Confidence:     0.95,
			KeyType:        "title",
			CreatedAt:      time.Now().UTC(),
		},
	}
	if err := s.SaveLinks(links); err != nil {
		t.Fatalf("SaveLinks: %v", err)
	}

	got, err := s.GetLinksForRecord("music:m-1")
	if err != nil {
		t.Fatalf("GetLinksForRecord: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d links, want 2", len(got))
	}
	for _, l := range got {
		switch l.LinkType {
		case domain.LinkGeographic:
			if l.DistanceMeters == nil || *l.DistanceMeters != 1400 {
				t.Errorf("geographic link distance = %v", l.DistanceMeters)
			}
		case domain.LinkExactKey:
			if l.KeyType != "title" {
				t.Errorf("exact key link key type = %q", l.KeyType)
			}
		default:
			t.Errorf("unexpected link type %s", l.LinkType)
		}
	}

	// Target side lookups see the same link.
	fromTarget, err := s.GetLinksForRecord("weather:w-1")
	if err != nil {
		t.Fatalf("GetLinksForRecord (target): %v", err)
	}
	if len(fromTarget) != 1 {
		t.Errorf("got %d links via target, want 1", len(fromTarget))
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.SaveRecords([]domain.NormalizedRecord{sampleRecord()}); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	st, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if st.Records != 1 || st.Links != 0 || st.Runs != 0 {
		t.Errorf("stats = %+v", st)
	}
}
