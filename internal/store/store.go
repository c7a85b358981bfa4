// Package store provides SQLite persistence for the correlation engine.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mkendrick/crosswind/internal/domain"
)

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database.
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		record_id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		source_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		timestamp_end DATETIME,
		lat REAL,
		lon REAL,
		attributes TEXT,
		labels TEXT,
		link_keys TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_records_domain ON records(domain);
	CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp);

	CREATE TABLE IF NOT EXISTS links (
		batch_id TEXT NOT NULL,
		source_record_id TEXT NOT NULL,
		target_record_id TEXT NOT NULL,
		link_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		key_type TEXT,
		distance_meters REAL,
		time_delta_seconds REAL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_links_batch ON links(batch_id);
	CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_record_id);
	CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_record_id);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		alpha REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		variable_pair_id TEXT NOT NULL,
		analysis_ts DATETIME NOT NULL,
		run_id TEXT NOT NULL,
		domain_a TEXT NOT NULL,
		attribute_a TEXT NOT NULL,
		domain_b TEXT NOT NULL,
		attribute_b TEXT NOT NULL,
		coefficient REAL NOT NULL,
		p_value REAL NOT NULL,
		adjusted_p_value REAL NOT NULL,
		sample_size INTEGER NOT NULL,
		method TEXT NOT NULL,
		significant INTEGER NOT NULL,
		likelihood TEXT NOT NULL,
		confounds TEXT,
		methodology_note TEXT,
		PRIMARY KEY (variable_pair_id, analysis_ts)
	);
	CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
	CREATE INDEX IF NOT EXISTS idx_results_domains ON results(domain_a, domain_b);
	CREATE INDEX IF NOT EXISTS idx_results_significant ON results(significant);

	CREATE TABLE IF NOT EXISTS exclusions (
		run_id TEXT NOT NULL,
		variable_pair_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		detail TEXT,
		sample_size INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_exclusions_run ON exclusions(run_id);

	CREATE TABLE IF NOT EXISTS embeddings (
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		model TEXT NOT NULL,
		dims INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (entity_type, entity_id, model)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveRecords stores normalized records, returning the count of new rows.
// Records are immutable: a record id already present is left untouched via
// INSERT OR IGNORE.
func (s *Store) SaveRecords(records []domain.NormalizedRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO records (
			record_id, domain, source_id, timestamp, timestamp_end,
			lat, lon, attributes, labels, link_keys
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	newCount := 0
	for _, rec := range records {
		attrs, _ := json.Marshal(rec.Attributes)
		labels, _ := json.Marshal(rec.Labels)
		keys, _ := json.Marshal(rec.LinkKeys)

		var lat, lon any
		if rec.Geo != nil {
			lat, lon = rec.Geo.Lat, rec.Geo.Lon
		}
		var tsEnd any
		if rec.TimestampEnd != nil {
			tsEnd = *rec.TimestampEnd
		}

		result, err := stmt.Exec(
			rec.RecordID(),
			string(rec.Domain),
			rec.SourceID,
			rec.Timestamp,
			tsEnd,
			lat,
			lon,
			string(attrs),
			string(labels),
			string(keys),
		)
		if err != nil {
			return newCount, fmt.Errorf("insert record %s: %w", rec.RecordID(), err)
		}
		rows, _ := result.RowsAffected()
		if rows > 0 {
			newCount++
		}
	}

	return newCount, tx.Commit()
}

// GetRecords retrieves records, optionally filtered by domain (empty means
// all), ordered by timestamp.
func (s *Store) GetRecords(d domain.Domain, limit int) ([]domain.NormalizedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT record_id, domain, source_id, timestamp, timestamp_end,
		       lat, lon, attributes, labels, link_keys
		FROM records
	`
	args := []any{}
	if d != "" {
		query += " WHERE domain = ?"
		args = append(args, string(d))
	}
	query += " ORDER BY timestamp ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.NormalizedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (domain.NormalizedRecord, error) {
	var rec domain.NormalizedRecord
	var recordID, dom string
	var tsEnd sql.NullTime
	var lat, lon sql.NullFloat64
	var attrs, labels, keys sql.NullString

	err := rows.Scan(
		&recordID,
		&dom,
		&rec.SourceID,
		&rec.Timestamp,
		&tsEnd,
		&lat,
		&lon,
		&attrs,
		&labels,
		&keys,
	)
	if err != nil {
		return rec, err
	}

	rec.Domain = domain.Domain(dom)
	if tsEnd.Valid {
		t := tsEnd.Time
		rec.TimestampEnd = &t
	}
	if lat.Valid && lon.Valid {
		rec.Geo = &domain.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
	}
	if attrs.Valid && attrs.String != "null" {
		json.Unmarshal([]byte(attrs.String), &rec.Attributes)
	}
	if labels.Valid && labels.String != "null" {
		json.Unmarshal([]byte(labels.String), &rec.Labels)
	}
	if keys.Valid && keys.String != "null" {
		json.Unmarshal([]byte(keys.String), &rec.LinkKeys)
	}
	return rec, nil
}

// SaveLinks stores a batch of entity links. Link sets are append-only,
// keyed by batch id; nothing is relinked in place.
func (s *Store) SaveLinks(links []domain.EntityLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(links) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO links (
			batch_id, source_record_id, target_record_id, link_type,
			confidence, key_type, distance_meters, time_delta_seconds, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range links {
		var dist, delta any
		if l.DistanceMeters != nil {
			dist = *l.DistanceMeters
		}
		if l.TimeDeltaSeconds != nil {
			delta = *l.TimeDeltaSeconds
		}
		if _, err := stmt.Exec(
			l.BatchID,
			l.SourceRecordID,
			l.TargetRecordID,
			string(l.LinkType),
			l.Confidence,
			l.KeyType,
			dist,
			delta,
			l.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert link %s->%s: %w", l.SourceRecordID, l.TargetRecordID, err)
		}
	}

	return tx.Commit()
}

// GetLinksForRecord returns every link touching the record, newest batch
// first.
func (s *Store) GetLinksForRecord(recordID string) ([]domain.EntityLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT batch_id, source_record_id, target_record_id, link_type,
		       confidence, key_type, distance_meters, time_delta_seconds, created_at
		FROM links
		WHERE source_record_id = ? OR target_record_id = ?
		ORDER BY created_at DESC
	`, recordID, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []domain.EntityLink
	for rows.Next() {
		var l domain.EntityLink
		var linkType string
		var keyType sql.NullString
		var dist, delta sql.NullFloat64

		err := rows.Scan(
			&l.BatchID,
			&l.SourceRecordID,
			&l.TargetRecordID,
			&linkType,
			&l.Confidence,
			&keyType,
			&dist,
			&delta,
			&l.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		l.LinkType = domain.LinkType(linkType)
		if keyType.Valid {
			l.KeyType = keyType.String
		}
		if dist.Valid {
			d := dist.Float64
			l.DistanceMeters = &d
		}
		if delta.Valid {
			d := delta.Float64
			l.TimeDeltaSeconds = &d
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// Stats summarizes what the store holds.
type Stats struct {
	Records    int
	Links      int
	Runs       int
	Results    int
	Embeddings int
}

// GetStats returns row counts across the main tables.
func (s *Store) GetStats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"records", &st.Records},
		{"links", &st.Links},
		{"runs", &st.Runs},
		{"results", &st.Results},
		{"embeddings", &st.Embeddings},
	}
	for _, c := range counts {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dst); err != nil {
			return st, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return st, nil
}
