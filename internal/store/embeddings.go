package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mkendrick/crosswind/internal/domain"
)

// Vectors are stored as little-endian float32 blobs. The dims column is
// redundant with the blob length but makes schema inspection cheap.

// SaveEmbedding persists one vector. The write is transactional, so an
// interrupted batch never leaves a partially-written vector, and INSERT OR
// IGNORE keeps re-embedding idempotent: an existing (type, id, model) key
// is left bit-for-bit untouched.
func (s *Store) SaveEmbedding(e domain.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(e.Vector) == 0 {
		return fmt.Errorf("save embedding %s: empty vector", e.Key())
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO embeddings (entity_type, entity_id, model, dims, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(e.EntityType), e.EntityID, e.Model, len(e.Vector), encodeVector(e.Vector), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("save embedding %s: %w", e.Key(), err)
	}
	return nil
}

// HasEmbedding reports whether a vector exists for the key. Batch indexing
// uses this to skip already-embedded entities on resume.
func (s *Store) HasEmbedding(entityType domain.EntityType, entityID, model string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM embeddings WHERE entity_type = ? AND entity_id = ? AND model = ?
	`, string(entityType), entityID, model).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetEmbedding returns the vector for a key, or nil if absent.
func (s *Store) GetEmbedding(entityType domain.EntityType, entityID, model string) (*domain.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := domain.Embedding{EntityType: entityType, EntityID: entityID, Model: model}
	var blob []byte
	err := s.db.QueryRow(`
		SELECT vector, created_at FROM embeddings
		WHERE entity_type = ? AND entity_id = ? AND model = ?
	`, string(entityType), entityID, model).Scan(&blob, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Vector = decodeVector(blob)
	return &e, nil
}

// GetEmbeddings returns every vector of one entity type under one model.
// Retrieval scans these for nearest neighbors; at this corpus scale a full
// scan beats maintaining an index.
func (s *Store) GetEmbeddings(entityType domain.EntityType, model string) ([]domain.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT entity_id, vector, created_at FROM embeddings
		WHERE entity_type = ? AND model = ?
	`, string(entityType), model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var embeddings []domain.Embedding
	for rows.Next() {
		e := domain.Embedding{EntityType: entityType, Model: model}
		var blob []byte
		if err := rows.Scan(&e.EntityID, &blob, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Vector = decodeVector(blob)
		embeddings = append(embeddings, e)
	}
	return embeddings, rows.Err()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v
}
