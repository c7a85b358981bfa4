package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mkendrick/crosswind/internal/domain"
)

// SaveRun persists a completed analysis run in one transaction. All results
// and exclusions land together or not at all: the run's adjusted p-values
// form a single family and a partial run is meaningless.
func (s *Store) SaveRun(run *domain.AnalysisRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO runs (run_id, started_at, completed_at, alpha) VALUES (?, ?, ?, ?)",
		run.RunID, run.StartedAt, run.CompletedAt, run.Alpha,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	resStmt, err := tx.Prepare(`
		INSERT INTO results (
			variable_pair_id, analysis_ts, run_id,
			domain_a, attribute_a, domain_b, attribute_b,
			coefficient, p_value, adjusted_p_value, sample_size, method,
			significant, likelihood, confounds, methodology_note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer resStmt.Close()

	for _, r := range run.Results {
		confounds, _ := json.Marshal(r.Causation.ConfoundingFactors)
		significant := 0
		if r.Significant {
			significant = 1
		}
		if _, err := resStmt.Exec(
			r.VariablePairID,
			r.AnalysisTimestamp,
			r.RunID,
			string(r.Pair.DomainA),
			r.Pair.AttributeA,
			string(r.Pair.DomainB),
			r.Pair.AttributeB,
			r.Coefficient,
			r.PValue,
			r.AdjustedPValue,
			r.SampleSize,
			r.Method,
			significant,
			string(r.Causation.Likelihood),
			string(confounds),
			r.Causation.MethodologyNote,
		); err != nil {
			return fmt.Errorf("insert result %s: %w", r.VariablePairID, err)
		}
	}

	excStmt, err := tx.Prepare(`
		INSERT INTO exclusions (run_id, variable_pair_id, reason, detail, sample_size)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer excStmt.Close()

	for _, e := range run.Exclusions {
		if _, err := excStmt.Exec(run.RunID, e.VariablePairID, string(e.Reason), e.Detail, e.SampleSize); err != nil {
			return fmt.Errorf("insert exclusion %s: %w", e.VariablePairID, err)
		}
	}

	return tx.Commit()
}

// ResultFilter narrows a result query. Zero values mean "no constraint".
type ResultFilter struct {
	DomainA         domain.Domain
	DomainB         domain.Domain
	SignificantOnly bool
	Since           time.Time
	Until           time.Time
	Limit           int
}

// GetResults returns correlation results matching the filter, newest
// analysis first.
func (s *Store) GetResults(f ResultFilter) ([]domain.CorrelationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := resultSelect + " WHERE 1=1"
	var args []any

	if f.DomainA != "" && f.DomainB != "" {
		// Pair columns are stored in canonical order; accept either
		// argument order.
		a, b := string(f.DomainA), string(f.DomainB)
		query += " AND ((domain_a = ? AND domain_b = ?) OR (domain_a = ? AND domain_b = ?))"
		args = append(args, a, b, b, a)
	} else if f.DomainA != "" {
		query += " AND (domain_a = ? OR domain_b = ?)"
		args = append(args, string(f.DomainA), string(f.DomainA))
	}
	if f.SignificantOnly {
		query += " AND significant = 1"
	}
	if !f.Since.IsZero() {
		query += " AND analysis_ts >= ?"
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += " AND analysis_ts <= ?"
		args = append(args, f.Until)
	}

	query += " ORDER BY analysis_ts DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	query += " LIMIT ?"
	args = append(args, limit)

	return s.queryResults(query, args...)
}

// GetResultHistory returns every persisted result for a pair in analysis
// order, enabling trend-over-time queries.
func (s *Store) GetResultHistory(variablePairID string) ([]domain.CorrelationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryResults(
		resultSelect+" WHERE variable_pair_id = ? ORDER BY analysis_ts ASC",
		variablePairID,
	)
}

// LatestResult returns the most recent result for a pair, or nil if the
// pair has never been analyzed.
func (s *Store) LatestResult(variablePairID string) (*domain.CorrelationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.queryResults(
		resultSelect+" WHERE variable_pair_id = ? ORDER BY analysis_ts DESC LIMIT 1",
		variablePairID,
	)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// GetResultAt returns the result persisted for a pair at an exact analysis
// timestamp, or nil if absent.
func (s *Store) GetResultAt(variablePairID string, analysisTS time.Time) (*domain.CorrelationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.queryResults(
		resultSelect+" WHERE variable_pair_id = ? AND analysis_ts = ? LIMIT 1",
		variablePairID, analysisTS,
	)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// GetExclusions returns the rejected-pair report for a run.
func (s *Store) GetExclusions(runID string) ([]domain.PairExclusion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT variable_pair_id, reason, detail, sample_size
		FROM exclusions WHERE run_id = ?
		ORDER BY variable_pair_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exclusions []domain.PairExclusion
	for rows.Next() {
		var e domain.PairExclusion
		var reason string
		var detail sql.NullString
		if err := rows.Scan(&e.VariablePairID, &reason, &detail, &e.SampleSize); err != nil {
			return nil, err
		}
		e.Reason = domain.ExclusionReason(reason)
		if detail.Valid {
			e.Detail = detail.String
		}
		exclusions = append(exclusions, e)
	}
	return exclusions, rows.Err()
}

const resultSelect = `
	SELECT variable_pair_id, analysis_ts, run_id,
	       domain_a, attribute_a, domain_b, attribute_b,
	       coefficient, p_value, adjusted_p_value, sample_size, method,
	       significant, likelihood, confounds, methodology_note
	FROM results
`

func (s *Store) queryResults(query string, args ...any) ([]domain.CorrelationResult, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.CorrelationResult
	for rows.Next() {
		var r domain.CorrelationResult
		var domA, domB, likelihood string
		var significant int
		var confounds, note sql.NullString

		err := rows.Scan(
			&r.VariablePairID,
			&r.AnalysisTimestamp,
			&r.RunID,
			&domA,
			&r.Pair.AttributeA,
			&domB,
			&r.Pair.AttributeB,
			&r.Coefficient,
			&r.PValue,
			&r.AdjustedPValue,
			&r.SampleSize,
			&r.Method,
			&significant,
			&likelihood,
			&confounds,
			&note,
		)
		if err != nil {
			return nil, err
		}
		r.Pair.DomainA = domain.Domain(domA)
		r.Pair.DomainB = domain.Domain(domB)
		r.Significant = significant == 1
		r.Causation.Likelihood = domain.CausationLikelihood(likelihood)
		if confounds.Valid && confounds.String != "null" {
			json.Unmarshal([]byte(confounds.String), &r.Causation.ConfoundingFactors)
		}
		if note.Valid {
			r.Causation.MethodologyNote = note.String
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
