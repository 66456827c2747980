package db

// File: internal/db/analysis.go
// Purpose: Analysis report and recommendation writes.

import (
	"context"
	"database/sql"
	"strings"

	"perf-api-go/internal/models"
)

// SetAnalysis stores report on the run and replaces its recommendations, atomically.
// Repeating the call leaves only the latest report and recommendations.
func (s *Store) SetAnalysis(ctx context.Context, runID, report string, recs []models.Recommendation) error {
	funcName := "Store.SetAnalysis"
	if err := checkDeadline(ctx); err != nil {
		return storeErr(funcName, err)
	}
	now := s.now()
	return s.withTx(ctx, funcName, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE runs SET analysis_report = ? WHERE id = ?`, report, runID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recommendations WHERE run_id = ?`, runID); err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		var b strings.Builder
		b.WriteString(`INSERT INTO recommendations (run_id, category, description, created_at) VALUES `)
		args := make([]any, 0, len(recs)*4)
		for i, r := range recs {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(?, ?, ?, ?)")
			args = append(args, runID, r.Category, r.Description, now)
		}
		_, err := tx.ExecContext(ctx, b.String(), args...)
		return err
	})
}

// GetRecommendations returns the recommendations of runID in insertion order.
func (s *Store) GetRecommendations(ctx context.Context, runID string) ([]models.Recommendation, error) {
	funcName := "Store.GetRecommendations"
	if err := checkDeadline(ctx); err != nil {
		return nil, storeErr(funcName, err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, category, description
		FROM recommendations
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, storeErr(funcName, err)
	}
	defer rows.Close()

	recs := []models.Recommendation{}
	for rows.Next() {
		var r models.Recommendation
		if err := rows.Scan(&r.RunID, &r.Category, &r.Description); err != nil {
			return nil, storeErr(funcName, err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(funcName, err)
	}
	return recs, nil
}
