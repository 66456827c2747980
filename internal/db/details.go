package db

// File: internal/db/details.go
// Purpose: Per-minute detail rows, written as one atomic batch per run.

import (
	"context"
	"database/sql"
	"strings"

	"perf-api-go/internal/models"
)

const detailBatchSize = 500

// InsertDetails replaces the detail rows of runID in a single transaction.
func (s *Store) InsertDetails(ctx context.Context, runID string, details []models.RunDetail) error {
	funcName := "Store.InsertDetails"
	if err := checkDeadline(ctx); err != nil {
		return storeErr(funcName, err)
	}
	return s.withTx(ctx, funcName, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM run_details WHERE run_id = ?`, runID); err != nil {
			return err
		}
		for start := 0; start < len(details); start += detailBatchSize {
			end := min(start+detailBatchSize, len(details))
			if err := insertDetailBatch(ctx, tx, runID, details[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertDetailBatch(ctx context.Context, tx *sql.Tx, runID string, batch []models.RunDetail) error {
	var b strings.Builder
	b.WriteString(`INSERT INTO run_details (run_id, bucket_start, avg_response_time_ms, error_rate_pct, samples_in_bucket) VALUES `)
	args := make([]any, 0, len(batch)*5)
	for i, d := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, runID, d.BucketStart.UTC(), d.AvgResponseTimeMs, d.ErrorRatePct, d.SamplesInBucket)
	}
	_, err := tx.ExecContext(ctx, b.String(), args...)
	return err
}

// GetDetails returns the detail rows of runID ordered by bucket start.
func (s *Store) GetDetails(ctx context.Context, runID string) ([]models.RunDetail, error) {
	funcName := "Store.GetDetails"
	if err := checkDeadline(ctx); err != nil {
		return nil, storeErr(funcName, err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, bucket_start, avg_response_time_ms, error_rate_pct, samples_in_bucket
		FROM run_details
		WHERE run_id = ?
		ORDER BY bucket_start ASC
	`, runID)
	if err != nil {
		return nil, storeErr(funcName, err)
	}
	defer rows.Close()

	details := []models.RunDetail{}
	for rows.Next() {
		var d models.RunDetail
		if err := rows.Scan(&d.RunID, &d.BucketStart, &d.AvgResponseTimeMs, &d.ErrorRatePct, &d.SamplesInBucket); err != nil {
			return nil, storeErr(funcName, err)
		}
		d.BucketStart = d.BucketStart.UTC()
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(funcName, err)
	}
	return details, nil
}
