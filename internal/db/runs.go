package db

// File: internal/db/runs.go
// Purpose: Run header persistence and queries.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"perf-api-go/internal/models"
)

const headerColumns = `id, created_at, test_name, test_type, target_url, concurrent_users, duration_seconds,
		ramp_up_seconds, thresholds, template_path, summary_metrics, analysis_report`

type rowScanner interface {
	Scan(dest ...any) error
}

// InsertHeader writes h, or refreshes the existing row with the same id.
// A zero CreatedAt is set to now (UTC). The analysis report is never touched here.
func (s *Store) InsertHeader(ctx context.Context, h *models.RunHeader) error {
	funcName := "Store.InsertHeader"
	if err := checkDeadline(ctx); err != nil {
		return storeErr(funcName, err)
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = s.now().Truncate(time.Microsecond)
	}
	summary, err := json.Marshal(h.Summary)
	if err != nil {
		return storeErr(funcName, err)
	}
	var thresholds any
	if h.Request.Thresholds != nil {
		raw, err := json.Marshal(h.Request.Thresholds)
		if err != nil {
			return storeErr(funcName, err)
		}
		thresholds = raw
	}

	query := `
		INSERT INTO runs (` + headerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON DUPLICATE KEY UPDATE
			test_name = VALUES(test_name),
			test_type = VALUES(test_type),
			target_url = VALUES(target_url),
			concurrent_users = VALUES(concurrent_users),
			duration_seconds = VALUES(duration_seconds),
			ramp_up_seconds = VALUES(ramp_up_seconds),
			thresholds = VALUES(thresholds),
			template_path = VALUES(template_path),
			summary_metrics = VALUES(summary_metrics)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		h.ID,
		h.CreatedAt.UTC(),
		h.Request.TestName,
		h.Request.TestType,
		h.Request.TargetURL,
		h.Request.ConcurrentUsers,
		h.Request.DurationSeconds,
		h.Request.RampUpSeconds,
		thresholds,
		h.TemplatePath,
		summary,
	)
	if err != nil {
		return storeErr(funcName, err)
	}
	return nil
}

// GetHeader returns the run header by id, or nil when it does not exist.
func (s *Store) GetHeader(ctx context.Context, runID string) (*models.RunHeader, error) {
	funcName := "Store.GetHeader"
	if err := checkDeadline(ctx); err != nil {
		return nil, storeErr(funcName, err)
	}
	query := `SELECT ` + headerColumns + ` FROM runs WHERE id = ?`
	h, err := scanHeader(s.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr(funcName, err)
	}
	return h, nil
}

// ListHeaders returns every run, newest first.
func (s *Store) ListHeaders(ctx context.Context) ([]models.RunHeader, error) {
	query := `SELECT ` + headerColumns + ` FROM runs ORDER BY created_at DESC`
	return s.queryHeaders(ctx, "Store.ListHeaders", query)
}

// ListRecentByType returns up to limit runs of testType other than excludeID, newest first.
func (s *Store) ListRecentByType(ctx context.Context, testType, excludeID string, limit int) ([]models.RunHeader, error) {
	query := `SELECT ` + headerColumns + `
		FROM runs
		WHERE test_type = ? AND id <> ?
		ORDER BY created_at DESC
		LIMIT ?`
	return s.queryHeaders(ctx, "Store.ListRecentByType", query, testType, excludeID, limit)
}

// ListPendingAnalysis returns ids of runs created before olderThan that still have no report.
func (s *Store) ListPendingAnalysis(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	funcName := "Store.ListPendingAnalysis"
	if err := checkDeadline(ctx); err != nil {
		return nil, storeErr(funcName, err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM runs
		WHERE analysis_report IS NULL AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?
	`, olderThan.UTC(), limit)
	if err != nil {
		return nil, storeErr(funcName, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr(funcName, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(funcName, err)
	}
	return ids, nil
}

// DeleteRun removes a run; details and recommendations cascade. It reports whether a row was deleted.
func (s *Store) DeleteRun(ctx context.Context, runID string) (bool, error) {
	funcName := "Store.DeleteRun"
	if err := checkDeadline(ctx); err != nil {
		return false, storeErr(funcName, err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return false, storeErr(funcName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(funcName, err)
	}
	return n > 0, nil
}

func (s *Store) queryHeaders(ctx context.Context, funcName, query string, args ...any) ([]models.RunHeader, error) {
	if err := checkDeadline(ctx); err != nil {
		return nil, storeErr(funcName, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(funcName, err)
	}
	defer rows.Close()

	headers := []models.RunHeader{}
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, storeErr(funcName, err)
		}
		headers = append(headers, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(funcName, err)
	}
	return headers, nil
}

func scanHeader(row rowScanner) (*models.RunHeader, error) {
	var (
		h          models.RunHeader
		thresholds []byte
		summary    []byte
		report     sql.NullString
	)
	if err := row.Scan(
		&h.ID,
		&h.CreatedAt,
		&h.Request.TestName,
		&h.Request.TestType,
		&h.Request.TargetURL,
		&h.Request.ConcurrentUsers,
		&h.Request.DurationSeconds,
		&h.Request.RampUpSeconds,
		&thresholds,
		&h.TemplatePath,
		&summary,
		&report,
	); err != nil {
		return nil, err
	}
	h.CreatedAt = h.CreatedAt.UTC()
	if len(thresholds) > 0 && string(thresholds) != "null" {
		var t models.Thresholds
		if err := json.Unmarshal(thresholds, &t); err != nil {
			return nil, err
		}
		h.Request.Thresholds = &t
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &h.Summary); err != nil {
			return nil, err
		}
	}
	if report.Valid {
		h.AnalysisReport = &report.String
	}
	return &h, nil
}
