package services

// File: internal/services/queries.go
// Purpose: History, detail, analysis, delete and health operations.

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"perf-api-go/internal/apperr"
	"perf-api-go/internal/models"
)

// NoAnalysisMessage is returned by GetAnalysis while a run has no report.
const NoAnalysisMessage = "AI analysis not available for this test run."

// ListRuns returns every run, newest first, annotated with has_analysis.
func (s *RunService) ListRuns(ctx context.Context) ([]models.RunListItem, error) {
	headers, err := s.store.ListHeaders(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]models.RunListItem, 0, len(headers))
	for _, h := range headers {
		items = append(items, models.RunListItem{RunHeader: h, HasAnalysis: h.HasAnalysis()})
	}
	return items, nil
}

// GetRun returns the header, thresholds and the series as parallel arrays.
func (s *RunService) GetRun(ctx context.Context, runID string) (*models.RunView, error) {
	header, err := s.mustHeader(ctx, "RunService.GetRun", runID)
	if err != nil {
		return nil, err
	}
	details, err := s.store.GetDetails(ctx, runID)
	if err != nil {
		return nil, err
	}
	series := models.SeriesArrays{
		Timestamps:    make([]time.Time, 0, len(details)),
		ResponseTimes: make([]float64, 0, len(details)),
		ErrorRates:    make([]float64, 0, len(details)),
		Throughputs:   make([]int, 0, len(details)),
	}
	for _, d := range details {
		series.Timestamps = append(series.Timestamps, d.BucketStart)
		series.ResponseTimes = append(series.ResponseTimes, d.AvgResponseTimeMs)
		series.ErrorRates = append(series.ErrorRates, d.ErrorRatePct)
		series.Throughputs = append(series.Throughputs, d.SamplesInBucket)
	}
	return &models.RunView{
		Run:        *header,
		Thresholds: header.Request.Thresholds,
		TimeSeries: series,
		ReportURL:  reportLinks(runID).ReportIndexURL,
	}, nil
}

// GetAnalysis returns the stored report and its categorized recommendations.
func (s *RunService) GetAnalysis(ctx context.Context, runID string) (*models.AnalysisView, error) {
	header, err := s.mustHeader(ctx, "RunService.GetAnalysis", runID)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.GetRecommendations(ctx, runID)
	if err != nil {
		return nil, err
	}
	view := &models.AnalysisView{
		RunID:           runID,
		TestName:        header.Request.TestName,
		FullReport:      NoAnalysisMessage,
		Bottlenecks:     []string{},
		Recommendations: []string{},
		NextTests:       []string{},
	}
	if header.HasAnalysis() {
		view.FullReport = *header.AnalysisReport
	}
	for _, r := range recs {
		switch r.Category {
		case models.CategoryBottleneck:
			view.Bottlenecks = append(view.Bottlenecks, r.Description)
		case models.CategoryRecommendation:
			view.Recommendations = append(view.Recommendations, r.Description)
		case models.CategoryNextTest:
			view.NextTests = append(view.NextTests, r.Description)
		}
	}
	return view, nil
}

// DeleteRun removes the run, its details and recommendations, and its on-disk artifacts.
func (s *RunService) DeleteRun(ctx context.Context, runID string) error {
	const op = "RunService.DeleteRun"
	header, err := s.store.GetHeader(ctx, runID)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteRun(ctx, runID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.New(apperr.KindNotFound, op, "run %s not found", runID)
	}
	s.handles.remove(runID)

	log := s.log.With(zap.String("run_id", runID))
	if dir := s.runDir(runID); dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("results directory not removed", zap.String("dir", dir), zap.Error(err))
		}
	}
	if header != nil && header.TemplatePath != "" {
		if err := os.Remove(header.TemplatePath); err != nil && !os.IsNotExist(err) {
			log.Warn("template not removed", zap.String("path", header.TemplatePath), zap.Error(err))
		}
	}
	log.Info("run deleted")
	return nil
}

// Health reports database reachability, the load tool probe, directory
// presence and the registered LLM providers.
func (s *RunService) Health(ctx context.Context) models.HealthReport {
	report := models.HealthReport{
		Status:      "ok",
		Database:    "ok",
		Directories: map[string]bool{},
		Providers:   append([]string{}, s.providers...),
	}

	dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.store.Health(dbCtx); err != nil {
		report.Database = err.Error()
		report.Status = "degraded"
	}

	report.Tool = s.driver.Probe(ctx)
	if !report.Tool.Found {
		report.Status = "degraded"
	}

	if s.cfg != nil {
		for name, dir := range map[string]string{
			"templates": s.cfg.TemplatesDir,
			"results":   s.cfg.ResultsDir,
			"uploads":   s.cfg.UploadsDir,
		} {
			info, err := os.Stat(dir)
			report.Directories[name] = err == nil && info.IsDir()
		}
	}
	return report
}

func (s *RunService) mustHeader(ctx context.Context, op, runID string) (*models.RunHeader, error) {
	header, err := s.store.GetHeader(ctx, runID)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, apperr.New(apperr.KindNotFound, op, "run %s not found", runID)
	}
	return header, nil
}

func (s *RunService) runDir(runID string) string {
	if s.cfg == nil || s.cfg.ResultsDir == "" {
		return ""
	}
	return filepath.Join(s.cfg.ResultsDir, runID)
}
