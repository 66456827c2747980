package services

// File: internal/services/analysis.go
// Purpose: Background analysis stage, re-analysis and the pending-analysis sweep.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"perf-api-go/internal/analysis"
	"perf-api-go/internal/apperr"
	"perf-api-go/internal/models"
	"perf-api-go/internal/mq"
)

// FailureMarker prefixes analysis_report when the background stage itself fails.
const FailureMarker = "AI analysis failed: "

const (
	defaultAnalysisTimeout = 10 * time.Minute
	finalWriteTimeout      = 10 * time.Second
	sweepBatch             = 20
)

// errSetAnalysis marks a failed final write; the run stays in responded.
type errSetAnalysis struct{ err error }

func (e errSetAnalysis) Error() string { return "save analysis: " + e.err.Error() }
func (e errSetAnalysis) Unwrap() error { return e.err }

func (s *RunService) scheduleAnalysis(h *Handle, latency *models.LatencyStats) {
	runID := h.RunID()
	err := s.dispatch.Go("analysis:"+runID, func() { s.runAnalysis(h, latency) })
	if err != nil {
		s.log.Error("analysis not scheduled", zap.String("run_id", runID), zap.Error(err))
		h.settle(StateResponded, err)
	}
}

// runAnalysis executes on a scheduler goroutine under its own deadline, so a
// disconnected caller never cancels it.
func (s *RunService) runAnalysis(h *Handle, latency *models.LatencyStats) {
	runID := h.RunID()
	log := s.log.With(zap.String("run_id", runID))
	timeout := defaultAnalysisTimeout
	if s.cfg != nil && s.cfg.AnalysisTimeout > 0 {
		timeout = s.cfg.AnalysisTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	h.set(StateAnalyzing)
	started := time.Now()
	providers, err := s.analyzeOnce(ctx, runID, latency)
	s.metrics.ObserveStage("analysis", time.Since(started))

	var saveErr errSetAnalysis
	switch {
	case err == nil:
		log.Info("analysis stored", zap.Any("providers", providers))
		s.metrics.ObserveAnalysis(string(StateAnalyzed))
		s.publish(mq.EventRunAnalyzed, runID, map[string]any{"providers": providers})
		h.settle(StateAnalyzed, nil)
	case errors.As(err, &saveErr):
		log.Error("analysis not stored", zap.Error(err))
		s.metrics.ObserveAnalysis(string(apperr.KindStore))
		h.settle(StateResponded, err)
	default:
		log.Error("analysis failed", zap.Error(err))
		s.writeFailureMarker(runID, err, log)
		s.metrics.ObserveAnalysis(string(StateAnalysisFailed))
		h.settle(StateAnalysisFailed, err)
	}
}

func (s *RunService) analyzeOnce(ctx context.Context, runID string, latency *models.LatencyStats) (providers map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during analysis: %v", r)
		}
	}()
	snap, err := s.snapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	if snap.Series.Latency == nil {
		snap.Series.Latency = latency
	}
	state := s.analyzer.Run(ctx, snap)

	// The graph may have spent the whole deadline; the report it assembled is still saved.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := s.store.SetAnalysis(saveCtx, runID, state.Report, state.CategorizedRecommendations(runID)); err != nil {
		return nil, errSetAnalysis{err: err}
	}
	return state.ProviderUsed, nil
}

// snapshot reads everything the analysis needs from the store.
func (s *RunService) snapshot(ctx context.Context, runID string) (analysis.Snapshot, error) {
	const op = "RunService.snapshot"
	header, err := s.store.GetHeader(ctx, runID)
	if err != nil {
		return analysis.Snapshot{}, err
	}
	if header == nil {
		return analysis.Snapshot{}, apperr.New(apperr.KindNotFound, op, "run %s not found", runID)
	}
	details, err := s.store.GetDetails(ctx, runID)
	if err != nil {
		return analysis.Snapshot{}, err
	}
	prior, err := s.store.ListRecentByType(ctx, header.Request.TestType, runID, analysis.MaxPriorRuns)
	if err != nil {
		return analysis.Snapshot{}, err
	}
	return analysis.Snapshot{
		Run:       *header,
		Series:    models.SeriesFromDetails(details),
		PriorRuns: prior,
	}, nil
}

func (s *RunService) writeFailureMarker(runID string, cause error, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), finalWriteTimeout)
	defer cancel()
	if err := s.store.SetAnalysis(ctx, runID, FailureMarker+cause.Error(), nil); err != nil {
		log.Warn("failure marker not written", zap.Error(err))
	}
}

// Reanalyze schedules the background stage over the stored run. The load test
// is not executed again.
func (s *RunService) Reanalyze(ctx context.Context, runID string) (*Handle, error) {
	const op = "RunService.Reanalyze"
	header, err := s.store.GetHeader(ctx, runID)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, apperr.New(apperr.KindNotFound, op, "run %s not found", runID)
	}
	h := newHandle(runID, StateResponded)
	if !s.handles.claim(h) {
		cur, _ := s.handles.get(runID)
		return cur, nil
	}
	s.scheduleAnalysis(h, nil)
	return h, nil
}

// SweepPending re-drives analysis for runs that still have no report after the
// configured grace period, and drops settled handles older than it. It returns
// the number of runs scheduled.
func (s *RunService) SweepPending(ctx context.Context) (int, error) {
	grace := 15 * time.Minute
	if s.cfg != nil && s.cfg.AnalysisSweepGrace > 0 {
		grace = s.cfg.AnalysisSweepGrace
	}
	cutoff := s.now().Add(-grace)
	if n := s.handles.prune(cutoff); n > 0 {
		s.log.Debug("pruned run handles", zap.Int("count", n))
	}

	ids, err := s.store.ListPendingAnalysis(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, err
	}
	scheduled := 0
	for _, id := range ids {
		h := newHandle(id, StateResponded)
		if !s.handles.claim(h) {
			continue
		}
		s.log.Info("re-driving pending analysis", zap.String("run_id", id))
		s.scheduleAnalysis(h, nil)
		scheduled++
	}
	return scheduled, nil
}

// Periodic runs a job on an interval. *scheduler.Scheduler satisfies it.
type Periodic interface {
	Every(name string, interval time.Duration, fn func()) error
}

// RegisterSweep runs SweepPending every ANALYSIS_SWEEP_INTERVAL.
func (s *RunService) RegisterSweep(p Periodic) error {
	interval := 5 * time.Minute
	if s.cfg != nil && s.cfg.AnalysisSweepInterval > 0 {
		interval = s.cfg.AnalysisSweepInterval
	}
	return p.Every("analysis-sweep", interval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.SweepPending(ctx); err != nil {
			s.log.Warn("pending analysis sweep failed", zap.Error(err))
		}
	})
}
