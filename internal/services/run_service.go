// Package services contains business logic for the perf-api domain.
package services

// File: internal/services/run_service.go
// Purpose: Run orchestration: validate, emit, execute, ingest, persist, then hand off analysis.

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"perf-api-go/internal/analysis"
	"perf-api-go/internal/apperr"
	"perf-api-go/internal/config"
	"perf-api-go/internal/models"
	"perf-api-go/internal/monitoring"
	"perf-api-go/internal/mq"
	"perf-api-go/internal/timeseries"
)

// Store is the persistence the orchestrator needs. *db.Store satisfies it.
type Store interface {
	InsertHeader(ctx context.Context, h *models.RunHeader) error
	InsertDetails(ctx context.Context, runID string, details []models.RunDetail) error
	GetHeader(ctx context.Context, runID string) (*models.RunHeader, error)
	GetDetails(ctx context.Context, runID string) ([]models.RunDetail, error)
	ListHeaders(ctx context.Context) ([]models.RunHeader, error)
	ListRecentByType(ctx context.Context, testType, excludeID string, limit int) ([]models.RunHeader, error)
	ListPendingAnalysis(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
	SetAnalysis(ctx context.Context, runID, report string, recs []models.Recommendation) error
	GetRecommendations(ctx context.Context, runID string) ([]models.Recommendation, error)
	DeleteRun(ctx context.Context, runID string) (bool, error)
	Health(ctx context.Context) error
}

// TemplateEmitter writes the test plan for a request. *jmeter.Emitter satisfies it.
type TemplateEmitter interface {
	Emit(req models.RunRequest) ([]byte, string, error)
}

// LoadDriver runs the load tool. *jmeter.Driver satisfies it.
type LoadDriver interface {
	Run(ctx context.Context, templatePath, runID string) (string, string, error)
	Probe(ctx context.Context) models.ToolStatus
}

// Analyzer runs the analysis graph. *analysis.Graph satisfies it.
type Analyzer interface {
	Run(ctx context.Context, snap analysis.Snapshot) analysis.State
}

// Dispatcher runs detached work. *scheduler.Scheduler satisfies it.
type Dispatcher interface {
	Go(name string, fn func()) error
}

// Deps are the collaborators of a RunService. Publisher and Metrics may be nil.
type Deps struct {
	Store      Store
	Emitter    TemplateEmitter
	Driver     LoadDriver
	Analyzer   Analyzer
	Dispatcher Dispatcher
	Publisher  mq.EventPublisher
	Metrics    *monitoring.Metrics
	Providers  []string
	Log        *zap.Logger
}

// RunService coordinates run creation, retrieval and analysis.
type RunService struct {
	cfg       *config.Config
	store     Store
	emitter   TemplateEmitter
	driver    LoadDriver
	analyzer  Analyzer
	dispatch  Dispatcher
	publisher mq.EventPublisher
	metrics   *monitoring.Metrics
	providers []string
	log       *zap.Logger
	validate  *validator.Validate
	handles   *handleSet
	now       func() time.Time
}

// NewRunService constructs a RunService with dependencies.
func NewRunService(cfg *config.Config, deps Deps) *RunService {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	pub := deps.Publisher
	if pub == nil {
		pub = mq.Noop{}
	}
	return &RunService{
		cfg:       cfg,
		store:     deps.Store,
		emitter:   deps.Emitter,
		driver:    deps.Driver,
		analyzer:  deps.Analyzer,
		dispatch:  deps.Dispatcher,
		publisher: pub,
		metrics:   deps.Metrics,
		providers: append([]string(nil), deps.Providers...),
		log:       log,
		validate:  newValidator(),
		handles:   newHandleSet(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Handle returns the in-process handle of a run, if this process has seen it.
func (s *RunService) Handle(runID string) (*Handle, bool) {
	return s.handles.get(runID)
}

// RunState is Handle reduced to its API view.
func (s *RunService) RunState(runID string) (StateView, bool) {
	h, ok := s.handles.get(runID)
	if !ok {
		return StateView{}, false
	}
	return h.View(), true
}

// CreateRun executes the foreground pipeline and schedules background analysis.
// On any error no run header remains and nothing is scheduled.
func (s *RunService) CreateRun(ctx context.Context, req models.RunRequest) (*models.CreateRunResponse, *Handle, error) {
	runID := uuid.NewString()
	h := newHandle(runID, StateSubmitted)
	s.handles.put(h)
	log := s.log.With(zap.String("run_id", runID))

	s.metrics.RunStarted()
	defer s.metrics.RunFinished()

	if err := s.validateRequest(req); err != nil {
		return nil, h, s.failRun(h, log, err)
	}
	h.set(StateValidated)
	s.publish(mq.EventRunStarted, runID, map[string]any{
		"test_name":        req.TestName,
		"test_type":        req.TestType,
		"target_url":       req.TargetURL,
		"concurrent_users": req.ConcurrentUsers,
		"duration_seconds": req.DurationSeconds,
	})

	started := time.Now()
	_, templatePath, err := s.emitter.Emit(req)
	s.metrics.ObserveStage("emit", time.Since(started))
	if err != nil {
		return nil, h, s.failRun(h, log, err)
	}
	h.set(StatePlanned)
	log.Info("test plan written", zap.String("template", templatePath))

	h.set(StateExecuting)
	started = time.Now()
	csvPath, reportDir, err := s.driver.Run(ctx, templatePath, runID)
	s.metrics.ObserveStage("execute", time.Since(started))
	if err != nil {
		return nil, h, s.failRun(h, log, err)
	}

	started = time.Now()
	series := timeseries.Ingest(csvPath, log)
	summary := timeseries.Summarize(series.Buckets)
	s.metrics.ObserveStage("ingest", time.Since(started))
	h.set(StateIngested)
	log.Info("results ingested", zap.Int("buckets", len(series.Buckets)), zap.Float64("avg_ms", summary.AvgResponseTimeMs))

	started = time.Now()
	header := &models.RunHeader{
		ID:           runID,
		CreatedAt:    s.now(),
		Request:      req,
		TemplatePath: templatePath,
		Summary:      summary,
	}
	if err := s.persist(ctx, header, series.Details(runID)); err != nil {
		return nil, h, s.failRun(h, log, err)
	}
	s.metrics.ObserveStage("persist", time.Since(started))
	h.set(StatePersisted)

	if err := ensureReportPlaceholders(reportDir, header); err != nil {
		log.Warn("report placeholders not written", zap.String("dir", reportDir), zap.Error(err))
	}

	h.set(StateResponded)
	s.metrics.ObserveRun("success")
	s.publish(mq.EventRunCompleted, runID, map[string]any{
		"avg_response_time_ms":    summary.AvgResponseTimeMs,
		"p95_response_time_ms":    summary.P95ResponseTimeMs,
		"max_error_rate_pct":      summary.MaxErrorRatePct,
		"peak_throughput_per_min": summary.PeakThroughputPerMin,
	})
	s.scheduleAnalysis(h, series.Latency)

	return &models.CreateRunResponse{
		RunID:          runID,
		SummaryMetrics: summary,
		ReportLinks:    reportLinks(runID),
	}, h, nil
}

func (s *RunService) validateRequest(req models.RunRequest) error {
	const op = "RunService.validate"
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindInvalidInput, op, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return apperr.New(apperr.KindInvalidInput, op, "%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "url":
		return field + " must be an absolute URL"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

// persist writes the header then its details. If the details fail, the header
// is removed again so a failed run leaves nothing behind.
func (s *RunService) persist(ctx context.Context, header *models.RunHeader, details []models.RunDetail) error {
	if err := s.store.InsertHeader(ctx, header); err != nil {
		return err
	}
	if err := s.store.InsertDetails(ctx, header.ID, details); err != nil {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, derr := s.store.DeleteRun(cleanup, header.ID); derr != nil {
			s.log.Error("orphan run header not removed", zap.String("run_id", header.ID), zap.Error(derr))
		}
		return err
	}
	return nil
}

func (s *RunService) failRun(h *Handle, log *zap.Logger, err error) error {
	kind := apperr.KindOf(err)
	if kind == "" {
		kind = "internal"
	}
	log.Error("run failed", zap.String("kind", string(kind)), zap.Error(err))
	h.settle(StateFailed, err)
	s.metrics.ObserveRun(string(kind))
	s.publish(mq.EventRunFailed, h.RunID(), map[string]any{
		"error_kind": string(kind),
		"error":      err.Error(),
	})
	return err
}

func (s *RunService) publish(eventType, runID string, fields map[string]any) {
	if err := s.publisher.Publish(eventType, mq.Event(eventType, runID, fields)); err != nil {
		s.log.Warn("event publish failed", zap.String("event", eventType), zap.String("run_id", runID), zap.Error(err))
	}
}
