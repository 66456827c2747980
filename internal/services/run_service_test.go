package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"perf-api-go/internal/analysis"
	"perf-api-go/internal/apperr"
	"perf-api-go/internal/config"
	"perf-api-go/internal/jmeter"
	"perf-api-go/internal/llm"
	"perf-api-go/internal/models"
	"perf-api-go/internal/monitoring"
)

const baseMs = int64(1714557600000) // 2024-05-01T10:00:00Z

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(routingKey string, _ map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) list() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type okChat struct{}

func (okChat) Generate(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("- item for "+msgs[0].Content[:10], nil), nil
}

type fixture struct {
	cfg     *config.Config
	store   *memStore
	driver  *csvDriver
	disp    *inlineDispatcher
	pub     *recordingPublisher
	metrics *monitoring.Metrics
	svc     *RunService
}

func newFixture(t *testing.T, asker analysis.Asker) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		TemplatesDir:       filepath.Join(root, "templates"),
		ResultsDir:         filepath.Join(root, "results"),
		UploadsDir:         filepath.Join(root, "uploads"),
		AnalysisTimeout:    5 * time.Second,
		AnalysisSweepGrace: time.Minute,
	}
	f := &fixture{
		cfg:     cfg,
		store:   newMemStore(),
		driver:  &csvDriver{root: cfg.ResultsDir, csv: uniformCSV()},
		disp:    &inlineDispatcher{},
		pub:     &recordingPublisher{},
		metrics: monitoring.New(),
	}
	if asker == nil {
		asker = llm.NewExecutor(llm.NewRegistry(), nil, nil)
	}
	f.svc = NewRunService(cfg, Deps{
		Store:      f.store,
		Emitter:    jmeter.NewEmitter(cfg.TemplatesDir),
		Driver:     f.driver,
		Analyzer:   analysis.NewGraph(asker, nil),
		Dispatcher: f.disp,
		Publisher:  f.pub,
		Metrics:    f.metrics,
		Providers:  []string{"openai"},
		Log:        zap.NewNop(),
	})
	return f
}

func smokeRequest() models.RunRequest {
	return models.RunRequest{
		TestName:        "smoke",
		TestType:        models.TestTypeLoad,
		TargetURL:       "https://example.test/",
		ConcurrentUsers: 10,
		DurationSeconds: 60,
		RampUpSeconds:   10,
	}
}

func csvOf(rows []string) string {
	return "timeStamp,elapsed,label,responseCode,success\n" + strings.Join(rows, "\n") + "\n"
}

func uniformCSV() string {
	rows := make([]string, 0, 120)
	for i := 0; i < 120; i++ {
		rows = append(rows, fmt.Sprintf("%d,100,HTTP Request,200,true", baseMs+int64(i)*1000))
	}
	return csvOf(rows)
}

func waitSettled(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run %s did not settle, state %s", h.RunID(), h.State())
	}
}

func TestCreateRunHappyPath(t *testing.T) {
	f := newFixture(t, nil)

	resp, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.NoError(t, err)
	assert.Equal(t, models.SummaryMetrics{AvgResponseTimeMs: 100, PeakThroughputPerMin: 60}, resp.SummaryMetrics)
	assert.Equal(t, "/reports/"+resp.RunID+"/report/index.html", resp.ReportLinks.ReportIndexURL)
	assert.Equal(t, "/reports/"+resp.RunID+"/report/dashboard.html", resp.ReportLinks.DashboardURL)

	header, err := f.store.GetHeader(context.Background(), resp.RunID)
	require.NoError(t, err)
	require.NotNil(t, header)
	assert.FileExists(t, header.TemplatePath)
	details, _ := f.store.GetDetails(context.Background(), resp.RunID)
	assert.Len(t, details, 2)

	reportDir := filepath.Join(f.cfg.ResultsDir, resp.RunID, jmeter.ReportDir)
	assert.FileExists(t, filepath.Join(reportDir, IndexPage))
	assert.FileExists(t, filepath.Join(reportDir, DashboardPage))

	waitSettled(t, h)
	assert.Equal(t, StateAnalyzed, h.State())
	view, err := f.svc.GetAnalysis(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(view.FullReport, analysis.ReportTitle))
	assert.Equal(t, []string{analysis.DisabledMessage}, view.Bottlenecks)
	assert.Equal(t, []string{analysis.DisabledMessage}, view.Recommendations)
	assert.Equal(t, []string{analysis.DisabledMessage}, view.NextTests)

	assert.Equal(t, []string{"run.started", "run.completed", "run.analyzed"}, f.pub.list())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveRuns))
}

func TestCreateRunDegradedMetrics(t *testing.T) {
	f := newFixture(t, nil)
	var rows []string
	for i := 1; i <= 25; i++ {
		success := "true"
		if i%5 == 0 {
			success = "false"
		}
		rows = append(rows, fmt.Sprintf("%d,%d,HTTP Request,200,%s", baseMs+int64(i)*1000, i*10, success))
	}
	f.driver.csv = csvOf(rows)

	resp, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.NoError(t, err)
	assert.Equal(t, models.SummaryMetrics{AvgResponseTimeMs: 130, MaxErrorRatePct: 20, PeakThroughputPerMin: 25}, resp.SummaryMetrics)
	waitSettled(t, h)

	details, _ := f.store.GetDetails(context.Background(), resp.RunID)
	require.Len(t, details, 1)
	assert.Equal(t, 25, details[0].SamplesInBucket)
}

func TestCreateRunEmptyCSVStillSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	f.driver.csv = csvOf(nil)

	resp, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.NoError(t, err)
	assert.Equal(t, models.SummaryMetrics{}, resp.SummaryMetrics)
	waitSettled(t, h)
	assert.Equal(t, StateAnalyzed, h.State())

	view, err := f.svc.GetRun(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Empty(t, view.TimeSeries.Timestamps)
}

func TestCreateRunToolTimeoutLeavesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.driver.err = apperr.New(apperr.KindToolTimeout, "jmeter.Run", "jmeter exceeded 300s")

	resp, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, apperr.KindToolTimeout, apperr.KindOf(err))
	assert.Equal(t, StateFailed, h.State())
	assert.Equal(t, 0, f.store.count())

	runs, err := f.svc.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Contains(t, f.pub.list(), "run.failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("tool_timeout")))
}

func TestCreateRunRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, nil)
	req := smokeRequest()
	req.ConcurrentUsers = 0
	req.TestType = "chaos"

	_, h, err := f.svc.CreateRun(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "concurrent_users must be greater than 0")
	assert.Contains(t, err.Error(), "test_type must be one of")
	assert.Equal(t, StateFailed, h.State())

	entries, _ := os.ReadDir(f.cfg.TemplatesDir)
	assert.Empty(t, entries, "no template is written for an invalid request")
}

func TestCreateRunCallerCancelDuringExecution(t *testing.T) {
	f := newFixture(t, nil)
	f.driver.block = true
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, h, err := f.svc.CreateRun(ctx, smokeRequest())
	assert.Equal(t, apperr.KindCanceled, apperr.KindOf(err))
	assert.Equal(t, StateFailed, h.State())
	assert.Equal(t, 0, f.store.count())
}

func TestCreateRunDetailFailureRemovesHeader(t *testing.T) {
	f := newFixture(t, nil)
	f.store.failDet = &apperr.Error{Kind: apperr.KindStore, Err: errors.New("deadlock")}

	_, _, err := f.svc.CreateRun(context.Background(), smokeRequest())
	assert.Equal(t, apperr.KindStore, apperr.KindOf(err))
	assert.Equal(t, 0, f.store.count())
}

func TestAnalysisRunsWithProviders(t *testing.T) {
	exec := llm.NewExecutor(llm.NewRegistry(llm.Provider{Name: "a", Chat: okChat{}}), nil, nil)
	f := newFixture(t, exec)

	resp, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.NoError(t, err)
	waitSettled(t, h)

	view, err := f.svc.GetAnalysis(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Len(t, view.Bottlenecks, 1)
	assert.True(t, strings.HasPrefix(view.Bottlenecks[0], "item for "))
	assert.NotContains(t, view.FullReport, analysis.DisabledMessage)
}

func TestSetAnalysisFailureLeavesRunResponded(t *testing.T) {
	f := newFixture(t, nil)
	f.store.failSet = errors.New("lost connection")

	resp, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.NoError(t, err)
	waitSettled(t, h)

	assert.Equal(t, StateResponded, h.State())
	assert.ErrorContains(t, h.Err(), "lost connection")
	header, _ := f.store.GetHeader(context.Background(), resp.RunID)
	assert.Nil(t, header.AnalysisReport)
	assert.Equal(t, 1, f.store.setCalls, "no failure marker after a failed final write")
}

func TestOuterAnalysisFailureWritesMarker(t *testing.T) {
	f := newFixture(t, nil)
	resp, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.NoError(t, err)
	waitSettled(t, h)

	f.store.failGetDt = errors.New("details unavailable")
	h, err = f.svc.Reanalyze(context.Background(), resp.RunID)
	require.NoError(t, err)
	waitSettled(t, h)

	assert.Equal(t, StateAnalysisFailed, h.State())
	header, _ := f.store.GetHeader(context.Background(), resp.RunID)
	require.NotNil(t, header.AnalysisReport)
	assert.True(t, strings.HasPrefix(*header.AnalysisReport, FailureMarker))
	assert.Contains(t, *header.AnalysisReport, "details unavailable")
}

func TestAnalysisDeadlineStillStoresReport(t *testing.T) {
	f := newFixture(t, hangAsker{})
	f.cfg.AnalysisTimeout = 100 * time.Millisecond

	resp, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.NoError(t, err)
	waitSettled(t, h)

	assert.Equal(t, StateAnalyzed, h.State())
	require.NoError(t, h.Err())
	header, _ := f.store.GetHeader(context.Background(), resp.RunID)
	require.NotNil(t, header.AnalysisReport)
	assert.True(t, strings.HasPrefix(*header.AnalysisReport, analysis.ReportTitle))
	assert.Contains(t, *header.AnalysisReport, "AI analysis failed: ")
	assert.Contains(t, *header.AnalysisReport, context.DeadlineExceeded.Error())
}

func TestReanalyzeTwiceLaterReportWins(t *testing.T) {
	asker := &roundAsker{}
	asker.round.Store(1)
	f := newFixture(t, asker)

	resp, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.NoError(t, err)
	waitSettled(t, h)
	recs, _ := f.store.GetRecommendations(context.Background(), resp.RunID)
	assert.Len(t, recs, 3)

	for round := 2; round <= 3; round++ {
		asker.round.Store(int32(round))
		h, err = f.svc.Reanalyze(context.Background(), resp.RunID)
		require.NoError(t, err)
		waitSettled(t, h)
		require.Equal(t, StateAnalyzed, h.State())

		view, err := f.svc.GetAnalysis(context.Background(), resp.RunID)
		require.NoError(t, err)
		assert.Contains(t, view.FullReport, fmt.Sprintf("round %d item 1", round))
		assert.NotContains(t, view.FullReport, fmt.Sprintf("round %d item", round-1))
		assert.Len(t, view.Bottlenecks, round)
		assert.Len(t, view.Recommendations, round)
		assert.Len(t, view.NextTests, round)

		recs, _ = f.store.GetRecommendations(context.Background(), resp.RunID)
		assert.Len(t, recs, 3*round)
	}
}

func TestAnalyzerPanicIsContained(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.analyzer = panicAnalyzer{}

	resp, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.NoError(t, err)
	waitSettled(t, h)

	assert.Equal(t, StateAnalysisFailed, h.State())
	header, _ := f.store.GetHeader(context.Background(), resp.RunID)
	require.NotNil(t, header.AnalysisReport)
	assert.Contains(t, *header.AnalysisReport, "graph exploded")
}

func TestDispatchFailureKeepsRunResponded(t *testing.T) {
	f := newFixture(t, nil)
	f.disp.err = errors.New("scheduler stopped")

	_, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.NoError(t, err)
	waitSettled(t, h)
	assert.Equal(t, StateResponded, h.State())
}

func TestReanalyzeStoredRun(t *testing.T) {
	f := newFixture(t, nil)
	start := time.UnixMilli(baseMs).UTC()
	header := &models.RunHeader{ID: "stored", CreatedAt: start, Request: smokeRequest(), Summary: models.SummaryMetrics{AvgResponseTimeMs: 100}}
	empty := ""
	header.AnalysisReport = &empty
	require.NoError(t, f.store.InsertHeader(context.Background(), header))
	details := []models.RunDetail{{RunID: "stored", BucketStart: start, AvgResponseTimeMs: 100, SamplesInBucket: 60}}
	require.NoError(t, f.store.InsertDetails(context.Background(), "stored", details))

	h, err := f.svc.Reanalyze(context.Background(), "stored")
	require.NoError(t, err)
	waitSettled(t, h)

	got, _ := f.store.GetHeader(context.Background(), "stored")
	require.True(t, got.HasAnalysis())
	recs, _ := f.store.GetRecommendations(context.Background(), "stored")
	assert.Len(t, recs, 3)
	after, _ := f.store.GetDetails(context.Background(), "stored")
	assert.Equal(t, details, after)

	_, err = f.svc.Reanalyze(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestQueries(t *testing.T) {
	f := newFixture(t, nil)
	resp, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.NoError(t, err)
	waitSettled(t, h)

	runs, err := f.svc.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].HasAnalysis)

	view, err := f.svc.GetRun(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Len(t, view.TimeSeries.Timestamps, 2)
	assert.Equal(t, []float64{100, 100}, view.TimeSeries.ResponseTimes)
	assert.Equal(t, []int{60, 60}, view.TimeSeries.Throughputs)
	assert.Equal(t, resp.ReportLinks.ReportIndexURL, view.ReportURL)

	_, err = f.svc.GetRun(context.Background(), "nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = f.svc.GetAnalysis(context.Background(), "nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGetAnalysisBeforeReport(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.InsertHeader(context.Background(), &models.RunHeader{ID: "fresh", Request: smokeRequest()}))

	view, err := f.svc.GetAnalysis(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, NoAnalysisMessage, view.FullReport)
	assert.NotNil(t, view.Bottlenecks)
	assert.Empty(t, view.Bottlenecks)
}

func TestDeleteRunRemovesArtifacts(t *testing.T) {
	f := newFixture(t, nil)
	resp, h, err := f.svc.CreateRun(context.Background(), smokeRequest())
	require.NoError(t, err)
	waitSettled(t, h)
	header, _ := f.store.GetHeader(context.Background(), resp.RunID)

	require.NoError(t, f.svc.DeleteRun(context.Background(), resp.RunID))
	assert.Equal(t, 0, f.store.count())
	assert.NoDirExists(t, filepath.Join(f.cfg.ResultsDir, resp.RunID))
	assert.NoFileExists(t, header.TemplatePath)
	_, ok := f.svc.Handle(resp.RunID)
	assert.False(t, ok)

	err = f.svc.DeleteRun(context.Background(), resp.RunID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSweepPendingSchedulesIdleRuns(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []string{"p1", "p2"} {
		require.NoError(t, f.store.InsertHeader(context.Background(), &models.RunHeader{ID: id, Request: smokeRequest()}))
	}
	f.store.pending = []string{"p1", "p2"}
	busy := newHandle("p2", StateAnalyzing)
	f.svc.handles.put(busy)

	n, err := f.svc.SweepPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.disp.wg.Wait()

	h, ok := f.svc.Handle("p1")
	require.True(t, ok)
	assert.Equal(t, StateAnalyzed, h.State())
	cur, _ := f.svc.Handle("p2")
	assert.Same(t, busy, cur)
}

func TestSweepPrunesSettledHandles(t *testing.T) {
	f := newFixture(t, nil)
	old := newHandle("old", StateResponded)
	old.settle(StateAnalyzed, nil)
	f.svc.handles.put(old)
	f.svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	_, err := f.svc.SweepPending(context.Background())
	require.NoError(t, err)
	_, ok := f.svc.Handle("old")
	assert.False(t, ok)
}

func TestRegisterSweep(t *testing.T) {
	f := newFixture(t, nil)
	f.cfg.AnalysisSweepInterval = 30 * time.Second
	rec := &periodicRecorder{}
	require.NoError(t, f.svc.RegisterSweep(rec))
	assert.Equal(t, "analysis-sweep", rec.name)
	assert.Equal(t, 30*time.Second, rec.interval)
	assert.NotPanics(t, rec.fn)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.MkdirAll(f.cfg.ResultsDir, 0o755))
	f.driver.tool = models.ToolStatus{Found: true, Version: "5.6.3", RMIPort: 50000}

	report := f.svc.Health(context.Background())
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "ok", report.Database)
	assert.True(t, report.Directories["results"])
	assert.False(t, report.Directories["uploads"])
	assert.Equal(t, []string{"openai"}, report.Providers)
	assert.Equal(t, "5.6.3", report.Tool.Version)

	f.store.healthErr = errors.New("connection refused")
	f.driver.tool = models.ToolStatus{Found: false, Error: "jmeter not found"}
	report = f.svc.Health(context.Background())
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "connection refused", report.Database)
}

func TestHandleViewAndPlaceholders(t *testing.T) {
	h := newHandle("r", StateSubmitted)
	h.set(StateExecuting)
	assert.Equal(t, StateExecuting, h.View().State)
	h.settle(StateFailed, errors.New("boom"))
	h.settle(StateFailed, errors.New("again"))
	assert.Equal(t, "again", h.View().Error)

	dir := filepath.Join(t.TempDir(), "report")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexPage), []byte("real"), 0o644))
	require.NoError(t, ensureReportPlaceholders(dir, &models.RunHeader{ID: "r", Request: models.RunRequest{TestName: "<x>"}}))
	index, _ := os.ReadFile(filepath.Join(dir, IndexPage))
	assert.Equal(t, "real", string(index))
	dash, _ := os.ReadFile(filepath.Join(dir, DashboardPage))
	assert.Contains(t, string(dash), "&lt;x&gt;")
}
