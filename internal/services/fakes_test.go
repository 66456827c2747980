package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"perf-api-go/internal/analysis"
	"perf-api-go/internal/apperr"
	"perf-api-go/internal/jmeter"
	"perf-api-go/internal/models"
)

type memStore struct {
	mu        sync.Mutex
	headers   map[string]models.RunHeader
	details   map[string][]models.RunDetail
	recs      map[string][]models.Recommendation
	pending   []string
	failSet   error
	failDet   error
	failGetDt error
	healthErr error
	setCalls  int
}

func newMemStore() *memStore {
	return &memStore{
		headers: map[string]models.RunHeader{},
		details: map[string][]models.RunDetail{},
		recs:    map[string][]models.Recommendation{},
	}
}

func (m *memStore) InsertHeader(_ context.Context, h *models.RunHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers[h.ID] = *h
	return nil
}

func (m *memStore) InsertDetails(_ context.Context, runID string, details []models.RunDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDet != nil {
		return m.failDet
	}
	m.details[runID] = append([]models.RunDetail(nil), details...)
	return nil
}

func (m *memStore) GetHeader(_ context.Context, runID string) (*models.RunHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.headers[runID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (m *memStore) GetDetails(_ context.Context, runID string) ([]models.RunDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetDt != nil {
		return nil, m.failGetDt
	}
	return append([]models.RunDetail(nil), m.details[runID]...), nil
}

func (m *memStore) ListHeaders(context.Context) ([]models.RunHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RunHeader, 0, len(m.headers))
	for _, h := range m.headers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ListRecentByType(ctx context.Context, testType, excludeID string, limit int) ([]models.RunHeader, error) {
	all, _ := m.ListHeaders(ctx)
	var out []models.RunHeader
	for _, h := range all {
		if h.Request.TestType == testType && h.ID != excludeID && len(out) < limit {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memStore) ListPendingAnalysis(context.Context, time.Time, int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pending...), nil
}

func (m *memStore) SetAnalysis(ctx context.Context, runID, report string, recs []models.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failSet != nil {
		return m.failSet
	}
	h := m.headers[runID]
	h.AnalysisReport = &report
	m.headers[runID] = h
	m.recs[runID] = append([]models.Recommendation(nil), recs...)
	return nil
}

func (m *memStore) GetRecommendations(_ context.Context, runID string) ([]models.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Recommendation(nil), m.recs[runID]...), nil
}

func (m *memStore) DeleteRun(_ context.Context, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.headers[runID]; !ok {
		return false, nil
	}
	delete(m.headers, runID)
	delete(m.details, runID)
	delete(m.recs, runID)
	return true, nil
}

func (m *memStore) Health(context.Context) error { return m.healthErr }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.headers)
}

// csvDriver writes a fixed sample log where the real tool would.
type csvDriver struct {
	root  string
	csv   string
	err   error
	block bool
	tool  models.ToolStatus
}

func (d *csvDriver) Run(ctx context.Context, _ string, runID string) (string, string, error) {
	if d.block {
		<-ctx.Done()
		return "", "", &apperr.Error{Kind: apperr.KindCanceled, Op: "test", Err: ctx.Err()}
	}
	if d.err != nil {
		return "", "", d.err
	}
	dir := filepath.Join(d.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	path := filepath.Join(dir, jmeter.ResultsFile)
	if err := os.WriteFile(path, []byte(d.csv), 0o644); err != nil {
		return "", "", err
	}
	return path, filepath.Join(dir, jmeter.ReportDir), nil
}

func (d *csvDriver) Probe(context.Context) models.ToolStatus { return d.tool }

// inlineDispatcher runs jobs on a goroutine and lets tests wait for them.
type inlineDispatcher struct {
	wg  sync.WaitGroup
	err error
}

func (d *inlineDispatcher) Go(_ string, fn func()) error {
	if d.err != nil {
		return d.err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
	return nil
}

type panicAnalyzer struct{}

func (panicAnalyzer) Run(context.Context, analysis.Snapshot) analysis.State { panic("graph exploded") }

type periodicRecorder struct {
	name     string
	interval time.Duration
	fn       func()
}

func (p *periodicRecorder) Every(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return errors.New("bad interval")
	}
	p.name, p.interval, p.fn = name, interval, fn
	return nil
}

// hangAsker blocks every call until its context ends.
type hangAsker struct{}

func (hangAsker) Available() bool { return true }

func (hangAsker) Ask(ctx context.Context, _, _, _ string) (string, string, error) {
	<-ctx.Done()
	return "", "", ctx.Err()
}

// roundAsker answers with round bullets tagged by the current round.
type roundAsker struct{ round atomic.Int32 }

func (a *roundAsker) Available() bool { return true }

func (a *roundAsker) Ask(context.Context, string, string, string) (string, string, error) {
	n := int(a.round.Load())
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("- round %d item %d", n, i+1)
	}
	return strings.Join(lines, "\n"), "a", nil
}
