// Package models defines request/response and DB model shapes.
package models

// File: internal/models/models.go
// Purpose: Shared data structures for runs, time series and analysis.

import "time"

// Test types accepted by RunRequest.TestType.
const (
	TestTypeLoad   = "load"
	TestTypeStress = "stress"
	TestTypeSpike  = "spike"
	TestTypeSoak   = "soak"
)

// Recommendation categories.
const (
	CategoryBottleneck     = "bottleneck"
	CategoryRecommendation = "recommendation"
	CategoryNextTest       = "next_test"
)

// Thresholds are optional pass/fail limits attached to a run.
type Thresholds struct {
	ResponseTimeMs *float64 `json:"response_time_ms,omitempty" validate:"omitempty,gte=0"`
	ErrorRatePct   *float64 `json:"error_rate_pct,omitempty" validate:"omitempty,gte=0,lte=100"`
	ThroughputRPS  *float64 `json:"throughput_rps,omitempty" validate:"omitempty,gte=0"`
}

// RunRequest is the request payload for POST /runs.
type RunRequest struct {
	TestName        string      `json:"test_name" validate:"required"`
	TestType        string      `json:"test_type" validate:"required,oneof=load stress spike soak"`
	TargetURL       string      `json:"target_url" validate:"required,url"`
	ConcurrentUsers int         `json:"concurrent_users" validate:"gt=0"`
	DurationSeconds int         `json:"duration_seconds" validate:"gt=0"`
	RampUpSeconds   int         `json:"ramp_up_seconds" validate:"gte=0"`
	Thresholds      *Thresholds `json:"thresholds,omitempty" validate:"omitempty"`
}

// SummaryMetrics is the run-level reduction of the per-minute buckets.
type SummaryMetrics struct {
	AvgResponseTimeMs    float64 `json:"avg_response_time_ms"`
	P95ResponseTimeMs    float64 `json:"p95_response_time_ms"`
	MaxErrorRatePct      float64 `json:"max_error_rate_pct"`
	PeakThroughputPerMin int     `json:"peak_throughput_per_min"`
}

// RunHeader models the runs table.
type RunHeader struct {
	ID             string         `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	Request        RunRequest     `json:"request"`
	TemplatePath   string         `json:"template_path"`
	Summary        SummaryMetrics `json:"summary_metrics"`
	AnalysisReport *string        `json:"analysis_report,omitempty"`
}

// HasAnalysis reports whether the background stage has written a report.
func (h RunHeader) HasAnalysis() bool {
	return h.AnalysisReport != nil && *h.AnalysisReport != ""
}

// RunDetail models the run_details table: one row per populated minute.
type RunDetail struct {
	RunID             string    `json:"run_id"`
	BucketStart       time.Time `json:"bucket_start"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	ErrorRatePct      float64   `json:"error_rate_pct"`
	SamplesInBucket   int       `json:"samples_in_bucket"`
}

// Recommendation models the recommendations table.
type Recommendation struct {
	RunID       string `json:"run_id"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Bucket is one reduced minute of samples.
type Bucket struct {
	Start             time.Time
	AvgResponseTimeMs float64
	ErrorRatePct      float64
	Count             int
}

// LatencyStats describes the raw sample latency distribution of one run.
type LatencyStats struct {
	Samples  int64   `json:"samples"`
	Failures int64   `json:"failures"`
	MeanMs   float64 `json:"mean_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P90Ms    float64 `json:"p90_ms"`
	P99Ms    float64 `json:"p99_ms"`
	MaxMs    float64 `json:"max_ms"`
}

// TimeSeries is the ordered list of buckets ingested from one results CSV.
type TimeSeries struct {
	Buckets []Bucket
	Latency *LatencyStats
}

// Details converts the series into persistable rows for runID.
func (ts TimeSeries) Details(runID string) []RunDetail {
	rows := make([]RunDetail, 0, len(ts.Buckets))
	for _, b := range ts.Buckets {
		rows = append(rows, RunDetail{
			RunID:             runID,
			BucketStart:       b.Start,
			AvgResponseTimeMs: b.AvgResponseTimeMs,
			ErrorRatePct:      b.ErrorRatePct,
			SamplesInBucket:   b.Count,
		})
	}
	return rows
}

// SeriesFromDetails rebuilds a TimeSeries from stored rows.
func SeriesFromDetails(details []RunDetail) TimeSeries {
	buckets := make([]Bucket, 0, len(details))
	for _, d := range details {
		buckets = append(buckets, Bucket{
			Start:             d.BucketStart,
			AvgResponseTimeMs: d.AvgResponseTimeMs,
			ErrorRatePct:      d.ErrorRatePct,
			Count:             d.SamplesInBucket,
		})
	}
	return TimeSeries{Buckets: buckets}
}

// ReportLinks point at the on-disk HTML report of a run.
type ReportLinks struct {
	ReportIndexURL string `json:"report_index_url"`
	DashboardURL   string `json:"dashboard_url"`
}

// CreateRunResponse is the response payload for POST /runs.
type CreateRunResponse struct {
	RunID          string         `json:"run_id"`
	SummaryMetrics SummaryMetrics `json:"summary_metrics"`
	ReportLinks    ReportLinks    `json:"report_links"`
}

// RunListItem is one entry of GET /runs.
type RunListItem struct {
	RunHeader
	HasAnalysis bool `json:"has_analysis"`
}

// SeriesArrays is the time series as four parallel arrays.
type SeriesArrays struct {
	Timestamps    []time.Time `json:"timestamps"`
	ResponseTimes []float64   `json:"response_times"`
	ErrorRates    []float64   `json:"error_rates"`
	Throughputs   []int       `json:"throughputs"`
}

// RunView is the response payload for GET /runs/{id}.
type RunView struct {
	Run        RunHeader    `json:"run"`
	Thresholds *Thresholds  `json:"thresholds,omitempty"`
	TimeSeries SeriesArrays `json:"time_series"`
	ReportURL  string       `json:"report_url"`
}

// AnalysisView is the response payload for GET /runs/{id}/analysis.
type AnalysisView struct {
	RunID           string   `json:"run_id"`
	TestName        string   `json:"test_name"`
	FullReport      string   `json:"full_report"`
	Bottlenecks     []string `json:"bottlenecks"`
	Recommendations []string `json:"recommendations"`
	NextTests       []string `json:"next_tests"`
}

// ToolStatus is the load-tool part of the health report.
type ToolStatus struct {
	Found       bool   `json:"found"`
	Path        string `json:"path,omitempty"`
	Version     string `json:"version,omitempty"`
	Error       string `json:"error,omitempty"`
	RMIPort     int    `json:"rmi_port"`
	RMIListen   bool   `json:"rmi_listening"`
	JavaVersion string `json:"java_version,omitempty"`
}

// HealthReport is the response payload for GET /health.
type HealthReport struct {
	Status      string          `json:"status"`
	Database    string          `json:"database"`
	Tool        ToolStatus      `json:"load_tool"`
	Directories map[string]bool `json:"directories"`
	Providers   []string        `json:"llm_providers"`
}
