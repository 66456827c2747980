package services

// File: internal/services/reports.go
// Purpose: Report links and placeholder pages for runs whose HTML report is missing.

import (
	"fmt"
	"html"
	"os"
	"path/filepath"

	"perf-api-go/internal/models"
)

// ReportsPrefix is where the results directory is served over HTTP.
const ReportsPrefix = "/reports/"

// Placeholder page names inside a run's report directory.
const (
	IndexPage     = "index.html"
	DashboardPage = "dashboard.html"
)

func reportLinks(runID string) models.ReportLinks {
	base := ReportsPrefix + runID + "/report/"
	return models.ReportLinks{
		ReportIndexURL: base + IndexPage,
		DashboardURL:   base + DashboardPage,
	}
}

// ensureReportPlaceholders writes a minimal page for each missing report file so
// the links returned to the caller always resolve.
func ensureReportPlaceholders(dir string, h *models.RunHeader) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	for _, page := range []string{IndexPage, DashboardPage} {
		path := filepath.Join(dir, page)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(placeholderPage(page, h)), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", page, err)
		}
	}
	return nil
}

func placeholderPage(page string, h *models.RunHeader) string {
	s := h.Summary
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s - %s</title></head>
<body>
<h1>%s</h1>
<p>The load tool did not produce %s for run %s.</p>
<ul>
<li>Average response time: %.2f ms</li>
<li>95th percentile response time: %.2f ms</li>
<li>Max error rate: %.2f%%</li>
<li>Peak throughput: %d requests/min</li>
</ul>
</body>
</html>
`,
		html.EscapeString(h.Request.TestName), page,
		html.EscapeString(h.Request.TestName), page, h.ID,
		s.AvgResponseTimeMs, s.P95ResponseTimeMs, s.MaxErrorRatePct, s.PeakThroughputPerMin)
}
