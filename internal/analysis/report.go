package analysis

// File: internal/analysis/report.go
// Purpose: Deterministic Markdown report assembly.

import (
	"fmt"
	"strings"

	"perf-api-go/internal/models"
)

// ReportTitle opens every assembled report.
const ReportTitle = "# Performance Test Analysis Report"

// Verdict is the outcome of one threshold check.
type Verdict struct {
	Name   string
	Limit  string
	Actual string
	Pass   bool
}

// AssembleReport renders the final Markdown from s. It never calls an LLM.
func AssembleReport(s State) string {
	run := s.Snapshot.Run
	r := run.Request
	sum := run.Summary

	var b strings.Builder
	b.WriteString(ReportTitle + "\n\n")

	b.WriteString("## Test Information\n")
	fmt.Fprintf(&b, "- **Run ID**: %s\n", run.ID)
	fmt.Fprintf(&b, "- **Test Name**: %s\n", r.TestName)
	fmt.Fprintf(&b, "- **Test Type**: %s\n", r.TestType)
	fmt.Fprintf(&b, "- **URL Tested**: %s\n", r.TargetURL)
	fmt.Fprintf(&b, "- **Configuration**: %d concurrent users, %ds duration, %ds ramp-up\n\n", r.ConcurrentUsers, r.DurationSeconds, r.RampUpSeconds)

	b.WriteString("## Summary Metrics\n")
	fmt.Fprintf(&b, "- **Average Response Time**: %.2f ms\n", sum.AvgResponseTimeMs)
	fmt.Fprintf(&b, "- **95th Percentile Response Time**: %.2f ms\n", sum.P95ResponseTimeMs)
	fmt.Fprintf(&b, "- **Max Error Rate**: %.2f%%\n", sum.MaxErrorRatePct)
	fmt.Fprintf(&b, "- **Peak Throughput**: %d requests/min\n", sum.PeakThroughputPerMin)
	if verdicts := Verdicts(run, s.Snapshot.Series); len(verdicts) > 0 {
		b.WriteString("\n| Threshold | Limit | Actual | Result |\n|---|---|---|---|\n")
		for _, v := range verdicts {
			result := "FAIL"
			if v.Pass {
				result = "PASS"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", v.Name, v.Limit, v.Actual, result)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Analysis\n")
	b.WriteString(strings.TrimSpace(s.Analysis) + "\n\n")

	b.WriteString("## Identified Bottlenecks\n")
	b.WriteString(bulletList(s.Bottlenecks) + "\n\n")

	b.WriteString("## Recommendations\n")
	b.WriteString(bulletList(s.Recommendations) + "\n\n")

	b.WriteString("## Suggested Next Tests\n")
	b.WriteString(bulletList(s.NextSteps) + "\n")
	return b.String()
}

// Verdicts checks the run's thresholds. Response time is judged on p95 when it
// is reported and on the average otherwise; throughput on the mean per-second rate.
func Verdicts(run models.RunHeader, series models.TimeSeries) []Verdict {
	t := run.Request.Thresholds
	if t == nil {
		return nil
	}
	sum := run.Summary
	var out []Verdict
	if t.ResponseTimeMs != nil {
		actual, label := sum.AvgResponseTimeMs, "avg"
		if sum.P95ResponseTimeMs > 0 {
			actual, label = sum.P95ResponseTimeMs, "p95"
		}
		out = append(out, Verdict{
			Name:   "Response time",
			Limit:  fmt.Sprintf("<= %.2f ms", *t.ResponseTimeMs),
			Actual: fmt.Sprintf("%.2f ms (%s)", actual, label),
			Pass:   actual <= *t.ResponseTimeMs,
		})
	}
	if t.ErrorRatePct != nil {
		out = append(out, Verdict{
			Name:   "Error rate",
			Limit:  fmt.Sprintf("<= %.2f%%", *t.ErrorRatePct),
			Actual: fmt.Sprintf("%.2f%%", sum.MaxErrorRatePct),
			Pass:   sum.MaxErrorRatePct <= *t.ErrorRatePct,
		})
	}
	if t.ThroughputRPS != nil {
		rps := meanRPS(series, sum)
		out = append(out, Verdict{
			Name:   "Throughput",
			Limit:  fmt.Sprintf(">= %.2f req/s", *t.ThroughputRPS),
			Actual: fmt.Sprintf("%.2f req/s", rps),
			Pass:   rps >= *t.ThroughputRPS,
		})
	}
	return out
}

func meanRPS(series models.TimeSeries, sum models.SummaryMetrics) float64 {
	if len(series.Buckets) == 0 {
		return float64(sum.PeakThroughputPerMin) / 60
	}
	total := 0
	for _, b := range series.Buckets {
		total += b.Count
	}
	return float64(total) / float64(len(series.Buckets)*60)
}
