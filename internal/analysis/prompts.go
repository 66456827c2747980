package analysis

// File: internal/analysis/prompts.go
// Purpose: System and user prompts for the four LLM-backed nodes.

import (
	"fmt"
	"strings"
	"time"

	"perf-api-go/internal/models"
)

const maxPromptBuckets = 60

const (
	systemAnalyze         = "You are a performance testing expert. Analyze load test results and identify performance issues."
	systemBottlenecks     = "You are a performance optimization expert. Identify specific bottlenecks."
	systemRecommendations = "You are a performance optimization expert. Provide actionable recommendations."
	systemNextTests       = "You are a performance testing expert. Suggest logical next tests to run."
)

func analyzePrompt(snap Snapshot) string {
	var b strings.Builder
	b.WriteString("Analyze the following load test results.\n\n")
	writeTestInfo(&b, snap.Run)
	b.WriteString("\nSummary Metrics:\n")
	writeSummary(&b, snap.Run.Summary)
	if t := snap.Run.Request.Thresholds; t != nil {
		b.WriteString("\nThresholds:\n")
		writeThresholds(&b, t)
	}
	if l := snap.Series.Latency; l != nil {
		fmt.Fprintf(&b, "\nSample latency distribution (%d samples, %d failed): mean %.2f ms, p50 %.2f ms, p90 %.2f ms, p99 %.2f ms, max %.2f ms\n",
			l.Samples, l.Failures, l.MeanMs, l.P50Ms, l.P90Ms, l.P99Ms, l.MaxMs)
	}
	if len(snap.Series.Buckets) > 0 {
		b.WriteString("\nPer-minute time series (start UTC, avg response ms, error %, samples):\n")
		for i, bk := range snap.Series.Buckets {
			if i == maxPromptBuckets {
				fmt.Fprintf(&b, "... %d more minutes omitted\n", len(snap.Series.Buckets)-maxPromptBuckets)
				break
			}
			fmt.Fprintf(&b, "- %s, %.2f, %.2f, %d\n", bk.Start.UTC().Format(time.RFC3339), bk.AvgResponseTimeMs, bk.ErrorRatePct, bk.Count)
		}
	} else {
		b.WriteString("\nThe load tool produced no usable samples for this run.\n")
	}
	if len(snap.PriorRuns) > 0 {
		fmt.Fprintf(&b, "\nPrevious %s runs, newest first:\n", snap.Run.Request.TestType)
		for _, prior := range snap.PriorRuns {
			s := prior.Summary
			fmt.Fprintf(&b, "- %s (%s, %d users): avg %.2f ms, p95 %.2f ms, max error %.2f%%, peak %d req/min\n",
				prior.Request.TestName, prior.CreatedAt.UTC().Format(time.RFC3339), prior.Request.ConcurrentUsers,
				s.AvgResponseTimeMs, s.P95ResponseTimeMs, s.MaxErrorRatePct, s.PeakThroughputPerMin)
		}
	}
	b.WriteString("\nProvide a comprehensive analysis of these results. Identify patterns, anomalies and performance issues, ")
	b.WriteString("compare against the previous runs when present, and focus on actionable insights.\n")
	return b.String()
}

func bottlenecksPrompt(snap Snapshot, analysis string) string {
	var b strings.Builder
	b.WriteString("Based on this performance analysis:\n")
	b.WriteString(analysis)
	b.WriteString("\n\nAnd these test results:\n")
	writeTestInfo(&b, snap.Run)
	writeSummary(&b, snap.Run.Summary)
	b.WriteString("\nIdentify 3-5 specific performance bottlenecks as a bulleted list, one line per bottleneck starting with \"- \". ")
	b.WriteString("For each one state the affected component, the likely root cause and the impact on performance.\n")
	return b.String()
}

func recommendationsPrompt(analysis string, bottlenecks []string) string {
	var b strings.Builder
	b.WriteString("Based on this performance analysis:\n")
	b.WriteString(analysis)
	b.WriteString("\n\nAnd these identified bottlenecks:\n")
	b.WriteString(bulletList(bottlenecks))
	b.WriteString("\n\nProvide specific, actionable recommendations to improve performance as a bulleted list, one line per ")
	b.WriteString("recommendation starting with \"- \". Mention configuration changes where appropriate.\n")
	return b.String()
}

func nextTestsPrompt(analysis string, bottlenecks, recommendations []string) string {
	var b strings.Builder
	b.WriteString("Based on the performance analysis, bottlenecks and recommendations:\n\nAnalysis: ")
	b.WriteString(analysis)
	b.WriteString("\n\nBottlenecks:\n")
	b.WriteString(bulletList(bottlenecks))
	b.WriteString("\n\nRecommendations:\n")
	b.WriteString(bulletList(recommendations))
	b.WriteString("\n\nSuggest 3-5 specific next performance tests as a bulleted list, one line per test starting with \"- \". ")
	b.WriteString("Each should validate a recommendation or investigate a bottleneck further; give the test type ")
	b.WriteString("(load, stress, spike or soak), its configuration and what to look for in the results.\n")
	return b.String()
}

func writeTestInfo(b *strings.Builder, run models.RunHeader) {
	r := run.Request
	fmt.Fprintf(b, "- Test Name: %s\n", r.TestName)
	fmt.Fprintf(b, "- Test Type: %s\n", r.TestType)
	fmt.Fprintf(b, "- URL: %s\n", r.TargetURL)
	fmt.Fprintf(b, "- Configuration: %d concurrent users, %ds duration, %ds ramp-up\n", r.ConcurrentUsers, r.DurationSeconds, r.RampUpSeconds)
}

func writeSummary(b *strings.Builder, s models.SummaryMetrics) {
	fmt.Fprintf(b, "- Average Response Time: %.2f ms\n", s.AvgResponseTimeMs)
	fmt.Fprintf(b, "- 95th Percentile Response Time: %.2f ms\n", s.P95ResponseTimeMs)
	fmt.Fprintf(b, "- Max Error Rate: %.2f%%\n", s.MaxErrorRatePct)
	fmt.Fprintf(b, "- Peak Throughput: %d requests/min\n", s.PeakThroughputPerMin)
}

func writeThresholds(b *strings.Builder, t *models.Thresholds) {
	if t.ResponseTimeMs != nil {
		fmt.Fprintf(b, "- Response time limit: %.2f ms\n", *t.ResponseTimeMs)
	}
	if t.ErrorRatePct != nil {
		fmt.Fprintf(b, "- Error rate limit: %.2f%%\n", *t.ErrorRatePct)
	}
	if t.ThroughputRPS != nil {
		fmt.Fprintf(b, "- Throughput target: %.2f req/s\n", *t.ThroughputRPS)
	}
}

func bulletList(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	return strings.Join(lines, "\n")
}
