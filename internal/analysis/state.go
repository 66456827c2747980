// Package analysis runs the five-stage LLM analysis of a finished run.
package analysis

// File: internal/analysis/state.go
// Purpose: Snapshot input, immutable state and the deltas nodes return.

import (
	"strings"

	"perf-api-go/internal/models"
)

// DisabledMessage replaces every LLM-derived field when no provider is configured.
const DisabledMessage = "AI analysis is not available. Configure an LLM provider API key (OPENAI_API_KEY or GOOGLE_API_KEY) to enable AI features."

// MaxPriorRuns bounds the comparison context taken from earlier runs.
const MaxPriorRuns = 5

// Node names, in execution order.
const (
	NodeAnalyze         = "analyze"
	NodeBottlenecks     = "identify_bottlenecks"
	NodeRecommendations = "generate_recommendations"
	NodeNextTests       = "suggest_next_tests"
	NodeAssemble        = "assemble_report"
)

// Snapshot is everything the analysis reads. It is never modified.
type Snapshot struct {
	Run       models.RunHeader
	Series    models.TimeSeries
	PriorRuns []models.RunHeader
}

// State is the value flowing through the graph. Nodes receive a copy and
// return a Delta; only Graph.Run applies deltas.
type State struct {
	Snapshot        Snapshot
	Analysis        string
	Bottlenecks     []string
	Recommendations []string
	NextSteps       []string
	Report          string
	// ProviderUsed maps node name to the provider that answered it.
	ProviderUsed map[string]string
	// Errors maps node name to the failure recorded in its output.
	Errors map[string]string
}

// Delta is a node's contribution. Nil fields leave the state unchanged.
type Delta struct {
	Analysis        *string
	Bottlenecks     []string
	Recommendations []string
	NextSteps       []string
	Report          *string
	Provider        string
	Err             error
}

func (s State) apply(node string, d Delta) State {
	next := s
	next.ProviderUsed = copyMap(s.ProviderUsed)
	next.Errors = copyMap(s.Errors)
	if d.Analysis != nil {
		next.Analysis = *d.Analysis
	}
	if d.Bottlenecks != nil {
		next.Bottlenecks = append([]string(nil), d.Bottlenecks...)
	}
	if d.Recommendations != nil {
		next.Recommendations = append([]string(nil), d.Recommendations...)
	}
	if d.NextSteps != nil {
		next.NextSteps = append([]string(nil), d.NextSteps...)
	}
	if d.Report != nil {
		next.Report = *d.Report
	}
	if d.Provider != "" {
		next.ProviderUsed[node] = d.Provider
	}
	if d.Err != nil {
		next.Errors[node] = d.Err.Error()
	}
	return next
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CategorizedRecommendations flattens the three lists into store rows.
func (s State) CategorizedRecommendations(runID string) []models.Recommendation {
	var recs []models.Recommendation
	add := func(category string, items []string) {
		for _, item := range items {
			recs = append(recs, models.Recommendation{RunID: runID, Category: category, Description: item})
		}
	}
	add(models.CategoryBottleneck, s.Bottlenecks)
	add(models.CategoryRecommendation, s.Recommendations)
	add(models.CategoryNextTest, s.NextSteps)
	return recs
}

// ExtractBullets returns the "- " lines of text without their marker. When
// there are none, the whole trimmed text is the single item.
func ExtractBullets(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") {
			if item := strings.TrimSpace(trimmed[2:]); item != "" {
				items = append(items, item)
			}
		}
	}
	if len(items) > 0 {
		return items
	}
	if whole := strings.TrimSpace(text); whole != "" {
		return []string{whole}
	}
	return []string{}
}
