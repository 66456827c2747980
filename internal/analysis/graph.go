package analysis

// File: internal/analysis/graph.go
// Purpose: The linear analysis graph: analyze, bottlenecks, recommendations, next tests, report.

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Asker is the slice of the LLM executor the graph needs.
type Asker interface {
	Available() bool
	Ask(ctx context.Context, system, user, start string) (string, string, error)
}

type node struct {
	name string
	run  func(ctx context.Context, s State, start string) Delta
	// fail turns an error into the delta recorded when run fails or panics.
	fail func(err error) Delta
}

// Graph executes the five nodes in order. It always reaches the report node.
type Graph struct {
	asker Asker
	log   *zap.Logger
	nodes []node
}

// NewGraph wires the nodes against asker.
func NewGraph(asker Asker, log *zap.Logger) *Graph {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Graph{asker: asker, log: log}
	g.nodes = []node{
		{name: NodeAnalyze, run: g.analyze, fail: func(err error) Delta {
			msg := "AI analysis failed: " + err.Error()
			return Delta{Analysis: &msg, Err: err}
		}},
		{name: NodeBottlenecks, run: g.bottlenecks, fail: func(err error) Delta {
			return Delta{Bottlenecks: []string{"AI bottleneck identification failed: " + err.Error()}, Err: err}
		}},
		{name: NodeRecommendations, run: g.recommendations, fail: func(err error) Delta {
			return Delta{Recommendations: []string{"AI recommendation generation failed: " + err.Error()}, Err: err}
		}},
		{name: NodeNextTests, run: g.nextTests, fail: func(err error) Delta {
			return Delta{NextSteps: []string{"AI next test suggestion failed: " + err.Error()}, Err: err}
		}},
		{name: NodeAssemble, run: assemble, fail: func(err error) Delta {
			msg := ReportTitle + "\n\nReport assembly failed: " + err.Error() + "\n"
			return Delta{Report: &msg, Err: err}
		}},
	}
	return g
}

// Run drives snap through every node and returns the final state. Each LLM node
// starts from the provider that answered the previous one.
func (g *Graph) Run(ctx context.Context, snap Snapshot) State {
	s := State{Snapshot: snap, ProviderUsed: map[string]string{}, Errors: map[string]string{}}
	degraded := g.asker == nil || !g.asker.Available()
	start := ""
	for _, n := range g.nodes {
		var d Delta
		if degraded && n.name != NodeAssemble {
			d = disabled(n.name)
		} else {
			d = g.step(ctx, n, s, start)
		}
		if d.Err != nil {
			g.log.Warn("analysis node failed",
				zap.String("run_id", snap.Run.ID), zap.String("node", n.name), zap.Error(d.Err))
		}
		if d.Provider != "" {
			start = d.Provider
		}
		s = s.apply(n.name, d)
	}
	return s
}

func (g *Graph) step(ctx context.Context, n node, s State, start string) (d Delta) {
	defer func() {
		if r := recover(); r != nil {
			d = n.fail(fmt.Errorf("panic in %s: %v", n.name, r))
		}
	}()
	return n.run(ctx, s, start)
}

func disabled(name string) Delta {
	msg := DisabledMessage
	switch name {
	case NodeAnalyze:
		return Delta{Analysis: &msg}
	case NodeBottlenecks:
		return Delta{Bottlenecks: []string{msg}}
	case NodeRecommendations:
		return Delta{Recommendations: []string{msg}}
	case NodeNextTests:
		return Delta{NextSteps: []string{msg}}
	}
	return Delta{}
}

func (g *Graph) analyze(ctx context.Context, s State, start string) Delta {
	text, used, err := g.asker.Ask(ctx, systemAnalyze, analyzePrompt(s.Snapshot), start)
	if err != nil {
		return g.nodes[0].fail(err)
	}
	return Delta{Analysis: &text, Provider: used}
}

func (g *Graph) bottlenecks(ctx context.Context, s State, start string) Delta {
	text, used, err := g.asker.Ask(ctx, systemBottlenecks, bottlenecksPrompt(s.Snapshot, s.Analysis), start)
	if err != nil {
		return g.nodes[1].fail(err)
	}
	return Delta{Bottlenecks: ExtractBullets(text), Provider: used}
}

func (g *Graph) recommendations(ctx context.Context, s State, start string) Delta {
	text, used, err := g.asker.Ask(ctx, systemRecommendations, recommendationsPrompt(s.Analysis, s.Bottlenecks), start)
	if err != nil {
		return g.nodes[2].fail(err)
	}
	return Delta{Recommendations: ExtractBullets(text), Provider: used}
}

func (g *Graph) nextTests(ctx context.Context, s State, start string) Delta {
	text, used, err := g.asker.Ask(ctx, systemNextTests, nextTestsPrompt(s.Analysis, s.Bottlenecks, s.Recommendations), start)
	if err != nil {
		return g.nodes[3].fail(err)
	}
	return Delta{NextSteps: ExtractBullets(text), Provider: used}
}

func assemble(_ context.Context, s State, _ string) Delta {
	report := AssembleReport(s)
	return Delta{Report: &report}
}
