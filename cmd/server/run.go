package main

// File: cmd/server/run.go
// Purpose: run subcommand, one test executed in-process without the HTTP layer.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"perf-api-go/internal/models"
)

type runFlags struct {
	name      string
	testType  string
	url       string
	users     int
	duration  int
	rampUp    int
	maxRespMs float64
	maxErrPct float64
	minRPS    float64
	wait      bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one load test and print its summary",
		Example: `  # 10 users for one minute
  perf-api run --name smoke --type load --url https://example.test/ --users 10 --duration 60

  # wait for the AI report and print it
  perf-api run --name soak --type soak --url https://example.test/ --users 50 --duration 1800 --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return executeRun(ctx, g, f.request(cmd), f.wait, cmd.OutOrStdout())
		},
	}
	f.bind(cmd)
	return cmd
}

func (f *runFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "test name")
	fl.StringVar(&f.testType, "type", "load", "test type (load, stress, spike, soak)")
	fl.StringVar(&f.url, "url", "", "target URL")
	fl.IntVarP(&f.users, "users", "u", 10, "concurrent users")
	fl.IntVarP(&f.duration, "duration", "d", 60, "duration in seconds")
	fl.IntVar(&f.rampUp, "ramp-up", 0, "ramp-up in seconds")
	fl.Float64Var(&f.maxRespMs, "max-response-ms", 0, "response time threshold in ms")
	fl.Float64Var(&f.maxErrPct, "max-error-pct", 0, "error rate threshold in percent")
	fl.Float64Var(&f.minRPS, "min-rps", 0, "throughput threshold in requests per second")
	fl.BoolVar(&f.wait, "wait", false, "wait for the analysis and print the report")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("url")
}

// request converts flags to a RunRequest. Thresholds are attached only for flags
// the user actually set.
func (f *runFlags) request(cmd *cobra.Command) models.RunRequest {
	req := models.RunRequest{
		TestName:        f.name,
		TestType:        f.testType,
		TargetURL:       f.url,
		ConcurrentUsers: f.users,
		DurationSeconds: f.duration,
		RampUpSeconds:   f.rampUp,
	}
	var th models.Thresholds
	set := false
	if cmd.Flags().Changed("max-response-ms") {
		v := f.maxRespMs
		th.ResponseTimeMs, set = &v, true
	}
	if cmd.Flags().Changed("max-error-pct") {
		v := f.maxErrPct
		th.ErrorRatePct, set = &v, true
	}
	if cmd.Flags().Changed("min-rps") {
		v := f.minRPS
		th.ThroughputRPS, set = &v, true
	}
	if set {
		req.Thresholds = &th
	}
	return req
}

func executeRun(ctx context.Context, g *globalFlags, req models.RunRequest, wait bool, out io.Writer) error {
	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.close()

	resp, handle, err := a.runs.CreateRun(ctx, req)
	if err != nil {
		return err
	}
	if err := printJSON(out, resp); err != nil {
		return err
	}
	if !wait || handle == nil {
		return nil
	}

	select {
	case <-handle.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := handle.Err(); err != nil {
		fmt.Fprintf(out, "analysis ended in state %s: %v\n", handle.State(), err)
	}
	view, err := a.runs.GetAnalysis(ctx, resp.RunID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, view.FullReport)
	return err
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
