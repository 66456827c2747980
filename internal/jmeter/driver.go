package jmeter

// File: internal/jmeter/driver.go
// Purpose: Locate the jmeter launcher and run one non-GUI test under a deadline.

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"perf-api-go/internal/apperr"
)

// Output file names inside results/<run_id>/.
const (
	ResultsFile = "results.csv"
	ToolLogFile = "tool.log"
	ReportDir   = "report"

	SampleLogFile  = "sample_log.csv"
	SummaryLogFile = "summary_report.csv"
)

// JMeter properties naming the plan's ResultCollector files.
const (
	SampleLogProp  = "sample_log"
	SummaryLogProp = "summary_log"
)

const (
	defaultTimeout = 300 * time.Second
	defaultGrace   = 5 * time.Second
	stderrLimit    = 4 << 10
)

// SiblingInstalls are checked relative to the working directory when neither
// JMETER_HOME nor PATH yields a launcher.
var SiblingInstalls = []string{
	filepath.Join("..", "apache-jmeter-5.6.3"),
	filepath.Join("..", "..", "apache-jmeter-5.6.3"),
	filepath.Join("..", "apache-jmeter"),
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	Home       string
	ResultsDir string
	Timeout    time.Duration
	Grace      time.Duration
	RMIPort    int
}

// Driver runs jmeter as a subprocess. It holds no per-run state.
type Driver struct {
	cfg      DriverConfig
	log      *zap.Logger
	lookPath func(string) (string, error)
	goos     string
}

// NewDriver builds a Driver, filling zero durations with defaults.
func NewDriver(cfg DriverConfig, log *zap.Logger) *Driver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = "results"
	}
	if cfg.RMIPort == 0 {
		cfg.RMIPort = 50000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{cfg: cfg, log: log, lookPath: exec.LookPath, goos: runtime.GOOS}
}

// ResultsDir returns the root under which per-run directories are created.
func (d *Driver) ResultsDir() string {
	return d.cfg.ResultsDir
}

func (d *Driver) launcherName() string {
	if d.goos == "windows" {
		return "jmeter.bat"
	}
	return "jmeter"
}

// Discover returns the launcher path: JMETER_HOME/bin first, then PATH, then sibling installs.
func (d *Driver) Discover() (string, error) {
	name := d.launcherName()
	if d.cfg.Home != "" {
		if p := filepath.Join(d.cfg.Home, "bin", name); isExecutable(p, d.goos) {
			return p, nil
		}
	}
	if p, err := d.lookPath(name); err == nil {
		return p, nil
	}
	for _, dir := range SiblingInstalls {
		if p := filepath.Join(dir, "bin", name); isExecutable(p, d.goos) {
			abs, err := filepath.Abs(p)
			if err != nil {
				return p, nil
			}
			return abs, nil
		}
	}
	return "", apperr.New(apperr.KindToolNotFound, "jmeter.Discover",
		"%s not found; install Apache JMeter and set JMETER_HOME or add its bin directory to PATH", name)
}

func isExecutable(path, goos string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if goos == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

// Run executes templatePath and returns the sample CSV path and HTML report directory.
// The per-run directory is wiped first so a repeated run id overwrites prior output.
func (d *Driver) Run(ctx context.Context, templatePath, runID string) (string, string, error) {
	const op = "jmeter.Run"
	exe, err := d.Discover()
	if err != nil {
		return "", "", err
	}

	dir := filepath.Join(d.cfg.ResultsDir, runID)
	if err := os.RemoveAll(dir); err != nil {
		return "", "", apperr.Wrap(apperr.KindIO, op, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", apperr.Wrap(apperr.KindIO, op, err)
	}
	csvPath := filepath.Join(dir, ResultsFile)
	reportDir := filepath.Join(dir, ReportDir)

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, exe,
		"-n",
		"-t", templatePath,
		"-l", csvPath,
		"-j", filepath.Join(dir, ToolLogFile),
		"-J"+SampleLogProp+"="+filepath.Join(dir, SampleLogFile),
		"-J"+SummaryLogProp+"="+filepath.Join(dir, SummaryLogFile),
		"-e",
		"-o", reportDir,
	)
	cmd.Cancel = func() error {
		if d.goos == "windows" {
			return cmd.Process.Kill()
		}
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = d.cfg.Grace

	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	started := time.Now()
	d.log.Info("jmeter started", zap.String("run_id", runID), zap.String("exe", exe), zap.String("template", templatePath))
	runErr := cmd.Run()
	elapsed := time.Since(started)

	switch {
	case ctx.Err() != nil:
		return "", "", &apperr.Error{Kind: apperr.KindCanceled, Op: op, Err: ctx.Err()}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		d.log.Warn("jmeter timed out", zap.String("run_id", runID), zap.Duration("timeout", d.cfg.Timeout))
		return "", "", apperr.New(apperr.KindToolTimeout, op, "jmeter exceeded %s", d.cfg.Timeout)
	case runErr != nil:
		d.log.Error("jmeter failed", zap.String("run_id", runID), zap.Error(runErr), zap.Duration("elapsed", elapsed))
		return "", "", &apperr.Error{Kind: apperr.KindToolFailed, Op: op, Err: runErr, Detail: stderr.String()}
	}
	d.log.Debug("jmeter output", zap.String("run_id", runID), zap.ByteString("stdout", truncate(stdout.Bytes(), stderrLimit)))

	if _, err := os.Stat(csvPath); err != nil {
		return "", "", &apperr.Error{Kind: apperr.KindToolFailed, Op: op, Err: errors.New("exit 0 but no results.csv"), Detail: stderr.String()}
	}
	d.log.Info("jmeter finished", zap.String("run_id", runID), zap.Duration("elapsed", elapsed))
	return csvPath, reportDir, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.limit:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

func truncate(b []byte, limit int) []byte {
	if len(b) <= limit {
		return b
	}
	return b[:limit]
}
