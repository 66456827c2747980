package jmeter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"perf-api-go/internal/apperr"
)

// argParser extracts the -l target so stubs can write the sample CSV where the driver expects it.
const argParser = `#!/bin/sh
all="$*"
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -l) out="$2"; shift ;;
  esac
  shift
done
`

func installStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub launchers are shell scripts")
	}
	home := t.TempDir()
	bin := filepath.Join(home, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "jmeter"), []byte(argParser+body), 0o755))
	return home
}

func newTestDriver(t *testing.T, home string, timeout time.Duration) *Driver {
	d := NewDriver(DriverConfig{
		Home:       home,
		ResultsDir: filepath.Join(t.TempDir(), "results"),
		Timeout:    timeout,
		Grace:      500 * time.Millisecond,
	}, zap.NewNop())
	d.lookPath = func(string) (string, error) { return "", errors.New("not on PATH") }
	return d
}

func TestRunWritesResults(t *testing.T) {
	home := installStub(t, `printf 'timeStamp,elapsed,success\n1714557600000,100,true\n' > "$out"
`)
	d := newTestDriver(t, home, 10*time.Second)

	csvPath, reportDir, err := d.Run(context.Background(), "plan.jmx", "run-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.ResultsDir(), "run-1", ResultsFile), csvPath)
	assert.Equal(t, filepath.Join(d.ResultsDir(), "run-1", ReportDir), reportDir)
	assert.FileExists(t, csvPath)
}

func TestRunPointsCollectorsAtRunDir(t *testing.T) {
	home := installStub(t, `echo "$all" > "$(dirname "$out")/args.txt"
printf 'timeStamp,elapsed,success\n' > "$out"
`)
	d := newTestDriver(t, home, 10*time.Second)

	for _, runID := range []string{"run-a", "run-b"} {
		_, _, err := d.Run(context.Background(), "plan.jmx", runID)
		require.NoError(t, err)
		dir := filepath.Join(d.ResultsDir(), runID)
		args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
		require.NoError(t, err)
		assert.Contains(t, string(args), "-J"+SampleLogProp+"="+filepath.Join(dir, SampleLogFile))
		assert.Contains(t, string(args), "-J"+SummaryLogProp+"="+filepath.Join(dir, SummaryLogFile))
	}
}

func TestRunOverwritesPreviousOutput(t *testing.T) {
	home := installStub(t, `printf 'timeStamp,elapsed,success\n' > "$out"
`)
	d := newTestDriver(t, home, 10*time.Second)

	stale := filepath.Join(d.ResultsDir(), "run-1", "stale.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	_, _, err := d.Run(context.Background(), "plan.jmx", "run-1")
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}

func TestRunNonZeroExit(t *testing.T) {
	home := installStub(t, `echo "boom: cannot read plan" >&2
exit 3
`)
	d := newTestDriver(t, home, 10*time.Second)

	_, _, err := d.Run(context.Background(), "plan.jmx", "run-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindToolFailed, apperr.KindOf(err))

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Detail, "boom: cannot read plan")
}

func TestRunExitZeroWithoutCSV(t *testing.T) {
	home := installStub(t, "exit 0\n")
	d := newTestDriver(t, home, 10*time.Second)

	_, _, err := d.Run(context.Background(), "plan.jmx", "run-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindToolFailed, apperr.KindOf(err))
}

func TestRunTimeout(t *testing.T) {
	home := installStub(t, "exec sleep 30\n")
	d := newTestDriver(t, home, 300*time.Millisecond)

	start := time.Now()
	_, _, err := d.Run(context.Background(), "plan.jmx", "run-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindToolTimeout, apperr.KindOf(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunCallerCancel(t *testing.T) {
	home := installStub(t, "exec sleep 30\n")
	d := newTestDriver(t, home, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	_, _, err := d.Run(ctx, "plan.jmx", "run-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindCanceled, apperr.KindOf(err))
}

func TestDiscoverNotFound(t *testing.T) {
	d := newTestDriver(t, filepath.Join(t.TempDir(), "nowhere"), time.Second)
	_, err := d.Discover()
	require.Error(t, err)
	assert.Equal(t, apperr.KindToolNotFound, apperr.KindOf(err))
}

func TestDiscoverPrefersHomeOverPath(t *testing.T) {
	home := installStub(t, "exit 0\n")
	d := newTestDriver(t, home, time.Second)
	d.lookPath = func(string) (string, error) { return "/usr/bin/jmeter", nil }

	got, err := d.Discover()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "bin", "jmeter"), got)
}

func TestDiscoverFallsBackToPath(t *testing.T) {
	d := newTestDriver(t, "", time.Second)
	d.lookPath = func(name string) (string, error) { return "/opt/bin/" + name, nil }

	got, err := d.Discover()
	require.NoError(t, err)
	assert.Equal(t, "/opt/bin/jmeter", got)
}

func TestDiscoverSkipsNonExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "bin", "jmeter"), []byte("#!/bin/sh\n"), 0o644))

	_, err := newTestDriver(t, home, time.Second).Discover()
	assert.Equal(t, apperr.KindToolNotFound, apperr.KindOf(err))
}

func TestTailBufferKeepsTail(t *testing.T) {
	tb := &tailBuffer{limit: 4}
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defg"))
	assert.Equal(t, "defg", tb.String())
}

func TestProbe(t *testing.T) {
	home := installStub(t, `echo "    _    ____   _    ____ _   _ _____"
echo "5.6.3"
echo "Copyright (c) 1999-2024 The Apache Software Foundation"
`)
	d := newTestDriver(t, home, time.Second)
	d.cfg.RMIPort = 1

	status := d.Probe(context.Background())
	assert.True(t, status.Found)
	assert.Equal(t, "5.6.3", status.Version)
	assert.False(t, status.RMIListen)
	assert.Equal(t, 1, status.RMIPort)
}

func TestProbeMissingTool(t *testing.T) {
	d := newTestDriver(t, "", time.Second)
	d.cfg.RMIPort = 1
	status := d.Probe(context.Background())
	assert.False(t, status.Found)
	assert.NotEmpty(t, status.Error)
}

func TestParseVersion(t *testing.T) {
	assert.Equal(t, "5.6.3", ParseVersion("banner\nCopyright 1999-2024\n5.6.3\n"))
	assert.Equal(t, "no digits here", ParseVersion("\n no digits here \n"))
}
