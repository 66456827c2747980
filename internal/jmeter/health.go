package jmeter

// File: internal/jmeter/health.go
// Purpose: Tool discovery, version, RMI port and java runtime checks for /health.

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"perf-api-go/internal/models"
)

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

const probeTimeout = 30 * time.Second

// Probe reports whether the launcher is installed and what it runs on.
// It never fails; problems are described in the returned status.
func (d *Driver) Probe(ctx context.Context) models.ToolStatus {
	status := models.ToolStatus{RMIPort: d.cfg.RMIPort}

	exe, err := d.Discover()
	if err != nil {
		status.Error = err.Error()
	} else {
		status.Found = true
		status.Path = exe
		out, err := runProbe(ctx, exe, "--version")
		if err != nil {
			status.Error = fmt.Sprintf("version check failed: %v", err)
		}
		status.Version = ParseVersion(out)
	}

	status.RMIListen = portListening(ctx, "localhost", d.cfg.RMIPort)

	if out, err := runProbe(ctx, "java", "-version"); err == nil {
		status.JavaVersion = firstLine(out)
	}
	return status
}

func runProbe(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	// java -version writes to stderr.
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	return out.String(), err
}

// ParseVersion extracts the version number from launcher output, or the first non-empty line.
func ParseVersion(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(strings.ToLower(line), "copyright") {
			if m := versionPattern.FindString(line); m != "" {
				return m
			}
		}
	}
	return firstLine(out)
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}

func portListening(ctx context.Context, host string, port int) bool {
	dialer := net.Dialer{Timeout: time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
