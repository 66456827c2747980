package timeseries

// File: internal/timeseries/latency.go
// Purpose: Sample-level latency distribution for the analysis prompt.

import (
	"math"

	"github.com/HdrHistogram/hdrhistogram-go"

	"perf-api-go/internal/models"
)

// Recorded in microseconds, up to one hour, three significant digits.
const (
	minLatencyUs = 1
	maxLatencyUs = int64(3600 * 1000 * 1000)
	sigFigs      = 3
)

// Latency summarizes raw sample latencies. It returns nil when there are no samples.
func Latency(samples []Sample) *models.LatencyStats {
	if len(samples) == 0 {
		return nil
	}
	h := hdrhistogram.New(minLatencyUs, maxLatencyUs, sigFigs)
	var failures int64
	for _, s := range samples {
		us := int64(math.Round(s.ElapsedMs * 1000))
		if us < minLatencyUs {
			us = minLatencyUs
		}
		if us > maxLatencyUs {
			us = maxLatencyUs
		}
		_ = h.RecordValue(us)
		if !s.Success {
			failures++
		}
	}
	return &models.LatencyStats{
		Samples:  h.TotalCount(),
		Failures: failures,
		MeanMs:   Round2(h.Mean() / 1000),
		P50Ms:    Round2(float64(h.ValueAtQuantile(50)) / 1000),
		P90Ms:    Round2(float64(h.ValueAtQuantile(90)) / 1000),
		P99Ms:    Round2(float64(h.ValueAtQuantile(99)) / 1000),
		MaxMs:    Round2(float64(h.Max()) / 1000),
	}
}
