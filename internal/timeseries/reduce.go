package timeseries

// File: internal/timeseries/reduce.go
// Purpose: Per-minute reduction and run-level summary metrics.

import (
	"math"
	"sort"
	"time"

	"perf-api-go/internal/models"
)

// MinP95Buckets is the bucket count that must be exceeded before p95 is reported.
const MinP95Buckets = 20

// BucketStart truncates t to the enclosing UTC minute.
func BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// Reduce groups samples by minute and emits buckets in ascending start order.
func Reduce(samples []Sample) []models.Bucket {
	type acc struct {
		sum      float64
		count    int
		failures int
	}
	groups := make(map[time.Time]*acc)
	for _, s := range samples {
		key := BucketStart(s.At)
		a, ok := groups[key]
		if !ok {
			a = &acc{}
			groups[key] = a
		}
		a.sum += s.ElapsedMs
		a.count++
		if !s.Success {
			a.failures++
		}
	}

	starts := make([]time.Time, 0, len(groups))
	for k := range groups {
		starts = append(starts, k)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	buckets := make([]models.Bucket, 0, len(starts))
	for _, start := range starts {
		a := groups[start]
		if a.count == 0 {
			continue
		}
		buckets = append(buckets, models.Bucket{
			Start:             start,
			AvgResponseTimeMs: Round2(a.sum / float64(a.count)),
			ErrorRatePct:      Round2(float64(a.failures) / float64(a.count) * 100),
			Count:             a.count,
		})
	}
	return buckets
}

// Summarize derives run-level metrics from the buckets. No buckets yields all zeros.
func Summarize(buckets []models.Bucket) models.SummaryMetrics {
	if len(buckets) == 0 {
		return models.SummaryMetrics{}
	}
	avgs := make([]float64, 0, len(buckets))
	var sum, maxErr float64
	peak := 0
	for _, b := range buckets {
		avgs = append(avgs, b.AvgResponseTimeMs)
		sum += b.AvgResponseTimeMs
		maxErr = math.Max(maxErr, b.ErrorRatePct)
		if b.Count > peak {
			peak = b.Count
		}
	}
	return models.SummaryMetrics{
		AvgResponseTimeMs:    Round2(sum / float64(len(buckets))),
		P95ResponseTimeMs:    Round2(Percentile95(avgs)),
		MaxErrorRatePct:      Round2(maxErr),
		PeakThroughputPerMin: peak,
	}
}

// Percentile95 is the nearest-rank lower variant sorted[int(n*0.95)-1], and 0
// unless more than MinP95Buckets values are given. values is not modified.
func Percentile95(values []float64) float64 {
	n := len(values)
	if n <= MinP95Buckets {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[int(float64(n)*0.95)-1]
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
