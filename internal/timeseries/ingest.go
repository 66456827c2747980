// Package timeseries turns jmeter sample logs into minute buckets and run summaries.
package timeseries

// File: internal/timeseries/ingest.go
// Purpose: Lenient CSV ingestion of jmeter sample rows into minute buckets.

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"perf-api-go/internal/models"
)

// Column names read from the jmeter sample log header.
const (
	ColTimestamp = "timeStamp"
	ColElapsed   = "elapsed"
	ColSuccess   = "success"
)

// Sample is one parsed CSV row.
type Sample struct {
	At        time.Time
	ElapsedMs float64
	Success   bool
}

// Ingest reads the sample log at path. An absent or unreadable file yields an
// empty series; malformed rows are skipped with a warning.
func Ingest(path string, log *zap.Logger) models.TimeSeries {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.Open(path)
	if err != nil {
		log.Warn("results csv unavailable", zap.String("path", path), zap.Error(err))
		return models.TimeSeries{}
	}
	defer f.Close()
	return IngestReader(f, log)
}

// IngestReader is Ingest over an open reader.
func IngestReader(r io.Reader, log *zap.Logger) models.TimeSeries {
	if log == nil {
		log = zap.NewNop()
	}
	samples := ReadSamples(r, log)
	return models.TimeSeries{
		Buckets: Reduce(samples),
		Latency: Latency(samples),
	}
}

// ReadSamples parses every usable row of a jmeter CSV.
func ReadSamples(r io.Reader, log *zap.Logger) []Sample {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Warn("results csv header unreadable", zap.Error(err))
		}
		return nil
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	tsCol, okTS := idx[ColTimestamp]
	elCol, okEl := idx[ColElapsed]
	okCol, okOK := idx[ColSuccess]
	if !okTS || !okEl || !okOK {
		log.Warn("results csv missing required columns", zap.Strings("header", header))
		return nil
	}
	need := max(tsCol, elCol, okCol)

	var samples []Sample
	skipped := 0
	row := 0
	for {
		record, err := reader.Read()
		row++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				log.Warn("skipping malformed csv row", zap.Int("row", row), zap.Error(err))
				continue
			}
			log.Warn("results csv read aborted", zap.Int("row", row), zap.Error(err))
			break
		}
		if len(record) <= need {
			skipped++
			log.Warn("skipping short csv row", zap.Int("row", row), zap.Int("fields", len(record)))
			continue
		}
		ms, err := strconv.ParseInt(strings.TrimSpace(record[tsCol]), 10, 64)
		if err != nil {
			skipped++
			log.Warn("skipping row with bad timeStamp", zap.Int("row", row), zap.Error(err))
			continue
		}
		elapsed, err := strconv.ParseFloat(strings.TrimSpace(record[elCol]), 64)
		if err != nil || elapsed < 0 || math.IsNaN(elapsed) || math.IsInf(elapsed, 0) {
			skipped++
			log.Warn("skipping row with bad elapsed", zap.Int("row", row), zap.String("value", record[elCol]))
			continue
		}
		samples = append(samples, Sample{
			At:        time.UnixMilli(ms).UTC(),
			ElapsedMs: elapsed,
			Success:   strings.EqualFold(strings.TrimSpace(record[okCol]), "true"),
		})
	}
	if skipped > 0 {
		log.Info("results csv ingested with skipped rows", zap.Int("samples", len(samples)), zap.Int("skipped", skipped))
	}
	return samples
}
