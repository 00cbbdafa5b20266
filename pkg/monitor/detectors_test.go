package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotOf(values map[string]any) *Snapshot {
	return &Snapshot{Timestamp: time.Now(), Values: values}
}

func TestThresholdDetector(t *testing.T) {
	d := NewThresholdDetector(nil, testLogger()) // defaults

	tests := []struct {
		name      string
		values    map[string]any
		wantTypes []string
	}{
		{
			name:      "all healthy",
			values:    map[string]any{"cpu_usage": 50.0, "memory_usage": 60.0, "disk_usage": 70.0},
			wantTypes: nil,
		},
		{
			name:      "cpu warning",
			values:    map[string]any{"cpu_usage": 85.0},
			wantTypes: []string{"cpu_usage_warning"},
		},
		{
			name:      "cpu critical wins over warning",
			values:    map[string]any{"cpu_usage": 97.0},
			wantTypes: []string{"cpu_usage_critical"},
		},
		{
			name:      "boundary is inclusive",
			values:    map[string]any{"memory_usage": 95.0},
			wantTypes: []string{"memory_usage_critical"},
		},
		{
			name:      "multiple metrics, deterministic order",
			values:    map[string]any{"disk_usage": 96.0, "cpu_usage": 85.0},
			wantTypes: []string{"cpu_usage_warning", "disk_usage_critical"},
		},
		{
			name:      "integer values are accepted",
			values:    map[string]any{"cpu_usage": 97},
			wantTypes: []string{"cpu_usage_critical"},
		},
		{
			name:      "unknown metrics are ignored",
			values:    map[string]any{"requests_per_second": 1e9},
			wantTypes: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems, err := d.Detect(context.Background(), snapshotOf(tt.values), nil)
			require.NoError(t, err)
			var got []string
			for _, p := range problems {
				got = append(got, p.Type)
			}
			assert.Equal(t, tt.wantTypes, got)
		})
	}
}

func TestThresholdDetectorSeverities(t *testing.T) {
	d := NewThresholdDetector(map[string]Threshold{"cpu_usage": {Warning: 80, Critical: 95}}, testLogger())

	problems, err := d.Detect(context.Background(), snapshotOf(map[string]any{"cpu_usage": 99.0}), nil)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, SeverityCritical, problems[0].Severity)
	assert.Equal(t, 99.0, problems[0].Metadata["value"])

	problems, err = d.Detect(context.Background(), snapshotOf(map[string]any{"cpu_usage": 85.0}), nil)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, SeverityMedium, problems[0].Severity)
}

func addLines(buffer *LogBuffer, level string, lines ...string) {
	for _, line := range lines {
		buffer.Add(LogEntry{Timestamp: time.Now(), Level: level, Message: line})
	}
}

func TestLogPatternDetectorDefaults(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantType string
		wantSev  Severity
	}{
		{"database refused", "ERROR: connection refused by db host", "log_pattern_database_connection_error", SeverityCritical},
		{"oom", "java.lang.OutOfMemoryError: heap space", "log_pattern_out_of_memory", SeverityCritical},
		{"auth", "WARN login failed for user admin", "log_pattern_authentication_failure", SeverityMedium},
		{"timeout", "request timed out after 30s", "log_pattern_api_timeout", SeverityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buffer := NewLogBuffer(100)
			addLines(buffer, "ERROR", tt.line)
			d, err := NewLogPatternDetector(buffer, nil, testLogger())
			require.NoError(t, err)

			problems, err := d.Detect(context.Background(), snapshotOf(nil), nil)
			require.NoError(t, err)

			var found *Problem
			for i := range problems {
				if problems[i].Type == tt.wantType {
					found = &problems[i]
				}
			}
			require.NotNil(t, found, "expected %s in %v", tt.wantType, problems)
			assert.Equal(t, tt.wantSev, found.Severity)
			assert.Equal(t, 1, found.Metadata["match_count"])
		})
	}
}

func TestLogPatternDetectorCountsAndSamples(t *testing.T) {
	buffer := NewLogBuffer(100)
	for i := 0; i < 5; i++ {
		addLines(buffer, "ERROR", fmt.Sprintf("connection refused attempt %d", i))
	}
	d, err := NewLogPatternDetector(buffer, nil, testLogger())
	require.NoError(t, err)

	problems, err := d.Detect(context.Background(), snapshotOf(nil), nil)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, 5, problems[0].Metadata["match_count"])
	samples := problems[0].Metadata["sample_messages"].([]string)
	assert.Len(t, samples, 3, "at most three sample messages")
}

func TestLogPatternDetectorCustomPattern(t *testing.T) {
	buffer := NewLogBuffer(100)
	addLines(buffer, "ERROR", "payment gateway declined txn 42")

	custom := []PatternConfig{{
		Name:        "payment_failure",
		Regex:       `payment gateway declined`,
		Severity:    "HIGH",
		Description: "Payment gateway rejections detected",
	}}
	d, err := NewLogPatternDetector(buffer, custom, testLogger())
	require.NoError(t, err)

	problems, err := d.Detect(context.Background(), snapshotOf(nil), nil)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, "log_pattern_payment_failure", problems[0].Type)
	assert.Equal(t, SeverityHigh, problems[0].Severity)
}

func TestLogPatternDetectorRejectsBadConfig(t *testing.T) {
	_, err := NewLogPatternDetector(NewLogBuffer(10), []PatternConfig{{Name: "bad", Regex: "("}}, testLogger())
	assert.Error(t, err)

	_, err = NewLogPatternDetector(NewLogBuffer(10), []PatternConfig{{Name: "bad", Regex: "ok", Severity: "SEVERE"}}, testLogger())
	assert.Error(t, err)
}

func TestLogPatternDetectorErrorFrequency(t *testing.T) {
	buffer := NewLogBuffer(200)
	for i := 0; i < 25; i++ {
		addLines(buffer, "ERROR", fmt.Sprintf("unrelated failure %d", i))
	}
	d, err := NewLogPatternDetector(buffer, nil, testLogger())
	require.NoError(t, err)

	problems, err := d.Detect(context.Background(), snapshotOf(nil), nil)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, "log_error_frequency_high", problems[0].Type)
	assert.Equal(t, SeverityMedium, problems[0].Severity)

	// past the high watermark the severity escalates
	for i := 0; i < 30; i++ {
		addLines(buffer, "FATAL", fmt.Sprintf("more failure %d", i))
	}
	problems, err = d.Detect(context.Background(), snapshotOf(nil), nil)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, SeverityHigh, problems[0].Severity)
}

func TestLogPatternDetectorIgnoresOldEntries(t *testing.T) {
	buffer := NewLogBuffer(10)
	buffer.Add(LogEntry{
		Timestamp: time.Now().Add(-time.Hour),
		Level:     "ERROR",
		Message:   "connection refused long ago",
	})
	d, err := NewLogPatternDetector(buffer, nil, testLogger())
	require.NoError(t, err)

	problems, err := d.Detect(context.Background(), snapshotOf(nil), nil)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestLogTailCollector(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("old line before startup\n"), 0o644))

	buffer := NewLogBuffer(100)
	c := NewLogTailCollector(path, buffer, testLogger())
	require.NoError(t, c.Init(context.Background()))

	// nothing new yet
	values, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, values["log_lines_new"])
	assert.Equal(t, 0, buffer.Len(), "pre-existing content is skipped")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("INFO service started\nERROR connection refused\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	values, err = c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, values["log_lines_new"])
	require.Equal(t, 2, buffer.Len())

	entries := buffer.Recent(time.Now().Add(-time.Minute))
	require.Len(t, entries, 2)
	assert.Equal(t, "INFO", entries[0].Level)
	assert.Equal(t, "ERROR", entries[1].Level)

	// truncation restarts the tail from the beginning
	require.NoError(t, os.WriteFile(path, []byte("WARN rotated\n"), 0o644))
	values, err = c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, values["log_lines_new"])
}

func TestLogTailCollectorMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.log")
	c := NewLogTailCollector(path, NewLogBuffer(10), testLogger())
	require.NoError(t, c.Init(context.Background()))

	values, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, values["log_lines_ingested"])
}
