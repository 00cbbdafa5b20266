package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Threshold holds the warning and critical levels for one metric.
type Threshold struct {
	Warning  float64 `json:"warning" yaml:"warning"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// DefaultThresholds covers the baseline system metrics.
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		"cpu_usage":    {Warning: 80, Critical: 95},
		"memory_usage": {Warning: 85, Critical: 95},
		"disk_usage":   {Warning: 85, Critical: 95},
	}
}

// ThresholdDetector flags metrics crossing their warning or critical
// level. Crossing critical produces a CRITICAL "<metric>_critical"
// problem, crossing warning a MEDIUM "<metric>_warning" problem.
type ThresholdDetector struct {
	thresholds map[string]Threshold
	logger     *slog.Logger
}

func NewThresholdDetector(thresholds map[string]Threshold, logger *slog.Logger) *ThresholdDetector {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ThresholdDetector{thresholds: thresholds, logger: logger}
}

func (d *ThresholdDetector) Name() string    { return "threshold_detector" }
func (d *ThresholdDetector) Version() string { return "1.0.0" }

func (d *ThresholdDetector) Init(ctx context.Context) error {
	d.logger.Info("threshold detector initialized", "thresholds", len(d.thresholds))
	return nil
}

func (d *ThresholdDetector) Close() error { return nil }

func (d *ThresholdDetector) Detect(ctx context.Context, snap *Snapshot, history []*Snapshot) ([]Problem, error) {
	names := make([]string, 0, len(d.thresholds))
	for name := range d.thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []Problem
	for _, name := range names {
		th := d.thresholds[name]
		value, ok := snap.Float(name)
		if !ok {
			continue
		}
		switch {
		case value >= th.Critical:
			problems = append(problems, Problem{
				Type:        name + "_critical",
				Severity:    SeverityCritical,
				Description: fmt.Sprintf("%s is critically high: %.1f%%", name, value),
				Timestamp:   time.Now(),
				Metadata: map[string]any{
					"metric":    name,
					"value":     value,
					"threshold": th.Critical,
				},
			})
		case value >= th.Warning:
			problems = append(problems, Problem{
				Type:        name + "_warning",
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("%s is above warning threshold: %.1f%%", name, value),
				Timestamp:   time.Now(),
				Metadata: map[string]any{
					"metric":    name,
					"value":     value,
					"threshold": th.Warning,
				},
			})
		}
	}
	return problems, nil
}
