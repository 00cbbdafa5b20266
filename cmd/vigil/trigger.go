package main

import (
	"context"
	"log/slog"

	"github.com/vigilops/vigil/pkg/deploy"
	"github.com/vigilops/vigil/pkg/monitor"
)

// metricForTrigger maps a configured trigger name to the snapshot metric
// it watches and how the threshold applies.
var metricForTrigger = map[string]struct {
	metric   string
	relative bool // threshold is a relative increase; otherwise an absolute drop
}{
	"error_rate_increase":    {metric: "error_rate", relative: true},
	"response_time_increase": {metric: "response_time", relative: true},
	"availability_drop":      {metric: "availability", relative: false},
}

// historyTrigger decides post-deploy rollback by comparing the latest
// snapshot against the last snapshot taken before the deployment
// started. Missing metrics on either side never fire a trigger.
type historyTrigger struct {
	history    *monitor.History
	thresholds map[string]float64
	logger     *slog.Logger
}

func newHistoryTrigger(history *monitor.History, thresholds map[string]float64, logger *slog.Logger) *historyTrigger {
	return &historyTrigger{history: history, thresholds: thresholds, logger: logger}
}

func (t *historyTrigger) ShouldRollback(ctx context.Context, rec *deploy.Record) bool {
	snapshots := t.history.All()
	if len(snapshots) == 0 {
		return false
	}
	current := snapshots[len(snapshots)-1]

	var baseline *monitor.Snapshot
	for _, s := range snapshots {
		if s.Timestamp.After(rec.StartTime) {
			break
		}
		baseline = s
	}
	if baseline == nil {
		return false
	}

	for name, threshold := range t.thresholds {
		spec, ok := metricForTrigger[name]
		if !ok {
			continue
		}
		before, ok := baseline.Float(spec.metric)
		if !ok {
			continue
		}
		after, ok := current.Float(spec.metric)
		if !ok {
			continue
		}

		fired := false
		if spec.relative {
			fired = before > 0 && (after-before)/before > threshold
		} else {
			fired = before-after > threshold
		}
		if fired {
			t.logger.Warn("rollback trigger threshold exceeded",
				"trigger", name,
				"metric", spec.metric,
				"before", before,
				"after", after,
				"threshold", threshold)
			return true
		}
	}
	return false
}
