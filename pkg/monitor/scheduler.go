package monitor

import (
	"context"
	"log/slog"
	"time"
)

// SchedulerConfig carries the cycle parameters.
type SchedulerConfig struct {
	Interval    time.Duration
	HistorySize int
	// ErrorBackoff is slept after a cycle panics before the loop resumes.
	ErrorBackoff time.Duration
}

func (c *SchedulerConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 1000
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
}

// Scheduler runs the collect -> detect -> remediate -> report cycle on a
// fixed interval. Plugin calls within a cycle are sequential so the
// metric merge stays deterministic (last registered collector wins on
// key collision).
type Scheduler struct {
	cfg      SchedulerConfig
	registry *Registry
	history  *History
	problems *ProblemLog
	reporter *Reporter
	logger   *slog.Logger
}

func NewScheduler(cfg SchedulerConfig, registry *Registry, reporter *Reporter, logger *slog.Logger) *Scheduler {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		history:  NewHistory(cfg.HistorySize),
		problems: NewProblemLog(cfg.HistorySize),
		reporter: reporter,
		logger:   logger,
	}
}

// History exposes the rolling snapshot window for status reporting.
func (s *Scheduler) History() *History {
	return s.history
}

// Problems exposes the rolling window of detected problems for trend
// analysis and status reporting.
func (s *Scheduler) Problems() *ProblemLog {
	return s.problems
}

// Run executes cycles until the context is cancelled. Only cancellation
// stops the loop; a panicking cycle is logged and followed by a backoff
// sleep.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("monitoring loop starting", "interval", s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.safeCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitoring loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.safeCycle(ctx)
		}
	}
}

func (s *Scheduler) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("monitoring cycle panicked", "panic", r)
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.ErrorBackoff):
			}
		}
	}()
	s.RunCycle(ctx)
}

// RunCycle performs exactly one monitoring cycle.
func (s *Scheduler) RunCycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
		cyclesTotal.Inc()
	}()

	snap := s.collect(ctx)
	s.history.Append(snap)

	problems := s.detect(ctx, snap)
	s.problems.Append(problems...)
	var results []Result
	if len(problems) > 0 {
		results = s.remediate(ctx, problems)
	}

	if s.reporter != nil {
		if err := s.reporter.Emit(snap, problems, results, s.registry.Status()); err != nil {
			s.logger.Error("cycle report failed", "error", err)
		}
	}
}

// collect merges the output of every active collector into one snapshot.
// A failing collector contributes nothing and never aborts the cycle.
func (s *Scheduler) collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		Timestamp: time.Now(),
		Values:    make(map[string]any),
	}
	for _, c := range s.registry.Collectors() {
		values, err := c.Collect(ctx)
		if err != nil {
			s.logger.Error("collector failed", "plugin", c.Name(), "error", err)
			pluginFailures.WithLabelValues(c.Name(), "collect").Inc()
			continue
		}
		for k, v := range values {
			snap.Values[k] = v
		}
	}
	return snap
}

// detect runs every active detector against the snapshot produced by
// this cycle's collection step. Detector failures are isolated.
func (s *Scheduler) detect(ctx context.Context, snap *Snapshot) []Problem {
	history := s.history.All()
	var problems []Problem
	for _, d := range s.registry.Detectors() {
		found, err := d.Detect(ctx, snap, history)
		if err != nil {
			s.logger.Error("detector failed", "plugin", d.Name(), "error", err)
			pluginFailures.WithLabelValues(d.Name(), "detect").Inc()
			continue
		}
		for _, p := range found {
			problemsDetected.WithLabelValues(p.Type, p.Severity.String()).Inc()
		}
		problems = append(problems, found...)
	}
	return problems
}

// remediate offers each problem to every remediator that claims it. A
// failing remediator is isolated per problem.
func (s *Scheduler) remediate(ctx context.Context, problems []Problem) []Result {
	var results []Result
	for _, p := range problems {
		for _, rem := range s.registry.Remediators() {
			if !rem.CanHandle(p) {
				continue
			}
			res, err := rem.Remediate(ctx, p, map[string]any{"problem_type": p.Type})
			if err != nil {
				s.logger.Error("remediation failed",
					"plugin", rem.Name(), "problem", p.Type, "error", err)
				pluginFailures.WithLabelValues(rem.Name(), "remediate").Inc()
				remediationsTotal.WithLabelValues(rem.Name(), "error").Inc()
				continue
			}
			res.Plugin = rem.Name()
			outcome := "failure"
			if res.Success {
				outcome = "success"
			} else if res.RequiresApproval {
				outcome = "requires_approval"
			}
			remediationsTotal.WithLabelValues(rem.Name(), outcome).Inc()
			s.logger.Info("remediation attempted",
				"plugin", rem.Name(),
				"problem", p.Type,
				"success", res.Success,
				"auto_applied", res.AutoApplied)
			results = append(results, res)
		}
	}
	return results
}
