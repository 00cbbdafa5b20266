package deploy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config carries deployment and safety settings.
type Config struct {
	RepoPath     string
	BackupDir    string
	TestCommands []string

	// Strategy thresholds on fix confidence.
	DirectThreshold float64 // >= this: direct
	CanaryThreshold float64 // >= this: canary; below: blue_green

	// Safety gate.
	BusinessHoursRestriction bool
	RestrictedStartHour      int // inclusive, default 9
	RestrictedEndHour        int // inclusive, default 17
	MaxConcurrent            int

	// Post-deploy monitoring.
	MonitoringPeriod time.Duration
	PollInterval     time.Duration
}

func (c *Config) setDefaults() {
	if c.RepoPath == "" {
		c.RepoPath = "."
	}
	if c.BackupDir == "" {
		c.BackupDir = "./backups"
	}
	if c.DirectThreshold == 0 {
		c.DirectThreshold = 0.9
	}
	if c.CanaryThreshold == 0 {
		c.CanaryThreshold = 0.7
	}
	if c.RestrictedStartHour == 0 && c.RestrictedEndHour == 0 {
		c.RestrictedStartHour = 9
		c.RestrictedEndHour = 17
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 1
	}
	if c.MonitoringPeriod == 0 {
		c.MonitoringPeriod = 10 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
}

// FixRequest describes an approved fix to deploy.
type FixRequest struct {
	ProblemType string
	Description string
	FilePath    string
	Content     string
	Confidence  float64
	InitiatedBy string
}

// RollbackTrigger is the external signal source polled after a
// completed deployment (error-rate, latency, availability regressions).
type RollbackTrigger interface {
	ShouldRollback(ctx context.Context, rec *Record) bool
}

// TriggerFunc adapts a function to the RollbackTrigger interface.
type TriggerFunc func(ctx context.Context, rec *Record) bool

func (f TriggerFunc) ShouldRollback(ctx context.Context, rec *Record) bool {
	return f(ctx, rec)
}

// Engine executes gated deployments: backup, apply, validate, commit,
// release, post-deploy watch, rollback on failure. Deploy never returns
// an error; every attempt yields a Record in a terminal state (or
// completed with a watch still running).
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	logger  *slog.Logger
	vcs     VersionControl
	runner  Runner
	release Releaser
	trigger RollbackTrigger

	active  map[string]*Record
	history []*Record

	watchCtx    context.Context
	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup

	now func() time.Time
}

func NewEngine(cfg Config, vcs VersionControl, runner Runner, releaser Releaser, trigger RollbackTrigger, logger *slog.Logger) *Engine {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if trigger == nil {
		trigger = TriggerFunc(func(context.Context, *Record) bool { return false })
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:         cfg,
		logger:      logger,
		vcs:         vcs,
		runner:      runner,
		release:     releaser,
		trigger:     trigger,
		active:      make(map[string]*Record),
		watchCtx:    ctx,
		watchCancel: cancel,
		now:         time.Now,
	}
}

// Deploy runs the full gated deployment for one fix. The returned
// record describes the outcome; failures never propagate as errors.
func (e *Engine) Deploy(ctx context.Context, req FixRequest) *Record {
	rec := &Record{
		ID:          uuid.NewString()[:8],
		Type:        TypeAIFix,
		Strategy:    e.strategyFor(req.Confidence),
		Status:      StatusPending,
		InitiatedBy: req.InitiatedBy,
		Description: req.Description,
		StartTime:   e.now(),
	}
	if rec.InitiatedBy == "" {
		rec.InitiatedBy = "ai_system"
	}

	// The gate check and the pending->in_progress transition are one
	// critical section so two deployments cannot race past the
	// concurrency limit.
	e.mu.Lock()
	if reason := e.gateLocked(); reason != "" {
		rec.transition(StatusFailed)
		rec.setMeta("failure_reason", reason)
		rec.finish(e.now())
		e.history = append(e.history, rec)
		e.mu.Unlock()
		e.logger.Warn("deployment blocked by safety gate",
			"deployment_id", rec.ID, "reason", reason)
		deploymentsTotal.WithLabelValues(string(rec.Strategy), string(rec.Status)).Inc()
		return rec.clone()
	}
	rec.transition(StatusInProgress)
	e.active[rec.ID] = rec
	activeDeployments.Set(float64(len(e.active)))
	e.mu.Unlock()

	e.logger.Info("deployment started",
		"deployment_id", rec.ID,
		"strategy", rec.Strategy,
		"problem_type", req.ProblemType)

	e.execute(ctx, rec, req)

	e.mu.Lock()
	delete(e.active, rec.ID)
	activeDeployments.Set(float64(len(e.active)))
	e.history = append(e.history, rec)
	status := rec.Status
	e.mu.Unlock()

	deploymentsTotal.WithLabelValues(string(rec.Strategy), string(status)).Inc()
	deploymentDuration.Observe(e.now().Sub(rec.StartTime).Seconds())

	if status == StatusCompleted {
		e.watchWG.Add(1)
		go e.watch(rec)
	}

	// Hand the caller a snapshot: the live record stays with the engine
	// and may still be rolled back by the watch.
	e.mu.Lock()
	out := rec.clone()
	e.mu.Unlock()
	return out
}

// gateLocked returns a rejection reason, or "" when the deployment may
// proceed. Caller holds e.mu.
func (e *Engine) gateLocked() string {
	if e.cfg.BusinessHoursRestriction {
		hour := e.now().Hour()
		if hour >= e.cfg.RestrictedStartHour && hour <= e.cfg.RestrictedEndHour {
			return fmt.Sprintf("restricted time window (%02d:00-%02d:59)",
				e.cfg.RestrictedStartHour, e.cfg.RestrictedEndHour)
		}
	}
	inProgress := 0
	for _, rec := range e.active {
		if rec.Status == StatusInProgress {
			inProgress++
		}
	}
	if inProgress >= e.cfg.MaxConcurrent {
		return fmt.Sprintf("max concurrent deployments reached (%d)", e.cfg.MaxConcurrent)
	}
	return ""
}

func (e *Engine) execute(ctx context.Context, rec *Record, req FixRequest) {
	fail := func(step string, err error) {
		e.logger.Error("deployment step failed",
			"deployment_id", rec.ID, "step", step, "error", err)
		e.mu.Lock()
		rec.setMeta("failed_step", step)
		rec.setMeta("error", err.Error())
		rec.transition(StatusFailed)
		e.mu.Unlock()
		if rec.CommitHash != "" {
			e.rollback(rec)
		}
		e.mu.Lock()
		rec.finish(e.now())
		e.mu.Unlock()
	}

	if err := e.backup(req.FilePath); err != nil {
		fail("backup", err)
		return
	}
	if err := e.apply(rec, req); err != nil {
		fail("apply", err)
		return
	}

	report := e.runner.Run(ctx, e.cfg.RepoPath, e.cfg.TestCommands)
	rec.TestResults = report
	if !report.Success {
		fail("validate", fmt.Errorf("validation commands failed: %v", report.Failed))
		return
	}

	if err := e.commit(rec); err != nil {
		fail("commit", err)
		return
	}
	if err := e.release.Release(ctx, rec.Strategy, rec); err != nil {
		fail("release", err)
		return
	}

	e.mu.Lock()
	completed := rec.transition(StatusCompleted)
	if completed {
		rec.finish(e.now())
	}
	e.mu.Unlock()
	if completed {
		e.logger.Info("deployment completed",
			"deployment_id", rec.ID, "commit", rec.CommitHash)
	}
}

func (e *Engine) backup(filePath string) error {
	src, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening %s for backup: %w", filePath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(e.cfg.BackupDir, 0o755); err != nil {
		return fmt.Errorf("creating backup dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.backup", filepath.Base(filePath), e.now().Format("20060102_150405"))
	dst, err := os.Create(filepath.Join(e.cfg.BackupDir, name))
	if err != nil {
		return fmt.Errorf("creating backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}
	e.logger.Info("backup created", "source", filePath, "backup", name)
	return nil
}

func (e *Engine) apply(rec *Record, req FixRequest) error {
	if err := os.WriteFile(req.FilePath, []byte(req.Content), 0o644); err != nil {
		return fmt.Errorf("writing fix to %s: %w", req.FilePath, err)
	}
	rec.FilesChanged = append(rec.FilesChanged, req.FilePath)
	return nil
}

func (e *Engine) commit(rec *Record) error {
	if err := e.vcs.StageAll(); err != nil {
		return err
	}
	hash, err := e.vcs.Commit(rec.Description)
	if err != nil {
		return err
	}
	rec.CommitHash = hash
	return nil
}

// rollback reverts to the parent of the deployment commit and
// re-releases the prior version. It is reached from a failed in-progress
// step that had already committed, or from the post-deploy watch. The
// record may already be published via Records, so every field write
// happens under e.mu.
func (e *Engine) rollback(rec *Record) {
	prev, err := e.vcs.PreviousCommit(rec.CommitHash)
	if err != nil {
		e.logger.Error("rollback failed: cannot resolve prior commit",
			"deployment_id", rec.ID, "error", err)
		e.mu.Lock()
		rec.setMeta("rollback_error", err.Error())
		e.mu.Unlock()
		return
	}
	if err := e.vcs.ResetHard(prev); err != nil {
		e.logger.Error("rollback failed: reset failed",
			"deployment_id", rec.ID, "error", err)
		e.mu.Lock()
		rec.setMeta("rollback_error", err.Error())
		e.mu.Unlock()
		return
	}
	e.mu.Lock()
	rec.RollbackCommitHash = prev
	e.mu.Unlock()

	if err := e.release.Release(context.Background(), StrategyDirect, rec); err != nil {
		e.logger.Error("re-release of prior version failed",
			"deployment_id", rec.ID, "error", err)
		e.mu.Lock()
		rec.setMeta("rollback_release_error", err.Error())
		e.mu.Unlock()
	}

	e.mu.Lock()
	rec.transition(StatusRolledBack)
	e.mu.Unlock()
	rollbacksTotal.Inc()
	e.logger.Warn("deployment rolled back",
		"deployment_id", rec.ID, "restored_commit", prev)
}

// watch polls the rollback trigger for the monitoring period after a
// completed deployment. It is a tracked background job, cancelled when
// the engine shuts down.
func (e *Engine) watch(rec *Record) {
	defer e.watchWG.Done()

	deadline := e.now().Add(e.cfg.MonitoringPeriod)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.logger.Info("post-deployment monitoring started",
		"deployment_id", rec.ID, "period", e.cfg.MonitoringPeriod)

	for {
		select {
		case <-e.watchCtx.Done():
			return
		case <-ticker.C:
			if e.now().After(deadline) {
				e.logger.Info("post-deployment monitoring finished",
					"deployment_id", rec.ID)
				return
			}
			if e.trigger.ShouldRollback(e.watchCtx, rec) {
				e.logger.Warn("rollback trigger fired",
					"deployment_id", rec.ID)
				e.rollback(rec)
				return
			}
		}
	}
}

func (e *Engine) strategyFor(confidence float64) Strategy {
	switch {
	case confidence >= e.cfg.DirectThreshold:
		return StrategyDirect
	case confidence >= e.cfg.CanaryThreshold:
		return StrategyCanary
	default:
		return StrategyBlueGreen
	}
}

// Records returns the deployment history, newest last. Entries are deep
// copies; live records under a post-deploy watch are never exposed.
func (e *Engine) Records() []*Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Record, 0, len(e.history))
	for _, rec := range e.history {
		out = append(out, rec.clone())
	}
	return out
}

// ActiveCount reports deployments currently in progress.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, rec := range e.active {
		if rec.Status == StatusInProgress {
			n++
		}
	}
	return n
}

// Close cancels in-flight post-deploy watches and forces any deployment
// still in progress to failed with a recorded reason. Nothing is left
// in_progress after Close returns.
func (e *Engine) Close() {
	e.watchCancel()
	e.watchWG.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	// Records stay in the active map; the owning Deploy call moves them
	// to history when its blocked step returns.
	for id, rec := range e.active {
		if rec.Status == StatusInProgress {
			rec.transition(StatusFailed)
			rec.setMeta("failure_reason", "forced shutdown")
			rec.finish(e.now())
			e.logger.Warn("deployment forced to failed on shutdown", "deployment_id", id)
		}
	}
	activeDeployments.Set(0)
}
