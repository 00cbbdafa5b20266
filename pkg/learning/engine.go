package learning

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Config carries the automation gates and learning knobs.
type Config struct {
	MinConfidence         float64
	MaxRiskScore          float64
	MinSuccessProbability float64
	MaxDeploymentsPerHour int
	RequireApproval       bool
	RetrainFrequency      int
	// minimum interventions of one type before a model snapshot is taken
	MinTrainingSamples int
}

func (c *Config) setDefaults() {
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.75
	}
	if c.MaxRiskScore == 0 {
		c.MaxRiskScore = 0.3
	}
	if c.MinSuccessProbability == 0 {
		c.MinSuccessProbability = 0.8
	}
	if c.MaxDeploymentsPerHour == 0 {
		c.MaxDeploymentsPerHour = 2
	}
	if c.RetrainFrequency == 0 {
		c.RetrainFrequency = 50
	}
	if c.MinTrainingSamples == 0 {
		c.MinTrainingSamples = 10
	}
}

// Engine maintains the intervention log and the per-problem-type success
// statistics derived from it. All mutation funnels through
// RecordIntervention, which is the single serialization point for the
// shared learning state.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger
	store  *Store

	interventions []*Intervention
	patterns      map[string]*pattern
	models        map[string]*ModelSnapshot
	modelSeq      int

	now func() time.Time
}

// NewEngine loads any persisted state from the store and rebuilds the
// running aggregates from it.
func NewEngine(cfg Config, store *Store, logger *slog.Logger) (*Engine, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		patterns: make(map[string]*pattern),
		models:   make(map[string]*ModelSnapshot),
		now:      time.Now,
	}
	if store != nil {
		interventions, models, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("loading learning state: %w", err)
		}
		for _, iv := range interventions {
			e.interventions = append(e.interventions, iv)
			e.absorb(iv)
		}
		for _, m := range models {
			e.models[m.Name+":"+m.Version] = m
			e.modelSeq++
		}
		logger.Info("learning state loaded",
			"interventions", len(e.interventions),
			"models", len(e.models))
	}
	return e, nil
}

// absorb folds one intervention into the running aggregate for its type.
func (e *Engine) absorb(iv *Intervention) {
	p, ok := e.patterns[iv.ProblemType]
	if !ok {
		p = &pattern{}
		e.patterns[iv.ProblemType] = p
	}
	p.Count++
	p.WeightSum += iv.Outcome.Weight()
	if iv.Outcome == OutcomeSuccess {
		p.Successes++
	}
	p.Confidences = append(p.Confidences, iv.Confidence)
}

// RecordIntervention appends to the intervention log, updates the
// learned pattern for the problem type, and persists the log. Every
// RetrainFrequency-th intervention also refreshes the model snapshots.
// A persistence failure keeps the in-memory state and is returned so the
// caller can surface degraded mode.
func (e *Engine) RecordIntervention(iv Intervention) error {
	iv.Confidence = clamp01(iv.Confidence)
	iv.RiskScore = clamp01(iv.RiskScore)
	if iv.Timestamp.IsZero() {
		iv.Timestamp = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	record := iv
	e.interventions = append(e.interventions, &record)
	e.absorb(&record)

	if len(e.interventions)%e.cfg.RetrainFrequency == 0 {
		e.refreshModelsLocked()
	}

	e.logger.Info("recorded intervention",
		"problem_type", record.ProblemType,
		"outcome", record.Outcome,
		"confidence", record.Confidence,
		"risk_score", record.RiskScore,
		"deployment_id", record.DeploymentID)

	if err := e.persistLocked(); err != nil {
		e.logger.Error("persisting learning state failed; in-memory state retained", "error", err)
		return fmt.Errorf("persisting learning state: %w", err)
	}
	return nil
}

// refreshModelsLocked takes a new model snapshot for every problem type
// with enough accumulated interventions. Types below the minimum are a
// no-op, not an error. Prior snapshots are marked inactive but kept.
func (e *Engine) refreshModelsLocked() {
	refreshed := 0
	for problemType, p := range e.patterns {
		if p.Count < e.cfg.MinTrainingSamples {
			continue
		}
		for _, m := range e.models {
			if m.ProblemType == problemType {
				m.Active = false
			}
		}
		e.modelSeq++
		snap := &ModelSnapshot{
			Name:             problemType + "_model",
			Version:          fmt.Sprintf("v%d", e.modelSeq),
			ProblemType:      problemType,
			Accuracy:         p.strictSuccessRate(),
			TrainingDataSize: p.Count,
			LastTrained:      e.now(),
			Active:           true,
		}
		e.models[snap.Name+":"+snap.Version] = snap
		refreshed++
	}
	if refreshed > 0 {
		e.logger.Info("refreshed model snapshots", "count", refreshed)
	}
}

func (e *Engine) persistLocked() error {
	if e.store == nil {
		return nil
	}
	models := make([]*ModelSnapshot, 0, len(e.models))
	for _, m := range e.models {
		models = append(models, m)
	}
	return e.store.Save(e.interventions, models)
}

// PredictSuccess estimates the probability that applying a fix of the
// given type succeeds. With a learned pattern the estimate is the
// historical success rate adjusted by confidence and risk, each scaled
// to [-1,1] and capped at a combined ±20% influence. Without history it
// falls back to max(0, confidence-risk). The result is always in [0,1]
// and the function never panics, whatever the inputs.
func (e *Engine) PredictSuccess(problemType string, confidence, riskScore float64) float64 {
	confidence = clamp01(confidence)
	riskScore = clamp01(riskScore)

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.patterns[problemType]
	if !ok || p.Count == 0 {
		return math.Max(0, confidence-riskScore)
	}

	base := p.successRate()
	confidenceFactor := (confidence - 0.5) * 2
	riskFactor := (0.5 - riskScore) * 2
	adjustment := (confidenceFactor + riskFactor) * 0.2
	return clamp01(base + adjustment)
}

// ShouldAutoApply gates autonomous application of a fix. All checks are
// independent AND-gated rejections: confidence floor, risk ceiling,
// predicted-success floor, deployments-per-hour budget, and the global
// approval flag.
func (e *Engine) ShouldAutoApply(problemType string, confidence, riskScore float64) bool {
	confidence = clamp01(confidence)
	riskScore = clamp01(riskScore)

	if confidence < e.cfg.MinConfidence {
		e.logger.Debug("auto-apply rejected: confidence below floor",
			"problem_type", problemType, "confidence", confidence)
		return false
	}
	if riskScore > e.cfg.MaxRiskScore {
		e.logger.Debug("auto-apply rejected: risk above ceiling",
			"problem_type", problemType, "risk_score", riskScore)
		return false
	}
	if predicted := e.PredictSuccess(problemType, confidence, riskScore); predicted < e.cfg.MinSuccessProbability {
		e.logger.Debug("auto-apply rejected: predicted success too low",
			"problem_type", problemType, "predicted", predicted)
		return false
	}

	e.mu.Lock()
	recent := e.recentDeploymentsLocked(e.now().Add(-time.Hour))
	e.mu.Unlock()
	if recent >= e.cfg.MaxDeploymentsPerHour {
		e.logger.Info("auto-apply rejected: hourly deployment budget exhausted",
			"recent", recent, "budget", e.cfg.MaxDeploymentsPerHour)
		return false
	}

	if e.cfg.RequireApproval {
		return false
	}
	return true
}

// recentDeploymentsLocked counts interventions that carried a deployment
// and happened after the cutoff.
func (e *Engine) recentDeploymentsLocked(cutoff time.Time) int {
	count := 0
	for _, iv := range e.interventions {
		if iv.DeploymentID != "" && iv.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// Stats returns the current learning summary. Calling it twice without
// an intervening RecordIntervention yields identical output.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	rates := make(map[string]float64, len(e.patterns))
	for problemType, p := range e.patterns {
		rates[problemType] = p.successRate()
	}

	avgConfidence := 0.0
	if len(e.interventions) > 0 {
		sum := 0.0
		for _, iv := range e.interventions {
			sum += iv.Confidence
		}
		avgConfidence = sum / float64(len(e.interventions))
	}

	weekAgo := e.now().Add(-7 * 24 * time.Hour)
	recent := 0
	for _, iv := range e.interventions {
		if iv.Timestamp.After(weekAgo) {
			recent++
		}
	}

	return Stats{
		TotalInterventions:  len(e.interventions),
		ProblemTypesLearned: len(e.patterns),
		SuccessRates:        rates,
		ModelsTrained:       len(e.models),
		AverageConfidence:   avgConfidence,
		RecentDeployments:   recent,
	}
}

// Models lists the snapshot history, for reporting only.
func (e *Engine) Models() []ModelSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ModelSnapshot, 0, len(e.models))
	for _, m := range e.models {
		out = append(out, *m)
	}
	return out
}

// SuccessRate reports the learned success rate for one problem type and
// whether any history exists for it.
func (e *Engine) SuccessRate(problemType string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.patterns[problemType]
	if !ok || p.Count == 0 {
		return 0, false
	}
	return p.successRate(), true
}

// clamp01 forces v into [0,1]; NaN and -Inf map to 0, +Inf to 1.
func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
