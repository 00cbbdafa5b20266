package learning

import "time"

// Outcome classifies how an intervention ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Weight maps an outcome to its contribution to the success rate:
// success 1.0, partial 0.5, failure 0.0.
func (o Outcome) Weight() float64 {
	switch o {
	case OutcomeSuccess:
		return 1.0
	case OutcomePartial:
		return 0.5
	default:
		return 0.0
	}
}

// Intervention records one attempted fix and its outcome. Records are
// immutable and the log is append-only; there is no retention policy
// (known prototype limitation).
type Intervention struct {
	ProblemType  string         `json:"problem_type"`
	Description  string         `json:"issue_description"`
	Solution     string         `json:"solution_applied"`
	Confidence   float64        `json:"confidence"`
	RiskScore    float64        `json:"risk_score"`
	Outcome      Outcome        `json:"outcome"`
	Timestamp    time.Time      `json:"timestamp"`
	DeploymentID string         `json:"deployment_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// pattern is the per-problem-type running aggregate. It is maintained
// incrementally; the resulting SuccessRate is identical to recomputing
// the weighted average over the full intervention log.
type pattern struct {
	Count       int       `json:"count"`
	WeightSum   float64   `json:"weight_sum"`
	Successes   int       `json:"successes"`
	Confidences []float64 `json:"confidences"`
}

func (p *pattern) successRate() float64 {
	if p.Count == 0 {
		return 0
	}
	return p.WeightSum / float64(p.Count)
}

// strictSuccessRate counts only full successes; it feeds model snapshot
// accuracy, matching the original training path.
func (p *pattern) strictSuccessRate() float64 {
	if p.Count == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Count)
}

// ModelSnapshot is a periodic aggregate view of one problem type. It is
// used for reporting only; prediction always reads the live pattern.
// Newer versions supersede older ones; superseded snapshots are kept.
type ModelSnapshot struct {
	Name             string    `json:"name"`
	Version          string    `json:"version"`
	ProblemType      string    `json:"problem_type"`
	Accuracy         float64   `json:"accuracy"`
	TrainingDataSize int       `json:"training_data_size"`
	LastTrained      time.Time `json:"last_trained"`
	Active           bool      `json:"is_active"`
}

// Stats is the externally visible learning summary.
type Stats struct {
	TotalInterventions  int                `json:"total_interventions"`
	ProblemTypesLearned int                `json:"problem_types_learned"`
	SuccessRates        map[string]float64 `json:"success_rates"`
	ModelsTrained       int                `json:"models_trained"`
	AverageConfidence   float64            `json:"average_confidence"`
	RecentDeployments   int                `json:"recent_deployments"`
}
