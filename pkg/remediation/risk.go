package remediation

import (
	"github.com/vigilops/vigil/pkg/monitor"
)

const (
	baseRisk        = 0.2
	unknownTypeRisk = 0.3
)

// fixTypeRisks estimates blast radius by fix category.
var fixTypeRisks = map[string]float64{
	"syntax_correction":     0.1,
	"connection_resilience": 0.2,
	"timeout_handling":      0.15,
	"security_fix":          0.4,
}

// severityRisk is the addend for the problem's severity.
func severityRisk(s monitor.Severity) float64 {
	switch s {
	case monitor.SeverityCritical:
		return 0.3
	case monitor.SeverityHigh:
		return 0.2
	case monitor.SeverityMedium:
		return 0.1
	default:
		return 0
	}
}

// RiskScore estimates the harm probability of applying a fix:
// base + severity addend + (1-confidence)*0.3 + fix-type addend,
// clamped to [0,1]. Risk is independent of the provider's confidence in
// the fix being correct.
func RiskScore(problem monitor.Problem, suggestion *Suggestion) float64 {
	risk := baseRisk
	risk += severityRisk(problem.Severity)
	risk += (1.0 - suggestion.Confidence) * 0.3

	typeRisk, ok := fixTypeRisks[suggestion.FixType]
	if !ok {
		typeRisk = unknownTypeRisk
	}
	risk += typeRisk

	if risk > 1 {
		return 1
	}
	if risk < 0 {
		return 0
	}
	return risk
}
