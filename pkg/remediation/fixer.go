package remediation

import (
	"context"
	"errors"
	"strings"

	"github.com/vigilops/vigil/pkg/monitor"
)

// ErrNoFix signals that the provider has no suggestion for a problem.
var ErrNoFix = errors.New("no fix suggestion for problem")

// Suggestion is a candidate fix with the provider's self-assessed
// confidence.
type Suggestion struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	FixType     string  `json:"fix_type"`
	Content     string  `json:"code_changes"`
	Reasoning   string  `json:"reasoning"`
}

// FixProvider produces a fix suggestion for a problem category. It is
// replaceable: a static rule table here, an ML-backed service elsewhere.
type FixProvider interface {
	Suggest(ctx context.Context, problem monitor.Problem) (*Suggestion, error)
}

// RuleTableProvider generates fixes from a fixed pattern table, keyed on
// substrings of the problem type.
type RuleTableProvider struct{}

func NewRuleTableProvider() *RuleTableProvider {
	return &RuleTableProvider{}
}

func (p *RuleTableProvider) Suggest(ctx context.Context, problem monitor.Problem) (*Suggestion, error) {
	pt := strings.ToLower(problem.Type)
	switch {
	case strings.Contains(pt, "syntax_error"):
		return &Suggestion{
			Description: "Fix syntax error based on common patterns",
			Confidence:  0.8,
			FixType:     "syntax_correction",
			Content:     "Generated syntax fix based on known patterns",
			Reasoning:   "Common syntax error pattern detected and fixed",
		}, nil
	case strings.Contains(pt, "database_connection"):
		return &Suggestion{
			Description: "Add connection retry logic and better error handling",
			Confidence:  0.7,
			FixType:     "connection_resilience",
			Content:     "Added retry logic and connection pooling improvements",
			Reasoning:   "Database connection issues often resolved with retry mechanisms",
		}, nil
	case strings.Contains(pt, "timeout"):
		return &Suggestion{
			Description: "Increase timeout values and add circuit breaker",
			Confidence:  0.75,
			FixType:     "timeout_handling",
			Content:     "Increased timeout values and added circuit breaker pattern",
			Reasoning:   "Timeout issues often resolved with increased limits and circuit breakers",
		}, nil
	default:
		return nil, ErrNoFix
	}
}
