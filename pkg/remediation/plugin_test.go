package remediation

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil/pkg/deploy"
	"github.com/vigilops/vigil/pkg/learning"
	"github.com/vigilops/vigil/pkg/monitor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDecision struct {
	approve  bool
	recorded []learning.Intervention
}

func (f *fakeDecision) ShouldAutoApply(problemType string, confidence, riskScore float64) bool {
	return f.approve
}

func (f *fakeDecision) RecordIntervention(iv learning.Intervention) error {
	f.recorded = append(f.recorded, iv)
	return nil
}

type fakeDeployer struct {
	status   deploy.Status
	requests []deploy.FixRequest
}

func (f *fakeDeployer) Deploy(ctx context.Context, req deploy.FixRequest) *deploy.Record {
	f.requests = append(f.requests, req)
	return &deploy.Record{
		ID:        "dep-1234",
		Status:    f.status,
		StartTime: time.Now(),
	}
}

func timeoutProblem() monitor.Problem {
	return monitor.Problem{
		Type:        "log_pattern_api_timeout",
		Severity:    monitor.SeverityMedium,
		Description: "API timeout issues detected (3 occurrences)",
		Timestamp:   time.Now(),
	}
}

func TestCanHandle(t *testing.T) {
	p := NewCodeFixPlugin(Config{}, &fakeDecision{}, &fakeDeployer{}, nil, testLogger())

	assert.True(t, p.CanHandle(monitor.Problem{Type: "log_pattern_api_timeout"}))
	assert.True(t, p.CanHandle(monitor.Problem{Type: "log_pattern_database_connection_error"}))
	assert.True(t, p.CanHandle(monitor.Problem{Type: "log_pattern_syntax_error"}))
	assert.True(t, p.CanHandle(monitor.Problem{Type: "code_issue_nil_deref"}))
	assert.False(t, p.CanHandle(monitor.Problem{Type: "cpu_usage_critical"}))
	assert.False(t, p.CanHandle(monitor.Problem{Type: "log_error_frequency_high"}))
}

func TestRemediateAutoApplies(t *testing.T) {
	decision := &fakeDecision{approve: true}
	deployer := &fakeDeployer{status: deploy.StatusCompleted}
	p := NewCodeFixPlugin(Config{TargetFile: "app/handlers.go"}, decision, deployer, nil, testLogger())

	res, err := p.Remediate(context.Background(), timeoutProblem(), nil)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.AutoApplied)
	assert.False(t, res.RequiresApproval)
	assert.Equal(t, "dep-1234", res.DeploymentID)

	require.Len(t, deployer.requests, 1)
	assert.Equal(t, "app/handlers.go", deployer.requests[0].FilePath)
	assert.Equal(t, "ai_system", deployer.requests[0].InitiatedBy)

	require.Len(t, decision.recorded, 1)
	iv := decision.recorded[0]
	assert.Equal(t, learning.OutcomeSuccess, iv.Outcome)
	assert.Equal(t, "dep-1234", iv.DeploymentID)
	assert.Equal(t, "log_pattern_api_timeout", iv.ProblemType)
}

func TestRemediateRecordsFailedDeployment(t *testing.T) {
	decision := &fakeDecision{approve: true}
	deployer := &fakeDeployer{status: deploy.StatusRolledBack}
	p := NewCodeFixPlugin(Config{}, decision, deployer, nil, testLogger())

	res, err := p.Remediate(context.Background(), timeoutProblem(), nil)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.AutoApplied, "an attempt was made even though it failed")

	require.Len(t, decision.recorded, 1)
	assert.Equal(t, learning.OutcomeFailure, decision.recorded[0].Outcome)
}

func TestRemediateRequiresApproval(t *testing.T) {
	decision := &fakeDecision{approve: false}
	deployer := &fakeDeployer{status: deploy.StatusCompleted}
	p := NewCodeFixPlugin(Config{}, decision, deployer, nil, testLogger())

	res, err := p.Remediate(context.Background(), timeoutProblem(), nil)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.RequiresApproval)
	assert.NotNil(t, res.Details["suggestion"], "the pending fix travels with the result")

	assert.Empty(t, deployer.requests, "rejected fixes never reach the deployer")
	assert.Empty(t, decision.recorded, "rejected-without-attempt records no intervention")
}

func TestRemediateNoSuggestion(t *testing.T) {
	decision := &fakeDecision{approve: true}
	deployer := &fakeDeployer{status: deploy.StatusCompleted}
	p := NewCodeFixPlugin(Config{}, decision, deployer, nil, testLogger())

	res, err := p.Remediate(context.Background(), monitor.Problem{Type: "code_issue_unknown_kind"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, deployer.requests)
	assert.Empty(t, decision.recorded)
}

func TestTargetFileFromMetadata(t *testing.T) {
	decision := &fakeDecision{approve: true}
	deployer := &fakeDeployer{status: deploy.StatusCompleted}
	p := NewCodeFixPlugin(Config{TargetFile: "src/main.go"}, decision, deployer, nil, testLogger())

	problem := timeoutProblem()
	problem.Metadata = map[string]any{"file": "pkg/client/http.go"}
	_, err := p.Remediate(context.Background(), problem, nil)
	require.NoError(t, err)

	require.Len(t, deployer.requests, 1)
	assert.Equal(t, "pkg/client/http.go", deployer.requests[0].FilePath)
}

func TestRuleTableProvider(t *testing.T) {
	p := NewRuleTableProvider()

	tests := []struct {
		problemType    string
		wantFixType    string
		wantConfidence float64
	}{
		{"log_pattern_syntax_error", "syntax_correction", 0.8},
		{"log_pattern_database_connection_error", "connection_resilience", 0.7},
		{"log_pattern_api_timeout", "timeout_handling", 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.problemType, func(t *testing.T) {
			s, err := p.Suggest(context.Background(), monitor.Problem{Type: tt.problemType})
			require.NoError(t, err)
			assert.Equal(t, tt.wantFixType, s.FixType)
			assert.Equal(t, tt.wantConfidence, s.Confidence)
			assert.NotEmpty(t, s.Description)
			assert.NotEmpty(t, s.Content)
		})
	}

	_, err := p.Suggest(context.Background(), monitor.Problem{Type: "disk_usage_critical"})
	assert.ErrorIs(t, err, ErrNoFix)
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name       string
		severity   monitor.Severity
		confidence float64
		fixType    string
		want       float64
	}{
		{
			// 0.2 + 0.1 (MEDIUM) + 0.3*(1-0.75) + 0.15
			name: "medium timeout fix", severity: monitor.SeverityMedium,
			confidence: 0.75, fixType: "timeout_handling", want: 0.525,
		},
		{
			// 0.2 + 0 (LOW) + 0.3*(1-0.8) + 0.1
			name: "low severity syntax fix", severity: monitor.SeverityLow,
			confidence: 0.8, fixType: "syntax_correction", want: 0.36,
		},
		{
			// 0.2 + 0.3 (CRITICAL) + 0.3*(1-0.5) + 0.4 = 1.05, clamped
			name: "critical security fix clamps at one", severity: monitor.SeverityCritical,
			confidence: 0.5, fixType: "security_fix", want: 1.0,
		},
		{
			// 0.2 + 0.2 (HIGH) + 0.3*(1-0.9) + 0.3 (unknown type)
			name: "unknown fix type", severity: monitor.SeverityHigh,
			confidence: 0.9, fixType: "mystery", want: 0.73,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RiskScore(
				monitor.Problem{Severity: tt.severity},
				&Suggestion{Confidence: tt.confidence, FixType: tt.fixType},
			)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRiskScoreMonotonicInConfidence(t *testing.T) {
	problem := monitor.Problem{Severity: monitor.SeverityMedium}
	low := RiskScore(problem, &Suggestion{Confidence: 0.3, FixType: "timeout_handling"})
	high := RiskScore(problem, &Suggestion{Confidence: 0.9, FixType: "timeout_handling"})
	assert.Greater(t, low, high, "less confidence means more risk")
}
