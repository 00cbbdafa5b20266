package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vigilops/vigil/pkg/deploy"
	"github.com/vigilops/vigil/pkg/learning"
	"github.com/vigilops/vigil/pkg/monitor"
)

// decisionEngine is the slice of the learning engine this plugin needs.
type decisionEngine interface {
	ShouldAutoApply(problemType string, confidence, riskScore float64) bool
	RecordIntervention(iv learning.Intervention) error
}

// deployer executes an approved fix and reports the outcome.
type deployer interface {
	Deploy(ctx context.Context, req deploy.FixRequest) *deploy.Record
}

// handledTypes are the problem-type fragments this plugin claims.
var handledTypes = []string{
	"log_pattern_syntax_error",
	"log_pattern_database_connection_error",
	"log_pattern_api_timeout",
	"code_issue",
}

// Config holds plugin-level settings.
type Config struct {
	// TargetFile is the file a generated fix is applied to when the
	// problem metadata does not name one.
	TargetFile string
}

// CodeFixPlugin ties the learning engine and the deployment engine
// together behind the Remediator contract: suggest a fix, score its
// risk, auto-apply through the deployment engine when the gates allow
// it, and record the attempt as an intervention.
type CodeFixPlugin struct {
	cfg      Config
	engine   decisionEngine
	deployer deployer
	provider FixProvider
	logger   *slog.Logger
}

func NewCodeFixPlugin(cfg Config, engine decisionEngine, dep deployer, provider FixProvider, logger *slog.Logger) *CodeFixPlugin {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = NewRuleTableProvider()
	}
	if cfg.TargetFile == "" {
		cfg.TargetFile = "src/main.go"
	}
	return &CodeFixPlugin{
		cfg:      cfg,
		engine:   engine,
		deployer: dep,
		provider: provider,
		logger:   logger,
	}
}

func (p *CodeFixPlugin) Name() string    { return "ai_code_fixing" }
func (p *CodeFixPlugin) Version() string { return "1.0.0" }

func (p *CodeFixPlugin) Init(ctx context.Context) error {
	p.logger.Info("code fix remediation plugin initialized")
	return nil
}

func (p *CodeFixPlugin) Close() error { return nil }

// CanHandle matches on the fixed set of recognized problem types.
func (p *CodeFixPlugin) CanHandle(problem monitor.Problem) bool {
	for _, t := range handledTypes {
		if strings.Contains(problem.Type, t) {
			return true
		}
	}
	return false
}

// Remediate produces a suggestion, scores its risk, and either deploys
// the fix (recording an intervention with the outcome) or returns it for
// manual approval. Rejections without an attempt record nothing.
func (p *CodeFixPlugin) Remediate(ctx context.Context, problem monitor.Problem, rctx map[string]any) (monitor.Result, error) {
	suggestion, err := p.provider.Suggest(ctx, problem)
	if err != nil {
		if errors.Is(err, ErrNoFix) {
			return monitor.Result{
				Success: false,
				Message: "could not generate fix suggestion",
			}, nil
		}
		return monitor.Result{}, fmt.Errorf("fix provider: %w", err)
	}

	riskScore := RiskScore(problem, suggestion)

	if !p.engine.ShouldAutoApply(problem.Type, suggestion.Confidence, riskScore) {
		// No state mutation for rejected-without-attempt: only
		// attempted fixes become interventions.
		return monitor.Result{
			Success:          false,
			Message:          "fix generated, requires manual approval",
			Confidence:       suggestion.Confidence,
			RiskScore:        riskScore,
			RequiresApproval: true,
			Details: map[string]any{
				"suggestion": suggestion,
			},
		}, nil
	}

	rec := p.deployer.Deploy(ctx, deploy.FixRequest{
		ProblemType: problem.Type,
		Description: fmt.Sprintf("automated fix: %s", suggestion.Description),
		FilePath:    p.targetFile(problem),
		Content:     suggestion.Content,
		Confidence:  suggestion.Confidence,
		InitiatedBy: "ai_system",
	})

	outcome := learning.OutcomeFailure
	if rec.Status == deploy.StatusCompleted {
		outcome = learning.OutcomeSuccess
	}
	if err := p.engine.RecordIntervention(learning.Intervention{
		ProblemType:  problem.Type,
		Description:  problem.Description,
		Solution:     suggestion.Description,
		Confidence:   suggestion.Confidence,
		RiskScore:    riskScore,
		Outcome:      outcome,
		Timestamp:    rec.StartTime,
		DeploymentID: rec.ID,
	}); err != nil {
		p.logger.Error("recording intervention failed", "error", err)
	}

	return monitor.Result{
		Success:      rec.Status == deploy.StatusCompleted,
		Message:      fmt.Sprintf("fix applied automatically (deployment %s: %s)", rec.ID, rec.Status),
		Confidence:   suggestion.Confidence,
		RiskScore:    riskScore,
		DeploymentID: rec.ID,
		AutoApplied:  true,
	}, nil
}

func (p *CodeFixPlugin) targetFile(problem monitor.Problem) string {
	if f, ok := problem.Metadata["file"].(string); ok && f != "" {
		return f
	}
	return p.cfg.TargetFile
}
