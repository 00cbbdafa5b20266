package deploy

import (
	"context"
	"log/slog"
	"os/exec"
	"time"
)

// CommandResult captures one validation command run.
type CommandResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

// ValidationReport aggregates the validation command set. Success means
// every command exited zero.
type ValidationReport struct {
	Success bool            `json:"success"`
	Results []CommandResult `json:"results"`
	Failed  []string        `json:"failed_commands,omitempty"`
}

// Runner executes the configured validation command set against the
// working tree. Implementations never return a Go error; command
// failures are part of the report.
type Runner interface {
	Run(ctx context.Context, dir string, commands []string) *ValidationReport
}

// ShellRunner runs each command through the shell with a per-command
// timeout.
type ShellRunner struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewShellRunner(timeout time.Duration, logger *slog.Logger) *ShellRunner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellRunner{Timeout: timeout, Logger: logger}
}

func (r *ShellRunner) Run(ctx context.Context, dir string, commands []string) *ValidationReport {
	report := &ValidationReport{Success: true}
	for _, command := range commands {
		result := r.runOne(ctx, dir, command)
		report.Results = append(report.Results, result)
		if result.ExitCode != 0 {
			report.Success = false
			report.Failed = append(report.Failed, command)
		}
	}
	return report
}

func (r *ShellRunner) runOne(ctx context.Context, dir, command string) CommandResult {
	cctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()

	result := CommandResult{Command: command, Output: string(out)}
	switch {
	case err == nil:
		result.ExitCode = 0
	case cmd.ProcessState != nil:
		result.ExitCode = cmd.ProcessState.ExitCode()
	default:
		// command never started
		result.ExitCode = -1
		result.Output = err.Error()
	}
	if result.ExitCode != 0 {
		r.Logger.Warn("validation command failed",
			"command", command, "exit_code", result.ExitCode)
	}
	return result
}
