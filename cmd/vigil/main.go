// vigil is a pluggable monitoring and self-remediation agent. It
// collects metrics, detects problems, and applies and deploys fixes
// automatically when the learned statistics and safety gates allow it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/vigilops/vigil/internal/config"
	"github.com/vigilops/vigil/internal/server"
	"github.com/vigilops/vigil/pkg/deploy"
	"github.com/vigilops/vigil/pkg/learning"
	"github.com/vigilops/vigil/pkg/monitor"
	"github.com/vigilops/vigil/pkg/remediation"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	once := flag.Bool("once", false, "run a single monitoring cycle and exit")
	flag.Parse()

	if err := run(*configPath, *once); err != nil {
		fmt.Fprintf(os.Stderr, "vigil: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := monitor.NewRegistry(logger)
	logBuffer := monitor.NewLogBuffer(1000)

	if err := registerPlugins(cfg, registry, logBuffer, logger); err != nil {
		return err
	}

	scheduler := monitor.NewScheduler(monitor.SchedulerConfig{
		Interval:    cfg.MonitoringInterval.Std(),
		HistorySize: cfg.HistorySize,
	}, registry, monitor.NewReporter(os.Stdout), logger)

	var learnEngine *learning.Engine
	var deployEngine *deploy.Engine
	if cfg.Learning.Enabled && cfg.Deployment.Enabled {
		trigger := newHistoryTrigger(scheduler.History(), cfg.Safety.RollbackTriggers, logger)
		learnEngine, deployEngine, err = buildRemediation(cfg, registry, trigger, logger)
		if err != nil {
			return err
		}
		defer deployEngine.Close()
	}

	registry.InitAll(ctx)
	defer registry.CloseAll()

	if once {
		scheduler.RunCycle(ctx)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := scheduler.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.HTTP.Enabled {
		srv := server.New(cfg.HTTP.Addr, registry, scheduler, learnEngine, deployEngine, logger)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	return g.Wait()
}

func registerPlugins(cfg *config.Config, registry *monitor.Registry, logBuffer *monitor.LogBuffer, logger *slog.Logger) error {
	if err := registry.RegisterCollector(monitor.NewRuntimeCollector(logger)); err != nil {
		return err
	}
	if err := registry.RegisterDetector(monitor.NewThresholdDetector(cfg.Thresholds, logger)); err != nil {
		return err
	}
	if cfg.LogFile != "" {
		if err := registry.RegisterCollector(monitor.NewLogTailCollector(cfg.LogFile, logBuffer, logger)); err != nil {
			return err
		}
	}
	patternDetector, err := monitor.NewLogPatternDetector(logBuffer, cfg.LogPatterns, logger)
	if err != nil {
		return fmt.Errorf("building log pattern detector: %w", err)
	}
	return registry.RegisterDetector(patternDetector)
}

func buildRemediation(cfg *config.Config, registry *monitor.Registry, trigger deploy.RollbackTrigger, logger *slog.Logger) (*learning.Engine, *deploy.Engine, error) {
	store, err := learning.NewStore(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	learnEngine, err := learning.NewEngine(learning.Config{
		MinConfidence:         cfg.Learning.MinConfidence,
		MaxRiskScore:          cfg.Learning.MaxRiskScore,
		MinSuccessProbability: cfg.Learning.MinSuccessProbability,
		MaxDeploymentsPerHour: cfg.Learning.MaxDeploymentsPerHour,
		RequireApproval:       cfg.Learning.RequireApproval,
		RetrainFrequency:      cfg.Learning.RetrainFrequency,
	}, store, logger)
	if err != nil {
		return nil, nil, err
	}

	repo, err := deploy.OpenGitRepo(cfg.Deployment.RepoPath)
	if err != nil {
		return nil, nil, fmt.Errorf("deployment requires a git repo: %w", err)
	}
	runner := deploy.NewShellRunner(cfg.Deployment.CommandTimeout.Std(), logger)
	releaser := deploy.NewExecReleaser(
		cfg.Deployment.UseDocker,
		cfg.Deployment.DockerImage,
		cfg.Deployment.RestartCommand,
		cfg.Deployment.RepoPath,
		logger,
	)
	deployEngine := deploy.NewEngine(deploy.Config{
		RepoPath:                 cfg.Deployment.RepoPath,
		BackupDir:                cfg.Deployment.BackupDir,
		TestCommands:             cfg.Deployment.TestCommands,
		DirectThreshold:          cfg.Deployment.DirectThreshold,
		CanaryThreshold:          cfg.Deployment.CanaryThreshold,
		BusinessHoursRestriction: cfg.Safety.BusinessHoursRestriction,
		MaxConcurrent:            cfg.Safety.MaxConcurrentDeployments,
		MonitoringPeriod:         cfg.Safety.MonitoringPeriod.Std(),
	}, repo, runner, releaser, trigger, logger)

	plugin := remediation.NewCodeFixPlugin(remediation.Config{
		TargetFile: cfg.Deployment.TargetFile,
	}, learnEngine, deployEngine, remediation.NewRuleTableProvider(), logger)
	if err := registry.RegisterRemediator(plugin); err != nil {
		return nil, nil, err
	}
	return learnEngine, deployEngine, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
