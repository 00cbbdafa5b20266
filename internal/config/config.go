package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigilops/vigil/pkg/monitor"
)

// Duration wraps time.Duration with YAML support for values like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full framework configuration.
type Config struct {
	ServerType         string   `yaml:"server_type"`
	MonitoringInterval Duration `yaml:"monitoring_interval"`
	HistorySize        int      `yaml:"history_size"`
	DataDir            string   `yaml:"data_dir"`
	LogFile            string   `yaml:"log_file"` // application log to tail; empty disables tailing
	LogLevel           string   `yaml:"log_level"`
	LogFormat          string   `yaml:"log_format"` // "text" or "json"

	Thresholds  map[string]monitor.Threshold `yaml:"thresholds"`
	LogPatterns []monitor.PatternConfig      `yaml:"log_patterns"`

	Learning   Learning   `yaml:"learning"`
	Deployment Deployment `yaml:"deployment"`
	Safety     Safety     `yaml:"safety"`
	HTTP       HTTP       `yaml:"http"`
}

// Learning configures the intervention learning engine.
type Learning struct {
	Enabled               bool    `yaml:"enabled"`
	MinConfidence         float64 `yaml:"min_confidence"`
	MaxRiskScore          float64 `yaml:"max_risk_score"`
	MinSuccessProbability float64 `yaml:"min_success_probability"`
	MaxDeploymentsPerHour int     `yaml:"max_deployments_per_hour"`
	RequireApproval       bool    `yaml:"require_approval"`
	RetrainFrequency      int     `yaml:"retrain_frequency"`
}

// Deployment configures the deployment engine and release executor.
type Deployment struct {
	Enabled         bool     `yaml:"enabled"`
	RepoPath        string   `yaml:"git_repo_path"`
	BackupDir       string   `yaml:"backup_directory"`
	TargetFile      string   `yaml:"target_file"`
	TestCommands    []string `yaml:"test_commands"`
	UseDocker       bool     `yaml:"use_docker"`
	DockerImage     string   `yaml:"docker_image_name"`
	RestartCommand  string   `yaml:"restart_command"`
	CommandTimeout  Duration `yaml:"command_timeout"`
	DirectThreshold float64  `yaml:"direct_threshold"`
	CanaryThreshold float64  `yaml:"canary_threshold"`
}

// Safety configures the deployment safety gate and post-deploy watch.
type Safety struct {
	BusinessHoursRestriction bool               `yaml:"business_hours_restriction"`
	MaxConcurrentDeployments int                `yaml:"max_concurrent_deployments"`
	MonitoringPeriod         Duration           `yaml:"monitoring_period"`
	RollbackTriggers         map[string]float64 `yaml:"auto_rollback_triggers"`
}

// HTTP configures the status API server.
type HTTP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ServerType:         "generic",
		MonitoringInterval: Duration(30 * time.Second),
		HistorySize:        1000,
		DataDir:            "./data",
		LogLevel:           "info",
		LogFormat:          "text",
		Thresholds:         monitor.DefaultThresholds(),
		Learning: Learning{
			Enabled:               true,
			MinConfidence:         0.75,
			MaxRiskScore:          0.3,
			MinSuccessProbability: 0.8,
			MaxDeploymentsPerHour: 2,
			RequireApproval:       true,
			RetrainFrequency:      50,
		},
		Deployment: Deployment{
			RepoPath:        ".",
			BackupDir:       "./backups",
			TargetFile:      "src/main.go",
			TestCommands:    []string{"go test ./..."},
			DockerImage:     "vigil-target",
			CommandTimeout:  Duration(5 * time.Minute),
			DirectThreshold: 0.9,
			CanaryThreshold: 0.7,
		},
		Safety: Safety{
			BusinessHoursRestriction: true,
			MaxConcurrentDeployments: 1,
			MonitoringPeriod:         Duration(10 * time.Minute),
			RollbackTriggers: map[string]float64{
				"error_rate_increase":    0.5,
				"response_time_increase": 1.0,
				"availability_drop":      0.05,
			},
		},
		HTTP: HTTP{
			Enabled: true,
			Addr:    ":8090",
		},
	}
}

// Load reads the YAML file at path, merged over defaults, then applies
// environment overrides. A missing file is not an error; defaults are
// used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults apply
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VIGIL_MONITORING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.MonitoringInterval = Duration(d)
		}
	}
	if v := os.Getenv("VIGIL_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VIGIL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("VIGIL_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("VIGIL_REQUIRE_APPROVAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Learning.RequireApproval = b
		}
	}
}

func (c *Config) validate() error {
	if c.MonitoringInterval.Std() <= 0 {
		return fmt.Errorf("monitoring_interval must be positive")
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive")
	}
	if c.Learning.MinConfidence < 0 || c.Learning.MinConfidence > 1 {
		return fmt.Errorf("learning.min_confidence must be in [0,1]")
	}
	if c.Learning.MaxRiskScore < 0 || c.Learning.MaxRiskScore > 1 {
		return fmt.Errorf("learning.max_risk_score must be in [0,1]")
	}
	if c.Learning.MinSuccessProbability < 0 || c.Learning.MinSuccessProbability > 1 {
		return fmt.Errorf("learning.min_success_probability must be in [0,1]")
	}
	if c.Deployment.CanaryThreshold > c.Deployment.DirectThreshold {
		return fmt.Errorf("deployment.canary_threshold must not exceed direct_threshold")
	}
	return nil
}
