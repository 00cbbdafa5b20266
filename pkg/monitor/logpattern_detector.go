package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

// LogPattern pairs a compiled expression with the problem it signals.
type LogPattern struct {
	Name        string
	Pattern     *regexp.Regexp
	Severity    Severity
	Description string
}

// PatternConfig is the configuration form of a custom log pattern.
type PatternConfig struct {
	Name        string `json:"name" yaml:"name"`
	Regex       string `json:"regex" yaml:"regex"`
	Severity    string `json:"severity" yaml:"severity"`
	Description string `json:"description" yaml:"description"`
}

func defaultLogPatterns() []LogPattern {
	return []LogPattern{
		{
			Name:        "database_connection_error",
			Pattern:     regexp.MustCompile(`(?i)(connection.*refused|could not connect|timeout.*database)`),
			Severity:    SeverityCritical,
			Description: "Database connection issues detected",
		},
		{
			Name:        "out_of_memory",
			Pattern:     regexp.MustCompile(`(?i)(out of memory|outofmemoryerror|memory allocation failed)`),
			Severity:    SeverityCritical,
			Description: "Memory exhaustion detected",
		},
		{
			Name:        "authentication_failure",
			Pattern:     regexp.MustCompile(`(?i)(auth.*failed|unauthorized|access denied|login.*failed)`),
			Severity:    SeverityMedium,
			Description: "Authentication failures detected",
		},
		{
			Name:        "api_timeout",
			Pattern:     regexp.MustCompile(`(?i)(timeout|request.*timed out|connection timeout)`),
			Severity:    SeverityMedium,
			Description: "API timeout issues detected",
		},
	}
}

// LogPatternDetector matches known failure patterns against the recent
// log window and also flags abnormal error frequency. Log tailing and
// line parsing happen outside the core; the detector only reads the
// structured buffer.
type LogPatternDetector struct {
	patterns []LogPattern
	buffer   *LogBuffer
	window   time.Duration
	logger   *slog.Logger
	// error-frequency levels for the trailing window
	errorWarnCount int
	errorHighCount int
}

func NewLogPatternDetector(buffer *LogBuffer, custom []PatternConfig, logger *slog.Logger) (*LogPatternDetector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	patterns := defaultLogPatterns()
	for _, pc := range custom {
		re, err := regexp.Compile("(?i)" + pc.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pc.Name, err)
		}
		sev, err := ParseSeverity(pc.Severity)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pc.Name, err)
		}
		patterns = append(patterns, LogPattern{
			Name:        pc.Name,
			Pattern:     re,
			Severity:    sev,
			Description: pc.Description,
		})
	}
	return &LogPatternDetector{
		patterns:       patterns,
		buffer:         buffer,
		window:         10 * time.Minute,
		logger:         logger,
		errorWarnCount: 20,
		errorHighCount: 50,
	}, nil
}

func (d *LogPatternDetector) Name() string    { return "log_pattern_detector" }
func (d *LogPatternDetector) Version() string { return "1.0.0" }

func (d *LogPatternDetector) Init(ctx context.Context) error {
	d.logger.Info("log pattern detector initialized", "patterns", len(d.patterns))
	return nil
}

func (d *LogPatternDetector) Close() error { return nil }

func (d *LogPatternDetector) Detect(ctx context.Context, snap *Snapshot, history []*Snapshot) ([]Problem, error) {
	if d.buffer == nil {
		return nil, nil
	}
	recent := d.buffer.Recent(time.Now().Add(-d.window))
	if len(recent) == 0 {
		return nil, nil
	}

	var problems []Problem
	for _, pattern := range d.patterns {
		var matches []LogEntry
		for _, entry := range recent {
			if pattern.Pattern.MatchString(entry.Message) || pattern.Pattern.MatchString(entry.Raw) {
				matches = append(matches, entry)
			}
		}
		if len(matches) == 0 {
			continue
		}
		samples := make([]string, 0, 3)
		for _, m := range matches {
			if len(samples) == 3 {
				break
			}
			samples = append(samples, m.Message)
		}
		problems = append(problems, Problem{
			Type:        "log_pattern_" + pattern.Name,
			Severity:    pattern.Severity,
			Description: fmt.Sprintf("%s (%d occurrences)", pattern.Description, len(matches)),
			Timestamp:   time.Now(),
			Metadata: map[string]any{
				"pattern_name":    pattern.Name,
				"match_count":     len(matches),
				"sample_messages": samples,
			},
		})
	}

	if p, ok := d.detectErrorFrequency(recent); ok {
		problems = append(problems, p)
	}
	return problems, nil
}

func (d *LogPatternDetector) detectErrorFrequency(recent []LogEntry) (Problem, bool) {
	errors := 0
	for _, entry := range recent {
		if entry.Level == "ERROR" || entry.Level == "FATAL" {
			errors++
		}
	}
	if errors <= d.errorWarnCount {
		return Problem{}, false
	}
	severity := SeverityMedium
	if errors > d.errorHighCount {
		severity = SeverityHigh
	}
	return Problem{
		Type:        "log_error_frequency_high",
		Severity:    severity,
		Description: fmt.Sprintf("High error frequency: %d errors in %s", errors, d.window),
		Timestamp:   time.Now(),
		Metadata:    map[string]any{"error_count": errors},
	}, true
}
