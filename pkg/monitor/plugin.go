package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Plugin is the base contract shared by all plugin categories. The
// registry drives Init and Close; plugin-specific configuration is
// supplied at construction time.
type Plugin interface {
	Name() string
	Version() string
	Init(ctx context.Context) error
	Close() error
}

// Collector produces a metric key/value map once per cycle.
type Collector interface {
	Plugin
	Collect(ctx context.Context) (map[string]any, error)
}

// Detector inspects the current snapshot plus the rolling history and
// flags problems. Detectors hold no per-cycle state.
type Detector interface {
	Plugin
	Detect(ctx context.Context, snap *Snapshot, history []*Snapshot) ([]Problem, error)
}

// Result describes the outcome of one remediation attempt. Every attempt
// yields a Result; remediators never surface a bare error to the cycle.
type Result struct {
	Plugin           string         `json:"plugin"`
	Success          bool           `json:"success"`
	Message          string         `json:"message"`
	Confidence       float64        `json:"confidence"`
	RiskScore        float64        `json:"risk_score,omitempty"`
	DeploymentID     string         `json:"deployment_id,omitempty"`
	AutoApplied      bool           `json:"auto_applied"`
	RequiresApproval bool           `json:"requires_approval,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
}

// Remediator may attempt to resolve a problem. CanHandle is consulted
// first; Remediate runs only for problems the plugin claimed.
type Remediator interface {
	Plugin
	CanHandle(problem Problem) bool
	Remediate(ctx context.Context, problem Problem, rctx map[string]any) (Result, error)
}

// PluginStatus is the per-plugin entry of the cycle report.
type PluginStatus struct {
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	LastUpdate time.Time `json:"last_update"`
}

// Registry owns the three typed plugin collections. Registration order
// is preserved so metric merging stays deterministic.
type Registry struct {
	mu          sync.RWMutex
	logger      *slog.Logger
	collectors  []Collector
	detectors   []Detector
	remediators []Remediator
	names       map[string]string // name -> category
	failed      map[string]error  // plugins whose Init failed
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		names:  make(map[string]string),
		failed: make(map[string]error),
	}
}

func (r *Registry) register(name, category string) error {
	if existing, ok := r.names[name]; ok {
		return fmt.Errorf("plugin %q already registered as %s", name, existing)
	}
	r.names[name] = category
	return nil
}

func (r *Registry) RegisterCollector(c Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.register(c.Name(), "collector"); err != nil {
		return err
	}
	r.collectors = append(r.collectors, c)
	r.logger.Info("registered plugin", "name", c.Name(), "type", "collector")
	return nil
}

func (r *Registry) RegisterDetector(d Detector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.register(d.Name(), "detector"); err != nil {
		return err
	}
	r.detectors = append(r.detectors, d)
	r.logger.Info("registered plugin", "name", d.Name(), "type", "detector")
	return nil
}

func (r *Registry) RegisterRemediator(rem Remediator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.register(rem.Name(), "remediator"); err != nil {
		return err
	}
	r.remediators = append(r.remediators, rem)
	r.logger.Info("registered plugin", "name", rem.Name(), "type", "remediator")
	return nil
}

// InitAll initializes every registered plugin. A plugin whose Init fails
// is logged and excluded from cycles; initialization of the remaining
// plugins continues.
func (r *Registry) InitAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.allPlugins() {
		if err := p.Init(ctx); err != nil {
			r.logger.Error("plugin init failed", "name", p.Name(), "error", err)
			r.failed[p.Name()] = err
			continue
		}
		r.logger.Info("initialized plugin", "name", p.Name())
	}
}

// CloseAll runs cleanup on every plugin, logging failures.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.allPlugins() {
		if err := p.Close(); err != nil {
			r.logger.Error("plugin cleanup failed", "name", p.Name(), "error", err)
		}
	}
}

func (r *Registry) allPlugins() []Plugin {
	out := make([]Plugin, 0, len(r.collectors)+len(r.detectors)+len(r.remediators))
	for _, c := range r.collectors {
		out = append(out, c)
	}
	for _, d := range r.detectors {
		out = append(out, d)
	}
	for _, rem := range r.remediators {
		out = append(out, rem)
	}
	return out
}

func (r *Registry) active(name string) bool {
	_, bad := r.failed[name]
	return !bad
}

// Collectors returns the active collectors in registration order.
func (r *Registry) Collectors() []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Collector, 0, len(r.collectors))
	for _, c := range r.collectors {
		if r.active(c.Name()) {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) Detectors() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Detector, 0, len(r.detectors))
	for _, d := range r.detectors {
		if r.active(d.Name()) {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) Remediators() []Remediator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Remediator, 0, len(r.remediators))
	for _, rem := range r.remediators {
		if r.active(rem.Name()) {
			out = append(out, rem)
		}
	}
	return out
}

// Status reports every registered plugin, including ones whose Init
// failed.
func (r *Registry) Status() []PluginStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	var out []PluginStatus
	appendStatus := func(p Plugin, category string) {
		status := "running"
		if _, bad := r.failed[p.Name()]; bad {
			status = "failed"
		}
		out = append(out, PluginStatus{
			Name:       p.Name(),
			Version:    p.Version(),
			Type:       category,
			Status:     status,
			LastUpdate: now,
		})
	}
	for _, c := range r.collectors {
		appendStatus(c, "collector")
	}
	for _, d := range r.detectors {
		appendStatus(d, "detector")
	}
	for _, rem := range r.remediators {
		appendStatus(rem, "remediator")
	}
	return out
}
