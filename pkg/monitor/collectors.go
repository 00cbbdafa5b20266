package monitor

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// RuntimeCollector samples the Go runtime of the monitoring process.
// Host and service discovery live outside the core; this collector keeps
// the cycle self-contained when no external collectors are registered.
type RuntimeCollector struct {
	started time.Time
	logger  *slog.Logger
}

func NewRuntimeCollector(logger *slog.Logger) *RuntimeCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuntimeCollector{logger: logger}
}

func (c *RuntimeCollector) Name() string    { return "runtime_collector" }
func (c *RuntimeCollector) Version() string { return "1.0.0" }

func (c *RuntimeCollector) Init(ctx context.Context) error {
	c.started = time.Now()
	return nil
}

func (c *RuntimeCollector) Close() error { return nil }

func (c *RuntimeCollector) Collect(ctx context.Context) (map[string]any, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return map[string]any{
		"goroutines":       runtime.NumGoroutine(),
		"heap_alloc_bytes": ms.HeapAlloc,
		"heap_objects":     ms.HeapObjects,
		"gc_cycles":        ms.NumGC,
		"uptime_seconds":   time.Since(c.started).Seconds(),
	}, nil
}

// FuncCollector adapts a plain function to the Collector contract. It is
// the boundary hook for external metric sources such as process or
// container probes.
type FuncCollector struct {
	name    string
	collect func(ctx context.Context) (map[string]any, error)
}

func NewFuncCollector(name string, collect func(ctx context.Context) (map[string]any, error)) *FuncCollector {
	return &FuncCollector{name: name, collect: collect}
}

func (c *FuncCollector) Name() string                   { return c.name }
func (c *FuncCollector) Version() string                { return "1.0.0" }
func (c *FuncCollector) Init(ctx context.Context) error { return nil }
func (c *FuncCollector) Close() error                   { return nil }

func (c *FuncCollector) Collect(ctx context.Context) (map[string]any, error) {
	return c.collect(ctx)
}
