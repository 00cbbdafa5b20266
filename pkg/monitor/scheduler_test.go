package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubCollector struct {
	name   string
	values map[string]any
	err    error
}

func (s *stubCollector) Name() string                   { return s.name }
func (s *stubCollector) Version() string                { return "1.0.0" }
func (s *stubCollector) Init(ctx context.Context) error { return nil }
func (s *stubCollector) Close() error                   { return nil }

func (s *stubCollector) Collect(ctx context.Context) (map[string]any, error) {
	return s.values, s.err
}

type stubDetector struct {
	name string
	// seen captures what the detector observed, for assertions
	seen     *Snapshot
	seenHist int
	problems []Problem
	err      error
}

func (s *stubDetector) Name() string                   { return s.name }
func (s *stubDetector) Version() string                { return "1.0.0" }
func (s *stubDetector) Init(ctx context.Context) error { return nil }
func (s *stubDetector) Close() error                   { return nil }

func (s *stubDetector) Detect(ctx context.Context, snap *Snapshot, history []*Snapshot) ([]Problem, error) {
	s.seen = snap
	s.seenHist = len(history)
	return s.problems, s.err
}

type stubRemediator struct {
	name    string
	handles string
	result  Result
	err     error
	calls   int
}

func (s *stubRemediator) Name() string                   { return s.name }
func (s *stubRemediator) Version() string                { return "1.0.0" }
func (s *stubRemediator) Init(ctx context.Context) error { return nil }
func (s *stubRemediator) Close() error                   { return nil }

func (s *stubRemediator) CanHandle(p Problem) bool { return p.Type == s.handles }

func (s *stubRemediator) Remediate(ctx context.Context, p Problem, rctx map[string]any) (Result, error) {
	s.calls++
	return s.result, s.err
}

func newTestScheduler(t *testing.T, registry *Registry, out *bytes.Buffer) *Scheduler {
	t.Helper()
	var reporter *Reporter
	if out != nil {
		reporter = NewReporter(out)
	}
	return NewScheduler(SchedulerConfig{HistorySize: 3}, registry, reporter, testLogger())
}

func TestCycleMergesCollectorsInOrder(t *testing.T) {
	registry := NewRegistry(testLogger())
	require.NoError(t, registry.RegisterCollector(&stubCollector{
		name:   "first",
		values: map[string]any{"cpu_usage": 10.0, "shared": "from_first"},
	}))
	require.NoError(t, registry.RegisterCollector(&stubCollector{
		name:   "second",
		values: map[string]any{"memory_usage": 20.0, "shared": "from_second"},
	}))
	detector := &stubDetector{name: "spy"}
	require.NoError(t, registry.RegisterDetector(detector))
	registry.InitAll(context.Background())

	s := newTestScheduler(t, registry, nil)
	s.RunCycle(context.Background())

	require.NotNil(t, detector.seen)
	assert.Equal(t, 10.0, detector.seen.Values["cpu_usage"])
	assert.Equal(t, 20.0, detector.seen.Values["memory_usage"])
	assert.Equal(t, "from_second", detector.seen.Values["shared"], "later registration wins on key collision")
}

func TestCycleIsolatesFailingCollector(t *testing.T) {
	registry := NewRegistry(testLogger())
	require.NoError(t, registry.RegisterCollector(&stubCollector{
		name: "broken",
		err:  errors.New("probe unreachable"),
	}))
	require.NoError(t, registry.RegisterCollector(&stubCollector{
		name:   "healthy",
		values: map[string]any{"disk_usage": 42.0},
	}))
	detector := &stubDetector{name: "spy"}
	require.NoError(t, registry.RegisterDetector(detector))
	registry.InitAll(context.Background())

	s := newTestScheduler(t, registry, nil)
	s.RunCycle(context.Background())

	require.NotNil(t, detector.seen)
	assert.Equal(t, 42.0, detector.seen.Values["disk_usage"])
	assert.NotContains(t, detector.seen.Values, "probe unreachable")
}

func TestCycleDetectionSeesCurrentSnapshot(t *testing.T) {
	registry := NewRegistry(testLogger())
	counter := 0.0
	require.NoError(t, registry.RegisterCollector(&stubCollector{name: "static"}))
	collect := func(ctx context.Context) (map[string]any, error) {
		counter++
		return map[string]any{"cycle": counter}, nil
	}
	require.NoError(t, registry.RegisterCollector(NewFuncCollector("counter", collect)))
	detector := &stubDetector{name: "spy"}
	require.NoError(t, registry.RegisterDetector(detector))
	registry.InitAll(context.Background())

	s := newTestScheduler(t, registry, nil)
	s.RunCycle(context.Background())
	assert.Equal(t, 1.0, detector.seen.Values["cycle"])
	assert.Equal(t, 1, detector.seenHist, "history includes the current snapshot")

	s.RunCycle(context.Background())
	assert.Equal(t, 2.0, detector.seen.Values["cycle"])
	assert.Equal(t, 2, detector.seenHist)
}

func TestHistoryIsBounded(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.InitAll(context.Background())
	s := newTestScheduler(t, registry, nil) // HistorySize: 3

	for i := 0; i < 10; i++ {
		s.RunCycle(context.Background())
	}
	assert.Equal(t, 3, s.History().Len())
}

func TestProblemLogEviction(t *testing.T) {
	log := NewProblemLog(3)
	for i := 0; i < 5; i++ {
		log.Append(Problem{Type: fmt.Sprintf("issue_%d", i), Timestamp: time.Now()})
	}
	all := log.All()
	require.Len(t, all, 3)
	assert.Equal(t, "issue_2", all[0].Type, "oldest entries are evicted first")
	assert.Equal(t, "issue_4", all[2].Type)
}

func TestProblemLogRecent(t *testing.T) {
	log := NewProblemLog(10)
	old := time.Now().Add(-time.Hour)
	log.Append(
		Problem{Type: "stale", Timestamp: old},
		Problem{Type: "fresh", Timestamp: time.Now()},
	)
	recent := log.Recent(time.Now().Add(-time.Minute))
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].Type)
}

func TestCycleAppendsProblemsToBoundedLog(t *testing.T) {
	registry := NewRegistry(testLogger())
	require.NoError(t, registry.RegisterDetector(&stubDetector{
		name:     "finder",
		problems: []Problem{{Type: "api_timeout", Severity: SeverityMedium, Timestamp: time.Now()}},
	}))
	registry.InitAll(context.Background())

	s := newTestScheduler(t, registry, nil) // HistorySize: 3 bounds the problem window too
	for i := 0; i < 10; i++ {
		s.RunCycle(context.Background())
	}

	assert.Equal(t, 3, s.Problems().Len(), "problem window stays bounded")
	for _, p := range s.Problems().All() {
		assert.Equal(t, "api_timeout", p.Type)
	}
}

func TestCycleRemediation(t *testing.T) {
	registry := NewRegistry(testLogger())
	problem := Problem{Type: "api_timeout", Severity: SeverityMedium, Timestamp: time.Now()}
	require.NoError(t, registry.RegisterDetector(&stubDetector{name: "finder", problems: []Problem{problem}}))

	matching := &stubRemediator{name: "fixer", handles: "api_timeout", result: Result{Success: true, Message: "fixed"}}
	other := &stubRemediator{name: "bystander", handles: "disk_full"}
	broken := &stubRemediator{name: "broken", handles: "api_timeout", err: errors.New("boom")}
	require.NoError(t, registry.RegisterRemediator(matching))
	require.NoError(t, registry.RegisterRemediator(other))
	require.NoError(t, registry.RegisterRemediator(broken))
	registry.InitAll(context.Background())

	var out bytes.Buffer
	s := newTestScheduler(t, registry, &out)
	s.RunCycle(context.Background())

	assert.Equal(t, 1, matching.calls)
	assert.Equal(t, 0, other.calls, "remediator only sees problems it claims")
	assert.Equal(t, 1, broken.calls, "remediator errors are isolated")

	var report CycleReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Results, 1)
	assert.Equal(t, "fixer", report.Results[0].Plugin)
	assert.True(t, report.Results[0].Success)
}

func TestCycleReportShape(t *testing.T) {
	registry := NewRegistry(testLogger())
	require.NoError(t, registry.RegisterCollector(&stubCollector{
		name:   "static",
		values: map[string]any{"cpu_usage": 99.9},
	}))
	require.NoError(t, registry.RegisterDetector(&stubDetector{
		name: "finder",
		problems: []Problem{{
			Type:        "cpu_usage_critical",
			Severity:    SeverityCritical,
			Description: "cpu pegged",
			Timestamp:   time.Now(),
		}},
	}))
	registry.InitAll(context.Background())

	var out bytes.Buffer
	s := newTestScheduler(t, registry, &out)
	s.RunCycle(context.Background())

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out.Bytes(), &raw))
	assert.Contains(t, raw, "metrics")
	assert.Contains(t, raw, "problems")
	assert.Contains(t, raw, "plugins")

	var report CycleReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Problems, 1)
	assert.Equal(t, SeverityCritical, report.Problems[0].Severity)
	assert.Contains(t, out.String(), `"CRITICAL"`, "severity serializes as its name")
	assert.Len(t, report.Plugins, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.InitAll(context.Background())
	s := NewScheduler(SchedulerConfig{Interval: 10 * time.Millisecond, HistorySize: 3}, registry, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
	assert.GreaterOrEqual(t, s.History().Len(), 1, "first cycle runs immediately")
}

func TestCycleSurvivesPanickingDetector(t *testing.T) {
	registry := NewRegistry(testLogger())
	require.NoError(t, registry.RegisterDetector(&panicDetector{}))
	registry.InitAll(context.Background())
	s := NewScheduler(SchedulerConfig{HistorySize: 3, ErrorBackoff: time.Millisecond}, registry, nil, testLogger())

	assert.NotPanics(t, func() {
		s.safeCycle(context.Background())
	})
}

type panicDetector struct{}

func (p *panicDetector) Name() string                   { return "panicky" }
func (p *panicDetector) Version() string                { return "1.0.0" }
func (p *panicDetector) Init(ctx context.Context) error { return nil }
func (p *panicDetector) Close() error                   { return nil }

func (p *panicDetector) Detect(ctx context.Context, snap *Snapshot, history []*Snapshot) ([]Problem, error) {
	panic("detector bug")
}
