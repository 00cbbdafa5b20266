package monitor

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Severity ranks detected problems. The ordering is total:
// LOW < MEDIUM < HIGH < CRITICAL.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("SEVERITY(%d)", int(s))
	}
}

// ParseSeverity converts a severity name to its Severity value.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "LOW":
		return SeverityLow, nil
	case "MEDIUM":
		return SeverityMedium, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", name)
	}
}

// MarshalJSON emits the severity name so downstream consumers never see
// the numeric rank.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Problem is an issue flagged by a detector during one monitoring cycle.
// Problems are immutable once created; remediators consume them in the
// same cycle they were produced.
type Problem struct {
	Type        string         `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Snapshot is the merged metric view produced by one collection pass.
type Snapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Values    map[string]any `json:"values"`
}

// Float returns the named metric as a float64 when it carries a numeric
// value of any width.
func (s *Snapshot) Float(name string) (float64, bool) {
	v, ok := s.Values[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// LogEntry is a structured log record supplied by an external tailer.
// Parsing raw log lines happens outside the core.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Source    string         `json:"source"`
	Raw       string         `json:"raw_line,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// History keeps a bounded rolling window of snapshots. The oldest entry
// is evicted once capacity is reached.
type History struct {
	mu       sync.RWMutex
	capacity int
	entries  []*Snapshot
}

// NewHistory creates a history window of the given capacity. A
// non-positive capacity falls back to 1000 entries.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1000
	}
	return &History{capacity: capacity}
}

func (h *History) Append(snap *Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, snap)
	if len(h.entries) > h.capacity {
		h.entries = h.entries[len(h.entries)-h.capacity:]
	}
}

// All returns the window contents oldest first. The returned slice is a
// copy; callers may not mutate the snapshots.
func (h *History) All() []*Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Snapshot, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// ProblemLog keeps a bounded rolling window of detected problems so
// trend analysis can look back across cycles. The oldest entries are
// evicted once capacity is reached.
type ProblemLog struct {
	mu       sync.RWMutex
	capacity int
	entries  []Problem
}

// NewProblemLog creates a problem window of the given capacity. A
// non-positive capacity falls back to 1000 entries.
func NewProblemLog(capacity int) *ProblemLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ProblemLog{capacity: capacity}
}

func (l *ProblemLog) Append(problems ...Problem) {
	if len(problems) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, problems...)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
}

// All returns the window contents oldest first. The returned slice is a
// copy; the problems themselves are immutable.
func (l *ProblemLog) All() []Problem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Problem, len(l.entries))
	copy(out, l.entries)
	return out
}

// Recent returns problems with a timestamp at or after the cutoff.
func (l *ProblemLog) Recent(since time.Time) []Problem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Problem
	for _, p := range l.entries {
		if !p.Timestamp.Before(since) {
			out = append(out, p)
		}
	}
	return out
}

func (l *ProblemLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LogBuffer is a bounded ring of log entries filled by an external log
// tailer and consumed by the pattern detector.
type LogBuffer struct {
	mu       sync.RWMutex
	capacity int
	entries  []LogEntry
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LogBuffer{capacity: capacity}
}

func (b *LogBuffer) Add(entries ...LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entries...)
	if len(b.entries) > b.capacity {
		b.entries = b.entries[len(b.entries)-b.capacity:]
	}
}

// Recent returns entries with a timestamp at or after the cutoff.
func (b *LogBuffer) Recent(since time.Time) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []LogEntry
	for _, e := range b.entries {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
