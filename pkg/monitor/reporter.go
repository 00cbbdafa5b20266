package monitor

import (
	"encoding/json"
	"io"
	"sync"
)

// CycleReport is emitted once per monitoring cycle. Severities serialize
// as their names and timestamps as RFC 3339 strings.
type CycleReport struct {
	Metrics  *Snapshot      `json:"metrics"`
	Problems []Problem      `json:"problems"`
	Results  []Result       `json:"results,omitempty"`
	Plugins  []PluginStatus `json:"plugins"`
}

// Reporter writes one JSON object per cycle to the configured sink,
// typically stdout.
type Reporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewReporter(w io.Writer) *Reporter {
	return &Reporter{enc: json.NewEncoder(w)}
}

func (r *Reporter) Emit(snap *Snapshot, problems []Problem, results []Result, plugins []PluginStatus) error {
	if problems == nil {
		problems = []Problem{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(CycleReport{
		Metrics:  snap,
		Problems: problems,
		Results:  results,
		Plugins:  plugins,
	})
}
