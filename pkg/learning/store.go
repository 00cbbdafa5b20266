package learning

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	interventionsFile = "interventions.json"
	modelsFile        = "models.json"
)

// Store persists the intervention log and model snapshots as JSON files
// under one directory so learned state survives process restarts.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating learning data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Load reads previously saved state. Missing files yield empty state,
// not an error.
func (s *Store) Load() ([]*Intervention, []*ModelSnapshot, error) {
	var interventions []*Intervention
	if err := s.readJSON(interventionsFile, &interventions); err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", interventionsFile, err)
	}
	var models []*ModelSnapshot
	if err := s.readJSON(modelsFile, &models); err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", modelsFile, err)
	}
	return interventions, models, nil
}

// Save writes both files atomically (write to temp, then rename).
func (s *Store) Save(interventions []*Intervention, models []*ModelSnapshot) error {
	if err := s.writeJSON(interventionsFile, interventions); err != nil {
		return fmt.Errorf("writing %s: %w", interventionsFile, err)
	}
	if err := s.writeJSON(modelsFile, models); err != nil {
		return fmt.Errorf("writing %s: %w", modelsFile, err)
	}
	return nil
}

func (s *Store) readJSON(name string, out any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}
