// Package store persists the slave addresses assigned to named sensors.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

type document struct {
	Sensors map[string]uint8 `json:"sensors"`
}

// Store is a JSON file {"sensors": {"<name>": <address>}}.
type Store struct {
	path    string
	mu      sync.Mutex
	sensors map[string]uint8
}

// Open reads the store at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, sensors: make(map[string]uint8)}
	bb, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading address file: %w", err)
	}
	var doc document
	if err := json.Unmarshal(bb, &doc); err != nil {
		return nil, fmt.Errorf("error decoding address file %s: %w", path, err)
	}
	for name, a := range doc.Sensors {
		s.sensors[name] = a
	}
	return s, nil
}

func (s *Store) Address(name string) (uint8, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.sensors[name]
	return a, ok
}

func (s *Store) Set(name string, address uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors[name] = address
}

// Names returns the stored sensor names in alphabetical order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.sensors))
	for n := range s.sensors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Save writes the store to a temporary file next to it and renames it over
// the original.
func (s *Store) Save() error {
	s.mu.Lock()
	bb, err := json.MarshalIndent(document{Sensors: s.sensors}, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("error saving address file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(bb, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("error saving address file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error saving address file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("error saving address file: %w", err)
	}
	return nil
}
