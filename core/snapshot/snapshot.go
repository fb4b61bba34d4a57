// Package snapshot keeps the current and previous normalized document per vehicle and domain.
package snapshot

import (
	"strconv"
	"strings"
	"sync"

	"github.com/evcc-io/idconnect/core/normalize"
)

// Snapshot is a flattened document keyed by relative path
type Snapshot map[string]normalize.Tuple

// New creates a snapshot from normalized tuples
func New(tuples []normalize.Tuple) Snapshot {
	res := make(Snapshot, len(tuples))
	for _, t := range tuples {
		if !t.Channel {
			res[t.Path] = t
		}
	}
	return res
}

// Merge returns a copy of s with all values of o added below prefix
func (s Snapshot) Merge(prefix string, o Snapshot) Snapshot {
	res := make(Snapshot, len(s)+len(o))
	for k, v := range s {
		res[k] = v
	}
	for k, v := range o {
		v.Path = prefix + "." + k
		res[v.Path] = v
	}
	return res
}

// Without returns a copy of the snapshot without the paths below prefix
func (s Snapshot) Without(prefix string) Snapshot {
	res := make(Snapshot, len(s))
	for k, v := range s {
		if !strings.HasPrefix(k, prefix+".") {
			res[k] = v
		}
	}
	return res
}

// Get returns the value at path
func (s Snapshot) Get(path string) (interface{}, bool) {
	t, ok := s[path]
	if !ok {
		return nil, false
	}
	return t.Value, true
}

// String returns the value at path as string or empty string
func (s Snapshot) String(path string) string {
	v, ok := s.Get(path)
	if !ok || v == nil {
		return ""
	}

	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Float returns the numeric value at path
func (s Snapshot) Float(path string) (float64, bool) {
	v, ok := s.Get(path)
	if !ok {
		return 0, false
	}

	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool returns the boolean value at path, missing values are false
func (s Snapshot) Bool(path string) bool {
	v, _ := s.Get(path)
	b, _ := v.(bool)
	return b
}

// Sub returns all values below prefix keyed by their remaining path
func (s Snapshot) Sub(prefix string) map[string]interface{} {
	prefix = strings.TrimSuffix(prefix, ".") + "."

	res := make(map[string]interface{})
	for k, t := range s {
		if strings.HasPrefix(k, prefix) {
			res[strings.TrimPrefix(k, prefix)] = t.Value
		}
	}

	return res
}

type key struct {
	vin, domain string
}

type generations struct {
	current  Snapshot
	previous Snapshot
	hasPrev  bool
}

// Store holds the current and previous snapshot per vehicle and domain
type Store struct {
	mu   sync.RWMutex
	gens map[key]*generations
}

// NewStore creates a snapshot store
func NewStore() *Store {
	return &Store{gens: make(map[key]*generations)}
}

// Advance replaces the current snapshot, the former current snapshot becomes the previous one.
// It returns the new previous snapshot and whether it existed.
func (s *Store) Advance(vin, domain string, snap Snapshot) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{vin, domain}
	g, ok := s.gens[k]
	if !ok {
		s.gens[k] = &generations{current: snap}
		return nil, false
	}

	g.previous, g.current, g.hasPrev = g.current, snap, true

	return g.previous, true
}

// Current returns the current snapshot
func (s *Store) Current(vin, domain string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if g, ok := s.gens[key{vin, domain}]; ok {
		return g.current, true
	}

	return nil, false
}

// Previous returns the previous snapshot
func (s *Store) Previous(vin, domain string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if g, ok := s.gens[key{vin, domain}]; ok && g.hasPrev {
		return g.previous, true
	}

	return nil, false
}

// Reset drops all snapshots
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens = make(map[key]*generations)
}
