package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// State is the key/value store shared by the steps of one run. Keys are step
// names (plus any initial input keys); a step's output is stored under its
// own name by the scheduler once the step succeeds.
//
// Writes only happen between batches, so readers never observe a partially
// committed batch. The lock guards readers that outlive their step, such as
// goroutines a step body leaves behind.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewState creates a state seeded with a copy of initial.
func NewState(initial map[string]any) *State {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &State{values: values}
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key is present.
func (s *State) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Keys returns the stored keys in sorted order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot returns a shallow copy of the stored values.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Decode converts the value under key into out through a JSON round trip.
// Use it for values restored from a checkpoint, whose concrete Go types are
// the generic JSON ones.
func (s *State) Decode(key string, out any) error {
	v, ok := s.Get(key)
	if !ok {
		return fmt.Errorf("state key %q not found", key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state key %q: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode state key %q: %w", key, err)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	if values == nil {
		values = make(map[string]any)
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

func (s *State) set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Lookup returns the value under key asserted to T. ok is false when the key
// is absent or holds a different type.
func Lookup[T any](s *State, key string) (T, bool) {
	var zero T
	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
