package settings

import (
	"sync"
)

// Memory is an in-process settings store. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get returns the value for key, or "" if unset.
func (m *Memory) Get(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key]
}

// Set validates and stores value. An empty value removes the key.
func (m *Memory) Set(key, value string) error {
	v, err := Validate(key, value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v == "" {
		delete(m.values, key)
		return nil
	}
	m.values[key] = v
	return nil
}

// Delete removes key.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// All returns a copy of every stored setting.
func (m *Memory) All() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
