package beacon

import "sync"

// ExtrasManager holds client-wide extension fields attached to every beacon.
type ExtrasManager struct {
	extras map[string]string
	mu     sync.RWMutex
}

// NewExtrasManager creates an empty extras manager
func NewExtrasManager() *ExtrasManager {
	return &ExtrasManager{
		extras: make(map[string]string),
	}
}

// Set sets an extension field
func (m *ExtrasManager) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extras[key] = value
}

// Get returns an extension field and whether it is set
func (m *ExtrasManager) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.extras[key]
	return v, ok
}

// Delete removes an extension field
func (m *ExtrasManager) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.extras, key)
}

// GetAll returns all extension fields as a copy, or nil when empty
func (m *ExtrasManager) GetAll() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.extras) == 0 {
		return nil
	}
	result := make(map[string]string, len(m.extras))
	for k, v := range m.extras {
		result[k] = v
	}
	return result
}

// Merge overlays perCall on the stored fields. perCall wins on conflicts.
func (m *ExtrasManager) Merge(perCall map[string]string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.extras) == 0 {
		return perCall
	}
	result := make(map[string]string, len(m.extras)+len(perCall))
	for k, v := range m.extras {
		result[k] = v
	}
	for k, v := range perCall {
		result[k] = v
	}
	return result
}

// IsEmpty returns true if no extension field is set
func (m *ExtrasManager) IsEmpty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.extras) == 0
}

// Clear removes all extension fields
func (m *ExtrasManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extras = make(map[string]string)
}
