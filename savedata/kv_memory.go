package savedata

import (
	"context"
	"errors"
	"sort"
	gosync "sync"
)

// ErrQuotaExceeded is returned when a write would grow a quota-limited
// namespace past its limit.
var ErrQuotaExceeded = errors.New("legacy store quota exceeded")

// MemoryKV is an in-process legacy namespace. Quota, when positive, caps
// the summed length of keys and values.
type MemoryKV struct {
	mu     gosync.Mutex
	values map[string]string
	quota  int
}

// NewMemoryKV creates an empty namespace. A quota of 0 disables the limit.
func NewMemoryKV(quota int) *MemoryKV {
	return &MemoryKV{values: make(map[string]string), quota: quota}
}

// Keys returns every key in sorted order.
func (m *MemoryKV) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns the value of key; ok is false when it is absent.
func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores value under key, or fails with ErrQuotaExceeded.
func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 {
		used := 0
		for k, v := range m.values {
			if k != key {
				used += len(k) + len(v)
			}
		}
		if used+len(key)+len(value) > m.quota {
			return ErrQuotaExceeded
		}
	}
	m.values[key] = value
	return nil
}

// Close is a no-op.
func (m *MemoryKV) Close() error { return nil }
