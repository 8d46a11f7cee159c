package savedata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrBackendUnavailable is returned when a store has no backend to talk to.
var ErrBackendUnavailable = errors.New("storage backend unavailable")

// KV is a flat, string-keyed namespace: the storage behind the legacy store.
type KV interface {
	Keys(ctx context.Context) ([]string, error)
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// LegacyStore reads and writes save entries in a flat namespace. Keys
// outside LegacyPrefix are never touched.
type LegacyStore struct {
	kv KV
}

// NewLegacyStore wraps kv. A nil kv yields an unavailable store that lists
// nothing and rejects writes.
func NewLegacyStore(kv KV) *LegacyStore {
	return &LegacyStore{kv: kv}
}

// KV returns the underlying namespace.
func (s *LegacyStore) KV() KV {
	return s.kv
}

// ListSaveEntries returns every save entry keyed by name. The namespace
// keeps no timestamps, so each record is stamped with the read time.
// Values that are not structured JSON come back as opaque text.
func (s *LegacyStore) ListSaveEntries(ctx context.Context) (map[string]Record, error) {
	l := sub("legacy")
	if s.kv == nil {
		return nil, ErrBackendUnavailable
	}

	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list legacy keys: %w", err)
	}

	now := nowMillis()
	out := make(map[string]Record)
	for _, key := range keys {
		name, ok := LegacyKeyToName(key)
		if !ok {
			continue
		}
		value, found, err := s.kv.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read legacy key %q: %w", key, err)
		}
		if !found || value == "" {
			continue
		}
		content := ParseContent(value)
		out[name] = Record{Name: name, Content: content, Timestamp: now}
		if logEnabled(slog.LevelDebug) {
			l.Debug("legacy entry", "name", name, "bytes", len(value), "structured", content.IsStructured())
		}
	}

	l.Debug("legacy listing complete", "keys", len(keys), "entries", len(out))
	return out, nil
}

// WriteEntry stores content under the prefixed key. Failures such as an
// exhausted quota are logged and reported as false.
func (s *LegacyStore) WriteEntry(ctx context.Context, name string, content Content) bool {
	l := sub("legacy")
	if s.kv == nil {
		l.Warn("legacy write skipped, backend unavailable", "name", name)
		return false
	}
	if err := s.kv.Set(ctx, NameToLegacyKey(name), content.String()); err != nil {
		l.Error("legacy write failed", "name", name, "err", err)
		return false
	}
	l.Info("legacy entry written", "name", name, "bytes", len(content.String()))
	return true
}

// FillEntry stores content under the prefixed key unless the key already
// holds a non-empty value, and reports whether it wrote. Passes write
// through here so that an entry the listing missed is never replaced.
func (s *LegacyStore) FillEntry(ctx context.Context, name string, content Content) (bool, error) {
	l := sub("legacy")
	if s.kv == nil {
		return false, ErrBackendUnavailable
	}

	key := NameToLegacyKey(name)
	existing, found, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read legacy key %q: %w", key, err)
	}
	if found && existing != "" {
		l.Info("legacy entry kept, already present", "name", name)
		return false, nil
	}
	if err := s.kv.Set(ctx, key, content.String()); err != nil {
		return false, fmt.Errorf("write legacy key %q: %w", key, err)
	}
	l.Info("legacy entry filled", "name", name, "bytes", len(content.String()))
	return true, nil
}
