package savedata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setupTestStores(t *testing.T) (*LegacyStore, *MemoryKV, *VersionedStore) {
	t.Helper()
	kv := NewMemoryKV(0)
	return NewLegacyStore(kv), kv, NewVersionedStore(filepath.Join(t.TempDir(), "idb"))
}

func freezeClock(t *testing.T, ms int64) {
	t.Helper()
	prev := nowFunc
	nowFunc = func() time.Time { return time.UnixMilli(ms) }
	t.Cleanup(func() { nowFunc = prev })
}

func seedLegacy(t *testing.T, kv KV, entries map[string]string) {
	t.Helper()
	for name, value := range entries {
		require.NoError(t, kv.Set(context.Background(), NameToLegacyKey(name), value))
	}
}

func seedVersioned(t *testing.T, vs *VersionedStore, entries map[string]string) {
	t.Helper()
	records := make([]Record, 0, len(entries))
	for name, value := range entries {
		records = append(records, Record{Name: name, Content: ParseContent(value)})
	}
	res := vs.WriteRecords(context.Background(), records)
	require.True(t, res.OK(), "seed failed: %v", res.Err())
}

func contentsOf(records map[string]Record) map[string]string {
	out := make(map[string]string, len(records))
	for name, r := range records {
		out[name] = r.Content.String()
	}
	return out
}
