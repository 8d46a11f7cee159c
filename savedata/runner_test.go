package savedata

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_MigrationCopiesLegacy(t *testing.T) {
	ctx := context.Background()
	legacy, kv, vs := setupTestStores(t)
	seedLegacy(t, kv, map[string]string{"filech1_0": `{"hp": 90}`, "dr.ini": "[G]"})

	res, err := NewRunner(legacy, vs).RunMigration(ctx)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, PolicyMigrate, res.Policy)
	assert.Equal(t, []string{"dr.ini", "filech1_0"}, res.ToVersioned)
	assert.NotEmpty(t, res.PassID)

	got, err := vs.ReadAllSaveRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"filech1_0": `{"hp":90}`, "dr.ini": "[G]"}, contentsOf(got))
}

func TestRunner_MigrationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	legacy, kv, vs := setupTestStores(t)
	seedLegacy(t, kv, map[string]string{"a": "1", "b": "2"})
	r := NewRunner(legacy, vs)

	freezeClock(t, 1000)
	_, err := r.RunMigration(ctx)
	require.NoError(t, err)
	first, err := vs.ReadAllSaveRecords(ctx)
	require.NoError(t, err)

	freezeClock(t, 2000)
	res, err := r.RunMigration(ctx)
	require.NoError(t, err)
	assert.Equal(t, PolicyNoop, res.Policy)

	second, err := vs.ReadAllSaveRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRunner_MigrationGuardLeavesStoresUntouched(t *testing.T) {
	ctx := context.Background()
	legacy, kv, vs := setupTestStores(t)
	seedVersioned(t, vs, map[string]string{"existing": "v"})
	seedLegacy(t, kv, map[string]string{"existing": "l", "fresh": "l2"})

	dbBefore, err := os.ReadFile(vs.Path())
	require.NoError(t, err)
	keysBefore, err := kv.Keys(ctx)
	require.NoError(t, err)

	res, err := NewRunner(legacy, vs).RunMigration(ctx)
	require.NoError(t, err)
	assert.Equal(t, PolicyNoop, res.Policy)

	dbAfter, err := os.ReadFile(vs.Path())
	require.NoError(t, err)
	assert.Equal(t, dbBefore, dbAfter)
	keysAfter, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, keysBefore, keysAfter)
	v, _, _ := kv.Get(ctx, NameToLegacyKey("existing"))
	assert.Equal(t, "l", v)
}

func TestRunner_SyncFillsGapsWithoutOverwriting(t *testing.T) {
	ctx := context.Background()
	legacy, kv, vs := setupTestStores(t)
	seedLegacy(t, kv, map[string]string{"a": "legacy-a", "both": "legacy-both"})
	seedVersioned(t, vs, map[string]string{"b": "versioned-b", "both": "versioned-both"})

	res, err := NewRunner(legacy, vs).RunSync(ctx)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{"a"}, res.ToVersioned)
	assert.Equal(t, []string{"b"}, res.ToLegacy)
	assert.Equal(t, 1, res.Unchanged)

	l, err := legacy.ListSaveEntries(ctx)
	require.NoError(t, err)
	v, err := vs.ReadAllSaveRecords(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"a": "legacy-a", "b": "versioned-b", "both": "legacy-both"}, contentsOf(l))
	assert.Equal(t, map[string]string{"a": "legacy-a", "b": "versioned-b", "both": "versioned-both"}, contentsOf(v))

	// Union coverage: every name now exists on both sides.
	for name := range l {
		assert.Contains(t, v, name)
	}
	for name := range v {
		assert.Contains(t, l, name)
	}

	// A second sync has nothing left to do.
	res, err = NewRunner(legacy, vs).RunSync(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.ToVersioned)
	assert.Empty(t, res.ToLegacy)
	assert.Equal(t, 3, res.Unchanged)
}

func TestRunner_UnreadableVersionedRowNeverOverwrites(t *testing.T) {
	for _, mode := range []Mode{ModeMigrate, ModeSync, ModeAuto} {
		t.Run(mode.String(), func(t *testing.T) {
			ctx := context.Background()
			legacy, kv, vs := setupTestStores(t)
			seedVersioned(t, vs, map[string]string{"file0": "versioned save"})
			_, err := rawDB(t, vs).Exec(
				`INSERT INTO "FILES" (path, timestamp, mode, contents) VALUES ('/_savedata/aaa', 'oops', 33188, X'41')`)
			require.NoError(t, err)
			seedLegacy(t, kv, map[string]string{"file0": "legacy save"})

			// The bad row makes every versioned read fail, so the pass sees
			// an empty versioned side.
			require.False(t, vs.HasSaveData(ctx))

			res, err := NewRunner(legacy, vs).Run(ctx, mode)
			require.NoError(t, err)
			assert.True(t, res.OK())
			assert.Empty(t, res.ToVersioned)
			assert.Equal(t, []string{"file0"}, res.Skipped)

			var contents []byte
			require.NoError(t, rawDB(t, vs).QueryRow(
				`SELECT contents FROM "FILES" WHERE path = '/_savedata/file0'`).Scan(&contents))
			assert.Equal(t, "versioned save", string(contents))

			v, _, err := kv.Get(ctx, NameToLegacyKey("file0"))
			require.NoError(t, err)
			assert.Equal(t, "legacy save", v)
		})
	}
}

func TestRunner_EmptyStoresCreateNothing(t *testing.T) {
	ctx := context.Background()
	legacy, _, vs := setupTestStores(t)
	r := NewRunner(legacy, vs)

	for _, mode := range []Mode{ModeMigrate, ModeSync, ModeAuto} {
		res, err := r.Run(ctx, mode)
		require.NoError(t, err)
		assert.True(t, res.OK())
	}
	assert.NoFileExists(t, vs.Path())
}

func TestRunner_AutoModeSyncsAfterFirstRun(t *testing.T) {
	ctx := context.Background()
	legacy, kv, vs := setupTestStores(t)
	seedLegacy(t, kv, map[string]string{"a": "1"})
	r := NewRunner(legacy, vs)

	res, err := r.Run(ctx, ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, PolicyMigrate, res.Policy)

	res, err = r.Run(ctx, ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, PolicySync, res.Policy)

	last, ok := r.LastResult()
	require.True(t, ok)
	assert.Equal(t, res.PassID, last.PassID)
}

type blockingVersioned struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingVersioned) HasSaveData(context.Context) bool {
	close(b.entered)
	<-b.release
	return false
}

func (b *blockingVersioned) ReadAllSaveRecords(context.Context) (map[string]Record, error) {
	return nil, nil
}

func (b *blockingVersioned) WriteRecords(context.Context, []Record) BatchResult {
	return BatchResult{}
}

func TestRunner_RejectsConcurrentPass(t *testing.T) {
	ctx := context.Background()
	legacy, _, _ := setupTestStores(t)
	bv := &blockingVersioned{entered: make(chan struct{}), release: make(chan struct{})}
	r := NewRunner(legacy, bv)

	done := make(chan error, 1)
	go func() {
		_, err := r.RunMigration(ctx)
		done <- err
	}()

	select {
	case <-bv.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass never started")
	}

	_, err := r.RunSync(ctx)
	assert.ErrorIs(t, err, ErrPassInProgress)

	close(bv.release)
	require.NoError(t, <-done)
}

type panickingVersioned struct{}

func (panickingVersioned) HasSaveData(context.Context) bool { return false }

func (panickingVersioned) ReadAllSaveRecords(context.Context) (map[string]Record, error) {
	return nil, nil
}

func (panickingVersioned) WriteRecords(context.Context, []Record) BatchResult {
	panic("disk on fire")
}

func TestRunner_RecoversPanic(t *testing.T) {
	ctx := context.Background()
	legacy, kv, _ := setupTestStores(t)
	seedLegacy(t, kv, map[string]string{"a": "1"})
	r := NewRunner(legacy, panickingVersioned{})

	_, err := r.RunMigration(ctx)
	require.ErrorIs(t, err, ErrPassPanicked)
	assert.ErrorContains(t, err, "disk on fire")

	// The runner is usable again afterwards.
	_, err = r.RunSync(ctx)
	assert.ErrorIs(t, err, ErrPassPanicked)

	_, ok := r.LastResult()
	assert.True(t, ok)
}

func TestRunner_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	legacy, kv, vs := setupTestStores(t)
	seedLegacy(t, kv, map[string]string{"a": "1", "b": "2"})

	bus := NewEventBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	_, err := NewRunner(legacy, vs, WithEventBus(bus)).RunMigration(ctx)
	require.NoError(t, err)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []string{EventPassStarted, EventRecordCopied, EventRecordCopied, EventPassFinished}, types)
}

func TestRunner_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	legacy, kv, vs := setupTestStores(t)
	seedLegacy(t, kv, map[string]string{"a": "1", "bad/name": "2"})

	m := NewMetrics(prometheus.NewRegistry())
	r := NewRunner(legacy, vs, WithMetrics(m))

	_, err := r.RunMigration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PassesTotal.WithLabelValues("migrate", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CopiesTotal.WithLabelValues("versioned", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CopiesTotal.WithLabelValues("versioned", "failed")))

	_, err = r.RunMigration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PassesTotal.WithLabelValues("noop", "ok")))
}
