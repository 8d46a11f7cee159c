package savedata

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawDB(t *testing.T, vs *VersionedStore) *sql.DB {
	t.Helper()
	db, err := openSQLite(vs.Path())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestVersionedStore_ReadMissingDatabase(t *testing.T) {
	ctx := context.Background()
	_, _, vs := setupTestStores(t)

	assert.False(t, vs.HasSaveData(ctx))
	records, err := vs.ReadAllSaveRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = os.Stat(vs.Path())
	assert.True(t, os.IsNotExist(err), "reads must not create the database")
}

func TestVersionedStore_ReadNeverUpgrades(t *testing.T) {
	ctx := context.Background()
	_, _, vs := setupTestStores(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(vs.Path()), 0755))

	// A database created by someone else, without the collection.
	db := rawDB(t, vs)
	_, err := db.Exec("PRAGMA user_version = 3")
	require.NoError(t, err)

	assert.False(t, vs.HasSaveData(ctx))
	v, err := vs.StoredVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	has, err := collectionExists(ctx, db, CollectionName)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestVersionedStore_FirstWriteUpgrades(t *testing.T) {
	freezeClock(t, 1700000000000)
	ctx := context.Background()
	_, _, vs := setupTestStores(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(vs.Path()), 0755))

	require.True(t, vs.WriteRecord(ctx, "filech1_0", ParseContent(`{"hp":90}`)))

	v, err := vs.StoredVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// The record written by the upgrading open is readable right away.
	records, err := vs.ReadAllSaveRecords(ctx)
	require.NoError(t, err)
	require.Contains(t, records, "filech1_0")
	assert.Equal(t, `{"hp":90}`, records["filech1_0"].Content.String())
	assert.Equal(t, int64(1700000000000), records["filech1_0"].Timestamp)
	assert.True(t, vs.HasSaveData(ctx))

	// Stored envelope shape.
	var (
		ts, mode int64
		contents []byte
	)
	err = rawDB(t, vs).QueryRow(`SELECT timestamp, mode, contents FROM "FILES" WHERE path = ?`, "/_savedata/filech1_0").
		Scan(&ts, &mode, &contents)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ts)
	assert.Equal(t, int64(33188), mode)
	assert.Equal(t, `{"hp":90}`, string(contents))
}

func TestVersionedStore_UpgradeBumpsPastExistingVersion(t *testing.T) {
	ctx := context.Background()
	_, _, vs := setupTestStores(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(vs.Path()), 0755))

	_, err := rawDB(t, vs).Exec("PRAGMA user_version = 20")
	require.NoError(t, err)

	h, err := vs.EnsureSchema(ctx)
	require.NoError(t, err)
	assert.True(t, h.Upgraded())
	assert.Equal(t, 21, h.Version())
	n, err := h.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, h.Close())

	// Second open finds the collection: no bump.
	h, err = vs.EnsureSchema(ctx)
	require.NoError(t, err)
	assert.False(t, h.Upgraded())
	assert.Equal(t, 21, h.Version())
	require.NoError(t, h.Close())
}

func TestVersionedStore_VersionBumpSurvivesFailedUpgrade(t *testing.T) {
	ctx := context.Background()
	_, _, vs := setupTestStores(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(vs.Path()), 0755))

	_, err := vs.openForWrite(ctx, "failing", func(ctx context.Context, tx *sql.Tx) error {
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	v, err := vs.StoredVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	has, err := collectionExists(ctx, rawDB(t, vs), CollectionName)
	require.NoError(t, err)
	assert.False(t, has, "collection creation rolls back with the failed operation")

	// The next write still finds the collection missing and upgrades again.
	require.True(t, vs.WriteRecord(ctx, "a", TextContent("1")))
	v, err = vs.StoredVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestVersionedStore_WriteRecordsPartialFailure(t *testing.T) {
	ctx := context.Background()
	_, _, vs := setupTestStores(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(vs.Path()), 0755))

	res := vs.WriteRecords(ctx, []Record{
		{Name: "good", Content: TextContent("1")},
		{Name: "bad/name", Content: TextContent("2")},
		{Name: "also_good", Content: TextContent("3")},
	})
	assert.False(t, res.OK())
	assert.ElementsMatch(t, []string{"good", "also_good"}, res.Written)
	require.Contains(t, res.Failed, "bad/name")
	assert.ErrorIs(t, res.Failed["bad/name"], ErrInvalidName)
	assert.ErrorContains(t, res.Err(), "bad/name")

	records, err := vs.ReadAllSaveRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"good": "1", "also_good": "3"}, contentsOf(records))
}

func TestVersionedStore_WriteRecordsEmptyOpensNothing(t *testing.T) {
	ctx := context.Background()
	_, _, vs := setupTestStores(t)

	res := vs.WriteRecords(ctx, nil)
	assert.True(t, res.OK())
	assert.Empty(t, res.Written)

	_, err := os.Stat(vs.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestVersionedStore_WriteKeepsExisting(t *testing.T) {
	ctx := context.Background()
	_, _, vs := setupTestStores(t)

	seedVersioned(t, vs, map[string]string{"a": "old"})
	assert.False(t, vs.WriteRecord(ctx, "a", TextContent("new")))

	res := vs.WriteRecords(ctx, []Record{
		{Name: "a", Content: TextContent("new")},
		{Name: "b", Content: TextContent("fresh")},
	})
	assert.True(t, res.OK())
	assert.Equal(t, []string{"b"}, res.Written)
	assert.Equal(t, []string{"a"}, res.Skipped)

	records, err := vs.ReadAllSaveRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "old", "b": "fresh"}, contentsOf(records))
}

func TestVersionedStore_SkipsDirectoriesAndForeignPaths(t *testing.T) {
	ctx := context.Background()
	_, _, vs := setupTestStores(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(vs.Path()), 0755))

	h, err := vs.EnsureSchema(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	db := rawDB(t, vs)
	for _, stmt := range []string{
		`INSERT INTO "FILES" (path, timestamp, mode, contents) VALUES ('/_savedata', 1, 16877, NULL)`,
		`INSERT INTO "FILES" (path, timestamp, mode, contents) VALUES ('/_savedata/sub', 1, 16877, NULL)`,
		`INSERT INTO "FILES" (path, timestamp, mode, contents) VALUES ('/other/file', 1, 33188, X'41')`,
		`INSERT INTO "FILES" (path, timestamp, mode, contents) VALUES ('/_savedata/empty', 1, 33188, X'')`,
		`INSERT INTO "FILES" (path, timestamp, mode, contents) VALUES ('/_savedata/real', 1, 33188, X'4B726973')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	records, err := vs.ReadAllSaveRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"empty": "", "real": "Kris"}, contentsOf(records))
}

func TestTargetVersion(t *testing.T) {
	assert.Equal(t, 1, targetVersion(probeResult{}))
	assert.Equal(t, 1, targetVersion(probeResult{exists: true, version: 1, hasCollection: true}))
	assert.Equal(t, 6, targetVersion(probeResult{exists: true, version: 5}))
}
