package savedata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// probeResult is what an unversioned open learns about the database.
type probeResult struct {
	exists        bool
	version       int
	hasCollection bool
}

// openSQLite opens the database file at path with a single connection.
// The file is created on first use if it does not exist.
func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open versioned db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	sub("db").Debug("PRAGMA busy_timeout=5000", "path", path)
	return db, nil
}

// probeDB reports the stored version and whether the collection exists,
// without requesting a version. A missing file is not created.
func probeDB(ctx context.Context, path, collection string) (probeResult, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return probeResult{}, nil
	} else if err != nil {
		return probeResult{}, fmt.Errorf("stat versioned db: %w", err)
	}

	db, err := openSQLite(path)
	if err != nil {
		return probeResult{}, err
	}
	defer db.Close()

	version, err := readVersion(ctx, db)
	if err != nil {
		return probeResult{}, err
	}
	has, err := collectionExists(ctx, db, collection)
	if err != nil {
		return probeResult{}, err
	}
	return probeResult{exists: true, version: version, hasCollection: has}, nil
}

// targetVersion picks the version to open at: one past the stored version
// when the collection is missing, the stored version otherwise.
func targetVersion(p probeResult) int {
	if !p.hasCollection {
		return max(p.version+1, 1)
	}
	return p.version
}

func readVersion(ctx context.Context, q querier) (int, error) {
	var version int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return version, nil
}

// declareVersion bumps the stored version. It commits on its own, so the
// bump survives a failure of whatever runs afterwards.
func declareVersion(ctx context.Context, db *sql.DB, version int) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("set user_version %d: %w", version, err)
	}
	return nil
}

func collectionExists(ctx context.Context, q querier, collection string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", collection,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("look up collection %q: %w", collection, err)
	}
	return n > 0, nil
}

func createCollection(ctx context.Context, tx *sql.Tx, collection string) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    path      TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL DEFAULT 0,
    mode      INTEGER NOT NULL,
    contents  BLOB
)`, quoteIdent(collection))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create collection %q: %w", collection, err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
