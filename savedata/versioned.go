package savedata

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// openState names each step of one versioned-store operation.
type openState int

const (
	stateProbing openState = iota
	stateOpening
	stateUpgrading
	stateExecuting
	stateClosed
)

func (s openState) String() string {
	switch s {
	case stateProbing:
		return "probing"
	case stateOpening:
		return "opening"
	case stateUpgrading:
		return "upgrading"
	case stateExecuting:
		return "executing"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// lifecycle tracks the state of a single open sequence. Steps are strictly
// ordered; there is no retry.
type lifecycle struct {
	op    string
	state openState
	l     *slog.Logger
}

func newLifecycle(op string) *lifecycle {
	lc := &lifecycle{op: op, state: stateProbing, l: sub("versioned")}
	lc.l.Debug("state", "op", op, "state", stateProbing)
	return lc
}

func (lc *lifecycle) enter(s openState, args ...any) {
	lc.state = s
	if logEnabled(slog.LevelDebug) {
		lc.l.Debug("state", append([]any{"op", lc.op, "state", s}, args...)...)
	}
}

// VersionedStore is a schema-versioned SQLite database holding one record
// collection of file envelopes keyed by path. Every operation opens its
// own connection and closes it before returning.
type VersionedStore struct {
	path       string
	collection string
}

// NewVersionedStore addresses the database DatabaseName inside dir.
func NewVersionedStore(dir string) *VersionedStore {
	return NewVersionedStoreAt(filepath.Join(dir, DatabaseName+".sqlite"), CollectionName)
}

// NewVersionedStoreAt addresses an explicit database file and collection.
func NewVersionedStoreAt(path, collection string) *VersionedStore {
	return &VersionedStore{path: path, collection: collection}
}

// Path returns the database file path.
func (s *VersionedStore) Path() string {
	return s.path
}

// Handle is an open connection at a declared version with the collection
// in place. The holder must Close it.
type Handle struct {
	db         *sql.DB
	version    int
	collection string
	upgraded   bool
	lc         *lifecycle
}

// Version is the version the connection was opened at.
func (h *Handle) Version() int { return h.version }

// Upgraded reports whether opening required a schema upgrade.
func (h *Handle) Upgraded() bool { return h.upgraded }

// Count returns the number of records in the collection.
func (h *Handle) Count(ctx context.Context) (int, error) {
	var n int
	err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(h.collection)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close releases the connection.
func (h *Handle) Close() error {
	err := h.db.Close()
	if h.lc != nil {
		h.lc.enter(stateClosed, "result", "success", "upgraded", h.upgraded)
	}
	return err
}

// writeOp runs inside whichever transaction the open sequence provides.
type writeOp func(ctx context.Context, tx *sql.Tx) error

// openForWrite drives probing → opening → (upgrading | executing) and
// returns the open handle; Handle.Close ends the sequence. When the
// collection is missing the stored version is bumped first, and that bump
// is permanent even if op fails. The collection is then created and op runs
// inside that same transaction, because a brand-new collection must not be
// touched from a later one.
func (s *VersionedStore) openForWrite(ctx context.Context, opName string, op writeOp) (h *Handle, err error) {
	lc := newLifecycle(opName)
	defer func() {
		if err != nil {
			if h != nil {
				h.db.Close()
				h = nil
			}
			lc.enter(stateClosed, "result", "failure", "err", err)
		}
	}()

	probe, err := probeDB(ctx, s.path, s.collection)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	target := targetVersion(probe)

	lc.enter(stateOpening, "stored", probe.version, "target", target, "hasCollection", probe.hasCollection)
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return nil, fmt.Errorf("create versioned store dir: %w", err)
	}
	db, err := openSQLite(s.path)
	if err != nil {
		return nil, err
	}
	h = &Handle{db: db, version: target, collection: s.collection, lc: lc}

	stored, err := readVersion(ctx, db)
	if err != nil {
		return h, err
	}
	if target < stored {
		return h, fmt.Errorf("requested version %d is below stored version %d", target, stored)
	}

	var tx *sql.Tx
	if target > stored {
		// user_version is transactional in SQLite; declaring it outside the
		// upgrade transaction is what makes the bump irreversible.
		if err := declareVersion(ctx, db, target); err != nil {
			return h, err
		}
		h.upgraded = true
		lc.enter(stateUpgrading, "from", stored, "to", target)
		if tx, err = db.BeginTx(ctx, nil); err != nil {
			return h, fmt.Errorf("begin upgrade: %w", err)
		}
		if err := createCollection(ctx, tx, s.collection); err != nil {
			tx.Rollback() //nolint:errcheck
			return h, err
		}
	} else {
		lc.enter(stateExecuting, "version", stored)
		if tx, err = db.BeginTx(ctx, nil); err != nil {
			return h, fmt.Errorf("begin tx: %w", err)
		}
		has, err := collectionExists(ctx, tx, s.collection)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return h, err
		}
		if !has {
			tx.Rollback() //nolint:errcheck
			return h, fmt.Errorf("collection %q missing at version %d", s.collection, stored)
		}
	}

	if op != nil {
		if err := op(ctx, tx); err != nil {
			tx.Rollback() //nolint:errcheck
			return h, err
		}
	}
	if err := tx.Commit(); err != nil {
		return h, fmt.Errorf("commit: %w", err)
	}
	return h, nil
}

// readCollection drives probing → opening → executing for a read. A
// missing database or collection is "no data" and is never upgraded.
func (s *VersionedStore) readCollection(ctx context.Context, opName string, fn func(ctx context.Context, db *sql.DB) error) (found bool, err error) {
	lc := newLifecycle(opName)
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		lc.enter(stateClosed, "result", result, "found", found)
	}()

	probe, err := probeDB(ctx, s.path, s.collection)
	if err != nil {
		return false, fmt.Errorf("probe: %w", err)
	}
	if !probe.exists || !probe.hasCollection {
		return false, nil
	}

	lc.enter(stateOpening, "version", probe.version)
	db, err := openSQLite(s.path)
	if err != nil {
		return false, err
	}
	defer db.Close()

	lc.enter(stateExecuting)
	if err := fn(ctx, db); err != nil {
		return true, err
	}
	return true, nil
}

// scanRecords walks every row of the collection in path order and calls
// visit for regular files under SaveRoot. Returning false stops the walk.
func (s *VersionedStore) scanRecords(ctx context.Context, db *sql.DB, visit func(name string, env Envelope) (bool, error)) error {
	rows, err := db.QueryContext(ctx,
		"SELECT path, timestamp, mode, contents, contents IS NULL FROM "+quoteIdent(s.collection)+" ORDER BY path")
	if err != nil {
		return fmt.Errorf("query collection: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			path     string
			ts       sql.NullInt64
			mode     int64
			contents []byte
			isDir    bool
		)
		if err := rows.Scan(&path, &ts, &mode, &contents, &isDir); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		name, ok := VersionedPathToName(path)
		if !ok || isDir {
			continue // outside the save root, or a directory
		}
		more, err := visit(name, Envelope{Timestamp: ts.Int64, Mode: uint32(mode), Contents: contents})
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return rows.Err()
}

// HasSaveData reports whether any save file exists. Every failure
// resolves to false.
func (s *VersionedStore) HasSaveData(ctx context.Context) bool {
	var has bool
	_, err := s.readCollection(ctx, "has", func(ctx context.Context, db *sql.DB) error {
		return s.scanRecords(ctx, db, func(string, Envelope) (bool, error) {
			has = true
			return false, nil
		})
	})
	if err != nil {
		sub("versioned").Warn("save data check failed, assuming none", "err", err)
		return false
	}
	sub("versioned").Debug("save data check", "has", has)
	return has
}

// ReadAllSaveRecords returns every save file keyed by name. A decode
// failure aborts the read.
func (s *VersionedStore) ReadAllSaveRecords(ctx context.Context) (map[string]Record, error) {
	out := make(map[string]Record)
	_, err := s.readCollection(ctx, "readAll", func(ctx context.Context, db *sql.DB) error {
		return s.scanRecords(ctx, db, func(name string, env Envelope) (bool, error) {
			content, err := DecodeContents(env.Contents)
			if err != nil {
				return false, fmt.Errorf("record %q: %w", name, err)
			}
			out[name] = Record{Name: name, Content: content, Timestamp: env.Timestamp}
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	sub("versioned").Debug("versioned listing complete", "records", len(out))
	return out, nil
}

// BatchResult reports the outcome of every record of one write batch.
// Skipped names already had a record and were left as they were.
type BatchResult struct {
	Written []string
	Skipped []string
	Failed  map[string]error
}

// OK reports whether every record was written.
func (b BatchResult) OK() bool {
	return len(b.Failed) == 0
}

// Err aggregates the per-record failures, nil if there were none.
func (b BatchResult) Err() error {
	names := make([]string, 0, len(b.Failed))
	for name := range b.Failed {
		names = append(names, name)
	}
	sort.Strings(names)

	var merr *multierror.Error
	for _, name := range names {
		merr = multierror.Append(merr, fmt.Errorf("%s: %w", name, b.Failed[name]))
	}
	return merr.ErrorOrNil()
}

func (b *BatchResult) fail(name string, err error) {
	if b.Failed == nil {
		b.Failed = make(map[string]error)
	}
	b.Failed[name] = err
}

// WriteRecords writes every record inside one open lifecycle. A record that
// fails does not stop its siblings; a lifecycle failure fails them all.
// Records that already exist are never replaced: they come back in Skipped.
func (s *VersionedStore) WriteRecords(ctx context.Context, records []Record) BatchResult {
	l := sub("versioned")
	var res BatchResult

	valid := make([]Record, 0, len(records))
	for _, r := range records {
		if err := ValidateName(r.Name); err != nil {
			l.Error("versioned write rejected", "name", r.Name, "err", err)
			res.fail(r.Name, err)
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return res
	}

	var written, skipped []string
	perRecord := make(map[string]error)
	h, err := s.openForWrite(ctx, "write", func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (path, timestamp, mode, contents) VALUES (?, ?, ?, ?)
			ON CONFLICT(path) DO NOTHING
		`, quoteIdent(s.collection)))
		if err != nil {
			return fmt.Errorf("prepare put: %w", err)
		}
		defer stmt.Close()

		for _, r := range valid {
			env := EncodeEnvelope(r.Content, nowMillis())
			path := NameToVersionedPath(r.Name)
			out, err := stmt.ExecContext(ctx, path, env.Timestamp, env.Mode, env.Contents)
			if err != nil {
				l.Error("versioned put failed", "path", path, "err", err)
				perRecord[r.Name] = err
				continue
			}
			if n, err := out.RowsAffected(); err == nil && n == 0 {
				l.Info("versioned record kept, already present", "path", path)
				skipped = append(skipped, r.Name)
				continue
			}
			written = append(written, r.Name)
			l.Debug("versioned put", "path", path, "bytes", len(env.Contents))
		}
		return nil
	})
	if err != nil {
		l.Error("versioned batch failed", "records", len(valid), "err", err)
		for _, r := range valid {
			res.fail(r.Name, err)
		}
		return res
	}
	h.Close()

	for name, err := range perRecord {
		res.fail(name, err)
	}
	res.Written = written
	res.Skipped = skipped
	l.Info("versioned batch committed",
		"written", len(written), "skipped", len(skipped), "failed", len(res.Failed), "upgraded", h.upgraded)
	return res
}

// WriteRecord writes a single record and reports success. An existing
// record is left alone and reported as false.
func (s *VersionedStore) WriteRecord(ctx context.Context, name string, content Content) bool {
	res := s.WriteRecords(ctx, []Record{{Name: name, Content: content}})
	return res.OK() && len(res.Written) == 1
}

// EnsureSchema opens the store with the collection in place, upgrading
// the schema if needed, and hands the open connection to the caller.
func (s *VersionedStore) EnsureSchema(ctx context.Context) (*Handle, error) {
	h, err := s.openForWrite(ctx, "ensureSchema", nil)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// StoredVersion returns the version on disk, 0 if the database does not
// exist yet.
func (s *VersionedStore) StoredVersion(ctx context.Context) (int, error) {
	p, err := probeDB(ctx, s.path, s.collection)
	if err != nil {
		return 0, err
	}
	return p.version, nil
}
