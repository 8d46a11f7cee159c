package savedata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/asdine/storm/v3"
	bolt "go.etcd.io/bbolt"
)

// DefaultOrigin is the namespace used when none is configured.
const DefaultOrigin = "localStorage"

// BoltKV keeps a legacy namespace in one bucket of a bbolt file.
// Values are stored as raw bytes so that other readers of the file see the
// same strings the game wrote.
type BoltKV struct {
	db     *storm.DB
	bucket string
}

// OpenBoltKV opens (or creates) the file at path and scopes every key to
// the origin bucket.
func OpenBoltKV(path, origin string) (*BoltKV, error) {
	if origin == "" {
		origin = DefaultOrigin
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create legacy store dir: %w", err)
	}
	db, err := storm.Open(path, storm.BoltOptions(0600, &bolt.Options{Timeout: time.Second}))
	if err != nil {
		return nil, fmt.Errorf("open legacy store: %w", err)
	}
	sub("legacy").Debug("bolt namespace opened", "path", path, "origin", origin)
	return &BoltKV{db: db, bucket: origin}, nil
}

// Keys lists every key of the origin bucket. A missing bucket lists nothing.
func (b *BoltKV) Keys(_ context.Context) ([]string, error) {
	var keys []string
	err := b.db.Bolt.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(b.bucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if v == nil {
				return nil // nested bucket
			}
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// Get returns the raw value of key; ok is false when it is absent.
func (b *BoltKV) Get(_ context.Context, key string) (string, bool, error) {
	v, err := b.db.GetBytes(b.bucket, key)
	if errors.Is(err, storm.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return string(v), true, nil
}

// Set stores value under key, creating the bucket if needed.
func (b *BoltKV) Set(_ context.Context, key, value string) error {
	if err := b.db.SetBytes(b.bucket, key, []byte(value)); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Close releases the bolt file.
func (b *BoltKV) Close() error {
	return b.db.Close()
}
