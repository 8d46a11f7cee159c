package savedata

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// LegacySide is the part of the legacy store a pass depends on.
type LegacySide interface {
	ListSaveEntries(ctx context.Context) (map[string]Record, error)
	FillEntry(ctx context.Context, name string, content Content) (bool, error)
}

// VersionedSide is the part of the versioned store a pass depends on.
type VersionedSide interface {
	HasSaveData(ctx context.Context) bool
	ReadAllSaveRecords(ctx context.Context) (map[string]Record, error)
	WriteRecords(ctx context.Context, records []Record) BatchResult
}

// Snapshot is the contents of both stores as read by one discovery.
type Snapshot struct {
	Legacy    map[string]Record
	Versioned map[string]Record
}

// Discover lists both stores concurrently and waits for both. A side that
// fails to list is logged and reads as empty.
func Discover(ctx context.Context, legacy LegacySide, versioned VersionedSide) Snapshot {
	l := sub("discovery")
	snap := Snapshot{
		Legacy:    map[string]Record{},
		Versioned: map[string]Record{},
	}

	var g errgroup.Group
	g.Go(func() error {
		if legacy == nil {
			return nil
		}
		entries, err := legacy.ListSaveEntries(ctx)
		if err != nil {
			l.Warn("legacy listing failed, treating as empty", "err", err)
			return nil
		}
		if entries != nil {
			snap.Legacy = entries
		}
		return nil
	})
	g.Go(func() error {
		if versioned == nil {
			return nil
		}
		records, err := versioned.ReadAllSaveRecords(ctx)
		if err != nil {
			l.Warn("versioned listing failed, treating as empty", "err", err)
			return nil
		}
		if records != nil {
			snap.Versioned = records
		}
		return nil
	})
	g.Wait() //nolint:errcheck

	l.Debug("discovery complete", "legacy", len(snap.Legacy), "versioned", len(snap.Versioned))
	return snap
}
