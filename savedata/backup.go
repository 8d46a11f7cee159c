package savedata

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"time"

	"github.com/mholt/archives"
	"github.com/spf13/afero"
)

// backupFormat is the container written by WriteBackup.
var backupFormat = archives.CompressedArchive{
	Compression: archives.Gz{},
	Archival:    archives.Tar{},
	Extraction:  archives.Tar{},
}

// stageSnapshot lays both sides of snap out in an in-memory filesystem and
// returns the archive entries, sorted by name.
func stageSnapshot(snap Snapshot) ([]archives.FileInfo, error) {
	l := sub("backup")
	mem := afero.NewMemMapFs()
	iofs := afero.NewIOFS(mem)

	var files []archives.FileInfo
	stage := func(dir string, records map[string]Record) error {
		for name, rec := range records {
			if err := ValidateName(name); err != nil {
				l.Warn("skipping unarchivable name", "side", dir, "name", name, "err", err)
				continue
			}
			p := path.Join(dir, name)
			if err := mem.MkdirAll(path.Dir(p), 0755); err != nil {
				return err
			}
			if err := afero.WriteFile(mem, p, rec.Content.Bytes(), 0644); err != nil {
				return fmt.Errorf("stage %s: %w", p, err)
			}
			mtime := time.UnixMilli(rec.Timestamp)
			if err := mem.Chtimes(p, mtime, mtime); err != nil {
				return fmt.Errorf("stage %s: %w", p, err)
			}
			info, err := mem.Stat(p)
			if err != nil {
				return err
			}
			files = append(files, archives.FileInfo{
				FileInfo:      info,
				NameInArchive: p,
				Open:          func() (fs.File, error) { return iofs.Open(p) },
			})
		}
		return nil
	}

	if err := stage("legacy", snap.Legacy); err != nil {
		return nil, err
	}
	if err := stage(path.Join("versioned", path.Base(SaveRoot)), snap.Versioned); err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].NameInArchive < files[j].NameInArchive })
	return files, nil
}

// WriteBackup writes a gzipped tar of both sides of snap to w.
func WriteBackup(ctx context.Context, w io.Writer, snap Snapshot) error {
	files, err := stageSnapshot(snap)
	if err != nil {
		return err
	}
	if err := backupFormat.Archive(ctx, w, files); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	sub("backup").Info("backup written", "files", len(files))
	return nil
}

// WriteBackupFile writes the backup to a temporary file next to dst and
// renames it into place.
func WriteBackupFile(ctx context.Context, dst string, snap Snapshot) error {
	tmp := dst + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	if err := WriteBackup(ctx, f, snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync backup: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close backup: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename backup: %w", err)
	}
	return nil
}
