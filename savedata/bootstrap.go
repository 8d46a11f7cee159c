package savedata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/fsnotify/fsnotify"
)

// Bootstrap runs a single pass once the host signals it is ready.
type Bootstrap struct {
	runner *Runner
	mode   Mode

	once gosync.Once
	res  Result
	err  error
}

// NewBootstrap prepares a one-shot pass in mode.
func NewBootstrap(runner *Runner, mode Mode) *Bootstrap {
	return &Bootstrap{runner: runner, mode: mode}
}

// RunWhenReady waits for ready to close and then runs the pass. A nil
// channel means "already ready". The pass runs at most once; later calls
// return its outcome.
func (b *Bootstrap) RunWhenReady(ctx context.Context, ready <-chan struct{}) (Result, error) {
	l := sub("bootstrap")
	if ready != nil {
		select {
		case <-ready:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	b.once.Do(func() {
		l.Info("host ready, running pass", "mode", b.mode)
		b.res, b.err = b.runner.Run(ctx, b.mode)
	})
	return b.res, b.err
}

// ReadyOnMarker returns a channel that closes once the file at path exists:
// immediately if it already does, otherwise when it is created. The parent
// directory must exist.
func ReadyOnMarker(ctx context.Context, path string) (<-chan struct{}, error) {
	l := sub("bootstrap")
	ready := make(chan struct{})

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	// Checked after the watch is in place so a creation in between is not lost.
	if _, err := os.Stat(path); err == nil {
		w.Close()
		close(ready)
		l.Debug("ready marker already present", "path", path)
		return ready, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		w.Close()
		return nil, fmt.Errorf("stat marker: %w", err)
	}

	target := filepath.Clean(path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
					continue
				}
				l.Info("ready marker appeared", "path", path)
				close(ready)
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.Warn("marker watch error", "err", err)
			}
		}
	}()
	return ready, nil
}
