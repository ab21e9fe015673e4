package objectstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/vekterdb/corekv/errs"
)

// Watcher pushes relative paths that changed underneath a LocalStore's root.
// It reports every file change it sees, whether made through Put/Delete or
// out of band (edited or restored directly on disk).
// It exists for local-dev and backup-restore workflows: normal operation
// never needs it, since every path this module writes through Put is either
// content-addressed and immutable (blocks, roots, fragments, snapshots) or
// CAS-guarded (manifests, cursors).
type Watcher struct {
	root string
	fsw  *fsnotify.Watcher
	C    <-chan string
}

// WatchLocal starts watching dir recursively and returns a Watcher whose C
// channel receives the store-relative path of every file that changes.
// Callers typically forward each received path to blockfile.Provider's
// Invalidate so a stale cached decode doesn't linger.
func WatchLocal(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.New(errs.KindInternal, "objectstore.WatchLocal", dir, err)
	}
	if err := addRecursive(fsw, dir); err != nil {
		fsw.Close()
		return nil, err
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				rel, err := filepath.Rel(dir, ev.Name)
				if err != nil {
					continue
				}
				out <- filepath.ToSlash(rel)
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return &Watcher{root: dir, fsw: fsw, C: out}, nil
}

func addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && !strings.HasPrefix(filepath.Base(p), ".tmp-") {
			return fsw.Add(p)
		}
		return nil
	})
}

// Close stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
