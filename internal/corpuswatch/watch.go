// Package corpuswatch watches a corpus directory for externally-added
// seed files (e.g. dropped in by another fuzzing campaign sharing the
// same corpus) and surfaces them as they land, so a running campaign can
// queue_testcase_get them without a restart.
package corpuswatch

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher wraps an fsnotify watcher scoped to one corpus directory.
type Watcher struct {
	fsw *fsnotify.Watcher
	dir string
}

// New starts watching dir for new files. Caller must call Close.
func New(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{fsw: fsw, dir: dir}, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

// NewFiles returns a channel of cleaned paths (the watched directory
// joined with the file name) for files created or
// written in the corpus directory; it ignores directories, removals, and
// renames (a rename target shows up as a Create event here anyway).
func (w *Watcher) NewFiles() <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)

		for {
			select {
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}

				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}

				info, err := os.Stat(ev.Name)
				if err != nil || info.IsDir() {
					continue
				}

				out <- filepath.Clean(ev.Name)

			case _, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out
}
