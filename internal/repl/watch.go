package repl

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"offline-contest/internal/logging"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// CodeWatcher reloads a source file whenever it is saved. The parent
// directory is watched so editors that replace the file on save still
// trigger a reload.
type CodeWatcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	onChange  func(string)
	log       *zap.Logger

	last string
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// WatchFile starts watching path and calls onChange with the new contents
// after every change. Unchanged or empty contents are not reported, which
// skips the truncate half of a save.
func WatchFile(path string, onChange func(string), log *zap.Logger) (*CodeWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	w := &CodeWatcher{
		fsWatcher: fsWatcher,
		path:      absPath,
		onChange:  onChange,
		log:       logging.OrNop(log),
		done:      make(chan struct{}),
	}
	if raw, err := os.ReadFile(absPath); err == nil {
		w.last = string(raw)
	}
	w.wg.Add(1)
	go w.eventLoop()
	return w, nil
}

func (w *CodeWatcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("code watcher error", zap.String("path", w.path), zap.Error(err))
		}
	}
}

func (w *CodeWatcher) reload() {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return
	}
	code := string(raw)
	if code == "" || code == w.last {
		return
	}
	w.last = code
	w.onChange(code)
}

// Close stops watching. It is safe to call more than once.
func (w *CodeWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
		w.wg.Wait()
	})
	return err
}
