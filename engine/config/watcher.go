package config

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima-sched/engine/core"
)

var ErrWatcherClosed = errors.New("config watcher already closed")

// Watcher reloads a configuration file whenever it changes on disk. The
// containing directory is watched rather than the file itself, since most
// editors save by replacing the file.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher

	updates chan *File
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mutex    sync.Mutex
	isClosed bool
}

func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := FormatFromPath(abs); err != nil {
		return nil, err
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		fsnotify: fsWatch,
		updates:  make(chan *File, 1),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.start()
	return w, nil
}

// Updates delivers the most recent successfully parsed file. A reader that
// falls behind only sees the latest version.
func (w *Watcher) Updates() <-chan *File { return w.updates }

// Errors delivers load failures. They are also logged, so reading it is
// optional.
func (w *Watcher) Errors() <-chan error { return w.errors }

func (w *Watcher) Path() string { return w.path }

func (w *Watcher) Close() error {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return ErrWatcherClosed
	}
	w.isClosed = true
	w.mutex.Unlock()

	close(w.done)
	w.wg.Wait()
	return w.fsnotify.Close()
}

func (w *Watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %s", err)
			offer(w.errors, err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	f, err := Load(w.path)
	if err != nil {
		// a rename or partial write can leave the file briefly unreadable
		core.LogWarn("config watcher: reload %s: %s", w.path, err)
		offer(w.errors, err)
		return
	}
	core.LogInfo("config watcher: reloaded %s", w.path)
	offer(w.updates, f)
}

// offer puts v in the single slot of ch, replacing whatever is there.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
