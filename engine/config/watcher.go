package config

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/vri/engine/core"
)

// Watcher reloads a configuration file whenever it changes on disk. The
// directory is watched rather than the file since editors usually replace
// files instead of writing them in place.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher

	updates chan Config
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	isClosed bool
}

func Watch(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
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
		updates:  make(chan Config, 1),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.start()
	return w, nil
}

// Updates delivers every successfully reloaded configuration. Only the
// latest one is kept when the reader falls behind.
func (w *Watcher) Updates() <-chan Config { return w.updates }

// Errors delivers reload failures.
func (w *Watcher) Errors() <-chan error { return w.errors }

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
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.reload()

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %s", err)
			w.publishError(err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		core.LogWarn("config reload failed, keeping the previous configuration: %s", err)
		w.publishError(err)
		return
	}
	core.LogInfo("configuration reloaded from %s", w.path)
	select {
	case <-w.updates:
	default:
	}
	w.updates <- cfg
}

func (w *Watcher) publishError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.isClosed {
		w.mu.Unlock()
		return errors.New("config watcher already closed")
	}
	w.isClosed = true
	w.mu.Unlock()

	close(w.done)
	err := w.fsnotify.Close()
	w.wg.Wait()
	return err
}
