package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
)

// Watcher reloads the configuration file when it changes on disk and hands
// every successfully decoded version to Updates. The file's directory is
// watched so editors that replace the file through a rename are seen too.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	updates  chan *Config
	done     chan struct{}

	mutex    sync.Mutex
	isClosed bool
	wg       sync.WaitGroup
}

func NewWatcher(path string) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsWatch.Close()
		return nil, err
	}
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, fmt.Errorf("config watcher: could not watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		fsnotify: fsWatch,
		updates:  make(chan *Config, 1),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.start()
	return w, nil
}

// Updates delivers reloaded configurations. Only the latest pending one is kept.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return errors.New("config watcher already closed")
	}
	w.isClosed = true
	w.mutex.Unlock()

	close(w.done)
	w.wg.Wait()
	return nil
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
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.reload()
			}

		case e, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(e.Error())

		case <-w.done:
			w.fsnotify.Close()
			close(w.updates)
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// a half written file is skipped, the next write reloads it
		core.LogWarn("config reload of %s skipped: %s", w.path, err)
		return
	}
	// drop a stale pending update in favour of the newest one
	select {
	case <-w.updates:
	default:
	}
	w.updates <- cfg
	core.LogInfo("config %s reloaded", w.path)
}
