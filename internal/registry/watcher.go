package registry

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a registry whenever its workers file changes on disk,
// so operators can add or retire workers without a restart.
type Watcher struct {
	registry *Registry
	path     string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching the workers file the registry was loaded from.
// Returns nil (and no error) if the platform watcher cannot be created;
// the registry then simply stays static until the next explicit reload.
func Watch(r *Registry, path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil
	}

	// Watch the directory rather than the file: editors that replace
	// the file on save would otherwise drop the watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		registry: r,
		path:     path,
		watcher:  fw,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.registry.ReloadFrom(w.path); err != nil {
				// Keep the previous registry on a bad edit.
				log.Printf("[registry] reload of %s failed: %v", w.path, err)
			}
		case <-w.watcher.Errors:
			// Keep watching.
		}
	}
}

// Close stops the watcher. Safe to call on a nil watcher.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	close(w.done)
	return w.watcher.Close()
}
