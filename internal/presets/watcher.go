package presets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sssooonnnggg/luaud/internal/logging"
)

// debounce coalesces the bursts of write events editors emit when
// saving a file.
const debounce = 200 * time.Millisecond

// Watcher hot-reloads a JSON preset file when it changes on disk,
// handing each decoded preset to Apply.
type Watcher struct {
	path  string
	apply func(Preset)
	log   *logging.Logger

	fw   *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher builds a Watcher on path. apply runs on the watcher's own
// goroutine; callers routing into the bridge must queue through the
// Task Pool themselves.
func NewWatcher(path string, apply func(Preset), log *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files on save, which drops
	// a direct file watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{path: path, apply: apply, log: log, fw: fw, done: make(chan struct{})}, nil
}

// Start begins watching. The file is loaded once up front so presets
// present at startup apply immediately.
func (w *Watcher) Start() {
	w.reload()
	go w.run()
}

func (w *Watcher) run() {
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerCh = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-timerCh:
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warnf("preset watcher: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warnf("preset file %s: %v", w.path, err)
		}
		return
	}
	var loaded []Preset
	if err := json.Unmarshal(data, &loaded); err != nil {
		w.log.Warnf("preset file %s: %v", w.path, err)
		return
	}
	for _, p := range loaded {
		w.apply(p)
	}
	w.log.Infof("applied %d presets from %s", len(loaded), w.path)
}

// Stop ends the watch.
func (w *Watcher) Stop() {
	close(w.done)
	w.fw.Close()
}
