// Package watch monitors a project root for source changes and coalesces
// bursts of filesystem events into single reload triggers.
package watch

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies a filesystem change.
type Kind int

const (
	KindModify Kind = iota
	KindCreate
)

// Event is a single relevant filesystem change inside the watched root.
type Event struct {
	Path string
	Kind Kind
}

// Watcher observes a directory tree and emits one batch of coalesced
// events per quiet period. Events arriving while the debounce timer is
// armed re-arm it, so a burst of writes produces exactly one trigger.
type Watcher struct {
	root       string
	debounce   time.Duration
	extensions map[string]bool

	fsw      *fsnotify.Watcher
	triggers chan []Event

	mu      sync.Mutex
	pending []Event
	timer   *time.Timer
	closed  bool
	done    chan struct{}
}

// New starts watching root and every directory beneath it. Only files
// whose extension appears in extensions count as changes; extensions are
// matched case-insensitively and must include the leading dot.
func New(root string, debounce time.Duration, extensions []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = true
	}

	w := &Watcher{
		root:       root,
		debounce:   debounce,
		extensions: extSet,
		fsw:        fsw,
		triggers:   make(chan []Event, 1),
		done:       make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// Triggers delivers one coalesced batch per debounce window. The channel
// is closed when the watcher is closed.
func (w *Watcher) Triggers() <-chan []Event {
	return w.triggers
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	close(w.triggers)
	return err
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A subdirectory vanishing mid-walk is not fatal.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); name != "." && strings.HasPrefix(name, ".") && path != dir {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watch: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		// New directories must be added so nested changes are seen.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(ev.Name), ".") {
				if err := w.addTree(ev.Name); err != nil {
					log.Printf("watch: add %s: %v", ev.Name, err)
				}
			}
			return
		}
	}

	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if !w.relevant(ev.Name) {
		return
	}

	kind := KindModify
	if ev.Op&fsnotify.Create != 0 {
		kind = KindCreate
	}
	w.record(Event{Path: ev.Name, Kind: kind})
}

func (w *Watcher) relevant(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	return w.extensions[strings.ToLower(filepath.Ext(path))]
}

func (w *Watcher) record(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = append(w.pending, ev)
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.fire)
	} else {
		w.timer.Reset(w.debounce)
	}
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = nil
	w.timer = nil
	w.mu.Unlock()

	select {
	case w.triggers <- batch:
	default:
		// A trigger is already queued; the consumer will reload anyway.
	}
}
