package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// BoardWatcher watches the board file for edits and emits a debounced
// notification per burst of writes. Editors typically produce several
// filesystem events per save (truncate, write, rename); debouncing
// collapses them into one reload.
type BoardWatcher struct {
	watcher  *fsnotify.Watcher
	events   chan struct{}
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	path     string
	debounce time.Duration
}

// NewBoardWatcher creates a watcher for the given board file.
// debounce <= 0 uses 250ms. The watcher must be started with Start()
// before it will emit events.
func NewBoardWatcher(path string, debounce time.Duration) (*BoardWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve board path: %w", err)
	}

	return &BoardWatcher{
		watcher:  watcher,
		events:   make(chan struct{}, 1),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		path:     abs,
		debounce: debounce,
	}, nil
}

// Start begins watching the board file's directory. Watching the
// directory rather than the file survives editors that replace the
// file on save.
func (w *BoardWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch board directory: %w", err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching and cleans up. Blocks until the event goroutine
// has exited.
func (w *BoardWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)
	return nil
}

// Events emits one notification per debounced burst of board edits.
// The channel is closed when the watcher is stopped.
func (w *BoardWatcher) Events() <-chan struct{} {
	return w.events
}

// Errors emits watcher errors. The channel is closed when the watcher
// is stopped.
func (w *BoardWatcher) Errors() <-chan error {
	return w.errors
}

// processEvents converts raw fsnotify events into debounced board
// change notifications.
func (w *BoardWatcher) processEvents() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isBoardEvent(event) {
				continue
			}

			// Restart the quiet-period timer on every relevant event.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			select {
			case w.events <- struct{}{}:
			default:
				// A notification is already pending; coalesce.
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// isBoardEvent filters directory events down to writes of the board
// file itself.
func (w *BoardWatcher) isBoardEvent(event fsnotify.Event) bool {
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	if abs != w.path {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}

// IsRunning returns true if the watcher is currently running.
func (w *BoardWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
