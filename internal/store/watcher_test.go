package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T) (*BoardWatcher, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte("bookings: []\n"), 0644); err != nil {
		t.Fatalf("Failed to seed board file: %v", err)
	}

	w, err := NewBoardWatcher(path, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewBoardWatcher() failed: %v", err)
	}
	return w, path
}

func TestBoardWatcherStartStop(t *testing.T) {
	w, _ := newTestWatcher(t)

	if w.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !w.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
}

func TestBoardWatcherStartAlreadyRunning(t *testing.T) {
	w, _ := newTestWatcher(t)

	if err := w.Start(); err != nil {
		t.Fatalf("First Start() failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}
}

func TestBoardWatcherEmitsOnWrite(t *testing.T) {
	w, path := newTestWatcher(t)

	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("bookings:\n  - name: Job\n"), 0644); err != nil {
		t.Fatalf("Failed to write board: %v", err)
	}

	select {
	case <-w.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for board change event")
	}
}

func TestBoardWatcherDebouncesBurst(t *testing.T) {
	w, path := newTestWatcher(t)

	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	// A burst of writes inside the quiet period collapses.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("bookings: []\n"), 0644); err != nil {
			t.Fatalf("Failed to write board: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-w.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for debounced event")
	}

	select {
	case <-w.Events():
		t.Error("Burst of writes should produce a single event")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestBoardWatcherIgnoresSiblingFiles(t *testing.T) {
	w, path := newTestWatcher(t)

	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	sibling := filepath.Join(filepath.Dir(path), "notes.txt")
	if err := os.WriteFile(sibling, []byte("unrelated"), 0644); err != nil {
		t.Fatalf("Failed to write sibling file: %v", err)
	}

	select {
	case <-w.Events():
		t.Error("Should not receive event for a sibling file")
	case <-time.After(300 * time.Millisecond):
		// Expected.
	}
}

func TestBoardWatcherStopClosesChannels(t *testing.T) {
	w, _ := newTestWatcher(t)

	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	events := w.Events()
	errs := w.Errors()

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Error("Events channel should be closed after Stop()")
		}
	case <-time.After(time.Second):
		t.Error("Timeout verifying events channel closure")
	}

	select {
	case _, ok := <-errs:
		if ok {
			t.Error("Errors channel should be closed after Stop()")
		}
	case <-time.After(time.Second):
		t.Error("Timeout verifying errors channel closure")
	}
}
