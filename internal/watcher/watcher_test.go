package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordedCall struct {
	kind string
	path string
}

type fakeHandler struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (h *fakeHandler) record(kind, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, recordedCall{kind, path})
}

func (h *fakeHandler) snapshot() []recordedCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]recordedCall, len(h.calls))
	copy(out, h.calls)
	return out
}

func (h *fakeHandler) IndexFile(ctx context.Context, path string) error {
	h.record("index", path)
	return nil
}

func (h *fakeHandler) ReindexFile(ctx context.Context, path string) error {
	h.record("reindex", path)
	return nil
}

func (h *fakeHandler) RemoveFile(ctx context.Context, path string) error {
	h.record("remove", path)
	return nil
}

func (h *fakeHandler) RescanSkill(ctx context.Context, skillDir string) (bool, error) {
	h.record("rescan", skillDir)
	return true, nil
}

type fakeBroadcaster struct {
	mu            sync.Mutex
	notifications []string
}

func (b *fakeBroadcaster) Broadcast(notification string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, notification)
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notifications)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWatcherIndexesNewPythonFile(t *testing.T) {
	root := t.TempDir()
	scriptsDir := filepath.Join(root, "git", "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	handler := &fakeHandler{}
	bc := &fakeBroadcaster{}
	w := New(root, handler, bc, WithCoalesceWindow(20*time.Millisecond), WithQuietPeriod(40*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	scriptPath := filepath.Join(scriptsDir, "main.py")
	if err := os.WriteFile(scriptPath, []byte("# cmd"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(handler.snapshot()) > 0 })

	calls := handler.snapshot()
	if calls[0].path != scriptPath {
		t.Fatalf("unexpected call: %+v", calls)
	}
	if bc.count() == 0 {
		t.Fatal("expected a tools/list_changed broadcast")
	}
}

func TestWatcherIgnoresFilesOutsideScriptsDir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "git"), 0o755); err != nil {
		t.Fatal(err)
	}

	handler := &fakeHandler{}
	bc := &fakeBroadcaster{}
	w := New(root, handler, bc, WithCoalesceWindow(10*time.Millisecond), WithQuietPeriod(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(root, "git", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	if len(handler.snapshot()) != 0 {
		t.Fatalf("expected no handler calls for a non-.py file, got %+v", handler.snapshot())
	}
}

func TestWatcherCoalescesRapidWritesToLatestOp(t *testing.T) {
	root := t.TempDir()
	scriptsDir := filepath.Join(root, "git", "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	scriptPath := filepath.Join(scriptsDir, "main.py")
	if err := os.WriteFile(scriptPath, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	handler := &fakeHandler{}
	bc := &fakeBroadcaster{}
	w := New(root, handler, bc, WithCoalesceWindow(50*time.Millisecond), WithQuietPeriod(100*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(scriptPath, []byte("v2"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := os.Remove(scriptPath); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(handler.snapshot()) > 0 })
	time.Sleep(150 * time.Millisecond) // let any further coalescing settle

	calls := handler.snapshot()
	if len(calls) != 1 || calls[0].kind != "remove" {
		t.Fatalf("expected delete to win over modify within the coalescing window, got %+v", calls)
	}
}
