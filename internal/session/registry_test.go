package session

import (
	"context"
	"sync"
	"testing"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// fakeBackend is an in-memory Backend double for exercising Registry
// without a real tmux or docker daemon.
type fakeBackend struct {
	mu    sync.Mutex
	alive map[string]bool
}

func newFakeBackend() *fakeBackend { return &fakeBackend{alive: make(map[string]bool)} }

func (f *fakeBackend) Launch(ctx context.Context, sessionName, agentCmd, workDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[sessionName] = true
	return nil
}

func (f *fakeBackend) IsAlive(sessionName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[sessionName]
}

func (f *fakeBackend) Status(sessionName string) (string, int) {
	if f.IsAlive(sessionName) {
		return "running", 0
	}
	return "gone", 0
}

func (f *fakeBackend) CaptureOutput(sessionName string) (string, error) { return "", nil }

func (f *fakeBackend) Kill(sessionName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, sessionName)
	return nil
}

func TestRegistryStartTracksSession(t *testing.T) {
	mgr := newManagerWithBackend(newFakeBackend(), "tmux")
	reg := NewRegistry(mgr)

	sess, err := reg.Start(context.Background(), "alpha", "claude", "/tmp/alpha", "do work", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !reg.IsRunning("alpha") {
		t.Error("expected alpha to be running after Start")
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
	if sess.Status != model.SessionRunning {
		t.Errorf("Status = %q, want running", sess.Status)
	}
}

func TestRegistryStartRejectsDuplicate(t *testing.T) {
	mgr := newManagerWithBackend(newFakeBackend(), "tmux")
	reg := NewRegistry(mgr)

	if _, err := reg.Start(context.Background(), "alpha", "claude", "/tmp/alpha", "p", "h"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Start(context.Background(), "alpha", "claude", "/tmp/alpha", "p", "h"); err == nil {
		t.Error("expected second Start for the same project to fail")
	}
}

func TestRegistryStop(t *testing.T) {
	mgr := newManagerWithBackend(newFakeBackend(), "tmux")
	reg := NewRegistry(mgr)

	if _, err := reg.Start(context.Background(), "alpha", "claude", "/tmp/alpha", "p", "h"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Stop("alpha"); err != nil {
		t.Fatal(err)
	}
	if reg.IsRunning("alpha") {
		t.Error("expected alpha to no longer be running after Stop")
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", reg.Count())
	}
}

func TestRegistryForget(t *testing.T) {
	mgr := newManagerWithBackend(newFakeBackend(), "tmux")
	reg := NewRegistry(mgr)

	if _, err := reg.Start(context.Background(), "alpha", "claude", "/tmp/alpha", "p", "h"); err != nil {
		t.Fatal(err)
	}
	reg.Forget("alpha")
	if _, ok := reg.Get("alpha"); ok {
		t.Error("expected alpha to be untracked after Forget")
	}
}
