package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/config"
	"github.com/antigravity-dev/orchestrator/internal/model"
	"github.com/antigravity-dev/orchestrator/internal/policy"
	"github.com/antigravity-dev/orchestrator/internal/session"
)

// fakeBackend is an in-memory session.Backend double, letting executor
// tests exercise start/stop/precondition logic without a real tmux daemon.
type fakeBackend struct {
	mu    sync.Mutex
	alive map[string]bool
}

func newManagerForTest() *session.Manager {
	return session.NewManagerForTesting(&fakeBackend{alive: make(map[string]bool)})
}

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

type fakeStore struct {
	mu         sync.Mutex
	executions []model.ExecutionRecord
	retries    map[string]int
	level      model.AutonomyLevel
}

func newFakeStore(level model.AutonomyLevel) *fakeStore {
	return &fakeStore{retries: make(map[string]int), level: level}
}

func (s *fakeStore) LogExecution(rec model.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, rec)
	return nil
}

func (s *fakeStore) RecordErrorRetry(project string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries[project]++
	return nil
}

func (s *fakeStore) ResetErrorRetry(project string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retries, project)
	return nil
}

func (s *fakeStore) AutonomyLevel() model.AutonomyLevel { return s.level }

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(tier model.NotificationTier, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

type fakeProber struct{ freeMB int64 }

func (f fakeProber) FreeMemoryMB() int64 { return f.freeMB }

func testConfig() *config.Config {
	return &config.Config{
		Projects: map[string]config.Project{
			"alpha": {Enabled: true, Workspace: "/tmp/alpha-does-not-exist"},
		},
		AI: config.AI{
			MaxConcurrentSessions: 2,
			ResourceLimits:        config.ResourceLimits{MinFreeMemoryMB: 512},
		},
		SessionAgent: config.SessionAgent{
			Command: "claude",
			Flags:   []string{"{prompt}"},
		},
	}
}

func TestExecuteBatchSkipsObserveOnlyAndDisallowed(t *testing.T) {
	mgr := newManagerForTest()
	reg := session.NewRegistry(mgr)
	st := newFakeStore(model.LevelObserve)
	notif := &fakeNotifier{}
	exec := New(reg, policy.NewCooldownTracker(), st, notif)

	evaluated := []model.EvaluatedRecommendation{
		{Recommendation: model.Recommendation{Project: "alpha", Action: model.ActionStart}, Allowed: false},
		{Recommendation: model.Recommendation{Project: "alpha", Action: model.ActionSkip}, Allowed: true, ObserveOnly: true},
	}
	records := exec.ExecuteBatch(context.Background(), testConfig(), fakeProber{freeMB: 1024}, evaluated)
	if len(records) != 0 {
		t.Fatalf("expected no execution records, got %d", len(records))
	}
}

func TestExecuteStartSucceeds(t *testing.T) {
	mgr := newManagerForTest()
	reg := session.NewRegistry(mgr)
	st := newFakeStore(model.LevelFull)
	notif := &fakeNotifier{}
	exec := New(reg, policy.NewCooldownTracker(), st, notif)

	evaluated := []model.EvaluatedRecommendation{
		{Recommendation: model.Recommendation{Project: "alpha", Action: model.ActionStart, Prompt: "implement the thing"}, Allowed: true},
	}
	records := exec.ExecuteBatch(context.Background(), testConfig(), fakeProber{freeMB: 1024}, evaluated)
	if len(records) != 1 {
		t.Fatalf("expected one execution record, got %d", len(records))
	}
	if records[0].Result != model.ExecutionOK {
		t.Errorf("Result = %q, want ok", records[0].Result)
	}
	if !reg.IsRunning("alpha") {
		t.Error("expected alpha to be running after a successful start")
	}
}

func TestExecuteStartBlockedWhenAlreadyRunning(t *testing.T) {
	mgr := newManagerForTest()
	reg := session.NewRegistry(mgr)
	if _, err := reg.Start(context.Background(), "alpha", "claude", "/tmp", "p", ""); err != nil {
		t.Fatal(err)
	}
	st := newFakeStore(model.LevelFull)
	notif := &fakeNotifier{}
	exec := New(reg, policy.NewCooldownTracker(), st, notif)

	evaluated := []model.EvaluatedRecommendation{
		{Recommendation: model.Recommendation{Project: "alpha", Action: model.ActionStart}, Allowed: true},
	}
	records := exec.ExecuteBatch(context.Background(), testConfig(), fakeProber{freeMB: 1024}, evaluated)
	if records[0].Result != model.ExecutionBlocked {
		t.Errorf("Result = %q, want blocked", records[0].Result)
	}
}

func TestExecuteStartBlockedOnLowMemory(t *testing.T) {
	mgr := newManagerForTest()
	reg := session.NewRegistry(mgr)
	st := newFakeStore(model.LevelFull)
	notif := &fakeNotifier{}
	exec := New(reg, policy.NewCooldownTracker(), st, notif)

	evaluated := []model.EvaluatedRecommendation{
		{Recommendation: model.Recommendation{Project: "alpha", Action: model.ActionStart}, Allowed: true},
	}
	records := exec.ExecuteBatch(context.Background(), testConfig(), fakeProber{freeMB: 10}, evaluated)
	if records[0].Result != model.ExecutionBlocked {
		t.Errorf("Result = %q, want blocked", records[0].Result)
	}
}

func TestExecuteStopBlockedWhenNotRunning(t *testing.T) {
	mgr := newManagerForTest()
	reg := session.NewRegistry(mgr)
	st := newFakeStore(model.LevelFull)
	notif := &fakeNotifier{}
	exec := New(reg, policy.NewCooldownTracker(), st, notif)

	evaluated := []model.EvaluatedRecommendation{
		{Recommendation: model.Recommendation{Project: "alpha", Action: model.ActionStop}, Allowed: true},
	}
	records := exec.ExecuteBatch(context.Background(), testConfig(), fakeProber{freeMB: 1024}, evaluated)
	if records[0].Result != model.ExecutionBlocked {
		t.Errorf("Result = %q, want blocked", records[0].Result)
	}
}

func TestExecuteRecordsCooldownOnSuccess(t *testing.T) {
	mgr := newManagerForTest()
	reg := session.NewRegistry(mgr)
	st := newFakeStore(model.LevelFull)
	notif := &fakeNotifier{}
	cooldowns := policy.NewCooldownTracker()
	exec := New(reg, cooldowns, st, notif)

	evaluated := []model.EvaluatedRecommendation{
		{Recommendation: model.Recommendation{Project: "alpha", Action: model.ActionStart}, Allowed: true},
	}
	exec.ExecuteBatch(context.Background(), testConfig(), fakeProber{freeMB: 1024}, evaluated)

	if cooldowns.Ready("alpha", model.ActionStart, time.Hour, time.Hour, time.Now()) {
		t.Error("expected cooldown to be recorded after a successful start")
	}
}
