package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/config"
	"github.com/antigravity-dev/orchestrator/internal/model"
)

type fakeCfgMgr struct{ cfg *config.Config }

func (f *fakeCfgMgr) Get() *config.Config      { return f.cfg }
func (f *fakeCfgMgr) Set(cfg *config.Config)   { f.cfg = cfg }
func (f *fakeCfgMgr) Reload(path string) error { return nil }

type fakeDoc struct {
	level   model.AutonomyLevel
	recent  []model.DecisionRecord
}

func (f *fakeDoc) AutonomyLevel() model.AutonomyLevel { return f.level }
func (f *fakeDoc) RecentDecisions(n int) []model.DecisionRecord {
	if len(f.recent) <= n {
		return f.recent
	}
	return f.recent[len(f.recent)-n:]
}

type fakeSessions struct{ sessions []model.Session }

func (f *fakeSessions) All() []model.Session { return f.sessions }

func TestStartReturnsImmediatelyWhenAPIDisabled(t *testing.T) {
	s := NewServer(&fakeCfgMgr{cfg: &config.Config{}}, &fakeDoc{}, &fakeSessions{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("expected no error when API disabled, got %v", err)
	}
}

func TestHandleHealthReportsUptime(t *testing.T) {
	s := NewServer(&fakeCfgMgr{cfg: &config.Config{}}, &fakeDoc{}, &fakeSessions{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := body["uptimeSeconds"]; !ok {
		t.Error("expected uptimeSeconds in health response")
	}
}

func TestHandleStatusReportsAutonomyLevelAndLastThink(t *testing.T) {
	doc := &fakeDoc{
		level: model.LevelModerate,
		recent: []model.DecisionRecord{
			{TS: time.Now(), Summary: "scanned projects"},
		},
	}
	s := NewServer(&fakeCfgMgr{cfg: &config.Config{}}, doc, &fakeSessions{})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	s.handleStatus(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["autonomyLevel"] != "moderate" {
		t.Errorf("expected autonomyLevel moderate, got %v", body["autonomyLevel"])
	}
	if _, ok := body["lastThinkAt"]; !ok {
		t.Error("expected lastThinkAt when a decision is recorded")
	}
}

func TestHandleSessionsListsActiveSessions(t *testing.T) {
	sessions := &fakeSessions{sessions: []model.Session{{ProjectName: "alpha"}}}
	s := NewServer(&fakeCfgMgr{cfg: &config.Config{}}, &fakeDoc{}, sessions)
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()

	s.handleSessions(rec, req)

	var body []model.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body) != 1 || body[0].ProjectName != "alpha" {
		t.Errorf("unexpected sessions response: %+v", body)
	}
}

func TestHandleDecisionsReturnsRecentRecords(t *testing.T) {
	doc := &fakeDoc{recent: []model.DecisionRecord{
		{TS: time.Now(), Summary: "first"},
		{TS: time.Now(), Summary: "second"},
	}}
	s := NewServer(&fakeCfgMgr{cfg: &config.Config{}}, doc, &fakeSessions{})
	req := httptest.NewRequest(http.MethodGet, "/decisions", nil)
	rec := httptest.NewRecorder()

	s.handleDecisions(rec, req)

	var body []model.DecisionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body) != 2 {
		t.Errorf("expected 2 decisions, got %d", len(body))
	}
}
