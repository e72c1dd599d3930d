package command

import (
	"context"
	"testing"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/config"
	"github.com/antigravity-dev/orchestrator/internal/model"
)

type fakeCfgMgr struct{ cfg *config.Config }

func (f *fakeCfgMgr) Get() *config.Config     { return f.cfg.Clone() }
func (f *fakeCfgMgr) Set(cfg *config.Config)  { f.cfg = cfg.Clone() }
func (f *fakeCfgMgr) Reload(path string) error { return nil }

type fakeThink struct{ triggered int }

func (f *fakeThink) TriggerNow(ctx context.Context) { f.triggered++ }

type fakeDoc struct {
	level   model.AutonomyLevel
	setErr  error
	recent  []model.DecisionRecord
}

func (f *fakeDoc) AutonomyLevel() model.AutonomyLevel { return f.level }
func (f *fakeDoc) SetAutonomyLevel(level model.AutonomyLevel) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.level = level
	return nil
}
func (f *fakeDoc) RecentDecisions(n int) []model.DecisionRecord {
	if len(f.recent) <= n {
		return f.recent
	}
	return f.recent[len(f.recent)-n:]
}

type fakeReminders struct {
	pending    []model.Reminder
	listErr    error
	cancelN    int64
	cancelErr  error
	cancelledQ string
}

func (f *fakeReminders) ListPending() ([]model.Reminder, error) {
	return f.pending, f.listErr
}
func (f *fakeReminders) CancelByText(q string) (int64, error) {
	f.cancelledQ = q
	return f.cancelN, f.cancelErr
}

type fakeTrust struct {
	entered       map[model.AutonomyLevel]time.Time
	clearedLevels map[model.AutonomyLevel]bool
}

func (f *fakeTrust) EnterLevel(level model.AutonomyLevel, at time.Time) error {
	if f.entered == nil {
		f.entered = map[model.AutonomyLevel]time.Time{}
	}
	f.entered[level] = at
	return nil
}

func (f *fakeTrust) ClearPromotionSent(level model.AutonomyLevel) error {
	if f.clearedLevels == nil {
		f.clearedLevels = map[model.AutonomyLevel]bool{}
	}
	f.clearedLevels[level] = true
	return nil
}

func newDispatcher() (*Default, *fakeCfgMgr, *fakeThink, *fakeDoc, *fakeReminders) {
	cfgMgr := &fakeCfgMgr{cfg: &config.Config{}}
	think := &fakeThink{}
	doc := &fakeDoc{level: model.LevelCautious}
	reminders := &fakeReminders{}
	trust := &fakeTrust{}
	return New(cfgMgr, think, doc, reminders, trust), cfgMgr, think, doc, reminders
}

func TestDispatchStatusWithNoDecisions(t *testing.T) {
	d, _, _, _, _ := newDispatcher()
	got := Dispatch(context.Background(), d, "status")
	if got == "" {
		t.Fatal("expected non-empty status")
	}
}

func TestDispatchAIOnOff(t *testing.T) {
	d, cfgMgr, _, _, _ := newDispatcher()

	Dispatch(context.Background(), d, "ai on")
	if !cfgMgr.cfg.AI.Enabled {
		t.Error("expected AI enabled after 'ai on'")
	}

	Dispatch(context.Background(), d, "ai off")
	if cfgMgr.cfg.AI.Enabled {
		t.Error("expected AI disabled after 'ai off'")
	}
}

func TestDispatchThinkTriggersImmediateCycle(t *testing.T) {
	d, _, think, _, _ := newDispatcher()
	Dispatch(context.Background(), d, "think")
	if think.triggered != 1 {
		t.Errorf("expected TriggerNow called once, got %d", think.triggered)
	}
}

func TestDispatchLevelReadsAndSets(t *testing.T) {
	d, _, _, doc, _ := newDispatcher()

	got := Dispatch(context.Background(), d, "level")
	if got != "autonomy level: cautious" {
		t.Errorf("unexpected read reply: %q", got)
	}

	Dispatch(context.Background(), d, "level moderate")
	if doc.level != model.LevelModerate {
		t.Errorf("expected level set to moderate, got %s", doc.level)
	}
}

func TestDispatchLevelReArmsPromotionOnChange(t *testing.T) {
	cfgMgr := &fakeCfgMgr{cfg: &config.Config{}}
	think := &fakeThink{}
	doc := &fakeDoc{level: model.LevelCautious}
	reminders := &fakeReminders{}
	trust := &fakeTrust{}
	d := New(cfgMgr, think, doc, reminders, trust)

	Dispatch(context.Background(), d, "level moderate")

	if !trust.clearedLevels[model.LevelModerate] {
		t.Error("expected promotion flag cleared for the newly entered level")
	}
	if _, ok := trust.entered[model.LevelModerate]; !ok {
		t.Error("expected entry timestamp stamped for the newly entered level")
	}
}

func TestDispatchLevelRejectsUnknownLevel(t *testing.T) {
	d, _, _, doc, _ := newDispatcher()
	before := doc.level
	got := Dispatch(context.Background(), d, "level bogus")
	if doc.level != before {
		t.Error("level must not change on a malformed command")
	}
	if got == "" {
		t.Fatal("expected a malformed-command reply")
	}
}

func TestDispatchReminders(t *testing.T) {
	d, _, _, _, reminders := newDispatcher()
	reminders.pending = []model.Reminder{
		{ID: 1, Text: "renew domain", FireAt: time.Now().Add(24 * time.Hour)},
	}
	got := Dispatch(context.Background(), d, "reminders")
	if got == "no pending reminders" {
		t.Error("expected pending reminders to be listed")
	}
}

func TestDispatchCancelPassesQueryThrough(t *testing.T) {
	d, _, _, _, reminders := newDispatcher()
	reminders.cancelN = 2
	got := Dispatch(context.Background(), d, "cancel renew domain")
	if reminders.cancelledQ != "renew domain" {
		t.Errorf("expected query 'renew domain', got %q", reminders.cancelledQ)
	}
	if got != "cancelled 2 reminder(s)" {
		t.Errorf("unexpected reply: %q", got)
	}
}

func TestDispatchUnrecognizedCommandReturnsUsage(t *testing.T) {
	d, _, _, _, _ := newDispatcher()
	got := Dispatch(context.Background(), d, "frobnicate everything")
	if got != usageMessage() {
		t.Errorf("expected usage message for unrecognized command, got %q", got)
	}
}

func TestDispatchEmptyCommandReturnsUsage(t *testing.T) {
	d, _, _, _, _ := newDispatcher()
	got := Dispatch(context.Background(), d, "   ")
	if got != usageMessage() {
		t.Errorf("expected usage message for blank input, got %q", got)
	}
}

func TestDispatchExplainWithDecision(t *testing.T) {
	d, _, _, doc, _ := newDispatcher()
	doc.recent = []model.DecisionRecord{
		{
			TS:      time.Now(),
			Summary: "scanned 3 projects",
			Evaluated: []model.EvaluatedRecommendation{
				{
					Recommendation: model.Recommendation{Project: "alpha", Action: model.ActionStart, Reason: "idle"},
					Allowed:        true,
				},
			},
		},
	}
	got := Dispatch(context.Background(), d, "explain")
	if got == "no decisions recorded yet" {
		t.Error("expected the recorded decision to be explained")
	}
}
