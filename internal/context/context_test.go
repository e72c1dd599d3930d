package context

import (
	"strings"
	"testing"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/config"
	"github.com/antigravity-dev/orchestrator/internal/learner"
	"github.com/antigravity-dev/orchestrator/internal/model"
	"github.com/antigravity-dev/orchestrator/internal/resource"
	"github.com/antigravity-dev/orchestrator/internal/signalfile"
)

type fakeDoc struct {
	decisions    []model.DecisionRecord
	conversation []model.ConversationEntry
	evaluations  []model.EvaluationRecord
	retries      map[string]int
}

func (d *fakeDoc) RecentDecisions(n int) []model.DecisionRecord       { return d.decisions }
func (d *fakeDoc) RecentConversation(n int) []model.ConversationEntry { return d.conversation }
func (d *fakeDoc) EvaluationsSince(since time.Time) []model.EvaluationRecord {
	var out []model.EvaluationRecord
	for _, e := range d.evaluations {
		if !e.EvaluatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out
}
func (d *fakeDoc) GetErrorRetryCount(project string) int { return d.retries[project] }

type fakeRel struct {
	summary model.TrustSummary
	count   int
}

func (r *fakeRel) GetTrustSummary(level model.AutonomyLevel) (model.TrustSummary, error) {
	return r.summary, nil
}
func (r *fakeRel) CountSessionEvaluations() (int, error) { return r.count, nil }

type fakeRevenue struct{ text string }

func (f fakeRevenue) FormatForContext() (string, error) { return f.text, nil }

type fakePatterns struct{ patterns *learner.Patterns }

func (f fakePatterns) AnalyzePatterns() (*learner.Patterns, error) { return f.patterns, nil }

type fakeSessions struct{ sessions []model.Session }

func (f fakeSessions) All() []model.Session { return f.sessions }

type fakeSignals struct {
	sessions    map[string]*signalfile.Session
	evaluations map[string]*signalfile.Evaluation
	errors      map[string]*signalfile.Error
}

func (f fakeSignals) ReadSession(workspace string) (*signalfile.Session, error) {
	return f.sessions[workspace], nil
}
func (f fakeSignals) ReadEvaluation(workspace string) (*signalfile.Evaluation, error) {
	return f.evaluations[workspace], nil
}
func (f fakeSignals) ReadError(workspace string) (*signalfile.Error, error) {
	return f.errors[workspace], nil
}
func (f fakeSignals) ReadMCPConfig(workspace string) (*signalfile.MCPConfig, error) { return nil, nil }

func baseConfig() *config.Config {
	return &config.Config{
		Projects: map[string]config.Project{
			"alpha": {Workspace: "/w/alpha"},
			"beta":  {Workspace: "/w/beta", Focus: true},
			"gamma": {Workspace: "/w/gamma", Skip: true},
		},
		AI: config.AI{
			MaxPromptLength:      8000,
			StalenessDays:        3,
			MaxSessionDurationMs: int64(45 * time.Minute / time.Millisecond),
		},
	}
}

func TestAssembleOmitsEmptySections(t *testing.T) {
	cfg := baseConfig()
	doc := &fakeDoc{retries: map[string]int{}}
	a := New(cfg, doc, &fakeRel{count: 0}, fakeRevenue{}, fakePatterns{}, fakeSessions{}, fakeSignals{})

	text := a.Assemble(time.Now(), model.LevelObserve, resource.Snapshot{DiskAvailable: true})
	if strings.Contains(text, "Session-learner insights") {
		t.Error("expected learner section omitted below the evaluation threshold")
	}
	if !strings.Contains(text, "Response format") {
		t.Error("expected response format section always present")
	}
}

func TestAssembleTruncatesAtMaxLength(t *testing.T) {
	cfg := baseConfig()
	cfg.AI.MaxPromptLength = 50
	doc := &fakeDoc{retries: map[string]int{}}
	a := New(cfg, doc, &fakeRel{}, fakeRevenue{}, fakePatterns{}, fakeSessions{}, fakeSignals{})

	text := a.Assemble(time.Now(), model.LevelObserve, resource.Snapshot{})
	if len(text) > 50 {
		t.Errorf("len(text) = %d, want <= 50", len(text))
	}
	if !strings.HasSuffix(text, "[truncated]") {
		t.Errorf("expected truncation marker, got %q", text)
	}
}

func TestProjectsSectionSortsFocusThenAttentionThenAlpha(t *testing.T) {
	cfg := baseConfig()
	signals := fakeSignals{
		sessions: map[string]*signalfile.Session{},
		evaluations: map[string]*signalfile.Evaluation{
			"/w/alpha": {Recommendation: "escalate", EvaluatedAt: time.Now()},
			"/w/beta":  {Recommendation: "continue", EvaluatedAt: time.Now()},
		},
		errors: map[string]*signalfile.Error{},
	}
	doc := &fakeDoc{retries: map[string]int{}}
	a := New(cfg, doc, &fakeRel{}, fakeRevenue{}, fakePatterns{}, fakeSessions{}, signals)

	text := a.projectsSection(time.Now())
	lines := strings.Split(text, "\n")
	// beta is focus-listed, should come first; alpha has an "attention"
	// status and should come before any plain alphabetical entries (gamma
	// is skip-listed and excluded entirely).
	if !strings.Contains(lines[1], "beta") {
		t.Errorf("expected beta (focus) first, got %q", lines[1])
	}
	if !strings.Contains(text, "alpha") {
		t.Error("expected alpha present with attention status")
	}
	if strings.Contains(text, "gamma") {
		t.Error("expected gamma (skip-listed) excluded")
	}
}

func TestProjectsSectionExcludesNoStateProjects(t *testing.T) {
	cfg := &config.Config{Projects: map[string]config.Project{"untouched": {Workspace: "/w/untouched"}}}
	doc := &fakeDoc{retries: map[string]int{}}
	a := New(cfg, doc, &fakeRel{}, fakeRevenue{}, fakePatterns{}, fakeSessions{}, fakeSignals{})

	if text := a.projectsSection(time.Now()); text != "" {
		t.Errorf("expected no projects section for a project with no state, got %q", text)
	}
}

func TestStaleMarkerAppearsPastStalenessThreshold(t *testing.T) {
	cfg := baseConfig()
	old := time.Now().Add(-10 * 24 * time.Hour)
	signals := fakeSignals{
		evaluations: map[string]*signalfile.Evaluation{"/w/alpha": {Recommendation: "continue", EvaluatedAt: old}},
	}
	doc := &fakeDoc{retries: map[string]int{}}
	a := New(cfg, doc, &fakeRel{}, fakeRevenue{}, fakePatterns{}, fakeSessions{}, signals)

	text := a.projectsSection(time.Now())
	if !strings.Contains(text, "STALE") {
		t.Errorf("expected STALE marker, got %q", text)
	}
}

func TestActiveSessionsMarksTimeoutImminent(t *testing.T) {
	cfg := baseConfig()
	sessions := fakeSessions{sessions: []model.Session{
		{ProjectName: "alpha", SessionName: "orch-alpha", StartedAt: time.Now().Add(-42 * time.Minute)},
	}}
	doc := &fakeDoc{retries: map[string]int{}}
	a := New(cfg, doc, &fakeRel{}, fakeRevenue{}, fakePatterns{}, sessions, fakeSignals{})

	text := a.activeSessionsSection(time.Now())
	if !strings.Contains(text, "TIMEOUT IMMINENT") {
		t.Errorf("expected imminent timeout marker, got %q", text)
	}
}

func TestLearnerSectionOmittedBelowThreshold(t *testing.T) {
	cfg := baseConfig()
	doc := &fakeDoc{retries: map[string]int{}}
	a := New(cfg, doc, &fakeRel{count: 49}, fakeRevenue{}, fakePatterns{patterns: &learner.Patterns{}}, fakeSessions{}, fakeSignals{})

	if s := a.learnerSection(); s != "" {
		t.Errorf("expected empty learner section below 50 evaluations, got %q", s)
	}
}

func TestLearnerSectionPresentAboveThreshold(t *testing.T) {
	cfg := baseConfig()
	doc := &fakeDoc{retries: map[string]int{}}
	patterns := &learner.Patterns{AvgScoreByProject: map[string]float64{"alpha": 4.2}}
	a := New(cfg, doc, &fakeRel{count: 50}, fakeRevenue{}, fakePatterns{patterns: patterns}, fakeSessions{}, fakeSignals{})

	s := a.learnerSection()
	if !strings.Contains(s, "alpha") {
		t.Errorf("expected alpha in learner section, got %q", s)
	}
}
