// Package context assembles the single plain-text prompt the Think Loop
// sends to the LLM brain: a fixed-order sequence of sections separated by
// a neutral delimiter, bounded in total length.
package context

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/config"
	"github.com/antigravity-dev/orchestrator/internal/learner"
	"github.com/antigravity-dev/orchestrator/internal/model"
	"github.com/antigravity-dev/orchestrator/internal/resource"
	"github.com/antigravity-dev/orchestrator/internal/signalfile"
)

const sectionDelimiter = "\n---\n"
const truncationMarker = "\n...[truncated]"

// minEvaluationsForInsights mirrors internal/learner's own gate; the
// section is omitted entirely below this, not just left empty.
const minEvaluationsForInsights = 50

// DocumentStore is the narrow slice of store.Document the Assembler reads.
type DocumentStore interface {
	RecentDecisions(n int) []model.DecisionRecord
	RecentConversation(n int) []model.ConversationEntry
	EvaluationsSince(since time.Time) []model.EvaluationRecord
	GetErrorRetryCount(project string) int
}

// RelationalStore is the narrow slice of store.Store the Assembler reads
// for trust summaries.
type RelationalStore interface {
	GetTrustSummary(level model.AutonomyLevel) (model.TrustSummary, error)
	CountSessionEvaluations() (int, error)
}

// RevenueFormatter is the narrow slice of revenue.Tracker the Assembler uses.
type RevenueFormatter interface {
	FormatForContext() (string, error)
}

// PatternAnalyzer is the narrow slice of learner.Learner the Assembler uses.
type PatternAnalyzer interface {
	AnalyzePatterns() (*learner.Patterns, error)
}

// SessionLister is the narrow slice of session.Registry the Assembler uses.
type SessionLister interface {
	All() []model.Session
}

// Assembler is the Context Assembler described in spec.md §4.8.
type Assembler struct {
	cfg      *config.Config
	doc      DocumentStore
	rel      RelationalStore
	revenue  RevenueFormatter
	patterns PatternAnalyzer
	sessions SessionLister
	signals  signalfile.Reader
}

// New constructs an Assembler.
func New(cfg *config.Config, doc DocumentStore, rel RelationalStore, revenue RevenueFormatter, patterns PatternAnalyzer, sessions SessionLister, signals signalfile.Reader) *Assembler {
	return &Assembler{cfg: cfg, doc: doc, rel: rel, revenue: revenue, patterns: patterns, sessions: sessions, signals: signals}
}

// Assemble builds the prompt for one Think cycle.
func (a *Assembler) Assemble(now time.Time, level model.AutonomyLevel, snap resource.Snapshot) string {
	var sections []string

	sections = append(sections, a.preamble(level))
	sections = append(sections, a.timeSection(now))
	sections = append(sections, a.resourceSection(snap))
	sections = append(sections, a.healthSection(snap))

	if s := a.revenueSection(); s != "" {
		sections = append(sections, s)
	}
	if s := a.trustSection(level, now); s != "" {
		sections = append(sections, s)
	}
	if s := a.learnerSection(); s != "" {
		sections = append(sections, s)
	}
	if s := a.conversationSection(); s != "" {
		sections = append(sections, s)
	}
	if s := a.prioritiesSection(); s != "" {
		sections = append(sections, s)
	}
	if s := a.activeSessionsSection(now); s != "" {
		sections = append(sections, s)
	}
	if s := a.projectsSection(now); s != "" {
		sections = append(sections, s)
	}
	if s := a.evaluationDigestSection(now); s != "" {
		sections = append(sections, s)
	}
	if s := a.decisionHistorySection(); s != "" {
		sections = append(sections, s)
	}
	sections = append(sections, responseFormatSection)

	text := strings.Join(sections, sectionDelimiter)

	maxLen := a.cfg.AI.MaxPromptLength
	if maxLen > 0 && len(text) > maxLen {
		cut := maxLen - len(truncationMarker)
		if cut < 0 {
			cut = 0
		}
		text = text[:cut] + truncationMarker
	}
	return text
}

func (a *Assembler) preamble(level model.AutonomyLevel) string {
	return fmt.Sprintf(
		"You are the autonomous brain of a personal compute-host supervisor, operating at autonomy level %q. "+
			"Recommend actions (start, stop, restart, notify, skip) for the projects below. "+
			"At observe level your recommendations are never executed automatically; at cautious and above, "+
			"start/notify/skip may run unattended but stop/restart still require moderate or full trust. "+
			"Be conservative: prefer skip over a speculative start, and always give a one-line reason.",
		level,
	)
}

func (a *Assembler) timeSection(now time.Time) string {
	quiet := ""
	if a.cfg.QuietHours.Start != "" && a.cfg.QuietHours.End != "" {
		quiet = fmt.Sprintf(", quiet hours %s-%s %s", a.cfg.QuietHours.Start, a.cfg.QuietHours.End, a.cfg.QuietHours.Timezone)
	}
	return fmt.Sprintf("Current time: %s%s.", now.Format(time.RFC3339), quiet)
}

func (a *Assembler) resourceSection(snap resource.Snapshot) string {
	disk := "disk unavailable"
	if snap.DiskAvailable {
		disk = fmt.Sprintf("disk %.0f%% used of %.0fGB", snap.DiskUsedPercent, snap.DiskTotalGB)
	}
	return fmt.Sprintf(
		"Resources: cpu %.0f%%, mem %d/%dMB available (%.0f%% used), %s, uptime %dh.",
		snap.CPUPercent, snap.MemAvailableMB, snap.MemTotalMB, snap.MemUsedPercent, disk, snap.UptimeSeconds/3600,
	)
}

func (a *Assembler) healthSection(snap resource.Snapshot) string {
	var concerns []string
	if !snap.HasHeadroom(a.cfg.AI.ResourceLimits.MinFreeMemoryMB) {
		concerns = append(concerns, "low free memory")
	}
	if snap.DiskAvailable && snap.DiskUsedPercent >= 90 {
		concerns = append(concerns, "disk nearly full")
	}
	if snap.CPUPercent >= 90 {
		concerns = append(concerns, "cpu saturated")
	}
	if len(concerns) == 0 {
		return "Health: nominal."
	}
	return "Health: " + strings.Join(concerns, ", ") + "."
}

func (a *Assembler) revenueSection() string {
	if a.revenue == nil {
		return ""
	}
	text, err := a.revenue.FormatForContext()
	if err != nil || text == "" {
		return ""
	}
	return "Revenue:\n" + text
}

func (a *Assembler) trustSection(level model.AutonomyLevel, now time.Time) string {
	if a.rel == nil {
		return ""
	}
	summary, err := a.rel.GetTrustSummary(level)
	if err != nil {
		return ""
	}
	progress := promotionProgress(a.cfg, level, summary)
	return fmt.Sprintf(
		"Trust: level=%s tenureDays=%.1f sessions=%d avgScore=%.2f promotionProgress=%.0f%%.",
		level, summary.TotalDays, summary.TotalSessions, summary.AvgScore(), progress,
	)
}

func promotionProgress(cfg *config.Config, level model.AutonomyLevel, summary model.TrustSummary) float64 {
	var threshold config.PromotionThreshold
	switch level {
	case model.LevelCautious:
		threshold = cfg.Trust.CautiousToModerate
	case model.LevelModerate:
		threshold = cfg.Trust.ModerateToFull
	default:
		return 100
	}
	if threshold.MinSessions == 0 {
		return 0
	}
	sessionsPct := ratio(float64(summary.TotalSessions), float64(threshold.MinSessions))
	scorePct := ratio(summary.AvgScore(), threshold.MinAvgScore)
	daysPct := ratio(summary.TotalDays, threshold.MinDays)
	return min3(sessionsPct, scorePct, daysPct) * 100
}

func ratio(have, need float64) float64 {
	if need <= 0 {
		return 1
	}
	r := have / need
	if r > 1 {
		return 1
	}
	return r
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func (a *Assembler) learnerSection() string {
	if a.rel == nil || a.patterns == nil {
		return ""
	}
	count, err := a.rel.CountSessionEvaluations()
	if err != nil || count < minEvaluationsForInsights {
		return ""
	}
	patterns, err := a.patterns.AnalyzePatterns()
	if err != nil || patterns == nil {
		return ""
	}

	var lines []string
	lines = append(lines, "Session-learner insights:")
	for project, avg := range patterns.AvgScoreByProject {
		lines = append(lines, fmt.Sprintf("- %s: avg score %.2f", project, avg))
	}
	for style, avg := range patterns.AvgScoreByStyle {
		lines = append(lines, fmt.Sprintf("- prompts styled %q: avg score %.2f", style, avg))
	}
	if patterns.HasOptimalDuration {
		lines = append(lines, fmt.Sprintf("- sessions of %.0f-%.0f minutes score best", patterns.OptimalDurationMin, patterns.OptimalDurationMax))
	}
	sort.Strings(lines[1:])
	return strings.Join(lines, "\n")
}

func (a *Assembler) conversationSection() string {
	entries := a.doc.RecentConversation(10)
	if len(entries) == 0 {
		return ""
	}
	var lines []string
	lines = append(lines, "Recent conversation:")
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", e.TS.Format(time.RFC3339), e.Role, e.Text))
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) prioritiesSection() string {
	var focus, skip []string
	for name, p := range a.cfg.Projects {
		if p.Focus {
			focus = append(focus, name)
		}
		if p.Skip {
			skip = append(skip, name)
		}
	}
	sort.Strings(focus)
	sort.Strings(skip)

	var lines []string
	lines = append(lines, "Priorities:")
	if len(focus) > 0 {
		lines = append(lines, "- focus: "+strings.Join(focus, ", "))
	}
	if len(skip) > 0 {
		lines = append(lines, "- skip: "+strings.Join(skip, ", "))
	}
	if len(a.cfg.AI.ProtectedProjects) > 0 {
		lines = append(lines, "- protected (never auto-managed): "+strings.Join(a.cfg.AI.ProtectedProjects, ", "))
	}
	if a.cfg.Priorities.Notes != "" {
		lines = append(lines, "- notes: "+a.cfg.Priorities.Notes)
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) activeSessionsSection(now time.Time) string {
	if a.sessions == nil {
		return ""
	}
	sessions := a.sessions.All()
	if len(sessions) == 0 {
		return ""
	}
	maxDuration := time.Duration(a.cfg.AI.MaxSessionDurationMs) * time.Millisecond

	var lines []string
	lines = append(lines, "Active sessions:")
	for _, s := range sessions {
		duration := now.Sub(s.StartedAt)
		imminent := ""
		if maxDuration > 0 && maxDuration-duration <= 5*time.Minute {
			imminent = " TIMEOUT IMMINENT"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s running %s%s", s.ProjectName, s.SessionName, duration.Round(time.Second), imminent))
	}
	return strings.Join(lines, "\n")
}

type projectView struct {
	name          string
	status        string
	ageDays       float64
	stale         bool
	errorMessage  string
	retryCount    int
	needsAttention bool
	focus         bool
}

func (a *Assembler) projectsSection(now time.Time) string {
	runningSet := make(map[string]bool)
	if a.sessions != nil {
		for _, s := range a.sessions.All() {
			runningSet[s.ProjectName] = true
		}
	}

	var views []projectView
	for name, p := range a.cfg.Projects {
		if p.Skip {
			continue
		}
		view := a.buildProjectView(name, p, runningSet[name], now)
		if view == nil {
			continue
		}
		views = append(views, *view)
	}

	sort.Slice(views, func(i, j int) bool {
		vi, vj := views[i], views[j]
		if vi.focus != vj.focus {
			return vi.focus
		}
		if vi.needsAttention != vj.needsAttention {
			return vi.needsAttention
		}
		return vi.name < vj.name
	})

	if len(views) == 0 {
		return ""
	}

	var lines []string
	lines = append(lines, "Projects:")
	for _, v := range views {
		line := fmt.Sprintf("- %s: %s", v.name, v.status)
		if v.ageDays > 0 {
			line += fmt.Sprintf(", last activity %.1fd ago", v.ageDays)
		}
		if v.stale {
			line += fmt.Sprintf(" STALE (%.0f days idle)", v.ageDays)
		}
		if v.errorMessage != "" {
			line += fmt.Sprintf(", error: %s", v.errorMessage)
		}
		if v.retryCount > 0 {
			line += fmt.Sprintf(", retries=%d", v.retryCount)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) buildProjectView(name string, p config.Project, running bool, now time.Time) *projectView {
	var session *signalfile.Session
	var evaluation *signalfile.Evaluation
	var errSignal *signalfile.Error
	if a.signals != nil {
		session, _ = a.signals.ReadSession(p.Workspace)
		evaluation, _ = a.signals.ReadEvaluation(p.Workspace)
		errSignal, _ = a.signals.ReadError(p.Workspace)
	}

	hasState := running || session != nil || evaluation != nil || errSignal != nil
	if !hasState {
		return nil
	}

	status := "new"
	switch {
	case running:
		status = "running"
	case evaluation != nil:
		switch model.EvalRecommendation(evaluation.Recommendation) {
		case model.EvalComplete:
			status = "complete"
		case model.EvalEscalate, model.EvalRetry:
			status = "attention"
		default:
			status = "idle"
		}
	case errSignal != nil:
		status = "attention"
	}

	var lastActivity time.Time
	if evaluation != nil && evaluation.EvaluatedAt.After(lastActivity) {
		lastActivity = evaluation.EvaluatedAt
	}
	if session != nil && session.StoppedAt != nil && session.StoppedAt.After(lastActivity) {
		lastActivity = *session.StoppedAt
	}
	if errSignal != nil && errSignal.At.After(lastActivity) {
		lastActivity = errSignal.At
	}

	var ageDays float64
	if !lastActivity.IsZero() {
		ageDays = now.Sub(lastActivity).Hours() / 24
	}

	stalenessDays := float64(a.cfg.AI.StalenessDays)
	stale := status != "complete" && stalenessDays > 0 && ageDays >= stalenessDays

	errMsg := ""
	if errSignal != nil {
		errMsg = errSignal.Message
	}

	retryCount := 0
	if a.doc != nil {
		retryCount = a.doc.GetErrorRetryCount(name)
	}

	return &projectView{
		name:           name,
		status:         status,
		ageDays:        ageDays,
		stale:          stale,
		errorMessage:   errMsg,
		retryCount:     retryCount,
		needsAttention: status == "attention",
		focus:          p.Focus,
	}
}

func (a *Assembler) evaluationDigestSection(now time.Time) string {
	evaluations := a.doc.EvaluationsSince(now.Add(-24 * time.Hour))
	if len(evaluations) == 0 {
		return ""
	}
	var lines []string
	lines = append(lines, "Evaluation digest (last 24h):")
	for _, e := range evaluations {
		lines = append(lines, fmt.Sprintf("- %s: score %d (%s)", e.ProjectName, e.Score, e.Recommendation))
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) decisionHistorySection() string {
	decisions := a.doc.RecentDecisions(5)
	if len(decisions) == 0 {
		return ""
	}
	var lines []string
	lines = append(lines, "Recent decisions:")
	for _, d := range decisions {
		summary := d.Summary
		if d.Error != "" {
			summary = "error: " + d.Error
		}
		lines = append(lines, fmt.Sprintf("- %s: %s (%d recommendations)", d.TS.Format(time.RFC3339), summary, len(d.Recommendations)))
	}
	return strings.Join(lines, "\n")
}

const responseFormatSection = `Response format: respond with a single JSON object matching this schema:
{
  "summary": "string, one-line summary of this cycle's reasoning",
  "recommendations": [
    {
      "project": "string, must match a configured project name",
      "action": "start | stop | restart | notify | skip",
      "reason": "string, one line",
      "prompt": "string, optional, the prompt to give a started session",
      "confidence": "number 0-1, optional",
      "notificationTier": "integer 1-4, optional"
    }
  ],
  "nextThinkInSec": "integer, optional, seconds until the next think cycle (clamped to 60-1800)"
}`
