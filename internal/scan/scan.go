// Package scan implements the fixed-cadence Scan Loop: natural session-end
// detection, timeout enforcement, reminder/trust ticking, and periodic
// revenue collection, described in spec.md §4.7.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/config"
	"github.com/antigravity-dev/orchestrator/internal/model"
	"github.com/antigravity-dev/orchestrator/internal/reminder"
	"github.com/antigravity-dev/orchestrator/internal/revenue"
	"github.com/antigravity-dev/orchestrator/internal/trust"
)

const timeoutCaptureLines = 5

// Registry is the narrow slice of session.Registry the Scan Loop needs.
type Registry interface {
	All() []model.Session
	IsRunning(project string) bool
	Stop(project string) error
	Forget(project string)
}

// SessionCapture is the narrow slice of session.Manager the Scan Loop needs
// for a best-effort capture before killing a timed-out session.
type SessionCapture interface {
	CaptureOutput(sessionName string) (string, error)
}

// DocumentStore is the narrow slice of store.Document the Scan Loop reads
// for trust-accrual evidence since its last tick.
type DocumentStore interface {
	AutonomyLevel() model.AutonomyLevel
	ExecutionsSince(since time.Time) []model.ExecutionRecord
	EvaluationsSince(since time.Time) []model.EvaluationRecord
}

// Notifier is the narrow slice of the Notifier the Scan Loop drives.
type Notifier interface {
	Notify(tier model.NotificationTier, text string) error
}

// Evaluator is the narrow slice of evaluator.Evaluator the Scan Loop invokes.
type Evaluator interface {
	Evaluate(ctx context.Context, sess model.Session, workspace string) (model.EvaluationRecord, error)
}

// Loop is the Scan Loop described in spec.md §4.7.
type Loop struct {
	cfgMgr    config.ConfigManager
	registry  Registry
	capture   SessionCapture
	eval      Evaluator
	reminders *reminder.Tracker
	trust     *trust.Tracker
	revenue   *revenue.Tracker
	doc       DocumentStore
	notifier  Notifier
	log       *slog.Logger

	scanCount       int
	lastTrustUpdate time.Time
}

// New constructs a Loop. lastTrustUpdate seeds the trust-accrual window;
// pass the supervisor's boot time on first run.
func New(cfgMgr config.ConfigManager, registry Registry, capture SessionCapture, eval Evaluator, reminders *reminder.Tracker, trustTracker *trust.Tracker, revenueTracker *revenue.Tracker, doc DocumentStore, notifier Notifier, log *slog.Logger, lastTrustUpdate time.Time) *Loop {
	return &Loop{
		cfgMgr:          cfgMgr,
		registry:        registry,
		capture:         capture,
		eval:            eval,
		reminders:       reminders,
		trust:           trustTracker,
		revenue:         revenueTracker,
		doc:             doc,
		notifier:        notifier,
		log:             log,
		lastTrustUpdate: lastTrustUpdate,
	}
}

// Run blocks until ctx is cancelled, ticking on the fixed cadence
// configured as general.scan_interval (default 60s).
func (l *Loop) Run(ctx context.Context) {
	cfg := l.cfgMgr.Get()
	ticker := time.NewTicker(cfg.General.ScanInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs the Scan Loop's five steps, in order. Unlike the Think Loop,
// the Scan Loop runs regardless of autonomy level and is never skipped for
// reentrancy — it's expected to complete well within its cadence.
func (l *Loop) Tick(ctx context.Context) {
	cfg := l.cfgMgr.Get()
	now := time.Now()

	l.detectEndedSessions(ctx, cfg)
	l.enforceTimeouts(ctx, cfg, now)
	l.tickReminders(now)
	l.tickTrust(cfg, now)

	l.scanCount++
	everyN := cfg.General.RevenueEveryNScans
	if everyN > 0 && l.scanCount%everyN == 0 {
		l.tickRevenue(ctx)
	}
}

// detectEndedSessions finds sessions whose underlying process has already
// exited without Stop having been called, evaluates them, and untracks
// them. A session is only ever evaluated once per natural end since it is
// forgotten immediately after.
func (l *Loop) detectEndedSessions(ctx context.Context, cfg *config.Config) {
	for _, sess := range l.registry.All() {
		if l.registry.IsRunning(sess.ProjectName) {
			continue
		}
		proj, ok := cfg.Projects[sess.ProjectName]
		if !ok {
			l.registry.Forget(sess.ProjectName)
			continue
		}
		go func(s model.Session, workspace string) {
			if _, err := l.eval.Evaluate(ctx, s, workspace); err != nil {
				l.log.Error("scan: evaluate ended session", "project", s.ProjectName, "error", err)
			}
		}(sess, proj.Workspace)
		l.registry.Forget(sess.ProjectName)
	}
}

// enforceTimeouts stops any session that has run longer than
// ai.max_session_duration_ms, capturing a short best-effort tail of output
// for the tier-2 notification before killing it.
func (l *Loop) enforceTimeouts(ctx context.Context, cfg *config.Config, now time.Time) {
	maxDuration := time.Duration(cfg.AI.MaxSessionDurationMs) * time.Millisecond
	if maxDuration <= 0 {
		return
	}
	for _, sess := range l.registry.All() {
		if now.Sub(sess.StartedAt) <= maxDuration {
			continue
		}
		tail := l.captureTail(sess.SessionName)
		if err := l.registry.Stop(sess.ProjectName); err != nil {
			l.log.Error("scan: stop timed-out session", "project", sess.ProjectName, "error", err)
		}
		_ = l.notifier.Notify(model.TierAction, fmt.Sprintf("%s timed out after %s:\n%s", sess.ProjectName, now.Sub(sess.StartedAt).Round(time.Second), tail))

		proj, ok := cfg.Projects[sess.ProjectName]
		if !ok {
			continue
		}
		go func(s model.Session, workspace string) {
			if _, err := l.eval.Evaluate(ctx, s, workspace); err != nil {
				l.log.Error("scan: evaluate timed-out session", "project", s.ProjectName, "error", err)
			}
		}(sess, proj.Workspace)
	}
}

func (l *Loop) captureTail(sessionName string) string {
	out, err := l.capture.CaptureOutput(sessionName)
	if err != nil {
		return "(capture unavailable)"
	}
	return lastLines(out, timeoutCaptureLines)
}

func (l *Loop) tickReminders(now time.Time) {
	if l.reminders == nil {
		return
	}
	if _, err := l.reminders.CheckAndFire(now); err != nil {
		l.log.Error("scan: tick reminders", "error", err)
	}
}

// tickTrust accrues execution and evaluation evidence recorded since the
// last tick into the trust summary for the currently active level.
func (l *Loop) tickTrust(cfg *config.Config, now time.Time) {
	if l.trust == nil {
		return
	}
	level := l.doc.AutonomyLevel()

	newSessions := 0
	for _, ex := range l.doc.ExecutionsSince(l.lastTrustUpdate) {
		if ex.TS.After(l.lastTrustUpdate) && ex.Action == model.ActionStart && ex.AutonomyLevel == level && ex.Result == model.ExecutionOK {
			newSessions++
		}
	}
	var scores []int
	for _, ev := range l.doc.EvaluationsSince(l.lastTrustUpdate) {
		if ev.EvaluatedAt.After(l.lastTrustUpdate) {
			scores = append(scores, ev.Score)
		}
	}

	if err := l.trust.Update(trust.UpdateInput{Level: level, NewStartSessions: newSessions, NewEvalScores: scores}, now); err != nil {
		l.log.Error("scan: tick trust", "error", err)
		return
	}
	l.lastTrustUpdate = now

	if rec, err := l.trust.CheckPromotion(level, now); err != nil {
		l.log.Error("scan: check promotion", "error", err)
	} else if rec != "" {
		_ = l.notifier.Notify(model.TierSummary, rec)
	}
}

func (l *Loop) tickRevenue(ctx context.Context) {
	if l.revenue == nil {
		return
	}
	for _, err := range l.revenue.CollectAll(ctx) {
		l.log.Warn("scan: revenue collection error", "error", err)
	}
}

func lastLines(s string, n int) string {
	lines := splitLines(s)
	if len(lines) <= n {
		return s
	}
	start := len(lines) - n
	out := ""
	for i, line := range lines[start:] {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}
