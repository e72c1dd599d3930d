// Package command implements the operator command surface described in
// spec.md §6: a small fixed vocabulary of text commands an operator can
// send (over SMS, or any other transport wired in by the caller) to
// toggle the AI, trigger a think cycle out of band, change the runtime
// autonomy level, manage reminders, and ask for status or an explanation
// of the last decision. The actual inbound transport and the mapping
// from transport-specific addressing to a command string are out of
// scope here; Dispatch takes plain text and returns plain text.
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/config"
	"github.com/antigravity-dev/orchestrator/internal/model"
)

// ThinkTrigger is the narrow slice of think.Loop the command surface drives.
type ThinkTrigger interface {
	TriggerNow(ctx context.Context)
}

// DocumentStore is the narrow slice of store.Document the command surface
// reads and writes.
type DocumentStore interface {
	AutonomyLevel() model.AutonomyLevel
	SetAutonomyLevel(level model.AutonomyLevel) error
	RecentDecisions(n int) []model.DecisionRecord
}

// TrustLevelEntry is the narrow slice of store.Store the command surface
// touches on an operator-driven level change, so re-entering a level
// re-arms its promotion check per spec §4.10.
type TrustLevelEntry interface {
	EnterLevel(level model.AutonomyLevel, at time.Time) error
	ClearPromotionSent(level model.AutonomyLevel) error
}

// Reminders is the narrow slice of reminder.Tracker the command surface
// drives.
type Reminders interface {
	ListPending() ([]model.Reminder, error)
	CancelByText(q string) (int64, error)
}

// Dispatcher is the operator command surface spec.md §6 describes: toggle
// the AI, trigger an immediate think cycle, read or set the runtime
// autonomy level, list or cancel reminders, and request status or an
// explanation of the last decision.
type Dispatcher interface {
	ToggleAI(enabled bool)
	TriggerThink(ctx context.Context)
	AutonomyLevel() model.AutonomyLevel
	SetAutonomyLevel(level model.AutonomyLevel) error
	ListReminders() ([]model.Reminder, error)
	CancelReminder(q string) (int64, error)
	Status() string
	Explain() string
}

// Default is the default Dispatcher implementation, wired directly to the
// supervisor's other components.
type Default struct {
	cfgMgr    config.ConfigManager
	think     ThinkTrigger
	doc       DocumentStore
	reminders Reminders
	trust     TrustLevelEntry
}

// New constructs a Default dispatcher.
func New(cfgMgr config.ConfigManager, think ThinkTrigger, doc DocumentStore, reminders Reminders, trust TrustLevelEntry) *Default {
	return &Default{cfgMgr: cfgMgr, think: think, doc: doc, reminders: reminders, trust: trust}
}

// ToggleAI flips ai.enabled in the live config, taking effect on the next
// Think Loop tick.
func (d *Default) ToggleAI(enabled bool) {
	cfg := d.cfgMgr.Get()
	cfg.AI.Enabled = enabled
	d.cfgMgr.Set(cfg)
}

// TriggerThink runs one think cycle immediately through the think loop's
// TriggerNow.
func (d *Default) TriggerThink(ctx context.Context) {
	d.think.TriggerNow(ctx)
}

// AutonomyLevel reads the current runtime autonomy level.
func (d *Default) AutonomyLevel() model.AutonomyLevel {
	return d.doc.AutonomyLevel()
}

// SetAutonomyLevel overrides the runtime autonomy level. Re-entering a
// level (e.g. after a demotion) re-stamps its entry time and clears its
// promotion flag, so a promotion already sent for that level can fire
// again once the thresholds are met a second time.
func (d *Default) SetAutonomyLevel(level model.AutonomyLevel) error {
	if err := d.doc.SetAutonomyLevel(level); err != nil {
		return err
	}
	now := time.Now()
	if err := d.trust.EnterLevel(level, now); err != nil {
		return fmt.Errorf("command: enter level: %w", err)
	}
	if err := d.trust.ClearPromotionSent(level); err != nil {
		return fmt.Errorf("command: clear promotion sent: %w", err)
	}
	return nil
}

// ListReminders returns every unfired reminder.
func (d *Default) ListReminders() ([]model.Reminder, error) {
	return d.reminders.ListPending()
}

// CancelReminder cancels every unfired reminder whose text fuzzy-matches q.
func (d *Default) CancelReminder(q string) (int64, error) {
	return d.reminders.CancelByText(q)
}

// Status summarizes the current autonomy level and the most recent think
// cycle's outcome.
func (d *Default) Status() string {
	level := d.doc.AutonomyLevel()
	recent := d.doc.RecentDecisions(1)
	if len(recent) == 0 {
		return fmt.Sprintf("autonomy level: %s\nno think cycles recorded yet", level)
	}
	last := recent[len(recent)-1]
	if last.Error != "" {
		return fmt.Sprintf("autonomy level: %s\nlast think cycle (%s) errored: %s", level, last.TS.Format(time.RFC3339), last.Error)
	}
	return fmt.Sprintf("autonomy level: %s\nlast think cycle (%s): %s (%d recommendations)", level, last.TS.Format(time.RFC3339), last.Summary, len(last.Recommendations))
}

// Explain describes the most recent decision's recommendations and how
// each was evaluated against the autonomy policy.
func (d *Default) Explain() string {
	recent := d.doc.RecentDecisions(1)
	if len(recent) == 0 {
		return "no decisions recorded yet"
	}
	last := recent[len(recent)-1]
	if len(last.Evaluated) == 0 {
		return fmt.Sprintf("%s: %s (no recommendations)", last.TS.Format(time.RFC3339), last.Summary)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", last.TS.Format(time.RFC3339), last.Summary)
	for _, ev := range last.Evaluated {
		outcome := "allowed"
		if !ev.Allowed {
			outcome = fmt.Sprintf("blocked (%s)", ev.BlockedReason)
		} else if ev.ObserveOnly {
			outcome = "observe-only"
		}
		fmt.Fprintf(&b, "- %s %s: %s (%s)\n", ev.Project, ev.Action, ev.Reason, outcome)
	}
	return b.String()
}

// kind is the fixed vocabulary of parsed operator commands.
type kind int

const (
	kindStatus kind = iota + 1
	kindExplain
	kindAIOn
	kindAIOff
	kindThink
	kindLevel
	kindReminders
	kindCancel
)

type parsed struct {
	kind  kind
	level model.AutonomyLevel
	query string
}

// Dispatch parses raw operator text and runs the corresponding Dispatcher
// method, returning the text reply to send back. An unrecognized or
// malformed command returns a usage message rather than an error, so a
// transport adapter can always relay something to the operator.
func Dispatch(ctx context.Context, d Dispatcher, raw string) string {
	cmd, recognized, err := parseCommand(raw)
	if !recognized {
		return usageMessage()
	}
	if err != nil {
		return fmt.Sprintf("malformed command: %s\n\n%s", err.Error(), usageMessage())
	}

	switch cmd.kind {
	case kindStatus:
		return d.Status()
	case kindExplain:
		return d.Explain()
	case kindAIOn:
		d.ToggleAI(true)
		return "AI enabled"
	case kindAIOff:
		d.ToggleAI(false)
		return "AI disabled"
	case kindThink:
		d.TriggerThink(ctx)
		return "think cycle triggered"
	case kindLevel:
		if cmd.query == "" {
			return fmt.Sprintf("autonomy level: %s", d.AutonomyLevel())
		}
		if err := d.SetAutonomyLevel(cmd.level); err != nil {
			return fmt.Sprintf("failed to set autonomy level: %v", err)
		}
		return fmt.Sprintf("autonomy level set to %s", cmd.level)
	case kindReminders:
		pending, err := d.ListReminders()
		if err != nil {
			return fmt.Sprintf("failed to list reminders: %v", err)
		}
		if len(pending) == 0 {
			return "no pending reminders"
		}
		var b strings.Builder
		for _, r := range pending {
			fmt.Fprintf(&b, "#%d %s (due %s)\n", r.ID, r.Text, r.FireAt.Format(time.RFC3339))
		}
		return b.String()
	case kindCancel:
		n, err := d.CancelReminder(cmd.query)
		if err != nil {
			return fmt.Sprintf("failed to cancel reminders: %v", err)
		}
		return fmt.Sprintf("cancelled %d reminder(s)", n)
	default:
		return usageMessage()
	}
}

// parseCommand mirrors the teacher's keyword-and-switch command parser,
// adapted to this supervisor's vocabulary instead of the teacher's bead
// dispatch vocabulary. The bool return reports whether the first word was
// recognized as a command keyword at all; the error reports a malformed
// argument list for a recognized keyword.
func parseCommand(raw string) (parsed, bool, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return parsed{}, false, nil
	}

	parts := strings.Fields(text)
	keyword := strings.ToLower(parts[0])

	switch keyword {
	case "status":
		if len(parts) != 1 {
			return parsed{}, true, fmt.Errorf("status takes no arguments")
		}
		return parsed{kind: kindStatus}, true, nil
	case "explain":
		if len(parts) != 1 {
			return parsed{}, true, fmt.Errorf("explain takes no arguments")
		}
		return parsed{kind: kindExplain}, true, nil
	case "ai":
		if len(parts) != 2 {
			return parsed{}, true, fmt.Errorf("ai command requires on or off")
		}
		switch strings.ToLower(parts[1]) {
		case "on":
			return parsed{kind: kindAIOn}, true, nil
		case "off":
			return parsed{kind: kindAIOff}, true, nil
		default:
			return parsed{}, true, fmt.Errorf("ai command requires on or off")
		}
	case "think":
		if len(parts) != 1 {
			return parsed{}, true, fmt.Errorf("think takes no arguments")
		}
		return parsed{kind: kindThink}, true, nil
	case "level":
		if len(parts) == 1 {
			return parsed{kind: kindLevel}, true, nil
		}
		if len(parts) != 2 {
			return parsed{}, true, fmt.Errorf("level command takes at most one argument")
		}
		level, ok := model.ParseAutonomyLevel(strings.ToLower(parts[1]))
		if !ok {
			return parsed{}, true, fmt.Errorf("level must be observe, cautious, moderate, or full")
		}
		return parsed{kind: kindLevel, level: level, query: parts[1]}, true, nil
	case "reminders":
		if len(parts) != 1 {
			return parsed{}, true, fmt.Errorf("reminders takes no arguments")
		}
		return parsed{kind: kindReminders}, true, nil
	case "cancel":
		if len(parts) < 2 {
			return parsed{}, true, fmt.Errorf("cancel requires a reminder text pattern")
		}
		return parsed{kind: kindCancel, query: strings.Join(parts[1:], " ")}, true, nil
	default:
		return parsed{}, false, nil
	}
}

func usageMessage() string {
	return `Supported commands:
- status
- explain
- ai <on|off>
- think
- level [observe|cautious|moderate|full]
- reminders
- cancel <text>`
}
