// Package reminder wraps the relational reminder table with the
// at-most-once firing and fuzzy-cancel operations the Scan Loop and
// operator command surface call.
package reminder

import (
	"fmt"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// Store is the narrow slice of store.Store the Reminder Tracker needs.
type Store interface {
	CreateReminder(text string, fireAt time.Time, sourceMessage string) (int64, error)
	DuePendingReminders(now time.Time) ([]model.Reminder, error)
	ListPendingReminders() ([]model.Reminder, error)
	MarkReminderFired(id int64) (bool, error)
	CancelRemindersByText(pattern string) (int64, error)
}

// Notifier is the narrow slice of the Notifier a fired reminder needs.
type Notifier interface {
	Notify(tier model.NotificationTier, text string) error
}

// Tracker is the Reminder Tracker described in spec.md §4.9.
type Tracker struct {
	store    Store
	notifier Notifier
}

// New constructs a Tracker.
func New(store Store, notifier Notifier) *Tracker {
	return &Tracker{store: store, notifier: notifier}
}

// Set creates a new one-shot reminder.
func (t *Tracker) Set(text string, fireAt time.Time, source string) (int64, error) {
	return t.store.CreateReminder(text, fireAt, source)
}

// CheckAndFire notifies for every reminder whose time has come, marking it
// fired only once the notification succeeds. A transport failure (SMS down)
// leaves the reminder's fired flag untouched so the next scan tick retries
// it, rather than dropping it permanently.
func (t *Tracker) CheckAndFire(now time.Time) (int, error) {
	due, err := t.store.DuePendingReminders(now)
	if err != nil {
		return 0, fmt.Errorf("reminder: list due: %w", err)
	}

	fired := 0
	for _, r := range due {
		if err := t.notifier.Notify(model.TierUrgent, r.Text); err != nil {
			return fired, fmt.Errorf("reminder: notify (id=%d): %w", r.ID, err)
		}
		changed, err := t.store.MarkReminderFired(r.ID)
		if err != nil {
			return fired, fmt.Errorf("reminder: mark fired (id=%d): %w", r.ID, err)
		}
		if changed {
			fired++
		}
	}
	return fired, nil
}

// ListPending returns every unfired reminder.
func (t *Tracker) ListPending() ([]model.Reminder, error) {
	return t.store.ListPendingReminders()
}

// CancelByText cancels every unfired reminder whose text fuzzy-matches q.
func (t *Tracker) CancelByText(q string) (int64, error) {
	return t.store.CancelRemindersByText(q)
}
