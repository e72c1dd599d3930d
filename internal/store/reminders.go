package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// CreateReminder inserts a pending reminder and returns its id.
func (s *Store) CreateReminder(text string, fireAt time.Time, sourceMessage string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO reminders (text, fire_at, source_message, fired) VALUES (?, ?, ?, 0)`,
		text, fireAt, sourceMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create reminder: %w", err)
	}
	return res.LastInsertId()
}

// DuePendingReminders returns unfired reminders whose fire_at has passed.
func (s *Store) DuePendingReminders(now time.Time) ([]model.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT id, text, fire_at, source_message, fired FROM reminders WHERE fired = 0 AND fire_at <= ? ORDER BY fire_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("store: due pending reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// ListPendingReminders returns every unfired reminder regardless of fire_at,
// for the operator's "list reminders" command.
func (s *Store) ListPendingReminders() ([]model.Reminder, error) {
	rows, err := s.db.Query(`SELECT id, text, fire_at, source_message, fired FROM reminders WHERE fired = 0 ORDER BY fire_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list pending reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// MarkReminderFired flags a reminder as delivered. Callers mark a reminder
// fired only after a successful notify, so a crash or transport failure
// between the two leaves fired = 0 and the reminder is retried on the next
// tick; the WHERE fired = 0 clause keeps a concurrent double-mark a no-op.
func (s *Store) MarkReminderFired(id int64) (bool, error) {
	res, err := s.db.Exec(`UPDATE reminders SET fired = 1 WHERE id = ? AND fired = 0`, id)
	if err != nil {
		return false, fmt.Errorf("store: mark reminder fired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark reminder fired rows affected: %w", err)
	}
	return n > 0, nil
}

// CancelRemindersByText cancels (marks fired, without delivering) every
// pending reminder whose text matches a fuzzy LIKE pattern, returning the
// count cancelled.
func (s *Store) CancelRemindersByText(pattern string) (int64, error) {
	res, err := s.db.Exec(`UPDATE reminders SET fired = 1 WHERE fired = 0 AND text LIKE ?`, "%"+pattern+"%")
	if err != nil {
		return 0, fmt.Errorf("store: cancel reminders by text: %w", err)
	}
	return res.RowsAffected()
}

func scanReminders(rows *sql.Rows) ([]model.Reminder, error) {
	var out []model.Reminder
	for rows.Next() {
		var r model.Reminder
		if err := rows.Scan(&r.ID, &r.Text, &r.FireAt, &r.SourceMessage, &r.Fired); err != nil {
			return nil, fmt.Errorf("store: scan reminder: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
