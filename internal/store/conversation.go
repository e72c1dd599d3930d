package store

import (
	"fmt"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// RecordConversation appends one exchange to the relational conversation
// log, which is retained independently of the JSON document's capped/TTL'd
// in-memory copy (see Document.AppendConversation) for longer-horizon audit.
func (s *Store) RecordConversation(entry model.ConversationEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO conversation (role, text, ts) VALUES (?, ?, ?)`,
		string(entry.Role), entry.Text, entry.TS,
	)
	if err != nil {
		return fmt.Errorf("store: record conversation: %w", err)
	}
	return nil
}

// RecentConversation returns the last n exchanges, oldest first.
func (s *Store) RecentConversation(n int) ([]model.ConversationEntry, error) {
	rows, err := s.db.Query(`SELECT role, text, ts FROM conversation ORDER BY ts DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent conversation: %w", err)
	}
	defer rows.Close()

	var out []model.ConversationEntry
	for rows.Next() {
		var e model.ConversationEntry
		var role string
		if err := rows.Scan(&role, &e.Text, &e.TS); err != nil {
			return nil, fmt.Errorf("store: scan conversation entry: %w", err)
		}
		e.Role = model.ConversationRole(role)
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// PruneConversationOlderThan deletes entries older than cutoff.
func (s *Store) PruneConversationOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM conversation WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune conversation: %w", err)
	}
	return res.RowsAffected()
}
