package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// GetTrustSummary reads the fixed row for a level. The four rows are seeded
// at Open, so a missing row indicates schema corruption rather than an
// unseen level.
func (s *Store) GetTrustSummary(level model.AutonomyLevel) (model.TrustSummary, error) {
	row := s.db.QueryRow(
		`SELECT level, total_sessions, total_evaluations, sum_eval_scores, first_entered_at, last_entered_at, total_days, promotion_sent_at
		 FROM trust_summary WHERE level = ?`, int(level),
	)
	return scanTrustSummary(row)
}

// AllTrustSummaries returns all four rows ordered by level.
func (s *Store) AllTrustSummaries() ([]model.TrustSummary, error) {
	rows, err := s.db.Query(
		`SELECT level, total_sessions, total_evaluations, sum_eval_scores, first_entered_at, last_entered_at, total_days, promotion_sent_at
		 FROM trust_summary ORDER BY level ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: all trust summaries: %w", err)
	}
	defer rows.Close()

	var out []model.TrustSummary
	for rows.Next() {
		t, err := scanTrustSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan trust summary: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordSessionForLevel increments the session counter for the level the
// session ran under by n.
func (s *Store) RecordSessionForLevel(level model.AutonomyLevel, n int) error {
	_, err := s.db.Exec(`UPDATE trust_summary SET total_sessions = total_sessions + ? WHERE level = ?`, n, int(level))
	if err != nil {
		return fmt.Errorf("store: record session for level: %w", err)
	}
	return nil
}

// RecordEvaluationForLevel folds one evaluation score into the level's running total.
func (s *Store) RecordEvaluationForLevel(level model.AutonomyLevel, score int) error {
	_, err := s.db.Exec(
		`UPDATE trust_summary SET total_evaluations = total_evaluations + 1, sum_eval_scores = sum_eval_scores + ? WHERE level = ?`,
		score, int(level),
	)
	if err != nil {
		return fmt.Errorf("store: record evaluation for level: %w", err)
	}
	return nil
}

// EnterLevel stamps last_entered_at (and first_entered_at if unset) when the
// autonomy level transitions, so days-at-level can be measured from the
// most recent entry rather than across a prior demotion.
func (s *Store) EnterLevel(level model.AutonomyLevel, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE trust_summary SET last_entered_at = ?, first_entered_at = COALESCE(first_entered_at, ?) WHERE level = ?`,
		at, at, int(level),
	)
	if err != nil {
		return fmt.Errorf("store: enter level: %w", err)
	}
	return nil
}

// AccrueDays adds elapsed wall-clock days at level to its running total,
// called once per scan tick so a long-running process need not recompute
// from last_entered_at alone.
func (s *Store) AccrueDays(level model.AutonomyLevel, days float64) error {
	_, err := s.db.Exec(`UPDATE trust_summary SET total_days = total_days + ? WHERE level = ?`, days, int(level))
	if err != nil {
		return fmt.Errorf("store: accrue days: %w", err)
	}
	return nil
}

// MarkPromotionSent records that a promotion notification already fired for
// this level, so the weekly promotion-check cron does not repeat it.
func (s *Store) MarkPromotionSent(level model.AutonomyLevel, at time.Time) error {
	_, err := s.db.Exec(`UPDATE trust_summary SET promotion_sent_at = ? WHERE level = ?`, at, int(level))
	if err != nil {
		return fmt.Errorf("store: mark promotion sent: %w", err)
	}
	return nil
}

// ClearPromotionSent resets a level's promotion flag, so a level re-entered
// after demotion can be recommended for promotion again.
func (s *Store) ClearPromotionSent(level model.AutonomyLevel) error {
	_, err := s.db.Exec(`UPDATE trust_summary SET promotion_sent_at = NULL WHERE level = ?`, int(level))
	if err != nil {
		return fmt.Errorf("store: clear promotion sent: %w", err)
	}
	return nil
}

func scanTrustSummary(row rowScanner) (model.TrustSummary, error) {
	var (
		t                          model.TrustSummary
		level                      int
		firstEntered, lastEntered  sql.NullTime
		promotionSent              sql.NullTime
	)
	if err := row.Scan(&level, &t.TotalSessions, &t.TotalEvaluations, &t.SumEvalScores, &firstEntered, &lastEntered, &t.TotalDays, &promotionSent); err != nil {
		return model.TrustSummary{}, err
	}
	t.Level = model.AutonomyLevel(level)
	if firstEntered.Valid {
		t.FirstEnteredAt = firstEntered.Time
	}
	if lastEntered.Valid {
		t.LastEnteredAt = lastEntered.Time
	}
	if promotionSent.Valid {
		v := promotionSent.Time
		t.PromotionSentAt = &v
	}
	return t, nil
}
