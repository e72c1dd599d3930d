package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// SessionEvaluationRow is the Session Learner's append-only record of one
// evaluated session, denormalized for cheap analytical queries.
type SessionEvaluationRow struct {
	ID               int64
	SessionID        string
	ProjectName      string
	StartedAt        time.Time
	StoppedAt        time.Time
	DurationMinutes  float64
	CommitCount      int
	Insertions       int
	Deletions        int
	FilesChanged     int
	Score            int
	Recommendation   model.EvalRecommendation
	PromptSnippet    string
	PromptStyle      string
	EvaluatedAt      time.Time
}

// RecordSessionEvaluation appends one evaluated-session row.
func (s *Store) RecordSessionEvaluation(row SessionEvaluationRow) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO session_evaluations
			(session_id, project_name, started_at, stopped_at, duration_minutes, commit_count, insertions, deletions, files_changed, score, recommendation, prompt_snippet, prompt_style)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.SessionID, row.ProjectName, row.StartedAt, row.StoppedAt, row.DurationMinutes,
		row.CommitCount, row.Insertions, row.Deletions, row.FilesChanged,
		row.Score, string(row.Recommendation), row.PromptSnippet, row.PromptStyle,
	)
	if err != nil {
		return 0, fmt.Errorf("store: record session evaluation: %w", err)
	}
	return res.LastInsertId()
}

// CountSessionEvaluations returns the total number of recorded evaluations,
// used to gate the Session Learner's analyzePatterns threshold.
func (s *Store) CountSessionEvaluations() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM session_evaluations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count session evaluations: %w", err)
	}
	return n, nil
}

// SessionEvaluationsByPromptStyle returns every row tagged with a prompt
// style, newest first, for the learner's per-style score comparison.
func (s *Store) SessionEvaluationsByPromptStyle(style string) ([]SessionEvaluationRow, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, project_name, started_at, stopped_at, duration_minutes, commit_count, insertions, deletions, files_changed, score, recommendation, prompt_snippet, prompt_style, evaluated_at
		 FROM session_evaluations WHERE prompt_style = ? ORDER BY evaluated_at DESC`,
		style,
	)
	if err != nil {
		return nil, fmt.Errorf("store: session evaluations by prompt style: %w", err)
	}
	defer rows.Close()
	return scanSessionEvaluations(rows)
}

// RecentSessionEvaluations returns the most recent n rows across all projects.
func (s *Store) RecentSessionEvaluations(n int) ([]SessionEvaluationRow, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, project_name, started_at, stopped_at, duration_minutes, commit_count, insertions, deletions, files_changed, score, recommendation, prompt_snippet, prompt_style, evaluated_at
		 FROM session_evaluations ORDER BY evaluated_at DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent session evaluations: %w", err)
	}
	defer rows.Close()
	return scanSessionEvaluations(rows)
}

func scanSessionEvaluations(rows *sql.Rows) ([]SessionEvaluationRow, error) {
	var out []SessionEvaluationRow
	for rows.Next() {
		var row SessionEvaluationRow
		var recommendation string
		if err := rows.Scan(
			&row.ID, &row.SessionID, &row.ProjectName, &row.StartedAt, &row.StoppedAt, &row.DurationMinutes,
			&row.CommitCount, &row.Insertions, &row.Deletions, &row.FilesChanged,
			&row.Score, &recommendation, &row.PromptSnippet, &row.PromptStyle, &row.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan session evaluation: %w", err)
		}
		row.Recommendation = model.EvalRecommendation(recommendation)
		out = append(out, row)
	}
	return out, rows.Err()
}
