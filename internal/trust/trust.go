// Package trust accrues evidence per autonomy level and recommends
// promotions once a level's configured thresholds are met.
package trust

import (
	"fmt"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// Store is the narrow slice of store.Store the Trust Tracker needs. It
// deliberately has no method that changes the runtime autonomy level; a
// test in this package scans its source files to keep it that way.
type Store interface {
	GetTrustSummary(level model.AutonomyLevel) (model.TrustSummary, error)
	RecordSessionForLevel(level model.AutonomyLevel, n int) error
	RecordEvaluationForLevel(level model.AutonomyLevel, score int) error
	AccrueDays(level model.AutonomyLevel, days float64) error
	MarkPromotionSent(level model.AutonomyLevel, at time.Time) error
}

// Threshold is the promotion bar for one level transition.
type Threshold struct {
	MinSessions int
	MinAvgScore float64
	MinDays     float64
}

// Thresholds maps a "from" level to the threshold it must clear to be
// recommended for the next level up.
type Thresholds map[model.AutonomyLevel]Threshold

// Tracker is the Trust Tracker described in spec.md §4.10.
type Tracker struct {
	store      Store
	thresholds Thresholds
	lastUpdate time.Time
}

// New constructs a Tracker. lastUpdate seeds the window update() uses for
// "since last update" counting; pass the supervisor's boot time on first run.
func New(store Store, thresholds Thresholds, lastUpdate time.Time) *Tracker {
	return &Tracker{store: store, thresholds: thresholds, lastUpdate: lastUpdate}
}

// UpdateInput is the evidence accrued since the last update() call, for
// the currently active level. The Scan Loop assembles this from execution
// and evaluation records it has already fetched.
type UpdateInput struct {
	Level            model.AutonomyLevel
	NewStartSessions int
	NewEvalScores    []int
}

// Update accrues new evidence for the current level and advances its
// tenure clock to now.
func (t *Tracker) Update(in UpdateInput, now time.Time) error {
	if in.NewStartSessions > 0 {
		if err := t.store.RecordSessionForLevel(in.Level, in.NewStartSessions); err != nil {
			return fmt.Errorf("trust: record sessions: %w", err)
		}
	}
	for _, score := range in.NewEvalScores {
		if err := t.store.RecordEvaluationForLevel(in.Level, score); err != nil {
			return fmt.Errorf("trust: record evaluation: %w", err)
		}
	}

	days := now.Sub(t.lastUpdate).Hours() / 24
	if days > 0 {
		if err := t.store.AccrueDays(in.Level, days); err != nil {
			return fmt.Errorf("trust: accrue days: %w", err)
		}
	}
	t.lastUpdate = now
	return nil
}

// CheckPromotion evaluates the current level against its configured
// threshold. Returns an empty string (no recommendation) when: the level
// is full (no next level), observe (human must opt in — never
// auto-recommended), thresholds aren't yet met, or a recommendation for
// this level has already been sent since it was entered.
func (t *Tracker) CheckPromotion(level model.AutonomyLevel, now time.Time) (string, error) {
	if level == model.LevelFull || level == model.LevelObserve {
		return "", nil
	}

	threshold, ok := t.thresholds[level]
	if !ok {
		return "", nil
	}

	summary, err := t.store.GetTrustSummary(level)
	if err != nil {
		return "", fmt.Errorf("trust: get summary: %w", err)
	}

	if summary.PromotionSentAt != nil {
		return "", nil
	}

	if summary.TotalSessions < threshold.MinSessions {
		return "", nil
	}
	if summary.AvgScore() < threshold.MinAvgScore {
		return "", nil
	}
	if summary.TotalDays < threshold.MinDays {
		return "", nil
	}

	next := level + 1
	recommendation := fmt.Sprintf(
		"Promotion ready: %s -> %s (sessions=%d, avgScore=%.2f, days=%.1f)",
		level, next, summary.TotalSessions, summary.AvgScore(), summary.TotalDays,
	)

	if err := t.store.MarkPromotionSent(level, now); err != nil {
		return "", fmt.Errorf("trust: mark promotion sent: %w", err)
	}
	return recommendation, nil
}
