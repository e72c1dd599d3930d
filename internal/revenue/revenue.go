// Package revenue collects and summarizes per-source RevenueSnapshots:
// mining pool balance, price oracle, local inference request counts.
package revenue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// Source fetches one RevenueSnapshot from an external signal (mining
// pool, price oracle, local inference endpoint). Implementations own
// their own HTTP client and timeout.
type Source interface {
	Name() string
	Collect(ctx context.Context) (model.RevenueSnapshot, error)
}

// Store is the narrow slice of store.Store the Revenue Tracker needs.
type Store interface {
	RecordRevenueSnapshot(snap model.RevenueSnapshot) error
	LatestRevenueSnapshot(source string) (*model.RevenueSnapshot, error)
	RevenueSince(source string, since time.Time) ([]model.RevenueSnapshot, error)
	PruneRevenueOlderThan(cutoff time.Time) (int64, error)
}

const staleAfter = time.Hour

// Tracker is the Revenue Tracker described in spec.md §4.11.
type Tracker struct {
	store   Store
	sources []Source
}

// New constructs a Tracker over the configured sources.
func New(store Store, sources []Source) *Tracker {
	return &Tracker{store: store, sources: sources}
}

// CollectAll fetches and appends one snapshot per configured source. A
// single source's failure doesn't block the others; its error is returned
// alongside the successes. A failed fetch still appends a timestamped
// snapshot with every metric field left NULL, so GetLatest/FormatForContext
// report "data unavailable" for that source rather than a stale prior
// reading.
func (t *Tracker) CollectAll(ctx context.Context) []error {
	var errs []error
	for _, src := range t.sources {
		snap, err := src.Collect(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("revenue: collect %s: %w", src.Name(), err))
			snap = model.RevenueSnapshot{}
		}
		snap.Source = src.Name()
		snap.CollectedAt = time.Now()
		if err := t.store.RecordRevenueSnapshot(snap); err != nil {
			errs = append(errs, fmt.Errorf("revenue: record %s: %w", src.Name(), err))
		}
	}
	return errs
}

// LatestWithAge is the most recent snapshot for a source, plus its age.
type LatestWithAge struct {
	model.RevenueSnapshot
	AgeMinutes float64
}

// GetLatest returns the most recent snapshot for source with its age.
func (t *Tracker) GetLatest(source string) (*LatestWithAge, error) {
	snap, err := t.store.LatestRevenueSnapshot(source)
	if err != nil {
		return nil, fmt.Errorf("revenue: latest %s: %w", source, err)
	}
	if snap == nil {
		return nil, nil
	}
	return &LatestWithAge{RevenueSnapshot: *snap, AgeMinutes: time.Since(snap.CollectedAt).Minutes()}, nil
}

// FormatForContext renders one line per configured source, for the
// Context Assembler's revenue summary section.
func (t *Tracker) FormatForContext() (string, error) {
	var lines []string
	for _, src := range t.sources {
		latest, err := t.GetLatest(src.Name())
		if err != nil {
			return "", err
		}
		if latest == nil {
			lines = append(lines, fmt.Sprintf("%s: no data", src.Name()))
			continue
		}
		stale := ""
		if latest.AgeMinutes > staleAfter.Minutes() {
			stale = " STALE"
		}
		lines = append(lines, fmt.Sprintf("%s: %s (age %.0fm)%s", src.Name(), formatValue(latest.RevenueSnapshot), latest.AgeMinutes, stale))
	}
	return strings.Join(lines, "\n"), nil
}

func formatValue(s model.RevenueSnapshot) string {
	var parts []string
	if s.BalanceAtomic != nil {
		parts = append(parts, fmt.Sprintf("balance=%d", *s.BalanceAtomic))
	}
	if s.PriceUSD != nil {
		parts = append(parts, fmt.Sprintf("price=$%.2f", *s.PriceUSD))
	}
	if s.HashrateHS != nil {
		parts = append(parts, fmt.Sprintf("hashrate=%.1f H/s", *s.HashrateHS))
	}
	if s.RequestCount != nil {
		parts = append(parts, fmt.Sprintf("requests=%d", *s.RequestCount))
	}
	if len(parts) == 0 {
		return "data unavailable"
	}
	return strings.Join(parts, ", ")
}

// WeeklyTrend compares this week's totals to the prior week's for a
// monotonic counter field (request count or balance), handling counter
// resets by treating any decrease as a restart: the running high before
// the reset carries forward, and the delta is computed against the last
// observed value rather than the raw counter.
type WeeklyTrend struct {
	ThisWeekTotal  float64
	PriorWeekTotal float64
	DeltaPercent   float64
}

// GetWeeklyTrend computes the trend for source using BalanceAtomic as the
// monotonic field (the common case for a mining-pool payout counter).
func (t *Tracker) GetWeeklyTrend(source string, now time.Time) (*WeeklyTrend, error) {
	since := now.AddDate(0, 0, -14)
	rows, err := t.store.RevenueSince(source, since)
	if err != nil {
		return nil, fmt.Errorf("revenue: weekly trend %s: %w", source, err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CollectedAt.Before(rows[j].CollectedAt) })

	weekBoundary := now.AddDate(0, 0, -7)
	priorTotal := monotonicDelta(filterBefore(rows, weekBoundary))
	thisTotal := monotonicDelta(filterFromOn(rows, weekBoundary))

	trend := &WeeklyTrend{ThisWeekTotal: thisTotal, PriorWeekTotal: priorTotal}
	if priorTotal != 0 {
		trend.DeltaPercent = ((thisTotal - priorTotal) / priorTotal) * 100
	}
	return trend, nil
}

func filterBefore(rows []model.RevenueSnapshot, cutoff time.Time) []model.RevenueSnapshot {
	var out []model.RevenueSnapshot
	for _, r := range rows {
		if r.CollectedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func filterFromOn(rows []model.RevenueSnapshot, cutoff time.Time) []model.RevenueSnapshot {
	var out []model.RevenueSnapshot
	for _, r := range rows {
		if !r.CollectedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// monotonicDelta sums the positive deltas across a monotonic counter
// series, treating any observed decrease as a counter reset: the prior
// high carries forward and the next delta is measured from the reset
// point rather than crossing the discontinuity.
func monotonicDelta(rows []model.RevenueSnapshot) float64 {
	var total float64
	var last float64
	haveLast := false
	for _, r := range rows {
		if r.BalanceAtomic == nil {
			continue
		}
		val := float64(*r.BalanceAtomic)
		if !haveLast {
			last = val
			haveLast = true
			continue
		}
		if val >= last {
			total += val - last
		}
		// val < last: counter reset, skip this interval's delta and
		// resume accumulating from the new baseline.
		last = val
	}
	return total
}

// PruneOlderThan deletes snapshots past the retention window.
func (t *Tracker) PruneOlderThan(retention time.Duration, now time.Time) (int64, error) {
	return t.store.PruneRevenueOlderThan(now.Add(-retention))
}
