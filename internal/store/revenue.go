package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// RecordRevenueSnapshot appends one sample. Nil fields are stored as SQL
// NULL, preserving the unreachable-vs-zero distinction callers depend on.
func (s *Store) RecordRevenueSnapshot(snap model.RevenueSnapshot) error {
	_, err := s.db.Exec(
		`INSERT INTO revenue_snapshots (source, collected_at, balance_atomic, price_usd, hashrate_hs, request_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.Source, snap.CollectedAt, nullableInt64(snap.BalanceAtomic), nullableFloat64(snap.PriceUSD),
		nullableFloat64(snap.HashrateHS), nullableInt64(snap.RequestCount),
	)
	if err != nil {
		return fmt.Errorf("store: record revenue snapshot: %w", err)
	}
	return nil
}

// LatestRevenueSnapshot returns the most recent sample for a source, or nil
// if none have been collected yet.
func (s *Store) LatestRevenueSnapshot(source string) (*model.RevenueSnapshot, error) {
	row := s.db.QueryRow(
		`SELECT source, collected_at, balance_atomic, price_usd, hashrate_hs, request_count
		 FROM revenue_snapshots WHERE source = ? ORDER BY collected_at DESC LIMIT 1`,
		source,
	)
	snap, err := scanRevenueSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest revenue snapshot: %w", err)
	}
	return snap, nil
}

// RevenueSince returns every snapshot for a source collected at or after since.
func (s *Store) RevenueSince(source string, since time.Time) ([]model.RevenueSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT source, collected_at, balance_atomic, price_usd, hashrate_hs, request_count
		 FROM revenue_snapshots WHERE source = ? AND collected_at >= ? ORDER BY collected_at ASC`,
		source, since,
	)
	if err != nil {
		return nil, fmt.Errorf("store: revenue since: %w", err)
	}
	defer rows.Close()

	var out []model.RevenueSnapshot
	for rows.Next() {
		snap, err := scanRevenueSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan revenue snapshot: %w", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// PruneRevenueOlderThan deletes snapshots collected before cutoff, enforcing
// the configured retention window.
func (s *Store) PruneRevenueOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM revenue_snapshots WHERE collected_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune revenue: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRevenueSnapshot(row rowScanner) (*model.RevenueSnapshot, error) {
	var (
		snap                                          model.RevenueSnapshot
		balance, request                              sql.NullInt64
		price, hashrate                                sql.NullFloat64
	)
	if err := row.Scan(&snap.Source, &snap.CollectedAt, &balance, &price, &hashrate, &request); err != nil {
		return nil, err
	}
	snap.BalanceAtomic = int64PtrFromNull(balance)
	snap.PriceUSD = float64PtrFromNull(price)
	snap.HashrateHS = float64PtrFromNull(hashrate)
	snap.RequestCount = int64PtrFromNull(request)
	return &snap, nil
}

func nullableInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullableFloat64(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func int64PtrFromNull(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func float64PtrFromNull(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
