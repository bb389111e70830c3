package store

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// UpsertDeposit records a newly observed deposit, or updates confirms
// and blockTime for one already known at (dealId, side, txid, asset).
// Amount and asset are immutable once recorded (spec §3.1); this never
// rewrites them on conflict, and confirms is only ever increased here
// -- satisfying P7 (observing the same deposit twice does not inflate
// collectedByAsset, since CollectedByAsset derives from the dedup'd
// store row, not event counts).
func (s *Store) UpsertDeposit(d DepositRecord) (inserted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existed int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM deposits WHERE deal_id = ? AND side = ? AND txid = ? AND asset = ?`,
		d.DealID, string(d.Side), d.TxID, d.Asset,
	).Scan(&existed); err != nil {
		return false, fmt.Errorf("store: upsert deposit: check existing: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO deposits (deal_id, side, txid, asset, amount_units, amount_decimals, confirms, block_time, first_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(deal_id, side, txid, asset) DO UPDATE SET
		   confirms = MAX(deposits.confirms, excluded.confirms),
		   block_time = excluded.block_time`,
		d.DealID, string(d.Side), d.TxID, d.Asset,
		d.Amount.Units().String(), int(d.Amount.Decimals()),
		d.Confirms, d.BlockTimeMS, d.FirstSeenAt,
	)
	if err != nil {
		return false, fmt.Errorf("store: upsert deposit: %w", err)
	}
	return existed == 0, nil
}

// ListDeposits returns all deposits recorded for one side of a deal,
// used to rebuild Collection.Deposits for the in-memory deal record.
func (s *Store) ListDeposits(dealID string, side Party) ([]DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT txid, asset, amount_units, amount_decimals, confirms, block_time, first_seen_at
		 FROM deposits WHERE deal_id = ? AND side = ? ORDER BY first_seen_at ASC`,
		dealID, string(side),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list deposits: %w", err)
	}
	defer rows.Close()

	var out []DepositRecord
	for rows.Next() {
		var d DepositRecord
		var units string
		var decimals int
		var blockTime sql.NullInt64
		if err := rows.Scan(&d.TxID, &d.Asset, &units, &decimals, &d.Confirms, &blockTime, &d.FirstSeenAt); err != nil {
			return nil, fmt.Errorf("store: scan deposit row: %w", err)
		}
		parsedUnits, ok := new(big.Int).SetString(units, 10)
		if !ok {
			return nil, fmt.Errorf("store: corrupt deposit units %q", units)
		}
		d.Amount = money.FromUnits(parsedUnits, uint8(decimals))
		d.DealID = dealID
		d.Side = side
		if blockTime.Valid {
			d.BlockTimeMS = blockTime.Int64
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
