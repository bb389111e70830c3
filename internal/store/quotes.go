package store

import (
	"database/sql"
	"fmt"
)

// RecordQuote inserts a new oracle quote observation. Multiple rows
// may exist per (chainId, pair); the latest AsOfMS wins (spec §3.1).
func (s *Store) RecordQuote(q OracleQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO oracle_quotes (chain_id, pair, as_of, price, source) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(chain_id, pair, as_of) DO UPDATE SET price = excluded.price, source = excluded.source`,
		q.ChainID, q.Pair, q.AsOfMS, q.Price, string(q.Source),
	)
	if err != nil {
		return fmt.Errorf("store: record quote: %w", err)
	}
	return nil
}

// LatestQuote returns the most recent quote for (chainId, pair), or
// (nil, nil) if none has ever been recorded.
func (s *Store) LatestQuote(chainID, pair string) (*OracleQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var q OracleQuote
	var source string
	err := s.db.QueryRow(
		`SELECT chain_id, pair, as_of, price, source FROM oracle_quotes
		 WHERE chain_id = ? AND pair = ? ORDER BY as_of DESC LIMIT 1`,
		chainID, pair,
	).Scan(&q.ChainID, &q.Pair, &q.AsOfMS, &q.Price, &source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest quote: %w", err)
	}
	q.Source = OracleQuoteSource(source)
	return &q, nil
}
