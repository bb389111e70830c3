package store

import (
	"database/sql"
	"fmt"
)

// GetCursor returns the persisted scan cursor for (chainId, address),
// or ("", nil) if the watcher has never scanned this address.
func (s *Store) GetCursor(chainID, address string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cursor string
	err := s.db.QueryRow(
		`SELECT cursor FROM watcher_cursors WHERE chain_id = ? AND address = ?`,
		chainID, address,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get cursor: %w", err)
	}
	return cursor, nil
}

// SetCursor persists the scan cursor for (chainId, address). Called
// only after a successful scan; a transient plugin error must not
// advance the cursor (spec §4.2).
func (s *Store) SetCursor(chainID, address, cursor string, nowMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO watcher_cursors (chain_id, address, cursor, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chain_id, address) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		chainID, address, cursor, nowMS,
	)
	if err != nil {
		return fmt.Errorf("store: set cursor: %w", err)
	}
	return nil
}

// DropCursor removes a persisted cursor, used when a deal reaches a
// terminal stage and its escrow address should no longer be watched
// (spec §4.2 "addresses for terminal deals are dropped").
func (s *Store) DropCursor(chainID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM watcher_cursors WHERE chain_id = ? AND address = ?`, chainID, address)
	if err != nil {
		return fmt.Errorf("store: drop cursor: %w", err)
	}
	return nil
}
