package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateDeal inserts a brand-new deal. Returns an error if the ID is
// already taken.
func (s *Store) CreateDeal(d *Deal, nowMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("store: marshal deal: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO deals (id, stage, document, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID, string(d.Stage), string(doc), nowMS, nowMS,
	)
	if err != nil {
		return fmt.Errorf("store: create deal %s: %w", d.ID, err)
	}
	return nil
}

// GetDeal loads a deal by ID. Returns (nil, nil) if not found.
func (s *Store) GetDeal(id string) (*Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	err := s.db.QueryRow(`SELECT document FROM deals WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get deal %s: %w", id, err)
	}

	var d Deal
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return nil, fmt.Errorf("store: unmarshal deal %s: %w", id, err)
	}
	return &d, nil
}

// SaveDeal overwrites the full deal document. Callers are expected to
// hold a per-deal lease (see internal/dealfsm) so this is the only
// writer for a given ID at a time; SaveDeal itself does not attempt
// optimistic concurrency control.
func (s *Store) SaveDeal(d *Deal, nowMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("store: marshal deal: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE deals SET stage = ?, document = ?, updated_at = ? WHERE id = ?`,
		string(d.Stage), string(doc), nowMS, d.ID,
	)
	if err != nil {
		return fmt.Errorf("store: save deal %s: %w", d.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: save deal %s: %w", d.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("store: save deal %s: no such deal", d.ID)
	}
	return nil
}

// ConsumeTokenAndSaveDeal atomically marks a token used and saves the
// updated deal document in a single transaction, the mechanism behind
// spec §4.4.3's "token is marked used atomically with the
// partyDetails write". Returns (false, nil) if the token was already
// used (deal is left untouched); the caller should treat that as an
// authorization failure, not a store error.
func (s *Store) ConsumeTokenAndSaveDeal(token string, tokenNowMS int64, d *Deal, dealNowMS int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE tokens SET used_at = ? WHERE token = ? AND used_at IS NULL`, tokenNowMS, token)
	if err != nil {
		return false, fmt.Errorf("store: consume token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: consume token: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	doc, err := json.Marshal(d)
	if err != nil {
		return false, fmt.Errorf("store: marshal deal: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE deals SET stage = ?, document = ?, updated_at = ? WHERE id = ?`,
		string(d.Stage), string(doc), dealNowMS, d.ID,
	); err != nil {
		return false, fmt.Errorf("store: save deal %s: %w", d.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit tx: %w", err)
	}
	return true, nil
}

// ListNonTerminalDeals returns every deal not in CLOSED or REVERTED,
// the working set the engine tick loop iterates (spec §4.6 step 1).
func (s *Store) ListNonTerminalDeals() ([]*Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT document FROM deals WHERE stage NOT IN (?, ?)`,
		string(StageClosed), string(StageReverted),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list non-terminal deals: %w", err)
	}
	defer rows.Close()

	var deals []*Deal
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan deal row: %w", err)
		}
		var d Deal
		if err := json.Unmarshal([]byte(doc), &d); err != nil {
			return nil, fmt.Errorf("store: unmarshal deal row: %w", err)
		}
		deals = append(deals, &d)
	}
	return deals, rows.Err()
}
