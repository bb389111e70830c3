package store

import (
	"database/sql"
	"fmt"
)

// CreateToken inserts a fresh, unused token for (dealId, party).
func (s *Store) CreateToken(t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO tokens (token, deal_id, party, created_at, used_at) VALUES (?, ?, ?, ?, NULL)`,
		t.Token, t.DealID, string(t.Party), t.CreatedAtMS,
	)
	if err != nil {
		return fmt.Errorf("store: create token: %w", err)
	}
	return nil
}

// GetToken loads a token by its value. Returns (nil, nil) if unknown.
func (s *Store) GetToken(token string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t Token
	var usedAt sql.NullInt64
	var party string
	err := s.db.QueryRow(
		`SELECT token, deal_id, party, created_at, used_at FROM tokens WHERE token = ?`, token,
	).Scan(&t.Token, &t.DealID, &party, &t.CreatedAtMS, &usedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get token: %w", err)
	}
	t.Party = Party(party)
	if usedAt.Valid {
		t.UsedAtMS = usedAt.Int64
	}
	return &t, nil
}

// MarkTokenUsed consumes a token, but only if it is currently unused --
// the UPDATE's WHERE clause is the single-use enforcement point (P2):
// a racing second call sees RowsAffected()==0 and must report failure
// rather than assuming success.
func (s *Store) MarkTokenUsed(token string, nowMS int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE tokens SET used_at = ? WHERE token = ? AND used_at IS NULL`,
		nowMS, token,
	)
	if err != nil {
		return false, fmt.Errorf("store: mark token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark token used: %w", err)
	}
	return n == 1, nil
}
