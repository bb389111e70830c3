package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// EnqueueItem inserts a new queue item in PENDING. Callers (internal/
// dealfsm) are responsible for the at-most-once-per-deal invariant on
// (dealId, purpose, asset, to); this enforces it with a partial unique
// check against existing rows rather than trusting the caller alone.
func (s *Store) EnqueueItem(item *QueueItem, nowMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM queue
		 WHERE deal_id = ? AND purpose = ?
		   AND json_extract(document, '$.asset') = ?
		   AND json_extract(document, '$.to') = ?`,
		item.DealID, string(item.Purpose), item.Asset, item.To,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("store: check existing queue item: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("store: queue item already exists for deal=%s purpose=%s asset=%s to=%s",
			item.DealID, item.Purpose, item.Asset, item.To)
	}

	item.CreatedAtMS = nowMS
	item.UpdatedAtMS = nowMS
	doc, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("store: marshal queue item: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO queue (id, deal_id, purpose, status, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.DealID, string(item.Purpose), string(item.Status), string(doc), nowMS, nowMS,
	)
	if err != nil {
		return fmt.Errorf("store: enqueue item: %w", err)
	}
	return nil
}

// EnqueueItemsAndSaveDeal inserts every given queue item and saves the
// deal's document in a single transaction, so the WAITING/REVERTED
// entry items fire atomically with the persisted stage transition
// (spec §4.4.1, §4.4.2). An item whose (dealId, purpose, asset, to)
// already exists is skipped rather than treated as an error: the
// caller's transition guard can be re-entered after a crash or a
// transient plugin error partway through building the item list, and
// re-running it must not fail on the items a prior attempt already
// persisted.
func (s *Store) EnqueueItemsAndSaveDeal(items []*QueueItem, d *Deal, nowMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		var existing int
		err := tx.QueryRow(
			`SELECT COUNT(*) FROM queue
			 WHERE deal_id = ? AND purpose = ?
			   AND json_extract(document, '$.asset') = ?
			   AND json_extract(document, '$.to') = ?`,
			item.DealID, string(item.Purpose), item.Asset, item.To,
		).Scan(&existing)
		if err != nil {
			return fmt.Errorf("store: check existing queue item: %w", err)
		}
		if existing > 0 {
			continue
		}

		item.CreatedAtMS = nowMS
		item.UpdatedAtMS = nowMS
		doc, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("store: marshal queue item: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO queue (id, deal_id, purpose, status, document, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.DealID, string(item.Purpose), string(item.Status), string(doc), nowMS, nowMS,
		); err != nil {
			return fmt.Errorf("store: enqueue item: %w", err)
		}
	}

	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("store: marshal deal: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE deals SET stage = ?, document = ?, updated_at = ? WHERE id = ?`,
		string(d.Stage), string(doc), nowMS, d.ID,
	); err != nil {
		return fmt.Errorf("store: save deal %s: %w", d.ID, err)
	}

	return tx.Commit()
}

// GetQueueItem loads one queue item by ID.
func (s *Store) GetQueueItem(id string) (*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanOneQueueItem(`SELECT document FROM queue WHERE id = ?`, id)
}

func (s *Store) scanOneQueueItem(query string, args ...interface{}) (*QueueItem, error) {
	var doc string
	err := s.db.QueryRow(query, args...).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get queue item: %w", err)
	}
	var item QueueItem
	if err := json.Unmarshal([]byte(doc), &item); err != nil {
		return nil, fmt.Errorf("store: unmarshal queue item: %w", err)
	}
	return &item, nil
}

// SaveQueueItem overwrites a queue item's document.
func (s *Store) SaveQueueItem(item *QueueItem, nowMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.UpdatedAtMS = nowMS
	doc, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("store: marshal queue item: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE queue SET status = ?, document = ?, updated_at = ? WHERE id = ?`,
		string(item.Status), string(doc), nowMS, item.ID,
	)
	if err != nil {
		return fmt.Errorf("store: save queue item %s: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: save queue item %s: %w", item.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("store: save queue item %s: no such item", item.ID)
	}
	return nil
}

// ListNonTerminalQueueItems returns every queue item not in COMPLETED
// or FAILED, the working set the queue workers poll each tick.
func (s *Store) ListNonTerminalQueueItems() ([]*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT document FROM queue WHERE status NOT IN (?, ?)`,
		string(QueueCompleted), string(QueueFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list non-terminal queue items: %w", err)
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

// ListQueueItemsForDeal returns all queue items belonging to a deal,
// used by otc.status to report outbound transactions.
func (s *Store) ListQueueItemsForDeal(dealID string) ([]*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT document FROM queue WHERE deal_id = ? ORDER BY created_at ASC`, dealID)
	if err != nil {
		return nil, fmt.Errorf("store: list queue items for deal %s: %w", dealID, err)
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

func scanQueueItems(rows *sql.Rows) ([]*QueueItem, error) {
	var out []*QueueItem
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan queue row: %w", err)
		}
		var item QueueItem
		if err := json.Unmarshal([]byte(doc), &item); err != nil {
			return nil, fmt.Errorf("store: unmarshal queue row: %w", err)
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}
