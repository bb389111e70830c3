package dealfsm

import (
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// RecordDeposit upserts one observed deposit for a side and refreshes
// that side's Collection cache. Called by the depositwatch/engine
// wiring once per observed deposit, inside the deal's lease.
func (e *Engine) RecordDeposit(dealID string, side store.Party, dep store.DepositRecord, nowMS int64) error {
	return e.withLease(dealID, func() error {
		dep.DealID = dealID
		dep.Side = side
		if _, err := e.store.UpsertDeposit(dep); err != nil {
			return err
		}
		d, err := e.store.GetDeal(dealID)
		if err != nil {
			return err
		}
		if d == nil {
			return errNoSuchDeal
		}
		if err := e.syncCollection(d, side); err != nil {
			return err
		}
		d.AppendEvent(nowMS, "deposit observed: "+dep.TxID+" "+dep.Asset)
		return e.store.SaveDeal(d, nowMS)
	})
}

// syncCollection rebuilds one side's Collection from the durable
// deposits table, recomputing CollectedByAsset by summing amounts --
// dedup'd by (txid, asset) identity at the store layer, so repeat
// observations never inflate the total (P7).
func (e *Engine) syncCollection(d *store.Deal, side store.Party) error {
	deposits, err := e.store.ListDeposits(d.ID, side)
	if err != nil {
		return err
	}

	byAsset := make(map[string]money.Amount)
	for _, dep := range deposits {
		if cur, ok := byAsset[dep.Asset]; ok {
			byAsset[dep.Asset] = cur.Add(dep.Amount)
		} else {
			byAsset[dep.Asset] = dep.Amount
		}
	}

	col := d.CollectionFor(side)
	col.Deposits = deposits
	col.CollectedByAsset = byAsset
	return nil
}

// syncCollections refreshes both sides.
func (e *Engine) syncCollections(d *store.Deal) error {
	if err := e.syncCollection(d, store.PartyA); err != nil {
		return err
	}
	return e.syncCollection(d, store.PartyB)
}
