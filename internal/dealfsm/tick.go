package dealfsm

import (
	"github.com/klingon-exchange/otc-broker/internal/apierr"
	"github.com/klingon-exchange/otc-broker/internal/commission"
	"github.com/klingon-exchange/otc-broker/internal/store"
)

// Advance evaluates one deal's transition guards and applies at most
// one transition (spec §4.4's table), re-syncing collections first so
// the guards see up-to-date deposit totals. It is the per-deal unit of
// work the Engine Tick Loop (internal/engine) dispatches every tick,
// always inside the deal's lease.
func (e *Engine) Advance(dealID string, nowMS int64) error {
	return e.withLease(dealID, func() error {
		d, err := e.store.GetDeal(dealID)
		if err != nil {
			return apierr.Invariant(err, "failed to load deal %s", dealID)
		}
		if d == nil {
			return errNoSuchDeal
		}
		if d.Stage.Terminal() {
			return nil
		}

		if err := e.syncCollections(d); err != nil {
			return apierr.Invariant(err, "failed to sync collections for deal %s", dealID)
		}

		var items []*store.QueueItem
		switch d.Stage {
		case store.StageCollection:
			items, err = e.advanceCollection(d, nowMS)
		case store.StageWaiting:
			items, err = e.advanceWaiting(d, nowMS)
		case store.StageReverted:
			// terminal; nothing to advance. Absorbing per §4.4.
		}
		if err != nil {
			return err
		}

		// The queue items a transition produces (WAITING's payouts,
		// REVERTED's refunds) are written together with the stage
		// change in one transaction (spec §4.4.1, §4.4.2): either
		// both land or neither does, and a retried Advance after a
		// crash mid-transition re-derives the same items and finds
		// them already there instead of failing.
		return e.store.EnqueueItemsAndSaveDeal(items, d, nowMS)
	})
}

func (e *Engine) advanceCollection(d *store.Deal, nowMS int64) ([]*store.QueueItem, error) {
	fundedA := e.sideFullyFunded(d, store.PartyA)
	fundedB := e.sideFullyFunded(d, store.PartyB)

	if fundedA && fundedB {
		return e.enterWaiting(d, nowMS)
	}

	if nowMS >= d.ExpiresAtMS {
		return e.enterRevertedFromCollection(d, nowMS)
	}

	return nil, nil
}

func (e *Engine) sideFullyFunded(d *store.Deal, party store.Party) bool {
	req := e.commissionRequirement(d, party)
	rec := commission.Reconcile(req, d.CollectionFor(party).CollectedByAsset)
	return rec.FullyFunded
}

func (e *Engine) advanceWaiting(d *store.Deal, nowMS int64) ([]*store.QueueItem, error) {
	existing, err := e.store.ListQueueItemsForDeal(d.ID)
	if err != nil {
		return nil, apierr.Invariant(err, "failed to list queue items for deal %s", d.ID)
	}

	allCompleted := len(existing) > 0
	anyTerminalFailure := false
	for _, item := range existing {
		if item.Status != store.QueueCompleted {
			allCompleted = false
		}
		if item.Status == store.QueueFailed {
			anyTerminalFailure = true
		}
	}

	if allCompleted {
		d.Stage = store.StageClosed
		d.AppendEvent(nowMS, "all payouts completed")
		dropCursorForEscrow(e, d.SideA.ChainID, escrowAddr(d.EscrowA))
		dropCursorForEscrow(e, d.SideB.ChainID, escrowAddr(d.EscrowB))
		return nil, nil
	}

	if anyTerminalFailure {
		return e.enterRevertedFromWaiting(d, nowMS)
	}

	return nil, nil
}

func escrowAddr(esc *store.Escrow) string {
	if esc == nil {
		return ""
	}
	return esc.Address
}
