package dealfsm

import (
	"context"

	"github.com/google/uuid"

	"github.com/klingon-exchange/otc-broker/internal/apierr"
	"github.com/klingon-exchange/otc-broker/internal/commission"
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// enterWaiting applies the COLLECTION->WAITING transition: builds
// SWAP_PAYOUT + OP_COMMISSION + SURPLUS_REFUND for both sides. The
// caller (Advance) persists the returned items together with the
// stage change in one store transaction, so they fire atomically with
// it (spec §4.4.1).
func (e *Engine) enterWaiting(d *store.Deal, nowMS int64) ([]*store.QueueItem, error) {
	var items []*store.QueueItem
	itemsA, err := e.enqueueWaitingItemsForSide(d, store.PartyA)
	if err != nil {
		return nil, err
	}
	itemsB, err := e.enqueueWaitingItemsForSide(d, store.PartyB)
	if err != nil {
		return nil, err
	}
	items = append(items, itemsA...)
	items = append(items, itemsB...)

	d.Stage = store.StageWaiting
	d.AppendEvent(nowMS, "entered WAITING, payouts enqueued")
	return items, nil
}

// enqueueWaitingItemsForSide builds the three items for side X with
// counterparty Y, per spec §4.4.1:
//  1. SWAP_PAYOUT escrowX -> partyDetailsY.recipientAddress, sideX.amount of sideX.asset
//  2. OP_COMMISSION escrowX -> operator address, required commission
//  3. SURPLUS_REFUND escrowX -> partyDetailsX.paybackAddress, residual after (1)+(2)
func (e *Engine) enqueueWaitingItemsForSide(d *store.Deal, party store.Party) ([]*store.QueueItem, error) {
	escrow := d.EscrowFor(party)
	if escrow == nil {
		return nil, apierr.Invariant(nil, "deal %s side %s has no escrow at WAITING entry", d.ID, party)
	}
	counterparty := d.PartyDetailsFor(store.Counterparty(party))
	own := d.PartyDetailsFor(party)
	if counterparty == nil || own == nil {
		return nil, apierr.Invariant(nil, "deal %s side %s missing party details at WAITING entry", d.ID, party)
	}

	side := d.SideSpec(party)
	from := store.QueueEndpoint{Address: escrow.Address, KeyRef: escrow.KeyRef}

	var items []*store.QueueItem
	if item := buildQueueItem(d.ID, store.PurposeSwapPayout, from, counterparty.RecipientAddress, side.AssetCode, side.Amount); item != nil {
		items = append(items, item)
	}

	req := e.commissionRequirement(d, party)
	operator := e.operatorAddr[side.ChainID]
	if !req.CommissionAmount.IsZero() {
		if operator == "" {
			return nil, apierr.Invariant(nil, "no OPERATOR_ADDRESS configured for chain %q", side.ChainID)
		}
		if item := buildQueueItem(d.ID, store.PurposeOpCommission, from, operator, req.CommissionAsset, req.CommissionAmount); item != nil {
			items = append(items, item)
		}
	}

	collected := d.CollectionFor(party).CollectedByAsset
	residual := commission.ResidualAfterReservation(collected, req)
	for asset, amt := range residual {
		if item := buildQueueItem(d.ID, store.PurposeSurplusRefund, from, own.PaybackAddress, asset, amt); item != nil {
			items = append(items, item)
		}
	}
	return items, nil
}

// buildQueueItem constructs a pending queue item, or nil for a
// zero-amount transfer that doesn't need one. It does not touch the
// store: the caller collects items from both sides and the refund
// path, then persists the whole batch together with the deal's stage
// change in a single transaction (store.EnqueueItemsAndSaveDeal).
func buildQueueItem(dealID string, purpose store.QueuePurpose, from store.QueueEndpoint, to, asset string, amount money.Amount) *store.QueueItem {
	if amount.IsZero() {
		return nil
	}
	return &store.QueueItem{
		ID:      uuid.NewString(),
		DealID:  dealID,
		Purpose: purpose,
		From:    from,
		To:      to,
		Asset:   asset,
		Amount:  amount,
		Status:  store.QueuePending,
	}
}

// enterRevertedFromCollection applies the COLLECTION->REVERTED
// transition on timeout: TIMEOUT_REFUND for every non-empty
// collection (spec §4.4 table + §4.4.2).
func (e *Engine) enterRevertedFromCollection(d *store.Deal, nowMS int64) ([]*store.QueueItem, error) {
	return e.enterReverted(d, nowMS, "timed out waiting for full funding")
}

// enterRevertedFromWaiting applies the WAITING->REVERTED transition
// when a queue item fails terminally: refund still-held balances.
func (e *Engine) enterRevertedFromWaiting(d *store.Deal, nowMS int64) ([]*store.QueueItem, error) {
	return e.enterReverted(d, nowMS, "a payout failed terminally")
}

func (e *Engine) enterReverted(d *store.Deal, nowMS int64, reason string) ([]*store.QueueItem, error) {
	ctx := context.Background()
	itemsA, err := e.enqueueRefundsForSide(ctx, d, store.PartyA)
	if err != nil {
		return nil, err
	}
	itemsB, err := e.enqueueRefundsForSide(ctx, d, store.PartyB)
	if err != nil {
		return nil, err
	}

	d.Stage = store.StageReverted
	d.AppendEvent(nowMS, "entered REVERTED: "+reason)
	return append(itemsA, itemsB...), nil
}

// enqueueRefundsForSide builds TIMEOUT_REFUND for the side's full
// current on-chain balance of every asset it ever collected, queried
// live via getBalance rather than collectedByAsset, to catch
// late-arriving deposits (spec §4.4.2). A transient error reading one
// side's balance here (enterReverted calls this for A then B) aborts
// before anything is persisted: Advance is re-entrant and a retried
// tick rebuilds the full item list from scratch, so there is no
// partial write to reconcile.
func (e *Engine) enqueueRefundsForSide(ctx context.Context, d *store.Deal, party store.Party) ([]*store.QueueItem, error) {
	escrow := d.EscrowFor(party)
	details := d.PartyDetailsFor(party)
	if escrow == nil || details == nil {
		return nil, nil // never reached COLLECTION far enough to have an escrow; nothing to refund
	}

	side := d.SideSpec(party)
	col := d.CollectionFor(party)
	if len(col.CollectedByAsset) == 0 {
		return nil, nil
	}

	plugin, ok := e.plugins.Get(side.ChainID)
	if !ok {
		return nil, apierr.Invariant(nil, "no plugin registered for chain %q", side.ChainID)
	}

	from := store.QueueEndpoint{Address: escrow.Address, KeyRef: escrow.KeyRef}
	var items []*store.QueueItem
	for asset := range col.CollectedByAsset {
		balance, err := plugin.GetBalance(ctx, escrow.Address, asset)
		if err != nil {
			return nil, apierr.Transient(err, "reading escrow balance for refund")
		}
		if balance.IsZero() {
			continue
		}
		if item := buildQueueItem(d.ID, store.PurposeTimeoutRefund, from, details.PaybackAddress, asset, balance); item != nil {
			items = append(items, item)
		}
	}
	return items, nil
}
