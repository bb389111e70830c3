package txqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/otc-broker/internal/chainplugin"
	"github.com/klingon-exchange/otc-broker/internal/store"
)

// processItem advances one queue item by exactly one step: a PENDING
// item is submitted (or resubmitted after a crash, via
// ResolveByNonce); a SUBMITTED item has its tx status polled.
func (w *Worker) processItem(ctx context.Context, item *store.QueueItem, nowMS int64) {
	chainID, err := w.chainIDFor(item)
	if err != nil {
		w.fail(item, nowMS, err.Error())
		return
	}
	plugin, ok := w.plugins.Get(chainID)
	if !ok {
		w.fail(item, nowMS, "no plugin registered for chain "+chainID)
		return
	}

	switch item.Status {
	case store.QueuePending:
		w.submit(ctx, plugin, item, nowMS)
	case store.QueueSubmitted:
		w.pollStatus(ctx, plugin, item, nowMS)
	}
}

func (w *Worker) submit(ctx context.Context, plugin chainplugin.Plugin, item *store.QueueItem, nowMS int64) {
	if item.ClientNonce == "" {
		item.ClientNonce = uuid.NewString()
		// Persist the nonce reservation before calling Submit: if the
		// process crashes between reserving and sending, the next
		// attempt resolves the same nonce instead of risking a double
		// send.
		if err := w.store.SaveQueueItem(item, nowMS); err != nil {
			w.log.Warnf("failed to persist client nonce for item %s: %v", item.ID, err)
			return
		}
	} else {
		// A nonce already exists from a prior call into this function,
		// whether or not it counted as an attempt yet -- including a
		// crash between Submit returning a txid and markSubmitted
		// persisting it, which leaves Attempts at 0 with the nonce
		// already reserved. Check whether the plugin already has a
		// result for it before sending again.
		if txid, err := plugin.ResolveByNonce(ctx, item.ClientNonce); err == nil && txid != "" {
			w.markSubmitted(item, txid, nowMS)
			return
		}
	}

	from := chainplugin.Escrow{Address: item.From.Address, KeyRef: item.From.KeyRef}
	txid, err := plugin.Submit(ctx, item.ClientNonce, from, item.To, item.Asset, item.Amount)
	if err != nil {
		w.recordSubmitFailure(item, err, nowMS)
		return
	}
	w.markSubmitted(item, txid, nowMS)
}

func (w *Worker) markSubmitted(item *store.QueueItem, txid string, nowMS int64) {
	item.Status = store.QueueSubmitted
	item.SubmittedTx = store.SubmittedTx{TxID: txid, Status: store.TxPending}
	item.Attempts++
	item.LastError = ""
	item.NextAttemptAtMS = nowMS + w.baseBackoff.Milliseconds()
	if err := w.store.SaveQueueItem(item, nowMS); err != nil {
		w.log.Warnf("failed to persist submitted item %s: %v", item.ID, err)
	}
}

func (w *Worker) pollStatus(ctx context.Context, plugin chainplugin.Plugin, item *store.QueueItem, nowMS int64) {
	status, err := plugin.GetTxStatus(ctx, item.SubmittedTx.TxID)
	if err != nil {
		w.recordSubmitFailure(item, err, nowMS)
		return
	}

	item.SubmittedTx.Confirms = status.Confirms
	item.SubmittedTx.RequiredConfirms = status.RequiredConfirms
	item.SubmittedTx.Status = store.SubmittedTxStatus(status.Status)

	switch status.Status {
	case chainplugin.TxConfirmed:
		if status.Confirms >= status.RequiredConfirms {
			item.Status = store.QueueCompleted
			item.LastError = ""
			if err := w.store.SaveQueueItem(item, nowMS); err != nil {
				w.log.Warnf("failed to persist completed item %s: %v", item.ID, err)
			}
			return
		}
		item.NextAttemptAtMS = nowMS + w.baseBackoff.Milliseconds()
		if err := w.store.SaveQueueItem(item, nowMS); err != nil {
			w.log.Warnf("failed to persist item %s: %v", item.ID, err)
		}
	case chainplugin.TxDropped, chainplugin.TxFailed:
		// The submitted tx never landed; resubmit under a fresh nonce
		// rather than mark this item terminally failed -- the escrow
		// still holds the funds.
		item.Status = store.QueuePending
		item.ClientNonce = ""
		w.recordSubmitFailure(item, nil, nowMS)
	default: // PENDING
		item.NextAttemptAtMS = nowMS + w.baseBackoff.Milliseconds()
		if err := w.store.SaveQueueItem(item, nowMS); err != nil {
			w.log.Warnf("failed to persist item %s: %v", item.ID, err)
		}
	}
}

// recordSubmitFailure applies backoff or terminal FAILED depending on
// the error kind and attempt count.
func (w *Worker) recordSubmitFailure(item *store.QueueItem, err error, nowMS int64) {
	item.Attempts++
	if err != nil {
		item.LastError = err.Error()
	}

	terminal := err != nil && isSubmitRejected(err)
	if terminal || item.Attempts >= w.maxAttempts {
		w.fail(item, nowMS, item.LastError)
		return
	}

	item.Status = store.QueuePending
	item.NextAttemptAtMS = nowMS + backoff(item.Attempts, w.baseBackoff, w.maxBackoff).Milliseconds()
	if saveErr := w.store.SaveQueueItem(item, nowMS); saveErr != nil {
		w.log.Warnf("failed to persist retry state for item %s: %v", item.ID, saveErr)
	}
}

func (w *Worker) fail(item *store.QueueItem, nowMS int64, reason string) {
	item.Status = store.QueueFailed
	item.LastError = reason
	if err := w.store.SaveQueueItem(item, nowMS); err != nil {
		w.log.Warnf("failed to persist failed item %s: %v", item.ID, err)
	}
}

func isSubmitRejected(err error) bool {
	return errors.Is(err, chainplugin.ErrSubmitRejected)
}

// backoff computes the retry delay for the given attempt count: base
// doubling each attempt, capped at max. attempt is 1-indexed (the
// first failure uses base itself).
func backoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
