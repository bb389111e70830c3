// Package txqueue is the durable outbound transfer worker (C7): it
// drains internal/store's queue table, submitting each item through
// its chain's chainplugin.Plugin and advancing PENDING -> SUBMITTED ->
// COMPLETED/FAILED. It is built the way
// internal/node/retry_worker.go polls internal/storage/message_queue.go's
// outbox -- a poll loop (driven here by the engine tick, not a ticker of
// its own), exponential backoff on retry,
// and a terminal state once maxAttempts is exhausted -- generalized
// from "retry sending a libp2p message" to "retry submitting an
// on-chain transfer".
package txqueue

import (
	"context"
	"time"

	"github.com/klingon-exchange/otc-broker/internal/apierr"
	"github.com/klingon-exchange/otc-broker/internal/assetreg"
	"github.com/klingon-exchange/otc-broker/internal/chainplugin"
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/pkg/logging"
)

// Config configures a Worker.
type Config struct {
	Store   *store.Store
	Plugins *chainplugin.Registry
	Log     *logging.Logger

	// MaxAttempts bounds PENDING->SUBMITTED retries before an item is
	// marked FAILED terminally. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// BaseBackoff/MaxBackoff bound the exponential retry delay (spec
	// §4.5). Zero means the package defaults.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

const (
	DefaultMaxAttempts = 10
	DefaultBaseBackoff = 2 * time.Second
	DefaultMaxBackoff  = 5 * time.Minute
)

// Worker drains the queue table, one Step call at a time. The engine
// tick loop (internal/engine) calls Step once per tick; Worker itself
// owns no goroutine or ticker.
type Worker struct {
	store       *store.Store
	plugins     *chainplugin.Registry
	log         *logging.Logger
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// New builds a Worker.
func New(cfg Config) *Worker {
	log := cfg.Log
	if log == nil {
		log = logging.GetDefault()
	}
	w := &Worker{
		store:       cfg.Store,
		plugins:     cfg.Plugins,
		log:         log.Component("txqueue"),
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = DefaultMaxAttempts
	}
	if w.baseBackoff <= 0 {
		w.baseBackoff = DefaultBaseBackoff
	}
	if w.maxBackoff <= 0 {
		w.maxBackoff = DefaultMaxBackoff
	}
	return w
}

// Step processes every non-terminal queue item that is due, at most
// once each. It never returns an error for a single item's failure --
// those are recorded on the item itself (LastError/Status) -- only for
// a store-level failure that prevented listing items at all.
func (w *Worker) Step(ctx context.Context, nowMS int64) error {
	items, err := w.store.ListNonTerminalQueueItems()
	if err != nil {
		return apierr.Invariant(err, "failed to list queue items")
	}

	completedByDeal := completedPayoutSets(items)

	for _, item := range items {
		if item.NextAttemptAtMS > nowMS {
			continue
		}
		if item.Purpose == store.PurposeSurplusRefund && !completedByDeal[item.DealID] {
			// P8: SURPLUS_REFUND waits until SWAP_PAYOUT and
			// OP_COMMISSION for the same deal have both completed, so a
			// refund never races a payout still consuming the escrow
			// balance it was sized against.
			continue
		}
		w.processItem(ctx, item, nowMS)
	}
	return nil
}

// completedPayoutSets reports, per dealId, whether every SWAP_PAYOUT
// and OP_COMMISSION item for that deal (among the non-terminal items
// passed in, plus none at all counts as satisfied) has reached
// COMPLETED.
func completedPayoutSets(items []*store.QueueItem) map[string]bool {
	pending := make(map[string]bool)
	for _, item := range items {
		if item.Purpose != store.PurposeSwapPayout && item.Purpose != store.PurposeOpCommission {
			continue
		}
		if item.Status != store.QueueCompleted {
			pending[item.DealID] = true
		}
	}
	result := make(map[string]bool, len(items))
	for _, item := range items {
		if _, stillPending := pending[item.DealID]; !stillPending {
			result[item.DealID] = true
		}
	}
	return result
}

func (w *Worker) chainIDFor(item *store.QueueItem) (string, error) {
	_, chainID, err := assetreg.ParseCode(item.Asset)
	if err != nil {
		return "", apierr.Invariant(err, "queue item %s has malformed asset code %q", item.ID, item.Asset)
	}
	return chainID, nil
}
