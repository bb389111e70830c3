// Package depositwatch is the per-chain deposit scanner (C4): for
// every deal sitting in COLLECTION it polls both escrow addresses
// through their chainplugin.Plugin, feeds newly observed deposits into
// internal/dealfsm, and persists a scan cursor per address so a
// restart resumes where it left off. It is built the way
// internal/wallet/utxo_sync.go's UTXOSyncService walks addresses
// against a chain backend and persists sync state, generalized from
// "one wallet's own addresses" to "every escrow address across all
// in-flight deals" and from gap-limit address derivation to a single
// escrow address per deal side.
package depositwatch

import (
	"context"

	"github.com/klingon-exchange/otc-broker/internal/apierr"
	"github.com/klingon-exchange/otc-broker/internal/chainplugin"
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/pkg/logging"
)

// RecordDepositFunc is the subset of dealfsm.Engine's surface the
// watcher needs, kept as a function type so tests can stub it without
// constructing a full Engine.
type RecordDepositFunc func(dealID string, side store.Party, dep store.DepositRecord, nowMS int64) error

// Config configures a Watcher.
type Config struct {
	Store         *store.Store
	Plugins       *chainplugin.Registry
	RecordDeposit RecordDepositFunc
	Log           *logging.Logger
}

// Watcher scans escrow addresses for deposits, one Step call at a
// time; like txqueue.Worker it owns no goroutine or ticker of its own
// -- internal/engine's tick loop drives it.
type Watcher struct {
	store         *store.Store
	plugins       *chainplugin.Registry
	recordDeposit RecordDepositFunc
	log           *logging.Logger
}

// New builds a Watcher.
func New(cfg Config) *Watcher {
	log := cfg.Log
	if log == nil {
		log = logging.GetDefault()
	}
	return &Watcher{
		store:         cfg.Store,
		plugins:       cfg.Plugins,
		recordDeposit: cfg.RecordDeposit,
		log:           log.Component("depositwatch"),
	}
}

// Step scans both escrow addresses of every deal currently in
// COLLECTION. A transient plugin error on one address is logged and
// skipped -- its cursor is left untouched so the next Step retries
// from the same point, never silently dropping deposits.
func (w *Watcher) Step(ctx context.Context, nowMS int64) error {
	deals, err := w.store.ListNonTerminalDeals()
	if err != nil {
		return apierr.Invariant(err, "failed to list non-terminal deals")
	}

	for _, d := range deals {
		if d.Stage != store.StageCollection {
			continue
		}
		w.scanSide(ctx, d, store.PartyA, nowMS)
		w.scanSide(ctx, d, store.PartyB, nowMS)
	}
	return nil
}

func (w *Watcher) scanSide(ctx context.Context, d *store.Deal, party store.Party, nowMS int64) {
	escrow := d.EscrowFor(party)
	if escrow == nil {
		return
	}
	side := d.SideSpec(party)
	plugin, ok := w.plugins.Get(side.ChainID)
	if !ok {
		w.log.Warnf("no plugin registered for chain %q, skipping deal %s side %s", side.ChainID, d.ID, party)
		return
	}

	cursor, err := w.store.GetCursor(side.ChainID, escrow.Address)
	if err != nil {
		w.log.Warnf("failed to load cursor for %s/%s: %v", side.ChainID, escrow.Address, err)
		return
	}

	result, err := plugin.ScanDeposits(ctx, escrow.Address, cursor)
	if err != nil {
		// Transient (or any) scan error: do not advance the cursor.
		// The next Step retries from the same cursor, so a deposit
		// is never skipped because of a momentary backend outage.
		w.log.Warnf("scan failed for %s/%s: %v", side.ChainID, escrow.Address, err)
		return
	}

	for _, dep := range result.Deposits {
		rec := store.DepositRecord{
			DealID:      d.ID,
			Side:        party,
			TxID:        dep.TxID,
			Asset:       dep.Asset,
			Amount:      dep.Amount,
			Confirms:    dep.Confirms,
			BlockTimeMS: dep.BlockTimeMS,
			FirstSeenAt: dep.FirstSeenAt,
		}
		if err := w.recordDeposit(d.ID, party, rec, nowMS); err != nil {
			w.log.Warnf("failed to record deposit %s for deal %s: %v", dep.TxID, d.ID, err)
			// Do not advance the cursor past a deposit we failed to
			// persist; the next Step will see it again in the same
			// ScanDeposits window (scan is defined as idempotent for
			// a repeated cursor).
			return
		}
	}

	if result.NextCursor != cursor {
		if err := w.store.SetCursor(side.ChainID, escrow.Address, result.NextCursor, nowMS); err != nil {
			w.log.Warnf("failed to persist cursor for %s/%s: %v", side.ChainID, escrow.Address, err)
		}
	}
}
