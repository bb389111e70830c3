// Package simplugin provides three reference chainplugin.Plugin
// implementations -- bitcoin-like, EVM-like, and solana-like -- each
// backed by an in-memory ledger instead of a real network. None of
// them talk to a real chain; that is genuinely out of scope for the
// broker core (spec.md §1). They exist so the broker can be exercised
// end-to-end (C4 deposit scanning, C6 refund balance checks, C7 payout
// submission) against something deterministic, and so a local demo command
// has chains to settle against without standing up test infrastructure.
package simplugin

import (
	"fmt"
	"sync"

	"github.com/klingon-exchange/otc-broker/internal/chainplugin"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// ledger is the shared bookkeeping behind all three reference plugins:
// per-address balances, a deposit inbox fed by CreditExternalDeposit
// (the test/demo stand-in for "a counterparty sent funds"), and a
// clientNonce dedup table for Submit idempotence.
type ledger struct {
	mu sync.Mutex

	balances map[string]map[string]money.Amount // address -> assetCode -> balance
	inbox    map[string][]chainplugin.Deposit    // address -> pending deposits, oldest first
	cursor   map[string]int                      // address -> count already delivered via ScanDeposits
	submits  map[string]string                   // clientNonce -> txid
	nextTx   int
}

func newLedger() *ledger {
	return &ledger{
		balances: make(map[string]map[string]money.Amount),
		inbox:    make(map[string][]chainplugin.Deposit),
		cursor:   make(map[string]int),
		submits:  make(map[string]string),
	}
}

// creditExternalDeposit simulates an inbound transfer from outside the
// broker (a counterparty funding their side of a deal). It is not part
// of chainplugin.Plugin; tests and the demo command call it directly
// on the concrete plugin type.
func (l *ledger) creditExternalDeposit(address, assetCode string, amount money.Amount, txID string, blockTimeMS, firstSeenMS int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(address, assetCode, amount)
	l.inbox[address] = append(l.inbox[address], chainplugin.Deposit{
		TxID:        txID,
		Asset:       assetCode,
		Amount:      amount,
		Confirms:    1,
		BlockTimeMS: blockTimeMS,
		FirstSeenAt: firstSeenMS,
	})
}

func (l *ledger) credit(address, assetCode string, amount money.Amount) {
	perAsset, ok := l.balances[address]
	if !ok {
		perAsset = make(map[string]money.Amount)
		l.balances[address] = perAsset
	}
	cur, ok := perAsset[assetCode]
	if !ok {
		cur = money.Zero(amount.Decimals())
	}
	perAsset[assetCode] = cur.Add(amount)
}

func (l *ledger) debit(address, assetCode string, amount money.Amount) error {
	perAsset, ok := l.balances[address]
	if !ok {
		return fmt.Errorf("simplugin: %s holds no %s", address, assetCode)
	}
	cur, ok := perAsset[assetCode]
	if !ok || cur.LessThan(amount) {
		return fmt.Errorf("simplugin: %s has insufficient %s balance", address, assetCode)
	}
	perAsset[assetCode] = cur.Sub(amount)
	return nil
}

func (l *ledger) scanDeposits(address, sinceCursor string) (chainplugin.ScanResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delivered := 0
	if sinceCursor != "" {
		fmt.Sscanf(sinceCursor, "seen:%d", &delivered)
	}
	pending := l.inbox[address]
	if delivered >= len(pending) {
		return chainplugin.ScanResult{NextCursor: sinceCursor}, nil
	}
	newDeposits := append([]chainplugin.Deposit(nil), pending[delivered:]...)
	l.cursor[address] = len(pending)
	return chainplugin.ScanResult{
		Deposits:   newDeposits,
		NextCursor: fmt.Sprintf("seen:%d", len(pending)),
	}, nil
}

func (l *ledger) submit(clientNonce, from, to, assetCode string, amount money.Amount) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if txid, ok := l.submits[clientNonce]; ok {
		return txid, nil
	}
	if err := l.debit(from, assetCode, amount); err != nil {
		return "", err
	}
	l.credit(to, assetCode, amount)

	l.nextTx++
	txid := fmt.Sprintf("simtx-%d", l.nextTx)
	l.submits[clientNonce] = txid
	return txid, nil
}

func (l *ledger) resolveByNonce(clientNonce string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submits[clientNonce], nil
}

func (l *ledger) balance(address, assetCode string) money.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	perAsset, ok := l.balances[address]
	if !ok {
		return money.Zero(8)
	}
	cur, ok := perAsset[assetCode]
	if !ok {
		return money.Zero(8)
	}
	return cur
}

// confirmedStatus is the status every simulated transaction settles
// into immediately: there is no mempool to wait on.
func confirmedStatus() chainplugin.TxStatus {
	return chainplugin.TxStatus{Status: chainplugin.TxConfirmed, Confirms: 6, RequiredConfirms: 1}
}

// registerAddress seeds an empty balance row for a freshly generated
// escrow address so later balance/deposit lookups find it instead of
// treating it as unknown.
func (l *ledger) registerAddress(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[address]; !ok {
		l.balances[address] = make(map[string]money.Amount)
	}
}
