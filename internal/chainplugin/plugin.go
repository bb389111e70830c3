// Package chainplugin defines the abstract contract each chain adapter
// satisfies. The broker core never talks to a chain directly: it
// always goes through a Plugin, the same separation
// internal/backend/backend.go draws between swap logic and the wire
// format of a particular blockchain.
//
// No implementation in this module is a production chain integration;
// see internal/simplugin for reference/test doubles. Real adapters are
// out of scope for the broker core (spec §1).
package chainplugin

import (
	"context"
	"errors"

	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// TxStatusKind is the lifecycle state of a submitted transaction.
type TxStatusKind string

const (
	TxPending   TxStatusKind = "PENDING"
	TxConfirmed TxStatusKind = "CONFIRMED"
	TxDropped   TxStatusKind = "DROPPED"
	TxFailed    TxStatusKind = "FAILED"
)

// Escrow is a freshly materialized custody account on one chain.
// KeyRef is an opaque handle the plugin uses to sign later; it must
// survive process restarts, so it is stored alongside the deal record
// rather than kept only in memory.
type Escrow struct {
	Address string
	KeyRef  string
}

// Deposit is one inbound transfer observed by ScanDeposits.
type Deposit struct {
	TxID        string
	Asset       string // fully-qualified SYMBOL@chainId
	Amount      money.Amount
	Confirms    int
	BlockTimeMS int64
	FirstSeenAt int64
}

// ScanResult is the return of ScanDeposits: new/updated deposits since
// the caller's cursor, plus the cursor to pass on the next call.
type ScanResult struct {
	Deposits   []Deposit
	NextCursor string
}

// TxStatus reports the current state of a previously submitted tx.
type TxStatus struct {
	Status           TxStatusKind
	Confirms         int
	RequiredConfirms int
}

// QuoteResult pins a native-asset amount for a USD amount, carrying
// the oracle quote that produced it so the caller can freeze it.
type QuoteResult struct {
	NativeAmount money.Amount
	QuotePrice   string // decimal string, asset-native/USD
	QuoteAsOfMS  int64
}

var (
	// ErrInvalidAddress is returned by ValidateAddress-adjacent calls
	// when an address is syntactically invalid for the chain.
	ErrInvalidAddress = errors.New("chainplugin: invalid address")

	// ErrTransient marks a failure the caller should retry later
	// without treating it as a permanent rejection (network blip,
	// rate limit). Plugin implementations should wrap the underlying
	// cause with this sentinel via errors.Join or fmt.Errorf("%w: ...").
	ErrTransient = errors.New("chainplugin: transient error")

	// ErrSubmitRejected marks a permanent submission failure (e.g.
	// insufficient balance, chain-level rejection).
	ErrSubmitRejected = errors.New("chainplugin: submit rejected")
)

// Plugin is the contract every chain adapter implements. All methods
// must be safe for concurrent invocation across different addresses;
// ScanDeposits must eventually observe any deposit with finality
// (bounded staleness) and must be idempotent for a repeated cursor.
type Plugin interface {
	// ChainID returns the identifier this plugin serves, used to key
	// the asset registry and per-chain configuration.
	ChainID() string

	ValidateAddress(ctx context.Context, addr string) (bool, error)

	// GenerateEscrowAccount materializes a fresh custody account for
	// the given asset code.
	GenerateEscrowAccount(ctx context.Context, assetCode string) (Escrow, error)

	// QuoteNativeForUSD pins a native-asset price for a USD amount,
	// used to freeze FIXED_USD_NATIVE commissions at COLLECTION entry.
	QuoteNativeForUSD(ctx context.Context, usdAmount money.Amount) (QuoteResult, error)

	// ScanDeposits returns deposits credited to address since
	// sinceCursor (empty string means from genesis/account-creation).
	ScanDeposits(ctx context.Context, address string, sinceCursor string) (ScanResult, error)

	// Submit broadcasts a transfer from an escrow account. clientNonce
	// is a caller-supplied idempotence key: repeated calls with the
	// same nonce and payload within the plugin's dedup window must not
	// double-send. Implementations that cannot guarantee external
	// idempotence natively should key an internal dedup table by
	// clientNonce.
	Submit(ctx context.Context, clientNonce string, from Escrow, to string, asset string, amount money.Amount) (txid string, err error)

	// ResolveByNonce looks up a prior Submit call by clientNonce,
	// used on restart when a queue item was marked SUBMITTED but the
	// txid was never persisted (crash between submit and write-back).
	// Returns ("", nil) if no submission under that nonce is known.
	ResolveByNonce(ctx context.Context, clientNonce string) (txid string, err error)

	GetTxStatus(ctx context.Context, txid string) (TxStatus, error)

	GetBalance(ctx context.Context, address string, assetCode string) (money.Amount, error)
}
