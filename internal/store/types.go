package store

import "github.com/klingon-exchange/otc-broker/pkg/money"

// Stage is a Deal's position in the CREATED -> COLLECTION -> WAITING
// -> CLOSED|REVERTED lifecycle (spec §3.2).
type Stage string

const (
	StageCreated    Stage = "CREATED"
	StageCollection Stage = "COLLECTION"
	StageWaiting    Stage = "WAITING"
	StageClosed     Stage = "CLOSED"
	StageReverted   Stage = "REVERTED"
)

// Terminal reports whether a stage has no further transitions.
func (s Stage) Terminal() bool { return s == StageClosed || s == StageReverted }

// Party identifies one of the two counterparties.
type Party string

const (
	PartyA Party = "A"
	PartyB Party = "B"
)

// AssetSpec is one side's nominal trade: the asset and amount it
// sends, on a specific chain.
type AssetSpec struct {
	ChainID   string       `json:"chainId"`
	AssetCode string       `json:"assetCode"`
	Amount    money.Amount `json:"amount"`
}

// PartyDetails is filled once per side via fillPartyDetails and never
// mutated again (P1 invariant: once Locked, PaybackAddress and
// RecipientAddress never change).
type PartyDetails struct {
	PaybackAddress   string `json:"paybackAddress"`
	RecipientAddress string `json:"recipientAddress"`
	Email            string `json:"email,omitempty"`
	FilledAtMS       int64  `json:"filledAt"`
	Locked           bool   `json:"locked"`
}

// Escrow is the per-side custody account, created once the
// corresponding party fills details.
type Escrow struct {
	Address string `json:"address"`
	KeyRef  string `json:"keyRef"`
}

// CommissionKind distinguishes the two CommissionReq variants.
type CommissionKind string

const (
	CommissionFixedUSDNative CommissionKind = "FIXED_USD_NATIVE"
	CommissionPercentBPS     CommissionKind = "PERCENT_BPS"
)

// CommissionReq is a tagged variant (spec §3.1): exactly one of the
// Fixed* or Percent* field groups is meaningful, selected by Kind.
type CommissionReq struct {
	Kind CommissionKind `json:"kind"`

	// FIXED_USD_NATIVE fields.
	USDFixed         money.Amount  `json:"usdFixed,omitempty"`
	NativeFixed      *money.Amount `json:"nativeFixed,omitempty"`
	OracleQuotePrice string        `json:"oracleQuotePrice,omitempty"`
	OracleQuoteAsOf  int64         `json:"oracleQuoteAsOf,omitempty"`

	// PERCENT_BPS fields.
	PercentBPS int64 `json:"percentBps,omitempty"`

	// Currency is "NATIVE" for FIXED_USD_NATIVE and "ASSET" for
	// PERCENT_BPS per spec §3.1; kept explicit rather than derived so
	// the open-question resolution (commission always in the send
	// asset for PERCENT_BPS, see DESIGN.md) is a documented fact on
	// the record, not implicit in code.
	Currency         string `json:"currency"`
	CoveredBySurplus bool   `json:"coveredBySurplus"`
}

// Frozen reports whether a FIXED_USD_NATIVE commission has had its
// native amount and oracle quote pinned (happens on CREATED->COLLECTION).
func (c CommissionReq) Frozen() bool {
	return c.Kind != CommissionFixedUSDNative || c.NativeFixed != nil
}

// DepositRecord is one observed inbound transfer (spec §3.1 Deposit).
// Uniquely identified by (DealID, Side, TxID, Asset).
type DepositRecord struct {
	DealID      string       `json:"dealId"`
	Side        Party        `json:"side"`
	TxID        string       `json:"txid"`
	Asset       string       `json:"asset"`
	Amount      money.Amount `json:"amount"`
	Confirms    int          `json:"confirms"`
	BlockTimeMS int64        `json:"blockTime"`
	FirstSeenAt int64        `json:"firstSeenAt"`
}

// Collection is one side's running tally of observed deposits.
type Collection struct {
	Deposits         []DepositRecord         `json:"deposits"`
	CollectedByAsset map[string]money.Amount `json:"collectedByAsset"`
}

// Event is one append-only audit log entry on a Deal.
type Event struct {
	TimestampMS int64  `json:"timestamp"`
	Message     string `json:"message"`
}

// Deal is the root aggregate (spec §3.1). It is persisted as a single
// JSON document keyed by ID, the same "full document" shape the spec
// prescribes for the deals table (§6.2) -- the broker equivalent of
// internal/storage/swaps.go's SwapRecord, but serialized rather than
// column-per-field since Deal's shape varies with progress (a side's
// party details and escrow are absent until that side's details are
// filled).
type Deal struct {
	ID             string `json:"id"`
	Stage          Stage  `json:"stage"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	ExpiresAtMS    int64  `json:"expiresAt,omitempty"`
	CreatedAtMS    int64  `json:"createdAt"`

	SideA AssetSpec `json:"sideA"`
	SideB AssetSpec `json:"sideB"`

	PartyDetailsA *PartyDetails `json:"partyDetailsA,omitempty"`
	PartyDetailsB *PartyDetails `json:"partyDetailsB,omitempty"`

	EscrowA *Escrow `json:"escrowA,omitempty"`
	EscrowB *Escrow `json:"escrowB,omitempty"`

	CommissionPlan *CommissionPlan `json:"commissionPlan,omitempty"`

	CollectionA Collection `json:"collectionA"`
	CollectionB Collection `json:"collectionB"`

	Events []Event `json:"events"`
}

// CommissionPlan pairs each side's commission requirement.
type CommissionPlan struct {
	SideA CommissionReq `json:"sideA"`
	SideB CommissionReq `json:"sideB"`
}

// AppendEvent records an audit-log entry. Callers persist the deal
// afterward; this only mutates the in-memory copy.
func (d *Deal) AppendEvent(nowMS int64, message string) {
	d.Events = append(d.Events, Event{TimestampMS: nowMS, Message: message})
}

// PartyDetailsFor returns the PartyDetails pointer for a side.
func (d *Deal) PartyDetailsFor(p Party) *PartyDetails {
	if p == PartyA {
		return d.PartyDetailsA
	}
	return d.PartyDetailsB
}

// EscrowFor returns the Escrow pointer for a side.
func (d *Deal) EscrowFor(p Party) *Escrow {
	if p == PartyA {
		return d.EscrowA
	}
	return d.EscrowB
}

// CollectionFor returns the Collection for a side.
func (d *Deal) CollectionFor(p Party) *Collection {
	if p == PartyA {
		return &d.CollectionA
	}
	return &d.CollectionB
}

// SideSpec returns the AssetSpec for a side.
func (d *Deal) SideSpec(p Party) AssetSpec {
	if p == PartyA {
		return d.SideA
	}
	return d.SideB
}

// Counterparty returns the other side.
func Counterparty(p Party) Party {
	if p == PartyA {
		return PartyB
	}
	return PartyA
}

// QueuePurpose is why a QueueItem was created.
type QueuePurpose string

const (
	PurposeSwapPayout    QueuePurpose = "SWAP_PAYOUT"
	PurposeOpCommission  QueuePurpose = "OP_COMMISSION"
	PurposeTimeoutRefund QueuePurpose = "TIMEOUT_REFUND"
	PurposeSurplusRefund QueuePurpose = "SURPLUS_REFUND"
)

// QueueStatus is a QueueItem's lifecycle state.
type QueueStatus string

const (
	QueuePending   QueueStatus = "PENDING"
	QueueSubmitted QueueStatus = "SUBMITTED"
	QueueCompleted QueueStatus = "COMPLETED"
	QueueFailed    QueueStatus = "FAILED"
)

// Terminal reports whether a QueueStatus accepts no further transitions.
func (s QueueStatus) Terminal() bool { return s == QueueCompleted || s == QueueFailed }

// SubmittedTxStatus is the chain-observed state of a submitted tx.
type SubmittedTxStatus string

const (
	TxPending   SubmittedTxStatus = "PENDING"
	TxConfirmed SubmittedTxStatus = "CONFIRMED"
	TxDropped   SubmittedTxStatus = "DROPPED"
	TxFailed    SubmittedTxStatus = "FAILED"
)

// SubmittedTx records the chain-side result of a Submit call.
type SubmittedTx struct {
	TxID             string            `json:"txid,omitempty"`
	Status           SubmittedTxStatus `json:"status,omitempty"`
	Confirms         int               `json:"confirms"`
	RequiredConfirms int               `json:"requiredConfirms"`
}

// QueueEndpoint names an address plus the keyRef needed to sign from
// it (only set when the endpoint is an escrow; empty keyRef for plain
// addresses such as a recipient or operator address).
type QueueEndpoint struct {
	Address string `json:"address"`
	KeyRef  string `json:"keyRef,omitempty"`
}

// QueueItem is a durable outbound-transfer intent (spec §3.1, §4.5).
type QueueItem struct {
	ID          string        `json:"id"`
	DealID      string        `json:"dealId"`
	Purpose     QueuePurpose  `json:"purpose"`
	From        QueueEndpoint `json:"from"`
	To          string        `json:"to"`
	Asset       string        `json:"asset"`
	Amount      money.Amount  `json:"amount"`
	Status      QueueStatus   `json:"status"`
	SubmittedTx SubmittedTx   `json:"submittedTx"`
	ClientNonce string        `json:"clientNonce"`
	Attempts    int           `json:"attempts"`
	LastError   string        `json:"lastError,omitempty"`
	CreatedAtMS     int64     `json:"createdAt"`
	UpdatedAtMS     int64     `json:"updatedAt"`
	NextAttemptAtMS int64     `json:"nextAttemptAt"`
}

// Token is a single-use secret authorizing fillPartyDetails for one
// (dealId, party) pair (spec §3.1, §4.4.3).
type Token struct {
	Token       string `json:"token"`
	DealID      string `json:"dealId"`
	Party       Party  `json:"party"`
	CreatedAtMS int64  `json:"createdAt"`
	UsedAtMS    int64  `json:"usedAt,omitempty"`
}

// Used reports whether the token has been consumed.
func (t Token) Used() bool { return t.UsedAtMS != 0 }

// OracleQuoteSource names where a quote came from.
type OracleQuoteSource string

const (
	QuoteSourceManual OracleQuoteSource = "MANUAL"
	QuoteSourcePlugin OracleQuoteSource = "PLUGIN"
)

// OracleQuote is one price observation for a (chainId, pair); the
// latest row per pair is authoritative (spec §3.1).
type OracleQuote struct {
	ChainID  string            `json:"chainId"`
	Pair     string            `json:"pair"`
	Price    string            `json:"price"`
	AsOfMS   int64             `json:"asOf"`
	Source   OracleQuoteSource `json:"source"`
}
