package dealfsm

import (
	"context"
	"fmt"
	"testing"

	"github.com/klingon-exchange/otc-broker/internal/assetreg"
	"github.com/klingon-exchange/otc-broker/internal/chainplugin"
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/pkg/logging"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// fakePlugin is a minimal in-memory chainplugin.Plugin double for
// exercising the deal state machine without real chain I/O.
type fakePlugin struct {
	chainID  string
	balances map[string]money.Amount // address -> asset -> amount, flattened as "address|asset"
	escrowN  int
}

func newFakePlugin(chainID string) *fakePlugin {
	return &fakePlugin{chainID: chainID, balances: make(map[string]money.Amount)}
}

func (p *fakePlugin) key(addr, asset string) string { return addr + "|" + asset }

func (p *fakePlugin) setBalance(addr, asset string, amt money.Amount) {
	p.balances[p.key(addr, asset)] = amt
}

func (p *fakePlugin) ChainID() string { return p.chainID }

func (p *fakePlugin) ValidateAddress(ctx context.Context, addr string) (bool, error) {
	return addr != "", nil
}

func (p *fakePlugin) GenerateEscrowAccount(ctx context.Context, assetCode string) (chainplugin.Escrow, error) {
	p.escrowN++
	addr := fmt.Sprintf("escrow-%s-%d", p.chainID, p.escrowN)
	return chainplugin.Escrow{Address: addr, KeyRef: "key-" + addr}, nil
}

func (p *fakePlugin) QuoteNativeForUSD(ctx context.Context, usdAmount money.Amount) (chainplugin.QuoteResult, error) {
	return chainplugin.QuoteResult{NativeAmount: usdAmount, QuotePrice: "1", QuoteAsOfMS: 0}, nil
}

func (p *fakePlugin) ScanDeposits(ctx context.Context, address, sinceCursor string) (chainplugin.ScanResult, error) {
	return chainplugin.ScanResult{}, nil
}

func (p *fakePlugin) Submit(ctx context.Context, clientNonce string, from chainplugin.Escrow, to, asset string, amount money.Amount) (string, error) {
	return "tx-" + clientNonce, nil
}

func (p *fakePlugin) ResolveByNonce(ctx context.Context, clientNonce string) (string, error) {
	return "", nil
}

func (p *fakePlugin) GetTxStatus(ctx context.Context, txid string) (chainplugin.TxStatus, error) {
	return chainplugin.TxStatus{Status: chainplugin.TxConfirmed, Confirms: 1, RequiredConfirms: 1}, nil
}

func (p *fakePlugin) GetBalance(ctx context.Context, address, assetCode string) (money.Amount, error) {
	if amt, ok := p.balances[p.key(address, assetCode)]; ok {
		return amt, nil
	}
	return money.Zero(8), nil
}

func newTestEngine(t *testing.T) (*Engine, *fakePlugin, *fakePlugin) {
	t.Helper()
	s, err := store.New(&store.Config{DataDir: t.TempDir()}, logging.Default())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	assets, err := assetreg.NewRegistry([]assetreg.Asset{
		{ChainID: "ETH", Symbol: "ETH", Decimals: 18, Native: true},
		{ChainID: "ETH", Symbol: "USDC", Decimals: 6},
		{ChainID: "POLYGON", Symbol: "MATIC", Decimals: 18, Native: true},
	})
	if err != nil {
		t.Fatalf("assetreg.NewRegistry: %v", err)
	}

	ethPlugin := newFakePlugin("ETH")
	polyPlugin := newFakePlugin("POLYGON")
	registry := chainplugin.NewRegistry()
	if err := registry.Register(ethPlugin); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(polyPlugin); err != nil {
		t.Fatal(err)
	}

	eng := New(Config{
		Store:        s,
		Assets:       assets,
		Plugins:      registry,
		OperatorAddr: map[string]string{"ETH": "operator-eth", "POLYGON": "operator-poly"},
		Log:          logging.Default(),
	})
	return eng, ethPlugin, polyPlugin
}

func createHappyPathDeal(t *testing.T, eng *Engine) *CreateDealResult {
	t.Helper()
	res, err := eng.CreateDeal(CreateDealParams{
		SideA:          store.AssetSpec{ChainID: "ETH", AssetCode: "USDC@ETH", Amount: money.MustParse("100", 6)},
		SideB:          store.AssetSpec{ChainID: "POLYGON", AssetCode: "MATIC@POLYGON", Amount: money.MustParse("200", 18)},
		TimeoutSeconds: 3600,
		CommissionA:    store.CommissionReq{Kind: store.CommissionPercentBPS, PercentBPS: 30, Currency: "ASSET", CoveredBySurplus: true},
		CommissionB:    store.CommissionReq{Kind: store.CommissionPercentBPS, PercentBPS: 30, Currency: "ASSET", CoveredBySurplus: true},
	}, 1000)
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	return res
}

func fillBothSides(t *testing.T, eng *Engine, dealID, tokenA, tokenB string) {
	t.Helper()
	if err := eng.FillPartyDetails(context.Background(), FillPartyDetailsParams{
		DealID: dealID, Party: store.PartyA,
		PaybackAddress: "a-payback", RecipientAddress: "a-recipient", Token: tokenA,
	}, 1100); err != nil {
		t.Fatalf("fill A: %v", err)
	}
	if err := eng.FillPartyDetails(context.Background(), FillPartyDetailsParams{
		DealID: dealID, Party: store.PartyB,
		PaybackAddress: "b-payback", RecipientAddress: "b-recipient", Token: tokenB,
	}, 1200); err != nil {
		t.Fatalf("fill B: %v", err)
	}
}

func TestHappyPathReachesWaitingWithPayoutsEnqueued(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	res := createHappyPathDeal(t, eng)
	fillBothSides(t, eng, res.Deal.ID, res.TokenA, res.TokenB)

	d, err := eng.store.GetDeal(res.Deal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Stage != store.StageCollection {
		t.Fatalf("stage = %s, want COLLECTION", d.Stage)
	}

	// Commission at 30bps is additive to the send amount, so each side
	// deposits exactly send + commission: A 100 + 0.3 = 100.3 USDC,
	// B 200 + 0.6 = 200.6 MATIC. Neither side leaves a surplus.
	if err := eng.RecordDeposit(res.Deal.ID, store.PartyA, store.DepositRecord{
		TxID: "txA1", Asset: "USDC@ETH", Amount: money.MustParse("100.3", 6), FirstSeenAt: 1300, Confirms: 1,
	}, 1300); err != nil {
		t.Fatal(err)
	}
	if err := eng.RecordDeposit(res.Deal.ID, store.PartyB, store.DepositRecord{
		TxID: "txB1", Asset: "MATIC@POLYGON", Amount: money.MustParse("200.6", 18), FirstSeenAt: 1300, Confirms: 1,
	}, 1300); err != nil {
		t.Fatal(err)
	}

	if err := eng.Advance(res.Deal.ID, 1400); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	d, err = eng.store.GetDeal(res.Deal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Stage != store.StageWaiting {
		t.Fatalf("stage = %s, want WAITING", d.Stage)
	}

	items, err := eng.store.ListQueueItemsForDeal(res.Deal.ID)
	if err != nil {
		t.Fatal(err)
	}
	purposes := map[store.QueuePurpose]int{}
	for _, it := range items {
		purposes[it.Purpose]++
	}
	if purposes[store.PurposeSwapPayout] != 2 {
		t.Errorf("expected 2 SWAP_PAYOUT items, got %d", purposes[store.PurposeSwapPayout])
	}
	if purposes[store.PurposeOpCommission] != 2 {
		t.Errorf("expected 2 OP_COMMISSION items, got %d", purposes[store.PurposeOpCommission])
	}
}

func TestTimeoutRefundsOneSidedFunding(t *testing.T) {
	eng, ethPlugin, _ := newTestEngine(t)
	res := createHappyPathDeal(t, eng)
	fillBothSides(t, eng, res.Deal.ID, res.TokenA, res.TokenB)

	if err := eng.RecordDeposit(res.Deal.ID, store.PartyA, store.DepositRecord{
		TxID: "txA1", Asset: "USDC@ETH", Amount: money.MustParse("100", 6), FirstSeenAt: 1300, Confirms: 1,
	}, 1300); err != nil {
		t.Fatal(err)
	}

	d, _ := eng.store.GetDeal(res.Deal.ID)
	expiresAt := d.ExpiresAtMS
	// Refunds are sized from the escrow's live balance, so the fake
	// chain has to hold what A deposited.
	ethPlugin.setBalance(d.EscrowA.Address, "USDC@ETH", money.MustParse("100", 6))

	if err := eng.Advance(res.Deal.ID, expiresAt+1); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	d, err := eng.store.GetDeal(res.Deal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Stage != store.StageReverted {
		t.Fatalf("stage = %s, want REVERTED", d.Stage)
	}

	items, err := eng.store.ListQueueItemsForDeal(res.Deal.ID)
	if err != nil {
		t.Fatal(err)
	}
	var refunds int
	for _, it := range items {
		if it.Purpose == store.PurposeTimeoutRefund {
			refunds++
			if it.To != "a-payback" {
				t.Errorf("refund To = %s, want a-payback", it.To)
			}
		}
	}
	if refunds != 1 {
		t.Errorf("expected exactly 1 TIMEOUT_REFUND (side B never deposited), got %d", refunds)
	}
}

func TestCancelBeforeDeposits(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	res := createHappyPathDeal(t, eng)

	if err := eng.FillPartyDetails(context.Background(), FillPartyDetailsParams{
		DealID: res.Deal.ID, Party: store.PartyA,
		PaybackAddress: "a-payback", RecipientAddress: "a-recipient", Token: res.TokenA,
	}, 1100); err != nil {
		t.Fatalf("fill A: %v", err)
	}

	if err := eng.CancelDeal(res.Deal.ID, res.TokenA, 1200); err != nil {
		t.Fatalf("CancelDeal: %v", err)
	}

	d, err := eng.store.GetDeal(res.Deal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Stage != store.StageReverted {
		t.Fatalf("stage = %s, want REVERTED", d.Stage)
	}

	items, _ := eng.store.ListQueueItemsForDeal(res.Deal.ID)
	if len(items) != 0 {
		t.Errorf("expected no queue items after cancel-before-deposit, got %d", len(items))
	}
}

func TestCancelRejectedAfterDeposit(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	res := createHappyPathDeal(t, eng)
	fillBothSides(t, eng, res.Deal.ID, res.TokenA, res.TokenB)

	if err := eng.RecordDeposit(res.Deal.ID, store.PartyA, store.DepositRecord{
		TxID: "txA1", Asset: "USDC@ETH", Amount: money.MustParse("50", 6), FirstSeenAt: 1300, Confirms: 1,
	}, 1300); err != nil {
		t.Fatal(err)
	}

	err := eng.CancelDeal(res.Deal.ID, res.TokenA, 1400)
	if err == nil {
		t.Fatal("expected cancel to be rejected after a deposit was observed")
	}
}

func TestDoubleFillRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	res := createHappyPathDeal(t, eng)

	params := FillPartyDetailsParams{
		DealID: res.Deal.ID, Party: store.PartyA,
		PaybackAddress: "a-payback", RecipientAddress: "a-recipient", Token: res.TokenA,
	}
	if err := eng.FillPartyDetails(context.Background(), params, 1100); err != nil {
		t.Fatalf("first fill: %v", err)
	}

	err := eng.FillPartyDetails(context.Background(), params, 1200)
	if err == nil {
		t.Fatal("expected second fillPartyDetails with the same token to be rejected")
	}

	d, err := eng.store.GetDeal(res.Deal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.PartyDetailsA.PaybackAddress != "a-payback" {
		t.Error("stored addresses must be unchanged after rejected second fill")
	}
}
