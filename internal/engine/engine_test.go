package engine

import (
	"context"
	"testing"

	"github.com/klingon-exchange/otc-broker/internal/assetreg"
	"github.com/klingon-exchange/otc-broker/internal/chainplugin"
	"github.com/klingon-exchange/otc-broker/internal/dealfsm"
	"github.com/klingon-exchange/otc-broker/internal/depositwatch"
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/internal/txqueue"
	"github.com/klingon-exchange/otc-broker/pkg/logging"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// stubPlugin drives the full happy path: it reports a single deposit
// for each escrow address covering the side's obligation plus a small
// commission margin, and confirms every submitted transfer instantly.
type stubPlugin struct {
	chainID     string
	depositOnce map[string]bool
}

func (p *stubPlugin) ChainID() string { return p.chainID }
func (p *stubPlugin) ValidateAddress(ctx context.Context, addr string) (bool, error) { return true, nil }
func (p *stubPlugin) GenerateEscrowAccount(ctx context.Context, assetCode string) (chainplugin.Escrow, error) {
	return chainplugin.Escrow{Address: "escrow-" + assetCode, KeyRef: "key-" + assetCode}, nil
}
func (p *stubPlugin) QuoteNativeForUSD(ctx context.Context, usd money.Amount) (chainplugin.QuoteResult, error) {
	return chainplugin.QuoteResult{NativeAmount: usd}, nil
}
func (p *stubPlugin) ScanDeposits(ctx context.Context, address, cursor string) (chainplugin.ScanResult, error) {
	if p.depositOnce == nil {
		p.depositOnce = make(map[string]bool)
	}
	if p.depositOnce[address] {
		return chainplugin.ScanResult{NextCursor: cursor}, nil
	}
	p.depositOnce[address] = true
	var amt money.Amount
	switch address {
	case "escrow-USDC@ETH":
		amt = money.MustParse("100.3", 6)
	case "escrow-MATIC@POLYGON":
		amt = money.MustParse("200.6", 18)
	default:
		amt = money.Zero(6)
	}
	asset := "USDC@ETH"
	if address == "escrow-MATIC@POLYGON" {
		asset = "MATIC@POLYGON"
	}
	return chainplugin.ScanResult{
		Deposits: []chainplugin.Deposit{
			{TxID: "tx-" + address, Asset: asset, Amount: amt, Confirms: 1, FirstSeenAt: 1000},
		},
		NextCursor: "seen",
	}, nil
}
func (p *stubPlugin) Submit(ctx context.Context, clientNonce string, from chainplugin.Escrow, to, asset string, amount money.Amount) (string, error) {
	return "tx-" + clientNonce, nil
}
func (p *stubPlugin) ResolveByNonce(ctx context.Context, clientNonce string) (string, error) { return "", nil }
func (p *stubPlugin) GetTxStatus(ctx context.Context, txid string) (chainplugin.TxStatus, error) {
	return chainplugin.TxStatus{Status: chainplugin.TxConfirmed, Confirms: 1, RequiredConfirms: 1}, nil
}
func (p *stubPlugin) GetBalance(ctx context.Context, address, assetCode string) (money.Amount, error) {
	return money.Zero(8), nil
}

func TestTickDrivesDealFromCollectionToClosed(t *testing.T) {
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

	ethPlugin := &stubPlugin{chainID: "ETH"}
	polyPlugin := &stubPlugin{chainID: "POLYGON"}
	registry := chainplugin.NewRegistry()
	if err := registry.Register(ethPlugin); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(polyPlugin); err != nil {
		t.Fatal(err)
	}

	fsm := dealfsm.New(dealfsm.Config{
		Store:        s,
		Assets:       assets,
		Plugins:      registry,
		OperatorAddr: map[string]string{"ETH": "operator-eth", "POLYGON": "operator-poly"},
		Log:          logging.Default(),
	})

	watcher := depositwatch.New(depositwatch.Config{
		Store:         s,
		Plugins:       registry,
		RecordDeposit: fsm.RecordDeposit,
		Log:           logging.Default(),
	})

	queue := txqueue.New(txqueue.Config{Store: s, Plugins: registry, Log: logging.Default()})

	eng := New(Config{
		Store:        s,
		DealFSM:      fsm,
		DepositWatch: watcher,
		TxQueue:      queue,
		Log:          logging.Default(),
	})

	res, err := fsm.CreateDeal(dealfsm.CreateDealParams{
		SideA:          store.AssetSpec{ChainID: "ETH", AssetCode: "USDC@ETH", Amount: money.MustParse("100", 6)},
		SideB:          store.AssetSpec{ChainID: "POLYGON", AssetCode: "MATIC@POLYGON", Amount: money.MustParse("200", 18)},
		TimeoutSeconds: 3600,
		CommissionA:    store.CommissionReq{Kind: store.CommissionPercentBPS, PercentBPS: 30, Currency: "ASSET", CoveredBySurplus: true},
		CommissionB:    store.CommissionReq{Kind: store.CommissionPercentBPS, PercentBPS: 30, Currency: "ASSET", CoveredBySurplus: true},
	}, 1000)
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}

	if err := fsm.FillPartyDetails(context.Background(), dealfsm.FillPartyDetailsParams{
		DealID: res.Deal.ID, Party: store.PartyA,
		PaybackAddress: "a-payback", RecipientAddress: "a-recipient", Token: res.TokenA,
	}, 1100); err != nil {
		t.Fatalf("fill A: %v", err)
	}
	if err := fsm.FillPartyDetails(context.Background(), dealfsm.FillPartyDetailsParams{
		DealID: res.Deal.ID, Party: store.PartyB,
		PaybackAddress: "b-payback", RecipientAddress: "b-recipient", Token: res.TokenB,
	}, 1200); err != nil {
		t.Fatalf("fill B: %v", err)
	}

	// Several ticks: deposit scan -> funded -> WAITING -> payouts
	// submitted -> confirmed -> CLOSED.
	var finalStage store.Stage
	for tick := int64(2000); tick <= 10000; tick += 1000 {
		eng.Tick(tick)
		d, err := s.GetDeal(res.Deal.ID)
		if err != nil {
			t.Fatal(err)
		}
		finalStage = d.Stage
		if finalStage == store.StageClosed {
			break
		}
	}

	if finalStage != store.StageClosed {
		t.Fatalf("deal did not reach CLOSED within the tick budget, last stage = %s", finalStage)
	}
}
