package store

import (
	"testing"

	"github.com/klingon-exchange/otc-broker/pkg/logging"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(&Config{DataDir: t.TempDir()}, logging.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetDeal(t *testing.T) {
	s := newTestStore(t)
	d := &Deal{
		ID:             "deal-1",
		Stage:          StageCreated,
		TimeoutSeconds: 3600,
		SideA:          AssetSpec{ChainID: "ETH", AssetCode: "USDC@ETH", Amount: money.MustParse("100", 6)},
		SideB:          AssetSpec{ChainID: "POLYGON", AssetCode: "MATIC@POLYGON", Amount: money.MustParse("200", 18)},
	}
	if err := s.CreateDeal(d, 1000); err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}

	got, err := s.GetDeal("deal-1")
	if err != nil {
		t.Fatalf("GetDeal: %v", err)
	}
	if got == nil {
		t.Fatal("GetDeal returned nil")
	}
	if got.Stage != StageCreated || got.SideA.Amount.String() != "100" {
		t.Errorf("got %+v", got)
	}

	if _, err := s.GetDeal("no-such-deal"); err != nil {
		t.Errorf("GetDeal missing: %v", err)
	}
}

func TestListNonTerminalDeals(t *testing.T) {
	s := newTestStore(t)
	active := &Deal{ID: "active", Stage: StageCollection, TimeoutSeconds: 3600}
	done := &Deal{ID: "done", Stage: StageClosed, TimeoutSeconds: 3600}
	if err := s.CreateDeal(active, 1000); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateDeal(done, 1000); err != nil {
		t.Fatal(err)
	}

	deals, err := s.ListNonTerminalDeals()
	if err != nil {
		t.Fatalf("ListNonTerminalDeals: %v", err)
	}
	if len(deals) != 1 || deals[0].ID != "active" {
		t.Errorf("got %v, want only 'active'", deals)
	}
}

func TestTokenSingleUse(t *testing.T) {
	s := newTestStore(t)
	d := &Deal{ID: "deal-2", Stage: StageCreated, TimeoutSeconds: 3600}
	if err := s.CreateDeal(d, 1000); err != nil {
		t.Fatal(err)
	}
	tok := Token{Token: "tok-abc", DealID: "deal-2", Party: PartyA, CreatedAtMS: 1000}
	if err := s.CreateToken(tok); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	ok, err := s.MarkTokenUsed("tok-abc", 2000)
	if err != nil || !ok {
		t.Fatalf("first MarkTokenUsed: ok=%v err=%v", ok, err)
	}

	ok, err = s.MarkTokenUsed("tok-abc", 3000)
	if err != nil {
		t.Fatalf("second MarkTokenUsed errored: %v", err)
	}
	if ok {
		t.Error("second MarkTokenUsed should fail (already used) -- P2 violated")
	}

	got, err := s.GetToken("tok-abc")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got.UsedAtMS != 2000 {
		t.Errorf("UsedAtMS = %d, want 2000 (first call's timestamp, not overwritten)", got.UsedAtMS)
	}
}

func TestUpsertDepositDedup(t *testing.T) {
	s := newTestStore(t)
	d := &Deal{ID: "deal-3", Stage: StageCollection, TimeoutSeconds: 3600}
	if err := s.CreateDeal(d, 1000); err != nil {
		t.Fatal(err)
	}

	dep := DepositRecord{
		DealID: "deal-3", Side: PartyA, TxID: "tx1", Asset: "USDC@ETH",
		Amount: money.MustParse("100", 6), Confirms: 1, FirstSeenAt: 1000,
	}
	inserted, err := s.UpsertDeposit(dep)
	if err != nil || !inserted {
		t.Fatalf("first UpsertDeposit: inserted=%v err=%v", inserted, err)
	}

	dep.Confirms = 3
	inserted, err = s.UpsertDeposit(dep)
	if err != nil {
		t.Fatalf("second UpsertDeposit: %v", err)
	}
	if inserted {
		t.Error("second UpsertDeposit should report inserted=false (dedup)")
	}

	deposits, err := s.ListDeposits("deal-3", PartyA)
	if err != nil {
		t.Fatalf("ListDeposits: %v", err)
	}
	if len(deposits) != 1 {
		t.Fatalf("got %d deposits, want exactly 1 (dedup by txid,asset) -- P7 violated", len(deposits))
	}
	if deposits[0].Confirms != 3 {
		t.Errorf("confirms = %d, want 3 (monotonic update)", deposits[0].Confirms)
	}
	if deposits[0].Amount.String() != "100" {
		t.Errorf("amount = %s, want unchanged 100", deposits[0].Amount.String())
	}
}

func TestEnqueueItemRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	item := &QueueItem{
		ID: "q1", DealID: "deal-4", Purpose: PurposeSwapPayout,
		To: "0xRecipient", Asset: "USDC@ETH", Amount: money.MustParse("100", 6),
		Status: QueuePending,
	}
	if err := s.EnqueueItem(item, 1000); err != nil {
		t.Fatalf("EnqueueItem: %v", err)
	}

	dup := &QueueItem{
		ID: "q2", DealID: "deal-4", Purpose: PurposeSwapPayout,
		To: "0xRecipient", Asset: "USDC@ETH", Amount: money.MustParse("100", 6),
		Status: QueuePending,
	}
	if err := s.EnqueueItem(dup, 1000); err == nil {
		t.Error("expected error enqueuing duplicate (dealId,purpose,asset,to)")
	}
}

func TestQuoteLatestWins(t *testing.T) {
	s := newTestStore(t)
	if err := s.RecordQuote(OracleQuote{ChainID: "ETH", Pair: "ETH/USD", Price: "2000", AsOfMS: 1000, Source: QuoteSourceManual}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordQuote(OracleQuote{ChainID: "ETH", Pair: "ETH/USD", Price: "3000", AsOfMS: 2000, Source: QuoteSourceManual}); err != nil {
		t.Fatal(err)
	}
	q, err := s.LatestQuote("ETH", "ETH/USD")
	if err != nil {
		t.Fatalf("LatestQuote: %v", err)
	}
	if q.Price != "3000" {
		t.Errorf("LatestQuote price = %s, want 3000", q.Price)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	c, err := s.GetCursor("ETH", "0xEscrow")
	if err != nil || c != "" {
		t.Fatalf("GetCursor missing = %q, %v", c, err)
	}
	if err := s.SetCursor("ETH", "0xEscrow", "cursor-1", 1000); err != nil {
		t.Fatal(err)
	}
	c, err = s.GetCursor("ETH", "0xEscrow")
	if err != nil || c != "cursor-1" {
		t.Fatalf("GetCursor = %q, %v", c, err)
	}
	if err := s.DropCursor("ETH", "0xEscrow"); err != nil {
		t.Fatal(err)
	}
	c, err = s.GetCursor("ETH", "0xEscrow")
	if err != nil || c != "" {
		t.Fatalf("GetCursor after drop = %q, %v", c, err)
	}
}
