package simplugin

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/otc-broker/internal/escrowvault"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

func TestBitcoinLikeEscrowAndDeposit(t *testing.T) {
	vault := escrowvault.New(t.TempDir(), "test passphrase")
	p := NewBitcoinLike("BITCOIN", "BTC@BITCOIN", &chaincfg.MainNetParams, vault)
	ctx := context.Background()

	escrow, err := p.GenerateEscrowAccount(ctx, "BTC@BITCOIN")
	if err != nil {
		t.Fatalf("GenerateEscrowAccount: %v", err)
	}
	if ok, err := p.ValidateAddress(ctx, escrow.Address); err != nil || !ok {
		t.Fatalf("ValidateAddress(%q) = %v, %v", escrow.Address, ok, err)
	}

	p.CreditExternalDeposit(escrow.Address, "BTC@BITCOIN", money.MustParse("0.5", 8), "ext-tx-1", 1000, 1000)
	res, err := p.ScanDeposits(ctx, escrow.Address, "")
	if err != nil {
		t.Fatalf("ScanDeposits: %v", err)
	}
	if len(res.Deposits) != 1 || res.Deposits[0].Amount.String() != "0.5" {
		t.Fatalf("ScanDeposits = %+v", res)
	}

	// A repeat scan at the returned cursor sees nothing new.
	res2, err := p.ScanDeposits(ctx, escrow.Address, res.NextCursor)
	if err != nil {
		t.Fatalf("ScanDeposits (2nd): %v", err)
	}
	if len(res2.Deposits) != 0 {
		t.Fatalf("expected no new deposits, got %+v", res2.Deposits)
	}
}

func TestBitcoinLikeSubmitIsIdempotentPerNonce(t *testing.T) {
	vault := escrowvault.New(t.TempDir(), "test passphrase")
	p := NewBitcoinLike("BITCOIN", "BTC@BITCOIN", &chaincfg.MainNetParams, vault)
	ctx := context.Background()

	escrow, err := p.GenerateEscrowAccount(ctx, "BTC@BITCOIN")
	if err != nil {
		t.Fatalf("GenerateEscrowAccount: %v", err)
	}
	p.CreditExternalDeposit(escrow.Address, "BTC@BITCOIN", money.MustParse("1", 8), "ext-tx-1", 1000, 1000)

	txid1, err := p.Submit(ctx, "nonce-1", escrow, "recipient", "BTC@BITCOIN", money.MustParse("0.3", 8))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	txid2, err := p.Submit(ctx, "nonce-1", escrow, "recipient", "BTC@BITCOIN", money.MustParse("0.3", 8))
	if err != nil {
		t.Fatalf("Submit (repeat): %v", err)
	}
	if txid1 != txid2 {
		t.Fatalf("repeated Submit with same nonce returned different txids: %q vs %q", txid1, txid2)
	}

	bal, err := p.GetBalance(ctx, escrow.Address, "BTC@BITCOIN")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.String() != "0.7" {
		t.Fatalf("balance after one real debit = %s, want 0.7 (nonce replay must not double-debit)", bal.String())
	}
}

func TestEVMLikeGeneratesValidHexAddress(t *testing.T) {
	vault := escrowvault.New(t.TempDir(), "test passphrase")
	p := NewEVMLike("ETH", "ETH@ETH", vault)
	ctx := context.Background()

	escrow, err := p.GenerateEscrowAccount(ctx, "ETH@ETH")
	if err != nil {
		t.Fatalf("GenerateEscrowAccount: %v", err)
	}
	if len(escrow.Address) != 42 || escrow.Address[:2] != "0x" {
		t.Fatalf("address = %q, want 0x-prefixed 20-byte hex", escrow.Address)
	}
	if ok, err := p.ValidateAddress(ctx, escrow.Address); err != nil || !ok {
		t.Fatalf("ValidateAddress(%q) = %v, %v", escrow.Address, ok, err)
	}
}

func TestSolanaLikeGeneratesDistinctAddresses(t *testing.T) {
	vault := escrowvault.New(t.TempDir(), "test passphrase")
	p := NewSolanaLike("SOLANA", "SOL@SOLANA", vault)
	ctx := context.Background()

	e1, err := p.GenerateEscrowAccount(ctx, "SOL@SOLANA")
	if err != nil {
		t.Fatalf("GenerateEscrowAccount: %v", err)
	}
	e2, err := p.GenerateEscrowAccount(ctx, "SOL@SOLANA")
	if err != nil {
		t.Fatalf("GenerateEscrowAccount: %v", err)
	}
	if e1.Address == e2.Address {
		t.Fatal("expected two escrows to derive distinct addresses")
	}
	if ok, err := p.ValidateAddress(ctx, e1.Address); err != nil || !ok {
		t.Fatalf("ValidateAddress(%q) = %v, %v", e1.Address, ok, err)
	}
	if ok, _ := p.ValidateAddress(ctx, "not-base58-!!!"); ok {
		t.Fatal("expected invalid address to fail validation")
	}
}

func TestQuoteAtFixedPriceRoundsToNativeDecimals(t *testing.T) {
	q := quoteAtFixedPrice(money.MustParse("20000", 2), "20000", 8)
	if q.String() != "1" {
		t.Fatalf("quoteAtFixedPrice(20000 USD @ 20000/unit) = %s, want 1", q.String())
	}
}
