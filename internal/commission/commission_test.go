package commission

import (
	"testing"

	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

func TestPercentBPSRequiredInSendAsset(t *testing.T) {
	req := store.CommissionReq{Kind: store.CommissionPercentBPS, PercentBPS: 33, Currency: "ASSET"}
	send := store.AssetSpec{AssetCode: "USDC@ETH", Amount: money.MustParse("100", 6)}
	r := Required(req, send, "ETH@ETH")
	// 100 * 33 / 10000 = 0.33 exactly -> no rounding needed here, but
	// confirm asset/amount wiring.
	if r.CommissionAsset != "USDC@ETH" {
		t.Errorf("commission asset = %s, want send asset (PERCENT_BPS resolved rule)", r.CommissionAsset)
	}
	if r.CommissionAmount.String() != "0.33" {
		t.Errorf("commission amount = %s, want 0.33", r.CommissionAmount.String())
	}
}

func TestFixedUSDNativeUsesFrozenAmount(t *testing.T) {
	frozen := money.MustParse("0.05", 18)
	req := store.CommissionReq{Kind: store.CommissionFixedUSDNative, NativeFixed: &frozen, Currency: "NATIVE"}
	send := store.AssetSpec{AssetCode: "USDC@ETH", Amount: money.MustParse("100", 6)}
	r := Required(req, send, "ETH@ETH")
	if r.CommissionAsset != "ETH@ETH" {
		t.Errorf("commission asset = %s, want native asset", r.CommissionAsset)
	}
	if r.CommissionAmount.String() != "0.05" {
		t.Errorf("commission amount = %s, want frozen 0.05", r.CommissionAmount.String())
	}
}

func TestReconcileSurplusScenario(t *testing.T) {
	// Scenario 3 from spec §8: A deposits 105 USDC, commission is
	// percent-bps 30 (0.3 USDC), expect surplus 4.7 USDC after
	// reserving send(100) + commission(0.3).
	req := store.CommissionReq{Kind: store.CommissionPercentBPS, PercentBPS: 30, Currency: "ASSET", CoveredBySurplus: true}
	send := store.AssetSpec{AssetCode: "USDC@ETH", Amount: money.MustParse("100", 6)}
	r := Required(req, send, "ETH@ETH")
	if r.CommissionAmount.String() != "0.3" {
		t.Fatalf("commission amount = %s, want 0.3", r.CommissionAmount.String())
	}

	collected := map[string]money.Amount{"USDC@ETH": money.MustParse("105", 6)}
	rec := Reconcile(r, collected)
	if !rec.FullyFunded {
		t.Fatalf("expected fully funded, got deficits %v", rec.DeficitByAsset)
	}
	surplus, ok := rec.SurplusByAsset["USDC@ETH"]
	if !ok || surplus.String() != "4.7" {
		t.Errorf("surplus = %v, want 4.7", rec.SurplusByAsset)
	}

	residual := ResidualAfterReservation(collected, r)
	if residual["USDC@ETH"].String() != "4.7" {
		t.Errorf("residual = %v, want 4.7 USDC", residual)
	}
}

func TestReconcileDeficitWhenUnderfunded(t *testing.T) {
	req := store.CommissionReq{Kind: store.CommissionPercentBPS, PercentBPS: 30, Currency: "ASSET", CoveredBySurplus: true}
	send := store.AssetSpec{AssetCode: "USDC@ETH", Amount: money.MustParse("100", 6)}
	r := Required(req, send, "ETH@ETH")

	collected := map[string]money.Amount{"USDC@ETH": money.MustParse("100", 6)}
	rec := Reconcile(r, collected)
	if rec.FullyFunded {
		t.Fatal("expected not fully funded: commission of 0.3 not covered")
	}
	deficit, ok := rec.DeficitByAsset["USDC@ETH"]
	if !ok || deficit.String() != "0.3" {
		t.Errorf("deficit = %v, want 0.3", rec.DeficitByAsset)
	}
}

func TestReconcileCrossAssetCommissionNeverCoveredBySameAssetSurplus(t *testing.T) {
	// FIXED_USD_NATIVE commission on native asset while send asset is a
	// different asset (ERC-20-like token): surplus in send asset must
	// not spill over into covering the native commission obligation,
	// even if CoveredBySurplus is true, since spec §4.3 restricts
	// surplus coverage to commissions denominated in the same asset.
	frozen := money.MustParse("0.01", 18)
	req := store.CommissionReq{Kind: store.CommissionFixedUSDNative, NativeFixed: &frozen, Currency: "NATIVE", CoveredBySurplus: true}
	send := store.AssetSpec{AssetCode: "USDC@ETH", Amount: money.MustParse("100", 6)}
	r := Required(req, send, "ETH@ETH")

	collected := map[string]money.Amount{"USDC@ETH": money.MustParse("110", 6)}
	rec := Reconcile(r, collected)
	if rec.FullyFunded {
		t.Fatal("expected not fully funded: native commission unfunded despite USDC surplus")
	}
	if _, stillOwesNative := rec.DeficitByAsset["ETH@ETH"]; !stillOwesNative {
		t.Error("expected deficit entry for native asset")
	}
	if surplus := rec.SurplusByAsset["USDC@ETH"]; surplus.String() != "10" {
		t.Errorf("USDC surplus = %s, want 10 (full 10 surplus, none consumed by native commission)", surplus.String())
	}
}
