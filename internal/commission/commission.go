// Package commission computes each side's required commission and
// reconciles it against collected deposits (spec §4.3). It is pure
// and deterministic, the same discipline internal/config.go's
// CalculateFee/CalculateDAOShare/CalculateNodeOperatorShare apply to
// basis-point math, generalized from a fixed maker/taker bps pair to
// the CommissionReq tagged variant this broker persists per side.
package commission

import (
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// Requirement is what a side owes, broken down by asset.
type Requirement struct {
	// SendAsset/SendAmount is the nominal trade obligation (sideX.asset,
	// sideX.amount).
	SendAsset  string
	SendAmount money.Amount

	// CommissionAsset/CommissionAmount is what the commission costs,
	// which may or may not be the same asset as SendAsset.
	CommissionAsset  string
	CommissionAmount money.Amount

	// CoveredBySurplus mirrors CommissionReq.CoveredBySurplus.
	CoveredBySurplus bool
}

// Required computes the Requirement for one side given its frozen
// CommissionReq, send spec, and the chain's native asset code (needed
// to resolve FIXED_USD_NATIVE, which always settles in native asset).
//
// Per the open question in spec §9 ("commission for PERCENT_BPS in a
// non-send currency"), this package's resolved rule is: PERCENT_BPS
// commission is always computed in the side's send asset. See
// DESIGN.md for the full rationale.
func Required(req store.CommissionReq, send store.AssetSpec, nativeAssetCode string) Requirement {
	switch req.Kind {
	case store.CommissionPercentBPS:
		return Requirement{
			SendAsset:        send.AssetCode,
			SendAmount:       send.Amount,
			CommissionAsset:  send.AssetCode,
			CommissionAmount: send.Amount.MulBPS(req.PercentBPS),
			CoveredBySurplus: req.CoveredBySurplus,
		}
	case store.CommissionFixedUSDNative:
		var amt money.Amount
		if req.NativeFixed != nil {
			amt = *req.NativeFixed
		}
		return Requirement{
			SendAsset:        send.AssetCode,
			SendAmount:       send.Amount,
			CommissionAsset:  nativeAssetCode,
			CommissionAmount: amt,
			CoveredBySurplus: req.CoveredBySurplus,
		}
	default:
		return Requirement{SendAsset: send.AssetCode, SendAmount: send.Amount}
	}
}

// Reconciliation is the per-asset outcome of comparing what was
// collected against what is required.
type Reconciliation struct {
	// FullyFunded reports whether every asset the side owes has
	// collected >= required.
	FullyFunded bool

	// SurplusByAsset holds the positive (collected - required) per
	// asset; zero/negative entries are omitted.
	SurplusByAsset map[string]money.Amount

	// DeficitByAsset holds the positive (required - collected) per
	// asset still outstanding; zero/negative entries are omitted.
	DeficitByAsset map[string]money.Amount
}

// Reconcile compares collectedByAsset against a Requirement.
//
// When CoveredBySurplus is true and the commission is denominated in
// the send asset, surplus on the send asset may cover the commission:
// the two obligations are summed before comparing against the single
// collected total for that asset. When the commission asset differs
// from the send asset, it is funded (or not) entirely independently,
// regardless of CoveredBySurplus -- per spec §4.3, cross-asset surplus
// coverage is never allowed.
func Reconcile(req Requirement, collectedByAsset map[string]money.Amount) Reconciliation {
	rec := Reconciliation{
		FullyFunded:    true,
		SurplusByAsset: make(map[string]money.Amount),
		DeficitByAsset: make(map[string]money.Amount),
	}

	owed := map[string]money.Amount{req.SendAsset: req.SendAmount}
	if req.CommissionAsset == req.SendAsset {
		owed[req.SendAsset] = owed[req.SendAsset].Add(req.CommissionAmount)
	} else {
		// Different asset: its own independent obligation, never
		// merged with the send-asset entry above (spec §4.3: cross-
		// asset surplus coverage is never allowed).
		owed[req.CommissionAsset] = req.CommissionAmount
	}

	for asset, need := range owed {
		have, ok := collectedByAsset[asset]
		if !ok {
			have = money.Zero(need.Decimals())
		}
		if have.GreaterThanOrEqual(need) {
			if surplus := have.Sub(need); !surplus.IsZero() {
				rec.SurplusByAsset[asset] = surplus
			}
		} else {
			rec.FullyFunded = false
			rec.DeficitByAsset[asset] = need.Sub(have)
		}
	}

	return rec
}

// ResidualAfterReservation computes the residual balance per asset
// after reserving SWAP_PAYOUT and OP_COMMISSION amounts, the basis for
// SURPLUS_REFUND on WAITING entry (spec §4.4.1 step 3): "computed
// after (1) and (2) are reserved".
func ResidualAfterReservation(collectedByAsset map[string]money.Amount, req Requirement) map[string]money.Amount {
	residual := make(map[string]money.Amount, len(collectedByAsset))
	for asset, amt := range collectedByAsset {
		residual[asset] = amt
	}

	reserve := func(asset string, amt money.Amount) {
		if amt.IsZero() {
			return
		}
		have, ok := residual[asset]
		if !ok {
			have = money.Zero(amt.Decimals())
		}
		residual[asset] = have.Sub(amt)
	}

	reserve(req.SendAsset, req.SendAmount)
	reserve(req.CommissionAsset, req.CommissionAmount)

	out := make(map[string]money.Amount, len(residual))
	for asset, amt := range residual {
		if amt.Sign() > 0 {
			out[asset] = amt
		}
	}
	return out
}
