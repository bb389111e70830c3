package dealfsm

import (
	"context"

	"github.com/klingon-exchange/otc-broker/internal/apierr"
	"github.com/klingon-exchange/otc-broker/internal/store"
)

// FillPartyDetailsParams mirrors otc.fillPartyDetails's params.
type FillPartyDetailsParams struct {
	DealID           string
	Party            store.Party
	PaybackAddress   string
	RecipientAddress string
	Email            string
	Token            string
}

// FillPartyDetails validates the token, locks in the party's
// addresses, and generates an escrow account once it can. If this
// call completes both sides' details, the deal transitions CREATED ->
// COLLECTION in the same call (spec §4.4).
func (e *Engine) FillPartyDetails(ctx context.Context, p FillPartyDetailsParams, nowMS int64) error {
	return e.withLease(p.DealID, func() error {
		return e.fillPartyDetailsLocked(ctx, p, nowMS)
	})
}

func (e *Engine) fillPartyDetailsLocked(ctx context.Context, p FillPartyDetailsParams, nowMS int64) error {
	tok, err := e.store.GetToken(p.Token)
	if err != nil {
		return apierr.Invariant(err, "failed to look up token")
	}
	if tok == nil {
		return apierr.Authorization("unknown token")
	}
	if tok.DealID != p.DealID || tok.Party != p.Party {
		return apierr.Authorization("token does not authorize this deal/party")
	}
	if tok.Used() {
		return apierr.Authorization("token has already been used")
	}

	d, err := e.store.GetDeal(p.DealID)
	if err != nil {
		return apierr.Invariant(err, "failed to load deal")
	}
	if d == nil {
		return apierr.Validation("no such deal %q", p.DealID)
	}
	if d.Stage != store.StageCreated {
		return apierr.Precondition("deal %q is not accepting party details (stage %s)", d.ID, d.Stage)
	}
	if existing := d.PartyDetailsFor(p.Party); existing != nil && existing.Locked {
		return apierr.Precondition("party details for side %s are already locked", p.Party)
	}

	side := d.SideSpec(p.Party)
	plugin, ok := e.plugins.Get(side.ChainID)
	if !ok {
		return apierr.Invariant(nil, "no plugin registered for chain %q", side.ChainID)
	}
	if ok, err := plugin.ValidateAddress(ctx, p.PaybackAddress); err != nil {
		return apierr.Transient(err, "validating payback address")
	} else if !ok {
		return apierr.Validation("invalid payback address for chain %q", side.ChainID)
	}
	if ok, err := plugin.ValidateAddress(ctx, p.RecipientAddress); err != nil {
		return apierr.Transient(err, "validating recipient address")
	} else if !ok {
		return apierr.Validation("invalid recipient address for chain %q", side.ChainID)
	}

	details := &store.PartyDetails{
		PaybackAddress:   p.PaybackAddress,
		RecipientAddress: p.RecipientAddress,
		Email:            p.Email,
		FilledAtMS:       nowMS,
		Locked:           true,
	}
	if p.Party == store.PartyA {
		d.PartyDetailsA = details
	} else {
		d.PartyDetailsB = details
	}
	d.AppendEvent(nowMS, "party "+string(p.Party)+" details filled")

	escrow, err := plugin.GenerateEscrowAccount(ctx, side.AssetCode)
	if err != nil {
		return apierr.Transient(err, "generating escrow account")
	}
	storeEscrow := &store.Escrow{Address: escrow.Address, KeyRef: escrow.KeyRef}
	if p.Party == store.PartyA {
		d.EscrowA = storeEscrow
	} else {
		d.EscrowB = storeEscrow
	}

	if d.PartyDetailsA != nil && d.PartyDetailsA.Locked && d.PartyDetailsB != nil && d.PartyDetailsB.Locked {
		if err := e.enterCollection(ctx, d, nowMS); err != nil {
			return err
		}
	}

	ok, err := e.store.ConsumeTokenAndSaveDeal(p.Token, nowMS, d, nowMS)
	if err != nil {
		return apierr.Invariant(err, "failed to persist party details")
	}
	if !ok {
		// Lost a race against a concurrent use of the same token; the
		// deal write above must not be observed. Since ConsumeTokenAndSaveDeal
		// runs both in one transaction, this branch means no write
		// happened at all.
		return apierr.Authorization("token has already been used")
	}
	return nil
}

// enterCollection freezes commission plans and sets expiresAt, the
// CREATED->COLLECTION side effects from spec §4.4's transition table.
func (e *Engine) enterCollection(ctx context.Context, d *store.Deal, nowMS int64) error {
	d.Stage = store.StageCollection
	d.ExpiresAtMS = nowMS + int64(d.TimeoutSeconds)*1000

	if d.CommissionPlan != nil {
		if err := e.freezeFixedCommission(ctx, d, store.PartyA, &d.CommissionPlan.SideA); err != nil {
			return err
		}
		if err := e.freezeFixedCommission(ctx, d, store.PartyB, &d.CommissionPlan.SideB); err != nil {
			return err
		}
	}
	d.AppendEvent(nowMS, "entered COLLECTION")
	return nil
}

func (e *Engine) freezeFixedCommission(ctx context.Context, d *store.Deal, party store.Party, req *store.CommissionReq) error {
	if req.Kind != store.CommissionFixedUSDNative || req.NativeFixed != nil {
		return nil
	}
	side := d.SideSpec(party)
	plugin, ok := e.plugins.Get(side.ChainID)
	if !ok {
		return apierr.Invariant(nil, "no plugin registered for chain %q", side.ChainID)
	}
	quote, err := plugin.QuoteNativeForUSD(ctx, req.USDFixed)
	if err != nil {
		return apierr.Transient(err, "freezing fixed-USD-native commission")
	}
	native := quote.NativeAmount
	req.NativeFixed = &native
	req.OracleQuotePrice = quote.QuotePrice
	req.OracleQuoteAsOf = quote.QuoteAsOfMS

	if e.oracle != nil {
		pair := "NATIVE/USD"
		if nativeAsset, ok := e.assets.NativeAsset(side.ChainID); ok {
			pair = nativeAsset.Symbol + "/USD"
		}
		e.oracle.RecordPluginQuote(side.ChainID, pair, quote.QuotePrice, quote.QuoteAsOfMS)
	}
	return nil
}
