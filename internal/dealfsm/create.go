package dealfsm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/klingon-exchange/otc-broker/internal/apierr"
	"github.com/klingon-exchange/otc-broker/internal/store"
)

// CreateDealParams mirrors otc.createDeal's params (spec §6.1).
type CreateDealParams struct {
	SideA          store.AssetSpec
	SideB          store.AssetSpec
	TimeoutSeconds int
	// CommissionA/B let the caller (RPC surface, or a default policy
	// in config) specify each side's commission plan at creation time;
	// the spec leaves the exact source unspecified, so CreateDeal
	// accepts it directly rather than inventing a hidden default here.
	CommissionA store.CommissionReq
	CommissionB store.CommissionReq
}

// CreateDealResult is what the RPC handler turns into {dealId, linkA,
// linkB}; token generation lives here since tokens are created
// atomically with the deal.
type CreateDealResult struct {
	Deal   *store.Deal
	TokenA string
	TokenB string
}

// CreateDeal validates the two AssetSpecs against the asset registry
// and persists a new CREATED-stage deal plus one single-use token per
// side.
func (e *Engine) CreateDeal(p CreateDealParams, nowMS int64) (*CreateDealResult, error) {
	if p.TimeoutSeconds < 300 {
		return nil, apierr.Validation("timeoutSeconds must be >= 300, got %d", p.TimeoutSeconds)
	}
	if err := e.validateSide(p.SideA); err != nil {
		return nil, err
	}
	if err := e.validateSide(p.SideB); err != nil {
		return nil, err
	}

	d := &store.Deal{
		ID:             uuid.NewString(),
		Stage:          store.StageCreated,
		TimeoutSeconds: p.TimeoutSeconds,
		CreatedAtMS:    nowMS,
		SideA:          p.SideA,
		SideB:          p.SideB,
		CommissionPlan: &store.CommissionPlan{SideA: p.CommissionA, SideB: p.CommissionB},
	}
	d.AppendEvent(nowMS, "deal created")

	if err := e.store.CreateDeal(d, nowMS); err != nil {
		return nil, apierr.Invariant(err, "failed to persist new deal")
	}

	tokenA, err := e.issueToken(d.ID, store.PartyA, nowMS)
	if err != nil {
		return nil, apierr.Invariant(err, "failed to issue token for side A")
	}
	tokenB, err := e.issueToken(d.ID, store.PartyB, nowMS)
	if err != nil {
		return nil, apierr.Invariant(err, "failed to issue token for side B")
	}

	return &CreateDealResult{Deal: d, TokenA: tokenA, TokenB: tokenB}, nil
}

func (e *Engine) validateSide(side store.AssetSpec) error {
	if side.ChainID == "" {
		return apierr.Validation("chainId is required")
	}
	if !e.assets.IsSupported(side.AssetCode) {
		return apierr.Validation("unsupported asset %q", side.AssetCode)
	}
	if side.Amount.Sign() <= 0 {
		return apierr.Validation("amount for %q must be positive", side.AssetCode)
	}
	if _, ok := e.plugins.Get(side.ChainID); !ok {
		return apierr.Validation("unsupported chain %q", side.ChainID)
	}
	return nil
}

func (e *Engine) issueToken(dealID string, party store.Party, nowMS int64) (string, error) {
	buf := make([]byte, 16) // 128-bit secret, per spec §3.1 Token
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := e.store.CreateToken(store.Token{Token: token, DealID: dealID, Party: party, CreatedAtMS: nowMS}); err != nil {
		return "", err
	}
	return token, nil
}
