package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/otc-broker/internal/apierr"
	"github.com/klingon-exchange/otc-broker/internal/dealfsm"
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/pkg/money"
)

// assetSpecWire is the wire shape of an AssetSpec (spec §3.1: "amount
// (decimal string)"); decimals come from the asset registry rather
// than riding along on the wire.
type assetSpecWire struct {
	ChainID   string `json:"chainId"`
	AssetCode string `json:"assetCode"`
	Amount    string `json:"amount"`
}

func (s *Server) parseAssetSpec(w assetSpecWire) (store.AssetSpec, error) {
	if !s.assets.IsSupported(w.AssetCode) {
		return store.AssetSpec{}, apierr.Validation("unsupported asset %q", w.AssetCode)
	}
	amt, err := money.Parse(w.Amount, s.assets.Decimals(w.AssetCode))
	if err != nil {
		return store.AssetSpec{}, apierr.Validation("invalid amount %q: %v", w.Amount, err)
	}
	return store.AssetSpec{ChainID: w.ChainID, AssetCode: w.AssetCode, Amount: amt}, nil
}

type createDealRequest struct {
	SideA          assetSpecWire `json:"sideA"`
	SideB          assetSpecWire `json:"sideB"`
	TimeoutSeconds int           `json:"timeoutSeconds"`
	CommissionA    store.CommissionReq `json:"commissionA"`
	CommissionB    store.CommissionReq `json:"commissionB"`
}

type createDealResponse struct {
	DealID string `json:"dealId"`
	LinkA  string `json:"linkA"`
	LinkB  string `json:"linkB"`
}

func (s *Server) handleCreateDeal(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var req createDealRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, apierr.Validation("invalid params: %v", err)
	}

	sideA, err := s.parseAssetSpec(req.SideA)
	if err != nil {
		return nil, err
	}
	sideB, err := s.parseAssetSpec(req.SideB)
	if err != nil {
		return nil, err
	}

	res, err := s.fsm.CreateDeal(dealfsm.CreateDealParams{
		SideA:          sideA,
		SideB:          sideB,
		TimeoutSeconds: req.TimeoutSeconds,
		CommissionA:    req.CommissionA,
		CommissionB:    req.CommissionB,
	}, nowMS())
	if err != nil {
		return nil, err
	}

	s.BroadcastDealUpdated(res.Deal.ID)
	return createDealResponse{
		DealID: res.Deal.ID,
		LinkA:  s.partyLink(res.Deal.ID, store.PartyA, res.TokenA),
		LinkB:  s.partyLink(res.Deal.ID, store.PartyB, res.TokenB),
	}, nil
}

func (s *Server) partyLink(dealID string, party store.Party, token string) string {
	return fmt.Sprintf("%s/deal/%s?party=%s&token=%s", s.baseURL, dealID, party, token)
}

type fillPartyDetailsRequest struct {
	DealID           string      `json:"dealId"`
	Party            store.Party `json:"party"`
	PaybackAddress   string      `json:"paybackAddress"`
	RecipientAddress string      `json:"recipientAddress"`
	Email            string      `json:"email"`
	Token            string      `json:"token"`
}

func (s *Server) handleFillPartyDetails(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var req fillPartyDetailsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, apierr.Validation("invalid params: %v", err)
	}

	err := s.fsm.FillPartyDetails(ctx, dealfsm.FillPartyDetailsParams{
		DealID:           req.DealID,
		Party:            req.Party,
		PaybackAddress:   req.PaybackAddress,
		RecipientAddress: req.RecipientAddress,
		Email:            req.Email,
		Token:            req.Token,
	}, nowMS())
	if err != nil {
		return nil, err
	}

	s.BroadcastDealUpdated(req.DealID)
	return okResult{OK: true}, nil
}

type cancelDealRequest struct {
	DealID string `json:"dealId"`
	Token  string `json:"token"`
}

func (s *Server) handleCancelDeal(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var req cancelDealRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, apierr.Validation("invalid params: %v", err)
	}

	if err := s.fsm.CancelDeal(req.DealID, req.Token, nowMS()); err != nil {
		return nil, err
	}

	s.BroadcastDealUpdated(req.DealID)
	return okResult{OK: true}, nil
}

type okResult struct {
	OK bool `json:"ok"`
}

type setPriceRequest struct {
	ChainID string `json:"chainId"`
	Pair    string `json:"pair"`
	Price   string `json:"price"`
}

type setPriceResponse struct {
	OK    bool  `json:"ok"`
	AsOf  int64 `json:"asOf"`
}

func (s *Server) handleSetPrice(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if s.oracle == nil {
		return nil, apierr.Precondition("no oracle source configured")
	}
	var req setPriceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, apierr.Validation("invalid params: %v", err)
	}

	asOf := nowMS()
	if err := s.oracle.SetManualPrice(req.ChainID, req.Pair, req.Price, asOf); err != nil {
		return nil, err
	}
	return setPriceResponse{OK: true, AsOf: asOf}, nil
}
