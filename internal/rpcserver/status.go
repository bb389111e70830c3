package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/otc-broker/internal/apierr"
	"github.com/klingon-exchange/otc-broker/internal/store"
)

type statusRequest struct {
	DealID string `json:"dealId"`
}

// statusResponse mirrors otc.status's result (spec §6.1).
type statusResponse struct {
	Stage          store.Stage              `json:"stage"`
	TimeoutSeconds int                       `json:"timeoutSeconds"`
	ExpiresAtMS    int64                     `json:"expiresAt,omitempty"`
	Instructions   sideInstructions          `json:"instructions"`
	Collection     sideCollection            `json:"collection"`
	Events         []store.Event             `json:"events"`
	PartyDetailsA  *store.PartyDetails       `json:"partyDetailsA,omitempty"`
	PartyDetailsB  *store.PartyDetails       `json:"partyDetailsB,omitempty"`
	EscrowA        *store.Escrow             `json:"escrowA,omitempty"`
	EscrowB        *store.Escrow             `json:"escrowB,omitempty"`
	Transactions   []transactionView         `json:"transactions"`
}

type sideInstructions struct {
	SideA []string `json:"sideA"`
	SideB []string `json:"sideB"`
}

type sideCollection struct {
	SideA map[string]string `json:"sideA"`
	SideB map[string]string `json:"sideB"`
}

type transactionView struct {
	ID               string `json:"id"`
	Purpose          string `json:"purpose"`
	Asset            string `json:"asset"`
	Amount           string `json:"amount"`
	To               string `json:"to"`
	Status           string `json:"status"`
	TxID             string `json:"txid,omitempty"`
	TxStatus         string `json:"txStatus,omitempty"`
	Confirms         int    `json:"confirms,omitempty"`
	RequiredConfirms int    `json:"requiredConfirms,omitempty"`
	Attempts         int    `json:"attempts"`
	LastError        string `json:"lastError,omitempty"`
}

func (s *Server) handleStatus(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var req statusRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, apierr.Validation("invalid params: %v", err)
	}

	d, err := s.store.GetDeal(req.DealID)
	if err != nil {
		return nil, apierr.Invariant(err, "failed to load deal %q", req.DealID)
	}
	if d == nil {
		return nil, apierr.Validation("no such deal %q", req.DealID)
	}

	items, err := s.store.ListQueueItemsForDeal(req.DealID)
	if err != nil {
		return nil, apierr.Invariant(err, "failed to load queue items for deal %q", req.DealID)
	}

	return statusResponse{
		Stage:          d.Stage,
		TimeoutSeconds: d.TimeoutSeconds,
		ExpiresAtMS:    d.ExpiresAtMS,
		Instructions: sideInstructions{
			SideA: buildInstructions(d, store.PartyA),
			SideB: buildInstructions(d, store.PartyB),
		},
		Collection: sideCollection{
			SideA: collectedByAssetStrings(d.CollectionFor(store.PartyA)),
			SideB: collectedByAssetStrings(d.CollectionFor(store.PartyB)),
		},
		Events:        d.Events,
		PartyDetailsA: d.PartyDetailsA,
		PartyDetailsB: d.PartyDetailsB,
		EscrowA:       d.EscrowA,
		EscrowB:       d.EscrowB,
		Transactions:  transactionViews(items),
	}, nil
}

func collectedByAssetStrings(c *store.Collection) map[string]string {
	out := make(map[string]string, len(c.CollectedByAsset))
	for asset, amt := range c.CollectedByAsset {
		out[asset] = amt.String()
	}
	return out
}

func transactionViews(items []*store.QueueItem) []transactionView {
	out := make([]transactionView, 0, len(items))
	for _, it := range items {
		out = append(out, transactionView{
			ID:               it.ID,
			Purpose:          string(it.Purpose),
			Asset:            it.Asset,
			Amount:           it.Amount.String(),
			To:               it.To,
			Status:           string(it.Status),
			TxID:             it.SubmittedTx.TxID,
			TxStatus:         string(it.SubmittedTx.Status),
			Confirms:         it.SubmittedTx.Confirms,
			RequiredConfirms: it.SubmittedTx.RequiredConfirms,
			Attempts:         it.Attempts,
			LastError:        it.LastError,
		})
	}
	return out
}

// buildInstructions renders a party's outstanding action (or lack of
// one) in plain language, since the RPC caller has no other way to
// learn "fill your details" vs. "send funds to this escrow address"
// vs. "nothing left to do" from the raw Deal document alone.
func buildInstructions(d *store.Deal, party store.Party) []string {
	details := d.PartyDetailsFor(party)
	escrow := d.EscrowFor(party)
	spec := d.SideSpec(party)

	switch d.Stage {
	case store.StageCreated:
		if details == nil {
			return []string{"submit paybackAddress/recipientAddress/token via otc.fillPartyDetails"}
		}
		return []string{"waiting for the counterparty to submit their details"}

	case store.StageCollection, store.StageWaiting:
		if escrow == nil {
			return []string{"waiting for escrow account generation"}
		}
		return []string{fmt.Sprintf("send %s %s to %s", spec.Amount.String(), spec.AssetCode, escrow.Address)}

	case store.StageClosed:
		return []string{"deal closed; funds sent to recipientAddress"}

	case store.StageReverted:
		return []string{"deal reverted; any deposits are refunded to paybackAddress"}

	default:
		return nil
	}
}
