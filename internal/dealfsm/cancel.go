package dealfsm

import (
	"github.com/klingon-exchange/otc-broker/internal/apierr"
	"github.com/klingon-exchange/otc-broker/internal/store"
)

// CancelDeal moves a deal CREATED -> REVERTED. It is rejected outside
// CREATED (spec §5: cancel succeeds only by moving CREATED ->
// REVERTED) and, redundantly but defensively, if any deposit has
// already been observed on either side.
func (e *Engine) CancelDeal(dealID, token string, nowMS int64) error {
	return e.withLease(dealID, func() error {
		return e.cancelDealLocked(dealID, token, nowMS)
	})
}

func (e *Engine) cancelDealLocked(dealID, token string, nowMS int64) error {
	tok, err := e.store.GetToken(token)
	if err != nil {
		return apierr.Invariant(err, "failed to look up token")
	}
	if tok == nil || tok.DealID != dealID {
		return apierr.Authorization("token does not authorize this deal")
	}

	d, err := e.store.GetDeal(dealID)
	if err != nil {
		return apierr.Invariant(err, "failed to load deal")
	}
	if d == nil {
		return apierr.Validation("no such deal %q", dealID)
	}
	if d.Stage != store.StageCreated {
		return apierr.Precondition("deal %q can only be cancelled from CREATED, currently %s", dealID, d.Stage)
	}
	if len(d.CollectionA.Deposits) > 0 || len(d.CollectionB.Deposits) > 0 {
		return apierr.Precondition("Cannot cancel deal — assets have already been locked")
	}

	d.Stage = store.StageReverted
	d.AppendEvent(nowMS, "deal cancelled")
	if err := e.store.SaveDeal(d, nowMS); err != nil {
		return apierr.Invariant(err, "failed to persist cancellation")
	}
	return nil
}
