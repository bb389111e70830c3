// Package oracle is the store-backed price oracle: the latest row per
// (chainId, pair) in internal/store's oracle_quotes table is
// authoritative (spec §3.1). It is the audit trail for quotes a chain
// plugin pins when freezing a FIXED_USD_NATIVE commission, and the
// target of the admin.setPrice RPC that lets an operator record a
// manual override when a plugin's own feed is unavailable or
// disputed. It is built the way other_examples'
// gurufinglobal-guru oracle submitter commits a single authoritative
// result per request id, generalized from one blockchain submission
// per job to one durable row per (chainId, pair).
package oracle

import (
	"github.com/klingon-exchange/otc-broker/internal/apierr"
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/pkg/logging"
)

// Source reads and records oracle quotes.
type Source struct {
	store *store.Store
	log   *logging.Logger
}

// New builds a Source.
func New(s *store.Store, log *logging.Logger) *Source {
	if log == nil {
		log = logging.GetDefault()
	}
	return &Source{store: s, log: log.Component("oracle")}
}

// Latest returns the most recent quote for (chainId, pair), or nil if
// none has ever been recorded.
func (o *Source) Latest(chainID, pair string) (*store.OracleQuote, error) {
	q, err := o.store.LatestQuote(chainID, pair)
	if err != nil {
		return nil, apierr.Invariant(err, "failed to load latest quote for %s/%s", chainID, pair)
	}
	return q, nil
}

// SetManualPrice records an operator-supplied price as the newest
// quote for (chainId, pair) -- the admin.setPrice surface. It does not
// validate the price against any live feed; it is an override of last
// resort and every manual quote is retained, not just the latest, so
// the history remains auditable.
func (o *Source) SetManualPrice(chainID, pair, price string, nowMS int64) error {
	if chainID == "" || pair == "" {
		return apierr.Validation("chainId and pair are required")
	}
	if price == "" {
		return apierr.Validation("price is required")
	}
	q := store.OracleQuote{
		ChainID: chainID,
		Pair:    pair,
		Price:   price,
		AsOfMS:  nowMS,
		Source:  store.QuoteSourceManual,
	}
	if err := o.store.RecordQuote(q); err != nil {
		return apierr.Invariant(err, "failed to record manual quote for %s/%s", chainID, pair)
	}
	o.log.Infof("manual price set for %s/%s: %s", chainID, pair, price)
	return nil
}

// RecordPluginQuote persists a quote a chain plugin pinned while
// freezing a FIXED_USD_NATIVE commission, so the audit trail in
// oracle_quotes covers plugin-sourced prices as well as manual ones.
// A failure here is logged and swallowed: the commission freeze it
// backs has already happened and must not be undone by an audit-log
// write failing.
func (o *Source) RecordPluginQuote(chainID, pair, price string, asOfMS int64) {
	if chainID == "" || pair == "" {
		return
	}
	q := store.OracleQuote{
		ChainID: chainID,
		Pair:    pair,
		Price:   price,
		AsOfMS:  asOfMS,
		Source:  store.QuoteSourcePlugin,
	}
	if err := o.store.RecordQuote(q); err != nil {
		o.log.Warnf("failed to record plugin quote for %s/%s: %v", chainID, pair, err)
	}
}
