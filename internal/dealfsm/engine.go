// Package dealfsm is the Deal State Machine (C6): it drives stage
// transitions and owns the authoritative deal record. Concurrency
// follows spec §9's design note -- rather than a single cross-cutting
// tick like internal/swap's Coordinator.CheckTimeouts (which walks
// c.swaps under one global RWMutex), each deal advances behind its own
// lease, generalizing the per-(trade) locking internal/swap/coordinator.go
// hints at into an explicit per-dealId mutex table.
package dealfsm

import (
	"fmt"
	"sync"

	"github.com/klingon-exchange/otc-broker/internal/assetreg"
	"github.com/klingon-exchange/otc-broker/internal/chainplugin"
	"github.com/klingon-exchange/otc-broker/internal/commission"
	"github.com/klingon-exchange/otc-broker/internal/oracle"
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/pkg/logging"
)

// Engine owns deal transitions. One Engine is shared by the RPC
// surface (for createDeal/fillPartyDetails/cancelDeal) and the tick
// loop (for Advance).
type Engine struct {
	store   *store.Store
	assets  *assetreg.Registry
	plugins *chainplugin.Registry
	oracle  *oracle.Source
	log     *logging.Logger

	// operatorAddr maps chainId -> the broker's operator payout
	// address for OP_COMMISSION items (spec §6.3 OPERATOR_ADDRESS).
	operatorAddr map[string]string

	leases   sync.Map // dealId -> *sync.Mutex
	leasesMu sync.Mutex
}

// Config configures a new Engine.
type Config struct {
	Store        *store.Store
	Assets       *assetreg.Registry
	Plugins      *chainplugin.Registry
	Oracle       *oracle.Source
	OperatorAddr map[string]string
	Log          *logging.Logger
}

// New builds an Engine.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = logging.GetDefault()
	}
	return &Engine{
		store:        cfg.Store,
		assets:       cfg.Assets,
		plugins:      cfg.Plugins,
		oracle:       cfg.Oracle,
		operatorAddr: cfg.OperatorAddr,
		log:          log.Component("dealfsm"),
	}
}

// leaseFor returns the mutex for a dealId, creating it on first use.
func (e *Engine) leaseFor(dealID string) *sync.Mutex {
	if l, ok := e.leases.Load(dealID); ok {
		return l.(*sync.Mutex)
	}
	e.leasesMu.Lock()
	defer e.leasesMu.Unlock()
	if l, ok := e.leases.Load(dealID); ok {
		return l.(*sync.Mutex)
	}
	l := &sync.Mutex{}
	e.leases.Store(dealID, l)
	return l
}

// withLease serializes all mutation of a single deal record behind
// its lease, the re-entrant-safety requirement of spec §4.6.
func (e *Engine) withLease(dealID string, fn func() error) error {
	lease := e.leaseFor(dealID)
	lease.Lock()
	defer lease.Unlock()
	return fn()
}

func (e *Engine) commissionRequirement(d *store.Deal, party store.Party) commission.Requirement {
	var req store.CommissionReq
	if d.CommissionPlan != nil {
		if party == store.PartyA {
			req = d.CommissionPlan.SideA
		} else {
			req = d.CommissionPlan.SideB
		}
	}
	send := d.SideSpec(party)
	native, _ := e.assets.NativeAsset(send.ChainID)
	return commission.Required(req, send, native.Code())
}

func dropCursorForEscrow(eng *Engine, chainID, address string) {
	if address == "" {
		return
	}
	if err := eng.store.DropCursor(chainID, address); err != nil {
		eng.log.Warnf("failed to drop cursor for %s/%s: %v", chainID, address, err)
	}
}

var errNoSuchDeal = fmt.Errorf("dealfsm: no such deal")
