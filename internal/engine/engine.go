// Package engine is the tick loop (C8) that ties internal/depositwatch,
// internal/dealfsm, and internal/txqueue together into one periodic
// cycle: scan deposits, advance every non-terminal deal's state
// machine, then step the outbound transfer queue. It is built the way
// internal/sync/ordersync.go's background goroutine runs on its own
// ctx/cancel pair with a clean Start/Stop, generalized from a single
// global loop to a bounded-concurrency per-deal dispatch per spec.md
// §9's design note ("Cross-cutting tick... prefer per-deal workers").
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/klingon-exchange/otc-broker/internal/dealfsm"
	"github.com/klingon-exchange/otc-broker/internal/depositwatch"
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/internal/txqueue"
	"github.com/klingon-exchange/otc-broker/pkg/logging"
)

// DefaultTickInterval is how often Engine runs one cycle when Config
// doesn't override it.
const DefaultTickInterval = 5 * time.Second

// DefaultMaxConcurrentDeals bounds how many deals Advance concurrently
// within a single tick, so one chain's slow plugin call cannot stall
// every other deal's progress.
const DefaultMaxConcurrentDeals = 8

// Config configures an Engine.
type Config struct {
	Store        *store.Store
	DealFSM      *dealfsm.Engine
	DepositWatch *depositwatch.Watcher
	TxQueue      *txqueue.Worker

	TickInterval       time.Duration
	MaxConcurrentDeals int

	// OnDealChanged, if set, is called after every Advance of a deal
	// (one tick may call it many times, once per non-terminal deal).
	// internal/rpcserver wires this to its WebSocket hub so an
	// otc.status subscriber sees a push the moment a deposit or queue
	// step moves the deal, instead of only on its own RPC calls.
	OnDealChanged func(dealID string)

	Log *logging.Logger
}

// Engine runs the periodic tick cycle.
type Engine struct {
	store        *store.Store
	dealFSM      *dealfsm.Engine
	depositWatch *depositwatch.Watcher
	txQueue      *txqueue.Worker
	log          *logging.Logger

	tickInterval  time.Duration
	maxConcurrent int
	onDealChanged func(dealID string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Engine.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = logging.GetDefault()
	}
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	maxConcurrent := cfg.MaxConcurrentDeals
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentDeals
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:         cfg.Store,
		dealFSM:       cfg.DealFSM,
		depositWatch:  cfg.DepositWatch,
		txQueue:       cfg.TxQueue,
		log:           log.Component("engine"),
		tickInterval:  tickInterval,
		maxConcurrent: maxConcurrent,
		onDealChanged: cfg.OnDealChanged,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the background tick loop.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
	e.log.Infof("tick loop started, interval=%s", e.tickInterval)
}

// Stop cancels the tick loop and waits for the in-flight tick to
// finish.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.log.Info("tick loop stopped")
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.Tick(time.Now().UnixMilli())
		}
	}
}

// Tick runs one full cycle: deposit scan, per-deal FSM advance, queue
// step. Exported so tests and a one-shot CLI command can drive it
// directly without waiting on the ticker.
func (e *Engine) Tick(nowMS int64) {
	if err := e.depositWatch.Step(e.ctx, nowMS); err != nil {
		e.log.Warnf("deposit scan step failed: %v", err)
	}

	e.advanceDeals(nowMS)

	if err := e.txQueue.Step(e.ctx, nowMS); err != nil {
		e.log.Warnf("queue step failed: %v", err)
	}
}

func (e *Engine) advanceDeals(nowMS int64) {
	deals, err := e.store.ListNonTerminalDeals()
	if err != nil {
		e.log.Warnf("failed to list non-terminal deals: %v", err)
		return
	}

	sem := make(chan struct{}, e.maxConcurrent)
	var wg sync.WaitGroup
	for _, d := range deals {
		d := d
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := e.dealFSM.Advance(d.ID, nowMS); err != nil {
				e.log.Warnf("advance failed for deal %s: %v", d.ID, err)
			}
			if e.onDealChanged != nil {
				e.onDealChanged(d.ID)
			}
		}()
	}
	wg.Wait()
}
