// Package rpcserver provides the JSON-RPC 2.0 HTTP surface (spec
// §6.1) and a companion WebSocket push feed. It is built the way
// internal/rpc/server.go dispatches by method-name lookup table over
// a single POST endpoint, generalized from the teacher's node/wallet/
// swap handler set down to the five methods this broker exposes.
package rpcserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klingon-exchange/otc-broker/internal/apierr"
	"github.com/klingon-exchange/otc-broker/internal/assetreg"
	"github.com/klingon-exchange/otc-broker/internal/dealfsm"
	"github.com/klingon-exchange/otc-broker/internal/oracle"
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/pkg/logging"
)

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope; Result xor Error is set.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC 2.0 transport-level error codes. Every broker
// domain error (apierr.Error of any Kind) maps to apierr.RPCCode
// instead -- spec §6.1 specifies one code for all broker errors and
// relies on the message for detail.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
)

// Config wires a Server to the broker's core components.
type Config struct {
	DealFSM *dealfsm.Engine
	Store   *store.Store
	Oracle  *oracle.Source
	Assets  *assetreg.Registry

	// BaseURL prefixes the per-party links returned by otc.createDeal
	// (spec §6.1's linkA/linkB).
	BaseURL string

	Log *logging.Logger
}

// Server is the JSON-RPC 2.0 + WebSocket HTTP server.
type Server struct {
	fsm     *dealfsm.Engine
	store   *store.Store
	oracle  *oracle.Source
	assets  *assetreg.Registry
	baseURL string
	log     *logging.Logger

	wsHub *WSHub

	httpServer *http.Server
	listener   net.Listener

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New builds a Server and registers its method table.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logging.GetDefault()
	}
	s := &Server{
		fsm:      cfg.DealFSM,
		store:    cfg.Store,
		oracle:   cfg.Oracle,
		assets:   cfg.Assets,
		baseURL:  cfg.BaseURL,
		log:      log.Component("rpc"),
		wsHub:    NewWSHub(log),
		handlers: make(map[string]Handler),
	}
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.handlers["otc.createDeal"] = s.handleCreateDeal
	s.handlers["otc.fillPartyDetails"] = s.handleFillPartyDetails
	s.handlers["otc.status"] = s.handleStatus
	s.handlers["otc.cancelDeal"] = s.handleCancelDeal
	s.handlers["admin.setPrice"] = s.handleSetPrice
}

// BroadcastDealUpdated pushes a deal.updated event naming dealID; safe
// to call from engine.Config.OnDealChanged as well as from the RPC
// handlers below.
func (s *Server) BroadcastDealUpdated(dealID string) {
	s.wsHub.Broadcast(EventDealUpdated, map[string]string{"dealId": dealID})
}

// BroadcastQueueUpdated pushes a queue.updated event naming the item.
func (s *Server) BroadcastQueueUpdated(itemID string) {
	s.wsHub.Broadcast(EventQueueUpdated, map[string]string{"id": itemID})
}

// Start begins serving JSON-RPC on addr ("/"), WebSocket on "/ws".
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go s.wsHub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)

	s.httpServer = &http.Server{
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("rpc server error: %v", err)
		}
	}()

	s.log.Infof("rpc server listening on %s (ws at /ws)", addr)
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "parse error")
		return
	}
	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "invalid request")
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "method not found: "+req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.writeError(w, req.ID, apierr.RPCCode, err.Error())
		return
	}
	s.writeResult(w, req.ID, result)
}

func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", Error: &RPCError{Code: code, Message: message}, ID: id})
}

func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// nowMS is the single place the RPC surface reads the wall clock,
// the way internal/rpc's handlers read time.Now() at the request
// boundary rather than threading a clock through every call.
func nowMS() int64 { return time.Now().UnixMilli() }

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
