package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/seinj0312/furu-limit-order-handler/pkg/core"
)

// Server exposes the protocol's public surfaces over HTTP: the registry's
// exists/key-derivation read interfaces agents discover orders through,
// submission endpoints for batches, fills and cancellations, and a
// WebSocket feed of committed lifecycle events.
type Server struct {
	app            *core.App
	router         *mux.Router
	hub            *Hub
	allowedOrigins []string
	log            *zap.SugaredLogger
}

func NewServer(app *core.App, allowedOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()

	s := &Server{
		app:            app,
		router:         mux.NewRouter(),
		hub:            NewHub(sugar),
		allowedOrigins: allowedOrigins,
		log:            sugar,
	}

	// Relay committed lifecycle events to subscribed agents, in wire
	// form so amounts survive JS number parsing.
	app.OnEvent(func(ev core.Event) {
		s.hub.BroadcastToChannel(ev.Type, eventJSON(ev))
	})

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Discovery (public read interfaces)
	api.HandleFunc("/orders/key", s.handleDeriveKey).Methods("POST")
	api.HandleFunc("/orders/{key}", s.handleExists).Methods("GET")

	// Accounts
	api.HandleFunc("/accounts/{address}/balances", s.handleBalances).Methods("GET")

	// Mutations
	api.HandleFunc("/batch", s.handleBatch).Methods("POST")
	api.HandleFunc("/orders/execute", s.handleExecute).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancel).Methods("POST")

	// Event feed
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the server; it blocks until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeriveKey(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !common.IsHexAddress(req.Maker) {
		writeError(w, http.StatusBadRequest, errors.New("invalid maker address"))
		return
	}
	params, err := req.Order.toParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	exists, key, err := s.app.ExistsOrder(params, common.HexToAddress(req.Maker))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, KeyResponse{Key: key.Hex(), Exists: exists})
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["key"]
	keyBytes, err := hexutil.Decode(raw)
	if err != nil || len(keyBytes) != common.HashLength {
		writeError(w, http.StatusBadRequest, errors.New("invalid commitment key"))
		return
	}
	key := common.BytesToHash(keyBytes)
	writeJSON(w, http.StatusOK, ExistsResponse{Key: key.Hex(), Exists: s.app.ExistsKey(key)})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, errors.New("invalid address"))
		return
	}
	addr := common.HexToAddress(raw)

	balances := make(map[string]string)
	for asset, bal := range s.app.BalancesOf(addr) {
		balances[asset.Hex()] = bal.String()
	}
	writeJSON(w, http.StatusOK, BalancesResponse{Address: addr.Hex(), Balances: balances})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !common.IsHexAddress(req.Maker) {
		writeError(w, http.StatusBadRequest, errors.New("invalid maker address"))
		return
	}
	steps, err := req.toSteps()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.app.RunBatch(common.HexToAddress(req.Maker), steps); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !common.IsHexAddress(req.Maker) || !common.IsHexAddress(req.Executor) {
		writeError(w, http.StatusBadRequest, errors.New("invalid maker or executor address"))
		return
	}
	params, err := req.Order.toParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid signature encoding"))
		return
	}
	routing, err := hexutil.Decode(req.Routing)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid routing encoding"))
		return
	}

	receipt, err := s.app.Execute(r.Context(), params,
		common.HexToAddress(req.Maker), common.HexToAddress(req.Executor), sig, routing)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, fillReceiptJSON(receipt))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !common.IsHexAddress(req.Maker) {
		writeError(w, http.StatusBadRequest, errors.New("invalid maker address"))
		return
	}
	params, err := req.Order.toParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid signature encoding"))
		return
	}

	asset, refund, err := s.app.Cancel(common.HexToAddress(req.Maker), params, sig)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Asset: asset.Hex(), Refund: refund.String()})
}

// statusFor maps the failure taxonomy onto HTTP statuses: caller errors
// are 4xx, transient market conditions 409, external faults 502.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrOrderExists):
		return http.StatusConflict
	case errors.Is(err, core.ErrUnauthorized), errors.Is(err, core.ErrInvalidSignature):
		return http.StatusForbidden
	case errors.Is(err, core.ErrInsufficientReturn):
		return http.StatusConflict
	case errors.Is(err, core.ErrExcessiveFee):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrRouterFailure):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	default:
		return http.StatusBadRequest
	}
}

// classFor names the failure class so agents can branch without parsing
// error strings.
func classFor(err error) string {
	switch {
	case errors.Is(err, core.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, core.ErrOrderExists):
		return "already_exists"
	case errors.Is(err, core.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, core.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, core.ErrInsufficientReturn):
		return "insufficient_return"
	case errors.Is(err, core.ErrExcessiveFee):
		return "excessive_fee"
	case errors.Is(err, core.ErrRouterFailure):
		return "router_failure"
	case errors.Is(err, core.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Class: classFor(err)})
}
