package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"givepool/native/settlement"
	"givepool/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

// Config carries the server's wiring.
type Config struct {
	Engine *settlement.Engine
	Logger *slog.Logger

	AuthSecret   string
	AuthIssuer   string
	AuthAudience string

	RateLimitPerSecond float64
	RateLimitBurst     int
}

type Server struct {
	engine  *settlement.Engine
	logger  *slog.Logger
	metrics *metrics.SettlementMetrics
	auth    *authenticator
	limiter *clientLimiter
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  cfg.Engine,
		logger:  logger,
		metrics: metrics.Settlement(),
		auth:    newAuthenticator(cfg.AuthSecret, cfg.AuthIssuer, cfg.AuthAudience),
		limiter: newClientLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
	}
}

// Router mounts the JSON-RPC endpoint and the Prometheus scrape endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Post("/", s.handle)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// requestID tags every request with a correlation id for logs and responses.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeEngineError translates an engine failure into a stable JSON-RPC error.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusOK, id, engineErrorCode(err), err.Error(), nil)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.allow(r) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = "request body too large"
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	s.dispatch(w, r, req)
	s.metrics.ObserveRequest(req.Method, time.Since(started))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "settlement_computeDonationMessageHash":
		s.handleComputeMessageHash(w, req, settlement.ActionDonate)
	case "settlement_computeStakeMessageHash":
		s.handleComputeMessageHash(w, req, settlement.ActionStake)
	case "settlement_isMessageProcessed":
		s.handleIsMessageProcessed(w, req)
	case "settlement_earned":
		s.handleEarned(w, req)
	case "settlement_position":
		s.handlePosition(w, req)
	case "settlement_fundraiserTotal":
		s.handleFundraiserTotal(w, req)
	case "settlement_handleCrossChainDonation":
		s.withBridgeAuth(w, r, req, s.handleCrossChainDonation)
	case "settlement_handleCrossChainStake":
		s.withBridgeAuth(w, r, req, s.handleCrossChainStake)
	case "settlement_handleCrossChainDonationLegacy":
		s.withBridgeAuth(w, r, req, s.handleCrossChainDonationLegacy)
	case "settlement_stake":
		s.withAuth(w, r, req, s.handleStake)
	case "settlement_unstake":
		s.withAuth(w, r, req, s.handleUnstake)
	case "settlement_harvestAndDistribute":
		s.withAuth(w, r, req, s.handleHarvestAndDistribute)
	case "settlement_claimAllRewards":
		s.withAuth(w, r, req, s.handleClaimAllRewards)
	case "settlement_setYieldSplit":
		s.withAuth(w, r, req, s.handleSetYieldSplit)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

type authedHandler func(w http.ResponseWriter, req *RPCRequest, claims *authClaims)

// withAuth requires any valid bearer token before invoking the handler.
func (s *Server) withAuth(w http.ResponseWriter, r *http.Request, req *RPCRequest, next authedHandler) {
	claims, err := s.auth.verifyRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "authorization required", nil)
		return
	}
	next(w, req, claims)
}

// withBridgeAuth additionally requires the bridge scope. The token subject is
// the caller identity passed to the engine's bridge authorisation.
func (s *Server) withBridgeAuth(w http.ResponseWriter, r *http.Request, req *RPCRequest, next authedHandler) {
	claims, err := s.auth.verifyRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "authorization required", nil)
		return
	}
	if !claims.hasScope(ScopeBridge) {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "bridge scope required", nil)
		return
	}
	next(w, req, claims)
}
