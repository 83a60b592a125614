// Package server exposes the wrapper service over HTTP JSON. All
// state-mutating handlers serialize through one mutex since the core types
// are single-threaded.
package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ckoopmann/wrapped-fcash/internal/beacon"
	"github.com/ckoopmann/wrapped-fcash/internal/factory"
	"github.com/ckoopmann/wrapped-fcash/internal/ledger"
	"github.com/ckoopmann/wrapped-fcash/internal/observability"
	"github.com/ckoopmann/wrapped-fcash/internal/vault"
)

// Service wires the factory and beacon behind an HTTP API.
type Service struct {
	mu      sync.Mutex
	factory *factory.Factory
	beacon  *beacon.Beacon
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewService(f *factory.Factory, b *beacon.Beacon, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Service {
	return &Service{
		factory: f,
		beacon:  b,
		health:  health,
		metrics: metrics,
		log:     log,
	}
}

// Handler builds the route table.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.health != nil {
		mux.HandleFunc("GET /healthz", s.health.LivenessHandler)
		mux.HandleFunc("GET /readyz", s.health.ReadinessHandler)
	}

	mux.HandleFunc("GET /api/markets", s.instrument("markets", s.handleMarkets))
	mux.HandleFunc("GET /api/wrappers", s.instrument("wrappers_list", s.handleListWrappers))
	mux.HandleFunc("POST /api/wrappers", s.instrument("wrappers_deploy", s.handleDeploy))
	mux.HandleFunc("GET /api/wrappers/compute-address", s.instrument("compute_address", s.handleComputeAddress))
	mux.HandleFunc("GET /api/wrappers/{address}", s.instrument("wrapper_info", s.handleWrapperInfo))
	mux.HandleFunc("GET /api/wrappers/{address}/balance/{account}", s.instrument("wrapper_balance", s.handleBalance))
	mux.HandleFunc("POST /api/wrappers/{address}/mint", s.instrument("wrapper_mint", s.handleMint))
	mux.HandleFunc("POST /api/wrappers/{address}/redeem", s.instrument("wrapper_redeem", s.handleRedeem))

	return mux
}

func (s *Service) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		if s.metrics != nil {
			s.metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			s.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// --- handlers ---

func (s *Service) handleMarkets(w http.ResponseWriter, r *http.Request) {
	currency, err := parseUint16(r.URL.Query().Get("currency"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid currency parameter")
		return
	}

	s.mu.Lock()
	markets, err := s.beacon.Registry().GetActiveMarkets(currency)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

type deployRequest struct {
	CurrencyID uint16 `json:"currency_id"`
	Maturity   uint64 `json:"maturity"`
}

func (s *Service) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	v, created, err := s.factory.DeployWrapper(req.CurrencyID, req.Maturity)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"wrapper": v.Address().Hex(),
		"name":    v.Name(),
		"symbol":  v.Symbol(),
		"created": created,
	})
}

func (s *Service) handleComputeAddress(w http.ResponseWriter, r *http.Request) {
	currency, err := parseUint16(r.URL.Query().Get("currency"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid currency parameter")
		return
	}
	maturity, err := strconv.ParseUint(r.URL.Query().Get("maturity"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid maturity parameter")
		return
	}

	addr := s.factory.ComputeAddress(currency, maturity)
	writeJSON(w, http.StatusOK, map[string]any{"address": addr.Hex()})
}

func (s *Service) handleListWrappers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	wrappers := s.factory.Wrappers()
	out := make([]map[string]any, 0, len(wrappers))
	for _, v := range wrappers {
		out = append(out, wrapperSummary(v))
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"wrappers": out})
}

func (s *Service) handleWrapperInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.lookupWrapper(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusNotFound, "wrapper not found")
		return
	}

	info := wrapperSummary(v)
	if assets, err := v.TotalAssets(); err == nil {
		info["total_assets"] = assets.String()
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleBalance(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.lookupWrapper(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusNotFound, "wrapper not found")
		return
	}
	if !common.IsHexAddress(r.PathValue("account")) {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	account := common.HexToAddress(r.PathValue("account"))

	writeJSON(w, http.StatusOK, map[string]any{
		"account": account.Hex(),
		"balance": v.BalanceOf(account),
	})
}

type mintRequest struct {
	From           string `json:"from"`
	Receiver       string `json:"receiver"`
	FCashAmount    int64  `json:"fcash_amount"`
	DepositMax     string `json:"deposit_max,omitempty"`
	MinImpliedRate int64  `json:"min_implied_rate,omitempty"`
	Path           string `json:"path,omitempty"` // underlying (default) | asset
}

func (s *Service) handleMint(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.lookupWrapper(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusNotFound, "wrapper not found")
		return
	}

	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.From) || !common.IsHexAddress(req.Receiver) {
		writeError(w, http.StatusBadRequest, "invalid from or receiver address")
		return
	}

	var depositMax *big.Int
	if req.DepositMax != "" {
		var ok bool
		depositMax, ok = new(big.Int).SetString(req.DepositMax, 10)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid deposit_max")
			return
		}
	}

	from := common.HexToAddress(req.From)
	receiver := common.HexToAddress(req.Receiver)

	var cost *big.Int
	var err error
	if req.Path == "asset" {
		cost, err = v.MintViaAsset(from, depositMax, req.FCashAmount, receiver, req.MinImpliedRate)
	} else {
		cost, err = v.MintViaUnderlying(from, depositMax, req.FCashAmount, receiver, req.MinImpliedRate)
	}
	if err != nil {
		writeError(w, domainStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"shares": req.FCashAmount,
		"cost":   cost.String(),
	})
}

type redeemRequest struct {
	Owner          string `json:"owner"`
	Receiver       string `json:"receiver"`
	Shares         int64  `json:"shares"`
	ToUnderlying   bool   `json:"to_underlying"`
	TransferFCash  bool   `json:"transfer_fcash"`
	MaxImpliedRate int64  `json:"max_implied_rate,omitempty"`
}

func (s *Service) handleRedeem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.lookupWrapper(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusNotFound, "wrapper not found")
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Owner) || !common.IsHexAddress(req.Receiver) {
		writeError(w, http.StatusBadRequest, "invalid owner or receiver address")
		return
	}

	proceeds, err := v.Redeem(common.HexToAddress(req.Owner), req.Shares, vault.RedeemOpts{
		RedeemToUnderlying: req.ToUnderlying,
		TransferFCash:      req.TransferFCash,
		Receiver:           common.HexToAddress(req.Receiver),
		MaxImpliedRate:     req.MaxImpliedRate,
	})
	if err != nil {
		writeError(w, domainStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"shares":   req.Shares,
		"proceeds": proceeds.String(),
	})
}

// --- helpers ---

func (s *Service) lookupWrapper(addr string) (*vault.Vault, bool) {
	if !common.IsHexAddress(addr) {
		return nil, false
	}
	return s.factory.WrapperAt(common.HexToAddress(addr))
}

func wrapperSummary(v *vault.Vault) map[string]any {
	return map[string]any{
		"address":      v.Address().Hex(),
		"name":         v.Name(),
		"symbol":       v.Symbol(),
		"currency_id":  v.CurrencyID(),
		"maturity":     v.Maturity(),
		"state":        v.State(),
		"total_supply": v.TotalSupply(),
	}
}

// domainStatus maps domain failures onto HTTP statuses: rejected
// preconditions are 422, missing funds or approvals 409.
func domainStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientAllowance):
		return http.StatusConflict
	case errors.Is(err, vault.ErrSlippage),
		errors.Is(err, vault.ErrMatured),
		errors.Is(err, vault.ErrMaxDeposit):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusUnprocessableEntity
	}
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	return uint16(v), err
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
