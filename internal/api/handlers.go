package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/analytics"
	"agri-token-ledger/internal/cache"
	"agri-token-ledger/internal/coordinator"
	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/logger"
	"agri-token-ledger/internal/observability"
	"agri-token-ledger/internal/reconciler"
	"agri-token-ledger/internal/signature"
	"agri-token-ledger/internal/storage"
)

// Ledger is the transaction lifecycle behind the write routes.
type Ledger interface {
	RequestInvestment(ctx context.Context, req coordinator.InvestmentRequest) (*domain.Investment, error)
	Confirm(ctx context.Context, hash string, status domain.TxStatus, block uint64) (*coordinator.ConfirmResult, error)
	Tokenize(ctx context.Context, req coordinator.TokenizeRequest) (*domain.Asset, *domain.Transaction, error)
	TransferShares(ctx context.Context, req coordinator.TransferRequest) (*domain.Transaction, error)
	RefreshValuation(ctx context.Context, assetID string) (decimal.Decimal, error)
	CompleteInvestment(ctx context.Context, id int64) (*domain.Investment, error)
	DefaultInvestment(ctx context.Context, id int64) (*domain.Investment, error)
}

// EventSink applies chain events.
type EventSink interface {
	Submit(ctx context.Context, ev *domain.ChainEvent) (*reconciler.Result, error)
}

// Distributor runs distribution jobs.
type Distributor interface {
	Start(ctx context.Context, assetID, period string, amount decimal.Decimal) (*domain.DistributionJob, error)
	GetJob(ctx context.Context, id string) (*domain.DistributionJob, error)
}

// Analytics serves portfolio and asset metrics.
type Analytics interface {
	InvestorPortfolio(ctx context.Context, investorID string) (*analytics.Portfolio, error)
	AssetPerformance(ctx context.Context, assetID string) (*analytics.AssetPerformance, error)
}

// Verifier checks webhook signatures.
type Verifier interface {
	Verify(message []byte, signer, sig string) error
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options configures Handler.
type Options struct {
	Ledger       Ledger
	Events       EventSink
	Distributor  Distributor
	Analytics    Analytics
	Assets       storage.AssetStore
	Investments  storage.InvestmentStore
	Cache        cache.Cache
	CacheTTL     time.Duration
	Verifier     Verifier
	Metrics      *observability.Metrics
	Logger       *logger.Logger
	HealthChecks map[string]HealthCheck
	Timeout      time.Duration
}

// Handler serves the ledger routes.
type Handler struct {
	ledger      Ledger
	events      EventSink
	distributor Distributor
	analytics   Analytics
	assets      storage.AssetStore
	investments storage.InvestmentStore
	cache       cache.Cache
	cacheTTL    time.Duration
	verifier    Verifier
	metrics     *observability.Metrics
	log         *logger.Logger
	checks      map[string]HealthCheck
	timeout     time.Duration
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		ledger:      opts.Ledger,
		events:      opts.Events,
		distributor: opts.Distributor,
		analytics:   opts.Analytics,
		assets:      opts.Assets,
		investments: opts.Investments,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		verifier:    opts.Verifier,
		metrics:     opts.Metrics,
		log:         logger.OrNop(opts.Logger).With("component", "api"),
		checks:      opts.HealthChecks,
		timeout:     opts.Timeout,
	}
	if h.cacheTTL <= 0 {
		h.cacheTTL = analytics.DefaultCacheTTL
	}
	if h.timeout <= 0 {
		h.timeout = DefaultRequestTimeout
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	code := http.StatusOK
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	respondWithJSON(w, code, map[string]any{"status": http.StatusText(code), "checks": status})
}

// assetView is the asset as served by GET /assets/{id}.
type assetView struct {
	*domain.Asset
	AvailableShares int64 `json:"availableShares"`
}

func (h *Handler) handleTokenize(w http.ResponseWriter, r *http.Request) {
	var req coordinator.TokenizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	asset, tx, err := h.ledger.Tokenize(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{"asset": asset, "transaction": tx})
}

func (h *Handler) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ns := cache.AssetNamespace(id)

	var view assetView
	cacheable := h.cache != nil
	var gen uint64
	if cacheable {
		var err error
		if gen, err = h.cache.Generation(r.Context(), ns); err != nil {
			h.log.Warn("asset cache generation read failed", "asset_id", id, "error", err)
			cacheable = false
		}
	}
	if cacheable {
		hit, err := h.cache.Get(r.Context(), ns, "view", &view)
		if err != nil {
			h.log.Warn("asset cache read failed", "asset_id", id, "error", err)
		} else if hit {
			respondWithJSON(w, http.StatusOK, view)
			return
		}
	}

	asset, err := h.assets.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view = assetView{Asset: asset, AvailableShares: asset.AvailableShares()}
	if cacheable {
		// Skipped when the asset was invalidated while it was loading.
		if _, err := h.cache.SetIfGeneration(r.Context(), ns, "view", view, h.cacheTTL, gen); err != nil {
			h.log.Warn("asset cache write failed", "asset_id", id, "error", err)
		}
	}
	respondWithJSON(w, http.StatusOK, view)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req coordinator.TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.AssetID = chi.URLParam(r, "id")
	tx, err := h.ledger.TransferShares(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, tx)
}

func (h *Handler) handleRefreshValuation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	value, err := h.ledger.RefreshValuation(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"assetId": id, "currentValue": value})
}

func (h *Handler) handleRequestInvestment(w http.ResponseWriter, r *http.Request) {
	var req coordinator.InvestmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv, err := h.ledger.RequestInvestment(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]any{
		"investmentId": inv.ID,
		"status":       inv.Status,
		"risk":         inv.Risk,
	})
}

func (h *Handler) handleGetInvestment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.investmentID(w, r)
	if !ok {
		return
	}
	inv, err := h.investments.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleCompleteInvestment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.ledger.CompleteInvestment)
}

func (h *Handler) handleDefaultInvestment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.ledger.DefaultInvestment)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (*domain.Investment, error)) {
	id, ok := h.investmentID(w, r)
	if !ok {
		return
	}
	inv, err := fn(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, inv)
}

// txConfirmRequest is the body of POST /webhooks/tx-confirm.
type txConfirmRequest struct {
	TransactionHash string          `json:"transactionHash"`
	Status          domain.TxStatus `json:"status"`
	BlockNumber     uint64          `json:"blockNumber"`
	Signature       string          `json:"signature"`
	Signer          string          `json:"signer"`
}

func (h *Handler) handleTxConfirm(w http.ResponseWriter, r *http.Request) {
	var req txConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg := signature.TxConfirmMessage(req.TransactionHash, req.Status, req.BlockNumber)
	if err := h.verify(msg, req.Signer, req.Signature); err != nil {
		h.log.Warn("tx confirmation signature rejected", "hash", req.TransactionHash, "signer", req.Signer, "error", err)
		h.writeError(w, r, &domain.ReconciliationConflict{Reason: domain.ConflictBadSignature, Block: req.BlockNumber, Err: err})
		return
	}

	res, err := h.ledger.Confirm(r.Context(), req.TransactionHash, req.Status, req.BlockNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) verify(msg []byte, signer, sig string) error {
	if h.verifier == nil {
		return signature.ErrUntrustedSigner
	}
	return h.verifier.Verify(msg, signer, sig)
}

func (h *Handler) handleChainEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.ChainEvent
	if !h.decode(w, r, &ev) {
		return
	}
	res, err := h.events.Submit(r.Context(), &ev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

// distributionRequest is the body of POST /admin/distributions.
type distributionRequest struct {
	AssetID string          `json:"assetId"`
	Amount  decimal.Decimal `json:"amount"`
	Period  string          `json:"period"`
}

func (h *Handler) handleStartDistribution(w http.ResponseWriter, r *http.Request) {
	var req distributionRequest
	if !h.decode(w, r, &req) {
		return
	}
	job, err := h.distributor.Start(r.Context(), req.AssetID, req.Period, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, job)
}

func (h *Handler) handleGetDistribution(w http.ResponseWriter, r *http.Request) {
	job, err := h.distributor.GetJob(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, job)
}

func (h *Handler) handleInvestorAnalytics(w http.ResponseWriter, r *http.Request) {
	p, err := h.analytics.InvestorPortfolio(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *Handler) handleAssetAnalytics(w http.ResponseWriter, r *http.Request) {
	p, err := h.analytics.AssetPerformance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *Handler) investmentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, domain.NewValidationError("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return false
		}
		h.writeError(w, r, domain.NewValidationError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
