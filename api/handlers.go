/*
handlers.go - HTTP API handlers for the points engine

PURPOSE:
  Exposes the ledger engine via REST. Handlers parse requests, delegate
  to the coordinator / reversal engine / expiration processor, and map
  engine errors onto HTTP statuses. No business rules live here.

ENDPOINTS:
  Transactions:
    POST   /api/transactions                 Process an Earn/Spend/adjustment
    GET    /api/transactions                 List by filter
    GET    /api/transactions/{id}            One entry
    POST   /api/transactions/{id}/reverse    Reverse a completed entry

  Accounts:
    GET    /api/accounts/{id}/balance        Current balance
    GET    /api/accounts/{id}/transactions   History
    GET    /api/accounts/{id}/audit          Replay vs stored balance

  Admin:
    POST   /api/admin/expiration             Run an expiration cycle now

ERROR HANDLING:
  - 400: Validation errors (amount, kind, parse failures)
  - 402: Insufficient balance
  - 403: Unauthorized acting party
  - 404: Unknown account or transaction
  - 409: Invalid state, expired window, exhausted concurrency retries
  - 500: Storage faults

SECURITY NOTE:
  Authentication is a non-goal here; callers are trusted role-specific
  services that authenticate upstream.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/metrics"
	"github.com/warp/points-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       ledger.TxStore
	Coordinator *ledger.Coordinator
	Reversals   *ledger.ReversalEngine
	Expiration  *ledger.ExpirationProcessor
	Metrics     *metrics.Collector

	// Runs serves the expiration run history when the store is SQLite.
	// Nil with the in-memory store; the endpoint then returns an empty list.
	Runs *sqlite.Store

	// DefaultCashbackRate applies to sales that carry a total cost but no
	// explicit rate. Zero means no default.
	DefaultCashbackRate float64
}

func NewHandler(store ledger.TxStore, coordinator *ledger.Coordinator, reversals *ledger.ReversalEngine) *Handler {
	return &Handler{
		Store:       store,
		Coordinator: coordinator,
		Reversals:   reversals,
		Expiration:  ledger.NewExpirationProcessor(store),
		Metrics:     metrics.NewCollector(),
	}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ProcessTransaction applies one business operation.
// POST /api/transactions
func (h *Handler) ProcessTransaction(w http.ResponseWriter, r *http.Request) {
	var req ProcessTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	kind := ledger.TransactionKind(req.Kind)
	switch kind {
	case ledger.KindEarn, ledger.KindSpend, ledger.KindAdminAdjustment:
	default:
		writeError(w, http.StatusBadRequest, "kind must be earn, spend, or admin_adjustment", nil)
		return
	}

	rate := req.CashbackRate
	if rate == 0 && req.TotalCost > 0 {
		rate = h.DefaultCashbackRate
	}

	start := time.Now()
	tx, err := h.Coordinator.ProcessTransaction(r.Context(), ledger.ProcessInput{
		SubjectID:      ledger.AccountID(req.SubjectID),
		CounterID:      ledger.AccountID(req.CounterID),
		StoreID:        ledger.StoreID(req.StoreID),
		Kind:           kind,
		Amount:         ledger.NewAmount(req.Amount),
		TotalCost:      ledger.NewAmount(req.TotalCost),
		CashbackRate:   decimal.NewFromFloat(rate),
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        ledger.AccountID(req.ActorID),
	})
	if err != nil {
		h.recordFailure(err)
		writeEngineError(w, err)
		return
	}

	h.Metrics.TransactionProcessed(string(kind), time.Since(start))
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// GetTransaction returns one ledger entry.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	tx, err := h.Store.GetTransaction(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// ListTransactions returns entries matching query filters.
// GET /api/transactions?account_id=&company_id=&store_id=&from=&to=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.TransactionFilter{
		AccountID: ledger.AccountID(q.Get("account_id")),
		CompanyID: ledger.AccountID(q.Get("company_id")),
		StoreID:   ledger.StoreID(q.Get("store_id")),
	}

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' timestamp", err)
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' timestamp", err)
			return
		}
		filter.To = t
	}

	txs, err := h.Store.ListTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// ReverseTransaction undoes a completed entry.
// POST /api/transactions/{id}/reverse
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	var req ReverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ActingPartyID == "" {
		writeError(w, http.StatusBadRequest, "acting_party_id is required", nil)
		return
	}

	if err := h.Reversals.Reverse(r.Context(), id, ledger.AccountID(req.ActingPartyID)); err != nil {
		h.recordFailure(err)
		writeEngineError(w, err)
		return
	}

	h.Metrics.TransactionReversed()
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// GetBalance returns the current stored balance.
// GET /api/accounts/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	account, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(account))
}

// GetAccountTransactions returns the account's history.
// GET /api/accounts/{id}/transactions
func (h *Handler) GetAccountTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	txs, err := h.Store.ListTransactions(r.Context(), ledger.TransactionFilter{AccountID: id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// AuditAccount replays the account's ledger against its stored balance.
// GET /api/accounts/{id}/audit
func (h *Handler) AuditAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	report, err := ledger.AuditAccount(r.Context(), h.Store, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	stored, _ := report.Stored.Value.Float64()
	replayed, _ := report.Replayed.Value.Float64()
	drift, _ := report.Drift.Value.Float64()
	writeJSON(w, http.StatusOK, AuditDTO{
		AccountID: string(report.AccountID),
		Stored:    stored,
		Replayed:  replayed,
		Drift:     drift,
		Entries:   report.Entries,
		Clean:     report.Clean(),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunExpiration settles the cycle containing as_of (default: now).
// POST /api/admin/expiration
func (h *Handler) RunExpiration(w http.ResponseWriter, r *http.Request) {
	var req ExpirationRequest
	if r.Body != nil {
		// Body is optional; decode errors only matter when a body was sent.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		t, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'as_of' timestamp", err)
			return
		}
		asOf = t
	}

	summary, err := h.Expiration.RunExpirationCycle(r.Context(), asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "expiration cycle failed", err)
		return
	}
	h.recordManualRun(r.Context(), asOf, summary)

	total, _ := summary.ExpiredTotal.Value.Float64()
	h.Metrics.CycleSettled(summary.ExpiredAccounts, total)
	writeJSON(w, http.StatusOK, CycleSummaryDTO{
		Cycle:           summary.Cycle.Label(),
		ExpiredAccounts: summary.ExpiredAccounts,
		ExpiredTotal:    total,
		SkippedAccounts: summary.SkippedAccounts,
		CompaniesReset:  summary.CompaniesReset,
	})
}

// recordManualRun mirrors the scheduler's run record for admin-triggered
// cycles, so the runs endpoint shows both. Best effort: the cycle itself
// already settled, a failed record never fails the request.
func (h *Handler) recordManualRun(ctx context.Context, asOf time.Time, summary ledger.CycleSummary) {
	if h.Runs == nil {
		return
	}

	// A cycle can only carry one completed run; re-triggering a settled
	// cycle (which expires nothing) leaves the original record in place.
	done, err := h.Runs.IsCycleComplete(ctx, summary.Cycle.Label())
	if err != nil || done {
		return
	}

	now := time.Now().UTC()
	h.Runs.SaveExpirationRun(ctx, sqlite.ExpirationRun{
		ID:              fmt.Sprintf("run-%d", now.UnixNano()),
		CycleLabel:      summary.Cycle.Label(),
		AsOf:            asOf,
		Status:          "completed",
		ExpiredAccounts: summary.ExpiredAccounts,
		ExpiredTotal:    summary.ExpiredTotal.String(),
		CompaniesReset:  summary.CompaniesReset,
		StartedAt:       &now,
		CompletedAt:     &now,
	})
}

// ListExpirationRuns returns past scheduler and manual runs, newest first.
// GET /api/admin/expiration/runs
func (h *Handler) ListExpirationRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		writeJSON(w, http.StatusOK, []ExpirationRunDTO{})
		return
	}
	runs, err := h.Runs.ListExpirationRuns(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list expiration runs", err)
		return
	}
	dtos := make([]ExpirationRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toExpirationRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ERROR MAPPING AND HELPERS
// =============================================================================

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "insufficient balance", err)
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "not authorized", err)
	case errors.Is(err, ledger.ErrInvalidState):
		writeError(w, http.StatusConflict, "transaction not reversible", err)
	case errors.Is(err, ledger.ErrWindowExpired):
		writeError(w, http.StatusConflict, "reversal window expired", err)
	case errors.Is(err, ledger.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent update, retry", err)
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "idempotency key already used", err)
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrAccountInactive):
		writeError(w, http.StatusBadRequest, "rejected", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func (h *Handler) recordFailure(err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		h.Metrics.TransactionFailed("insufficient_balance")
	case errors.Is(err, ledger.ErrConcurrentModification):
		h.Metrics.ConflictSurfaced()
		h.Metrics.TransactionFailed("concurrency")
	case ledger.IsNotFound(err):
		h.Metrics.TransactionFailed("not_found")
	case ledger.IsClientError(err):
		h.Metrics.TransactionFailed("rejected")
	default:
		h.Metrics.TransactionFailed("internal")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
