package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"tournament-rewards/internal/models"
	"tournament-rewards/internal/service"
	"tournament-rewards/pkg/errors"
	"tournament-rewards/pkg/logger"
)

// Settlement is the part of the settlement service exposed over HTTP.
type Settlement interface {
	Settle(ctx context.Context, tournamentID uint64) (*service.SettlementSummary, error)
	ReplaceTiers(ctx context.Context, tournamentID uint64, inputs []service.TierInput) ([]models.RewardTier, error)
	Ledger(ctx context.Context, tournamentID uint64) ([]models.LedgerEntry, error)
	FundContract(ctx context.Context, amount decimal.Decimal) (*service.FundingResult, error)
	GetContractBalance(ctx context.Context) (*service.ContractBalance, error)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeAppError maps an application error code onto an HTTP status.
func writeAppError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.WithFields(map[string]interface{}{
			"code":  code,
			"error": err.Error(),
		}).Error("Request failed")
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

func statusFor(code string) int {
	switch code {
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrSettlementConfig, errors.ErrInvalidAmount:
		return http.StatusUnprocessableEntity
	case errors.ErrAlreadySettled, errors.ErrSettlementBusy:
		return http.StatusConflict
	case errors.ErrInsufficientCustodialFunds, errors.ErrFunding:
		return http.StatusPaymentRequired
	case errors.ErrChainRead, errors.ErrChainWrite:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type SettlementHandler struct {
	svc Settlement
}

func NewSettlementHandler(svc Settlement) *SettlementHandler {
	return &SettlementHandler{svc: svc}
}

func (h *SettlementHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/tournaments/{id}/settle", h.Settle).Methods(http.MethodPost)
	r.HandleFunc("/api/tournaments/{id}/reward-tiers", h.ReplaceTiers).Methods(http.MethodPut)
	r.HandleFunc("/api/tournaments/{id}/ledger", h.Ledger).Methods(http.MethodGet)
	r.HandleFunc("/api/contract/fund", h.FundContract).Methods(http.MethodPost)
	r.HandleFunc("/api/contract/balance", h.ContractBalance).Methods(http.MethodGet)
	r.HandleFunc("/health", HandleHealth).Methods(http.MethodGet)
}

func tournamentID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// Settle runs settlement synchronously and answers with the run summary.
// An incomplete run still answers 200; the summary says what is left.
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id, ok := tournamentID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid tournament id")
		return
	}

	summary, err := h.svc.Settle(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *SettlementHandler) ReplaceTiers(w http.ResponseWriter, r *http.Request) {
	id, ok := tournamentID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid tournament id")
		return
	}

	var inputs []service.TierInput
	if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	tiers, err := h.svc.ReplaceTiers(r.Context(), id, inputs)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tiers)
}

func (h *SettlementHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	id, ok := tournamentID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid tournament id")
		return
	}

	entries, err := h.svc.Ledger(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *SettlementHandler) FundContract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.FundContract(r.Context(), req.Amount)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SettlementHandler) ContractBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.svc.GetContractBalance(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
