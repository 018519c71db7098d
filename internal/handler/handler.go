package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/meridianpay/cardcore/internal/cardnum"
	"github.com/meridianpay/cardcore/internal/models"
	"github.com/meridianpay/cardcore/internal/repository"
	"github.com/meridianpay/cardcore/internal/service"
)

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// IssueCard handles card issuance for an existing account
func (h *Handler) IssueCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProfileID     int64  `json:"profile_id"`
		AccountID     int64  `json:"account_id"`
		IssuerSegment string `json:"issuer_segment"`
		PIN           string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	card, err := h.svc.IssueCard(r.Context(), req.ProfileID, req.AccountID, req.IssuerSegment, req.PIN)
	if err != nil {
		writeBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

// ReissueCard handles card re-issuance
func (h *Handler) ReissueCard(w http.ResponseWriter, r *http.Request) {
	cardID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	card, err := h.svc.ReissueCard(r.Context(), cardID)
	if err != nil {
		writeBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

// SetCardStatus handles card suspension and reactivation
func (h *Handler) SetCardStatus(w http.ResponseWriter, r *http.Request) {
	cardID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Status models.CardStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	card, err := h.svc.SetCardStatus(r.Context(), cardID, req.Status)
	if err != nil {
		writeBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

type authorizeRequest struct {
	CardID            int64                  `json:"card_id"`
	Amount            decimal.Decimal        `json:"amount"`
	Currency          string                 `json:"currency"`
	Type              models.TransactionType `json:"type"`
	Description       string                 `json:"description"`
	CaptureDelayHours int                    `json:"capture_delay_hours"`
	ExchangeRate      *decimal.Decimal       `json:"exchange_rate,omitempty"`
}

func (r authorizeRequest) toInput() service.AuthorizeInput {
	return service.AuthorizeInput{
		CardID:            r.CardID,
		Amount:            r.Amount,
		Currency:          r.Currency,
		Type:              r.Type,
		Description:       r.Description,
		CaptureDelayHours: r.CaptureDelayHours,
		ExchangeRate:      r.ExchangeRate,
	}
}

// Authorize handles authorization hold placement
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	txn, err := h.svc.Authorize(r.Context(), req.toInput())
	if err != nil {
		writeBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// ProcessTransaction handles the immediate authorize-and-capture path
func (h *Handler) ProcessTransaction(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.CaptureDelayHours = 0
	txn, err := h.svc.ProcessImmediate(r.Context(), req.toInput())
	if err != nil {
		writeBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// Capture handles posting of a pending authorization
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	txnID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txn, err := h.svc.Capture(r.Context(), txnID)
	if err != nil {
		writeBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// Reverse handles voiding a hold or refunding a captured transaction
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	txnID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txn, err := h.svc.Reverse(r.Context(), txnID)
	if err != nil {
		writeBusinessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// Pay handles the public payment surface. Every failure beyond input shape
// collapses to one generic decline; the detail lives only in the risk audit
// trail.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardNumber  string                   `json:"card_number"`
		Expiry      string                   `json:"expiry"`
		PIN         string                   `json:"pin"`
		Amount      decimal.Decimal          `json:"amount"`
		Currency    string                   `json:"currency"`
		Description string                   `json:"description"`
		Signals     models.BehavioralSignals `json:"signals"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	txn, _, err := h.svc.AssessAndAuthorize(r.Context(), &service.PaymentRequest{
		CardNumber:  req.CardNumber,
		Expiry:      req.Expiry,
		PIN:         req.PIN,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		Signals:     req.Signals,
	})
	if err != nil {
		var vErr *service.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Msg, http.StatusBadRequest)
			return
		}
		// Anti-enumeration: one message for every decline reason.
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "payment declined"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"transaction_id": txn.ID,
		"amount":         txn.Amount,
		"currency":       txn.Currency,
	})
}

// RunStatementBatch triggers the billing-cycle batch for a given date
func (h *Handler) RunStatementBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AsOf string `json:"as_of"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	asOf, err := time.Parse("2006-01-02", req.AsOf)
	if err != nil {
		http.Error(w, "as_of must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	result, err := h.svc.RunStatementBatch(r.Context(), asOf)
	if err != nil {
		writeBusinessError(w, err)
		return
	}

	errs := make(map[int64]string, len(result.Errors))
	for id, accErr := range result.Errors {
		errs[id] = accErr.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processed_account_ids": result.ProcessedAccountIDs,
		"skipped_account_ids":   result.SkippedAccountIDs,
		"per_account_errors":    errs,
	})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeBusinessError maps the error taxonomy onto HTTP statuses for the
// institution-facing surface, where specific business codes are safe to
// show.
func writeBusinessError(w http.ResponseWriter, err error) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		http.Error(w, vErr.Msg, http.StatusBadRequest)
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, service.ErrCardNotActive),
		errors.Is(err, service.ErrInsufficientFunds),
		errors.Is(err, service.ErrTransactionNotCapturable),
		errors.Is(err, service.ErrTransactionNotReversible),
		errors.Is(err, cardnum.ErrExhaustedRetries):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
