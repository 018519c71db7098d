package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies the direction and pricing of a transaction.
type TransactionType string

const (
	TransactionTypePurchase       TransactionType = "purchase"
	TransactionTypeCashAdvance    TransactionType = "cash_advance"
	TransactionTypePayment        TransactionType = "payment"
	TransactionTypeInterestCharge TransactionType = "interest_charge"
)

// TransactionStatus is the lifecycle state of a transaction.
// PendingAuthorization is the only non-terminal state.
type TransactionStatus string

const (
	TransactionStatusPendingAuthorization TransactionStatus = "pending_authorization"
	TransactionStatusCaptured             TransactionStatus = "captured"
	TransactionStatusExpired              TransactionStatus = "expired"
	TransactionStatusReversed             TransactionStatus = "reversed"
)

// Transaction represents one monetary movement against an account.
// Amount and Currency are always in account currency; when the presented
// currency differed, the original presentment is kept alongside the applied
// exchange rate.
type Transaction struct {
	ID          int64             `json:"id"`
	AccountID   int64             `json:"account_id"`
	CardID      int64             `json:"card_id"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Type        TransactionType   `json:"type"`
	Status      TransactionStatus `json:"status"`
	Description string            `json:"description"`
	StatementID *int64            `json:"statement_id,omitempty"`

	OriginalAmount   *decimal.Decimal `json:"original_amount,omitempty"`
	OriginalCurrency *string          `json:"original_currency,omitempty"`
	ExchangeRate     *decimal.Decimal `json:"exchange_rate,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// EffectiveStatus reconciles the stored status with the clock: a pending
// authorization whose hold window has elapsed reads as expired whether or
// not the sweep has materialized the change yet.
func (t *Transaction) EffectiveStatus(now time.Time) TransactionStatus {
	if t.Status == TransactionStatusPendingAuthorization && t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return TransactionStatusExpired
	}
	return t.Status
}
