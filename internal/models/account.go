package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind distinguishes credit and debit accounts.
type AccountKind string

const (
	AccountKindCredit AccountKind = "credit"
	AccountKindDebit  AccountKind = "debit"
)

// Account holds the balance for exactly one card. Credit accounts carry
// limits, APRs and a billing cycle; debit accounts only a balance.
//
// Invariant: a credit account balance never exceeds CreditLimit, except when
// interest posting pushes it over (OverLimit is then set so the condition
// stays visible).
type Account struct {
	ID        int64           `json:"id"`
	ProfileID int64           `json:"profile_id"`
	Kind      AccountKind     `json:"kind"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`

	// Credit-only fields.
	CreditLimit           decimal.Decimal `json:"credit_limit"`
	CashAdvanceLimit      decimal.Decimal `json:"cash_advance_limit"`
	PurchaseAPR           decimal.Decimal `json:"purchase_apr"`
	CashAdvanceAPR        decimal.Decimal `json:"cash_advance_apr"`
	BillingCycleAnchorDay int             `json:"billing_cycle_anchor_day"`
	GracePeriodDays       int             `json:"grace_period_days"`
	CurrentStatementID    *int64          `json:"current_statement_id,omitempty"`
	OverLimit             bool            `json:"over_limit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
