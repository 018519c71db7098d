package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Statement represents one billing cycle on a credit account. Exactly one
// open statement exists per account; closed statements are immutable.
type Statement struct {
	ID              int64           `json:"id"`
	AccountID       int64           `json:"account_id"`
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
	OpeningBalance  decimal.Decimal `json:"opening_balance"`
	ClosingBalance  decimal.Decimal `json:"closing_balance"`
	MinimumPayment  decimal.Decimal `json:"minimum_payment"`
	PaymentDueDate  time.Time       `json:"payment_due_date"`
	IsPaidInFull    bool            `json:"is_paid_in_full"`
	InterestCharged decimal.Decimal `json:"interest_charged"`
	CreatedAt       time.Time       `json:"created_at"`
}
