package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Profile represents a cardholder within a client institution.
type Profile struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`

	// Rolling statistics maintained by the risk engine.
	AvgTransactionAmount    decimal.Decimal `json:"avg_transaction_amount"`
	TransactionAmountStddev decimal.Decimal `json:"transaction_amount_stddev"`
	TransactionCount        int64           `json:"transaction_count"`
	LastTransactionAt       *time.Time      `json:"last_transaction_at,omitempty"`
}
