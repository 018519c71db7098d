package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RiskDecision is the verdict of the risk scorer on one payment attempt.
type RiskDecision string

const (
	RiskDecisionAllow RiskDecision = "ALLOW"
	RiskDecisionBlock RiskDecision = "BLOCK"
)

// RiskAssessment is the append-only audit record of one payment attempt's
// fraud evaluation. Signals lists every deduction that fired, in the order
// the checks ran.
type RiskAssessment struct {
	ID            uuid.UUID       `json:"id"`
	ProfileID     int64           `json:"profile_id"`
	CardID        *int64          `json:"card_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Score         int             `json:"score"`
	Decision      RiskDecision    `json:"decision"`
	Signals       []string        `json:"signals"`
	TransactionID *int64          `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// BehavioralSignals are the client-side entry timings submitted with a
// payment attempt. Durations are in milliseconds as measured in the field.
type BehavioralSignals struct {
	CardNumberEntryMs   int64 `json:"card_number_entry_ms"`
	ExpiryEntryMs       int64 `json:"expiry_entry_ms"`
	PINEntryMs          int64 `json:"pin_entry_ms"`
	PINInterKeystrokeMs int64 `json:"pin_inter_keystroke_ms"`
	PasteEvents         int   `json:"paste_events"`
}
