package config

// RiskPolicy is the deduction table for the risk scorer. Every payment
// attempt starts at 100 points; each firing signal subtracts its deduction,
// and the final score is clamped to [0, 100]. Scores at or below
// BlockThreshold are blocked.
type RiskPolicy struct {
	BlockThreshold int `json:"block_threshold"`

	ExpiryMismatchDeduct int `json:"expiry_mismatch_deduct"`
	PINMismatchDeduct    int `json:"pin_mismatch_deduct"`

	CardEntryFastMs     int64 `json:"card_entry_fast_ms"`
	CardEntryFastDeduct int   `json:"card_entry_fast_deduct"`
	CardEntrySlowMs     int64 `json:"card_entry_slow_ms"`
	CardEntrySlowDeduct int   `json:"card_entry_slow_deduct"`

	ExpiryEntrySlowMs     int64 `json:"expiry_entry_slow_ms"`
	ExpiryEntrySlowDeduct int   `json:"expiry_entry_slow_deduct"`

	PINEntryFastMs     int64 `json:"pin_entry_fast_ms"`
	PINEntryFastDeduct int   `json:"pin_entry_fast_deduct"`

	PINCadenceFastMs     int64 `json:"pin_cadence_fast_ms"`
	PINCadenceFastDeduct int   `json:"pin_cadence_fast_deduct"`
	PINCadenceSlowMs     int64 `json:"pin_cadence_slow_ms"`
	PINCadenceSlowDeduct int   `json:"pin_cadence_slow_deduct"`

	PasteEventDeduct int `json:"paste_event_deduct"`

	AmountDeviationZScore float64 `json:"amount_deviation_z_score"`
	AmountDeviationDeduct int     `json:"amount_deviation_deduct"`

	VelocityWindowSeconds int64 `json:"velocity_window_seconds"`
	VelocityDeduct        int   `json:"velocity_deduct"`
}

// DefaultRiskPolicy returns the production deduction table.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		BlockThreshold: 40,

		ExpiryMismatchDeduct: 100,
		PINMismatchDeduct:    80,

		CardEntryFastMs:     1000,
		CardEntryFastDeduct: 25,
		CardEntrySlowMs:     20000,
		CardEntrySlowDeduct: 15,

		ExpiryEntrySlowMs:     7000,
		ExpiryEntrySlowDeduct: 10,

		PINEntryFastMs:     500,
		PINEntryFastDeduct: 20,

		PINCadenceFastMs:     50,
		PINCadenceFastDeduct: 30,
		PINCadenceSlowMs:     2000,
		PINCadenceSlowDeduct: 15,

		PasteEventDeduct: 5,

		AmountDeviationZScore: 2.5,
		AmountDeviationDeduct: 30,

		VelocityWindowSeconds: 15,
		VelocityDeduct:        40,
	}
}
