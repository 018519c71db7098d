package models

import "time"

// CardStatus is the lifecycle status of a card.
type CardStatus string

const (
	CardStatusActive  CardStatus = "active"
	CardStatusBlocked CardStatus = "blocked"
)

// Card represents an issued payment card. Cards are never deleted;
// re-issuance supersedes the old card with a new one.
type Card struct {
	ID           int64      `json:"id"`
	ProfileID    int64      `json:"profile_id"`
	AccountID    int64      `json:"account_id"`
	Number       string     `json:"number"`
	Status       CardStatus `json:"status"`
	ExpiryYear   int        `json:"expiry_year"`
	ExpiryMonth  int        `json:"expiry_month"`
	PINHash      string     `json:"-"` // Not serialized
	SupersededBy *int64     `json:"superseded_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Expired reports whether the card's expiry month has passed.
func (c *Card) Expired(now time.Time) bool {
	if c.ExpiryYear != now.Year() {
		return c.ExpiryYear < now.Year()
	}
	return time.Month(c.ExpiryMonth) < now.Month()
}
