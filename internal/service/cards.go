package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridianpay/cardcore/internal/models"
)

// IssueCard mints a card for an existing account: generates a unique
// identifier under the issuer segment, hashes the PIN and sets expiry.
func (s *Service) IssueCard(ctx context.Context, profileID, accountID int64, issuerSegment, pin string) (*models.Card, error) {
	if err := validatePIN(pin); err != nil {
		return nil, err
	}

	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.ProfileID != profileID {
		return nil, validationErrorf("account does not belong to profile")
	}

	number, err := s.codec.Generate(ctx, issuerSegment, holderInitials(profile.Name), s.store.CardNumberExists)
	if err != nil {
		return nil, fmt.Errorf("failed to generate card number: %w", err)
	}

	pinHash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash PIN: %w", err)
	}

	expiry := s.now().AddDate(s.config.CardValidityYears, 0, 0)
	card := &models.Card{
		ProfileID:   profileID,
		AccountID:   accountID,
		Number:      number,
		Status:      models.CardStatusActive,
		ExpiryYear:  expiry.Year(),
		ExpiryMonth: int(expiry.Month()),
		PINHash:     string(pinHash),
	}
	if err := s.store.CreateCard(ctx, card); err != nil {
		return nil, err
	}

	s.log.Infof("Card issued for profile %d, account %d", profileID, accountID)
	return card, nil
}

// ReissueCard supersedes an existing card with a fresh identifier and a new
// expiry. The issuer segment and holder initials carry over; the old number
// stays on record and can never be minted again.
func (s *Service) ReissueCard(ctx context.Context, cardID int64) (*models.Card, error) {
	old, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if old.SupersededBy != nil {
		return nil, validationErrorf("card has already been reissued")
	}

	initials, segment := splitNumber(old.Number, s.config.IssuerSegmentLen)
	number, err := s.codec.Generate(ctx, segment, initials, s.store.CardNumberExists)
	if err != nil {
		return nil, fmt.Errorf("failed to generate card number: %w", err)
	}

	expiry := s.now().AddDate(s.config.CardValidityYears, 0, 0)
	replacement := &models.Card{
		ProfileID:   old.ProfileID,
		AccountID:   old.AccountID,
		Number:      number,
		Status:      models.CardStatusActive,
		ExpiryYear:  expiry.Year(),
		ExpiryMonth: int(expiry.Month()),
		PINHash:     old.PINHash,
	}
	if err := s.store.CreateCard(ctx, replacement); err != nil {
		return nil, err
	}

	old.Status = models.CardStatusBlocked
	old.SupersededBy = &replacement.ID
	if err := s.store.UpdateCard(ctx, old); err != nil {
		return nil, err
	}

	s.log.Infof("Card %d reissued as card %d", old.ID, replacement.ID)
	return replacement, nil
}

// SetCardStatus suspends or reactivates a card.
func (s *Service) SetCardStatus(ctx context.Context, cardID int64, status models.CardStatus) (*models.Card, error) {
	if status != models.CardStatusActive && status != models.CardStatusBlocked {
		return nil, validationErrorf("unknown card status")
	}
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.SupersededBy != nil {
		return nil, validationErrorf("card has been reissued")
	}
	card.Status = status
	if err := s.store.UpdateCard(ctx, card); err != nil {
		return nil, err
	}
	s.log.Infof("Card %d status set to %s", cardID, status)
	return card, nil
}

func validatePIN(pin string) error {
	if len(pin) != 4 {
		return validationErrorf("PIN must be exactly 4 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return validationErrorf("PIN must be exactly 4 digits")
		}
	}
	return nil
}

// holderInitials derives the 2-letter code from the cardholder's name: the
// first letters of the first two name parts, padded with X for mononyms.
func holderInitials(name string) string {
	parts := strings.Fields(strings.ToUpper(name))
	initials := make([]byte, 0, 2)
	for _, p := range parts {
		if p[0] >= 'A' && p[0] <= 'Z' {
			initials = append(initials, p[0])
		}
		if len(initials) == 2 {
			break
		}
	}
	for len(initials) < 2 {
		initials = append(initials, 'X')
	}
	return string(initials)
}

func splitNumber(number string, segmentLen int) (initials, segment string) {
	return number[:2], number[2 : 2+segmentLen]
}

// expiryMatches compares a presented MM/YY expiry against the card. A
// malformed presentment never matches.
func expiryMatches(card *models.Card, presented string) bool {
	t, err := time.Parse("01/06", presented)
	if err != nil {
		return false
	}
	return t.Year()%100 == card.ExpiryYear%100 && int(t.Month()) == card.ExpiryMonth
}
