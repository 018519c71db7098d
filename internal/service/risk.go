package service

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridianpay/cardcore/internal/models"
)

// Signal labels recorded in the risk assessment audit trail.
const (
	SignalCardNotFound      = "CARD_NOT_FOUND"
	SignalExpiryMismatch    = "EXPIRY_MISMATCH"
	SignalPINMismatch       = "PIN_MISMATCH"
	SignalCardEntryTooFast  = "CARD_ENTRY_TOO_FAST"
	SignalCardEntryTooSlow  = "CARD_ENTRY_TOO_SLOW"
	SignalExpiryEntrySlow   = "EXPIRY_ENTRY_TOO_SLOW"
	SignalPINEntryTooFast   = "PIN_ENTRY_TOO_FAST"
	SignalPINCadenceTooFast = "PIN_CADENCE_TOO_FAST"
	SignalPINCadenceTooSlow = "PIN_CADENCE_TOO_SLOW"
	SignalPasteEvent        = "PASTE_EVENT"
	SignalAmountDeviation   = "AMOUNT_DEVIATION"
	SignalHighVelocity      = "HIGH_VELOCITY"
)

// PaymentRequest is one public payment attempt: the presented credentials
// plus the behavioral timings captured client-side.
type PaymentRequest struct {
	CardNumber  string
	Expiry      string // MM/YY as typed
	PIN         string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Signals     models.BehavioralSignals
}

// riskRule is one row of the deduction table: a label, a weight from
// policy, and the predicate deciding whether it fires. All rows are
// evaluated independently.
type riskRule struct {
	signal string
	points int
	fires  func(*riskContext) bool
}

// riskContext is the evaluated state one attempt is scored against.
type riskContext struct {
	req     *PaymentRequest
	card    *models.Card
	profile *models.Profile
	now     time.Time
}

func (s *Service) riskRules() []riskRule {
	p := s.config.Risk
	return []riskRule{
		{SignalExpiryMismatch, p.ExpiryMismatchDeduct, func(c *riskContext) bool {
			return !expiryMatches(c.card, c.req.Expiry)
		}},
		{SignalPINMismatch, p.PINMismatchDeduct, func(c *riskContext) bool {
			return bcrypt.CompareHashAndPassword([]byte(c.card.PINHash), []byte(c.req.PIN)) != nil
		}},
		{SignalCardEntryTooFast, p.CardEntryFastDeduct, func(c *riskContext) bool {
			return c.req.Signals.CardNumberEntryMs < p.CardEntryFastMs
		}},
		{SignalCardEntryTooSlow, p.CardEntrySlowDeduct, func(c *riskContext) bool {
			return c.req.Signals.CardNumberEntryMs > p.CardEntrySlowMs
		}},
		{SignalExpiryEntrySlow, p.ExpiryEntrySlowDeduct, func(c *riskContext) bool {
			return c.req.Signals.ExpiryEntryMs > p.ExpiryEntrySlowMs
		}},
		{SignalPINEntryTooFast, p.PINEntryFastDeduct, func(c *riskContext) bool {
			return c.req.Signals.PINEntryMs < p.PINEntryFastMs
		}},
		{SignalPINCadenceTooFast, p.PINCadenceFastDeduct, func(c *riskContext) bool {
			return c.req.Signals.PINInterKeystrokeMs < p.PINCadenceFastMs
		}},
		{SignalPINCadenceTooSlow, p.PINCadenceSlowDeduct, func(c *riskContext) bool {
			return c.req.Signals.PINInterKeystrokeMs > p.PINCadenceSlowMs
		}},
		{SignalPasteEvent, p.PasteEventDeduct, func(c *riskContext) bool {
			return c.req.Signals.PasteEvents > 0
		}},
		{SignalAmountDeviation, p.AmountDeviationDeduct, func(c *riskContext) bool {
			return amountDeviates(c.profile, c.req.Amount, p.AmountDeviationZScore)
		}},
		{SignalHighVelocity, p.VelocityDeduct, func(c *riskContext) bool {
			if c.profile.LastTransactionAt == nil {
				return false
			}
			return c.now.Sub(*c.profile.LastTransactionAt) < time.Duration(p.VelocityWindowSeconds)*time.Second
		}},
	}
}

// AssessAndAuthorize scores a payment attempt and, when allowed, captures it
// immediately against the card's account. Every attempt lands in the audit
// trail; the caller only ever learns "declined", never which check failed.
func (s *Service) AssessAndAuthorize(ctx context.Context, req *PaymentRequest) (*models.Transaction, *models.RiskAssessment, error) {
	if err := validatePIN(req.PIN); err != nil {
		return nil, nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, nil, validationErrorf("amount must be positive")
	}

	now := s.now()
	card, err := s.store.GetCardByNumber(ctx, req.CardNumber)
	if err != nil {
		// Hard fail: no further signals are evaluated and no profile is
		// attributable. Audit the attempt, decline opaquely.
		assessment := &models.RiskAssessment{
			ID:        uuid.New(),
			Amount:    req.Amount,
			Score:     0,
			Decision:  models.RiskDecisionBlock,
			Signals:   []string{SignalCardNotFound},
			CreatedAt: now,
		}
		if err := s.store.CreateRiskAssessment(ctx, assessment); err != nil {
			return nil, nil, err
		}
		s.log.Warnf("Payment attempt blocked: card not found")
		return nil, assessment, ErrPaymentDeclined
	}

	profile, err := s.store.GetProfile(ctx, card.ProfileID)
	if err != nil {
		return nil, nil, err
	}

	rc := &riskContext{req: req, card: card, profile: profile, now: now}
	score := 100
	var signals []string
	for _, rule := range s.riskRules() {
		if rule.fires(rc) {
			score -= rule.points
			signals = append(signals, rule.signal)
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	decision := models.RiskDecisionAllow
	if score <= s.config.Risk.BlockThreshold {
		decision = models.RiskDecisionBlock
	}

	assessment := &models.RiskAssessment{
		ID:        uuid.New(),
		ProfileID: profile.ID,
		CardID:    &card.ID,
		Amount:    req.Amount,
		Score:     score,
		Decision:  decision,
		Signals:   signals,
		CreatedAt: now,
	}

	if decision == models.RiskDecisionBlock {
		if err := s.store.CreateRiskAssessment(ctx, assessment); err != nil {
			return nil, nil, err
		}
		s.log.Warnf("Payment attempt blocked for profile %d: score %d, signals %v", profile.ID, score, signals)
		return nil, assessment, ErrPaymentDeclined
	}

	txn, err := s.ProcessImmediate(ctx, AuthorizeInput{
		CardID:      card.ID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Type:        models.TransactionTypePurchase,
		Description: req.Description,
	})
	if err != nil {
		// Allowed by risk but refused by the ledger. The audit record keeps
		// the allow verdict; the public caller still sees only a decline.
		if persistErr := s.store.CreateRiskAssessment(ctx, assessment); persistErr != nil {
			return nil, nil, persistErr
		}
		s.log.Warnf("Allowed payment refused by ledger for profile %d: %v", profile.ID, err)
		return nil, assessment, ErrPaymentDeclined
	}

	assessment.TransactionID = &txn.ID
	if err := s.store.CreateRiskAssessment(ctx, assessment); err != nil {
		return nil, nil, err
	}

	if err := s.updateProfileStats(ctx, profile, txn.Amount, now); err != nil {
		s.log.Warnf("Rolling stats update failed for profile %d: %v", profile.ID, err)
	}

	s.log.Infof("Payment of %s approved for profile %d with score %d", txn.Amount, profile.ID, score)
	return txn, assessment, nil
}

// updateProfileStats folds a successful transaction into the profile's
// rolling mean and standard deviation (Welford's online update).
func (s *Service) updateProfileStats(ctx context.Context, profile *models.Profile, amount decimal.Decimal, at time.Time) error {
	mean, _ := profile.AvgTransactionAmount.Float64()
	stddev, _ := profile.TransactionAmountStddev.Float64()
	x, _ := amount.Float64()

	n := float64(profile.TransactionCount)
	m2 := stddev * stddev * n

	n++
	delta := x - mean
	mean += delta / n
	m2 += delta * (x - mean)
	variance := m2 / n

	profile.TransactionCount = int64(n)
	profile.AvgTransactionAmount = decimal.NewFromFloat(mean).Round(2)
	profile.TransactionAmountStddev = decimal.NewFromFloat(math.Sqrt(variance)).Round(2)
	profile.LastTransactionAt = &at
	return s.store.UpdateProfileStats(ctx, profile)
}

// amountDeviates reports whether the amount sits more than zMax standard
// deviations from the profile's historical mean. Profiles without a
// baseline never fire this signal.
func amountDeviates(profile *models.Profile, amount decimal.Decimal, zMax float64) bool {
	if profile.AvgTransactionAmount.IsZero() || profile.TransactionAmountStddev.IsZero() {
		return false
	}
	avg, _ := profile.AvgTransactionAmount.Float64()
	stddev, _ := profile.TransactionAmountStddev.Float64()
	x, _ := amount.Float64()
	return math.Abs(x-avg)/stddev > zMax
}
