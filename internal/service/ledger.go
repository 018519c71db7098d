package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/cardcore/internal/models"
)

// AuthorizeInput carries one authorization request. Currency may differ from
// the account currency; the caller can pin the conversion rate, otherwise
// the rate source is consulted.
type AuthorizeInput struct {
	CardID            int64
	Amount            decimal.Decimal
	Currency          string
	Type              models.TransactionType
	Description       string
	CaptureDelayHours int
	ExchangeRate      *decimal.Decimal
}

// Authorize places a hold against the card's account. The hold reserves the
// amount for CaptureDelayHours; a zero delay is the point-of-sale case and
// captures in the same unit of work.
func (s *Service) Authorize(ctx context.Context, in AuthorizeInput) (*models.Transaction, error) {
	if err := validateAuthorizeInput(in); err != nil {
		return nil, err
	}
	if in.CaptureDelayHours == 0 {
		return s.ProcessImmediate(ctx, in)
	}

	card, account, err := s.resolveCard(ctx, in.CardID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockAccount(account.ID)
	defer unlock()

	// Reload under the lock so the limit check sees the serialized state.
	account, err = s.store.GetAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	txn, err := s.buildTransaction(ctx, card, account, in)
	if err != nil {
		return nil, err
	}
	if err := s.checkFunds(ctx, account, txn.Type, txn.Amount); err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(time.Duration(in.CaptureDelayHours) * time.Hour)
	txn.Status = models.TransactionStatusPendingAuthorization
	txn.ExpiresAt = &expiresAt

	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	s.log.Infof("Authorization %d placed on account %d for %s %s, capturable until %s",
		txn.ID, account.ID, txn.Amount, txn.Currency, expiresAt.Format(time.RFC3339))
	return txn, nil
}

// ProcessImmediate composes authorize and capture atomically: the common
// point-of-sale path. The transaction is created captured and the balance
// posted in one unit of work.
func (s *Service) ProcessImmediate(ctx context.Context, in AuthorizeInput) (*models.Transaction, error) {
	in.CaptureDelayHours = 0
	if err := validateAuthorizeInput(in); err != nil {
		return nil, err
	}

	card, account, err := s.resolveCard(ctx, in.CardID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockAccount(account.ID)
	defer unlock()

	account, err = s.store.GetAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	txn, err := s.buildTransaction(ctx, card, account, in)
	if err != nil {
		return nil, err
	}
	if err := s.checkFunds(ctx, account, txn.Type, txn.Amount); err != nil {
		return nil, err
	}

	now := s.now()
	txn.Status = models.TransactionStatusCaptured
	txn.AuthorizedAt = &now
	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := s.postToBalance(ctx, account, txn); err != nil {
		return nil, err
	}

	s.log.Infof("Transaction %d captured immediately on account %d for %s %s",
		txn.ID, account.ID, txn.Amount, txn.Currency)
	return txn, nil
}

// Capture posts a previously authorized hold to the ledger. Only legal while
// the hold is still pending and inside its window; everything else is
// ErrTransactionNotCapturable.
func (s *Service) Capture(ctx context.Context, transactionID int64) (*models.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockAccount(txn.AccountID)
	defer unlock()

	txn, err = s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch txn.EffectiveStatus(now) {
	case models.TransactionStatusPendingAuthorization:
		// capturable
	case models.TransactionStatusExpired:
		// Materialize the lazy expiry while we hold the lock.
		if txn.Status == models.TransactionStatusPendingAuthorization {
			txn.Status = models.TransactionStatusExpired
			if err := s.store.UpdateTransaction(ctx, txn); err != nil {
				return nil, err
			}
		}
		return nil, fmt.Errorf("transaction %d: %w", transactionID, ErrTransactionNotCapturable)
	default:
		return nil, fmt.Errorf("transaction %d: %w", transactionID, ErrTransactionNotCapturable)
	}

	account, err := s.store.GetAccount(ctx, txn.AccountID)
	if err != nil {
		return nil, err
	}

	txn.Status = models.TransactionStatusCaptured
	txn.AuthorizedAt = &now
	if err := s.store.UpdateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := s.postToBalance(ctx, account, txn); err != nil {
		return nil, err
	}

	s.log.Infof("Transaction %d captured on account %d", txn.ID, account.ID)
	return txn, nil
}

// Reverse voids a pending hold or undoes a captured posting. Terminal
// expired and reversed transactions cannot be reversed.
func (s *Service) Reverse(ctx context.Context, transactionID int64) (*models.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockAccount(txn.AccountID)
	defer unlock()

	txn, err = s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	switch txn.EffectiveStatus(s.now()) {
	case models.TransactionStatusPendingAuthorization:
		// Releasing a reservation: nothing was posted, just drop the hold.
		txn.Status = models.TransactionStatusReversed
		if err := s.store.UpdateTransaction(ctx, txn); err != nil {
			return nil, err
		}
	case models.TransactionStatusCaptured:
		account, err := s.store.GetAccount(ctx, txn.AccountID)
		if err != nil {
			return nil, err
		}
		account.Balance = account.Balance.Sub(signedEffect(account.Kind, txn.Type, txn.Amount))
		account.OverLimit = account.Kind == models.AccountKindCredit && account.Balance.GreaterThan(account.CreditLimit)
		txn.Status = models.TransactionStatusReversed
		if err := s.store.UpdateTransaction(ctx, txn); err != nil {
			return nil, err
		}
		if err := s.store.UpdateAccount(ctx, account); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("transaction %d: %w", transactionID, ErrTransactionNotReversible)
	}

	s.log.Infof("Transaction %d reversed", txn.ID)
	return txn, nil
}

// ExpireStaleAuthorizations materializes the expired status on stale holds.
// Purely an optimization: reads already treat stale holds as expired.
func (s *Service) ExpireStaleAuthorizations(ctx context.Context) (int, error) {
	stale, err := s.store.ListStaleAuthorizations(ctx, s.now())
	if err != nil {
		return 0, err
	}
	flipped := 0
	for _, txn := range stale {
		unlock := s.lockAccount(txn.AccountID)
		current, err := s.store.GetTransaction(ctx, txn.ID)
		if err == nil && current.Status == models.TransactionStatusPendingAuthorization {
			current.Status = models.TransactionStatusExpired
			if err := s.store.UpdateTransaction(ctx, current); err == nil {
				flipped++
			}
		}
		unlock()
	}
	if flipped > 0 {
		s.log.Infof("Expired %d stale authorizations", flipped)
	}
	return flipped, nil
}

func (s *Service) resolveCard(ctx context.Context, cardID int64) (*models.Card, *models.Account, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, nil, err
	}
	if card.Status != models.CardStatusActive || card.Expired(s.now()) {
		return nil, nil, fmt.Errorf("card %d: %w", cardID, ErrCardNotActive)
	}
	account, err := s.store.GetAccount(ctx, card.AccountID)
	if err != nil {
		return nil, nil, err
	}
	return card, account, nil
}

// buildTransaction converts the presentment into account currency and fills
// the conversion audit fields when a conversion happened.
func (s *Service) buildTransaction(ctx context.Context, card *models.Card, account *models.Account, in AuthorizeInput) (*models.Transaction, error) {
	txn := &models.Transaction{
		AccountID:   account.ID,
		CardID:      card.ID,
		Amount:      in.Amount.Round(2),
		Currency:    account.Currency,
		Type:        in.Type,
		Description: in.Description,
	}

	presented := in.Currency
	if presented == "" {
		presented = account.Currency
	}
	if presented != account.Currency {
		rate, err := s.exchangeRate(ctx, in, presented, account.Currency)
		if err != nil {
			return nil, err
		}
		orig := in.Amount.Round(2)
		txn.Amount = in.Amount.Mul(rate).Round(2)
		txn.OriginalAmount = &orig
		txn.OriginalCurrency = &presented
		txn.ExchangeRate = &rate
	}
	return txn, nil
}

func (s *Service) exchangeRate(ctx context.Context, in AuthorizeInput, from, to string) (decimal.Decimal, error) {
	if in.ExchangeRate != nil {
		if !in.ExchangeRate.IsPositive() {
			return decimal.Zero, validationErrorf("exchange rate must be positive")
		}
		return *in.ExchangeRate, nil
	}
	if s.rates == nil {
		return decimal.Zero, fmt.Errorf("no exchange rate available for %s->%s", from, to)
	}
	rate, err := s.rates.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate lookup %s->%s failed: %w", from, to, err)
	}
	return rate, nil
}

// checkFunds enforces limits against the serialized account state plus all
// open holds. Boundary is inclusive: landing exactly on the limit passes.
func (s *Service) checkFunds(ctx context.Context, account *models.Account, typ models.TransactionType, amount decimal.Decimal) error {
	if typ == models.TransactionTypePayment {
		return nil
	}

	held, err := s.pendingHeld(ctx, account.ID)
	if err != nil {
		return err
	}

	switch account.Kind {
	case models.AccountKindDebit:
		available := account.Balance.Sub(held)
		if available.LessThan(amount) {
			return fmt.Errorf("account %d: %w", account.ID, ErrInsufficientFunds)
		}
	case models.AccountKindCredit:
		limit := account.CreditLimit
		if typ == models.TransactionTypeCashAdvance {
			limit = account.CashAdvanceLimit
		}
		if account.Balance.Add(held).Add(amount).GreaterThan(limit) {
			return fmt.Errorf("account %d: %w", account.ID, ErrInsufficientFunds)
		}
	}
	return nil
}

// pendingHeld sums the open (unexpired) authorization holds on an account.
func (s *Service) pendingHeld(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	pending, err := s.store.ListPendingAuthorizations(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	now := s.now()
	held := decimal.Zero
	for _, p := range pending {
		if p.EffectiveStatus(now) != models.TransactionStatusPendingAuthorization {
			continue
		}
		if p.Type == models.TransactionTypePayment {
			continue
		}
		held = held.Add(p.Amount)
	}
	return held, nil
}

// postToBalance applies a captured transaction to the account, recomputes
// the over-limit flag and settles the paid-in-full marker on payments.
func (s *Service) postToBalance(ctx context.Context, account *models.Account, txn *models.Transaction) error {
	account.Balance = account.Balance.Add(signedEffect(account.Kind, txn.Type, txn.Amount))
	account.OverLimit = account.Kind == models.AccountKindCredit && account.Balance.GreaterThan(account.CreditLimit)
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		return err
	}

	if txn.Type == models.TransactionTypePayment && account.Kind == models.AccountKindCredit && account.CurrentStatementID != nil {
		if err := s.settleStatement(ctx, *account.CurrentStatementID, txn.Amount); err != nil {
			return err
		}
	}
	return nil
}

// settleStatement flags the open statement paid in full once a single
// payment covers its closing balance.
func (s *Service) settleStatement(ctx context.Context, statementID int64, paid decimal.Decimal) error {
	statement, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		return err
	}
	if !statement.IsPaidInFull && paid.GreaterThanOrEqual(statement.ClosingBalance) {
		statement.IsPaidInFull = true
		if err := s.store.UpdateStatement(ctx, statement); err != nil {
			return err
		}
		s.log.Infof("Statement %d paid in full", statementID)
	}
	return nil
}

// signedEffect is the balance delta a captured transaction causes. Credit
// balances grow with spending and shrink with payments; debit balances do
// the opposite.
func signedEffect(kind models.AccountKind, typ models.TransactionType, amount decimal.Decimal) decimal.Decimal {
	spend := typ == models.TransactionTypePurchase ||
		typ == models.TransactionTypeCashAdvance ||
		typ == models.TransactionTypeInterestCharge
	if kind == models.AccountKindCredit {
		if spend {
			return amount
		}
		return amount.Neg()
	}
	if spend {
		return amount.Neg()
	}
	return amount
}

func validateAuthorizeInput(in AuthorizeInput) error {
	if !in.Amount.IsPositive() {
		return validationErrorf("amount must be positive")
	}
	switch in.Type {
	case models.TransactionTypePurchase, models.TransactionTypeCashAdvance, models.TransactionTypePayment:
	default:
		return validationErrorf("unsupported transaction type")
	}
	if in.CaptureDelayHours < 0 {
		return validationErrorf("capture delay must not be negative")
	}
	return nil
}
