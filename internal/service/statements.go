package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/cardcore/internal/models"
)

var (
	daysPerYear         = decimal.NewFromInt(365)
	hundred             = decimal.NewFromInt(100)
	minimumPaymentFloor = decimal.NewFromInt(25)
	onePercent          = decimal.NewFromFloat(0.01)
)

// BatchResult reports one statement batch run. Failures are collected per
// account; one account's error never aborts the others.
type BatchResult struct {
	ProcessedAccountIDs []int64
	SkippedAccountIDs   []int64
	Errors              map[int64]error
}

// RunStatementBatch closes the billing cycle for every credit account whose
// anchor day matches asOfDate, accrues interest on the unpaid previous
// statement and opens the next statement. Safe to re-run for the same day:
// statement creation is keyed on (account, period start).
func (s *Service) RunStatementBatch(ctx context.Context, asOfDate time.Time) (*BatchResult, error) {
	asOf := truncateToDay(asOfDate)
	accounts, err := s.store.ListAccountsByAnchorDay(ctx, asOf.Day())
	if err != nil {
		return nil, fmt.Errorf("failed to select accounts for batch: %w", err)
	}

	result := &BatchResult{Errors: make(map[int64]error)}
	for _, account := range accounts {
		processed, err := s.closeCycle(ctx, account.ID, asOf)
		if err != nil {
			s.log.Errorf("Statement batch failed for account %d: %v", account.ID, err)
			result.Errors[account.ID] = err
			continue
		}
		if processed {
			result.ProcessedAccountIDs = append(result.ProcessedAccountIDs, account.ID)
		} else {
			result.SkippedAccountIDs = append(result.SkippedAccountIDs, account.ID)
		}
	}

	s.log.Infof("Statement batch for %s: %d processed, %d skipped, %d failed",
		asOf.Format("2006-01-02"), len(result.ProcessedAccountIDs), len(result.SkippedAccountIDs), len(result.Errors))
	return result, nil
}

// closeCycle processes one account. Returns false when the period's
// statement already exists (idempotent re-run).
func (s *Service) closeCycle(ctx context.Context, accountID int64, asOf time.Time) (bool, error) {
	unlock := s.lockAccount(accountID)
	defer unlock()

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}

	if existing, err := s.store.FindStatementByPeriodStart(ctx, accountID, asOf); err == nil {
		// Re-run after a partial failure: the statement exists, so only
		// finish the pieces that may not have landed. Interest is never
		// recomputed, it is read back off the statement.
		if err := s.finishCycle(ctx, account, existing); err != nil {
			return false, err
		}
		return false, nil
	}

	var previous *models.Statement
	if account.CurrentStatementID != nil {
		previous, err = s.store.GetStatement(ctx, *account.CurrentStatementID)
		if err != nil {
			return false, err
		}
	}

	interest, err := s.accrueInterest(ctx, account, previous, asOf)
	if err != nil {
		return false, err
	}

	opening := decimal.Zero
	if previous != nil {
		opening = previous.ClosingBalance
	}
	closing := account.Balance.Add(interest)

	statement := &models.Statement{
		AccountID:       account.ID,
		PeriodStart:     asOf,
		PeriodEnd:       asOf.AddDate(0, 1, -1),
		OpeningBalance:  opening,
		ClosingBalance:  closing,
		MinimumPayment:  minimumPayment(closing, interest),
		PaymentDueDate:  asOf.AddDate(0, 1, -1).AddDate(0, 0, s.gracePeriodDays(account)),
		InterestCharged: interest,
	}
	// The statement is written before any other cycle effect: it is the
	// idempotence gate, so an interrupted run leaves nothing behind that a
	// re-run would duplicate.
	if err := s.store.CreateStatement(ctx, statement); err != nil {
		return false, err
	}

	if err := s.finishCycle(ctx, account, statement); err != nil {
		return false, err
	}

	s.notifyStatementClosed(ctx, account, statement)
	s.log.Infof("Statement %d opened for account %d: closing %s, minimum %s, due %s",
		statement.ID, account.ID, closing, statement.MinimumPayment, statement.PaymentDueDate.Format("2006-01-02"))
	return true, nil
}

// finishCycle applies every cycle effect that follows the statement write:
// posting the interest charge, attributing unbilled transactions and
// advancing the account. Each step checks whether an earlier, possibly
// interrupted run already landed it, so the whole sequence can be replayed.
func (s *Service) finishCycle(ctx context.Context, account *models.Account, statement *models.Statement) error {
	if statement.InterestCharged.IsPositive() {
		posted, err := s.interestPosted(ctx, statement.ID)
		if err != nil {
			return err
		}
		if !posted {
			now := s.now()
			charge := &models.Transaction{
				AccountID:    account.ID,
				Amount:       statement.InterestCharged,
				Currency:     account.Currency,
				Type:         models.TransactionTypeInterestCharge,
				Status:       models.TransactionStatusCaptured,
				Description:  fmt.Sprintf("Interest for cycle ending %s", statement.PeriodStart.Format("2006-01-02")),
				StatementID:  &statement.ID,
				AuthorizedAt: &now,
			}
			if err := s.store.CreateTransaction(ctx, charge); err != nil {
				return err
			}
		}
	}

	if err := s.attachUnbilled(ctx, account.ID, statement.ID); err != nil {
		return err
	}

	if account.CurrentStatementID == nil || *account.CurrentStatementID != statement.ID {
		// Balance and pointer advance in one write, so the pointer also
		// records whether the interest already hit the balance. Interest
		// posting may push the balance over the credit limit; that is
		// allowed and surfaced through the over-limit flag.
		account.Balance = account.Balance.Add(statement.InterestCharged)
		account.OverLimit = account.Balance.GreaterThan(account.CreditLimit)
		account.CurrentStatementID = &statement.ID
		if err := s.store.UpdateAccount(ctx, account); err != nil {
			return err
		}
	}
	return nil
}

// interestPosted reports whether the statement's interest charge already
// exists in the ledger.
func (s *Service) interestPosted(ctx context.Context, statementID int64) (bool, error) {
	txns, err := s.store.ListStatementTransactions(ctx, statementID)
	if err != nil {
		return false, err
	}
	for _, txn := range txns {
		if txn.Type == models.TransactionTypeInterestCharge {
			return true, nil
		}
	}
	return false, nil
}

// accrueInterest computes simple (non-compounding) daily interest over the
// previous statement's transactions. Cash advances accrue from day 0;
// purchases only once the grace period has lapsed unpaid. Transactions
// already produced by interest posting never accrue again.
func (s *Service) accrueInterest(ctx context.Context, account *models.Account, previous *models.Statement, asOf time.Time) (decimal.Decimal, error) {
	if previous == nil || previous.IsPaidInFull {
		return decimal.Zero, nil
	}

	txns, err := s.store.ListStatementTransactions(ctx, previous.ID)
	if err != nil {
		return decimal.Zero, err
	}

	purchaseRate := dailyRate(account.PurchaseAPR)
	cashAdvanceRate := dailyRate(account.CashAdvanceAPR)
	graceLapsed := asOf.After(previous.PaymentDueDate)

	total := decimal.Zero
	for _, txn := range txns {
		if txn.Status != models.TransactionStatusCaptured {
			continue
		}
		days := daysBetween(txn.CreatedAt, asOf)
		if days <= 0 {
			continue
		}
		daysDec := decimal.NewFromInt(days)

		switch txn.Type {
		case models.TransactionTypeCashAdvance:
			total = total.Add(txn.Amount.Mul(cashAdvanceRate).Mul(daysDec))
		case models.TransactionTypePurchase:
			if graceLapsed {
				total = total.Add(txn.Amount.Mul(purchaseRate).Mul(daysDec))
			}
		}
	}
	return total.Round(2), nil
}

func (s *Service) attachUnbilled(ctx context.Context, accountID, statementID int64) error {
	unbilled, err := s.store.ListUnbilledTransactions(ctx, accountID)
	if err != nil {
		return err
	}
	for _, txn := range unbilled {
		txn.StatementID = &statementID
		if err := s.store.UpdateTransaction(ctx, txn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) notifyStatementClosed(ctx context.Context, account *models.Account, statement *models.Statement) {
	if s.notifier == nil {
		return
	}
	profile, err := s.store.GetProfile(ctx, account.ProfileID)
	if err != nil {
		s.log.Warnf("Statement notification skipped for account %d: %v", account.ID, err)
		return
	}
	if err := s.notifier.StatementClosed(ctx, profile, account, statement); err != nil {
		s.log.Warnf("Statement notification failed for account %d: %v", account.ID, err)
	}
}

func (s *Service) gracePeriodDays(account *models.Account) int {
	if account.GracePeriodDays > 0 {
		return account.GracePeriodDays
	}
	return s.config.GracePeriodDays
}

// minimumPayment is max(25, 1% of closing + interest this cycle), never
// more than the closing balance itself and never negative.
func minimumPayment(closing, interest decimal.Decimal) decimal.Decimal {
	if !closing.IsPositive() {
		return decimal.Zero
	}
	minimum := closing.Mul(onePercent).Add(interest).Round(2)
	if minimum.LessThan(minimumPaymentFloor) {
		minimum = minimumPaymentFloor
	}
	if minimum.GreaterThan(closing) {
		minimum = closing
	}
	return minimum
}

func dailyRate(apr decimal.Decimal) decimal.Decimal {
	return apr.Div(hundred).Div(daysPerYear)
}

func daysBetween(from, to time.Time) int64 {
	return int64(truncateToDay(to).Sub(truncateToDay(from)).Hours() / 24)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
