package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianpay/cardcore/internal/models"
)

func TestProcessImmediatePostsBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 5000)
	card := f.seedCard(t, profile.ID, account.ID)

	txn, err := f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(120.50), Type: models.TransactionTypePurchase, Description: "groceries",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCaptured, txn.Status)
	require.NotNil(t, txn.AuthorizedAt)

	got, err := f.store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(money(120.50)), "balance %s", got.Balance)
}

func TestAuthorizeRejectsInactiveCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 5000)
	card := f.seedCard(t, profile.ID, account.ID)

	card.Status = models.CardStatusBlocked
	require.NoError(t, f.store.UpdateCard(ctx, card))

	_, err := f.svc.Authorize(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(10), Type: models.TransactionTypePurchase, CaptureDelayHours: 2,
	})
	assert.ErrorIs(t, err, ErrCardNotActive)
}

func TestCreditLimitBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")

	// $3,900 + $1,200 = $5,100 > $5,000: rejected.
	over := f.seedCreditAccount(t, profile.ID, 3900, 5000)
	overCard := f.seedCard(t, profile.ID, over.ID)
	_, err := f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: overCard.ID, Amount: money(1200), Type: models.TransactionTypePurchase,
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// $3,800 + $1,200 = $5,000 exactly: boundary inclusive, accepted.
	exact := f.seedCreditAccount(t, profile.ID, 3800, 5000)
	exactCard := f.seedCard(t, profile.ID, exact.ID)
	_, err = f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: exactCard.ID, Amount: money(1200), Type: models.TransactionTypePurchase,
	})
	require.NoError(t, err)

	got, err := f.store.GetAccount(ctx, exact.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(money(5000)), "balance %s", got.Balance)
	assert.False(t, got.OverLimit)
}

func TestCashAdvanceChecksItsOwnLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	// Credit limit 5000, cash advance limit 2500.
	account := f.seedCreditAccount(t, profile.ID, 2000, 5000)
	card := f.seedCard(t, profile.ID, account.ID)

	_, err := f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(600), Type: models.TransactionTypeCashAdvance,
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds, "2000+600 exceeds the 2500 cash advance limit")

	_, err = f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(500), Type: models.TransactionTypeCashAdvance,
	})
	assert.NoError(t, err, "2000+500 lands exactly on the cash advance limit")
}

func TestDebitInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedDebitAccount(t, profile.ID, 50)
	card := f.seedCard(t, profile.ID, account.ID)

	_, err := f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(50.01), Type: models.TransactionTypePurchase,
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	txn, err := f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(50), Type: models.TransactionTypePurchase,
	})
	require.NoError(t, err)
	assert.True(t, txn.Amount.Equal(money(50)))

	got, _ := f.store.GetAccount(ctx, account.ID)
	assert.True(t, got.Balance.IsZero(), "balance %s", got.Balance)
}

func TestHoldThenCaptureWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 5000)
	card := f.seedCard(t, profile.ID, account.ID)

	hold, err := f.svc.Authorize(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(300), Type: models.TransactionTypePurchase, CaptureDelayHours: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPendingAuthorization, hold.Status)
	require.NotNil(t, hold.ExpiresAt)

	// The hold reserves but does not post.
	got, _ := f.store.GetAccount(ctx, account.ID)
	assert.True(t, got.Balance.IsZero())

	f.clock.Advance(90 * time.Minute)
	captured, err := f.svc.Capture(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCaptured, captured.Status)

	got, _ = f.store.GetAccount(ctx, account.ID)
	assert.True(t, got.Balance.Equal(money(300)))
}

func TestCaptureAfterWindowIsNotCapturable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 5000)
	card := f.seedCard(t, profile.ID, account.ID)

	hold, err := f.svc.Authorize(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(300), Type: models.TransactionTypePurchase, CaptureDelayHours: 2,
	})
	require.NoError(t, err)

	f.clock.Advance(2*time.Hour + time.Second)
	_, err = f.svc.Capture(ctx, hold.ID)
	assert.ErrorIs(t, err, ErrTransactionNotCapturable)

	// Lazy expiry materialized on the failed capture.
	got, err := f.store.GetTransaction(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusExpired, got.Status)

	// Balance never moved.
	account, _ = f.store.GetAccount(ctx, account.ID)
	assert.True(t, account.Balance.IsZero())
}

func TestCaptureTerminalTransactionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 5000)
	card := f.seedCard(t, profile.ID, account.ID)

	txn, err := f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(10), Type: models.TransactionTypePurchase,
	})
	require.NoError(t, err)

	_, err = f.svc.Capture(ctx, txn.ID)
	assert.ErrorIs(t, err, ErrTransactionNotCapturable)
}

func TestHoldsReserveAvailableCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 1000)
	card := f.seedCard(t, profile.ID, account.ID)

	_, err := f.svc.Authorize(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(800), Type: models.TransactionTypePurchase, CaptureDelayHours: 4,
	})
	require.NoError(t, err)

	// The open hold leaves only 200 of headroom.
	_, err = f.svc.Authorize(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(300), Type: models.TransactionTypePurchase, CaptureDelayHours: 4,
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(200), Type: models.TransactionTypePurchase,
	})
	assert.NoError(t, err)
}

func TestExpiredHoldFreesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 1000)
	card := f.seedCard(t, profile.ID, account.ID)

	_, err := f.svc.Authorize(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(800), Type: models.TransactionTypePurchase, CaptureDelayHours: 1,
	})
	require.NoError(t, err)

	// Once the hold lapses it stops reserving, sweep or no sweep.
	f.clock.Advance(61 * time.Minute)
	_, err = f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(900), Type: models.TransactionTypePurchase,
	})
	assert.NoError(t, err)
}

func TestReversePendingReleasesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 1000)
	card := f.seedCard(t, profile.ID, account.ID)

	hold, err := f.svc.Authorize(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(1000), Type: models.TransactionTypePurchase, CaptureDelayHours: 4,
	})
	require.NoError(t, err)

	reversed, err := f.svc.Reverse(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusReversed, reversed.Status)

	// Reservation released: a fresh full-limit authorization passes.
	_, err = f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(1000), Type: models.TransactionTypePurchase,
	})
	assert.NoError(t, err)
}

func TestReverseCapturedRefundsBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 1000)
	card := f.seedCard(t, profile.ID, account.ID)

	txn, err := f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(400), Type: models.TransactionTypePurchase,
	})
	require.NoError(t, err)

	_, err = f.svc.Reverse(ctx, txn.ID)
	require.NoError(t, err)

	got, _ := f.store.GetAccount(ctx, account.ID)
	assert.True(t, got.Balance.IsZero(), "balance %s", got.Balance)

	// Terminal now: a second reverse must fail.
	_, err = f.svc.Reverse(ctx, txn.ID)
	assert.ErrorIs(t, err, ErrTransactionNotReversible)
}

func TestCurrencyConversionWithPinnedRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 5000)
	card := f.seedCard(t, profile.ID, account.ID)

	rate := decimal.NewFromFloat(1.08)
	txn, err := f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(100), Currency: "EUR",
		Type: models.TransactionTypePurchase, ExchangeRate: &rate,
	})
	require.NoError(t, err)

	assert.Equal(t, "USD", txn.Currency)
	assert.True(t, txn.Amount.Equal(money(108)), "amount %s", txn.Amount)
	require.NotNil(t, txn.OriginalAmount)
	assert.True(t, txn.OriginalAmount.Equal(money(100)))
	require.NotNil(t, txn.OriginalCurrency)
	assert.Equal(t, "EUR", *txn.OriginalCurrency)
	require.NotNil(t, txn.ExchangeRate)
	assert.True(t, txn.ExchangeRate.Equal(rate))
}

func TestCurrencyConversionViaRateSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 5000)
	card := f.seedCard(t, profile.ID, account.ID)

	f.rates.rate = decimal.NewFromFloat(0.79)
	txn, err := f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(200), Currency: "GBP", Type: models.TransactionTypePurchase,
	})
	require.NoError(t, err)
	assert.True(t, txn.Amount.Equal(money(158)), "amount %s", txn.Amount)
}

func TestPaymentSettlesOpenStatement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 500, 5000)
	card := f.seedCard(t, profile.ID, account.ID)

	statement := &models.Statement{
		AccountID:      account.ID,
		PeriodStart:    f.clock.Now().AddDate(0, -1, 0),
		PeriodEnd:      f.clock.Now().AddDate(0, 0, -1),
		ClosingBalance: money(500),
		MinimumPayment: money(25),
		PaymentDueDate: f.clock.Now().AddDate(0, 0, 20),
	}
	require.NoError(t, f.store.CreateStatement(ctx, statement))
	account.CurrentStatementID = &statement.ID
	require.NoError(t, f.store.UpdateAccount(ctx, account))

	_, err := f.svc.ProcessImmediate(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(500), Type: models.TransactionTypePayment, Description: "payment",
	})
	require.NoError(t, err)

	got, _ := f.store.GetAccount(ctx, account.ID)
	assert.True(t, got.Balance.IsZero())

	settled, err := f.store.GetStatement(ctx, statement.ID)
	require.NoError(t, err)
	assert.True(t, settled.IsPaidInFull)
}

func TestValidationRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var vErr *ValidationError
	_, err := f.svc.Authorize(ctx, AuthorizeInput{CardID: 1, Amount: money(-5), Type: models.TransactionTypePurchase})
	assert.ErrorAs(t, err, &vErr)

	_, err = f.svc.Authorize(ctx, AuthorizeInput{CardID: 1, Amount: money(5), Type: models.TransactionTypeInterestCharge})
	assert.ErrorAs(t, err, &vErr, "interest charges are internal to the statement engine")

	_, err = f.svc.Authorize(ctx, AuthorizeInput{CardID: 1, Amount: money(5), Type: models.TransactionTypePurchase, CaptureDelayHours: -1})
	assert.ErrorAs(t, err, &vErr)
}

// Concurrent authorizations against one account must never jointly overdraw
// past the credit limit.
func TestConcurrentAuthorizationsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 1000)
	card := f.seedCard(t, profile.ID, account.ID)

	const workers = 20
	var wg sync.WaitGroup
	succeeded := make(chan decimal.Decimal, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txn, err := f.svc.ProcessImmediate(ctx, AuthorizeInput{
				CardID: card.ID, Amount: money(150), Type: models.TransactionTypePurchase,
			})
			if err == nil {
				succeeded <- txn.Amount
			}
		}()
	}
	wg.Wait()
	close(succeeded)

	total := decimal.Zero
	for amt := range succeeded {
		total = total.Add(amt)
	}

	got, err := f.store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(total), "posted balance %s vs captured sum %s", got.Balance, total)
	assert.True(t, got.Balance.LessThanOrEqual(account.CreditLimit),
		"balance %s exceeds limit %s", got.Balance, account.CreditLimit)
	// 6 * 150 = 900 fits, 7 * 150 = 1050 does not.
	assert.True(t, got.Balance.Equal(money(900)), "expected exactly six captures, balance %s", got.Balance)
}

func TestExpireStaleAuthorizationsSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.seedProfile(t, "Jane Doe")
	account := f.seedCreditAccount(t, profile.ID, 0, 5000)
	card := f.seedCard(t, profile.ID, account.ID)

	hold, err := f.svc.Authorize(ctx, AuthorizeInput{
		CardID: card.ID, Amount: money(100), Type: models.TransactionTypePurchase, CaptureDelayHours: 1,
	})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	flipped, err := f.svc.ExpireStaleAuthorizations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flipped)

	got, _ := f.store.GetTransaction(ctx, hold.ID)
	assert.Equal(t, models.TransactionStatusExpired, got.Status)
}
