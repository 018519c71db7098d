package service

import (
	"context"
	"fmt"
	"io"
	mrand "math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridianpay/cardcore/internal/cardnum"
	"github.com/meridianpay/cardcore/internal/config"
	"github.com/meridianpay/cardcore/internal/models"
	"github.com/meridianpay/cardcore/internal/repository"
)

// fakeClock is a settable wall clock shared by a test and its service.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

// fixedRates returns the same rate for every currency pair.
type fixedRates struct {
	rate decimal.Decimal
	err  error
}

func (f *fixedRates) Rate(context.Context, string, string) (decimal.Decimal, error) {
	return f.rate, f.err
}

// recordingNotifier captures statement notifications.
type recordingNotifier struct {
	mu     sync.Mutex
	closed []int64
}

func (n *recordingNotifier) StatementClosed(_ context.Context, _ *models.Profile, _ *models.Account, st *models.Statement) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, st.ID)
	return nil
}

type fixture struct {
	svc      *Service
	store    *repository.Memory
	clock    *fakeClock
	rates    *fixedRates
	notifier *recordingNotifier
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, func(m *repository.Memory) repository.Store { return m })
}

// newFixtureWithStore lets a test interpose on the store the service sees;
// seeds still go straight to the underlying Memory.
func newFixtureWithStore(t *testing.T, wrap func(*repository.Memory) repository.Store) *fixture {
	t.Helper()
	cfg := &config.Config{
		IssuerSegmentLen:  4,
		CardValidityYears: 3,
		GracePeriodDays:   21,
		Risk:              config.DefaultRiskPolicy(),
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := repository.NewMemory()
	clock := newFakeClock(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	rates := &fixedRates{rate: decimal.NewFromInt(1)}
	notifier := &recordingNotifier{}
	codec := cardnum.NewCodec(cfg.IssuerSegmentLen, mrand.New(mrand.NewSource(7)))

	svc := NewService(wrap(store), codec, rates, notifier, log, cfg, WithClock(clock.Now))
	return &fixture{svc: svc, store: store, clock: clock, rates: rates, notifier: notifier, cfg: cfg}
}

func (f *fixture) seedProfile(t *testing.T, name string) *models.Profile {
	t.Helper()
	profile := &models.Profile{Name: name, Email: "holder@example.com"}
	require.NoError(t, f.store.CreateProfile(context.Background(), profile))
	return profile
}

func (f *fixture) seedCreditAccount(t *testing.T, profileID int64, balance, limit float64) *models.Account {
	t.Helper()
	account := &models.Account{
		ProfileID:             profileID,
		Kind:                  models.AccountKindCredit,
		Balance:               decimal.NewFromFloat(balance),
		Currency:              "USD",
		CreditLimit:           decimal.NewFromFloat(limit),
		CashAdvanceLimit:      decimal.NewFromFloat(limit / 2),
		PurchaseAPR:           decimal.NewFromFloat(19.99),
		CashAdvanceAPR:        decimal.NewFromFloat(24.99),
		BillingCycleAnchorDay: 15,
		GracePeriodDays:       21,
	}
	require.NoError(t, f.store.CreateAccount(context.Background(), account))
	return account
}

func (f *fixture) seedDebitAccount(t *testing.T, profileID int64, balance float64) *models.Account {
	t.Helper()
	account := &models.Account{
		ProfileID: profileID,
		Kind:      models.AccountKindDebit,
		Balance:   decimal.NewFromFloat(balance),
		Currency:  "USD",
	}
	require.NoError(t, f.store.CreateAccount(context.Background(), account))
	return account
}

const testPIN = "4321"

func (f *fixture) seedCard(t *testing.T, profileID, accountID int64) *models.Card {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPIN), bcrypt.MinCost)
	require.NoError(t, err)

	expiry := f.clock.Now().AddDate(3, 0, 0)
	card := &models.Card{
		ProfileID:   profileID,
		AccountID:   accountID,
		Number:      fmt.Sprintf("JDMP01AB%07d0", accountID),
		Status:      models.CardStatusActive,
		ExpiryYear:  expiry.Year(),
		ExpiryMonth: int(expiry.Month()),
		PINHash:     string(hash),
	}
	require.NoError(t, f.store.CreateCard(context.Background(), card))
	return card
}

// cardExpiry formats the stored expiry the way a cardholder would type it.
func cardExpiry(card *models.Card) string {
	return fmt.Sprintf("%02d/%02d", card.ExpiryMonth, card.ExpiryYear%100)
}

// neutralSignals fire no behavioral deduction under the default policy.
func neutralSignals() models.BehavioralSignals {
	return models.BehavioralSignals{
		CardNumberEntryMs:   5000,
		ExpiryEntryMs:       3000,
		PINEntryMs:          1500,
		PINInterKeystrokeMs: 200,
		PasteEvents:         0,
	}
}

func money(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }
