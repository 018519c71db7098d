package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meridianpay/cardcore/internal/models"
)

// Memory is an in-memory Store used in tests and local development. It
// copies values on the way in and out so callers never share memory with
// the store.
type Memory struct {
	mu sync.Mutex

	profiles     map[int64]*models.Profile
	cards        map[int64]*models.Card
	accounts     map[int64]*models.Account
	transactions map[int64]*models.Transaction
	statements   map[int64]*models.Statement
	assessments  []*models.RiskAssessment

	nextID int64
}

// NewMemory initializes an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		profiles:     make(map[int64]*models.Profile),
		cards:        make(map[int64]*models.Card),
		accounts:     make(map[int64]*models.Account),
		transactions: make(map[int64]*models.Transaction),
		statements:   make(map[int64]*models.Statement),
	}
}

func (m *Memory) nextSerial() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateProfile(_ context.Context, profile *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile.ID = m.nextSerial()
	profile.CreatedAt = time.Now()
	cp := *profile
	m.profiles[profile.ID] = &cp
	return nil
}

func (m *Memory) GetProfile(_ context.Context, id int64) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %d: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) UpdateProfileStats(_ context.Context, profile *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profile.ID]
	if !ok {
		return fmt.Errorf("profile %d: %w", profile.ID, ErrNotFound)
	}
	p.AvgTransactionAmount = profile.AvgTransactionAmount
	p.TransactionAmountStddev = profile.TransactionAmountStddev
	p.TransactionCount = profile.TransactionCount
	p.LastTransactionAt = profile.LastTransactionAt
	return nil
}

func (m *Memory) CreateCard(_ context.Context, card *models.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	card.ID = m.nextSerial()
	card.CreatedAt = time.Now()
	card.UpdatedAt = card.CreatedAt
	cp := *card
	m.cards[card.ID] = &cp
	return nil
}

func (m *Memory) GetCard(_ context.Context, id int64) (*models.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %d: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) GetCardByNumber(_ context.Context, number string) (*models.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cards {
		if c.Number == number {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("card number: %w", ErrNotFound)
}

func (m *Memory) UpdateCard(_ context.Context, card *models.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[card.ID]; !ok {
		return fmt.Errorf("card %d: %w", card.ID, ErrNotFound)
	}
	card.UpdatedAt = time.Now()
	cp := *card
	m.cards[card.ID] = &cp
	return nil
}

func (m *Memory) CardNumberExists(_ context.Context, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cards {
		if c.Number == number {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CreateAccount(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account.ID = m.nextSerial()
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	cp := *account
	m.accounts[account.ID] = &cp
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) UpdateAccount(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; !ok {
		return fmt.Errorf("account %d: %w", account.ID, ErrNotFound)
	}
	account.UpdatedAt = time.Now()
	cp := *account
	m.accounts[account.ID] = &cp
	return nil
}

func (m *Memory) ListAccountsByAnchorDay(_ context.Context, day int) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Account
	for _, a := range m.accounts {
		if a.Kind == models.AccountKindCredit && a.BillingCycleAnchorDay == day {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateTransaction(_ context.Context, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn.ID = m.nextSerial()
	txn.CreatedAt = time.Now()
	txn.UpdatedAt = txn.CreatedAt
	cp := *txn
	m.transactions[txn.ID] = &cp
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id int64) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) UpdateTransaction(_ context.Context, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[txn.ID]; !ok {
		return fmt.Errorf("transaction %d: %w", txn.ID, ErrNotFound)
	}
	txn.UpdatedAt = time.Now()
	cp := *txn
	m.transactions[txn.ID] = &cp
	return nil
}

func (m *Memory) listTransactions(match func(*models.Transaction) bool) []*models.Transaction {
	var out []*models.Transaction
	for _, t := range m.transactions {
		if match(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) ListStatementTransactions(_ context.Context, statementID int64) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listTransactions(func(t *models.Transaction) bool {
		return t.StatementID != nil && *t.StatementID == statementID
	}), nil
}

func (m *Memory) ListUnbilledTransactions(_ context.Context, accountID int64) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listTransactions(func(t *models.Transaction) bool {
		return t.AccountID == accountID && t.StatementID == nil && t.Status == models.TransactionStatusCaptured
	}), nil
}

func (m *Memory) ListPendingAuthorizations(_ context.Context, accountID int64) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listTransactions(func(t *models.Transaction) bool {
		return t.AccountID == accountID && t.Status == models.TransactionStatusPendingAuthorization
	}), nil
}

func (m *Memory) ListStaleAuthorizations(_ context.Context, asOf time.Time) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listTransactions(func(t *models.Transaction) bool {
		return t.Status == models.TransactionStatusPendingAuthorization &&
			t.ExpiresAt != nil && !asOf.Before(*t.ExpiresAt)
	}), nil
}

func (m *Memory) CreateStatement(_ context.Context, statement *models.Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	statement.ID = m.nextSerial()
	statement.CreatedAt = time.Now()
	cp := *statement
	m.statements[statement.ID] = &cp
	return nil
}

func (m *Memory) GetStatement(_ context.Context, id int64) (*models.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statements[id]
	if !ok {
		return nil, fmt.Errorf("statement %d: %w", id, ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) FindStatementByPeriodStart(_ context.Context, accountID int64, periodStart time.Time) (*models.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.statements {
		if s.AccountID == accountID && sameDay(s.PeriodStart, periodStart) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("statement for account %d: %w", accountID, ErrNotFound)
}

func (m *Memory) UpdateStatement(_ context.Context, statement *models.Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statements[statement.ID]; !ok {
		return fmt.Errorf("statement %d: %w", statement.ID, ErrNotFound)
	}
	cp := *statement
	m.statements[statement.ID] = &cp
	return nil
}

func (m *Memory) CreateRiskAssessment(_ context.Context, assessment *models.RiskAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *assessment
	cp.Signals = append([]string(nil), assessment.Signals...)
	m.assessments = append(m.assessments, &cp)
	return nil
}

// Assessments returns a copy of the audit trail, oldest first.
func (m *Memory) Assessments() []*models.RiskAssessment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.RiskAssessment, 0, len(m.assessments))
	for _, a := range m.assessments {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
