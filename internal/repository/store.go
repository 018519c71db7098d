package repository

import (
	"context"
	"errors"
	"time"

	"github.com/meridianpay/cardcore/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence port of the engine. The engine never reaches for
// ambient state; it is handed a Store at construction. Two adapters exist:
// Postgres for production and Memory for tests.
type Store interface {
	CreateProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, id int64) (*models.Profile, error)
	UpdateProfileStats(ctx context.Context, profile *models.Profile) error

	CreateCard(ctx context.Context, card *models.Card) error
	GetCard(ctx context.Context, id int64) (*models.Card, error)
	GetCardByNumber(ctx context.Context, number string) (*models.Card, error)
	UpdateCard(ctx context.Context, card *models.Card) error
	CardNumberExists(ctx context.Context, number string) (bool, error)

	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	UpdateAccount(ctx context.Context, account *models.Account) error
	ListAccountsByAnchorDay(ctx context.Context, day int) ([]*models.Account, error)

	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, txn *models.Transaction) error
	ListStatementTransactions(ctx context.Context, statementID int64) ([]*models.Transaction, error)
	ListUnbilledTransactions(ctx context.Context, accountID int64) ([]*models.Transaction, error)
	ListPendingAuthorizations(ctx context.Context, accountID int64) ([]*models.Transaction, error)
	ListStaleAuthorizations(ctx context.Context, asOf time.Time) ([]*models.Transaction, error)

	CreateStatement(ctx context.Context, statement *models.Statement) error
	GetStatement(ctx context.Context, id int64) (*models.Statement, error)
	FindStatementByPeriodStart(ctx context.Context, accountID int64, periodStart time.Time) (*models.Statement, error)
	UpdateStatement(ctx context.Context, statement *models.Statement) error

	CreateRiskAssessment(ctx context.Context, assessment *models.RiskAssessment) error
}
