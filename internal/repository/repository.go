package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/meridianpay/cardcore/internal/models"
)

// Postgres provides database operations
type Postgres struct {
	db *sql.DB
}

// NewPostgres initializes a new Postgres-backed store
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// CreateProfile creates a new cardholder profile in the database
func (r *Postgres) CreateProfile(ctx context.Context, profile *models.Profile) error {
	query := `
		INSERT INTO card.profiles (name, email, avg_transaction_amount, transaction_amount_stddev, transaction_count, created_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, profile.Name, profile.Email,
		profile.AvgTransactionAmount, profile.TransactionAmountStddev, profile.TransactionCount).
		Scan(&profile.ID, &profile.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by ID
func (r *Postgres) GetProfile(ctx context.Context, id int64) (*models.Profile, error) {
	profile := &models.Profile{}
	var lastAt sql.NullTime
	query := `
		SELECT id, name, email, avg_transaction_amount, transaction_amount_stddev, transaction_count, last_transaction_at, created_at
		FROM card.profiles
		WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&profile.ID, &profile.Name, &profile.Email, &profile.AvgTransactionAmount,
			&profile.TransactionAmountStddev, &profile.TransactionCount, &lastAt, &profile.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if lastAt.Valid {
		profile.LastTransactionAt = &lastAt.Time
	}
	return profile, nil
}

// UpdateProfileStats persists the rolling transaction statistics
func (r *Postgres) UpdateProfileStats(ctx context.Context, profile *models.Profile) error {
	query := `
		UPDATE card.profiles
		SET avg_transaction_amount = $2, transaction_amount_stddev = $3, transaction_count = $4, last_transaction_at = $5
		WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, profile.ID, profile.AvgTransactionAmount,
		profile.TransactionAmountStddev, profile.TransactionCount, profile.LastTransactionAt)
	if err != nil {
		return fmt.Errorf("failed to update profile stats: %w", err)
	}
	return nil
}

// CreateCard creates a new card in the database
func (r *Postgres) CreateCard(ctx context.Context, card *models.Card) error {
	query := `
		INSERT INTO card.cards (profile_id, account_id, number, status, expiry_year, expiry_month, pin_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, card.ProfileID, card.AccountID, card.Number,
		card.Status, card.ExpiryYear, card.ExpiryMonth, card.PINHash).
		Scan(&card.ID, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

const cardColumns = `id, profile_id, account_id, number, status, expiry_year, expiry_month, pin_hash, superseded_by, created_at, updated_at`

func scanCard(row *sql.Row) (*models.Card, error) {
	card := &models.Card{}
	var superseded sql.NullInt64
	err := row.Scan(&card.ID, &card.ProfileID, &card.AccountID, &card.Number, &card.Status,
		&card.ExpiryYear, &card.ExpiryMonth, &card.PINHash, &superseded, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if superseded.Valid {
		card.SupersededBy = &superseded.Int64
	}
	return card, nil
}

// GetCard retrieves a card by ID
func (r *Postgres) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM card.cards WHERE id = $1`
	card, err := scanCard(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("card %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

// GetCardByNumber retrieves a card by its full identifier
func (r *Postgres) GetCardByNumber(ctx context.Context, number string) (*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM card.cards WHERE number = $1`
	card, err := scanCard(r.db.QueryRowContext(ctx, query, number))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("card number: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card by number: %w", err)
	}
	return card, nil
}

// UpdateCard persists card status, expiry and supersession changes
func (r *Postgres) UpdateCard(ctx context.Context, card *models.Card) error {
	query := `
		UPDATE card.cards
		SET status = $2, expiry_year = $3, expiry_month = $4, superseded_by = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, card.ID, card.Status, card.ExpiryYear, card.ExpiryMonth, card.SupersededBy).
		Scan(&card.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("card %d: %w", card.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update card: %w", err)
	}
	return nil
}

// CardNumberExists reports whether a card identifier is already in use
func (r *Postgres) CardNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM card.cards WHERE number = $1)`
	if err := r.db.QueryRowContext(ctx, query, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check card number: %w", err)
	}
	return exists, nil
}

// CreateAccount creates a new account in the database
func (r *Postgres) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO card.accounts (profile_id, kind, balance, currency, credit_limit, cash_advance_limit,
			purchase_apr, cash_advance_apr, billing_cycle_anchor_day, grace_period_days, over_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, account.ProfileID, account.Kind, account.Balance, account.Currency,
		account.CreditLimit, account.CashAdvanceLimit, account.PurchaseAPR, account.CashAdvanceAPR,
		account.BillingCycleAnchorDay, account.GracePeriodDays, account.OverLimit).
		Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

const accountColumns = `id, profile_id, kind, balance, currency, credit_limit, cash_advance_limit,
	purchase_apr, cash_advance_apr, billing_cycle_anchor_day, grace_period_days, current_statement_id, over_limit, created_at, updated_at`

func scanAccountRow(scan func(dest ...any) error) (*models.Account, error) {
	account := &models.Account{}
	var current sql.NullInt64
	err := scan(&account.ID, &account.ProfileID, &account.Kind, &account.Balance, &account.Currency,
		&account.CreditLimit, &account.CashAdvanceLimit, &account.PurchaseAPR, &account.CashAdvanceAPR,
		&account.BillingCycleAnchorDay, &account.GracePeriodDays, &current, &account.OverLimit,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if current.Valid {
		account.CurrentStatementID = &current.Int64
	}
	return account, nil
}

// GetAccount retrieves an account by ID
func (r *Postgres) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM card.accounts WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)
	account, err := scanAccountRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// UpdateAccount persists balance, statement pointer and over-limit changes
func (r *Postgres) UpdateAccount(ctx context.Context, account *models.Account) error {
	query := `
		UPDATE card.accounts
		SET balance = $2, current_statement_id = $3, over_limit = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, account.ID, account.Balance, account.CurrentStatementID, account.OverLimit).
		Scan(&account.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("account %d: %w", account.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// ListAccountsByAnchorDay retrieves credit accounts whose billing cycle
// anchors on the given day of month
func (r *Postgres) ListAccountsByAnchorDay(ctx context.Context, day int) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM card.accounts WHERE kind = $1 AND billing_cycle_anchor_day = $2 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, models.AccountKindCredit, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccountRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// CreateTransaction creates a new transaction in the database
func (r *Postgres) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO card.transactions (account_id, card_id, amount, currency, type, status, description,
			statement_id, original_amount, original_currency, exchange_rate, authorized_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, txn.AccountID, nullID(txn.CardID), txn.Amount, txn.Currency,
		txn.Type, txn.Status, txn.Description, txn.StatementID,
		nullDecimal(txn.OriginalAmount), txn.OriginalCurrency, nullDecimal(txn.ExchangeRate),
		txn.AuthorizedAt, txn.ExpiresAt).
		Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

const transactionColumns = `id, account_id, card_id, amount, currency, type, status, description,
	statement_id, original_amount, original_currency, exchange_rate, authorized_at, expires_at, created_at, updated_at`

func scanTransactionRow(scan func(dest ...any) error) (*models.Transaction, error) {
	txn := &models.Transaction{}
	var (
		cardID       sql.NullInt64
		statementID  sql.NullInt64
		origAmount   decimal.NullDecimal
		origCurrency sql.NullString
		rate         decimal.NullDecimal
		authorizedAt sql.NullTime
		expiresAt    sql.NullTime
	)
	err := scan(&txn.ID, &txn.AccountID, &cardID, &txn.Amount, &txn.Currency, &txn.Type, &txn.Status,
		&txn.Description, &statementID, &origAmount, &origCurrency, &rate, &authorizedAt, &expiresAt,
		&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if cardID.Valid {
		txn.CardID = cardID.Int64
	}
	if statementID.Valid {
		txn.StatementID = &statementID.Int64
	}
	if origAmount.Valid {
		txn.OriginalAmount = &origAmount.Decimal
	}
	if origCurrency.Valid {
		txn.OriginalCurrency = &origCurrency.String
	}
	if rate.Valid {
		txn.ExchangeRate = &rate.Decimal
	}
	if authorizedAt.Valid {
		txn.AuthorizedAt = &authorizedAt.Time
	}
	if expiresAt.Valid {
		txn.ExpiresAt = &expiresAt.Time
	}
	return txn, nil
}

// GetTransaction retrieves a transaction by ID
func (r *Postgres) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM card.transactions WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)
	txn, err := scanTransactionRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return txn, nil
}

// UpdateTransaction persists status, statement attribution and timestamps
func (r *Postgres) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		UPDATE card.transactions
		SET status = $2, statement_id = $3, authorized_at = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, txn.ID, txn.Status, txn.StatementID, txn.AuthorizedAt).
		Scan(&txn.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("transaction %d: %w", txn.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

func (r *Postgres) listTransactions(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn, err := scanTransactionRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// ListStatementTransactions retrieves all transactions attributed to a statement
func (r *Postgres) ListStatementTransactions(ctx context.Context, statementID int64) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM card.transactions WHERE statement_id = $1 ORDER BY id`
	return r.listTransactions(ctx, query, statementID)
}

// ListUnbilledTransactions retrieves captured transactions not yet attached
// to any statement
func (r *Postgres) ListUnbilledTransactions(ctx context.Context, accountID int64) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM card.transactions
		WHERE account_id = $1 AND statement_id IS NULL AND status = $2 ORDER BY id`
	return r.listTransactions(ctx, query, accountID, models.TransactionStatusCaptured)
}

// ListPendingAuthorizations retrieves open authorization holds for an account
func (r *Postgres) ListPendingAuthorizations(ctx context.Context, accountID int64) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM card.transactions
		WHERE account_id = $1 AND status = $2 ORDER BY id`
	return r.listTransactions(ctx, query, accountID, models.TransactionStatusPendingAuthorization)
}

// ListStaleAuthorizations retrieves pending authorizations whose hold window
// elapsed before asOf
func (r *Postgres) ListStaleAuthorizations(ctx context.Context, asOf time.Time) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM card.transactions
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $2 ORDER BY id`
	return r.listTransactions(ctx, query, models.TransactionStatusPendingAuthorization, asOf)
}

// CreateStatement creates a new statement in the database
func (r *Postgres) CreateStatement(ctx context.Context, statement *models.Statement) error {
	query := `
		INSERT INTO card.statements (account_id, period_start, period_end, opening_balance, closing_balance,
			minimum_payment, payment_due_date, is_paid_in_full, interest_charged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, statement.AccountID, statement.PeriodStart, statement.PeriodEnd,
		statement.OpeningBalance, statement.ClosingBalance, statement.MinimumPayment, statement.PaymentDueDate,
		statement.IsPaidInFull, statement.InterestCharged).
		Scan(&statement.ID, &statement.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create statement: %w", err)
	}
	return nil
}

const statementColumns = `id, account_id, period_start, period_end, opening_balance, closing_balance,
	minimum_payment, payment_due_date, is_paid_in_full, interest_charged, created_at`

func scanStatementRow(scan func(dest ...any) error) (*models.Statement, error) {
	st := &models.Statement{}
	err := scan(&st.ID, &st.AccountID, &st.PeriodStart, &st.PeriodEnd, &st.OpeningBalance, &st.ClosingBalance,
		&st.MinimumPayment, &st.PaymentDueDate, &st.IsPaidInFull, &st.InterestCharged, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// GetStatement retrieves a statement by ID
func (r *Postgres) GetStatement(ctx context.Context, id int64) (*models.Statement, error) {
	query := `SELECT ` + statementColumns + ` FROM card.statements WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)
	st, err := scanStatementRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("statement %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find statement: %w", err)
	}
	return st, nil
}

// FindStatementByPeriodStart retrieves the statement opened for an account
// on a given day, if any. Used by the batch to skip already-processed
// (account, period) pairs.
func (r *Postgres) FindStatementByPeriodStart(ctx context.Context, accountID int64, periodStart time.Time) (*models.Statement, error) {
	query := `SELECT ` + statementColumns + ` FROM card.statements WHERE account_id = $1 AND period_start = $2`
	row := r.db.QueryRowContext(ctx, query, accountID, periodStart)
	st, err := scanStatementRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("statement for account %d at %s: %w", accountID, periodStart.Format("2006-01-02"), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find statement by period: %w", err)
	}
	return st, nil
}

// UpdateStatement persists paid-in-full flag changes
func (r *Postgres) UpdateStatement(ctx context.Context, statement *models.Statement) error {
	query := `
		UPDATE card.statements
		SET closing_balance = $2, minimum_payment = $3, is_paid_in_full = $4, interest_charged = $5
		WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, statement.ID, statement.ClosingBalance, statement.MinimumPayment,
		statement.IsPaidInFull, statement.InterestCharged)
	if err != nil {
		return fmt.Errorf("failed to update statement: %w", err)
	}
	return nil
}

// CreateRiskAssessment appends a risk assessment to the audit trail
func (r *Postgres) CreateRiskAssessment(ctx context.Context, assessment *models.RiskAssessment) error {
	query := `
		INSERT INTO card.risk_assessments (id, profile_id, card_id, amount, score, decision, signals, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query, assessment.ID, assessment.ProfileID, assessment.CardID,
		assessment.Amount, assessment.Score, assessment.Decision, pq.Array(assessment.Signals),
		assessment.TransactionID, assessment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create risk assessment: %w", err)
	}
	return nil
}

// nullID maps the zero id (no card, e.g. interest postings) to SQL NULL.
func nullID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
