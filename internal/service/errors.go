package service

import "errors"

// Business-rule errors. Specific codes may surface on the institution
// dashboard; the public payment surface collapses everything to
// ErrPaymentDeclined.
var (
	ErrCardNotFound             = errors.New("card not found")
	ErrCardNotActive            = errors.New("card not active")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrTransactionNotCapturable = errors.New("transaction not capturable")
	ErrTransactionNotReversible = errors.New("transaction not reversible")

	// ErrPaymentDeclined is the only error the public payment surface ever
	// sees. Which check failed lives in the risk assessment audit trail,
	// nowhere else.
	ErrPaymentDeclined = errors.New("payment declined")
)

// ValidationError is a bad-input rejection whose message is safe to display.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(msg string) error { return &ValidationError{Msg: msg} }
