// Package notify delivers statement emails over SMTP. The engine only ever
// talks to the service.Notifier interface; this is the production adapter.
package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/meridianpay/cardcore/internal/config"
	"github.com/meridianpay/cardcore/internal/models"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// StatementClosed emails the cardholder that a billing cycle closed and a
// new statement is ready.
func (s *Sender) StatementClosed(_ context.Context, profile *models.Profile, account *models.Account, statement *models.Statement) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{profile.Email}
	e.Subject = fmt.Sprintf("Your statement for %s is ready", statement.PeriodStart.Format("January 2006"))

	body := fmt.Sprintf(
		"Dear %s,\n\n", profile.Name,
	)
	body += fmt.Sprintf(
		"Your billing cycle on account %d has closed.\n"+
			"Closing balance: %s %s\n"+
			"Minimum payment: %s %s\n"+
			"Payment due date: %s\n",
		account.ID,
		statement.ClosingBalance.StringFixed(2), account.Currency,
		statement.MinimumPayment.StringFixed(2), account.Currency,
		statement.PaymentDueDate.Format("2006-01-02"),
	)
	if statement.InterestCharged.IsPositive() {
		body += fmt.Sprintf(
			"Interest charged this cycle: %s %s\n",
			statement.InterestCharged.StringFixed(2), account.Currency,
		)
	}
	body += "\nBest regards,\nMeridianPay Cards"
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send statement email to %s: %v", profile.Email, err)
		return fmt.Errorf("failed to send statement email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", profile.Email, e.Subject)
	return nil
}
