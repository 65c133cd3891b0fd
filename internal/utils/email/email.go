package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/kupontech/kupon-ledger/internal/config"
	"github.com/kupontech/kupon-ledger/internal/models"
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

// SendOverdueNotice emails an agent the list of their overdue coupons
func (s *Sender) SendOverdueNotice(agent models.SalesAgent, rows []models.InvoiceRow) error {
	if agent.Email == "" {
		return fmt.Errorf("agent %s has no email address", agent.AgentCode)
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{agent.Email}
	e.Subject = fmt.Sprintf("Overdue Collections: %d coupon(s) on your route", len(rows))

	// Format email body
	var body strings.Builder
	fmt.Fprintf(&body, "Dear %s,\n\n", agent.Name)
	fmt.Fprintf(&body, "The following installment coupons on your route are overdue:\n\n")
	for _, row := range rows {
		fmt.Fprintf(&body, "  %s  due %s  %s (%s)  billed %s  paid %s\n",
			row.NoFaktur,
			row.DueDate.Format("2006-01-02"),
			row.CustomerName,
			row.CustomerAddress,
			row.Amount.String(),
			row.PaidAmount.String(),
		)
	}
	fmt.Fprintf(&body, "\nPlease follow up with these customers on your next visit.\n")
	fmt.Fprintf(&body, "\nBest regards,\nKupon Ledger")
	e.Text = []byte(body.String())

	// Send email
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send overdue notice to %s: %v", agent.Email, err)
		return fmt.Errorf("failed to send overdue notice: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", agent.Email, e.Subject)
	return nil
}
