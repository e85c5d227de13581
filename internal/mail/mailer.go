package mail

import (
	"fmt"
	"time"

	gomail "gopkg.in/gomail.v2"

	"hr-auth-service/internal/config"
	"hr-auth-service/internal/util"
)

// Sender is the delivery channel for one-time codes and alerts.
// Delivery failure never rolls back code issuance; callers log and
// continue. Retries, if any, belong to the transport.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPSender delivers through the configured SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	config *config.MailConfig
}

func NewSMTPSender(cfg *config.Config) *SMTPSender {
	mailConfig := cfg.Mail
	return &SMTPSender{
		dialer: gomail.NewDialer(mailConfig.Host, mailConfig.Port, mailConfig.Username, mailConfig.Password),
		config: &mailConfig,
	}
}

func (s *SMTPSender) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.config.FromAddress, s.config.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}

	// The recipient address is PII; log only that a send happened.
	util.Debug("Mail delivered", util.String("subject", subject))
	return nil
}

// CodeMessage renders the one-time code email. The code appears only
// here, transiently, and must never reach logs or responses.
func CodeMessage(actionDescription, code string, minutes int) (subject, body string) {
	subject = "Your verification code"
	body = fmt.Sprintf(
		"You are attempting to %s.\n\n"+
			"Your verification code is: %s\n"+
			"It expires in %d minutes.\n\n"+
			"If you did not request this action, contact your system administrator immediately.",
		actionDescription, code, minutes)
	return subject, body
}

// LockedMessage renders the account-locked recovery email.
func LockedMessage(code string, minutes int) (subject, body string) {
	subject = "Account locked - action required"
	body = fmt.Sprintf(
		"Your account has been locked after too many unsuccessful login attempts.\n\n"+
			"Recovery code: %s (valid for %d minutes)\n\n"+
			"Use this code on the verification page to unlock your account and reset your password.",
		code, minutes)
	return subject, body
}

// AfterHoursMessage renders the notice sent to the alert address when a
// sign-in happens outside the workday.
func AfterHoursMessage(accountID, role string, at time.Time, ipAddress string) (subject, body string) {
	subject = "After-hours sign-in"
	body = fmt.Sprintf(
		"An account signed in outside regular working hours.\n\n"+
			"Account: %s (%s)\n"+
			"Time:    %s\n"+
			"IP:      %s",
		accountID, role, at.Format(time.RFC1123), ipAddress)
	return subject, body
}
