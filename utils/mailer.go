package utils

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"mailreach/models"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// OutboundEmail is one rendered message ready for transport
type OutboundEmail struct {
	To       string
	Subject  string
	HTMLBody string

	// Correlation headers (X-Campaign-ID etc.) for debugging
	Headers map[string]string

	// Threading fields for reply steps, Message-IDs without angle brackets
	InReplyTo  string
	References string
}

// Mailer sends one email through a sending account's transport and returns
// the Message-ID recorded on the wire (without angle brackets).
type Mailer interface {
	Send(account *models.SendingAccount, email *OutboundEmail) (string, error)
}

// SMTPMailer delivers through the account's SMTP credentials via gomail
type SMTPMailer struct {
	Timeout time.Duration
}

func NewSMTPMailer(timeout time.Duration) *SMTPMailer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPMailer{Timeout: timeout}
}

func (sm *SMTPMailer) Send(account *models.SendingAccount, email *OutboundEmail) (string, error) {
	if account.SMTPHost == "" {
		return "", fmt.Errorf("sending account %d has no SMTP host configured", account.ID)
	}

	password, err := Decrypt(account.SMTPPassword)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	dialer := gomail.NewDialer(account.SMTPHost, account.SMTPPort, account.SMTPUsername, password)
	dialer.TLSConfig = &tls.Config{ServerName: account.SMTPHost}
	dialer.SSL = account.SMTPPort == 465

	messageID := GenerateMessageID(account.EmailAddress)

	m := gomail.NewMessage()
	from := account.EmailAddress
	if account.DisplayName != "" {
		from = fmt.Sprintf("%s <%s>", account.DisplayName, account.EmailAddress)
	}
	m.SetHeader("From", from)
	m.SetHeader("To", email.To)
	m.SetHeader("Subject", email.Subject)
	m.SetHeader("Message-ID", "<"+messageID+">")
	if email.InReplyTo != "" {
		m.SetHeader("In-Reply-To", "<"+email.InReplyTo+">")
	}
	if email.References != "" {
		m.SetHeader("References", email.References)
	}
	for k, v := range email.Headers {
		m.SetHeader(k, v)
	}
	m.SetBody("text/html", email.HTMLBody)

	// gomail has no built-in deadline; bound the whole dial+send so one
	// unresponsive mailbox cannot stall a dispatch batch.
	errCh := make(chan error, 1)
	go func() {
		errCh <- dialer.DialAndSend(m)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("send failed: %w", err)
		}
		return messageID, nil
	case <-time.After(sm.Timeout):
		return "", fmt.Errorf("send to %s timed out after %s", email.To, sm.Timeout)
	}
}

// GenerateMessageID builds an RFC 5322 Message-ID scoped to the sender's
// domain, returned without angle brackets.
func GenerateMessageID(fromEmail string) string {
	domain := "mailreach.local"
	if at := strings.LastIndex(fromEmail, "@"); at != -1 && at < len(fromEmail)-1 {
		domain = fromEmail[at+1:]
	}
	return fmt.Sprintf("%s@%s", uuid.New().String(), domain)
}
