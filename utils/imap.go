package utils

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"mailreach/models"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// InboundMessage is one unseen message pulled from a monitored mailbox
type InboundMessage struct {
	UID        uint32
	MessageID  string // angle brackets stripped
	InReplyTo  string
	References string
	From       string
	Subject    string
	Date       time.Time

	// Populated from X-Failed-Recipients on delivery status notifications
	FailedRecipient string
}

// MailFetcher retrieves unseen inbound mail for a sending account
type MailFetcher interface {
	FetchUnseen(account *models.SendingAccount) ([]InboundMessage, error)
	MarkSeen(account *models.SendingAccount, uids []uint32) error
}

// IMAPFetcher reads mailboxes over IMAP with TLS
type IMAPFetcher struct {
	Timeout time.Duration
}

func NewIMAPFetcher(timeout time.Duration) *IMAPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &IMAPFetcher{Timeout: timeout}
}

func (f *IMAPFetcher) FetchUnseen(account *models.SendingAccount) ([]InboundMessage, error) {
	c, err := f.connect(account)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	ids, err := f.searchUnseen(c, account)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	section.Specifier = imap.HeaderSpecifier
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var inbound []InboundMessage
	for msg := range messages {
		inbound = append(inbound, parseInbound(msg, section))
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("error during fetch: %w", err)
	}
	return inbound, nil
}

func (f *IMAPFetcher) MarkSeen(account *models.SendingAccount, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	c, err := f.connect(account)
	if err != nil {
		return err
	}
	defer c.Logout()

	mailbox := account.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil)
}

func (f *IMAPFetcher) connect(account *models.SendingAccount) (*client.Client, error) {
	if account.IMAPHost == "" {
		return nil, fmt.Errorf("sending account %d has no IMAP host configured", account.ID)
	}

	password, err := Decrypt(account.IMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)
	dialer := &net.Dialer{Timeout: f.Timeout}
	c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{
		ServerName: account.IMAPHost,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	c.Timeout = f.Timeout

	username := account.IMAPUsername
	if username == "" {
		username = account.EmailAddress
	}
	if err := c.Login(username, password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}
	return c, nil
}

func (f *IMAPFetcher) searchUnseen(c *client.Client, account *models.SendingAccount) ([]uint32, error) {
	mailbox := account.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return ids, nil
}

func parseInbound(msg *imap.Message, section *imap.BodySectionName) InboundMessage {
	in := InboundMessage{UID: msg.Uid}

	if env := msg.Envelope; env != nil {
		in.MessageID = CleanMessageID(env.MessageId)
		in.InReplyTo = CleanMessageID(env.InReplyTo)
		in.Subject = env.Subject
		in.Date = env.Date
		if len(env.From) > 0 {
			in.From = env.From[0].Address()
		}
	}

	if literal := msg.GetBody(section); literal != nil {
		if mr, err := mail.CreateReader(literal); err == nil {
			header := mr.Header
			if in.MessageID == "" {
				in.MessageID = CleanMessageID(header.Get("Message-Id"))
			}
			if in.InReplyTo == "" {
				in.InReplyTo = CleanMessageID(header.Get("In-Reply-To"))
			}
			in.References = header.Get("References")
			in.FailedRecipient = strings.TrimSpace(header.Get("X-Failed-Recipients"))
		}
	}
	return in
}

// CleanMessageID strips angle brackets and whitespace from a Message-ID
func CleanMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// LastReference returns the final Message-ID in a References header, which
// points at the message being answered when In-Reply-To is absent.
func LastReference(references string) string {
	fields := strings.Fields(references)
	if len(fields) == 0 {
		return ""
	}
	return CleanMessageID(fields[len(fields)-1])
}
