package utils

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"mailreach/models"

	"gorm.io/gorm"
)

// ScanResult summarizes one account's reply scan
type ScanResult struct {
	AccountID uint   `json:"account_id"`
	Account   string `json:"account"`
	Seen      int    `json:"seen"`
	Replies   int    `json:"replies"`
	Bounces   int    `json:"bounces"`
	Error     string `json:"error,omitempty"`
}

// ReplyScanner correlates unseen inbound mail back to sent events by
// Message-ID threading and feeds the resulting replied/bounced events into
// the lead state machine.
type ReplyScanner struct {
	DB      *gorm.DB
	Fetcher MailFetcher
	Logger  *log.Logger
}

func NewReplyScanner(db *gorm.DB, fetcher MailFetcher, logger *log.Logger) *ReplyScanner {
	return &ReplyScanner{DB: db, Fetcher: fetcher, Logger: logger}
}

// ScanAll checks every IMAP-enabled account that is able to send. Per-account
// failures are reported in the results and never abort the batch.
func (rs *ReplyScanner) ScanAll(ctx context.Context) ([]ScanResult, error) {
	var accounts []models.SendingAccount
	err := rs.DB.Where("status IN ? AND imap_host != ''",
		[]string{models.AccountStatusActive, models.AccountStatusWarming}).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}

	results := make([]ScanResult, 0, len(accounts))
	for i := range accounts {
		if ctx.Err() != nil {
			break
		}
		results = append(results, rs.ScanAccount(ctx, &accounts[i]))
	}
	return results, nil
}

// ScanAccount processes unseen messages for one account. Messages are marked
// seen only after processing; re-processing is caught by the reply dedup
// ledger, not by the seen flag alone.
func (rs *ReplyScanner) ScanAccount(ctx context.Context, account *models.SendingAccount) ScanResult {
	result := ScanResult{AccountID: account.ID, Account: account.EmailAddress}

	messages, err := rs.Fetcher.FetchUnseen(account)
	if err != nil {
		result.Error = err.Error()
		LogEvent("reply_scan_failed", map[string]interface{}{
			"account_id": account.ID,
			"error":      err.Error(),
		})
		return result
	}

	var handled []uint32
	for i := range messages {
		if ctx.Err() != nil {
			break
		}
		msg := &messages[i]

		ok, err := rs.processMessage(account, msg, &result)
		if err != nil {
			// Leave the message unseen so the next scan retries it
			rs.Logger.Printf("Failed to process message %q on account %d: %v",
				msg.MessageID, account.ID, err)
			continue
		}
		if ok {
			handled = append(handled, msg.UID)
		}
	}

	if err := rs.Fetcher.MarkSeen(account, handled); err != nil {
		rs.Logger.Printf("Failed to mark messages seen on account %d: %v", account.ID, err)
	}

	if err := rs.DB.Model(account).Update("last_sync_at", time.Now()).Error; err != nil {
		rs.Logger.Printf("Failed to update sync time on account %d: %v", account.ID, err)
	}
	return result
}

// processMessage handles one inbound message. It returns true when the
// message is finished with and may be marked seen.
func (rs *ReplyScanner) processMessage(account *models.SendingAccount, msg *InboundMessage, result *ScanResult) (bool, error) {
	result.Seen++

	replyID := msg.InReplyTo
	if replyID == "" {
		replyID = LastReference(msg.References)
	}
	if replyID == "" {
		// Not a reply to anything we track
		return true, nil
	}

	original, err := rs.originalSend(replyID)
	if err != nil {
		return false, err
	}
	if original == nil {
		// Correlation miss is not an error
		return true, nil
	}

	if msg.MessageID != "" {
		duplicate, err := rs.alreadyProcessed(account.ID, msg, original)
		if err != nil {
			return false, err
		}
		if duplicate {
			return true, nil
		}
	}

	eventType := models.EventReplied
	if isBounceNotification(msg) {
		eventType = models.EventBounced
	}

	occurredAt := msg.Date
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	event := models.EmailEvent{
		CampaignID:       original.CampaignID,
		LeadID:           original.LeadID,
		SequenceID:       original.SequenceID,
		SendingAccountID: account.ID,
		EventType:        eventType,
		StepNumber:       original.StepNumber,
		MessageID:        msg.MessageID,
		Subject:          msg.Subject,
		OccurredAt:       occurredAt,
		Metadata: map[string]interface{}{
			"in_reply_to": replyID,
			"from":        msg.From,
		},
	}
	for _, key := range []string{"variant_id", "variant_label"} {
		if v, ok := original.Metadata[key]; ok {
			event.Metadata[key] = v
		}
	}
	if err := rs.DB.Create(&event).Error; err != nil {
		return false, err
	}

	var lead models.Lead
	if err := rs.DB.First(&lead, original.LeadID).Error; err != nil {
		return false, err
	}
	var campaign models.Campaign
	if err := rs.DB.First(&campaign, original.CampaignID).Error; err != nil {
		return false, err
	}
	if err := ApplyEvent(rs.DB, &lead, &campaign, &event); err != nil {
		return false, err
	}

	if eventType == models.EventBounced {
		result.Bounces++
	} else {
		result.Replies++
	}
	rs.Logger.Printf("Recorded %s for lead %d on campaign %d (account %d)",
		eventType, lead.ID, campaign.ID, account.ID)
	return true, nil
}

func (rs *ReplyScanner) originalSend(messageID string) (*models.EmailEvent, error) {
	var event models.EmailEvent
	err := rs.DB.Where("event_type = ? AND message_id = ?", models.EventSent, messageID).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// alreadyProcessed records the inbound Message-ID in the dedup ledger,
// reporting true when a previous scan already ingested this message.
func (rs *ReplyScanner) alreadyProcessed(accountID uint, msg *InboundMessage, original *models.EmailEvent) (bool, error) {
	var existing models.ProcessedReply
	err := rs.DB.Where("message_id = ?", msg.MessageID).First(&existing).Error
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	entry := models.ProcessedReply{
		SendingAccountID: accountID,
		MessageID:        msg.MessageID,
		LeadID:           original.LeadID,
		CampaignID:       original.CampaignID,
	}
	if err := rs.DB.Create(&entry).Error; err != nil {
		// Unique index collision means a concurrent scan got there first
		return true, nil
	}
	return false, nil
}

// isBounceNotification classifies delivery status notifications so a hard
// bounce is never mistaken for a genuine reply
func isBounceNotification(msg *InboundMessage) bool {
	if msg.FailedRecipient != "" {
		return true
	}
	from := strings.ToLower(msg.From)
	return strings.Contains(from, "mailer-daemon") || strings.Contains(from, "postmaster@")
}
