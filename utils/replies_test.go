package utils

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"mailreach/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeFetcher struct {
	inbox []InboundMessage
	seen  []uint32
}

func (f *fakeFetcher) FetchUnseen(account *models.SendingAccount) ([]InboundMessage, error) {
	return f.inbox, nil
}

func (f *fakeFetcher) MarkSeen(account *models.SendingAccount, uids []uint32) error {
	f.seen = append(f.seen, uids...)
	return nil
}

func seedIMAPAccount(t *testing.T, db *gorm.DB) *models.SendingAccount {
	t.Helper()
	account := seedAccount(t, db, 50)
	require.NoError(t, db.Model(account).Updates(map[string]interface{}{
		"imap_host": "imap.example.com",
		"imap_port": 993,
	}).Error)
	account.IMAPHost = "imap.example.com"
	return account
}

func seedSentLead(t *testing.T, db *gorm.DB, account *models.SendingAccount, messageID string) (*models.Campaign, *models.Lead) {
	t.Helper()
	campaign := seedCampaign(t, db, account, campaignPolicy{StopOnReply: true},
		stepWithVariant(1, "Quick question", "Hi", 0, false),
		stepWithVariant(2, "Following up", "Thoughts?", time.Hour, false),
	)
	lead := seedLead(t, db, campaign, "ana@acme.com", "Ana")

	event := models.EmailEvent{
		CampaignID:       campaign.ID,
		LeadID:           lead.ID,
		SendingAccountID: account.ID,
		EventType:        models.EventSent,
		StepNumber:       1,
		MessageID:        messageID,
		RecipientEmail:   lead.Email,
		OccurredAt:       time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(&event).Error)
	require.NoError(t, ApplyEvent(db, lead, campaign, &event))
	return campaign, lead
}

func newTestScanner(db *gorm.DB, fetcher MailFetcher) *ReplyScanner {
	return NewReplyScanner(db, fetcher, log.New(os.Stdout, "REPLY-TEST: ", log.LstdFlags))
}

func TestScanAccountRecordsReply(t *testing.T) {
	db := newTestDB(t)
	account := seedIMAPAccount(t, db)
	campaign, lead := seedSentLead(t, db, account, "msg-1@test")

	fetcher := &fakeFetcher{inbox: []InboundMessage{{
		UID:       7,
		MessageID: "reply-1@acme.com",
		InReplyTo: "msg-1@test",
		From:      "ana@acme.com",
		Subject:   "Re: Quick question",
		Date:      time.Now(),
	}}}
	scanner := newTestScanner(db, fetcher)

	result := scanner.ScanAccount(context.Background(), account)
	assert.Equal(t, 1, result.Replies)
	assert.Equal(t, 0, result.Bounces)
	assert.Equal(t, []uint32{7}, fetcher.seen)

	var stored models.Lead
	require.NoError(t, db.First(&stored, lead.ID).Error)
	assert.Equal(t, models.LeadStatusReplied, stored.Status)
	assert.Nil(t, stored.NextSendAt)

	var event models.EmailEvent
	require.NoError(t, db.Where("event_type = ?", models.EventReplied).First(&event).Error)
	assert.Equal(t, campaign.ID, event.CampaignID)
	assert.Equal(t, lead.ID, event.LeadID)
	assert.Equal(t, 1, event.StepNumber)
}

func TestScanAccountCorrelatesViaReferences(t *testing.T) {
	db := newTestDB(t)
	account := seedIMAPAccount(t, db)
	_, lead := seedSentLead(t, db, account, "msg-1@test")

	// Some clients omit In-Reply-To; the last Reference still correlates
	fetcher := &fakeFetcher{inbox: []InboundMessage{{
		UID:        8,
		MessageID:  "reply-2@acme.com",
		References: "<other@x> <msg-1@test>",
		From:       "ana@acme.com",
		Date:       time.Now(),
	}}}
	scanner := newTestScanner(db, fetcher)

	result := scanner.ScanAccount(context.Background(), account)
	assert.Equal(t, 1, result.Replies)

	var stored models.Lead
	require.NoError(t, db.First(&stored, lead.ID).Error)
	assert.Equal(t, models.LeadStatusReplied, stored.Status)
}

func TestScanAccountDeduplicatesReplies(t *testing.T) {
	db := newTestDB(t)
	account := seedIMAPAccount(t, db)
	_, lead := seedSentLead(t, db, account, "msg-1@test")

	msg := InboundMessage{
		UID:       9,
		MessageID: "reply-1@acme.com",
		InReplyTo: "msg-1@test",
		From:      "ana@acme.com",
		Date:      time.Now(),
	}
	fetcher := &fakeFetcher{inbox: []InboundMessage{msg}}
	scanner := newTestScanner(db, fetcher)

	first := scanner.ScanAccount(context.Background(), account)
	assert.Equal(t, 1, first.Replies)

	// The same message shows up unseen again on a later scan
	second := scanner.ScanAccount(context.Background(), account)
	assert.Equal(t, 0, second.Replies)

	var count int64
	require.NoError(t, db.Model(&models.EmailEvent{}).
		Where("lead_id = ? AND event_type = ?", lead.ID, models.EventReplied).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestScanAccountClassifiesBounces(t *testing.T) {
	db := newTestDB(t)
	account := seedIMAPAccount(t, db)
	_, lead := seedSentLead(t, db, account, "msg-1@test")

	fetcher := &fakeFetcher{inbox: []InboundMessage{{
		UID:             10,
		MessageID:       "ndr-1@mail.example.com",
		InReplyTo:       "msg-1@test",
		From:            "MAILER-DAEMON@mail.example.com",
		Subject:         "Undelivered Mail Returned to Sender",
		Date:            time.Now(),
		FailedRecipient: "ana@acme.com",
	}}}
	scanner := newTestScanner(db, fetcher)

	result := scanner.ScanAccount(context.Background(), account)
	assert.Equal(t, 1, result.Bounces)
	assert.Equal(t, 0, result.Replies)

	var stored models.Lead
	require.NoError(t, db.First(&stored, lead.ID).Error)
	assert.Equal(t, models.LeadStatusBounced, stored.Status)
	assert.True(t, stored.Terminal())
}

func TestScanAccountIgnoresUncorrelatedMail(t *testing.T) {
	db := newTestDB(t)
	account := seedIMAPAccount(t, db)
	seedSentLead(t, db, account, "msg-1@test")

	fetcher := &fakeFetcher{inbox: []InboundMessage{
		// Not a reply at all
		{UID: 11, MessageID: "newsletter@elsewhere.com", From: "news@elsewhere.com", Date: time.Now()},
		// A reply to a message we never sent
		{UID: 12, MessageID: "reply-x@acme.com", InReplyTo: "unknown@other.host", From: "bob@acme.com", Date: time.Now()},
	}}
	scanner := newTestScanner(db, fetcher)

	result := scanner.ScanAccount(context.Background(), account)
	assert.Equal(t, 2, result.Seen)
	assert.Equal(t, 0, result.Replies)

	// Both are finished with and marked seen so they are not re-fetched forever
	assert.ElementsMatch(t, []uint32{11, 12}, fetcher.seen)
}

func TestScanAllSkipsAccountsWithoutIMAP(t *testing.T) {
	db := newTestDB(t)
	seedAccount(t, db, 50) // SMTP only

	scanner := newTestScanner(db, &fakeFetcher{})
	results, err := scanner.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCleanMessageID(t *testing.T) {
	assert.Equal(t, "msg-1@test", CleanMessageID("<msg-1@test>"))
	assert.Equal(t, "msg-1@test", CleanMessageID(" <msg-1@test> "))
	assert.Equal(t, "msg-1@test", CleanMessageID("msg-1@test"))
	assert.Equal(t, "", CleanMessageID(""))
}

func TestLastReference(t *testing.T) {
	assert.Equal(t, "msg-2@test", LastReference("<msg-1@test> <msg-2@test>"))
	assert.Equal(t, "msg-1@test", LastReference("<msg-1@test>"))
	assert.Equal(t, "", LastReference(""))
}
