package models

import (
	"time"

	"gorm.io/gorm"
)

// Email event types
const (
	EventSent         = "sent"
	EventOpened       = "opened"
	EventClicked      = "clicked"
	EventReplied      = "replied"
	EventBounced      = "bounced"
	EventUnsubscribed = "unsubscribed"
)

// EmailEvent is an immutable, append-only email lifecycle fact. All lead
// statuses and campaign counters are views over this ledger.
type EmailEvent struct {
	gorm.Model
	CampaignID       uint  `gorm:"not null;index" json:"campaign_id"`
	LeadID           uint  `gorm:"not null;index" json:"lead_id"`
	SequenceID       *uint `gorm:"index" json:"sequence_id"`
	SendingAccountID uint  `gorm:"index" json:"sending_account_id"`

	EventType  string `gorm:"not null;index" json:"event_type"`
	StepNumber int    `gorm:"default:0" json:"step_number"`

	// Transport-level Message-ID (angle brackets stripped). Required for
	// sent events; used to correlate replies back to the original send.
	MessageID string `gorm:"index" json:"message_id"`

	Subject        string `json:"subject"`
	RecipientEmail string `json:"recipient_email"`
	ErrorMessage   string `json:"error_message"`

	Metadata map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"metadata"`

	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`
}

// Succeeded reports whether a sent event represents a completed transport send
func (e *EmailEvent) Succeeded() bool {
	return e.EventType == EventSent && e.MessageID != "" && e.ErrorMessage == ""
}

// ProcessedReply records inbound reply Message-IDs already ingested, so
// repeated IMAP scans of the same message cannot inflate reply counts.
type ProcessedReply struct {
	gorm.Model
	SendingAccountID uint   `gorm:"not null;index" json:"sending_account_id"`
	MessageID        string `gorm:"not null;uniqueIndex" json:"message_id"`
	LeadID           uint   `gorm:"index" json:"lead_id"`
	CampaignID       uint   `gorm:"index" json:"campaign_id"`
}
