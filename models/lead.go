package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead statuses
const (
	LeadStatusActive       = "active"
	LeadStatusSent         = "sent"
	LeadStatusOpened       = "opened"
	LeadStatusReplied      = "replied"
	LeadStatusBounced      = "bounced"
	LeadStatusUnsubscribed = "unsubscribed"
	LeadStatusCompleted    = "completed"
)

// LeadList represents a list of contacts leads are enrolled from
type LeadList struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	LeadCount   int    `gorm:"default:0" json:"lead_count"`

	// Relations
	Leads []Lead `gorm:"foreignKey:LeadListID" json:"leads,omitempty"`
}

// Lead represents one recipient enrolled in one campaign
type Lead struct {
	gorm.Model
	UserID     uint  `gorm:"index" json:"user_id"`
	CampaignID uint  `gorm:"not null;index" json:"campaign_id"`
	LeadListID *uint `gorm:"index" json:"lead_list_id"`

	Email        string            `gorm:"not null;index" json:"email"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Company      string            `json:"company"`
	CustomFields map[string]string `gorm:"type:jsonb;serializer:json" json:"custom_fields"`

	// Sequence cursor
	Status      string     `gorm:"default:'active';index" json:"status"`
	CurrentStep int        `gorm:"default:0" json:"current_step"` // 0 = not yet sent
	NextSendAt  *time.Time `gorm:"index" json:"next_send_at"`

	// Event timestamps
	FirstSentAt    *time.Time `json:"first_sent_at"`
	LastSentAt     *time.Time `json:"last_sent_at"`
	OpenedAt       *time.Time `json:"opened_at"`
	RepliedAt      *time.Time `json:"replied_at"`
	BouncedAt      *time.Time `json:"bounced_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at"`

	// Threading identifiers for reply steps
	ThreadID      string `json:"thread_id"`
	LastMessageID string `json:"last_message_id"`
}

// Field returns a lead attribute by merge-field name. Contact columns take
// precedence over custom fields; a missing attribute yields an empty string.
func (l *Lead) Field(name string) (string, bool) {
	switch name {
	case "email":
		return l.Email, true
	case "first_name":
		return l.FirstName, true
	case "last_name":
		return l.LastName, true
	case "company":
		return l.Company, true
	}
	if l.CustomFields != nil {
		if v, ok := l.CustomFields[name]; ok {
			return v, true
		}
	}
	return "", false
}

// Terminal reports whether the lead can never receive another send
func (l *Lead) Terminal() bool {
	return l.Status == LeadStatusBounced || l.Status == LeadStatusUnsubscribed
}
