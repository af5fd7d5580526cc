package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
)

// Campaign represents a multi-step outreach unit
type Campaign struct {
	gorm.Model
	UserID           uint  `gorm:"not null;index" json:"user_id"`
	SendingAccountID *uint `gorm:"index" json:"sending_account_id"`
	LeadListID       *uint `gorm:"index" json:"lead_list_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"` // draft, active, paused, completed

	// Scheduling policy
	DailySendLimit  int    `gorm:"default:50" json:"daily_send_limit"`
	SendGapSeconds  int    `gorm:"default:60" json:"send_gap_seconds"`
	RandomizeTiming bool   `gorm:"default:false" json:"randomize_timing"`
	WeekdaysOnly    bool   `gorm:"default:false" json:"weekdays_only"`
	StartTime       string `gorm:"default:'09:00'" json:"start_time"`
	EndTime         string `gorm:"default:'17:00'" json:"end_time"`
	Timezone        string `gorm:"default:'UTC'" json:"timezone"`
	StopOnReply     bool   `gorm:"default:true" json:"stop_on_reply"`

	// Statistics (denormalized for performance, reconciled from the ledger)
	TotalLeads   int `gorm:"default:0" json:"total_leads"`
	SentCount    int `gorm:"default:0" json:"sent_count"`
	OpenedCount  int `gorm:"default:0" json:"opened_count"`
	RepliedCount int `gorm:"default:0" json:"replied_count"`
	BouncedCount int `gorm:"default:0" json:"bounced_count"`

	ScheduledStartAt *time.Time `json:"scheduled_start_at"`
	StartedAt        *time.Time `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`

	// Relations
	Sequences []EmailSequence `gorm:"foreignKey:CampaignID" json:"sequences,omitempty"`
	Leads     []Lead          `gorm:"foreignKey:CampaignID" json:"leads,omitempty"`
}

// EmailSequence represents one position in a campaign's message sequence
type EmailSequence struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	StepNumber   int  `gorm:"not null" json:"step_number"` // 1-based, contiguous per campaign
	DelayDays    int  `gorm:"default:0" json:"delay_days"`
	DelayHours   int  `gorm:"default:0" json:"delay_hours"`
	DelayMinutes int  `gorm:"default:0" json:"delay_minutes"`
	IsReply      bool `gorm:"default:false" json:"is_reply"` // send as a threaded reply

	// Relations
	Variants []SequenceVariant `gorm:"foreignKey:SequenceID" json:"variants,omitempty"`
}

// Delay returns the wait between the previous step's send and this one
func (s *EmailSequence) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour +
		time.Duration(s.DelayHours)*time.Hour +
		time.Duration(s.DelayMinutes)*time.Minute
}

// SequenceVariant is an A/B test arm for one sequence step
type SequenceVariant struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	Label   string `json:"label"`
	Subject string `gorm:"not null" json:"subject"`
	Body    string `gorm:"type:text" json:"body"`
	Weight  int    `gorm:"default:100" json:"weight"` // relative selection weight
}
