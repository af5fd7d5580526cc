package models

import (
	"time"

	"gorm.io/gorm"
)

// Sending account statuses
const (
	AccountStatusActive  = "active"
	AccountStatusPaused  = "paused"
	AccountStatusError   = "error"
	AccountStatusWarming = "warming"
)

// SendingAccount represents a mailbox used to dispatch and monitor email
type SendingAccount struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Basic identification
	EmailAddress string `gorm:"not null;index" json:"email_address"`
	DisplayName  string `json:"display_name"`
	Provider     string `gorm:"default:'smtp'" json:"provider"` // smtp, google, outlook

	// ========= SMTP Configuration =========
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `gorm:"default:587" json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"` // Encrypted in application layer

	// ========= IMAP Configuration =========
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `gorm:"default:993" json:"imap_port"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"-"` // Encrypted in application layer
	IMAPMailbox  string `gorm:"default:'INBOX'" json:"imap_mailbox"`

	// ========= OAuth Configuration =========
	OAuthAccessToken  string     `gorm:"column:oauth_access_token" json:"-"`  // Encrypted
	OAuthRefreshToken string     `gorm:"column:oauth_refresh_token" json:"-"` // Encrypted
	OAuthExpiresAt    *time.Time `gorm:"column:oauth_expires_at" json:"oauth_expires_at"`

	// ========= Quota & Warmup =========
	DailySendLimit int  `gorm:"default:50" json:"daily_send_limit"`
	SentToday      int  `gorm:"default:0" json:"sent_today"`
	WarmupEnabled  bool `gorm:"default:false" json:"warmup_enabled"`
	WarmupProgress int  `gorm:"default:0" json:"warmup_progress"` // 0-100

	// ========= Status =========
	Status     string     `gorm:"default:'active'" json:"status"` // active, paused, error, warming
	LastSyncAt *time.Time `json:"last_sync_at"`
	LastError  *string    `json:"last_error"`

	// Dispatch lease: at most one in-flight dispatch worker per account
	LockedAt *time.Time `json:"-"`
	LockedBy string     `json:"-"`
}

// Sanitize clears credential fields before serialization
func (a *SendingAccount) Sanitize() {
	a.SMTPPassword = ""
	a.IMAPPassword = ""
	a.OAuthAccessToken = ""
	a.OAuthRefreshToken = ""
}

// EffectiveDailyLimit returns the quota currently allowed for this account.
// Warming accounts ramp from 20% of the configured limit up to the full
// limit as warmup progress approaches 100.
func (a *SendingAccount) EffectiveDailyLimit() int {
	if a.Status != AccountStatusWarming {
		return a.DailySendLimit
	}
	progress := a.WarmupProgress
	if progress > 100 {
		progress = 100
	}
	limit := a.DailySendLimit * (20 + (80*progress)/100) / 100
	if limit < 1 {
		limit = 1
	}
	return limit
}

// HasIMAP reports whether the account can be scanned for replies
func (a *SendingAccount) HasIMAP() bool {
	return a.IMAPHost != ""
}
