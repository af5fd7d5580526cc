package models

import "gorm.io/gorm"

// Unsubscribe represents a global suppression list entry. Once an address is
// suppressed for a user, no campaign owned by that user may email it again.
type Unsubscribe struct {
	gorm.Model
	UserID     uint   `gorm:"not null;index" json:"user_id"`
	Email      string `gorm:"not null;index" json:"email"`
	CampaignID *uint  `json:"campaign_id,omitempty"`
	Reason     string `json:"reason"`
}

// IsSuppressed reports whether the email is on the user's suppression list
func IsSuppressed(db *gorm.DB, userID uint, email string) (bool, error) {
	var count int64
	err := db.Model(&Unsubscribe{}).
		Where("user_id = ? AND email = ?", userID, email).
		Count(&count).Error
	return count > 0, err
}
