package utils

import (
	"testing"
	"time"

	"mailreach/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A single connection keeps every session on the same in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

type campaignPolicy struct {
	DailySendLimit  int
	SendGapSeconds  int
	RandomizeTiming bool
	WeekdaysOnly    bool
	StartTime       string
	EndTime         string
	StopOnReply     bool
}

// seedCampaign creates an active campaign with the given policy and one
// variant per step. Policy fields are written explicitly because several
// carry non-zero column defaults.
func seedCampaign(t *testing.T, db *gorm.DB, account *models.SendingAccount, policy campaignPolicy, steps ...models.EmailSequence) *models.Campaign {
	t.Helper()

	campaign := models.Campaign{
		UserID:           1,
		SendingAccountID: &account.ID,
		Name:             "Launch outreach",
		Status:           models.CampaignStatusActive,
		Timezone:         "UTC",
	}
	require.NoError(t, db.Create(&campaign).Error)
	require.NoError(t, db.Model(&campaign).Updates(map[string]interface{}{
		"daily_send_limit": policy.DailySendLimit,
		"send_gap_seconds": policy.SendGapSeconds,
		"randomize_timing": policy.RandomizeTiming,
		"weekdays_only":    policy.WeekdaysOnly,
		"start_time":       policy.StartTime,
		"end_time":         policy.EndTime,
		"stop_on_reply":    policy.StopOnReply,
	}).Error)

	for i := range steps {
		steps[i].CampaignID = campaign.ID
		require.NoError(t, db.Create(&steps[i]).Error)
	}

	require.NoError(t, db.First(&campaign, campaign.ID).Error)
	return &campaign
}

func seedAccount(t *testing.T, db *gorm.DB, dailyLimit int) *models.SendingAccount {
	t.Helper()

	account := models.SendingAccount{
		UserID:         1,
		EmailAddress:   "sender@example.com",
		SMTPHost:       "smtp.example.com",
		DailySendLimit: dailyLimit,
		Status:         models.AccountStatusActive,
	}
	require.NoError(t, db.Create(&account).Error)
	require.NoError(t, db.Model(&account).Update("sent_today", 0).Error)
	return &account
}

func seedLead(t *testing.T, db *gorm.DB, campaign *models.Campaign, email, firstName string) *models.Lead {
	t.Helper()

	lead := models.Lead{
		UserID:     campaign.UserID,
		CampaignID: campaign.ID,
		Email:      email,
		FirstName:  firstName,
		Status:     models.LeadStatusActive,
	}
	require.NoError(t, db.Create(&lead).Error)
	return &lead
}

func stepWithVariant(stepNumber int, subject, body string, delay time.Duration, isReply bool) models.EmailSequence {
	return models.EmailSequence{
		StepNumber:   stepNumber,
		DelayDays:    int(delay / (24 * time.Hour)),
		DelayHours:   int(delay % (24 * time.Hour) / time.Hour),
		DelayMinutes: int(delay % time.Hour / time.Minute),
		IsReply:      isReply,
		Variants: []models.SequenceVariant{
			{Subject: subject, Body: body, Weight: 100},
		},
	}
}
