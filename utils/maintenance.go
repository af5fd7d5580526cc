package utils

import (
	"gorm.io/gorm"

	"mailreach/models"
)

// ResetDailyQuotas clears sent_today on every account and advances warmup
// progress for warming accounts. Runs once per day at local midnight, and is
// also reachable through the operator reset endpoint.
func ResetDailyQuotas(db *gorm.DB) error {
	if err := db.Model(&models.SendingAccount{}).
		Where("sent_today > 0").
		Update("sent_today", 0).Error; err != nil {
		return err
	}

	// Each completed day moves a warming account 5 points closer to its
	// full limit. At 100 the account graduates to active.
	if err := db.Model(&models.SendingAccount{}).
		Where("status = ? AND warmup_progress < 100", models.AccountStatusWarming).
		Update("warmup_progress", gorm.Expr("warmup_progress + ?", 5)).Error; err != nil {
		return err
	}
	return db.Model(&models.SendingAccount{}).
		Where("status = ? AND warmup_progress >= 100", models.AccountStatusWarming).
		Update("status", models.AccountStatusActive).Error
}

// ReconcileCampaignCounters recomputes the denormalized campaign counters
// from the event ledger. The incremental bumps applied during dispatch and
// ingestion can drift after crashes; the ledger is the source of truth.
func ReconcileCampaignCounters(db *gorm.DB) error {
	var campaigns []models.Campaign
	if err := db.Where("status IN ?", []string{
		models.CampaignStatusActive,
		models.CampaignStatusPaused,
		models.CampaignStatusCompleted,
	}).Find(&campaigns).Error; err != nil {
		return err
	}

	for i := range campaigns {
		campaign := &campaigns[i]

		var sent int64
		err := db.Model(&models.EmailEvent{}).
			Where("campaign_id = ? AND event_type = ? AND message_id != '' AND error_message = ''",
				campaign.ID, models.EventSent).
			Count(&sent).Error
		if err != nil {
			return err
		}

		counts := map[string]int64{models.EventSent: sent}
		for _, eventType := range []string{models.EventOpened, models.EventReplied, models.EventBounced} {
			// Counters track leads reached, not raw event volume, so
			// repeat opens from the same lead count once.
			var n int64
			err := db.Model(&models.EmailEvent{}).
				Where("campaign_id = ? AND event_type = ?", campaign.ID, eventType).
				Distinct("lead_id").
				Count(&n).Error
			if err != nil {
				return err
			}
			counts[eventType] = n
		}

		var totalLeads int64
		if err := db.Model(&models.Lead{}).
			Where("campaign_id = ?", campaign.ID).
			Count(&totalLeads).Error; err != nil {
			return err
		}

		err = db.Model(campaign).Updates(map[string]interface{}{
			"total_leads":   totalLeads,
			"sent_count":    counts[models.EventSent],
			"opened_count":  counts[models.EventOpened],
			"replied_count": counts[models.EventReplied],
			"bounced_count": counts[models.EventBounced],
		}).Error
		if err != nil {
			return err
		}
	}
	return nil
}
