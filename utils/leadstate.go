package utils

import (
	"errors"
	"fmt"
	"time"

	"mailreach/models"

	"gorm.io/gorm"
)

// Lead state is driven exclusively by EmailEvent insertions. ApplyEvent is
// the single place a lead's status and cursor mutate; it must stay idempotent
// under duplicate and out-of-order event arrivals.

// ApplyEvent folds one ledger event into the lead's state. The event is
// expected to already be persisted; lead fields are updated both in the
// database and on the passed struct.
func ApplyEvent(db *gorm.DB, lead *models.Lead, campaign *models.Campaign, event *models.EmailEvent) error {
	switch event.EventType {
	case models.EventSent:
		return applySent(db, lead, campaign, event)
	case models.EventOpened:
		return applyOpened(db, lead, campaign, event)
	case models.EventReplied:
		return applyReplied(db, lead, campaign, event)
	case models.EventBounced:
		return applyBounced(db, lead, campaign, event)
	case models.EventUnsubscribed:
		return applyUnsubscribed(db, lead, campaign, event)
	case models.EventClicked:
		// Engagement signal only, no lead state transition
		return nil
	default:
		return fmt.Errorf("unknown event type %q", event.EventType)
	}
}

func applySent(db *gorm.DB, lead *models.Lead, campaign *models.Campaign, event *models.EmailEvent) error {
	if lead.Terminal() {
		return nil
	}

	nextAt, err := NextStepSendTime(db, campaign.ID, event.StepNumber, event.OccurredAt)
	if err != nil {
		return err
	}

	// No further step means the sequence is finished for this lead
	status := models.LeadStatusSent
	if nextAt == nil {
		status = models.LeadStatusCompleted
	}

	updates := map[string]interface{}{
		"status":       status,
		"last_sent_at": event.OccurredAt,
		"next_send_at": nextAt,
	}
	if event.StepNumber > lead.CurrentStep {
		updates["current_step"] = event.StepNumber
	}
	if lead.FirstSentAt == nil {
		updates["first_sent_at"] = event.OccurredAt
	}
	if event.MessageID != "" {
		updates["last_message_id"] = event.MessageID
		if lead.ThreadID == "" {
			updates["thread_id"] = event.MessageID
		}
	}
	if err := db.Model(lead).Updates(updates).Error; err != nil {
		return err
	}

	lead.Status = status
	if event.StepNumber > lead.CurrentStep {
		lead.CurrentStep = event.StepNumber
	}
	if lead.FirstSentAt == nil {
		lead.FirstSentAt = Pointer(event.OccurredAt)
	}
	lead.LastSentAt = Pointer(event.OccurredAt)
	lead.NextSendAt = nextAt
	if event.MessageID != "" {
		lead.LastMessageID = event.MessageID
		if lead.ThreadID == "" {
			lead.ThreadID = event.MessageID
		}
	}
	return nil
}

func applyOpened(db *gorm.DB, lead *models.Lead, campaign *models.Campaign, event *models.EmailEvent) error {
	firstOpen := lead.OpenedAt == nil

	// A finished sequence keeps its completed status; the open is still
	// recorded below for engagement counters.
	if lead.Status != models.LeadStatusReplied &&
		lead.Status != models.LeadStatusCompleted &&
		!lead.Terminal() {
		if err := db.Model(lead).Update("status", models.LeadStatusOpened).Error; err != nil {
			return err
		}
		lead.Status = models.LeadStatusOpened
	}
	if firstOpen {
		if err := db.Model(lead).Update("opened_at", event.OccurredAt).Error; err != nil {
			return err
		}
		lead.OpenedAt = Pointer(event.OccurredAt)
		if err := bumpCampaignCounter(db, campaign.ID, "opened_count"); err != nil {
			return err
		}
	}
	return nil
}

func applyReplied(db *gorm.DB, lead *models.Lead, campaign *models.Campaign, event *models.EmailEvent) error {
	if lead.Terminal() {
		return nil
	}

	firstReply := lead.RepliedAt == nil
	updates := map[string]interface{}{
		"status": models.LeadStatusReplied,
	}
	if firstReply {
		updates["replied_at"] = event.OccurredAt
	}
	if campaign.StopOnReply {
		updates["next_send_at"] = nil
	}
	if err := db.Model(lead).Updates(updates).Error; err != nil {
		return err
	}

	lead.Status = models.LeadStatusReplied
	if firstReply {
		lead.RepliedAt = Pointer(event.OccurredAt)
		if err := bumpCampaignCounter(db, campaign.ID, "replied_count"); err != nil {
			return err
		}
	}
	if campaign.StopOnReply {
		lead.NextSendAt = nil
	}
	return nil
}

func applyBounced(db *gorm.DB, lead *models.Lead, campaign *models.Campaign, event *models.EmailEvent) error {
	firstBounce := lead.BouncedAt == nil
	updates := map[string]interface{}{
		"status":       models.LeadStatusBounced,
		"next_send_at": nil,
	}
	if firstBounce {
		updates["bounced_at"] = event.OccurredAt
	}
	if err := db.Model(lead).Updates(updates).Error; err != nil {
		return err
	}

	lead.Status = models.LeadStatusBounced
	lead.NextSendAt = nil
	if firstBounce {
		lead.BouncedAt = Pointer(event.OccurredAt)
		if err := bumpCampaignCounter(db, campaign.ID, "bounced_count"); err != nil {
			return err
		}
	}
	return nil
}

func applyUnsubscribed(db *gorm.DB, lead *models.Lead, campaign *models.Campaign, event *models.EmailEvent) error {
	updates := map[string]interface{}{
		"status":       models.LeadStatusUnsubscribed,
		"next_send_at": nil,
	}
	if lead.UnsubscribedAt == nil {
		updates["unsubscribed_at"] = event.OccurredAt
	}
	if err := db.Model(lead).Updates(updates).Error; err != nil {
		return err
	}

	lead.Status = models.LeadStatusUnsubscribed
	lead.NextSendAt = nil
	if lead.UnsubscribedAt == nil {
		lead.UnsubscribedAt = Pointer(event.OccurredAt)
	}

	// Propagate to the user's global suppression list
	entry := models.Unsubscribe{
		UserID:     campaign.UserID,
		Email:      lead.Email,
		CampaignID: &campaign.ID,
	}
	return db.Where("user_id = ? AND email = ?", campaign.UserID, lead.Email).
		FirstOrCreate(&entry).Error
}

func bumpCampaignCounter(db *gorm.DB, campaignID uint, column string) error {
	return db.Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Update(column, gorm.Expr(column+" + ?", 1)).Error
}

// NextStepSendTime computes when the step after stepNumber becomes due,
// or nil if stepNumber was the campaign's last step.
func NextStepSendTime(db *gorm.DB, campaignID uint, stepNumber int, sentAt time.Time) (*time.Time, error) {
	var next models.EmailSequence
	err := db.Where("campaign_id = ? AND step_number = ?", campaignID, stepNumber+1).
		First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	at := sentAt.Add(next.Delay())
	return &at, nil
}

// IsEligibleForDispatch is the single predicate deciding whether a lead may
// receive its next step at `now`.
func IsEligibleForDispatch(lead *models.Lead, campaign *models.Campaign, now time.Time) bool {
	if campaign.Status != models.CampaignStatusActive {
		return false
	}
	if lead.Terminal() {
		return false
	}
	if lead.Status == models.LeadStatusReplied && campaign.StopOnReply {
		return false
	}
	if lead.Status == models.LeadStatusCompleted {
		return false
	}
	if lead.NextSendAt == nil {
		return lead.CurrentStep == 0
	}
	return !now.Before(*lead.NextSendAt)
}

// statusPriority orders event types by how strongly they pin a lead's status
var statusPriority = []struct {
	event  string
	status string
}{
	{models.EventBounced, models.LeadStatusBounced},
	{models.EventUnsubscribed, models.LeadStatusUnsubscribed},
	{models.EventReplied, models.LeadStatusReplied},
	{models.EventOpened, models.LeadStatusOpened},
	{models.EventSent, models.LeadStatusSent},
}

// DeriveStatus recomputes a lead's status from its event history alone,
// regardless of arrival order. Used to heal a stored status that desynced
// from the ledger.
func DeriveStatus(events []models.EmailEvent) string {
	seen := make(map[string]bool, len(events))
	for i := range events {
		e := &events[i]
		if e.EventType == models.EventSent && !e.Succeeded() {
			continue
		}
		seen[e.EventType] = true
	}
	for _, p := range statusPriority {
		if seen[p.event] {
			return p.status
		}
	}
	return models.LeadStatusActive
}
