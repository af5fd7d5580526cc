package controller

import (
	"log"
	"time"

	"mailreach/models"
	"mailreach/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type TrackController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTrackController(db *gorm.DB, logger *log.Logger) *TrackController {
	return &TrackController{
		DB:     db,
		Logger: logger,
	}
}

// TrackOpen serves the tracking pixel. The id parameter references the
// original sent event. Failures must stay invisible to the remote mail
// client, so the pixel is returned with a 200 no matter what.
func (tc *TrackController) TrackOpen(c *fiber.Ctx) error {
	if id := c.Query("id"); id != "" {
		if err := tc.recordDerivedEvent(utils.ParseUint(id), models.EventOpened, nil); err != nil {
			tc.Logger.Printf("Failed to record open for event %s: %v", id, err)
		}
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Set("Pragma", "no-cache")
	c.Set("Expires", "0")
	return c.Status(fiber.StatusOK).Send(utils.TransparentGIF)
}

// TrackClick records a click event and redirects to the original link
func (tc *TrackController) TrackClick(c *fiber.Ctx) error {
	target := c.Query("url")
	if id := c.Query("id"); id != "" {
		meta := map[string]interface{}{"url": target}
		if err := tc.recordDerivedEvent(utils.ParseUint(id), models.EventClicked, meta); err != nil {
			tc.Logger.Printf("Failed to record click for event %s: %v", id, err)
		}
	}

	if target == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	return c.Redirect(target, fiber.StatusFound)
}

// Unsubscribe handles the one-click unsubscribe link from an email footer
func (tc *TrackController) Unsubscribe(c *fiber.Ctx) error {
	if id := c.Query("id"); id != "" {
		if err := tc.recordDerivedEvent(utils.ParseUint(id), models.EventUnsubscribed, nil); err != nil {
			tc.Logger.Printf("Failed to record unsubscribe for event %s: %v", id, err)
		}
	}

	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.SendString("<html><body><p>You have been unsubscribed.</p></body></html>")
}

// recordDerivedEvent inserts a new ledger event correlated to the original
// sent event's campaign/lead/step and folds it into lead state. A lookup
// miss is silently ignored.
func (tc *TrackController) recordDerivedEvent(eventID uint, eventType string, metadata map[string]interface{}) error {
	if eventID == 0 {
		return nil
	}

	var original models.EmailEvent
	err := tc.DB.Where("id = ? AND event_type = ?", eventID, models.EventSent).
		First(&original).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	for _, key := range []string{"variant_id", "variant_label"} {
		if v, ok := original.Metadata[key]; ok {
			metadata[key] = v
		}
	}

	event := models.EmailEvent{
		CampaignID:       original.CampaignID,
		LeadID:           original.LeadID,
		SequenceID:       original.SequenceID,
		SendingAccountID: original.SendingAccountID,
		EventType:        eventType,
		StepNumber:       original.StepNumber,
		RecipientEmail:   original.RecipientEmail,
		OccurredAt:       time.Now(),
		Metadata:         metadata,
	}
	if err := tc.DB.Create(&event).Error; err != nil {
		return err
	}

	var lead models.Lead
	if err := tc.DB.First(&lead, original.LeadID).Error; err != nil {
		return err
	}
	var campaign models.Campaign
	if err := tc.DB.First(&campaign, original.CampaignID).Error; err != nil {
		return err
	}
	return utils.ApplyEvent(tc.DB, &lead, &campaign, &event)
}
