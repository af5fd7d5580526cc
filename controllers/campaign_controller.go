package controller

import (
	"log"
	"time"

	"mailreach/models"
	"mailreach/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CampaignController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	validate *validator.Validate
}

func NewCampaignController(db *gorm.DB, logger *log.Logger) *CampaignController {
	return &CampaignController{
		DB:       db,
		Logger:   logger,
		validate: validator.New(),
	}
}

type CreateVariantRequest struct {
	Label   string `json:"label"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
	Weight  int    `json:"weight"`
}

type CreateStepRequest struct {
	StepNumber   int                    `json:"step_number" validate:"required,min=1"`
	DelayDays    int                    `json:"delay_days" validate:"min=0"`
	DelayHours   int                    `json:"delay_hours" validate:"min=0"`
	DelayMinutes int                    `json:"delay_minutes" validate:"min=0"`
	IsReply      bool                   `json:"is_reply"`
	Variants     []CreateVariantRequest `json:"variants" validate:"required,min=1,dive"`
}

type CreateCampaignRequest struct {
	Name             string              `json:"name" validate:"required"`
	Description      string              `json:"description"`
	UserID           uint                `json:"user_id" validate:"required"`
	SendingAccountID *uint               `json:"sending_account_id"`
	LeadListID       *uint               `json:"lead_list_id"`
	DailySendLimit   int                 `json:"daily_send_limit" validate:"min=0"`
	SendGapSeconds   int                 `json:"send_gap_seconds" validate:"min=0"`
	RandomizeTiming  bool                `json:"randomize_timing"`
	WeekdaysOnly     bool                `json:"weekdays_only"`
	StartTime        string              `json:"start_time"`
	EndTime          string              `json:"end_time"`
	Timezone         string              `json:"timezone"`
	StopOnReply      *bool               `json:"stop_on_reply"`
	Steps            []CreateStepRequest `json:"steps" validate:"required,min=1,dive"`
}

// CreateCampaign creates a draft campaign with its sequence steps and
// variants. Step numbers must be contiguous starting at 1.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	var req CreateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := cc.validate.Struct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	for i, step := range req.Steps {
		if step.StepNumber != i+1 {
			return utils.ErrorResponse(c, fiber.StatusBadRequest,
				"Step numbers must be contiguous starting at 1", nil)
		}
	}

	campaign := models.Campaign{
		UserID:           req.UserID,
		SendingAccountID: req.SendingAccountID,
		LeadListID:       req.LeadListID,
		Name:             req.Name,
		Description:      req.Description,
		Status:           models.CampaignStatusDraft,
		DailySendLimit:   req.DailySendLimit,
		SendGapSeconds:   req.SendGapSeconds,
		RandomizeTiming:  req.RandomizeTiming,
		WeekdaysOnly:     req.WeekdaysOnly,
	}
	if req.StartTime != "" {
		campaign.StartTime = req.StartTime
	}
	if req.EndTime != "" {
		campaign.EndTime = req.EndTime
	}
	if req.Timezone != "" {
		campaign.Timezone = req.Timezone
	}
	if req.StopOnReply != nil {
		campaign.StopOnReply = *req.StopOnReply
	} else {
		campaign.StopOnReply = true
	}

	for _, step := range req.Steps {
		seq := models.EmailSequence{
			StepNumber:   step.StepNumber,
			DelayDays:    step.DelayDays,
			DelayHours:   step.DelayHours,
			DelayMinutes: step.DelayMinutes,
			IsReply:      step.IsReply,
		}
		for _, v := range step.Variants {
			weight := v.Weight
			if weight <= 0 {
				weight = 100
			}
			seq.Variants = append(seq.Variants, models.SequenceVariant{
				Label:   v.Label,
				Subject: v.Subject,
				Body:    v.Body,
				Weight:  weight,
			})
		}
		campaign.Sequences = append(campaign.Sequences, seq)
	}

	if err := cc.DB.Create(&campaign).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create campaign", err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(campaign))
}

func (cc *CampaignController) GetCampaigns(c *fiber.Ctx) error {
	var campaigns []models.Campaign
	if err := cc.DB.Order("created_at DESC").Find(&campaigns).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch campaigns", err)
	}
	return c.JSON(utils.SuccessResponse(campaigns))
}

func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	var campaign models.Campaign
	err := cc.DB.Preload("Sequences", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).Preload("Sequences.Variants").First(&campaign, c.Params("id")).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", err)
	}
	return c.JSON(utils.SuccessResponse(campaign))
}

// StartCampaign activates a draft or paused campaign
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	var campaign models.Campaign
	if err := cc.DB.Preload("Sequences").First(&campaign, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", err)
	}

	if campaign.Status == models.CampaignStatusActive {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Campaign is already active", nil)
	}
	if campaign.Status == models.CampaignStatusCompleted {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Campaign is completed", nil)
	}
	if campaign.SendingAccountID == nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Campaign has no sending account", nil)
	}
	if len(campaign.Sequences) == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Campaign has no sequence steps", nil)
	}

	updates := map[string]interface{}{"status": models.CampaignStatusActive}
	if campaign.StartedAt == nil {
		updates["started_at"] = time.Now()
	}
	if err := cc.DB.Model(&campaign).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start campaign", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Campaign started"}))
}

// PauseCampaign halts dispatching without losing lead cursors
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	var campaign models.Campaign
	if err := cc.DB.First(&campaign, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", err)
	}
	if campaign.Status != models.CampaignStatusActive {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Campaign is not active", nil)
	}

	if err := cc.DB.Model(&campaign).Update("status", models.CampaignStatusPaused).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to pause campaign", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Campaign paused"}))
}

type EnrollLeadRequest struct {
	Email        string            `json:"email" validate:"required,email"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Company      string            `json:"company"`
	CustomFields map[string]string `json:"custom_fields"`
}

// EnrollLeads adds recipients to a campaign. Suppressed addresses are
// enrolled directly into the unsubscribed state so they are never dispatched.
func (cc *CampaignController) EnrollLeads(c *fiber.Ctx) error {
	var campaign models.Campaign
	if err := cc.DB.First(&campaign, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", err)
	}

	var reqs []EnrollLeadRequest
	if err := c.BodyParser(&reqs); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	enrolled := 0
	for _, req := range reqs {
		if err := cc.validate.Struct(req); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
		}

		lead := models.Lead{
			UserID:       campaign.UserID,
			CampaignID:   campaign.ID,
			LeadListID:   campaign.LeadListID,
			Email:        req.Email,
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Company:      req.Company,
			CustomFields: req.CustomFields,
			Status:       models.LeadStatusActive,
		}

		suppressed, err := models.IsSuppressed(cc.DB, campaign.UserID, req.Email)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check suppression list", err)
		}
		if suppressed {
			lead.Status = models.LeadStatusUnsubscribed
		}

		if err := cc.DB.Create(&lead).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enroll lead", err)
		}
		enrolled++
	}

	if err := cc.DB.Model(&campaign).
		Update("total_leads", gorm.Expr("total_leads + ?", enrolled)).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update lead count", err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{"enrolled": enrolled}))
}

// GetCampaignEvents pages through the campaign's event ledger
func (cc *CampaignController) GetCampaignEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var events []models.EmailEvent
	err := cc.DB.Where("campaign_id = ?", c.Params("id")).
		Order("occurred_at DESC").
		Limit(limit).
		Offset(c.QueryInt("offset", 0)).
		Find(&events).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch events", err)
	}
	return c.JSON(utils.SuccessResponse(events))
}

type variantStats struct {
	VariantID uint  `json:"variant_id"`
	Sent      int64 `json:"sent"`
	Opened    int64 `json:"opened"`
	Replied   int64 `json:"replied"`
	Clicked   int64 `json:"clicked"`
}

// GetCampaignStats derives per-variant analytics from the event ledger
// instead of maintaining incremental counters that could drift.
func (cc *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	var campaign models.Campaign
	err := cc.DB.Preload("Sequences").Preload("Sequences.Variants").
		First(&campaign, c.Params("id")).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", err)
	}

	var events []models.EmailEvent
	if err := cc.DB.Where("campaign_id = ?", campaign.ID).Find(&events).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch events", err)
	}

	byVariant := make(map[uint]*variantStats)
	for _, seq := range campaign.Sequences {
		for _, variant := range seq.Variants {
			byVariant[variant.ID] = &variantStats{VariantID: variant.ID}
		}
	}
	for _, event := range events {
		vs := byVariant[eventVariantID(&event)]
		if vs == nil {
			continue
		}
		switch event.EventType {
		case models.EventSent:
			if event.Succeeded() {
				vs.Sent++
			}
		case models.EventOpened:
			vs.Opened++
		case models.EventReplied:
			vs.Replied++
		case models.EventClicked:
			vs.Clicked++
		}
	}

	stats := make([]variantStats, 0, len(byVariant))
	for _, seq := range campaign.Sequences {
		for _, variant := range seq.Variants {
			stats = append(stats, *byVariant[variant.ID])
		}
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign": campaign,
		"variants": stats,
	}))
}

// eventVariantID reads variant_id out of jsonb metadata. JSON numbers
// decode as float64.
func eventVariantID(event *models.EmailEvent) uint {
	raw, ok := event.Metadata["variant_id"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return uint(v)
	case int:
		return uint(v)
	case uint:
		return uint(v)
	}
	return 0
}
