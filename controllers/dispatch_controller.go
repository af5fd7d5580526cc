package controller

import (
	"context"
	"log"
	"time"

	"mailreach/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type DispatchController struct {
	DB         *gorm.DB
	Dispatcher *utils.Dispatcher
	Logger     *log.Logger
}

func NewDispatchController(db *gorm.DB, dispatcher *utils.Dispatcher, logger *log.Logger) *DispatchController {
	return &DispatchController{
		DB:         db,
		Dispatcher: dispatcher,
		Logger:     logger,
	}
}

// SendCampaigns triggers the dispatch loop for one campaign (?campaign_id=)
// or for every active campaign, and returns the per-lead outcome summary.
func (dc *DispatchController) SendCampaigns(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if campaignID := c.Query("campaign_id"); campaignID != "" {
		summary, err := dc.Dispatcher.RunCampaign(ctx, utils.ParseUint(campaignID))
		if err != nil {
			utils.LogError("dispatch_failed", err, map[string]interface{}{
				"campaign_id": campaignID,
			})
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Dispatch failed", err)
		}
		return c.JSON(utils.SuccessResponse([]utils.DispatchSummary{*summary}))
	}

	summaries, err := dc.Dispatcher.RunAll(ctx)
	if err != nil {
		utils.LogError("dispatch_failed", err, nil)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Dispatch failed", err)
	}
	return c.JSON(utils.SuccessResponse(summaries))
}

// ResetQuotas clears sent_today on every account and reconciles campaign
// counters from the event ledger. Normally invoked by the reset worker, the
// endpoint exists so an operator can force a reconciliation.
func (dc *DispatchController) ResetQuotas(c *fiber.Ctx) error {
	if err := utils.ResetDailyQuotas(dc.DB); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reset quotas", err)
	}
	if err := utils.ReconcileCampaignCounters(dc.DB); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reconcile counters", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Quotas reset"}))
}
