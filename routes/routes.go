package routes

import (
	"log"
	"os"

	controller "mailreach/controllers"
	"mailreach/middleware"
	"mailreach/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"
)

// SetupRoutes wires every HTTP surface: public tracking endpoints, cron-token
// guarded job triggers, and the management API.
func SetupRoutes(app *fiber.App, db *gorm.DB, dispatcher *utils.Dispatcher, scanner *utils.ReplyScanner) {
	trackController := controller.NewTrackController(db, log.New(os.Stdout, "TRACK: ", log.LstdFlags))
	dispatchController := controller.NewDispatchController(db, dispatcher, log.New(os.Stdout, "DISPATCH: ", log.LstdFlags))
	replyController := controller.NewReplyController(db, scanner, log.New(os.Stdout, "REPLY: ", log.LstdFlags))
	campaignController := controller.NewCampaignController(db, log.New(os.Stdout, "CAMPAIGN: ", log.LstdFlags))
	accountController := controller.NewAccountController(db, log.New(os.Stdout, "ACCOUNT: ", log.LstdFlags))

	// Public tracking endpoints. These are hit from recipient mail clients
	// and must never require authentication.
	app.Get("/track-open", trackController.TrackOpen)
	app.Get("/track-click", trackController.TrackClick)
	app.Get("/unsubscribe", trackController.Unsubscribe)

	// Job triggers, invoked by an external scheduler or operator
	jobs := app.Group("/jobs", middleware.CronToken(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	jobs.Post("/send-campaigns", dispatchController.SendCampaigns)
	jobs.Post("/check-replies", replyController.CheckReplies)
	jobs.Post("/reset-quotas", dispatchController.ResetQuotas)

	// Management API
	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	campaigns := api.Group("/campaigns")
	campaigns.Post("/", campaignController.CreateCampaign)
	campaigns.Get("/", campaignController.GetCampaigns)
	campaigns.Get("/:id", campaignController.GetCampaign)
	campaigns.Post("/:id/start", campaignController.StartCampaign)
	campaigns.Post("/:id/pause", campaignController.PauseCampaign)
	campaigns.Post("/:id/leads", campaignController.EnrollLeads)
	campaigns.Get("/:id/events", campaignController.GetCampaignEvents)
	campaigns.Get("/:id/stats", campaignController.GetCampaignStats)

	accounts := api.Group("/accounts")
	accounts.Post("/", accountController.CreateAccount)
	accounts.Get("/", accountController.GetAccounts)
	accounts.Get("/:id", accountController.GetAccount)
	accounts.Patch("/:id/status", accountController.UpdateAccountStatus)
}
