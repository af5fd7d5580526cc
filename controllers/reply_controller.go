package controller

import (
	"context"
	"log"
	"time"

	"mailreach/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ReplyController struct {
	DB      *gorm.DB
	Scanner *utils.ReplyScanner
	Logger  *log.Logger
}

func NewReplyController(db *gorm.DB, scanner *utils.ReplyScanner, logger *log.Logger) *ReplyController {
	return &ReplyController{
		DB:      db,
		Scanner: scanner,
		Logger:  logger,
	}
}

// CheckReplies runs the reply scan across all IMAP-enabled accounts and
// returns per-account results. Account-level failures are reported inline,
// never as a non-2xx.
func (rc *ReplyController) CheckReplies(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	results, err := rc.Scanner.ScanAll(ctx)
	if err != nil {
		utils.LogError("reply_scan_failed", err, nil)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Reply scan failed", err)
	}
	return c.JSON(utils.SuccessResponse(results))
}
