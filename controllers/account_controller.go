package controller

import (
	"log"

	"mailreach/models"
	"mailreach/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AccountController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	validate *validator.Validate
}

func NewAccountController(db *gorm.DB, logger *log.Logger) *AccountController {
	return &AccountController{
		DB:       db,
		Logger:   logger,
		validate: validator.New(),
	}
}

type CreateAccountRequest struct {
	UserID       uint   `json:"user_id" validate:"required"`
	EmailAddress string `json:"email_address" validate:"required,email"`
	DisplayName  string `json:"display_name"`

	SMTPHost     string `json:"smtp_host" validate:"required"`
	SMTPPort     int    `json:"smtp_port" validate:"required,min=1,max=65535"`
	SMTPUsername string `json:"smtp_username" validate:"required"`
	SMTPPassword string `json:"smtp_password" validate:"required"`

	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"imap_password"`

	DailySendLimit int  `json:"daily_send_limit" validate:"min=0"`
	WarmupEnabled  bool `json:"warmup_enabled"`
}

// CreateAccount registers a sending identity. SMTP and IMAP passwords are
// encrypted at rest and never returned in responses.
func (ac *AccountController) CreateAccount(c *fiber.Ctx) error {
	var req CreateAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := ac.validate.Struct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	smtpPassword, err := utils.Encrypt(req.SMTPPassword)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt credentials", err)
	}

	account := models.SendingAccount{
		UserID:         req.UserID,
		EmailAddress:   req.EmailAddress,
		DisplayName:    req.DisplayName,
		SMTPHost:       req.SMTPHost,
		SMTPPort:       req.SMTPPort,
		SMTPUsername:   req.SMTPUsername,
		SMTPPassword:   smtpPassword,
		DailySendLimit: req.DailySendLimit,
		WarmupEnabled:  req.WarmupEnabled,
		Status:         models.AccountStatusActive,
	}
	if account.DailySendLimit == 0 {
		account.DailySendLimit = 50
	}
	if req.WarmupEnabled {
		account.Status = models.AccountStatusWarming
	}

	if req.IMAPHost != "" {
		imapPassword, err := utils.Encrypt(req.IMAPPassword)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt credentials", err)
		}
		account.IMAPHost = req.IMAPHost
		account.IMAPPort = req.IMAPPort
		account.IMAPUsername = req.IMAPUsername
		account.IMAPPassword = imapPassword
	}

	if err := ac.DB.Create(&account).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sending account", err)
	}
	account.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(account))
}

func (ac *AccountController) GetAccounts(c *fiber.Ctx) error {
	var accounts []models.SendingAccount
	if err := ac.DB.Order("created_at DESC").Find(&accounts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch accounts", err)
	}

	for i := range accounts {
		accounts[i].Sanitize()
	}
	return c.JSON(utils.SuccessResponse(accounts))
}

func (ac *AccountController) GetAccount(c *fiber.Ctx) error {
	var account models.SendingAccount
	if err := ac.DB.First(&account, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sending account not found", err)
	}
	account.Sanitize()
	return c.JSON(utils.SuccessResponse(account))
}

type UpdateAccountStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active paused warming"`
}

// UpdateAccountStatus pauses or resumes an account. Error status is set by
// the system, not through this endpoint.
func (ac *AccountController) UpdateAccountStatus(c *fiber.Ctx) error {
	var account models.SendingAccount
	if err := ac.DB.First(&account, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sending account not found", err)
	}

	var req UpdateAccountStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := ac.validate.Struct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if err := ac.DB.Model(&account).Update("status", req.Status).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update account", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Account updated"}))
}
