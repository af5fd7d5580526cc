package utils

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"mailreach/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Send outcome statuses reported in dispatch summaries
const (
	OutcomeSent       = "sent"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
	OutcomeCompleted  = "completed"
	OutcomeReconciled = "reconciled"
	OutcomeSuppressed = "suppressed"
)

// SendOutcome describes what happened to one lead during a dispatch run
type SendOutcome struct {
	LeadID     uint   `json:"lead_id"`
	Email      string `json:"email"`
	StepNumber int    `json:"step_number,omitempty"`
	Status     string `json:"status"`
	MessageID  string `json:"message_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DispatchSummary aggregates one campaign's dispatch run
type DispatchSummary struct {
	CampaignID     uint          `json:"campaign_id"`
	CampaignName   string        `json:"campaign_name"`
	Sent           int           `json:"sent"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	Completed      int           `json:"completed"`
	NextEligibleAt *time.Time    `json:"next_eligible_at,omitempty"`
	Outcomes       []SendOutcome `json:"outcomes"`
	Error          string        `json:"error,omitempty"`
}

// Dispatcher runs the campaign send loop: it selects eligible leads, applies
// the governor, renders and sends the next step, and records the outcome on
// the event ledger and the lead cursor.
type Dispatcher struct {
	DB       *gorm.DB
	Mailer   Mailer
	Governor *Governor
	Logger   *log.Logger

	BaseURL         string
	LeaseTimeout    time.Duration
	MaxSendAttempts int

	workerID string
	mu       sync.Mutex
	rng      *rand.Rand
}

func NewDispatcher(db *gorm.DB, mailer Mailer, logger *log.Logger) *Dispatcher {
	host, _ := os.Hostname()
	return &Dispatcher{
		DB:              db,
		Mailer:          mailer,
		Governor:        NewGovernor(0.5),
		Logger:          logger,
		BaseURL:         "http://localhost:5000",
		LeaseTimeout:    10 * time.Minute,
		MaxSendAttempts: 3,
		workerID:        fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RunAll dispatches every active campaign. Per-campaign problems are
// reported in the summaries; only a failure to list campaigns aborts.
func (d *Dispatcher) RunAll(ctx context.Context) ([]DispatchSummary, error) {
	var campaigns []models.Campaign
	if err := d.DB.Where("status = ?", models.CampaignStatusActive).Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to list active campaigns: %w", err)
	}

	summaries := make([]DispatchSummary, 0, len(campaigns))
	for i := range campaigns {
		if ctx.Err() != nil {
			break
		}
		summary, err := d.RunCampaign(ctx, campaigns[i].ID)
		if err != nil {
			d.Logger.Printf("Dispatch failed for campaign %d: %v", campaigns[i].ID, err)
			summary = &DispatchSummary{
				CampaignID:   campaigns[i].ID,
				CampaignName: campaigns[i].Name,
				Error:        err.Error(),
			}
		}
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}

// RunCampaign dispatches the next due step to as many eligible leads of one
// campaign as account quota and the governor allow.
func (d *Dispatcher) RunCampaign(ctx context.Context, campaignID uint) (*DispatchSummary, error) {
	var campaign models.Campaign
	if err := d.DB.Preload("Sequences", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).Preload("Sequences.Variants").First(&campaign, campaignID).Error; err != nil {
		return nil, fmt.Errorf("campaign %d not found: %w", campaignID, err)
	}

	summary := &DispatchSummary{CampaignID: campaign.ID, CampaignName: campaign.Name}

	if campaign.Status != models.CampaignStatusActive {
		summary.Error = "campaign is not active"
		return summary, nil
	}
	if campaign.SendingAccountID == nil {
		summary.Error = "campaign has no sending account"
		return summary, nil
	}
	if len(campaign.Sequences) == 0 {
		summary.Error = "campaign has no sequence steps"
		return summary, nil
	}

	var account models.SendingAccount
	if err := d.DB.First(&account, *campaign.SendingAccountID).Error; err != nil {
		return nil, fmt.Errorf("sending account %d not found: %w", *campaign.SendingAccountID, err)
	}
	if account.Status != models.AccountStatusActive && account.Status != models.AccountStatusWarming {
		summary.Error = fmt.Sprintf("sending account is %s", account.Status)
		return summary, nil
	}

	acquired, err := d.acquireLease(&account)
	if err != nil {
		return nil, err
	}
	if !acquired {
		summary.Error = "sending account is leased by another worker"
		return summary, nil
	}
	defer d.releaseLease(&account)

	lastSentAt, err := d.lastSentTime(account.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	loc := campaignLocation(&campaign)
	dayStart := localDayStart(now, loc)
	campaignSentToday, err := d.campaignSentSince(campaign.ID, dayStart)
	if err != nil {
		return nil, err
	}
	var leads []models.Lead
	err = d.DB.Where("campaign_id = ?", campaign.ID).
		Where("status NOT IN ?", []string{
			models.LeadStatusBounced,
			models.LeadStatusUnsubscribed,
			models.LeadStatusCompleted,
		}).
		Where("next_send_at IS NULL OR next_send_at <= ?", now).
		Order("next_send_at ASC NULLS FIRST, id ASC").
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load eligible leads: %w", err)
	}

	for i := range leads {
		if ctx.Err() != nil {
			break
		}
		lead := &leads[i]
		now = time.Now()

		if !IsEligibleForDispatch(lead, &campaign, now) {
			summary.Skipped++
			continue
		}

		suppressed, err := models.IsSuppressed(d.DB, campaign.UserID, lead.Email)
		if err != nil {
			return nil, err
		}
		if suppressed {
			if err := d.suppressLead(lead, &campaign, &account); err != nil {
				return nil, err
			}
			summary.Skipped++
			summary.Outcomes = append(summary.Outcomes, SendOutcome{
				LeadID: lead.ID, Email: lead.Email, Status: OutcomeSuppressed,
			})
			continue
		}

		// The campaign's own daily limit caps sends independently of the
		// account quota, counted from the ledger per campaign-local day.
		if campaign.DailySendLimit > 0 && campaignSentToday >= int64(campaign.DailySendLimit) {
			next := nextWindowOpen(&campaign, dayStart.AddDate(0, 0, 1), loc)
			summary.NextEligibleAt = &next
			break
		}

		if !d.Governor.CanSendNow(&account, &campaign, lastSentAt, now) {
			next := d.Governor.NextEligibleTime(&account, &campaign, lastSentAt, now)
			summary.NextEligibleAt = &next
			break
		}

		step := stepForNumber(campaign.Sequences, lead.CurrentStep+1)
		if step == nil {
			if err := d.completeLead(lead); err != nil {
				return nil, err
			}
			summary.Completed++
			summary.Outcomes = append(summary.Outcomes, SendOutcome{
				LeadID: lead.ID, Email: lead.Email, Status: OutcomeCompleted,
			})
			continue
		}

		// A successful sent event for this step is the source of truth even
		// if the lead cursor looks stale after a crash: never re-send.
		prior, err := d.successfulSend(lead.ID, campaign.ID, step.StepNumber)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			if err := ApplyEvent(d.DB, lead, &campaign, prior); err != nil {
				return nil, err
			}
			summary.Outcomes = append(summary.Outcomes, SendOutcome{
				LeadID: lead.ID, Email: lead.Email, StepNumber: step.StepNumber,
				Status: OutcomeReconciled, MessageID: prior.MessageID,
			})
			continue
		}

		attempts, err := d.failedAttempts(lead.ID, campaign.ID, step.StepNumber)
		if err != nil {
			return nil, err
		}
		if attempts >= int64(d.MaxSendAttempts) {
			summary.Skipped++
			summary.Outcomes = append(summary.Outcomes, SendOutcome{
				LeadID: lead.ID, Email: lead.Email, StepNumber: step.StepNumber,
				Status: OutcomeSkipped, Error: "max send attempts reached",
			})
			continue
		}

		// Atomic increment-if-below-limit closes the check-then-act race
		// between concurrent workers sharing this account.
		took, err := d.takeQuota(&account)
		if err != nil {
			return nil, err
		}
		if !took {
			next := d.Governor.NextEligibleTime(&account, &campaign, lastSentAt, now)
			summary.NextEligibleAt = &next
			break
		}

		outcome, err := d.sendStep(lead, &campaign, &account, step, now)
		if err != nil {
			return nil, err
		}
		summary.Outcomes = append(summary.Outcomes, *outcome)
		switch outcome.Status {
		case OutcomeSent:
			summary.Sent++
			campaignSentToday++
			lastSentAt = Pointer(now)
		case OutcomeFailed:
			summary.Failed++
			// A failed attempt did not consume a delivery; give the quota back
			if err := d.returnQuota(&account); err != nil {
				return nil, err
			}
		}
	}

	if err := d.maybeCompleteCampaign(&campaign); err != nil {
		return nil, err
	}
	return summary, nil
}

// sendStep renders and sends one step to one lead, recording the outcome on
// the ledger first so a crash mid-send never loses the attempt.
func (d *Dispatcher) sendStep(lead *models.Lead, campaign *models.Campaign, account *models.SendingAccount, step *models.EmailSequence, now time.Time) (*SendOutcome, error) {
	variant := d.pickVariant(step.Variants)
	if variant == nil {
		return &SendOutcome{
			LeadID: lead.ID, Email: lead.Email, StepNumber: step.StepNumber,
			Status: OutcomeFailed, Error: "step has no variants",
		}, nil
	}

	subject := RenderMergeFields(variant.Subject, lead)
	body := RenderMergeFields(variant.Body, lead)

	email := &OutboundEmail{
		To:      lead.Email,
		Subject: subject,
	}
	if step.IsReply && lead.LastMessageID != "" {
		email.InReplyTo = lead.LastMessageID
		email.References = threadReferences(lead)
		if !strings.HasPrefix(strings.ToLower(subject), "re:") {
			email.Subject = "Re: " + subject
		}
	}

	event := models.EmailEvent{
		CampaignID:       campaign.ID,
		LeadID:           lead.ID,
		SequenceID:       &step.ID,
		SendingAccountID: account.ID,
		EventType:        models.EventSent,
		StepNumber:       step.StepNumber,
		Subject:          email.Subject,
		RecipientEmail:   lead.Email,
		OccurredAt:       now,
		Metadata: map[string]interface{}{
			"variant_id":    variant.ID,
			"variant_label": variant.Label,
		},
	}
	if err := d.DB.Create(&event).Error; err != nil {
		return nil, fmt.Errorf("failed to record sent event: %w", err)
	}

	email.HTMLBody = InjectTracking(body, d.BaseURL, event.ID)
	email.Headers = map[string]string{
		"X-Campaign-ID": strconv.FormatUint(uint64(campaign.ID), 10),
		"X-Lead-ID":     strconv.FormatUint(uint64(lead.ID), 10),
		"X-Event-ID":    strconv.FormatUint(uint64(event.ID), 10),
	}

	messageID, sendErr := d.Mailer.Send(account, email)
	if sendErr != nil {
		if err := d.DB.Model(&event).Update("error_message", sendErr.Error()).Error; err != nil {
			return nil, err
		}
		LogEvent("send_failed", map[string]interface{}{
			"campaign_id": campaign.ID,
			"lead_id":     lead.ID,
			"step":        step.StepNumber,
			"error":       sendErr.Error(),
		})
		return &SendOutcome{
			LeadID: lead.ID, Email: lead.Email, StepNumber: step.StepNumber,
			Status: OutcomeFailed, Error: sendErr.Error(),
		}, nil
	}

	if err := d.DB.Model(&event).Update("message_id", messageID).Error; err != nil {
		return nil, err
	}
	event.MessageID = messageID

	if err := ApplyEvent(d.DB, lead, campaign, &event); err != nil {
		return nil, err
	}
	if err := bumpCampaignCounter(d.DB, campaign.ID, "sent_count"); err != nil {
		return nil, err
	}

	d.Logger.Printf("Sent step %d of campaign %d to lead %d (%s)",
		step.StepNumber, campaign.ID, lead.ID, lead.Email)
	return &SendOutcome{
		LeadID: lead.ID, Email: lead.Email, StepNumber: step.StepNumber,
		Status: OutcomeSent, MessageID: messageID,
	}, nil
}

func (d *Dispatcher) pickVariant(variants []models.SequenceVariant) *models.SequenceVariant {
	d.mu.Lock()
	defer d.mu.Unlock()
	return PickVariant(variants, d.rng)
}

// acquireLease takes the account's dispatch lease. An expired lease from a
// crashed worker is stolen.
func (d *Dispatcher) acquireLease(account *models.SendingAccount) (bool, error) {
	now := time.Now()
	cutoff := now.Add(-d.LeaseTimeout)
	res := d.DB.Model(&models.SendingAccount{}).
		Where("id = ? AND (locked_at IS NULL OR locked_at < ? OR locked_by = ?)",
			account.ID, cutoff, d.workerID).
		Updates(map[string]interface{}{"locked_at": now, "locked_by": d.workerID})
	if res.Error != nil {
		return false, fmt.Errorf("failed to acquire account lease: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (d *Dispatcher) releaseLease(account *models.SendingAccount) {
	err := d.DB.Model(&models.SendingAccount{}).
		Where("id = ? AND locked_by = ?", account.ID, d.workerID).
		Updates(map[string]interface{}{"locked_at": nil, "locked_by": ""}).Error
	if err != nil {
		d.Logger.Printf("Failed to release lease on account %d: %v", account.ID, err)
	}
}

// takeQuota atomically consumes one send from the account's daily quota
func (d *Dispatcher) takeQuota(account *models.SendingAccount) (bool, error) {
	res := d.DB.Model(&models.SendingAccount{}).
		Where("id = ? AND sent_today < ?", account.ID, account.EffectiveDailyLimit()).
		Update("sent_today", gorm.Expr("sent_today + ?", 1))
	if res.Error != nil {
		return false, fmt.Errorf("failed to take send quota: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	account.SentToday++
	return true, nil
}

// returnQuota refunds one send after a transport failure so sent_today keeps
// counting completed deliveries only
func (d *Dispatcher) returnQuota(account *models.SendingAccount) error {
	err := d.DB.Model(&models.SendingAccount{}).
		Where("id = ? AND sent_today > 0", account.ID).
		Update("sent_today", gorm.Expr("sent_today - ?", 1)).Error
	if err != nil {
		return fmt.Errorf("failed to return send quota: %w", err)
	}
	if account.SentToday > 0 {
		account.SentToday--
	}
	return nil
}

func (d *Dispatcher) lastSentTime(accountID uint) (*time.Time, error) {
	var event models.EmailEvent
	err := d.DB.Where("sending_account_id = ? AND event_type = ? AND message_id != ''",
		accountID, models.EventSent).
		Order("occurred_at DESC").
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last sent time: %w", err)
	}
	return &event.OccurredAt, nil
}

func (d *Dispatcher) successfulSend(leadID, campaignID uint, stepNumber int) (*models.EmailEvent, error) {
	var event models.EmailEvent
	err := d.DB.Where(
		"lead_id = ? AND campaign_id = ? AND step_number = ? AND event_type = ? AND message_id != ''",
		leadID, campaignID, stepNumber, models.EventSent).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// campaignSentSince counts the campaign's completed deliveries on the ledger
// since the given instant
func (d *Dispatcher) campaignSentSince(campaignID uint, since time.Time) (int64, error) {
	var count int64
	err := d.DB.Model(&models.EmailEvent{}).
		Where("campaign_id = ? AND event_type = ? AND message_id != '' AND occurred_at >= ?",
			campaignID, models.EventSent, since).
		Count(&count).Error
	return count, err
}

func localDayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

func (d *Dispatcher) failedAttempts(leadID, campaignID uint, stepNumber int) (int64, error) {
	var count int64
	err := d.DB.Model(&models.EmailEvent{}).
		Where("lead_id = ? AND campaign_id = ? AND step_number = ? AND event_type = ? AND error_message != ''",
			leadID, campaignID, stepNumber, models.EventSent).
		Count(&count).Error
	return count, err
}

func (d *Dispatcher) completeLead(lead *models.Lead) error {
	err := d.DB.Model(lead).Updates(map[string]interface{}{
		"status":       models.LeadStatusCompleted,
		"next_send_at": nil,
	}).Error
	if err != nil {
		return err
	}
	lead.Status = models.LeadStatusCompleted
	lead.NextSendAt = nil
	return nil
}

func (d *Dispatcher) suppressLead(lead *models.Lead, campaign *models.Campaign, account *models.SendingAccount) error {
	event := models.EmailEvent{
		CampaignID:       campaign.ID,
		LeadID:           lead.ID,
		SendingAccountID: account.ID,
		EventType:        models.EventUnsubscribed,
		StepNumber:       lead.CurrentStep,
		RecipientEmail:   lead.Email,
		OccurredAt:       time.Now(),
		Metadata:         map[string]interface{}{"reason": "suppression list"},
	}
	if err := d.DB.Create(&event).Error; err != nil {
		return err
	}
	return ApplyEvent(d.DB, lead, campaign, &event)
}

// maybeCompleteCampaign marks the campaign completed once no lead can ever
// become eligible again
func (d *Dispatcher) maybeCompleteCampaign(campaign *models.Campaign) error {
	pending := d.DB.Model(&models.Lead{}).
		Where("campaign_id = ?", campaign.ID).
		Where("status NOT IN ?", []string{
			models.LeadStatusBounced,
			models.LeadStatusUnsubscribed,
			models.LeadStatusCompleted,
		}).
		Where("next_send_at IS NOT NULL OR current_step = 0")
	if campaign.StopOnReply {
		pending = pending.Where("status != ?", models.LeadStatusReplied)
	}

	var remaining int64
	if err := pending.Count(&remaining).Error; err != nil {
		return err
	}

	var total int64
	if err := d.DB.Model(&models.Lead{}).Where("campaign_id = ?", campaign.ID).Count(&total).Error; err != nil {
		return err
	}

	if total > 0 && remaining == 0 {
		return d.DB.Model(campaign).Updates(map[string]interface{}{
			"status":       models.CampaignStatusCompleted,
			"completed_at": time.Now(),
		}).Error
	}
	return nil
}

func stepForNumber(steps []models.EmailSequence, n int) *models.EmailSequence {
	for i := range steps {
		if steps[i].StepNumber == n {
			return &steps[i]
		}
	}
	return nil
}

func threadReferences(lead *models.Lead) string {
	refs := make([]string, 0, 2)
	if lead.ThreadID != "" && lead.ThreadID != lead.LastMessageID {
		refs = append(refs, "<"+lead.ThreadID+">")
	}
	if lead.LastMessageID != "" {
		refs = append(refs, "<"+lead.LastMessageID+">")
	}
	return strings.Join(refs, " ")
}
