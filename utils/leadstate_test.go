package utils

import (
	"testing"
	"time"

	"mailreach/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentEvent(campaign *models.Campaign, lead *models.Lead, step int, messageID string, at time.Time) *models.EmailEvent {
	return &models.EmailEvent{
		CampaignID:     campaign.ID,
		LeadID:         lead.ID,
		EventType:      models.EventSent,
		StepNumber:     step,
		MessageID:      messageID,
		RecipientEmail: lead.Email,
		OccurredAt:     at,
	}
}

func TestApplySentAdvancesCursor(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, 50)
	campaign := seedCampaign(t, db, account, campaignPolicy{StopOnReply: true},
		stepWithVariant(1, "Quick question", "Hi {{first_name}}", 0, false),
		stepWithVariant(2, "Following up", "Any thoughts?", 72*time.Hour, true),
	)
	lead := seedLead(t, db, campaign, "ana@acme.com", "Ana")

	sentAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, ApplyEvent(db, lead, campaign, sentEvent(campaign, lead, 1, "msg-1@test", sentAt)))

	assert.Equal(t, models.LeadStatusSent, lead.Status)
	assert.Equal(t, 1, lead.CurrentStep)
	assert.Equal(t, "msg-1@test", lead.LastMessageID)
	assert.Equal(t, "msg-1@test", lead.ThreadID)
	require.NotNil(t, lead.NextSendAt)
	assert.WithinDuration(t, sentAt.Add(72*time.Hour), *lead.NextSendAt, time.Second)

	// Persisted state matches the struct
	var stored models.Lead
	require.NoError(t, db.First(&stored, lead.ID).Error)
	assert.Equal(t, 1, stored.CurrentStep)
	require.NotNil(t, stored.NextSendAt)
}

func TestApplySentLastStepClearsNextSend(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, 50)
	campaign := seedCampaign(t, db, account, campaignPolicy{StopOnReply: true},
		stepWithVariant(1, "Quick question", "Hi {{first_name}}", 0, false),
	)
	lead := seedLead(t, db, campaign, "ana@acme.com", "Ana")

	require.NoError(t, ApplyEvent(db, lead, campaign, sentEvent(campaign, lead, 1, "msg-1@test", time.Now())))
	assert.Nil(t, lead.NextSendAt)

	// The last step finishes the sequence
	assert.Equal(t, models.LeadStatusCompleted, lead.Status)
	assert.False(t, IsEligibleForDispatch(lead, campaign, time.Now().Add(time.Hour)))
}

func TestApplySentKeepsThreadRoot(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, 50)
	campaign := seedCampaign(t, db, account, campaignPolicy{StopOnReply: true},
		stepWithVariant(1, "Quick question", "Hi", 0, false),
		stepWithVariant(2, "Following up", "Thoughts?", time.Hour, true),
		stepWithVariant(3, "Last try", "Closing the loop", time.Hour, true),
	)
	lead := seedLead(t, db, campaign, "ana@acme.com", "Ana")

	now := time.Now()
	require.NoError(t, ApplyEvent(db, lead, campaign, sentEvent(campaign, lead, 1, "msg-1@test", now)))
	require.NoError(t, ApplyEvent(db, lead, campaign, sentEvent(campaign, lead, 2, "msg-2@test", now.Add(time.Hour))))

	assert.Equal(t, "msg-1@test", lead.ThreadID)
	assert.Equal(t, "msg-2@test", lead.LastMessageID)
}

func TestApplyOpenedIsIdempotentOnCounters(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, 50)
	campaign := seedCampaign(t, db, account, campaignPolicy{StopOnReply: true},
		stepWithVariant(1, "Quick question", "Hi", 0, false),
		stepWithVariant(2, "Following up", "Thoughts?", time.Hour, false),
	)
	lead := seedLead(t, db, campaign, "ana@acme.com", "Ana")

	now := time.Now()
	require.NoError(t, ApplyEvent(db, lead, campaign, sentEvent(campaign, lead, 1, "msg-1@test", now)))

	open := &models.EmailEvent{
		CampaignID: campaign.ID, LeadID: lead.ID,
		EventType: models.EventOpened, OccurredAt: now.Add(time.Minute),
	}
	require.NoError(t, ApplyEvent(db, lead, campaign, open))
	require.NoError(t, ApplyEvent(db, lead, campaign, open))

	assert.Equal(t, models.LeadStatusOpened, lead.Status)
	require.NotNil(t, lead.OpenedAt)

	// Repeat opens do not inflate the campaign counter
	var stored models.Campaign
	require.NoError(t, db.First(&stored, campaign.ID).Error)
	assert.Equal(t, 1, stored.OpenedCount)
}

func TestApplyOpenedKeepsCompletedStatus(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, 50)
	campaign := seedCampaign(t, db, account, campaignPolicy{StopOnReply: true},
		stepWithVariant(1, "Quick question", "Hi", 0, false),
	)
	lead := seedLead(t, db, campaign, "ana@acme.com", "Ana")

	now := time.Now()
	require.NoError(t, ApplyEvent(db, lead, campaign, sentEvent(campaign, lead, 1, "msg-1@test", now)))
	require.Equal(t, models.LeadStatusCompleted, lead.Status)

	open := &models.EmailEvent{
		CampaignID: campaign.ID, LeadID: lead.ID,
		EventType: models.EventOpened, OccurredAt: now.Add(time.Minute),
	}
	require.NoError(t, ApplyEvent(db, lead, campaign, open))

	// A late open never demotes a finished lead, but the engagement counts
	assert.Equal(t, models.LeadStatusCompleted, lead.Status)
	require.NotNil(t, lead.OpenedAt)

	var stored models.Campaign
	require.NoError(t, db.First(&stored, campaign.ID).Error)
	assert.Equal(t, 1, stored.OpenedCount)
}

func TestApplyRepliedStopsSequence(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, 50)
	campaign := seedCampaign(t, db, account, campaignPolicy{StopOnReply: true},
		stepWithVariant(1, "Quick question", "Hi", 0, false),
		stepWithVariant(2, "Following up", "Thoughts?", time.Hour, true),
	)
	lead := seedLead(t, db, campaign, "ana@acme.com", "Ana")

	now := time.Now()
	require.NoError(t, ApplyEvent(db, lead, campaign, sentEvent(campaign, lead, 1, "msg-1@test", now)))
	require.NotNil(t, lead.NextSendAt)

	reply := &models.EmailEvent{
		CampaignID: campaign.ID, LeadID: lead.ID,
		EventType: models.EventReplied, OccurredAt: now.Add(time.Minute),
	}
	require.NoError(t, ApplyEvent(db, lead, campaign, reply))

	assert.Equal(t, models.LeadStatusReplied, lead.Status)
	assert.Nil(t, lead.NextSendAt)
	assert.False(t, IsEligibleForDispatch(lead, campaign, now.Add(time.Hour)))
}

func TestApplyRepliedWithoutStopKeepsSchedule(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, 50)
	campaign := seedCampaign(t, db, account, campaignPolicy{StopOnReply: false},
		stepWithVariant(1, "Quick question", "Hi", 0, false),
		stepWithVariant(2, "Following up", "Thoughts?", time.Hour, true),
	)
	lead := seedLead(t, db, campaign, "ana@acme.com", "Ana")

	now := time.Now()
	require.NoError(t, ApplyEvent(db, lead, campaign, sentEvent(campaign, lead, 1, "msg-1@test", now)))

	reply := &models.EmailEvent{
		CampaignID: campaign.ID, LeadID: lead.ID,
		EventType: models.EventReplied, OccurredAt: now.Add(time.Minute),
	}
	require.NoError(t, ApplyEvent(db, lead, campaign, reply))

	assert.Equal(t, models.LeadStatusReplied, lead.Status)
	require.NotNil(t, lead.NextSendAt)
	assert.True(t, IsEligibleForDispatch(lead, campaign, now.Add(2*time.Hour)))
}

func TestApplyBouncedIsTerminal(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, 50)
	campaign := seedCampaign(t, db, account, campaignPolicy{StopOnReply: true},
		stepWithVariant(1, "Quick question", "Hi", 0, false),
		stepWithVariant(2, "Following up", "Thoughts?", time.Hour, true),
	)
	lead := seedLead(t, db, campaign, "ana@acme.com", "Ana")

	now := time.Now()
	bounce := &models.EmailEvent{
		CampaignID: campaign.ID, LeadID: lead.ID,
		EventType: models.EventBounced, OccurredAt: now,
	}
	require.NoError(t, ApplyEvent(db, lead, campaign, bounce))

	assert.Equal(t, models.LeadStatusBounced, lead.Status)
	assert.True(t, lead.Terminal())

	// A late-arriving sent event no longer moves the lead
	require.NoError(t, ApplyEvent(db, lead, campaign, sentEvent(campaign, lead, 1, "msg-late@test", now.Add(time.Minute))))
	assert.Equal(t, models.LeadStatusBounced, lead.Status)
	assert.Nil(t, lead.NextSendAt)
}

func TestApplyUnsubscribedSuppressesGlobally(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, 50)
	campaign := seedCampaign(t, db, account, campaignPolicy{StopOnReply: true},
		stepWithVariant(1, "Quick question", "Hi", 0, false),
	)
	lead := seedLead(t, db, campaign, "ana@acme.com", "Ana")

	unsub := &models.EmailEvent{
		CampaignID: campaign.ID, LeadID: lead.ID,
		EventType: models.EventUnsubscribed, OccurredAt: time.Now(),
	}
	require.NoError(t, ApplyEvent(db, lead, campaign, unsub))
	require.NoError(t, ApplyEvent(db, lead, campaign, unsub))

	assert.Equal(t, models.LeadStatusUnsubscribed, lead.Status)

	suppressed, err := models.IsSuppressed(db, campaign.UserID, lead.Email)
	require.NoError(t, err)
	assert.True(t, suppressed)

	// Replays do not duplicate the suppression entry
	var count int64
	require.NoError(t, db.Model(&models.Unsubscribe{}).
		Where("user_id = ? AND email = ?", campaign.UserID, lead.Email).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDeriveStatusIgnoresOrderAndFailedSends(t *testing.T) {
	events := []models.EmailEvent{
		{EventType: models.EventOpened},
		{EventType: models.EventReplied},
		{EventType: models.EventSent, MessageID: "msg-1@test"},
	}
	assert.Equal(t, models.LeadStatusReplied, DeriveStatus(events))

	// A failed transport attempt never counts as sent
	failedOnly := []models.EmailEvent{
		{EventType: models.EventSent, ErrorMessage: "connection refused"},
	}
	assert.Equal(t, models.LeadStatusActive, DeriveStatus(failedOnly))

	bounced := append(events, models.EmailEvent{EventType: models.EventBounced})
	assert.Equal(t, models.LeadStatusBounced, DeriveStatus(bounced))

	assert.Equal(t, models.LeadStatusActive, DeriveStatus(nil))
}

func TestIsEligibleForDispatch(t *testing.T) {
	now := time.Now()
	campaign := &models.Campaign{Status: models.CampaignStatusActive, StopOnReply: true}

	fresh := &models.Lead{Status: models.LeadStatusActive}
	assert.True(t, IsEligibleForDispatch(fresh, campaign, now))

	due := &models.Lead{Status: models.LeadStatusSent, CurrentStep: 1, NextSendAt: Pointer(now.Add(-time.Minute))}
	assert.True(t, IsEligibleForDispatch(due, campaign, now))

	notDue := &models.Lead{Status: models.LeadStatusSent, CurrentStep: 1, NextSendAt: Pointer(now.Add(time.Minute))}
	assert.False(t, IsEligibleForDispatch(notDue, campaign, now))

	// Sequence finished: cursor advanced but nothing scheduled
	finished := &models.Lead{Status: models.LeadStatusSent, CurrentStep: 2}
	assert.False(t, IsEligibleForDispatch(finished, campaign, now))

	paused := &models.Campaign{Status: models.CampaignStatusPaused, StopOnReply: true}
	assert.False(t, IsEligibleForDispatch(fresh, paused, now))

	bounced := &models.Lead{Status: models.LeadStatusBounced}
	assert.False(t, IsEligibleForDispatch(bounced, campaign, now))
}
