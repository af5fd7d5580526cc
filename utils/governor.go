package utils

import (
	"math/rand"
	"sync"
	"time"

	"mailreach/models"
)

// Governor decides whether a sending account may send right now under a
// campaign's scheduling policy: daily quota, weekday restriction, time-of-day
// window, and inter-send gap with optional jitter. It is a pure reader of the
// state passed in and is safe for concurrent use by dispatch workers.
type Governor struct {
	JitterFraction float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewGovernor(jitterFraction float64) *Governor {
	return &Governor{
		JitterFraction: jitterFraction,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewGovernorWithSeed builds a governor with a deterministic jitter source
func NewGovernorWithSeed(jitterFraction float64, seed int64) *Governor {
	return &Governor{
		JitterFraction: jitterFraction,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

// CanSendNow reports whether the account may send for this campaign at `now`.
// lastSentAt is the time of the account's most recent sent event, nil if none.
func (g *Governor) CanSendNow(account *models.SendingAccount, campaign *models.Campaign, lastSentAt *time.Time, now time.Time) bool {
	if account.SentToday >= account.EffectiveDailyLimit() {
		return false
	}

	loc := campaignLocation(campaign)
	local := now.In(loc)

	if campaign.WeekdaysOnly && isWeekend(local.Weekday()) {
		return false
	}
	if !withinWindow(campaign, local) {
		return false
	}
	if lastSentAt != nil && campaign.SendGapSeconds > 0 {
		if now.Sub(*lastSentAt) < g.requiredGap(campaign) {
			return false
		}
	}
	return true
}

// NextEligibleTime returns the earliest time the first failing rule clears.
// If the account is already eligible it returns `now`.
//
// With randomize_timing enabled the gap jitter is drawn fresh on every
// call, so the returned time is an estimate: the next CanSendNow draw
// may land anywhere between the base gap and base gap plus jitter.
func (g *Governor) NextEligibleTime(account *models.SendingAccount, campaign *models.Campaign, lastSentAt *time.Time, now time.Time) time.Time {
	loc := campaignLocation(campaign)
	local := now.In(loc)

	if account.SentToday >= account.EffectiveDailyLimit() {
		// Quota resets at the next local midnight; from there the weekday
		// and window rules still apply.
		midnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
		return nextWindowOpen(campaign, midnight, loc)
	}

	if campaign.WeekdaysOnly && isWeekend(local.Weekday()) {
		return nextWindowOpen(campaign, local, loc)
	}

	if !withinWindow(campaign, local) {
		return nextWindowOpen(campaign, local, loc)
	}

	if lastSentAt != nil && campaign.SendGapSeconds > 0 {
		next := lastSentAt.Add(g.requiredGap(campaign))
		if next.After(now) {
			return next
		}
	}
	return now
}

// nextWindowOpen advances t to the next moment the campaign's weekday and
// time-of-day rules both allow sending, starting from t itself.
func nextWindowOpen(campaign *models.Campaign, t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	startM, endM, hasWindow := windowMinutes(campaign)

	for i := 0; i < 8; i++ { // bounded walk across at most a week
		if campaign.WeekdaysOnly && isWeekend(local.Weekday()) {
			local = time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !hasWindow {
			return local
		}
		cur := local.Hour()*60 + local.Minute()
		if cur < startM {
			return time.Date(local.Year(), local.Month(), local.Day(), startM/60, startM%60, 0, 0, loc)
		}
		if cur <= endM {
			return local
		}
		local = time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	}
	return local
}

// requiredGap applies campaign jitter on top of the configured send gap
func (g *Governor) requiredGap(campaign *models.Campaign) time.Duration {
	gap := time.Duration(campaign.SendGapSeconds) * time.Second
	if !campaign.RandomizeTiming || g.JitterFraction <= 0 {
		return gap
	}
	maxJitter := time.Duration(float64(gap) * g.JitterFraction)
	if maxJitter <= 0 {
		return gap
	}
	g.mu.Lock()
	jitter := time.Duration(g.rng.Int63n(int64(maxJitter) + 1))
	g.mu.Unlock()
	return gap + jitter
}

func campaignLocation(campaign *models.Campaign) *time.Location {
	loc, err := time.LoadLocation(campaign.Timezone)
	if err != nil || campaign.Timezone == "" {
		return time.UTC
	}
	return loc
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

// windowMinutes parses start/end as minutes of day. A window that cannot be
// parsed, or whose end does not follow its start, is treated as always open.
func windowMinutes(campaign *models.Campaign) (start, end int, ok bool) {
	start, okStart := parseClock(campaign.StartTime)
	end, okEnd := parseClock(campaign.EndTime)
	if !okStart || !okEnd || end <= start {
		return 0, 0, false
	}
	return start, end, true
}

func withinWindow(campaign *models.Campaign, local time.Time) bool {
	start, end, ok := windowMinutes(campaign)
	if !ok {
		return true
	}
	cur := local.Hour()*60 + local.Minute()
	return cur >= start && cur <= end
}

// parseClock accepts HH:MM or HH:MM:SS clock strings
func parseClock(s string) (int, bool) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*60 + t.Minute(), true
		}
	}
	return 0, false
}
