package worker

import (
	"context"
	"log"
	"time"

	"mailreach/utils"

	"gorm.io/gorm"
)

// ResetWorker runs the daily maintenance pass at local midnight: quota
// reset, warmup progression, and counter reconciliation from the ledger.
type ResetWorker struct {
	db     *gorm.DB
	logger *log.Logger
}

func NewResetWorker(db *gorm.DB, logger *log.Logger) *ResetWorker {
	return &ResetWorker{
		db:     db,
		logger: logger,
	}
}

func (rw *ResetWorker) Start(ctx context.Context) {
	rw.logger.Println("Starting reset worker...")

	for {
		timer := time.NewTimer(untilNextMidnight(time.Now()))
		select {
		case <-timer.C:
			rw.runOnce()
		case <-ctx.Done():
			rw.logger.Println("Stopping reset worker...")
			timer.Stop()
			return
		}
	}
}

func (rw *ResetWorker) runOnce() {
	if err := utils.ResetDailyQuotas(rw.db); err != nil {
		rw.logger.Printf("Quota reset failed: %v", err)
	} else {
		rw.logger.Println("Daily quotas reset")
	}

	if err := utils.ReconcileCampaignCounters(rw.db); err != nil {
		rw.logger.Printf("Counter reconciliation failed: %v", err)
	} else {
		rw.logger.Println("Campaign counters reconciled")
	}
}

func untilNextMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}
