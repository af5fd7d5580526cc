package worker

import (
	"context"
	"log"
	"time"

	"mailreach/utils"
)

// DispatchWorker periodically runs the campaign dispatch loop over all
// active campaigns.
type DispatchWorker struct {
	dispatcher *utils.Dispatcher
	interval   time.Duration
	logger     *log.Logger
}

func NewDispatchWorker(dispatcher *utils.Dispatcher, interval time.Duration, logger *log.Logger) *DispatchWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &DispatchWorker{
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
	}
}

func (dw *DispatchWorker) Start(ctx context.Context) {
	dw.logger.Println("Starting dispatch worker...")
	ticker := time.NewTicker(dw.interval)

	for {
		select {
		case <-ticker.C:
			dw.runOnce(ctx)
		case <-ctx.Done():
			dw.logger.Println("Stopping dispatch worker...")
			ticker.Stop()
			return
		}
	}
}

func (dw *DispatchWorker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, dw.interval)
	defer cancel()

	summaries, err := dw.dispatcher.RunAll(runCtx)
	if err != nil {
		dw.logger.Printf("Dispatch run failed: %v", err)
		return
	}

	for _, summary := range summaries {
		if summary.Sent == 0 && summary.Failed == 0 && summary.Error == "" {
			continue
		}
		dw.logger.Printf("Campaign %d: sent=%d failed=%d skipped=%d error=%q",
			summary.CampaignID, summary.Sent, summary.Failed, summary.Skipped, summary.Error)
	}
}
