package worker

import (
	"context"
	"log"
	"time"

	"mailreach/utils"
)

// ReplyWorker periodically scans every IMAP-capable account for replies
// and bounce notifications.
type ReplyWorker struct {
	scanner  *utils.ReplyScanner
	interval time.Duration
	logger   *log.Logger
}

func NewReplyWorker(scanner *utils.ReplyScanner, interval time.Duration, logger *log.Logger) *ReplyWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReplyWorker{
		scanner:  scanner,
		interval: interval,
		logger:   logger,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	rw.logger.Println("Starting reply worker...")
	ticker := time.NewTicker(rw.interval)

	for {
		select {
		case <-ticker.C:
			rw.runOnce(ctx)
		case <-ctx.Done():
			rw.logger.Println("Stopping reply worker...")
			ticker.Stop()
			return
		}
	}
}

func (rw *ReplyWorker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, rw.interval)
	defer cancel()

	results, err := rw.scanner.ScanAll(runCtx)
	if err != nil {
		rw.logger.Printf("Reply scan failed: %v", err)
		return
	}

	for _, result := range results {
		if result.Replies == 0 && result.Bounces == 0 && result.Error == "" {
			continue
		}
		rw.logger.Printf("Account %s: seen=%d replies=%d bounces=%d error=%q",
			result.Account, result.Seen, result.Replies, result.Bounces, result.Error)
	}
}
