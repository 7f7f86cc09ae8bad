package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/avelkova/mira/internal/notifications"
	"github.com/avelkova/mira/internal/store"
)

// UsageDigestJob periodically rolls up ended sessions and posts the
// aggregate to the ops Discord channel. It runs on a configurable
// interval (default: 24 hours).
type UsageDigestJob struct {
	store    *store.Store
	discord  *notifications.Discord
	logger   *log.Logger
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewUsageDigestJob creates a new usage digest job.
func NewUsageDigestJob(s *store.Store, discord *notifications.Discord, logger *log.Logger, interval time.Duration) *UsageDigestJob {
	if interval == 0 {
		interval = 24 * time.Hour
	}
	return &UsageDigestJob{
		store:    s,
		discord:  discord,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background job.
func (j *UsageDigestJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("UsageDigestJob: started (interval=%v)", j.interval)
}

// Stop gracefully stops the background job.
func (j *UsageDigestJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Println("UsageDigestJob: stopped")
}

func (j *UsageDigestJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.postDigest()
		case <-j.stopCh:
			return
		}
	}
}

func (j *UsageDigestJob) postDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sum, err := j.store.UsageSince(ctx, time.Now().Add(-j.interval))
	if err != nil {
		j.logger.Printf("UsageDigestJob: failed to aggregate usage: %v", err)
		return
	}

	if sum.Sessions == 0 {
		return
	}

	j.discord.NotifyUsageDigest(ctx, sum.Sessions, sum.TotalCostCents, j.interval)
	j.logger.Printf("UsageDigestJob: posted digest (%d sessions, %d cents)", sum.Sessions, sum.TotalCostCents)
}
