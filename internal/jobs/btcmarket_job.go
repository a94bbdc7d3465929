package jobs

import (
	"context"
	"log"
	"time"

	"opinion-market/internal/models"
	"opinion-market/internal/services"
)

// BTCMarketJob drives the scheduled market generator from wall-clock
// ticks: market creation fires at second 0 of every minute, resolution at
// second 30. A failed tick is logged and forgotten; the next minute is the
// retry.
type BTCMarketJob struct {
	service  *services.BTCMarketService
	stopChan chan struct{}
}

// NewBTCMarketJob creates a new BTC market scheduler job
func NewBTCMarketJob(service *services.BTCMarketService) *BTCMarketJob {
	return &BTCMarketJob{
		service:  service,
		stopChan: make(chan struct{}),
	}
}

// Start launches the creation and resolution loops.
func (j *BTCMarketJob) Start() {
	log.Println("[BTCMarketJob] Starting scheduled market generator")
	go j.loop(0, j.creationTick)
	go j.loop(30, j.resolutionTick)
}

// Stop stops both loops.
func (j *BTCMarketJob) Stop() {
	close(j.stopChan)
}

// loop fires tick once per minute at the given second offset.
func (j *BTCMarketJob) loop(second int, tick func()) {
	for {
		timer := time.NewTimer(untilNext(time.Now(), second))
		select {
		case <-timer.C:
			tick()
		case <-j.stopChan:
			timer.Stop()
			log.Printf("[BTCMarketJob] Stopping loop at second %d", second)
			return
		}
	}
}

// untilNext returns the wait until the next wall-clock minute boundary
// plus the given second offset.
func untilNext(now time.Time, second int) time.Duration {
	next := now.Truncate(time.Minute).Add(time.Duration(second) * time.Second)
	if !next.After(now) {
		next = next.Add(time.Minute)
	}
	return next.Sub(now)
}

// creationTick opens a market for every interval whose schedule matches
// the current minute. Each interval is independent; one failure never
// blocks the others.
func (j *BTCMarketJob) creationTick() {
	ctx := context.Background()
	now := time.Now()

	for _, interval := range models.BTCMarketIntervals {
		if !services.ShouldCreateMarket(now, interval) {
			continue
		}

		if _, err := j.service.CreateScheduledMarket(ctx, interval); err != nil {
			log.Printf("[BTCMarketJob] Creation failed for %dm interval: %v", interval, err)
		}
	}
}

// resolutionTick settles every market whose window has closed.
func (j *BTCMarketJob) resolutionTick() {
	ctx := context.Background()

	resolved, err := j.service.ResolveExpiredMarkets(ctx)
	if err != nil {
		log.Printf("[BTCMarketJob] Resolution sweep failed: %v", err)
		return
	}
	if resolved > 0 {
		log.Printf("[BTCMarketJob] Resolved %d markets", resolved)
	}
}
