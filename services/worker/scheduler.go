package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"enjoytravel/traveldealworker/logger"
)

// Scheduler runs background sync crawls on a fixed interval. Only one
// sync runs at a time; an interval that fires while a sync is still
// going is skipped.
type Scheduler struct {
	cron     *cron.Cron
	worker   *Worker
	interval time.Duration
	running  atomic.Bool
}

// NewScheduler creates a Scheduler firing every interval.
func NewScheduler(w *Worker, interval time.Duration) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		worker:   w,
		interval: interval,
	}
}

// Start registers the sync job and kicks off an initial sync in the
// background so a cold start does not wait a full interval for data.
func (s *Scheduler) Start() error {
	log := logger.ForWorker()

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.sync); err != nil {
		return err
	}

	s.cron.Start()
	log.Info().Dur("interval", s.interval).Msg("Background sync scheduled")

	go s.sync()
	return nil
}

// Stop halts the schedule and waits for a running sync to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	for s.running.Load() {
		time.Sleep(100 * time.Millisecond)
	}
	logger.ForWorker().Info().Msg("Background sync stopped")
}

func (s *Scheduler) sync() {
	if !s.running.CompareAndSwap(false, true) {
		logger.ForWorker().Warn().Msg("Previous sync still running, skipping this interval")
		return
	}
	defer s.running.Store(false)

	log := logger.ForWorker()
	log.Info().Msg("Background sync starting")

	result := s.worker.Crawl(context.Background(), Request{})
	if !result.Success {
		log.Error().Str("message", result.Message).Msg("Background sync failed")
		return
	}
	log.Info().Int("total", result.Total).Bool("cached", result.Cached).Msg("Background sync finished")
}
