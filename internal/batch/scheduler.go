// Package batch expands channel/search jobs into queued items, pacing
// submission in bounded sub-batches with memory reclamation in between.
package batch

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"media-fetch-service/internal/media"
	"media-fetch-service/internal/models"
	"media-fetch-service/internal/queue"
	"media-fetch-service/internal/registry"
	"media-fetch-service/internal/telemetry"
)

// Config tunes scheduling behavior.
type Config struct {
	BatchSize        int
	ItemDelay        time.Duration
	BatchPause       time.Duration
	MaxMemoryPercent float64
	MaxVideos        int
}

// Scheduler converts one batch job's source reference into a paced sequence
// of queued items. Sub-batch k+1 is never submitted before every item of
// sub-batch k has been handed to the queue, which bounds in-flight work and
// creates a reclamation point between sub-batches.
type Scheduler struct {
	cfg        Config
	queue      *queue.Queue
	registry   *registry.Registry
	enumerator media.Enumerator

	// reclaim is invoked between sub-batches. Overridable in tests.
	reclaim func(ctx context.Context)
}

// New constructs a scheduler.
func New(cfg Config, q *queue.Queue, reg *registry.Registry, enum media.Enumerator) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxVideos <= 0 {
		cfg.MaxVideos = 50
	}
	if cfg.MaxMemoryPercent <= 0 {
		cfg.MaxMemoryPercent = 70
	}
	s := &Scheduler{
		cfg:        cfg,
		queue:      q,
		registry:   reg,
		enumerator: enum,
	}
	s.reclaim = s.reclaimMemory
	return s
}

// Run enumerates the job's source and schedules all items. It is launched in
// its own goroutine per batch job. Enumeration failure before any item could
// be scheduled is the one job-level fatal path; individual item failures are
// handled downstream by the workers and never stop scheduling.
func (s *Scheduler) Run(ctx context.Context, jobID, source string, download models.DownloadOptions, channel models.ChannelOptions) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		// Deleted before scheduling began; there is no record left to fail.
		log.Printf("batch: job %s gone before scheduling: %v", jobID, err)
		return
	}

	maxItems := channel.MaxVideos
	if maxItems <= 0 || maxItems > s.cfg.MaxVideos {
		maxItems = s.cfg.MaxVideos
	}
	refs, info, err := s.enumerator.Enumerate(ctx, source, media.EnumerateOptions{
		MaxItems:           maxItems,
		PlaylistStart:      channel.PlaylistStart,
		CookieFile:         download.CookieFile,
		CookiesFromBrowser: download.CookiesFromBrowser,
	})
	if err != nil {
		s.failJob(jobID, fmt.Sprintf("enumerate source: %v", err))
		return
	}
	if len(refs) == 0 {
		s.failJob(jobID, "no items found for source")
		return
	}

	if info != nil && info.Title != "" {
		s.registry.SetChannelTitle(jobID, info.Title)
	}
	if err := s.registry.SetTotalItems(jobID, len(refs)); err != nil {
		// Evicted or force-failed between enumeration and here; the record
		// either no longer exists or is already terminal, so there is
		// nothing further to mark.
		log.Printf("batch: set total items job=%s: %v", jobID, err)
		return
	}
	log.Printf("batch: job=%s scheduling %d items in sub-batches of %d", jobID, len(refs), s.cfg.BatchSize)

	for start := 0; start < len(refs); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(refs) {
			end = len(refs)
		}
		for i := start; i < end; i++ {
			item := queue.Item{
				JobID:    jobID,
				Index:    i,
				Kind:     job.Kind,
				Source:   refs[i].URL,
				Title:    refs[i].Title,
				Download: download,
			}
			if err := s.queue.EnqueueWait(ctx, item); err != nil {
				// Shutdown mid-schedule: remaining items will never run.
				s.failJob(jobID, fmt.Sprintf("scheduling aborted: %v", err))
				return
			}
			telemetry.QueueDepth.Set(float64(s.queue.Depth()))
			if s.cfg.ItemDelay > 0 && i < end-1 {
				if !sleepCtx(ctx, s.cfg.ItemDelay) {
					return
				}
			}
		}

		if end < len(refs) {
			s.reclaim(ctx)
			if s.cfg.BatchPause > 0 && !sleepCtx(ctx, s.cfg.BatchPause) {
				return
			}
		}
	}
}

func (s *Scheduler) failJob(jobID, msg string) {
	if err := s.registry.Fail(jobID, msg); err != nil {
		log.Printf("batch: fail job=%s: %v", jobID, err)
		return
	}
	telemetry.JobsFailed.Inc()
}

// reclaimMemory forces a collection and, while system memory utilization
// stays above the high-water mark, pauses and collects again before letting
// the next sub-batch proceed.
func (s *Scheduler) reclaimMemory(ctx context.Context) {
	runtime.GC()
	for attempt := 0; attempt < 3; attempt++ {
		vm, err := mem.VirtualMemory()
		if err != nil || vm.UsedPercent <= s.cfg.MaxMemoryPercent {
			return
		}
		log.Printf("batch: memory at %.1f%% (limit %.1f%%), pausing before next sub-batch", vm.UsedPercent, s.cfg.MaxMemoryPercent)
		if !sleepCtx(ctx, time.Second) {
			return
		}
		runtime.GC()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
