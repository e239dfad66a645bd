// Package worker runs the fixed pool of goroutines that drain the work
// queue, execute the collaborator pipeline for one item at a time, and
// commit outcomes to the job registry and artifact store.
package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"media-fetch-service/internal/artifact"
	"media-fetch-service/internal/media"
	"media-fetch-service/internal/models"
	"media-fetch-service/internal/queue"
	"media-fetch-service/internal/registry"
	"media-fetch-service/internal/telemetry"
)

// Pipeline bundles the collaborators a worker invokes per item. Transcoder
// and Transcriber are optional stages; nil means the stage is unavailable.
type Pipeline struct {
	Resolver    media.Resolver
	Fetcher     media.Fetcher
	Transcoder  media.Transcoder
	Transcriber media.Transcriber
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Workers     int    `json:"workers"`
	BusyWorkers int    `json:"busy_workers"`
	Processed   uint64 `json:"items_processed"`
	Failed      uint64 `json:"items_failed"`
}

// Pool owns W workers pulling from one shared queue. Restart replaces the
// worker set without touching the registry: in-flight items are awaited up
// to a grace period, then force-abandoned by cancelling their pipeline
// context.
type Pool struct {
	size         int
	itemTimeout  time.Duration
	restartGrace time.Duration

	queue     *queue.Queue
	registry  *registry.Registry
	artifacts *artifact.Store
	pipe      Pipeline

	// restartMu serializes Stop/Restart end to end so two overlapping
	// restarts cannot each start a worker generation.
	restartMu sync.Mutex

	mu         sync.Mutex
	baseCtx    context.Context
	loopCancel context.CancelFunc
	pipeCancel context.CancelFunc
	wg         *sync.WaitGroup

	busy      atomic.Int64
	processed atomic.Uint64
	failed    atomic.Uint64
}

// New constructs a stopped pool.
func New(size int, itemTimeout, restartGrace time.Duration, q *queue.Queue, reg *registry.Registry, store *artifact.Store, pipe Pipeline) *Pool {
	if size <= 0 {
		size = 1
	}
	if itemTimeout <= 0 {
		itemTimeout = 5 * time.Minute
	}
	if restartGrace <= 0 {
		restartGrace = 30 * time.Second
	}
	return &Pool{
		size:         size,
		itemTimeout:  itemTimeout,
		restartGrace: restartGrace,
		queue:        q,
		registry:     reg,
		artifacts:    store,
		pipe:         pipe,
	}
}

// Start launches the workers. ctx is the service lifetime; cancelling it
// stops the pool permanently.
func (p *Pool) Start(ctx context.Context) {
	p.restartMu.Lock()
	defer p.restartMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseCtx = ctx
	p.startWorkersLocked()
}

func (p *Pool) startWorkersLocked() {
	loopCtx, loopCancel := context.WithCancel(p.baseCtx)
	pipeCtx, pipeCancel := context.WithCancel(p.baseCtx)
	p.loopCancel = loopCancel
	p.pipeCancel = pipeCancel

	wg := &sync.WaitGroup{}
	p.wg = wg
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.runWorker(loopCtx, pipeCtx, wg)
	}
}

// Stop halts dequeuing, waits up to the grace period for in-flight items,
// then force-abandons them by cancelling their pipeline context.
func (p *Pool) Stop() {
	p.restartMu.Lock()
	defer p.restartMu.Unlock()
	p.stopWorkers()
}

func (p *Pool) stopWorkers() {
	p.mu.Lock()
	loopCancel, pipeCancel, wg := p.loopCancel, p.pipeCancel, p.wg
	p.loopCancel, p.pipeCancel, p.wg = nil, nil, nil
	p.mu.Unlock()
	if loopCancel == nil {
		return
	}

	loopCancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.restartGrace):
		log.Printf("worker pool: grace period elapsed, abandoning in-flight items")
		pipeCancel()
		<-done
	}
	pipeCancel()
}

// Restart replaces the worker set. Queue contents and registry state are
// preserved. Concurrent restarts are serialized; exactly one worker
// generation runs afterwards.
func (p *Pool) Restart() {
	p.restartMu.Lock()
	defer p.restartMu.Unlock()
	p.stopWorkers()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.baseCtx == nil || p.baseCtx.Err() != nil {
		return
	}
	p.startWorkersLocked()
}

// Stats reports pool activity counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:     p.size,
		BusyWorkers: int(p.busy.Load()),
		Processed:   p.processed.Load(),
		Failed:      p.failed.Load(),
	}
}

func (p *Pool) runWorker(loopCtx, pipeCtx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		item, ok := p.queue.Dequeue(loopCtx)
		if !ok {
			return
		}
		p.busy.Add(1)
		telemetry.BusyWorkers.Set(float64(p.busy.Load()))
		telemetry.QueueDepth.Set(float64(p.queue.Depth()))

		p.process(pipeCtx, item)

		p.busy.Add(-1)
		telemetry.BusyWorkers.Set(float64(p.busy.Load()))
	}
}

// process executes one item and records exactly one terminal outcome for it.
// Pipeline failures never escape: they become a failed result entry, or a
// job-level failure when the sole item of a single job cannot even be
// resolved.
func (p *Pool) process(ctx context.Context, item queue.Item) {
	if err := p.registry.MarkProcessing(item.JobID); err != nil {
		// Job evicted while queued; nothing to record against.
		log.Printf("worker: dropping item for unknown job %s", item.JobID)
		return
	}
	desc := item.Title
	if desc == "" {
		desc = item.Source
	}
	p.registry.SetCurrentItem(item.JobID, desc)

	itemCtx, cancel := context.WithTimeout(ctx, p.itemTimeout)
	defer cancel()

	entry, stage, err := p.executeItem(itemCtx, item)
	if err == nil {
		if cErr := p.registry.CommitResult(item.JobID, entry); cErr != nil {
			log.Printf("worker: commit result job=%s index=%d: %v", item.JobID, item.Index, cErr)
		}
		p.processed.Add(1)
		telemetry.ItemsCompleted.Inc()
		return
	}

	p.failed.Add(1)
	telemetry.ItemsFailed.Inc()
	log.Printf("worker: item failed job=%s index=%d stage=%s: %v", item.JobID, item.Index, stage, err)

	if !item.Kind.IsBatch() && stage == stageResolve {
		// The job's only item could not even be resolved: nothing was
		// schedulable, so this is a job-level fatal error.
		if fErr := p.registry.Fail(item.JobID, err.Error()); fErr != nil {
			log.Printf("worker: fail job=%s: %v", item.JobID, fErr)
		}
		telemetry.JobsFailed.Inc()
		return
	}

	failure := models.ResultEntry{
		Index:   item.Index,
		Success: false,
		Title:   item.Title,
		Error:   err.Error(),
	}
	if cErr := p.registry.CommitResult(item.JobID, failure); cErr != nil {
		log.Printf("worker: commit failure job=%s index=%d: %v", item.JobID, item.Index, cErr)
	}
}
