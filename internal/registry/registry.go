// Package registry tracks job records in process memory.
//
// The registry is constructor-injected into the HTTP layer, the worker pool,
// and the batch scheduler; there is no ambient global job map. All mutations
// go through registry methods so counter updates and status transitions stay
// atomic with respect to readers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-fetch-service/internal/models"
)

// ErrNotFound is returned for lookups of unknown job ids.
var ErrNotFound = errors.New("job not found")

// Registry is a mutex-guarded map of job id to job record with a retention
// policy for terminal jobs.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job

	maxJobs int
	ttl     time.Duration

	// onEvict releases resources owned by an evicted job (artifact payloads).
	// Called outside job mutation but inside the registry lock's shadow, so it
	// must not call back into the registry.
	onEvict func(jobID string)
}

// New creates a registry. maxJobs caps how many terminal jobs are retained
// (oldest evicted first); ttl evicts terminal jobs that have not been touched
// for that long. Zero disables the respective limit.
func New(maxJobs int, ttl time.Duration, onEvict func(jobID string)) *Registry {
	if onEvict == nil {
		onEvict = func(string) {}
	}
	return &Registry{
		jobs:    make(map[string]*models.Job),
		maxJobs: maxJobs,
		ttl:     ttl,
		onEvict: onEvict,
	}
}

// Create registers a new queued job and returns a snapshot of it.
// totalItems is 1 for single jobs and 0 for batch jobs until enumeration.
func (r *Registry) Create(kind models.JobKind, meta models.Metadata, totalItems int) models.Job {
	now := time.Now().UTC()
	job := &models.Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		Status:     models.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
		TotalItems: totalItems,
		Metadata:   meta,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return snapshot(job)
}

// Get returns a snapshot of the job or ErrNotFound.
func (r *Registry) Get(id string) (models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return snapshot(job), nil
}

// List returns summaries of all jobs, newest first. Result entries are
// omitted from summaries; they are read via Get.
func (r *Registry) List() []models.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		s := snapshot(job)
		s.Results = nil
		s.Errors = nil
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Delete removes a job and releases its resources.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(r.jobs, id)
	r.onEvict(id)
	return nil
}

// MarkProcessing transitions queued -> processing. It is a no-op once the
// job has left the queued state, so only the first item claim flips status.
func (r *Registry) MarkProcessing(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != models.StatusQueued {
		return nil
	}
	job.Status = models.StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// SetTotalItems fixes the item count for a batch job once enumeration is
// done. It rejects shrinking below already-recorded outcomes.
func (r *Registry) SetTotalItems(id string, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is %s", id, job.Status)
	}
	if total < job.CompletedItems+job.FailedItems {
		return fmt.Errorf("total %d below recorded outcomes", total)
	}
	job.TotalItems = total
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// SetChannelTitle records the channel title discovered during enumeration.
func (r *Registry) SetChannelTitle(id, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok && !job.Status.Terminal() {
		job.Metadata.ChannelTitle = title
		job.UpdatedAt = time.Now().UTC()
	}
}

// SetCurrentItem records a human-readable description of the in-flight item.
func (r *Registry) SetCurrentItem(id, desc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok && !job.Status.Terminal() {
		job.CurrentItem = desc
		job.UpdatedAt = time.Now().UTC()
	}
}

// CommitResult records the terminal outcome of one item under a single
// critical section: the result entry is inserted at its fixed index, the
// matching counter is incremented, progress is recomputed, and, when every
// item has reached an outcome, the job transitions to completed. The final
// transition therefore happens synchronously with the final counter update.
func (r *Registry) CommitResult(id string, entry models.ResultEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", id, job.Status)
	}
	if entry.Index < 0 || entry.Index >= job.TotalItems {
		return fmt.Errorf("result index %d out of range [0,%d)", entry.Index, job.TotalItems)
	}

	pos := sort.Search(len(job.Results), func(i int) bool {
		return job.Results[i].Index >= entry.Index
	})
	if pos < len(job.Results) && job.Results[pos].Index == entry.Index {
		return fmt.Errorf("result for index %d already committed", entry.Index)
	}
	job.Results = append(job.Results, models.ResultEntry{})
	copy(job.Results[pos+1:], job.Results[pos:])
	job.Results[pos] = entry

	if entry.Success {
		job.CompletedItems++
	} else {
		job.FailedItems++
		job.Errors = append(job.Errors, models.ItemError{Index: entry.Index, Message: entry.Error})
	}
	job.ProgressPercent = float64(job.CompletedItems+job.FailedItems) / float64(job.TotalItems) * 100
	job.CurrentItem = ""
	job.UpdatedAt = time.Now().UTC()

	if job.CompletedItems+job.FailedItems == job.TotalItems {
		job.Status = models.StatusCompleted
	}
	return nil
}

// Fail transitions a job to the failed terminal state with a top-level
// error message. Used for job-level fatal conditions only; individual item
// failures go through CommitResult.
func (r *Registry) Fail(id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", id, job.Status)
	}
	job.Status = models.StatusFailed
	job.Error = message
	job.CurrentItem = ""
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// Sweep evicts terminal jobs per the retention policy and returns how many
// were removed. Non-terminal jobs are never evicted.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	if r.ttl > 0 {
		for id, job := range r.jobs {
			if job.Status.Terminal() && now.Sub(job.UpdatedAt) > r.ttl {
				delete(r.jobs, id)
				r.onEvict(id)
				evicted++
			}
		}
	}

	if r.maxJobs > 0 && len(r.jobs) > r.maxJobs {
		var terminal []*models.Job
		for _, job := range r.jobs {
			if job.Status.Terminal() {
				terminal = append(terminal, job)
			}
		}
		sort.Slice(terminal, func(i, j int) bool {
			return terminal[i].UpdatedAt.Before(terminal[j].UpdatedAt)
		})
		for _, job := range terminal {
			if len(r.jobs) <= r.maxJobs {
				break
			}
			delete(r.jobs, job.ID)
			r.onEvict(job.ID)
			evicted++
		}
	}
	return evicted
}

// Run sweeps on the given interval until the context is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				log.Printf("registry: evicted %d terminal jobs", n)
			}
		}
	}
}

// snapshot deep-copies a job so callers never share slices with the registry.
func snapshot(job *models.Job) models.Job {
	out := *job
	if job.Results != nil {
		out.Results = make([]models.ResultEntry, len(job.Results))
		copy(out.Results, job.Results)
	}
	if job.Errors != nil {
		out.Errors = make([]models.ItemError, len(job.Errors))
		copy(out.Errors, job.Errors)
	}
	return out
}
