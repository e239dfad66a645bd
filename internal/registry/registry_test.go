package registry

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"media-fetch-service/internal/models"
)

func TestCreateAndGet(t *testing.T) {
	r := New(0, 0, nil)

	job := r.Create(models.KindSingleDownload, models.Metadata{SourceURL: "https://example.com/v"}, 1)
	if job.ID == "" {
		t.Fatal("expected generated id")
	}
	if job.Status != models.StatusQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}

	got, err := r.Get(job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Metadata.SourceURL != "https://example.com/v" || got.TotalItems != 1 {
		t.Fatalf("unexpected job: %+v", got)
	}
}

func TestGetUnknownID(t *testing.T) {
	r := New(0, 0, nil)
	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStateMachineTransitions(t *testing.T) {
	r := New(0, 0, nil)
	job := r.Create(models.KindSingleDownload, models.Metadata{}, 1)

	if err := r.MarkProcessing(job.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	got, _ := r.Get(job.ID)
	if got.Status != models.StatusProcessing {
		t.Fatalf("status = %s, want processing", got.Status)
	}

	// Second claim is a no-op, not an error.
	if err := r.MarkProcessing(job.ID); err != nil {
		t.Fatalf("second mark processing: %v", err)
	}

	if err := r.CommitResult(job.ID, models.ResultEntry{Index: 0, Success: true, SizeBytes: 10}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, _ = r.Get(job.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedItems != 1 || got.FailedItems != 0 || got.ProgressPercent != 100 {
		t.Fatalf("counters: %+v", got)
	}

	// Terminal states are final.
	if err := r.Fail(job.ID, "late failure"); err == nil {
		t.Fatal("expected error failing a completed job")
	}
	if err := r.CommitResult(job.ID, models.ResultEntry{Index: 0}); err == nil {
		t.Fatal("expected error committing into a completed job")
	}
}

func TestFailIsTerminal(t *testing.T) {
	r := New(0, 0, nil)
	job := r.Create(models.KindChannelBatch, models.Metadata{}, 0)

	if err := r.Fail(job.ID, "channel metadata fetch failed"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := r.Get(job.ID)
	if got.Status != models.StatusFailed || got.Error != "channel metadata fetch failed" {
		t.Fatalf("unexpected job: %+v", got)
	}
	if err := r.MarkProcessing(job.ID); err != nil {
		t.Fatalf("mark processing on failed job should be a no-op, got %v", err)
	}
	got, _ = r.Get(job.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status changed after terminal: %s", got.Status)
	}
}

func TestCommitResultRejectsDuplicateIndex(t *testing.T) {
	r := New(0, 0, nil)
	job := r.Create(models.KindChannelBatch, models.Metadata{}, 2)

	if err := r.CommitResult(job.ID, models.ResultEntry{Index: 0, Success: true}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := r.CommitResult(job.ID, models.ResultEntry{Index: 0, Success: false}); err == nil {
		t.Fatal("expected duplicate index to be rejected")
	}
	got, _ := r.Get(job.ID)
	if got.CompletedItems != 1 || got.FailedItems != 0 {
		t.Fatalf("duplicate commit corrupted counters: %+v", got)
	}
}

func TestCommitResultRejectsOutOfRangeIndex(t *testing.T) {
	r := New(0, 0, nil)
	job := r.Create(models.KindChannelBatch, models.Metadata{}, 2)
	if err := r.CommitResult(job.ID, models.ResultEntry{Index: 2}); err == nil {
		t.Fatal("expected out-of-range index to be rejected")
	}
}

func TestFailedItemsStillCompleteJob(t *testing.T) {
	r := New(0, 0, nil)
	job := r.Create(models.KindChannelBatch, models.Metadata{}, 3)

	_ = r.CommitResult(job.ID, models.ResultEntry{Index: 0, Success: true})
	_ = r.CommitResult(job.ID, models.ResultEntry{Index: 1, Success: false, Error: "fetch failed"})
	_ = r.CommitResult(job.ID, models.ResultEntry{Index: 2, Success: true})

	got, _ := r.Get(job.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed despite item failure", got.Status)
	}
	if got.CompletedItems != 2 || got.FailedItems != 1 {
		t.Fatalf("counters: completed=%d failed=%d", got.CompletedItems, got.FailedItems)
	}
	if len(got.Errors) != 1 || got.Errors[0].Index != 1 || got.Errors[0].Message != "fetch failed" {
		t.Fatalf("errors: %+v", got.Errors)
	}
}

func TestConcurrentCommitsLoseNoUpdates(t *testing.T) {
	const n = 64
	r := New(0, 0, nil)
	job := r.Create(models.KindChannelBatch, models.Metadata{}, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
			entry := models.ResultEntry{Index: i, Success: i%5 != 0}
			if !entry.Success {
				entry.Error = fmt.Sprintf("item %d failed", i)
			}
			if err := r.CommitResult(job.ID, entry); err != nil {
				t.Errorf("commit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := r.Get(job.ID)
	if got.CompletedItems+got.FailedItems != n {
		t.Fatalf("lost updates: completed=%d failed=%d", got.CompletedItems, got.FailedItems)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	// Result indices are exactly {0..n-1} in order.
	if len(got.Results) != n {
		t.Fatalf("results length = %d", len(got.Results))
	}
	for i, entry := range got.Results {
		if entry.Index != i {
			t.Fatalf("result at position %d has index %d", i, entry.Index)
		}
	}
}

func TestGetReturnsIsolatedSnapshots(t *testing.T) {
	r := New(0, 0, nil)
	job := r.Create(models.KindChannelBatch, models.Metadata{}, 2)
	_ = r.CommitResult(job.ID, models.ResultEntry{Index: 0, Success: true, Title: "first"})
	_ = r.CommitResult(job.ID, models.ResultEntry{Index: 1, Success: true, Title: "second"})

	a, _ := r.Get(job.ID)
	a.Results[0].Title = "mutated"
	b, _ := r.Get(job.ID)
	if b.Results[0].Title != "first" {
		t.Fatal("snapshot mutation leaked into registry")
	}
	// Idempotent read: repeated reads after completion are identical.
	c, _ := r.Get(job.ID)
	if !reflect.DeepEqual(b, c) {
		t.Fatalf("repeated reads differ:\n%+v\n%+v", b, c)
	}
}

func TestListNewestFirstWithoutResults(t *testing.T) {
	r := New(0, 0, nil)
	first := r.Create(models.KindSingleDownload, models.Metadata{}, 1)
	time.Sleep(time.Millisecond)
	second := r.Create(models.KindSingleDownload, models.Metadata{}, 1)
	_ = r.CommitResult(first.ID, models.ResultEntry{Index: 0, Success: true})

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("list length = %d", len(list))
	}
	if list[0].ID != second.ID {
		t.Fatal("expected newest job first")
	}
	for _, j := range list {
		if j.Results != nil {
			t.Fatal("summaries should omit results")
		}
	}
}

func TestSweepEvictsTerminalJobs(t *testing.T) {
	evicted := make(map[string]bool)
	r := New(0, time.Minute, func(id string) { evicted[id] = true })

	done := r.Create(models.KindSingleDownload, models.Metadata{}, 1)
	_ = r.CommitResult(done.ID, models.ResultEntry{Index: 0, Success: true})
	running := r.Create(models.KindSingleDownload, models.Metadata{}, 1)

	if n := r.Sweep(time.Now()); n != 0 {
		t.Fatalf("fresh jobs evicted: %d", n)
	}
	if n := r.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
	if !evicted[done.ID] {
		t.Fatal("evict hook not called for terminal job")
	}
	if _, err := r.Get(running.ID); err != nil {
		t.Fatalf("non-terminal job evicted: %v", err)
	}
}

func TestSweepEnforcesMaxJobs(t *testing.T) {
	r := New(2, 0, nil)

	var ids []string
	for i := 0; i < 4; i++ {
		job := r.Create(models.KindSingleDownload, models.Metadata{}, 1)
		_ = r.CommitResult(job.ID, models.ResultEntry{Index: 0, Success: true})
		ids = append(ids, job.ID)
		time.Sleep(time.Millisecond)
	}

	if n := r.Sweep(time.Now()); n != 2 {
		t.Fatalf("evicted = %d, want 2", n)
	}
	// Oldest terminal jobs go first.
	if _, err := r.Get(ids[0]); !errors.Is(err, ErrNotFound) {
		t.Fatal("oldest job should be evicted")
	}
	if _, err := r.Get(ids[3]); err != nil {
		t.Fatalf("newest job evicted: %v", err)
	}
}

func TestDeleteReleasesResources(t *testing.T) {
	var released string
	r := New(0, 0, func(id string) { released = id })
	job := r.Create(models.KindSingleDownload, models.Metadata{}, 1)

	if err := r.Delete(job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if released != job.ID {
		t.Fatal("evict hook not called on delete")
	}
	if err := r.Delete(job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
