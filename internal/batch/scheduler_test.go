package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"media-fetch-service/internal/media"
	"media-fetch-service/internal/models"
	"media-fetch-service/internal/queue"
	"media-fetch-service/internal/registry"
)

type fakeEnumerator struct {
	refs []media.SourceRef
	info *media.ChannelInfo
	err  error

	called  bool
	gotOpts media.EnumerateOptions
}

func (f *fakeEnumerator) Enumerate(_ context.Context, _ string, opts media.EnumerateOptions) ([]media.SourceRef, *media.ChannelInfo, error) {
	f.called = true
	f.gotOpts = opts
	return f.refs, f.info, f.err
}

func refs(n int) []media.SourceRef {
	out := make([]media.SourceRef, n)
	for i := range out {
		out[i] = media.SourceRef{URL: fmt.Sprintf("https://example.com/v%d", i), Title: fmt.Sprintf("video %d", i)}
	}
	return out
}

func drain(t *testing.T, q *queue.Queue, n int) []queue.Item {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	items := make([]queue.Item, 0, n)
	for i := 0; i < n; i++ {
		item, ok := q.Dequeue(ctx)
		if !ok {
			t.Fatalf("queue drained after %d items, want %d", i, n)
		}
		items = append(items, item)
	}
	return items
}

func TestSchedulesAllItemsInOrderWithReclaimBetweenSubBatches(t *testing.T) {
	enum := &fakeEnumerator{refs: refs(9), info: &media.ChannelInfo{Title: "Test Channel"}}
	reg := registry.New(0, 0, nil)
	q := queue.New(16)
	s := New(Config{BatchSize: 3, MaxVideos: 50}, q, reg, enum)

	reclaims := 0
	s.reclaim = func(context.Context) { reclaims++ }

	job := reg.Create(models.KindChannelBatch, models.Metadata{SourceURL: "https://example.com/channel"}, 0)
	s.Run(context.Background(), job.ID, "https://example.com/channel", models.DownloadOptions{}, models.ChannelOptions{})

	// 9 items, sub-batches of 3: reclamation runs between sub-batches only.
	if reclaims != 2 {
		t.Fatalf("reclaim calls = %d, want 2", reclaims)
	}

	items := drain(t, q, 9)
	for i, item := range items {
		if item.Index != i {
			t.Fatalf("item %d has index %d, scheduling must preserve source order", i, item.Index)
		}
		if item.JobID != job.ID || item.Kind != models.KindChannelBatch {
			t.Fatalf("item %d: %+v", i, item)
		}
	}

	got, _ := reg.Get(job.ID)
	if got.TotalItems != 9 {
		t.Fatalf("total items = %d, want 9", got.TotalItems)
	}
	if got.Metadata.ChannelTitle != "Test Channel" {
		t.Fatalf("channel title = %q", got.Metadata.ChannelTitle)
	}
}

func TestNoReclaimForSingleSubBatch(t *testing.T) {
	enum := &fakeEnumerator{refs: refs(3)}
	reg := registry.New(0, 0, nil)
	q := queue.New(16)
	s := New(Config{BatchSize: 10}, q, reg, enum)

	reclaims := 0
	s.reclaim = func(context.Context) { reclaims++ }

	job := reg.Create(models.KindChannelBatch, models.Metadata{}, 0)
	s.Run(context.Background(), job.ID, "src", models.DownloadOptions{}, models.ChannelOptions{})

	if reclaims != 0 {
		t.Fatalf("reclaim calls = %d, want 0 for a single sub-batch", reclaims)
	}
	drain(t, q, 3)
}

func TestEnumerationFailureFailsJob(t *testing.T) {
	enum := &fakeEnumerator{err: media.PermanentError(errors.New("channel not found"))}
	reg := registry.New(0, 0, nil)
	q := queue.New(16)
	s := New(Config{}, q, reg, enum)

	job := reg.Create(models.KindChannelBatch, models.Metadata{}, 0)
	s.Run(context.Background(), job.ID, "src", models.DownloadOptions{}, models.ChannelOptions{})

	got, _ := reg.Get(job.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Error, "channel not found") {
		t.Fatalf("error = %q", got.Error)
	}
	if q.Depth() != 0 {
		t.Fatalf("queue depth = %d after enumeration failure", q.Depth())
	}
}

func TestEmptyEnumerationFailsJob(t *testing.T) {
	enum := &fakeEnumerator{refs: nil}
	reg := registry.New(0, 0, nil)
	q := queue.New(16)
	s := New(Config{}, q, reg, enum)

	job := reg.Create(models.KindSearchBatch, models.Metadata{}, 0)
	s.Run(context.Background(), job.ID, "src", models.DownloadOptions{}, models.ChannelOptions{})

	got, _ := reg.Get(job.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}

func TestRunOnVanishedJobSchedulesNothing(t *testing.T) {
	enum := &fakeEnumerator{refs: refs(3)}
	reg := registry.New(0, 0, nil)
	q := queue.New(16)
	s := New(Config{}, q, reg, enum)

	job := reg.Create(models.KindChannelBatch, models.Metadata{}, 0)
	if err := reg.Delete(job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	s.Run(context.Background(), job.ID, "src", models.DownloadOptions{}, models.ChannelOptions{})

	if enum.called {
		t.Fatal("enumeration ran for a deleted job")
	}
	if q.Depth() != 0 {
		t.Fatalf("queue depth = %d, deleted job must schedule nothing", q.Depth())
	}
}

func TestMaxVideosCapsEnumeration(t *testing.T) {
	enum := &fakeEnumerator{refs: refs(2)}
	reg := registry.New(0, 0, nil)
	q := queue.New(16)
	s := New(Config{MaxVideos: 50}, q, reg, enum)

	job := reg.Create(models.KindChannelBatch, models.Metadata{}, 0)

	// Caller asks for more than the service cap: the cap wins.
	s.Run(context.Background(), job.ID, "src", models.DownloadOptions{}, models.ChannelOptions{MaxVideos: 500})
	if enum.gotOpts.MaxItems != 50 {
		t.Fatalf("max items = %d, want capped to 50", enum.gotOpts.MaxItems)
	}
	drain(t, q, 2)

	// Caller asks for fewer: the request wins.
	job2 := reg.Create(models.KindChannelBatch, models.Metadata{}, 0)
	s.Run(context.Background(), job2.ID, "src", models.DownloadOptions{}, models.ChannelOptions{MaxVideos: 5})
	if enum.gotOpts.MaxItems != 5 {
		t.Fatalf("max items = %d, want 5", enum.gotOpts.MaxItems)
	}
}

func TestCancelledContextAbortsScheduling(t *testing.T) {
	enum := &fakeEnumerator{refs: refs(4)}
	reg := registry.New(0, 0, nil)
	q := queue.New(1) // forces EnqueueWait to block on the second item
	s := New(Config{BatchSize: 10}, q, reg, enum)
	s.reclaim = func(context.Context) {}

	job := reg.Create(models.KindChannelBatch, models.Metadata{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, job.ID, "src", models.DownloadOptions{}, models.ChannelOptions{})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}

	got, _ := reg.Get(job.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed after aborted scheduling", got.Status)
	}
}

func TestDownloadOptionsPropagateToItems(t *testing.T) {
	enum := &fakeEnumerator{refs: refs(1)}
	reg := registry.New(0, 0, nil)
	q := queue.New(16)
	s := New(Config{}, q, reg, enum)

	job := reg.Create(models.KindChannelBatch, models.Metadata{}, 0)
	download := models.DownloadOptions{Format: "bestaudio", ExtractAudio: true, AudioFormat: "mp3"}
	s.Run(context.Background(), job.ID, "src", download, models.ChannelOptions{})

	items := drain(t, q, 1)
	if items[0].Download != download {
		t.Fatalf("download options not propagated: %+v", items[0].Download)
	}
	if items[0].Title != "video 0" {
		t.Fatalf("title = %q", items[0].Title)
	}
}
