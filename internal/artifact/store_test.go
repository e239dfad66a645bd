package artifact

import (
	"bytes"
	"errors"
	"testing"
)

func TestPutAndGet(t *testing.T) {
	s := NewStore()

	payload := []byte("media bytes")
	if err := s.Put("job-1", 0, payload); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get("job-1", 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}
	if s.TotalBytes() != int64(len(payload)) {
		t.Fatalf("total bytes = %d, want %d", s.TotalBytes(), len(payload))
	}
}

func TestGetMissing(t *testing.T) {
	s := NewStore()
	if _, err := s.Get("nope", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutRejectsSecondWrite(t *testing.T) {
	s := NewStore()
	if err := s.Put("job-1", 0, []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("job-1", 0, []byte("two")); !errors.Is(err, ErrAlreadyStored) {
		t.Fatalf("expected ErrAlreadyStored, got %v", err)
	}

	got, _ := s.Get("job-1", 0)
	if string(got) != "one" {
		t.Fatalf("original payload overwritten: %q", got)
	}
}

func TestDeleteJobReleasesAllSlots(t *testing.T) {
	s := NewStore()
	_ = s.Put("job-1", 0, make([]byte, 100))
	_ = s.Put("job-1", 1, make([]byte, 200))
	_ = s.Put("job-2", 0, make([]byte, 50))

	freed := s.DeleteJob("job-1")
	if freed != 300 {
		t.Fatalf("freed = %d, want 300", freed)
	}
	if _, err := s.Get("job-1", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("slot 0 still present: %v", err)
	}
	if _, err := s.Get("job-2", 0); err != nil {
		t.Fatalf("unrelated job affected: %v", err)
	}
	if s.TotalBytes() != 50 {
		t.Fatalf("total bytes = %d, want 50", s.TotalBytes())
	}
	if s.Count() != 1 {
		t.Fatalf("count = %d, want 1", s.Count())
	}
}
