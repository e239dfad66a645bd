package models

import (
	"time"
)

// JobKind identifies what a job was submitted to do.
type JobKind string

const (
	KindSingleDownload JobKind = "single-download"
	KindTranscription  JobKind = "transcription"
	KindChannelBatch   JobKind = "channel-batch"
	KindSearchBatch    JobKind = "search-batch"
)

// IsBatch reports whether the kind fans out into multiple items.
func (k JobKind) IsBatch() bool {
	return k == KindChannelBatch || k == KindSearchBatch
}

// Valid reports whether the kind is one of the accepted values.
func (k JobKind) Valid() bool {
	switch k {
	case KindSingleDownload, KindTranscription, KindChannelBatch, KindSearchBatch:
		return true
	}
	return false
}

// JobStatus enumerates lifecycle states. queued -> processing -> {completed|failed};
// terminal states are final.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may leave the status.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the unit of trackable work held by the registry.
type Job struct {
	ID              string        `json:"id"`
	Kind            JobKind       `json:"kind"`
	Status          JobStatus     `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	TotalItems      int           `json:"total_items"`
	CompletedItems  int           `json:"completed_items"`
	FailedItems     int           `json:"failed_items"`
	ProgressPercent float64       `json:"progress_percent"`
	CurrentItem     string        `json:"current_item,omitempty"`
	Results         []ResultEntry `json:"results,omitempty"`
	Errors          []ItemError   `json:"errors,omitempty"`
	Error           string        `json:"error,omitempty"`
	Metadata        Metadata      `json:"metadata"`
}

// Metadata is kind-specific context captured when the job is accepted.
// ChannelTitle is the one exception to immutability: it is discovered during
// enumeration and recorded once by the batch scheduler.
type Metadata struct {
	SourceURL    string `json:"source_url"`
	Format       string `json:"format,omitempty"`
	AudioFormat  string `json:"audio_format,omitempty"`
	Model        string `json:"model,omitempty"`
	Language     string `json:"language,omitempty"`
	ChannelTitle string `json:"channel_title,omitempty"`
}

// ResultEntry is the per-item outcome committed by the worker that owned the item.
type ResultEntry struct {
	Index           int         `json:"index"`
	Success         bool        `json:"success"`
	Title           string      `json:"title,omitempty"`
	Ext             string      `json:"ext,omitempty"`
	ArtifactRef     string      `json:"artifact_ref,omitempty"`
	Transcript      *Transcript `json:"transcript,omitempty"`
	SizeBytes       int64       `json:"size_bytes"`
	DurationSeconds float64     `json:"duration_seconds"`
	Error           string      `json:"error,omitempty"`
}

// ItemError records one per-item failure for correlation with the submitted list.
type ItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Transcript is a structured transcription produced by the transcription collaborator.
type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments,omitempty"`
}

// Segment is one timed span of a transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
