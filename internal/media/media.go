// Package media defines the collaborator contracts the job core calls into,
// plus default implementations backed by yt-dlp, plain HTTP, ffmpeg, and
// whisper. The core never parses media protocols itself; everything behind
// these interfaces is swappable.
package media

import (
	"context"
	"errors"
	"fmt"

	"media-fetch-service/internal/models"
)

// Descriptor is a resolved, directly fetchable media reference.
type Descriptor struct {
	URL             string            `json:"url"`
	Title           string            `json:"title"`
	Ext             string            `json:"ext"`
	Uploader        string            `json:"uploader,omitempty"`
	DurationSeconds float64           `json:"duration"`
	HTTPHeaders     map[string]string `json:"http_headers,omitempty"`
}

// SourceRef is one entry of an enumerated channel or search result.
type SourceRef struct {
	URL             string  `json:"url"`
	Title           string  `json:"title"`
	DurationSeconds float64 `json:"duration"`
}

// ChannelInfo describes the enumerated source list as a whole.
type ChannelInfo struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	VideoCount int    `json:"video_count"`
}

// ResolveOptions narrows how a source reference is resolved.
type ResolveOptions struct {
	Format             string
	ExtractAudio       bool
	CookieFile         string
	CookiesFromBrowser string
}

// EnumerateOptions narrows channel/search enumeration.
type EnumerateOptions struct {
	MaxItems           int
	PlaylistStart      int
	CookieFile         string
	CookiesFromBrowser string
}

// Resolver turns a source reference into a direct media descriptor.
type Resolver interface {
	Resolve(ctx context.Context, source string, opts ResolveOptions) (*Descriptor, error)
}

// Enumerator expands a channel or search reference into a source list.
type Enumerator interface {
	Enumerate(ctx context.Context, source string, opts EnumerateOptions) ([]SourceRef, *ChannelInfo, error)
}

// Fetcher materializes the bytes behind a descriptor.
type Fetcher interface {
	Fetch(ctx context.Context, desc *Descriptor) ([]byte, error)
}

// Transcoder converts media bytes to a target container/codec.
type Transcoder interface {
	Convert(ctx context.Context, data []byte, targetFormat string) ([]byte, error)
}

// Transcriber produces a structured transcript from audio bytes.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, model, language string) (*models.Transcript, error)
}

// Error wraps a collaborator failure with a transient/permanent
// classification. Transient errors may succeed on resubmission; permanent
// errors will not.
type Error struct {
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent: %v", e.Err)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// PermanentError marks err as non-retryable.
func PermanentError(err error) error {
	return &Error{Permanent: true, Err: err}
}

// TransientError marks err as potentially retryable.
func TransientError(err error) error {
	return &Error{Permanent: false, Err: err}
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Permanent
}
