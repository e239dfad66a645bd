package worker

import (
	"context"
	"errors"
	"fmt"

	"media-fetch-service/internal/media"
	"media-fetch-service/internal/models"
	"media-fetch-service/internal/queue"
	"media-fetch-service/internal/telemetry"
)

// Pipeline stages, in execution order.
const (
	stageResolve    = "resolve"
	stageFetch      = "fetch"
	stageConvert    = "convert"
	stageTranscribe = "transcribe"
	stageStore      = "store"
	stageInternal   = "internal"
)

// executeItem runs the full pipeline for one item: resolve the source,
// fetch the bytes, optionally convert, optionally transcribe, then stage the
// artifact. It returns the stage that failed alongside the error so the
// caller can distinguish setup failures from later ones. A panic anywhere in
// the pipeline is recovered and reported as an internal-stage failure so a
// faulty collaborator can never take down the worker.
func (p *Pool) executeItem(ctx context.Context, item queue.Item) (entry models.ResultEntry, stage string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stage = stageInternal
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	opts := media.ResolveOptions{
		Format:             item.Download.Format,
		ExtractAudio:       item.Download.ExtractAudio,
		CookieFile:         item.Download.CookieFile,
		CookiesFromBrowser: item.Download.CookiesFromBrowser,
	}
	desc, err := p.pipe.Resolver.Resolve(ctx, item.Source, opts)
	if err != nil {
		return entry, stageResolve, err
	}

	data, err := p.pipe.Fetcher.Fetch(ctx, desc)
	if err != nil {
		return entry, stageFetch, err
	}

	ext := desc.Ext
	if item.Download.ExtractAudio && item.Download.AudioFormat != "" && item.Download.AudioFormat != ext {
		if p.pipe.Transcoder == nil {
			return entry, stageConvert, errors.New("audio conversion requested but no transcoder is configured")
		}
		data, err = p.pipe.Transcoder.Convert(ctx, data, item.Download.AudioFormat)
		if err != nil {
			return entry, stageConvert, err
		}
		ext = item.Download.AudioFormat
	}

	var transcript *models.Transcript
	if item.Transcribe != nil {
		if p.pipe.Transcriber == nil {
			return entry, stageTranscribe, errors.New("transcription requested but no transcriber is configured")
		}
		audio := data
		if p.pipe.Transcoder != nil && ext != "wav" {
			audio, err = p.pipe.Transcoder.Convert(ctx, data, "wav")
			if err != nil {
				return entry, stageConvert, err
			}
		}
		transcript, err = p.pipe.Transcriber.Transcribe(ctx, audio, item.Transcribe.Model, item.Transcribe.Language)
		if err != nil {
			return entry, stageTranscribe, err
		}
	}

	if err := p.artifacts.Put(item.JobID, item.Index, data); err != nil {
		return entry, stageStore, err
	}
	telemetry.ArtifactBytes.Set(float64(p.artifacts.TotalBytes()))

	title := desc.Title
	if title == "" {
		title = item.Title
	}
	entry = models.ResultEntry{
		Index:           item.Index,
		Success:         true,
		Title:           title,
		Ext:             ext,
		ArtifactRef:     fmt.Sprintf("%s/%d", item.JobID, item.Index),
		Transcript:      transcript,
		SizeBytes:       int64(len(data)),
		DurationSeconds: desc.DurationSeconds,
	}
	return entry, "", nil
}
