package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"media-fetch-service/internal/artifact"
	"media-fetch-service/internal/batch"
	"media-fetch-service/internal/config"
	"media-fetch-service/internal/media"
	"media-fetch-service/internal/models"
	"media-fetch-service/internal/queue"
	"media-fetch-service/internal/ratelimit"
	"media-fetch-service/internal/registry"
	"media-fetch-service/internal/telemetry"
	"media-fetch-service/internal/worker"
)

// Server wires the HTTP surface over the job core. Handlers only enqueue and
// read; all long-running media work happens inside the worker pool.
type Server struct {
	ctx       context.Context
	cfg       config.Config
	registry  *registry.Registry
	artifacts *artifact.Store
	queue     *queue.Queue
	pool      *worker.Pool
	scheduler *batch.Scheduler
	limiter   *ratelimit.SubmissionLimiter
}

// New constructs the API server. ctx bounds the lifetime of batch scheduler
// goroutines spawned for channel/search submissions. limiter may be nil.
func New(ctx context.Context, cfg config.Config, reg *registry.Registry, store *artifact.Store, q *queue.Queue, pool *worker.Pool, sched *batch.Scheduler, limiter *ratelimit.SubmissionLimiter) *Server {
	return &Server{
		ctx:       ctx,
		cfg:       cfg,
		registry:  reg,
		artifacts: store,
		queue:     q,
		pool:      pool,
		scheduler: sched,
		limiter:   limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Delete("/jobs/{id}", s.handleDeleteJob)
	r.Get("/jobs/{id}/results", s.handleGetResults)
	r.Get("/jobs/{id}/artifacts/{index}", s.handleGetArtifact)

	r.Get("/admin/queue", s.handleQueueStats)
	r.Post("/admin/workers/restart", s.handleRestartWorkers)
	return r
}

// submitRequest is the closed submission body: unknown keys are rejected,
// and each kind reads only its own option struct.
type submitRequest struct {
	Kind       string                    `json:"kind"`
	URL        string                    `json:"url"`
	Download   *models.DownloadOptions   `json:"download,omitempty"`
	Transcribe *models.TranscribeOptions `json:"transcribe,omitempty"`
	Channel    *models.ChannelOptions    `json:"channel,omitempty"`
}

type submitResponse struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req submitRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	kind := models.JobKind(req.Kind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown job kind %q", req.Kind))
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limiter unavailable")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "too many submissions, slow down")
			return
		}
	}

	download := models.DownloadOptions{}
	if req.Download != nil {
		download = *req.Download
	}
	if kind == models.KindTranscription && req.Download == nil {
		download.ExtractAudio = true
	}
	download.ApplyDefaults()

	meta := models.Metadata{
		SourceURL:   req.URL,
		Format:      download.Format,
		AudioFormat: download.AudioFormat,
	}
	if req.Transcribe != nil {
		meta.Model = req.Transcribe.Model
		meta.Language = req.Transcribe.Language
	}

	var job models.Job
	switch kind {
	case models.KindSingleDownload, models.KindTranscription:
		job = s.registry.Create(kind, meta, 1)
		item := queue.Item{
			JobID:    job.ID,
			Index:    0,
			Kind:     kind,
			Source:   req.URL,
			Download: download,
		}
		if kind == models.KindTranscription {
			t := models.TranscribeOptions{}
			if req.Transcribe != nil {
				t = *req.Transcribe
			}
			item.Transcribe = &t
		}
		if err := s.queue.Enqueue(item); err != nil {
			// Queue full: the job is withdrawn so, externally, it was never
			// created. Callers should retry after draining.
			_ = s.registry.Delete(job.ID)
			telemetry.QueueRejects.Inc()
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusServiceUnavailable, "work queue is full, retry later")
			return
		}
		telemetry.QueueDepth.Set(float64(s.queue.Depth()))

	case models.KindChannelBatch, models.KindSearchBatch:
		channel := models.ChannelOptions{}
		if req.Channel != nil {
			channel = *req.Channel
		}
		job = s.registry.Create(kind, meta, 0)
		go s.scheduler.Run(s.ctx, job.ID, req.URL, download, channel)
	}

	telemetry.JobsSubmitted.Inc()
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: models.StatusQueued})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.registry.List()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	// Status view: results are read via /results.
	job.Results = nil
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	telemetry.ArtifactBytes.Set(float64(s.artifacts.TotalBytes()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	job, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  job.ID,
		"status":  job.Status,
		"results": job.Results,
		"errors":  job.Errors,
	})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid artifact index")
		return
	}

	job, err := s.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	data, err := s.artifacts.Get(id, index)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var entry *models.ResultEntry
	for i := range job.Results {
		if job.Results[i].Index == index {
			entry = &job.Results[i]
			break
		}
	}

	ext := "bin"
	title := "media"
	if entry != nil {
		if entry.Ext != "" {
			ext = entry.Ext
		}
		if entry.Title != "" {
			title = entry.Title
		}
		w.Header().Set("X-Media-Title", sanitizeHeader(entry.Title))
		w.Header().Set("X-Media-Duration", strconv.FormatFloat(entry.DurationSeconds, 'f', -1, 64))
	}
	w.Header().Set("Content-Type", media.ContentTypeForExt(ext))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sanitizeHeader(title)+"."+ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type queueStats struct {
	QueueDepth    int `json:"queue_depth"`
	QueueCapacity int `json:"queue_capacity"`
	worker.Stats
}

func (s *Server) handleQueueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, queueStats{
		QueueDepth:    s.queue.Depth(),
		QueueCapacity: s.queue.Capacity(),
		Stats:         s.pool.Stats(),
	})
}

func (s *Server) handleRestartWorkers(w http.ResponseWriter, _ *http.Request) {
	s.pool.Restart()
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sanitizeHeader strips non-ASCII runes so titles are safe in HTTP headers.
func sanitizeHeader(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
