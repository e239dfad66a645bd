package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"media-fetch-service/internal/api"
	"media-fetch-service/internal/artifact"
	"media-fetch-service/internal/batch"
	"media-fetch-service/internal/config"
	"media-fetch-service/internal/media"
	"media-fetch-service/internal/queue"
	"media-fetch-service/internal/ratelimit"
	"media-fetch-service/internal/registry"
	"media-fetch-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	artifacts := artifact.NewStore()
	reg := registry.New(cfg.RetentionMaxJobs, cfg.RetentionTTL, func(jobID string) {
		artifacts.DeleteJob(jobID)
	})
	q := queue.New(cfg.QueueCapacity)

	ytdlp := media.NewYTDLPClient(cfg.YTDLPPath)
	pipe := worker.Pipeline{
		Resolver:   ytdlp,
		Fetcher:    media.NewHTTPFetcher(cfg.FetchTimeout, cfg.FetchMaxBytes),
		Transcoder: media.NewFFmpegTranscoder(cfg.FFmpegPath),
	}
	if cfg.WhisperModel != "" {
		pipe.Transcriber = media.NewWhisperTranscriber(cfg.WhisperPath, cfg.WhisperModel)
	}

	pool := worker.New(cfg.WorkerCount, cfg.ItemTimeout, cfg.RestartGrace, q, reg, artifacts, pipe)
	pool.Start(ctx)

	sched := batch.New(batch.Config{
		BatchSize:        cfg.BatchSize,
		ItemDelay:        cfg.ItemDelay,
		BatchPause:       cfg.BatchPause,
		MaxMemoryPercent: cfg.MaxMemoryPercent,
		MaxVideos:        cfg.MaxVideos,
	}, q, reg, ytdlp)

	var limiter *ratelimit.SubmissionLimiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.NewSubmissionLimiter(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	go reg.Run(ctx, cfg.SweepInterval)

	server := api.New(ctx, cfg, reg, artifacts, q, pool, sched, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s (workers=%d queue=%d)", cfg.HTTPPort, cfg.WorkerCount, cfg.QueueCapacity)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	pool.Stop()
}
