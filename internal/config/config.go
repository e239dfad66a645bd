package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the service.
type Config struct {
	Env      string
	HTTPPort string

	QueueCapacity int
	WorkerCount   int
	ItemTimeout   time.Duration
	RestartGrace  time.Duration

	BatchSize        int
	ItemDelay        time.Duration
	BatchPause       time.Duration
	MaxMemoryPercent float64
	MaxVideos        int

	RetentionTTL     time.Duration
	RetentionMaxJobs int
	SweepInterval    time.Duration

	FetchTimeout  time.Duration
	FetchMaxBytes int64

	YTDLPPath    string
	FFmpegPath   string
	WhisperPath  string
	WhisperModel string

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitCapacity int
	RateLimitRefill   float64
}

// Load reads configuration from environment variables with sane defaults for
// local development. If CONFIG_FILE points at a YAML file, its values are
// applied on top of the environment.
func Load() (Config, error) {
	cfg := Config{
		Env:      getEnv("APP_ENV", "dev"),
		HTTPPort: getEnv("HTTP_PORT", "8080"),

		QueueCapacity: getEnvInt("QUEUE_CAPACITY", 100),
		WorkerCount:   getEnvInt("WORKER_COUNT", 4),
		ItemTimeout:   getEnvDuration("ITEM_TIMEOUT", 5*time.Minute),
		RestartGrace:  getEnvDuration("RESTART_GRACE", 30*time.Second),

		BatchSize:        getEnvInt("BATCH_SIZE", 10),
		ItemDelay:        getEnvDuration("ITEM_DELAY", time.Second),
		BatchPause:       getEnvDuration("BATCH_PAUSE", 3*time.Second),
		MaxMemoryPercent: getEnvFloat("MAX_MEMORY_PERCENT", 70),
		MaxVideos:        getEnvInt("MAX_VIDEOS", 50),

		RetentionTTL:     getEnvDuration("RETENTION_TTL", time.Hour),
		RetentionMaxJobs: getEnvInt("RETENTION_MAX_JOBS", 256),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", time.Minute),

		FetchTimeout:  getEnvDuration("FETCH_TIMEOUT", 5*time.Minute),
		FetchMaxBytes: getEnvInt64("FETCH_MAX_BYTES", 256*1024*1024),

		YTDLPPath:    getEnv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),
		WhisperPath:  getEnv("WHISPER_PATH", "whisper-cli"),
		WhisperModel: getEnv("WHISPER_MODEL", ""),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 30),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 5),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// duration wraps time.Duration so YAML values like "30s" parse.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig mirrors Config with optional fields so a YAML file can override
// any subset of the environment-derived values.
type fileConfig struct {
	Env      *string `yaml:"env"`
	HTTPPort *string `yaml:"http_port"`

	QueueCapacity *int      `yaml:"queue_capacity"`
	WorkerCount   *int      `yaml:"worker_count"`
	ItemTimeout   *duration `yaml:"item_timeout"`
	RestartGrace  *duration `yaml:"restart_grace"`

	BatchSize        *int      `yaml:"batch_size"`
	ItemDelay        *duration `yaml:"item_delay"`
	BatchPause       *duration `yaml:"batch_pause"`
	MaxMemoryPercent *float64  `yaml:"max_memory_percent"`
	MaxVideos        *int      `yaml:"max_videos"`

	RetentionTTL     *duration `yaml:"retention_ttl"`
	RetentionMaxJobs *int      `yaml:"retention_max_jobs"`
	SweepInterval    *duration `yaml:"sweep_interval"`

	FetchTimeout  *duration `yaml:"fetch_timeout"`
	FetchMaxBytes *int64    `yaml:"fetch_max_bytes"`

	YTDLPPath    *string `yaml:"ytdlp_path"`
	FFmpegPath   *string `yaml:"ffmpeg_path"`
	WhisperPath  *string `yaml:"whisper_path"`
	WhisperModel *string `yaml:"whisper_model"`

	RedisAddr         *string  `yaml:"redis_addr"`
	RedisPassword     *string  `yaml:"redis_password"`
	RedisDB           *int     `yaml:"redis_db"`
	RateLimitCapacity *int     `yaml:"rate_limit_capacity"`
	RateLimitRefill   *float64 `yaml:"rate_limit_refill_per_sec"`
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.Env, fc.Env)
	setString(&cfg.HTTPPort, fc.HTTPPort)
	setInt(&cfg.QueueCapacity, fc.QueueCapacity)
	setInt(&cfg.WorkerCount, fc.WorkerCount)
	setDuration(&cfg.ItemTimeout, fc.ItemTimeout)
	setDuration(&cfg.RestartGrace, fc.RestartGrace)
	setInt(&cfg.BatchSize, fc.BatchSize)
	setDuration(&cfg.ItemDelay, fc.ItemDelay)
	setDuration(&cfg.BatchPause, fc.BatchPause)
	setFloat(&cfg.MaxMemoryPercent, fc.MaxMemoryPercent)
	setInt(&cfg.MaxVideos, fc.MaxVideos)
	setDuration(&cfg.RetentionTTL, fc.RetentionTTL)
	setInt(&cfg.RetentionMaxJobs, fc.RetentionMaxJobs)
	setDuration(&cfg.SweepInterval, fc.SweepInterval)
	setDuration(&cfg.FetchTimeout, fc.FetchTimeout)
	setInt64(&cfg.FetchMaxBytes, fc.FetchMaxBytes)
	setString(&cfg.YTDLPPath, fc.YTDLPPath)
	setString(&cfg.FFmpegPath, fc.FFmpegPath)
	setString(&cfg.WhisperPath, fc.WhisperPath)
	setString(&cfg.WhisperModel, fc.WhisperModel)
	setString(&cfg.RedisAddr, fc.RedisAddr)
	setString(&cfg.RedisPassword, fc.RedisPassword)
	setInt(&cfg.RedisDB, fc.RedisDB)
	setInt(&cfg.RateLimitCapacity, fc.RateLimitCapacity)
	setFloat(&cfg.RateLimitRefill, fc.RateLimitRefill)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setInt64(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *duration) {
	if v != nil {
		*dst = time.Duration(*v)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
