package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Port         string         `yaml:"port"`
	DatabasePath string         `yaml:"database_path"`
	Provider     ProviderConfig `yaml:"provider"`
	Batch        BatchConfig    `yaml:"batch"`
	Media        MediaConfig    `yaml:"media"`
	NATSURL      string         `yaml:"nats_url"`
	Log          LogConfig      `yaml:"log"`
}

// ProviderConfig holds the AI provider settings
type ProviderConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	TranscribeModel string        `yaml:"transcribe_model"`
	CompletionModel string        `yaml:"completion_model"`
	Language        string        `yaml:"language"`
	Timeout         time.Duration `yaml:"timeout"`
}

// BatchConfig holds coordinator and worker settings
type BatchConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	ChunkDelay     time.Duration `yaml:"chunk_delay"`
	WorkerInterval time.Duration `yaml:"worker_interval"`
}

// MediaConfig holds acquisition settings
type MediaConfig struct {
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	VideoTimeout    time.Duration `yaml:"video_timeout"`
	VideoRetries    int           `yaml:"video_retries"`
	FFmpegPath      string        `yaml:"ffmpeg_path"`
	Restricted      bool          `yaml:"restricted"`
	ForceTranscode  bool          `yaml:"force_transcode"`
	BrowserPath     string        `yaml:"browser_path"`
	PageResolver    bool          `yaml:"page_resolver"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Port:         "8080",
		DatabasePath: "data/clipwright.db",
		Provider: ProviderConfig{
			TranscribeModel: "whisper-1",
			CompletionModel: "gpt-4o-mini",
			Timeout:         2 * time.Minute,
		},
		Batch: BatchConfig{
			Concurrency:    3,
			MaxConcurrency: 10,
			ChunkDelay:     time.Second,
			WorkerInterval: time.Second,
		},
		Media: MediaConfig{
			DownloadTimeout: 30 * time.Second,
			VideoTimeout:    3 * time.Minute,
			VideoRetries:    3,
			FFmpegPath:      "ffmpeg",
		},
		Log: LogConfig{Format: "text", Level: "info"},
	}
}

// Load reads .env, then the optional CONFIG_FILE, then environment overrides
func Load() (*Config, error) {
	// .envファイルがなくてもエラーにしない
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	str("PORT", &c.Port)
	str("DATABASE_PATH", &c.DatabasePath)
	str("OPENAI_API_KEY", &c.Provider.APIKey)
	str("OPENAI_BASE_URL", &c.Provider.BaseURL)
	str("TRANSCRIBE_MODEL", &c.Provider.TranscribeModel)
	str("COMPLETION_MODEL", &c.Provider.CompletionModel)
	str("TRANSCRIBE_LANGUAGE", &c.Provider.Language)
	dur("PROVIDER_TIMEOUT", &c.Provider.Timeout)
	num("BATCH_CONCURRENCY", &c.Batch.Concurrency)
	num("BATCH_MAX_CONCURRENCY", &c.Batch.MaxConcurrency)
	dur("BATCH_CHUNK_DELAY", &c.Batch.ChunkDelay)
	dur("WORKER_INTERVAL", &c.Batch.WorkerInterval)
	dur("DOWNLOAD_TIMEOUT", &c.Media.DownloadTimeout)
	dur("VIDEO_TIMEOUT", &c.Media.VideoTimeout)
	num("VIDEO_RETRIES", &c.Media.VideoRetries)
	str("FFMPEG_PATH", &c.Media.FFmpegPath)
	flag("RESTRICTED_ENV", &c.Media.Restricted)
	flag("FORCE_TRANSCODE", &c.Media.ForceTranscode)
	str("BROWSER_PATH", &c.Media.BrowserPath)
	flag("PAGE_RESOLVER", &c.Media.PageResolver)
	str("NATS_URL", &c.NATSURL)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_LEVEL", &c.Log.Level)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch concurrency must be at least 1, got %d", c.Batch.Concurrency)
	}
	if c.Batch.MaxConcurrency < c.Batch.Concurrency {
		return fmt.Errorf("batch max concurrency %d is below concurrency %d", c.Batch.MaxConcurrency, c.Batch.Concurrency)
	}
	if c.Batch.ChunkDelay < 0 {
		return fmt.Errorf("batch chunk delay must not be negative")
	}
	if c.Media.VideoRetries < 0 {
		return fmt.Errorf("video retries must not be negative")
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
