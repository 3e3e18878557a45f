package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/yokitheyo/vidjoin/internal/compress"
)

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SubmitRate      float64       `yaml:"submit_rate"`
		SubmitBurst     int           `yaml:"submit_burst"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Fetch struct {
		Timeout        time.Duration `yaml:"timeout"`
		MaxFileSizeMB  int64         `yaml:"max_file_size_mb"`
		Parallel       bool          `yaml:"parallel"`
		Workers        int           `yaml:"workers"`
		UserAgent      string        `yaml:"user_agent"`
		AllowedSchemes []string      `yaml:"allowed_schemes"`
	} `yaml:"fetch"`

	FFmpeg struct {
		FFmpegPath    string        `yaml:"ffmpeg_path"`
		FFprobePath   string        `yaml:"ffprobe_path"`
		ProbeTimeout  time.Duration `yaml:"probe_timeout"`
		ConcatTimeout time.Duration `yaml:"concat_timeout"`
		EncodeTimeout time.Duration `yaml:"encode_timeout"`
	} `yaml:"ffmpeg"`

	Jobs struct {
		MaxConcurrent int           `yaml:"max_concurrent"`
		MaxURLs       int           `yaml:"max_urls"`
		Retention     time.Duration `yaml:"retention"`
		ReapInterval  time.Duration `yaml:"reap_interval"`
		KeepWorkspace bool          `yaml:"keep_workspace"`
		DefaultName   string        `yaml:"default_output_name"`
	} `yaml:"jobs"`

	// Ladder overrides compress.DefaultLadder when set.
	Compression struct {
		Ladder compress.Ladder `yaml:"ladder"`
	} `yaml:"compression"`

	Limits struct {
		MinSizeMB     float64 `yaml:"min_size_mb"`
		MaxSizeMB     float64 `yaml:"max_size_mb"`
		DefaultSizeMB float64 `yaml:"default_size_mb"`
	} `yaml:"limits"`

	OutputDir string `yaml:"output_dir"`
	WorkDir   string `yaml:"work_dir"`
}

// LoadConfig reads the yaml file at path (a missing file is fine), applies
// defaults, then overlays .env and VIDJOIN_* environment variables.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		dec := yaml.NewDecoder(f)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyDefaults()

	// .env is optional.
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied, used by the CLI and tests.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.SubmitRate == 0 {
		c.Server.SubmitRate = 5
	}
	if c.Server.SubmitBurst == 0 {
		c.Server.SubmitBurst = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 30 * time.Minute
	}
	if c.Fetch.Workers == 0 {
		c.Fetch.Workers = 4
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "vidjoin/1.0"
	}
	if len(c.Fetch.AllowedSchemes) == 0 {
		c.Fetch.AllowedSchemes = []string{"http", "https"}
	}
	if c.FFmpeg.FFmpegPath == "" {
		c.FFmpeg.FFmpegPath = "ffmpeg"
	}
	if c.FFmpeg.FFprobePath == "" {
		c.FFmpeg.FFprobePath = "ffprobe"
	}
	if c.FFmpeg.ProbeTimeout == 0 {
		c.FFmpeg.ProbeTimeout = 30 * time.Second
	}
	if c.FFmpeg.ConcatTimeout == 0 {
		c.FFmpeg.ConcatTimeout = 10 * time.Minute
	}
	if c.FFmpeg.EncodeTimeout == 0 {
		c.FFmpeg.EncodeTimeout = 300 * time.Second
	}
	if c.Jobs.MaxURLs == 0 {
		c.Jobs.MaxURLs = 20
	}
	if c.Jobs.Retention == 0 {
		c.Jobs.Retention = time.Hour
	}
	if c.Jobs.ReapInterval == 0 {
		c.Jobs.ReapInterval = 5 * time.Minute
	}
	if c.Jobs.DefaultName == "" {
		c.Jobs.DefaultName = "concatenated_video.mp4"
	}
	if c.Limits.MinSizeMB == 0 {
		c.Limits.MinSizeMB = 10
	}
	if c.Limits.MaxSizeMB == 0 {
		c.Limits.MaxSizeMB = 500
	}
	if c.Limits.DefaultSizeMB == 0 {
		c.Limits.DefaultSizeMB = 100
	}
	if c.OutputDir == "" {
		c.OutputDir = "outputs"
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("VIDJOIN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VIDJOIN_PORT: %w", err)
		}
		c.Server.Port = port
	} else if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("VIDJOIN_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("VIDJOIN_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("VIDJOIN_WORK_DIR"); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv("VIDJOIN_FFMPEG"); v != "" {
		c.FFmpeg.FFmpegPath = v
	}
	if v := os.Getenv("VIDJOIN_FFPROBE"); v != "" {
		c.FFmpeg.FFprobePath = v
	}
	if v := os.Getenv("VIDJOIN_ENCODE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VIDJOIN_ENCODE_TIMEOUT: %w", err)
		}
		c.FFmpeg.EncodeTimeout = d
	}
	if v := os.Getenv("VIDJOIN_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VIDJOIN_MAX_CONCURRENT: %w", err)
		}
		c.Jobs.MaxConcurrent = n
	}
	if v := os.Getenv("VIDJOIN_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VIDJOIN_RETENTION: %w", err)
		}
		c.Jobs.Retention = d
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Limits.MinSizeMB <= 0 || c.Limits.MinSizeMB > c.Limits.MaxSizeMB {
		return fmt.Errorf("invalid size limits %.0f..%.0f MB", c.Limits.MinSizeMB, c.Limits.MaxSizeMB)
	}
	if c.Limits.DefaultSizeMB < c.Limits.MinSizeMB || c.Limits.DefaultSizeMB > c.Limits.MaxSizeMB {
		return fmt.Errorf("default size %.0f MB outside %.0f..%.0f", c.Limits.DefaultSizeMB, c.Limits.MinSizeMB, c.Limits.MaxSizeMB)
	}
	if c.Jobs.MaxConcurrent < 0 {
		return errors.New("jobs.max_concurrent must not be negative")
	}
	if c.Jobs.MaxURLs < 1 {
		return errors.New("jobs.max_urls must be at least 1")
	}
	if c.Fetch.Workers < 1 {
		return errors.New("fetch.workers must be at least 1")
	}
	if c.FFmpeg.EncodeTimeout <= 0 || c.FFmpeg.ConcatTimeout <= 0 || c.FFmpeg.ProbeTimeout <= 0 {
		return errors.New("ffmpeg timeouts must be positive")
	}
	if len(c.Compression.Ladder) > 0 {
		if err := c.Compression.Ladder.Validate(); err != nil {
			return fmt.Errorf("compression.ladder: %w", err)
		}
	}
	return nil
}
