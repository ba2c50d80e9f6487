package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Server   ServerConfig   `yaml:"server"`
	Cache    CacheConfig    `yaml:"cache"`
	Limits   LimitsConfig   `yaml:"limits"`
	Extract  ExtractConfig  `yaml:"extract"`
	Encode   EncodeConfig   `yaml:"encode"`
	Download DownloadConfig `yaml:"download"`
}

// TelegramConfig holds bot configuration.
type TelegramConfig struct {
	Token           string `yaml:"token" envconfig:"TOKEN"`
	AllowedDomains  string `yaml:"allowed_domains" envconfig:"ALLOWED_DOMAINS" default:"tiktok.com,instagram.com,x.com,twitter.com,youtu.be,youtube.com"`
	CaptionTemplate string `yaml:"caption_template" envconfig:"CAPTION_TEMPLATE" default:"🗡️ gate={url}\nlvl={duration}s\nsource=shadow-extractor"`
}

// ServerConfig holds the keep-alive HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" envconfig:"PORT" default:"10000"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
}

// CacheConfig holds delivery cache configuration.
type CacheConfig struct {
	Path string `yaml:"path" envconfig:"CACHE_DB" default:"cache.db"`
}

// LimitsConfig holds transport size limits.
type LimitsConfig struct {
	CeilingBytes int64 `yaml:"ceiling_bytes" envconfig:"TELEGRAM_LIMIT_BYTES" default:"50331648"` // 48MB
	MaxWidth     int   `yaml:"max_width" envconfig:"MAX_WIDTH" default:"1920"`
	MaxHeight    int   `yaml:"max_height" envconfig:"MAX_HEIGHT" default:"1080"`
}

// ExtractConfig holds metadata extraction configuration.
type ExtractConfig struct {
	YTDLPPath    string        `yaml:"ytdlp_path" envconfig:"YTDLP_PATH" default:"yt-dlp"`
	CookieFile   string        `yaml:"cookie_file" envconfig:"COOKIEFILE"`
	MaxRetries   int           `yaml:"max_retries" envconfig:"MAX_DOWNLOAD_RETRIES" default:"2"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" envconfig:"EXTRACT_PROBE_TIMEOUT" default:"60s"`
	FastTimeout  time.Duration `yaml:"fast_timeout" envconfig:"EXTRACT_FAST_TIMEOUT" default:"30s"`
}

// EncodeConfig holds re-encode (fit) configuration.
type EncodeConfig struct {
	FFmpegPath    string `yaml:"ffmpeg_path" envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath   string `yaml:"ffprobe_path" envconfig:"FFPROBE_PATH" default:"ffprobe"`
	StartCRF      int    `yaml:"start_crf" envconfig:"ENCODE_START_CRF" default:"18"`
	FloorCRF      int    `yaml:"floor_crf" envconfig:"ENCODE_FLOOR_CRF" default:"28"`
	StepCRF       int    `yaml:"step_crf" envconfig:"ENCODE_STEP_CRF" default:"2"`
	MaxRate       string `yaml:"max_rate" envconfig:"ENCODE_MAX_RATE" default:"8M"`
	BufSize       string `yaml:"buf_size" envconfig:"ENCODE_BUF_SIZE" default:"16M"`
	AudioCodec    string `yaml:"audio_codec" envconfig:"ENCODE_AUDIO_CODEC" default:"aac"`
	AudioFallback string `yaml:"audio_fallback" envconfig:"ENCODE_AUDIO_FALLBACK" default:"libmp3lame"`
	AudioBitrate  string `yaml:"audio_bitrate" envconfig:"ENCODE_AUDIO_BITRATE" default:"128k"`
}

// DownloadConfig holds media download configuration.
type DownloadConfig struct {
	TempDir       string        `yaml:"temp_dir" envconfig:"DOWNLOAD_TEMP_DIR"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT" default:"10m"`
	HeadTimeout   time.Duration `yaml:"head_timeout" envconfig:"DOWNLOAD_HEAD_TIMEOUT" default:"8s"`
	UserAgent     string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"`
	RequestBudget time.Duration `yaml:"request_budget" envconfig:"REQUEST_BUDGET" default:"30m"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if cfg.Download.TempDir == "" {
		cfg.Download.TempDir = os.TempDir()
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("TOKEN is required")
	}
	if c.Limits.CeilingBytes <= 0 {
		return fmt.Errorf("TELEGRAM_LIMIT_BYTES must be positive")
	}
	if c.Encode.StartCRF > c.Encode.FloorCRF {
		return fmt.Errorf("ENCODE_START_CRF must not exceed ENCODE_FLOOR_CRF")
	}
	if c.Encode.StepCRF <= 0 {
		return fmt.Errorf("ENCODE_STEP_CRF must be positive")
	}
	return nil
}

// DomainList returns the admission allow-list as a normalized slice.
func (c *TelegramConfig) DomainList() []string {
	parts := strings.Split(c.AllowedDomains, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
