package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string         `yaml:"env" env:"ENV" env-default:"local" json:"env"`
	Telegram   TelegramConfig `yaml:"telegram" json:"telegram"`
	Gemini     GeminiConfig   `yaml:"gemini" json:"gemini"`
	Storage    StorageConfig  `yaml:"storage" json:"-"`
	Access     AccessConfig   `yaml:"access" json:"-"`
	Relay      RelayConfig    `yaml:"relay" json:"relay"`
	HTTPServer HTTPServer     `yaml:"http_server" json:"-"`
	Archive    ArchiveConfig  `yaml:"archive" json:"archive"`
}

type TelegramConfig struct {
	Token       string        `yaml:"token" env:"TELEGRAM_BOT_TOKEN" env-required:"true" json:"-"`
	APIBaseURL  string        `yaml:"api_base_url" env:"TELEGRAM_API_BASE_URL" env-default:"https://api.telegram.org" json:"-"`
	PollTimeout time.Duration `yaml:"poll_timeout" env:"TELEGRAM_POLL_TIMEOUT" env-default:"30s" json:"poll_timeout"`
	// SendRate is the sustained number of outbound sends per second.
	SendRate  float64 `yaml:"send_rate" env:"TELEGRAM_SEND_RATE" env-default:"20" json:"send_rate"`
	SendBurst int     `yaml:"send_burst" env:"TELEGRAM_SEND_BURST" env-default:"5" json:"send_burst"`
}

type GeminiConfig struct {
	APIKey           string        `yaml:"api_key" env:"GOOGLE_API_KEY" env-required:"true" json:"-"`
	ChatModel        string        `yaml:"chat_model" env:"GEMINI_PRO_MODEL" env-default:"gemini-3-pro-preview" json:"chat_model"`
	ImageModel       string        `yaml:"image_model" env:"IMAGE_MODEL_NAME" env-default:"gemini-3-pro-image-preview" json:"image_model"`
	SummarizeModel   string        `yaml:"summarize_model" env:"SUMMARIZE_MODEL" env-default:"gemini-2.5-pro" json:"summarize_model"`
	Timeout          time.Duration `yaml:"timeout" env:"GEMINI_TIMEOUT" env-default:"10m" json:"timeout"`
	SummarizeTimeout time.Duration `yaml:"summarize_timeout" env:"SUMMARIZE_TIMEOUT" env-default:"2m" json:"summarize_timeout"`
	MaxAttempts      int           `yaml:"max_attempts" env:"GEMINI_MAX_ATTEMPTS" env-default:"3" json:"max_attempts"`
	ThinkingBudget   int32         `yaml:"thinking_budget" env:"GEMINI_THINKING_BUDGET" env-default:"32768" json:"thinking_budget"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite3"`
	DSN    string `yaml:"dsn" env:"DATABASE_URL" env-default:"relay.db"`
}

type AccessConfig struct {
	AllowedChatIDs []int64 `yaml:"allowed_chat_ids" env:"ALLOWED_CHANNEL_IDS" env-separator:","`
	TrustedUserIDs []int64 `yaml:"trusted_user_ids" env:"TRUSTED_USER_IDS" env-separator:","`
}

type RelayConfig struct {
	MediaGroupWindow time.Duration `yaml:"media_group_window" env:"MEDIA_GROUP_WINDOW" env-default:"1s" json:"media_group_window"`
	MaxOpenGroups    int           `yaml:"max_open_groups" env:"MAX_OPEN_GROUPS" env-default:"256" json:"max_open_groups"`
	HistoryDepth     int           `yaml:"history_depth" env:"HISTORY_DEPTH" env-default:"15" json:"history_depth"`
	FileCacheSize    int           `yaml:"file_cache_size" env:"FILE_CACHE_SIZE" env-default:"100" json:"file_cache_size"`
	MaxPromptBytes   int64         `yaml:"max_prompt_bytes" env:"MAX_PROMPT_BYTES" env-default:"104857600" json:"max_prompt_bytes"`
	DownloadWorkers  int           `yaml:"download_workers" env:"DOWNLOAD_WORKERS" env-default:"4" json:"download_workers"`
	RetryEmojis      []string      `yaml:"retry_emojis" env:"RETRY_EMOJIS" env-separator:"," env-default:"👍" json:"retry_emojis"`
	ProcessingEmoji  string        `yaml:"processing_emoji" env:"PROCESSING_EMOJI" env-default:"👍" json:"processing_emoji"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8082"`
	Timeout     time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

type ArchiveConfig struct {
	Bucket    string `yaml:"bucket" env:"S3_BUCKET" json:"bucket,omitempty"`
	Region    string `yaml:"region" env:"S3_REGION" env-default:"us-east-1" json:"-"`
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT" json:"-"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY" json:"-"`
	SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY" json:"-"`
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Load reads the yaml file at path, if any, and overlays the environment.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read config from env: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}
