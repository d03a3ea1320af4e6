package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all runtime settings. Values come from an optional YAML file
// (CONFIG_PATH, default config.yaml) and environment variables, with the
// environment taking precedence. Secrets are read from the environment only.
type Config struct {
	Port     string `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	TimeZone string `yaml:"time_zone" env:"TIME_ZONE" env-default:"Asia/Almaty"`

	Database DatabaseConfig `yaml:"database"`
	Bot      BotConfig      `yaml:"bot"`
	Admin    AdminConfig    `yaml:"admin"`
	Media    MediaConfig    `yaml:"media"`
	Jobs     JobsConfig     `yaml:"jobs"`

	Location *time.Location `yaml:"-"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port         int    `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User         string `yaml:"user" env:"DB_USER" env-default:"postgres"`
	Password     string `yaml:"-" env:"DB_PASSWORD" env-default:"postgres"`
	Name         string `yaml:"name" env:"DB_NAME" env-default:"volunteers"`
	SSLMode      string `yaml:"ssl_mode" env:"DB_SSLMODE" env-default:"disable"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"10"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type BotConfig struct {
	Token string `yaml:"-" env:"BOT_TOKEN"`
	// WebhookBaseURL switches the bot to webhook mode when set; otherwise it
	// long-polls getUpdates.
	WebhookBaseURL string        `yaml:"webhook_base_url" env:"WEBHOOK_BASE_URL" env-default:""`
	WebhookSecret  string        `yaml:"-" env:"WEBHOOK_SECRET" env-default:""`
	PollTimeout    time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT" env-default:"30s"`
	// RateLimit caps outbound API calls per second.
	RateLimit float64 `yaml:"rate_limit" env:"BOT_RATE_LIMIT" env-default:"25"`

	ProjectsPerPage         int `yaml:"projects_per_page" env:"PROJECTS_PER_PAGE" env-default:"5"`
	PhotosPerPage           int `yaml:"photos_per_page" env:"PHOTOS_PER_PAGE" env-default:"5"`
	MaxProjectsPerVolunteer int `yaml:"max_projects_per_volunteer" env:"MAX_PROJECTS_PER_VOLUNTEER" env-default:"1"`

	DownloadAttempts int           `yaml:"download_attempts" env:"DOWNLOAD_ATTEMPTS" env-default:"3"`
	DownloadBackoff  time.Duration `yaml:"download_backoff" env:"DOWNLOAD_BACKOFF" env-default:"1s"`
}

type AdminConfig struct {
	// TelegramIDsStr is a comma separated list of telegram ids flagged as staff.
	TelegramIDsStr string  `yaml:"telegram_ids" env:"ADMIN_TELEGRAM_IDS" env-default:""`
	TelegramIDs    []int64 `yaml:"-"`

	Username     string `yaml:"username" env:"ADMIN_USERNAME" env-default:"admin"`
	PasswordHash string `yaml:"-" env:"ADMIN_PASSWORD_HASH" env-default:""`
	JWTSecret    string `yaml:"-" env:"JWT_SECRET" env-default:""`
}

type MediaConfig struct {
	Root string `yaml:"root" env:"MEDIA_ROOT" env-default:"media"`
}

type JobsConfig struct {
	// DeadlineReminders is a six-field cron spec (with seconds).
	DeadlineReminders string `yaml:"deadline_reminders" env:"JOB_DEADLINE_REMINDERS" env-default:"0 0 8 * * *"`
}

// Load reads configuration from path (if it exists) and the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if _, statErr := os.Stat(path); path != "" && statErr == nil {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parseComplexFields() error {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return fmt.Errorf("time zone %q: %w", c.TimeZone, err)
	}
	c.Location = loc

	ids, err := parseIDList(c.Admin.TelegramIDsStr)
	if err != nil {
		return fmt.Errorf("ADMIN_TELEGRAM_IDS: %w", err)
	}
	c.Admin.TelegramIDs = ids
	return nil
}

func (c *Config) validate() error {
	if c.Bot.Token == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if c.Bot.ProjectsPerPage <= 0 || c.Bot.PhotosPerPage <= 0 {
		return errors.New("page sizes must be positive")
	}
	if c.Bot.MaxProjectsPerVolunteer <= 0 {
		return errors.New("MAX_PROJECTS_PER_VOLUNTEER must be positive")
	}
	if c.Bot.DownloadAttempts <= 0 {
		return errors.New("DOWNLOAD_ATTEMPTS must be positive")
	}
	if c.Admin.PasswordHash != "" && c.Admin.JWTSecret == "" {
		return errors.New("JWT_SECRET is required when the admin console is enabled")
	}
	return nil
}

// AdminConsoleEnabled reports whether the HTTP admin API should be mounted.
func (c *Config) AdminConsoleEnabled() bool {
	return c.Admin.PasswordHash != ""
}

func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
