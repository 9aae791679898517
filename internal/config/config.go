// Package config loads and validates service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second

	defaultSubstackTimeout = 15 * time.Second
	defaultTasksTimeout    = 10 * time.Second

	defaultExpansionSpacing   = 45 * time.Second
	defaultFollowSpacing      = 30 * time.Minute
	defaultBackfillCooldown   = time.Hour
	defaultBackfillIterations = 10
	defaultAnnounceWindow     = 48 * time.Hour
	defaultListUpdateWindow   = 24 * time.Hour

	defaultResyncCronSpec = "@hourly"
)

// Config is the root configuration for the skystack service.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Substack  SubstackConfig  `yaml:"substack"`
	Bluesky   BlueskyConfig   `yaml:"bluesky"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Redis     RedisConfig     `yaml:"redis"`
	Worker    WorkerConfig    `yaml:"worker"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address      string        `yaml:"address"`       // e.g. ":8080"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 30s
}

// SubstackConfig holds content-source settings.
type SubstackConfig struct {
	// URLTemplate produces a publication base URL from its short id,
	// e.g. "https://%s.substack.com".
	URLTemplate    string        `yaml:"url_template"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// BlueskyConfig holds social-network settings.
type BlueskyConfig struct {
	PDSURL             string `yaml:"pds_url"`
	HandleSuffix       string `yaml:"handle_suffix"` // e.g. ".skystack.xyz"
	AccountSecret      string `yaml:"account_secret"`
	AdminPassword      string `yaml:"admin_password"`
	ServiceHandle      string `yaml:"service_handle"` // account that posts announcements
	ServicePassword    string `yaml:"service_password"`
	AllNewslettersList string `yaml:"all_newsletters_list"` // list URI for announce checks
}

// TasksConfig holds delayed task-queue settings. With Environment set to
// "local" enqueues are skipped with a warning status.
type TasksConfig struct {
	Environment    string        `yaml:"environment"`
	BaseEndpoint   string        `yaml:"base_endpoint"` // service URL jobs are delivered to
	QueueEndpoint  string        `yaml:"queue_endpoint"`
	CreateQueue    string        `yaml:"create_queue"`
	BackfillQueue  string        `yaml:"backfill_queue"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SchedulerConfig holds the fan-out spacing constants, tuned to the target
// network's observed rate limits.
type SchedulerConfig struct {
	ExpansionSpacing   time.Duration `yaml:"expansion_spacing"`
	FollowSpacing      time.Duration `yaml:"follow_spacing"`
	BackfillCooldown   time.Duration `yaml:"backfill_cooldown"`
	BackfillIterations int           `yaml:"backfill_iterations"`
	AnnounceWindow     time.Duration `yaml:"announce_window"`
	ListUpdateWindow   time.Duration `yaml:"list_update_window"`
}

// RedisConfig holds Redis connection settings for the job dedup tracker.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WorkerConfig holds the periodic resync-check worker settings.
type WorkerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CronSpec string `yaml:"cron_spec"`
}

// AuthConfig holds the bearer token required by the scheduled endpoints.
type AuthConfig struct {
	ServiceToken string `yaml:"service_token"`
}

// Load reads, defaults, env-overrides, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Substack.RequestTimeout <= 0 {
		cfg.Substack.RequestTimeout = defaultSubstackTimeout
	}
	if cfg.Tasks.RequestTimeout <= 0 {
		cfg.Tasks.RequestTimeout = defaultTasksTimeout
	}
	if cfg.Tasks.CreateQueue == "" {
		cfg.Tasks.CreateQueue = "create-and-build"
	}
	if cfg.Tasks.BackfillQueue == "" {
		cfg.Tasks.BackfillQueue = "old-posts-import"
	}
	if cfg.Scheduler.ExpansionSpacing <= 0 {
		cfg.Scheduler.ExpansionSpacing = defaultExpansionSpacing
	}
	if cfg.Scheduler.FollowSpacing <= 0 {
		cfg.Scheduler.FollowSpacing = defaultFollowSpacing
	}
	if cfg.Scheduler.BackfillCooldown <= 0 {
		cfg.Scheduler.BackfillCooldown = defaultBackfillCooldown
	}
	if cfg.Scheduler.BackfillIterations <= 0 {
		cfg.Scheduler.BackfillIterations = defaultBackfillIterations
	}
	if cfg.Scheduler.AnnounceWindow <= 0 {
		cfg.Scheduler.AnnounceWindow = defaultAnnounceWindow
	}
	if cfg.Scheduler.ListUpdateWindow <= 0 {
		cfg.Scheduler.ListUpdateWindow = defaultListUpdateWindow
	}
	if cfg.Worker.CronSpec == "" {
		cfg.Worker.CronSpec = defaultResyncCronSpec
	}
}

func overrideWithEnvVars(cfg *Config) {
	if appDebug := os.Getenv("APP_DEBUG"); appDebug != "" {
		cfg.Debug = parseBool(appDebug)
	}
	if port := os.Getenv("SKYSTACK_PORT"); port != "" {
		cfg.Server.Address = ":" + port
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if base := os.Getenv("TASKS_BASE_ENDPOINT"); base != "" {
		cfg.Tasks.BaseEndpoint = base
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Tasks.Environment = env
	}
	if secret := os.Getenv("ACCOUNT_SECRET"); secret != "" {
		cfg.Bluesky.AccountSecret = secret
	}
	if pass := os.Getenv("ADMIN_PASS"); pass != "" {
		cfg.Bluesky.AdminPassword = pass
	}
	if pass := os.Getenv("SERVICE_ACCOUNT_PASSWORD"); pass != "" {
		cfg.Bluesky.ServicePassword = pass
	}
	if token := os.Getenv("SERVICE_TOKEN"); token != "" {
		cfg.Auth.ServiceToken = token
	}
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Substack.URLTemplate == "" {
		return errors.New("substack.url_template is required")
	}
	if !strings.Contains(c.Substack.URLTemplate, "%s") {
		return fmt.Errorf("substack.url_template must contain a %%s placeholder, got %q", c.Substack.URLTemplate)
	}
	if c.Bluesky.PDSURL == "" {
		return errors.New("bluesky.pds_url is required")
	}
	if c.Bluesky.HandleSuffix == "" {
		return errors.New("bluesky.handle_suffix is required")
	}
	if !c.Tasks.Local() && c.Tasks.BaseEndpoint == "" {
		return errors.New("tasks.base_endpoint is required outside the local environment")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	return nil
}

// Local reports whether the task queue should be bypassed.
func (t *TasksConfig) Local() bool {
	return t.Environment == "" || strings.EqualFold(t.Environment, "local")
}

// parseBool parses common boolean string representations.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
