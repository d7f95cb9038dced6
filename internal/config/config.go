package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `yaml:"databases"`
	Redis       RedisConfig               `yaml:"redis"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	AI          AIConfig                  `yaml:"ai"`
	Notify      NotifyConfig              `yaml:"notify"`
	Assistant   AssistantConfig           `yaml:"assistant"`
	Search      SearchConfig              `yaml:"search"`
}

type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

type BasicConfig struct {
	ServerAddress     string `yaml:"server_address"`
	MinWorkers        int    `yaml:"min_workers"`
	MaxWorkers        int    `yaml:"max_workers"`
	QueueSize         int    `yaml:"queue_size"`
	WorkerIdleTimeout int    `yaml:"worker_idle_timeout"` // minutes
	Scheduler         string `yaml:"scheduler"`           // memory | redis
	PollInterval      int    `yaml:"poll_interval_ms"`
	MaintenanceSpec   string `yaml:"maintenance_spec"`
	DeliveryRetention int    `yaml:"delivery_retention_hours"`
	AttachmentBaseDir string `yaml:"attachment_base_dir"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Params   string `yaml:"params"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AIConfig selects the generative provider used by the pipeline.
type AIConfig struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	TimeoutSecs   int    `yaml:"timeout_seconds"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

type NotifyConfig struct {
	ItemDelaySecs       int    `yaml:"item_delay_seconds"`
	TaskDelaySecs       int    `yaml:"task_delay_seconds"`
	CommentDelaySecs    int    `yaml:"comment_delay_seconds"`
	MaxAttempts         int    `yaml:"max_attempts"`
	RetryBaseSecs       int    `yaml:"retry_base_seconds"`
	DiffWindow          *int   `yaml:"diff_window"` // nil selects 2; 0 means no context
	DiffMaxLines        int    `yaml:"diff_max_lines"`
	CelebrationMaxRunes int    `yaml:"celebration_max_runes"`
	GroupScope          string `yaml:"group_scope"` // workspace | organization
	SystemBotID         int64  `yaml:"system_bot_id"`
}

type AssistantConfig struct {
	BotID         int64 `yaml:"bot_id"`
	ToolThreshold int   `yaml:"tool_threshold"`
	AgentTools    bool  `yaml:"agent_tools"`
	HistoryLimit  int   `yaml:"history_limit"`
}

type SearchConfig struct {
	GoogleAPIKey   string `yaml:"google_api_key"`
	GoogleEngineID string `yaml:"google_engine_id"`
}

// Load reads configuration from the provided path (defaults to config.yaml).
// A .env file next to the working directory is applied first so provider keys
// can be referenced as ${VAR} inside the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = "config.yaml"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && !strings.HasPrefix(db.DSN, ":memory:") && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
		cfg.Databases["sqlite3"] = db
	}
	return cfg, nil
}

// Parse decodes YAML (or JSON) bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 256
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 5
	}
	if b.Scheduler == "" {
		b.Scheduler = "memory"
	}
	if b.PollInterval <= 0 {
		b.PollInterval = 500
	}
	if b.MaintenanceSpec == "" {
		b.MaintenanceSpec = "@every 1h"
	}
	if b.DeliveryRetention <= 0 {
		b.DeliveryRetention = 24 * 7
	}
	if b.AttachmentBaseDir == "" {
		b.AttachmentBaseDir = "./data/attachments"
	}

	if c.AI.TimeoutSecs <= 0 {
		c.AI.TimeoutSecs = 20
	}
	if c.AI.RatePerMinute <= 0 {
		c.AI.RatePerMinute = 60
	}

	n := &c.Notify
	if n.ItemDelaySecs <= 0 {
		n.ItemDelaySecs = 30
	}
	if n.TaskDelaySecs <= 0 {
		n.TaskDelaySecs = 5
	}
	if n.CommentDelaySecs < 0 {
		n.CommentDelaySecs = 0
	}
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = 5
	}
	if n.RetryBaseSecs <= 0 {
		n.RetryBaseSecs = 5
	}
	if n.DiffWindow == nil {
		w := 2
		n.DiffWindow = &w
	}
	if n.DiffMaxLines <= 0 {
		n.DiffMaxLines = 50
	}
	if n.CelebrationMaxRunes <= 0 {
		n.CelebrationMaxRunes = 280
	}
	if n.GroupScope == "" {
		n.GroupScope = "workspace"
	}

	if c.Assistant.ToolThreshold <= 0 {
		c.Assistant.ToolThreshold = 40
	}
	if c.Assistant.HistoryLimit <= 0 {
		c.Assistant.HistoryLimit = 10
	}
}

func (c *Config) validate() error {
	var errs []string
	switch c.BasicConfig.Scheduler {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("basic_config.scheduler %q must be memory or redis", c.BasicConfig.Scheduler))
	}
	switch c.Notify.GroupScope {
	case "workspace", "organization":
	default:
		errs = append(errs, fmt.Sprintf("notify.group_scope %q must be workspace or organization", c.Notify.GroupScope))
	}
	if c.AI.Provider != "" {
		if _, ok := c.Providers[c.AI.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("ai.provider %q has no providers entry", c.AI.Provider))
		}
	}
	if c.Notify.DiffWindow != nil && *c.Notify.DiffWindow < 0 {
		errs = append(errs, "notify.diff_window must not be negative")
	}
	if c.Assistant.ToolThreshold > 100 {
		errs = append(errs, "assistant.tool_threshold must be within 0..100")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// WorkerIdle returns the configured worker idle expiry.
func (b BasicConfig) WorkerIdle() time.Duration {
	return time.Duration(b.WorkerIdleTimeout) * time.Minute
}

// Timeout returns the per-call generation timeout.
func (a AIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}
