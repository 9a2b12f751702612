package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultMaxMessageLength    = 2000
	DefaultMaxSessionsPerUser  = 5
	DefaultRetentionHours      = 24
	DefaultSweepIntervalMinute = 60
	DefaultHistoryPreview      = 20
	DefaultNotifyWorkers       = 4
	DefaultNotifyQueueSize     = 256
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
}

type BasicConfig struct {
	ServerAddress         string   `json:"server_address"`
	LogLevel              string   `json:"log_level"`
	BotToken              string   `json:"bot_token"`
	AdminIDs              []int64  `json:"admin_ids"`
	MaxMessageLength      int      `json:"max_message_length"`
	MaxSessionsPerUser    int      `json:"max_sessions_per_user"`
	SessionRetentionHours int      `json:"session_retention_hours"`
	SweepIntervalMinutes  int      `json:"sweep_interval_minutes"`
	PurgeAfterHours       int      `json:"purge_after_hours"`
	HistoryPreview        int      `json:"history_preview"`
	NotifyWorkers         int      `json:"notify_workers"`
	NotifyQueueSize       int      `json:"notify_queue_size"`
	Notifier              string   `json:"notifier"`
	AllowedOrigins        []string `json:"allowed_origins"`
	RebuildMembership     *bool    `json:"rebuild_membership"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Enabled reports whether a redis endpoint was configured at all.
func (r RedisConfig) Enabled() bool {
	return r.Host != "" || r.Port != 0
}

// Load reads configuration from the provided path (defaults to config.json).
// Values from a sibling .env file and the process environment override the
// file for secrets.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	envPath := filepath.Join(filepath.Dir(absPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if sqlite, ok := cfg.Databases["sqlite3"]; ok && sqlite.DSN != "" && sqlite.DSN != ":memory:" && !filepath.IsAbs(sqlite.DSN) && !strings.HasPrefix(sqlite.DSN, "file:") {
		sqlite.DSN = filepath.Join(filepath.Dir(absPath), sqlite.DSN)
		cfg.Databases["sqlite3"] = sqlite
	}

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if token := strings.TrimSpace(os.Getenv("ANONRELAY_BOT_TOKEN")); token != "" {
		c.BasicConfig.BotToken = token
	}
	if raw := strings.TrimSpace(os.Getenv("ANONRELAY_ADMIN_IDS")); raw != "" {
		ids, err := ParseAdminIDs(raw)
		if err != nil {
			return err
		}
		c.BasicConfig.AdminIDs = ids
	}
	return nil
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}
	if b.MaxMessageLength == 0 {
		b.MaxMessageLength = DefaultMaxMessageLength
	}
	if b.MaxSessionsPerUser == 0 {
		b.MaxSessionsPerUser = DefaultMaxSessionsPerUser
	}
	if b.SessionRetentionHours == 0 {
		b.SessionRetentionHours = DefaultRetentionHours
	}
	if b.SweepIntervalMinutes == 0 {
		b.SweepIntervalMinutes = DefaultSweepIntervalMinute
	}
	if b.HistoryPreview == 0 {
		b.HistoryPreview = DefaultHistoryPreview
	}
	if b.NotifyWorkers == 0 {
		b.NotifyWorkers = DefaultNotifyWorkers
	}
	if b.NotifyQueueSize == 0 {
		b.NotifyQueueSize = DefaultNotifyQueueSize
	}
	if b.Notifier == "" {
		b.Notifier = "log"
	}
	if b.RebuildMembership == nil {
		rebuild := true
		b.RebuildMembership = &rebuild
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
}

// Validate checks the fields the service cannot run without.
func (c *Config) Validate() error {
	b := c.BasicConfig
	if strings.TrimSpace(b.BotToken) == "" {
		return errors.New("bot_token must be configured")
	}
	if b.MaxMessageLength < 0 || b.MaxSessionsPerUser < 0 || b.SessionRetentionHours < 0 ||
		b.SweepIntervalMinutes < 0 || b.PurgeAfterHours < 0 || b.HistoryPreview < 0 ||
		b.NotifyWorkers < 0 || b.NotifyQueueSize < 0 {
		return errors.New("numeric limits must not be negative")
	}
	switch b.Notifier {
	case "log", "redis", "websocket":
	default:
		return fmt.Errorf("unsupported notifier %q", b.Notifier)
	}
	if b.Notifier == "redis" && !c.Redis.Enabled() {
		return errors.New("notifier redis requires a redis section")
	}
	return nil
}

// ParseAdminIDs parses a comma separated list of numeric identities.
func ParseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse admin id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (b BasicConfig) Retention() time.Duration {
	return time.Duration(b.SessionRetentionHours) * time.Hour
}

func (b BasicConfig) SweepInterval() time.Duration {
	return time.Duration(b.SweepIntervalMinutes) * time.Minute
}

// PurgeAfter is zero when hard deletion is disabled.
func (b BasicConfig) PurgeAfter() time.Duration {
	return time.Duration(b.PurgeAfterHours) * time.Hour
}

func (b BasicConfig) ShouldRebuildMembership() bool {
	return b.RebuildMembership == nil || *b.RebuildMembership
}
