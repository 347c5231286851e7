package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models launchledger.yml.
type Config struct {
	Server struct {
		Addr        string   `yaml:"addr"`
		BasePath    string   `yaml:"base_path"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Database     DatabaseConfig `yaml:"database"`
	Redis        RedisConfig    `yaml:"redis"`
	Launch       LaunchConfig   `yaml:"launch"`
	Cron         CronConfig     `yaml:"cron"`
	Auth         AuthConfig     `yaml:"auth"`
	Revalidation struct {
		Endpoint string        `yaml:"endpoint"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"revalidation"`
	RateLimit struct {
		VotesPerSecond float64 `yaml:"votes_per_second"`
		Burst          int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

type DatabaseConfig struct {
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

type LaunchConfig struct {
	// WindowTTL is applied to the eligibility set and every counter.
	WindowTTL       time.Duration `yaml:"window_ttl"`
	FlushLockTTL    time.Duration `yaml:"flush_lock_ttl"`
	MarkerScanBatch int64         `yaml:"marker_scan_batch"`
	RevalidatePath  string        `yaml:"revalidate_path"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Secret   string `yaml:"secret"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	VoterTokenSecret string `yaml:"voter_token_secret"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config.database.path is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("config.redis.url is required")
	}
	if strings.ContainsAny(c.Redis.KeyPrefix, "*?[] ") {
		return fmt.Errorf("config.redis.key_prefix contains reserved characters")
	}
	if c.Launch.WindowTTL < 24*time.Hour {
		return fmt.Errorf("config.launch.window_ttl must cover a full launch day, got %s", c.Launch.WindowTTL)
	}
	if c.Launch.FlushLockTTL <= 0 {
		return fmt.Errorf("config.launch.flush_lock_ttl must be positive")
	}
	if c.Launch.MarkerScanBatch <= 0 {
		return fmt.Errorf("config.launch.marker_scan_batch must be positive")
	}
	if c.Cron.Enabled {
		if _, err := cron.ParseStandard(c.Cron.Schedule); err != nil {
			return fmt.Errorf("config.cron.schedule %q: %w", c.Cron.Schedule, err)
		}
	}
	if c.RateLimit.VotesPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config.rate_limit values must not be negative")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.logging.format must be text or json")
	}
	return nil
}

// Path returns the config file path for a directory.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "launchledger.yml")
}

// Load reads and validates config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with lv config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: ""
  cors_origins: ["*"]

database:
  path: .launchledger/launchledger.db
  max_open_conns: 4
  max_idle_conns: 2
  conn_max_lifetime: 5m

redis:
  url: redis://127.0.0.1:6379/0
  key_prefix: vote

launch:
  window_ttl: 25h
  flush_lock_ttl: 5m
  marker_scan_batch: 500
  revalidate_path: /launch

cron:
  enabled: true
  schedule: "0 6 * * *"

revalidation:
  endpoint: ""
  timeout: 10s

rate_limit:
  votes_per_second: 5
  burst: 10

logging:
  level: info
  format: text
`
