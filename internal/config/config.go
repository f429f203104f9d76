package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config graph 客户端配置；字段可来自 YAML 文件（GRAPH_CONFIG），环境变量优先
type Config struct {
	Endpoint    string `yaml:"endpoint"`
	GraphWSPath string `yaml:"graph_ws_path"`

	Token        string `yaml:"token"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`

	RenewAdvance time.Duration `yaml:"renew_advance"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	MaxFrameSize int           `yaml:"max_frame_size"`

	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
	RedisPrefix string `yaml:"redis_prefix"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
}

func defaults() *Config {
	return &Config{
		RenewAdvance: 2 * time.Minute,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		RedisPrefix:  "graph:token:",
		LogLevel:     "info",
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load 读取 GRAPH_CONFIG 指向的 YAML（可选），再用 GRAPH_* 环境变量覆盖
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("GRAPH_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile 只读取指定文件并叠加环境变量，供 CLI 的 --config 使用
func LoadFile(path string) (*Config, error) {
	cfg := defaults()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Endpoint = getEnv("GRAPH_ENDPOINT", c.Endpoint)
	c.GraphWSPath = getEnv("GRAPH_WS_PATH", c.GraphWSPath)
	c.Token = getEnv("GRAPH_TOKEN", c.Token)
	c.ClientID = getEnv("GRAPH_CLIENT_ID", c.ClientID)
	c.ClientSecret = getEnv("GRAPH_CLIENT_SECRET", c.ClientSecret)
	c.Username = getEnv("GRAPH_USERNAME", c.Username)
	c.Password = getEnv("GRAPH_PASSWORD", c.Password)
	c.RedisAddr = getEnv("GRAPH_REDIS_ADDR", c.RedisAddr)
	c.RedisPrefix = getEnv("GRAPH_REDIS_PREFIX", c.RedisPrefix)
	c.MetricsAddr = getEnv("GRAPH_METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("GRAPH_LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("GRAPH_LOG_FILE", c.LogFile)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"GRAPH_RENEW_ADVANCE", &c.RenewAdvance},
		{"GRAPH_READ_TIMEOUT", &c.ReadTimeout},
		{"GRAPH_WRITE_TIMEOUT", &c.WriteTimeout},
		{"GRAPH_PING_INTERVAL", &c.PingInterval},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 {
			return fmt.Errorf("invalid %s=%q", d.key, v)
		}
		*d.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"GRAPH_MAX_FRAME_SIZE", &c.MaxFrameSize},
		{"GRAPH_REDIS_DB", &c.RedisDB},
	}
	for _, i := range ints {
		v := os.Getenv(i.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return fmt.Errorf("invalid %s=%q", i.key, v)
		}
		*i.dst = parsed
	}
	return nil
}

// UsesPassword 是否走 password grant 获取可续期 token
func (c *Config) UsesPassword() bool {
	return c.Token == "" && c.ClientID != "" && c.Username != ""
}

func (c *Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if c.Token == "" && !c.UsesPassword() {
		errs = append(errs, errors.New("either token or client_id+username credentials are required"))
	}
	if c.UsesPassword() && (c.ClientSecret == "" || c.Password == "") {
		errs = append(errs, errors.New("client_secret and password are required for password grant"))
	}
	return errors.Join(errs...)
}
