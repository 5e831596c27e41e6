package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string          `mapstructure:"mode"`
	Port       int             `mapstructure:"port"`
	LogLevel   string          `mapstructure:"log_level"`
	ReadLimit  int64           `mapstructure:"read_limit"`
	SendBuffer int             `mapstructure:"send_buffer"`
	Secret     string          `mapstructure:"secret"`
	Heartbeat  HeartbeatConfig `mapstructure:"heartbeat"`
	Engine     EngineConfig    `mapstructure:"engine"`
	Protocol   ProtocolConfig  `mapstructure:"protocol"`
}

type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type EngineConfig struct {
	URL            string        `mapstructure:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
}

type ProtocolConfig struct {
	MaxViolations   int           `mapstructure:"max_violations"`
	ViolationWindow time.Duration `mapstructure:"violation_window"`
}

// Load reads .env, then config/config.<CONFIG_ENV>.yaml, then RELAY_* environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to read .env")
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load without .env handling; a missing file falls back to defaults.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("port", 3000)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "relay-dev-secret")
	v.SetDefault("heartbeat.interval", "30s")
	v.SetDefault("engine.url", "ws://localhost:8000/ws")
	v.SetDefault("engine.connect_timeout", "10s")
	v.SetDefault("engine.drain_timeout", "5s")
	v.SetDefault("protocol.max_violations", 5)
	v.SetDefault("protocol.violation_window", "1m")

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("engine", cfg.Engine.URL).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	u, err := url.Parse(c.Engine.URL)
	if err != nil {
		return fmt.Errorf("config: engine.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: engine.url must be ws:// or wss://, got %q", c.Engine.URL)
	}
	if c.Engine.ConnectTimeout <= 0 || c.Engine.DrainTimeout <= 0 {
		return errors.New("config: engine timeouts must be positive")
	}
	if c.Heartbeat.Interval <= 0 {
		return errors.New("config: heartbeat.interval must be positive")
	}
	if c.Protocol.MaxViolations < 1 {
		return errors.New("config: protocol.max_violations must be at least 1")
	}
	return nil
}
