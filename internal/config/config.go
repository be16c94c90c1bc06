package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "HUM"

type Config struct {
	Transport      string      `mapstructure:"transport"`
	Port           int         `mapstructure:"port"`
	AllowedOrigins []string    `mapstructure:"allowed_origins"`
	Room           RoomConfig  `mapstructure:"room"`
	WS             WSConfig    `mapstructure:"ws"`
	Chat           ChatConfig  `mapstructure:"chat"`
	Redis          RedisConfig `mapstructure:"redis"`
	Log            LogConfig   `mapstructure:"log"`
}

type RoomConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

type WSConfig struct {
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

type ChatConfig struct {
	MaxLength  int           `mapstructure:"max_length"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// RedisConfig enables the shared chat limiter when URL is set.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Client configures cmd/humctl.
type Client struct {
	ServerURL       string        `mapstructure:"server_url"`
	Room            string        `mapstructure:"room"`
	Video           string        `mapstructure:"video"`
	Voice           bool          `mapstructure:"voice"`
	DriftThreshold  float64       `mapstructure:"drift_threshold"`
	DriftCooldown   time.Duration `mapstructure:"drift_cooldown"`
	EchoWindow      time.Duration `mapstructure:"echo_window"`
	MinEmitInterval time.Duration `mapstructure:"min_emit_interval"`
	MessageTTL      time.Duration `mapstructure:"message_ttl"`
	Log             LogConfig     `mapstructure:"log"`
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("transport", "hertz")
	v.SetDefault("port", 8080)
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("room.grace_period", "30s")
	v.SetDefault("ws.read_limit", 65536)
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.send_buffer", 32)
	v.SetDefault("chat.max_length", 100)
	v.SetDefault("chat.rate_limit", 5)
	v.SetDefault("chat.rate_window", "3s")
	v.SetDefault("redis.url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "ws://localhost:8080/ws")
	v.SetDefault("room", "")
	v.SetDefault("video", "")
	v.SetDefault("voice", false)
	v.SetDefault("drift_threshold", 0.5)
	v.SetDefault("drift_cooldown", "2s")
	v.SetDefault("echo_window", "400ms")
	v.SetDefault("min_emit_interval", "100ms")
	v.SetDefault("message_ttl", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// FileName is the config file selected by CONFIG_ENV (default dev).
func FileName() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

func Load() (*Config, error) {
	return LoadFrom(FileName())
}

// LoadFrom reads fileName if it exists, then applies HUM_* environment
// overrides on top of the defaults.
func LoadFrom(fileName string) (*Config, error) {
	v := viper.New()
	setServerDefaults(v)
	if err := read(v, fileName); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Transport != "hertz" && cfg.Transport != "echo" {
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	log.Info().Str("module", "config").Str("transport", cfg.Transport).Int("port", cfg.Port).Msg("config loaded")
	return &cfg, nil
}

// LoadClient reads the client section using v, which may already carry
// bound command line flags.
func LoadClient(v *viper.Viper, fileName string) (*Client, error) {
	setClientDefaults(v)
	if err := read(v, fileName); err != nil {
		return nil, err
	}
	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	return &cfg, nil
}

func read(v *viper.Viper, fileName string) error {
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fileName == "" {
		return nil
	}
	v.SetConfigFile(fileName)
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
			return nil
		}
		return fmt.Errorf("read %s: %w", fileName, err)
	}
	log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config file")
	return nil
}
