package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env  string `mapstructure:"env"`
	Port int    `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type RedisConfig struct {
	Addr               string `mapstructure:"addr"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	Prefix             string `mapstructure:"prefix"`
	// Keys of connected users are re-extended every half TTL while the process runs.
	PresenceTTLSeconds int    `mapstructure:"presence_ttl_seconds"`
	QueueSize          int    `mapstructure:"queue_size"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicActivity string   `mapstructure:"topic_activity"`
	QueueSize     int      `mapstructure:"queue_size"`
}

type JWTConfig struct {
	Algorithm     string `mapstructure:"algorithm"`
	HSSecret      string `mapstructure:"hs_secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	PongWaitSeconds      int   `mapstructure:"pong_wait_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	SendBuffer           int   `mapstructure:"send_buffer"`
	HubQueueSize         int   `mapstructure:"hub_queue_size"`
	RateLimitPerSec      int   `mapstructure:"rate_limit_per_sec"`
}

type Config struct {
	App   AppConfig   `mapstructure:"app"`
	Log   LogConfig   `mapstructure:"log"`
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
	JWT   JWTConfig   `mapstructure:"jwt"`
	WS    WSConfig    `mapstructure:"ws"`

	// derived
	PingInterval  time.Duration `mapstructure:"-"`
	PongWait      time.Duration `mapstructure:"-"`
	WriteDeadline time.Duration `mapstructure:"-"`
	PresenceTTL   time.Duration `mapstructure:"-"`
}

var defaults = map[string]any{
	"app.env":                    "production",
	"app.port":                   8086,
	"log.level":                  "info",
	"redis.addr":                 "",
	"redis.password":             "",
	"redis.db":                   0,
	"redis.prefix":               "ws",
	"redis.presence_ttl_seconds": 86400,
	"redis.queue_size":           1024,
	"kafka.brokers":              []string{},
	"kafka.topic_activity":       "realtime.activity",
	"kafka.queue_size":           1024,
	"jwt.algorithm":              "HS256",
	"jwt.hs_secret":              "",
	"jwt.public_key_path":        "",
	"ws.ping_interval_seconds":   25,
	"ws.pong_wait_seconds":       60,
	"ws.write_deadline_seconds":  10,
	"ws.max_message_size_bytes":  65536,
	"ws.send_buffer":             256,
	"ws.hub_queue_size":          1024,
	"ws.rate_limit_per_sec":      0,
}

// Load reads .env (if present), the optional config file at path and the environment.
// Environment keys are the upper-cased config keys with dots replaced by underscores,
// e.g. APP_PORT or REDIS_ADDR.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.derive()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) derive() {
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.PongWait = time.Duration(c.WS.PongWaitSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.PresenceTTL = time.Duration(c.Redis.PresenceTTLSeconds) * time.Second
	c.JWT.Algorithm = strings.ToUpper(strings.TrimSpace(c.JWT.Algorithm))
	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
}

func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("invalid app.port: %d", c.App.Port)
	}
	if c.Redis.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Redis.Addr); err != nil {
			return fmt.Errorf("invalid redis.addr %q (must be host:port)", c.Redis.Addr)
		}
	}
	if c.PingInterval <= 0 || c.WriteDeadline <= 0 {
		return fmt.Errorf("ws intervals must be positive")
	}
	if c.PongWait <= c.PingInterval {
		return fmt.Errorf("ws.pong_wait_seconds (%d) must exceed ws.ping_interval_seconds (%d)",
			c.WS.PongWaitSeconds, c.WS.PingIntervalSeconds)
	}
	if c.WS.MaxMessageSizeBytes <= 0 {
		return fmt.Errorf("invalid ws.max_message_size_bytes: %d", c.WS.MaxMessageSizeBytes)
	}
	if c.WS.SendBuffer <= 0 {
		return fmt.Errorf("invalid ws.send_buffer: %d", c.WS.SendBuffer)
	}
	if c.WS.HubQueueSize <= 0 {
		return fmt.Errorf("invalid ws.hub_queue_size: %d", c.WS.HubQueueSize)
	}
	if c.WS.RateLimitPerSec < 0 {
		return fmt.Errorf("invalid ws.rate_limit_per_sec: %d", c.WS.RateLimitPerSec)
	}
	switch c.JWT.Algorithm {
	case "HS256", "RS256":
	default:
		return fmt.Errorf("unsupported jwt.algorithm %q", c.JWT.Algorithm)
	}
	return nil
}

func (c *Config) PortString() string {
	return fmt.Sprintf("%d", c.App.Port)
}

func (c *Config) Development() bool {
	return c.App.Env == "development" || c.App.Env == "dev"
}

func (c *Config) PresenceEnabled() bool { return c.Redis.Addr != "" }
func (c *Config) ActivityEnabled() bool { return len(c.Kafka.Brokers) > 0 }

func (c *Config) AuthEnabled() bool {
	if c.JWT.Algorithm == "RS256" {
		return c.JWT.PublicKeyPath != ""
	}
	return c.JWT.HSSecret != ""
}
