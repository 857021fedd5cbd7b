package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Dispatch DispatchConfig
	Push     PushConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// DispatchConfig tunes the scan-and-dispatch cycle.
type DispatchConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PoolSize          int           `mapstructure:"pool_size"`
	DeliveryTimeout   time.Duration `mapstructure:"delivery_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	SendingLease      time.Duration `mapstructure:"sending_lease"`
	RecordConcurrency int           `mapstructure:"record_concurrency"`
	RateLimit         float64       `mapstructure:"rate_limit"`
	RateBurst         int           `mapstructure:"rate_burst"`
}

// PushConfig describes the template-message transport.
type PushConfig struct {
	Channel    string `mapstructure:"channel"`
	TemplateID string `mapstructure:"template_id"`
	TopColor   string `mapstructure:"top_color"`
	BaseURL    string `mapstructure:"base_url"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine: defaults plus env cover every knob.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeoutSeconds", 30)

	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)

	viper.SetDefault("dispatch.poll_interval", time.Minute)
	viper.SetDefault("dispatch.pool_size", 10)
	viper.SetDefault("dispatch.delivery_timeout", 60*time.Second)
	viper.SetDefault("dispatch.max_retries", 5)
	viper.SetDefault("dispatch.sending_lease", 5*time.Minute)
	viper.SetDefault("dispatch.record_concurrency", 4)
	viper.SetDefault("dispatch.rate_limit", 50)
	viper.SetDefault("dispatch.rate_burst", 10)

	viper.SetDefault("push.channel", "remind.notifications")
	viper.SetDefault("push.template_id", "IxUSVxfmI85P3LJciVVcUZk24uK6zNvZXYkeJrCm_48")
	viper.SetDefault("push.top_color", "#459ae9")
	viper.SetDefault("push.base_url", "http://www.weixin.at")
}
