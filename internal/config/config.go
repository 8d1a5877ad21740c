package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
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
	URL string `mapstructure:"url"`
}

// JWTConfig carries only the verification secret. Token issuance lives in the
// identity service, not here.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// DefaultChatID receives PUBLIC posts that carry no per-post override.
	DefaultChatID string `mapstructure:"default_chat_id"`
	// APIBaseURL overrides the Bot API host, mainly for tests.
	APIBaseURL string `mapstructure:"api_base_url"`
	// SendRate/SendBurst throttle outbound messages (Bot API allows ~30/s).
	SendRate  float64 `mapstructure:"send_rate"`
	SendBurst int     `mapstructure:"send_burst"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// DefaultAddress receives PUBLIC email posts without an override.
	DefaultAddress string `mapstructure:"default_address"`
}

type DispatcherConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	RetryBatchSize int           `mapstructure:"retry_batch_size"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("telegram.send_rate", 25.0)
	viper.SetDefault("telegram.send_burst", 5)
	viper.SetDefault("dispatcher.batch_size", 50)
	viper.SetDefault("dispatcher.tick_interval", time.Minute)
	viper.SetDefault("dispatcher.retry_batch_size", 200)
	viper.SetDefault("dispatcher.retry_interval", time.Minute)
	viper.SetDefault("dispatcher.max_attempts", 5)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
