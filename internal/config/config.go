package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/repository/postgres"
	"github.com/jwalitptl/notify-api/pkg/messaging/redis"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	SMTP          SMTPConfig          `mapstructure:"smtp"`
	Dispatcher    DispatcherConfig    `mapstructure:"dispatcher"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Self-protection limit for the HTTP surface, distinct from the
	// domain rate limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
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

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type DispatcherConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BaseRetryDelay  time.Duration `mapstructure:"base_retry_delay"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	ClaimLease      time.Duration `mapstructure:"claim_lease"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type RuleConfig struct {
	Action               string `mapstructure:"action"`
	RequestsPerWindow    int    `mapstructure:"requests_per_window"`
	WindowSeconds        int    `mapstructure:"window_seconds"`
	BlockDurationSeconds int    `mapstructure:"block_duration_seconds"`
}

type RateLimitConfig struct {
	Rules []RuleConfig `mapstructure:"rules"`
}

type TypeConfig struct {
	Name                  string   `mapstructure:"name"`
	Channels              []string `mapstructure:"channels"`
	Priority              string   `mapstructure:"priority"`
	ThrottleWindowMinutes int      `mapstructure:"throttle_window_minutes"`
	TemplateSubject       string   `mapstructure:"template_subject"`
	TemplateBody          string   `mapstructure:"template_body"`
	MaxRetries            int      `mapstructure:"max_retries"`
}

type NotificationsConfig struct {
	Types []TypeConfig `mapstructure:"types"`
}

// envOverrides lets deployments inject secrets without editing the config
// file. Processed under the NOTIFY_ prefix, e.g. NOTIFY_DB_PASSWORD.
type envOverrides struct {
	DBHost       string `envconfig:"DB_HOST"`
	DBPassword   string `envconfig:"DB_PASSWORD"`
	RedisURL     string `envconfig:"REDIS_URL"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("notify", &env); err != nil {
		return nil, fmt.Errorf("failed to process env overrides: %w", err)
	}
	if env.DBHost != "" {
		config.Database.Host = env.DBHost
	}
	if env.DBPassword != "" {
		config.Database.Password = env.DBPassword
	}
	if env.RedisURL != "" {
		config.Redis.URL = env.RedisURL
	}
	if env.SMTPPassword != "" {
		config.SMTP.Password = env.SMTPPassword
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.requests_per_second", 100.0)
	viper.SetDefault("server.burst", 200)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("dispatcher.batch_size", 100)
	viper.SetDefault("dispatcher.poll_interval", "5s")
	viper.SetDefault("dispatcher.max_retries", 3)
	viper.SetDefault("dispatcher.base_retry_delay", "30s")
	viper.SetDefault("dispatcher.send_timeout", "10s")
	viper.SetDefault("dispatcher.claim_lease", "5m")
	viper.SetDefault("dispatcher.retention", "720h")
	viper.SetDefault("dispatcher.cleanup_interval", "10m")
}

func (c *DatabaseConfig) ToPostgresConfig() postgres.Config {
	return postgres.Config{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Name:     c.Name,
		SSLMode:  c.SSLMode,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

// ToRules converts the configured rule list into model form.
func (c *RateLimitConfig) ToRules() []model.RateLimitRule {
	rules := make([]model.RateLimitRule, 0, len(c.Rules))
	for _, r := range c.Rules {
		rules = append(rules, model.RateLimitRule{
			Action:               r.Action,
			RequestsPerWindow:    r.RequestsPerWindow,
			WindowSeconds:        r.WindowSeconds,
			BlockDurationSeconds: r.BlockDurationSeconds,
		})
	}
	return rules
}

// ToTypes converts the configured notification types into model form.
func (c *NotificationsConfig) ToTypes() []model.NotificationType {
	types := make([]model.NotificationType, 0, len(c.Types))
	for _, t := range c.Types {
		types = append(types, model.NotificationType{
			Name:                  t.Name,
			Channels:              t.Channels,
			Priority:              model.Priority(t.Priority),
			ThrottleWindowMinutes: t.ThrottleWindowMinutes,
			TemplateSubject:       t.TemplateSubject,
			TemplateBody:          t.TemplateBody,
			MaxRetries:            t.MaxRetries,
		})
	}
	return types
}
