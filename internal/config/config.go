package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const EnvPrefix = "TASK_SCHEDULER"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Security  SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Addr     string        `mapstructure:"addr"`
	GRPCAddr string        `mapstructure:"grpc_addr"`
	ExitWait time.Duration `mapstructure:"exit_wait"`
}

type DatabaseConfig struct {
	Type          string        `mapstructure:"type"` // sqlite, mysql or postgres
	DSN           string        `mapstructure:"dsn"`
	LogLevel      string        `mapstructure:"log_level"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// SchedulerConfig controls the task lifecycle loop. Timezone is the single
// reference zone used to combine a task's date and time-of-day fields.
type SchedulerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	Timezone       string        `mapstructure:"timezone"`
	ReminderWindow time.Duration `mapstructure:"reminder_window"`
	Concurrency    int           `mapstructure:"concurrency"`
}

// Location resolves Timezone. Load already validated it.
func (s SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// KafkaConfig covers both directions: Topic receives notification events,
// SubmissionTopic is consumed for submissions made elsewhere in the portal.
type KafkaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	SubmissionTopic string        `mapstructure:"submission_topic"`
	GroupID         string        `mapstructure:"group_id"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Encoding   string `mapstructure:"encoding"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.exit_wait", 5*time.Second)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "gorm.db")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", time.Second)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.reminder_window", time.Hour)
	v.SetDefault("scheduler.concurrency", 1)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "task_notifications")
	v.SetDefault("kafka.write_timeout", 10*time.Second)
	v.SetDefault("kafka.submission_topic", "task_submissions")
	v.SetDefault("kafka.group_id", "task-scheduler-submissions")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.max_size_mb", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 28)

	v.SetDefault("security.encryption_key", "")
}

// Load reads the optional config file at path and overlays environment
// variables such as TASK_SCHEDULER_DATABASE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Scheduler.ReminderWindow <= 0 {
		return fmt.Errorf("scheduler.reminder_window must be positive, got %s", c.Scheduler.ReminderWindow)
	}
	if c.Scheduler.Concurrency < 1 {
		c.Scheduler.Concurrency = 1
	}
	switch c.Database.Type {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.enabled requires at least one broker")
	}
	return nil
}
