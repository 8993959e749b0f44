package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/school-liquidation/pkg/utils"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Lark          LarkConfig          `mapstructure:"lark"`
	Storage       StorageConfig       `mapstructure:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig selects the entity store
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// SchedulerConfig tunes the reminder worker and the daily tick
type SchedulerConfig struct {
	ReminderPollInterval time.Duration `mapstructure:"reminder_poll_interval"`
	DailyTickInterval    time.Duration `mapstructure:"daily_tick_interval"`
	NotifyMaxRetries     int           `mapstructure:"notify_max_retries"`
	NotifyInitialBackoff time.Duration `mapstructure:"notify_initial_backoff"`
	ClaimLease           time.Duration `mapstructure:"claim_lease"`
	BatchSize            int           `mapstructure:"batch_size"`
	Concurrency          int           `mapstructure:"concurrency"`
	Timezone             string        `mapstructure:"timezone"`
}

// RecipientConfig is one static notification addressee
type RecipientConfig struct {
	Name       string `mapstructure:"name"`
	Email      string `mapstructure:"email"`
	LarkOpenID string `mapstructure:"lark_open_id"`
}

// NotificationsConfig holds the delivery channel and the static audiences
type NotificationsConfig struct {
	Channel    string            `mapstructure:"channel"` // log or lark
	Operations []RecipientConfig `mapstructure:"operations"`
	Legal      []RecipientConfig `mapstructure:"legal"`
	Management []RecipientConfig `mapstructure:"management"`
}

// LarkConfig holds Lark API credentials
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
}

// StorageConfig holds the generated file location
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// Load reads envFiles (default ".env") into the environment if present, then the
// YAML file at configPath if given, then environment overrides.
func Load(configPath string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := gotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/liquidation.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("scheduler.reminder_poll_interval", time.Minute)
	v.SetDefault("scheduler.daily_tick_interval", time.Hour)
	v.SetDefault("scheduler.notify_max_retries", 3)
	v.SetDefault("scheduler.notify_initial_backoff", 500*time.Millisecond)
	v.SetDefault("scheduler.claim_lease", 10*time.Minute)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.timezone", "Asia/Manila")

	v.SetDefault("notifications.channel", "log")

	v.SetDefault("lark.app_id", "")
	v.SetDefault("lark.app_secret", "")

	v.SetDefault("storage.output_dir", "generated")
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("scheduler.timezone", "DIVISION_TIMEZONE")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Scheduler.ReminderPollInterval <= 0 || c.Scheduler.DailyTickInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	if c.Scheduler.ClaimLease <= 0 {
		return fmt.Errorf("scheduler.claim_lease must be positive")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}

	switch c.Notifications.Channel {
	case "log":
	case "lark":
		if c.Lark.AppID == "" || c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_id and lark.app_secret are required for the lark channel")
		}
	default:
		return fmt.Errorf("notifications.channel must be log or lark, got %q", c.Notifications.Channel)
	}

	audiences := map[string][]RecipientConfig{
		"operations": c.Notifications.Operations,
		"legal":      c.Notifications.Legal,
		"management": c.Notifications.Management,
	}
	for name, list := range audiences {
		for i, r := range list {
			if r.Email == "" && r.LarkOpenID == "" {
				return fmt.Errorf("notifications.%s[%d] needs an email or lark_open_id", name, i)
			}
			if r.Email != "" {
				if err := utils.ValidateEmail(r.Email); err != nil {
					return fmt.Errorf("notifications.%s[%d]: %w", name, i, err)
				}
			}
		}
	}
	return nil
}
