package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"metric-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Source    SourceConfig    `mapstructure:"source"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Chart     ChartConfig     `mapstructure:"chart"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Timezone    string `mapstructure:"timezone"`
}

// SourceConfig describes the analytical database the metrics are aggregated from.
type SourceConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	Queries         []QueryConfig `mapstructure:"queries"`
}

// QueryConfig is one named aggregation query.
type QueryConfig struct {
	Name string `mapstructure:"name"`
	SQL  string `mapstructure:"sql"`
}

// DetectorConfig governs the deviation check and the bucket grid it relies on.
type DetectorConfig struct {
	Threshold    float64       `mapstructure:"threshold"`
	Metrics      []string      `mapstructure:"metrics"`
	GridInterval time.Duration `mapstructure:"grid_interval"`
	DayOffset    time.Duration `mapstructure:"day_offset"`
	WeekOffset   time.Duration `mapstructure:"week_offset"`
}

// SchedulerConfig governs the built-in run loop.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Retries         int           `mapstructure:"retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	DashboardURL string         `mapstructure:"dashboard_url"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ChartConfig sets the rendered image size.
type ChartConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// MetricsConfig configures the optional Pushgateway export of run metrics.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("METRICALERTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv exports variables from an optional .env file without overriding
// variables already set in the process environment.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "metric-alerts")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "UTC")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)

	v.SetDefault("source.driver", "postgres")
	v.SetDefault("source.dsn", "")
	v.SetDefault("source.max_open_conns", 4)
	v.SetDefault("source.max_idle_conns", 1)
	v.SetDefault("source.conn_max_lifetime", "30m")
	v.SetDefault("source.query_timeout", "60s")

	v.SetDefault("detector.threshold", 0.25)
	v.SetDefault("detector.metrics", []string{"dau_feed", "dau_messages", "views", "likes", "ctr", "messages"})
	v.SetDefault("detector.grid_interval", "15m")
	v.SetDefault("detector.day_offset", "24h")
	v.SetDefault("detector.week_offset", "168h")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6d616c72))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.retries", 1)
	v.SetDefault("scheduler.retry_delay", "5m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.dashboard_url", "")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("chart.width", 1600)
	v.SetDefault("chart.height", 1000)

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "metric_alerts")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Source.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("source.driver must be postgres or sqlite, got %q", c.Source.Driver)
	}
	for i, q := range c.Source.Queries {
		if strings.TrimSpace(q.Name) == "" || strings.TrimSpace(q.SQL) == "" {
			return fmt.Errorf("source.queries[%d] requires name and sql", i)
		}
	}

	if c.Detector.Threshold < 0 {
		return fmt.Errorf("detector.threshold cannot be negative")
	}
	if len(c.Detector.Metrics) == 0 {
		return fmt.Errorf("detector.metrics must list at least one metric")
	}
	grid := c.Detector.GridInterval
	if grid <= 0 {
		return fmt.Errorf("detector.grid_interval must be greater than zero")
	}
	if c.Detector.DayOffset <= 0 || c.Detector.DayOffset%grid != 0 {
		return fmt.Errorf("detector.day_offset must be a positive multiple of grid_interval (%s)", grid)
	}
	if c.Detector.WeekOffset <= 0 || c.Detector.WeekOffset%grid != 0 {
		return fmt.Errorf("detector.week_offset must be a positive multiple of grid_interval (%s)", grid)
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Interval != grid {
		return fmt.Errorf("scheduler.interval (%s) must equal detector.grid_interval (%s)", c.Scheduler.Interval, grid)
	}
	if c.Scheduler.Retries < 0 {
		return fmt.Errorf("scheduler.retries cannot be negative")
	}

	if c.Chart.Width <= 0 || c.Chart.Height <= 0 {
		return fmt.Errorf("chart.width and chart.height must be greater than zero")
	}

	if c.Alerting.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// Location resolves app.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app.timezone: %w", err)
	}
	return loc, nil
}
