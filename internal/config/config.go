package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"groupe-e-consumption/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	API         APIConfig         `mapstructure:"api"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Statistics  StatisticsConfig  `mapstructure:"statistics"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// CredentialsConfig holds the portal account. Premise and partner IDs are
// optional; when both are set the identity lookup is skipped.
type CredentialsConfig struct {
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	PremiseID string `mapstructure:"premise_id"`
	PartnerID string `mapstructure:"partner_id"`
}

// APIConfig covers the Groupe E endpoints and client settings.
type APIConfig struct {
	TokenURL          string        `mapstructure:"token_url"`
	UserInfoURL       string        `mapstructure:"userinfo_url"`
	PremiseURL        string        `mapstructure:"premise_url"`
	MeasurementURL    string        `mapstructure:"measurement_url"`
	ClientID          string        `mapstructure:"client_id"`
	ClientSecret      string        `mapstructure:"client_secret"`
	Scopes            []string      `mapstructure:"scopes"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// SchedulerConfig governs the wall-clock refresh triggers. Times are HH:MM in
// Europe/Zurich.
type SchedulerConfig struct {
	DailyAt         string        `mapstructure:"daily_at"`
	MonthlyDay      int           `mapstructure:"monthly_day"`
	MonthlyAt       string        `mapstructure:"monthly_at"`
	QuarterHourlyAt string        `mapstructure:"quarter_hourly_at"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig points the state store at a redis instance. Empty Addr keeps
// state in memory only.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MetricsConfig controls the HTTP surface.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// StatisticsConfig names the hourly statistic imported from quarter-hourly data.
type StatisticsConfig struct {
	Source      string `mapstructure:"source"`
	StatisticID string `mapstructure:"statistic_id"`
	Name        string `mapstructure:"name"`
	Unit        string `mapstructure:"unit"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("GROUPEE")
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

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "groupe-e-consumption")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 28)

	// Credentials have no defaults; they are bound so env-only setups unmarshal.
	v.SetDefault("credentials.username", "")
	v.SetDefault("credentials.password", "")
	v.SetDefault("credentials.premise_id", "")
	v.SetDefault("credentials.partner_id", "")

	v.SetDefault("api.token_url", "https://login.my.groupe-e.ch/realms/my-groupe-e/protocol/openid-connect/token")
	v.SetDefault("api.userinfo_url", "https://login.my.groupe-e.ch/realms/my-groupe-e/protocol/openid-connect/userinfo")
	v.SetDefault("api.premise_url", "https://my.groupe-e.ch/api/private/PremiseSet?$filter=IsValidForHistory%20eq%20true")
	v.SetDefault("api.measurement_url", "https://my.groupe-e.ch/api/smartmeter-data")
	v.SetDefault("api.client_id", "portal")
	v.SetDefault("api.client_secret", "7EpnoktF0wOR5gwZPxPR2w7__p_rinCT4pcHywFFve0")
	v.SetDefault("api.scopes", []string{"openid", "email", "impersonate", "portal"})
	v.SetDefault("api.request_timeout", "10s")
	v.SetDefault("api.user_agent", "groupe-e-consumption/1.0")
	v.SetDefault("api.requests_per_second", 2.0)
	v.SetDefault("api.burst", 4)

	v.SetDefault("scheduler.daily_at", "03:00")
	v.SetDefault("scheduler.monthly_day", 1)
	v.SetDefault("scheduler.monthly_at", "03:00")
	v.SetDefault("scheduler.quarter_hourly_at", "03:15")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x67726545))

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "groupe_e_consumption")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9464")

	v.SetDefault("statistics.source", "groupe_e_consumption")
	v.SetDefault("statistics.statistic_id", "groupe_e_consumption:quarter_hourly_energy_consumption")
	v.SetDefault("statistics.name", "Quarter-Hourly Energy Consumption")
	v.SetDefault("statistics.unit", "kWh")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
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
	if strings.TrimSpace(c.Credentials.Username) == "" {
		return fmt.Errorf("credentials.username is required")
	}
	if c.Credentials.Password == "" {
		return fmt.Errorf("credentials.password is required")
	}
	if (c.Credentials.PremiseID == "") != (c.Credentials.PartnerID == "") {
		return fmt.Errorf("credentials.premise_id and credentials.partner_id must be set together")
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be greater than zero")
	}
	for key, value := range map[string]string{
		"scheduler.daily_at":          c.Scheduler.DailyAt,
		"scheduler.monthly_at":        c.Scheduler.MonthlyAt,
		"scheduler.quarter_hourly_at": c.Scheduler.QuarterHourlyAt,
	} {
		if _, _, err := ParseClock(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if c.Scheduler.MonthlyDay < 1 || c.Scheduler.MonthlyDay > 28 {
		return fmt.Errorf("scheduler.monthly_day must be between 1 and 28")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ParseClock parses an HH:MM wall-clock time.
func ParseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", value)
	}
	return t.Hour(), t.Minute(), nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
