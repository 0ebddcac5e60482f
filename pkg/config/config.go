package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete rankwatch configuration
type Config struct {
	Sources  SourcesConfig  `mapstructure:"sources"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Output   OutputConfig   `mapstructure:"output"`
}

// SourcesConfig points at the source registry. An empty file selects the
// built-in registry.
type SourcesConfig struct {
	File string `mapstructure:"file"`
}

// SyncConfig contains run-wide sync settings
type SyncConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	RunDeadline        time.Duration `mapstructure:"run_deadline"`
	CorrectionLookback time.Duration `mapstructure:"correction_lookback"`
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
}

// StorageConfig contains storage configuration
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	BaseDir    string `mapstructure:"base_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// FetchConfig contains fetcher settings shared by all sources
type FetchConfig struct {
	UserAgent  string  `mapstructure:"user_agent"`
	Retries    int     `mapstructure:"retries"`
	RateLimit  float64 `mapstructure:"rate_limit"`
	Burst      int     `mapstructure:"burst"`
	Headless   bool    `mapstructure:"headless"`
	ChromePath string  `mapstructure:"chrome_path"`
}

// NotifyConfig contains report delivery configuration
type NotifyConfig struct {
	Console       bool        `mapstructure:"console"`
	ReportDir     string      `mapstructure:"report_dir"`
	WebhookURL    string      `mapstructure:"webhook_url"`
	WebhookFormat string      `mapstructure:"webhook_format"`
	OnlyOnChange  bool        `mapstructure:"only_on_change"`
	Email         EmailConfig `mapstructure:"email"`
}

// EmailConfig contains SMTP alert settings
type EmailConfig struct {
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// Enabled reports whether email alerts are configured
func (e EmailConfig) Enabled() bool {
	return e.SMTPHost != "" && e.From != "" && len(e.To) > 0
}

// ArchiveConfig contains the snapshot mirror target
type ArchiveConfig struct {
	URL string `mapstructure:"url"`
}

// ScheduleConfig contains the watch mode schedule
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// OutputConfig contains output formatting configuration
type OutputConfig struct {
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	baseDir := NewDefaultsManager().GetRecommendedBaseDir()
	return &Config{
		Sync: SyncConfig{
			Concurrency:        4,
			FetchTimeout:       60 * time.Second,
			CorrectionLookback: 30 * 24 * time.Hour,
			LockTimeout:        30 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "file",
			BaseDir: baseDir,
		},
		Fetch: FetchConfig{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			Retries:   2,
			RateLimit: 1,
			Burst:     1,
			Headless:  true,
		},
		Notify: NotifyConfig{
			Console:       true,
			WebhookFormat: "slack",
			OnlyOnChange:  true,
			Email: EmailConfig{
				SMTPPort: 587,
			},
		},
		Schedule: ScheduleConfig{
			Cron: "0 6 * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Output: OutputConfig{
			Format: "table",
		},
	}
}

// Load loads configuration from defaults, the config file, .env and the
// environment. cfgFile overrides the search path when set.
func Load(cfgFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := DefaultConfig()
	setDefaults(config)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".rankwatch"))
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.SetEnvPrefix("RANKWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Names used by the alerting scripts this tool replaces
	viper.BindEnv("notify.email.to", "RANKWATCH_NOTIFY_EMAIL_TO", "ALERT_EMAILS")
	viper.BindEnv("notify.email.from", "RANKWATCH_NOTIFY_EMAIL_FROM", "FROM_EMAIL")
	viper.BindEnv("notify.email.password", "RANKWATCH_NOTIFY_EMAIL_PASSWORD", "SMTP_PASSWORD")
	viper.BindEnv("notify.webhook_url", "RANKWATCH_NOTIFY_WEBHOOK_URL", "SLACK_WEBHOOK_URL")
	viper.BindEnv("logging.level", "RANKWATCH_LOGGING_LEVEL", "LOG_LEVEL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is not an error - we'll use defaults
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.ExpandPaths(); err != nil {
		return nil, err
	}

	return config, nil
}

// setDefaults registers every key with viper so environment overrides are
// seen by Unmarshal even when no config file sets them.
func setDefaults(c *Config) {
	viper.SetDefault("sources.file", c.Sources.File)
	viper.SetDefault("sync.concurrency", c.Sync.Concurrency)
	viper.SetDefault("sync.fetch_timeout", c.Sync.FetchTimeout)
	viper.SetDefault("sync.run_deadline", c.Sync.RunDeadline)
	viper.SetDefault("sync.correction_lookback", c.Sync.CorrectionLookback)
	viper.SetDefault("sync.lock_timeout", c.Sync.LockTimeout)
	viper.SetDefault("storage.backend", c.Storage.Backend)
	viper.SetDefault("storage.base_dir", c.Storage.BaseDir)
	viper.SetDefault("storage.sqlite_path", c.Storage.SQLitePath)
	viper.SetDefault("fetch.user_agent", c.Fetch.UserAgent)
	viper.SetDefault("fetch.retries", c.Fetch.Retries)
	viper.SetDefault("fetch.rate_limit", c.Fetch.RateLimit)
	viper.SetDefault("fetch.burst", c.Fetch.Burst)
	viper.SetDefault("fetch.headless", c.Fetch.Headless)
	viper.SetDefault("fetch.chrome_path", c.Fetch.ChromePath)
	viper.SetDefault("notify.console", c.Notify.Console)
	viper.SetDefault("notify.report_dir", c.Notify.ReportDir)
	viper.SetDefault("notify.webhook_url", c.Notify.WebhookURL)
	viper.SetDefault("notify.webhook_format", c.Notify.WebhookFormat)
	viper.SetDefault("notify.only_on_change", c.Notify.OnlyOnChange)
	viper.SetDefault("notify.email.smtp_host", c.Notify.Email.SMTPHost)
	viper.SetDefault("notify.email.smtp_port", c.Notify.Email.SMTPPort)
	viper.SetDefault("notify.email.username", c.Notify.Email.Username)
	viper.SetDefault("notify.email.from", c.Notify.Email.From)
	viper.SetDefault("notify.email.to", c.Notify.Email.To)
	viper.SetDefault("archive.url", c.Archive.URL)
	viper.SetDefault("schedule.cron", c.Schedule.Cron)
	viper.SetDefault("logging.level", c.Logging.Level)
	viper.SetDefault("logging.format", c.Logging.Format)
	viper.SetDefault("logging.file", c.Logging.File)
	viper.SetDefault("output.format", c.Output.Format)
	viper.SetDefault("output.no_color", c.Output.NoColor)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1")
	}
	if c.Sync.FetchTimeout <= 0 {
		return fmt.Errorf("sync.fetch_timeout must be positive")
	}
	if c.Sync.CorrectionLookback < 0 {
		return fmt.Errorf("sync.correction_lookback cannot be negative")
	}
	if c.Sync.LockTimeout < 0 {
		return fmt.Errorf("sync.lock_timeout cannot be negative")
	}

	switch c.Storage.Backend {
	case "file":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" && c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.sqlite_path or storage.base_dir is required")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want file or sqlite)", c.Storage.Backend)
	}

	if c.Fetch.Retries < 0 {
		return fmt.Errorf("fetch.retries cannot be negative")
	}
	if c.Fetch.RateLimit < 0 {
		return fmt.Errorf("fetch.rate_limit cannot be negative")
	}

	switch c.Notify.WebhookFormat {
	case "", "slack", "json":
	default:
		return fmt.Errorf("unknown notify.webhook_format %q (want slack or json)", c.Notify.WebhookFormat)
	}

	return nil
}

// SQLiteFile returns the sqlite database path, defaulting under base_dir
func (c *Config) SQLiteFile() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(c.Storage.BaseDir, "rankwatch.db")
}

// ReportsDir returns the run report directory, defaulting under base_dir
func (c *Config) ReportsDir() string {
	if c.Notify.ReportDir != "" {
		return c.Notify.ReportDir
	}
	return filepath.Join(c.Storage.BaseDir, "reports")
}

// ExpandPaths expands home directory paths
func (c *Config) ExpandPaths() error {
	var err error
	fields := []*string{
		&c.Sources.File,
		&c.Storage.BaseDir,
		&c.Storage.SQLitePath,
		&c.Notify.ReportDir,
		&c.Logging.File,
	}
	for _, p := range fields {
		*p, err = expandPath(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %s: %w", *p, err)
		}
	}
	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path, err
	}

	if len(path) == 1 {
		return home, nil
	}

	return filepath.Join(home, path[1:]), nil
}
