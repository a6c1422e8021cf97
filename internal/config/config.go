package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"finopstrack/internal/core"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// ScheduleConfig holds sweep cadences and alert windows.
type ScheduleConfig struct {
	Timezone            string
	Location            *time.Location
	SLACron             string
	ResetCron           string
	OverdueCooldown     time.Duration
	LongRunningAfter    time.Duration
	LongRunningCooldown time.Duration
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// SMTPConfig holds mail relay settings. Email is disabled when Host is empty.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Timeout       time.Duration
	DirectoryFile string
	Bark          BarkConfig
	SMTP          SMTPConfig
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Schedule     ScheduleConfig
	Notification NotificationConfig

	StateDir      string
	RedisAddr     string
	ShutdownGrace time.Duration
}

const (
	defaultAddr                = "0.0.0.0:7080"
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
	defaultTimezone            = "Asia/Kolkata"
	defaultSLACron             = "* * * * *"
	defaultResetCron           = "*/5 * * * *"
	defaultOverdueCooldown     = 30 * time.Minute
	defaultLongRunningAfter    = 2 * time.Hour
	defaultLongRunningCooldown = 60 * time.Minute
	defaultNotifyTimeout       = 10 * time.Second
	defaultSMTPPort            = 587
	defaultShutdownGrace       = 5 * time.Second
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// RegisterFlags adds the flags that may override environment settings.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("addr", "", "HTTP listen address (overrides FINOPS_ADDR)")
	flags.String("state-dir", "", "Directory holding the SQLite database")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")
	flags.String("timezone", "", "IANA zone used for due times and day boundaries")
	flags.String("directory", "", "YAML file mapping people to email addresses")
	flags.String("redis-addr", "", "Redis address for the shared sweep lease")
	flags.Duration("shutdown-grace", 0, "Grace period when shutting down")
}

// Parse reads configuration. Priority: flags > environment variables > .env file > defaults.
// flags may be nil.
func Parse(flags *pflag.FlagSet) (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "finopsd", ".env"))
	}
	for _, file := range envFiles {
		// Missing files are fine; Load never overrides variables already set.
		_ = godotenv.Load(file)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("FINOPS_ADDR", defaultAddr),
			AuthToken: getEnvString("FINOPS_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnvString("FINOPS_LOG_LEVEL", defaultLogLevel),
			Format: getEnvString("FINOPS_LOG_FORMAT", defaultLogFormat),
		},
		Schedule: ScheduleConfig{
			Timezone:            getEnvString("FINOPS_TIMEZONE", defaultTimezone),
			SLACron:             getEnvString("FINOPS_SLA_CRON", defaultSLACron),
			ResetCron:           getEnvString("FINOPS_RESET_CRON", defaultResetCron),
			OverdueCooldown:     getEnvDuration("FINOPS_OVERDUE_COOLDOWN", defaultOverdueCooldown),
			LongRunningAfter:    getEnvDuration("FINOPS_LONG_RUNNING_AFTER", defaultLongRunningAfter),
			LongRunningCooldown: getEnvDuration("FINOPS_LONG_RUNNING_COOLDOWN", defaultLongRunningCooldown),
		},
		Notification: NotificationConfig{
			Timeout:       getEnvDuration("FINOPS_NOTIFY_TIMEOUT", defaultNotifyTimeout),
			DirectoryFile: getEnvString("FINOPS_DIRECTORY_FILE", ""),
			Bark: BarkConfig{
				URL:     getEnvString("FINOPS_BARK_URL", ""),
				Enabled: getEnvBool("FINOPS_BARK_ENABLED", false),
			},
			SMTP: SMTPConfig{
				Host:     getEnvString("FINOPS_SMTP_HOST", ""),
				Port:     getEnvInt("FINOPS_SMTP_PORT", defaultSMTPPort),
				Username: getEnvString("FINOPS_SMTP_USER", ""),
				Password: getEnvString("FINOPS_SMTP_PASSWORD", ""),
				From:     getEnvString("FINOPS_SMTP_FROM", ""),
			},
		},
		StateDir:      getEnvString("FINOPS_STATE_DIR", ""),
		RedisAddr:     getEnvString("FINOPS_REDIS_ADDR", ""),
		ShutdownGrace: getEnvDuration("FINOPS_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	if flags != nil {
		applyString(flags, "addr", &cfg.Server.Addr)
		applyString(flags, "state-dir", &cfg.StateDir)
		applyString(flags, "log-level", &cfg.Log.Level)
		applyString(flags, "log-format", &cfg.Log.Format)
		applyString(flags, "timezone", &cfg.Schedule.Timezone)
		applyString(flags, "directory", &cfg.Notification.DirectoryFile)
		applyString(flags, "redis-addr", &cfg.RedisAddr)
		if flags.Changed("shutdown-grace") {
			if d, err := flags.GetDuration("shutdown-grace"); err == nil {
				cfg.ShutdownGrace = d
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	return cfg, nil
}

func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Schedule.Timezone, err)
	}
	c.Schedule.Location = loc

	if _, err := core.ParseSweepCron(core.JobSLASweep, c.Schedule.SLACron); err != nil {
		return fmt.Errorf("FINOPS_SLA_CRON: %w", err)
	}
	if _, err := core.ParseSweepCron(core.JobDailyReset, c.Schedule.ResetCron); err != nil {
		return fmt.Errorf("FINOPS_RESET_CRON: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if c.Schedule.OverdueCooldown <= 0 {
		c.Schedule.OverdueCooldown = defaultOverdueCooldown
	}
	if c.Schedule.LongRunningAfter <= 0 {
		c.Schedule.LongRunningAfter = defaultLongRunningAfter
	}
	if c.Schedule.LongRunningCooldown <= 0 {
		c.Schedule.LongRunningCooldown = defaultLongRunningCooldown
	}
	if c.Notification.Timeout <= 0 {
		c.Notification.Timeout = defaultNotifyTimeout
	}
	if c.Notification.Bark.Enabled && strings.TrimSpace(c.Notification.Bark.URL) == "" {
		return fmt.Errorf("FINOPS_BARK_ENABLED is set but FINOPS_BARK_URL is empty")
	}
	if c.Notification.SMTP.Host != "" && c.Notification.SMTP.From == "" {
		return fmt.Errorf("FINOPS_SMTP_FROM is required when FINOPS_SMTP_HOST is set")
	}
	return nil
}

func applyString(flags *pflag.FlagSet, name string, target *string) {
	if !flags.Changed(name) {
		return
	}
	if v, err := flags.GetString(name); err == nil && v != "" {
		*target = v
	}
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "finopsd")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
