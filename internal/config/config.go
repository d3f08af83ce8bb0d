package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string
	Retention int
}

// ProbeConfig holds settings for the external probe binary.
type ProbeConfig struct {
	Binary    string
	WorkDir   string
	StopGrace time.Duration
}

// ScheduleConfig holds the periodic auto-run settings. An empty Cron
// disables the schedule.
type ScheduleConfig struct {
	Cron   string
	Config string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Probe        ProbeConfig
	Schedule     ScheduleConfig
	Notification NotificationConfig

	Mode          string
	Locale        string
	StateDir      string
	UseUTC        bool
	ShutdownGrace time.Duration
}

const (
	defaultAddr          = "127.0.0.1:7080"
	defaultLogLevel      = "info"
	defaultRunLogKeep    = 20
	defaultShutdownGrace = 5 * time.Second
	defaultStopGrace     = 5 * time.Second
	defaultBinary        = "CloudflareST"
	defaultMode          = "http"
	defaultLocale        = "en"
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

// Parse reads configuration for the daemon from os.Args.
func Parse() (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "autocdn", ".env"))
	}
	for _, path := range envFiles {
		_ = godotenv.Load(path) // optional
	}
	return ParseArgs(os.Args[1:])
}

// ParseArgs builds a Config from the environment and args.
// Priority: CLI flags > environment variables > defaults.
func ParseArgs(args []string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("AUTOCDN_ADDR", defaultAddr),
			AuthToken: getEnvString("AUTOCDN_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level:     getEnvString("AUTOCDN_LOG_LEVEL", defaultLogLevel),
			Retention: getEnvInt("AUTOCDN_LOG_RETENTION", defaultRunLogKeep),
		},
		Probe: ProbeConfig{
			Binary:    getEnvString("AUTOCDN_PROBE_BINARY", defaultBinary),
			WorkDir:   getEnvString("AUTOCDN_PROBE_WORKDIR", ""),
			StopGrace: getEnvDuration("AUTOCDN_PROBE_STOP_GRACE", defaultStopGrace),
		},
		Schedule: ScheduleConfig{
			Cron:   getEnvString("AUTOCDN_SCHEDULE", ""),
			Config: getEnvString("AUTOCDN_SCHEDULE_CONFIG", ""),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("AUTOCDN_BARK_URL", ""),
				Enabled: getEnvBool("AUTOCDN_BARK_ENABLED", false),
			},
		},
		Mode:          getEnvString("AUTOCDN_MODE", defaultMode),
		Locale:        getEnvString("AUTOCDN_LOCALE", defaultLocale),
		StateDir:      getEnvString("AUTOCDN_STATE_DIR", ""),
		UseUTC:        getEnvBool("AUTOCDN_USE_UTC", false),
		ShutdownGrace: getEnvDuration("AUTOCDN_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	fs := flag.NewFlagSet("autocdnd", flag.ContinueOnError)
	var addr, logLevel, stateDir, mode, locale, binary, workDir, schedule, scheduleConfig string
	var runLogKeep int
	var useUTC bool
	var shutdownGrace time.Duration

	fs.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	fs.StringVar(&stateDir, "state-dir", "", "Directory to store database and run logs")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&mode, "mode", "", "Serving mode: http, mcp or both")
	fs.StringVar(&locale, "locale", "", "Label language for the run projection (en, zh)")
	fs.StringVar(&binary, "probe-binary", "", "Path to the CloudflareST binary")
	fs.StringVar(&workDir, "probe-workdir", "", "Working directory for probe runs (IP files, results)")
	fs.StringVar(&schedule, "schedule", "", "Cron expression for periodic auto runs")
	fs.StringVar(&scheduleConfig, "schedule-config", "", "Config used by scheduled runs")
	fs.BoolVar(&useUTC, "use-utc", false, "Use UTC for cron evaluation instead of system local time")
	fs.IntVar(&runLogKeep, "run-log-keep", 0, "Number of recent run logs to retain")
	fs.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	setIf := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setIf(&cfg.Server.Addr, addr)
	setIf(&cfg.Log.Level, logLevel)
	setIf(&cfg.StateDir, stateDir)
	setIf(&cfg.Mode, mode)
	setIf(&cfg.Locale, locale)
	setIf(&cfg.Probe.Binary, binary)
	setIf(&cfg.Probe.WorkDir, workDir)
	setIf(&cfg.Schedule.Cron, schedule)
	setIf(&cfg.Schedule.Config, scheduleConfig)
	if runLogKeep > 0 {
		cfg.Log.Retention = runLogKeep
	}
	// For bool and duration flags, check if explicitly set via Visit
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "use-utc":
			cfg.UseUTC = useUTC
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch cfg.Mode {
	case "http", "mcp", "both":
	default:
		return nil, fmt.Errorf("invalid mode %q (want http, mcp or both)", cfg.Mode)
	}
	if cfg.Schedule.Cron != "" && strings.TrimSpace(cfg.Schedule.Config) == "" {
		return nil, fmt.Errorf("schedule %q needs a config name (AUTOCDN_SCHEDULE_CONFIG)", cfg.Schedule.Cron)
	}
	if cfg.Log.Retention < 1 {
		cfg.Log.Retention = defaultRunLogKeep
	}
	if cfg.Notification.Bark.URL == "" {
		cfg.Notification.Bark.Enabled = false
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

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "autocdn")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
