package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// EnvConfigPath names the settings file when no path is given to Load
const EnvConfigPath = "MONITOR_CONFIG"

// Config holds all configuration for monitorframe
type Config struct {
	Data          StoreConfig
	Results       StoreConfig
	Log           LogConfig
	Output        OutputConfig
	Notifications NotificationsConfig
	Scheduler     SchedulerConfig
	Monitoring    MonitoringConfig

	// File is the settings file that was read, empty when running on defaults
	File string
}

// StoreConfig is a db_settings block. An empty Path disables persistence.
type StoreConfig struct {
	Driver string
	Path   string
	Flags  map[string]string
}

type LogConfig struct {
	Level  string
	Format string
}

type OutputConfig struct {
	Backend   string
	LocalPath string
	// S3/MinIO configuration
	S3Bucket           string
	S3Region           string
	S3Endpoint         string // Custom endpoint for MinIO (e.g., "localhost:9000")
	S3AccessKey        string // AWS access key (or use AWS_ACCESS_KEY_ID env var)
	S3SecretKey        string // AWS secret key (or use AWS_SECRET_ACCESS_KEY env var)
	S3UseSSL           bool
	S3PathStyle        bool // Use path-style addressing (required for MinIO)
	S3Prefix           string
	S3MultipartMinSize int64
}

type NotificationsConfig struct {
	Active       bool
	Username     string
	Recipients   []string
	PerMonitor   []string // "Monitor:addr1,addr2"
	SMTPHost     string
	SMTPPort     int
	SenderDomain string
	TimeoutSecs  int
	MaxFailures  int // consecutive SMTP failures before sends pause
	CooldownSecs int
}

type SchedulerConfig struct {
	Enabled  bool
	Schedule string // cron, 5 fields
}

type MonitoringConfig struct {
	SourceDir string
	Workers   int
	CachePath string // directory holding the discovery cache; empty disables caching
}

// Load reads the settings file at path (or $MONITOR_CONFIG, or monitorframe.yaml
// in the usual places) and applies MONITOR_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("monitorframe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/monitorframe/")
		v.AddConfigPath("$HOME/.monitorframe/")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	multipart, err := ParseSize(v.GetString("output.s3_multipart_min_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid output.s3_multipart_min_size: %w", err)
	}

	cfg := &Config{
		Data:    storeConfig(v, "data"),
		Results: storeConfig(v, "results"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Output: OutputConfig{
			Backend:            v.GetString("output.backend"),
			LocalPath:          v.GetString("output.local_path"),
			S3Bucket:           v.GetString("output.s3_bucket"),
			S3Region:           v.GetString("output.s3_region"),
			S3Endpoint:         v.GetString("output.s3_endpoint"),
			S3AccessKey:        v.GetString("output.s3_access_key"),
			S3SecretKey:        v.GetString("output.s3_secret_key"),
			S3UseSSL:           v.GetBool("output.s3_use_ssl"),
			S3PathStyle:        v.GetBool("output.s3_path_style"),
			S3Prefix:           v.GetString("output.s3_prefix"),
			S3MultipartMinSize: multipart,
		},
		Notifications: NotificationsConfig{
			Active:       v.GetBool("notifications.active"),
			Username:     v.GetString("notifications.username"),
			Recipients:   v.GetStringSlice("notifications.recipients"),
			PerMonitor:   v.GetStringSlice("notifications.monitor_recipients"),
			SMTPHost:     v.GetString("notifications.smtp_host"),
			SMTPPort:     v.GetInt("notifications.smtp_port"),
			SenderDomain: v.GetString("notifications.sender_domain"),
			TimeoutSecs:  v.GetInt("notifications.timeout_seconds"),
			MaxFailures:  v.GetInt("notifications.max_failures"),
			CooldownSecs: v.GetInt("notifications.cooldown_seconds"),
		},
		Scheduler: SchedulerConfig{
			Enabled:  v.GetBool("scheduler.enabled"),
			Schedule: v.GetString("scheduler.schedule"),
		},
		Monitoring: MonitoringConfig{
			SourceDir: v.GetString("monitoring.source_dir"),
			Workers:   v.GetInt("monitoring.workers"),
			CachePath: v.GetString("monitoring.cache_path"),
		},
		File: v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func storeConfig(v *viper.Viper, section string) StoreConfig {
	prefix := section + ".db_settings."
	return StoreConfig{
		Driver: v.GetString(prefix + "driver"),
		Path:   v.GetString(prefix + "path"),
		Flags:  v.GetStringMapString(prefix + "flags"),
	}
}

func setDefaults(v *viper.Viper) {
	// Persistence defaults - empty path keeps the store disabled
	v.SetDefault("data.db_settings.driver", "sqlite3")
	v.SetDefault("data.db_settings.path", "")
	v.SetDefault("results.db_settings.driver", "sqlite3")
	v.SetDefault("results.db_settings.path", "")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Output defaults
	v.SetDefault("output.backend", "local")
	v.SetDefault("output.local_path", ".")
	v.SetDefault("output.s3_region", "us-east-1")
	v.SetDefault("output.s3_use_ssl", true)
	v.SetDefault("output.s3_path_style", false) // Use virtual-hosted style by default (set true for MinIO)
	v.SetDefault("output.s3_multipart_min_size", "32MB")

	// Notification defaults
	v.SetDefault("notifications.active", false)
	v.SetDefault("notifications.username", currentUser())
	v.SetDefault("notifications.recipients", []string{})
	v.SetDefault("notifications.monitor_recipients", []string{})
	v.SetDefault("notifications.smtp_host", "smtp.stsci.edu")
	v.SetDefault("notifications.smtp_port", 25)
	v.SetDefault("notifications.sender_domain", "stsci.edu")
	v.SetDefault("notifications.timeout_seconds", 30)
	v.SetDefault("notifications.max_failures", 3)
	v.SetDefault("notifications.cooldown_seconds", 300)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.schedule", "0 6 * * *") // 6am daily

	// Monitoring defaults
	v.SetDefault("monitoring.source_dir", "/grp/hst/cos2/cosmo")
	v.SetDefault("monitoring.workers", getDefaultWorkers())
	v.SetDefault("monitoring.cache_path", "")
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}

func getDefaultWorkers() int {
	// Header reads are I/O bound; 2x cores keeps the disks busy
	workers := runtime.NumCPU() * 2
	if workers < 4 {
		return 4
	}
	if workers > 64 {
		return 64
	}
	return workers
}

// Validate checks values that would otherwise fail deep inside a run
func (cfg *Config) Validate() error {
	for name, s := range map[string]StoreConfig{"data": cfg.Data, "results": cfg.Results} {
		switch s.Driver {
		case "sqlite3", "sqlite", "duckdb":
		default:
			return fmt.Errorf("invalid %s.db_settings.driver %q (valid: sqlite3, duckdb)", name, s.Driver)
		}
	}

	switch cfg.Output.Backend {
	case "local":
	case "s3", "minio":
		if cfg.Output.S3Bucket == "" {
			return fmt.Errorf("output.backend %s requires output.s3_bucket", cfg.Output.Backend)
		}
	default:
		return fmt.Errorf("invalid output.backend %q (valid: local, s3)", cfg.Output.Backend)
	}

	if cfg.Monitoring.Workers < 1 {
		return fmt.Errorf("monitoring.workers must be at least 1, got %d", cfg.Monitoring.Workers)
	}

	if cfg.Notifications.Active && cfg.Notifications.Username == "" {
		return fmt.Errorf("notifications.active requires notifications.username")
	}
	return nil
}

// ParseSize parses a human-readable size string (e.g., "1GB", "500MB", "100KB") to bytes.
// Supports: B, KB, MB, GB (case-insensitive).
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, unit := range units {
		if !strings.HasSuffix(sizeStr, unit.suffix) {
			continue
		}
		numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))

		var num float64
		var trailing string
		n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
		if n == 0 {
			return 0, fmt.Errorf("invalid size number: %s", numStr)
		}
		if trailing != "" {
			return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
		}
		if num < 0 {
			return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
		}
		return int64(num * float64(unit.multiplier)), nil
	}

	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
