package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Thresholds holds the alert cutoffs recognized by the alert engine.
// ResponseTimeMs and MaxErrorCount are optional extension points: zero
// disables them.
type Thresholds struct {
	CPUHighPct     float64
	MemErrorPct    float64
	MemCriticalPct float64
	ResponseTimeMs float64
	MaxErrorCount  int
}

type Config struct {
	Addr   string
	DBPath string

	PollInterval  time.Duration
	PollTimeout   time.Duration
	MaxConcurrent int
	RetentionDays int

	Thresholds Thresholds

	SendgridAPIKey string
	AlertEmailFrom string
	AlertEmailTo   string
	AlertWebhook   string
}

// Load reads configuration from CDNMON_* environment variables and, when
// present, a cdnmon.yaml in the working directory or /etc/cdnmon. Missing
// keys fall back to defaults.
func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("cdnmon")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "./data/cdnmon.db")
	v.SetDefault("poll_interval", "30s")
	v.SetDefault("poll_timeout", "10s")
	v.SetDefault("max_concurrent", 8)
	v.SetDefault("retention_days", 14)
	v.SetDefault("thresholds.cpu_high_pct", 80.0)
	v.SetDefault("thresholds.mem_error_pct", 85.0)
	v.SetDefault("thresholds.mem_critical_pct", 95.0)
	v.SetDefault("thresholds.response_time_ms", 0.0)
	v.SetDefault("thresholds.max_error_count", 0)
	v.SetDefault("sendgrid_api_key", "")
	v.SetDefault("alert_email_from", "")
	v.SetDefault("alert_email_to", "")
	v.SetDefault("alert_webhook_url", "")

	v.SetConfigName("cdnmon")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/cdnmon")
	_ = v.ReadInConfig() // config file is optional

	cfg := Config{
		Addr:          v.GetString("addr"),
		DBPath:        v.GetString("db_path"),
		PollInterval:  v.GetDuration("poll_interval"),
		PollTimeout:   v.GetDuration("poll_timeout"),
		MaxConcurrent: v.GetInt("max_concurrent"),
		RetentionDays: v.GetInt("retention_days"),
		Thresholds: Thresholds{
			CPUHighPct:     v.GetFloat64("thresholds.cpu_high_pct"),
			MemErrorPct:    v.GetFloat64("thresholds.mem_error_pct"),
			MemCriticalPct: v.GetFloat64("thresholds.mem_critical_pct"),
			ResponseTimeMs: v.GetFloat64("thresholds.response_time_ms"),
			MaxErrorCount:  v.GetInt("thresholds.max_error_count"),
		},
		SendgridAPIKey: v.GetString("sendgrid_api_key"),
		AlertEmailFrom: v.GetString("alert_email_from"),
		AlertEmailTo:   v.GetString("alert_email_to"),
		AlertWebhook:   v.GetString("alert_webhook_url"),
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return cfg
}
