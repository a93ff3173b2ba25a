package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Perpwatch PerpwatchConfig `yaml:"perpwatch"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type PerpwatchConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// MonitorConfig carries the divergence-engine tunables. All durations are
// plain numbers in the unit the key names, matching the knobs the monitor
// recognizes: scan interval, startup delay, state clear interval, the two
// divergence thresholds, the next-funding tolerance window and the alert
// cooldown.
type MonitorConfig struct {
	ScanIntervalSeconds         int     `yaml:"scan_interval_seconds"`
	StartupDelaySeconds         int     `yaml:"startup_delay_seconds"`
	StateClearIntervalSeconds   int     `yaml:"state_clear_interval_seconds"`
	PriceDiffThresholdPct       float64 `yaml:"price_diff_threshold_pct"`
	Funding24hDiffThresholdPct  float64 `yaml:"funding24h_diff_threshold_pct"`
	NextFundingToleranceMinutes int     `yaml:"next_funding_tolerance_minutes"`
	AlertCooldownMinutes        int     `yaml:"alert_cooldown_minutes"`
}

func (m MonitorConfig) ScanInterval() time.Duration {
	return time.Duration(m.ScanIntervalSeconds) * time.Second
}

func (m MonitorConfig) StartupDelay() time.Duration {
	return time.Duration(m.StartupDelaySeconds) * time.Second
}

func (m MonitorConfig) StateClearInterval() time.Duration {
	return time.Duration(m.StateClearIntervalSeconds) * time.Second
}

func (m MonitorConfig) NextFundingTolerance() time.Duration {
	return time.Duration(m.NextFundingToleranceMinutes) * time.Minute
}

func (m MonitorConfig) AlertCooldown() time.Duration {
	return time.Duration(m.AlertCooldownMinutes) * time.Minute
}

type ChannelsConfig struct {
	AlertBuffer int `yaml:"alert_buffer"`
}

// FeedEndpoints configures one exchange adapter. Endpoints and payload
// shapes are per-exchange configuration, not core logic.
type FeedEndpoints struct {
	Enabled bool     `yaml:"enabled"`
	APIURL  string   `yaml:"api_url"`
	WSURL   string   `yaml:"ws_url"`
	Symbols []string `yaml:"symbols"`
}

type FeedsConfig struct {
	RefreshIntervalSeconds  int `yaml:"refresh_interval_seconds"`
	ReconnectDelaySeconds   int `yaml:"reconnect_delay_seconds"`
	StreamStartDelaySeconds int `yaml:"stream_start_delay_seconds"`
	TimeoutSeconds          int `yaml:"timeout_seconds"`

	Asterdex    FeedEndpoints `yaml:"asterdex"`
	Binance     FeedEndpoints `yaml:"binance"`
	Bybit       FeedEndpoints `yaml:"bybit"`
	Gate        FeedEndpoints `yaml:"gate"`
	Hyperliquid FeedEndpoints `yaml:"hyperliquid"`
	Mexc        FeedEndpoints `yaml:"mexc"`
}

func (f FeedsConfig) RefreshInterval() time.Duration {
	return time.Duration(f.RefreshIntervalSeconds) * time.Second
}

func (f FeedsConfig) ReconnectDelay() time.Duration {
	return time.Duration(f.ReconnectDelaySeconds) * time.Second
}

func (f FeedsConfig) StreamStartDelay() time.Duration {
	return time.Duration(f.StreamStartDelaySeconds) * time.Second
}

func (f FeedsConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// Enabled returns the adapters switched on in this configuration, keyed by
// exchange name.
func (f FeedsConfig) Enabled() map[string]FeedEndpoints {
	all := map[string]FeedEndpoints{
		"asterdex":    f.Asterdex,
		"binance":     f.Binance,
		"bybit":       f.Bybit,
		"gate":        f.Gate,
		"hyperliquid": f.Hyperliquid,
		"mexc":        f.Mexc,
	}
	enabled := make(map[string]FeedEndpoints)
	for name, fc := range all {
		if fc.Enabled {
			enabled[name] = fc
		}
	}
	return enabled
}

type TelegramConfig struct {
	Enabled           bool   `yaml:"enabled"`
	BotToken          string `yaml:"bot_token"`
	ChatID            string `yaml:"chat_id"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

type AlertingConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type FileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type StorageConfig struct {
	SnapshotIntervalSeconds int        `yaml:"snapshot_interval_seconds"`
	S3                      S3Config   `yaml:"s3"`
	File                    FileConfig `yaml:"file"`
}

func (s StorageConfig) SnapshotInterval() time.Duration {
	return time.Duration(s.SnapshotIntervalSeconds) * time.Second
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Namespace  string `yaml:"namespace"`
	Dashboard  string `yaml:"dashboard"`
	Region     string `yaml:"region"`
}

// LoadConfig reads, defaults and validates the configuration. A validation
// error here is the only condition under which the process should exit
// non-zero; everything downstream degrades instead of failing.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, configEnvPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)
	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	m := &cfg.Monitor
	if m.ScanIntervalSeconds <= 0 {
		m.ScanIntervalSeconds = 10
	}
	if m.StartupDelaySeconds <= 0 {
		m.StartupDelaySeconds = 15
	}
	if m.StateClearIntervalSeconds <= 0 {
		m.StateClearIntervalSeconds = 6 * 3600
	}
	if m.PriceDiffThresholdPct <= 0 {
		m.PriceDiffThresholdPct = 0.1
	}
	if m.Funding24hDiffThresholdPct <= 0 {
		m.Funding24hDiffThresholdPct = 0.1
	}
	if m.NextFundingToleranceMinutes <= 0 {
		m.NextFundingToleranceMinutes = 1
	}
	if m.AlertCooldownMinutes <= 0 {
		m.AlertCooldownMinutes = 30
	}

	f := &cfg.Feeds
	if f.RefreshIntervalSeconds <= 0 {
		f.RefreshIntervalSeconds = 60
	}
	if f.ReconnectDelaySeconds <= 0 {
		f.ReconnectDelaySeconds = 5
	}
	if f.StreamStartDelaySeconds <= 0 {
		f.StreamStartDelaySeconds = 30
	}
	if f.TimeoutSeconds <= 0 {
		f.TimeoutSeconds = 10
	}

	if cfg.Channels.AlertBuffer <= 0 {
		cfg.Channels.AlertBuffer = 100
	}
	if cfg.Storage.SnapshotIntervalSeconds <= 0 {
		cfg.Storage.SnapshotIntervalSeconds = 60
	}
	if cfg.Alerting.Telegram.RequestsPerMinute <= 0 {
		cfg.Alerting.Telegram.RequestsPerMinute = 20
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Alerting.Telegram.BotToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Alerting.Telegram.ChatID = strings.TrimSpace(v)
	}

	if cfg.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			cfg.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	cfg.Storage.S3.Bucket = strings.TrimSpace(cfg.Storage.S3.Bucket)
}

func validateConfig(cfg *Config) error {
	if cfg.Perpwatch.Name == "" {
		return fmt.Errorf("perpwatch.name is required")
	}
	if cfg.Perpwatch.Version == "" {
		return fmt.Errorf("perpwatch.version is required")
	}

	if len(cfg.Feeds.Enabled()) == 0 {
		return fmt.Errorf("at least one feed must be enabled")
	}
	for name, fc := range cfg.Feeds.Enabled() {
		if fc.APIURL == "" {
			return fmt.Errorf("feeds.%s.api_url is required when the feed is enabled", name)
		}
		if name != "binance" && fc.WSURL == "" {
			return fmt.Errorf("feeds.%s.ws_url is required when the feed is enabled", name)
		}
	}

	if cfg.Alerting.Telegram.Enabled {
		if cfg.Alerting.Telegram.BotToken == "" || cfg.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.bot_token and chat_id are required when telegram is enabled")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}
	if cfg.Storage.File.Enabled && cfg.Storage.File.Path == "" {
		return fmt.Errorf("storage.file.path is required when file snapshots are enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
