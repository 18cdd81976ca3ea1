package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only configuration file version understood by Load.
const CurrentVersion = "1.0"

// Config is the root configuration document for both the one-shot CLI and daemon mode.
type Config struct {
	Version     string            `yaml:"version"`
	Project     ProjectConfig     `yaml:"project"`
	Build       BuildConfig       `yaml:"build"`
	Output      OutputConfig      `yaml:"output"`
	State       StateConfig       `yaml:"state"`
	Content     ContentConfig     `yaml:"content"`
	Server      ServerConfig      `yaml:"server"`
	Events      EventsConfig      `yaml:"events,omitempty"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ProjectConfig describes the layout of the shared Android project skeleton.
type ProjectConfig struct {
	Root          string `yaml:"root"`           // Android project root directory
	Module        string `yaml:"module"`         // App module directory relative to root (e.g. "app")
	JavaRoot      string `yaml:"java_root"`      // Java source root relative to root
	Namespace     string `yaml:"namespace"`      // Leading package segment(s), e.g. "com"
	Suffix        string `yaml:"suffix"`         // Trailing package segment, e.g. "htpk"
	Descriptor    string `yaml:"descriptor"`     // Build descriptor relative to root
	Manifest      string `yaml:"manifest"`       // Android manifest relative to root
	ResDir        string `yaml:"res_dir"`        // Resource directory relative to root
	AssetsDir     string `yaml:"assets_dir"`     // Bundled web assets directory relative to root
	IconPath      string `yaml:"icon_path"`      // Canonical launcher icon relative to root
	EntryFile     string `yaml:"entry_file"`     // Primary entry-point source file name
	ArtifactPath  string `yaml:"artifact_path"`  // Toolchain output relative to root
	NameKey       string `yaml:"name_key"`       // Resource string key holding the display name
	EntryConstant string `yaml:"entry_constant"` // Source constant receiving the entry URL
}

// BuildConfig controls the toolchain invocation and the queue.
type BuildConfig struct {
	Command      []string `yaml:"command"`
	CleanCommand []string `yaml:"clean_command,omitempty"`
	WorkDir      string   `yaml:"work_dir,omitempty"` // Working directory for commands (defaults to project root parent)
	Timeout      string   `yaml:"timeout"`
	CacheDir     string   `yaml:"cache_dir"`
	QueueSize    int      `yaml:"queue_size"`
	HistorySize  int      `yaml:"history_size"`
	TailLines    int      `yaml:"tail_lines"`
}

// OutputConfig controls where artifacts are stored.
type OutputConfig struct {
	Directory string    `yaml:"directory"`
	S3        *S3Config `yaml:"s3,omitempty"`
}

// S3Config configures the optional artifact mirror.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	PathStyle       bool   `yaml:"path_style,omitempty"`
}

// StateConfig controls persisted bookkeeping.
type StateConfig struct {
	Directory string `yaml:"directory"`
	EventDB   string `yaml:"event_db"`
}

// ContentConfig controls content acquisition.
type ContentConfig struct {
	StagingDir        string           `yaml:"staging_dir"`
	GitDepth          int              `yaml:"git_depth"`
	MaxRetries        int              `yaml:"max_retries"`
	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff"`
	RetryInitialDelay string           `yaml:"retry_initial_delay"`
	RetryMaxDelay     string           `yaml:"retry_max_delay"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen      string `yaml:"listen"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// EventsConfig configures outbound build notifications.
type EventsConfig struct {
	NATS *NATSConfig `yaml:"nats,omitempty"`
}

// NATSConfig configures the NATS notifier.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// MaintenanceConfig configures the daemon housekeeping job.
type MaintenanceConfig struct {
	Interval string `yaml:"interval"` // How often staging and history are pruned
	MaxAge   string `yaml:"max_age"`  // Entries older than this are removed
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// BuildTimeout returns the parsed build timeout.
func (c *Config) BuildTimeout() time.Duration {
	return parseDurationOr(c.Build.Timeout, DefaultBuildTimeout)
}

// MaintenanceInterval returns the parsed maintenance interval.
func (c *Config) MaintenanceInterval() time.Duration {
	return parseDurationOr(c.Maintenance.Interval, DefaultMaintenanceInterval)
}

// MaintenanceMaxAge returns the parsed retention age.
func (c *Config) MaintenanceMaxAge() time.Duration {
	return parseDurationOr(c.Maintenance.MaxAge, DefaultMaintenanceMaxAge)
}

func parseDurationOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Load reads, expands, defaults and validates a configuration file.
func Load(configPath string) (*Config, error) {
	// Missing .env files are the common case.
	_ = loadEnvFile()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Version != "" && cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported configuration version: %s (expected %s)", cfg.Version, CurrentVersion)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns a fully defaulted configuration, used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.Output.S3 = &S3Config{
		Bucket:          "webapk-artifacts",
		Region:          "auto",
		Endpoint:        "${S3_ENDPOINT}",
		Prefix:          "apk",
		AccessKeyID:     "${S3_ACCESS_KEY_ID}",
		SecretAccessKey: "${S3_SECRET_ACCESS_KEY}",
		PathStyle:       true,
	}
	example.Events.NATS = &NATSConfig{
		URL:     "nats://127.0.0.1:4222",
		Subject: DefaultNATSSubject,
	}

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
