package config

import (
	"path/filepath"
	"time"
)

const (
	DefaultBuildTimeout        = 20 * time.Minute
	DefaultMaintenanceInterval = time.Hour
	DefaultMaintenanceMaxAge   = 7 * 24 * time.Hour
	DefaultQueueSize           = 32
	DefaultHistorySize         = 50
	DefaultTailLines           = 40
	DefaultNATSSubject         = "webapk.builds"
	DefaultListen              = ":9741"
)

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}
	applyProjectDefaults(&cfg.Project)

	b := &cfg.Build
	if len(b.Command) == 0 {
		b.Command = []string{"bash", "make.sh", "apk"}
	}
	if b.Timeout == "" {
		b.Timeout = DefaultBuildTimeout.String()
	}
	if b.CacheDir == "" {
		b.CacheDir = "./cache"
	}
	if b.QueueSize <= 0 {
		b.QueueSize = DefaultQueueSize
	}
	if b.HistorySize <= 0 {
		b.HistorySize = DefaultHistorySize
	}
	if b.TailLines <= 0 {
		b.TailLines = DefaultTailLines
	}

	if cfg.Output.Directory == "" {
		cfg.Output.Directory = "./output"
	}
	if cfg.State.Directory == "" {
		cfg.State.Directory = "./state"
	}
	if cfg.State.EventDB == "" {
		cfg.State.EventDB = filepath.Join(cfg.State.Directory, "events.db")
	}

	c := &cfg.Content
	if c.StagingDir == "" {
		c.StagingDir = filepath.Join(b.CacheDir, "staging")
	}
	if c.GitDepth <= 0 {
		c.GitDepth = 1
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if n := NormalizeRetryBackoff(string(c.RetryBackoff)); n != "" {
		c.RetryBackoff = n
	} else {
		c.RetryBackoff = RetryBackoffLinear
	}
	if c.RetryInitialDelay == "" {
		c.RetryInitialDelay = "1s"
	}
	if c.RetryMaxDelay == "" {
		c.RetryMaxDelay = "30s"
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = 64
	}
	if cfg.Events.NATS != nil && cfg.Events.NATS.Subject == "" {
		cfg.Events.NATS.Subject = DefaultNATSSubject
	}

	if cfg.Maintenance.Interval == "" {
		cfg.Maintenance.Interval = DefaultMaintenanceInterval.String()
	}
	if cfg.Maintenance.MaxAge == "" {
		cfg.Maintenance.MaxAge = DefaultMaintenanceMaxAge.String()
	}

	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
}

func applyProjectDefaults(p *ProjectConfig) {
	if p.Root == "" {
		p.Root = "./android_source"
	}
	if p.Module == "" {
		p.Module = "app"
	}
	if p.JavaRoot == "" {
		p.JavaRoot = filepath.Join(p.Module, "src", "main", "java")
	}
	if p.Namespace == "" {
		p.Namespace = "com"
	}
	if p.Suffix == "" {
		p.Suffix = "htpk"
	}
	if p.Descriptor == "" {
		p.Descriptor = filepath.Join(p.Module, "build.gradle")
	}
	if p.Manifest == "" {
		p.Manifest = filepath.Join(p.Module, "src", "main", "AndroidManifest.xml")
	}
	if p.ResDir == "" {
		p.ResDir = filepath.Join(p.Module, "src", "main", "res")
	}
	if p.AssetsDir == "" {
		p.AssetsDir = filepath.Join(p.Module, "src", "main", "assets")
	}
	if p.IconPath == "" {
		p.IconPath = filepath.Join(p.ResDir, "mipmap", "ic_launcher.png")
	}
	if p.EntryFile == "" {
		p.EntryFile = "MainActivity.java"
	}
	if p.ArtifactPath == "" {
		p.ArtifactPath = filepath.Join(p.Module, "build", "outputs", "apk", "release", "app-release.apk")
	}
	if p.NameKey == "" {
		p.NameKey = "app_name"
	}
	if p.EntryConstant == "" {
		p.EntryConstant = "MAIN_URL"
	}
}
